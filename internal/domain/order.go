package domain

import "time"

// Venue identifica el exchange destino de una orden.
type Venue string

const (
	VenuePolymarket Venue = "POLYMARKET"
	VenueKalshi     Venue = "KALSHI"
)

// MinOrderUSD devuelve el mínimo de orden que impone cada venue.
func (v Venue) MinOrderUSD() float64 {
	switch v {
	case VenueKalshi:
		return 5.0
	default:
		return 1.0
	}
}

// FeeRate devuelve la comisión plana por venue.
func (v Venue) FeeRate() float64 {
	switch v {
	case VenueKalshi:
		return 0.007
	default:
		return 0.0 // Polymarket no cobra fee de taker a día de hoy
	}
}

// OrderStatus representa el ciclo de vida de una orden.
type OrderStatus string

const (
	OrderStatusOpen      OrderStatus = "OPEN"
	OrderStatusFilled    OrderStatus = "FILLED"
	OrderStatusPartial   OrderStatus = "PARTIAL"
	OrderStatusRejected  OrderStatus = "REJECTED"
	OrderStatusCancelled OrderStatus = "CANCELLED"
)

// OrderRequest es la petición de orden que entra al OrderManager.
type OrderRequest struct {
	Venue     Venue
	MarketID  string
	OutcomeID string
	Side      TradeSide
	Price     float64 // precio límite por share
	Size      float64 // shares
	TraderID  string  // tracked trader que origina la copia
}

// NotionalUSD es el valor en USD de la orden (shares × precio).
func (r OrderRequest) NotionalUSD() float64 {
	return r.Size * r.Price
}

// Order es una orden aceptada por el backend de ejecución (real o paper).
type Order struct {
	ID          string
	Venue       Venue
	MarketID    string
	OutcomeID   string
	Side        TradeSide
	Price       float64 // precio solicitado
	FilledPrice float64 // precio efectivo tras slippage
	Size        float64 // shares solicitadas
	FilledSize  float64 // shares ejecutadas
	FeeUSD      float64
	Status      OrderStatus
	Paper       bool
	PlacedAt    time.Time
	FilledAt    *time.Time
}

// BookLevel es un nivel del orderbook.
type BookLevel struct {
	Price float64
	Size  float64
}

// OrderBook es el snapshot de un libro para un outcome concreto.
type OrderBook struct {
	MarketID  string
	OutcomeID string
	Bids      []BookLevel // ordenados de mejor (mayor precio) a peor
	Asks      []BookLevel // ordenados de mejor (menor precio) a peor
	Timestamp time.Time
}

// BestBid devuelve el mejor bid, o 0 si el libro está vacío.
func (b OrderBook) BestBid() float64 {
	if len(b.Bids) == 0 {
		return 0
	}
	return b.Bids[0].Price
}

// BestAsk devuelve el mejor ask, o 0 si el libro está vacío.
func (b OrderBook) BestAsk() float64 {
	if len(b.Asks) == 0 {
		return 0
	}
	return b.Asks[0].Price
}

// Balance es el saldo disponible en un venue.
type Balance struct {
	Available float64
	Locked    float64
	Total     float64
	Currency  string
}

// VenuePosition es una posición reportada por el venue (no nuestro ledger).
type VenuePosition struct {
	MarketID  string
	OutcomeID string
	Size      float64
	AvgPrice  float64
	CurPrice  float64
}

// FeedActivity es un registro crudo del feed de actividad de un trader.
type FeedActivity struct {
	TransactionHash string
	Type            string // "TRADE" u otros (reward, conversión...)
	ConditionID     string
	Asset           string
	Outcome         string
	Title           string
	Side            string
	Price           float64
	Size            float64
	USDCSize        float64
	Timestamp       time.Time
}

// FeedPosition es una posición reportada por el feed de datos.
type FeedPosition struct {
	ConditionID string
	Asset       string
	Size        float64
	AvgPrice    float64
	CurPrice    float64
}
