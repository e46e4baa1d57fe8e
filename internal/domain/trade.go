package domain

import (
	"fmt"
	"time"
)

// TradeSide es la dirección de un trade.
type TradeSide string

const (
	SideBuy  TradeSide = "BUY"
	SideSell TradeSide = "SELL"
)

// DetectedTrade es un fill observado en la actividad de un trader seguido.
// Es inmutable: el monitor lo crea y el pipeline lo consume una sola vez.
type DetectedTrade struct {
	ID            string // transaction hash — también sirve como dedupe key
	TraderAddress string
	MarketID      string // condition ID del mercado
	OutcomeID     string // token/asset ID del outcome concreto
	Outcome       string // "Yes" / "No" / nombre del outcome
	MarketTitle   string
	Side          TradeSide
	Price         float64 // precio por share (0..1)
	Size          float64 // shares
	SizeUSD       float64 // size × price según el feed
	Timestamp     time.Time
}

// AggregationKey identifica el grupo de agregación al que pertenece el trade.
// Como mucho existe un grupo abierto por clave.
func (t DetectedTrade) AggregationKey() string {
	return fmt.Sprintf("%s|%s|%s|%s", t.TraderAddress, t.MarketID, t.OutcomeID, t.Side)
}

// AggregatedTrade is a pending batch of sub-minimum trades sharing one
// (trader, market, outcome, side) key. Running totals keep a size-weighted
// average price so the synthetic trade prices like its members.
type AggregatedTrade struct {
	GroupID       string
	TraderAddress string
	MarketID      string
	OutcomeID     string
	Outcome       string
	MarketTitle   string
	Side          TradeSide
	AvgPrice      float64 // size-weighted across members
	TotalSize     float64 // shares
	TotalUSD      float64
	Trades        []DetectedTrade
	CreatedAt     time.Time
	ExpiresAt     time.Time
}

// Add folds a new member trade into the running totals.
func (a *AggregatedTrade) Add(t DetectedTrade) {
	newSize := a.TotalSize + t.Size
	if newSize > 0 {
		a.AvgPrice = (a.AvgPrice*a.TotalSize + t.Price*t.Size) / newSize
	}
	a.TotalSize = newSize
	a.TotalUSD += t.SizeUSD
	a.Trades = append(a.Trades, t)
}

// Synthetic devuelve el trade sintético equivalente al grupo completo,
// listo para entrar al pipeline como si fuera un trade normal.
func (a *AggregatedTrade) Synthetic() DetectedTrade {
	return DetectedTrade{
		ID:            "agg:" + a.GroupID,
		TraderAddress: a.TraderAddress,
		MarketID:      a.MarketID,
		OutcomeID:     a.OutcomeID,
		Outcome:       a.Outcome,
		MarketTitle:   a.MarketTitle,
		Side:          a.Side,
		Price:         a.AvgPrice,
		Size:          a.TotalSize,
		SizeUSD:       a.TotalUSD,
		Timestamp:     time.Now().UTC(),
	}
}

// CopyResult es el resultado de copiar un trade (real o simulado).
type CopyResult struct {
	Trade       DetectedTrade
	TraderID    string
	OrderID     string
	Venue       Venue
	Side        TradeSide
	Price       float64 // precio efectivo de ejecución
	Size        float64 // shares ejecutadas
	SizeUSD     float64
	FeeUSD      float64
	Paper       bool
	PartialFill bool
	ExecutedAt  time.Time
}

// SkippedTrade registra un trade que decidimos no copiar y por qué.
type SkippedTrade struct {
	Trade     DetectedTrade
	TraderID  string
	Reason    string
	SkippedAt time.Time
}
