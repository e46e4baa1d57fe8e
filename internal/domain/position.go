package domain

import "time"

// PositionEpsilon is the size below which a position counts as fully closed.
// Feed sizes carry float noise, so an exact zero compare is not reliable.
const PositionEpsilon = 0.0001

// CopyPosition is our own holding mirroring one tracked trader's exposure in
// one (market, outcome). Opened on the first buy, folded on every later fill,
// closed permanently once size drops below PositionEpsilon — a buy after that
// starts a fresh lifecycle record.
type CopyPosition struct {
	ID            string // UUID
	TraderID      string
	TraderAddress string
	MarketID      string
	OutcomeID     string
	Outcome       string
	MarketTitle   string

	Size          float64 // shares actualmente en cartera
	AvgEntryPrice float64 // media ponderada por coste de todas las compras
	TotalCostUSD  float64 // coste acumulado de la posición abierta

	RealizedPnL   float64 // suma de P&L de todas las ventas
	CurrentPrice  float64 // último precio conocido (mark)
	CurrentValue  float64 // Size × CurrentPrice
	UnrealizedPnL float64
	PercentPnL    float64

	BuyCount  int
	SellCount int

	Open      bool
	OpenedAt  time.Time
	UpdatedAt time.Time
	ClosedAt  *time.Time
}

// ExposureUSD es la exposición de la posición a coste de entrada.
// Se usa |size| uniformemente: posiciones de signo opuesto en el mismo
// mercado no se netean (decisión registrada en DESIGN.md).
func (p CopyPosition) ExposureUSD() float64 {
	size := p.Size
	if size < 0 {
		size = -size
	}
	return size * p.AvgEntryPrice
}

// MarkPrice refreshes the mark-to-market fields without touching cost basis.
func (p *CopyPosition) MarkPrice(price float64, now time.Time) {
	p.CurrentPrice = price
	p.CurrentValue = p.Size * price
	p.UnrealizedPnL = p.CurrentValue - p.Size*p.AvgEntryPrice
	if p.TotalCostUSD > 0 {
		p.PercentPnL = p.UnrealizedPnL / p.TotalCostUSD * 100
	}
	p.UpdatedAt = now
}

// TraderStats agrega las posiciones y resultados de un trader seguido.
type TraderStats struct {
	TraderID      string
	Label         string
	OpenPositions int
	ExposureUSD   float64
	RealizedPnL   float64
	UnrealizedPnL float64
	TradesCopied  int
	TradesSkipped int
	TradesFailed  int
}

// PortfolioStats es la vista agregada de todo el pipeline.
type PortfolioStats struct {
	TrackedTraders  int
	ActiveTraders   int
	OpenPositions   int
	TotalExposure   float64
	RealizedPnL     float64
	UnrealizedPnL   float64
	TradesDetected  int
	TradesCopied    int
	TradesSkipped   int
	TradesFailed    int
	LastError       string
	LastErrorAt     *time.Time
	StartedAt       time.Time
	KillSwitchState RiskState
}
