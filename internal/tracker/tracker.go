// Package tracker mantiene el ledger de posiciones copiadas con contabilidad
// de coste medio exacta: el precio medio de entrada solo se recalcula en
// compras, nunca en ventas, y el P&L realizado de cada venta usa el precio
// medio vigente en ese momento.
package tracker

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alejandrodnm/copybot/internal/domain"
	"github.com/alejandrodnm/copybot/internal/events"
)

// positionKey identifica una posición abierta.
type positionKey struct {
	traderID  string
	marketID  string
	outcomeID string
}

// Tracker owns the position table. No references to its internal map escape:
// all reads return copies.
type Tracker struct {
	mu     sync.Mutex
	open   map[positionKey]*domain.CopyPosition
	closed []domain.CopyPosition
	bus    *events.Bus
	now    func() time.Time
}

// New crea un tracker vacío que publica cambios de posición en el bus.
func New(bus *events.Bus) *Tracker {
	return &Tracker{
		open: make(map[positionKey]*domain.CopyPosition),
		bus:  bus,
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// Fill describe una ejecución a registrar en el ledger.
type Fill struct {
	TraderID      string
	TraderAddress string
	MarketID      string
	OutcomeID     string
	Outcome       string
	MarketTitle   string
	Price         float64
	Size          float64 // shares
}

// RecordBuy folds a buy fill into the open position for (trader, market,
// outcome), or opens a fresh one. The weighted average entry recalculates as
// (prevCost+newCost)/(prevSize+newSize).
func (t *Tracker) RecordBuy(f Fill) domain.CopyPosition {
	t.mu.Lock()
	key := positionKey{f.TraderID, f.MarketID, f.OutcomeID}
	now := t.now()

	pos, ok := t.open[key]
	if !ok {
		pos = &domain.CopyPosition{
			ID:            uuid.New().String(),
			TraderID:      f.TraderID,
			TraderAddress: f.TraderAddress,
			MarketID:      f.MarketID,
			OutcomeID:     f.OutcomeID,
			Outcome:       f.Outcome,
			MarketTitle:   f.MarketTitle,
			Open:          true,
			OpenedAt:      now,
		}
		t.open[key] = pos
	}

	newCost := f.Size * f.Price
	prevSize, prevCost := pos.Size, pos.TotalCostUSD
	pos.Size = prevSize + f.Size
	pos.TotalCostUSD = prevCost + newCost
	if pos.Size > 0 {
		pos.AvgEntryPrice = pos.TotalCostUSD / pos.Size
	}
	pos.BuyCount++
	pos.UpdatedAt = now

	snapshot := *pos
	opened := !ok
	t.mu.Unlock()

	if opened {
		t.bus.PositionOpened.Publish(snapshot)
	} else {
		t.bus.PositionUpdated.Publish(snapshot)
	}
	return snapshot
}

// RecordSell computes realized P&L against the position's current average
// entry, reduces size, and closes the position permanently once size drops
// below the epsilon. Returns the snapshot and the shares actually sold, which
// can be less than requested when the sell is clamped to the open size.
// Selling without an open position is a logged no-op.
func (t *Tracker) RecordSell(f Fill) (domain.CopyPosition, float64, bool) {
	t.mu.Lock()
	key := positionKey{f.TraderID, f.MarketID, f.OutcomeID}

	pos, ok := t.open[key]
	if !ok {
		t.mu.Unlock()
		slog.Warn("tracker: sell without open position",
			"trader", f.TraderID, "market", f.MarketID, "outcome", f.OutcomeID)
		return domain.CopyPosition{}, 0, false
	}

	soldSize := f.Size
	if soldSize > pos.Size {
		// Nunca producir size negativo: recortamos a lo que hay.
		slog.Warn("tracker: sell larger than position, clamping",
			"requested", soldSize, "open", pos.Size, "market", f.MarketID)
		soldSize = pos.Size
	}

	proceeds := soldSize * f.Price
	costBasis := soldSize * pos.AvgEntryPrice
	realized := proceeds - costBasis

	pos.Size -= soldSize
	pos.TotalCostUSD -= costBasis
	pos.RealizedPnL += realized
	pos.SellCount++
	now := t.now()
	pos.UpdatedAt = now

	var closedSnapshot *domain.CopyPosition
	if pos.Size < domain.PositionEpsilon {
		pos.Size = 0
		pos.TotalCostUSD = 0
		pos.Open = false
		closedAt := now
		pos.ClosedAt = &closedAt
		t.closed = append(t.closed, *pos)
		delete(t.open, key)
		cp := *pos
		closedSnapshot = &cp
	}

	snapshot := *pos
	t.mu.Unlock()

	if closedSnapshot != nil {
		t.bus.PositionClosed.Publish(events.PositionClosed{
			Position:    *closedSnapshot,
			RealizedPnL: realized,
		})
	} else {
		t.bus.PositionUpdated.Publish(snapshot)
	}
	return snapshot, soldSize, true
}

// UpdatePrices refresca el mark-to-market de todas las posiciones abiertas
// cuyos outcomes aparezcan en el mapa. No toca el cost basis.
func (t *Tracker) UpdatePrices(prices map[string]float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	for _, pos := range t.open {
		if price, ok := prices[pos.OutcomeID]; ok {
			pos.MarkPrice(price, now)
		}
	}
}

// OpenPositions devuelve copias de todas las posiciones abiertas.
func (t *Tracker) OpenPositions() []domain.CopyPosition {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]domain.CopyPosition, 0, len(t.open))
	for _, pos := range t.open {
		out = append(out, *pos)
	}
	return out
}

// PositionsForTrader devuelve las posiciones abiertas de un trader.
func (t *Tracker) PositionsForTrader(traderID string) []domain.CopyPosition {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []domain.CopyPosition
	for key, pos := range t.open {
		if key.traderID == traderID {
			out = append(out, *pos)
		}
	}
	return out
}

// ClosedPositions devuelve el histórico de posiciones cerradas.
func (t *Tracker) ClosedPositions() []domain.CopyPosition {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]domain.CopyPosition, len(t.closed))
	copy(out, t.closed)
	return out
}

// ExposureForTrader suma la exposición (a coste) de un trader.
func (t *Tracker) ExposureForTrader(traderID string) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	var total float64
	for key, pos := range t.open {
		if key.traderID == traderID {
			total += pos.ExposureUSD()
		}
	}
	return total
}

// TotalExposure suma la exposición de todas las posiciones abiertas.
func (t *Tracker) TotalExposure() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	var total float64
	for _, pos := range t.open {
		total += pos.ExposureUSD()
	}
	return total
}

// ExposureForMarket suma la exposición abierta en un mercado concreto.
func (t *Tracker) ExposureForMarket(marketID string) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	var total float64
	for key, pos := range t.open {
		if key.marketID == marketID {
			total += pos.ExposureUSD()
		}
	}
	return total
}

// PositionCounts devuelve (posiciones en el mercado dado, posiciones totales).
func (t *Tracker) PositionCounts(marketID string) (inMarket, total int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for key := range t.open {
		total++
		if key.marketID == marketID {
			inMarket++
		}
	}
	return inMarket, total
}

// PnL devuelve (realizado, no realizado) agregados. El realizado incluye las
// posiciones ya cerradas.
func (t *Tracker) PnL() (realized, unrealized float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, pos := range t.open {
		realized += pos.RealizedPnL
		unrealized += pos.UnrealizedPnL
	}
	for _, pos := range t.closed {
		realized += pos.RealizedPnL
	}
	return realized, unrealized
}

// PnLForTrader devuelve (realizado, no realizado) para un trader.
func (t *Tracker) PnLForTrader(traderID string) (realized, unrealized float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for key, pos := range t.open {
		if key.traderID == traderID {
			realized += pos.RealizedPnL
			unrealized += pos.UnrealizedPnL
		}
	}
	for _, pos := range t.closed {
		if pos.TraderID == traderID {
			realized += pos.RealizedPnL
		}
	}
	return realized, unrealized
}
