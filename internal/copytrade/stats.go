package copytrade

import (
	"context"
	"log/slog"
	"time"

	"github.com/alejandrodnm/copybot/internal/domain"
)

// Stats devuelve el snapshot agregado del pipeline para el health report.
func (s *Service) Stats() domain.PortfolioStats {
	realized, unrealized := s.tracker.PnL()
	openPositions := s.tracker.OpenPositions()

	s.mu.Lock()
	defer s.mu.Unlock()

	active := 0
	for _, cfg := range s.traders {
		if cfg.Active {
			active++
		}
	}

	return domain.PortfolioStats{
		TrackedTraders:  len(s.traders),
		ActiveTraders:   active,
		OpenPositions:   len(openPositions),
		TotalExposure:   s.tracker.TotalExposure(),
		RealizedPnL:     realized,
		UnrealizedPnL:   unrealized,
		TradesDetected:  s.counts.detected,
		TradesCopied:    s.counts.copied,
		TradesSkipped:   s.counts.skipped,
		TradesFailed:    s.counts.failed,
		LastError:       s.lastError,
		LastErrorAt:     s.lastErrorAt,
		StartedAt:       s.startedAt,
		KillSwitchState: s.ks.State(),
	}
}

// TraderStats devuelve el agregado por trader.
func (s *Service) TraderStats(address string) (domain.TraderStats, bool) {
	cfg, ok := s.GetTrader(address)
	if !ok {
		return domain.TraderStats{}, false
	}

	realized, unrealized := s.tracker.PnLForTrader(cfg.ID)

	s.mu.Lock()
	tc := s.counts.byTrader[cfg.ID]
	var copied, skipped, failed int
	if tc != nil {
		copied, skipped, failed = tc.copied, tc.skipped, tc.failed
	}
	s.mu.Unlock()

	return domain.TraderStats{
		TraderID:      cfg.ID,
		Label:         cfg.Label,
		OpenPositions: len(s.tracker.PositionsForTrader(cfg.ID)),
		ExposureUSD:   s.tracker.ExposureForTrader(cfg.ID),
		RealizedPnL:   realized,
		UnrealizedPnL: unrealized,
		TradesCopied:  copied,
		TradesSkipped: skipped,
		TradesFailed:  failed,
	}, true
}

// Positions devuelve las posiciones abiertas del ledger principal.
func (s *Service) Positions() []domain.CopyPosition {
	return s.tracker.OpenPositions()
}

// MarkPrices refresca marks desde una fuente externa (p. ej. el listener
// WebSocket del venue). Complementa al refresco periódico por books.
func (s *Service) MarkPrices(prices map[string]float64) {
	if len(prices) == 0 {
		return
	}
	s.tracker.UpdatePrices(prices)
}

// refreshRiskMetrics recalcula las métricas cacheadas que evalúan los timers
// de riesgo: equity, drawdown, P&L diario y exposición.
func (s *Service) refreshRiskMetrics(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	balance, err := s.orders.AvailableBalance(ctx, s.cfg.DefaultVenue)
	if err != nil {
		slog.Debug("copytrade: balance refresh failed", "err", err)
		return
	}

	realized, unrealized := s.tracker.PnL()
	exposure := s.tracker.TotalExposure()
	equity := balance + exposure + unrealized

	s.mu.Lock()
	// Al cambiar de día, el realizado acumulado pasa a ser el baseline.
	now := time.Now().UTC()
	if day := startOfDay(now); day.After(s.dayStart) {
		s.dayStart = day
		s.realizedAtDay = realized
	}
	dailyPnL := realized - s.realizedAtDay + unrealized
	s.mu.Unlock()

	s.drawdown.RecordEquity(equity)

	s.ks.UpdateMetrics(domain.RiskMetrics{
		DailyPnL:      dailyPnL,
		CurrentEquity: equity,
		PeakEquity:    0, // el drawdown monitor mantiene su propio pico
		DrawdownPct:   s.drawdown.Drawdown(),
		TotalExposure: exposure,
		APIErrorRate:  s.ks.APIErrorRate(),
	})
}

// refreshMarks refresca el mark-to-market de las posiciones abiertas con el
// mid del libro, acotado a MaxMarkBooks consultas por ciclo.
func (s *Service) refreshMarks(ctx context.Context) {
	positions := s.tracker.OpenPositions()
	if len(positions) == 0 {
		return
	}
	if len(positions) > s.cfg.MaxMarkBooks {
		positions = positions[:s.cfg.MaxMarkBooks]
	}

	ctx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	prices := make(map[string]float64, len(positions))
	for _, pos := range positions {
		book, err := s.orders.OrderBook(ctx, s.cfg.DefaultVenue, pos.MarketID, pos.OutcomeID)
		if err != nil {
			slog.Debug("copytrade: mark refresh failed",
				"market", pos.MarketID, "err", err)
			continue
		}
		bid, ask := book.BestBid(), book.BestAsk()
		switch {
		case bid > 0 && ask > 0:
			prices[pos.OutcomeID] = (bid + ask) / 2
		case bid > 0:
			prices[pos.OutcomeID] = bid
		case ask > 0:
			prices[pos.OutcomeID] = ask
		}
	}

	if len(prices) > 0 {
		s.tracker.UpdatePrices(prices)
	}
}
