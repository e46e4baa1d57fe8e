package copytrade_test

import (
	"context"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/copybot/internal/aggregator"
	"github.com/alejandrodnm/copybot/internal/copytrade"
	"github.com/alejandrodnm/copybot/internal/domain"
	"github.com/alejandrodnm/copybot/internal/events"
	"github.com/alejandrodnm/copybot/internal/monitor"
	"github.com/alejandrodnm/copybot/internal/orders"
	"github.com/alejandrodnm/copybot/internal/paper"
	"github.com/alejandrodnm/copybot/internal/risk"
	"github.com/alejandrodnm/copybot/internal/sched"
	"github.com/alejandrodnm/copybot/internal/tracker"
)

// --- mocks ---

// stubFeed nunca devuelve actividad: los tests inyectan trades publicando
// directamente en el bus.
type stubFeed struct{}

func (stubFeed) FetchActivity(context.Context, string) ([]domain.FeedActivity, error) {
	return nil, nil
}

func (stubFeed) FetchPositions(context.Context, string) ([]domain.FeedPosition, error) {
	return nil, nil
}

// --- helpers ---

type harness struct {
	svc     *copytrade.Service
	bus     *events.Bus
	clock   *sched.Fake
	tracker *tracker.Tracker
	ks      *risk.KillSwitch

	copied  []domain.CopyResult
	skipped []domain.SkippedTrade
	failed  []events.TradeFailure
}

func newHarness() *harness {
	bus := events.NewBus()
	clock := sched.NewFake(time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC))
	trk := tracker.New(bus)

	mon := monitor.New(monitor.Config{
		PollInterval: time.Minute,
		MaxTradeAge:  5 * time.Minute,
	}, stubFeed{}, bus)

	agg := aggregator.New(aggregator.Config{
		Window:      30 * time.Second,
		MinTrades:   2,
		MinTotalUSD: 1.0,
	}, bus, clock)

	ks := risk.NewKillSwitch(risk.KillSwitchConfig{CheckInterval: time.Second}, bus, clock)
	dd := risk.NewDrawdownMonitor(risk.DrawdownConfig{CheckInterval: time.Second}, bus, clock, ks)
	limits := risk.NewPositionLimitsManager(risk.LimitsConfig{}, trk)
	exposure := risk.NewExposureTracker(risk.ExposureConfig{}, trk, bus)

	// Backend de papel determinista: siempre llena, sin latencia ni parciales.
	engine := paper.New(paper.Config{
		InitialBalanceUSD: 1000,
		FillRate:          1.0,
		PartialFillRate:   -1,
		SlippageBase:      0.001,
	}, rand.New(rand.NewSource(7)))

	om := orders.NewManager(orders.Config{PaperMode: true}, ks, limits, exposure, engine, nil)
	ks.AddCanceller(om)

	h := &harness{
		bus:     bus,
		clock:   clock,
		tracker: trk,
		ks:      ks,
	}
	h.svc = copytrade.New(copytrade.Config{}, bus, mon, agg, trk, om, ks, dd, clock)

	bus.TradeCopied.Subscribe(func(r domain.CopyResult) { h.copied = append(h.copied, r) })
	bus.TradeSkipped.Subscribe(func(s domain.SkippedTrade) { h.skipped = append(h.skipped, s) })
	bus.TradeFailed.Subscribe(func(f events.TradeFailure) { h.failed = append(h.failed, f) })
	return h
}

func (h *harness) addTrader(t *testing.T, mutate func(*domain.TrackedTrader)) domain.TrackedTrader {
	t.Helper()
	cfg := domain.TrackedTrader{
		Address:     "0xABCDEF",
		Label:       "whale",
		Active:      true,
		Strategy:    domain.SizingPercentage,
		CopyPercent: 10,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	out, err := h.svc.AddTrader(cfg)
	require.NoError(t, err)
	return out
}

func detected(id string, side domain.TradeSide, usd float64) domain.DetectedTrade {
	return domain.DetectedTrade{
		ID:            id,
		TraderAddress: "0xabcdef",
		MarketID:      "m1",
		OutcomeID:     "o1",
		Outcome:       "Yes",
		MarketTitle:   "Will it rain?",
		Side:          side,
		Price:         0.50,
		Size:          usd / 0.50,
		SizeUSD:       usd,
		Timestamp:     time.Now().UTC(),
	}
}

// --- tests ---

func TestPipeline_CopiesDetectedTrade(t *testing.T) {
	h := newHarness()
	tr := h.addTrader(t, nil)

	// $100 del trader original → copia del 10% = $10.
	h.bus.TradeDetected.Publish(detected("tx1", domain.SideBuy, 100))

	require.Len(t, h.copied, 1)
	result := h.copied[0]
	assert.True(t, result.Paper)
	assert.Equal(t, tr.ID, result.TraderID)
	assert.InDelta(t, 10.0, result.SizeUSD, 0.1)

	positions := h.tracker.PositionsForTrader(tr.ID)
	require.Len(t, positions, 1)
	assert.InDelta(t, 20.0, positions[0].Size, 0.001, "$10 a 0.50 son 20 shares")

	stats := h.svc.Stats()
	assert.Equal(t, 1, stats.TradesDetected)
	assert.Equal(t, 1, stats.TradesCopied)
	assert.Zero(t, stats.TradesSkipped)
}

func TestPipeline_UnknownTraderIsSkipped(t *testing.T) {
	h := newHarness()
	h.addTrader(t, nil)

	trade := detected("tx1", domain.SideBuy, 100)
	trade.TraderAddress = "0xnobody"
	h.bus.TradeDetected.Publish(trade)

	require.Len(t, h.skipped, 1)
	assert.Equal(t, "trader not active", h.skipped[0].Reason)
	assert.Empty(t, h.copied)
}

func TestPipeline_InactiveTraderIsSkipped(t *testing.T) {
	h := newHarness()
	h.addTrader(t, func(cfg *domain.TrackedTrader) { cfg.Active = false })

	h.bus.TradeDetected.Publish(detected("tx1", domain.SideBuy, 100))

	require.Len(t, h.skipped, 1)
	assert.Equal(t, "trader not active", h.skipped[0].Reason)
}

func TestPipeline_BelowMinimumGoesToAggregation(t *testing.T) {
	h := newHarness()
	h.addTrader(t, func(cfg *domain.TrackedTrader) { cfg.MinTradeUSD = 1.0 })

	// $6 al 10% son $0.60: debajo del mínimo del trader, va al aggregator.
	h.bus.TradeDetected.Publish(detected("tx1", domain.SideBuy, 6))
	assert.Empty(t, h.copied)
	assert.Empty(t, h.skipped)

	// El segundo completa el lote: $1.20 ya es ejecutable.
	h.bus.TradeDetected.Publish(detected("tx2", domain.SideBuy, 6))

	require.Len(t, h.copied, 1)
	assert.InDelta(t, 1.20, h.copied[0].SizeUSD, 0.05)
}

func TestPipeline_AggregationExpirySkipsMembers(t *testing.T) {
	h := newHarness()
	h.addTrader(t, func(cfg *domain.TrackedTrader) { cfg.MinTradeUSD = 1.0 })

	h.bus.TradeDetected.Publish(detected("tx1", domain.SideBuy, 6))
	h.clock.Advance(30 * time.Second)

	require.Len(t, h.skipped, 1)
	assert.Contains(t, h.skipped[0].Reason, "aggregation window expired")
	assert.Empty(t, h.copied)
}

func TestPipeline_SellClampedToPosition(t *testing.T) {
	h := newHarness()
	tr := h.addTrader(t, nil)

	h.bus.TradeDetected.Publish(detected("tx1", domain.SideBuy, 100)) // abre 20 shares
	require.Len(t, h.copied, 1)

	// La venta original escala a 80 shares, pero solo tenemos 20.
	h.bus.TradeDetected.Publish(detected("tx2", domain.SideSell, 400))

	require.Len(t, h.copied, 2)
	assert.InDelta(t, 20.0, h.copied[1].Size, 0.001, "la venta se acota a la posición abierta")
	assert.Empty(t, h.tracker.PositionsForTrader(tr.ID), "vender todo cierra la posición")
}

func TestPipeline_SellWithoutPositionIsSkipped(t *testing.T) {
	h := newHarness()
	h.addTrader(t, nil)

	h.bus.TradeDetected.Publish(detected("tx1", domain.SideSell, 100))

	require.Len(t, h.skipped, 1)
	assert.Equal(t, "no open position to sell", h.skipped[0].Reason)
}

func TestPipeline_KillSwitchSkips(t *testing.T) {
	h := newHarness()
	h.addTrader(t, nil)
	h.ks.Activate("manual halt")

	h.bus.TradeDetected.Publish(detected("tx1", domain.SideBuy, 100))

	require.Len(t, h.skipped, 1)
	assert.Equal(t, "kill switch active", h.skipped[0].Reason)
	assert.True(t, h.svc.Stats().KillSwitchState.Active)
}

func TestPipeline_CopyDelay(t *testing.T) {
	h := newHarness()
	h.addTrader(t, func(cfg *domain.TrackedTrader) { cfg.CopyDelay = 10 * time.Second })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.svc.Start(ctx)
	defer h.svc.Stop()

	h.bus.TradeDetected.Publish(detected("tx1", domain.SideBuy, 100))
	assert.Empty(t, h.copied, "la copia espera el delay configurado")

	h.clock.Advance(9 * time.Second)
	assert.Empty(t, h.copied)

	h.clock.Advance(1 * time.Second)
	require.Len(t, h.copied, 1)
}

func TestPipeline_StopCancelsPendingDelays(t *testing.T) {
	h := newHarness()
	h.addTrader(t, func(cfg *domain.TrackedTrader) { cfg.CopyDelay = 10 * time.Second })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.svc.Start(ctx)

	h.bus.TradeDetected.Publish(detected("tx1", domain.SideBuy, 100))
	h.svc.Stop()

	h.clock.Advance(time.Minute)
	assert.Empty(t, h.copied, "Stop cancela los delays pendientes")
}

func TestPipeline_DelayedCopyWithoutRunningServiceIsSkipped(t *testing.T) {
	h := newHarness()
	h.addTrader(t, func(cfg *domain.TrackedTrader) { cfg.CopyDelay = 10 * time.Second })

	// Sin Start no hay quien dispare el delay: el trade se reporta skipped
	// en vez de desaparecer en silencio.
	h.bus.TradeDetected.Publish(detected("tx1", domain.SideBuy, 100))

	require.Len(t, h.skipped, 1)
	assert.Contains(t, h.skipped[0].Reason, "service not running")
	h.clock.Advance(time.Minute)
	assert.Empty(t, h.copied)
}

func TestPipeline_StartStopAreConcurrencySafe(t *testing.T) {
	h := newHarness()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() { defer wg.Done(); h.svc.Start(ctx) }()
		go func() { defer wg.Done(); h.svc.Stop() }()
	}
	wg.Wait()

	// El servicio queda utilizable después.
	h.svc.Start(ctx)
	h.svc.Stop()
	assert.Zero(t, h.svc.Stats().TradesDetected)
}

// --- gestión de traders ---

func TestAddTrader_NormalizesAndValidates(t *testing.T) {
	h := newHarness()

	tr := h.addTrader(t, nil)
	assert.Equal(t, "0xabcdef", tr.Address, "la dirección se normaliza a minúsculas")
	assert.NotEmpty(t, tr.ID)

	// Duplicado.
	_, err := h.svc.AddTrader(domain.TrackedTrader{
		Address: "0xABCdef", Strategy: domain.SizingPercentage, CopyPercent: 5,
	})
	assert.Error(t, err)

	// Sizing inválido.
	_, err = h.svc.AddTrader(domain.TrackedTrader{
		Address: "0xother", Strategy: domain.SizingPercentage, CopyPercent: 0,
	})
	assert.Error(t, err)

	_, err = h.svc.AddTrader(domain.TrackedTrader{
		Address: "0xother", Strategy: "MARTINGALE",
	})
	assert.Error(t, err, "estrategia desconocida")
}

func TestUpdateTrader_KeepsIdentity(t *testing.T) {
	h := newHarness()
	tr := h.addTrader(t, nil)

	updated, err := h.svc.UpdateTrader("0xABCDEF", func(cfg *domain.TrackedTrader) {
		cfg.Label = "dolphin"
		cfg.CopyPercent = 25
		cfg.ID = "should-not-stick"
	})
	require.NoError(t, err)
	assert.Equal(t, tr.ID, updated.ID, "la identidad no cambia en updates")
	assert.Equal(t, "dolphin", updated.Label)

	// Una mutación que rompe el sizing se rechaza.
	_, err = h.svc.UpdateTrader("0xabcdef", func(cfg *domain.TrackedTrader) {
		cfg.CopyPercent = 200
	})
	assert.Error(t, err)
}

func TestRemoveTrader(t *testing.T) {
	h := newHarness()
	h.addTrader(t, nil)

	require.NoError(t, h.svc.RemoveTrader("0xabcdef"))
	_, ok := h.svc.GetTrader("0xabcdef")
	assert.False(t, ok)
	assert.Error(t, h.svc.RemoveTrader("0xabcdef"), "borrar dos veces falla")

	// Sus trades posteriores ya no se copian.
	h.bus.TradeDetected.Publish(detected("tx1", domain.SideBuy, 100))
	assert.Empty(t, h.copied)
}

func TestTraderStats(t *testing.T) {
	h := newHarness()
	tr := h.addTrader(t, nil)

	h.bus.TradeDetected.Publish(detected("tx1", domain.SideBuy, 100))
	trade2 := detected("tx2", domain.SideSell, 100)
	trade2.MarketID = "m2" // sin posición: skip
	h.bus.TradeDetected.Publish(trade2)

	stats, ok := h.svc.TraderStats("0xabcdef")
	require.True(t, ok)
	assert.Equal(t, tr.ID, stats.TraderID)
	assert.Equal(t, 1, stats.TradesCopied)
	assert.Equal(t, 1, stats.TradesSkipped)
	assert.Equal(t, 1, stats.OpenPositions)
	assert.Greater(t, stats.ExposureUSD, 0.0)

	_, ok = h.svc.TraderStats("0xnobody")
	assert.False(t, ok)
}
