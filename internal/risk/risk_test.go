package risk_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/copybot/internal/domain"
	"github.com/alejandrodnm/copybot/internal/events"
	"github.com/alejandrodnm/copybot/internal/risk"
	"github.com/alejandrodnm/copybot/internal/sched"
)

// stubSource es un ExposureSource con valores fijos.
type stubSource struct {
	total    float64
	byMarket map[string]float64
	inMarket int
	count    int
}

func (s *stubSource) TotalExposure() float64 { return s.total }

func (s *stubSource) ExposureForMarket(marketID string) float64 {
	return s.byMarket[marketID]
}

func (s *stubSource) PositionCounts(string) (int, int) { return s.inMarket, s.count }

// --- PositionLimitsManager ---

func TestCheckOrder_InclusiveBoundary(t *testing.T) {
	source := &stubSource{total: 400}
	limits := risk.NewPositionLimitsManager(risk.LimitsConfig{
		MaxTotalExposureUSD: 500,
	}, source)

	// Proyectar exactamente al límite pasa.
	assert.True(t, limits.CheckOrder("m1", 100).Allowed)

	// Un céntimo más, no.
	check := limits.CheckOrder("m1", 100.01)
	assert.False(t, check.Allowed)
	assert.Contains(t, check.Reason, "total exposure limit")
}

func TestCheckOrder_PerMarketLimit(t *testing.T) {
	source := &stubSource{byMarket: map[string]float64{"m1": 90}}
	limits := risk.NewPositionLimitsManager(risk.LimitsConfig{
		MaxPositionPerMarketUSD: 100,
	}, source)

	assert.True(t, limits.CheckOrder("m1", 10).Allowed)
	assert.False(t, limits.CheckOrder("m1", 10.01).Allowed)
	// Otro mercado no está afectado.
	assert.True(t, limits.CheckOrder("m2", 100).Allowed)
}

func TestCheckOrder_PositionCountLimits(t *testing.T) {
	source := &stubSource{inMarket: 2, count: 5}
	limits := risk.NewPositionLimitsManager(risk.LimitsConfig{
		MaxPositionsPerMarket: 2,
	}, source)
	assert.False(t, limits.CheckOrder("m1", 1).Allowed)

	limits.UpdateLimits(risk.LimitsConfig{MaxTotalPositions: 5})
	assert.False(t, limits.CheckOrder("m1", 1).Allowed)

	limits.UpdateLimits(risk.LimitsConfig{MaxTotalPositions: 6})
	assert.True(t, limits.CheckOrder("m1", 1).Allowed)
}

func TestCheckOrder_ZeroLimitsMeanUnlimited(t *testing.T) {
	source := &stubSource{total: 1e9, inMarket: 1000, count: 1000}
	limits := risk.NewPositionLimitsManager(risk.LimitsConfig{}, source)
	assert.True(t, limits.CheckOrder("m1", 1e6).Allowed)
}

// --- ExposureTracker ---

func TestCheckExposure_TotalLimit(t *testing.T) {
	bus := events.NewBus()
	var exceeded []domain.RiskAlert
	bus.ExposureLimitExceeded.Subscribe(func(a domain.RiskAlert) { exceeded = append(exceeded, a) })

	source := &stubSource{total: 950}
	tracker := risk.NewExposureTracker(risk.ExposureConfig{MaxTotalUSD: 1000}, source, bus)

	assert.True(t, tracker.CheckExposure(domain.VenuePolymarket, 50).Allowed)

	check := tracker.CheckExposure(domain.VenuePolymarket, 50.01)
	assert.False(t, check.Allowed)
	require.Len(t, exceeded, 1)
	assert.InDelta(t, 1000.01, exceeded[0].Metric, 0.001)
}

func TestCheckExposure_AlertOnceAtThreshold(t *testing.T) {
	bus := events.NewBus()
	var alerts []domain.RiskAlert
	bus.ExposureAlert.Subscribe(func(a domain.RiskAlert) { alerts = append(alerts, a) })

	source := &stubSource{total: 700}
	tracker := risk.NewExposureTracker(risk.ExposureConfig{
		MaxTotalUSD:      1000,
		AlertUtilization: 0.8,
	}, source, bus)

	tracker.CheckExposure(domain.VenuePolymarket, 150) // proyección 850 ≥ 800
	tracker.CheckExposure(domain.VenuePolymarket, 150) // sigue encima: no repite
	assert.Len(t, alerts, 1)

	// Baja del umbral: se rearma y vuelve a avisar al cruzarlo.
	source.total = 100
	tracker.CheckExposure(domain.VenuePolymarket, 50)
	source.total = 700
	tracker.CheckExposure(domain.VenuePolymarket, 150)
	assert.Len(t, alerts, 2)
}

func TestCheckExposure_PerVenue(t *testing.T) {
	bus := events.NewBus()
	source := &stubSource{}
	tracker := risk.NewExposureTracker(risk.ExposureConfig{
		MaxPerVenueUSD: map[domain.Venue]float64{domain.VenuePolymarket: 100},
	}, source, bus)

	tracker.RecordFill(domain.VenuePolymarket, 80, domain.SideBuy)
	assert.True(t, tracker.CheckExposure(domain.VenuePolymarket, 20).Allowed)
	assert.False(t, tracker.CheckExposure(domain.VenuePolymarket, 20.01).Allowed)

	// Las ventas liberan exposición del venue.
	tracker.RecordFill(domain.VenuePolymarket, 50, domain.SideSell)
	assert.True(t, tracker.CheckExposure(domain.VenuePolymarket, 70).Allowed)
}

// --- KillSwitch ---

func newKillSwitch(cfg risk.KillSwitchConfig) (*risk.KillSwitch, *sched.Fake, *[]domain.RiskAlert) {
	bus := events.NewBus()
	clock := sched.NewFake(time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC))
	var activated []domain.RiskAlert
	bus.KillSwitchActivated.Subscribe(func(a domain.RiskAlert) { activated = append(activated, a) })
	return risk.NewKillSwitch(cfg, bus, clock), clock, &activated
}

func TestKillSwitch_LatchesUntilManualDeactivate(t *testing.T) {
	ks, clock, activated := newKillSwitch(risk.KillSwitchConfig{
		MaxDailyLossUSD: 100,
		CheckInterval:   time.Second,
	})
	ks.Start()
	defer ks.Stop()

	ks.UpdateMetrics(domain.RiskMetrics{DailyPnL: -100})
	clock.Advance(time.Second)
	require.True(t, ks.Active())
	require.Len(t, *activated, 1)
	assert.Equal(t, "daily loss limit exceeded", ks.State().Reason)

	// La métrica se recupera pero el switch sigue disparado.
	ks.UpdateMetrics(domain.RiskMetrics{DailyPnL: 0})
	clock.Advance(10 * time.Second)
	assert.True(t, ks.Active(), "solo Deactivate rearma el pipeline")
	assert.Len(t, *activated, 1, "Activate es idempotente mientras está activo")

	ks.Deactivate()
	assert.False(t, ks.Active())
}

func TestKillSwitch_APIErrorRateWindow(t *testing.T) {
	ks, clock, _ := newKillSwitch(risk.KillSwitchConfig{
		MaxAPIErrorsPerMin: 5,
		CheckInterval:      time.Second,
	})
	ks.Start()
	defer ks.Stop()

	for i := 0; i < 4; i++ {
		ks.RecordAPIError()
	}
	clock.Advance(time.Second)
	assert.False(t, ks.Active())
	assert.InDelta(t, 4.0, ks.APIErrorRate(), 0.001)

	// Los errores viejos salen de la ventana móvil de 1 minuto.
	clock.Advance(2 * time.Minute)
	assert.Zero(t, ks.APIErrorRate())
	assert.False(t, ks.Active())

	for i := 0; i < 5; i++ {
		ks.RecordAPIError()
	}
	clock.Advance(time.Second)
	assert.True(t, ks.Active())
}

func TestKillSwitch_CancelsOpenOrdersOnActivation(t *testing.T) {
	ks, _, _ := newKillSwitch(risk.KillSwitchConfig{CheckInterval: time.Second})

	canceller := &mockCanceller{}
	ks.AddCanceller(canceller)

	ks.Activate("manual halt")
	assert.Equal(t, 1, canceller.calls)
	ks.Activate("manual halt") // idempotente: no re-cancela
	assert.Equal(t, 1, canceller.calls)
}

type mockCanceller struct {
	calls int
}

func (m *mockCanceller) CancelAllOrders(context.Context, string) error {
	m.calls++
	return nil
}

func TestKillSwitch_ActivatedAtUsesInjectedClock(t *testing.T) {
	ks, clock, _ := newKillSwitch(risk.KillSwitchConfig{CheckInterval: time.Second})
	clock.Advance(5 * time.Second)

	ks.Activate("manual halt")

	state := ks.State()
	require.NotNil(t, state.ActivatedAt)
	want := time.Date(2026, 8, 1, 12, 0, 5, 0, time.UTC)
	assert.Equal(t, want, *state.ActivatedAt, "el timestamp sale del reloj inyectado")
}

// --- DrawdownMonitor ---

func TestDrawdown_AlertThenTrip(t *testing.T) {
	bus := events.NewBus()
	clock := sched.NewFake(time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC))
	var alerts, tripped []domain.RiskAlert
	bus.DrawdownAlert.Subscribe(func(a domain.RiskAlert) { alerts = append(alerts, a) })
	bus.DrawdownLimitExceeded.Subscribe(func(a domain.RiskAlert) { tripped = append(tripped, a) })

	ks := risk.NewKillSwitch(risk.KillSwitchConfig{CheckInterval: time.Second}, bus, clock)
	dd := risk.NewDrawdownMonitor(risk.DrawdownConfig{
		MaxDrawdownPct: 20,
		CheckInterval:  time.Second,
	}, bus, clock, ks)
	dd.Start()
	defer dd.Stop()

	dd.RecordEquity(1000) // pico
	clock.Advance(time.Second)
	assert.Empty(t, alerts)

	// Caída del 17%: por encima del 80% del límite (16%), debajo del 100%.
	dd.RecordEquity(830)
	clock.Advance(time.Second)
	require.Len(t, alerts, 1)
	assert.Empty(t, tripped)
	assert.InDelta(t, 17.0, dd.Drawdown(), 0.001)
	assert.False(t, ks.Active())

	// Caída del 20%: dispara el kill switch.
	dd.RecordEquity(800)
	clock.Advance(time.Second)
	require.Len(t, tripped, 1)
	assert.True(t, ks.Active())
	assert.Equal(t, "drawdown limit exceeded", ks.State().Reason)
}

func TestDrawdown_PeakOnlyRises(t *testing.T) {
	bus := events.NewBus()
	clock := sched.NewFake(time.Now().UTC())
	ks := risk.NewKillSwitch(risk.KillSwitchConfig{CheckInterval: time.Second}, bus, clock)
	dd := risk.NewDrawdownMonitor(risk.DrawdownConfig{MaxDrawdownPct: 50}, bus, clock, ks)

	dd.RecordEquity(1000)
	dd.RecordEquity(900)
	assert.InDelta(t, 10.0, dd.Drawdown(), 0.001)

	dd.RecordEquity(1200) // nuevo pico
	assert.Zero(t, dd.Drawdown())
	dd.RecordEquity(1080)
	assert.InDelta(t, 10.0, dd.Drawdown(), 0.001)
}

// El pico sale del buffer de 24h: una muestra vieja no condena el drawdown
// para siempre.
func TestDrawdown_PeakRollsOffWindow(t *testing.T) {
	bus := events.NewBus()
	clock := sched.NewFake(time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC))
	ks := risk.NewKillSwitch(risk.KillSwitchConfig{CheckInterval: time.Second}, bus, clock)
	dd := risk.NewDrawdownMonitor(risk.DrawdownConfig{MaxDrawdownPct: 50}, bus, clock, ks)

	dd.RecordEquity(1000)
	clock.Advance(12 * time.Hour)
	dd.RecordEquity(900)
	assert.InDelta(t, 10.0, dd.Drawdown(), 0.001, "el pico de hace 12h sigue en ventana")

	// 13h más: la muestra de 1000 queda a 25h y cae del buffer. El pico de
	// referencia pasa a ser 900 sin necesidad de recuperar equity.
	clock.Advance(13 * time.Hour)
	assert.Zero(t, dd.Drawdown())
}
