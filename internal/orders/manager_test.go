package orders_test

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/copybot/internal/domain"
	"github.com/alejandrodnm/copybot/internal/events"
	"github.com/alejandrodnm/copybot/internal/orders"
	"github.com/alejandrodnm/copybot/internal/paper"
	"github.com/alejandrodnm/copybot/internal/ports"
	"github.com/alejandrodnm/copybot/internal/risk"
	"github.com/alejandrodnm/copybot/internal/sched"
)

// mockVenue implementa ports.VenueClient con respuestas fijas.
type mockVenue struct {
	placeErr   error
	placed     []domain.OrderRequest
	cancelAll  int
	balance    float64
	balanceErr error
}

func (m *mockVenue) PlaceOrder(_ context.Context, req domain.OrderRequest) (domain.Order, error) {
	m.placed = append(m.placed, req)
	if m.placeErr != nil {
		return domain.Order{}, m.placeErr
	}
	now := time.Now().UTC()
	return domain.Order{
		ID:          "ord-1",
		Venue:       req.Venue,
		MarketID:    req.MarketID,
		OutcomeID:   req.OutcomeID,
		Side:        req.Side,
		Price:       req.Price,
		FilledPrice: req.Price,
		Size:        req.Size,
		FilledSize:  req.Size,
		Status:      domain.OrderStatusFilled,
		PlacedAt:    now,
		FilledAt:    &now,
	}, nil
}

func (m *mockVenue) CancelOrder(context.Context, string) error { return nil }

func (m *mockVenue) CancelAllOrders(context.Context, string) error {
	m.cancelAll++
	return nil
}

func (m *mockVenue) GetOpenOrders(context.Context) ([]domain.Order, error) { return nil, nil }

func (m *mockVenue) GetOrder(context.Context, string) (domain.Order, error) {
	return domain.Order{}, nil
}

func (m *mockVenue) GetBalance(context.Context) (domain.Balance, error) {
	if m.balanceErr != nil {
		return domain.Balance{}, m.balanceErr
	}
	return domain.Balance{Available: m.balance, Total: m.balance, Currency: "USDC"}, nil
}

func (m *mockVenue) GetPositions(context.Context) ([]domain.VenuePosition, error) { return nil, nil }

func (m *mockVenue) GetOrderBook(context.Context, string, string) (domain.OrderBook, error) {
	return domain.OrderBook{}, errors.New("no book")
}

func (m *mockVenue) IsConnected() bool { return false }

type harness struct {
	manager *orders.Manager
	ks      *risk.KillSwitch
	venue   *mockVenue
	source  *stubSource
}

type stubSource struct {
	total float64
}

func (s *stubSource) TotalExposure() float64           { return s.total }
func (s *stubSource) ExposureForMarket(string) float64 { return 0 }
func (s *stubSource) PositionCounts(string) (int, int) { return 0, 0 }

func newHarness(paperMode bool, limits risk.LimitsConfig) *harness {
	bus := events.NewBus()
	clock := sched.NewFake(time.Now().UTC())
	source := &stubSource{}

	ks := risk.NewKillSwitch(risk.KillSwitchConfig{CheckInterval: time.Second}, bus, clock)
	lm := risk.NewPositionLimitsManager(limits, source)
	exposure := risk.NewExposureTracker(risk.ExposureConfig{}, source, bus)

	// Simulador determinista: siempre llena, sin latencia ni parciales.
	engine := paper.New(paper.Config{
		InitialBalanceUSD: 1000,
		FillRate:          1.0,
		PartialFillRate:   -1,
		SlippageBase:      0.001,
	}, rand.New(rand.NewSource(1)))

	venue := &mockVenue{balance: 500}
	m := orders.NewManager(
		orders.Config{PaperMode: paperMode},
		ks, lm, exposure, engine,
		map[domain.Venue]ports.VenueClient{domain.VenuePolymarket: venue},
	)
	ks.AddCanceller(m)
	return &harness{manager: m, ks: ks, venue: venue, source: source}
}

func buyRequest(usd float64) domain.OrderRequest {
	return domain.OrderRequest{
		Venue:     domain.VenuePolymarket,
		MarketID:  "m1",
		OutcomeID: "o1",
		Side:      domain.SideBuy,
		Price:     0.50,
		Size:      usd / 0.50,
		TraderID:  "t1",
	}
}

func TestPlaceOrder_KillSwitchRejects(t *testing.T) {
	h := newHarness(true, risk.LimitsConfig{})
	h.ks.Activate("test halt")

	_, err := h.manager.PlaceOrder(context.Background(), buyRequest(10))
	assert.ErrorIs(t, err, orders.ErrKillSwitchActive)
	assert.Empty(t, h.venue.placed, "no debe llegar nada al venue con el switch activo")
}

func TestPlaceOrder_BelowVenueMinimum(t *testing.T) {
	h := newHarness(true, risk.LimitsConfig{})

	_, err := h.manager.PlaceOrder(context.Background(), buyRequest(0.60))
	reason, isRejection := orders.IsRejection(err)
	require.True(t, isRejection)
	assert.Contains(t, reason, "below POLYMARKET minimum")
}

func TestPlaceOrder_KalshiMinimumIsHigher(t *testing.T) {
	h := newHarness(true, risk.LimitsConfig{})

	req := buyRequest(3)
	req.Venue = domain.VenueKalshi
	_, err := h.manager.PlaceOrder(context.Background(), req)
	_, isRejection := orders.IsRejection(err)
	assert.True(t, isRejection, "$3 no alcanza el mínimo de $5 de Kalshi")
}

func TestPlaceOrder_LimitRejectionIsNotAnError(t *testing.T) {
	h := newHarness(true, risk.LimitsConfig{MaxTotalExposureUSD: 100})
	h.source.total = 95

	_, err := h.manager.PlaceOrder(context.Background(), buyRequest(10))
	reason, isRejection := orders.IsRejection(err)
	require.True(t, isRejection)
	assert.Contains(t, reason, "total exposure limit")
}

func TestPlaceOrder_PaperModeFills(t *testing.T) {
	h := newHarness(true, risk.LimitsConfig{})

	order, err := h.manager.PlaceOrder(context.Background(), buyRequest(10))
	require.NoError(t, err)
	assert.True(t, order.Paper)
	assert.Equal(t, domain.OrderStatusFilled, order.Status)
	assert.Empty(t, h.venue.placed, "paper mode nunca toca el venue real")
}

func TestPlaceOrder_LiveModeRoutesToVenue(t *testing.T) {
	h := newHarness(false, risk.LimitsConfig{})

	order, err := h.manager.PlaceOrder(context.Background(), buyRequest(10))
	require.NoError(t, err)
	assert.False(t, order.Paper)
	require.Len(t, h.venue.placed, 1)
	assert.Equal(t, "m1", h.venue.placed[0].MarketID)
}

func TestPlaceOrder_LiveFailureRecordsAPIError(t *testing.T) {
	h := newHarness(false, risk.LimitsConfig{})
	h.venue.placeErr = errors.New("venue 500")

	_, err := h.manager.PlaceOrder(context.Background(), buyRequest(10))
	require.Error(t, err)
	_, isRejection := orders.IsRejection(err)
	assert.False(t, isRejection, "un fallo del venue es error, no veto")
	assert.InDelta(t, 1.0, h.ks.APIErrorRate(), 0.001)
}

func TestCancelAllOrders_LiveFansOutToVenues(t *testing.T) {
	h := newHarness(false, risk.LimitsConfig{})
	require.NoError(t, h.manager.CancelAllOrders(context.Background(), ""))
	assert.Equal(t, 1, h.venue.cancelAll)
}

func TestAvailableBalance(t *testing.T) {
	paperH := newHarness(true, risk.LimitsConfig{})
	bal, err := paperH.manager.AvailableBalance(context.Background(), domain.VenuePolymarket)
	require.NoError(t, err)
	assert.InDelta(t, 1000.0, bal, 0.001, "en paper mode manda el balance virtual")

	liveH := newHarness(false, risk.LimitsConfig{})
	bal, err = liveH.manager.AvailableBalance(context.Background(), domain.VenuePolymarket)
	require.NoError(t, err)
	assert.InDelta(t, 500.0, bal, 0.001)
}
