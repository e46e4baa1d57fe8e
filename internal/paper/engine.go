// Package paper simula ejecuciones contra balances y posiciones virtuales:
// latencia aleatoria, fills parciales, slippage dependiente del tamaño y fee
// plano por venue. La contabilidad replica exactamente las reglas del
// tracker, como ledger separado del trading real.
package paper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alejandrodnm/copybot/internal/domain"
	"github.com/alejandrodnm/copybot/internal/events"
	"github.com/alejandrodnm/copybot/internal/tracker"
)

// ErrNoFill indica que el coin flip de fill salió cruz: la orden simulada no
// se ejecutó. Terminal para esa orden.
var ErrNoFill = errors.New("paper: order not filled (simulated)")

// ErrInsufficientBalance indica que el balance virtual no cubre la compra.
var ErrInsufficientBalance = errors.New("paper: insufficient virtual balance")

// Config controla el realismo de la simulación.
type Config struct {
	InitialBalanceUSD  float64
	FillRate           float64       // probabilidad de fill (0..1)
	PartialFillRate    float64       // probabilidad de que el fill sea parcial
	MinPartialFraction float64       // fracción mínima de un fill parcial
	LatencyMin         time.Duration // latencia simulada de exchange
	LatencyMax         time.Duration
	SlippageBase       float64 // slippage base (fracción del precio)
	SlippageSizeImpact float64 // extra por cada $1000 de notional
}

// DefaultConfig devuelve una simulación razonablemente realista.
func DefaultConfig() Config {
	return Config{
		InitialBalanceUSD:  1000,
		FillRate:           0.95,
		PartialFillRate:    0.10,
		MinPartialFraction: 0.3,
		LatencyMin:         50 * time.Millisecond,
		LatencyMax:         350 * time.Millisecond,
		SlippageBase:       0.001,
		SlippageSizeImpact: 0.002,
	}
}

// Engine es el backend de ejecución simulado.
type Engine struct {
	cfg Config

	mu      sync.Mutex
	balance float64
	rng     *rand.Rand
	orders  []domain.Order

	ledger *tracker.Tracker
}

// New crea el engine con su propio ledger y un RNG inyectable (determinista
// en tests).
func New(cfg Config, rng *rand.Rand) *Engine {
	if cfg.InitialBalanceUSD <= 0 {
		cfg.InitialBalanceUSD = DefaultConfig().InitialBalanceUSD
	}
	if cfg.FillRate <= 0 {
		cfg.FillRate = DefaultConfig().FillRate
	}
	if cfg.MinPartialFraction <= 0 {
		cfg.MinPartialFraction = DefaultConfig().MinPartialFraction
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Engine{
		cfg:     cfg,
		balance: cfg.InitialBalanceUSD,
		rng:     rng,
		// Ledger propio con bus aislado: las posiciones de papel no deben
		// mezclarse con los eventos de posición del trading real.
		ledger: tracker.New(events.NewBus()),
	}
}

// ExecuteOrder simula la ejecución completa de una orden. El book, si llega,
// aporta el top-of-book real como precio de referencia para el slippage.
func (e *Engine) ExecuteOrder(ctx context.Context, req domain.OrderRequest, book *domain.OrderBook) (domain.Order, error) {
	if err := e.simulateLatency(ctx); err != nil {
		return domain.Order{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.rng.Float64() > e.cfg.FillRate {
		slog.Debug("paper: simulated no-fill", "market", req.MarketID, "side", req.Side)
		return domain.Order{}, ErrNoFill
	}

	filledSize := req.Size
	partial := false
	if e.rng.Float64() < e.cfg.PartialFillRate {
		frac := e.cfg.MinPartialFraction + e.rng.Float64()*(1-e.cfg.MinPartialFraction)
		filledSize = req.Size * frac
		partial = true
	}

	price := e.fillPrice(req, book)
	notional := filledSize * price
	fee := notional * req.Venue.FeeRate()

	if req.Side == domain.SideBuy {
		total := notional + fee
		if total > e.balance {
			return domain.Order{}, fmt.Errorf("%w: need $%.2f, have $%.2f",
				ErrInsufficientBalance, total, e.balance)
		}
		e.balance -= total
		e.ledger.RecordBuy(tracker.Fill{
			TraderID:  req.TraderID,
			MarketID:  req.MarketID,
			OutcomeID: req.OutcomeID,
			Price:     price,
			Size:      filledSize,
		})
	} else {
		_, sold, ok := e.ledger.RecordSell(tracker.Fill{
			TraderID:  req.TraderID,
			MarketID:  req.MarketID,
			OutcomeID: req.OutcomeID,
			Price:     price,
			Size:      filledSize,
		})
		if !ok {
			return domain.Order{}, fmt.Errorf("paper: sell without virtual position in %s", req.MarketID)
		}
		if sold < filledSize {
			// El ledger tenía menos shares de las pedidas: solo se abona lo
			// efectivamente vendido.
			filledSize = sold
			notional = filledSize * price
			fee = notional * req.Venue.FeeRate()
			partial = true
		}
		e.balance += notional - fee
	}

	now := time.Now().UTC()
	status := domain.OrderStatusFilled
	if partial {
		status = domain.OrderStatusPartial
	}
	order := domain.Order{
		ID:          uuid.New().String(),
		Venue:       req.Venue,
		MarketID:    req.MarketID,
		OutcomeID:   req.OutcomeID,
		Side:        req.Side,
		Price:       req.Price,
		FilledPrice: price,
		Size:        req.Size,
		FilledSize:  filledSize,
		FeeUSD:      fee,
		Status:      status,
		Paper:       true,
		PlacedAt:    now,
		FilledAt:    &now,
	}
	e.orders = append(e.orders, order)

	slog.Debug("paper: simulated fill",
		"market", req.MarketID, "side", req.Side,
		"requested", req.Size, "filled", filledSize,
		"price", price, "fee", fee, "balance", e.balance)
	return order, nil
}

// fillPrice aplica el modelo de slippage contra el top-of-book real si hay
// snapshot, o contra el precio pedido si no. Siempre en contra del taker:
// compras más caro, vendes más barato.
func (e *Engine) fillPrice(req domain.OrderRequest, book *domain.OrderBook) float64 {
	ref := req.Price
	if book != nil {
		if req.Side == domain.SideBuy {
			if ask := book.BestAsk(); ask > 0 {
				ref = ask
			}
		} else {
			if bid := book.BestBid(); bid > 0 {
				ref = bid
			}
		}
	}

	slip := e.cfg.SlippageBase + req.NotionalUSD()/1000*e.cfg.SlippageSizeImpact
	var price float64
	if req.Side == domain.SideBuy {
		price = ref * (1 + slip)
	} else {
		price = ref * (1 - slip)
	}
	return clampPrice(price)
}

// clampPrice acota el precio simulado al rango válido de un mercado binario.
func clampPrice(p float64) float64 {
	if p < 0.001 {
		return 0.001
	}
	if p > 0.999 {
		return 0.999
	}
	return p
}

// simulateLatency duerme un tiempo uniforme en [LatencyMin, LatencyMax],
// respetando la cancelación del contexto.
func (e *Engine) simulateLatency(ctx context.Context) error {
	if e.cfg.LatencyMax <= 0 {
		return nil
	}
	span := e.cfg.LatencyMax - e.cfg.LatencyMin
	e.mu.Lock()
	d := e.cfg.LatencyMin
	if span > 0 {
		d += time.Duration(e.rng.Int63n(int64(span)))
	}
	e.mu.Unlock()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// Balance devuelve el balance virtual actual.
func (e *Engine) Balance() domain.Balance {
	e.mu.Lock()
	defer e.mu.Unlock()
	return domain.Balance{
		Available: e.balance,
		Total:     e.balance,
		Currency:  "USDC",
	}
}

// Positions devuelve las posiciones virtuales abiertas.
func (e *Engine) Positions() []domain.CopyPosition {
	return e.ledger.OpenPositions()
}

// UpdatePrices refresca el mark-to-market del ledger virtual.
func (e *Engine) UpdatePrices(prices map[string]float64) {
	e.ledger.UpdatePrices(prices)
}

// PnL devuelve el P&L (realizado, no realizado) del ledger virtual.
func (e *Engine) PnL() (realized, unrealized float64) {
	return e.ledger.PnL()
}

// Orders devuelve el histórico de órdenes simuladas.
func (e *Engine) Orders() []domain.Order {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]domain.Order, len(e.orders))
	copy(out, e.orders)
	return out
}

// CancelAll no tiene órdenes en reposo que cancelar (todo fill es inmediato),
// pero existe para que el kill switch trate igual a ambos backends.
func (e *Engine) CancelAll() {}
