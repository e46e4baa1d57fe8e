// Package orders valida y enruta cada orden: kill switch → mínimo del venue
// → límites de posición → exposición → backend de ejecución (paper o real).
package orders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alejandrodnm/copybot/internal/domain"
	"github.com/alejandrodnm/copybot/internal/paper"
	"github.com/alejandrodnm/copybot/internal/ports"
	"github.com/alejandrodnm/copybot/internal/risk"
)

// ErrKillSwitchActive se devuelve antes de cualquier llamada de red.
var ErrKillSwitchActive = errors.New("orders: kill switch active")

// RejectionError es un veto síncrono de validación o de un risk gate.
// No se reintenta: el orquestador marca el trade como skipped.
type RejectionError struct {
	Reason string
}

func (e *RejectionError) Error() string { return "orders: rejected: " + e.Reason }

// IsRejection indica si el error es un veto (y devuelve la razón).
func IsRejection(err error) (string, bool) {
	var rej *RejectionError
	if errors.As(err, &rej) {
		return rej.Reason, true
	}
	return "", false
}

// Config del manager.
type Config struct {
	PaperMode bool
}

// Manager routes validated orders to the execution backend.
type Manager struct {
	cfg      Config
	ks       *risk.KillSwitch
	limits   *risk.PositionLimitsManager
	exposure *risk.ExposureTracker
	paper    *paper.Engine
	venues   map[domain.Venue]ports.VenueClient
}

// NewManager crea el manager con todos los gates inyectados.
func NewManager(
	cfg Config,
	ks *risk.KillSwitch,
	limits *risk.PositionLimitsManager,
	exposure *risk.ExposureTracker,
	paperEngine *paper.Engine,
	venues map[domain.Venue]ports.VenueClient,
) *Manager {
	return &Manager{
		cfg:      cfg,
		ks:       ks,
		limits:   limits,
		exposure: exposure,
		paper:    paperEngine,
		venues:   venues,
	}
}

// PlaceOrder valida y ejecuta una orden.
//
// La secuencia check-then-place no es atómica respecto a los timers de
// drawdown/kill switch: un tick puede disparar el halt con una orden ya en
// vuelo. Revalidamos el switch justo antes del dispatch para reducir la
// ventana a la latencia de la propia llamada de red; esa ventana residual es
// aceptada y queda documentada aquí a propósito.
func (m *Manager) PlaceOrder(ctx context.Context, req domain.OrderRequest) (domain.Order, error) {
	if m.ks.Active() {
		return domain.Order{}, ErrKillSwitchActive
	}

	notional := req.NotionalUSD()
	if minUSD := req.Venue.MinOrderUSD(); notional < minUSD {
		return domain.Order{}, &RejectionError{
			Reason: fmt.Sprintf("order $%.2f below %s minimum $%.2f", notional, req.Venue, minUSD),
		}
	}

	if check := m.limits.CheckOrder(req.MarketID, notional); !check.Allowed {
		return domain.Order{}, &RejectionError{Reason: check.Reason}
	}
	if check := m.exposure.CheckExposure(req.Venue, notional); !check.Allowed {
		return domain.Order{}, &RejectionError{Reason: check.Reason}
	}

	// Revalidación inmediatamente antes del dispatch (ver doc de arriba).
	if m.ks.Active() {
		return domain.Order{}, ErrKillSwitchActive
	}

	var (
		order domain.Order
		err   error
	)
	if m.cfg.PaperMode {
		order, err = m.executePaper(ctx, req)
	} else {
		order, err = m.executeLive(ctx, req)
	}
	if err != nil {
		return domain.Order{}, err
	}

	m.exposure.RecordFill(req.Venue, order.FilledSize*order.FilledPrice, req.Side)
	return order, nil
}

// executePaper delega en el simulador, con un snapshot best-effort del libro
// real para que el slippage parta de precios realistas.
func (m *Manager) executePaper(ctx context.Context, req domain.OrderRequest) (domain.Order, error) {
	var book *domain.OrderBook
	if client, ok := m.venues[req.Venue]; ok && client.IsConnected() {
		if snapshot, err := client.GetOrderBook(ctx, req.MarketID, req.OutcomeID); err == nil {
			book = &snapshot
		} else {
			slog.Debug("orders: order book snapshot unavailable, pricing off request",
				"market", req.MarketID, "err", err)
		}
	}
	return m.paper.ExecuteOrder(ctx, req, book)
}

func (m *Manager) executeLive(ctx context.Context, req domain.OrderRequest) (domain.Order, error) {
	client, ok := m.venues[req.Venue]
	if !ok {
		return domain.Order{}, fmt.Errorf("orders.PlaceOrder: no client configured for venue %s", req.Venue)
	}
	order, err := client.PlaceOrder(ctx, req)
	if err != nil {
		m.ks.RecordAPIError()
		return domain.Order{}, fmt.Errorf("orders.PlaceOrder: venue %s: %w", req.Venue, err)
	}
	return order, nil
}

// CancelAllOrders implementa risk.OrderCanceller sobre todos los venues.
func (m *Manager) CancelAllOrders(ctx context.Context, marketID string) error {
	if m.cfg.PaperMode {
		m.paper.CancelAll()
		return nil
	}
	var firstErr error
	for venue, client := range m.venues {
		if err := client.CancelAllOrders(ctx, marketID); err != nil {
			slog.Warn("orders: cancel all failed", "venue", venue, "err", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// OrderBook devuelve el snapshot del libro del venue. También en paper mode:
// el simulador usa libros reales para que el slippage parta de precios vivos.
func (m *Manager) OrderBook(ctx context.Context, venue domain.Venue, marketID, outcomeID string) (domain.OrderBook, error) {
	client, ok := m.venues[venue]
	if !ok {
		return domain.OrderBook{}, fmt.Errorf("orders.OrderBook: no client for venue %s", venue)
	}
	book, err := client.GetOrderBook(ctx, marketID, outcomeID)
	if err != nil {
		return domain.OrderBook{}, fmt.Errorf("orders.OrderBook: %w", err)
	}
	return book, nil
}

// AvailableBalance devuelve el balance utilizable para sizing: el virtual en
// paper, el del venue en real.
func (m *Manager) AvailableBalance(ctx context.Context, venue domain.Venue) (float64, error) {
	if m.cfg.PaperMode {
		return m.paper.Balance().Available, nil
	}
	client, ok := m.venues[venue]
	if !ok {
		return 0, fmt.Errorf("orders.AvailableBalance: no client for venue %s", venue)
	}
	bal, err := client.GetBalance(ctx)
	if err != nil {
		m.ks.RecordAPIError()
		return 0, fmt.Errorf("orders.AvailableBalance: %w", err)
	}
	return bal.Available, nil
}
