package ports

import (
	"context"

	"github.com/alejandrodnm/copybot/internal/domain"
)

// VenueClient es la interfaz normalizada de un exchange. Hay una instancia
// por venue; los detalles de wire (REST/WS, firmas) viven en el adapter.
type VenueClient interface {
	// PlaceOrder envía una orden y devuelve el estado aceptado por el venue.
	PlaceOrder(ctx context.Context, req domain.OrderRequest) (domain.Order, error)

	// CancelOrder cancela una orden concreta.
	CancelOrder(ctx context.Context, orderID string) error

	// CancelAllOrders cancela todas las órdenes abiertas; marketID opcional
	// ("" = todos los mercados).
	CancelAllOrders(ctx context.Context, marketID string) error

	// GetOpenOrders devuelve las órdenes abiertas.
	GetOpenOrders(ctx context.Context) ([]domain.Order, error)

	// GetOrder devuelve el estado actual de una orden.
	GetOrder(ctx context.Context, orderID string) (domain.Order, error)

	// GetBalance devuelve el saldo de la cuenta.
	GetBalance(ctx context.Context) (domain.Balance, error)

	// GetPositions devuelve las posiciones según el venue.
	GetPositions(ctx context.Context) ([]domain.VenuePosition, error)

	// GetOrderBook devuelve el snapshot del libro para un outcome.
	GetOrderBook(ctx context.Context, marketID, outcomeID string) (domain.OrderBook, error)

	// IsConnected indica si el cliente tiene conexión utilizable.
	IsConnected() bool
}
