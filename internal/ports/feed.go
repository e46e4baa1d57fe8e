package ports

import (
	"context"

	"github.com/alejandrodnm/copybot/internal/domain"
)

// ActivityFeed obtiene la actividad pública de una wallet. Es la fuente de
// verdad del monitor: todo trade detectado sale de aquí.
type ActivityFeed interface {
	// FetchActivity devuelve la actividad reciente de la wallet, más nueva primero.
	FetchActivity(ctx context.Context, address string) ([]domain.FeedActivity, error)

	// FetchPositions devuelve las posiciones actuales de la wallet.
	FetchPositions(ctx context.Context, address string) ([]domain.FeedPosition, error)
}
