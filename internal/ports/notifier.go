package ports

import (
	"context"

	"github.com/alejandrodnm/copybot/internal/domain"
)

// Notifier presenta el estado del pipeline al usuario.
type Notifier interface {
	// NotifyCopy anuncia un trade copiado con éxito.
	NotifyCopy(ctx context.Context, result domain.CopyResult) error

	// NotifySkip anuncia un trade descartado y su razón.
	NotifySkip(ctx context.Context, skip domain.SkippedTrade) error

	// NotifyAlert anuncia una alerta de riesgo.
	NotifyAlert(ctx context.Context, alert domain.RiskAlert) error

	// PrintStatus imprime el resumen periódico (posiciones + stats).
	PrintStatus(ctx context.Context, stats domain.PortfolioStats, positions []domain.CopyPosition) error
}
