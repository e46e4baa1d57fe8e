package ports

import (
	"context"
	"time"

	"github.com/alejandrodnm/copybot/internal/domain"
)

// JournalStats es el agregado histórico que devuelve el journal.
type JournalStats struct {
	TotalCopied    int
	TotalSkipped   int
	TotalFailed    int
	TotalVolume    float64
	TotalFees      float64
	FirstRecord    time.Time
	LastRecord     time.Time
	CopiedByTrader map[string]int
}

// TradeJournal persiste el histórico de copias fuera del core en memoria.
// El core no depende de él para operar: consume eventos y los archiva.
type TradeJournal interface {
	RecordCopy(ctx context.Context, result domain.CopyResult) error
	RecordSkip(ctx context.Context, skip domain.SkippedTrade) error
	RecordFailure(ctx context.Context, trade domain.DetectedTrade, traderID, reason string) error

	// GetCopies devuelve las copias registradas en el rango dado.
	GetCopies(ctx context.Context, from, to time.Time) ([]domain.CopyResult, error)

	// GetStats devuelve el agregado histórico.
	GetStats(ctx context.Context) (JournalStats, error)

	// Close cierra la conexión limpiamente.
	Close() error
}
