package storage

// sqlite.go — journal histórico de copias, fuera del core en memoria.
//
// Estrategia:
//   - `copies`: una fila por trade copiado, con precio/size/fee efectivos.
//   - `skips`: una fila por trade descartado y su razón (las razones agregadas
//     son la señal más útil para ajustar sizing y límites).
//   - `failures`: una fila por fallo de ejecución, para el health report.
//   - Prune automático al arrancar: todo lo más viejo de 90 días.

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/alejandrodnm/copybot/internal/domain"
	"github.com/alejandrodnm/copybot/internal/ports"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS copies (
    order_id    TEXT PRIMARY KEY,
    trade_id    TEXT    NOT NULL,
    trader_id   TEXT    NOT NULL,
    trader_addr TEXT    NOT NULL,
    venue       TEXT    NOT NULL,
    market_id   TEXT    NOT NULL,
    outcome_id  TEXT    NOT NULL,
    market      TEXT,
    side        TEXT    NOT NULL,
    price       REAL    NOT NULL,
    size        REAL    NOT NULL,
    size_usd    REAL    NOT NULL,
    fee_usd     REAL    NOT NULL DEFAULT 0,
    paper       INTEGER NOT NULL DEFAULT 0,
    partial     INTEGER NOT NULL DEFAULT 0,
    executed_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS skips (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    trade_id   TEXT     NOT NULL,
    trader_id  TEXT,
    market_id  TEXT,
    reason     TEXT     NOT NULL,
    skipped_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS failures (
    id        INTEGER PRIMARY KEY AUTOINCREMENT,
    trade_id  TEXT     NOT NULL,
    trader_id TEXT,
    market_id TEXT,
    reason    TEXT     NOT NULL,
    failed_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_copies_at     ON copies(executed_at DESC);
CREATE INDEX IF NOT EXISTS idx_copies_trader ON copies(trader_id);
CREATE INDEX IF NOT EXISTS idx_skips_at      ON skips(skipped_at DESC);
`

const retentionJournal = 90 * 24 * time.Hour

// SQLiteJournal implementa ports.TradeJournal usando SQLite (pure Go, sin CGo).
type SQLiteJournal struct {
	db *sql.DB
}

// NewSQLiteJournal abre (o crea) la base de datos en la ruta dada, aplica el
// schema y limpia datos antiguos.
func NewSQLiteJournal(path string) (*SQLiteJournal, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage.NewSQLiteJournal: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1) // SQLite es single-writer
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage.NewSQLiteJournal: apply schema: %w", err)
	}

	j := &SQLiteJournal{db: db}
	j.pruneOld(context.Background())
	return j, nil
}

// RecordCopy persiste un trade copiado.
func (j *SQLiteJournal) RecordCopy(ctx context.Context, r domain.CopyResult) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO copies
		(order_id, trade_id, trader_id, trader_addr, venue, market_id, outcome_id,
		 market, side, price, size, size_usd, fee_usd, paper, partial, executed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.OrderID, r.Trade.ID, r.TraderID, r.Trade.TraderAddress, string(r.Venue),
		r.Trade.MarketID, r.Trade.OutcomeID, r.Trade.MarketTitle, string(r.Side),
		r.Price, r.Size, r.SizeUSD, r.FeeUSD, boolInt(r.Paper), boolInt(r.PartialFill),
		r.ExecutedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("storage.RecordCopy: %w", err)
	}
	return nil
}

// RecordSkip persiste un trade descartado.
func (j *SQLiteJournal) RecordSkip(ctx context.Context, s domain.SkippedTrade) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO skips (trade_id, trader_id, market_id, reason, skipped_at)
		VALUES (?, ?, ?, ?, ?)`,
		s.Trade.ID, s.TraderID, s.Trade.MarketID, s.Reason, s.SkippedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("storage.RecordSkip: %w", err)
	}
	return nil
}

// RecordFailure persiste un fallo de ejecución.
func (j *SQLiteJournal) RecordFailure(ctx context.Context, trade domain.DetectedTrade, traderID, reason string) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO failures (trade_id, trader_id, market_id, reason, failed_at)
		VALUES (?, ?, ?, ?, ?)`,
		trade.ID, traderID, trade.MarketID, reason, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("storage.RecordFailure: %w", err)
	}
	return nil
}

// GetCopies devuelve las copias ejecutadas en el rango dado, más nueva primero.
func (j *SQLiteJournal) GetCopies(ctx context.Context, from, to time.Time) ([]domain.CopyResult, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT order_id, trade_id, trader_id, trader_addr, venue, market_id,
		       outcome_id, market, side, price, size, size_usd, fee_usd,
		       paper, partial, executed_at
		FROM copies
		WHERE executed_at BETWEEN ? AND ?
		ORDER BY executed_at DESC`,
		from.UTC(), to.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("storage.GetCopies: %w", err)
	}
	defer rows.Close()

	var out []domain.CopyResult
	for rows.Next() {
		var r domain.CopyResult
		var venue, side string
		var paper, partial int
		if err := rows.Scan(
			&r.OrderID, &r.Trade.ID, &r.TraderID, &r.Trade.TraderAddress, &venue,
			&r.Trade.MarketID, &r.Trade.OutcomeID, &r.Trade.MarketTitle, &side,
			&r.Price, &r.Size, &r.SizeUSD, &r.FeeUSD, &paper, &partial, &r.ExecutedAt,
		); err != nil {
			return nil, fmt.Errorf("storage.GetCopies: scan: %w", err)
		}
		r.Venue = domain.Venue(venue)
		r.Side = domain.TradeSide(side)
		r.Paper = paper != 0
		r.PartialFill = partial != 0
		out = append(out, r)
	}
	return out, rows.Err()
}

// GetStats devuelve el agregado histórico del journal.
func (j *SQLiteJournal) GetStats(ctx context.Context) (ports.JournalStats, error) {
	stats := ports.JournalStats{CopiedByTrader: make(map[string]int)}

	row := j.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(size_usd), 0), COALESCE(SUM(fee_usd), 0),
		       COALESCE(MIN(executed_at), ''), COALESCE(MAX(executed_at), '')
		FROM copies`)
	var first, last string
	if err := row.Scan(&stats.TotalCopied, &stats.TotalVolume, &stats.TotalFees, &first, &last); err != nil {
		return stats, fmt.Errorf("storage.GetStats: copies: %w", err)
	}
	stats.FirstRecord = parseSQLiteTime(first)
	stats.LastRecord = parseSQLiteTime(last)

	if err := j.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM skips`).Scan(&stats.TotalSkipped); err != nil {
		return stats, fmt.Errorf("storage.GetStats: skips: %w", err)
	}
	if err := j.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM failures`).Scan(&stats.TotalFailed); err != nil {
		return stats, fmt.Errorf("storage.GetStats: failures: %w", err)
	}

	rows, err := j.db.QueryContext(ctx,
		`SELECT trader_id, COUNT(*) FROM copies GROUP BY trader_id`)
	if err != nil {
		return stats, fmt.Errorf("storage.GetStats: by trader: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var traderID string
		var count int
		if err := rows.Scan(&traderID, &count); err != nil {
			return stats, fmt.Errorf("storage.GetStats: scan: %w", err)
		}
		stats.CopiedByTrader[traderID] = count
	}
	return stats, rows.Err()
}

// Close cierra la conexión limpiamente.
func (j *SQLiteJournal) Close() error {
	return j.db.Close()
}

// pruneOld borra registros fuera de la ventana de retención. Best effort.
func (j *SQLiteJournal) pruneOld(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-retentionJournal)
	for _, q := range []string{
		`DELETE FROM copies WHERE executed_at < ?`,
		`DELETE FROM skips WHERE skipped_at < ?`,
		`DELETE FROM failures WHERE failed_at < ?`,
	} {
		j.db.ExecContext(ctx, q, cutoff)
	}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func parseSQLiteTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05.999999999 -0700 MST", "2006-01-02 15:04:05.999999999-07:00", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
