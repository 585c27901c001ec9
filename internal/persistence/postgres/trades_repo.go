package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/predictrun/internal/domain/trade"
	"github.com/sawpanic/predictrun/internal/persistence"
)

const tradeColumns = `id, symbol, side, kind, entry_price, opened_at, order_size, fee,
		status, exit_price, closed_at, result, exit_reason`

// tradesRepo implements TradeStore for PostgreSQL
type tradesRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewTradesRepo creates a new PostgreSQL trades repository
func NewTradesRepo(db *sqlx.DB, timeout time.Duration) persistence.TradeStore {
	return &tradesRepo{
		db:      db,
		timeout: timeout,
	}
}

// Save upserts a trade. Only the closing columns change after the first insert, and a
// closed row is never rewritten.
func (r *tradesRepo) Save(ctx context.Context, t trade.Trade) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	rec := t.Record()
	query := `
		INSERT INTO trades (` + tradeColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			exit_price = EXCLUDED.exit_price,
			closed_at = EXCLUDED.closed_at,
			result = EXCLUDED.result,
			exit_reason = EXCLUDED.exit_reason
		WHERE trades.status = 'open'`

	res, err := r.db.ExecContext(ctx, query,
		rec.ID, rec.Symbol, rec.Side, rec.Kind, rec.EntryPrice, rec.OpenedAt,
		rec.OrderSize, rec.Fee, rec.Status, rec.ExitPrice, rec.ClosedAt, rec.Result, rec.ExitReason)
	if err != nil {
		return fmt.Errorf("failed to save trade %s: %w", rec.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("failed to save trade %s: %w", rec.ID, trade.ErrAlreadyClosed)
	}
	return nil
}

// OpenTrades returns all open trades, oldest first
func (r *tradesRepo) OpenTrades(ctx context.Context) ([]trade.Trade, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT ` + tradeColumns + `
		FROM trades
		WHERE status = 'open'
		ORDER BY opened_at ASC, id ASC`

	var recs []trade.Record
	if err := r.db.SelectContext(ctx, &recs, query); err != nil {
		return nil, fmt.Errorf("failed to query open trades: %w", err)
	}
	return restoreAll(recs), nil
}

// ClosedTrades returns trades closed at or after since, newest first
func (r *tradesRepo) ClosedTrades(ctx context.Context, since time.Time) ([]trade.Trade, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT ` + tradeColumns + `
		FROM trades
		WHERE status = 'closed' AND closed_at >= $1
		ORDER BY closed_at DESC, id ASC`

	var recs []trade.Record
	if err := r.db.SelectContext(ctx, &recs, query, since); err != nil {
		return nil, fmt.Errorf("failed to query closed trades: %w", err)
	}
	return restoreAll(recs), nil
}

// Summary counts trades by status and result
func (r *tradesRepo) Summary(ctx context.Context) (persistence.TradeSummary, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT
			COUNT(*) FILTER (WHERE status = 'open') AS open,
			COUNT(*) FILTER (WHERE status = 'closed') AS closed,
			COUNT(*) FILTER (WHERE result = 1) AS wins,
			COUNT(*) FILTER (WHERE result = -1) AS losses,
			COUNT(*) FILTER (WHERE status = 'closed' AND result = 0) AS neutral
		FROM trades`

	var s persistence.TradeSummary
	if err := r.db.GetContext(ctx, &s, query); err != nil {
		return persistence.TradeSummary{}, fmt.Errorf("failed to summarize trades: %w", err)
	}
	return s.Finalize(), nil
}

// restoreAll rebuilds trades, dropping rows that violate the open/closed invariant
func restoreAll(recs []trade.Record) []trade.Trade {
	out := make([]trade.Trade, 0, len(recs))
	for _, rec := range recs {
		t, err := trade.Restore(rec)
		if err != nil {
			log.Warn().Err(err).Str("trade_id", rec.ID).Msg("Skipping corrupt trade row")
			continue
		}
		out = append(out, t)
	}
	return out
}
