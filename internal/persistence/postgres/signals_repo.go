package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/sawpanic/predictrun/internal/domain/market"
)

type signalRow struct {
	GeneratedAt time.Time `db:"generated_at"`
	Symbol      string    `db:"symbol"`
	Side        string    `db:"side"`
	Rank        int       `db:"rank"`
	Score       float64   `db:"score"`
}

// SignalsRepo implements SignalStore for PostgreSQL. A batch is a header row plus its signals,
// written in one transaction so readers never see a partial batch.
type SignalsRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewSignalsRepo creates a new PostgreSQL signal repository
func NewSignalsRepo(db *sqlx.DB, timeout time.Duration) *SignalsRepo {
	return &SignalsRepo{db: db, timeout: timeout}
}

// SaveBatch stores the whole batch atomically
func (r *SignalsRepo) SaveBatch(ctx context.Context, batch market.Batch) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `INSERT INTO signal_batches (generated_at) VALUES ($1)`, batch.GeneratedAt); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: batch at %s", ErrDuplicate, batch.GeneratedAt.Format(time.RFC3339))
		}
		return fmt.Errorf("failed to insert signal batch: %w", err)
	}

	signals := batch.Signals()
	if len(signals) > 0 {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO signals (generated_at, symbol, side, rank, score)
			VALUES ($1, $2, $3, $4, $5)`)
		if err != nil {
			return fmt.Errorf("failed to prepare statement: %w", err)
		}
		defer stmt.Close()

		for _, s := range signals {
			if _, err := stmt.ExecContext(ctx, batch.GeneratedAt, s.Symbol, string(s.Side), s.Rank, s.Score); err != nil {
				return fmt.Errorf("failed to insert signal %s/%s: %w", s.Side, s.Symbol, err)
			}
		}
	}

	return tx.Commit()
}

// LatestBatch returns every signal sharing the newest generated_at
func (r *SignalsRepo) LatestBatch(ctx context.Context) (market.Batch, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var latest sql.NullTime
	if err := r.db.QueryRowxContext(ctx, `SELECT MAX(generated_at) FROM signal_batches`).Scan(&latest); err != nil {
		return market.Batch{}, false, fmt.Errorf("failed to find latest batch: %w", err)
	}
	if !latest.Valid {
		return market.Batch{}, false, nil
	}
	at := latest.Time

	query := `
		SELECT generated_at, symbol, side, rank, score
		FROM signals
		WHERE generated_at = $1
		ORDER BY side ASC, rank ASC`

	var rows []signalRow
	if err := r.db.SelectContext(ctx, &rows, query, at); err != nil {
		return market.Batch{}, false, fmt.Errorf("failed to load batch signals: %w", err)
	}

	batch := market.Batch{GeneratedAt: at, Long: []market.Signal{}, Short: []market.Signal{}}
	for _, row := range rows {
		s := market.Signal{Symbol: row.Symbol, Score: row.Score, Rank: row.Rank}
		switch market.Side(row.Side) {
		case market.Long:
			batch.Long = append(batch.Long, s)
		case market.Short:
			batch.Short = append(batch.Short, s)
		}
	}
	return batch, true, nil
}
