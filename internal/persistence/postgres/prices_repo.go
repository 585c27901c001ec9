package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/sawpanic/predictrun/internal/domain/market"
	"github.com/sawpanic/predictrun/internal/persistence"
)

// PricesRepo implements PriceStore and PriceWriter for PostgreSQL
type PricesRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewPricesRepo creates a new PostgreSQL price repository
func NewPricesRepo(db *sqlx.DB, timeout time.Duration) *PricesRepo {
	return &PricesRepo{db: db, timeout: timeout}
}

// Append inserts points in one transaction; repeated (symbol, ts) pairs are ignored
func (r *PricesRepo) Append(ctx context.Context, points ...market.PricePoint) error {
	if len(points) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout*time.Duration(len(points)/100+1))
	defer cancel()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO prices (symbol, price, ts)
		VALUES ($1, $2, $3)
		ON CONFLICT (symbol, ts) DO NOTHING`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, p := range points {
		if _, err := stmt.ExecContext(ctx, p.Symbol, p.Price, p.Timestamp); err != nil {
			return fmt.Errorf("failed to insert price for %s: %w", p.Symbol, err)
		}
	}

	return tx.Commit()
}

// Latest returns the most recent point for symbol
func (r *PricesRepo) Latest(ctx context.Context, symbol string) (market.PricePoint, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT symbol, price, ts
		FROM prices
		WHERE symbol = $1
		ORDER BY ts DESC
		LIMIT 1`

	var p market.PricePoint
	if err := r.db.GetContext(ctx, &p, query, symbol); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return market.PricePoint{}, false, nil
		}
		return market.PricePoint{}, false, fmt.Errorf("failed to get latest price for %s: %w", symbol, err)
	}
	return p, true, nil
}

// History returns points at or after since, ascending
func (r *PricesRepo) History(ctx context.Context, symbol string, since time.Time) ([]market.PricePoint, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT symbol, price, ts
		FROM prices
		WHERE symbol = $1 AND ts >= $2
		ORDER BY ts ASC`

	var points []market.PricePoint
	if err := r.db.SelectContext(ctx, &points, query, symbol, since); err != nil {
		return nil, fmt.Errorf("failed to query price history for %s: %w", symbol, err)
	}
	return points, nil
}

// Symbols lists symbols priced at or after since
func (r *PricesRepo) Symbols(ctx context.Context, since time.Time) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT DISTINCT symbol
		FROM prices
		WHERE ts >= $1
		ORDER BY symbol`

	var symbols []string
	if err := r.db.SelectContext(ctx, &symbols, query, since); err != nil {
		return nil, fmt.Errorf("failed to list symbols: %w", err)
	}
	return symbols, nil
}

// Stats counts points and symbols and finds the newest timestamp
func (r *PricesRepo) Stats(ctx context.Context) (persistence.PriceStats, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT COUNT(*) AS point_count,
			COUNT(DISTINCT symbol) AS symbol_count,
			MAX(ts) AS latest_ts
		FROM prices`

	var st persistence.PriceStats
	if err := r.db.GetContext(ctx, &st, query); err != nil {
		return persistence.PriceStats{}, fmt.Errorf("failed to read price stats: %w", err)
	}
	return st, nil
}
