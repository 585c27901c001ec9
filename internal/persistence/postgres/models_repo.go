package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/sawpanic/predictrun/internal/nn"
)

// ModelsRepo implements ModelStore; every save appends a row and the newest one is loaded
type ModelsRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewModelsRepo creates a new PostgreSQL classifier state repository
func NewModelsRepo(db *sqlx.DB, timeout time.Duration) *ModelsRepo {
	return &ModelsRepo{db: db, timeout: timeout}
}

func (r *ModelsRepo) SaveState(ctx context.Context, state nn.State) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	data, err := nn.MarshalState(state)
	if err != nil {
		return fmt.Errorf("failed to marshal classifier state: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, `INSERT INTO model_states (state) VALUES ($1)`, data); err != nil {
		return fmt.Errorf("failed to save classifier state: %w", err)
	}
	return nil
}

func (r *ModelsRepo) LoadState(ctx context.Context) (nn.State, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var data []byte
	err := r.db.QueryRowxContext(ctx, `SELECT state FROM model_states ORDER BY id DESC LIMIT 1`).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nn.State{}, false, nil
		}
		return nn.State{}, false, fmt.Errorf("failed to load classifier state: %w", err)
	}

	state, err := nn.UnmarshalState(data)
	if err != nil {
		return nn.State{}, false, err
	}
	return state, true, nil
}
