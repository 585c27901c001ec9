package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/sawpanic/predictrun/internal/persistence"
	"github.com/sawpanic/predictrun/internal/persistence/postgres"
)

// Manager manages database connections and repository instances
type Manager struct {
	db     *sqlx.DB
	config Config
	repos  *persistence.Repository
	health *healthChecker
}

// NewManager creates a new database manager with the given configuration
func NewManager(config Config) (*Manager, error) {
	if !config.Enabled {
		return &Manager{
			config: config,
			health: &healthChecker{enabled: false},
		}, nil
	}

	if config.DSN == "" {
		return nil, fmt.Errorf("database DSN is required when enabled")
	}

	db, err := sqlx.Open("postgres", config.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return NewManagerWithDB(db, config), nil
}

// NewManagerWithDB wires repositories around an existing connection
func NewManagerWithDB(db *sqlx.DB, config Config) *Manager {
	config.Enabled = true
	config.ApplyDefaults()

	prices := postgres.NewPricesRepo(db, config.QueryTimeout)
	repos := &persistence.Repository{
		Prices:  prices,
		Writer:  prices,
		Trades:  postgres.NewTradesRepo(db, config.QueryTimeout),
		Signals: postgres.NewSignalsRepo(db, config.QueryTimeout),
		Models:  postgres.NewModelsRepo(db, config.QueryTimeout),
	}

	return &Manager{
		db:     db,
		config: config,
		repos:  repos,
		health: &healthChecker{enabled: true, db: db, timeout: config.QueryTimeout},
	}
}

// Repository returns the repository collection, or nil if database is disabled
func (m *Manager) Repository() *persistence.Repository {
	return m.repos
}

// DB returns the underlying database connection (for migrations, etc.)
func (m *Manager) DB() *sqlx.DB {
	return m.db
}

// IsEnabled returns whether database persistence is enabled
func (m *Manager) IsEnabled() bool {
	return m.config.Enabled && m.db != nil
}

// Health returns current repository health status
func (m *Manager) Health(ctx context.Context) persistence.HealthCheck {
	return m.health.Health(ctx)
}

// Ping tests basic connectivity; a disabled manager is always reachable
func (m *Manager) Ping(ctx context.Context) error {
	return m.health.Ping(ctx)
}

// Close closes the database connection
func (m *Manager) Close() error {
	if m.db == nil {
		return nil
	}
	return m.db.Close()
}

type healthChecker struct {
	enabled bool
	db      *sqlx.DB
	timeout time.Duration
}

func (h *healthChecker) Health(ctx context.Context) persistence.HealthCheck {
	if !h.enabled {
		return persistence.HealthCheck{
			Healthy:   true,
			Errors:    []string{"Database persistence disabled"},
			LastCheck: time.Now(),
		}
	}

	start := time.Now()
	var errs []string
	if err := h.Ping(ctx); err != nil {
		errs = append(errs, fmt.Sprintf("ping failed: %v", err))
	}

	return persistence.HealthCheck{
		Healthy:        len(errs) == 0,
		Errors:         errs,
		LastCheck:      time.Now(),
		ResponseTimeMS: time.Since(start).Milliseconds(),
	}
}

func (h *healthChecker) Ping(ctx context.Context) error {
	if !h.enabled {
		return nil
	}

	pingCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	return h.db.PingContext(pingCtx)
}
