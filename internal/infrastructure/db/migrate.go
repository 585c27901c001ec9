package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/predictrun/internal/persistence/postgres/migrations"
)

// Migrate applies every pending embedded migration
func Migrate(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.FS)
	defer goose.SetBaseFS(nil)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("goose: failed to set dialect: %w", err)
	}

	log.Info().Msg("Running database migrations")
	if err := goose.UpContext(ctx, db, "."); err != nil {
		return fmt.Errorf("goose migration failed: %w", err)
	}

	version, err := goose.GetDBVersionContext(ctx, db)
	if err != nil {
		return fmt.Errorf("goose: failed to read version: %w", err)
	}
	log.Info().Int64("version", version).Msg("Migrations completed")
	return nil
}
