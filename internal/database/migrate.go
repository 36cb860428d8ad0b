// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package database

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

func newProvider(db *sql.DB) (*goose.Provider, error) {
	migrations, err := fs.Sub(embedMigrations, "migrations")
	if err != nil {
		return nil, err
	}
	return goose.NewProvider(goose.DialectSQLite3, db, migrations)
}

// RunMigrations applies all pending migrations.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	provider, err := newProvider(db)
	if err != nil {
		return fmt.Errorf("migration provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	for _, r := range results {
		slog.Debug("migration_applied", "version", r.Source.Version, "duration", r.Duration)
	}
	return nil
}

// MigrateDown rolls back the last migration.
func MigrateDown(ctx context.Context, db *sql.DB) error {
	provider, err := newProvider(db)
	if err != nil {
		return fmt.Errorf("migration provider: %w", err)
	}
	_, err = provider.Down(ctx)
	return err
}

// MigrationVersion returns the currently applied schema version.
func MigrationVersion(ctx context.Context, db *sql.DB) (int64, error) {
	provider, err := newProvider(db)
	if err != nil {
		return 0, fmt.Errorf("migration provider: %w", err)
	}
	return provider.GetDBVersion(ctx)
}
