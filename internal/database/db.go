// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package database

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/vinovest/sqlx"
	_ "modernc.org/sqlite" // Pure-Go SQLite driver
)

// Open creates a SQLite connection, applies the PRAGMAs and migrates the schema.
func Open(ctx context.Context, dsn string) (*sqlx.DB, error) {
	if dsn == "" {
		dsn = "./data/app.db"
	}

	inMemory := strings.HasPrefix(dsn, ":memory:") || strings.Contains(dsn, "mode=memory")
	if !inMemory {
		if err := os.MkdirAll(filepath.Dir(dsn), 0o750); err != nil {
			return nil, err
		}
	}

	conn, err := sqlx.Open("sqlite", addDefaultParams(dsn))
	if err != nil {
		return nil, err
	}

	// every pooled connection to :memory: would see its own empty database
	if inMemory {
		conn.SetMaxOpenConns(1)
	} else {
		conn.SetMaxOpenConns(10)
		conn.SetMaxIdleConns(5)
	}
	conn.SetConnMaxLifetime(time.Hour)

	if err := configureSQLite(ctx, conn); err != nil {
		_ = conn.Close()
		return nil, err
	}

	if err := RunMigrations(ctx, conn.DB); err != nil {
		_ = conn.Close()
		return nil, err
	}

	return conn, nil
}

// addDefaultParams adds recommended SQLite parameters if not already present.
func addDefaultParams(dsn string) string {
	defaults := [][2]string{
		{"_txlock", "immediate"},
		{"_pragma", "busy_timeout(5000)"},
		{"_time_format", "sqlite"},
	}

	for _, kv := range defaults {
		if strings.Contains(dsn, kv[0]+"=") {
			continue
		}
		separator := "?"
		if strings.Contains(dsn, "?") {
			separator = "&"
		}
		dsn += separator + kv[0] + "=" + kv[1]
	}

	return dsn
}

func configureSQLite(ctx context.Context, db *sqlx.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
		"PRAGMA cache_size = 2000",
	}

	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return err
		}
	}

	return nil
}
