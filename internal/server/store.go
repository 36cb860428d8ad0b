// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package server

import (
	"context"
	"fmt"

	"codeberg.org/oliverandrich/feedtools/internal/config"
	"codeberg.org/oliverandrich/feedtools/internal/database"
	"codeberg.org/oliverandrich/feedtools/internal/repository"
	"codeberg.org/oliverandrich/feedtools/internal/repository/mongorepo"
)

// CloseFunc releases a resource opened at startup.
type CloseFunc func(ctx context.Context) error

// OpenStore opens the account store selected by cfg.Driver.
func OpenStore(ctx context.Context, cfg config.DatabaseConfig) (repository.Store, CloseFunc, error) {
	switch cfg.Driver {
	case config.DriverSQLite, "":
		db, err := database.Open(ctx, cfg.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open database: %w", err)
		}
		return repository.New(db), func(context.Context) error { return db.Close() }, nil

	case config.DriverMongo:
		if cfg.MongoURI == "" {
			return nil, nil, fmt.Errorf("--mongo-uri is required for the %s driver", config.DriverMongo)
		}
		repo, err := mongorepo.Connect(ctx, cfg.MongoURI, cfg.MongoDatabase, cfg.Timeout)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to mongodb: %w", err)
		}
		return repo, repo.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
}
