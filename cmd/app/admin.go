// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/urfave/cli/v3"

	"codeberg.org/oliverandrich/feedtools/internal/config"
	"codeberg.org/oliverandrich/feedtools/internal/logging"
	"codeberg.org/oliverandrich/feedtools/internal/repository"
	"codeberg.org/oliverandrich/feedtools/internal/server"
	"codeberg.org/oliverandrich/feedtools/internal/services/maintenance"
)

// withStore opens the configured store for a one-shot admin command.
func withStore(ctx context.Context, cmd *cli.Command, fn func(ctx context.Context, store repository.Store) error) error {
	cfg := config.NewFromCLI(cmd)
	logCloser := logging.Setup(cfg.Log)
	defer logCloser.Close()

	store, closeStore, err := server.OpenStore(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := closeStore(context.WithoutCancel(ctx)); closeErr != nil {
			slog.Error("failed to close store", "error", closeErr)
		}
	}()

	return fn(ctx, store)
}

func sweepCommand() *cli.Command {
	return &cli.Command{
		Name:  "sweep",
		Usage: "Delete unverified accounts whose verification window has passed",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return withStore(ctx, cmd, func(ctx context.Context, store repository.Store) error {
				n, err := maintenance.NewSweeper(store, 0).SweepOnce(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("deleted %d unverified accounts\n", n)
				return nil
			})
		},
	}
}

func grantSubscriptionCommand() *cli.Command {
	return &cli.Command{
		Name:  "grant-subscription",
		Usage: "Open a subscription window for one account",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "email", Usage: "Account email", Required: true},
			&cli.IntFlag{Name: "minutes", Value: 15, Usage: "Length of the subscription window"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return withStore(ctx, cmd, func(ctx context.Context, store repository.Store) error {
				d := time.Duration(cmd.Int("minutes")) * time.Minute
				expiry, err := maintenance.NewAdmin(store).GrantSubscription(ctx, cmd.String("email"), d)
				if err != nil {
					return err
				}
				fmt.Printf("subscription for %s expires at %s\n", cmd.String("email"), expiry.Format(time.RFC3339))
				return nil
			})
		},
	}
}

func resetCounterCommand() *cli.Command {
	return &cli.Command{
		Name:  "reset-counter",
		Usage: "Set a usage counter to a value on every account",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "field", Value: "gameLimit", Usage: "Counter to reset (gameLimit)"},
			&cli.IntFlag{Name: "value", Value: 0, Usage: "Value to set"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return withStore(ctx, cmd, func(ctx context.Context, store repository.Store) error {
				n, err := maintenance.NewAdmin(store).ResetCounter(ctx, cmd.String("field"), int(cmd.Int("value")))
				if err != nil {
					return err
				}
				fmt.Printf("updated %d accounts\n", n)
				return nil
			})
		},
	}
}

func backfillCommand() *cli.Command {
	return &cli.Command{
		Name:  "backfill",
		Usage: "Fill missing account fields with their defaults",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "game-limit", Value: 5, Usage: "Default game limit"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return withStore(ctx, cmd, func(ctx context.Context, store repository.Store) error {
				n, err := maintenance.NewAdmin(store).BackfillDefaults(ctx, maintenance.Defaults{
					GameLimit: int(cmd.Int("game-limit")),
				})
				if err != nil {
					return err
				}
				fmt.Printf("backfilled %d accounts\n", n)
				return nil
			})
		},
	}
}
