// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package maintenance holds the account lifecycle jobs: the reaper for
// abandoned signups and the admin batch updates.
package maintenance

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"codeberg.org/oliverandrich/feedtools/internal/metrics"
)

// ExpiredDeleter removes unverified accounts past their deadline.
type ExpiredDeleter interface {
	DeleteExpiredUnverified(ctx context.Context, now time.Time) (int64, error)
}

// Sweeper periodically deletes abandoned signups.
type Sweeper struct {
	Store    ExpiredDeleter
	Interval time.Duration
	Now      func() time.Time
}

// NewSweeper returns a Sweeper. A zero interval means one minute.
func NewSweeper(store ExpiredDeleter, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{
		Store:    store,
		Interval: interval,
		Now:      func() time.Time { return time.Now().UTC() },
	}
}

// SweepOnce deletes every unverified account whose deadline lies strictly
// before now.
func (s *Sweeper) SweepOnce(ctx context.Context) (int64, error) {
	n, err := s.Store.DeleteExpiredUnverified(ctx, s.Now())
	if err != nil {
		return 0, fmt.Errorf("failed to sweep unverified accounts: %w", err)
	}
	if n > 0 {
		metrics.AccountsSwept.Add(float64(n))
		slog.InfoContext(ctx, "unverified_accounts_swept", "count", n)
	}
	return n, nil
}

// Run sweeps on every tick until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	slog.InfoContext(ctx, "sweeper_started", "interval", s.Interval)
	for {
		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "sweeper_stopped")
			return
		case <-ticker.C:
			if _, err := s.SweepOnce(ctx); err != nil && ctx.Err() == nil {
				slog.ErrorContext(ctx, "sweep_failed", "error", err)
			}
		}
	}
}
