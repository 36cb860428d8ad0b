// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package maintenance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"codeberg.org/oliverandrich/feedtools/internal/repository"
)

// ErrInvalidArgument is returned for rejected admin input.
var ErrInvalidArgument = errors.New("invalid argument")

// BatchStore is the persistence the admin operations need.
type BatchStore interface {
	SetSubscriptionExpiry(ctx context.Context, email string, expiry time.Time) error
	ResetCounter(ctx context.Context, field string, value int) (int64, error)
	BackfillDefaults(ctx context.Context, gameLimit int) (int64, error)
}

// Defaults are the values written by BackfillDefaults.
type Defaults struct {
	GameLimit int
}

// DefaultValues returns the backfill defaults for new accounts.
func DefaultValues() Defaults {
	return Defaults{GameLimit: 5}
}

// Admin runs one-off bulk updates. Every write sets an absolute value so
// re-running is safe.
type Admin struct {
	Store BatchStore
	Now   func() time.Time
}

// NewAdmin creates an Admin.
func NewAdmin(store BatchStore) *Admin {
	return &Admin{
		Store: store,
		Now:   func() time.Time { return time.Now().UTC() },
	}
}

// GrantSubscription opens a subscription window of d from now for the
// account with email.
func (a *Admin) GrantSubscription(ctx context.Context, email string, d time.Duration) (time.Time, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return time.Time{}, fmt.Errorf("%w: email is required", ErrInvalidArgument)
	}
	if d <= 0 {
		return time.Time{}, fmt.Errorf("%w: duration must be positive", ErrInvalidArgument)
	}

	expiry := a.Now().Add(d)
	if err := a.Store.SetSubscriptionExpiry(ctx, email, expiry); err != nil {
		return time.Time{}, fmt.Errorf("failed to grant subscription: %w", err)
	}
	slog.InfoContext(ctx, "subscription_granted", "email", email, "expires_at", expiry)
	return expiry, nil
}

// ResetCounter sets field to value on every account.
func (a *Admin) ResetCounter(ctx context.Context, field string, value int) (int64, error) {
	if _, ok := repository.CounterColumns[field]; !ok {
		return 0, fmt.Errorf("%w: %w: %q", ErrInvalidArgument, repository.ErrUnknownField, field)
	}
	if value < 0 {
		return 0, fmt.Errorf("%w: value must not be negative", ErrInvalidArgument)
	}

	n, err := a.Store.ResetCounter(ctx, field, value)
	if err != nil {
		return 0, fmt.Errorf("failed to reset %s: %w", field, err)
	}
	slog.InfoContext(ctx, "counter_reset", "field", field, "value", value, "accounts", n)
	return n, nil
}

// BackfillDefaults fills fields missing on older accounts.
func (a *Admin) BackfillDefaults(ctx context.Context, d Defaults) (int64, error) {
	n, err := a.Store.BackfillDefaults(ctx, d.GameLimit)
	if err != nil {
		return 0, fmt.Errorf("failed to backfill defaults: %w", err)
	}
	slog.InfoContext(ctx, "defaults_backfilled", "game_limit", d.GameLimit, "accounts", n)
	return n, nil
}
