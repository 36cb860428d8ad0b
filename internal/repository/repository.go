// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package repository holds the account store contract and its SQLite
// implementation.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vinovest/sqlx"

	"codeberg.org/oliverandrich/feedtools/internal/models"
)

var (
	// ErrNotFound is returned when no account matches.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate is returned when an account with the same email exists.
	ErrDuplicate = errors.New("duplicate record")
	// ErrUnknownField is returned for counters outside the whitelist.
	ErrUnknownField = errors.New("unknown counter field")
)

// Store is the account persistence contract shared by the SQLite and
// MongoDB implementations.
type Store interface {
	GetAccountByEmail(ctx context.Context, email string) (*models.Account, error)
	GetAccountByID(ctx context.Context, id string) (*models.Account, error)
	CreateAccount(ctx context.Context, acc *models.Account) error
	UpdateAccount(ctx context.Context, acc *models.Account) error
	DeleteAccount(ctx context.Context, id string) error

	// DeleteExpiredUnverified removes unverified accounts whose
	// unverifiedExpire lies strictly before now.
	DeleteExpiredUnverified(ctx context.Context, now time.Time) (int64, error)
	SetSubscriptionExpiry(ctx context.Context, email string, expiry time.Time) error
	ResetCounter(ctx context.Context, field string, value int) (int64, error)
	BackfillDefaults(ctx context.Context, gameLimit int) (int64, error)

	// NativeTTL reports whether the store reaps expired accounts itself.
	NativeTTL() bool
}

// CounterColumns maps the resettable account fields to SQLite columns.
var CounterColumns = map[string]string{
	"gameLimit": "game_limit",
}

// Repository is the SQLite account store.
type Repository struct {
	db *sqlx.DB
}

var _ Store = (*Repository)(nil)

// New creates a new Repository instance.
func New(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

// DB returns the underlying connection.
func (r *Repository) DB() *sqlx.DB {
	return r.db
}

// NativeTTL is false: SQLite needs the sweeper.
func (r *Repository) NativeTTL() bool {
	return false
}

func wrapError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sql.ErrNoRows):
		return ErrNotFound
	case strings.Contains(err.Error(), "UNIQUE constraint failed"):
		return fmt.Errorf("%w: %w", ErrDuplicate, err)
	}
	return err
}

const selectAccount = `SELECT id, email, username, password_hash, avatar, banner, is_verified,
	verification_code, verification_code_expire, verification_attempts,
	last_verification_sent, unverified_expire, login_history, game_limit, subscription_expiry, profile_url, profile_stats,
	created_at, updated_at FROM accounts`

// GetAccountByEmail retrieves an account by its normalised email address.
func (r *Repository) GetAccountByEmail(ctx context.Context, email string) (*models.Account, error) {
	var row accountRow
	if err := r.db.GetContext(ctx, &row, selectAccount+` WHERE email = ?`, email); err != nil {
		return nil, wrapError(err)
	}
	return row.toModel()
}

// GetAccountByID retrieves an account by id.
func (r *Repository) GetAccountByID(ctx context.Context, id string) (*models.Account, error) {
	var row accountRow
	if err := r.db.GetContext(ctx, &row, selectAccount+` WHERE id = ?`, id); err != nil {
		return nil, wrapError(err)
	}
	return row.toModel()
}

// CreateAccount inserts acc. CreatedAt and UpdatedAt default to now.
func (r *Repository) CreateAccount(ctx context.Context, acc *models.Account) error {
	now := time.Now().UTC()
	if acc.CreatedAt.IsZero() {
		acc.CreatedAt = now
	}
	acc.UpdatedAt = now

	row, err := fromModel(acc)
	if err != nil {
		return err
	}

	_, err = r.db.NamedExecContext(ctx, `INSERT INTO accounts (
		id, email, username, password_hash, avatar, banner, is_verified,
		verification_code, verification_code_expire, verification_attempts,
		last_verification_sent, unverified_expire, login_history, game_limit, subscription_expiry, profile_url, profile_stats,
		created_at, updated_at
	) VALUES (
		:id, :email, :username, :password_hash, :avatar, :banner, :is_verified,
		:verification_code, :verification_code_expire, :verification_attempts,
		:last_verification_sent, :unverified_expire, :login_history, :game_limit, :subscription_expiry, :profile_url, :profile_stats,
		:created_at, :updated_at
	)`, row)
	return wrapError(err)
}

// UpdateAccount writes every mutable field of acc.
func (r *Repository) UpdateAccount(ctx context.Context, acc *models.Account) error {
	acc.UpdatedAt = time.Now().UTC()

	row, err := fromModel(acc)
	if err != nil {
		return err
	}

	res, err := r.db.NamedExecContext(ctx, `UPDATE accounts SET
		email = :email, username = :username, password_hash = :password_hash,
		avatar = :avatar, banner = :banner, is_verified = :is_verified,
		verification_code = :verification_code,
		verification_code_expire = :verification_code_expire,
		verification_attempts = :verification_attempts,
		last_verification_sent = :last_verification_sent,
		unverified_expire = :unverified_expire,
		login_history = :login_history, game_limit = :game_limit,
		subscription_expiry = :subscription_expiry,
		profile_url = :profile_url, profile_stats = :profile_stats,
		updated_at = :updated_at
	WHERE id = :id`, row)
	if err != nil {
		return wrapError(err)
	}
	return expectRows(res)
}

// DeleteAccount removes an account by id.
func (r *Repository) DeleteAccount(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM accounts WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return expectRows(res)
}

// DeleteExpiredUnverified deletes abandoned signups.
func (r *Repository) DeleteExpiredUnverified(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM accounts WHERE is_verified = 0 AND unverified_expire IS NOT NULL AND unverified_expire < ?`,
		now.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// SetSubscriptionExpiry sets the subscription end of one account.
func (r *Repository) SetSubscriptionExpiry(ctx context.Context, email string, expiry time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE accounts SET subscription_expiry = ?, updated_at = ? WHERE email = ?`,
		expiry.UTC(), time.Now().UTC(), email)
	if err != nil {
		return err
	}
	return expectRows(res)
}

// ResetCounter sets a whitelisted counter to value on every account.
func (r *Repository) ResetCounter(ctx context.Context, field string, value int) (int64, error) {
	column, ok := CounterColumns[field]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownField, field)
	}
	res, err := r.db.ExecContext(ctx,
		`UPDATE accounts SET `+column+` = ?, updated_at = ?`, value, time.Now().UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// BackfillDefaults sets game_limit where it is missing. The nullable
// subscription column already reads as "no subscription".
func (r *Repository) BackfillDefaults(ctx context.Context, gameLimit int) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE accounts SET game_limit = ?, updated_at = ? WHERE game_limit IS NULL`,
		gameLimit, time.Now().UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func expectRows(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
