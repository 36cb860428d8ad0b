// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package repository

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"codeberg.org/oliverandrich/feedtools/internal/models"
)

// accountRow is the SQLite shape of models.Account. Nested values are
// stored as JSON text.
type accountRow struct { //nolint:govet // fieldalignment: mirrors column order
	ID                     string         `db:"id"`
	Email                  string         `db:"email"`
	Username               string         `db:"username"`
	PasswordHash           string         `db:"password_hash"`
	Avatar                 string         `db:"avatar"`
	Banner                 string         `db:"banner"`
	IsVerified             bool           `db:"is_verified"`
	VerificationCode       sql.NullString `db:"verification_code"`
	VerificationCodeExpire sql.NullTime   `db:"verification_code_expire"`
	VerificationAttempts   int            `db:"verification_attempts"`
	LastVerificationSent   sql.NullTime   `db:"last_verification_sent"`
	UnverifiedExpire       sql.NullTime   `db:"unverified_expire"`
	LoginHistory           string         `db:"login_history"`
	GameLimit              sql.NullInt64  `db:"game_limit"`
	SubscriptionExpiry     sql.NullTime   `db:"subscription_expiry"`
	ProfileURL             sql.NullString `db:"profile_url"`
	ProfileStats           sql.NullString `db:"profile_stats"`
	CreatedAt              time.Time      `db:"created_at"`
	UpdatedAt              time.Time      `db:"updated_at"`
}

func fromModel(acc *models.Account) (*accountRow, error) {
	history := acc.LoginHistory
	if history == nil {
		history = []models.LoginEvent{}
	}
	historyJSON, err := json.Marshal(history)
	if err != nil {
		return nil, fmt.Errorf("encode login history: %w", err)
	}

	row := &accountRow{
		ID:                     acc.ID,
		Email:                  acc.Email,
		Username:               acc.Username,
		PasswordHash:           acc.PasswordHash,
		Avatar:                 acc.Avatar,
		Banner:                 acc.Banner,
		IsVerified:             acc.IsVerified,
		VerificationCode:       nullString(acc.VerificationCode),
		VerificationCodeExpire: nullTime(acc.VerificationCodeExpire),
		VerificationAttempts:   acc.VerificationAttempts,
		LastVerificationSent:   nullTime(acc.LastVerificationSent),
		UnverifiedExpire:       nullTime(acc.UnverifiedExpire),
		LoginHistory:           string(historyJSON),
		GameLimit:              sql.NullInt64{Int64: int64(acc.GameLimit), Valid: true},
		SubscriptionExpiry:     nullTime(acc.SubscriptionExpiry),
		ProfileURL:             nullString(acc.ProfileURL),
		CreatedAt:              acc.CreatedAt.UTC(),
		UpdatedAt:              acc.UpdatedAt.UTC(),
	}

	if acc.ProfileStats != nil {
		stats := *acc.ProfileStats
		stats.LastSync = stats.LastSync.UTC()
		statsJSON, err := json.Marshal(stats)
		if err != nil {
			return nil, fmt.Errorf("encode profile stats: %w", err)
		}
		row.ProfileStats = sql.NullString{String: string(statsJSON), Valid: true}
	}

	return row, nil
}

func (r *accountRow) toModel() (*models.Account, error) {
	acc := &models.Account{
		ID:                     r.ID,
		Email:                  r.Email,
		Username:               r.Username,
		PasswordHash:           r.PasswordHash,
		Avatar:                 r.Avatar,
		Banner:                 r.Banner,
		IsVerified:             r.IsVerified,
		VerificationCode:       stringPtr(r.VerificationCode),
		VerificationCodeExpire: timePtr(r.VerificationCodeExpire),
		VerificationAttempts:   r.VerificationAttempts,
		LastVerificationSent:   timePtr(r.LastVerificationSent),
		UnverifiedExpire:       timePtr(r.UnverifiedExpire),
		GameLimit:              int(r.GameLimit.Int64),
		SubscriptionExpiry:     timePtr(r.SubscriptionExpiry),
		ProfileURL:             stringPtr(r.ProfileURL),
		CreatedAt:              r.CreatedAt.UTC(),
		UpdatedAt:              r.UpdatedAt.UTC(),
	}

	if r.LoginHistory != "" {
		if err := json.Unmarshal([]byte(r.LoginHistory), &acc.LoginHistory); err != nil {
			return nil, fmt.Errorf("decode login history of %s: %w", r.ID, err)
		}
	}

	if r.ProfileStats.Valid && r.ProfileStats.String != "" {
		var stats models.ProfileStats
		if err := json.Unmarshal([]byte(r.ProfileStats.String), &stats); err != nil {
			return nil, fmt.Errorf("decode profile stats of %s: %w", r.ID, err)
		}
		acc.ProfileStats = &stats
	}

	return acc, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func stringPtr(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	return &s.String
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}
