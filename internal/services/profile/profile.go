// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package profile applies user edits and Steam statistics to accounts.
package profile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"codeberg.org/oliverandrich/feedtools/internal/metrics"
	"codeberg.org/oliverandrich/feedtools/internal/models"
	"codeberg.org/oliverandrich/feedtools/internal/repository"
	"codeberg.org/oliverandrich/feedtools/internal/services/enrichment"
)

var (
	// ErrNotFound is returned when the account does not exist.
	ErrNotFound = errors.New("account not found")
	// ErrEnrichmentFailed is matched by *EnrichmentError.
	ErrEnrichmentFailed = errors.New("profile enrichment failed")
)

// EnrichmentError reports that the statistics could not be refreshed.
// The rest of the update was still committed.
type EnrichmentError struct {
	ProfileURL string
	Err        error
}

func (e *EnrichmentError) Error() string {
	return fmt.Sprintf("profile enrichment failed for %q: %v", e.ProfileURL, e.Err)
}

func (e *EnrichmentError) Unwrap() error { return e.Err }

// Is matches ErrEnrichmentFailed.
func (e *EnrichmentError) Is(target error) bool {
	return target == ErrEnrichmentFailed
}

// AccountStore is the persistence the service needs.
type AccountStore interface {
	GetAccountByID(ctx context.Context, id string) (*models.Account, error)
	UpdateAccount(ctx context.Context, acc *models.Account) error
}

// Enricher resolves and summarises a Steam profile.
type Enricher interface {
	ResolveIdentity(ctx context.Context, input string) (string, bool, error)
	FetchSummary(ctx context.Context, steamID string) (*enrichment.Summary, error)
}

// UpdateParams holds optional profile edits. Nil fields are left alone;
// empty Username, Avatar and Banner are ignored.
type UpdateParams struct {
	Username   *string
	Avatar     *string
	Banner     *string
	ProfileURL *string
}

// Service updates account profiles.
type Service struct {
	Store    AccountStore
	Enricher Enricher
	Now      func() time.Time
}

// NewService creates a profile service.
func NewService(store AccountStore, enricher Enricher) *Service {
	return &Service{
		Store:    store,
		Enricher: enricher,
		Now:      func() time.Time { return time.Now().UTC() },
	}
}

// Get returns the account with id.
func (s *Service) Get(ctx context.Context, id string) (*models.Account, error) {
	acc, err := s.Store.GetAccountByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load account: %w", err)
	}
	return acc, nil
}

// UpdateDetails applies params to the account. When the statistics
// refresh fails the updated account is returned together with an
// *EnrichmentError.
func (s *Service) UpdateDetails(ctx context.Context, id string, params UpdateParams) (*models.Account, error) {
	acc, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	applyNonEmpty(&acc.Username, params.Username)
	applyNonEmpty(&acc.Avatar, params.Avatar)
	applyNonEmpty(&acc.Banner, params.Banner)

	var enrichErr error
	if params.ProfileURL != nil {
		enrichErr = s.applyProfileURL(ctx, acc, strings.TrimSpace(*params.ProfileURL))
	}

	if err := s.Store.UpdateAccount(ctx, acc); err != nil {
		return nil, fmt.Errorf("failed to store account: %w", err)
	}

	if enrichErr != nil {
		return acc, enrichErr
	}
	return acc, nil
}

func (s *Service) applyProfileURL(ctx context.Context, acc *models.Account, profileURL string) error {
	if profileURL == "" {
		acc.ProfileURL = nil
		acc.ProfileStats = &models.ProfileStats{LastSync: s.Now()}
		return nil
	}
	acc.ProfileURL = &profileURL

	steamID, found, err := s.Enricher.ResolveIdentity(ctx, profileURL)
	if err != nil {
		return s.enrichmentFailed(ctx, acc, profileURL, err)
	}
	if !found {
		metrics.Enrichments.WithLabelValues("unresolved").Inc()
		slog.InfoContext(ctx, "profile_identity_unresolved", "account_id", acc.ID, "profile_url", profileURL)
		return nil
	}

	summary, err := s.Enricher.FetchSummary(ctx, steamID)
	if err != nil {
		return s.enrichmentFailed(ctx, acc, profileURL, err)
	}

	acc.ProfileStats = &models.ProfileStats{
		TotalGames:         summary.TotalGames,
		TotalPlaytimeHours: summary.TotalPlaytimeHours,
		TotalAchievements:  summary.TotalAchievements,
		IsPrivate:          summary.IsPrivate,
		LastSync:           s.Now(),
	}
	metrics.Enrichments.WithLabelValues("ok").Inc()
	slog.InfoContext(ctx, "profile_enriched",
		"account_id", acc.ID,
		"steam_id", steamID,
		"total_games", summary.TotalGames,
		"private", summary.IsPrivate,
	)
	return nil
}

func (s *Service) enrichmentFailed(ctx context.Context, acc *models.Account, profileURL string, err error) error {
	metrics.Enrichments.WithLabelValues("failed").Inc()
	slog.WarnContext(ctx, "profile_enrichment_failed", "account_id", acc.ID, "profile_url", profileURL, "error", err)
	return &EnrichmentError{ProfileURL: profileURL, Err: err}
}

func applyNonEmpty(dst *string, value *string) {
	if value != nil && *value != "" {
		*dst = *value
	}
}
