// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package enrichment turns a Steam profile into a compact library summary.
package enrichment

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"

	"codeberg.org/oliverandrich/feedtools/internal/metrics"
	"codeberg.org/oliverandrich/feedtools/internal/steamapi"
)

// ErrUpstreamTimeout marks a per-title achievement call that ran out of
// time. It never leaves FetchSummary.
var ErrUpstreamTimeout = errors.New("upstream timeout")

var (
	steamIDPattern = regexp.MustCompile(`7656119\d{10}`)
	vanityPattern  = regexp.MustCompile(`/id/([^/]+)`)
)

// DataSource is the subset of the Steam Web API the aggregator needs.
type DataSource interface {
	ResolveVanity(ctx context.Context, vanity string) (string, bool, error)
	PlayerSummary(ctx context.Context, steamID string) (*steamapi.PlayerSummary, error)
	OwnedGames(ctx context.Context, steamID string) (*steamapi.OwnedGames, error)
	Achievements(ctx context.Context, steamID string, appID int64) ([]steamapi.Achievement, error)
}

// Summary is the result of one aggregation.
type Summary struct {
	TotalGames         int
	TotalPlaytimeHours int
	TotalAchievements  int
	IsPrivate          bool
}

// Aggregator fetches and merges library statistics.
type Aggregator struct {
	Source             DataSource
	TopGames           int
	AchievementTimeout time.Duration
	Concurrency        int
}

// NewAggregator returns an Aggregator with the default limits.
func NewAggregator(source DataSource) *Aggregator {
	return &Aggregator{
		Source:             source,
		TopGames:           10,
		AchievementTimeout: 2 * time.Second,
		Concurrency:        4,
	}
}

// ResolveIdentity extracts a SteamID64 from a profile URL or bare ID.
// Vanity URLs are resolved upstream; an unknown name is reported as not
// found rather than as an error.
func (a *Aggregator) ResolveIdentity(ctx context.Context, input string) (string, bool, error) {
	if id := steamIDPattern.FindString(input); id != "" {
		return id, true, nil
	}

	m := vanityPattern.FindStringSubmatch(input)
	if m == nil {
		return "", false, nil
	}

	id, found, err := a.Source.ResolveVanity(ctx, m[1])
	if err != nil {
		return "", false, fmt.Errorf("failed to resolve vanity url: %w", err)
	}
	return id, found, nil
}

// FetchSummary aggregates the public library of steamID. Profile and
// library lookups must succeed; achievement lookups are best effort.
func (a *Aggregator) FetchSummary(ctx context.Context, steamID string) (*Summary, error) {
	player, err := a.Source.PlayerSummary(ctx, steamID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch player summary: %w", err)
	}
	if player == nil {
		return &Summary{}, nil
	}
	if !player.IsPublic() {
		return &Summary{IsPrivate: true}, nil
	}

	owned, err := a.Source.OwnedGames(ctx, steamID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch owned games: %w", err)
	}

	minutes := 0
	for _, g := range owned.Games {
		minutes += g.PlaytimeForever
	}

	return &Summary{
		TotalGames:         owned.GameCount,
		TotalPlaytimeHours: int(math.Round(float64(minutes) / 60)),
		TotalAchievements:  a.sampleAchievements(ctx, steamID, topByPlaytime(owned.Games, a.topGames())),
	}, nil
}

// sampleAchievements counts unlocked achievements over games. Failed
// titles count as zero.
func (a *Aggregator) sampleAchievements(ctx context.Context, steamID string, games []steamapi.OwnedGame) int {
	counts := make([]int, len(games))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, a.Concurrency))
	for i, game := range games {
		g.Go(func() error {
			n, err := a.countAchieved(gctx, steamID, game.AppID)
			if err != nil {
				reason := "error"
				if errors.Is(err, ErrUpstreamTimeout) {
					reason = "timeout"
				}
				metrics.AchievementFailures.WithLabelValues(reason).Inc()
				slog.DebugContext(ctx, "achievement_fetch_skipped", "app_id", game.AppID, "reason", reason, "error", err)
				return nil
			}
			counts[i] = n
			return nil
		})
	}
	_ = g.Wait()

	total := 0
	for _, n := range counts {
		total += n
	}
	return total
}

func (a *Aggregator) countAchieved(ctx context.Context, steamID string, appID int64) (int, error) {
	timeout := a.AchievementTimeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	list, err := a.Source.Achievements(callCtx, steamID, appID)
	if err != nil {
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return 0, fmt.Errorf("%w: app %d: %w", ErrUpstreamTimeout, appID, err)
		}
		return 0, err
	}

	n := 0
	for _, ach := range list {
		if ach.Achieved {
			n++
		}
	}
	return n, nil
}

func (a *Aggregator) topGames() int {
	if a.TopGames <= 0 {
		return 10
	}
	return a.TopGames
}

// topByPlaytime returns up to n games ordered by playtime, most played
// first.
func topByPlaytime(games []steamapi.OwnedGame, n int) []steamapi.OwnedGame {
	sorted := slices.Clone(games)
	slices.SortStableFunc(sorted, func(x, y steamapi.OwnedGame) int {
		return cmp.Compare(y.PlaytimeForever, x.PlaytimeForever)
	})
	if len(sorted) > n {
		sorted = sorted[:n]
	}
	return sorted
}
