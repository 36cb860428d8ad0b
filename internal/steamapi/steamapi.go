// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package steamapi is a small client for the Steam Web API endpoints used
// by profile enrichment.
package steamapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"

	"codeberg.org/oliverandrich/feedtools/internal/metrics"
)

// DefaultBaseURL is the public Steam Web API.
const DefaultBaseURL = "https://api.steampowered.com"

// VisibilityPublic is the communityvisibilitystate of a public profile.
const VisibilityPublic = 3

const maxBodySize = 8 << 20

var errMalformed = errors.New("malformed steam response")

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Endpoint   string
	StatusCode int
	RetryAfter int // seconds, from the Retry-After header
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("steam %s returned HTTP %d", e.Endpoint, e.StatusCode)
}

func (e *StatusError) retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// PlayerSummary is the public part of a Steam profile.
type PlayerSummary struct {
	SteamID                  string
	PersonaName              string
	ProfileURL               string
	AvatarFull               string
	CommunityVisibilityState int
}

// IsPublic reports whether the profile's game details are visible.
func (p *PlayerSummary) IsPublic() bool {
	return p.CommunityVisibilityState == VisibilityPublic
}

// OwnedGame is one title of a library.
type OwnedGame struct {
	AppID           int64
	Name            string
	PlaytimeForever int // minutes
}

// OwnedGames is a library listing.
type OwnedGames struct {
	GameCount int
	Games     []OwnedGame
}

// Achievement is one achievement of a title for a player.
type Achievement struct {
	APIName  string
	Achieved bool
}

// Options configure a Client.
type Options struct {
	BaseURL           string
	APIKey            string
	Timeout           time.Duration
	RequestsPerSecond float64
	MaxTries          uint
	// RetryInterval is the first backoff interval between tries.
	RetryInterval time.Duration
	HTTPClient    *http.Client
}

// Client calls the Steam Web API.
type Client struct {
	baseURL       string
	apiKey        string
	http          *http.Client
	limiter       *rate.Limiter
	maxTries      uint
	retryInterval time.Duration
}

// New creates a Client. Zero options take sensible defaults.
func New(opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.MaxTries == 0 {
		opts.MaxTries = 3
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = 250 * time.Millisecond
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: opts.Timeout}
	}

	limit, burst := rate.Inf, 1
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
		burst = max(1, int(opts.RequestsPerSecond))
	}

	return &Client{
		baseURL:       strings.TrimSuffix(opts.BaseURL, "/"),
		apiKey:        opts.APIKey,
		http:          opts.HTTPClient,
		limiter:       rate.NewLimiter(limit, burst),
		maxTries:      opts.MaxTries,
		retryInterval: opts.RetryInterval,
	}
}

// ResolveVanity maps a custom profile name to a SteamID64. found is false
// when Steam does not know the name.
func (c *Client) ResolveVanity(ctx context.Context, vanity string) (steamID string, found bool, err error) {
	doc, err := c.getWithRetry(ctx, "resolve_vanity", "/ISteamUser/ResolveVanityURL/v0001/", url.Values{
		"vanityurl": {vanity},
	})
	if err != nil {
		return "", false, err
	}

	resp := doc.Get("response")
	if resp.Get("success").Int() != 1 {
		return "", false, nil
	}
	steamID = resp.Get("steamid").String()
	return steamID, steamID != "", nil
}

// PlayerSummary returns the profile of steamID, or nil if Steam returns
// no player.
func (c *Client) PlayerSummary(ctx context.Context, steamID string) (*PlayerSummary, error) {
	doc, err := c.getWithRetry(ctx, "player_summaries", "/ISteamUser/GetPlayerSummaries/v0002/", url.Values{
		"steamids": {steamID},
	})
	if err != nil {
		return nil, err
	}

	players := doc.Get("response.players")
	if !players.IsArray() {
		return nil, fmt.Errorf("%w: players missing", errMalformed)
	}
	first := players.Get("0")
	if !first.Exists() {
		return nil, nil
	}

	return &PlayerSummary{
		SteamID:                  first.Get("steamid").String(),
		PersonaName:              first.Get("personaname").String(),
		ProfileURL:               first.Get("profileurl").String(),
		AvatarFull:               first.Get("avatarfull").String(),
		CommunityVisibilityState: int(first.Get("communityvisibilitystate").Int()),
	}, nil
}

// OwnedGames returns the library of steamID including per-title playtime.
func (c *Client) OwnedGames(ctx context.Context, steamID string) (*OwnedGames, error) {
	doc, err := c.getWithRetry(ctx, "owned_games", "/IPlayerService/GetOwnedGames/v0001/", url.Values{
		"steamid":         {steamID},
		"include_appinfo": {"true"},
		"format":          {"json"},
	})
	if err != nil {
		return nil, err
	}

	resp := doc.Get("response")
	if !resp.Exists() {
		return nil, fmt.Errorf("%w: response missing", errMalformed)
	}

	owned := &OwnedGames{GameCount: int(resp.Get("game_count").Int())}
	resp.Get("games").ForEach(func(_, game gjson.Result) bool {
		owned.Games = append(owned.Games, OwnedGame{
			AppID:           game.Get("appid").Int(),
			Name:            game.Get("name").String(),
			PlaytimeForever: int(game.Get("playtime_forever").Int()),
		})
		return true
	})
	return owned, nil
}

// Achievements returns the achievement list of one title. It is not
// retried; the caller bounds it with its own deadline.
func (c *Client) Achievements(ctx context.Context, steamID string, appID int64) ([]Achievement, error) {
	doc, err := c.get(ctx, "user_stats", "/ISteamUserStats/GetUserStatsForGame/v0002/", url.Values{
		"steamid": {steamID},
		"appid":   {strconv.FormatInt(appID, 10)},
	})
	if err != nil {
		return nil, err
	}

	stats := doc.Get("playerstats")
	if msg := stats.Get("error"); msg.Exists() {
		return nil, fmt.Errorf("steam user stats for app %d: %s", appID, msg.String())
	}

	var out []Achievement
	stats.Get("achievements").ForEach(func(_, a gjson.Result) bool {
		out = append(out, Achievement{
			APIName:  a.Get("name").String(),
			Achieved: a.Get("achieved").Int() == 1,
		})
		return true
	})
	return out, nil
}

func (c *Client) getWithRetry(ctx context.Context, endpoint, path string, params url.Values) (gjson.Result, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.retryInterval

	return backoff.Retry(ctx, func() (gjson.Result, error) {
		doc, err := c.get(ctx, endpoint, path, params)
		if err == nil {
			return doc, nil
		}

		var status *StatusError
		switch {
		case errors.As(err, &status) && status.StatusCode == http.StatusTooManyRequests && status.RetryAfter > 0:
			return gjson.Result{}, backoff.RetryAfter(status.RetryAfter)
		case errors.As(err, &status) && !status.retryable():
			return gjson.Result{}, backoff.Permanent(err)
		case errors.Is(err, errMalformed):
			return gjson.Result{}, backoff.Permanent(err)
		}
		return gjson.Result{}, err
	}, backoff.WithBackOff(policy), backoff.WithMaxTries(c.maxTries))
}

func (c *Client) get(ctx context.Context, endpoint, path string, params url.Values) (gjson.Result, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return gjson.Result{}, err
	}

	query := url.Values{}
	for k, v := range params {
		query[k] = v
	}
	if c.apiKey != "" {
		query.Set("key", c.apiKey)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+query.Encode(), nil)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("build steam request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		metrics.UpstreamRequests.WithLabelValues(endpoint, "error").Inc()
		return gjson.Result{}, fmt.Errorf("steam %s request: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		metrics.UpstreamRequests.WithLabelValues(endpoint, fmt.Sprintf("http_%dxx", resp.StatusCode/100)).Inc()
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodySize))
		retryAfter, _ := strconv.Atoi(resp.Header.Get("Retry-After"))
		return gjson.Result{}, &StatusError{Endpoint: endpoint, StatusCode: resp.StatusCode, RetryAfter: retryAfter}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		metrics.UpstreamRequests.WithLabelValues(endpoint, "error").Inc()
		return gjson.Result{}, fmt.Errorf("read steam %s response: %w", endpoint, err)
	}
	if !gjson.ValidBytes(body) {
		metrics.UpstreamRequests.WithLabelValues(endpoint, "malformed").Inc()
		return gjson.Result{}, fmt.Errorf("%w from %s", errMalformed, endpoint)
	}

	metrics.UpstreamRequests.WithLabelValues(endpoint, "ok").Inc()
	return gjson.ParseBytes(body), nil
}
