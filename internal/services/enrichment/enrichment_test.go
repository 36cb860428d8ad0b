// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package enrichment

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codeberg.org/oliverandrich/feedtools/internal/steamapi"
)

type fakeSource struct {
	mu sync.Mutex

	vanity       map[string]string
	vanityErr    error
	player       *steamapi.PlayerSummary
	playerErr    error
	owned        *steamapi.OwnedGames
	ownedErr     error
	achievements map[int64][]steamapi.Achievement
	slowApps     map[int64]bool
	failApps     map[int64]bool

	vanityCalls, playerCalls, ownedCalls int
	achievementApps                      []int64
}

func (f *fakeSource) ResolveVanity(_ context.Context, name string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.vanityCalls++
	if f.vanityErr != nil {
		return "", false, f.vanityErr
	}
	id, ok := f.vanity[name]
	return id, ok, nil
}

func (f *fakeSource) PlayerSummary(context.Context, string) (*steamapi.PlayerSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.playerCalls++
	return f.player, f.playerErr
}

func (f *fakeSource) OwnedGames(context.Context, string) (*steamapi.OwnedGames, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ownedCalls++
	return f.owned, f.ownedErr
}

func (f *fakeSource) Achievements(ctx context.Context, _ string, appID int64) ([]steamapi.Achievement, error) {
	f.mu.Lock()
	f.achievementApps = append(f.achievementApps, appID)
	slow, fail := f.slowApps[appID], f.failApps[appID]
	list := f.achievements[appID]
	f.mu.Unlock()

	if slow {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if fail {
		return nil, errors.New("stats not available")
	}
	return list, nil
}

func publicPlayer() *steamapi.PlayerSummary {
	return &steamapi.PlayerSummary{SteamID: "76561197960287930", CommunityVisibilityState: steamapi.VisibilityPublic}
}

func unlocked(n int) []steamapi.Achievement {
	list := make([]steamapi.Achievement, 0, n+1)
	for range n {
		list = append(list, steamapi.Achievement{Achieved: true})
	}
	return append(list, steamapi.Achievement{Achieved: false})
}

func newTestAggregator(src *fakeSource) *Aggregator {
	agg := NewAggregator(src)
	agg.AchievementTimeout = 50 * time.Millisecond
	return agg
}

func TestResolveIdentity_SteamIDPassthrough(t *testing.T) {
	src := &fakeSource{}
	agg := newTestAggregator(src)

	for _, input := range []string{
		"76561197960287930",
		"https://steamcommunity.com/profiles/76561197960287930/",
	} {
		id, found, err := agg.ResolveIdentity(context.Background(), input)
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, "76561197960287930", id)
	}
	assert.Zero(t, src.vanityCalls)
}

func TestResolveIdentity_Vanity(t *testing.T) {
	src := &fakeSource{vanity: map[string]string{"foo": "76561198000000001"}}
	agg := newTestAggregator(src)

	id, found, err := agg.ResolveIdentity(context.Background(), "https://steamcommunity.com/id/foo/")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "76561198000000001", id)
	assert.Equal(t, 1, src.vanityCalls)
}

func TestResolveIdentity_NotFound(t *testing.T) {
	src := &fakeSource{vanity: map[string]string{}}
	agg := newTestAggregator(src)

	_, found, err := agg.ResolveIdentity(context.Background(), "https://steamcommunity.com/id/ghost")
	require.NoError(t, err)
	assert.False(t, found)

	_, found, err = agg.ResolveIdentity(context.Background(), "not a steam url")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, 1, src.vanityCalls)
}

func TestResolveIdentity_TransportError(t *testing.T) {
	src := &fakeSource{vanityErr: errors.New("connection refused")}
	agg := newTestAggregator(src)

	_, _, err := agg.ResolveIdentity(context.Background(), "https://steamcommunity.com/id/foo")
	assert.ErrorContains(t, err, "connection refused")
}

func TestFetchSummary_NoPlayer(t *testing.T) {
	src := &fakeSource{}
	agg := newTestAggregator(src)

	sum, err := agg.FetchSummary(context.Background(), "1")
	require.NoError(t, err)
	assert.Equal(t, Summary{}, *sum)
	assert.Zero(t, src.ownedCalls)
}

func TestFetchSummary_PrivateProfile(t *testing.T) {
	src := &fakeSource{player: &steamapi.PlayerSummary{CommunityVisibilityState: 1}}
	agg := newTestAggregator(src)

	sum, err := agg.FetchSummary(context.Background(), "1")
	require.NoError(t, err)
	assert.Equal(t, Summary{IsPrivate: true}, *sum)
	assert.Equal(t, 1, src.playerCalls)
	assert.Zero(t, src.ownedCalls)
	assert.Empty(t, src.achievementApps)
}

func TestFetchSummary_PlaytimeRoundedOnce(t *testing.T) {
	src := &fakeSource{
		player: publicPlayer(),
		owned: &steamapi.OwnedGames{GameCount: 2, Games: []steamapi.OwnedGame{
			{AppID: 1, PlaytimeForever: 120},
			{AppID: 2, PlaytimeForever: 45},
		}},
	}
	agg := newTestAggregator(src)

	sum, err := agg.FetchSummary(context.Background(), "1")
	require.NoError(t, err)
	assert.Equal(t, 2, sum.TotalGames)
	assert.Equal(t, 3, sum.TotalPlaytimeHours)
}

func TestFetchSummary_SamplesTopTen(t *testing.T) {
	owned := &steamapi.OwnedGames{GameCount: 15}
	achievements := map[int64][]steamapi.Achievement{}
	for i := int64(1); i <= 15; i++ {
		owned.Games = append(owned.Games, steamapi.OwnedGame{AppID: i, PlaytimeForever: int(i) * 60})
		achievements[i] = unlocked(1)
	}
	src := &fakeSource{player: publicPlayer(), owned: owned, achievements: achievements}
	agg := newTestAggregator(src)

	sum, err := agg.FetchSummary(context.Background(), "1")
	require.NoError(t, err)
	assert.Equal(t, 15, sum.TotalGames)
	assert.Equal(t, 120, sum.TotalPlaytimeHours)
	assert.Equal(t, 10, sum.TotalAchievements)
	assert.ElementsMatch(t, []int64{6, 7, 8, 9, 10, 11, 12, 13, 14, 15}, src.achievementApps)
}

func TestFetchSummary_FailedTitlesCountZero(t *testing.T) {
	src := &fakeSource{
		player: publicPlayer(),
		owned: &steamapi.OwnedGames{GameCount: 3, Games: []steamapi.OwnedGame{
			{AppID: 1, PlaytimeForever: 300},
			{AppID: 2, PlaytimeForever: 200},
			{AppID: 3, PlaytimeForever: 100},
		}},
		achievements: map[int64][]steamapi.Achievement{1: unlocked(4), 2: unlocked(7), 3: unlocked(2)},
		slowApps:     map[int64]bool{2: true},
		failApps:     map[int64]bool{3: true},
	}
	agg := newTestAggregator(src)

	start := time.Now()
	sum, err := agg.FetchSummary(context.Background(), "1")
	require.NoError(t, err)
	assert.Equal(t, 4, sum.TotalAchievements)
	assert.False(t, sum.IsPrivate)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestFetchSummary_LoadBearingFailures(t *testing.T) {
	src := &fakeSource{playerErr: errors.New("boom")}
	_, err := newTestAggregator(src).FetchSummary(context.Background(), "1")
	assert.ErrorContains(t, err, "player summary")

	src = &fakeSource{player: publicPlayer(), ownedErr: errors.New("boom")}
	_, err = newTestAggregator(src).FetchSummary(context.Background(), "1")
	assert.ErrorContains(t, err, "owned games")
}

func TestCountAchieved_TimeoutIsUpstreamTimeout(t *testing.T) {
	src := &fakeSource{slowApps: map[int64]bool{9: true}}
	agg := newTestAggregator(src)

	_, err := agg.countAchieved(context.Background(), "1", 9)
	assert.ErrorIs(t, err, ErrUpstreamTimeout)
}

func TestTopByPlaytime(t *testing.T) {
	games := []steamapi.OwnedGame{
		{AppID: 1, PlaytimeForever: 5},
		{AppID: 2, PlaytimeForever: 50},
		{AppID: 3, PlaytimeForever: 20},
	}

	top := topByPlaytime(games, 2)
	require.Len(t, top, 2)
	assert.Equal(t, int64(2), top[0].AppID)
	assert.Equal(t, int64(3), top[1].AppID)
	assert.Equal(t, int64(1), games[0].AppID)

	assert.Len(t, topByPlaytime(games, 10), 3)
}
