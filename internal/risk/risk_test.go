package risk

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"vidsentry/internal/monitor"
)

func TestTierBoundaries(t *testing.T) {
	t.Parallel()

	cases := []struct {
		score float64
		tier  monitor.RiskTier
	}{
		{100, monitor.TierCritical},
		{90, monitor.TierCritical},
		{89.9, monitor.TierHigh},
		{70, monitor.TierHigh},
		{69.9, monitor.TierMedium},
		{40, monitor.TierMedium},
		{39.9, monitor.TierLow},
		{20, monitor.TierLow},
		{19.9, monitor.TierVeryLow},
		{0, monitor.TierVeryLow},
	}
	for _, tc := range cases {
		require.Equal(t, tc.tier, TierFor(tc.score), "score %.1f", tc.score)
	}
}

func TestAdjustmentFactorTable(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		signals Signals
		want    float64
	}{
		{"no signals", Signals{}, 0},
		{"velocity over 10k", Signals{ViewsPerHour: 10001}, 30},
		{"velocity over 1k", Signals{ViewsPerHour: 5000}, 20},
		{"velocity over 100", Signals{ViewsPerHour: 101}, 10},
		{"velocity exactly 100", Signals{ViewsPerHour: 100}, 0},
		{"channel risk maximal", Signals{ChannelRisk: 100}, 20},
		{"channel risk 50", Signals{ChannelRisk: 50}, 10},
		{"channel risk 75", Signals{ChannelRisk: 75}, 15},
		{"channel risk below threshold", Signals{ChannelRisk: 49}, 0},
		{"engagement over 5 percent", Signals{EngagementRate: 0.06}, 10},
		{"engagement over 2 percent", Signals{EngagementRate: 0.03}, 5},
		{"engagement low", Signals{EngagementRate: 0.01}, 0},
		{"age over 180 days", Signals{AgeDays: 200}, -15},
		{"age over 90 days", Signals{AgeDays: 91}, -10},
		{"age over 30 days", Signals{AgeDays: 31}, -5},
		{"age recent", Signals{AgeDays: 2}, 0},
		{"prior infringing", Signals{Prior: OutcomeInfringing}, 20},
		{"prior clean", Signals{Prior: OutcomeClean}, -10},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.InDelta(t, tc.want, Adjustment(tc.signals), 1e-9)
		})
	}
}

func TestRescoreDeterministic(t *testing.T) {
	t.Parallel()

	// initial=30, velocity 5000/hr (+20), engagement 3% (+5), age 2d (+0).
	signals := Signals{ViewsPerHour: 5000, EngagementRate: 0.03, AgeDays: 2}

	first, firstTier := Rescore(30, signals)
	second, secondTier := Rescore(30, signals)

	require.Equal(t, 55.0, first)
	require.Equal(t, monitor.TierMedium, firstTier)
	require.Equal(t, first, second)
	require.Equal(t, firstTier, secondTier)
}

func TestRescoreClampsOverflow(t *testing.T) {
	t.Parallel()

	signals := Signals{
		ViewsPerHour:   20000,
		ChannelRisk:    100,
		EngagementRate: 0.1,
		Prior:          OutcomeInfringing,
	}
	score, tier := Rescore(90, signals)
	require.Equal(t, 100.0, score)
	require.Equal(t, monitor.TierCritical, tier)
}

func TestRescoreClampsUnderflow(t *testing.T) {
	t.Parallel()

	signals := Signals{AgeDays: 365, Prior: OutcomeClean}
	score, tier := Rescore(5, signals)
	require.Equal(t, 0.0, score)
	require.Equal(t, monitor.TierVeryLow, tier)
}

func TestInitialScoreClamped(t *testing.T) {
	t.Parallel()

	c := monitor.Candidate{
		MatchStrength:     1.0,
		MatchedCategories: []string{"a", "b", "c", "d", "e", "f"},
	}
	require.Equal(t, 100.0, InitialScore(c))

	require.Equal(t, 0.0, InitialScore(monitor.Candidate{}))
}

func TestChannelRiskScore(t *testing.T) {
	t.Parallel()

	require.Equal(t, 0.0, ChannelRiskScore(monitor.ChannelStats{}))
	require.Equal(t, 100.0, ChannelRiskScore(monitor.ChannelStats{AnalyzedCount: 4, InfringedCount: 4}))
	require.Equal(t, 50.0, ChannelRiskScore(monitor.ChannelStats{AnalyzedCount: 4, InfringedCount: 2}))
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

type fakeChannelStore struct {
	stats map[string]monitor.ChannelStats
}

func (f *fakeChannelStore) ApplyOutcome(context.Context, string, bool, time.Time) error { return nil }

func (f *fakeChannelStore) GetChannel(_ context.Context, id string) (monitor.ChannelStats, error) {
	stats, ok := f.stats[id]
	if !ok {
		return monitor.ChannelStats{}, monitor.ErrNotFound
	}
	return stats, nil
}

func (f *fakeChannelStore) ListChannels(context.Context) ([]monitor.ChannelStats, error) {
	out := make([]monitor.ChannelStats, 0, len(f.stats))
	for _, s := range f.stats {
		out = append(out, s)
	}
	return out, nil
}

func (f *fakeChannelStore) UpdateRiskScore(_ context.Context, id string, score float64, at time.Time) error {
	stats := f.stats[id]
	stats.ChannelID = id
	stats.RiskScore = score
	stats.UpdatedAt = at
	f.stats[id] = stats
	return nil
}

func TestSignalsForUsesChannelAggregate(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	channels := &fakeChannelStore{stats: map[string]monitor.ChannelStats{
		"ch-1": {ChannelID: "ch-1", RiskScore: 60},
	}}
	engine := NewEngine(nil, channels, &fakeClock{now: now}, zap.NewNop())

	video := monitor.Video{
		ID:           "vid-1",
		ChannelID:    "ch-1",
		ViewCount:    2400,
		LikeCount:    60,
		CommentCount: 12,
		PublishedAt:  now.Add(-24 * time.Hour),
	}
	signals := engine.SignalsFor(context.Background(), video, OutcomeNone)

	require.InDelta(t, 100.0, signals.ViewsPerHour, 1e-9)
	require.InDelta(t, 60.0, signals.ChannelRisk, 1e-9)
	require.InDelta(t, 0.03, signals.EngagementRate, 1e-9)
	require.InDelta(t, 1.0, signals.AgeDays, 1e-9)
}

func TestRefreshChannelsRecomputesScores(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	channels := &fakeChannelStore{stats: map[string]monitor.ChannelStats{
		"ch-1": {ChannelID: "ch-1", AnalyzedCount: 10, InfringedCount: 5},
	}}
	engine := NewEngine(nil, channels, &fakeClock{now: now}, zap.NewNop())

	require.NoError(t, engine.RefreshChannels(context.Background()))
	require.Equal(t, 50.0, channels.stats["ch-1"].RiskScore)
}
