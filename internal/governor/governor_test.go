package governor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"vidsentry/internal/monitor"
)

type observedLogs struct {
	logs *observer.ObservedLogs
}

func newObservedLogger() (*zap.Logger, *observedLogs) {
	core, logs := observer.New(zap.WarnLevel)
	return zap.New(core), &observedLogs{logs: logs}
}

func (o *observedLogs) warnCount(msg string) int {
	count := 0
	for _, entry := range o.logs.All() {
		if entry.Message == msg {
			count++
		}
	}
	return count
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeLedgerStore struct {
	mu      sync.Mutex
	ledgers map[string]monitor.Ledger
	fail    bool
}

func newFakeLedgerStore() *fakeLedgerStore {
	return &fakeLedgerStore{ledgers: make(map[string]monitor.Ledger)}
}

func (f *fakeLedgerStore) key(name, day string) string { return name + "/" + day }

func (f *fakeLedgerStore) GetLedger(_ context.Context, name, day string) (monitor.Ledger, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return monitor.Ledger{}, errors.New("store unavailable")
	}
	ledger, ok := f.ledgers[f.key(name, day)]
	if !ok {
		return monitor.Ledger{}, monitor.ErrNotFound
	}
	return ledger, nil
}

func (f *fakeLedgerStore) AddUsage(_ context.Context, name, day string, amount float64, items int) (monitor.Ledger, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return monitor.Ledger{}, errors.New("store unavailable")
	}
	ledger := f.ledgers[f.key(name, day)]
	ledger.Name = name
	ledger.Day = day
	ledger.Used += amount
	ledger.Items += items
	f.ledgers[f.key(name, day)] = ledger
	return ledger, nil
}

func newTestGovernor(limit float64, store monitor.LedgerStore, clock monitor.Clock) *Governor {
	return New(Config{
		Name:       "discovery-quota",
		DailyLimit: limit,
		Costs:      map[Operation]float64{OpSearch: 100},
	}, store, clock, zap.NewNop())
}

func TestCanAffordBoundaryInclusive(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clock := &fakeClock{now: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
	g := newTestGovernor(1000, newFakeLedgerStore(), clock)

	g.RecordUsage(ctx, OpSearch, 9)

	// Exactly reaching the limit is allowed.
	require.True(t, g.CanAfford(ctx, OpSearch, 1))
	// One unit past the limit is not.
	require.False(t, g.CanAfford(ctx, OpSearch, 2))
	require.False(t, g.CanAffordAmount(ctx, 100.01))
}

func TestRecordUsageAccumulatesMonotonically(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clock := &fakeClock{now: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
	g := newTestGovernor(1000, newFakeLedgerStore(), clock)

	g.RecordUsage(ctx, OpSearch, 1)
	g.RecordUsage(ctx, OpSearch, 2)

	used, items := g.DailyTotal(ctx)
	require.Equal(t, 300.0, used)
	require.Equal(t, 3, items)
	require.Equal(t, 700.0, g.Remaining(ctx))
	require.InDelta(t, 0.3, g.Utilization(ctx), 1e-9)
}

func TestDayRolloverResetsUsage(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clock := &fakeClock{now: time.Date(2026, 3, 1, 23, 0, 0, 0, time.UTC)}
	store := newFakeLedgerStore()
	g := newTestGovernor(1000, store, clock)

	g.RecordUsage(ctx, OpSearch, 8)
	used, _ := g.DailyTotal(ctx)
	require.Equal(t, 800.0, used)

	clock.Advance(2 * time.Hour) // crosses midnight UTC

	used, items := g.DailyTotal(ctx)
	require.Zero(t, used)
	require.Zero(t, items)
	require.Equal(t, 1000.0, g.Remaining(ctx))
	require.True(t, g.CanAfford(ctx, OpSearch, 10))
}

func TestDayRolloverReloadsDurableLedger(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clock := &fakeClock{now: time.Date(2026, 3, 1, 23, 0, 0, 0, time.UTC)}
	store := newFakeLedgerStore()

	// Another instance already consumed part of tomorrow's budget.
	_, err := store.AddUsage(ctx, "discovery-quota", "2026-03-02", 400, 4)
	require.NoError(t, err)

	g := newTestGovernor(1000, store, clock)
	g.RecordUsage(ctx, OpSearch, 1)

	clock.Advance(2 * time.Hour)

	used, items := g.DailyTotal(ctx)
	require.Equal(t, 400.0, used)
	require.Equal(t, 4, items)
}

func TestStoreFailureDegradesToCachedTotal(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clock := &fakeClock{now: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
	store := newFakeLedgerStore()
	g := newTestGovernor(1000, store, clock)

	g.RecordUsage(ctx, OpSearch, 3)
	store.mu.Lock()
	store.fail = true
	store.mu.Unlock()

	// Writes keep advancing the in-memory total instead of raising.
	g.RecordUsage(ctx, OpSearch, 2)
	used, _ := g.DailyTotal(ctx)
	require.Equal(t, 500.0, used)
	require.False(t, g.CanAfford(ctx, OpSearch, 6))
	require.True(t, g.CanAfford(ctx, OpSearch, 5))
}

func TestRecordUsageFoldsInConcurrentWriters(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clock := &fakeClock{now: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
	store := newFakeLedgerStore()
	g := newTestGovernor(10000, store, clock)

	g.RecordUsage(ctx, OpSearch, 1)

	// A second instance writes to the shared ledger behind our back.
	_, err := store.AddUsage(ctx, "discovery-quota", "2026-03-01", 250, 1)
	require.NoError(t, err)

	g.RecordUsage(ctx, OpSearch, 1)

	used, _ := g.DailyTotal(ctx)
	require.Equal(t, 450.0, used)
}

func TestWarningLatchedOncePerDay(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clock := &fakeClock{now: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
	logger, observed := newObservedLogger()
	g := New(Config{
		Name:       "analysis-budget",
		DailyLimit: 100,
		Costs:      map[Operation]float64{OpAnalysis: 10},
	}, newFakeLedgerStore(), clock, logger)

	g.RecordUsage(ctx, OpAnalysis, 8) // crosses 80%
	g.RecordUsage(ctx, OpAnalysis, 1)
	g.RecordUsage(ctx, OpAnalysis, 1)
	require.Equal(t, 1, observed.warnCount("governor utilization past warning threshold"))

	clock.Advance(24 * time.Hour)
	g.RecordUsage(ctx, OpAnalysis, 9)
	require.Equal(t, 2, observed.warnCount("governor utilization past warning threshold"))
}
