package scanner

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	discovery "vidsentry/internal/discovery/memory"
	"vidsentry/internal/governor"
	"vidsentry/internal/lifecycle"
	"vidsentry/internal/monitor"
	queuemem "vidsentry/internal/queue/memory"
	"vidsentry/internal/sampling"
	"vidsentry/internal/scheduler"
	"vidsentry/internal/storage/memory"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

type staticIDGen struct{ n int }

func (g *staticIDGen) NewID() (string, error) {
	g.n++
	return "attempt", nil
}

type harness struct {
	stores     *memory.Stores
	discoverer *discovery.Discoverer
	queue      *queuemem.Queue
	quota      *governor.Governor
	budget     *governor.Governor
	clock      *fakeClock
	scanner    *Scanner
}

func newHarness(t *testing.T, searchLimit, budgetLimit float64) *harness {
	t.Helper()
	logger := zaptest.NewLogger(t)
	stores := memory.NewStores()
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	discoverer := discovery.NewDiscoverer()
	queue := queuemem.NewQueue(16)

	quota := governor.New(governor.Config{
		Name:       "search",
		DailyLimit: searchLimit,
		Costs:      map[governor.Operation]float64{governor.OpSearch: 100},
	}, stores, clock, logger)
	budget := governor.New(governor.Config{
		Name:       "analysis",
		DailyLimit: budgetLimit,
	}, stores, clock, logger)

	lc := lifecycle.New(stores, stores, stores, nil, queue, clock, &staticIDGen{}, lifecycle.Config{}, logger)
	schedule := scheduler.New(stores, clock, logger, 0)
	sampler := sampling.New(sampling.DefaultPricing())

	sc := New(schedule, discoverer, lc, stores, sampler, quota, budget, Config{
		KeywordsPerCycle:  5,
		SearchesPerSecond: 1000,
		SearchBurst:       10,
	}, logger)
	return &harness{
		stores:     stores,
		discoverer: discoverer,
		queue:      queue,
		quota:      quota,
		budget:     budget,
		clock:      clock,
		scanner:    sc,
	}
}

func seedKeyword(t *testing.T, h *harness, term string, priority monitor.Priority) {
	t.Helper()
	require.NoError(t, h.stores.UpsertKeyword(context.Background(), monitor.KeywordState{
		Term:     term,
		Priority: priority,
	}))
}

func TestRunCycleAdmitsAndDispatchesCandidates(t *testing.T) {
	t.Parallel()
	h := newHarness(t, 10000, 1000)
	ctx := context.Background()

	seedKeyword(t, h, "full movie", monitor.PriorityHigh)
	h.discoverer.Seed("full movie", monitor.Candidate{
		ID:                "vid-1",
		Title:             "movie complete hd",
		ChannelID:         "chan-1",
		DurationSeconds:   600,
		PublishedAt:       h.clock.Now().Add(-2 * time.Hour),
		MatchedCategories: []string{"feature-film"},
		MatchStrength:     0.9,
	})

	require.NoError(t, h.scanner.RunCycle(ctx))

	video, err := h.stores.GetVideo(ctx, "vid-1")
	require.NoError(t, err)
	require.Equal(t, monitor.VideoStatusProcessing, video.Status)

	msg, err := h.queue.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, "vid-1", msg.VideoID)
	require.Greater(t, msg.Sampling.Rate, 0.0)

	// One search unit was spent.
	used, _ := h.quota.DailyTotal(ctx)
	require.Equal(t, 100.0, used)

	// Keyword rotation state advanced.
	kw, err := h.stores.GetKeyword(ctx, "full movie")
	require.NoError(t, err)
	require.Equal(t, 1, kw.ScanCount)
	require.Equal(t, 1, kw.LastFound)
	require.NotNil(t, kw.LastScannedAt)
	require.NotNil(t, kw.Boundary)
}

func TestRunCycleStopsWhenQuotaExhausted(t *testing.T) {
	t.Parallel()
	h := newHarness(t, 150, 1000) // one search affordable, not two
	ctx := context.Background()

	seedKeyword(t, h, "movie one", monitor.PriorityHigh)
	seedKeyword(t, h, "movie two", monitor.PriorityHigh)

	require.NoError(t, h.scanner.RunCycle(ctx))

	scanned := 0
	for _, term := range []string{"movie one", "movie two"} {
		kw, err := h.stores.GetKeyword(ctx, term)
		require.NoError(t, err)
		scanned += kw.ScanCount
	}
	require.Equal(t, 1, scanned)
}

func TestRunCycleLeavesUnaffordableCandidatesDiscovered(t *testing.T) {
	t.Parallel()
	h := newHarness(t, 10000, 0.0001) // budget too small for any analysis
	ctx := context.Background()

	seedKeyword(t, h, "full movie", monitor.PriorityHigh)
	h.discoverer.Seed("full movie", monitor.Candidate{
		ID:              "vid-1",
		ChannelID:       "chan-1",
		DurationSeconds: 600,
		PublishedAt:     h.clock.Now().Add(-2 * time.Hour),
		MatchStrength:   0.9,
	})

	require.NoError(t, h.scanner.RunCycle(ctx))

	video, err := h.stores.GetVideo(ctx, "vid-1")
	require.NoError(t, err)
	require.Equal(t, monitor.VideoStatusDiscovered, video.Status)
}

func TestRunCycleSkipsDuplicateDiscoveries(t *testing.T) {
	t.Parallel()
	h := newHarness(t, 10000, 1000)
	ctx := context.Background()

	seedKeyword(t, h, "full movie", monitor.PriorityHigh)
	h.discoverer.Seed("full movie", monitor.Candidate{
		ID:              "vid-1",
		ChannelID:       "chan-1",
		DurationSeconds: 600,
		PublishedAt:     h.clock.Now().Add(-2 * time.Hour),
		MatchStrength:   0.9,
	})

	require.NoError(t, h.scanner.RunCycle(ctx))
	_, err := h.queue.Dequeue(ctx)
	require.NoError(t, err)

	// Force the keyword due again and rescan the same window contents.
	kw, err := h.stores.GetKeyword(ctx, "full movie")
	require.NoError(t, err)
	past := h.clock.Now().Add(-30 * 24 * time.Hour)
	kw.LastScannedAt = &past
	boundary := h.clock.Now().Add(-36 * time.Hour)
	kw.Boundary = &boundary
	require.NoError(t, h.stores.UpdateScanState(ctx, kw))

	require.NoError(t, h.scanner.RunCycle(ctx))

	// No second dispatch for the same video.
	dequeued := make(chan struct{})
	go func() {
		if _, err := h.queue.Dequeue(context.Background()); err == nil {
			close(dequeued)
		}
	}()
	select {
	case <-dequeued:
		t.Fatal("duplicate candidate was dispatched again")
	case <-time.After(100 * time.Millisecond):
	}
}
