package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"vidsentry/internal/config"
)

func memoryConfig() config.Config {
	return config.Config{
		Server: config.ServerConfig{Port: 0},
		Scan: config.ScanConfig{
			Cron:             "@every 15m",
			KeywordsPerCycle: 5,
			WindowDays:       3,
		},
		Quota:    config.QuotaConfig{DailyLimit: 10000, SearchCost: 100},
		Budget:   config.BudgetConfig{DailyLimit: 50},
		Analysis: config.AnalysisConfig{APIKey: "test-key"},
		Workers:  config.WorkersConfig{Concurrency: 1, QueueDepth: 4},
		Database: config.DatabaseConfig{Provider: "memory"},
		Queue:    config.QueueConfig{Provider: "memory"},
		Evidence: config.EvidenceConfig{Provider: "memory"},
		Keywords: []config.KeywordSeed{
			{Term: "full movie leak", Priority: "high"},
			{Term: "   ", Priority: "low"},
		},
		Lifecycle: config.LifecycleConfig{
			StuckThresholdMinutes: 15,
			ReconcileCron:         "@every 5m",
			ChannelRefreshCron:    "@every 1h",
		},
	}
}

func TestNewWiresMemoryProviders(t *testing.T) {
	t.Parallel()

	a, err := New(context.Background(), memoryConfig(), zaptest.NewLogger(t))
	require.NoError(t, err)

	kw, err := a.keywords.GetKeyword(context.Background(), "full movie leak")
	require.NoError(t, err)
	require.Equal(t, "HIGH", string(kw.Priority))

	// Blank seed terms are skipped.
	keywords, err := a.keywords.ListKeywords(context.Background())
	require.NoError(t, err)
	require.Len(t, keywords, 1)
}

func TestSeedPreservesExistingKeywordState(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	cfg := memoryConfig()
	a, err := New(ctx, cfg, zaptest.NewLogger(t))
	require.NoError(t, err)

	kw, err := a.keywords.GetKeyword(ctx, "full movie leak")
	require.NoError(t, err)
	kw.ScanCount = 3
	require.NoError(t, a.keywords.UpdateScanState(ctx, kw))

	// Re-seeding must not reset rotation state.
	require.NoError(t, a.seedKeywords(ctx))
	kw, err = a.keywords.GetKeyword(ctx, "full movie leak")
	require.NoError(t, err)
	require.Equal(t, 3, kw.ScanCount)
}

func TestNewRejectsUnknownProviders(t *testing.T) {
	t.Parallel()

	cfg := memoryConfig()
	cfg.Database.Provider = "sqlite"
	_, err := New(context.Background(), cfg, zaptest.NewLogger(t))
	require.ErrorContains(t, err, "unknown database provider")

	cfg = memoryConfig()
	cfg.Queue.Provider = "kafka"
	_, err = New(context.Background(), cfg, zaptest.NewLogger(t))
	require.ErrorContains(t, err, "unknown queue provider")

	cfg = memoryConfig()
	cfg.Evidence.Provider = "s3"
	_, err = New(context.Background(), cfg, zaptest.NewLogger(t))
	require.ErrorContains(t, err, "unknown evidence provider")
}

func TestStartAndShutdown(t *testing.T) {
	t.Parallel()

	a, err := New(context.Background(), memoryConfig(), zaptest.NewLogger(t))
	require.NoError(t, err)

	runCtx, cancel := context.WithCancel(context.Background())
	errCh, err := a.Start(runCtx)
	require.NoError(t, err)

	select {
	case err := <-errCh:
		t.Fatalf("server exited early: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer shutdownCancel()
	require.NoError(t, a.Shutdown(shutdownCtx))
}
