// Package app initializes and holds long-lived application services, acting
// as a dependency injection container.
package app

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	gcstorage "cloud.google.com/go/storage"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"vidsentry/internal/analysis"
	"vidsentry/internal/api"
	"vidsentry/internal/clock/system"
	"vidsentry/internal/config"
	"vidsentry/internal/discovery/memory"
	"vidsentry/internal/dispatcher"
	"vidsentry/internal/drain"
	"vidsentry/internal/governor"
	"vidsentry/internal/id/uuid"
	"vidsentry/internal/lifecycle"
	"vidsentry/internal/monitor"
	queuemem "vidsentry/internal/queue/memory"
	queuepubsub "vidsentry/internal/queue/pubsub"
	"vidsentry/internal/risk"
	"vidsentry/internal/sampling"
	"vidsentry/internal/scanner"
	"vidsentry/internal/scheduler"
	"vidsentry/internal/storage/gcs"
	storagemem "vidsentry/internal/storage/memory"
	"vidsentry/internal/storage/postgres"
	"vidsentry/internal/worker"
)

// App holds the shared, long-lived services for the monitoring system. It is
// initialized once at startup and owns the lifetime of every component.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	pool      *pgxpool.Pool
	gcsClient *gcstorage.Client
	queue     monitor.Queue

	videos   monitor.VideoStore
	attempts monitor.AttemptStore
	keywords monitor.KeywordStore
	channels monitor.ChannelStore
	ledgers  monitor.LedgerStore

	quota      *governor.Governor
	budget     *governor.Governor
	drainer    *drain.Controller
	lifecycle  *lifecycle.Manager
	engine     *risk.Engine
	scanner    *scanner.Scanner
	dispatcher *dispatcher.Dispatcher

	cron       *cron.Cron
	httpServer *http.Server
	workCancel context.CancelFunc
}

// New creates and initializes an App from the loaded configuration. It reads
// the configured providers and instantiates the matching backends, failing
// fast if any critical service cannot be initialized.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	a := &App{cfg: cfg, logger: logger}

	if err := a.initStores(ctx); err != nil {
		return nil, err
	}
	if err := a.initQueue(ctx); err != nil {
		return nil, err
	}
	evidence, err := a.initEvidence(ctx)
	if err != nil {
		return nil, err
	}

	clk := system.New()
	idGen := uuid.New()

	a.quota = governor.New(governor.Config{
		Name:       "search",
		DailyLimit: cfg.Quota.DailyLimit,
		Costs:      map[governor.Operation]float64{governor.OpSearch: cfg.Quota.SearchCost},
	}, a.ledgers, clk, logger)
	a.budget = governor.New(governor.Config{
		Name:       "analysis",
		DailyLimit: cfg.Budget.DailyLimit,
	}, a.ledgers, clk, logger)

	a.drainer = drain.New(logger)
	a.lifecycle = lifecycle.New(
		a.videos, a.attempts, a.channels, evidence, a.queue,
		clk, idGen,
		lifecycle.Config{StuckThreshold: cfg.StuckThreshold()},
		logger,
	)
	a.engine = risk.NewEngine(a.videos, a.channels, clk, logger)

	pricing := sampling.DefaultPricing()
	if cfg.Analysis.InputPerMillion > 0 {
		pricing.InputPerMillion = cfg.Analysis.InputPerMillion
	}
	if cfg.Analysis.OutputPerMillion > 0 {
		pricing.OutputPerMillion = cfg.Analysis.OutputPerMillion
	}
	sampler := sampling.New(pricing)

	schedule := scheduler.New(a.keywords, clk, logger, cfg.Scan.WindowDays)
	a.scanner = scanner.New(
		schedule, memory.NewDiscoverer(), a.lifecycle, a.videos, sampler,
		a.quota, a.budget,
		scanner.Config{
			KeywordsPerCycle:  cfg.Scan.KeywordsPerCycle,
			SearchesPerSecond: cfg.Scan.SearchesPerSecond,
			SearchBurst:       cfg.Scan.SearchBurst,
		},
		logger,
	)

	analyzer, err := analysis.NewAnalyzer(analysis.Config{
		APIKey:           cfg.Analysis.APIKey,
		Model:            cfg.Analysis.Model,
		MaxTokens:        cfg.Analysis.MaxTokens,
		InputPerMillion:  cfg.Analysis.InputPerMillion,
		OutputPerMillion: cfg.Analysis.OutputPerMillion,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize analyzer: %w", err)
	}

	workers := make([]*worker.Worker, 0, cfg.Workers.Concurrency)
	for i := 0; i < cfg.Workers.Concurrency; i++ {
		workers = append(workers, worker.New(
			a.queue, a.videos, analyzer, a.lifecycle,
			a.budget, a.engine, a.drainer, clk, logger,
		))
	}
	a.dispatcher = dispatcher.New(workers)

	server := api.NewServer(
		a.videos, a.attempts, a.keywords, a.channels,
		a.lifecycle, a.quota, a.budget, a.drainer, logger,
	)
	a.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if err := a.seedKeywords(ctx); err != nil {
		return nil, err
	}

	logger.Info("application services initialized",
		zap.String("database", cfg.Database.Provider),
		zap.String("queue", cfg.Queue.Provider),
		zap.String("evidence", cfg.Evidence.Provider),
		zap.Int("workers", cfg.Workers.Concurrency),
	)
	return a, nil
}

func (a *App) initStores(ctx context.Context) error {
	switch a.cfg.Database.Provider {
	case "postgres":
		a.logger.Info("running database migrations")
		if err := postgres.RunMigrations(a.cfg.Database.DSN); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
		pool, err := postgres.Connect(ctx, postgres.Config{
			DSN:             a.cfg.Database.DSN,
			MaxConns:        a.cfg.Database.MaxConns,
			MinConns:        a.cfg.Database.MinConns,
			MaxConnLifetime: a.cfg.Database.ConnLifetime(),
		})
		if err != nil {
			return fmt.Errorf("failed to connect to postgres: %w", err)
		}
		a.pool = pool
		if a.videos, err = postgres.NewVideoStoreWithPool(pool); err != nil {
			return err
		}
		if a.attempts, err = postgres.NewAttemptStoreWithPool(pool); err != nil {
			return err
		}
		if a.keywords, err = postgres.NewKeywordStoreWithPool(pool); err != nil {
			return err
		}
		if a.channels, err = postgres.NewChannelStoreWithPool(pool); err != nil {
			return err
		}
		if a.ledgers, err = postgres.NewLedgerStoreWithPool(pool); err != nil {
			return err
		}
	case "memory":
		stores := storagemem.NewStores()
		a.videos = stores
		a.attempts = stores
		a.keywords = stores
		a.channels = stores
		a.ledgers = stores
	default:
		return fmt.Errorf("unknown database provider: %s", a.cfg.Database.Provider)
	}
	return nil
}

func (a *App) initQueue(ctx context.Context) error {
	switch a.cfg.Queue.Provider {
	case "pubsub":
		q, err := queuepubsub.New(ctx, queuepubsub.Config{
			ProjectID:    a.cfg.Queue.ProjectID,
			TopicID:      a.cfg.Queue.TopicID,
			Subscription: a.cfg.Queue.Subscription,
		}, a.logger)
		if err != nil {
			return fmt.Errorf("failed to initialize queue: %w", err)
		}
		a.queue = q
	case "memory":
		a.queue = queuemem.NewQueue(a.cfg.Workers.QueueDepth)
	default:
		return fmt.Errorf("unknown queue provider: %s", a.cfg.Queue.Provider)
	}
	return nil
}

func (a *App) initEvidence(ctx context.Context) (monitor.EvidenceStore, error) {
	switch a.cfg.Evidence.Provider {
	case "gcs":
		client, err := gcstorage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to create storage client: %w", err)
		}
		a.gcsClient = client
		store, err := gcs.New(client, gcs.Config{Bucket: a.cfg.Evidence.Bucket})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize evidence store: %w", err)
		}
		return store, nil
	case "memory":
		return storagemem.NewEvidenceArchive(), nil
	case "none":
		a.logger.Info("evidence archival disabled")
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown evidence provider: %s", a.cfg.Evidence.Provider)
	}
}

// seedKeywords registers configured search terms. Existing keywords keep
// their rotation state; only brand-new terms are inserted.
func (a *App) seedKeywords(ctx context.Context) error {
	for _, seed := range a.cfg.Keywords {
		term := strings.TrimSpace(seed.Term)
		if term == "" {
			continue
		}
		if _, err := a.keywords.GetKeyword(ctx, term); err == nil {
			continue
		}
		priority := monitor.Priority(strings.ToUpper(seed.Priority))
		switch priority {
		case monitor.PriorityHigh, monitor.PriorityMedium, monitor.PriorityLow:
		default:
			priority = monitor.PriorityMedium
		}
		if err := a.keywords.UpsertKeyword(ctx, monitor.KeywordState{
			Term:     term,
			Priority: priority,
		}); err != nil {
			return fmt.Errorf("failed to seed keyword %q: %w", term, err)
		}
		a.logger.Info("seeded keyword",
			zap.String("term", term),
			zap.String("priority", string(priority)),
		)
	}
	return nil
}

// Start launches the worker pool, the cron jobs, and the HTTP server. It
// first reconciles any work orphaned by a previous unclean shutdown. Start
// returns once everything is running; errors from the HTTP server after
// startup are reported through the returned channel.
func (a *App) Start(ctx context.Context) (<-chan error, error) {
	result, err := a.lifecycle.Reconcile(ctx)
	if err != nil {
		return nil, fmt.Errorf("startup reconciliation failed: %w", err)
	}
	if result.ResetVideos > 0 {
		a.logger.Warn("recovered orphaned work at startup",
			zap.Int("stuck_attempts", result.StuckAttempts),
			zap.Int("reset_videos", result.ResetVideos),
		)
	}

	// Workers and cron jobs run on a context the termination signal does
	// not reach. An in-flight analysis either completes or is reconciled as
	// stuck, never aborted mid-call; Shutdown cancels this context only
	// after the drain empties.
	workCtx, workCancel := context.WithCancel(context.Background())
	a.workCancel = workCancel
	go a.dispatcher.Run(workCtx)

	a.cron = cron.New()
	if _, err := a.cron.AddFunc(a.cfg.Scan.Cron, func() {
		if err := a.scanner.RunCycle(workCtx); err != nil {
			a.logger.Error("scan cycle failed", zap.Error(err))
		}
	}); err != nil {
		return nil, fmt.Errorf("invalid scan cron expression: %w", err)
	}
	if _, err := a.cron.AddFunc(a.cfg.Lifecycle.ReconcileCron, func() {
		if _, err := a.lifecycle.Reconcile(workCtx); err != nil {
			a.logger.Error("reconciliation failed", zap.Error(err))
		}
	}); err != nil {
		return nil, fmt.Errorf("invalid reconcile cron expression: %w", err)
	}
	if _, err := a.cron.AddFunc(a.cfg.Lifecycle.ChannelRefreshCron, func() {
		if err := a.engine.RefreshChannels(workCtx); err != nil {
			a.logger.Error("channel risk refresh failed", zap.Error(err))
		}
	}); err != nil {
		return nil, fmt.Errorf("invalid channel refresh cron expression: %w", err)
	}
	a.cron.Start()

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("http server listening", zap.String("addr", a.httpServer.Addr))
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	return errCh, nil
}

// Drainer exposes the drain controller so the entrypoint can coordinate
// graceful shutdown.
func (a *App) Drainer() *drain.Controller {
	return a.drainer
}

// Shutdown stops intake, waits for in-flight analyses to finish, then tears
// down every service. The context bounds how long the drain may take.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down application services")

	if a.cron != nil {
		stopped := a.cron.Stop()
		select {
		case <-stopped.Done():
		case <-ctx.Done():
		}
	}

	a.drainer.BeginDrain()
	if err := a.drainer.Wait(ctx); err != nil {
		a.logger.Warn("drain did not complete before deadline",
			zap.Int("in_flight", a.drainer.InFlight()),
			zap.Error(err),
		)
	}
	// Only now stop the worker loops; in-flight analyses have finished.
	if a.workCancel != nil {
		a.workCancel()
	}

	if err := a.httpServer.Shutdown(ctx); err != nil {
		a.logger.Warn("http server shutdown failed", zap.Error(err))
	}
	if err := a.queue.Close(); err != nil {
		a.logger.Warn("queue close failed", zap.Error(err))
	}
	if a.gcsClient != nil {
		if err := a.gcsClient.Close(); err != nil {
			a.logger.Warn("storage client close failed", zap.Error(err))
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
	if err := a.logger.Sync(); err != nil {
		// Best effort. Syncing stderr commonly fails on some platforms.
		_ = err
	}
	return nil
}
