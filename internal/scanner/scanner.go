// Package scanner drives the keyword scan cycle: pick due keywords, search
// the platform, score candidates, and admit them into the analysis pipeline
// within quota and budget.
package scanner

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"vidsentry/internal/governor"
	"vidsentry/internal/lifecycle"
	"vidsentry/internal/monitor"
	"vidsentry/internal/risk"
	"vidsentry/internal/sampling"
	"vidsentry/internal/scheduler"
	"vidsentry/internal/telemetry"
)

// Config controls Scanner behavior.
type Config struct {
	KeywordsPerCycle  int
	SearchesPerSecond float64
	SearchBurst       int
}

// Scanner executes one scan cycle at a time. Cycles are triggered by the
// cron scheduler in the app layer.
type Scanner struct {
	schedule   *scheduler.Scheduler
	discoverer monitor.Discoverer
	lifecycle  *lifecycle.Manager
	videos     monitor.VideoStore
	sampler    *sampling.Configurator
	quota      *governor.Governor
	budget     *governor.Governor
	limiter    *rate.Limiter
	cfg        Config
	logger     *zap.Logger
}

// New constructs a Scanner.
func New(
	schedule *scheduler.Scheduler,
	discoverer monitor.Discoverer,
	lc *lifecycle.Manager,
	videos monitor.VideoStore,
	sampler *sampling.Configurator,
	quota *governor.Governor,
	budget *governor.Governor,
	cfg Config,
	logger *zap.Logger,
) *Scanner {
	if cfg.KeywordsPerCycle <= 0 {
		cfg.KeywordsPerCycle = 10
	}
	if cfg.SearchesPerSecond <= 0 {
		cfg.SearchesPerSecond = 1
	}
	if cfg.SearchBurst <= 0 {
		cfg.SearchBurst = 1
	}
	return &Scanner{
		schedule:   schedule,
		discoverer: discoverer,
		lifecycle:  lc,
		videos:     videos,
		sampler:    sampler,
		quota:      quota,
		budget:     budget,
		limiter:    rate.NewLimiter(rate.Limit(cfg.SearchesPerSecond), cfg.SearchBurst),
		cfg:        cfg,
		logger:     logger,
	}
}

// RunCycle scans the due keywords once. A cycle stops early when the search
// quota runs out; remaining keywords stay due and the next cycle picks them
// up first.
func (s *Scanner) RunCycle(ctx context.Context) error {
	due := s.schedule.KeywordsDue(ctx, s.cfg.KeywordsPerCycle)
	if len(due) == 0 {
		s.logger.Debug("no keywords due")
		return nil
	}

	for _, kw := range due {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !s.quota.CanAfford(ctx, governor.OpSearch, 1) {
			telemetry.ObserveAdmissionDenied(s.quota.Name())
			s.logger.Warn("search quota exhausted, ending scan cycle",
				zap.String("term", kw.Term),
			)
			return nil
		}
		if err := s.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limit wait: %w", err)
		}
		s.scanKeyword(ctx, kw)
	}
	return nil
}

func (s *Scanner) scanKeyword(ctx context.Context, kw monitor.KeywordState) {
	kw, window := s.schedule.NextWindow(ctx, kw)

	candidates, err := s.discoverer.Search(ctx, kw.Term, window.Start, window.End)
	s.quota.RecordUsage(ctx, governor.OpSearch, 1)
	telemetry.ObserveScan(string(kw.Priority))
	if err != nil {
		s.logger.Error("keyword search failed",
			zap.String("term", kw.Term),
			zap.Time("window_start", window.Start),
			zap.Time("window_end", window.End),
			zap.Error(err),
		)
		return
	}
	s.schedule.RecordResults(ctx, kw, len(candidates))

	admitted := 0
	for _, c := range candidates {
		if ctx.Err() != nil {
			return
		}
		if s.admit(ctx, c) {
			admitted++
		}
	}
	s.logger.Info("keyword scanned",
		zap.String("term", kw.Term),
		zap.String("direction", string(kw.Direction)),
		zap.Time("window_start", window.Start),
		zap.Time("window_end", window.End),
		zap.Int("found", len(candidates)),
		zap.Int("admitted", admitted),
	)
}

// admit records a candidate and, if the analysis budget allows, dispatches
// it. Candidates the budget rejects stay in discovered for a later cycle.
func (s *Scanner) admit(ctx context.Context, c monitor.Candidate) bool {
	score := risk.Clamp(risk.InitialScore(c))
	tier := risk.TierFor(score)

	video, created, err := s.lifecycle.Create(ctx, c, score, tier)
	if err != nil {
		s.logger.Error("record candidate failed", zap.String("video_id", c.ID), zap.Error(err))
		return false
	}
	if !created {
		return false
	}
	if c.DurationSeconds <= 0 {
		s.logger.Warn("candidate has no duration, leaving undispatched",
			zap.String("video_id", c.ID),
		)
		return false
	}

	cfg, err := s.sampler.Build(c.DurationSeconds, tier, s.budget.Remaining(ctx), s.pendingDepth(ctx))
	if err != nil {
		s.logger.Error("sampling configuration failed", zap.String("video_id", c.ID), zap.Error(err))
		return false
	}
	if !s.budget.CanAffordAmount(ctx, cfg.EstimatedCost) {
		telemetry.ObserveAdmissionDenied(s.budget.Name())
		s.logger.Warn("analysis budget rejected candidate",
			zap.String("video_id", c.ID),
			zap.Float64("estimated_cost", cfg.EstimatedCost),
		)
		return false
	}
	if _, err := s.lifecycle.Dispatch(ctx, video, cfg); err != nil {
		s.logger.Error("dispatch failed", zap.String("video_id", c.ID), zap.Error(err))
		return false
	}
	return true
}

// pendingDepth approximates queue pressure as the number of items waiting
// for analysis.
func (s *Scanner) pendingDepth(ctx context.Context) int {
	videos, err := s.videos.ListVideos(ctx, monitor.VideoFilter{Status: monitor.VideoStatusDiscovered})
	if err != nil {
		return 0
	}
	return len(videos)
}
