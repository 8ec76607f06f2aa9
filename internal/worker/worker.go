// Package worker implements the analysis execution loop.
package worker

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"vidsentry/internal/drain"
	"vidsentry/internal/governor"
	"vidsentry/internal/lifecycle"
	"vidsentry/internal/monitor"
	"vidsentry/internal/risk"
	"vidsentry/internal/telemetry"
)

// Worker consumes dispatch messages and executes the analysis pipeline.
type Worker struct {
	queue     monitor.Queue
	videos    monitor.VideoStore
	analyzer  monitor.Analyzer
	lifecycle *lifecycle.Manager
	budget    *governor.Governor
	engine    *risk.Engine
	drainer   *drain.Controller
	clock     monitor.Clock
	logger    *zap.Logger
}

// New constructs a Worker.
func New(
	queue monitor.Queue,
	videos monitor.VideoStore,
	analyzer monitor.Analyzer,
	lc *lifecycle.Manager,
	budget *governor.Governor,
	engine *risk.Engine,
	drainer *drain.Controller,
	clock monitor.Clock,
	logger *zap.Logger,
) *Worker {
	return &Worker{
		queue:     queue,
		videos:    videos,
		analyzer:  analyzer,
		lifecycle: lc,
		budget:    budget,
		engine:    engine,
		drainer:   drainer,
		clock:     clock,
		logger:    logger,
	}
}

// Run blocks, consuming dispatch messages until the context finishes.
func (w *Worker) Run(ctx context.Context) {
	for {
		msg, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued dispatch message",
			zap.String("video_id", msg.VideoID),
			zap.String("attempt_id", msg.AttemptID),
		)
		w.process(ctx, msg)
	}
}

// process runs one analysis under the drain controller's accounting. A
// message that arrives after drain began is left unprocessed; reconciliation
// on the next start recovers the item.
func (w *Worker) process(ctx context.Context, msg monitor.DispatchMessage) {
	if !w.drainer.Begin() {
		w.logger.Info("drain in progress, skipping dispatch message",
			zap.String("video_id", msg.VideoID),
		)
		return
	}
	defer w.drainer.Done()

	telemetry.IncInFlight()
	defer telemetry.DecInFlight()

	if err := w.analyze(ctx, msg); err != nil {
		if ctx.Err() != nil {
			return
		}
		w.logger.Error("analysis pipeline failed",
			zap.String("video_id", msg.VideoID),
			zap.Error(err),
		)
		if failErr := w.lifecycle.Fail(ctx, msg.VideoID, err.Error()); failErr != nil {
			w.logger.Error("record analysis failure",
				zap.String("video_id", msg.VideoID),
				zap.Error(failErr),
			)
		}
	}
}

func (w *Worker) analyze(ctx context.Context, msg monitor.DispatchMessage) error {
	video, err := w.videos.GetVideo(ctx, msg.VideoID)
	if err != nil {
		return fmt.Errorf("load video: %w", err)
	}

	// The budget was checked at admission; spend may have moved since the
	// message sat in the queue, so re-check before paying for the call.
	// Denial is not a failure: the item goes back to discovered and a later
	// cycle re-dispatches it once budget returns.
	if !w.budget.CanAffordAmount(ctx, msg.Sampling.EstimatedCost) {
		telemetry.ObserveAdmissionDenied(w.budget.Name())
		w.logger.Warn("analysis budget exhausted, deferring video",
			zap.String("video_id", msg.VideoID),
			zap.Float64("estimated_cost", msg.Sampling.EstimatedCost),
		)
		if err := w.lifecycle.Defer(ctx, msg.VideoID, "analysis budget exhausted before processing"); err != nil {
			// Left in processing; reconciliation recovers it.
			w.logger.Error("defer video failed",
				zap.String("video_id", msg.VideoID),
				zap.Error(err),
			)
		}
		return nil
	}

	start := w.clock.Now()
	outcome, err := w.analyzer.Analyze(ctx, video, msg.Sampling)
	if err != nil {
		return fmt.Errorf("analyze video: %w", err)
	}
	telemetry.ObserveAnalysisDuration(w.clock.Now().Sub(start).Seconds())

	// Record what the provider actually charged, not the estimate.
	cost := outcome.CostConsumed
	if cost <= 0 {
		cost = msg.Sampling.EstimatedCost
	}
	w.budget.RecordAmount(ctx, cost, 1)

	prior := risk.OutcomeClean
	if outcome.ContainsInfringing {
		prior = risk.OutcomeInfringing
	}
	score, tier := risk.Rescore(video.RiskScore, w.engine.SignalsFor(ctx, video, prior))

	if err := w.lifecycle.Complete(ctx, video, outcome, score, tier); err != nil {
		return fmt.Errorf("complete analysis: %w", err)
	}
	return nil
}
