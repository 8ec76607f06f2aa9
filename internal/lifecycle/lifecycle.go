// Package lifecycle owns the video state machine and the append-only
// attempt log. All status transitions funnel through the Manager; the
// attempt log, not the video status field, is the ground truth for whether
// an item is actually being worked on.
package lifecycle

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"vidsentry/internal/monitor"
	"vidsentry/internal/telemetry"
)

// DefaultStuckThreshold is how long a running attempt may go without
// completion before reconciliation treats it as orphaned.
const DefaultStuckThreshold = 15 * time.Minute

// Config controls Manager behavior.
type Config struct {
	StuckThreshold time.Duration
}

// Manager performs all video state transitions and reconciles orphaned
// attempts after crashes.
type Manager struct {
	videos   monitor.VideoStore
	attempts monitor.AttemptStore
	channels monitor.ChannelStore
	evidence monitor.EvidenceStore
	queue    monitor.Queue
	clock    monitor.Clock
	idGen    monitor.IDGenerator
	cfg      Config
	logger   *zap.Logger
}

// New constructs a Manager.
func New(
	videos monitor.VideoStore,
	attempts monitor.AttemptStore,
	channels monitor.ChannelStore,
	evidence monitor.EvidenceStore,
	queue monitor.Queue,
	clock monitor.Clock,
	idGen monitor.IDGenerator,
	cfg Config,
	logger *zap.Logger,
) *Manager {
	if cfg.StuckThreshold <= 0 {
		cfg.StuckThreshold = DefaultStuckThreshold
	}
	return &Manager{
		videos:   videos,
		attempts: attempts,
		channels: channels,
		evidence: evidence,
		queue:    queue,
		clock:    clock,
		idGen:    idGen,
		cfg:      cfg,
		logger:   logger,
	}
}

// Create records a newly discovered candidate as a video in discovered
// status. Returns false when the video already exists (duplicate discovery
// is normal across overlapping scan windows).
func (m *Manager) Create(ctx context.Context, c monitor.Candidate, score float64, tier monitor.RiskTier) (monitor.Video, bool, error) {
	video := monitor.Video{
		ID:                c.ID,
		ChannelID:         c.ChannelID,
		Title:             c.Title,
		Status:            monitor.VideoStatusDiscovered,
		RiskScore:         score,
		RiskTier:          tier,
		MatchedCategories: c.MatchedCategories,
		DurationSeconds:   c.DurationSeconds,
		ViewCount:         c.ViewCount,
		LikeCount:         c.LikeCount,
		CommentCount:      c.CommentCount,
		PublishedAt:       c.PublishedAt,
		DiscoveredAt:      m.clock.Now(),
	}
	created, err := m.videos.CreateVideo(ctx, video)
	if err != nil {
		return monitor.Video{}, false, fmt.Errorf("create video: %w", err)
	}
	if created {
		telemetry.ObserveDiscovered(string(tier))
	}
	return video, created, nil
}

// Dispatch moves a discovered video into processing, opens a running
// attempt, and publishes the dispatch message workers consume. The status
// stamp and the attempt append are one committed step from the caller's
// perspective: if the message publish fails the transition is rolled back
// so the item is not stranded in processing.
func (m *Manager) Dispatch(ctx context.Context, video monitor.Video, cfg monitor.SamplingConfig) (string, error) {
	now := m.clock.Now()

	moved, err := m.videos.MarkProcessing(ctx, video.ID, now)
	if err != nil {
		return "", fmt.Errorf("mark processing: %w", err)
	}
	if !moved {
		return "", fmt.Errorf("video %s is not dispatchable", video.ID)
	}

	attemptID, err := m.idGen.NewID()
	if err != nil {
		return "", fmt.Errorf("generate attempt id: %w", err)
	}
	attempt := monitor.Attempt{
		ID:        attemptID,
		VideoID:   video.ID,
		Status:    monitor.AttemptRunning,
		StartedAt: now,
	}
	if err := m.attempts.AppendAttempt(ctx, attempt); err != nil {
		return "", fmt.Errorf("append attempt: %w", err)
	}

	msg := monitor.DispatchMessage{
		VideoID:   video.ID,
		AttemptID: attemptID,
		Tier:      video.RiskTier,
		Sampling:  cfg,
	}
	if err := m.queue.Enqueue(ctx, msg); err != nil {
		m.rollbackDispatch(ctx, video.ID, err)
		return "", fmt.Errorf("enqueue dispatch: %w", err)
	}

	telemetry.ObserveDispatched(string(video.RiskTier))
	m.logger.Info("video dispatched for analysis",
		zap.String("video_id", video.ID),
		zap.String("attempt_id", attemptID),
		zap.String("tier", string(video.RiskTier)),
		zap.Float64("estimated_cost", cfg.EstimatedCost),
	)
	return attemptID, nil
}

func (m *Manager) rollbackDispatch(ctx context.Context, videoID string, cause error) {
	now := m.clock.Now()
	if err := m.attempts.CloseLatestAttempt(ctx, videoID, monitor.AttemptFailed, "dispatch publish failed: "+cause.Error(), now); err != nil {
		m.logger.Error("dispatch rollback: close attempt failed", zap.String("video_id", videoID), zap.Error(err))
	}
	if _, err := m.videos.ResetToDiscovered(ctx, videoID); err != nil {
		m.logger.Error("dispatch rollback: reset video failed", zap.String("video_id", videoID), zap.Error(err))
	}
}

// Complete finalizes a successful analysis: the video becomes analyzed, the
// latest running attempt is closed, the channel aggregate absorbs the
// verdict, and the raw payload is archived as evidence (best effort).
func (m *Manager) Complete(ctx context.Context, video monitor.Video, outcome monitor.AnalysisOutcome, score float64, tier monitor.RiskTier) error {
	now := m.clock.Now()

	if err := m.videos.MarkAnalyzed(ctx, video.ID, score, tier, outcome.Categories); err != nil {
		return fmt.Errorf("mark analyzed: %w", err)
	}
	if err := m.attempts.CloseLatestAttempt(ctx, video.ID, monitor.AttemptCompleted, "", now); err != nil {
		return fmt.Errorf("close attempt: %w", err)
	}
	if video.ChannelID != "" {
		if err := m.channels.ApplyOutcome(ctx, video.ChannelID, outcome.ContainsInfringing, now); err != nil {
			m.logger.Warn("channel aggregate update failed",
				zap.String("channel_id", video.ChannelID),
				zap.Error(err),
			)
		}
	}
	m.archiveEvidence(ctx, video.ID, outcome)

	telemetry.ObserveAnalyzed(outcome.ContainsInfringing)
	m.logger.Info("video analysis complete",
		zap.String("video_id", video.ID),
		zap.Bool("infringing", outcome.ContainsInfringing),
		zap.Float64("confidence", outcome.Confidence),
		zap.Float64("cost", outcome.CostConsumed),
	)
	return nil
}

// Fail finalizes an unsuccessful analysis with a diagnostic message. The
// item lands in failed with the reason attached, never disappearing
// silently.
func (m *Manager) Fail(ctx context.Context, videoID, reason string) error {
	now := m.clock.Now()
	if err := m.videos.MarkFailed(ctx, videoID, reason); err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	if err := m.attempts.CloseLatestAttempt(ctx, videoID, monitor.AttemptFailed, reason, now); err != nil {
		return fmt.Errorf("close attempt: %w", err)
	}
	telemetry.ObserveFailed()
	m.logger.Warn("video analysis failed",
		zap.String("video_id", videoID),
		zap.String("reason", reason),
	)
	return nil
}

// Defer returns a dispatched item to discovered without a verdict: the
// running attempt is closed and the processing stamp cleared so a later
// cycle can re-dispatch it. Admission denials after dispatch land here,
// never in failed.
func (m *Manager) Defer(ctx context.Context, videoID, reason string) error {
	now := m.clock.Now()
	if err := m.attempts.CloseLatestAttempt(ctx, videoID, monitor.AttemptFailed, reason, now); err != nil {
		return fmt.Errorf("close attempt: %w", err)
	}
	reset, err := m.videos.ResetToDiscovered(ctx, videoID)
	if err != nil {
		return fmt.Errorf("reset video: %w", err)
	}
	if !reset {
		m.logger.Warn("defer: video no longer in processing",
			zap.String("video_id", videoID),
		)
		return nil
	}
	m.logger.Info("video deferred to a later cycle",
		zap.String("video_id", videoID),
		zap.String("reason", reason),
	)
	return nil
}

func (m *Manager) archiveEvidence(ctx context.Context, videoID string, outcome monitor.AnalysisOutcome) {
	if m.evidence == nil {
		return
	}
	payload := outcome.RawPayload
	if len(payload) == 0 {
		var err error
		payload, err = json.Marshal(outcome)
		if err != nil {
			m.logger.Warn("evidence marshal failed", zap.String("video_id", videoID), zap.Error(err))
			return
		}
	}
	path := fmt.Sprintf("evidence/%s/%d.json", videoID, m.clock.Now().UnixMilli())
	uri, err := m.evidence.PutEvidence(ctx, path, payload)
	if err != nil {
		m.logger.Warn("evidence archive failed", zap.String("video_id", videoID), zap.Error(err))
		return
	}
	m.logger.Debug("evidence archived", zap.String("video_id", videoID), zap.String("uri", uri))
}

// ReconcileResult summarizes one reconciliation pass.
type ReconcileResult struct {
	StuckAttempts int
	ResetVideos   int
}

// Reconcile repairs orphaned work. Every attempt still running past the
// stuck threshold is marked failed; owning videos still stamped processing
// go back to discovered with the start stamp cleared. Running this twice
// over unchanged data makes no further changes the second time.
func (m *Manager) Reconcile(ctx context.Context) (ReconcileResult, error) {
	now := m.clock.Now()
	cutoff := now.Add(-m.cfg.StuckThreshold)

	stuck, err := m.attempts.ListRunningBefore(ctx, cutoff)
	if err != nil {
		return ReconcileResult{}, fmt.Errorf("list stuck attempts: %w", err)
	}

	var result ReconcileResult
	seen := make(map[string]bool, len(stuck))
	for _, attempt := range stuck {
		reason := fmt.Sprintf("reconciled: attempt running since %s exceeded %s threshold",
			attempt.StartedAt.UTC().Format(time.RFC3339), m.cfg.StuckThreshold)
		closed, err := m.attempts.MarkAttemptFailed(ctx, attempt.ID, reason, now)
		if err != nil {
			m.logger.Error("reconcile: mark attempt failed",
				zap.String("attempt_id", attempt.ID),
				zap.Error(err),
			)
			continue
		}
		if !closed {
			// Another reconciler closed this attempt after we listed it.
			// The owning video's current state belongs to whoever
			// re-dispatched it, so leave the video alone.
			continue
		}
		result.StuckAttempts++

		// One reset per video even if several stale attempts point at it.
		if seen[attempt.VideoID] {
			continue
		}
		seen[attempt.VideoID] = true

		reset, err := m.videos.ResetToDiscovered(ctx, attempt.VideoID)
		if err != nil {
			m.logger.Error("reconcile: reset video failed",
				zap.String("video_id", attempt.VideoID),
				zap.Error(err),
			)
			continue
		}
		if reset {
			result.ResetVideos++
			m.logger.Warn("stuck video returned to discovered",
				zap.String("video_id", attempt.VideoID),
				zap.String("attempt_id", attempt.ID),
			)
		}
	}

	if result.StuckAttempts > 0 {
		telemetry.ObserveReconciled(result.StuckAttempts, result.ResetVideos)
	}
	return result, nil
}
