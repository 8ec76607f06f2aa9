// Package risk computes and maintains infringement risk scores for videos.
package risk

import (
	"context"
	"time"

	"go.uber.org/zap"

	"vidsentry/internal/monitor"
)

// Outcome summarizes the prior analysis verdict used as a rescoring signal.
type Outcome int

// Prior analysis outcomes.
const (
	OutcomeNone Outcome = iota
	OutcomeInfringing
	OutcomeClean
)

// Signals carries the inputs for a rescoring pass.
type Signals struct {
	ViewsPerHour   float64
	ChannelRisk    float64
	EngagementRate float64
	AgeDays        float64
	Prior          Outcome
}

// TierFor maps a clamped score to its risk tier. Boundaries are inclusive on
// the lower bound of each tier.
func TierFor(score float64) monitor.RiskTier {
	switch {
	case score >= 90:
		return monitor.TierCritical
	case score >= 70:
		return monitor.TierHigh
	case score >= 40:
		return monitor.TierMedium
	case score >= 20:
		return monitor.TierLow
	default:
		return monitor.TierVeryLow
	}
}

// Clamp bounds a raw score to the [0, 100] scale.
func Clamp(score float64) float64 {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

// InitialScore computes the discovery-time score from match strength and the
// number of matched categories.
func InitialScore(c monitor.Candidate) float64 {
	score := c.MatchStrength * 60
	score += float64(len(c.MatchedCategories)) * 10
	return Clamp(score)
}

// Adjustment computes the signed rescoring delta from independent factors.
func Adjustment(s Signals) float64 {
	var adj float64

	switch {
	case s.ViewsPerHour > 10000:
		adj += 30
	case s.ViewsPerHour > 1000:
		adj += 20
	case s.ViewsPerHour > 100:
		adj += 10
	}

	switch {
	case s.ChannelRisk == 100:
		adj += 20
	case s.ChannelRisk >= 50:
		adj += s.ChannelRisk * 0.2
	}

	switch {
	case s.EngagementRate > 0.05:
		adj += 10
	case s.EngagementRate > 0.02:
		adj += 5
	}

	switch {
	case s.AgeDays > 180:
		adj -= 15
	case s.AgeDays > 90:
		adj -= 10
	case s.AgeDays > 30:
		adj -= 5
	}

	switch s.Prior {
	case OutcomeInfringing:
		adj += 20
	case OutcomeClean:
		adj -= 10
	}

	return adj
}

// Rescore folds the factor adjustments into the current score and clamps.
func Rescore(current float64, s Signals) (float64, monitor.RiskTier) {
	score := Clamp(current + Adjustment(s))
	return score, TierFor(score)
}

// Engine rescored videos against stored channel aggregates.
type Engine struct {
	videos   monitor.VideoStore
	channels monitor.ChannelStore
	clock    monitor.Clock
	logger   *zap.Logger
}

// NewEngine constructs an Engine.
func NewEngine(videos monitor.VideoStore, channels monitor.ChannelStore, clock monitor.Clock, logger *zap.Logger) *Engine {
	return &Engine{
		videos:   videos,
		channels: channels,
		clock:    clock,
		logger:   logger,
	}
}

// SignalsFor derives rescoring signals from a video's counters and its
// channel aggregate. The channel aggregate is a cached signal, refreshed
// periodically rather than per video.
func (e *Engine) SignalsFor(ctx context.Context, video monitor.Video, prior Outcome) Signals {
	now := e.clock.Now()
	ageHours := now.Sub(video.PublishedAt).Hours()
	if ageHours < 1 {
		ageHours = 1
	}

	var engagement float64
	if video.ViewCount > 0 {
		engagement = float64(video.LikeCount+video.CommentCount) / float64(video.ViewCount)
	}

	var channelRisk float64
	if video.ChannelID != "" {
		stats, err := e.channels.GetChannel(ctx, video.ChannelID)
		if err == nil {
			channelRisk = stats.RiskScore
		} else if err != monitor.ErrNotFound {
			e.logger.Warn("channel lookup failed, scoring without channel signal",
				zap.String("channel_id", video.ChannelID),
				zap.Error(err),
			)
		}
	}

	return Signals{
		ViewsPerHour:   float64(video.ViewCount) / ageHours,
		ChannelRisk:    channelRisk,
		EngagementRate: engagement,
		AgeDays:        ageHours / 24,
		Prior:          prior,
	}
}

// RescoreVideo recomputes and persists a video's score and tier.
func (e *Engine) RescoreVideo(ctx context.Context, video monitor.Video, prior Outcome) (float64, monitor.RiskTier, error) {
	signals := e.SignalsFor(ctx, video, prior)
	score, tier := Rescore(video.RiskScore, signals)
	if err := e.videos.UpdateRisk(ctx, video.ID, score, tier); err != nil {
		return score, tier, err
	}
	e.logger.Debug("video rescored",
		zap.String("video_id", video.ID),
		zap.Float64("score", score),
		zap.String("tier", string(tier)),
	)
	return score, tier, nil
}

// ChannelRiskScore derives a channel's risk score from its aggregate counts.
// A channel with every analyzed video confirmed infringing scores 100.
func ChannelRiskScore(stats monitor.ChannelStats) float64 {
	if stats.AnalyzedCount == 0 {
		return 0
	}
	ratio := float64(stats.InfringedCount) / float64(stats.AnalyzedCount)
	return Clamp(ratio * 100)
}

// RefreshChannels recomputes the risk score for every channel aggregate.
// Runs on its own cron schedule; rescoring reads the cached result.
func (e *Engine) RefreshChannels(ctx context.Context) error {
	channels, err := e.channels.ListChannels(ctx)
	if err != nil {
		return err
	}
	now := e.clock.Now()
	for _, ch := range channels {
		score := ChannelRiskScore(ch)
		if score == ch.RiskScore {
			continue
		}
		if err := e.channels.UpdateRiskScore(ctx, ch.ChannelID, score, now); err != nil {
			e.logger.Warn("channel risk update failed",
				zap.String("channel_id", ch.ChannelID),
				zap.Error(err),
			)
		}
	}
	return nil
}

// AgeDays is a convenience for callers deriving signals without an Engine.
func AgeDays(publishedAt, now time.Time) float64 {
	return now.Sub(publishedAt).Hours() / 24
}
