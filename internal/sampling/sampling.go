// Package sampling computes per-item analysis configurations that trade
// coverage against cost under budget pressure.
package sampling

import (
	"fmt"
	"math"

	"vidsentry/internal/monitor"
)

// Rate clamp bounds in samples per second.
const (
	MinRate = 0.05
	MaxRate = 1.0
)

// Pricing converts estimated token volume into a cost estimate.
type Pricing struct {
	TokensPerFrame   map[int]int
	OutputTokens     int
	InputPerMillion  float64
	OutputPerMillion float64
}

// DefaultPricing matches the analysis collaborator's published rates.
func DefaultPricing() Pricing {
	return Pricing{
		TokensPerFrame: map[int]int{
			768: 1100,
			512: 650,
			384: 400,
		},
		OutputTokens:     800,
		InputPerMillion:  3.0,
		OutputPerMillion: 15.0,
	}
}

// Configurator builds sampling configurations.
type Configurator struct {
	pricing Pricing
}

// New constructs a Configurator.
func New(pricing Pricing) *Configurator {
	return &Configurator{pricing: pricing}
}

// baseRate returns the duration-bucketed sampling rate in samples/sec.
// Buckets are monotone non-increasing in duration.
func baseRate(durationSeconds int) float64 {
	switch {
	case durationSeconds <= 120:
		return 1.0
	case durationSeconds <= 300:
		return 0.5
	case durationSeconds <= 600:
		return 0.35
	case durationSeconds <= 1200:
		return 0.25
	case durationSeconds <= 3600:
		return 0.1
	default:
		return 0.05
	}
}

// tierMultiplier scales the base rate by risk tier.
func tierMultiplier(tier monitor.RiskTier) float64 {
	switch tier {
	case monitor.TierCritical:
		return 2.0
	case monitor.TierHigh:
		return 1.5
	case monitor.TierMedium:
		return 1.0
	case monitor.TierLow:
		return 0.75
	default:
		return 0.5
	}
}

// pressureFactor scales the rate down when the remaining budget is thin
// relative to the queue. Never scales up.
func pressureFactor(remainingBudget float64, queueDepth int, perItemEstimate float64) float64 {
	if queueDepth <= 0 || perItemEstimate <= 0 {
		return 1.0
	}
	needed := float64(queueDepth) * perItemEstimate
	if needed <= 0 || remainingBudget >= needed {
		return 1.0
	}
	ratio := remainingBudget / needed
	switch {
	case ratio < 0.25:
		return 0.5
	case ratio < 0.5:
		return 0.7
	default:
		return 0.85
	}
}

// resolutionFor picks the frame resolution by tier.
func resolutionFor(tier monitor.RiskTier) int {
	switch tier {
	case monitor.TierCritical, monitor.TierHigh:
		return 768
	case monitor.TierMedium:
		return 512
	default:
		return 384
	}
}

// trimFor returns intro/outro trim seconds for a clip. Trimming never
// produces a non-positive effective duration: when the trims would consume
// the whole clip they are skipped.
func trimFor(durationSeconds int) (start, end int) {
	switch {
	case durationSeconds <= 60:
		return 0, 0
	case durationSeconds >= 1800:
		start, end = 30, 60
	default:
		start, end = 10, 10
	}
	if start+end >= durationSeconds {
		return 0, 0
	}
	return start, end
}

// Rate computes the clamped effective sampling rate for a duration and tier
// with no budget pressure. Exposed separately for admission estimates.
func (c *Configurator) Rate(durationSeconds int, tier monitor.RiskTier) (float64, error) {
	if durationSeconds <= 0 {
		return 0, fmt.Errorf("duration must be positive, got %d", durationSeconds)
	}
	return clampRate(baseRate(durationSeconds) * tierMultiplier(tier)), nil
}

// Build computes the full sampling configuration for one video.
// A non-positive duration is a caller contract violation.
func (c *Configurator) Build(
	durationSeconds int,
	tier monitor.RiskTier,
	remainingBudget float64,
	queueDepth int,
) (monitor.SamplingConfig, error) {
	if durationSeconds <= 0 {
		return monitor.SamplingConfig{}, fmt.Errorf("duration must be positive, got %d", durationSeconds)
	}

	rate := baseRate(durationSeconds) * tierMultiplier(tier)

	trimStart, trimEnd := trimFor(durationSeconds)
	effective := durationSeconds - trimStart - trimEnd

	resolution := resolutionFor(tier)

	// First-pass estimate at the unpressured rate sizes the queue's needs.
	perItem := c.estimateCost(clampRate(rate), effective, resolution)
	rate *= pressureFactor(remainingBudget, queueDepth, perItem)
	rate = clampRate(rate)

	frames := int(math.Ceil(rate * float64(effective)))
	if frames < 1 {
		frames = 1
	}

	return monitor.SamplingConfig{
		Rate:             rate,
		TrimStartSeconds: trimStart,
		TrimEndSeconds:   trimEnd,
		EffectiveSeconds: effective,
		Resolution:       resolution,
		FrameCount:       frames,
		EstimatedCost:    c.costFor(frames, resolution),
	}, nil
}

func (c *Configurator) estimateCost(rate float64, effectiveSeconds, resolution int) float64 {
	frames := int(math.Ceil(rate * float64(effectiveSeconds)))
	if frames < 1 {
		frames = 1
	}
	return c.costFor(frames, resolution)
}

func (c *Configurator) costFor(frames, resolution int) float64 {
	perFrame, ok := c.pricing.TokensPerFrame[resolution]
	if !ok {
		perFrame = 650
	}
	inputTokens := float64(frames * perFrame)
	outputTokens := float64(c.pricing.OutputTokens)
	return inputTokens/1e6*c.pricing.InputPerMillion + outputTokens/1e6*c.pricing.OutputPerMillion
}

func clampRate(rate float64) float64 {
	if rate < MinRate {
		return MinRate
	}
	if rate > MaxRate {
		return MaxRate
	}
	return rate
}
