package analysis

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"

	"vidsentry/internal/monitor"
)

const defaultModel = "claude-sonnet-4-5-20250929"

const systemPrompt = `You analyze video content for copyright infringement.
You receive a description of a video and its sampling parameters: frames are
extracted at the given rate and resolution over the effective duration.

Decide whether the video contains infringing use of protected content.

Respond with JSON only (no markdown):
{"contains_infringing": true, "confidence": 0.93, "categories": ["feature-film"]}`

// Config controls the Anthropic-backed analyzer.
type Config struct {
	APIKey           string
	Model            string
	MaxTokens        int64
	InputPerMillion  float64
	OutputPerMillion float64
}

// Analyzer calls the Anthropic Messages API to judge sampled video content.
type Analyzer struct {
	client anthropic.Client
	cfg    Config
	logger *zap.Logger
}

// NewAnalyzer constructs an Analyzer.
func NewAnalyzer(cfg Config, logger *zap.Logger) (*Analyzer, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("analysis.api_key is required")
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1024
	}
	return &Analyzer{
		client: anthropic.NewClient(option.WithAPIKey(cfg.APIKey)),
		cfg:    cfg,
		logger: logger,
	}, nil
}

// Analyze submits one video for judgment and returns the validated outcome.
// CostConsumed is derived from the actual token usage the API reports, not
// the pre-dispatch estimate.
func (a *Analyzer) Analyze(ctx context.Context, video monitor.Video, cfg monitor.SamplingConfig) (monitor.AnalysisOutcome, error) {
	userPrompt := fmt.Sprintf(
		"Video %s\nTitle: %s\nChannel: %s\nDuration: %ds\nMatched categories so far: %v\n\n"+
			"Sampling: %.2f frames/s at %dpx over %ds effective duration (%d frames).",
		video.ID, video.Title, video.ChannelID, video.DurationSeconds, video.MatchedCategories,
		cfg.Rate, cfg.Resolution, cfg.EffectiveSeconds, cfg.FrameCount,
	)

	message, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(a.cfg.Model),
		MaxTokens: a.cfg.MaxTokens,
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt, CacheControl: anthropic.NewCacheControlEphemeralParam()},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
		},
	})
	if err != nil {
		return monitor.AnalysisOutcome{}, fmt.Errorf("anthropic message: %w", err)
	}

	var text string
	for _, block := range message.Content {
		if block.Type == "text" {
			text = block.Text
			break
		}
	}
	if text == "" {
		return monitor.AnalysisOutcome{}, fmt.Errorf("no text content in anthropic response")
	}

	outcome, err := ParseOutcome(video.ID, []byte(text))
	if err != nil {
		return monitor.AnalysisOutcome{}, err
	}
	outcome.CostConsumed = a.tokenCost(message.Usage.InputTokens, message.Usage.OutputTokens)

	a.logger.Debug("analysis response",
		zap.String("video_id", video.ID),
		zap.Int64("tokens_in", message.Usage.InputTokens),
		zap.Int64("tokens_out", message.Usage.OutputTokens),
		zap.Float64("cost", outcome.CostConsumed),
	)
	return outcome, nil
}

func (a *Analyzer) tokenCost(inputTokens, outputTokens int64) float64 {
	return float64(inputTokens)/1e6*a.cfg.InputPerMillion +
		float64(outputTokens)/1e6*a.cfg.OutputPerMillion
}
