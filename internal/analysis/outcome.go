// Package analysis turns raw model output into validated analysis outcomes
// and implements the Analyzer collaborator on the Anthropic API.
package analysis

import (
	"encoding/json"
	"fmt"
	"strings"

	"vidsentry/internal/monitor"
)

// rawOutcome uses pointers for the required fields so a missing key is
// distinguishable from a zero value.
type rawOutcome struct {
	ContainsInfringing *bool    `json:"contains_infringing"`
	Confidence         *float64 `json:"confidence"`
	Categories         []string `json:"categories"`
}

// ParseOutcome validates a raw model response once at the boundary.
// Everything downstream receives a fully populated outcome or nothing.
func ParseOutcome(videoID string, payload []byte) (monitor.AnalysisOutcome, error) {
	text := strings.TrimSpace(string(payload))
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	var raw rawOutcome
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return monitor.AnalysisOutcome{}, fmt.Errorf("parse analysis response: %w", err)
	}
	if raw.ContainsInfringing == nil {
		return monitor.AnalysisOutcome{}, fmt.Errorf("analysis response missing contains_infringing")
	}
	if raw.Confidence == nil {
		return monitor.AnalysisOutcome{}, fmt.Errorf("analysis response missing confidence")
	}
	if *raw.Confidence < 0 || *raw.Confidence > 1 {
		return monitor.AnalysisOutcome{}, fmt.Errorf("analysis confidence %v out of range [0,1]", *raw.Confidence)
	}
	return monitor.AnalysisOutcome{
		VideoID:            videoID,
		ContainsInfringing: *raw.ContainsInfringing,
		Confidence:         *raw.Confidence,
		Categories:         raw.Categories,
		RawPayload:         payload,
	}, nil
}
