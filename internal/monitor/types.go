// Package monitor defines core types shared across subsystems.
package monitor

import (
	"time"
)

// VideoStatus represents the lifecycle state of a discovered video.
type VideoStatus string

// Video status values persisted in the video store. Transitions are owned
// exclusively by the lifecycle manager.
const (
	VideoStatusDiscovered VideoStatus = "discovered"
	VideoStatusProcessing VideoStatus = "processing"
	VideoStatusAnalyzed   VideoStatus = "analyzed"
	VideoStatusFailed     VideoStatus = "failed"
)

// RiskTier is the discretized risk bucket derived from a numeric score.
type RiskTier string

// Risk tiers ordered from most to least severe.
const (
	TierCritical RiskTier = "CRITICAL"
	TierHigh     RiskTier = "HIGH"
	TierMedium   RiskTier = "MEDIUM"
	TierLow      RiskTier = "LOW"
	TierVeryLow  RiskTier = "VERY_LOW"
)

// Priority ranks keywords for scan rotation.
type Priority string

// Keyword priority tiers.
const (
	PriorityHigh   Priority = "HIGH"
	PriorityMedium Priority = "MEDIUM"
	PriorityLow    Priority = "LOW"
)

// ScanDirection indicates which way a keyword's scan window is walking.
type ScanDirection string

// Scan directions.
const (
	ScanForward  ScanDirection = "forward"
	ScanBackward ScanDirection = "backward"
)

// AttemptStatus represents the state of one analysis attempt.
type AttemptStatus string

// Attempt status values. The attempt log is append-only; an attempt left in
// running past the stuck threshold is the signal that its worker died.
const (
	AttemptRunning   AttemptStatus = "running"
	AttemptCompleted AttemptStatus = "completed"
	AttemptFailed    AttemptStatus = "failed"
)

// Video is one discovered content unit subject to analysis.
type Video struct {
	ID                  string      `json:"id"`
	ChannelID           string      `json:"channel_id"`
	Title               string      `json:"title"`
	Status              VideoStatus `json:"status"`
	RiskScore           float64     `json:"risk_score"`
	RiskTier            RiskTier    `json:"risk_tier"`
	MatchedCategories   []string    `json:"matched_categories,omitempty"`
	DurationSeconds     int         `json:"duration_seconds"`
	ViewCount           int64       `json:"view_count"`
	LikeCount           int64       `json:"like_count"`
	CommentCount        int64       `json:"comment_count"`
	PublishedAt         time.Time   `json:"published_at"`
	DiscoveredAt        time.Time   `json:"discovered_at"`
	ProcessingStartedAt *time.Time  `json:"processing_started_at,omitempty"`
	ErrorText           string      `json:"error_text,omitempty"`
}

// Attempt is one append-only analysis attempt for a video.
type Attempt struct {
	ID         string        `json:"id"`
	VideoID    string        `json:"video_id"`
	Status     AttemptStatus `json:"status"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt *time.Time    `json:"finished_at,omitempty"`
	ErrorText  string        `json:"error_text,omitempty"`
}

// KeywordState tracks the scan rotation state for one search term.
type KeywordState struct {
	Term          string        `json:"term"`
	Priority      Priority      `json:"priority"`
	Direction     ScanDirection `json:"direction"`
	LastScannedAt *time.Time    `json:"last_scanned_at,omitempty"`
	Boundary      *time.Time    `json:"boundary,omitempty"`
	ScanCount     int           `json:"scan_count"`
	TotalFound    int           `json:"total_found"`
	LastFound     int           `json:"last_found"`
}

// ChannelStats aggregates analysis outcomes per content source.
type ChannelStats struct {
	ChannelID      string    `json:"channel_id"`
	AnalyzedCount  int       `json:"analyzed_count"`
	InfringedCount int       `json:"infringed_count"`
	ClearedCount   int       `json:"cleared_count"`
	RiskScore      float64   `json:"risk_score"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Candidate is one item returned by the discovery collaborator.
type Candidate struct {
	ID                string    `json:"id"`
	Title             string    `json:"title"`
	ChannelID         string    `json:"channel_id"`
	DurationSeconds   int       `json:"duration_seconds"`
	ViewCount         int64     `json:"view_count"`
	LikeCount         int64     `json:"like_count"`
	CommentCount      int64     `json:"comment_count"`
	PublishedAt       time.Time `json:"published_at"`
	MatchedCategories []string  `json:"matched_categories,omitempty"`
	MatchStrength     float64   `json:"match_strength"`
}

// SamplingConfig is the per-item analysis configuration produced by the
// sampling configurator.
type SamplingConfig struct {
	Rate             float64 `json:"rate"`
	TrimStartSeconds int     `json:"trim_start_seconds"`
	TrimEndSeconds   int     `json:"trim_end_seconds"`
	EffectiveSeconds int     `json:"effective_seconds"`
	Resolution       int     `json:"resolution"`
	FrameCount       int     `json:"frame_count"`
	EstimatedCost    float64 `json:"estimated_cost"`
}

// DispatchMessage is published on the work dispatch channel when a video is
// handed to the analysis workers.
type DispatchMessage struct {
	VideoID   string         `json:"video_id"`
	AttemptID string         `json:"attempt_id"`
	Tier      RiskTier       `json:"tier"`
	Sampling  SamplingConfig `json:"sampling"`
}

// AnalysisOutcome is the validated result returned by the analysis
// collaborator. It is parsed and checked once at the boundary; downstream
// consumers can rely on the fields being present.
type AnalysisOutcome struct {
	VideoID            string   `json:"video_id"`
	ContainsInfringing bool     `json:"contains_infringing"`
	Confidence         float64  `json:"confidence"`
	Categories         []string `json:"categories,omitempty"`
	CostConsumed       float64  `json:"cost_consumed"`
	RawPayload         []byte   `json:"-"`
}

// Ledger is the per-day accumulator for a consumable resource.
type Ledger struct {
	Name  string    `json:"name"`
	Day   string    `json:"day"`
	Used  float64   `json:"used"`
	Items int       `json:"items"`
	At    time.Time `json:"at"`
}

// DayKey formats t as the UTC calendar-day ledger key.
func DayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
