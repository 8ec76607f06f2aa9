package monitor

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by stores when the requested record does not exist.
var ErrNotFound = errors.New("not found")

// VideoStore persists video records. Status transitions go through the
// lifecycle manager, which is the only caller of the mutating methods.
type VideoStore interface {
	CreateVideo(ctx context.Context, video Video) (bool, error)
	GetVideo(ctx context.Context, id string) (Video, error)
	MarkProcessing(ctx context.Context, id string, startedAt time.Time) (bool, error)
	MarkAnalyzed(ctx context.Context, id string, score float64, tier RiskTier, categories []string) error
	MarkFailed(ctx context.Context, id string, errText string) error
	ResetToDiscovered(ctx context.Context, id string) (bool, error)
	UpdateRisk(ctx context.Context, id string, score float64, tier RiskTier) error
	ListVideos(ctx context.Context, filter VideoFilter) ([]Video, error)
}

// VideoFilter narrows ListVideos results. Zero values mean "no constraint".
type VideoFilter struct {
	Status    VideoStatus
	Tier      RiskTier
	ChannelID string
	MinScore  float64
	Since     time.Time
	Until     time.Time
	Limit     int
}

// AttemptStore persists the append-only analysis attempt log.
type AttemptStore interface {
	AppendAttempt(ctx context.Context, attempt Attempt) error
	CloseLatestAttempt(ctx context.Context, videoID string, status AttemptStatus, errText string, finishedAt time.Time) error
	MarkAttemptFailed(ctx context.Context, attemptID string, errText string, finishedAt time.Time) (bool, error)
	ListRunningBefore(ctx context.Context, cutoff time.Time) ([]Attempt, error)
	ListAttempts(ctx context.Context, videoID string) ([]Attempt, error)
}

// KeywordStore persists keyword scan rotation state.
type KeywordStore interface {
	UpsertKeyword(ctx context.Context, kw KeywordState) error
	GetKeyword(ctx context.Context, term string) (KeywordState, error)
	ListKeywords(ctx context.Context) ([]KeywordState, error)
	UpdateScanState(ctx context.Context, kw KeywordState) error
}

// ChannelStore persists per-channel aggregates.
type ChannelStore interface {
	ApplyOutcome(ctx context.Context, channelID string, infringing bool, at time.Time) error
	GetChannel(ctx context.Context, channelID string) (ChannelStats, error)
	ListChannels(ctx context.Context) ([]ChannelStats, error)
	UpdateRiskScore(ctx context.Context, channelID string, score float64, at time.Time) error
}

// LedgerStore persists daily quota/budget ledgers. AddUsage must be an
// atomic accumulate at the storage layer and returns the new durable total,
// so concurrent writers never lose updates.
type LedgerStore interface {
	GetLedger(ctx context.Context, name, day string) (Ledger, error)
	AddUsage(ctx context.Context, name, day string, amount float64, items int) (Ledger, error)
}

// EvidenceStore archives raw analysis payloads for audit.
type EvidenceStore interface {
	PutEvidence(ctx context.Context, path string, data []byte) (string, error)
}

// Queue provides enqueue/dequeue semantics for analysis dispatch messages.
type Queue interface {
	Enqueue(ctx context.Context, msg DispatchMessage) error
	Dequeue(ctx context.Context) (DispatchMessage, error)
	Close() error
}

// Discoverer is the video-platform search collaborator.
type Discoverer interface {
	Search(ctx context.Context, keyword string, windowStart, windowEnd time.Time) ([]Candidate, error)
}

// Analyzer is the AI content-analysis collaborator.
type Analyzer interface {
	Analyze(ctx context.Context, video Video, cfg SamplingConfig) (AnalysisOutcome, error)
}

// Clock returns the current time (swappable in tests).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces attempt IDs.
type IDGenerator interface {
	NewID() (string, error)
}
