// Package memory provides in-memory store implementations for development
// and testing.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"vidsentry/internal/monitor"
)

// Stores bundles every in-memory store behind one mutex-guarded state.
type Stores struct {
	mu       sync.RWMutex
	videos   map[string]monitor.Video
	attempts []monitor.Attempt
	keywords map[string]monitor.KeywordState
	channels map[string]monitor.ChannelStats
	ledgers  map[string]monitor.Ledger
}

// NewStores constructs empty Stores.
func NewStores() *Stores {
	return &Stores{
		videos:   make(map[string]monitor.Video),
		keywords: make(map[string]monitor.KeywordState),
		channels: make(map[string]monitor.ChannelStats),
		ledgers:  make(map[string]monitor.Ledger),
	}
}

// --- VideoStore ---

// CreateVideo inserts a video; duplicate IDs are reported, not overwritten.
func (s *Stores) CreateVideo(_ context.Context, video monitor.Video) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.videos[video.ID]; exists {
		return false, nil
	}
	s.videos[video.ID] = video
	return true, nil
}

// GetVideo fetches a video by ID.
func (s *Stores) GetVideo(_ context.Context, id string) (monitor.Video, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	video, ok := s.videos[id]
	if !ok {
		return monitor.Video{}, monitor.ErrNotFound
	}
	return video, nil
}

// MarkProcessing transitions discovered -> processing, guarding the source
// state the way the SQL store's WHERE clause does.
func (s *Stores) MarkProcessing(_ context.Context, id string, startedAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	video, ok := s.videos[id]
	if !ok {
		return false, monitor.ErrNotFound
	}
	if video.Status != monitor.VideoStatusDiscovered {
		return false, nil
	}
	video.Status = monitor.VideoStatusProcessing
	video.ProcessingStartedAt = &startedAt
	s.videos[id] = video
	return true, nil
}

// MarkAnalyzed finalizes a video as analyzed.
func (s *Stores) MarkAnalyzed(_ context.Context, id string, score float64, tier monitor.RiskTier, categories []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	video, ok := s.videos[id]
	if !ok {
		return monitor.ErrNotFound
	}
	video.Status = monitor.VideoStatusAnalyzed
	video.RiskScore = score
	video.RiskTier = tier
	if len(categories) > 0 {
		video.MatchedCategories = categories
	}
	video.ProcessingStartedAt = nil
	video.ErrorText = ""
	s.videos[id] = video
	return nil
}

// MarkFailed finalizes a video as failed with a diagnostic.
func (s *Stores) MarkFailed(_ context.Context, id string, errText string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	video, ok := s.videos[id]
	if !ok {
		return monitor.ErrNotFound
	}
	video.Status = monitor.VideoStatusFailed
	video.ErrorText = errText
	video.ProcessingStartedAt = nil
	s.videos[id] = video
	return nil
}

// ResetToDiscovered is the reconciliation edge processing -> discovered.
// Videos in any other state are left alone.
func (s *Stores) ResetToDiscovered(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	video, ok := s.videos[id]
	if !ok {
		return false, nil
	}
	if video.Status != monitor.VideoStatusProcessing {
		return false, nil
	}
	video.Status = monitor.VideoStatusDiscovered
	video.ProcessingStartedAt = nil
	s.videos[id] = video
	return true, nil
}

// UpdateRisk stores a rescored score and tier.
func (s *Stores) UpdateRisk(_ context.Context, id string, score float64, tier monitor.RiskTier) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	video, ok := s.videos[id]
	if !ok {
		return monitor.ErrNotFound
	}
	video.RiskScore = score
	video.RiskTier = tier
	s.videos[id] = video
	return nil
}

// ListVideos filters and sorts videos, newest discovery first.
func (s *Stores) ListVideos(_ context.Context, filter monitor.VideoFilter) ([]monitor.Video, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []monitor.Video
	for _, video := range s.videos {
		if filter.Status != "" && video.Status != filter.Status {
			continue
		}
		if filter.Tier != "" && video.RiskTier != filter.Tier {
			continue
		}
		if filter.ChannelID != "" && video.ChannelID != filter.ChannelID {
			continue
		}
		if filter.MinScore > 0 && video.RiskScore < filter.MinScore {
			continue
		}
		if !filter.Since.IsZero() && video.DiscoveredAt.Before(filter.Since) {
			continue
		}
		if !filter.Until.IsZero() && video.DiscoveredAt.After(filter.Until) {
			continue
		}
		out = append(out, video)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].DiscoveredAt.After(out[j].DiscoveredAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// --- AttemptStore ---

// AppendAttempt adds one attempt to the log.
func (s *Stores) AppendAttempt(_ context.Context, attempt monitor.Attempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts = append(s.attempts, attempt)
	return nil
}

// CloseLatestAttempt closes the most recently started running attempt for a
// video. Older attempts stay untouched.
func (s *Stores) CloseLatestAttempt(_ context.Context, videoID string, status monitor.AttemptStatus, errText string, finishedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	latest := -1
	for i, attempt := range s.attempts {
		if attempt.VideoID != videoID || attempt.Status != monitor.AttemptRunning {
			continue
		}
		if latest == -1 || attempt.StartedAt.After(s.attempts[latest].StartedAt) {
			latest = i
		}
	}
	if latest == -1 {
		return monitor.ErrNotFound
	}
	s.attempts[latest].Status = status
	s.attempts[latest].ErrorText = errText
	s.attempts[latest].FinishedAt = &finishedAt
	return nil
}

// MarkAttemptFailed closes a specific attempt by ID if still running. The
// bool reports whether this call closed it.
func (s *Stores) MarkAttemptFailed(_ context.Context, attemptID string, errText string, finishedAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, attempt := range s.attempts {
		if attempt.ID != attemptID {
			continue
		}
		if attempt.Status != monitor.AttemptRunning {
			return false, nil
		}
		s.attempts[i].Status = monitor.AttemptFailed
		s.attempts[i].ErrorText = errText
		s.attempts[i].FinishedAt = &finishedAt
		return true, nil
	}
	return false, monitor.ErrNotFound
}

// ListRunningBefore returns running attempts started before the cutoff.
func (s *Stores) ListRunningBefore(_ context.Context, cutoff time.Time) ([]monitor.Attempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []monitor.Attempt
	for _, attempt := range s.attempts {
		if attempt.Status == monitor.AttemptRunning && attempt.StartedAt.Before(cutoff) {
			out = append(out, attempt)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out, nil
}

// ListAttempts returns all attempts for a video, oldest first.
func (s *Stores) ListAttempts(_ context.Context, videoID string) ([]monitor.Attempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []monitor.Attempt
	for _, attempt := range s.attempts {
		if attempt.VideoID == videoID {
			out = append(out, attempt)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out, nil
}

// --- KeywordStore ---

// UpsertKeyword inserts or replaces a keyword state.
func (s *Stores) UpsertKeyword(_ context.Context, kw monitor.KeywordState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keywords[kw.Term] = kw
	return nil
}

// GetKeyword fetches one keyword state.
func (s *Stores) GetKeyword(_ context.Context, term string) (monitor.KeywordState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	kw, ok := s.keywords[term]
	if !ok {
		return monitor.KeywordState{}, monitor.ErrNotFound
	}
	return kw, nil
}

// ListKeywords returns all keyword states.
func (s *Stores) ListKeywords(context.Context) ([]monitor.KeywordState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]monitor.KeywordState, 0, len(s.keywords))
	for _, kw := range s.keywords {
		out = append(out, kw)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Term < out[j].Term })
	return out, nil
}

// UpdateScanState replaces a keyword's rotation state.
func (s *Stores) UpdateScanState(_ context.Context, kw monitor.KeywordState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keywords[kw.Term] = kw
	return nil
}

// --- ChannelStore ---

// ApplyOutcome accumulates one analysis verdict into a channel aggregate.
func (s *Stores) ApplyOutcome(_ context.Context, channelID string, infringing bool, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := s.channels[channelID]
	stats.ChannelID = channelID
	stats.AnalyzedCount++
	if infringing {
		stats.InfringedCount++
	} else {
		stats.ClearedCount++
	}
	stats.UpdatedAt = at
	s.channels[channelID] = stats
	return nil
}

// GetChannel fetches one channel aggregate.
func (s *Stores) GetChannel(_ context.Context, channelID string) (monitor.ChannelStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats, ok := s.channels[channelID]
	if !ok {
		return monitor.ChannelStats{}, monitor.ErrNotFound
	}
	return stats, nil
}

// ListChannels returns all channel aggregates.
func (s *Stores) ListChannels(context.Context) ([]monitor.ChannelStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]monitor.ChannelStats, 0, len(s.channels))
	for _, stats := range s.channels {
		out = append(out, stats)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChannelID < out[j].ChannelID })
	return out, nil
}

// UpdateRiskScore stores a recomputed channel risk score.
func (s *Stores) UpdateRiskScore(_ context.Context, channelID string, score float64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := s.channels[channelID]
	stats.ChannelID = channelID
	stats.RiskScore = score
	stats.UpdatedAt = at
	s.channels[channelID] = stats
	return nil
}

// --- LedgerStore ---

func ledgerKey(name, day string) string { return name + "/" + day }

// GetLedger fetches one daily ledger.
func (s *Stores) GetLedger(_ context.Context, name, day string) (monitor.Ledger, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ledger, ok := s.ledgers[ledgerKey(name, day)]
	if !ok {
		return monitor.Ledger{}, monitor.ErrNotFound
	}
	return ledger, nil
}

// AddUsage atomically accumulates usage and returns the new total.
func (s *Stores) AddUsage(_ context.Context, name, day string, amount float64, items int) (monitor.Ledger, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ledger := s.ledgers[ledgerKey(name, day)]
	ledger.Name = name
	ledger.Day = day
	ledger.Used += amount
	ledger.Items += items
	ledger.At = time.Now().UTC()
	s.ledgers[ledgerKey(name, day)] = ledger
	return ledger, nil
}
