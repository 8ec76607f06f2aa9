// Package scheduler decides which search keyword to scan next and over what
// time window, rotating each keyword between a forward phase chasing new
// uploads and a backward phase backfilling history.
package scheduler

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"vidsentry/internal/monitor"
)

// Window phase constants.
const (
	// DefaultWindowDays is the sliding scan window size.
	DefaultWindowDays = 7
	// FirstScanWindow prioritizes catching new uploads on a keyword's
	// first scan.
	FirstScanWindow = 24 * time.Hour
	// ForwardSlack is how close to "now" a forward window may reach before
	// flipping backward.
	ForwardSlack = 24 * time.Hour
	// BackwardJump is how far behind "now" the backward phase starts.
	BackwardJump = 90 * 24 * time.Hour
	// MaxLookback bounds the backward phase.
	MaxLookback = 365 * 24 * time.Hour
)

// Rotation intervals per priority tier.
var rotationIntervals = map[monitor.Priority]time.Duration{
	monitor.PriorityHigh:   3 * 24 * time.Hour,
	monitor.PriorityMedium: 14 * 24 * time.Hour,
	monitor.PriorityLow:    30 * 24 * time.Hour,
}

// Window is one scan time range.
type Window struct {
	Start time.Time
	End   time.Time
}

// Scheduler owns keyword rotation state.
type Scheduler struct {
	store      monitor.KeywordStore
	clock      monitor.Clock
	logger     *zap.Logger
	windowDays int
}

// New constructs a Scheduler. windowDays <= 0 selects the default.
func New(store monitor.KeywordStore, clock monitor.Clock, logger *zap.Logger, windowDays int) *Scheduler {
	if windowDays <= 0 {
		windowDays = DefaultWindowDays
	}
	return &Scheduler{
		store:      store,
		clock:      clock,
		logger:     logger,
		windowDays: windowDays,
	}
}

// KeywordsDue returns up to limit keywords whose rotation interval has
// elapsed, ranked by priority tier, then never-scanned first, then oldest
// last scan. A store failure returns an empty slice rather than blocking the
// scan cycle.
func (s *Scheduler) KeywordsDue(ctx context.Context, limit int) []monitor.KeywordState {
	keywords, err := s.store.ListKeywords(ctx)
	if err != nil {
		s.logger.Warn("keyword list failed, skipping cycle", zap.Error(err))
		return nil
	}

	now := s.clock.Now()
	due := keywords[:0]
	for _, kw := range keywords {
		if kw.LastScannedAt == nil {
			due = append(due, kw)
			continue
		}
		if now.Sub(*kw.LastScannedAt) >= rotationIntervals[kw.Priority] {
			due = append(due, kw)
		}
	}

	sort.SliceStable(due, func(i, j int) bool {
		if pi, pj := priorityRank(due[i].Priority), priorityRank(due[j].Priority); pi != pj {
			return pi < pj
		}
		li, lj := due[i].LastScannedAt, due[j].LastScannedAt
		if (li == nil) != (lj == nil) {
			return li == nil
		}
		if li == nil {
			return due[i].Term < due[j].Term
		}
		return li.Before(*lj)
	})

	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due
}

// NextWindow computes the scan window for a keyword, advances its rotation
// state, and persists it. Any persistence failure falls back to a default
// recent window so the caller is never blocked.
func (s *Scheduler) NextWindow(ctx context.Context, kw monitor.KeywordState) (monitor.KeywordState, Window) {
	now := s.clock.Now()
	window := s.advance(&kw, now)

	scanned := now
	kw.LastScannedAt = &scanned
	kw.ScanCount++

	if err := s.store.UpdateScanState(ctx, kw); err != nil {
		s.logger.Warn("keyword state update failed, using fallback window",
			zap.String("term", kw.Term),
			zap.Error(err),
		)
		return kw, s.fallbackWindow(now)
	}
	return kw, window
}

// advance runs the direction state machine and returns the window to scan.
func (s *Scheduler) advance(kw *monitor.KeywordState, now time.Time) Window {
	windowSize := time.Duration(s.windowDays) * 24 * time.Hour

	// First encounter: the most recent 24 hours.
	if kw.Boundary == nil {
		end := now
		start := now.Add(-FirstScanWindow)
		kw.Direction = monitor.ScanForward
		kw.Boundary = &end
		return Window{Start: start, End: end}
	}

	if kw.Direction == "" {
		kw.Direction = monitor.ScanForward
	}

	switch kw.Direction {
	case monitor.ScanBackward:
		end := *kw.Boundary
		start := end.Add(-windowSize)
		if start.Before(now.Add(-MaxLookback)) {
			// Lookback exhausted: flip forward onto a recent window.
			kw.Direction = monitor.ScanForward
			end = now
			start = now.Add(-windowSize)
			kw.Boundary = &end
			return Window{Start: start, End: end}
		}
		kw.Boundary = &start
		return Window{Start: start, End: end}

	default: // forward
		start := *kw.Boundary
		end := start.Add(windowSize)
		if end.After(now.Add(-ForwardSlack)) {
			// Caught up with "now": cap the window, then jump the next
			// scan 90 days back.
			if end.After(now) {
				end = now
			}
			if end.Sub(start) < time.Hour {
				// Boundary already at "now"; rescan the freshest day
				// instead of an empty window.
				start = now.Add(-FirstScanWindow)
			}
			kw.Direction = monitor.ScanBackward
			jump := now.Add(-BackwardJump)
			kw.Boundary = &jump
			return Window{Start: start, End: end}
		}
		kw.Boundary = &end
		return Window{Start: start, End: end}
	}
}

// RecordResults accumulates scan result counts for a keyword, independent of
// the window logic. Failures are logged and swallowed.
func (s *Scheduler) RecordResults(ctx context.Context, kw monitor.KeywordState, count int) monitor.KeywordState {
	kw.TotalFound += count
	kw.LastFound = count
	if err := s.store.UpdateScanState(ctx, kw); err != nil {
		s.logger.Warn("keyword result update failed",
			zap.String("term", kw.Term),
			zap.Error(err),
		)
	}
	return kw
}

func (s *Scheduler) fallbackWindow(now time.Time) Window {
	return Window{
		Start: now.Add(-time.Duration(DefaultWindowDays) * 24 * time.Hour),
		End:   now,
	}
}

func priorityRank(p monitor.Priority) int {
	switch p {
	case monitor.PriorityHigh:
		return 0
	case monitor.PriorityMedium:
		return 1
	default:
		return 2
	}
}
