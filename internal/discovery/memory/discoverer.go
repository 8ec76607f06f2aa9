// Package memory provides a canned Discoverer for development and testing.
package memory

import (
	"context"
	"sync"
	"time"

	"vidsentry/internal/monitor"
)

// Discoverer serves seeded candidates per keyword, filtered by the scan
// window against each candidate's publish time.
type Discoverer struct {
	mu         sync.RWMutex
	candidates map[string][]monitor.Candidate
}

// NewDiscoverer constructs an empty Discoverer.
func NewDiscoverer() *Discoverer {
	return &Discoverer{candidates: make(map[string][]monitor.Candidate)}
}

// Seed registers candidates returned for a keyword.
func (d *Discoverer) Seed(keyword string, candidates ...monitor.Candidate) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.candidates[keyword] = append(d.candidates[keyword], candidates...)
}

// Search returns seeded candidates published inside the window.
func (d *Discoverer) Search(_ context.Context, keyword string, windowStart, windowEnd time.Time) ([]monitor.Candidate, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []monitor.Candidate
	for _, c := range d.candidates[keyword] {
		if c.PublishedAt.Before(windowStart) || c.PublishedAt.After(windowEnd) {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}
