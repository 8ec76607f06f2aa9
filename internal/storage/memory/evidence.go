package memory

import (
	"context"
	"sync"
)

// EvidenceArchive keeps raw analysis payloads in memory, keyed by path.
type EvidenceArchive struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

// NewEvidenceArchive constructs an empty archive.
func NewEvidenceArchive() *EvidenceArchive {
	return &EvidenceArchive{objects: make(map[string][]byte)}
}

// PutEvidence stores a payload copy and returns a mem:// URI for it.
func (a *EvidenceArchive) PutEvidence(_ context.Context, path string, data []byte) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	buf := make([]byte, len(data))
	copy(buf, data)
	a.objects[path] = buf
	return "mem://" + path, nil
}

// Get returns a stored payload, for tests.
func (a *EvidenceArchive) Get(path string) ([]byte, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	data, ok := a.objects[path]
	return data, ok
}
