// Package memory provides queue implementations for local development.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"vidsentry/internal/monitor"
)

// Queue is a bounded in-memory dispatch queue with context-aware operations.
type Queue struct {
	ch      chan monitor.DispatchMessage
	closeMu sync.Mutex
	closed  bool
}

// NewQueue constructs a new queue with the provided capacity.
func NewQueue(capacity int) *Queue {
	return &Queue{
		ch: make(chan monitor.DispatchMessage, capacity),
	}
}

// Enqueue pushes a dispatch message or returns if the context ends.
func (q *Queue) Enqueue(ctx context.Context, msg monitor.DispatchMessage) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case q.ch <- msg:
		return nil
	}
}

// Dequeue pops the next dispatch message, respecting context cancellation.
func (q *Queue) Dequeue(ctx context.Context) (monitor.DispatchMessage, error) {
	select {
	case <-ctx.Done():
		return monitor.DispatchMessage{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case msg, ok := <-q.ch:
		if !ok {
			return monitor.DispatchMessage{}, errors.New("queue closed")
		}
		return msg, nil
	}
}

// Close closes the underlying channel for shutdown. Closing twice is safe.
func (q *Queue) Close() error {
	q.closeMu.Lock()
	defer q.closeMu.Unlock()
	if q.closed {
		return nil
	}
	close(q.ch)
	q.closed = true
	return nil
}
