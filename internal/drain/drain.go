// Package drain coordinates graceful shutdown: once a termination signal
// arrives, no new work is admitted and the process waits for in-flight work
// to reach zero.
package drain

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Controller tracks this instance's in-flight work and its drain state.
// The counter and drain flag are per-instance: drain protects one process's
// own work, not the whole fleet.
type Controller struct {
	logger *zap.Logger

	mu       sync.Mutex
	draining bool
	inflight int
	idle     chan struct{}
}

// New constructs a Controller in the running state.
func New(logger *zap.Logger) *Controller {
	return &Controller{
		logger: logger,
		idle:   make(chan struct{}),
	}
}

// Admit reports whether new work may start. False once draining.
func (c *Controller) Admit() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.draining
}

// Begin registers one unit of in-flight work. It returns false, without
// registering, when the controller is draining: callers must fail fast
// rather than enqueue.
func (c *Controller) Begin() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.draining {
		return false
	}
	c.inflight++
	return true
}

// Done records the completion of one unit of in-flight work. The completion
// that brings the counter to zero while draining releases Wait.
func (c *Controller) Done() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inflight > 0 {
		c.inflight--
	}
	if c.draining && c.inflight == 0 {
		c.closeIdleLocked()
	}
}

// InFlight returns the current in-flight count.
func (c *Controller) InFlight() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inflight
}

// Draining reports whether drain has started.
func (c *Controller) Draining() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.draining
}

// BeginDrain transitions running -> draining. With zero in-flight work the
// controller becomes idle immediately. Repeated calls are no-ops.
func (c *Controller) BeginDrain() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.draining {
		return
	}
	c.draining = true
	c.logger.Info("drain started", zap.Int("in_flight", c.inflight))
	if c.inflight == 0 {
		c.closeIdleLocked()
	}
}

// Wait blocks until drain has started and in-flight work has reached zero,
// or the context ends.
func (c *Controller) Wait(ctx context.Context) error {
	select {
	case <-c.idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Controller) closeIdleLocked() {
	select {
	case <-c.idle:
	default:
		close(c.idle)
		c.logger.Info("drain complete")
	}
}
