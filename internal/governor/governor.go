// Package governor implements daily consumable-resource admission control.
// The discovery quota and the analysis budget are two instances of the same
// pattern: a per-day ledger, a cost table, and a warning threshold.
package governor

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"vidsentry/internal/monitor"
	"vidsentry/internal/telemetry"
)

// Operation identifies a costed operation kind.
type Operation string

// Operation kinds charged against the governors.
const (
	OpSearch   Operation = "search"
	OpAnalysis Operation = "analysis"
)

// WarnThreshold is the utilization fraction that triggers the once-per-day
// warning.
const WarnThreshold = 0.8

// Config describes one governor instance.
type Config struct {
	Name       string
	DailyLimit float64
	Costs      map[Operation]float64
}

// Governor tracks a consumable daily resource. The in-memory total is a
// cache of the durable ledger, authoritative only for the cached day key;
// it is refreshed whenever the UTC day rolls over.
type Governor struct {
	cfg    Config
	store  monitor.LedgerStore
	clock  monitor.Clock
	logger *zap.Logger

	mu     sync.Mutex
	day    string
	used   float64
	items  int
	warned bool
}

// New constructs a Governor. The ledger cache loads lazily on first use.
func New(cfg Config, store monitor.LedgerStore, clock monitor.Clock, logger *zap.Logger) *Governor {
	return &Governor{
		cfg:    cfg,
		store:  store,
		clock:  clock,
		logger: logger,
	}
}

// Name returns the governor's ledger name.
func (g *Governor) Name() string {
	return g.cfg.Name
}

// Limit returns the configured daily limit.
func (g *Governor) Limit() float64 {
	return g.cfg.DailyLimit
}

// Cost returns the configured cost of one operation of the given kind.
func (g *Governor) Cost(op Operation) float64 {
	return g.cfg.Costs[op]
}

// CanAfford reports whether count operations of the given kind fit in the
// remaining daily budget. Fails closed at the boundary: exactly reaching the
// limit is allowed, one unit past it is not. Never mutates the ledger.
func (g *Governor) CanAfford(ctx context.Context, op Operation, count int) bool {
	return g.CanAffordAmount(ctx, g.cfg.Costs[op]*float64(count))
}

// CanAffordAmount is CanAfford for a pre-computed cost, used with the
// sampling configurator's per-item estimates.
func (g *Governor) CanAffordAmount(ctx context.Context, amount float64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.refreshLocked(ctx)
	return g.used+amount <= g.cfg.DailyLimit
}

// RecordUsage adds consumed cost for the given operation kind to the ledger.
func (g *Governor) RecordUsage(ctx context.Context, op Operation, count int) {
	g.RecordAmount(ctx, g.cfg.Costs[op]*float64(count), count)
}

// RecordAmount accumulates a raw consumed amount plus an item count. The
// durable write is an atomic increment; the returned total replaces the
// cache so concurrent writers on other instances are folded in. If the
// store is unreachable the in-memory total still advances, degrading to
// worst-known-usage instead of failing the caller.
func (g *Governor) RecordAmount(ctx context.Context, amount float64, items int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.refreshLocked(ctx)

	g.used += amount
	g.items += items

	ledger, err := g.store.AddUsage(ctx, g.cfg.Name, g.day, amount, items)
	if err != nil {
		g.logger.Warn("ledger write failed, keeping cached total",
			zap.String("governor", g.cfg.Name),
			zap.Error(err),
		)
	} else {
		g.used = ledger.Used
		g.items = ledger.Items
	}

	telemetry.SetGovernorUtilization(g.cfg.Name, g.utilizationLocked())
	g.maybeWarnLocked()
}

// Remaining returns the unconsumed portion of the daily limit, clamped to
// [0, limit].
func (g *Governor) Remaining(ctx context.Context) float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.refreshLocked(ctx)
	remaining := g.cfg.DailyLimit - g.used
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Utilization returns consumed/limit clamped to [0, 1].
func (g *Governor) Utilization(ctx context.Context) float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.refreshLocked(ctx)
	return g.utilizationLocked()
}

// DailyTotal returns the consumed amount and item count for the current day.
func (g *Governor) DailyTotal(ctx context.Context) (float64, int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.refreshLocked(ctx)
	return g.used, g.items
}

// Reset clears the cache and warning latch, forcing a reload on next use.
func (g *Governor) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.day = ""
	g.used = 0
	g.items = 0
	g.warned = false
}

func (g *Governor) utilizationLocked() float64 {
	if g.cfg.DailyLimit <= 0 {
		return 1
	}
	u := g.used / g.cfg.DailyLimit
	if u < 0 {
		return 0
	}
	if u > 1 {
		return 1
	}
	return u
}

// refreshLocked reloads the ledger when the UTC day key has moved past the
// cached one. A load failure keeps the stale cache rather than raising.
func (g *Governor) refreshLocked(ctx context.Context) {
	today := monitor.DayKey(g.clock.Now())
	if today == g.day {
		return
	}

	previous := g.day
	g.day = today
	g.warned = false
	g.used = 0
	g.items = 0

	ledger, err := g.store.GetLedger(ctx, g.cfg.Name, today)
	switch err {
	case nil:
		g.used = ledger.Used
		g.items = ledger.Items
	case monitor.ErrNotFound:
		// New day, zero consumption.
	default:
		g.logger.Warn("ledger load failed, assuming zero usage for new day",
			zap.String("governor", g.cfg.Name),
			zap.String("day", today),
			zap.Error(err),
		)
	}

	if previous != "" {
		g.logger.Info("governor day rollover",
			zap.String("governor", g.cfg.Name),
			zap.String("from", previous),
			zap.String("to", today),
			zap.Float64("used", g.used),
		)
	}
}

func (g *Governor) maybeWarnLocked() {
	if g.warned || g.utilizationLocked() < WarnThreshold {
		return
	}
	g.warned = true
	g.logger.Warn("governor utilization past warning threshold",
		zap.String("governor", g.cfg.Name),
		zap.String("day", g.day),
		zap.Float64("used", g.used),
		zap.Float64("limit", g.cfg.DailyLimit),
	)
}
