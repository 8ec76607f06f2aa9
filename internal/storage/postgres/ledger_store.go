package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"vidsentry/internal/monitor"
)

// LedgerStore persists daily quota and budget ledgers in Postgres.
type LedgerStore struct {
	db dbConn
}

// NewLedgerStoreWithPool constructs a LedgerStore from an existing pool.
func NewLedgerStoreWithPool(db dbConn) (*LedgerStore, error) {
	if db == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &LedgerStore{db: db}, nil
}

// GetLedger fetches one daily ledger.
func (s *LedgerStore) GetLedger(ctx context.Context, name, day string) (monitor.Ledger, error) {
	var ledger monitor.Ledger
	err := s.db.QueryRow(ctx, `
SELECT name, day, used, items, at FROM ledgers WHERE name = $1 AND day = $2`, name, day).
		Scan(&ledger.Name, &ledger.Day, &ledger.Used, &ledger.Items, &ledger.At)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return monitor.Ledger{}, monitor.ErrNotFound
		}
		return monitor.Ledger{}, fmt.Errorf("select ledger: %w", err)
	}
	return ledger, nil
}

// AddUsage accumulates usage atomically and returns the new durable total.
// The upsert makes concurrent writers additive rather than last-write-wins.
func (s *LedgerStore) AddUsage(ctx context.Context, name, day string, amount float64, items int) (monitor.Ledger, error) {
	var ledger monitor.Ledger
	err := s.db.QueryRow(ctx, `
INSERT INTO ledgers (name, day, used, items, at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (name, day) DO UPDATE SET
	used = ledgers.used + EXCLUDED.used,
	items = ledgers.items + EXCLUDED.items,
	at = EXCLUDED.at
RETURNING name, day, used, items, at`,
		name, day, amount, items, time.Now().UTC()).
		Scan(&ledger.Name, &ledger.Day, &ledger.Used, &ledger.Items, &ledger.At)
	if err != nil {
		return monitor.Ledger{}, fmt.Errorf("add ledger usage: %w", err)
	}
	return ledger, nil
}
