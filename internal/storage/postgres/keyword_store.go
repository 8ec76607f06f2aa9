package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"vidsentry/internal/monitor"
)

// KeywordStore persists keyword scan rotation state in Postgres.
type KeywordStore struct {
	db dbConn
}

// NewKeywordStoreWithPool constructs a KeywordStore from an existing pool.
func NewKeywordStoreWithPool(db dbConn) (*KeywordStore, error) {
	if db == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &KeywordStore{db: db}, nil
}

const keywordColumns = `term, priority, direction, last_scanned_at, boundary, scan_count, total_found, last_found`

// UpsertKeyword inserts or replaces a keyword's full state.
func (s *KeywordStore) UpsertKeyword(ctx context.Context, kw monitor.KeywordState) error {
	if kw.Term == "" {
		return fmt.Errorf("keyword term is required")
	}
	_, err := s.db.Exec(ctx, `
INSERT INTO keywords (`+keywordColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
ON CONFLICT (term) DO UPDATE SET
	priority = EXCLUDED.priority,
	direction = EXCLUDED.direction,
	last_scanned_at = EXCLUDED.last_scanned_at,
	boundary = EXCLUDED.boundary,
	scan_count = EXCLUDED.scan_count,
	total_found = EXCLUDED.total_found,
	last_found = EXCLUDED.last_found`,
		kw.Term,
		string(kw.Priority),
		string(kw.Direction),
		kw.LastScannedAt,
		kw.Boundary,
		kw.ScanCount,
		kw.TotalFound,
		kw.LastFound,
	)
	if err != nil {
		return fmt.Errorf("upsert keyword: %w", err)
	}
	return nil
}

// GetKeyword fetches one keyword state.
func (s *KeywordStore) GetKeyword(ctx context.Context, term string) (monitor.KeywordState, error) {
	row := s.db.QueryRow(ctx, `SELECT `+keywordColumns+` FROM keywords WHERE term = $1`, term)
	kw, err := scanKeyword(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return monitor.KeywordState{}, monitor.ErrNotFound
		}
		return monitor.KeywordState{}, fmt.Errorf("select keyword: %w", err)
	}
	return kw, nil
}

// ListKeywords returns all keyword states.
func (s *KeywordStore) ListKeywords(ctx context.Context) ([]monitor.KeywordState, error) {
	rows, err := s.db.Query(ctx, `SELECT `+keywordColumns+` FROM keywords ORDER BY term`)
	if err != nil {
		return nil, fmt.Errorf("list keywords: %w", err)
	}
	defer rows.Close()

	var out []monitor.KeywordState
	for rows.Next() {
		kw, err := scanKeyword(rows)
		if err != nil {
			return nil, fmt.Errorf("scan keyword: %w", err)
		}
		out = append(out, kw)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate keywords: %w", err)
	}
	return out, nil
}

// UpdateScanState replaces a keyword's rotation state after a scan.
func (s *KeywordStore) UpdateScanState(ctx context.Context, kw monitor.KeywordState) error {
	tag, err := s.db.Exec(ctx, `
UPDATE keywords SET
	direction = $2,
	last_scanned_at = $3,
	boundary = $4,
	scan_count = $5,
	total_found = $6,
	last_found = $7
WHERE term = $1`,
		kw.Term,
		string(kw.Direction),
		kw.LastScannedAt,
		kw.Boundary,
		kw.ScanCount,
		kw.TotalFound,
		kw.LastFound,
	)
	if err != nil {
		return fmt.Errorf("update scan state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return monitor.ErrNotFound
	}
	return nil
}

func scanKeyword(row pgx.Row) (monitor.KeywordState, error) {
	var (
		kw        monitor.KeywordState
		priority  string
		direction string
	)
	err := row.Scan(
		&kw.Term,
		&priority,
		&direction,
		&kw.LastScannedAt,
		&kw.Boundary,
		&kw.ScanCount,
		&kw.TotalFound,
		&kw.LastFound,
	)
	if err != nil {
		return monitor.KeywordState{}, err
	}
	kw.Priority = monitor.Priority(priority)
	kw.Direction = monitor.ScanDirection(direction)
	return kw, nil
}
