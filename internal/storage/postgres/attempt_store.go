package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"vidsentry/internal/monitor"
)

// AttemptStore persists the append-only analysis attempt log.
type AttemptStore struct {
	db dbConn
}

// NewAttemptStoreWithPool constructs an AttemptStore from an existing pool.
func NewAttemptStoreWithPool(db dbConn) (*AttemptStore, error) {
	if db == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &AttemptStore{db: db}, nil
}

const attemptColumns = `id, video_id, status, started_at, finished_at, error_text`

// AppendAttempt adds one attempt to the log.
func (s *AttemptStore) AppendAttempt(ctx context.Context, attempt monitor.Attempt) error {
	if attempt.ID == "" {
		return fmt.Errorf("attempt id is required")
	}
	_, err := s.db.Exec(ctx, `
INSERT INTO attempts (`+attemptColumns+`) VALUES ($1,$2,$3,$4,$5,$6)`,
		attempt.ID,
		attempt.VideoID,
		string(attempt.Status),
		attempt.StartedAt,
		attempt.FinishedAt,
		attempt.ErrorText,
	)
	if err != nil {
		return fmt.Errorf("insert attempt: %w", err)
	}
	return nil
}

// CloseLatestAttempt closes the most recently started running attempt for a
// video. Older running attempts stay as they are for reconciliation.
func (s *AttemptStore) CloseLatestAttempt(ctx context.Context, videoID string, status monitor.AttemptStatus, errText string, finishedAt time.Time) error {
	tag, err := s.db.Exec(ctx, `
UPDATE attempts SET status = $2, error_text = $3, finished_at = $4
WHERE id = (
	SELECT id FROM attempts
	WHERE video_id = $1 AND status = 'running'
	ORDER BY started_at DESC
	LIMIT 1
)`, videoID, string(status), errText, finishedAt)
	if err != nil {
		return fmt.Errorf("close attempt: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return monitor.ErrNotFound
	}
	return nil
}

// MarkAttemptFailed closes a specific attempt if it is still running. The
// returned bool reports whether this call closed it; false means another
// actor got there first, and the caller must not act on the attempt again.
func (s *AttemptStore) MarkAttemptFailed(ctx context.Context, attemptID string, errText string, finishedAt time.Time) (bool, error) {
	tag, err := s.db.Exec(ctx, `
UPDATE attempts SET status = 'failed', error_text = $2, finished_at = $3
WHERE id = $1 AND status = 'running'`, attemptID, errText, finishedAt)
	if err != nil {
		return false, fmt.Errorf("fail attempt: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ListRunningBefore returns running attempts started before the cutoff,
// oldest first.
func (s *AttemptStore) ListRunningBefore(ctx context.Context, cutoff time.Time) ([]monitor.Attempt, error) {
	rows, err := s.db.Query(ctx, `
SELECT `+attemptColumns+` FROM attempts
WHERE status = 'running' AND started_at < $1
ORDER BY started_at`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("list running attempts: %w", err)
	}
	defer rows.Close()
	return collectAttempts(rows)
}

// ListAttempts returns all attempts for a video, oldest first.
func (s *AttemptStore) ListAttempts(ctx context.Context, videoID string) ([]monitor.Attempt, error) {
	rows, err := s.db.Query(ctx, `
SELECT `+attemptColumns+` FROM attempts
WHERE video_id = $1
ORDER BY started_at`, videoID)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	defer rows.Close()
	return collectAttempts(rows)
}

func collectAttempts(rows pgx.Rows) ([]monitor.Attempt, error) {
	var out []monitor.Attempt
	for rows.Next() {
		var (
			attempt monitor.Attempt
			status  string
		)
		if err := rows.Scan(
			&attempt.ID,
			&attempt.VideoID,
			&status,
			&attempt.StartedAt,
			&attempt.FinishedAt,
			&attempt.ErrorText,
		); err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		attempt.Status = monitor.AttemptStatus(status)
		out = append(out, attempt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attempts: %w", err)
	}
	return out, nil
}
