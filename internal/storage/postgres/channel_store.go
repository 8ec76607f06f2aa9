package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"vidsentry/internal/monitor"
)

// ChannelStore persists per-channel aggregates in Postgres.
type ChannelStore struct {
	db dbConn
}

// NewChannelStoreWithPool constructs a ChannelStore from an existing pool.
func NewChannelStoreWithPool(db dbConn) (*ChannelStore, error) {
	if db == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &ChannelStore{db: db}, nil
}

const channelColumns = `channel_id, analyzed_count, infringed_count, cleared_count, risk_score, updated_at`

// ApplyOutcome accumulates one analysis verdict into the channel aggregate.
// The increment happens in SQL so concurrent workers never lose an update.
func (s *ChannelStore) ApplyOutcome(ctx context.Context, channelID string, infringing bool, at time.Time) error {
	if channelID == "" {
		return fmt.Errorf("channel id is required")
	}
	infringed, cleared := 0, 1
	if infringing {
		infringed, cleared = 1, 0
	}
	_, err := s.db.Exec(ctx, `
INSERT INTO channels (channel_id, analyzed_count, infringed_count, cleared_count, updated_at)
VALUES ($1, 1, $2, $3, $4)
ON CONFLICT (channel_id) DO UPDATE SET
	analyzed_count = channels.analyzed_count + 1,
	infringed_count = channels.infringed_count + EXCLUDED.infringed_count,
	cleared_count = channels.cleared_count + EXCLUDED.cleared_count,
	updated_at = EXCLUDED.updated_at`,
		channelID, infringed, cleared, at)
	if err != nil {
		return fmt.Errorf("apply channel outcome: %w", err)
	}
	return nil
}

// GetChannel fetches one channel aggregate.
func (s *ChannelStore) GetChannel(ctx context.Context, channelID string) (monitor.ChannelStats, error) {
	row := s.db.QueryRow(ctx, `SELECT `+channelColumns+` FROM channels WHERE channel_id = $1`, channelID)
	stats, err := scanChannel(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return monitor.ChannelStats{}, monitor.ErrNotFound
		}
		return monitor.ChannelStats{}, fmt.Errorf("select channel: %w", err)
	}
	return stats, nil
}

// ListChannels returns all channel aggregates.
func (s *ChannelStore) ListChannels(ctx context.Context) ([]monitor.ChannelStats, error) {
	rows, err := s.db.Query(ctx, `SELECT `+channelColumns+` FROM channels ORDER BY channel_id`)
	if err != nil {
		return nil, fmt.Errorf("list channels: %w", err)
	}
	defer rows.Close()

	var out []monitor.ChannelStats
	for rows.Next() {
		stats, err := scanChannel(rows)
		if err != nil {
			return nil, fmt.Errorf("scan channel: %w", err)
		}
		out = append(out, stats)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate channels: %w", err)
	}
	return out, nil
}

// UpdateRiskScore stores a recomputed channel risk score.
func (s *ChannelStore) UpdateRiskScore(ctx context.Context, channelID string, score float64, at time.Time) error {
	tag, err := s.db.Exec(ctx, `
UPDATE channels SET risk_score = $2, updated_at = $3 WHERE channel_id = $1`,
		channelID, score, at)
	if err != nil {
		return fmt.Errorf("update channel risk: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return monitor.ErrNotFound
	}
	return nil
}

func scanChannel(row pgx.Row) (monitor.ChannelStats, error) {
	var stats monitor.ChannelStats
	err := row.Scan(
		&stats.ChannelID,
		&stats.AnalyzedCount,
		&stats.InfringedCount,
		&stats.ClearedCount,
		&stats.RiskScore,
		&stats.UpdatedAt,
	)
	if err != nil {
		return monitor.ChannelStats{}, err
	}
	return stats, nil
}
