package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"vidsentry/internal/monitor"
)

// VideoStore persists video records in Postgres.
type VideoStore struct {
	db dbConn
}

// NewVideoStoreWithPool constructs a VideoStore from an existing pool.
func NewVideoStoreWithPool(db dbConn) (*VideoStore, error) {
	if db == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &VideoStore{db: db}, nil
}

const videoColumns = `id, channel_id, title, status, risk_score, risk_tier, matched_categories,
duration_seconds, view_count, like_count, comment_count, published_at, discovered_at,
processing_started_at, error_text`

// CreateVideo inserts a new video row. Duplicate IDs are reported via the
// bool return rather than an error.
func (s *VideoStore) CreateVideo(ctx context.Context, video monitor.Video) (bool, error) {
	if video.ID == "" {
		return false, fmt.Errorf("video id is required")
	}
	tag, err := s.db.Exec(ctx, `
INSERT INTO videos (`+videoColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
ON CONFLICT (id) DO NOTHING`,
		video.ID,
		video.ChannelID,
		video.Title,
		string(video.Status),
		video.RiskScore,
		string(video.RiskTier),
		categoriesArg(video.MatchedCategories),
		video.DurationSeconds,
		video.ViewCount,
		video.LikeCount,
		video.CommentCount,
		video.PublishedAt,
		video.DiscoveredAt,
		video.ProcessingStartedAt,
		video.ErrorText,
	)
	if err != nil {
		return false, fmt.Errorf("insert video: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// GetVideo fetches a video by ID.
func (s *VideoStore) GetVideo(ctx context.Context, id string) (monitor.Video, error) {
	row := s.db.QueryRow(ctx, `SELECT `+videoColumns+` FROM videos WHERE id = $1`, id)
	video, err := scanVideo(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return monitor.Video{}, monitor.ErrNotFound
		}
		return monitor.Video{}, fmt.Errorf("select video: %w", err)
	}
	return video, nil
}

// MarkProcessing transitions discovered -> processing. The WHERE clause on
// the source status makes concurrent claims race-safe: exactly one caller
// sees true.
func (s *VideoStore) MarkProcessing(ctx context.Context, id string, startedAt time.Time) (bool, error) {
	tag, err := s.db.Exec(ctx, `
UPDATE videos SET status = 'processing', processing_started_at = $2
WHERE id = $1 AND status = 'discovered'`, id, startedAt)
	if err != nil {
		return false, fmt.Errorf("mark processing: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// MarkAnalyzed finalizes a video as analyzed. Categories are only replaced
// when the analysis produced some.
func (s *VideoStore) MarkAnalyzed(ctx context.Context, id string, score float64, tier monitor.RiskTier, categories []string) error {
	tag, err := s.db.Exec(ctx, `
UPDATE videos SET
	status = 'analyzed',
	risk_score = $2,
	risk_tier = $3,
	matched_categories = CASE WHEN cardinality($4::text[]) > 0 THEN $4::text[] ELSE matched_categories END,
	processing_started_at = NULL,
	error_text = ''
WHERE id = $1`, id, score, string(tier), categoriesArg(categories))
	if err != nil {
		return fmt.Errorf("mark analyzed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return monitor.ErrNotFound
	}
	return nil
}

// MarkFailed finalizes a video as failed with a diagnostic.
func (s *VideoStore) MarkFailed(ctx context.Context, id string, errText string) error {
	tag, err := s.db.Exec(ctx, `
UPDATE videos SET status = 'failed', error_text = $2, processing_started_at = NULL
WHERE id = $1`, id, errText)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return monitor.ErrNotFound
	}
	return nil
}

// ResetToDiscovered returns a processing video to discovered. Videos in any
// other state are left alone.
func (s *VideoStore) ResetToDiscovered(ctx context.Context, id string) (bool, error) {
	tag, err := s.db.Exec(ctx, `
UPDATE videos SET status = 'discovered', processing_started_at = NULL
WHERE id = $1 AND status = 'processing'`, id)
	if err != nil {
		return false, fmt.Errorf("reset video: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// UpdateRisk stores a rescored score and tier.
func (s *VideoStore) UpdateRisk(ctx context.Context, id string, score float64, tier monitor.RiskTier) error {
	tag, err := s.db.Exec(ctx, `
UPDATE videos SET risk_score = $2, risk_tier = $3 WHERE id = $1`, id, score, string(tier))
	if err != nil {
		return fmt.Errorf("update risk: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return monitor.ErrNotFound
	}
	return nil
}

// ListVideos queries videos with the dynamic filter, newest discovery first.
func (s *VideoStore) ListVideos(ctx context.Context, filter monitor.VideoFilter) ([]monitor.Video, error) {
	builder := sq.StatementBuilder.PlaceholderFormat(sq.Dollar).
		Select(videoColumns).
		From("videos").
		OrderBy("discovered_at DESC")
	if filter.Status != "" {
		builder = builder.Where(sq.Eq{"status": string(filter.Status)})
	}
	if filter.Tier != "" {
		builder = builder.Where(sq.Eq{"risk_tier": string(filter.Tier)})
	}
	if filter.ChannelID != "" {
		builder = builder.Where(sq.Eq{"channel_id": filter.ChannelID})
	}
	if filter.MinScore > 0 {
		builder = builder.Where(sq.GtOrEq{"risk_score": filter.MinScore})
	}
	if !filter.Since.IsZero() {
		builder = builder.Where(sq.GtOrEq{"discovered_at": filter.Since})
	}
	if !filter.Until.IsZero() {
		builder = builder.Where(sq.LtOrEq{"discovered_at": filter.Until})
	}
	if filter.Limit > 0 {
		builder = builder.Limit(uint64(filter.Limit))
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build video query: %w", err)
	}
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list videos: %w", err)
	}
	defer rows.Close()

	var out []monitor.Video
	for rows.Next() {
		video, err := scanVideo(rows)
		if err != nil {
			return nil, fmt.Errorf("scan video: %w", err)
		}
		out = append(out, video)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list videos: %w", err)
	}
	return out, nil
}

func scanVideo(row pgx.Row) (monitor.Video, error) {
	var (
		video  monitor.Video
		status string
		tier   string
	)
	err := row.Scan(
		&video.ID,
		&video.ChannelID,
		&video.Title,
		&status,
		&video.RiskScore,
		&tier,
		&video.MatchedCategories,
		&video.DurationSeconds,
		&video.ViewCount,
		&video.LikeCount,
		&video.CommentCount,
		&video.PublishedAt,
		&video.DiscoveredAt,
		&video.ProcessingStartedAt,
		&video.ErrorText,
	)
	if err != nil {
		return monitor.Video{}, err
	}
	video.Status = monitor.VideoStatus(status)
	video.RiskTier = monitor.RiskTier(tier)
	return video, nil
}

// categoriesArg keeps empty category slices as empty arrays, never NULL.
func categoriesArg(categories []string) []string {
	if categories == nil {
		return []string{}
	}
	return categories
}
