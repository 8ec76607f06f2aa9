package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"vidsentry/internal/monitor"
)

func TestCreateVideoReportsDuplicate(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewVideoStoreWithPool(mock)
	require.NoError(t, err)

	now := time.Unix(1760000000, 0).UTC()
	video := monitor.Video{
		ID:                "vid-1",
		ChannelID:         "chan-1",
		Title:             "full movie upload",
		Status:            monitor.VideoStatusDiscovered,
		RiskScore:         72,
		RiskTier:          monitor.TierHigh,
		MatchedCategories: []string{"feature-film"},
		DurationSeconds:   900,
		ViewCount:         12000,
		PublishedAt:       now.Add(-48 * time.Hour),
		DiscoveredAt:      now,
	}

	mock.ExpectExec("INSERT INTO videos").
		WithArgs(
			video.ID,
			video.ChannelID,
			video.Title,
			"discovered",
			video.RiskScore,
			"HIGH",
			[]string{"feature-film"},
			video.DurationSeconds,
			video.ViewCount,
			video.LikeCount,
			video.CommentCount,
			video.PublishedAt,
			video.DiscoveredAt,
			video.ProcessingStartedAt,
			video.ErrorText,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	created, err := store.CreateVideo(context.Background(), video)
	require.NoError(t, err)
	require.True(t, created)

	// ON CONFLICT DO NOTHING reports zero rows for a duplicate.
	mock.ExpectExec("INSERT INTO videos").
		WithArgs(
			video.ID,
			video.ChannelID,
			video.Title,
			"discovered",
			video.RiskScore,
			"HIGH",
			[]string{"feature-film"},
			video.DurationSeconds,
			video.ViewCount,
			video.LikeCount,
			video.CommentCount,
			video.PublishedAt,
			video.DiscoveredAt,
			video.ProcessingStartedAt,
			video.ErrorText,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	created, err = store.CreateVideo(context.Background(), video)
	require.NoError(t, err)
	require.False(t, created)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkProcessingGuardsSourceStatus(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewVideoStoreWithPool(mock)
	require.NoError(t, err)

	now := time.Unix(1760000000, 0).UTC()

	mock.ExpectExec("UPDATE videos SET status = 'processing'").
		WithArgs("vid-1", now).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	moved, err := store.MarkProcessing(context.Background(), "vid-1", now)
	require.NoError(t, err)
	require.True(t, moved)

	// Second claim matches no discovered row and loses.
	mock.ExpectExec("UPDATE videos SET status = 'processing'").
		WithArgs("vid-1", now).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	moved, err = store.MarkProcessing(context.Background(), "vid-1", now)
	require.NoError(t, err)
	require.False(t, moved)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListVideosAppliesFilter(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewVideoStoreWithPool(mock)
	require.NoError(t, err)

	now := time.Unix(1760000000, 0).UTC()
	rows := pgxmock.NewRows([]string{
		"id", "channel_id", "title", "status", "risk_score", "risk_tier", "matched_categories",
		"duration_seconds", "view_count", "like_count", "comment_count", "published_at",
		"discovered_at", "processing_started_at", "error_text",
	}).AddRow(
		"vid-1", "chan-1", "full movie upload", "discovered", 72.0, "HIGH", []string{"feature-film"},
		900, int64(12000), int64(0), int64(0), now.Add(-48*time.Hour),
		now, (*time.Time)(nil), "",
	)

	mock.ExpectQuery("SELECT (.+) FROM videos WHERE status = .+ AND risk_score >= .+ ORDER BY discovered_at DESC LIMIT 10").
		WithArgs("discovered", 50.0).
		WillReturnRows(rows)

	got, err := store.ListVideos(context.Background(), monitor.VideoFilter{
		Status:   monitor.VideoStatusDiscovered,
		MinScore: 50,
		Limit:    10,
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "vid-1", got[0].ID)
	require.Equal(t, monitor.TierHigh, got[0].RiskTier)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCloseLatestAttemptRequiresRunningRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewAttemptStoreWithPool(mock)
	require.NoError(t, err)

	finished := time.Unix(1760000000, 0).UTC()

	mock.ExpectExec("UPDATE attempts SET status").
		WithArgs("vid-1", "completed", "", finished).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, store.CloseLatestAttempt(context.Background(), "vid-1", monitor.AttemptCompleted, "", finished))

	mock.ExpectExec("UPDATE attempts SET status").
		WithArgs("vid-1", "completed", "", finished).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	err = store.CloseLatestAttempt(context.Background(), "vid-1", monitor.AttemptCompleted, "", finished)
	require.ErrorIs(t, err, monitor.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkAttemptFailedReportsWhetherRowClosed(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewAttemptStoreWithPool(mock)
	require.NoError(t, err)

	finished := time.Unix(1760000000, 0).UTC()

	mock.ExpectExec("UPDATE attempts SET status = 'failed'").
		WithArgs("att-1", "stuck past threshold", finished).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	closed, err := store.MarkAttemptFailed(context.Background(), "att-1", "stuck past threshold", finished)
	require.NoError(t, err)
	require.True(t, closed)

	// A second closer sees that the row was already gone.
	mock.ExpectExec("UPDATE attempts SET status = 'failed'").
		WithArgs("att-1", "stuck past threshold", finished).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	closed, err = store.MarkAttemptFailed(context.Background(), "att-1", "stuck past threshold", finished)
	require.NoError(t, err)
	require.False(t, closed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyOutcomeIncrementsInSQL(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewChannelStoreWithPool(mock)
	require.NoError(t, err)

	now := time.Unix(1760000000, 0).UTC()
	mock.ExpectExec("INSERT INTO channels").
		WithArgs("chan-1", 1, 0, now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.ApplyOutcome(context.Background(), "chan-1", true, now))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAddUsageReturnsDurableTotal(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewLedgerStoreWithPool(mock)
	require.NoError(t, err)

	at := time.Unix(1760000000, 0).UTC()
	rows := pgxmock.NewRows([]string{"name", "day", "used", "items", "at"}).
		AddRow("analysis", "2026-03-01", 41.5, 12, at)

	mock.ExpectQuery("INSERT INTO ledgers").
		WithArgs("analysis", "2026-03-01", 1.5, 1, pgxmock.AnyArg()).
		WillReturnRows(rows)

	ledger, err := store.AddUsage(context.Background(), "analysis", "2026-03-01", 1.5, 1)
	require.NoError(t, err)
	require.Equal(t, 41.5, ledger.Used)
	require.Equal(t, 12, ledger.Items)
	require.NoError(t, mock.ExpectationsWereMet())
}
