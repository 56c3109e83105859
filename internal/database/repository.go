package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/kidtube/kidtube/internal/apperr"
	"github.com/kidtube/kidtube/internal/metrics"
	"github.com/kidtube/kidtube/pkg/models"
)

// pgForeignKeyViolation is raised when a referenced kid or category does not exist
const pgForeignKeyViolation = "23503"

// Repository provides database operations
type Repository struct {
	db *DB
}

// NewRepository creates a new repository
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgForeignKeyViolation
}

func observe(operation string, start time.Time) {
	metrics.RecordDatabaseOperation(operation, time.Since(start).Seconds())
}

// Kids

const kidColumns = `id, name, daily_limit_minutes, weekend_bonus_minutes, bedtime_start, bedtime_end,
	require_parent_approval, pin_hash, timezone, created_at, updated_at`

func scanKid(row pgx.Row) (*models.Kid, error) {
	var kid models.Kid
	err := row.Scan(
		&kid.ID, &kid.Name, &kid.DailyLimitMinutes, &kid.WeekendBonusMinutes,
		&kid.BedtimeStart, &kid.BedtimeEnd, &kid.RequireParentApproval,
		&kid.PINHash, &kid.Timezone, &kid.CreatedAt, &kid.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &kid, nil
}

// GetKid retrieves a kid by ID
func (r *Repository) GetKid(ctx context.Context, kidID int64) (*models.Kid, error) {
	defer observe("get_kid", time.Now())

	kid, err := scanKid(r.db.Pool.QueryRow(ctx, `SELECT `+kidColumns+` FROM kids WHERE id = $1`, kidID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("kid")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get kid: %w", err)
	}
	return kid, nil
}

// ListKids retrieves all kids ordered by ID
func (r *Repository) ListKids(ctx context.Context) ([]*models.Kid, error) {
	rows, err := r.db.Pool.Query(ctx, `SELECT `+kidColumns+` FROM kids ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list kids: %w", err)
	}
	defer rows.Close()

	var kids []*models.Kid
	for rows.Next() {
		kid, err := scanKid(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan kid: %w", err)
		}
		kids = append(kids, kid)
	}
	return kids, rows.Err()
}

// Catalog

// GetCatalogEntry retrieves a video with its channel and category
func (r *Repository) GetCatalogEntry(ctx context.Context, videoYoutubeID string) (*models.CatalogEntry, error) {
	defer observe("get_catalog_entry", time.Now())

	query := `
		SELECT v.id, v.youtube_id, v.channel_id, v.title, v.duration_seconds, v.created_at,
		       ch.id, ch.youtube_id, ch.title, ch.category_id, ch.allowed, ch.enabled,
		       ch.blocked, ch.blocked_reason, ch.created_at,
		       c.id, c.name, c.enabled, c.default_daily_limit_minutes, c.created_at
		FROM videos v
		JOIN channels ch ON ch.id = v.channel_id
		LEFT JOIN categories c ON c.id = ch.category_id
		WHERE v.youtube_id = $1
	`

	var (
		entry           models.CatalogEntry
		categoryID      *int64
		categoryName    *string
		categoryEnabled *bool
		categoryLimit   *int
		categoryCreated *time.Time
	)
	err := r.db.Pool.QueryRow(ctx, query, videoYoutubeID).Scan(
		&entry.Video.ID, &entry.Video.YoutubeID, &entry.Video.ChannelID, &entry.Video.Title,
		&entry.Video.DurationSeconds, &entry.Video.CreatedAt,
		&entry.Channel.ID, &entry.Channel.YoutubeID, &entry.Channel.Title, &entry.Channel.CategoryID,
		&entry.Channel.Allowed, &entry.Channel.Enabled, &entry.Channel.Blocked,
		&entry.Channel.BlockedReason, &entry.Channel.CreatedAt,
		&categoryID, &categoryName, &categoryEnabled, &categoryLimit, &categoryCreated,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("video")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get catalog entry: %w", err)
	}

	if categoryID != nil {
		entry.Category = &models.Category{
			ID:                       *categoryID,
			Name:                     *categoryName,
			Enabled:                  *categoryEnabled,
			DefaultDailyLimitMinutes: categoryLimit,
			CreatedAt:                *categoryCreated,
		}
	}
	return &entry, nil
}

// GetVideoByYoutubeID retrieves a video by its YouTube ID
func (r *Repository) GetVideoByYoutubeID(ctx context.Context, youtubeID string) (*models.Video, error) {
	var video models.Video

	query := `
		SELECT id, youtube_id, channel_id, title, duration_seconds, created_at
		FROM videos
		WHERE youtube_id = $1
	`

	err := r.db.Pool.QueryRow(ctx, query, youtubeID).Scan(
		&video.ID, &video.YoutubeID, &video.ChannelID, &video.Title,
		&video.DurationSeconds, &video.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("video")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get video: %w", err)
	}
	return &video, nil
}

// GetChannelByYoutubeID retrieves a channel by its YouTube ID
func (r *Repository) GetChannelByYoutubeID(ctx context.Context, youtubeID string) (*models.Channel, error) {
	var ch models.Channel

	query := `
		SELECT id, youtube_id, title, category_id, allowed, enabled, blocked, blocked_reason, created_at
		FROM channels
		WHERE youtube_id = $1
	`

	err := r.db.Pool.QueryRow(ctx, query, youtubeID).Scan(
		&ch.ID, &ch.YoutubeID, &ch.Title, &ch.CategoryID, &ch.Allowed,
		&ch.Enabled, &ch.Blocked, &ch.BlockedReason, &ch.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("channel")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get channel: %w", err)
	}
	return &ch, nil
}

// allowChannel admits a channel inside the transaction approving its request
func allowChannel(ctx context.Context, tx pgx.Tx, youtubeID string) error {
	tag, err := tx.Exec(ctx, `UPDATE channels SET allowed = TRUE WHERE youtube_id = $1`, youtubeID)
	if err != nil {
		return fmt.Errorf("failed to allow channel: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("channel")
	}
	return nil
}

// GetCategory retrieves a category by ID
func (r *Repository) GetCategory(ctx context.Context, id int64) (*models.Category, error) {
	var c models.Category

	query := `
		SELECT id, name, enabled, default_daily_limit_minutes, created_at
		FROM categories
		WHERE id = $1
	`

	err := r.db.Pool.QueryRow(ctx, query, id).Scan(&c.ID, &c.Name, &c.Enabled, &c.DefaultDailyLimitMinutes, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("category")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get category: %w", err)
	}
	return &c, nil
}
