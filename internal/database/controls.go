package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/kidtube/kidtube/internal/apperr"
	"github.com/kidtube/kidtube/pkg/models"
)

// Schedules

// ListSchedules retrieves a kid's windows ordered by day and start
func (r *Repository) ListSchedules(ctx context.Context, kidID int64) ([]models.ScheduleWindow, error) {
	query := `
		SELECT id, kid_id, day_of_week, start_time, end_time, created_at
		FROM schedule_windows
		WHERE kid_id = $1
		ORDER BY day_of_week, start_time, id
	`

	rows, err := r.db.Pool.Query(ctx, query, kidID)
	if err != nil {
		return nil, fmt.Errorf("failed to list schedules: %w", err)
	}
	defer rows.Close()

	windows := []models.ScheduleWindow{}
	for rows.Next() {
		var w models.ScheduleWindow
		if err := rows.Scan(&w.ID, &w.KidID, &w.DayOfWeek, &w.StartTime, &w.EndTime, &w.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan schedule: %w", err)
		}
		windows = append(windows, w)
	}
	return windows, rows.Err()
}

// CreateSchedule inserts a window, filling its ID and creation time
func (r *Repository) CreateSchedule(ctx context.Context, w *models.ScheduleWindow) error {
	query := `
		INSERT INTO schedule_windows (kid_id, day_of_week, start_time, end_time)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`

	err := r.db.Pool.QueryRow(ctx, query, w.KidID, w.DayOfWeek, w.StartTime, w.EndTime).Scan(&w.ID, &w.CreatedAt)
	if isForeignKeyViolation(err) {
		return apperr.NotFound("kid")
	}
	if err != nil {
		return fmt.Errorf("failed to create schedule: %w", err)
	}
	return nil
}

// DeleteSchedule removes one of a kid's windows
func (r *Repository) DeleteSchedule(ctx context.Context, kidID, scheduleID int64) error {
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM schedule_windows WHERE id = $1 AND kid_id = $2`, scheduleID, kidID)
	if err != nil {
		return fmt.Errorf("failed to delete schedule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("schedule")
	}
	return nil
}

// Bonus grants

func insertGrant(ctx context.Context, tx pgx.Tx, g *models.BonusGrant) error {
	query := `
		INSERT INTO bonus_grants (kid_id, minutes, expires_at, created_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`
	err := tx.QueryRow(ctx, query, g.KidID, g.Minutes, g.ExpiresAt, g.CreatedAt).Scan(&g.ID)
	if isForeignKeyViolation(err) {
		return apperr.NotFound("kid")
	}
	if err != nil {
		return fmt.Errorf("failed to create bonus grant: %w", err)
	}
	return nil
}

// CreateBonusGrant inserts a grant, filling its ID
func (r *Repository) CreateBonusGrant(ctx context.Context, g *models.BonusGrant) error {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := insertGrant(ctx, tx, g); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// ListActiveBonusGrants retrieves a kid's grants still active at now
func (r *Repository) ListActiveBonusGrants(ctx context.Context, kidID int64, now time.Time) ([]models.BonusGrant, error) {
	query := `
		SELECT id, kid_id, minutes, expires_at, created_at
		FROM bonus_grants
		WHERE kid_id = $1 AND (expires_at IS NULL OR expires_at > $2)
		ORDER BY created_at DESC
	`

	rows, err := r.db.Pool.Query(ctx, query, kidID, now)
	if err != nil {
		return nil, fmt.Errorf("failed to list bonus grants: %w", err)
	}
	defer rows.Close()

	grants := []models.BonusGrant{}
	for rows.Next() {
		var g models.BonusGrant
		if err := rows.Scan(&g.ID, &g.KidID, &g.Minutes, &g.ExpiresAt, &g.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan bonus grant: %w", err)
		}
		grants = append(grants, g)
	}
	return grants, rows.Err()
}

// SweepExpiredGrants deletes grants that expired before cutoff
func (r *Repository) SweepExpiredGrants(ctx context.Context, cutoff time.Time) (int64, error) {
	defer observe("sweep_bonus_grants", time.Now())

	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM bonus_grants WHERE expires_at IS NOT NULL AND expires_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep bonus grants: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Category limits

// UpsertCategoryLimit sets a kid's override for a category
func (r *Repository) UpsertCategoryLimit(ctx context.Context, limit models.CategoryLimit) error {
	query := `
		INSERT INTO category_limits (kid_id, category_id, daily_limit_minutes)
		VALUES ($1, $2, $3)
		ON CONFLICT (kid_id, category_id) DO UPDATE SET daily_limit_minutes = EXCLUDED.daily_limit_minutes
	`

	_, err := r.db.Pool.Exec(ctx, query, limit.KidID, limit.CategoryID, limit.DailyLimitMinutes)
	if isForeignKeyViolation(err) {
		return apperr.NotFound("kid or category")
	}
	if err != nil {
		return fmt.Errorf("failed to upsert category limit: %w", err)
	}
	return nil
}

// DeleteCategoryLimit removes a kid's override, restoring the category default
func (r *Repository) DeleteCategoryLimit(ctx context.Context, kidID, categoryID int64) error {
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM category_limits WHERE kid_id = $1 AND category_id = $2`, kidID, categoryID)
	if err != nil {
		return fmt.Errorf("failed to delete category limit: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("category limit")
	}
	return nil
}
