package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/kidtube/kidtube/internal/apperr"
	"github.com/kidtube/kidtube/internal/ledger"
	"github.com/kidtube/kidtube/pkg/models"
)

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// ActiveBonusMinutes sums the kid's grants still active at now
func (r *Repository) ActiveBonusMinutes(ctx context.Context, kidID int64, now time.Time) (int, error) {
	var minutes int
	query := `
		SELECT COALESCE(SUM(minutes), 0)
		FROM bonus_grants
		WHERE kid_id = $1 AND (expires_at IS NULL OR expires_at > $2)
	`
	if err := r.db.Pool.QueryRow(ctx, query, kidID, now).Scan(&minutes); err != nil {
		return 0, fmt.Errorf("failed to sum bonus grants: %w", err)
	}
	return minutes, nil
}

// EffectiveCategoryLimits returns minutes per enabled category, the kid's
// override taking precedence over the category default. Unlimited categories are absent.
func (r *Repository) EffectiveCategoryLimits(ctx context.Context, kidID int64) (map[int64]int, error) {
	query := `
		SELECT c.id, COALESCE(cl.daily_limit_minutes, c.default_daily_limit_minutes)
		FROM categories c
		LEFT JOIN category_limits cl ON cl.category_id = c.id AND cl.kid_id = $1
		WHERE c.enabled
		AND COALESCE(cl.daily_limit_minutes, c.default_daily_limit_minutes) IS NOT NULL
	`

	rows, err := r.db.Pool.Query(ctx, query, kidID)
	if err != nil {
		return nil, fmt.Errorf("failed to get category limits: %w", err)
	}
	defer rows.Close()

	limits := make(map[int64]int)
	for rows.Next() {
		var id int64
		var minutes int
		if err := rows.Scan(&id, &minutes); err != nil {
			return nil, fmt.Errorf("failed to scan category limit: %w", err)
		}
		limits[id] = minutes
	}
	return limits, rows.Err()
}

// DailyUsage returns the kid's ledger rows for day
func (r *Repository) DailyUsage(ctx context.Context, kidID int64, day string) ([]models.WatchLedgerEntry, error) {
	return dailyUsage(ctx, r.db.Pool, kidID, day)
}

func dailyUsage(ctx context.Context, q querier, kidID int64, day string) ([]models.WatchLedgerEntry, error) {
	query := `
		SELECT kid_id, day::text, category_id, seconds_watched, updated_at
		FROM watch_ledger_entries
		WHERE kid_id = $1 AND day = $2::date
		ORDER BY category_id
	`

	rows, err := q.Query(ctx, query, kidID, day)
	if err != nil {
		return nil, fmt.Errorf("failed to get daily usage: %w", err)
	}
	defer rows.Close()

	var entries []models.WatchLedgerEntry
	for rows.Next() {
		var e models.WatchLedgerEntry
		if err := rows.Scan(&e.KidID, &e.Day, &e.CategoryID, &e.SecondsWatched, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// IncrementWatch books inc under a lock on the kid row. The delta is clamped
// against the day's totals read inside the lock, so concurrent accruals for a
// kid serialize and never overshoot a ceiling.
func (r *Repository) IncrementWatch(ctx context.Context, inc models.LedgerIncrement) (*models.LedgerWrite, error) {
	defer observe("increment_watch", time.Now())

	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var locked int64
	err = tx.QueryRow(ctx, `SELECT id FROM kids WHERE id = $1 FOR UPDATE`, inc.KidID).Scan(&locked)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("kid")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock kid: %w", err)
	}

	var dayTotal, categoryTotal int64
	totals := `
		SELECT COALESCE(SUM(seconds_watched), 0),
		       COALESCE(SUM(seconds_watched) FILTER (WHERE category_id = $3), 0)
		FROM watch_ledger_entries
		WHERE kid_id = $1 AND day = $2::date
	`
	if err := tx.QueryRow(ctx, totals, inc.KidID, inc.Day, inc.CategoryID).Scan(&dayTotal, &categoryTotal); err != nil {
		return nil, fmt.Errorf("failed to read ledger totals: %w", err)
	}

	applied := ledger.Clamp(inc.SecondsDelta, dayTotal, categoryTotal, inc.Ceilings)
	if applied > 0 {
		upsert := `
			INSERT INTO watch_ledger_entries (kid_id, day, category_id, seconds_watched, updated_at)
			VALUES ($1, $2::date, $3, $4, $5)
			ON CONFLICT (kid_id, day, category_id)
			DO UPDATE SET seconds_watched = watch_ledger_entries.seconds_watched + EXCLUDED.seconds_watched,
			              updated_at = EXCLUDED.updated_at
		`
		if _, err := tx.Exec(ctx, upsert, inc.KidID, inc.Day, inc.CategoryID, applied, inc.At); err != nil {
			return nil, fmt.Errorf("failed to increment ledger: %w", err)
		}
	}

	entries, err := dailyUsage(ctx, tx, inc.KidID, inc.Day)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit accrual: %w", err)
	}

	return &models.LedgerWrite{
		AppliedSeconds:  applied,
		DayTotal:        dayTotal + applied,
		CategoryTotal:   categoryTotal + applied,
		CategoryEntries: entries,
	}, nil
}
