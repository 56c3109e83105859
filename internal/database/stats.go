package database

import (
	"context"
	"fmt"

	"github.com/kidtube/kidtube/pkg/models"
)

// CategoryWatchStats returns a kid's watch seconds per category for day and
// for all time. Uncategorized time is reported as category 0.
func (r *Repository) CategoryWatchStats(ctx context.Context, kidID int64, day string) ([]models.CategoryWatchStats, error) {
	query := `
		SELECT l.kid_id, k.name, l.category_id, COALESCE(c.name, 'Uncategorized'),
		       COALESCE(SUM(l.seconds_watched) FILTER (WHERE l.day = $2::date), 0),
		       COALESCE(SUM(l.seconds_watched), 0)
		FROM watch_ledger_entries l
		JOIN kids k ON k.id = l.kid_id
		LEFT JOIN categories c ON c.id = l.category_id
		WHERE l.kid_id = $1
		GROUP BY l.kid_id, k.name, l.category_id, c.name
		ORDER BY l.category_id
	`

	rows, err := r.db.Pool.Query(ctx, query, kidID, day)
	if err != nil {
		return nil, fmt.Errorf("failed to get watch stats: %w", err)
	}
	defer rows.Close()

	stats := []models.CategoryWatchStats{}
	for rows.Next() {
		var s models.CategoryWatchStats
		if err := rows.Scan(&s.KidID, &s.KidName, &s.CategoryID, &s.CategoryName, &s.TodaySeconds, &s.LifetimeSeconds); err != nil {
			return nil, fmt.Errorf("failed to scan watch stats: %w", err)
		}
		stats = append(stats, s)
	}
	return stats, rows.Err()
}
