package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/kidtube/kidtube/internal/apperr"
	"github.com/kidtube/kidtube/internal/approval"
	"github.com/kidtube/kidtube/pkg/models"
)

const requestColumns = `id, kid_id, type, target_youtube_id, status, created_at, decided_at`

func scanRequest(row pgx.Row) (*models.AccessRequest, error) {
	var req models.AccessRequest
	err := row.Scan(&req.ID, &req.KidID, &req.Type, &req.TargetYoutubeID, &req.Status, &req.CreatedAt, &req.DecidedAt)
	if err != nil {
		return nil, err
	}
	return &req, nil
}

// FindPendingRequest returns the pending request for kid, type and target, or nil
func (r *Repository) FindPendingRequest(ctx context.Context, kidID int64, requestType, target string) (*models.AccessRequest, error) {
	query := `SELECT ` + requestColumns + ` FROM access_requests
		WHERE kid_id = $1 AND type = $2 AND target_youtube_id = $3 AND status = 'pending'`

	req, err := scanRequest(r.db.Pool.QueryRow(ctx, query, kidID, requestType, target))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find pending request: %w", err)
	}
	return req, nil
}

// CreatePendingRequest inserts a pending request. When a concurrent insert won
// the pending slot the winner is returned with created false.
func (r *Repository) CreatePendingRequest(ctx context.Context, kidID int64, requestType, target string, at time.Time) (*models.AccessRequest, bool, error) {
	defer observe("create_request", time.Now())

	query := `
		INSERT INTO access_requests (kid_id, type, target_youtube_id, status, created_at)
		VALUES ($1, $2, $3, 'pending', $4)
		ON CONFLICT (kid_id, type, target_youtube_id) WHERE status = 'pending' DO NOTHING
		RETURNING ` + requestColumns

	req, err := scanRequest(r.db.Pool.QueryRow(ctx, query, kidID, requestType, target, at))
	if err == nil {
		return req, true, nil
	}
	if isForeignKeyViolation(err) {
		return nil, false, apperr.NotFound("kid")
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, fmt.Errorf("failed to create request: %w", err)
	}

	existing, err := r.FindPendingRequest(ctx, kidID, requestType, target)
	if err != nil {
		return nil, false, err
	}
	if existing == nil {
		return nil, false, fmt.Errorf("pending request for %s %s was decided during submit: %w", requestType, target, apperr.ErrConflict)
	}
	return existing, false, nil
}

// GetRequest retrieves a request by ID
func (r *Repository) GetRequest(ctx context.Context, id int64) (*models.AccessRequest, error) {
	req, err := scanRequest(r.db.Pool.QueryRow(ctx, `SELECT `+requestColumns+` FROM access_requests WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("request")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get request: %w", err)
	}
	return req, nil
}

// DecideRequest moves a pending request to t.Status, booking t.Grant and
// admitting t.AllowChannel in the same transaction. A request that is no
// longer pending is returned unchanged.
func (r *Repository) DecideRequest(ctx context.Context, t approval.Transition) (*models.AccessRequest, bool, error) {
	defer observe("decide_request", time.Now())

	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		UPDATE access_requests
		SET status = $2, decided_at = $3
		WHERE id = $1 AND status = 'pending'
		RETURNING ` + requestColumns

	req, err := scanRequest(tx.QueryRow(ctx, query, t.RequestID, t.Status, t.At))
	if errors.Is(err, pgx.ErrNoRows) {
		current, err := r.GetRequest(ctx, t.RequestID)
		if err != nil {
			return nil, false, err
		}
		return current, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to decide request: %w", err)
	}

	if t.Grant != nil {
		if err := insertGrant(ctx, tx, t.Grant); err != nil {
			return nil, false, err
		}
	}
	if t.AllowChannel != "" {
		if err := allowChannel(ctx, tx, t.AllowChannel); err != nil {
			return nil, false, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, false, fmt.Errorf("failed to commit decision: %w", err)
	}
	return req, true, nil
}

// ListRequests returns requests newest first, optionally filtered by status
func (r *Repository) ListRequests(ctx context.Context, status string) ([]models.AccessRequest, error) {
	query := `SELECT ` + requestColumns + ` FROM access_requests
		WHERE ($1 = '' OR status = $1)
		ORDER BY created_at DESC, id DESC`

	rows, err := r.db.Pool.Query(ctx, query, status)
	if err != nil {
		return nil, fmt.Errorf("failed to list requests: %w", err)
	}
	defer rows.Close()

	requests := []models.AccessRequest{}
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan request: %w", err)
		}
		requests = append(requests, *req)
	}
	return requests, rows.Err()
}

// HasApprovedRequest reports an approved video request for the video or
// channel request for the channel
func (r *Repository) HasApprovedRequest(ctx context.Context, kidID int64, videoYoutubeID, channelYoutubeID string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM access_requests
			WHERE kid_id = $1 AND status = 'approved'
			AND ((type = 'video' AND target_youtube_id = $2) OR (type = 'channel' AND target_youtube_id = $3))
		)
	`

	var exists bool
	if err := r.db.Pool.QueryRow(ctx, query, kidID, videoYoutubeID, channelYoutubeID).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check approved requests: %w", err)
	}
	return exists, nil
}

// LatestRequest returns the newest request for the video or its channel, or nil
func (r *Repository) LatestRequest(ctx context.Context, kidID int64, videoYoutubeID, channelYoutubeID string) (*models.AccessRequest, error) {
	query := `SELECT ` + requestColumns + ` FROM access_requests
		WHERE kid_id = $1
		AND ((type = 'video' AND target_youtube_id = $2) OR (type = 'channel' AND target_youtube_id = $3))
		ORDER BY created_at DESC, id DESC
		LIMIT 1`

	req, err := scanRequest(r.db.Pool.QueryRow(ctx, query, kidID, videoYoutubeID, channelYoutubeID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest request: %w", err)
	}
	return req, nil
}

// CountPendingRequests counts a kid's undecided requests
func (r *Repository) CountPendingRequests(ctx context.Context, kidID int64) (int, error) {
	var count int
	err := r.db.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM access_requests WHERE kid_id = $1 AND status = 'pending'`, kidID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending requests: %w", err)
	}
	return count, nil
}
