// Package approval implements the parent-approval request workflow.
// A request moves from pending to approved or denied exactly once.
package approval

import (
	"context"
	"fmt"
	"time"

	"github.com/kidtube/kidtube/internal/apperr"
	"github.com/kidtube/kidtube/internal/logging"
	"github.com/kidtube/kidtube/internal/metrics"
	"github.com/kidtube/kidtube/internal/tracing"
	"github.com/kidtube/kidtube/pkg/models"
)

// DefaultSubmitCooldown applies when no cooldown is configured
const DefaultSubmitCooldown = 30 * time.Second

// Transition is a conditional pending -> status update. Grant and
// AllowChannel, when set, are applied in the same transaction as the status
// change, so a failure leaves the request pending.
type Transition struct {
	RequestID    int64
	Status       string
	At           time.Time
	Grant        *models.BonusGrant
	AllowChannel string
}

// Store persists requests
type Store interface {
	GetKid(ctx context.Context, kidID int64) (*models.Kid, error)
	GetVideoByYoutubeID(ctx context.Context, youtubeID string) (*models.Video, error)
	GetChannelByYoutubeID(ctx context.Context, youtubeID string) (*models.Channel, error)
	FindPendingRequest(ctx context.Context, kidID int64, requestType, target string) (*models.AccessRequest, error)
	// CreatePendingRequest inserts a pending request or returns the pending row that won a race.
	// The bool reports whether this call created it.
	CreatePendingRequest(ctx context.Context, kidID int64, requestType, target string, at time.Time) (*models.AccessRequest, bool, error)
	GetRequest(ctx context.Context, id int64) (*models.AccessRequest, error)
	// DecideRequest applies t only if the request is still pending and returns the current row.
	// The bool reports whether this call made the transition.
	DecideRequest(ctx context.Context, t Transition) (*models.AccessRequest, bool, error)
	ListRequests(ctx context.Context, status string) ([]models.AccessRequest, error)
}

// Cooldown is the shared TTL store used to throttle submissions
type Cooldown interface {
	TakeCooldown(ctx context.Context, key string, ttl time.Duration) (bool, time.Duration, error)
	ReleaseCooldown(ctx context.Context, key string) error
}

// Publisher emits request events to other processes
type Publisher interface {
	PublishRequestEvent(ctx context.Context, event *models.RequestEvent) error
}

// Notifier pushes messages to a kid's connected devices
type Notifier interface {
	SendToKid(kidID int64, message interface{}) error
}

// Config tunes the workflow
type Config struct {
	SubmitCooldown  time.Duration
	DefaultLocation *time.Location
}

// Workflow implements submit, approve, deny and list
type Workflow struct {
	store     Store
	cooldown  Cooldown
	publisher Publisher
	notifier  Notifier
	cfg       Config
	logger    *logging.Logger
}

// NewWorkflow creates a workflow. publisher and notifier may be nil.
func NewWorkflow(store Store, cooldown Cooldown, publisher Publisher, notifier Notifier, cfg Config, logger *logging.Logger) *Workflow {
	if cfg.SubmitCooldown <= 0 {
		cfg.SubmitCooldown = DefaultSubmitCooldown
	}
	if cfg.DefaultLocation == nil {
		cfg.DefaultLocation = time.UTC
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Workflow{
		store:     store,
		cooldown:  cooldown,
		publisher: publisher,
		notifier:  notifier,
		cfg:       cfg,
		logger:    logger.WithComponent("approval"),
	}
}

// SubmitResult is the outcome of Submit
type SubmitResult struct {
	Request *models.AccessRequest
	Created bool
}

// CooldownKey is the TTL key throttling a kid's submissions
func CooldownKey(kidID int64) string {
	return fmt.Sprintf("cooldown:submit:%d", kidID)
}

// Submit files a request for kidID, or returns the pending one for the same target
func (w *Workflow) Submit(ctx context.Context, kidID int64, requestType, target string, now time.Time) (*SubmitResult, error) {
	span, ctx := tracing.StartSpan(ctx, "approval.Submit")
	defer tracing.FinishSpan(span)
	tracing.SetTag(span, "kid_id", kidID)
	tracing.SetTag(span, "type", requestType)

	if target == "" {
		return nil, apperr.Validation("youtube_id is required")
	}

	kid, err := w.store.GetKid(ctx, kidID)
	if err != nil {
		return nil, err
	}
	if err := w.validateTarget(ctx, requestType, target); err != nil {
		return nil, err
	}

	existing, err := w.store.FindPendingRequest(ctx, kidID, requestType, target)
	if err != nil {
		return nil, fmt.Errorf("failed to look up pending request: %w", err)
	}
	if existing != nil {
		metrics.RecordRequestSubmitted(requestType, "existing")
		return &SubmitResult{Request: existing}, nil
	}

	ok, retryAfter, err := w.cooldown.TakeCooldown(ctx, CooldownKey(kidID), w.cfg.SubmitCooldown)
	if err != nil {
		return nil, err
	}
	if !ok {
		metrics.RecordRequestSubmitted(requestType, "rate_limited")
		metrics.RecordRateLimited("submit")
		return nil, apperr.RateLimited("submit", retryAfter)
	}

	req, created, err := w.store.CreatePendingRequest(ctx, kidID, requestType, target, now)
	if err != nil || !created {
		// Nothing new was filed, so hand the cooldown back
		w.refundCooldown(ctx, kidID)
	}
	if err != nil {
		tracing.LogError(span, err)
		return nil, err
	}
	if !created {
		metrics.RecordRequestSubmitted(requestType, "existing")
		return &SubmitResult{Request: req}, nil
	}

	metrics.RecordRequestSubmitted(requestType, "created")
	w.logger.LogRequestTransition(req.ID, kidID, requestType, "", models.RequestStatusPending)
	w.emit(ctx, models.EventRequestSubmitted, req, kid.Name, now)

	return &SubmitResult{Request: req, Created: true}, nil
}

func (w *Workflow) refundCooldown(ctx context.Context, kidID int64) {
	if err := w.cooldown.ReleaseCooldown(ctx, CooldownKey(kidID)); err != nil {
		w.logger.WithKidID(kidID).WithError(err).Warn("failed to release submit cooldown")
	}
}

func (w *Workflow) validateTarget(ctx context.Context, requestType, target string) error {
	switch requestType {
	case models.RequestTypeVideo:
		_, err := w.store.GetVideoByYoutubeID(ctx, target)
		return err
	case models.RequestTypeChannel:
		_, err := w.store.GetChannelByYoutubeID(ctx, target)
		return err
	case models.RequestTypeBonus:
		if !ValidBonusCode(target) {
			return apperr.Validation("invalid bonus code %q", target)
		}
		return nil
	}
	return apperr.Validation("invalid request type %q", requestType)
}

// Approve moves a pending request to approved
func (w *Workflow) Approve(ctx context.Context, id int64, now time.Time) (*models.AccessRequest, error) {
	return w.decide(ctx, id, models.RequestStatusApproved, now)
}

// Deny moves a pending request to denied
func (w *Workflow) Deny(ctx context.Context, id int64, now time.Time) (*models.AccessRequest, error) {
	return w.decide(ctx, id, models.RequestStatusDenied, now)
}

func (w *Workflow) decide(ctx context.Context, id int64, status string, now time.Time) (*models.AccessRequest, error) {
	span, ctx := tracing.StartSpan(ctx, "approval.Decide")
	defer tracing.FinishSpan(span)
	tracing.SetTag(span, "request_id", id)
	tracing.SetTag(span, "status", status)

	current, err := w.store.GetRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	if !current.IsPending() {
		return nil, fmt.Errorf("request %d is already %s: %w", id, current.Status, apperr.ErrConflict)
	}

	kid, err := w.store.GetKid(ctx, current.KidID)
	if err != nil {
		return nil, err
	}

	t := Transition{RequestID: id, Status: status, At: now}
	if status == models.RequestStatusApproved && current.Type == models.RequestTypeBonus {
		loc := kid.Location(w.cfg.DefaultLocation)
		minutes, err := BonusMinutes(current.TargetYoutubeID, now, loc)
		if err != nil {
			return nil, err
		}
		expires := EndOfDay(now, loc)
		t.Grant = &models.BonusGrant{KidID: current.KidID, Minutes: minutes, ExpiresAt: &expires, CreatedAt: now}
	}
	if status == models.RequestStatusApproved && current.Type == models.RequestTypeChannel {
		t.AllowChannel = current.TargetYoutubeID
	}

	req, changed, err := w.store.DecideRequest(ctx, t)
	if err != nil {
		tracing.LogError(span, err)
		return nil, err
	}
	if !changed {
		return nil, fmt.Errorf("request %d is already %s: %w", id, req.Status, apperr.ErrConflict)
	}

	metrics.RecordRequestTransition(req.Type, status)
	w.logger.LogRequestTransition(req.ID, req.KidID, req.Type, models.RequestStatusPending, status)

	event := models.EventRequestDenied
	if status == models.RequestStatusApproved {
		event = models.EventRequestApproved
	}
	w.emit(ctx, event, req, kid.Name, now)

	return req, nil
}

// List returns requests, optionally filtered by status, newest first
func (w *Workflow) List(ctx context.Context, status string) ([]models.AccessRequest, error) {
	if status != "" && !models.ValidRequestStatus(status) {
		return nil, apperr.Validation("invalid status %q", status)
	}
	return w.store.ListRequests(ctx, status)
}

// emit publishes and pushes an event. Failures are logged only: the state
// change they describe has already committed.
func (w *Workflow) emit(ctx context.Context, name string, req *models.AccessRequest, kidName string, now time.Time) {
	event := &models.RequestEvent{Event: name, Request: *req, KidName: kidName, OccurredAt: now}

	if w.publisher != nil {
		err := w.publisher.PublishRequestEvent(ctx, event)
		metrics.RecordEventPublished(name, err)
		if err != nil {
			w.logger.WithError(err).WithField("request_id", req.ID).Warn("failed to publish request event")
		}
	}

	if w.notifier != nil && name != models.EventRequestSubmitted {
		if err := w.notifier.SendToKid(req.KidID, event); err != nil {
			w.logger.WithError(err).WithField("request_id", req.ID).Warn("failed to push request decision")
		}
	}
}
