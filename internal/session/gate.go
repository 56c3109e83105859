// Package session binds kid selection and admin state to an opaque session id.
//
// State lives in Redis so any API instance can serve any request:
//
//	anonymous -> kid_pending_pin -> kid_active
//
// A kid without a PIN goes straight to kid_active. PIN and admin PIN failures
// are counted in TTL keys and rate limited once they reach the configured
// number of attempts inside the window.
package session

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kidtube/kidtube/internal/apperr"
	"github.com/kidtube/kidtube/internal/logging"
	"github.com/kidtube/kidtube/internal/metrics"
	"github.com/kidtube/kidtube/internal/tracing"
	"github.com/kidtube/kidtube/pkg/models"
)

const (
	DefaultTTL            = 30 * 24 * time.Hour
	DefaultPINMaxAttempts = 5
	DefaultPINWindow      = 5 * time.Minute
)

// KidStore resolves kid profiles
type KidStore interface {
	GetKid(ctx context.Context, kidID int64) (*models.Kid, error)
}

// StateStore is the shared TTL store holding sessions and attempt counters
type StateStore interface {
	SetWithJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	GetWithJSON(ctx context.Context, key string, dest interface{}) (bool, error)
	Delete(ctx context.Context, key string) error
	AttemptsExceeded(ctx context.Context, key string, limit int64) (bool, time.Duration, error)
	RecordFailure(ctx context.Context, key string, window time.Duration) (int64, error)
	ResetAttempts(ctx context.Context, key string) error
}

// Config tunes the gate
type Config struct {
	TTL            time.Duration
	PINMaxAttempts int
	PINWindow      time.Duration
	// AdminPINHash is a bcrypt hash. Empty means no admin PIN is set.
	AdminPINHash string
}

// AdminGrant is returned from a successful admin verification
type AdminGrant struct {
	Token string `json:"token"`
	NoPIN bool   `json:"no_pin,omitempty"`
}

// Gate implements kid selection, PIN checks and admin verification
type Gate struct {
	kids   KidStore
	store  StateStore
	tokens *Tokens
	cfg    Config
	logger *logging.Logger
}

// NewGate creates a session gate
func NewGate(kids KidStore, store StateStore, tokens *Tokens, cfg Config, logger *logging.Logger) *Gate {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.PINMaxAttempts <= 0 {
		cfg.PINMaxAttempts = DefaultPINMaxAttempts
	}
	if cfg.PINWindow <= 0 {
		cfg.PINWindow = DefaultPINWindow
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Gate{
		kids:   kids,
		store:  store,
		tokens: tokens,
		cfg:    cfg,
		logger: logger.WithComponent("session"),
	}
}

// NewID generates an opaque session id
func NewID() string {
	return uuid.New().String()
}

func stateKey(sid string) string {
	return fmt.Sprintf("session:%s", sid)
}

// PINAttemptsKey counts failed PIN entries for a kid
func PINAttemptsKey(kidID int64) string {
	return fmt.Sprintf("attempts:pin:%d", kidID)
}

// AdminAttemptsKey counts failed admin PIN entries across all sessions.
// Session ids are chosen by the client, so they cannot scope the limit.
const AdminAttemptsKey = "attempts:admin"

// Current returns the state bound to sid. An unknown sid is anonymous.
func (g *Gate) Current(ctx context.Context, sid string) (*models.SessionState, error) {
	if sid == "" {
		return nil, apperr.Validation("session id is required")
	}

	state := &models.SessionState{}
	if _, err := g.store.GetWithJSON(ctx, stateKey(sid), state); err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	state.ID = sid
	return state, nil
}

func (g *Gate) save(ctx context.Context, state *models.SessionState) error {
	if err := g.store.SetWithJSON(ctx, stateKey(state.ID), state, g.cfg.TTL); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// SelectKid makes kidID the session's kid, pending a PIN when the kid has one
func (g *Gate) SelectKid(ctx context.Context, sid string, kidID int64) (*models.KidSelection, error) {
	span, ctx := tracing.StartSpan(ctx, "session.SelectKid")
	defer tracing.FinishSpan(span)

	state, err := g.Current(ctx, sid)
	if err != nil {
		return nil, err
	}
	kid, err := g.kids.GetKid(ctx, kidID)
	if err != nil {
		return nil, err
	}

	id := kid.ID
	if kid.HasPIN() {
		state.PendingKidID = &id
		state.KidID = nil
	} else {
		state.KidID = &id
		state.PendingKidID = nil
	}
	if err := g.save(ctx, state); err != nil {
		return nil, err
	}

	return &models.KidSelection{KidID: kid.ID, PINRequired: kid.HasPIN()}, nil
}

// VerifyPIN activates the pending kid when pin matches
func (g *Gate) VerifyPIN(ctx context.Context, sid, pin string) (int64, error) {
	span, ctx := tracing.StartSpan(ctx, "session.VerifyPIN")
	defer tracing.FinishSpan(span)

	state, err := g.Current(ctx, sid)
	if err != nil {
		return 0, err
	}
	if state.PendingKidID == nil {
		return 0, apperr.Validation("no pending kid selection")
	}
	kidID := *state.PendingKidID
	key := PINAttemptsKey(kidID)

	if err := g.checkAttempts(ctx, key, "pin"); err != nil {
		return 0, err
	}

	kid, err := g.kids.GetKid(ctx, kidID)
	if err != nil {
		return 0, err
	}
	if !CheckPIN(kid.PINHash, pin) {
		metrics.RecordPINAttempt("pin", false)
		if _, err := g.store.RecordFailure(ctx, key, g.cfg.PINWindow); err != nil {
			return 0, err
		}
		g.logger.WithKidID(kidID).Warn("invalid kid pin")
		return 0, fmt.Errorf("invalid pin: %w", apperr.ErrForbidden)
	}

	metrics.RecordPINAttempt("pin", true)
	if err := g.store.ResetAttempts(ctx, key); err != nil {
		return 0, err
	}

	state.KidID = &kidID
	state.PendingKidID = nil
	if err := g.save(ctx, state); err != nil {
		return 0, err
	}
	return kidID, nil
}

// VerifyAdmin marks the session admin and issues a bearer token when pin
// matches the configured admin PIN
func (g *Gate) VerifyAdmin(ctx context.Context, sid, pin string, now time.Time) (*AdminGrant, error) {
	span, ctx := tracing.StartSpan(ctx, "session.VerifyAdmin")
	defer tracing.FinishSpan(span)

	state, err := g.Current(ctx, sid)
	if err != nil {
		return nil, err
	}

	grant := &AdminGrant{NoPIN: g.cfg.AdminPINHash == ""}
	if !grant.NoPIN {
		key := AdminAttemptsKey
		if err := g.checkAttempts(ctx, key, "admin_pin"); err != nil {
			return nil, err
		}
		if !CheckPIN(g.cfg.AdminPINHash, pin) {
			metrics.RecordPINAttempt("admin", false)
			if _, err := g.store.RecordFailure(ctx, key, g.cfg.PINWindow); err != nil {
				return nil, err
			}
			g.logger.Warn("invalid admin pin")
			return nil, fmt.Errorf("invalid admin pin: %w", apperr.ErrForbidden)
		}
		metrics.RecordPINAttempt("admin", true)
		if err := g.store.ResetAttempts(ctx, key); err != nil {
			return nil, err
		}
	}

	token, err := g.tokens.Issue(sid, now)
	if err != nil {
		return nil, err
	}
	grant.Token = token

	state.IsAdmin = true
	if err := g.save(ctx, state); err != nil {
		return nil, err
	}
	return grant, nil
}

// Clear logs the kid out. Admin state is kept.
func (g *Gate) Clear(ctx context.Context, sid string) error {
	state, err := g.Current(ctx, sid)
	if err != nil {
		return err
	}
	if !state.IsAdmin {
		return g.store.Delete(ctx, stateKey(sid))
	}
	state.KidID = nil
	state.PendingKidID = nil
	return g.save(ctx, state)
}

func (g *Gate) checkAttempts(ctx context.Context, key, action string) error {
	exceeded, retryAfter, err := g.store.AttemptsExceeded(ctx, key, int64(g.cfg.PINMaxAttempts))
	if err != nil {
		return err
	}
	if exceeded {
		metrics.RecordRateLimited(action)
		return apperr.RateLimited(action, retryAfter)
	}
	return nil
}
