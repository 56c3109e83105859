package main

import (
	"context"
	"crypto/ed25519"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/opentracing/opentracing-go"

	"github.com/kidtube/kidtube/internal/apperr"
	"github.com/kidtube/kidtube/internal/approval"
	"github.com/kidtube/kidtube/internal/logging"
	"github.com/kidtube/kidtube/internal/middleware"
	"github.com/kidtube/kidtube/internal/session"
	"github.com/kidtube/kidtube/pkg/models"
)

// Decider answers whether a kid may play a video
type Decider interface {
	Decide(ctx context.Context, kidID int64, videoYoutubeID string, now time.Time) (*models.Decision, error)
}

// Ledger books and reports watch time
type Ledger interface {
	Heartbeat(ctx context.Context, stream string, kidID int64, videoYoutubeID string, secondsDelta int64, now time.Time) (*models.AccrualResult, error)
	Remaining(ctx context.Context, kidID int64, now time.Time) (*models.RemainingBudget, error)
}

// Requests is the approval workflow
type Requests interface {
	Submit(ctx context.Context, kidID int64, requestType, target string, now time.Time) (*approval.SubmitResult, error)
	Approve(ctx context.Context, id int64, now time.Time) (*models.AccessRequest, error)
	Deny(ctx context.Context, id int64, now time.Time) (*models.AccessRequest, error)
	List(ctx context.Context, status string) ([]models.AccessRequest, error)
}

// Sessions is the session and PIN gate
type Sessions interface {
	Current(ctx context.Context, sid string) (*models.SessionState, error)
	SelectKid(ctx context.Context, sid string, kidID int64) (*models.KidSelection, error)
	VerifyPIN(ctx context.Context, sid, pin string) (int64, error)
	VerifyAdmin(ctx context.Context, sid, pin string, now time.Time) (*session.AdminGrant, error)
	Clear(ctx context.Context, sid string) error
}

// Controls is the admin-owned kid configuration
type Controls interface {
	GetKid(ctx context.Context, kidID int64) (*models.Kid, error)
	ListSchedules(ctx context.Context, kidID int64) ([]models.ScheduleWindow, error)
	CreateSchedule(ctx context.Context, w *models.ScheduleWindow) error
	DeleteSchedule(ctx context.Context, kidID, scheduleID int64) error
	CreateBonusGrant(ctx context.Context, g *models.BonusGrant) error
	ListActiveBonusGrants(ctx context.Context, kidID int64, now time.Time) ([]models.BonusGrant, error)
	UpsertCategoryLimit(ctx context.Context, limit models.CategoryLimit) error
	DeleteCategoryLimit(ctx context.Context, kidID, categoryID int64) error
}

// Stats reads aggregated watch time
type Stats interface {
	WatchStats(ctx context.Context, kidID *int64, now time.Time) (*models.WatchStats, error)
}

// Webhooks manages parent notification endpoints
type Webhooks interface {
	CreateWebhook(ctx context.Context, webhook *models.Webhook) error
	ListWebhooks(ctx context.Context) ([]*models.Webhook, error)
	DeleteWebhook(ctx context.Context, id string) error
}

// Realtime attaches websocket connections to a kid
type Realtime interface {
	ServeWS(w http.ResponseWriter, r *http.Request, kidID int64) error
}

// HealthCheck pings one dependency
type HealthCheck func(ctx context.Context) error

// API holds the services behind the HTTP handlers
type API struct {
	engine     Decider
	ledger     Ledger
	requests   Requests
	sessions   Sessions
	controls   Controls
	stats      Stats
	webhooks   Webhooks
	realtime   Realtime
	health     map[string]HealthCheck
	logger     *logging.Logger
	defaultLoc *time.Location
	now        func() time.Time
	// discordKey enables the Discord interactions endpoint when set
	discordKey ed25519.PublicKey
}

// RouterConfig carries the middleware settings
type RouterConfig struct {
	CookieName  string
	SessionTTL  time.Duration
	Tokens      middleware.TokenParser
	RateLimiter *middleware.RateLimiter
	Tracer      opentracing.Tracer
}

func setupRouter(api *API, cfg RouterConfig) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(api.logger))
	if cfg.Tracer != nil {
		router.Use(middleware.Tracing(cfg.Tracer))
	}

	router.GET("/health", api.healthCheck)
	if api.discordKey != nil {
		router.POST("/discord/interactions", api.discordInteractions)
	}

	v1 := router.Group("/api")
	if cfg.RateLimiter != nil {
		v1.Use(middleware.RateLimit(cfg.RateLimiter))
	}
	v1.Use(middleware.Session(cfg.CookieName, cfg.SessionTTL))
	v1.Use(middleware.AdminToken(cfg.Tokens))
	{
		// Session
		v1.GET("/session", api.getSession)
		v1.POST("/session/kid", api.selectKid)
		v1.DELETE("/session/kid", api.clearSession)
		v1.POST("/session/kid/verify-pin", api.verifyPIN)
		v1.POST("/session/admin-verify", api.verifyAdmin)

		// Playback
		v1.GET("/playback/access", api.checkAccess)
		v1.POST("/playback/watch/log", api.logWatch)
		v1.GET("/kids/:id/limits", api.getLimits)

		// Kid-side requests
		v1.POST("/requests/video-allow", api.submitRequest(models.RequestTypeVideo))
		v1.POST("/requests/channel-allow", api.submitRequest(models.RequestTypeChannel))
		v1.POST("/requests/bonus", api.submitRequest(models.RequestTypeBonus))

		v1.GET("/ws", api.serveWS)
	}

	admin := v1.Group("")
	admin.Use(middleware.RequireAdmin())
	{
		admin.GET("/requests", api.listRequests)
		admin.POST("/requests/:id/approve", api.decideRequest(models.RequestStatusApproved))
		admin.POST("/requests/:id/deny", api.decideRequest(models.RequestStatusDenied))

		admin.GET("/kids/:id/schedules", api.listSchedules)
		admin.POST("/kids/:id/schedules", api.createSchedule)
		admin.DELETE("/kids/:id/schedules/:scheduleId", api.deleteSchedule)
		admin.GET("/kids/:id/bonus-time", api.listBonusTime)
		admin.POST("/kids/:id/bonus-time", api.grantBonusTime)
		admin.PUT("/kids/:id/category-limits/:cat", api.upsertCategoryLimit)
		admin.DELETE("/kids/:id/category-limits/:cat", api.deleteCategoryLimit)

		admin.GET("/stats", api.getStats)

		admin.GET("/webhooks", api.listWebhooks)
		admin.POST("/webhooks", api.createWebhook)
		admin.DELETE("/webhooks/:id", api.deleteWebhook)
	}

	return router
}

// respondError maps the engine error taxonomy onto HTTP statuses
func (api *API) respondError(c *gin.Context, err error) {
	if rl, ok := apperr.AsRateLimited(err); ok {
		retryAfter := rl.RetryAfterSeconds()
		c.Header("Retry-After", strconv.Itoa(retryAfter))
		c.JSON(http.StatusTooManyRequests, gin.H{"detail": err.Error(), "retry_after": retryAfter})
		return
	}

	switch {
	case errors.Is(err, apperr.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
	case errors.Is(err, apperr.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"detail": err.Error()})
	case errors.Is(err, apperr.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"detail": err.Error()})
	case errors.Is(err, apperr.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"detail": err.Error()})
	default:
		api.logger.WithRequestID(c.GetString(middleware.RequestIDContextKey)).
			WithError(err).Error("Request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "internal error"})
	}
}

func pathID(c *gin.Context, name string) (int64, error) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id < 1 {
		return 0, apperr.Validation("invalid %s", name)
	}
	return id, nil
}

func queryID(c *gin.Context, name string) (int64, error) {
	raw := c.Query(name)
	if raw == "" {
		return 0, apperr.Validation("%s is required", name)
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 1 {
		return 0, apperr.Validation("invalid %s", name)
	}
	return id, nil
}

// bindError turns a binding failure into a validation error
func bindError(err error) error {
	return apperr.Validation("invalid request body: %v", err)
}

// Health check endpoint
func (api *API) healthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	checks := gin.H{}
	healthy := true
	for name, check := range api.health {
		if err := check(ctx); err != nil {
			checks[name] = err.Error()
			healthy = false
			continue
		}
		checks[name] = "ok"
	}

	if !healthy {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "checks": checks})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "checks": checks})
}
