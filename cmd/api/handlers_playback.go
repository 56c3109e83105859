package main

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/kidtube/kidtube/internal/apperr"
	"github.com/kidtube/kidtube/internal/middleware"
	"github.com/kidtube/kidtube/pkg/models"
)

// maxHeartbeatBody bounds a watch-log body
const maxHeartbeatBody = 4 << 10

type watchLogRequest struct {
	KidID        int64  `json:"kid_id"`
	VideoID      string `json:"video_id"`
	SecondsDelta int64  `json:"seconds_delta"`
	IsPlaying    *bool  `json:"is_playing"`
}

func (r *watchLogRequest) playing() bool {
	return r.IsPlaying == nil || *r.IsPlaying
}

func (api *API) checkAccess(c *gin.Context) {
	kidID, err := queryID(c, "kid_id")
	if err != nil {
		api.respondError(c, err)
		return
	}
	videoID := strings.TrimSpace(c.Query("video_id"))
	if videoID == "" {
		api.respondError(c, apperr.Validation("video_id is required"))
		return
	}
	if err := middleware.AuthorizeKid(c, api.sessions, kidID); err != nil {
		api.respondError(c, err)
		return
	}

	decision, err := api.engine.Decide(c.Request.Context(), kidID, videoID, api.now())
	if err != nil {
		api.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, decision)
}

// logWatch accepts heartbeats from players. The body is always parsed as JSON
// whatever its Content-Type, since navigator.sendBeacon posts text/plain.
func (api *API) logWatch(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxHeartbeatBody))
	if err != nil {
		api.respondError(c, apperr.Validation("unreadable body"))
		return
	}
	var req watchLogRequest
	if err := json.Unmarshal(body, &req); err != nil {
		api.respondError(c, bindError(err))
		return
	}
	if req.KidID < 1 || strings.TrimSpace(req.VideoID) == "" {
		api.respondError(c, apperr.Validation("kid_id and video_id are required"))
		return
	}
	if err := middleware.AuthorizeKid(c, api.sessions, req.KidID); err != nil {
		api.respondError(c, err)
		return
	}

	ctx := c.Request.Context()
	now := api.now()

	// Paused players only ask for the budget
	if !req.playing() {
		budget, err := api.ledger.Remaining(ctx, req.KidID, now)
		if err != nil {
			api.respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, budget)
		return
	}

	decision, err := api.engine.Decide(ctx, req.KidID, req.VideoID, now)
	if err != nil {
		api.respondError(c, err)
		return
	}
	if decision.Verdict != models.VerdictPlay {
		c.JSON(http.StatusForbidden, decision)
		return
	}

	// Each device session is its own playback stream
	result, err := api.ledger.Heartbeat(ctx, middleware.GetSessionID(c), req.KidID, req.VideoID, req.SecondsDelta, now)
	if err != nil {
		api.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

func (api *API) getLimits(c *gin.Context) {
	kidID, err := pathID(c, "id")
	if err != nil {
		api.respondError(c, err)
		return
	}
	if err := middleware.AuthorizeKid(c, api.sessions, kidID); err != nil {
		api.respondError(c, err)
		return
	}

	budget, err := api.ledger.Remaining(c.Request.Context(), kidID, api.now())
	if err != nil {
		api.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, budget)
}
