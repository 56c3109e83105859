package main

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/kidtube/kidtube/internal/apperr"
	"github.com/kidtube/kidtube/internal/middleware"
	"github.com/kidtube/kidtube/pkg/models"
)

type submitRequest struct {
	KidID     *int64 `json:"kid_id"`
	YoutubeID string `json:"youtube_id"`
	// Code is accepted for bonus requests in place of youtube_id
	Code string `json:"code"`
}

// resolveKid picks the kid a kid-side call acts for: the body's kid_id when
// given, else the session's active kid
func (api *API) resolveKid(c *gin.Context, kidID *int64) (int64, error) {
	if kidID != nil {
		if err := middleware.AuthorizeKid(c, api.sessions, *kidID); err != nil {
			return 0, err
		}
		return *kidID, nil
	}

	state, err := api.sessions.Current(c.Request.Context(), middleware.GetSessionID(c))
	if err != nil {
		return 0, err
	}
	if state.KidID == nil {
		return 0, apperr.Validation("kid_id is required")
	}
	return *state.KidID, nil
}

func (api *API) submitRequest(requestType string) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req submitRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			api.respondError(c, bindError(err))
			return
		}

		target := strings.TrimSpace(req.YoutubeID)
		if requestType == models.RequestTypeBonus && req.Code != "" {
			target = strings.TrimSpace(req.Code)
		}

		kidID, err := api.resolveKid(c, req.KidID)
		if err != nil {
			api.respondError(c, err)
			return
		}

		result, err := api.requests.Submit(c.Request.Context(), kidID, requestType, target, api.now())
		if err != nil {
			api.respondError(c, err)
			return
		}

		status := http.StatusOK
		if result.Created {
			status = http.StatusCreated
		}
		c.JSON(status, result.Request)
	}
}

func (api *API) listRequests(c *gin.Context) {
	requests, err := api.requests.List(c.Request.Context(), c.Query("status"))
	if err != nil {
		api.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"requests": requests})
}

func (api *API) decideRequest(status string) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := pathID(c, "id")
		if err != nil {
			api.respondError(c, err)
			return
		}

		var req *models.AccessRequest
		if status == models.RequestStatusApproved {
			req, err = api.requests.Approve(c.Request.Context(), id, api.now())
		} else {
			req, err = api.requests.Deny(c.Request.Context(), id, api.now())
		}
		if err != nil {
			api.respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, req)
	}
}
