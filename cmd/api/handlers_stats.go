package main

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kidtube/kidtube/internal/apperr"
	"github.com/kidtube/kidtube/internal/middleware"
	"github.com/kidtube/kidtube/pkg/models"
)

func (api *API) getStats(c *gin.Context) {
	var kidID *int64
	if c.Query("kid_id") != "" {
		id, err := queryID(c, "kid_id")
		if err != nil {
			api.respondError(c, err)
			return
		}
		kidID = &id
	}

	stats, err := api.stats.WatchStats(c.Request.Context(), kidID, api.now())
	if err != nil {
		api.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, stats)
}

func (api *API) createWebhook(c *gin.Context) {
	var req struct {
		URL    string               `json:"url" binding:"required,url"`
		Events models.WebhookEvents `json:"events" binding:"required"`
		Secret string               `json:"secret"`
		Format string               `json:"format"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		api.respondError(c, bindError(err))
		return
	}

	switch req.Format {
	case "", models.WebhookFormatJSON, models.WebhookFormatDiscord:
	default:
		api.respondError(c, apperr.Validation("unknown webhook format %q", req.Format))
		return
	}

	webhook := &models.Webhook{
		URL:      req.URL,
		Events:   req.Events,
		Secret:   req.Secret,
		Format:   req.Format,
		IsActive: true,
	}
	if err := api.webhooks.CreateWebhook(c.Request.Context(), webhook); err != nil {
		api.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, webhook)
}

func (api *API) listWebhooks(c *gin.Context) {
	webhooks, err := api.webhooks.ListWebhooks(c.Request.Context())
	if err != nil {
		api.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"webhooks": webhooks})
}

func (api *API) deleteWebhook(c *gin.Context) {
	if err := api.webhooks.DeleteWebhook(c.Request.Context(), c.Param("id")); err != nil {
		api.respondError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// serveWS upgrades the caller's session to a websocket for its active kid
func (api *API) serveWS(c *gin.Context) {
	state, err := api.sessions.Current(c.Request.Context(), middleware.GetSessionID(c))
	if err != nil {
		api.respondError(c, err)
		return
	}
	if state.KidID == nil {
		api.respondError(c, apperr.ErrForbidden)
		return
	}

	if err := api.realtime.ServeWS(c.Writer, c.Request, *state.KidID); err != nil {
		// The upgrader has already written the HTTP error
		api.logger.WithKidID(*state.KidID).WithError(err).Debug("Websocket upgrade failed")
	}
}
