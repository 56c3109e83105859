package main

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kidtube/kidtube/internal/middleware"
)

func (api *API) getSession(c *gin.Context) {
	state, err := api.sessions.Current(c.Request.Context(), middleware.GetSessionID(c))
	if err != nil {
		api.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"kid_id":         state.KidID,
		"pending_kid_id": state.PendingKidID,
		"is_admin":       state.IsAdmin || middleware.IsAdmin(c),
	})
}

func (api *API) selectKid(c *gin.Context) {
	var req struct {
		KidID int64 `json:"kid_id" binding:"required,min=1"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		api.respondError(c, bindError(err))
		return
	}

	selection, err := api.sessions.SelectKid(c.Request.Context(), middleware.GetSessionID(c), req.KidID)
	if err != nil {
		api.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, selection)
}

func (api *API) verifyPIN(c *gin.Context) {
	var req struct {
		PIN string `json:"pin" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		api.respondError(c, bindError(err))
		return
	}

	kidID, err := api.sessions.VerifyPIN(c.Request.Context(), middleware.GetSessionID(c), req.PIN)
	if err != nil {
		api.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"kid_id": kidID})
}

func (api *API) verifyAdmin(c *gin.Context) {
	var req struct {
		PIN string `json:"pin"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		api.respondError(c, bindError(err))
		return
	}

	grant, err := api.sessions.VerifyAdmin(c.Request.Context(), middleware.GetSessionID(c), req.PIN, api.now())
	if err != nil {
		api.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"ok": true, "token": grant.Token, "no_pin": grant.NoPIN})
}

func (api *API) clearSession(c *gin.Context) {
	if err := api.sessions.Clear(c.Request.Context(), middleware.GetSessionID(c)); err != nil {
		api.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"ok": true})
}
