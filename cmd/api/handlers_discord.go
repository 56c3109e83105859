package main

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kidtube/kidtube/internal/apperr"
	"github.com/kidtube/kidtube/internal/approval"
	"github.com/kidtube/kidtube/internal/webhook"
	"github.com/kidtube/kidtube/pkg/models"
)

// maxInteractionBody bounds a Discord interaction body
const maxInteractionBody = 64 << 10

// discordInteractions handles the Approve/Deny buttons on request notifications
// and bonus buttons. Every body must carry a valid Ed25519 signature from the
// configured Discord application.
func (api *API) discordInteractions(c *gin.Context) {
	signature := c.GetHeader(webhook.InteractionSignatureHeader)
	timestamp := c.GetHeader(webhook.TimestampHeader)
	if signature == "" || timestamp == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"detail": "missing signature headers"})
		return
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxInteractionBody))
	if err != nil {
		api.respondError(c, apperr.Validation("unreadable body"))
		return
	}
	now := api.now()
	if !webhook.VerifyInteraction(api.discordKey, signature, timestamp, body, now) {
		c.JSON(http.StatusUnauthorized, gin.H{"detail": "invalid request signature"})
		return
	}

	var interaction webhook.Interaction
	if err := json.Unmarshal(body, &interaction); err != nil {
		api.respondError(c, bindError(err))
		return
	}

	switch interaction.Type {
	case webhook.InteractionPing:
		c.JSON(http.StatusOK, webhook.InteractionResponse{Type: webhook.ResponsePong})
		return
	case webhook.InteractionComponent:
	default:
		c.JSON(http.StatusOK, webhook.EphemeralMessage("Unsupported interaction"))
		return
	}

	if interaction.Data == nil {
		c.JSON(http.StatusOK, webhook.EphemeralMessage("Unsupported action"))
		return
	}
	action, err := webhook.ParseCustomID(interaction.Data.CustomID)
	if err != nil {
		c.JSON(http.StatusOK, webhook.EphemeralMessage("Unsupported action"))
		return
	}

	var reply webhook.InteractionResponse
	switch action.Kind {
	case webhook.ActionRequest:
		reply, err = api.decideFromDiscord(c, action)
	case webhook.ActionBonus:
		reply, err = api.bonusFromDiscord(c, action)
	}
	if err != nil {
		api.respondError(c, err)
		return
	}

	api.logger.WithField("custom_id", interaction.Data.CustomID).Info("Discord action processed")
	c.JSON(http.StatusOK, reply)
}

// decideFromDiscord runs the same transition as the admin endpoints, so a
// second click on an already decided request is reported, not applied.
func (api *API) decideFromDiscord(c *gin.Context, action webhook.ButtonAction) (webhook.InteractionResponse, error) {
	decide := api.requests.Approve
	if action.Arg == webhook.VerbDeny {
		decide = api.requests.Deny
	}

	req, err := decide(c.Request.Context(), action.ID, api.now())
	switch {
	case errors.Is(err, apperr.ErrConflict):
		return webhook.EphemeralMessage("Request #%d was already decided", action.ID), nil
	case errors.Is(err, apperr.ErrNotFound):
		return webhook.EphemeralMessage("Request #%d not found", action.ID), nil
	case err != nil:
		return webhook.InteractionResponse{}, err
	}
	return webhook.EphemeralMessage("Request #%d %s", req.ID, req.Status), nil
}

// bonusFromDiscord grants bonus minutes straight away. Grants last until the
// kid's local midnight, like the admin grant endpoint.
func (api *API) bonusFromDiscord(c *gin.Context, action webhook.ButtonAction) (webhook.InteractionResponse, error) {
	ctx := c.Request.Context()
	now := api.now()

	kid, err := api.controls.GetKid(ctx, action.ID)
	if errors.Is(err, apperr.ErrNotFound) {
		return webhook.EphemeralMessage("Kid #%d not found", action.ID), nil
	}
	if err != nil {
		return webhook.InteractionResponse{}, err
	}

	loc := kid.Location(api.defaultLoc)
	minutes, err := approval.BonusMinutes(action.Arg, now, loc)
	if err != nil {
		return webhook.EphemeralMessage("Unsupported bonus code %q", action.Arg), nil
	}

	expiresAt := approval.EndOfDay(now, loc)
	grant := &models.BonusGrant{KidID: kid.ID, Minutes: minutes, ExpiresAt: &expiresAt}
	if err := api.controls.CreateBonusGrant(ctx, grant); err != nil {
		return webhook.InteractionResponse{}, err
	}
	return webhook.EphemeralMessage("Granted %d bonus minutes to %s", minutes, kid.Name), nil
}
