package main

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kidtube/kidtube/internal/apperr"
	"github.com/kidtube/kidtube/internal/approval"
	"github.com/kidtube/kidtube/internal/availability"
	"github.com/kidtube/kidtube/pkg/models"
)

func (api *API) listSchedules(c *gin.Context) {
	kidID, err := pathID(c, "id")
	if err != nil {
		api.respondError(c, err)
		return
	}

	schedules, err := api.controls.ListSchedules(c.Request.Context(), kidID)
	if err != nil {
		api.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"schedules": schedules})
}

func (api *API) createSchedule(c *gin.Context) {
	kidID, err := pathID(c, "id")
	if err != nil {
		api.respondError(c, err)
		return
	}

	var req struct {
		DayOfWeek *int   `json:"day_of_week" binding:"required,min=0,max=6"`
		StartTime string `json:"start_time" binding:"required"`
		EndTime   string `json:"end_time" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		api.respondError(c, bindError(err))
		return
	}
	// Reject malformed clocks now rather than at decision time
	if _, err := availability.ParseClock(req.StartTime); err != nil {
		api.respondError(c, err)
		return
	}
	if _, err := availability.ParseClock(req.EndTime); err != nil {
		api.respondError(c, err)
		return
	}

	window := &models.ScheduleWindow{
		KidID:     kidID,
		DayOfWeek: *req.DayOfWeek,
		StartTime: req.StartTime,
		EndTime:   req.EndTime,
	}
	if err := api.controls.CreateSchedule(c.Request.Context(), window); err != nil {
		api.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, window)
}

func (api *API) deleteSchedule(c *gin.Context) {
	kidID, err := pathID(c, "id")
	if err != nil {
		api.respondError(c, err)
		return
	}
	scheduleID, err := pathID(c, "scheduleId")
	if err != nil {
		api.respondError(c, err)
		return
	}

	if err := api.controls.DeleteSchedule(c.Request.Context(), kidID, scheduleID); err != nil {
		api.respondError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (api *API) listBonusTime(c *gin.Context) {
	kidID, err := pathID(c, "id")
	if err != nil {
		api.respondError(c, err)
		return
	}

	grants, err := api.controls.ListActiveBonusGrants(c.Request.Context(), kidID, api.now())
	if err != nil {
		api.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"grants": grants})
}

func (api *API) grantBonusTime(c *gin.Context) {
	kidID, err := pathID(c, "id")
	if err != nil {
		api.respondError(c, err)
		return
	}

	var req struct {
		Minutes   int        `json:"minutes" binding:"required,min=1"`
		ExpiresAt *time.Time `json:"expires_at"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		api.respondError(c, bindError(err))
		return
	}

	ctx := c.Request.Context()
	now := api.now()
	kid, err := api.controls.GetKid(ctx, kidID)
	if err != nil {
		api.respondError(c, err)
		return
	}

	// Grants without an explicit expiry last until the kid's midnight
	expiresAt := req.ExpiresAt
	if expiresAt == nil {
		eod := approval.EndOfDay(now, kid.Location(api.defaultLoc))
		expiresAt = &eod
	} else if !expiresAt.After(now) {
		api.respondError(c, apperr.Validation("expires_at must be in the future"))
		return
	}

	grant := &models.BonusGrant{KidID: kidID, Minutes: req.Minutes, ExpiresAt: expiresAt}
	if err := api.controls.CreateBonusGrant(ctx, grant); err != nil {
		api.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, grant)
}

func (api *API) upsertCategoryLimit(c *gin.Context) {
	kidID, err := pathID(c, "id")
	if err != nil {
		api.respondError(c, err)
		return
	}
	categoryID, err := pathID(c, "cat")
	if err != nil {
		api.respondError(c, err)
		return
	}

	var req struct {
		DailyLimitMinutes *int `json:"daily_limit_minutes" binding:"required,min=0"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		api.respondError(c, bindError(err))
		return
	}

	limit := models.CategoryLimit{KidID: kidID, CategoryID: categoryID, DailyLimitMinutes: *req.DailyLimitMinutes}
	if err := api.controls.UpsertCategoryLimit(c.Request.Context(), limit); err != nil {
		api.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, limit)
}

func (api *API) deleteCategoryLimit(c *gin.Context) {
	kidID, err := pathID(c, "id")
	if err != nil {
		api.respondError(c, err)
		return
	}
	categoryID, err := pathID(c, "cat")
	if err != nil {
		api.respondError(c, err)
		return
	}

	if err := api.controls.DeleteCategoryLimit(c.Request.Context(), kidID, categoryID); err != nil {
		api.respondError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}
