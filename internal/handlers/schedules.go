package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/emilythestrangee/campusnet/backend/internal/models"
	"github.com/emilythestrangee/campusnet/backend/internal/service"
)

type ScheduleHandler struct {
	schedules *service.Schedules
}

func NewScheduleHandler(schedules *service.Schedules) *ScheduleHandler {
	return &ScheduleHandler{schedules: schedules}
}

func (h *ScheduleHandler) GetSchedules(c *gin.Context) {
	items, err := h.schedules.List(c.Request.Context(), viewer(c))
	if err != nil {
		respondError(c, err)
		return
	}
	list(c, items)
}

func (h *ScheduleHandler) CreateSchedule(c *gin.Context) {
	var input models.ScheduleRequest
	if !bind(c, &input) {
		return
	}
	s, err := h.schedules.Create(c.Request.Context(), viewer(c), input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": "Class added to schedule", "schedule": s})
}

func (h *ScheduleHandler) UpdateSchedule(c *gin.Context) {
	var input models.SchedulePatch
	if !bind(c, &input) {
		return
	}
	s, err := h.schedules.Update(c.Request.Context(), viewer(c), c.Param("id"), input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Schedule updated", "schedule": s})
}

func (h *ScheduleHandler) DeleteSchedule(c *gin.Context) {
	if err := h.schedules.Delete(c.Request.Context(), viewer(c), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Class removed from schedule"})
}
