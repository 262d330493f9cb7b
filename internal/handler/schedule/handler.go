package schedule

import (
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/mwombeki/opensrp-server/internal/model"
	"github.com/mwombeki/opensrp-server/internal/repository"
	apperrors "github.com/mwombeki/opensrp-server/pkg/errors"
	"github.com/mwombeki/opensrp-server/pkg/httputil"
	"github.com/mwombeki/opensrp-server/pkg/validator"
)

// Handler exposes the schedule definition store over HTTP.
type Handler struct {
	schedules repository.ScheduleRepository
	validator *validator.Validator
}

func NewHandler(schedules repository.ScheduleRepository, v *validator.Validator) *Handler {
	return &Handler{schedules: schedules, validator: v}
}

type milestoneRequest struct {
	Name             string `json:"name" validate:"required"`
	StartOffsetDays  int    `json:"start_offset_days" validate:"min=0"`
	DurationDays     int    `json:"duration_days" validate:"min=0"`
	ExpiryOffsetDays int    `json:"expiry_offset_days" validate:"min=0"`
}

type createScheduleRequest struct {
	Name       string             `json:"name" validate:"required"`
	Milestones []milestoneRequest `json:"milestones" validate:"required,min=1,dive"`
}

func (h *Handler) CreateSchedule(c *gin.Context) {
	var req createScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.RespondWithError(c, apperrors.BadRequest(err.Error(), nil))
		return
	}
	if err := h.validator.Validate(req); err != nil {
		httputil.RespondWithError(c, apperrors.BadRequest(err.Error(), nil))
		return
	}

	milestones := make(model.Milestones, 0, len(req.Milestones))
	for _, m := range req.Milestones {
		milestones = append(milestones, model.Milestone{
			Name:             m.Name,
			StartOffsetDays:  m.StartOffsetDays,
			DurationDays:     m.DurationDays,
			ExpiryOffsetDays: m.ExpiryOffsetDays,
		})
	}

	schedule := &model.Schedule{
		Name:       req.Name,
		Milestones: milestones,
	}
	if err := h.schedules.Create(c.Request.Context(), schedule); err != nil {
		httputil.RespondWithError(c, apperrors.Internal(err))
		return
	}

	httputil.RespondWithCreated(c, schedule)
}

func (h *Handler) GetSchedule(c *gin.Context) {
	schedule, err := h.schedules.GetByName(c.Request.Context(), c.Param("name"))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			httputil.RespondWithError(c, apperrors.NotFound("schedule", err))
			return
		}
		httputil.RespondWithError(c, apperrors.Internal(err))
		return
	}

	httputil.RespondWithSuccess(c, schedule)
}

func (h *Handler) ListSchedules(c *gin.Context) {
	schedules, err := h.schedules.List(c.Request.Context())
	if err != nil {
		httputil.RespondWithError(c, apperrors.Internal(err))
		return
	}

	httputil.RespondWithSuccess(c, schedules)
}
