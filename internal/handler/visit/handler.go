package visit

import (
	"errors"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mwombeki/opensrp-server/internal/model"
	"github.com/mwombeki/opensrp-server/internal/repository"
	"github.com/mwombeki/opensrp-server/internal/service/enrollment"
	"github.com/mwombeki/opensrp-server/internal/service/scheduling"
	apperrors "github.com/mwombeki/opensrp-server/pkg/errors"
	"github.com/mwombeki/opensrp-server/pkg/httputil"
	"github.com/mwombeki/opensrp-server/pkg/keylock"
	"github.com/mwombeki/opensrp-server/pkg/logger"
	"github.com/mwombeki/opensrp-server/pkg/validator"
)

// Handler turns recorded field visits into schedule transitions. All writes
// on the same beneficiary and schedule go through the key lock so concurrent
// submissions cannot race the engine's find-before-create reads.
type Handler struct {
	engine      *scheduling.Service
	enrollments *enrollment.Service
	schedules   repository.ScheduleRepository
	validator   *validator.Validator
	locks       *keylock.KeyLock
	logger      *logger.Logger
}

func NewHandler(
	engine *scheduling.Service,
	enrollments *enrollment.Service,
	schedules repository.ScheduleRepository,
	v *validator.Validator,
	locks *keylock.KeyLock,
	log *logger.Logger,
) *Handler {
	return &Handler{
		engine:      engine,
		enrollments: enrollments,
		schedules:   schedules,
		validator:   v,
		locks:       locks,
		logger:      log,
	}
}

type recordVisitRequest struct {
	BeneficiaryID   string `json:"beneficiary_id" validate:"required"`
	BeneficiaryType string `json:"beneficiary_type" validate:"required,oneof=mother child elco"`
	Provider        string `json:"provider" validate:"required"`
	InstanceID      string `json:"instance_id" validate:"required"`
	ScheduleName    string `json:"schedule_name" validate:"required"`
}

type recordVisitResponse struct {
	Milestone     string `json:"milestone"`
	NextMilestone string `json:"next_milestone,omitempty"`
	Completed     bool   `json:"completed"`
	CloseOutcome  string `json:"close_outcome"`
	PushOutcome   string `json:"push_outcome"`
}

// RecordVisit fulfills the current milestone, closes its alert and log, and
// raises the alert for the next milestone window when the schedule has one.
func (h *Handler) RecordVisit(c *gin.Context) {
	var req recordVisitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.RespondWithError(c, apperrors.BadRequest(err.Error(), nil))
		return
	}
	if err := h.validator.Validate(req); err != nil {
		httputil.RespondWithError(c, apperrors.BadRequest(err.Error(), nil))
		return
	}

	key := req.BeneficiaryID + "/" + req.ScheduleName
	h.locks.Lock(key)
	defer h.locks.Unlock(key)

	ctx := c.Request.Context()
	enrolled, err := h.enrollments.FindOpen(ctx, req.BeneficiaryID, req.ScheduleName)
	if err != nil {
		if errors.Is(err, repository.ErrNotEnrolled) {
			httputil.RespondWithError(c, apperrors.NotFound("enrollment", err))
			return
		}
		httputil.RespondWithError(c, apperrors.Internal(err))
		return
	}
	fulfilled := enrolled.CurrentMilestone

	// The open alert's timestamp correlates the fulfillment with its log.
	// Without one, the fulfillment moment itself is the record.
	timestamp := time.Now().UnixMilli()
	if alerts, err := h.engine.OpenAlerts(ctx, req.Provider, req.BeneficiaryID, req.ScheduleName); err == nil && len(alerts) > 0 {
		timestamp = alerts[0].Timestamp
	}

	if err := h.engine.FulfillSchedule(ctx, req.BeneficiaryID, req.ScheduleName, req.InstanceID, timestamp); err != nil {
		httputil.RespondWithError(c, apperrors.Internal(err))
		return
	}

	closeOutcome := h.engine.CloseScheduleAndScheduleLog(ctx, req.BeneficiaryID, req.InstanceID, req.ScheduleName, req.Provider)

	next, completed := h.raiseNextAlert(c, req)
	pushOutcome := h.engine.PushMilestoneFulfillment(ctx, req.BeneficiaryID, req.InstanceID, req.Provider, req.ScheduleName)

	httputil.RespondWithSuccess(c, recordVisitResponse{
		Milestone:     fulfilled,
		NextMilestone: next,
		Completed:     completed,
		CloseOutcome:  closeOutcome.String(),
		PushOutcome:   pushOutcome.String(),
	})
}

// raiseNextAlert reloads the enrollment after fulfillment and opens the alert
// for its new current milestone. Returns the milestone name and whether the
// schedule completed instead.
func (h *Handler) raiseNextAlert(c *gin.Context, req recordVisitRequest) (string, bool) {
	ctx := c.Request.Context()
	enrolled, err := h.enrollments.FindOpen(ctx, req.BeneficiaryID, req.ScheduleName)
	if err != nil {
		// Fulfillment of the last milestone completes the enrollment.
		return "", true
	}

	schedule, err := h.schedules.GetByName(ctx, req.ScheduleName)
	if err != nil {
		h.logger.Warn("no schedule definition for next alert",
			"schedule_name", req.ScheduleName,
			"error", err.Error(),
		)
		return enrolled.CurrentMilestone, false
	}
	milestone, ok := schedule.Milestone(enrolled.CurrentMilestone)
	if !ok {
		return enrolled.CurrentMilestone, false
	}

	start, expiry := milestone.Window(enrolled.ReferenceDate)
	now := time.Now()
	if now.After(expiry) {
		return milestone.Name, false
	}
	status := model.AlertStatusNormal
	if now.Before(start) {
		status = model.AlertStatusUpcoming
	}

	if _, err := h.engine.ScheduleCloseAndSave(ctx, scheduling.CloseAndSaveParams{
		BeneficiaryID:   req.BeneficiaryID,
		InstanceID:      req.InstanceID,
		Provider:        req.Provider,
		ScheduleName:    req.ScheduleName,
		MilestoneName:   milestone.Name,
		BeneficiaryType: model.BeneficiaryType(req.BeneficiaryType),
		Status:          status,
		StartDate:       start,
		ExpiryDate:      expiry,
	}); err != nil {
		h.logger.Error(err, "next alert not raised",
			"beneficiary_id", req.BeneficiaryID,
			"schedule_name", req.ScheduleName,
		)
	}
	return milestone.Name, false
}

type escalationRequest struct {
	BeneficiaryID   string `json:"beneficiary_id" validate:"required"`
	BeneficiaryType string `json:"beneficiary_type" validate:"required,oneof=mother child elco"`
	Provider        string `json:"provider" validate:"required"`
	InstanceID      string `json:"instance_id" validate:"required"`
	ScheduleName    string `json:"schedule_name" validate:"required"`
	DurationHours   int    `json:"duration_hours" validate:"required,min=1"`
}

// CreateEscalation raises a short-lived alert on the immediate variant of a
// schedule, used when a visit is overdue and a worker must act now.
func (h *Handler) CreateEscalation(c *gin.Context) {
	var req escalationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.RespondWithError(c, apperrors.BadRequest(err.Error(), nil))
		return
	}
	if err := h.validator.Validate(req); err != nil {
		httputil.RespondWithError(c, apperrors.BadRequest(err.Error(), nil))
		return
	}

	immediate := model.ImmediateScheduleName(model.BaseScheduleName(req.ScheduleName))
	key := req.BeneficiaryID + "/" + immediate
	h.locks.Lock(key)
	defer h.locks.Unlock(key)

	outcome := h.engine.CreateImmediateScheduleAndScheduleLog(
		c.Request.Context(),
		req.BeneficiaryID,
		req.Provider,
		req.InstanceID,
		model.BeneficiaryType(req.BeneficiaryType),
		immediate,
		req.DurationHours,
	)

	httputil.RespondWithSuccess(c, gin.H{
		"schedule_name": immediate,
		"outcome":       outcome.String(),
	})
}

// ResolveEscalation replaces the immediate alert with a standard one once the
// overdue visit has actually been recorded.
func (h *Handler) ResolveEscalation(c *gin.Context) {
	var req escalationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.RespondWithError(c, apperrors.BadRequest(err.Error(), nil))
		return
	}
	if err := h.validator.Validate(req); err != nil {
		httputil.RespondWithError(c, apperrors.BadRequest(err.Error(), nil))
		return
	}

	base := model.BaseScheduleName(req.ScheduleName)
	immediate := model.ImmediateScheduleName(base)
	key := req.BeneficiaryID + "/" + base
	h.locks.Lock(key)
	defer h.locks.Unlock(key)

	outcome, err := h.engine.CreateNewScheduleLogAndUnenrollImmediateSchedule(
		c.Request.Context(),
		req.BeneficiaryID,
		req.Provider,
		req.InstanceID,
		immediate,
		base,
		model.BeneficiaryType(req.BeneficiaryType),
		req.DurationHours,
	)
	if err != nil {
		httputil.RespondWithError(c, apperrors.Internal(err))
		return
	}

	httputil.RespondWithSuccess(c, gin.H{
		"schedule_name": base,
		"close_outcome": outcome.String(),
	})
}

type closeCaseRequest struct {
	Provider   string `json:"provider" validate:"required"`
	InstanceID string `json:"instance_id" validate:"required"`
}

// CloseCase abandons every live enrollment of a beneficiary and closes the
// open alerts behind them. Used when a case leaves care entirely.
func (h *Handler) CloseCase(c *gin.Context) {
	var req closeCaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.RespondWithError(c, apperrors.BadRequest(err.Error(), nil))
		return
	}
	if err := h.validator.Validate(req); err != nil {
		httputil.RespondWithError(c, apperrors.BadRequest(err.Error(), nil))
		return
	}

	beneficiaryID := c.Param("beneficiaryID")
	ctx := c.Request.Context()
	enrollments, err := h.enrollments.FindByBeneficiary(ctx, beneficiaryID)
	if err != nil {
		httputil.RespondWithError(c, apperrors.Internal(err))
		return
	}

	closed := make([]string, 0, len(enrollments))
	for _, e := range enrollments {
		if e.Status != model.EnrollmentStatusActive {
			continue
		}
		key := beneficiaryID + "/" + e.ScheduleName
		h.locks.Lock(key)
		if err := h.enrollments.Unenroll(ctx, beneficiaryID, e.ScheduleName); err != nil {
			h.logger.Warn("failed to unenroll on case close",
				"beneficiary_id", beneficiaryID,
				"schedule_name", e.ScheduleName,
				"error", err.Error(),
			)
		}
		h.engine.CloseScheduleAndScheduleLog(ctx, beneficiaryID, req.InstanceID, e.ScheduleName, req.Provider)
		h.locks.Unlock(key)
		closed = append(closed, e.ScheduleName)
	}

	httputil.RespondWithSuccess(c, gin.H{
		"beneficiary_id":   beneficiaryID,
		"closed_schedules": closed,
	})
}

func (h *Handler) ListOpenAlerts(c *gin.Context) {
	provider := c.Query("provider")
	beneficiaryID := c.Query("beneficiary_id")
	scheduleName := c.Query("schedule_name")
	if provider == "" || beneficiaryID == "" || scheduleName == "" {
		httputil.RespondWithError(c, apperrors.BadRequest("provider, beneficiary_id and schedule_name are required", nil))
		return
	}

	alerts, err := h.engine.OpenAlerts(c.Request.Context(), provider, beneficiaryID, scheduleName)
	if err != nil {
		httputil.RespondWithError(c, apperrors.Internal(err))
		return
	}

	httputil.RespondWithSuccess(c, alerts)
}
