package enrollment

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

const dateFormat = "2006-01-02"

// Handler exposes enrollment lifecycle endpoints. Writes on the same
// beneficiary and schedule are serialized through the key lock so the
// engine's find-before-create reads never interleave.
type Handler struct {
	enrollments *enrollment.Service
	engine      *scheduling.Service
	schedules   repository.ScheduleRepository
	validator   *validator.Validator
	locks       *keylock.KeyLock
	logger      *logger.Logger
}

func NewHandler(
	enrollments *enrollment.Service,
	engine *scheduling.Service,
	schedules repository.ScheduleRepository,
	v *validator.Validator,
	locks *keylock.KeyLock,
	log *logger.Logger,
) *Handler {
	return &Handler{
		enrollments: enrollments,
		engine:      engine,
		schedules:   schedules,
		validator:   v,
		locks:       locks,
		logger:      log,
	}
}

type enrollRequest struct {
	BeneficiaryID        string `json:"beneficiary_id" validate:"required"`
	BeneficiaryType      string `json:"beneficiary_type" validate:"required,oneof=mother child elco"`
	Provider             string `json:"provider" validate:"required"`
	InstanceID           string `json:"instance_id" validate:"required"`
	ScheduleName         string `json:"schedule_name" validate:"required"`
	ReferenceDate        string `json:"reference_date" validate:"required"`
	PreferredAlertHour   int    `json:"preferred_alert_hour" validate:"min=0,max=23"`
	PreferredAlertMinute int    `json:"preferred_alert_minute" validate:"min=0,max=59"`
}

type enrollResponse struct {
	Enrollment   *model.Enrollment `json:"enrollment"`
	AlertOutcome string            `json:"alert_outcome"`
}

func (h *Handler) Enroll(c *gin.Context) {
	var req enrollRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.RespondWithError(c, apperrors.BadRequest(err.Error(), nil))
		return
	}
	if err := h.validator.Validate(req); err != nil {
		httputil.RespondWithError(c, apperrors.BadRequest(err.Error(), nil))
		return
	}
	referenceDate, err := time.Parse(dateFormat, req.ReferenceDate)
	if err != nil {
		httputil.RespondWithError(c, apperrors.BadRequest("invalid reference_date, expected YYYY-MM-DD", err))
		return
	}

	key := req.BeneficiaryID + "/" + req.ScheduleName
	h.locks.Lock(key)
	defer h.locks.Unlock(key)

	ctx := c.Request.Context()
	enrolled, err := h.enrollments.Enroll(ctx, enrollment.EnrollParams{
		BeneficiaryID:        req.BeneficiaryID,
		BeneficiaryType:      model.BeneficiaryType(req.BeneficiaryType),
		ScheduleName:         req.ScheduleName,
		ReferenceDate:        referenceDate,
		PreferredAlertHour:   req.PreferredAlertHour,
		PreferredAlertMinute: req.PreferredAlertMinute,
	})
	if err != nil {
		httputil.RespondWithError(c, apperrors.Conflict(err.Error(), nil))
		return
	}

	outcome := h.raiseFirstAlert(c, req, enrolled)
	httputil.RespondWithCreated(c, enrollResponse{
		Enrollment:   enrolled,
		AlertOutcome: outcome.String(),
	})
}

// raiseFirstAlert opens the alert for the first milestone window. An already
// expired window gets no alert; the expiry sweeper would only close it again.
func (h *Handler) raiseFirstAlert(c *gin.Context, req enrollRequest, enrolled *model.Enrollment) scheduling.Outcome {
	schedule, err := h.schedules.GetByName(c.Request.Context(), req.ScheduleName)
	if err != nil {
		h.logger.Warn("no schedule definition for first alert",
			"schedule_name", req.ScheduleName,
			"error", err.Error(),
		)
		return scheduling.OutcomeSkipped
	}
	milestone, ok := schedule.Milestone(enrolled.CurrentMilestone)
	if !ok {
		return scheduling.OutcomeSkipped
	}

	start, expiry := milestone.Window(enrolled.ReferenceDate)
	now := time.Now()
	if now.After(expiry) {
		return scheduling.OutcomeSkipped
	}
	status := model.AlertStatusNormal
	if now.Before(start) {
		status = model.AlertStatusUpcoming
	}

	_, err = h.engine.ScheduleCloseAndSave(c.Request.Context(), scheduling.CloseAndSaveParams{
		BeneficiaryID:   req.BeneficiaryID,
		InstanceID:      req.InstanceID,
		Provider:        req.Provider,
		ScheduleName:    req.ScheduleName,
		MilestoneName:   milestone.Name,
		BeneficiaryType: model.BeneficiaryType(req.BeneficiaryType),
		Status:          status,
		StartDate:       start,
		ExpiryDate:      expiry,
	})
	if err != nil {
		h.logger.Error(err, "first alert not raised",
			"beneficiary_id", req.BeneficiaryID,
			"schedule_name", req.ScheduleName,
		)
		return scheduling.OutcomeFailed
	}
	return scheduling.OutcomeApplied
}

type unenrollRequest struct {
	BeneficiaryID string `json:"beneficiary_id" validate:"required"`
	Provider      string `json:"provider" validate:"required"`
	InstanceID    string `json:"instance_id" validate:"required"`
	ScheduleName  string `json:"schedule_name" validate:"required"`
}

func (h *Handler) Unenroll(c *gin.Context) {
	var req unenrollRequest
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
	if err := h.enrollments.Unenroll(ctx, req.BeneficiaryID, req.ScheduleName); err != nil {
		if errors.Is(err, repository.ErrNotEnrolled) {
			httputil.RespondWithError(c, apperrors.NotFound("enrollment", err))
			return
		}
		httputil.RespondWithError(c, apperrors.Internal(err))
		return
	}

	outcome := h.engine.CloseScheduleAndScheduleLog(ctx, req.BeneficiaryID, req.InstanceID, req.ScheduleName, req.Provider)
	httputil.RespondWithSuccess(c, gin.H{
		"beneficiary_id": req.BeneficiaryID,
		"schedule_name":  req.ScheduleName,
		"close_outcome":  outcome.String(),
	})
}

func (h *Handler) ListEnrollments(c *gin.Context) {
	enrollments, err := h.enrollments.FindByBeneficiary(c.Request.Context(), c.Param("beneficiaryID"))
	if err != nil {
		httputil.RespondWithError(c, apperrors.Internal(err))
		return
	}

	httputil.RespondWithSuccess(c, enrollments)
}
