// Package scheduling implements the schedule and alert lifecycle engine. It
// coordinates the enrollment, action and schedule-log stores, which share no
// transaction: an alert's store-assigned timestamp is the only key tying its
// log record to it, so every create re-reads the store for the timestamp and
// every close goes find-before-act. Concurrent operations on the same
// (provider, beneficiary, schedule) triple are not race-free here; callers
// serialize them per key.
package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mwombeki/opensrp-server/config"
	"github.com/mwombeki/opensrp-server/internal/model"
	"github.com/mwombeki/opensrp-server/internal/repository"
	"github.com/mwombeki/opensrp-server/internal/service/event"
	"github.com/mwombeki/opensrp-server/internal/service/reporting"
	"github.com/mwombeki/opensrp-server/internal/tracking"
	"github.com/mwombeki/opensrp-server/pkg/logger"
	"github.com/mwombeki/opensrp-server/pkg/metrics"
)

// ExpiryInstanceID marks schedule-log closures produced by the window-expiry
// sweeper rather than by a reporting form.
const ExpiryInstanceID = "window-expiry"

// Unenroller abandons a beneficiary's enrollment in a schedule. Implemented
// by the enrollment service.
type Unenroller interface {
	Unenroll(ctx context.Context, beneficiaryID, scheduleName string) error
}

type Service struct {
	enrollments repository.EnrollmentRepository
	actions     repository.ActionRepository
	logs        repository.ScheduleLogRepository
	reporter    *reporting.Service
	enroller    Unenroller
	tracker     tracking.Client
	events      *event.Service
	logger      *logger.Logger
	metrics     *metrics.Metrics

	trackingEnabled bool
	pushBeforeSave  bool
}

func NewService(
	enrollments repository.EnrollmentRepository,
	actions repository.ActionRepository,
	logs repository.ScheduleLogRepository,
	reporter *reporting.Service,
	enroller Unenroller,
	tracker tracking.Client,
	events *event.Service,
	log *logger.Logger,
	m *metrics.Metrics,
	trackingCfg config.TrackingConfig,
) *Service {
	return &Service{
		enrollments:     enrollments,
		actions:         actions,
		logs:            logs,
		reporter:        reporter,
		enroller:        enroller,
		tracker:         tracker,
		events:          events,
		logger:          log,
		metrics:         m,
		trackingEnabled: trackingCfg.Enabled,
		pushBeforeSave:  trackingCfg.PushBeforeSave,
	}
}

// SaveScheduleLogParams describes the reporting snapshot for one alert. The
// timestamp must have been read back from the action store after the alert
// write. TrackScheduleName names the enrollment mirrored to the external
// tracker; empty disables the push for this call.
type SaveScheduleLogParams struct {
	BeneficiaryType   model.BeneficiaryType
	BeneficiaryID     string
	InstanceID        string
	Provider          string
	ScheduleName      string
	VisitCode         string
	Status            model.AlertStatus
	StartDate         time.Time
	ExpiryDate        time.Time
	TrackScheduleName string
	Timestamp         int64
}

// SaveScheduleLog persists the reporting snapshot correlated to an alert.
// This is the engine's primary write: its failure propagates. The optional
// tracker push around it never does.
func (s *Service) SaveScheduleLog(ctx context.Context, p SaveScheduleLogParams) error {
	trackID := ""
	if s.shouldPush(p.TrackScheduleName) && s.pushBeforeSave {
		trackID = s.pushEnrollmentFor(ctx, p.BeneficiaryID, p.TrackScheduleName)
	}

	err := s.reporter.AlertForReporting(ctx, reporting.AlertReport{
		BeneficiaryType: p.BeneficiaryType,
		BeneficiaryID:   p.BeneficiaryID,
		InstanceID:      p.InstanceID,
		Provider:        p.Provider,
		ScheduleName:    p.ScheduleName,
		VisitCode:       p.VisitCode,
		Status:          p.Status,
		StartDate:       p.StartDate,
		ExpiryDate:      p.ExpiryDate,
		TrackID:         trackID,
		Timestamp:       p.Timestamp,
	})
	if err != nil {
		s.count("save_schedule_log", OutcomeFailed)
		return fmt.Errorf("schedule log not created for %s: %w", p.BeneficiaryID, err)
	}
	s.logger.Info("schedule log created",
		"beneficiary_id", p.BeneficiaryID,
		"schedule_name", p.ScheduleName,
		"ts", p.Timestamp,
	)
	s.count("save_schedule_log", OutcomeApplied)

	if s.shouldPush(p.TrackScheduleName) && !s.pushBeforeSave {
		if trackID := s.pushEnrollmentFor(ctx, p.BeneficiaryID, p.TrackScheduleName); trackID != "" {
			s.recordTrackID(ctx, p, trackID)
		}
	}
	return nil
}

// CloseSchedule closes the ScheduleLog found by its correlation timestamp. A
// missing log is a normal skip: the alert may never have produced one under
// an earlier partial failure, and retries must not crash the caller. Closing
// an already closed log converges on the same state.
func (s *Service) CloseSchedule(ctx context.Context, beneficiaryID, instanceID string, timestamp int64, scheduleName string) Outcome {
	log, err := s.logs.FindByTimestamp(ctx, timestamp, beneficiaryID, scheduleName)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.logger.Warn("no schedule log to close",
				"beneficiary_id", beneficiaryID,
				"schedule_name", scheduleName,
				"ts", timestamp,
			)
			s.count("close_schedule", OutcomeSkipped)
			return OutcomeSkipped
		}
		s.logger.Error(err, "schedule log lookup failed", "beneficiary_id", beneficiaryID)
		s.count("close_schedule", OutcomeFailed)
		return OutcomeFailed
	}

	log.Close(instanceID, time.Now())
	if err := s.logs.Update(ctx, log); err != nil {
		s.logger.Error(err, "schedule log close failed", "beneficiary_id", beneficiaryID)
		s.count("close_schedule", OutcomeFailed)
		return OutcomeFailed
	}

	s.logger.Info("schedule log closed",
		"beneficiary_id", beneficiaryID,
		"instance_id", instanceID,
		"schedule_name", scheduleName,
	)
	s.count("close_schedule", OutcomeApplied)
	return OutcomeApplied
}

// CloseScheduleAndScheduleLog finds the current open alert for the triple and
// closes it together with its log. No open alert means nothing to close.
func (s *Service) CloseScheduleAndScheduleLog(ctx context.Context, beneficiaryID, instanceID, scheduleName, provider string) Outcome {
	out := s.closeCurrentAlert(ctx, beneficiaryID, instanceID, provider, scheduleName)
	s.count("close_schedule_and_log", out)
	return out
}

// closeCurrentAlert is the shared close phase: newest open alert first, close
// its log by timestamp, then the alert itself.
func (s *Service) closeCurrentAlert(ctx context.Context, beneficiaryID, instanceID, provider, scheduleName string) Outcome {
	alerts, err := s.actions.FindOpenAlerts(ctx, provider, beneficiaryID, scheduleName)
	if err != nil {
		s.logger.Error(err, "open alert lookup failed",
			"beneficiary_id", beneficiaryID,
			"schedule_name", scheduleName,
		)
		return OutcomeFailed
	}
	if len(alerts) == 0 {
		return OutcomeSkipped
	}

	current := alerts[0]
	out := s.CloseSchedule(ctx, beneficiaryID, instanceID, current.Timestamp, scheduleName)
	if out == OutcomeFailed {
		return OutcomeFailed
	}

	if err := s.actions.CloseAlert(ctx, current.ID, time.Now()); err != nil {
		s.logger.Error(err, "alert close failed", "alert_id", current.ID)
		return OutcomeFailed
	}

	current.Status = model.AlertStatusClosed
	s.emitAlertEvent(ctx, model.EventAlertClosed, current)
	return OutcomeApplied
}

// CreateImmediateScheduleAndScheduleLog raises a short-lived escalation alert
// with an upcoming window of [now, now+durationHours] and its correlated log.
// The whole operation is best-effort; it must never abort the triggering
// visit workflow.
func (s *Service) CreateImmediateScheduleAndScheduleLog(
	ctx context.Context,
	beneficiaryID, provider, instanceID string,
	beneficiaryType model.BeneficiaryType,
	scheduleName string,
	durationHours int,
) Outcome {
	now := time.Now()
	alert := &model.Alert{
		BeneficiaryID:   beneficiaryID,
		BeneficiaryType: beneficiaryType,
		Provider:        provider,
		ScheduleName:    scheduleName,
		VisitCode:       scheduleName,
		Status:          model.AlertStatusUpcoming,
		StartDate:       now,
		ExpiryDate:      now.Add(time.Duration(durationHours) * time.Hour),
	}
	if err := s.actions.CreateOrUpdateAlert(ctx, alert); err != nil {
		s.logger.Error(err, "immediate alert not created", "beneficiary_id", beneficiaryID)
		s.count("create_immediate", OutcomeFailed)
		return OutcomeFailed
	}

	current, ok := s.currentOpenAlert(ctx, provider, beneficiaryID, scheduleName)
	if !ok {
		s.count("create_immediate", OutcomeFailed)
		return OutcomeFailed
	}

	err := s.SaveScheduleLog(ctx, SaveScheduleLogParams{
		BeneficiaryType: beneficiaryType,
		BeneficiaryID:   beneficiaryID,
		InstanceID:      instanceID,
		Provider:        provider,
		ScheduleName:    scheduleName,
		VisitCode:       scheduleName,
		Status:          model.AlertStatusUpcoming,
		StartDate:       alert.StartDate,
		ExpiryDate:      alert.ExpiryDate,
		Timestamp:       current.Timestamp,
	})
	if err != nil {
		s.logger.Error(err, "immediate schedule log not created", "beneficiary_id", beneficiaryID)
		s.count("create_immediate", OutcomeFailed)
		return OutcomeFailed
	}

	s.emitAlertEvent(ctx, model.EventAlertCreated, current)
	s.count("create_immediate", OutcomeApplied)
	return OutcomeApplied
}

// CreateNewScheduleLogAndUnenrollImmediateSchedule replaces an escalation
// alert with a standard one once a real visit is recorded. The unenroll and
// the escalation close are best-effort; the normal-schedule creation proceeds
// regardless, so the beneficiary is never left with an open immediate alert.
func (s *Service) CreateNewScheduleLogAndUnenrollImmediateSchedule(
	ctx context.Context,
	beneficiaryID, provider, instanceID, immediateScheduleName, scheduleName string,
	beneficiaryType model.BeneficiaryType,
	durationHours int,
) (Outcome, error) {
	if err := s.enroller.Unenroll(ctx, beneficiaryID, immediateScheduleName); err != nil {
		s.logger.Warn("failed to unenroll immediate schedule",
			"beneficiary_id", beneficiaryID,
			"schedule_name", immediateScheduleName,
			"error", err.Error(),
		)
	}

	if out := s.closeCurrentAlert(ctx, beneficiaryID, instanceID, provider, immediateScheduleName); out == OutcomeFailed {
		s.logger.Warn("failed to close immediate alert",
			"beneficiary_id", beneficiaryID,
			"schedule_name", immediateScheduleName,
		)
	}

	now := time.Now()
	return s.ScheduleCloseAndSave(ctx, CloseAndSaveParams{
		BeneficiaryID:   beneficiaryID,
		InstanceID:      instanceID,
		Provider:        provider,
		ScheduleName:    scheduleName,
		MilestoneName:   scheduleName,
		BeneficiaryType: beneficiaryType,
		Status:          model.AlertStatusNormal,
		StartDate:       now,
		ExpiryDate:      now.Add(time.Duration(durationHours) * time.Hour),
	})
}

// CloseAndSaveParams describes one close-then-create transition on a triple.
type CloseAndSaveParams struct {
	BeneficiaryID   string
	InstanceID      string
	Provider        string
	ScheduleName    string
	MilestoneName   string
	BeneficiaryType model.BeneficiaryType
	Status          model.AlertStatus
	StartDate       time.Time
	ExpiryDate      time.Time
}

// ScheduleCloseAndSave runs the engine's central transition in two isolated
// phases: close whatever open alert exists, then create the new alert,
// re-read its assigned timestamp and persist the correlated log. A close
// failure never blocks the create; a create failure is the operation's error.
// Ordering matters: close-before-create keeps at most one open pair on the
// triple under normal conditions. Under a close failure old and new may
// transiently coexist, which idempotent closes and newest-first lookups
// tolerate.
func (s *Service) ScheduleCloseAndSave(ctx context.Context, p CloseAndSaveParams) (Outcome, error) {
	closeOutcome := s.closeCurrentAlert(ctx, p.BeneficiaryID, p.InstanceID, p.Provider, p.ScheduleName)
	if closeOutcome == OutcomeFailed {
		s.logger.Warn("close phase failed, proceeding with create",
			"beneficiary_id", p.BeneficiaryID,
			"schedule_name", p.ScheduleName,
		)
	}

	alert := &model.Alert{
		BeneficiaryID:   p.BeneficiaryID,
		BeneficiaryType: p.BeneficiaryType,
		Provider:        p.Provider,
		ScheduleName:    p.ScheduleName,
		VisitCode:       p.MilestoneName,
		Status:          p.Status,
		StartDate:       p.StartDate,
		ExpiryDate:      p.ExpiryDate,
	}
	if err := s.actions.CreateOrUpdateAlert(ctx, alert); err != nil {
		s.count("schedule_close_and_save", OutcomeFailed)
		return closeOutcome, fmt.Errorf("failed to create alert: %w", err)
	}

	current, ok := s.currentOpenAlert(ctx, p.Provider, p.BeneficiaryID, p.ScheduleName)
	if !ok {
		s.count("schedule_close_and_save", OutcomeFailed)
		return closeOutcome, fmt.Errorf("alert for %s/%s not readable after create", p.BeneficiaryID, p.ScheduleName)
	}

	err := s.SaveScheduleLog(ctx, SaveScheduleLogParams{
		BeneficiaryType:   p.BeneficiaryType,
		BeneficiaryID:     p.BeneficiaryID,
		InstanceID:        p.InstanceID,
		Provider:          p.Provider,
		ScheduleName:      p.ScheduleName,
		VisitCode:         p.MilestoneName,
		Status:            p.Status,
		StartDate:         p.StartDate,
		ExpiryDate:        p.ExpiryDate,
		TrackScheduleName: p.ScheduleName,
		Timestamp:         current.Timestamp,
	})
	if err != nil {
		s.count("schedule_close_and_save", OutcomeFailed)
		return closeOutcome, err
	}

	s.emitAlertEvent(ctx, model.EventAlertCreated, current)
	s.count("schedule_close_and_save", OutcomeApplied)
	return closeOutcome, nil
}

// OpenAlerts lists the currently open alerts on a triple, newest first.
func (s *Service) OpenAlerts(ctx context.Context, provider, beneficiaryID, scheduleName string) ([]*model.Alert, error) {
	return s.actions.FindOpenAlerts(ctx, provider, beneficiaryID, scheduleName)
}

// FulfillSchedule records a milestone fulfillment through the reporting
// collaborator. Pure pass-through; no engine state is touched.
func (s *Service) FulfillSchedule(ctx context.Context, beneficiaryID, scheduleName, instanceID string, timestamp int64) error {
	return s.reporter.ScheduleFulfill(ctx, beneficiaryID, scheduleName, instanceID, timestamp)
}

// ExpireAlert closes out one alert whose window has passed: the log is closed
// under the sweeper's instance id and the alert transitions to expired.
func (s *Service) ExpireAlert(ctx context.Context, alert *model.Alert) Outcome {
	if out := s.CloseSchedule(ctx, alert.BeneficiaryID, ExpiryInstanceID, alert.Timestamp, alert.ScheduleName); out == OutcomeFailed {
		return OutcomeFailed
	}

	if err := s.actions.ExpireAlert(ctx, alert.ID, time.Now()); err != nil {
		s.logger.Error(err, "alert expiry failed", "alert_id", alert.ID)
		s.count("expire_alert", OutcomeFailed)
		return OutcomeFailed
	}

	alert.Status = model.AlertStatusExpired
	s.emitAlertEvent(ctx, model.EventAlertExpired, alert)
	s.count("expire_alert", OutcomeApplied)
	return OutcomeApplied
}

// PushEnrollmentSnapshot mirrors one enrollment to the external tracker and
// returns its track id. Escalation names are substituted by their base
// schedule name on the wire. Failures are advisory.
func (s *Service) PushEnrollmentSnapshot(ctx context.Context, enrollment *model.Enrollment) (string, Outcome) {
	if !s.trackingEnabled {
		return "", OutcomeSkipped
	}

	snapshot := tracking.EnrollmentSnapshot{
		Beneficiary:        enrollment.BeneficiaryID,
		BeneficiaryRole:    string(enrollment.BeneficiaryType),
		Schedule:           model.BaseScheduleName(enrollment.ScheduleName),
		PreferredAlertTime: enrollment.PreferredAlertTime(),
		ReferenceDate:      enrollment.ReferenceDate.Format(tracking.DateFormat),
		ReferenceDateType:  "MANUAL",
		DateEnrolled:       enrollment.EnrolledOn.Format(tracking.DateFormat),
		CurrentMilestone:   model.BaseScheduleName(enrollment.CurrentMilestone),
		Status:             string(enrollment.Status),
	}

	trackID, err := s.tracker.PostEnrollmentSnapshot(ctx, snapshot)
	if err != nil {
		s.logger.Warn("enrollment snapshot push failed",
			"beneficiary_id", enrollment.BeneficiaryID,
			"schedule_name", enrollment.ScheduleName,
			"error", err.Error(),
		)
		s.count("push_enrollment", OutcomeFailed)
		return "", OutcomeFailed
	}
	s.count("push_enrollment", OutcomeApplied)
	return trackID, OutcomeApplied
}

// PushMilestoneFulfillment mirrors one alert occurrence and its fulfillment
// state to the external tracker. The fulfillment date comes from the
// enrollment's history, else from the closing alert's completion date, else
// stays unset. Failures are advisory.
func (s *Service) PushMilestoneFulfillment(ctx context.Context, beneficiaryID, instanceID, provider, scheduleName string) Outcome {
	if !s.trackingEnabled {
		return OutcomeSkipped
	}

	enrollment, err := s.enrollments.FindOpen(ctx, beneficiaryID, scheduleName)
	if err != nil {
		s.logger.Warn("no enrollment for milestone push",
			"beneficiary_id", beneficiaryID,
			"schedule_name", scheduleName,
			"error", err.Error(),
		)
		s.count("push_milestone", OutcomeSkipped)
		return OutcomeSkipped
	}

	log, err := s.logs.FindByInstanceID(ctx, instanceID, beneficiaryID, scheduleName)
	if err != nil {
		s.logger.Warn("no schedule log for milestone push",
			"beneficiary_id", beneficiaryID,
			"instance_id", instanceID,
			"error", err.Error(),
		)
		s.count("push_milestone", OutcomeSkipped)
		return OutcomeSkipped
	}

	alerts, err := s.actions.FindAlerts(ctx, provider, beneficiaryID, scheduleName)
	if err != nil {
		s.logger.Error(err, "alert lookup failed for milestone push", "beneficiary_id", beneficiaryID)
		s.count("push_milestone", OutcomeFailed)
		return OutcomeFailed
	}
	closing := ClosedAlertFor(log.VisitCode, alerts)

	var fulfillmentDate *string
	if f, ok := enrollment.FulfillmentFor(log.VisitCode); ok {
		v := f.FulfillmentDate.Format(tracking.DateFormat)
		fulfillmentDate = &v
	} else if closing != nil && closing.CompletionDate != nil {
		v := closing.CompletionDate.Format(tracking.DateFormat)
		fulfillmentDate = &v
	}

	recipient, err := s.tracker.ResolveRecipient(ctx, provider)
	if err != nil {
		s.logger.Warn("recipient resolution failed",
			"provider", provider,
			"error", err.Error(),
		)
		s.count("push_milestone", OutcomeFailed)
		return OutcomeFailed
	}

	status := string(log.CurrentWindow)
	if closing != nil {
		status += "-completed"
	}

	update := tracking.MilestoneUpdate{
		Track:              log.TrackID,
		Milestone:          log.VisitCode,
		AlertRecipient:     recipient,
		AlertRecipientRole: "PROVIDER",
		FulfillmentDate:    fulfillmentDate,
		Status:             status,
		AlertStartDate:     log.WindowStart.Format(tracking.DateFormat),
		AlertExpiryDate:    log.WindowEnd.Format(tracking.DateFormat),
		ActionType:         "PROVIDER ALERT",
	}
	if err := s.tracker.PostMilestoneUpdate(ctx, update); err != nil {
		s.logger.Warn("milestone update push failed",
			"beneficiary_id", beneficiaryID,
			"schedule_name", scheduleName,
			"error", err.Error(),
		)
		s.count("push_milestone", OutcomeFailed)
		return OutcomeFailed
	}

	s.count("push_milestone", OutcomeApplied)
	return OutcomeApplied
}

// currentOpenAlert re-reads the newest open alert for the triple, the only
// way to learn a freshly assigned timestamp.
func (s *Service) currentOpenAlert(ctx context.Context, provider, beneficiaryID, scheduleName string) (*model.Alert, bool) {
	alerts, err := s.actions.FindOpenAlerts(ctx, provider, beneficiaryID, scheduleName)
	if err != nil {
		s.logger.Error(err, "open alert re-read failed",
			"beneficiary_id", beneficiaryID,
			"schedule_name", scheduleName,
		)
		return nil, false
	}
	if len(alerts) == 0 {
		s.logger.Error(nil, "no open alert after create",
			"beneficiary_id", beneficiaryID,
			"schedule_name", scheduleName,
		)
		return nil, false
	}
	return alerts[0], true
}

// pushEnrollmentFor pushes the live enrollment of the named schedule, if any.
func (s *Service) pushEnrollmentFor(ctx context.Context, beneficiaryID, scheduleName string) string {
	enrollment, err := s.enrollments.FindOpen(ctx, beneficiaryID, scheduleName)
	if err != nil {
		if !errors.Is(err, repository.ErrNotEnrolled) {
			s.logger.Error(err, "enrollment lookup for push failed", "beneficiary_id", beneficiaryID)
		}
		return ""
	}
	trackID, _ := s.PushEnrollmentSnapshot(ctx, enrollment)
	return trackID
}

// recordTrackID back-fills the track id onto an already saved log.
func (s *Service) recordTrackID(ctx context.Context, p SaveScheduleLogParams, trackID string) {
	log, err := s.logs.FindByTimestamp(ctx, p.Timestamp, p.BeneficiaryID, p.ScheduleName)
	if err != nil {
		s.logger.Warn("cannot record track id, log not found",
			"beneficiary_id", p.BeneficiaryID,
			"ts", p.Timestamp,
		)
		return
	}
	log.TrackID = trackID
	if err := s.logs.Update(ctx, log); err != nil {
		s.logger.Error(err, "track id update failed", "beneficiary_id", p.BeneficiaryID)
	}
}

func (s *Service) shouldPush(trackScheduleName string) bool {
	return s.trackingEnabled && trackScheduleName != ""
}

func (s *Service) emitAlertEvent(ctx context.Context, eventType string, alert *model.Alert) {
	if s.events == nil {
		return
	}
	if err := s.events.EmitAlertEvent(ctx, eventType, alert); err != nil {
		s.logger.Warn("alert event not queued",
			"event_type", eventType,
			"beneficiary_id", alert.BeneficiaryID,
			"error", err.Error(),
		)
	}
}

func (s *Service) count(operation string, outcome Outcome) {
	if s.metrics == nil {
		return
	}
	s.metrics.EngineOperations.WithLabelValues(operation, outcome.String()).Inc()
}
