// Package reporting owns the durable reporting side of the alert lifecycle:
// it materializes ScheduleLog snapshots and records milestone fulfillments
// against enrollments.
package reporting

import (
	"context"
	"fmt"
	"time"

	"github.com/mwombeki/opensrp-server/internal/model"
	"github.com/mwombeki/opensrp-server/internal/repository"
	"github.com/mwombeki/opensrp-server/pkg/logger"
)

type Service struct {
	logs        repository.ScheduleLogRepository
	enrollments repository.EnrollmentRepository
	schedules   repository.ScheduleRepository
	logger      *logger.Logger
}

func NewService(
	logs repository.ScheduleLogRepository,
	enrollments repository.EnrollmentRepository,
	schedules repository.ScheduleRepository,
	log *logger.Logger,
) *Service {
	return &Service{
		logs:        logs,
		enrollments: enrollments,
		schedules:   schedules,
		logger:      log,
	}
}

// AlertReport carries everything needed to persist one reporting snapshot.
type AlertReport struct {
	BeneficiaryType model.BeneficiaryType
	BeneficiaryID   string
	InstanceID      string
	Provider        string
	ScheduleName    string
	VisitCode       string
	Status          model.AlertStatus
	StartDate       time.Time
	ExpiryDate      time.Time
	TrackID         string
	Timestamp       int64
}

// AlertForReporting persists the ScheduleLog row for a freshly created alert.
// The timestamp must be the one assigned by the action store.
func (s *Service) AlertForReporting(ctx context.Context, report AlertReport) error {
	log := &model.ScheduleLog{
		Timestamp:       report.Timestamp,
		BeneficiaryID:   report.BeneficiaryID,
		BeneficiaryType: report.BeneficiaryType,
		Provider:        report.Provider,
		InstanceID:      report.InstanceID,
		ScheduleName:    report.ScheduleName,
		VisitCode:       report.VisitCode,
		CurrentWindow:   report.Status,
		WindowStart:     report.StartDate,
		WindowEnd:       report.ExpiryDate,
		Active:          true,
		TrackID:         report.TrackID,
	}
	if err := s.logs.Save(ctx, log); err != nil {
		return fmt.Errorf("failed to persist schedule log: %w", err)
	}
	return nil
}

// ScheduleFulfill marks the enrollment's current milestone fulfilled at the
// given correlation timestamp and advances to the next milestone, completing
// the enrollment when none remains.
func (s *Service) ScheduleFulfill(ctx context.Context, beneficiaryID, scheduleName, instanceID string, timestamp int64) error {
	enrollment, err := s.enrollments.FindOpen(ctx, beneficiaryID, scheduleName)
	if err != nil {
		return fmt.Errorf("failed to find enrollment: %w", err)
	}

	enrollment.Fulfill(enrollment.CurrentMilestone, time.UnixMilli(timestamp))

	schedule, err := s.schedules.GetByName(ctx, scheduleName)
	if err != nil {
		return fmt.Errorf("failed to load schedule definition: %w", err)
	}

	if next, ok := schedule.MilestoneAfter(enrollment.CurrentMilestone); ok {
		enrollment.CurrentMilestone = next.Name
	} else {
		enrollment.Status = model.EnrollmentStatusCompleted
	}

	if err := s.enrollments.Update(ctx, enrollment); err != nil {
		return fmt.Errorf("failed to update enrollment: %w", err)
	}

	s.logger.Info("milestone fulfilled",
		"beneficiary_id", beneficiaryID,
		"schedule_name", scheduleName,
		"instance_id", instanceID,
	)
	return nil
}
