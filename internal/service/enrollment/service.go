package enrollment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mwombeki/opensrp-server/internal/model"
	"github.com/mwombeki/opensrp-server/internal/repository"
	"github.com/mwombeki/opensrp-server/pkg/logger"
)

type Service struct {
	enrollments repository.EnrollmentRepository
	schedules   repository.ScheduleRepository
	logger      *logger.Logger
}

func NewService(enrollments repository.EnrollmentRepository, schedules repository.ScheduleRepository, log *logger.Logger) *Service {
	return &Service{
		enrollments: enrollments,
		schedules:   schedules,
		logger:      log,
	}
}

// EnrollParams describes a beneficiary entering a named schedule.
type EnrollParams struct {
	BeneficiaryID        string
	BeneficiaryType      model.BeneficiaryType
	ScheduleName         string
	ReferenceDate        time.Time
	PreferredAlertHour   int
	PreferredAlertMinute int
}

// Enroll creates the live enrollment for the pair, positioned at the
// schedule's first milestone. A second live enrollment for the same pair is
// rejected; immediate and normal schedules are distinct pairs.
func (s *Service) Enroll(ctx context.Context, params EnrollParams) (*model.Enrollment, error) {
	if _, err := s.enrollments.FindOpen(ctx, params.BeneficiaryID, params.ScheduleName); err == nil {
		return nil, fmt.Errorf("beneficiary %s already enrolled in %s", params.BeneficiaryID, params.ScheduleName)
	} else if !errors.Is(err, repository.ErrNotEnrolled) {
		return nil, fmt.Errorf("failed to check enrollment: %w", err)
	}

	schedule, err := s.schedules.GetByName(ctx, params.ScheduleName)
	if err != nil {
		return nil, fmt.Errorf("failed to load schedule definition: %w", err)
	}
	first, ok := schedule.FirstMilestone()
	if !ok {
		return nil, fmt.Errorf("schedule %s has no milestones", params.ScheduleName)
	}

	enrollment := &model.Enrollment{
		BeneficiaryID:        params.BeneficiaryID,
		BeneficiaryType:      params.BeneficiaryType,
		ScheduleName:         params.ScheduleName,
		CurrentMilestone:     first.Name,
		ReferenceDate:        params.ReferenceDate,
		EnrolledOn:           time.Now(),
		PreferredAlertHour:   params.PreferredAlertHour,
		PreferredAlertMinute: params.PreferredAlertMinute,
		Status:               model.EnrollmentStatusActive,
	}
	if err := s.enrollments.Create(ctx, enrollment); err != nil {
		return nil, fmt.Errorf("failed to create enrollment: %w", err)
	}

	s.logger.Info("beneficiary enrolled",
		"beneficiary_id", params.BeneficiaryID,
		"schedule_name", params.ScheduleName,
		"milestone", first.Name,
	)
	return enrollment, nil
}

// Unenroll abandons the live enrollment for the pair. Returns
// repository.ErrNotEnrolled (wrapped) when there is nothing to abandon.
func (s *Service) Unenroll(ctx context.Context, beneficiaryID, scheduleName string) error {
	enrollment, err := s.enrollments.FindOpen(ctx, beneficiaryID, scheduleName)
	if err != nil {
		return fmt.Errorf("failed to unenroll: %w", err)
	}

	enrollment.Status = model.EnrollmentStatusUnenrolled
	if err := s.enrollments.Update(ctx, enrollment); err != nil {
		return fmt.Errorf("failed to unenroll: %w", err)
	}

	s.logger.Info("beneficiary unenrolled",
		"beneficiary_id", beneficiaryID,
		"schedule_name", scheduleName,
	)
	return nil
}

// FindOpen returns the live enrollment for the pair.
func (s *Service) FindOpen(ctx context.Context, beneficiaryID, scheduleName string) (*model.Enrollment, error) {
	return s.enrollments.FindOpen(ctx, beneficiaryID, scheduleName)
}

// FindByBeneficiary lists all enrollments of a beneficiary, oldest first.
func (s *Service) FindByBeneficiary(ctx context.Context, beneficiaryID string) ([]*model.Enrollment, error) {
	return s.enrollments.FindByBeneficiary(ctx, beneficiaryID)
}
