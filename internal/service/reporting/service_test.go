package reporting

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mwombeki/opensrp-server/internal/model"
	"github.com/mwombeki/opensrp-server/internal/repository"
	"github.com/mwombeki/opensrp-server/pkg/logger"
)

type memLogRepo struct {
	logs []*model.ScheduleLog
}

func (r *memLogRepo) Save(_ context.Context, log *model.ScheduleLog) error {
	log.ID = uuid.New()
	r.logs = append(r.logs, log)
	return nil
}

func (r *memLogRepo) Update(_ context.Context, log *model.ScheduleLog) error {
	for i, l := range r.logs {
		if l.ID == log.ID {
			r.logs[i] = log
			return nil
		}
	}
	return repository.ErrNotFound
}

func (r *memLogRepo) FindByTimestamp(_ context.Context, timestamp int64, beneficiaryID, scheduleName string) (*model.ScheduleLog, error) {
	for _, l := range r.logs {
		if l.Timestamp == timestamp && l.BeneficiaryID == beneficiaryID && l.ScheduleName == scheduleName {
			return l, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *memLogRepo) FindByInstanceID(_ context.Context, instanceID, beneficiaryID, scheduleName string) (*model.ScheduleLog, error) {
	for _, l := range r.logs {
		if l.InstanceID == instanceID && l.BeneficiaryID == beneficiaryID && l.ScheduleName == scheduleName {
			return l, nil
		}
	}
	return nil, repository.ErrNotFound
}

type memEnrollmentRepo struct {
	enrollment *model.Enrollment
}

func (r *memEnrollmentRepo) Create(_ context.Context, e *model.Enrollment) error { return nil }
func (r *memEnrollmentRepo) Update(_ context.Context, e *model.Enrollment) error {
	r.enrollment = e
	return nil
}

func (r *memEnrollmentRepo) FindOpen(_ context.Context, beneficiaryID, scheduleName string) (*model.Enrollment, error) {
	if r.enrollment == nil || r.enrollment.Status != model.EnrollmentStatusActive {
		return nil, repository.ErrNotEnrolled
	}
	return r.enrollment, nil
}

func (r *memEnrollmentRepo) FindByBeneficiary(_ context.Context, beneficiaryID string) ([]*model.Enrollment, error) {
	if r.enrollment == nil {
		return nil, nil
	}
	return []*model.Enrollment{r.enrollment}, nil
}

type memScheduleRepo struct {
	schedule *model.Schedule
}

func (r *memScheduleRepo) Create(_ context.Context, s *model.Schedule) error { return nil }
func (r *memScheduleRepo) GetByName(_ context.Context, name string) (*model.Schedule, error) {
	if r.schedule == nil || r.schedule.Name != name {
		return nil, repository.ErrNotFound
	}
	return r.schedule, nil
}
func (r *memScheduleRepo) List(_ context.Context) ([]*model.Schedule, error) {
	return []*model.Schedule{r.schedule}, nil
}

func TestAlertForReportingCreatesActiveLog(t *testing.T) {
	logs := &memLogRepo{}
	svc := NewService(logs, &memEnrollmentRepo{}, &memScheduleRepo{}, logger.NewLogger(nil))

	start := time.Now()
	err := svc.AlertForReporting(context.Background(), AlertReport{
		BeneficiaryType: model.BeneficiaryTypeMother,
		BeneficiaryID:   "case-1",
		InstanceID:      "inst-1",
		Provider:        "anm-1",
		ScheduleName:    "ANC",
		VisitCode:       "ANC1",
		Status:          model.AlertStatusNormal,
		StartDate:       start,
		ExpiryDate:      start.AddDate(0, 0, 30),
		Timestamp:       1234,
	})
	require.NoError(t, err)
	require.Len(t, logs.logs, 1)

	log := logs.logs[0]
	assert.True(t, log.Active)
	assert.Equal(t, int64(1234), log.Timestamp)
	assert.Equal(t, model.AlertStatusNormal, log.CurrentWindow)
	assert.Nil(t, log.CloseDate)
}

func TestScheduleFulfillAdvancesMilestone(t *testing.T) {
	enrollments := &memEnrollmentRepo{enrollment: &model.Enrollment{
		BeneficiaryID:    "case-1",
		ScheduleName:     "ANC",
		CurrentMilestone: "ANC1",
		Status:           model.EnrollmentStatusActive,
	}}
	schedules := &memScheduleRepo{schedule: &model.Schedule{
		Name: "ANC",
		Milestones: model.Milestones{
			{Name: "ANC1"},
			{Name: "ANC2"},
		},
	}}
	svc := NewService(&memLogRepo{}, enrollments, schedules, logger.NewLogger(nil))

	err := svc.ScheduleFulfill(context.Background(), "case-1", "ANC", "inst-1", time.Now().UnixMilli())
	require.NoError(t, err)

	assert.Equal(t, "ANC2", enrollments.enrollment.CurrentMilestone)
	assert.Equal(t, model.EnrollmentStatusActive, enrollments.enrollment.Status)
	require.Len(t, enrollments.enrollment.Fulfillments, 1)
	assert.Equal(t, "ANC1", enrollments.enrollment.Fulfillments[0].MilestoneName)
}

func TestScheduleFulfillLastMilestoneCompletes(t *testing.T) {
	enrollments := &memEnrollmentRepo{enrollment: &model.Enrollment{
		BeneficiaryID:    "case-1",
		ScheduleName:     "ANC",
		CurrentMilestone: "ANC2",
		Status:           model.EnrollmentStatusActive,
	}}
	schedules := &memScheduleRepo{schedule: &model.Schedule{
		Name: "ANC",
		Milestones: model.Milestones{
			{Name: "ANC1"},
			{Name: "ANC2"},
		},
	}}
	svc := NewService(&memLogRepo{}, enrollments, schedules, logger.NewLogger(nil))

	err := svc.ScheduleFulfill(context.Background(), "case-1", "ANC", "inst-1", time.Now().UnixMilli())
	require.NoError(t, err)

	assert.Equal(t, model.EnrollmentStatusCompleted, enrollments.enrollment.Status)
}

func TestScheduleFulfillMilestoneMatchIsCaseInsensitive(t *testing.T) {
	enrollments := &memEnrollmentRepo{enrollment: &model.Enrollment{
		BeneficiaryID:    "case-1",
		ScheduleName:     "ANC",
		CurrentMilestone: "anc1",
		Status:           model.EnrollmentStatusActive,
	}}
	schedules := &memScheduleRepo{schedule: &model.Schedule{
		Name: "ANC",
		Milestones: model.Milestones{
			{Name: "ANC1"},
			{Name: "ANC2"},
		},
	}}
	svc := NewService(&memLogRepo{}, enrollments, schedules, logger.NewLogger(nil))

	err := svc.ScheduleFulfill(context.Background(), "case-1", "ANC", "inst-1", time.Now().UnixMilli())
	require.NoError(t, err)

	assert.Equal(t, "ANC2", enrollments.enrollment.CurrentMilestone)
}

func TestScheduleFulfillWithoutEnrollment(t *testing.T) {
	svc := NewService(&memLogRepo{}, &memEnrollmentRepo{}, &memScheduleRepo{}, logger.NewLogger(nil))

	err := svc.ScheduleFulfill(context.Background(), "case-1", "ANC", "inst-1", time.Now().UnixMilli())
	assert.ErrorIs(t, err, repository.ErrNotEnrolled)
}
