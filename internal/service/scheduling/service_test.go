package scheduling

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mwombeki/opensrp-server/config"
	"github.com/mwombeki/opensrp-server/internal/model"
	"github.com/mwombeki/opensrp-server/internal/repository"
	"github.com/mwombeki/opensrp-server/internal/service/reporting"
	"github.com/mwombeki/opensrp-server/internal/tracking"
	"github.com/mwombeki/opensrp-server/pkg/logger"
)

// fakeActionRepo assigns strictly increasing timestamps on create, the same
// contract the postgres store provides.
type fakeActionRepo struct {
	mu     sync.Mutex
	alerts []*model.Alert
	nextTS int64

	failCreate bool
	failClose  bool
}

func newFakeActionRepo() *fakeActionRepo {
	return &fakeActionRepo{nextTS: 1000}
}

func (f *fakeActionRepo) CreateOrUpdateAlert(_ context.Context, alert *model.Alert) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failCreate {
		return fmt.Errorf("store down")
	}
	f.nextTS++
	alert.ID = uuid.New()
	alert.Timestamp = f.nextTS
	alert.CreatedAt = time.Now()
	f.alerts = append(f.alerts, alert)
	return nil
}

func (f *fakeActionRepo) FindOpenAlerts(_ context.Context, provider, beneficiaryID, scheduleName string) ([]*model.Alert, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.Alert
	for _, a := range f.alerts {
		if a.Provider == provider && a.BeneficiaryID == beneficiaryID && a.ScheduleName == scheduleName && a.IsOpen() {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp > out[j].Timestamp })
	return out, nil
}

func (f *fakeActionRepo) FindAlerts(_ context.Context, provider, beneficiaryID, scheduleName string) ([]*model.Alert, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.Alert
	for _, a := range f.alerts {
		if a.Provider == provider && a.BeneficiaryID == beneficiaryID && a.ScheduleName == scheduleName {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeActionRepo) CloseAlert(_ context.Context, id uuid.UUID, completionDate time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failClose {
		return fmt.Errorf("store down")
	}
	for _, a := range f.alerts {
		if a.ID == id {
			a.Status = model.AlertStatusClosed
			a.CompletionDate = &completionDate
			return nil
		}
	}
	return repository.ErrNotFound
}

func (f *fakeActionRepo) ExpireAlert(_ context.Context, id uuid.UUID, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.alerts {
		if a.ID == id {
			a.Status = model.AlertStatusExpired
			a.UpdatedAt = at
			return nil
		}
	}
	return repository.ErrNotFound
}

func (f *fakeActionRepo) FindExpiredOpen(_ context.Context, cutoff time.Time, limit int) ([]*model.Alert, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.Alert
	for _, a := range f.alerts {
		if a.IsOpen() && a.ExpiryDate.Before(cutoff) {
			out = append(out, a)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

type fakeScheduleLogRepo struct {
	mu          sync.Mutex
	logs        []*model.ScheduleLog
	updateCalls int
}

func (f *fakeScheduleLogRepo) Save(_ context.Context, log *model.ScheduleLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	log.ID = uuid.New()
	log.CreatedAt = time.Now()
	f.logs = append(f.logs, log)
	return nil
}

func (f *fakeScheduleLogRepo) Update(_ context.Context, log *model.ScheduleLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updateCalls++
	for i, l := range f.logs {
		if l.ID == log.ID {
			f.logs[i] = log
			return nil
		}
	}
	return repository.ErrNotFound
}

func (f *fakeScheduleLogRepo) FindByTimestamp(_ context.Context, timestamp int64, beneficiaryID, scheduleName string) (*model.ScheduleLog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, l := range f.logs {
		if l.Timestamp == timestamp && l.BeneficiaryID == beneficiaryID && l.ScheduleName == scheduleName {
			return l, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeScheduleLogRepo) FindByInstanceID(_ context.Context, instanceID, beneficiaryID, scheduleName string) (*model.ScheduleLog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var found *model.ScheduleLog
	for _, l := range f.logs {
		if l.InstanceID == instanceID && l.BeneficiaryID == beneficiaryID && l.ScheduleName == scheduleName {
			if found == nil || l.Timestamp > found.Timestamp {
				found = l
			}
		}
	}
	if found == nil {
		return nil, repository.ErrNotFound
	}
	return found, nil
}

type fakeEnrollmentRepo struct {
	mu          sync.Mutex
	enrollments map[string]*model.Enrollment
}

func newFakeEnrollmentRepo() *fakeEnrollmentRepo {
	return &fakeEnrollmentRepo{enrollments: make(map[string]*model.Enrollment)}
}

func enrollmentKey(beneficiaryID, scheduleName string) string {
	return beneficiaryID + "/" + scheduleName
}

func (f *fakeEnrollmentRepo) Create(_ context.Context, e *model.Enrollment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	e.ID = uuid.New()
	f.enrollments[enrollmentKey(e.BeneficiaryID, e.ScheduleName)] = e
	return nil
}

func (f *fakeEnrollmentRepo) Update(_ context.Context, e *model.Enrollment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enrollments[enrollmentKey(e.BeneficiaryID, e.ScheduleName)] = e
	return nil
}

func (f *fakeEnrollmentRepo) FindOpen(_ context.Context, beneficiaryID, scheduleName string) (*model.Enrollment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.enrollments[enrollmentKey(beneficiaryID, scheduleName)]
	if !ok || e.Status != model.EnrollmentStatusActive {
		return nil, repository.ErrNotEnrolled
	}
	return e, nil
}

func (f *fakeEnrollmentRepo) FindByBeneficiary(_ context.Context, beneficiaryID string) ([]*model.Enrollment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.Enrollment
	for _, e := range f.enrollments {
		if e.BeneficiaryID == beneficiaryID {
			out = append(out, e)
		}
	}
	return out, nil
}

type fakeScheduleRepo struct {
	schedules map[string]*model.Schedule
}

func (f *fakeScheduleRepo) Create(_ context.Context, s *model.Schedule) error {
	f.schedules[s.Name] = s
	return nil
}

func (f *fakeScheduleRepo) GetByName(_ context.Context, name string) (*model.Schedule, error) {
	s, ok := f.schedules[name]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return s, nil
}

func (f *fakeScheduleRepo) List(_ context.Context) ([]*model.Schedule, error) {
	var out []*model.Schedule
	for _, s := range f.schedules {
		out = append(out, s)
	}
	return out, nil
}

type stubUnenroller struct {
	calls []string
	err   error
}

func (s *stubUnenroller) Unenroll(_ context.Context, beneficiaryID, scheduleName string) error {
	s.calls = append(s.calls, beneficiaryID+"/"+scheduleName)
	return s.err
}

type stubTracker struct {
	trackID   string
	recipient string
	updates   []tracking.MilestoneUpdate
	snapshots []tracking.EnrollmentSnapshot

	snapshotErr error
}

func (s *stubTracker) PostEnrollmentSnapshot(_ context.Context, snapshot tracking.EnrollmentSnapshot) (string, error) {
	s.snapshots = append(s.snapshots, snapshot)
	if s.snapshotErr != nil {
		return "", s.snapshotErr
	}
	return s.trackID, nil
}

func (s *stubTracker) PostMilestoneUpdate(_ context.Context, update tracking.MilestoneUpdate) error {
	s.updates = append(s.updates, update)
	return nil
}

func (s *stubTracker) ResolveRecipient(_ context.Context, provider string) (string, error) {
	return s.recipient, nil
}

type engineFixture struct {
	engine      *Service
	actions     *fakeActionRepo
	logs        *fakeScheduleLogRepo
	enrollments *fakeEnrollmentRepo
	unenroller  *stubUnenroller
	tracker     *stubTracker
}

func newEngineFixture(t *testing.T, trackingCfg config.TrackingConfig) *engineFixture {
	t.Helper()
	actions := newFakeActionRepo()
	logs := &fakeScheduleLogRepo{}
	enrollments := newFakeEnrollmentRepo()
	schedules := &fakeScheduleRepo{schedules: map[string]*model.Schedule{
		"ANC": {Name: "ANC", Milestones: model.Milestones{
			{Name: "ANC1", StartOffsetDays: 0, DurationDays: 30},
			{Name: "ANC2", StartOffsetDays: 30, DurationDays: 30},
		}},
	}}
	log := logger.NewLogger(nil)
	unenroller := &stubUnenroller{}
	tracker := &stubTracker{trackID: "track-1", recipient: "Demo ANM"}

	reporter := reporting.NewService(logs, enrollments, schedules, log)
	engine := NewService(enrollments, actions, logs, reporter, unenroller, tracker, nil, log, nil, trackingCfg)

	return &engineFixture{
		engine:      engine,
		actions:     actions,
		logs:        logs,
		enrollments: enrollments,
		unenroller:  unenroller,
		tracker:     tracker,
	}
}

func closeAndSaveParams(scheduleName, milestone string) CloseAndSaveParams {
	now := time.Now()
	return CloseAndSaveParams{
		BeneficiaryID:   "case-1",
		InstanceID:      "inst-1",
		Provider:        "anm-1",
		ScheduleName:    scheduleName,
		MilestoneName:   milestone,
		BeneficiaryType: model.BeneficiaryTypeMother,
		Status:          model.AlertStatusNormal,
		StartDate:       now,
		ExpiryDate:      now.AddDate(0, 0, 30),
	}
}

func TestScheduleCloseAndSave_FirstAlertHasCorrelatedLog(t *testing.T) {
	fx := newEngineFixture(t, config.TrackingConfig{})
	ctx := context.Background()

	closeOut, err := fx.engine.ScheduleCloseAndSave(ctx, closeAndSaveParams("ANC", "ANC1"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, closeOut, "nothing to close on a fresh triple")

	open, err := fx.engine.OpenAlerts(ctx, "anm-1", "case-1", "ANC")
	require.NoError(t, err)
	require.Len(t, open, 1)

	log, err := fx.logs.FindByTimestamp(ctx, open[0].Timestamp, "case-1", "ANC")
	require.NoError(t, err)
	assert.True(t, log.Active)
	assert.Equal(t, "ANC1", log.VisitCode)
	assert.Equal(t, open[0].Timestamp, log.Timestamp)
}

func TestScheduleCloseAndSave_ReplacementLeavesSingleOpenAlert(t *testing.T) {
	fx := newEngineFixture(t, config.TrackingConfig{})
	ctx := context.Background()

	_, err := fx.engine.ScheduleCloseAndSave(ctx, closeAndSaveParams("ANC", "ANC1"))
	require.NoError(t, err)

	first, err := fx.engine.OpenAlerts(ctx, "anm-1", "case-1", "ANC")
	require.NoError(t, err)
	require.Len(t, first, 1)

	closeOut, err := fx.engine.ScheduleCloseAndSave(ctx, closeAndSaveParams("ANC", "ANC2"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, closeOut)

	open, err := fx.engine.OpenAlerts(ctx, "anm-1", "case-1", "ANC")
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "ANC2", open[0].VisitCode)

	oldLog, err := fx.logs.FindByTimestamp(ctx, first[0].Timestamp, "case-1", "ANC")
	require.NoError(t, err)
	assert.False(t, oldLog.Active)
	require.NotNil(t, oldLog.ClosedBy)
	assert.Equal(t, "inst-1", *oldLog.ClosedBy)
	assert.NotNil(t, oldLog.CloseDate)
}

func TestScheduleCloseAndSave_CloseFailureStillCreates(t *testing.T) {
	fx := newEngineFixture(t, config.TrackingConfig{})
	ctx := context.Background()

	_, err := fx.engine.ScheduleCloseAndSave(ctx, closeAndSaveParams("ANC", "ANC1"))
	require.NoError(t, err)

	fx.actions.failClose = true
	closeOut, err := fx.engine.ScheduleCloseAndSave(ctx, closeAndSaveParams("ANC", "ANC2"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, closeOut)

	// Both alerts are transiently open; the newest must come back first so
	// later closes and lookups converge on it.
	open, err := fx.engine.OpenAlerts(ctx, "anm-1", "case-1", "ANC")
	require.NoError(t, err)
	require.Len(t, open, 2)
	assert.Equal(t, "ANC2", open[0].VisitCode)
	assert.NotEqual(t, open[0].Timestamp, open[1].Timestamp,
		"back-to-back creates must not share a correlation timestamp")
}

func TestCloseSchedule_MissingLogIsSkip(t *testing.T) {
	fx := newEngineFixture(t, config.TrackingConfig{})

	out := fx.engine.CloseSchedule(context.Background(), "case-1", "inst-1", 4242, "ANC")
	assert.Equal(t, OutcomeSkipped, out)
}

func TestCloseSchedule_RepeatedCloseKeepsOriginalCloser(t *testing.T) {
	fx := newEngineFixture(t, config.TrackingConfig{})
	ctx := context.Background()

	_, err := fx.engine.ScheduleCloseAndSave(ctx, closeAndSaveParams("ANC", "ANC1"))
	require.NoError(t, err)
	open, err := fx.engine.OpenAlerts(ctx, "anm-1", "case-1", "ANC")
	require.NoError(t, err)
	require.Len(t, open, 1)
	ts := open[0].Timestamp

	assert.Equal(t, OutcomeApplied, fx.engine.CloseSchedule(ctx, "case-1", "inst-1", ts, "ANC"))
	assert.Equal(t, OutcomeApplied, fx.engine.CloseSchedule(ctx, "case-1", "inst-2", ts, "ANC"))

	log, err := fx.logs.FindByTimestamp(ctx, ts, "case-1", "ANC")
	require.NoError(t, err)
	assert.False(t, log.Active)
	require.NotNil(t, log.ClosedBy)
	assert.Equal(t, "inst-1", *log.ClosedBy)
}

func TestCloseScheduleAndScheduleLog_NoOpenAlertIsSkip(t *testing.T) {
	fx := newEngineFixture(t, config.TrackingConfig{})

	out := fx.engine.CloseScheduleAndScheduleLog(context.Background(), "case-1", "inst-1", "ANC", "anm-1")
	assert.Equal(t, OutcomeSkipped, out)
}

func TestCloseScheduleAndScheduleLog_ClosesAlertAndLog(t *testing.T) {
	fx := newEngineFixture(t, config.TrackingConfig{})
	ctx := context.Background()

	_, err := fx.engine.ScheduleCloseAndSave(ctx, closeAndSaveParams("ANC", "ANC1"))
	require.NoError(t, err)

	out := fx.engine.CloseScheduleAndScheduleLog(ctx, "case-1", "inst-2", "ANC", "anm-1")
	assert.Equal(t, OutcomeApplied, out)

	open, err := fx.engine.OpenAlerts(ctx, "anm-1", "case-1", "ANC")
	require.NoError(t, err)
	assert.Empty(t, open)

	all, err := fx.actions.FindAlerts(ctx, "anm-1", "case-1", "ANC")
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, model.AlertStatusClosed, all[0].Status)
	assert.NotNil(t, all[0].CompletionDate)

	log, err := fx.logs.FindByTimestamp(ctx, all[0].Timestamp, "case-1", "ANC")
	require.NoError(t, err)
	assert.False(t, log.Active)
	require.NotNil(t, log.ClosedBy)
	assert.Equal(t, "inst-2", *log.ClosedBy)
}

func TestCreateImmediateScheduleAndScheduleLog(t *testing.T) {
	fx := newEngineFixture(t, config.TrackingConfig{})
	ctx := context.Background()

	out := fx.engine.CreateImmediateScheduleAndScheduleLog(ctx, "case-1", "anm-1", "inst-1", model.BeneficiaryTypeMother, "PNC_IMD", 24)
	assert.Equal(t, OutcomeApplied, out)

	open, err := fx.engine.OpenAlerts(ctx, "anm-1", "case-1", "PNC_IMD")
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, model.AlertStatusUpcoming, open[0].Status)
	assert.WithinDuration(t, open[0].StartDate.Add(24*time.Hour), open[0].ExpiryDate, time.Second)

	log, err := fx.logs.FindByTimestamp(ctx, open[0].Timestamp, "case-1", "PNC_IMD")
	require.NoError(t, err)
	assert.True(t, log.Active)
}

func TestCreateImmediateScheduleAndScheduleLog_StoreFailureIsContained(t *testing.T) {
	fx := newEngineFixture(t, config.TrackingConfig{})
	fx.actions.failCreate = true

	out := fx.engine.CreateImmediateScheduleAndScheduleLog(context.Background(), "case-1", "anm-1", "inst-1", model.BeneficiaryTypeMother, "PNC_IMD", 24)
	assert.Equal(t, OutcomeFailed, out)
	assert.Empty(t, fx.logs.logs)
}

func TestCreateNewScheduleLogAndUnenrollImmediateSchedule(t *testing.T) {
	fx := newEngineFixture(t, config.TrackingConfig{})
	ctx := context.Background()

	fx.enrollments.Create(ctx, &model.Enrollment{
		BeneficiaryID: "case-1",
		ScheduleName:  "PNC_IMD",
		Status:        model.EnrollmentStatusActive,
	})
	out := fx.engine.CreateImmediateScheduleAndScheduleLog(ctx, "case-1", "anm-1", "inst-1", model.BeneficiaryTypeMother, "PNC_IMD", 24)
	require.Equal(t, OutcomeApplied, out)

	closeOut, err := fx.engine.CreateNewScheduleLogAndUnenrollImmediateSchedule(
		ctx, "case-1", "anm-1", "inst-2", "PNC_IMD", "PNC", model.BeneficiaryTypeMother, 72,
	)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, closeOut, "no open alert on the normal schedule yet")
	assert.Equal(t, []string{"case-1/PNC_IMD"}, fx.unenroller.calls)

	immediate, err := fx.engine.OpenAlerts(ctx, "anm-1", "case-1", "PNC_IMD")
	require.NoError(t, err)
	assert.Empty(t, immediate, "escalation alert must be gone")

	normal, err := fx.engine.OpenAlerts(ctx, "anm-1", "case-1", "PNC")
	require.NoError(t, err)
	require.Len(t, normal, 1)
	assert.Equal(t, model.AlertStatusNormal, normal[0].Status)
}

func TestCreateNewScheduleLog_UnenrollFailureStillClosesImmediate(t *testing.T) {
	fx := newEngineFixture(t, config.TrackingConfig{})
	ctx := context.Background()
	fx.unenroller.err = fmt.Errorf("enrollment store down")

	out := fx.engine.CreateImmediateScheduleAndScheduleLog(ctx, "case-1", "anm-1", "inst-1", model.BeneficiaryTypeMother, "PNC_IMD", 24)
	require.Equal(t, OutcomeApplied, out)

	_, err := fx.engine.CreateNewScheduleLogAndUnenrollImmediateSchedule(
		ctx, "case-1", "anm-1", "inst-2", "PNC_IMD", "PNC", model.BeneficiaryTypeMother, 72,
	)
	require.NoError(t, err)

	immediate, err := fx.engine.OpenAlerts(ctx, "anm-1", "case-1", "PNC_IMD")
	require.NoError(t, err)
	assert.Empty(t, immediate)
}

func TestExpireAlert_ClosesLogUnderSweeperInstance(t *testing.T) {
	fx := newEngineFixture(t, config.TrackingConfig{})
	ctx := context.Background()

	_, err := fx.engine.ScheduleCloseAndSave(ctx, closeAndSaveParams("ANC", "ANC1"))
	require.NoError(t, err)
	open, err := fx.engine.OpenAlerts(ctx, "anm-1", "case-1", "ANC")
	require.NoError(t, err)
	require.Len(t, open, 1)

	out := fx.engine.ExpireAlert(ctx, open[0])
	assert.Equal(t, OutcomeApplied, out)

	remaining, err := fx.engine.OpenAlerts(ctx, "anm-1", "case-1", "ANC")
	require.NoError(t, err)
	assert.Empty(t, remaining)

	log, err := fx.logs.FindByTimestamp(ctx, open[0].Timestamp, "case-1", "ANC")
	require.NoError(t, err)
	assert.False(t, log.Active)
	require.NotNil(t, log.ClosedBy)
	assert.Equal(t, ExpiryInstanceID, *log.ClosedBy)
}

func TestPushEnrollmentSnapshot_SubstitutesEscalationName(t *testing.T) {
	fx := newEngineFixture(t, config.TrackingConfig{Enabled: true})
	ctx := context.Background()

	trackID, out := fx.engine.PushEnrollmentSnapshot(ctx, &model.Enrollment{
		BeneficiaryID:    "case-1",
		BeneficiaryType:  model.BeneficiaryTypeMother,
		ScheduleName:     "PNC_IMD",
		CurrentMilestone: "PNC_IMD",
		ReferenceDate:    time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
		EnrolledOn:       time.Date(2025, 3, 2, 0, 0, 0, 0, time.UTC),
		Status:           model.EnrollmentStatusActive,
	})
	assert.Equal(t, OutcomeApplied, out)
	assert.Equal(t, "track-1", trackID)

	require.Len(t, fx.tracker.snapshots, 1)
	assert.Equal(t, "PNC", fx.tracker.snapshots[0].Schedule)
	assert.Equal(t, "PNC", fx.tracker.snapshots[0].CurrentMilestone)
	assert.Equal(t, "MANUAL", fx.tracker.snapshots[0].ReferenceDateType)
}

func TestPushEnrollmentSnapshot_DisabledTrackingIsSkip(t *testing.T) {
	fx := newEngineFixture(t, config.TrackingConfig{})

	trackID, out := fx.engine.PushEnrollmentSnapshot(context.Background(), &model.Enrollment{BeneficiaryID: "case-1"})
	assert.Equal(t, OutcomeSkipped, out)
	assert.Empty(t, trackID)
	assert.Empty(t, fx.tracker.snapshots)
}

func TestPushMilestoneFulfillment(t *testing.T) {
	fx := newEngineFixture(t, config.TrackingConfig{Enabled: true})
	ctx := context.Background()

	fulfilledAt := time.Date(2025, 4, 10, 0, 0, 0, 0, time.UTC)
	fx.enrollments.Create(ctx, &model.Enrollment{
		BeneficiaryID:    "case-1",
		ScheduleName:     "ANC",
		CurrentMilestone: "ANC2",
		Status:           model.EnrollmentStatusActive,
		Fulfillments: model.Fulfillments{
			{MilestoneName: "ANC1", FulfillmentDate: fulfilledAt},
		},
	})

	_, err := fx.engine.ScheduleCloseAndSave(ctx, closeAndSaveParams("ANC", "ANC1"))
	require.NoError(t, err)
	require.Equal(t, OutcomeApplied, fx.engine.CloseScheduleAndScheduleLog(ctx, "case-1", "inst-1", "ANC", "anm-1"))

	out := fx.engine.PushMilestoneFulfillment(ctx, "case-1", "inst-1", "anm-1", "ANC")
	assert.Equal(t, OutcomeApplied, out)

	require.Len(t, fx.tracker.updates, 1)
	update := fx.tracker.updates[0]
	assert.Equal(t, "ANC1", update.Milestone)
	assert.Equal(t, "Demo ANM", update.AlertRecipient)
	assert.Equal(t, "PROVIDER", update.AlertRecipientRole)
	assert.Equal(t, "PROVIDER ALERT", update.ActionType)
	assert.Equal(t, "normal-completed", update.Status)
	require.NotNil(t, update.FulfillmentDate)
	assert.Equal(t, "2025-04-10", *update.FulfillmentDate)
}

func TestPushMilestoneFulfillment_MissingEnrollmentIsSkip(t *testing.T) {
	fx := newEngineFixture(t, config.TrackingConfig{Enabled: true})

	out := fx.engine.PushMilestoneFulfillment(context.Background(), "case-1", "inst-1", "anm-1", "ANC")
	assert.Equal(t, OutcomeSkipped, out)
	assert.Empty(t, fx.tracker.updates)
}

func TestSaveScheduleLog_BackfillsTrackID(t *testing.T) {
	fx := newEngineFixture(t, config.TrackingConfig{Enabled: true})
	ctx := context.Background()

	fx.enrollments.Create(ctx, &model.Enrollment{
		BeneficiaryID:    "case-1",
		BeneficiaryType:  model.BeneficiaryTypeMother,
		ScheduleName:     "ANC",
		CurrentMilestone: "ANC1",
		Status:           model.EnrollmentStatusActive,
	})

	_, err := fx.engine.ScheduleCloseAndSave(ctx, closeAndSaveParams("ANC", "ANC1"))
	require.NoError(t, err)

	open, err := fx.engine.OpenAlerts(ctx, "anm-1", "case-1", "ANC")
	require.NoError(t, err)
	require.Len(t, open, 1)

	log, err := fx.logs.FindByTimestamp(ctx, open[0].Timestamp, "case-1", "ANC")
	require.NoError(t, err)
	assert.Equal(t, "track-1", log.TrackID)
}

func TestSaveScheduleLog_PushBeforeSaveWritesTrackIDAtCreate(t *testing.T) {
	fx := newEngineFixture(t, config.TrackingConfig{Enabled: true, PushBeforeSave: true})
	ctx := context.Background()

	fx.enrollments.Create(ctx, &model.Enrollment{
		BeneficiaryID:    "case-1",
		BeneficiaryType:  model.BeneficiaryTypeMother,
		ScheduleName:     "ANC",
		CurrentMilestone: "ANC1",
		Status:           model.EnrollmentStatusActive,
	})

	_, err := fx.engine.ScheduleCloseAndSave(ctx, closeAndSaveParams("ANC", "ANC1"))
	require.NoError(t, err)

	open, err := fx.engine.OpenAlerts(ctx, "anm-1", "case-1", "ANC")
	require.NoError(t, err)
	require.Len(t, open, 1)

	// The push happens before the log write, so the track id is part of the
	// insert and no back-fill update runs.
	log, err := fx.logs.FindByTimestamp(ctx, open[0].Timestamp, "case-1", "ANC")
	require.NoError(t, err)
	assert.Equal(t, "track-1", log.TrackID)
	assert.Zero(t, fx.logs.updateCalls)
}

func TestSaveScheduleLog_PushBeforeSaveFailureStillSaves(t *testing.T) {
	fx := newEngineFixture(t, config.TrackingConfig{Enabled: true, PushBeforeSave: true})
	ctx := context.Background()

	fx.enrollments.Create(ctx, &model.Enrollment{
		BeneficiaryID:    "case-1",
		BeneficiaryType:  model.BeneficiaryTypeMother,
		ScheduleName:     "ANC",
		CurrentMilestone: "ANC1",
		Status:           model.EnrollmentStatusActive,
	})
	fx.tracker.snapshotErr = errors.New("tracker down")

	_, err := fx.engine.ScheduleCloseAndSave(ctx, closeAndSaveParams("ANC", "ANC1"))
	require.NoError(t, err)

	open, err := fx.engine.OpenAlerts(ctx, "anm-1", "case-1", "ANC")
	require.NoError(t, err)
	require.Len(t, open, 1)

	log, err := fx.logs.FindByTimestamp(ctx, open[0].Timestamp, "case-1", "ANC")
	require.NoError(t, err)
	assert.True(t, log.Active)
	assert.Empty(t, log.TrackID)
	require.Len(t, fx.tracker.snapshots, 1)
}
