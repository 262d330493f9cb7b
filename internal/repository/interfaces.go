package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/mwombeki/opensrp-server/internal/model"
)

// Sentinel errors shared by all store implementations. Callers are expected
// to branch on these with errors.Is; a NotFound from a lookup is frequently a
// normal outcome for the lifecycle engine.
var (
	ErrNotFound    = errors.New("record not found")
	ErrNotEnrolled = errors.New("beneficiary not enrolled")
)

// All repository interfaces in one file
type (
	// ScheduleRepository stores named schedule definitions. Definitions are
	// immutable once created.
	ScheduleRepository interface {
		Create(ctx context.Context, schedule *model.Schedule) error
		GetByName(ctx context.Context, name string) (*model.Schedule, error)
		List(ctx context.Context) ([]*model.Schedule, error)
	}

	// EnrollmentRepository tracks a beneficiary's participation per schedule.
	EnrollmentRepository interface {
		Create(ctx context.Context, enrollment *model.Enrollment) error
		Update(ctx context.Context, enrollment *model.Enrollment) error
		// FindOpen returns the live enrollment for the pair, or ErrNotEnrolled.
		FindOpen(ctx context.Context, beneficiaryID, scheduleName string) (*model.Enrollment, error)
		FindByBeneficiary(ctx context.Context, beneficiaryID string) ([]*model.Enrollment, error)
	}

	// ActionRepository is the alert store. CreateOrUpdateAlert assigns the
	// correlation timestamp; callers re-read via FindOpenAlerts to obtain it.
	ActionRepository interface {
		CreateOrUpdateAlert(ctx context.Context, alert *model.Alert) error
		// FindOpenAlerts returns open alerts for the triple, most recent first.
		FindOpenAlerts(ctx context.Context, provider, beneficiaryID, scheduleName string) ([]*model.Alert, error)
		// FindAlerts returns all alerts for the triple, including closed ones.
		FindAlerts(ctx context.Context, provider, beneficiaryID, scheduleName string) ([]*model.Alert, error)
		CloseAlert(ctx context.Context, id uuid.UUID, completionDate time.Time) error
		ExpireAlert(ctx context.Context, id uuid.UUID, at time.Time) error
		// FindExpiredOpen returns open alerts whose window ended before the cutoff.
		FindExpiredOpen(ctx context.Context, cutoff time.Time, limit int) ([]*model.Alert, error)
	}

	// ScheduleLogRepository is the durable reporting snapshot store.
	ScheduleLogRepository interface {
		Save(ctx context.Context, log *model.ScheduleLog) error
		Update(ctx context.Context, log *model.ScheduleLog) error
		FindByTimestamp(ctx context.Context, timestamp int64, beneficiaryID, scheduleName string) (*model.ScheduleLog, error)
		FindByInstanceID(ctx context.Context, instanceID, beneficiaryID, scheduleName string) (*model.ScheduleLog, error)
	}

	// OutboxRepository queues alert lifecycle events for broker publication.
	OutboxRepository interface {
		Create(ctx context.Context, event *model.OutboxEvent) error
		GetPendingEvents(ctx context.Context, limit int) ([]*model.OutboxEvent, error)
		UpdateStatus(ctx context.Context, id uuid.UUID, status model.OutboxStatus, errorMessage *string, retryAt *time.Time) error
		DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error)
	}
)
