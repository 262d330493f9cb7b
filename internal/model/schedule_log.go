package model

import (
	"time"

	"github.com/google/uuid"
)

// ScheduleLog is the durable reporting snapshot of an alert occurrence. It is
// keyed by the alert's store-assigned timestamp plus (beneficiary, schedule)
// and independently by the reporting instance that created it. Logs are never
// deleted; they are the audit trail wired into reporting.
type ScheduleLog struct {
	ID              uuid.UUID       `db:"id" json:"id"`
	Timestamp       int64           `db:"ts" json:"timestamp"`
	BeneficiaryID   string          `db:"beneficiary_id" json:"beneficiary_id"`
	BeneficiaryType BeneficiaryType `db:"beneficiary_type" json:"beneficiary_type"`
	Provider        string          `db:"provider" json:"provider"`
	InstanceID      string          `db:"instance_id" json:"instance_id"`
	ScheduleName    string          `db:"schedule_name" json:"schedule_name"`
	VisitCode       string          `db:"visit_code" json:"visit_code"`
	CurrentWindow   AlertStatus     `db:"current_window" json:"current_window"`
	WindowStart     time.Time       `db:"window_start" json:"window_start"`
	WindowEnd       time.Time       `db:"window_end" json:"window_end"`
	Active          bool            `db:"active" json:"active"`
	ClosedBy        *string         `db:"closed_by" json:"closed_by,omitempty"`
	CloseDate       *time.Time      `db:"close_date" json:"close_date,omitempty"`
	TrackID         string          `db:"track_id" json:"track_id,omitempty"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time       `db:"updated_at" json:"updated_at"`
}

// Close marks the log inactive and records who closed it. Closing an already
// closed log keeps the original closure metadata, so repeated closes converge
// on the same state.
func (l *ScheduleLog) Close(instanceID string, at time.Time) {
	if !l.Active && l.CloseDate != nil {
		return
	}
	l.Active = false
	l.ClosedBy = &instanceID
	l.CloseDate = &at
}
