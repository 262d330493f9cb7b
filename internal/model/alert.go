package model

import (
	"time"

	"github.com/google/uuid"
)

type AlertStatus string

const (
	AlertStatusUpcoming AlertStatus = "upcoming"
	AlertStatusNormal   AlertStatus = "normal"
	AlertStatusUrgent   AlertStatus = "urgent"
	AlertStatusExpired  AlertStatus = "expired"
	AlertStatusClosed   AlertStatus = "closed"
)

// Alert is the live reminder record for a beneficiary's current milestone.
// Timestamp is assigned by the action store at creation and is the sole
// correlation key into the schedule log store; callers must read it back
// after a create rather than invent one.
type Alert struct {
	ID              uuid.UUID       `db:"id" json:"id"`
	BeneficiaryID   string          `db:"beneficiary_id" json:"beneficiary_id"`
	BeneficiaryType BeneficiaryType `db:"beneficiary_type" json:"beneficiary_type"`
	Provider        string          `db:"provider" json:"provider"`
	ScheduleName    string          `db:"schedule_name" json:"schedule_name"`
	VisitCode       string          `db:"visit_code" json:"visit_code"`
	Status          AlertStatus     `db:"status" json:"status"`
	StartDate       time.Time       `db:"start_date" json:"start_date"`
	ExpiryDate      time.Time       `db:"expiry_date" json:"expiry_date"`
	Timestamp       int64           `db:"ts" json:"timestamp"`
	CompletionDate  *time.Time      `db:"completion_date" json:"completion_date,omitempty"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time       `db:"updated_at" json:"updated_at"`
}

// IsOpen reports whether the alert still demands a visit.
func (a *Alert) IsOpen() bool {
	return a.Status != AlertStatusClosed && a.Status != AlertStatusExpired
}
