package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type OutboxStatus string

const (
	OutboxStatusPending   OutboxStatus = "pending"
	OutboxStatusProcessed OutboxStatus = "processed"
	OutboxStatusFailed    OutboxStatus = "failed"
)

// Alert lifecycle event types published for field-worker notification fan-out.
const (
	EventAlertCreated = "alert.created"
	EventAlertClosed  = "alert.closed"
	EventAlertExpired = "alert.expired"
)

// OutboxEvent is a pending broker publication, written in the same store as
// the alert state it describes and drained by the worker.
type OutboxEvent struct {
	ID           uuid.UUID       `db:"id" json:"id"`
	EventType    string          `db:"event_type" json:"event_type"`
	Payload      json.RawMessage `db:"payload" json:"payload"`
	Status       OutboxStatus    `db:"status" json:"status"`
	ErrorMessage *string         `db:"error_message" json:"error_message,omitempty"`
	RetryCount   int             `db:"retry_count" json:"retry_count"`
	RetryAt      *time.Time      `db:"retry_at" json:"retry_at,omitempty"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
	ProcessedAt  *time.Time      `db:"processed_at" json:"processed_at,omitempty"`
	UpdatedAt    time.Time       `db:"updated_at" json:"updated_at"`
}

// AlertEvent is the payload carried by alert lifecycle events.
type AlertEvent struct {
	BeneficiaryID string      `json:"beneficiary_id"`
	Provider      string      `json:"provider"`
	ScheduleName  string      `json:"schedule_name"`
	VisitCode     string      `json:"visit_code"`
	Status        AlertStatus `json:"status"`
	Timestamp     int64       `json:"timestamp"`
}
