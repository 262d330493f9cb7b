package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type EnrollmentStatus string

const (
	EnrollmentStatusActive     EnrollmentStatus = "active"
	EnrollmentStatusCompleted  EnrollmentStatus = "completed"
	EnrollmentStatusUnenrolled EnrollmentStatus = "unenrolled"
)

// MilestoneFulfillment records one fulfilled visit of an enrollment.
type MilestoneFulfillment struct {
	MilestoneName   string    `json:"milestone_name"`
	FulfillmentDate time.Time `json:"fulfillment_date"`
}

// Fulfillments is the ordered fulfillment history, stored as jsonb.
type Fulfillments []MilestoneFulfillment

func (f Fulfillments) Value() (driver.Value, error) {
	if f == nil {
		return json.Marshal(Fulfillments{})
	}
	return json.Marshal(f)
}

func (f *Fulfillments) Scan(src interface{}) error {
	if src == nil {
		*f = nil
		return nil
	}
	b, ok := src.([]byte)
	if !ok {
		return fmt.Errorf("cannot scan %T into Fulfillments", src)
	}
	return json.Unmarshal(b, f)
}

// Enrollment tracks a beneficiary's participation in one named schedule.
// At most one enrollment per (beneficiary, schedule) pair is live at a time.
type Enrollment struct {
	ID                   uuid.UUID        `db:"id" json:"id"`
	BeneficiaryID        string           `db:"beneficiary_id" json:"beneficiary_id"`
	BeneficiaryType      BeneficiaryType  `db:"beneficiary_type" json:"beneficiary_type"`
	ScheduleName         string           `db:"schedule_name" json:"schedule_name"`
	CurrentMilestone     string           `db:"current_milestone" json:"current_milestone"`
	ReferenceDate        time.Time        `db:"reference_date" json:"reference_date"`
	EnrolledOn           time.Time        `db:"enrolled_on" json:"enrolled_on"`
	PreferredAlertHour   int              `db:"preferred_alert_hour" json:"preferred_alert_hour"`
	PreferredAlertMinute int              `db:"preferred_alert_minute" json:"preferred_alert_minute"`
	Status               EnrollmentStatus `db:"status" json:"status"`
	Fulfillments         Fulfillments     `db:"fulfillments" json:"fulfillments"`
	CreatedAt            time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt            time.Time        `db:"updated_at" json:"updated_at"`
}

// PreferredAlertTime renders the preferred alert time as HH:MM:00, the shape
// the external tracker expects.
func (e *Enrollment) PreferredAlertTime() string {
	return fmt.Sprintf("%02d:%02d:00", e.PreferredAlertHour, e.PreferredAlertMinute)
}

// FulfillmentFor scans the fulfillment history for a case-insensitive match
// against the milestone name. First match wins.
func (e *Enrollment) FulfillmentFor(milestone string) (MilestoneFulfillment, bool) {
	for _, f := range e.Fulfillments {
		if strings.EqualFold(f.MilestoneName, milestone) {
			return f, true
		}
	}
	return MilestoneFulfillment{}, false
}

// Fulfill appends a fulfillment for the current milestone.
func (e *Enrollment) Fulfill(milestone string, at time.Time) {
	e.Fulfillments = append(e.Fulfillments, MilestoneFulfillment{
		MilestoneName:   milestone,
		FulfillmentDate: at,
	})
}
