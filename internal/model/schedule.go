package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ImmediateSuffix marks the short-duration escalation variant of a schedule.
// "PNC" has the escalation counterpart "PNC_IMD".
const ImmediateSuffix = "_IMD"

// ImmediateScheduleName returns the escalation variant of a schedule name.
func ImmediateScheduleName(base string) string {
	return base + ImmediateSuffix
}

// BaseScheduleName strips the escalation suffix, if present.
func BaseScheduleName(name string) string {
	return strings.TrimSuffix(name, ImmediateSuffix)
}

// Milestone is a single visit window within a schedule. Offsets are in days
// relative to the enrollment reference date.
type Milestone struct {
	Name             string `json:"name"`
	StartOffsetDays  int    `json:"start_offset_days"`
	DurationDays     int    `json:"duration_days"`
	ExpiryOffsetDays int    `json:"expiry_offset_days"`
}

// Milestones is the ordered milestone sequence, stored as jsonb.
type Milestones []Milestone

func (m Milestones) Value() (driver.Value, error) {
	return json.Marshal(m)
}

func (m *Milestones) Scan(src interface{}) error {
	b, ok := src.([]byte)
	if !ok {
		return fmt.Errorf("cannot scan %T into Milestones", src)
	}
	return json.Unmarshal(b, m)
}

// Schedule is a named, immutable sequence of care milestones.
type Schedule struct {
	ID         uuid.UUID  `db:"id" json:"id"`
	Name       string     `db:"name" json:"name"`
	Milestones Milestones `db:"milestones" json:"milestones"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
}

// FirstMilestone returns the initial milestone of the schedule.
func (s *Schedule) FirstMilestone() (Milestone, bool) {
	if len(s.Milestones) == 0 {
		return Milestone{}, false
	}
	return s.Milestones[0], true
}

// Milestone returns the named milestone. The match is case-insensitive.
func (s *Schedule) Milestone(name string) (Milestone, bool) {
	for _, m := range s.Milestones {
		if strings.EqualFold(m.Name, name) {
			return m, true
		}
	}
	return Milestone{}, false
}

// MilestoneAfter returns the milestone following the named one, in definition
// order. The match is case-insensitive.
func (s *Schedule) MilestoneAfter(name string) (Milestone, bool) {
	for i, m := range s.Milestones {
		if strings.EqualFold(m.Name, name) && i+1 < len(s.Milestones) {
			return s.Milestones[i+1], true
		}
	}
	return Milestone{}, false
}

// Window computes the alert window of a milestone relative to a reference date.
func (m Milestone) Window(reference time.Time) (start, expiry time.Time) {
	start = reference.AddDate(0, 0, m.StartOffsetDays)
	expiry = reference.AddDate(0, 0, m.StartOffsetDays+m.DurationDays+m.ExpiryOffsetDays)
	return start, expiry
}
