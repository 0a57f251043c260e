package handover

import (
	"time"

	"github.com/google/uuid"

	"github.com/ems/ems/internal/domain/dispatch"
)

// TimelineEntry is one milestone in the case's lifecycle, frozen into the
// summary at initiation time.
type TimelineEntry struct {
	Event string    `json:"event"`
	At    time.Time `json:"at"`
}

// Summary is the patient packet handed to the receiving hospital. It is a
// snapshot taken when the crew initiates handover and is never updated
// afterwards, so the hospital sees exactly what the crew saw.
type Summary struct {
	ID            uuid.UUID       `db:"id" json:"id"`
	CaseID        uuid.UUID       `db:"case_id" json:"case_id"`
	HospitalID    uuid.UUID       `db:"hospital_id" json:"hospital_id"`
	PatientName   string          `db:"patient_name" json:"patient_name,omitempty"`
	PatientAge    *int            `db:"patient_age" json:"patient_age,omitempty"`
	EmergencyType string          `db:"emergency_type" json:"emergency_type"`
	AcuityLevel   int             `db:"acuity_level" json:"acuity_level"`
	Vitals        dispatch.Vitals `db:"vitals" json:"vitals"`
	TriageFlags   []string        `db:"triage_flags" json:"triage_flags,omitempty"`
	Timeline      []TimelineEntry `db:"timeline" json:"timeline"`
	InitiatedBy   string          `db:"initiated_by" json:"initiated_by"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
}

// buildTimeline flattens the case's milestone timestamps into ordered
// entries, skipping milestones that never happened.
func buildTimeline(c *dispatch.Case) []TimelineEntry {
	entries := []TimelineEntry{{Event: "created", At: c.CreatedAt}}
	add := func(event string, at *time.Time) {
		if at != nil {
			entries = append(entries, TimelineEntry{Event: event, At: *at})
		}
	}
	add("dispatched", c.DispatchedAt)
	add("escalation_triggered", c.EscalationTriggeredAt)
	add("accepted", c.AcceptedAt)
	add("enroute", c.EnrouteAt)
	return entries
}
