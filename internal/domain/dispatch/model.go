package dispatch

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status is the case lifecycle state. The set is closed and ordered; apart
// from the rejected -> dispatched re-notification edge, no committed
// transition ever moves a case backward.
type Status string

const (
	StatusCreated              Status = "created"
	StatusTriaged              Status = "triaged"
	StatusDispatched           Status = "dispatched"
	StatusAwaitingResponse     Status = "awaiting_response"
	StatusAccepted             Status = "accepted"
	StatusRejected             Status = "rejected"
	StatusEscalationRequired   Status = "escalation_required"
	StatusDispatcherOverride   Status = "dispatcher_override"
	StatusEnroute              Status = "enroute"
	StatusHandoverInitiated    Status = "handover_initiated"
	StatusHandoverAcknowledged Status = "handover_acknowledged"
	StatusCompleted            Status = "completed"
)

// statusRank orders the lattice for the monotonicity check. Accepted and
// rejected share a rank: they are the two outcomes of one response cycle.
var statusRank = map[Status]int{
	StatusCreated:              0,
	StatusTriaged:              1,
	StatusDispatched:           2,
	StatusAwaitingResponse:     3,
	StatusAccepted:             4,
	StatusRejected:             4,
	StatusEscalationRequired:   5,
	StatusDispatcherOverride:   6,
	StatusEnroute:              7,
	StatusHandoverInitiated:    8,
	StatusHandoverAcknowledged: 9,
	StatusCompleted:            10,
}

// allowedTransitions is the closed edge set of the lattice.
var allowedTransitions = map[Status][]Status{
	StatusCreated:              {StatusTriaged},
	StatusTriaged:              {StatusDispatched},
	StatusDispatched:           {StatusAwaitingResponse},
	StatusAwaitingResponse:     {StatusAccepted, StatusRejected, StatusEscalationRequired, StatusDispatcherOverride},
	StatusAccepted:             {StatusEnroute, StatusDispatcherOverride},
	StatusRejected:             {StatusDispatched, StatusEscalationRequired},
	StatusEscalationRequired:   {StatusDispatcherOverride},
	StatusDispatcherOverride:   {StatusEnroute},
	StatusEnroute:              {StatusHandoverInitiated},
	StatusHandoverInitiated:    {StatusHandoverAcknowledged},
	StatusHandoverAcknowledged: {StatusCompleted},
	StatusCompleted:            {},
}

// CanTransition reports whether from -> to is an edge of the lattice.
func CanTransition(from, to Status) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Valid reports whether s is a member of the closed status set.
func (s Status) Valid() bool {
	_, ok := statusRank[s]
	return ok
}

// Handover sub-state tracked alongside the main status.
const (
	HandoverNone         = "none"
	HandoverInitiated    = "initiated"
	HandoverAcknowledged = "acknowledged"
)

// Hospital response values in the notification log.
const (
	ResponsePending   = "pending"
	ResponseAccepted  = "accepted"
	ResponseRejected  = "rejected"
	ResponseCancelled = "cancelled"
)

// Vitals is the clinical measurement snapshot taken at intake or triage.
type Vitals struct {
	HeartRate        *int     `json:"heart_rate,omitempty"`
	BloodPressureSys *int     `json:"blood_pressure_sys,omitempty"`
	BloodPressureDia *int     `json:"blood_pressure_dia,omitempty"`
	RespiratoryRate  *int     `json:"respiratory_rate,omitempty"`
	OxygenSaturation *int     `json:"oxygen_saturation,omitempty"`
	Temperature      *float64 `json:"temperature,omitempty"`
	GlasgowComaScore *int     `json:"glasgow_coma_score,omitempty"`
}

// Location is the incident position.
type Location struct {
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
	Address   string   `json:"address,omitempty"`
}

// NotificationEntry is one row of the ordered notification log: which
// hospital was asked, when, and how it answered.
type NotificationEntry struct {
	HospitalID   uuid.UUID  `json:"hospital_id"`
	HospitalName string     `json:"hospital_name"`
	NotifiedAt   time.Time  `json:"notified_at"`
	RespondedAt  *time.Time `json:"responded_at,omitempty"`
	Response     string     `json:"response"`
}

// Case is the central aggregate, one row in emergency_case.
type Case struct {
	ID uuid.UUID `db:"id" json:"id"`

	// Clinical snapshot
	EmergencyType string   `db:"emergency_type" json:"emergency_type"`
	AcuityLevel   int      `db:"acuity_level" json:"acuity_level"`
	PatientName   string   `db:"patient_name" json:"patient_name,omitempty"`
	PatientAge    *int     `db:"patient_age" json:"patient_age,omitempty"`
	Vitals        Vitals   `db:"vitals" json:"vitals"`
	Location      Location `db:"location" json:"location"`
	TriageFlags   []string `db:"triage_flags" json:"triage_flags,omitempty"`

	// Lifecycle
	Status                Status     `db:"status" json:"status"`
	RejectionCount        int        `db:"rejection_count" json:"rejection_count"`
	AwaitingResponseSince *time.Time `db:"awaiting_response_since" json:"awaiting_response_since,omitempty"`
	OverrideUsed          bool       `db:"override_used" json:"override_used"`
	HandoverStatus        string     `db:"handover_status" json:"handover_status"`

	// Assignment
	AcceptedHospitalID *uuid.UUID `db:"accepted_hospital_id" json:"accepted_hospital_id,omitempty"`
	OverrideHospitalID *uuid.UUID `db:"override_hospital_id" json:"override_hospital_id,omitempty"`

	NotificationLog []NotificationEntry `db:"notification_log" json:"notification_log"`

	// Timestamps, each set at most once.
	CreatedAt             time.Time  `db:"created_at" json:"created_at"`
	DispatchedAt          *time.Time `db:"dispatched_at" json:"dispatched_at,omitempty"`
	AcceptedAt            *time.Time `db:"accepted_at" json:"accepted_at,omitempty"`
	EnrouteAt             *time.Time `db:"enroute_at" json:"enroute_at,omitempty"`
	EscalationTriggeredAt *time.Time `db:"escalation_triggered_at" json:"escalation_triggered_at,omitempty"`
	CompletedAt           *time.Time `db:"completed_at" json:"completed_at,omitempty"`
	UpdatedAt             time.Time  `db:"updated_at" json:"updated_at"`
}

// AuthoritativeHospital resolves which hospital currently owns the case. An
// active override supersedes the accepted hospital and is never silently
// reverted; at most one hospital is authoritative at a time.
func (c *Case) AuthoritativeHospital() *uuid.UUID {
	if c.OverrideUsed && c.OverrideHospitalID != nil {
		return c.OverrideHospitalID
	}
	return c.AcceptedHospitalID
}

// setStatus moves the case along a lattice edge, enforcing legality.
func (c *Case) setStatus(to Status) error {
	if !CanTransition(c.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, c.Status, to)
	}
	c.Status = to
	return nil
}

// GoldenHourRemaining is the case-wide clinical deadline measured from
// creation. Reporting only; it never gates a transition.
func (c *Case) GoldenHourRemaining(window time.Duration, now time.Time) time.Duration {
	remaining := c.CreatedAt.Add(window).Sub(now)
	if remaining < 0 {
		return 0
	}
	return remaining
}
