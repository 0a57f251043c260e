package override

import (
	"time"

	"github.com/google/uuid"
)

// Record is one append-only audit entry for a dispatcher override. Records
// are never mutated or deleted; every attempt for a case stays queryable in
// timestamp order.
type Record struct {
	ID                   uuid.UUID  `db:"id" json:"id"`
	CaseID               uuid.UUID  `db:"case_id" json:"case_id"`
	PreviousHospitalID   *uuid.UUID `db:"previous_hospital_id" json:"previous_hospital_id,omitempty"`
	PreviousHospitalName string     `db:"previous_hospital_name" json:"previous_hospital_name,omitempty"`
	PreviousScore        *float64   `db:"previous_score" json:"previous_score,omitempty"`
	NewHospitalID        uuid.UUID  `db:"new_hospital_id" json:"new_hospital_id"`
	NewHospitalName      string     `db:"new_hospital_name" json:"new_hospital_name,omitempty"`
	NewScore             *float64   `db:"new_score" json:"new_score,omitempty"`
	ScoreDifference      *float64   `db:"score_difference" json:"score_difference,omitempty"`
	ReasonCode           string     `db:"reason_code" json:"reason_code"`
	ReasonText           string     `db:"reason_text" json:"reason_text,omitempty"`
	ActorID              string     `db:"actor_id" json:"actor_id"`
	CreatedAt            time.Time  `db:"created_at" json:"created_at"`
}
