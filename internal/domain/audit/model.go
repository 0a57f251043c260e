package audit

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event is one append-only audit row tied to a case: who did what, when,
// with a free-form detail payload.
type Event struct {
	ID        uuid.UUID       `db:"id" json:"id"`
	CaseID    uuid.UUID       `db:"case_id" json:"case_id"`
	Kind      string          `db:"kind" json:"kind"`
	ActorID   string          `db:"actor_id" json:"actor_id,omitempty"`
	Detail    json.RawMessage `db:"detail" json:"detail,omitempty"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
}
