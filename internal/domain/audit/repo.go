package audit

import (
	"context"

	"github.com/google/uuid"
)

// Repository is the append-only audit store.
type Repository interface {
	Create(ctx context.Context, e *Event) error
	ListByCase(ctx context.Context, caseID uuid.UUID, limit int) ([]*Event, error)
}
