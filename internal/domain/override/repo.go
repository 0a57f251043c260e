package override

import (
	"context"

	"github.com/google/uuid"
)

// Repository is append-only: no update or delete exists by design.
type Repository interface {
	Create(ctx context.Context, r *Record) error
	ListByCase(ctx context.Context, caseID uuid.UUID, limit int) ([]*Record, error)
}
