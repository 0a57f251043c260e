package dispatch

import (
	"context"

	"github.com/google/uuid"
)

// Repository persists the case aggregate. GetForUpdate must lock the row for
// the remainder of the surrounding transaction; Transact must run fn so that
// every repository call inside it joins one atomic unit.
type Repository interface {
	Transact(ctx context.Context, fn func(ctx context.Context) error) error
	Create(ctx context.Context, c *Case) error
	GetByID(ctx context.Context, id uuid.UUID) (*Case, error)
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Case, error)
	Save(ctx context.Context, c *Case) error
	List(ctx context.Context, status Status, limit, offset int) ([]*Case, int, error)
	ListByStatus(ctx context.Context, status Status) ([]*Case, error)
}
