package handover

import (
	"context"

	"github.com/google/uuid"
)

// Repository persists handover summaries. One summary per case; the row is
// written once at initiation and only ever read after that.
type Repository interface {
	Create(ctx context.Context, s *Summary) error
	GetByCase(ctx context.Context, caseID uuid.UUID) (*Summary, error)
}
