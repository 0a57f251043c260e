package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Service writes and reads the case audit trail. Record is fire-and-forget:
// an audit failure is logged but never propagated, so the trail can lag a
// committed transition without ever blocking one.
type Service struct {
	repo   Repository
	logger zerolog.Logger
}

func NewService(repo Repository, logger zerolog.Logger) *Service {
	return &Service{repo: repo, logger: logger.With().Str("component", "audit").Logger()}
}

func (s *Service) Record(ctx context.Context, caseID uuid.UUID, kind, actorID string, detail any) {
	var raw json.RawMessage
	if detail != nil {
		data, err := json.Marshal(detail)
		if err != nil {
			s.logger.Error().Err(err).Str("kind", kind).Msg("failed to encode audit detail")
		} else {
			raw = data
		}
	}
	e := &Event{
		ID:        uuid.New(),
		CaseID:    caseID,
		Kind:      kind,
		ActorID:   actorID,
		Detail:    raw,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.repo.Create(ctx, e); err != nil {
		s.logger.Error().Err(err).
			Str("case_id", caseID.String()).
			Str("kind", kind).
			Msg("failed to write audit event")
	}
}

func (s *Service) ListByCase(ctx context.Context, caseID uuid.UUID, limit int) ([]*Event, error) {
	return s.repo.ListByCase(ctx, caseID, limit)
}
