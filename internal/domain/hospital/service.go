package hospital

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) Create(ctx context.Context, p *Profile) error {
	if p.Name == "" {
		return fmt.Errorf("name is required")
	}
	return s.repo.Create(ctx, p)
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Profile, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) Update(ctx context.Context, p *Profile) error {
	if p.Name == "" {
		return fmt.Errorf("name is required")
	}
	return s.repo.Update(ctx, p)
}

func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	return s.repo.Delete(ctx, id)
}

func (s *Service) List(ctx context.Context, limit, offset int) ([]*Profile, int, error) {
	return s.repo.List(ctx, limit, offset)
}

// PatchLive merges a sparse delta into the profile's live layer. Staff use
// this for rapid status changes (readiness, bed counts) without touching the
// canonical snapshot.
func (s *Service) PatchLive(ctx context.Context, id uuid.UUID, delta Snapshot) (*Profile, error) {
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	p.Live.Merge(delta)
	if err := s.repo.Update(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// ListEffective returns the resolved single-layer view of every hospital,
// the candidate set handed to the ranker.
func (s *Service) ListEffective(ctx context.Context) ([]EffectiveProfile, error) {
	profiles, _, err := s.repo.List(ctx, 1000, 0)
	if err != nil {
		return nil, err
	}
	out := make([]EffectiveProfile, 0, len(profiles))
	for _, p := range profiles {
		out = append(out, p.Effective())
	}
	return out, nil
}
