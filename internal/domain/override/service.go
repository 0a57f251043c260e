package override

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ems/ems/internal/domain/dispatch"
	"github.com/ems/ems/internal/platform/auth"
)

// Input is the dispatcher's override request. Scores come from the ranked
// list the dispatcher was looking at, so the record captures exactly what
// was superseded.
type Input struct {
	HospitalID    uuid.UUID `json:"hospital_id"`
	HospitalName  string    `json:"hospital_name"`
	NewScore      *float64  `json:"new_score"`
	PreviousScore *float64  `json:"previous_score"`
	ReasonCode    string    `json:"reason_code"`
	ReasonText    string    `json:"reason_text"`
}

type Service struct {
	cases *dispatch.Service
	repo  Repository
	audit dispatch.Recorder
}

func NewService(cases *dispatch.Service, repo Repository) *Service {
	return &Service{cases: cases, repo: repo}
}

// SetAuditRecorder attaches the best-effort audit sink. Optional.
func (s *Service) SetAuditRecorder(r dispatch.Recorder) { s.audit = r }

// Override substitutes the dispatcher's hospital choice for the ranked one.
// The OverrideRecord insert and the case transition to dispatcher_override
// commit in one transaction; once set, the override target outranks any
// later re-ranking until another explicit override.
func (s *Service) Override(ctx context.Context, caseID uuid.UUID, in Input) (*Record, error) {
	actor := auth.ActorFromContext(ctx)
	if !actor.HasRole(auth.RoleDispatcher) {
		return nil, fmt.Errorf("%w: override requires dispatcher role", dispatch.ErrUnauthorized)
	}
	if in.HospitalID == uuid.Nil {
		return nil, fmt.Errorf("%w: hospital_id is required", dispatch.ErrValidation)
	}
	if in.ReasonCode == "" && in.ReasonText == "" {
		return nil, fmt.Errorf("%w: override requires a reason", dispatch.ErrValidation)
	}

	rec := &Record{
		ID:              uuid.New(),
		CaseID:          caseID,
		NewHospitalID:   in.HospitalID,
		NewHospitalName: in.HospitalName,
		NewScore:        in.NewScore,
		PreviousScore:   in.PreviousScore,
		ReasonCode:      in.ReasonCode,
		ReasonText:      in.ReasonText,
		ActorID:         actor.ID,
		CreatedAt:       time.Now().UTC(),
	}
	if in.PreviousScore != nil && in.NewScore != nil {
		diff := *in.PreviousScore - *in.NewScore
		rec.ScoreDifference = &diff
	}

	_, err := s.cases.Transition(ctx, caseID, func(c *dispatch.Case) error {
		// The lattice admits overrides from escalation_required and, as
		// direct correction, from awaiting_response and accepted. Never at
		// or past enroute.
		if !dispatch.CanTransition(c.Status, dispatch.StatusDispatcherOverride) {
			return fmt.Errorf("%w: cannot override from %s", dispatch.ErrIllegalTransition, c.Status)
		}
		rec.PreviousHospitalID = c.AuthoritativeHospital()
		if rec.PreviousHospitalID == nil && len(c.NotificationLog) > 0 {
			last := c.NotificationLog[len(c.NotificationLog)-1]
			rec.PreviousHospitalID = &last.HospitalID
			rec.PreviousHospitalName = last.HospitalName
		}

		c.Status = dispatch.StatusDispatcherOverride
		c.OverrideUsed = true
		c.OverrideHospitalID = &in.HospitalID
		c.AwaitingResponseSince = nil
		return nil
	}, func(ctx context.Context, c *dispatch.Case) error {
		return s.repo.Create(ctx, rec)
	})
	if err != nil {
		return nil, err
	}

	if s.audit != nil {
		s.audit.Record(ctx, caseID, "case.overridden", actor.ID, map[string]any{
			"new_hospital_id":      in.HospitalID,
			"previous_hospital_id": rec.PreviousHospitalID,
			"reason_code":          in.ReasonCode,
		})
	}
	return rec, nil
}

// History returns the case's override records, newest first.
func (s *Service) History(ctx context.Context, caseID uuid.UUID, limit int) ([]*Record, error) {
	return s.repo.ListByCase(ctx, caseID, limit)
}
