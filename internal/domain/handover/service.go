package handover

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ems/ems/internal/domain/dispatch"
	"github.com/ems/ems/internal/platform/auth"
)

// Service runs the two-phase handover: the crew initiates with a frozen
// patient summary, the receiving hospital acknowledges it.
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

// Initiate moves the case from enroute to handover_initiated and freezes the
// patient summary for the receiving hospital. Both writes commit in one
// transaction so a summary always exists once the status says initiated.
func (s *Service) Initiate(ctx context.Context, caseID uuid.UUID) (*Summary, error) {
	actor := auth.ActorFromContext(ctx)
	if !actor.HasRole(auth.RoleCrew) {
		return nil, fmt.Errorf("%w: handover initiation requires crew role", dispatch.ErrUnauthorized)
	}

	var summary *Summary
	_, err := s.cases.Transition(ctx, caseID, func(c *dispatch.Case) error {
		if c.HandoverStatus != dispatch.HandoverNone {
			return fmt.Errorf("%w: handover already initiated", dispatch.ErrStateConflict)
		}
		if !dispatch.CanTransition(c.Status, dispatch.StatusHandoverInitiated) {
			return fmt.Errorf("%w: cannot initiate handover from %s", dispatch.ErrIllegalTransition, c.Status)
		}
		target := c.AuthoritativeHospital()
		if target == nil {
			return fmt.Errorf("%w: no destination hospital on record", dispatch.ErrStateConflict)
		}
		c.Status = dispatch.StatusHandoverInitiated
		c.HandoverStatus = dispatch.HandoverInitiated

		summary = &Summary{
			ID:            uuid.New(),
			CaseID:        c.ID,
			HospitalID:    *target,
			PatientName:   c.PatientName,
			PatientAge:    c.PatientAge,
			EmergencyType: c.EmergencyType,
			AcuityLevel:   c.AcuityLevel,
			Vitals:        c.Vitals,
			TriageFlags:   append([]string(nil), c.TriageFlags...),
			Timeline:      buildTimeline(c),
			InitiatedBy:   actor.ID,
			CreatedAt:     time.Now().UTC(),
		}
		return nil
	}, func(ctx context.Context, c *dispatch.Case) error {
		return s.repo.Create(ctx, summary)
	})
	if err != nil {
		return nil, err
	}

	if s.audit != nil {
		s.audit.Record(ctx, caseID, "handover.initiated", actor.ID, map[string]any{
			"hospital_id": summary.HospitalID,
		})
	}
	return summary, nil
}

// Acknowledge confirms receipt at the destination. Only the hospital the
// case is actually bound for may acknowledge, and only once.
func (s *Service) Acknowledge(ctx context.Context, caseID uuid.UUID) (*dispatch.Case, error) {
	actor := auth.ActorFromContext(ctx)
	if !actor.HasRole(auth.RoleHospital) && !actor.HasRole(auth.RoleAdmin) {
		return nil, fmt.Errorf("%w: handover acknowledgement requires hospital role", dispatch.ErrUnauthorized)
	}

	c, err := s.cases.Transition(ctx, caseID, func(c *dispatch.Case) error {
		if c.HandoverStatus == dispatch.HandoverAcknowledged {
			return fmt.Errorf("%w: handover already acknowledged", dispatch.ErrStateConflict)
		}
		if !dispatch.CanTransition(c.Status, dispatch.StatusHandoverAcknowledged) {
			return fmt.Errorf("%w: cannot acknowledge handover from %s", dispatch.ErrIllegalTransition, c.Status)
		}
		target := c.AuthoritativeHospital()
		if target == nil {
			return fmt.Errorf("%w: no destination hospital on record", dispatch.ErrStateConflict)
		}
		if !actor.HasRole(auth.RoleAdmin) {
			if actor.HospitalID == nil || *actor.HospitalID != *target {
				return fmt.Errorf("%w: only the receiving hospital may acknowledge", dispatch.ErrUnauthorized)
			}
		}
		c.Status = dispatch.StatusHandoverAcknowledged
		c.HandoverStatus = dispatch.HandoverAcknowledged
		return nil
	}, nil)
	if err != nil {
		return nil, err
	}

	if s.audit != nil {
		s.audit.Record(ctx, caseID, "handover.acknowledged", actor.ID, nil)
	}
	return c, nil
}

// GetSummary returns the frozen handover packet for a case.
func (s *Service) GetSummary(ctx context.Context, caseID uuid.UUID) (*Summary, error) {
	return s.repo.GetByCase(ctx, caseID)
}
