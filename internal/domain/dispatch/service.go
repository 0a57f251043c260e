package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ems/ems/internal/domain/escalation"
	"github.com/ems/ems/internal/platform/auth"
	"github.com/ems/ems/internal/platform/events"
)

// storeRetryLimit bounds retries of transient store failures. Logical guard
// failures are never retried.
const storeRetryLimit = 3

// DefaultGoldenHour is the case-wide clinical deadline from creation.
const DefaultGoldenHour = 60 * time.Minute

// Recorder receives best-effort audit events outside the primary
// transaction. Implemented by the audit service.
type Recorder interface {
	Record(ctx context.Context, caseID uuid.UUID, kind, actorID string, detail any)
}

// Service is the case state machine. Every state-changing operation runs as
// one guarded read-modify-write: the current status is re-read under a row
// lock in the same transaction that commits the new status and derived
// fields.
type Service struct {
	repo       Repository
	logger     zerolog.Logger
	publisher  events.Publisher
	audit      Recorder
	goldenHour time.Duration
}

func NewService(repo Repository, logger zerolog.Logger) *Service {
	return &Service{repo: repo, logger: logger, goldenHour: DefaultGoldenHour}
}

// SetPublisher attaches the change-notification hook. Optional.
func (s *Service) SetPublisher(p events.Publisher) { s.publisher = p }

// SetAuditRecorder attaches the best-effort audit sink. Optional.
func (s *Service) SetAuditRecorder(r Recorder) { s.audit = r }

// SetGoldenHour overrides the reporting deadline window.
func (s *Service) SetGoldenHour(d time.Duration) {
	if d > 0 {
		s.goldenHour = d
	}
}

// GoldenHour returns the configured reporting window.
func (s *Service) GoldenHour() time.Duration { return s.goldenHour }

// CreateCaseInput is the intake payload.
type CreateCaseInput struct {
	EmergencyType string   `json:"emergency_type"`
	AcuityLevel   int      `json:"acuity_level"`
	PatientName   string   `json:"patient_name"`
	PatientAge    *int     `json:"patient_age"`
	Vitals        Vitals   `json:"vitals"`
	Location      Location `json:"location"`
	TriageFlags   []string `json:"triage_flags"`
}

// CreateCase opens a new case in status created.
func (s *Service) CreateCase(ctx context.Context, in CreateCaseInput) (*Case, error) {
	if in.EmergencyType == "" {
		return nil, fmt.Errorf("%w: emergency_type is required", ErrValidation)
	}
	if in.AcuityLevel != 0 && (in.AcuityLevel < 1 || in.AcuityLevel > 5) {
		return nil, fmt.Errorf("%w: acuity_level must be 1-5", ErrValidation)
	}

	c := &Case{
		ID:             uuid.New(),
		EmergencyType:  in.EmergencyType,
		AcuityLevel:    in.AcuityLevel,
		PatientName:    in.PatientName,
		PatientAge:     in.PatientAge,
		Vitals:         in.Vitals,
		Location:       in.Location,
		TriageFlags:    in.TriageFlags,
		Status:         StatusCreated,
		HandoverStatus: HandoverNone,
		CreatedAt:      time.Now().UTC(),
	}

	err := s.withRetry(ctx, func(ctx context.Context) error {
		return s.repo.Create(ctx, c)
	})
	if err != nil {
		return nil, err
	}

	s.notify(ctx, "case.created", c)
	s.record(ctx, c.ID, "case.created", map[string]any{"emergency_type": c.EmergencyType})
	return c, nil
}

// Triage records the clinical assessment: created -> triaged.
func (s *Service) Triage(ctx context.Context, caseID uuid.UUID, acuity int, vitals Vitals, flags []string) (*Case, error) {
	if acuity < 1 || acuity > 5 {
		return nil, fmt.Errorf("%w: acuity_level must be 1-5", ErrValidation)
	}
	c, err := s.Transition(ctx, caseID, func(c *Case) error {
		if err := c.setStatus(StatusTriaged); err != nil {
			return err
		}
		c.AcuityLevel = acuity
		c.Vitals = vitals
		if flags != nil {
			c.TriageFlags = flags
		}
		return nil
	}, nil)
	if err != nil {
		return nil, err
	}
	s.notify(ctx, "case.triaged", c)
	s.record(ctx, c.ID, "case.triaged", map[string]any{"acuity_level": acuity})
	return c, nil
}

// Dispatch notifies one hospital and opens a response window. The move
// through dispatched into awaiting_response is a single committed write:
// one pending notification-log entry, awaitingResponseSince set to now.
func (s *Service) Dispatch(ctx context.Context, caseID, hospitalID uuid.UUID, hospitalName string) (*Case, error) {
	if hospitalID == uuid.Nil {
		return nil, fmt.Errorf("%w: hospital_id is required", ErrValidation)
	}
	now := time.Now().UTC()
	c, err := s.Transition(ctx, caseID, func(c *Case) error {
		if err := c.setStatus(StatusDispatched); err != nil {
			return err
		}
		if err := c.setStatus(StatusAwaitingResponse); err != nil {
			return err
		}
		if c.DispatchedAt == nil {
			c.DispatchedAt = &now
		}
		c.AwaitingResponseSince = &now
		c.NotificationLog = append(c.NotificationLog, NotificationEntry{
			HospitalID:   hospitalID,
			HospitalName: hospitalName,
			NotifiedAt:   now,
			Response:     ResponsePending,
		})
		return nil
	}, nil)
	if err != nil {
		return nil, err
	}
	s.notify(ctx, "case.dispatched", c)
	s.record(ctx, c.ID, "case.dispatched", map[string]any{"hospital_id": hospitalID, "hospital_name": hospitalName})
	return c, nil
}

// RecordResponse applies a hospital's answer to an open notification cycle.
//
// Accept is legal only while awaiting a response and only when no hospital
// has been accepted yet; the competing accept loses with ErrStateConflict.
// Reject increments the rejection count, and when the count reaches the
// acuity-scaled ceiling the same write moves the case straight to
// escalation_required. There is no observable state where the ceiling is
// breached but the status still says awaiting_response.
func (s *Service) RecordResponse(ctx context.Context, caseID, hospitalID uuid.UUID, accept bool) (*Case, error) {
	now := time.Now().UTC()
	var event string

	c, err := s.Transition(ctx, caseID, func(c *Case) error {
		if accept {
			if c.AcceptedHospitalID != nil {
				return fmt.Errorf("%w: case already accepted by hospital %s", ErrStateConflict, c.AcceptedHospitalID)
			}
			if err := c.setStatus(StatusAccepted); err != nil {
				return err
			}
			c.AcceptedHospitalID = &hospitalID
			if c.AcceptedAt == nil {
				c.AcceptedAt = &now
			}
			c.AwaitingResponseSince = nil
			markResponse(c, hospitalID, ResponseAccepted, now)
			event = "case.accepted"
			return nil
		}

		if err := c.setStatus(StatusRejected); err != nil {
			return err
		}
		c.RejectionCount++
		c.AwaitingResponseSince = nil
		markResponse(c, hospitalID, ResponseRejected, now)
		event = "case.rejected"

		if c.RejectionCount >= escalation.ParamsFor(c.AcuityLevel).RejectionCeiling {
			if err := c.setStatus(StatusEscalationRequired); err != nil {
				return err
			}
			if c.EscalationTriggeredAt == nil {
				c.EscalationTriggeredAt = &now
			}
			event = "case.escalated"
		}
		return nil
	}, nil)
	if err != nil {
		return nil, err
	}
	s.notify(ctx, event, c)
	s.record(ctx, c.ID, event, map[string]any{
		"hospital_id":     hospitalID,
		"accepted":        accept,
		"rejection_count": c.RejectionCount,
	})
	return c, nil
}

// TriggerEscalation is the timer/poller path into escalation_required. It is
// idempotent: a case that already escalated, or progressed past escalation,
// is a silent success, because the timer firing and a human rejection race
// toward the same transition.
func (s *Service) TriggerEscalation(ctx context.Context, caseID uuid.UUID) error {
	now := time.Now().UTC()
	escalated := false

	c, err := s.Transition(ctx, caseID, func(c *Case) error {
		if statusRank[c.Status] >= statusRank[StatusEscalationRequired] {
			return nil
		}
		switch c.Status {
		case StatusAwaitingResponse, StatusRejected:
			if err := c.setStatus(StatusEscalationRequired); err != nil {
				return err
			}
			if c.EscalationTriggeredAt == nil {
				c.EscalationTriggeredAt = &now
			}
			c.AwaitingResponseSince = nil
			markPendingCancelled(c, now)
			escalated = true
			return nil
		default:
			return fmt.Errorf("%w: cannot escalate from %s", ErrIllegalTransition, c.Status)
		}
	}, nil)
	if err != nil {
		return err
	}
	if escalated {
		s.notify(ctx, "case.escalated", c)
		s.record(ctx, c.ID, "case.escalated", map[string]any{"reason": "response_timeout"})
	}
	return nil
}

// EscalationDue lists awaiting-response cases whose acuity-scaled response
// window has fully elapsed at the given instant.
func (s *Service) EscalationDue(ctx context.Context, now time.Time) ([]uuid.UUID, error) {
	cases, err := s.repo.ListByStatus(ctx, StatusAwaitingResponse)
	if err != nil {
		return nil, err
	}
	var due []uuid.UUID
	for _, c := range cases {
		if escalation.Due(c.AwaitingResponseSince, c.AcuityLevel, now) {
			due = append(due, c.ID)
		}
	}
	return due, nil
}

// MarkEnroute is the crew's confirmation that transport has started. Only
// crew may call it, and the case must have a resolved authoritative
// hospital.
func (s *Service) MarkEnroute(ctx context.Context, caseID uuid.UUID) (*Case, error) {
	actor := auth.ActorFromContext(ctx)
	if !actor.HasRole(auth.RoleCrew) {
		return nil, fmt.Errorf("%w: enroute requires crew role", ErrUnauthorized)
	}

	now := time.Now().UTC()
	c, err := s.Transition(ctx, caseID, func(c *Case) error {
		if c.AuthoritativeHospital() == nil {
			return fmt.Errorf("%w: no authoritative hospital resolved", ErrStateConflict)
		}
		if err := c.setStatus(StatusEnroute); err != nil {
			return err
		}
		if c.EnrouteAt == nil {
			c.EnrouteAt = &now
		}
		return nil
	}, nil)
	if err != nil {
		return nil, err
	}
	s.notify(ctx, "case.enroute", c)
	s.record(ctx, c.ID, "case.enroute", map[string]any{"hospital_id": c.AuthoritativeHospital()})
	return c, nil
}

// Complete closes the case after an acknowledged handover. The record is
// immutable afterwards.
func (s *Service) Complete(ctx context.Context, caseID uuid.UUID) (*Case, error) {
	now := time.Now().UTC()
	c, err := s.Transition(ctx, caseID, func(c *Case) error {
		if err := c.setStatus(StatusCompleted); err != nil {
			return err
		}
		if c.CompletedAt == nil {
			c.CompletedAt = &now
		}
		return nil
	}, nil)
	if err != nil {
		return nil, err
	}
	s.notify(ctx, "case.completed", c)
	s.record(ctx, c.ID, "case.completed", nil)
	return c, nil
}

func (s *Service) GetCase(ctx context.Context, caseID uuid.UUID) (*Case, error) {
	return s.repo.GetByID(ctx, caseID)
}

func (s *Service) ListCases(ctx context.Context, status Status, limit, offset int) ([]*Case, int, error) {
	if status != "" && !status.Valid() {
		return nil, 0, fmt.Errorf("%w: unknown status %q", ErrValidation, status)
	}
	return s.repo.List(ctx, status, limit, offset)
}

// Transition runs one guarded read-modify-write: lock the row, let mutate
// validate and change the in-memory case, run the optional within callback
// inside the same transaction (companion writes such as override records or
// handover summaries), then persist. Transient store failures are retried a
// bounded number of times; logical failures surface immediately.
func (s *Service) Transition(ctx context.Context, caseID uuid.UUID, mutate func(*Case) error, within func(ctx context.Context, c *Case) error) (*Case, error) {
	var result *Case
	err := s.withRetry(ctx, func(ctx context.Context) error {
		return s.repo.Transact(ctx, func(ctx context.Context) error {
			c, err := s.repo.GetForUpdate(ctx, caseID)
			if err != nil {
				return err
			}
			if err := mutate(c); err != nil {
				return err
			}
			if within != nil {
				if err := within(ctx, c); err != nil {
					return err
				}
			}
			if err := s.repo.Save(ctx, c); err != nil {
				return err
			}
			result = c
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// withRetry retries op with bounded exponential backoff, but only for
// transient store failures. Every logical error is permanent.
func (s *Service) withRetry(ctx context.Context, op func(ctx context.Context) error) error {
	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), storeRetryLimit), ctx)
	return backoff.Retry(func() error {
		err := op(ctx)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrTransientStore) {
			s.logger.Warn().Err(err).Msg("transient store failure, retrying")
			return err
		}
		return backoff.Permanent(err)
	}, bo)
}

// notify publishes a change event. Best-effort: a failed publish never rolls
// back a committed transition.
func (s *Service) notify(ctx context.Context, eventType string, c *Case) {
	if s.publisher == nil {
		return
	}
	data, err := json.Marshal(c)
	if err != nil {
		s.logger.Error().Err(err).Str("case_id", c.ID.String()).Msg("failed to encode case event")
		return
	}
	evt := events.Event{
		Type:      eventType,
		Topic:     events.CaseTopic(c.ID),
		CaseID:    c.ID.String(),
		Status:    string(c.Status),
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
	if err := s.publisher.Publish(ctx, evt); err != nil {
		s.logger.Error().Err(err).Str("case_id", c.ID.String()).Msg("failed to publish case event")
	}
}

// record hands an audit event to the recorder. Best-effort by contract.
func (s *Service) record(ctx context.Context, caseID uuid.UUID, kind string, detail any) {
	if s.audit == nil {
		return
	}
	s.audit.Record(ctx, caseID, kind, auth.ActorFromContext(ctx).ID, detail)
}

func markResponse(c *Case, hospitalID uuid.UUID, response string, at time.Time) {
	for i := len(c.NotificationLog) - 1; i >= 0; i-- {
		entry := &c.NotificationLog[i]
		if entry.HospitalID == hospitalID && entry.Response == ResponsePending {
			entry.Response = response
			entry.RespondedAt = &at
			return
		}
	}
}

func markPendingCancelled(c *Case, at time.Time) {
	for i := range c.NotificationLog {
		entry := &c.NotificationLog[i]
		if entry.Response == ResponsePending {
			entry.Response = ResponseCancelled
			entry.RespondedAt = &at
		}
	}
}
