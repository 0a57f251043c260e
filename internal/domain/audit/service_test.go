package audit

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type memRepo struct {
	mu       sync.Mutex
	events   []*Event
	failNext error
}

func (m *memRepo) Create(_ context.Context, e *Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failNext != nil {
		err := m.failNext
		m.failNext = nil
		return err
	}
	m.events = append(m.events, e)
	return nil
}

func (m *memRepo) ListByCase(_ context.Context, caseID uuid.UUID, limit int) ([]*Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Event
	for i := len(m.events) - 1; i >= 0 && len(out) < limit; i-- {
		if m.events[i].CaseID == caseID {
			out = append(out, m.events[i])
		}
	}
	return out, nil
}

func TestRecord_EncodesDetail(t *testing.T) {
	repo := &memRepo{}
	svc := NewService(repo, zerolog.New(io.Discard))
	caseID := uuid.New()

	svc.Record(context.Background(), caseID, "case.dispatched", "disp-1", map[string]any{
		"hospital_name": "General",
	})

	events, err := svc.ListByCase(context.Background(), caseID, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	e := events[0]
	if e.Kind != "case.dispatched" || e.ActorID != "disp-1" {
		t.Errorf("event = %+v", e)
	}
	if string(e.Detail) != `{"hospital_name":"General"}` {
		t.Errorf("detail = %s", e.Detail)
	}
}

func TestRecord_NilDetail(t *testing.T) {
	repo := &memRepo{}
	svc := NewService(repo, zerolog.New(io.Discard))
	caseID := uuid.New()

	svc.Record(context.Background(), caseID, "case.completed", "disp-1", nil)

	events, _ := svc.ListByCase(context.Background(), caseID, 10)
	if len(events) != 1 || events[0].Detail != nil {
		t.Fatalf("events = %+v", events)
	}
}

// A failed write must not panic or surface: Record has no error to return.
func TestRecord_StoreFailureSwallowed(t *testing.T) {
	repo := &memRepo{failNext: errors.New("connection reset")}
	svc := NewService(repo, zerolog.New(io.Discard))
	caseID := uuid.New()

	svc.Record(context.Background(), caseID, "case.created", "disp-1", nil)

	events, _ := svc.ListByCase(context.Background(), caseID, 10)
	if len(events) != 0 {
		t.Fatalf("got %d events after failed write", len(events))
	}
}

func TestListByCase_NewestFirst(t *testing.T) {
	repo := &memRepo{}
	svc := NewService(repo, zerolog.New(io.Discard))
	caseID := uuid.New()

	for _, kind := range []string{"case.created", "case.triaged", "case.dispatched"} {
		svc.Record(context.Background(), caseID, kind, "disp-1", nil)
	}
	svc.Record(context.Background(), uuid.New(), "case.created", "disp-2", nil)

	events, err := svc.ListByCase(context.Background(), caseID, 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[0].Kind != "case.dispatched" || events[1].Kind != "case.triaged" {
		t.Errorf("order = %s, %s", events[0].Kind, events[1].Kind)
	}
}
