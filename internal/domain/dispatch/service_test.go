package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ems/ems/internal/platform/auth"
)

// memRepo is an in-memory Repository. Transact serializes on a mutex, which
// models the row lock the Postgres implementation takes with FOR UPDATE.
type memRepo struct {
	mu        sync.Mutex
	cases     map[uuid.UUID]*Case
	transient int // number of injected transient failures left
}

func newMemRepo() *memRepo {
	return &memRepo{cases: make(map[uuid.UUID]*Case)}
}

func cloneCase(c *Case) *Case {
	cp := *c
	cp.NotificationLog = append([]NotificationEntry(nil), c.NotificationLog...)
	cp.TriageFlags = append([]string(nil), c.TriageFlags...)
	return &cp
}

func (m *memRepo) failTransient() error {
	if m.transient > 0 {
		m.transient--
		return fmt.Errorf("%w: connection refused", ErrTransientStore)
	}
	return nil
}

func (m *memRepo) Transact(_ context.Context, fn func(ctx context.Context) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failTransient(); err != nil {
		return err
	}
	return fn(context.Background())
}

func (m *memRepo) Create(_ context.Context, c *Case) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failTransient(); err != nil {
		return err
	}
	m.cases[c.ID] = cloneCase(c)
	return nil
}

func (m *memRepo) GetByID(_ context.Context, id uuid.UUID) (*Case, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cases[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneCase(c), nil
}

func (m *memRepo) GetForUpdate(_ context.Context, id uuid.UUID) (*Case, error) {
	// Already inside Transact's critical section.
	c, ok := m.cases[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneCase(c), nil
}

func (m *memRepo) Save(_ context.Context, c *Case) error {
	if _, ok := m.cases[c.ID]; !ok {
		return ErrNotFound
	}
	m.cases[c.ID] = cloneCase(c)
	return nil
}

func (m *memRepo) List(_ context.Context, status Status, limit, offset int) ([]*Case, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*Case
	for _, c := range m.cases {
		if status == "" || c.Status == status {
			result = append(result, cloneCase(c))
		}
	}
	return result, len(result), nil
}

func (m *memRepo) ListByStatus(_ context.Context, status Status) ([]*Case, error) {
	items, _, err := m.List(context.Background(), status, 0, 0)
	return items, err
}

func newTestService(repo Repository) *Service {
	return NewService(repo, zerolog.New(io.Discard))
}

func dispatcherCtx() context.Context {
	return auth.WithActor(context.Background(), auth.Actor{ID: "disp-1", Roles: []string{auth.RoleDispatcher}})
}

func crewCtx() context.Context {
	return auth.WithActor(context.Background(), auth.Actor{ID: "crew-1", Roles: []string{auth.RoleCrew}})
}

// caseInState drives a fresh case to the wanted point in the lifecycle.
func caseInState(t *testing.T, svc *Service, acuity int, target Status) *Case {
	t.Helper()
	ctx := dispatcherCtx()

	c, err := svc.CreateCase(ctx, CreateCaseInput{EmergencyType: "trauma", AcuityLevel: acuity})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if target == StatusCreated {
		return c
	}

	if c, err = svc.Triage(ctx, c.ID, acuity, Vitals{}, nil); err != nil {
		t.Fatalf("triage: %v", err)
	}
	if target == StatusTriaged {
		return c
	}

	hospitalID := uuid.New()
	if c, err = svc.Dispatch(ctx, c.ID, hospitalID, "General"); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if target == StatusAwaitingResponse {
		return c
	}

	if c, err = svc.RecordResponse(ctx, c.ID, hospitalID, true); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if target == StatusAccepted {
		return c
	}

	if c, err = svc.MarkEnroute(crewCtx(), c.ID); err != nil {
		t.Fatalf("enroute: %v", err)
	}
	if target == StatusEnroute {
		return c
	}

	t.Fatalf("unsupported target state %s", target)
	return nil
}

func TestLifecycle_HappyPath(t *testing.T) {
	svc := newTestService(newMemRepo())
	c := caseInState(t, svc, 3, StatusAccepted)

	if c.Status != StatusAccepted {
		t.Fatalf("status = %s, want accepted", c.Status)
	}
	if c.AcceptedHospitalID == nil || c.AcceptedAt == nil {
		t.Fatal("accept must set hospital and timestamp")
	}
	if c.AwaitingResponseSince != nil {
		t.Fatal("accept must close the response window")
	}
	if len(c.NotificationLog) != 1 || c.NotificationLog[0].Response != ResponseAccepted {
		t.Fatalf("notification log = %+v, want one accepted entry", c.NotificationLog)
	}
}

func TestCreateCase_Validation(t *testing.T) {
	svc := newTestService(newMemRepo())

	_, err := svc.CreateCase(dispatcherCtx(), CreateCaseInput{})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("missing emergency type: got %v, want ErrValidation", err)
	}

	_, err = svc.CreateCase(dispatcherCtx(), CreateCaseInput{EmergencyType: "trauma", AcuityLevel: 7})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("acuity out of range: got %v, want ErrValidation", err)
	}
}

func TestTransition_OutOfOrderFailsClosed(t *testing.T) {
	svc := newTestService(newMemRepo())
	c := caseInState(t, svc, 3, StatusCreated)

	// Dispatch before triage is not an edge of the lattice.
	_, err := svc.Dispatch(dispatcherCtx(), c.ID, uuid.New(), "General")
	if !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("got %v, want ErrIllegalTransition", err)
	}

	// The failed attempt must not have changed the record.
	got, _ := svc.GetCase(context.Background(), c.ID)
	if got.Status != StatusCreated {
		t.Fatalf("status moved to %s on a failed transition", got.Status)
	}
}

// Scenario: acuity 2 tolerates two rejections; the second one escalates in
// the same write.
func TestRejectionCeiling_EscalatesAtomically(t *testing.T) {
	svc := newTestService(newMemRepo())
	ctx := dispatcherCtx()
	c := caseInState(t, svc, 2, StatusTriaged)

	h1 := uuid.New()
	if _, err := svc.Dispatch(ctx, c.ID, h1, "First"); err != nil {
		t.Fatalf("dispatch 1: %v", err)
	}
	after1, err := svc.RecordResponse(ctx, c.ID, h1, false)
	if err != nil {
		t.Fatalf("reject 1: %v", err)
	}
	if after1.Status != StatusRejected || after1.RejectionCount != 1 {
		t.Fatalf("after first rejection: status=%s count=%d", after1.Status, after1.RejectionCount)
	}

	h2 := uuid.New()
	if _, err := svc.Dispatch(ctx, c.ID, h2, "Second"); err != nil {
		t.Fatalf("dispatch 2: %v", err)
	}
	after2, err := svc.RecordResponse(ctx, c.ID, h2, false)
	if err != nil {
		t.Fatalf("reject 2: %v", err)
	}

	if after2.Status != StatusEscalationRequired {
		t.Fatalf("status = %s, want escalation_required", after2.Status)
	}
	if after2.RejectionCount != 2 {
		t.Fatalf("rejection count = %d, want 2", after2.RejectionCount)
	}
	if after2.EscalationTriggeredAt == nil {
		t.Fatal("escalation timestamp must be stamped in the same write")
	}
}

// Scenario: two hospitals race to accept; exactly one wins, the loser gets a
// state conflict, and the winner stays authoritative.
func TestConcurrentAccept_OneWinner(t *testing.T) {
	svc := newTestService(newMemRepo())
	c := caseInState(t, svc, 3, StatusAwaitingResponse)

	hospitalX := c.NotificationLog[0].HospitalID
	hospitalY := uuid.New()

	type outcome struct {
		hospital uuid.UUID
		err      error
	}
	results := make(chan outcome, 2)
	var wg sync.WaitGroup
	for _, h := range []uuid.UUID{hospitalX, hospitalY} {
		wg.Add(1)
		go func(h uuid.UUID) {
			defer wg.Done()
			_, err := svc.RecordResponse(dispatcherCtx(), c.ID, h, true)
			results <- outcome{h, err}
		}(h)
	}
	wg.Wait()
	close(results)

	var wins, conflicts int
	var winner uuid.UUID
	for r := range results {
		if r.err == nil {
			wins++
			winner = r.hospital
		} else if errors.Is(r.err, ErrStateConflict) {
			conflicts++
		} else {
			t.Fatalf("unexpected error: %v", r.err)
		}
	}
	if wins != 1 || conflicts != 1 {
		t.Fatalf("wins=%d conflicts=%d, want exactly one of each", wins, conflicts)
	}

	got, _ := svc.GetCase(context.Background(), c.ID)
	if got.AcceptedHospitalID == nil || *got.AcceptedHospitalID != winner {
		t.Fatal("authoritative hospital must be the single winner")
	}
}

func TestTriggerEscalation_Idempotent(t *testing.T) {
	svc := newTestService(newMemRepo())
	c := caseInState(t, svc, 1, StatusAwaitingResponse)

	if err := svc.TriggerEscalation(context.Background(), c.ID); err != nil {
		t.Fatalf("first escalation: %v", err)
	}
	got, _ := svc.GetCase(context.Background(), c.ID)
	if got.Status != StatusEscalationRequired {
		t.Fatalf("status = %s, want escalation_required", got.Status)
	}
	stamp := got.EscalationTriggeredAt

	// Second trigger races the first; it must no-op, not error.
	if err := svc.TriggerEscalation(context.Background(), c.ID); err != nil {
		t.Fatalf("second escalation should no-op, got %v", err)
	}
	got, _ = svc.GetCase(context.Background(), c.ID)
	if got.Status != StatusEscalationRequired || !got.EscalationTriggeredAt.Equal(*stamp) {
		t.Fatal("second escalation must not change the record")
	}
}

func TestTriggerEscalation_TooEarly(t *testing.T) {
	svc := newTestService(newMemRepo())
	c := caseInState(t, svc, 1, StatusCreated)

	err := svc.TriggerEscalation(context.Background(), c.ID)
	if !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("got %v, want ErrIllegalTransition for pre-dispatch escalation", err)
	}
}

func TestEscalationDue(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo)
	c := caseInState(t, svc, 1, StatusAwaitingResponse)

	now := time.Now().UTC()
	due, err := svc.EscalationDue(context.Background(), now)
	if err != nil {
		t.Fatalf("escalation due: %v", err)
	}
	if len(due) != 0 {
		t.Fatal("freshly dispatched case is not due yet")
	}

	// Acuity 1 allows two minutes.
	due, err = svc.EscalationDue(context.Background(), now.Add(3*time.Minute))
	if err != nil {
		t.Fatalf("escalation due: %v", err)
	}
	if len(due) != 1 || due[0] != c.ID {
		t.Fatalf("due = %v, want exactly the stale case", due)
	}
}

func TestMarkEnroute_RequiresCrewRole(t *testing.T) {
	svc := newTestService(newMemRepo())
	c := caseInState(t, svc, 3, StatusAccepted)

	_, err := svc.MarkEnroute(dispatcherCtx(), c.ID)
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("dispatcher enroute: got %v, want ErrUnauthorized", err)
	}

	got, err := svc.MarkEnroute(crewCtx(), c.ID)
	if err != nil {
		t.Fatalf("crew enroute: %v", err)
	}
	if got.Status != StatusEnroute || got.EnrouteAt == nil {
		t.Fatalf("status = %s, want enroute with timestamp", got.Status)
	}
}

func TestComplete_OnlyAfterAcknowledgedHandover(t *testing.T) {
	svc := newTestService(newMemRepo())
	c := caseInState(t, svc, 3, StatusEnroute)

	_, err := svc.Complete(dispatcherCtx(), c.ID)
	if !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("complete from enroute: got %v, want ErrIllegalTransition", err)
	}

	// Walk through the handover sub-machine by hand.
	_, err = svc.Transition(context.Background(), c.ID, func(c *Case) error {
		if err := c.setStatus(StatusHandoverInitiated); err != nil {
			return err
		}
		return c.setStatus(StatusHandoverAcknowledged)
	}, nil)
	if err != nil {
		t.Fatalf("handover: %v", err)
	}

	done, err := svc.Complete(dispatcherCtx(), c.ID)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if done.Status != StatusCompleted || done.CompletedAt == nil {
		t.Fatalf("status = %s, want completed with timestamp", done.Status)
	}
}

func TestWithRetry_TransientOnly(t *testing.T) {
	repo := newMemRepo()
	repo.transient = 2
	svc := newTestService(repo)

	// Two transient failures, then success: the bounded retry absorbs them.
	c, err := svc.CreateCase(dispatcherCtx(), CreateCaseInput{EmergencyType: "trauma", AcuityLevel: 3})
	if err != nil {
		t.Fatalf("create with transient failures: %v", err)
	}
	if _, err := svc.GetCase(context.Background(), c.ID); err != nil {
		t.Fatalf("case should exist after retries: %v", err)
	}
}

func TestWithRetry_LogicalErrorsNotRetried(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo)
	c := caseInState(t, svc, 3, StatusCreated)

	calls := 0
	_, err := svc.Transition(context.Background(), c.ID, func(c *Case) error {
		calls++
		return fmt.Errorf("%w: simulated", ErrStateConflict)
	}, nil)
	if !errors.Is(err, ErrStateConflict) {
		t.Fatalf("got %v, want ErrStateConflict", err)
	}
	if calls != 1 {
		t.Fatalf("mutate ran %d times, logical errors must not be retried", calls)
	}
}

func TestTimestampsSetAtMostOnce(t *testing.T) {
	svc := newTestService(newMemRepo())
	ctx := dispatcherCtx()
	c := caseInState(t, svc, 2, StatusTriaged)

	h1 := uuid.New()
	first, err := svc.Dispatch(ctx, c.ID, h1, "First")
	if err != nil {
		t.Fatalf("dispatch 1: %v", err)
	}
	stamp := first.DispatchedAt

	if _, err = svc.RecordResponse(ctx, c.ID, h1, false); err != nil {
		t.Fatalf("reject: %v", err)
	}
	second, err := svc.Dispatch(ctx, c.ID, uuid.New(), "Second")
	if err != nil {
		t.Fatalf("dispatch 2: %v", err)
	}
	if !second.DispatchedAt.Equal(*stamp) {
		t.Fatal("dispatchedAt must be stamped only on the first dispatch")
	}
	if len(second.NotificationLog) != 2 {
		t.Fatalf("notification log length = %d, want 2", len(second.NotificationLog))
	}
}
