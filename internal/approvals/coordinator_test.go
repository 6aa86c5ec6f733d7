package approvals

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/haasonsaas/execd/internal/events"
	"github.com/haasonsaas/execd/internal/store"
	"github.com/haasonsaas/execd/pkg/models"
)

func newTestCoordinator(t *testing.T) (*Coordinator, *store.Store, *events.Bus) {
	t.Helper()
	st, err := store.Open(":memory:", nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	bus := events.NewBus(64)
	pub := events.NewPublisher(st, bus, nil, nil)
	return NewCoordinator(st, pub, nil), st, bus
}

func createTask(t *testing.T, st *store.Store) *models.Task {
	t.Helper()
	task, err := st.CreateTask(context.Background(), store.CreateTaskParams{
		WorkspaceID: "ws_1",
		RuntimeID:   "inline",
		Code:        "x",
	})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	return task
}

func TestRequestThenResolve_SignalsWaiter(t *testing.T) {
	c, st, _ := newTestCoordinator(t)
	ctx := context.Background()
	task := createTask(t, st)

	approval, err := c.Request(ctx, task.ID, "call_1", "email.send", map[string]any{"to": "x@y.com"})
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if approval.Status != models.ApprovalStatusPending {
		t.Fatalf("expected pending, got %s", approval.Status)
	}

	type result struct {
		approval *models.Approval
		err      error
	}
	done := make(chan result, 1)
	go func() {
		a, err := c.Await(ctx, approval.ID)
		done <- result{a, err}
	}()

	// Let the waiter park before resolving.
	time.Sleep(20 * time.Millisecond)

	resolved, err := c.Resolve(ctx, approval.ID, models.DecisionApproved, "reviewer_1", "looks fine")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved.Status != models.ApprovalStatusApproved || resolved.ResolvedAt == nil {
		t.Errorf("unexpected resolution: %+v", resolved)
	}

	select {
	case res := <-done:
		if res.err != nil {
			t.Fatalf("await: %v", res.err)
		}
		if res.approval.Status != models.ApprovalStatusApproved {
			t.Errorf("waiter saw %s", res.approval.Status)
		}
		if res.approval.ReviewerID != "reviewer_1" {
			t.Errorf("waiter missing reviewer: %+v", res.approval)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("waiter never signalled")
	}
}

func TestAwait_AlreadyResolvedReturnsImmediately(t *testing.T) {
	c, st, _ := newTestCoordinator(t)
	ctx := context.Background()
	task := createTask(t, st)

	approval, err := c.Request(ctx, task.ID, "call_1", "email.send", nil)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if _, err := c.Resolve(ctx, approval.ID, models.DecisionDenied, "reviewer_1", "nope"); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	got, err := c.Await(ctx, approval.ID)
	if err != nil {
		t.Fatalf("await: %v", err)
	}
	if got.Status != models.ApprovalStatusDenied {
		t.Errorf("expected denied, got %s", got.Status)
	}
	if c.PendingCount() != 0 {
		t.Errorf("leaked waiter: %d", c.PendingCount())
	}
}

func TestResolve_DuplicateIsNotFound(t *testing.T) {
	c, st, _ := newTestCoordinator(t)
	ctx := context.Background()
	task := createTask(t, st)

	approval, _ := c.Request(ctx, task.ID, "call_1", "email.send", nil)
	if _, err := c.Resolve(ctx, approval.ID, models.DecisionApproved, "r1", ""); err != nil {
		t.Fatalf("first resolve: %v", err)
	}
	if _, err := c.Resolve(ctx, approval.ID, models.DecisionDenied, "r2", ""); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound on duplicate resolution, got %v", err)
	}

	// The first decision sticks.
	got, err := st.GetApproval(ctx, approval.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != models.ApprovalStatusApproved || got.ReviewerID != "r1" {
		t.Errorf("decision mutated by duplicate: %+v", got)
	}
}

func TestAwait_ContextCancellation(t *testing.T) {
	c, st, _ := newTestCoordinator(t)
	task := createTask(t, st)

	approval, _ := c.Request(context.Background(), task.ID, "call_1", "email.send", nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := c.Await(ctx, approval.ID)
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("await did not unblock on cancellation")
	}
	if c.PendingCount() != 0 {
		t.Errorf("leaked waiter after cancellation: %d", c.PendingCount())
	}
}

func TestRequestAndResolve_EmitEvents(t *testing.T) {
	c, st, _ := newTestCoordinator(t)
	ctx := context.Background()
	task := createTask(t, st)

	approval, _ := c.Request(ctx, task.ID, "call_1", "email.send", nil)
	if _, err := c.Resolve(ctx, approval.ID, models.DecisionApproved, "r1", ""); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	log, err := st.ListTaskEvents(ctx, task.ID)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(log) != 2 {
		t.Fatalf("expected 2 events, got %d", len(log))
	}
	if log[0].Type != models.EventApprovalRequested || log[1].Type != models.EventApprovalResolved {
		t.Errorf("unexpected event types: %s, %s", log[0].Type, log[1].Type)
	}
	if log[0].Payload["approvalId"] != approval.ID {
		t.Errorf("requested payload missing approvalId: %v", log[0].Payload)
	}
	if log[1].Payload["decision"] != "approved" {
		t.Errorf("resolved payload missing decision: %v", log[1].Payload)
	}
}

func TestResolveInWorkspace_Isolation(t *testing.T) {
	c, st, _ := newTestCoordinator(t)
	ctx := context.Background()
	task := createTask(t, st)

	approval, _ := c.Request(ctx, task.ID, "call_1", "email.send", nil)

	if _, err := c.ResolveInWorkspace(ctx, "ws_other", approval.ID, models.DecisionApproved, "r1", ""); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("foreign workspace must see not found, got %v", err)
	}
	if _, err := c.ResolveInWorkspace(ctx, "ws_1", approval.ID, models.DecisionApproved, "r1", ""); err != nil {
		t.Errorf("owning workspace resolve failed: %v", err)
	}
}
