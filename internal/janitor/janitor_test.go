package janitor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/haasonsaas/execd/internal/config"
	"github.com/haasonsaas/execd/internal/store"
	"github.com/haasonsaas/execd/pkg/models"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(":memory:", nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func TestSweep_PrunesExpiredSessionsAndTasks(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	old, err := st.BootstrapAnonymousSession(ctx, "sess_old")
	if err != nil {
		t.Fatal(err)
	}
	task, err := st.CreateTask(ctx, store.CreateTaskParams{
		WorkspaceID: old.WorkspaceID,
		RuntimeID:   "inline",
		Code:        "x",
		TimeoutMs:   1000,
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := st.MarkTaskFinished(ctx, task.ID, store.FinishTaskParams{
		Status: models.TaskStatusCompleted,
	}); err != nil {
		t.Fatal(err)
	}

	// Everything above is now older than a nanosecond retention window.
	time.Sleep(5 * time.Millisecond)

	j := New(st, config.JanitorConfig{
		Enabled:       true,
		SessionTTL:    time.Nanosecond,
		TaskRetention: time.Nanosecond,
	}, nil)

	tasks, sessions, err := j.Sweep(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if tasks != 1 || sessions != 1 {
		t.Errorf("pruned tasks=%d sessions=%d, want 1 and 1", tasks, sessions)
	}

	if _, err := st.GetAnonymousSession(ctx, "sess_old"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected pruned session, got %v", err)
	}
	if _, err := st.GetTask(ctx, task.ID, ""); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected pruned task, got %v", err)
	}
}

func TestSweep_KeepsLiveRows(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	session, err := st.BootstrapAnonymousSession(ctx, "sess_live")
	if err != nil {
		t.Fatal(err)
	}

	// A task that never finished has no completed_at and must survive
	// any retention window.
	running, err := st.CreateTask(ctx, store.CreateTaskParams{
		WorkspaceID: session.WorkspaceID,
		RuntimeID:   "inline",
		Code:        "x",
		TimeoutMs:   1000,
	})
	if err != nil {
		t.Fatal(err)
	}

	j := New(st, config.JanitorConfig{
		Enabled:       true,
		SessionTTL:    time.Hour,
		TaskRetention: time.Nanosecond,
	}, nil)

	time.Sleep(5 * time.Millisecond)
	tasks, sessions, err := j.Sweep(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if tasks != 0 || sessions != 0 {
		t.Errorf("pruned tasks=%d sessions=%d, want none", tasks, sessions)
	}
	if _, err := st.GetTask(ctx, running.ID, ""); err != nil {
		t.Errorf("running task pruned: %v", err)
	}
}

func TestSweep_ZeroWindowsSkipPruning(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	if _, err := st.BootstrapAnonymousSession(ctx, "sess_1"); err != nil {
		t.Fatal(err)
	}

	j := New(st, config.JanitorConfig{Enabled: true}, nil)
	time.Sleep(time.Millisecond)
	tasks, sessions, err := j.Sweep(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if tasks != 0 || sessions != 0 {
		t.Errorf("zero windows must not prune, got tasks=%d sessions=%d", tasks, sessions)
	}
}

func TestStartStop_DisabledIsNoOp(t *testing.T) {
	st := newTestStore(t)

	j := New(st, config.JanitorConfig{Enabled: false}, nil)
	if err := j.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	j.Stop()
}

func TestStart_RejectsBadSchedule(t *testing.T) {
	st := newTestStore(t)

	j := New(st, config.JanitorConfig{Enabled: true, Schedule: "not a cron spec"}, nil)
	if err := j.Start(); err == nil {
		t.Fatal("expected an error for an invalid schedule")
	}
}
