package runtime

import (
	"context"
	"strings"
	"testing"

	"github.com/haasonsaas/execd/internal/events"
	"github.com/haasonsaas/execd/internal/mediator"
	"github.com/haasonsaas/execd/internal/store"
	"github.com/haasonsaas/execd/pkg/models"
)

type fakeInvoker struct {
	calls  []mediator.Call
	result mediator.Result
}

func (f *fakeInvoker) InvokeTool(ctx context.Context, call mediator.Call) mediator.Result {
	f.calls = append(f.calls, call)
	return f.result
}

func newAdapterFixture(t *testing.T) (*Adapter, *fakeInvoker, *store.Store, *models.Task) {
	t.Helper()
	st, err := store.Open(":memory:", nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	task, err := st.CreateTask(context.Background(), store.CreateTaskParams{
		WorkspaceID: "ws_1",
		ActorID:     "actor_1",
		RuntimeID:   "inline",
		Code:        "x",
	})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}

	invoker := &fakeInvoker{result: mediator.Result{OK: true, Value: "done"}}
	pub := events.NewPublisher(st, events.NewBus(64), nil, nil)
	return NewAdapter(task, invoker, pub, nil), invoker, st, task
}

func TestAdapter_InvokeTool(t *testing.T) {
	adapter, invoker, _, task := newAdapterFixture(t)

	res := adapter.InvokeTool(context.Background(), ToolCallRequest{
		RunID:    task.ID,
		CallID:   "call_1",
		ToolPath: "math.add",
		Input:    map[string]any{"a": float64(1)},
	})
	if !res.OK || res.Value != "done" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if len(invoker.calls) != 1 {
		t.Fatalf("expected 1 mediated call, got %d", len(invoker.calls))
	}
	call := invoker.calls[0]
	if call.TaskID != task.ID || call.WorkspaceID != "ws_1" || call.ActorID != "actor_1" {
		t.Errorf("task identity not threaded through: %+v", call)
	}
	if call.CallID != "call_1" || call.ToolPath != "math.add" {
		t.Errorf("call identity lost: %+v", call)
	}
}

func TestAdapter_RunMismatch(t *testing.T) {
	adapter, invoker, st, task := newAdapterFixture(t)

	res := adapter.InvokeTool(context.Background(), ToolCallRequest{
		RunID:    "task_other",
		CallID:   "call_inline_1",
		ToolPath: "math.add",
	})
	if res.OK || res.Denied {
		t.Fatalf("mismatch must fail plainly: %+v", res)
	}
	if res.Error != "Run mismatch for call call_inline_1" {
		t.Errorf("unexpected error: %q", res.Error)
	}
	if len(invoker.calls) != 0 {
		t.Error("mismatched call reached the mediator")
	}

	log, err := st.ListTaskEvents(context.Background(), task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(log) != 0 {
		t.Errorf("mismatch recorded events: %+v", log)
	}
}

func TestAdapter_EmitOutput(t *testing.T) {
	adapter, _, st, task := newAdapterFixture(t)
	ctx := context.Background()

	adapter.EmitOutput(ctx, OutputEvent{RunID: task.ID, Stream: StreamStdout, Line: "hello"})
	adapter.EmitOutput(ctx, OutputEvent{RunID: task.ID, Stream: StreamStderr, Line: "oops"})
	adapter.EmitOutput(ctx, OutputEvent{RunID: "task_other", Stream: StreamStdout, Line: "foreign"})
	adapter.EmitOutput(ctx, OutputEvent{RunID: task.ID, Stream: "bogus", Line: "dropped"})

	if got := adapter.Stdout(); got != "hello\n" {
		t.Errorf("stdout accumulation: %q", got)
	}
	if got := adapter.Stderr(); got != "oops\n" {
		t.Errorf("stderr accumulation: %q", got)
	}

	log, err := st.ListTaskEvents(ctx, task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(log) != 2 {
		t.Fatalf("expected 2 output events, got %d", len(log))
	}
	if log[0].Type != models.EventTaskStdout || log[0].Payload["line"] != "hello" {
		t.Errorf("unexpected first event: %+v", log[0])
	}
	if log[1].Type != models.EventTaskStderr {
		t.Errorf("unexpected second event: %+v", log[1])
	}
}

func TestAdapter_OutputAfterCancellationStillLands(t *testing.T) {
	adapter, _, st, task := newAdapterFixture(t)

	adapter.Cancel()
	if !adapter.Cancelled() {
		t.Fatal("cancel flag not set")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	adapter.EmitOutput(ctx, OutputEvent{RunID: task.ID, Stream: StreamStdout, Line: "late"})

	log, err := st.ListTaskEvents(context.Background(), task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(log) != 1 || log[0].Payload["line"] != "late" {
		t.Errorf("late output lost: %+v", log)
	}
}

func TestRunTable(t *testing.T) {
	adapter, _, _, task := newAdapterFixture(t)
	table := NewRunTable()

	table.Register(adapter)
	if got, ok := table.Lookup(task.ID); !ok || got != adapter {
		t.Fatal("registered run not found")
	}
	if _, ok := table.Lookup("task_unknown"); ok {
		t.Error("unknown run resolved")
	}

	table.Remove(task.ID)
	if _, ok := table.Lookup(task.ID); ok {
		t.Error("removed run still resolvable")
	}
	if table.Len() != 0 {
		t.Errorf("table not empty: %d", table.Len())
	}
}

func TestRegistry_Resolve(t *testing.T) {
	reg := NewRegistry()
	rt := &SubprocessRuntime{id: "sh"}
	if err := reg.Register(rt); err != nil {
		t.Fatal(err)
	}
	if got, err := reg.Resolve("sh"); err != nil || got.ID() != "sh" {
		t.Errorf("resolve: %v %v", got, err)
	}
	if _, err := reg.Resolve("nope"); err == nil || !strings.Contains(err.Error(), "unknown runtime") {
		t.Errorf("expected unknown runtime error, got %v", err)
	}
}
