package callback

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/haasonsaas/execd/internal/approvals"
	"github.com/haasonsaas/execd/internal/credentials"
	"github.com/haasonsaas/execd/internal/events"
	"github.com/haasonsaas/execd/internal/mediator"
	"github.com/haasonsaas/execd/internal/policy"
	"github.com/haasonsaas/execd/internal/runtime"
	"github.com/haasonsaas/execd/internal/store"
	"github.com/haasonsaas/execd/internal/tools"
	"github.com/haasonsaas/execd/pkg/models"
)

const internalToken = "T"

type fixture struct {
	store  *store.Store
	server *httptest.Server
	task   *models.Task
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := store.Open(":memory:", nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	registry := tools.NewRegistry()
	if err := tools.RegisterBuiltins(registry); err != nil {
		t.Fatal(err)
	}
	pub := events.NewPublisher(st, events.NewBus(64), nil, nil)
	med := mediator.New(registry, policy.NewEngine(st, nil), credentials.NewResolver(st, nil),
		approvals.NewCoordinator(st, pub, nil), pub, nil, nil)

	task, err := st.CreateTask(context.Background(), store.CreateTaskParams{
		WorkspaceID: "ws_test",
		ActorID:     "actor_test",
		RuntimeID:   "remote",
		Code:        "x",
	})
	if err != nil {
		t.Fatal(err)
	}

	runs := runtime.NewRunTable()
	runs.Register(runtime.NewAdapter(task, med, pub, nil))

	mux := http.NewServeMux()
	NewHandler(runs, internalToken, nil).Register(mux)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	return &fixture{store: st, server: server, task: task}
}

func (f *fixture) post(t *testing.T, path, token string, body any) *http.Response {
	t.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	req, err := http.NewRequest(http.MethodPost, f.server.URL+path, bytes.NewReader(payload))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func (f *fixture) eventCount(t *testing.T) int {
	t.Helper()
	log, err := f.store.ListTaskEvents(context.Background(), f.task.ID)
	if err != nil {
		t.Fatal(err)
	}
	return len(log)
}

func TestToolCall_RemoteAdapter(t *testing.T) {
	f := newFixture(t)

	resp := f.post(t, "/internal/runs/"+f.task.ID+"/tool-call", internalToken, runtime.ToolCallRequest{
		RunID:    f.task.ID,
		CallID:   "call_inline_1",
		ToolPath: "math.add",
		Input:    map[string]any{"a": 3, "b": 4},
	})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	var result runtime.ToolCallResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatal(err)
	}
	if !result.OK {
		t.Fatalf("expected ok, got %+v", result)
	}
	value, _ := result.Value.(map[string]any)
	if value["sum"] != float64(7) {
		t.Errorf("unexpected value: %+v", result.Value)
	}
}

func TestToolCall_MissingToken(t *testing.T) {
	f := newFixture(t)

	resp := f.post(t, "/internal/runs/"+f.task.ID+"/tool-call", "", runtime.ToolCallRequest{
		RunID:    f.task.ID,
		CallID:   "call_inline_1",
		ToolPath: "math.add",
		Input:    map[string]any{"a": 3, "b": 4},
	})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
	if n := f.eventCount(t); n != 0 {
		t.Errorf("unauthorized call recorded %d events", n)
	}
}

func TestToolCall_WrongToken(t *testing.T) {
	f := newFixture(t)

	resp := f.post(t, "/internal/runs/"+f.task.ID+"/tool-call", "wrong", runtime.ToolCallRequest{
		RunID:    f.task.ID,
		CallID:   "call_inline_1",
		ToolPath: "math.add",
	})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestToolCall_RunMismatch(t *testing.T) {
	f := newFixture(t)

	resp := f.post(t, "/internal/runs/"+f.task.ID+"/tool-call", internalToken, runtime.ToolCallRequest{
		RunID:    "task_other",
		CallID:   "call_inline_1",
		ToolPath: "math.add",
	})
	defer resp.Body.Close()

	var result runtime.ToolCallResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatal(err)
	}
	if result.OK {
		t.Fatal("mismatched run id succeeded")
	}
	if result.Error != "Run mismatch for call call_inline_1" {
		t.Errorf("unexpected error: %q", result.Error)
	}
	if n := f.eventCount(t); n != 0 {
		t.Errorf("mismatch recorded %d events", n)
	}
}

func TestToolCall_UnknownRun(t *testing.T) {
	f := newFixture(t)

	resp := f.post(t, "/internal/runs/task_unknown/tool-call", internalToken, runtime.ToolCallRequest{
		RunID:    "task_unknown",
		CallID:   "call_1",
		ToolPath: "math.add",
	})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestOutput_Appends(t *testing.T) {
	f := newFixture(t)

	resp := f.post(t, "/internal/runs/"+f.task.ID+"/output", internalToken, runtime.OutputEvent{
		RunID:  f.task.ID,
		Stream: runtime.StreamStdout,
		Line:   "hello from the isolate",
	})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}
	log, err := f.store.ListTaskEvents(context.Background(), f.task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(log) != 1 || log[0].Type != models.EventTaskStdout {
		t.Fatalf("output not appended: %+v", log)
	}
	if log[0].Payload["line"] != "hello from the isolate" {
		t.Errorf("unexpected payload: %v", log[0].Payload)
	}
}

func TestOutput_UnknownRunSilentlyDropped(t *testing.T) {
	f := newFixture(t)

	resp := f.post(t, "/internal/runs/task_unknown/output", internalToken, runtime.OutputEvent{
		RunID:  "task_unknown",
		Stream: runtime.StreamStdout,
		Line:   "lost",
	})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}
	if n := f.eventCount(t); n != 0 {
		t.Errorf("dropped output recorded %d events", n)
	}
}
