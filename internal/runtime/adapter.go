package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/haasonsaas/execd/internal/events"
	"github.com/haasonsaas/execd/internal/mediator"
	"github.com/haasonsaas/execd/pkg/models"
)

// ToolInvoker is the mediator-shaped dependency the adapter calls for
// each tool call.
type ToolInvoker interface {
	InvokeTool(ctx context.Context, call mediator.Call) mediator.Result
}

// Adapter is the kernel-side half of the runtime protocol, bound to a
// single run. It is safe for concurrent use: sandboxes may issue
// parallel tool calls and interleave output.
type Adapter struct {
	taskID      string
	workspaceID string
	actorID     string
	clientID    string

	invoker   ToolInvoker
	publisher *events.Publisher
	logger    *slog.Logger

	cancelled atomic.Bool

	mu     sync.Mutex
	stdout strings.Builder
	stderr strings.Builder
}

// NewAdapter binds an adapter to a task.
func NewAdapter(task *models.Task, invoker ToolInvoker, publisher *events.Publisher, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{
		taskID:      task.ID,
		workspaceID: task.WorkspaceID,
		actorID:     task.ActorID,
		clientID:    task.ClientID,
		invoker:     invoker,
		publisher:   publisher,
		logger:      logger.With("component", "adapter", "task_id", task.ID),
	}
}

// TaskID returns the run's task id.
func (a *Adapter) TaskID() string {
	return a.taskID
}

// InvokeTool mediates one tool call from the sandbox. A request whose
// run id does not match this adapter's task returns ok:false with no
// side effects.
func (a *Adapter) InvokeTool(ctx context.Context, req ToolCallRequest) ToolCallResult {
	if req.RunID != a.taskID {
		return ToolCallResult{Error: fmt.Sprintf("Run mismatch for call %s", req.CallID)}
	}

	res := a.invoker.InvokeTool(ctx, mediator.Call{
		TaskID:      a.taskID,
		WorkspaceID: a.workspaceID,
		ActorID:     a.actorID,
		ClientID:    a.clientID,
		CallID:      req.CallID,
		ToolPath:    req.ToolPath,
		Input:       req.Input,
	})
	return ToolCallResult{OK: res.OK, Value: res.Value, Error: res.Error, Denied: res.Denied}
}

// EmitOutput records a line of sandbox output and publishes it on the
// task's event stream. Delivery is fire-and-forget: a mismatched run id
// or a failed append drops the line.
func (a *Adapter) EmitOutput(ctx context.Context, ev OutputEvent) {
	if ev.RunID != a.taskID {
		return
	}
	eventType := models.EventTaskStdout
	switch ev.Stream {
	case StreamStdout:
	case StreamStderr:
		eventType = models.EventTaskStderr
	default:
		return
	}

	a.mu.Lock()
	if ev.Stream == StreamStderr {
		a.stderr.WriteString(ev.Line)
		a.stderr.WriteByte('\n')
	} else {
		a.stdout.WriteString(ev.Line)
		a.stdout.WriteByte('\n')
	}
	a.mu.Unlock()

	ts := ev.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	// Outputs keep landing after cancellation until the scheduler
	// finalizes the task.
	ctx = context.WithoutCancel(ctx)
	if _, err := a.publisher.Publish(ctx, a.taskID, models.EventNameTask, eventType, map[string]any{
		"taskId":    a.taskID,
		"stream":    ev.Stream,
		"line":      ev.Line,
		"timestamp": ts.Format(time.RFC3339Nano),
	}); err != nil {
		a.logger.Debug("output event dropped", "stream", ev.Stream, "error", err)
	}
}

// Cancel flags the run as cancelled. Runtimes poll Cancelled and the
// scheduler additionally cancels the run context.
func (a *Adapter) Cancel() {
	a.cancelled.Store(true)
}

// Cancelled reports whether the scheduler gave up on the run.
func (a *Adapter) Cancelled() bool {
	return a.cancelled.Load()
}

// Stdout returns the output accumulated so far.
func (a *Adapter) Stdout() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stdout.String()
}

// Stderr returns the error output accumulated so far.
func (a *Adapter) Stderr() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stderr.String()
}

// RunTable tracks live runs so remote callbacks can find their adapter.
type RunTable struct {
	mu   sync.RWMutex
	runs map[string]*Adapter
}

// NewRunTable returns an empty table.
func NewRunTable() *RunTable {
	return &RunTable{runs: make(map[string]*Adapter)}
}

// Register makes the adapter reachable under its task id.
func (t *RunTable) Register(a *Adapter) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.runs[a.TaskID()] = a
}

// Lookup returns the adapter for a live run.
func (t *RunTable) Lookup(runID string) (*Adapter, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	a, ok := t.runs[runID]
	return a, ok
}

// Remove drops a finished run. Unknown ids are a no-op.
func (t *RunTable) Remove(runID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.runs, runID)
}

// Len reports the number of live runs.
func (t *RunTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.runs)
}
