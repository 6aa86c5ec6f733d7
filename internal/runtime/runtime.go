// Package runtime defines the contract between the kernel and the
// sandboxes that execute task code, plus the concrete subprocess and
// remote implementations.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/haasonsaas/execd/pkg/models"
)

// ErrUnknownRuntime indicates the requested runtime id is not registered.
var ErrUnknownRuntime = errors.New("unknown runtime")

// RunRequest is what the scheduler hands a runtime. The run id is the
// task id; every callback must echo it.
type RunRequest struct {
	TaskID    string `json:"taskId"`
	Code      string `json:"code"`
	TimeoutMs int    `json:"timeoutMs"`
}

// ExecutionResult is the terminal outcome a runtime reports.
type ExecutionResult struct {
	Status     models.TaskStatus `json:"status"`
	Stdout     string            `json:"stdout,omitempty"`
	Stderr     string            `json:"stderr,omitempty"`
	ExitCode   *int              `json:"exitCode,omitempty"`
	Error      string            `json:"error,omitempty"`
	DurationMs int64             `json:"durationMs"`
}

// ToolCallRequest crosses the adapter boundary for each tool call.
type ToolCallRequest struct {
	RunID    string         `json:"runId"`
	CallID   string         `json:"callId"`
	ToolPath string         `json:"toolPath"`
	Input    map[string]any `json:"input,omitempty"`
}

// ToolCallResult is the tagged outcome returned to the sandbox.
type ToolCallResult struct {
	OK     bool   `json:"ok"`
	Value  any    `json:"value,omitempty"`
	Error  string `json:"error,omitempty"`
	Denied bool   `json:"denied,omitempty"`
}

// OutputEvent streams a line of sandbox output to the kernel.
type OutputEvent struct {
	RunID     string    `json:"runId"`
	Stream    string    `json:"stream"`
	Line      string    `json:"line"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// Output stream names.
const (
	StreamStdout = "stdout"
	StreamStderr = "stderr"
)

// Runtime executes task code in a sandbox. Run blocks for the life of
// the task; the context carries the scheduler's timeout.
type Runtime interface {
	ID() string
	Run(ctx context.Context, req RunRequest, adapter *Adapter) (*ExecutionResult, error)
}

// Registry maps runtime ids to implementations. Read-mostly.
type Registry struct {
	mu       sync.RWMutex
	runtimes map[string]Runtime
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{runtimes: make(map[string]Runtime)}
}

// Register adds a runtime, replacing any previous one with the same id.
func (r *Registry) Register(rt Runtime) error {
	if rt == nil || rt.ID() == "" {
		return fmt.Errorf("runtime with a non-empty id is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runtimes[rt.ID()] = rt
	return nil
}

// Resolve returns the runtime for an id or ErrUnknownRuntime.
func (r *Registry) Resolve(id string) (Runtime, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rt, ok := r.runtimes[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRuntime, id)
	}
	return rt, nil
}

// IDs returns the registered runtime ids, sorted.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.runtimes))
	for id := range r.runtimes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
