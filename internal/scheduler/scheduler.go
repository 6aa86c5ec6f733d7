// Package scheduler owns the task lifecycle: persistence, dispatch to
// a runtime, timeout enforcement, terminal classification, and the
// task-lifecycle events.
package scheduler

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/haasonsaas/execd/internal/events"
	"github.com/haasonsaas/execd/internal/observability"
	"github.com/haasonsaas/execd/internal/runtime"
	"github.com/haasonsaas/execd/internal/store"
	"github.com/haasonsaas/execd/pkg/models"
)

// deniedPrefix is the reserved marker a runtime uses to report that the
// sandbox aborted on a denied tool call. It exists only at the runtime
// boundary; the scheduler strips it before persisting.
const deniedPrefix = "denied:"

// CreateTaskParams are the caller-supplied task inputs. A nil
// TimeoutMs takes the configured default; an explicit zero expires the
// task immediately.
type CreateTaskParams struct {
	WorkspaceID string
	ActorID     string
	ClientID    string
	Code        string
	RuntimeID   string
	TimeoutMs   *int64
	Metadata    map[string]any
}

// Scheduler runs one goroutine per dispatched task.
type Scheduler struct {
	store     *store.Store
	runtimes  *runtime.Registry
	runs      *runtime.RunTable
	invoker   runtime.ToolInvoker
	publisher *events.Publisher
	metrics   *observability.Metrics
	logger    *slog.Logger

	defaultTimeout time.Duration

	mu       sync.Mutex
	inFlight map[string]struct{}
	wg       sync.WaitGroup
}

// New creates a Scheduler.
func New(
	st *store.Store,
	runtimes *runtime.Registry,
	runs *runtime.RunTable,
	invoker runtime.ToolInvoker,
	publisher *events.Publisher,
	metrics *observability.Metrics,
	defaultTimeout time.Duration,
	logger *slog.Logger,
) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if defaultTimeout <= 0 {
		defaultTimeout = 15 * time.Second
	}
	return &Scheduler{
		store:          st,
		runtimes:       runtimes,
		runs:           runs,
		invoker:        invoker,
		publisher:      publisher,
		metrics:        metrics,
		logger:         logger.With("component", "scheduler"),
		defaultTimeout: defaultTimeout,
		inFlight:       make(map[string]struct{}),
	}
}

// Recover finalizes tasks interrupted by a restart. Approval waiters
// and adapters do not survive the process, so anything still queued or
// running can never finish.
func (s *Scheduler) Recover(ctx context.Context) error {
	n, err := s.store.FailRunningTasks(ctx, "kernel restarted before completion")
	if err != nil {
		return err
	}
	if n > 0 {
		s.logger.Warn("failed interrupted tasks on boot", "count", n)
	}
	return nil
}

// CreateTask persists a task, publishes its creation, and dispatches it
// asynchronously. A zero timeout falls back to the configured default.
func (s *Scheduler) CreateTask(ctx context.Context, params CreateTaskParams) (*models.Task, error) {
	timeoutMs := s.defaultTimeout.Milliseconds()
	if params.TimeoutMs != nil {
		timeoutMs = *params.TimeoutMs
	}

	task, err := s.store.CreateTask(ctx, store.CreateTaskParams{
		WorkspaceID: params.WorkspaceID,
		ActorID:     params.ActorID,
		ClientID:    params.ClientID,
		Code:        params.Code,
		RuntimeID:   params.RuntimeID,
		TimeoutMs:   timeoutMs,
		Metadata:    params.Metadata,
	})
	if err != nil {
		return nil, err
	}

	s.publishEvent(ctx, task.ID, models.EventTaskCreated, map[string]any{
		"taskId":    task.ID,
		"status":    string(task.Status),
		"runtimeId": task.RuntimeID,
		"timeoutMs": task.TimeoutMs,
		"createdAt": task.CreatedAt.Format(time.RFC3339Nano),
	})
	s.publishEvent(ctx, task.ID, models.EventTaskQueued, map[string]any{
		"taskId": task.ID,
		"status": string(models.TaskStatusQueued),
	})

	s.Dispatch(task)
	return task, nil
}

// Dispatch hands the task to its runtime on a fresh goroutine. A task
// already in flight is a no-op.
func (s *Scheduler) Dispatch(task *models.Task) {
	s.mu.Lock()
	if _, dup := s.inFlight[task.ID]; dup {
		s.mu.Unlock()
		return
	}
	s.inFlight[task.ID] = struct{}{}
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			delete(s.inFlight, task.ID)
			s.mu.Unlock()
		}()
		s.run(task)
	}()
}

// Wait blocks until every in-flight task goroutine has finished.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) run(task *models.Task) {
	ctx := context.Background()
	start := time.Now()

	rt, err := s.runtimes.Resolve(task.RuntimeID)
	if err != nil {
		s.finalize(ctx, task, runtime.ExecutionResult{
			Status: models.TaskStatusFailed,
			Error:  "unknown_runtime",
		}, start)
		return
	}

	if err := s.store.MarkTaskRunning(ctx, task.ID); err != nil {
		s.logger.Error("mark running failed", "task_id", task.ID, "error", err)
		s.finalize(ctx, task, runtime.ExecutionResult{
			Status: models.TaskStatusFailed,
			Error:  err.Error(),
		}, start)
		return
	}
	s.publishEvent(ctx, task.ID, models.EventTaskRunning, map[string]any{
		"taskId":    task.ID,
		"status":    string(models.TaskStatusRunning),
		"startedAt": time.Now().UTC().Format(time.RFC3339Nano),
	})
	if s.metrics != nil {
		s.metrics.TasksStarted.Inc()
	}

	// A zero budget expires before any sandbox work happens.
	if task.TimeoutMs <= 0 {
		s.finalize(ctx, task, runtime.ExecutionResult{
			Status: models.TaskStatusTimedOut,
			Error:  "task timed out",
		}, start)
		return
	}

	adapter := runtime.NewAdapter(task, s.invoker, s.publisher, s.logger)
	s.runs.Register(adapter)
	defer s.runs.Remove(task.ID)

	runCtx, cancel := context.WithTimeout(ctx, time.Duration(task.TimeoutMs)*time.Millisecond)
	defer cancel()

	type outcome struct {
		result *runtime.ExecutionResult
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, runErr := rt.Run(runCtx, runtime.RunRequest{
			TaskID:    task.ID,
			Code:      task.Code,
			TimeoutMs: int(task.TimeoutMs),
		}, adapter)
		done <- outcome{result, runErr}
	}()

	select {
	case out := <-done:
		s.finalize(ctx, task, s.classify(out.result, out.err, adapter), start)
	case <-runCtx.Done():
		adapter.Cancel()
		s.finalize(ctx, task, runtime.ExecutionResult{
			Status: models.TaskStatusTimedOut,
			Stdout: adapter.Stdout(),
			Stderr: adapter.Stderr(),
			Error:  "task timed out",
		}, start)
	}
}

// classify maps a runtime outcome onto a terminal status. Errors
// carrying the denied marker classify as denied, everything else as
// the runtime reported it or failed.
func (s *Scheduler) classify(result *runtime.ExecutionResult, runErr error, adapter *runtime.Adapter) runtime.ExecutionResult {
	if runErr != nil {
		msg := runErr.Error()
		status := models.TaskStatusFailed
		if strings.HasPrefix(msg, deniedPrefix) {
			status = models.TaskStatusDenied
			msg = strings.TrimSpace(strings.TrimPrefix(msg, deniedPrefix))
		}
		return runtime.ExecutionResult{
			Status: status,
			Stdout: adapter.Stdout(),
			Stderr: adapter.Stderr(),
			Error:  msg,
		}
	}

	if result == nil {
		return runtime.ExecutionResult{
			Status: models.TaskStatusFailed,
			Stdout: adapter.Stdout(),
			Stderr: adapter.Stderr(),
			Error:  "runtime returned no result",
		}
	}

	out := *result
	if strings.HasPrefix(out.Error, deniedPrefix) {
		out.Status = models.TaskStatusDenied
		out.Error = strings.TrimSpace(strings.TrimPrefix(out.Error, deniedPrefix))
	}
	if !out.Status.IsTerminal() {
		out.Status = models.TaskStatusFailed
		if out.Error == "" {
			out.Error = "runtime returned non-terminal status"
		}
	}
	return out
}

// finalize records the terminal state and publishes the terminal event.
// Terminal states are absorbing: a second finalize is a silent no-op.
func (s *Scheduler) finalize(ctx context.Context, task *models.Task, result runtime.ExecutionResult, start time.Time) {
	applied, err := s.store.MarkTaskFinished(ctx, task.ID, store.FinishTaskParams{
		Status:   result.Status,
		Stdout:   result.Stdout,
		Stderr:   result.Stderr,
		ExitCode: result.ExitCode,
		Error:    result.Error,
	})
	if err != nil {
		s.logger.Error("finalize failed", "task_id", task.ID, "error", err)
		return
	}
	if !applied {
		return
	}

	durationMs := time.Since(start).Milliseconds()
	payload := map[string]any{
		"taskId":      task.ID,
		"status":      string(result.Status),
		"durationMs":  durationMs,
		"completedAt": time.Now().UTC().Format(time.RFC3339Nano),
	}
	if result.ExitCode != nil {
		payload["exitCode"] = *result.ExitCode
	}
	if result.Error != "" {
		payload["error"] = result.Error
	}
	s.publishEvent(ctx, task.ID, terminalEventType(result.Status), payload)

	if s.metrics != nil {
		s.metrics.TasksFinished.WithLabelValues(string(result.Status)).Inc()
		s.metrics.TaskDuration.Observe(time.Since(start).Seconds())
	}
	s.logger.Info("task finished",
		"task_id", task.ID,
		"status", string(result.Status),
		"duration_ms", durationMs,
	)
}

func (s *Scheduler) publishEvent(ctx context.Context, taskID, eventType string, payload map[string]any) {
	if _, err := s.publisher.Publish(ctx, taskID, models.EventNameTask, eventType, payload); err != nil {
		s.logger.Error("lifecycle event failed", "task_id", taskID, "type", eventType, "error", err)
	}
}

func terminalEventType(status models.TaskStatus) string {
	switch status {
	case models.TaskStatusCompleted:
		return models.EventTaskCompleted
	case models.TaskStatusTimedOut:
		return models.EventTaskTimedOut
	case models.TaskStatusDenied:
		return models.EventTaskDenied
	default:
		return models.EventTaskFailed
	}
}
