// Package models provides domain types for the execd execution kernel.
package models

import "time"

// TaskStatus represents the lifecycle state of a task.
type TaskStatus string

const (
	// TaskStatusQueued indicates the task is persisted and waiting for dispatch.
	TaskStatusQueued TaskStatus = "queued"

	// TaskStatusRunning indicates the task has been handed to a runtime.
	TaskStatusRunning TaskStatus = "running"

	// TaskStatusCompleted indicates the runtime finished successfully.
	TaskStatusCompleted TaskStatus = "completed"

	// TaskStatusFailed indicates the runtime or kernel failed the task.
	TaskStatusFailed TaskStatus = "failed"

	// TaskStatusTimedOut indicates the scheduler deadline fired first.
	TaskStatusTimedOut TaskStatus = "timed_out"

	// TaskStatusDenied indicates a tool call was denied and the task aborted.
	TaskStatusDenied TaskStatus = "denied"
)

// IsTerminal reports whether the status is absorbing.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusTimedOut, TaskStatusDenied:
		return true
	default:
		return false
	}
}

// Task is one submitted program to be executed in a sandbox.
type Task struct {
	// ID is the globally unique task identifier.
	ID string `json:"id"`

	// WorkspaceID is the tenant boundary the task belongs to.
	WorkspaceID string `json:"workspace_id"`

	// ActorID optionally identifies the submitting actor.
	ActorID string `json:"actor_id,omitempty"`

	// ClientID optionally identifies the submitting client.
	ClientID string `json:"client_id,omitempty"`

	// Code is the program text executed by the runtime.
	Code string `json:"code"`

	// RuntimeID selects the runtime that executes the task.
	RuntimeID string `json:"runtime_id"`

	// TimeoutMs is the scheduler-enforced wall clock budget.
	TimeoutMs int64 `json:"timeout_ms"`

	// Metadata holds opaque caller-supplied data, preserved verbatim.
	Metadata map[string]any `json:"metadata,omitempty"`

	// Status is the current lifecycle state.
	Status TaskStatus `json:"status"`

	// Stdout and Stderr accumulate runtime output; populated at terminal.
	Stdout string `json:"stdout,omitempty"`
	Stderr string `json:"stderr,omitempty"`

	// ExitCode is the sandbox exit code, when the runtime reports one.
	ExitCode *int `json:"exit_code,omitempty"`

	// Error carries the terminal failure reason, if any.
	Error string `json:"error,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}
