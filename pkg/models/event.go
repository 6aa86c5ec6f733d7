package models

import "time"

// EventName groups durable event types into coarse streams.
type EventName string

const (
	// EventNameTask covers task lifecycle, output, and tool-call events.
	EventNameTask EventName = "task"

	// EventNameApproval covers approval request/resolution events.
	EventNameApproval EventName = "approval"
)

// Durable event types. Consumers depend on these literal values.
const (
	EventTaskCreated   = "task.created"
	EventTaskQueued    = "task.queued"
	EventTaskRunning   = "task.running"
	EventTaskStdout    = "task.stdout"
	EventTaskStderr    = "task.stderr"
	EventTaskCompleted = "task.completed"
	EventTaskFailed    = "task.failed"
	EventTaskTimedOut  = "task.timed_out"
	EventTaskDenied    = "task.denied"

	EventToolCallStarted   = "tool.call.started"
	EventToolCallCompleted = "tool.call.completed"
	EventToolCallFailed    = "tool.call.failed"
	EventToolCallDenied    = "tool.call.denied"

	EventApprovalRequested = "approval.requested"
	EventApprovalResolved  = "approval.resolved"
)

// TaskEvent is an immutable record in a task's durable event log.
// IDs are assigned by the store and strictly increase per task.
type TaskEvent struct {
	// ID is the monotonic sequence number within the task's log.
	ID int64 `json:"id"`

	// TaskID is the owning task.
	TaskID string `json:"task_id"`

	// EventName is the coarse stream (task or approval).
	EventName EventName `json:"event_name"`

	// Type is the dotted subtype, e.g. "tool.call.started".
	Type string `json:"type"`

	// Payload is the opaque event body.
	Payload map[string]any `json:"payload,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}
