package models

import "time"

// ApprovalStatus represents the decision state of an approval.
type ApprovalStatus string

const (
	ApprovalStatusPending  ApprovalStatus = "pending"
	ApprovalStatusApproved ApprovalStatus = "approved"
	ApprovalStatusDenied   ApprovalStatus = "denied"
)

// ApprovalDecision is a terminal approval outcome.
type ApprovalDecision string

const (
	DecisionApproved ApprovalDecision = "approved"
	DecisionDenied   ApprovalDecision = "denied"
)

// Approval is a human-in-the-loop gate attached to a single tool call.
// Approvals are created pending and transition exactly once.
type Approval struct {
	// ID is the unique approval identifier.
	ID string `json:"id"`

	// TaskID is the owning task; approvals cascade-delete with it.
	TaskID string `json:"task_id"`

	// ToolPath is the dotted path of the gated tool.
	ToolPath string `json:"tool_path"`

	// Input is the captured argument value of the gated call.
	Input map[string]any `json:"input,omitempty"`

	// Status is pending until a reviewer decides.
	Status ApprovalStatus `json:"status"`

	// ReviewerID identifies who resolved the approval.
	ReviewerID string `json:"reviewer_id,omitempty"`

	// Reason optionally explains the decision.
	Reason string `json:"reason,omitempty"`

	CreatedAt  time.Time  `json:"created_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}
