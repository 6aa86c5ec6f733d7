// Package mediator gates every tool call a task makes.
//
// The call path is: resolve the tool, announce the call, evaluate
// policy, gate on human approval when required, bind credentials,
// validate input, run, and announce the outcome. Results are tagged
// structs; the runtime boundary decides how a denial is surfaced to
// sandboxed code.
package mediator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/execd/internal/approvals"
	"github.com/haasonsaas/execd/internal/credentials"
	"github.com/haasonsaas/execd/internal/events"
	"github.com/haasonsaas/execd/internal/observability"
	"github.com/haasonsaas/execd/internal/policy"
	"github.com/haasonsaas/execd/internal/tools"
	"github.com/haasonsaas/execd/pkg/models"
)

// Call identifies one tool invocation on behalf of a task.
type Call struct {
	TaskID      string
	WorkspaceID string
	ActorID     string
	ClientID    string

	// CallID correlates the call across events and runtime round trips.
	// Empty ids get a generated one.
	CallID string

	ToolPath string
	Input    map[string]any
}

// Result is the tagged outcome of a mediated call. Denied is distinct
// from failure: a denial reflects policy or a reviewer, not the tool.
type Result struct {
	OK     bool   `json:"ok"`
	Value  any    `json:"value,omitempty"`
	Error  string `json:"error,omitempty"`
	Denied bool   `json:"denied,omitempty"`
}

// Mediator wires the registry, policy engine, credential resolver, and
// approval coordinator into a single call path.
type Mediator struct {
	registry    *tools.Registry
	policies    *policy.Engine
	credentials *credentials.Resolver
	approvals   *approvals.Coordinator
	publisher   *events.Publisher
	metrics     *observability.Metrics
	logger      *slog.Logger
}

// New creates a Mediator.
func New(
	registry *tools.Registry,
	policies *policy.Engine,
	creds *credentials.Resolver,
	apprs *approvals.Coordinator,
	publisher *events.Publisher,
	metrics *observability.Metrics,
	logger *slog.Logger,
) *Mediator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Mediator{
		registry:    registry,
		policies:    policies,
		credentials: creds,
		approvals:   apprs,
		publisher:   publisher,
		metrics:     metrics,
		logger:      logger.With("component", "mediator"),
	}
}

// InvokeTool runs one mediated call. The returned Result is always
// meaningful; kernel-side problems surface as failed results, never
// panics across the runtime boundary.
func (m *Mediator) InvokeTool(ctx context.Context, call Call) Result {
	if call.CallID == "" {
		call.CallID = "call_" + uuid.NewString()
	}

	def, err := m.registry.Resolve(call.ToolPath)
	if err != nil {
		// Nothing was announced for this call, so no outcome event
		// accompanies it; the error reaches the sandbox in the result.
		m.count("failed")
		return Result{Error: fmt.Sprintf("unknown tool: %s", call.ToolPath)}
	}

	m.publish(ctx, call, models.EventToolCallStarted, map[string]any{
		"approval": string(def.Approval),
		"input":    call.Input,
	})

	decision, err := m.policies.Evaluate(ctx, policy.Request{
		WorkspaceID: call.WorkspaceID,
		ActorID:     call.ActorID,
		ClientID:    call.ClientID,
		ToolPath:    call.ToolPath,
		Input:       call.Input,
		Default:     declaredDecision(def.Approval),
	})
	if err != nil {
		return m.fail(ctx, call, fmt.Sprintf("policy evaluation: %v", err))
	}

	if decision.Decision == models.DecisionDeny {
		return m.deny(ctx, call, fmt.Sprintf("tool %s denied by policy", call.ToolPath), "")
	}

	// The declared mode is a floor: a tool that requires approval stays
	// gated even when a policy says allow.
	needsApproval := decision.Decision == models.DecisionRequireApproval ||
		def.Approval == tools.ApprovalRequired
	if needsApproval {
		res, ok := m.awaitApproval(ctx, call)
		if !ok {
			return res
		}
	}

	var bound *models.ResolvedCredential
	if def.CredentialSpec != nil {
		bound, err = m.credentials.Resolve(ctx, call.WorkspaceID, def.CredentialSpec.SourceKey, def.CredentialSpec.Scope, call.ActorID)
		if err != nil {
			return m.fail(ctx, call, fmt.Sprintf("credential resolution: %v", err))
		}
	}

	if err := def.ValidateInput(call.Input); err != nil {
		return m.fail(ctx, call, err.Error())
	}

	rc := &tools.RunContext{
		TaskID:      call.TaskID,
		WorkspaceID: call.WorkspaceID,
		ActorID:     call.ActorID,
		ClientID:    call.ClientID,
		Credential:  bound,
		IsToolAllowed: func(path string) bool {
			return m.policies.IsToolAllowed(ctx, call.WorkspaceID, call.ActorID, call.ClientID, path)
		},
		Invoke: func(nestedCtx context.Context, path string, input map[string]any) (any, error) {
			nested := m.InvokeTool(nestedCtx, Call{
				TaskID:      call.TaskID,
				WorkspaceID: call.WorkspaceID,
				ActorID:     call.ActorID,
				ClientID:    call.ClientID,
				ToolPath:    path,
				Input:       input,
			})
			if !nested.OK {
				return nil, fmt.Errorf("%s", nested.Error)
			}
			return nested.Value, nil
		},
	}

	start := time.Now()
	value, runErr := def.Run(ctx, call.Input, rc)
	durationMs := time.Since(start).Milliseconds()

	if runErr != nil {
		m.publish(ctx, call, models.EventToolCallFailed, map[string]any{
			"error":      runErr.Error(),
			"durationMs": durationMs,
		})
		m.count("failed")
		return Result{Error: runErr.Error()}
	}

	m.publish(ctx, call, models.EventToolCallCompleted, map[string]any{
		"output":     value,
		"durationMs": durationMs,
	})
	m.count("completed")
	return Result{OK: true, Value: value}
}

// awaitApproval parks the call on a reviewer decision. The bool is true
// when the call may proceed.
func (m *Mediator) awaitApproval(ctx context.Context, call Call) (Result, bool) {
	approval, err := m.approvals.Request(ctx, call.TaskID, call.CallID, call.ToolPath, call.Input)
	if err != nil {
		return m.fail(ctx, call, fmt.Sprintf("approval request: %v", err)), false
	}

	start := time.Now()
	resolved, err := m.approvals.Await(ctx, approval.ID)
	if err != nil {
		// Task cancellation or timeout while parked.
		return m.fail(ctx, call, fmt.Sprintf("approval wait aborted: %v", err)), false
	}
	if m.metrics != nil {
		m.metrics.ApprovalWait.Observe(time.Since(start).Seconds())
		m.metrics.Approvals.WithLabelValues(string(resolved.Status)).Inc()
	}

	if resolved.Status != models.ApprovalStatusApproved {
		reason := resolved.Reason
		if reason == "" {
			reason = fmt.Sprintf("tool %s denied by reviewer", call.ToolPath)
		}
		return m.deny(ctx, call, reason, approval.ID), false
	}
	return Result{}, true
}

func (m *Mediator) deny(ctx context.Context, call Call, reason, approvalID string) Result {
	payload := map[string]any{"error": reason}
	if approvalID != "" {
		payload["approvalId"] = approvalID
	}
	m.publish(ctx, call, models.EventToolCallDenied, payload)
	m.count("denied")
	return Result{Denied: true, Error: reason}
}

func (m *Mediator) fail(ctx context.Context, call Call, message string) Result {
	m.publish(ctx, call, models.EventToolCallFailed, map[string]any{"error": message})
	m.count("failed")
	return Result{Error: message}
}

func (m *Mediator) publish(ctx context.Context, call Call, eventType string, extra map[string]any) {
	payload := map[string]any{
		"taskId":   call.TaskID,
		"callId":   call.CallID,
		"toolPath": call.ToolPath,
	}
	for k, v := range extra {
		payload[k] = v
	}
	// Outcome events must land even when the call lost its context to a
	// task timeout.
	ctx = context.WithoutCancel(ctx)
	if _, err := m.publisher.Publish(ctx, call.TaskID, models.EventNameTask, eventType, payload); err != nil {
		m.logger.Error("tool call event failed",
			"task_id", call.TaskID,
			"call_id", call.CallID,
			"type", eventType,
			"error", err,
		)
	}
}

func (m *Mediator) count(outcome string) {
	if m.metrics != nil {
		m.metrics.ToolCalls.WithLabelValues(outcome).Inc()
	}
}

func declaredDecision(mode tools.ApprovalMode) models.PolicyDecision {
	if mode == tools.ApprovalRequired {
		return models.DecisionRequireApproval
	}
	return models.DecisionAllow
}
