// Package approvals coordinates human-in-the-loop gates on tool calls.
//
// A gated call creates a pending approval row, announces it on the
// task's event stream, and parks on a one-shot waiter until a reviewer
// resolves it or the task is cancelled.
package approvals

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/haasonsaas/execd/internal/events"
	"github.com/haasonsaas/execd/internal/store"
	"github.com/haasonsaas/execd/pkg/models"
)

// Coordinator owns the pending-approval waiters. Waiters are one-shot:
// the first resolution claims and removes the channel, so a duplicate
// resolution can never signal a second time.
type Coordinator struct {
	store     *store.Store
	publisher *events.Publisher
	logger    *slog.Logger

	mu      sync.Mutex
	waiters map[string]chan *models.Approval
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(st *store.Store, publisher *events.Publisher, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		store:     st,
		publisher: publisher,
		logger:    logger.With("component", "approvals"),
		waiters:   make(map[string]chan *models.Approval),
	}
}

// Request records a pending approval for a tool call and announces it
// on the task's event stream.
func (c *Coordinator) Request(ctx context.Context, taskID, callID, toolPath string, input map[string]any) (*models.Approval, error) {
	approval, err := c.store.CreateApproval(ctx, store.CreateApprovalParams{
		TaskID:   taskID,
		ToolPath: toolPath,
		Input:    input,
	})
	if err != nil {
		return nil, err
	}

	_, err = c.publisher.Publish(ctx, taskID, models.EventNameApproval, models.EventApprovalRequested, map[string]any{
		"approvalId": approval.ID,
		"taskId":     taskID,
		"callId":     callID,
		"toolPath":   toolPath,
		"input":      input,
		"createdAt":  approval.CreatedAt.Format(time.RFC3339Nano),
	})
	if err != nil {
		return nil, err
	}

	c.logger.Info("approval requested",
		"approval_id", approval.ID,
		"task_id", taskID,
		"tool_path", toolPath,
	)
	return approval, nil
}

// Await blocks until the approval is resolved or the context ends. An
// approval already resolved when Await is called returns immediately.
func (c *Coordinator) Await(ctx context.Context, approvalID string) (*models.Approval, error) {
	ch := make(chan *models.Approval, 1)
	c.mu.Lock()
	c.waiters[approvalID] = ch
	c.mu.Unlock()

	// A resolution that landed before the waiter registered would
	// otherwise block forever.
	approval, err := c.store.GetApproval(ctx, approvalID)
	if err != nil {
		c.removeWaiter(approvalID)
		return nil, err
	}
	if approval.Status != models.ApprovalStatusPending {
		c.removeWaiter(approvalID)
		return approval, nil
	}

	select {
	case resolved := <-ch:
		return resolved, nil
	case <-ctx.Done():
		c.removeWaiter(approvalID)
		return nil, ctx.Err()
	}
}

// Resolve applies a reviewer decision. Unknown or already-resolved
// approvals return store.ErrNotFound untouched. The parked caller, if
// any, is signalled exactly once.
func (c *Coordinator) Resolve(ctx context.Context, approvalID string, decision models.ApprovalDecision, reviewerID, reason string) (*models.Approval, error) {
	approval, err := c.store.ResolveApproval(ctx, approvalID, decision, reviewerID, reason)
	if err != nil {
		return nil, err
	}

	payload := map[string]any{
		"approvalId": approval.ID,
		"taskId":     approval.TaskID,
		"toolPath":   approval.ToolPath,
		"decision":   string(decision),
		"reviewerId": reviewerID,
		"reason":     reason,
	}
	if approval.ResolvedAt != nil {
		payload["resolvedAt"] = approval.ResolvedAt.Format(time.RFC3339Nano)
	}
	if _, err := c.publisher.Publish(ctx, approval.TaskID, models.EventNameApproval, models.EventApprovalResolved, payload); err != nil {
		c.logger.Error("approval resolution event failed", "approval_id", approvalID, "error", err)
	}

	c.mu.Lock()
	ch, ok := c.waiters[approvalID]
	if ok {
		delete(c.waiters, approvalID)
	}
	c.mu.Unlock()
	if ok {
		ch <- approval
	}

	c.logger.Info("approval resolved",
		"approval_id", approval.ID,
		"decision", string(decision),
		"reviewer_id", reviewerID,
	)
	return approval, nil
}

// ResolveInWorkspace is Resolve with a workspace ownership check. An
// approval belonging to another workspace reads as not found.
func (c *Coordinator) ResolveInWorkspace(ctx context.Context, workspaceID, approvalID string, decision models.ApprovalDecision, reviewerID, reason string) (*models.Approval, error) {
	if _, err := c.store.GetApprovalInWorkspace(ctx, approvalID, workspaceID); err != nil {
		return nil, err
	}
	return c.Resolve(ctx, approvalID, decision, reviewerID, reason)
}

func (c *Coordinator) removeWaiter(approvalID string) {
	c.mu.Lock()
	delete(c.waiters, approvalID)
	c.mu.Unlock()
}

// PendingCount reports the number of parked waiters, for status surfaces.
func (c *Coordinator) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.waiters)
}
