package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/haasonsaas/execd/pkg/models"
)

// CreateApprovalParams holds the inputs for CreateApproval.
type CreateApprovalParams struct {
	TaskID   string
	ToolPath string
	Input    map[string]any
}

const approvalColumns = `id, task_id, tool_path, input, status, reviewer_id, reason, created_at, resolved_at`

// CreateApproval records a pending approval for a gated tool call.
func (s *Store) CreateApproval(ctx context.Context, params CreateApprovalParams) (*models.Approval, error) {
	approval := &models.Approval{
		ID:        "apr_" + uuid.NewString(),
		TaskID:    params.TaskID,
		ToolPath:  params.ToolPath,
		Input:     params.Input,
		Status:    models.ApprovalStatusPending,
		CreatedAt: now(),
	}

	input, err := marshalJSON(approval.Input)
	if err != nil {
		return nil, err
	}

	err = s.execWrite(func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO approvals (id, task_id, tool_path, input, status, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			approval.ID, approval.TaskID, approval.ToolPath, input,
			string(approval.Status), formatTime(approval.CreatedAt),
		)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("create approval: %w", err)
	}
	return approval, nil
}

// GetApproval returns an approval by id regardless of workspace.
func (s *Store) GetApproval(ctx context.Context, approvalID string) (*models.Approval, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+approvalColumns+` FROM approvals WHERE id = ?`, approvalID)
	approval, err := scanApproval(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get approval: %w", err)
	}
	return approval, nil
}

// GetApprovalInWorkspace returns an approval only when its owning task
// belongs to the given workspace.
func (s *Store) GetApprovalInWorkspace(ctx context.Context, approvalID, workspaceID string) (*models.Approval, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT a.id, a.task_id, a.tool_path, a.input, a.status, a.reviewer_id, a.reason, a.created_at, a.resolved_at
		FROM approvals a
		JOIN tasks t ON t.id = a.task_id
		WHERE a.id = ? AND t.workspace_id = ?`, approvalID, workspaceID)
	approval, err := scanApproval(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get approval in workspace: %w", err)
	}
	return approval, nil
}

// ResolveApproval transitions a pending approval to the decision.
// Non-pending or unknown approvals return ErrNotFound with no side
// effects; decisions are monotone.
func (s *Store) ResolveApproval(ctx context.Context, approvalID string, decision models.ApprovalDecision, reviewerID, reason string) (*models.Approval, error) {
	switch decision {
	case models.DecisionApproved, models.DecisionDenied:
	default:
		return nil, fmt.Errorf("invalid decision %q", decision)
	}

	var applied bool
	err := s.execWrite(func() error {
		res, err := s.db.ExecContext(ctx, `
			UPDATE approvals
			SET status = ?, reviewer_id = ?, reason = ?, resolved_at = ?
			WHERE id = ? AND status = ?`,
			string(decision), reviewerID, reason, formatTime(now()),
			approvalID, string(models.ApprovalStatusPending),
		)
		if err != nil {
			return fmt.Errorf("resolve approval: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		applied = n > 0
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !applied {
		return nil, ErrNotFound
	}
	return s.GetApproval(ctx, approvalID)
}

// ListApprovals returns the workspace's approvals, optionally filtered
// by status, ordered by creation time ascending.
func (s *Store) ListApprovals(ctx context.Context, workspaceID string, status models.ApprovalStatus) ([]*models.Approval, error) {
	query := `
		SELECT a.id, a.task_id, a.tool_path, a.input, a.status, a.reviewer_id, a.reason, a.created_at, a.resolved_at
		FROM approvals a
		JOIN tasks t ON t.id = a.task_id
		WHERE t.workspace_id = ?`
	args := []any{workspaceID}
	if status != "" {
		query += ` AND a.status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY a.created_at ASC, a.id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list approvals: %w", err)
	}
	defer rows.Close()

	var approvals []*models.Approval
	for rows.Next() {
		approval, err := scanApproval(rows)
		if err != nil {
			return nil, fmt.Errorf("scan approval: %w", err)
		}
		approvals = append(approvals, approval)
	}
	return approvals, rows.Err()
}

// ListPendingApprovals returns the workspace's pending approvals.
func (s *Store) ListPendingApprovals(ctx context.Context, workspaceID string) ([]*models.Approval, error) {
	return s.ListApprovals(ctx, workspaceID, models.ApprovalStatusPending)
}

func scanApproval(row rowScanner) (*models.Approval, error) {
	var (
		approval   models.Approval
		input      sql.NullString
		status     string
		createdAt  string
		resolvedAt sql.NullString
	)
	err := row.Scan(
		&approval.ID, &approval.TaskID, &approval.ToolPath, &input, &status,
		&approval.ReviewerID, &approval.Reason, &createdAt, &resolvedAt,
	)
	if err != nil {
		return nil, err
	}
	approval.Input = unmarshalMap(input)
	approval.Status = models.ApprovalStatus(status)
	approval.CreatedAt = parseTime(createdAt)
	approval.ResolvedAt = parseTimePtr(resolvedAt)
	return &approval, nil
}
