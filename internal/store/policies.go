package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/haasonsaas/execd/pkg/models"
)

const policyColumns = `id, workspace_id, actor_id, client_id, tool_path_pattern, decision,
	priority, argument_conditions, scope_type, target_account_id, created_at, updated_at`

// UpsertPolicy inserts or replaces an access policy. A policy without
// an ID gets a fresh one; an existing ID overwrites in place while
// preserving created_at for stable tie-breaking.
func (s *Store) UpsertPolicy(ctx context.Context, policy *models.AccessPolicy) (*models.AccessPolicy, error) {
	if strings.TrimSpace(policy.WorkspaceID) == "" {
		return nil, fmt.Errorf("workspace id is required")
	}
	if strings.TrimSpace(policy.ToolPathPattern) == "" {
		return nil, fmt.Errorf("tool path pattern is required")
	}
	switch policy.Decision {
	case models.DecisionAllow, models.DecisionRequireApproval, models.DecisionDeny:
	default:
		return nil, fmt.Errorf("invalid decision %q", policy.Decision)
	}

	stored := *policy
	if stored.ID == "" {
		stored.ID = "pol_" + uuid.NewString()
	}
	stored.UpdatedAt = now()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = stored.UpdatedAt
	}

	conditions, err := marshalJSON(stored.ArgumentConditions)
	if err != nil {
		return nil, err
	}

	err = s.execWrite(func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO access_policies (id, workspace_id, actor_id, client_id, tool_path_pattern,
				decision, priority, argument_conditions, scope_type, target_account_id, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				workspace_id = excluded.workspace_id,
				actor_id = excluded.actor_id,
				client_id = excluded.client_id,
				tool_path_pattern = excluded.tool_path_pattern,
				decision = excluded.decision,
				priority = excluded.priority,
				argument_conditions = excluded.argument_conditions,
				scope_type = excluded.scope_type,
				target_account_id = excluded.target_account_id,
				updated_at = excluded.updated_at`,
			stored.ID, stored.WorkspaceID, stored.ActorID, stored.ClientID,
			stored.ToolPathPattern, string(stored.Decision), stored.Priority,
			conditions, string(stored.ScopeType), stored.TargetAccountID,
			formatTime(stored.CreatedAt), formatTime(stored.UpdatedAt),
		)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("upsert policy: %w", err)
	}
	return &stored, nil
}

// ListPolicies returns the workspace's policies ordered by priority
// descending, then creation time ascending (the evaluation order).
func (s *Store) ListPolicies(ctx context.Context, workspaceID string) ([]*models.AccessPolicy, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+policyColumns+` FROM access_policies
		WHERE workspace_id = ?
		ORDER BY priority DESC, created_at ASC, id ASC`, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("list policies: %w", err)
	}
	defer rows.Close()

	var policies []*models.AccessPolicy
	for rows.Next() {
		policy, err := scanPolicy(rows)
		if err != nil {
			return nil, fmt.Errorf("scan policy: %w", err)
		}
		policies = append(policies, policy)
	}
	return policies, rows.Err()
}

// DeletePolicy removes a policy within a workspace. Unknown ids are a
// no-op reported as ErrNotFound.
func (s *Store) DeletePolicy(ctx context.Context, workspaceID, policyID string) error {
	var applied bool
	err := s.execWrite(func() error {
		res, err := s.db.ExecContext(ctx,
			`DELETE FROM access_policies WHERE id = ? AND workspace_id = ?`, policyID, workspaceID)
		if err != nil {
			return fmt.Errorf("delete policy: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		applied = n > 0
		return nil
	})
	if err != nil {
		return err
	}
	if !applied {
		return ErrNotFound
	}
	return nil
}

func scanPolicy(row rowScanner) (*models.AccessPolicy, error) {
	var (
		policy     models.AccessPolicy
		decision   string
		conditions sql.NullString
		scopeType  string
		createdAt  string
		updatedAt  string
	)
	err := row.Scan(
		&policy.ID, &policy.WorkspaceID, &policy.ActorID, &policy.ClientID,
		&policy.ToolPathPattern, &decision, &policy.Priority, &conditions,
		&scopeType, &policy.TargetAccountID, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}
	policy.Decision = models.PolicyDecision(decision)
	policy.ScopeType = models.PolicyScopeType(scopeType)
	policy.CreatedAt = parseTime(createdAt)
	policy.UpdatedAt = parseTime(updatedAt)
	if conditions.Valid && conditions.String != "" {
		if err := json.Unmarshal([]byte(conditions.String), &policy.ArgumentConditions); err != nil {
			return nil, fmt.Errorf("decode argument conditions: %w", err)
		}
	}
	return &policy, nil
}
