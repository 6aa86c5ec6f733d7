package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/haasonsaas/execd/pkg/models"
)

const toolSourceColumns = `id, workspace_id, name, type, config, enabled, created_at, updated_at`

// UpsertToolSource inserts or replaces a tool source record. Names are
// unique per workspace; a matching name replaces the existing record.
func (s *Store) UpsertToolSource(ctx context.Context, src *models.ToolSource) (*models.ToolSource, error) {
	if strings.TrimSpace(src.WorkspaceID) == "" {
		return nil, fmt.Errorf("workspace id is required")
	}
	if strings.TrimSpace(src.Name) == "" {
		return nil, fmt.Errorf("name is required")
	}
	switch src.Type {
	case models.ToolSourceMCP, models.ToolSourceOpenAPI, models.ToolSourceGraphQL:
	default:
		return nil, fmt.Errorf("invalid tool source type %q", src.Type)
	}

	stored := *src
	if stored.ID == "" {
		stored.ID = "src_" + uuid.NewString()
	}
	stored.UpdatedAt = now()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = stored.UpdatedAt
	}

	config, err := marshalJSON(stored.Config)
	if err != nil {
		return nil, err
	}

	err = s.execWrite(func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO tool_sources (id, workspace_id, name, type, config, enabled, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(workspace_id, name) DO UPDATE SET
				type = excluded.type,
				config = excluded.config,
				enabled = excluded.enabled,
				updated_at = excluded.updated_at`,
			stored.ID, stored.WorkspaceID, stored.Name, string(stored.Type),
			config, stored.Enabled, formatTime(stored.CreatedAt), formatTime(stored.UpdatedAt),
		)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("upsert tool source: %w", err)
	}
	return &stored, nil
}

// ListToolSources returns the workspace's tool sources by name.
func (s *Store) ListToolSources(ctx context.Context, workspaceID string) ([]*models.ToolSource, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+toolSourceColumns+` FROM tool_sources
		WHERE workspace_id = ?
		ORDER BY name ASC`, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("list tool sources: %w", err)
	}
	defer rows.Close()

	var sources []*models.ToolSource
	for rows.Next() {
		var (
			src       models.ToolSource
			srcType   string
			config    sql.NullString
			createdAt string
			updatedAt string
		)
		if err := rows.Scan(&src.ID, &src.WorkspaceID, &src.Name, &srcType, &config,
			&src.Enabled, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan tool source: %w", err)
		}
		src.Type = models.ToolSourceType(srcType)
		src.Config = unmarshalMap(config)
		src.CreatedAt = parseTime(createdAt)
		src.UpdatedAt = parseTime(updatedAt)
		sources = append(sources, &src)
	}
	return sources, rows.Err()
}

// DeleteToolSource removes a tool source by id within a workspace.
func (s *Store) DeleteToolSource(ctx context.Context, workspaceID, sourceID string) error {
	var applied bool
	err := s.execWrite(func() error {
		res, err := s.db.ExecContext(ctx,
			`DELETE FROM tool_sources WHERE id = ? AND workspace_id = ?`, sourceID, workspaceID)
		if err != nil {
			return fmt.Errorf("delete tool source: %w", err)
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

