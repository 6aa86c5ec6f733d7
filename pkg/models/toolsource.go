package models

import "time"

// ToolSourceType identifies how a tool source materializes definitions.
type ToolSourceType string

const (
	ToolSourceMCP     ToolSourceType = "mcp"
	ToolSourceOpenAPI ToolSourceType = "openapi"
	ToolSourceGraphQL ToolSourceType = "graphql"
)

// ToolSource is an importable catalog of tool definitions.
// The importer that reads Config and materializes tools lives outside
// the kernel; the kernel only stores and enumerates these records.
type ToolSource struct {
	ID          string         `json:"id"`
	WorkspaceID string         `json:"workspace_id"`

	// Name is unique within the workspace.
	Name string `json:"name"`

	Type    ToolSourceType `json:"type"`
	Config  map[string]any `json:"config,omitempty"`
	Enabled bool           `json:"enabled"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
