package tools

import (
	"context"
	"fmt"
	"time"
)

// RegisterBuiltins installs the kernel's built-in tools, including the
// discovery tool, into the registry.
func RegisterBuiltins(registry *Registry) error {
	defs := []*Definition{
		NewDiscoverTool(registry),
		{
			Path:        "math.add",
			Description: "Add two numbers.",
			Approval:    ApprovalAuto,
			Metadata: &Metadata{
				Args:    "(a: number, b: number)",
				Returns: "{sum: number}",
				Example: `tools.math.add({a: 3, b: 4})`,
			},
			InputSchema: `{
				"type": "object",
				"properties": {
					"a": {"type": "number"},
					"b": {"type": "number"}
				},
				"required": ["a", "b"]
			}`,
			Run: func(ctx context.Context, input map[string]any, rc *RunContext) (any, error) {
				a, aok := toFloat(input["a"])
				b, bok := toFloat(input["b"])
				if !aok || !bok {
					return nil, fmt.Errorf("math.add: a and b must be numbers")
				}
				return map[string]any{"sum": a + b}, nil
			},
		},
		{
			Path:        "time.now",
			Description: "Current UTC time in RFC 3339 format.",
			Approval:    ApprovalAuto,
			Metadata: &Metadata{
				Args:    "()",
				Returns: "{now: string}",
				Example: `tools.time.now({})`,
			},
			Run: func(ctx context.Context, input map[string]any, rc *RunContext) (any, error) {
				return map[string]any{"now": time.Now().UTC().Format(time.RFC3339)}, nil
			},
		},
		{
			Path:        "workspace.echo",
			Description: "Echo the input back with the calling workspace and actor.",
			Approval:    ApprovalAuto,
			Metadata: &Metadata{
				Args:    "(message?: string)",
				Returns: "{message, workspaceId, actorId}",
				Example: `tools.workspace.echo({message: "hi"})`,
			},
			Run: func(ctx context.Context, input map[string]any, rc *RunContext) (any, error) {
				msg, _ := input["message"].(string)
				return map[string]any{
					"message":     msg,
					"workspaceId": rc.WorkspaceID,
					"actorId":     rc.ActorID,
				}, nil
			},
		},
	}

	for _, def := range defs {
		if err := registry.Register(def); err != nil {
			return err
		}
	}
	return nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
