// Package tools defines tool definitions and the kernel's tool registry.
//
// A tool is a named, typed function a sandboxed program can call
// through the mediator. Definitions are materialized at boot from
// built-ins and imported tool sources; the registry is read-mostly.
package tools

import (
	"context"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/haasonsaas/execd/pkg/models"
)

// ApprovalMode is a tool's declared default gate.
type ApprovalMode string

const (
	// ApprovalAuto runs without human review unless a policy says otherwise.
	ApprovalAuto ApprovalMode = "auto"

	// ApprovalRequired parks every call on a human approval.
	ApprovalRequired ApprovalMode = "required"
)

// CredentialSpec declares which credential a tool wants bound at call time.
type CredentialSpec struct {
	// SourceKey names the tool source the credential belongs to.
	SourceKey string `json:"source_key"`

	// Scope selects workspace- or actor-scoped resolution.
	Scope models.CredentialScope `json:"scope"`
}

// Metadata carries descriptor details surfaced by discovery.
type Metadata struct {
	// Args is a human-readable signature hint, e.g. "(a: number, b: number)".
	Args string `json:"args,omitempty"`

	// Returns describes the result shape.
	Returns string `json:"returns,omitempty"`

	// SourceDTS is the generated type declaration for the tool, if any.
	SourceDTS string `json:"source_dts,omitempty"`

	// Example is a sample invocation shown by discovery.
	Example string `json:"example,omitempty"`
}

// RunContext is the per-call context handed to a tool handler. No
// hidden globals: credentials and capability checks flow through here.
type RunContext struct {
	TaskID      string
	WorkspaceID string
	ActorID     string
	ClientID    string

	// Credential is the bound credential, nil when none is bound. The
	// tool decides whether to fail without one.
	Credential *models.ResolvedCredential

	// IsToolAllowed reports whether the workspace policy would permit a
	// call to the given path (deny returns false; allow and
	// require_approval both return true).
	IsToolAllowed func(path string) bool

	// Invoke re-enters the mediator for a nested tool call on behalf of
	// the same task.
	Invoke func(ctx context.Context, path string, input map[string]any) (any, error)
}

// RunFunc executes a tool call.
type RunFunc func(ctx context.Context, input map[string]any, rc *RunContext) (any, error)

// Definition is one kernel-visible tool.
type Definition struct {
	// Path is the dotted name, e.g. "admin.delete_data".
	Path string

	Description string

	// Approval is the declared default gate; policies may strengthen it.
	Approval ApprovalMode

	// Source names the tool source that materialized this definition;
	// empty for built-ins.
	Source string

	// CredentialSpec, when set, asks the mediator to bind a credential.
	CredentialSpec *CredentialSpec

	Metadata *Metadata

	// InputSchema is an optional JSON Schema for the input map. When
	// set, the mediator validates input before invoking Run.
	InputSchema string

	Run RunFunc

	compiledSchema *jsonschema.Schema
}

// ValidateInput checks input against the declared schema, if any.
func (d *Definition) ValidateInput(input map[string]any) error {
	if d.compiledSchema == nil {
		return nil
	}
	// The validator wants plain JSON values; the input map already is one.
	var v any = map[string]any{}
	if input != nil {
		v = input
	}
	if err := d.compiledSchema.Validate(v); err != nil {
		return fmt.Errorf("input validation for %s: %w", d.Path, err)
	}
	return nil
}

func (d *Definition) compile() error {
	if d.InputSchema == "" {
		return nil
	}
	schema, err := jsonschema.CompileString(d.Path+".schema.json", d.InputSchema)
	if err != nil {
		return fmt.Errorf("compile schema for %s: %w", d.Path, err)
	}
	d.compiledSchema = schema
	return nil
}
