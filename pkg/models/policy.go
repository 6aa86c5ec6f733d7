package models

import "time"

// PolicyDecision is the outcome of evaluating an access policy.
type PolicyDecision string

const (
	DecisionAllow           PolicyDecision = "allow"
	DecisionRequireApproval PolicyDecision = "require_approval"
	DecisionDeny            PolicyDecision = "deny"
)

// ConditionOperator compares a policy condition against a tool input value.
type ConditionOperator string

const (
	OperatorEquals     ConditionOperator = "equals"
	OperatorNotEquals  ConditionOperator = "not_equals"
	OperatorContains   ConditionOperator = "contains"
	OperatorStartsWith ConditionOperator = "starts_with"
)

// ArgumentCondition restricts a policy to calls whose input matches.
// Only top-level input keys are inspected.
type ArgumentCondition struct {
	Key      string            `json:"key"`
	Operator ConditionOperator `json:"operator"`
	Value    any               `json:"value"`
}

// PolicyScopeType narrows where a policy applies.
type PolicyScopeType string

const (
	ScopeAccount      PolicyScopeType = "account"
	ScopeWorkspace    PolicyScopeType = "workspace"
	ScopeOrganization PolicyScopeType = "organization"
)

// AccessPolicy is a rule that overrides a tool's default approval mode
// within a workspace. Higher priority wins; ties break on CreatedAt.
type AccessPolicy struct {
	// ID is the unique policy identifier.
	ID string `json:"id"`

	// WorkspaceID scopes the policy.
	WorkspaceID string `json:"workspace_id"`

	// ActorID, when set, restricts the policy to a single actor.
	ActorID string `json:"actor_id,omitempty"`

	// ClientID, when set, restricts the policy to a single client.
	ClientID string `json:"client_id,omitempty"`

	// ToolPathPattern is a glob over dotted tool paths. "*" matches one
	// or more segments; a terminal ".*" matches any suffix.
	ToolPathPattern string `json:"tool_path_pattern"`

	// Decision applies when the policy matches.
	Decision PolicyDecision `json:"decision"`

	// Priority orders competing policies; higher wins.
	Priority int `json:"priority"`

	// ArgumentConditions must all hold for the policy to match.
	ArgumentConditions []ArgumentCondition `json:"argument_conditions,omitempty"`

	// ScopeType and TargetAccountID carry optional narrowing metadata.
	ScopeType       PolicyScopeType `json:"scope_type,omitempty"`
	TargetAccountID string          `json:"target_account_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
