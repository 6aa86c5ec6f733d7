package models

import "time"

// CredentialScope controls how a credential is matched at resolution time.
type CredentialScope string

const (
	// CredentialScopeWorkspace binds one credential per (workspace, source).
	CredentialScopeWorkspace CredentialScope = "workspace"

	// CredentialScopeActor binds credentials per actor within a workspace.
	CredentialScopeActor CredentialScope = "actor"
)

// CredentialProvider identifies where the secret material lives.
type CredentialProvider string

const (
	ProviderLocal CredentialProvider = "local"
	ProviderVault CredentialProvider = "vault"
)

// Credential is a bound secret associated with a tool source.
// (workspace, source key, scope, actor) is unique; upserts replace.
type Credential struct {
	ID          string             `json:"id"`
	WorkspaceID string             `json:"workspace_id"`

	// SourceKey matches the ToolSource the credential belongs to.
	SourceKey string `json:"source_key"`

	Scope   CredentialScope    `json:"scope"`
	ActorID string             `json:"actor_id,omitempty"`

	// SecretJSON is the opaque secret payload, e.g. {"type":"bearer","token":"..."}.
	SecretJSON map[string]any `json:"secret_json"`

	Provider CredentialProvider `json:"provider"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ResolvedCredential is what a tool handler receives after header binding.
type ResolvedCredential struct {
	// SourceKey identifies the originating tool source.
	SourceKey string `json:"source_key"`

	// Scope records whether a workspace or actor credential matched.
	Scope CredentialScope `json:"scope"`

	// Headers carries the pre-built authorization headers.
	Headers map[string]string `json:"headers,omitempty"`
}
