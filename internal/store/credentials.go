package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/haasonsaas/execd/pkg/models"
)

const credentialColumns = `id, workspace_id, source_key, scope, actor_id, secret_json, provider, created_at, updated_at`

// UpsertCredential binds a secret to (workspace, source, scope, actor).
// A later write with the same key replaces the earlier secret.
func (s *Store) UpsertCredential(ctx context.Context, cred *models.Credential) (*models.Credential, error) {
	if strings.TrimSpace(cred.WorkspaceID) == "" {
		return nil, fmt.Errorf("workspace id is required")
	}
	if strings.TrimSpace(cred.SourceKey) == "" {
		return nil, fmt.Errorf("source key is required")
	}
	switch cred.Scope {
	case models.CredentialScopeWorkspace, models.CredentialScopeActor:
	default:
		return nil, fmt.Errorf("invalid credential scope %q", cred.Scope)
	}
	if cred.Scope == models.CredentialScopeActor && strings.TrimSpace(cred.ActorID) == "" {
		return nil, fmt.Errorf("actor id is required for actor-scoped credentials")
	}

	stored := *cred
	if stored.ID == "" {
		stored.ID = "cred_" + uuid.NewString()
	}
	if stored.Provider == "" {
		stored.Provider = models.ProviderLocal
	}
	stored.UpdatedAt = now()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = stored.UpdatedAt
	}

	secret, err := marshalJSON(stored.SecretJSON)
	if err != nil {
		return nil, err
	}

	err = s.execWrite(func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO source_credentials (id, workspace_id, source_key, scope, actor_id,
				secret_json, provider, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(workspace_id, source_key, scope, actor_id) DO UPDATE SET
				secret_json = excluded.secret_json,
				provider = excluded.provider,
				updated_at = excluded.updated_at`,
			stored.ID, stored.WorkspaceID, stored.SourceKey, string(stored.Scope),
			stored.ActorID, secret, string(stored.Provider),
			formatTime(stored.CreatedAt), formatTime(stored.UpdatedAt),
		)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("upsert credential: %w", err)
	}
	return &stored, nil
}

// ResolveCredential returns the credential bound to (workspace, source,
// scope, actor). Workspace scope ignores the actor; actor scope
// requires an exact actor match. Missing bindings report ErrNotFound.
func (s *Store) ResolveCredential(ctx context.Context, workspaceID, sourceKey string, scope models.CredentialScope, actorID string) (*models.Credential, error) {
	actor := ""
	if scope == models.CredentialScopeActor {
		actor = actorID
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT `+credentialColumns+` FROM source_credentials
		WHERE workspace_id = ? AND source_key = ? AND scope = ? AND actor_id = ?`,
		workspaceID, sourceKey, string(scope), actor)

	cred, err := scanCredential(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("resolve credential: %w", err)
	}
	return cred, nil
}

// ListCredentials returns the workspace's credential bindings. Secrets
// are included; callers expose only metadata outward.
func (s *Store) ListCredentials(ctx context.Context, workspaceID string) ([]*models.Credential, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+credentialColumns+` FROM source_credentials
		WHERE workspace_id = ?
		ORDER BY source_key ASC, scope ASC, actor_id ASC`, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	defer rows.Close()

	var creds []*models.Credential
	for rows.Next() {
		cred, err := scanCredential(rows)
		if err != nil {
			return nil, fmt.Errorf("scan credential: %w", err)
		}
		creds = append(creds, cred)
	}
	return creds, rows.Err()
}

func scanCredential(row rowScanner) (*models.Credential, error) {
	var (
		cred      models.Credential
		scope     string
		secret    sql.NullString
		provider  string
		createdAt string
		updatedAt string
	)
	err := row.Scan(
		&cred.ID, &cred.WorkspaceID, &cred.SourceKey, &scope, &cred.ActorID,
		&secret, &provider, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}
	cred.Scope = models.CredentialScope(scope)
	cred.Provider = models.CredentialProvider(provider)
	cred.SecretJSON = unmarshalMap(secret)
	cred.CreatedAt = parseTime(createdAt)
	cred.UpdatedAt = parseTime(updatedAt)
	return &cred, nil
}
