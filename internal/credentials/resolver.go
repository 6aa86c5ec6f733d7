// Package credentials resolves tool-source secrets into ready-to-use
// authorization headers. Tool handlers never see raw secret material
// beyond the headers built here.
package credentials

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"

	"github.com/haasonsaas/execd/internal/store"
	"github.com/haasonsaas/execd/pkg/models"
)

// Resolver turns stored credential bindings into ResolvedCredentials.
type Resolver struct {
	store  *store.Store
	logger *slog.Logger
}

// NewResolver creates a Resolver over the store.
func NewResolver(st *store.Store, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{store: st, logger: logger.With("component", "credentials")}
}

// Resolve looks up the binding for (workspace, source, scope, actor)
// and builds its headers. An unbound credential is not an error: the
// result is nil and the tool decides whether it can run without one.
func (r *Resolver) Resolve(ctx context.Context, workspaceID, sourceKey string, scope models.CredentialScope, actorID string) (*models.ResolvedCredential, error) {
	cred, err := r.store.ResolveCredential(ctx, workspaceID, sourceKey, scope, actorID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	headers, err := buildHeaders(cred.SecretJSON)
	if err != nil {
		return nil, fmt.Errorf("credential %s: %w", cred.ID, err)
	}
	return &models.ResolvedCredential{
		SourceKey: cred.SourceKey,
		Scope:     cred.Scope,
		Headers:   headers,
	}, nil
}

// buildHeaders maps a secret payload onto HTTP authorization headers.
// Supported shapes:
//
//	{"type": "bearer", "token": "..."}
//	{"type": "api_key", "header": "X-Api-Key", "value": "..."}
//	{"type": "basic", "username": "...", "password": "..."}
func buildHeaders(secret map[string]any) (map[string]string, error) {
	kind, _ := secret["type"].(string)
	switch kind {
	case "bearer":
		token, _ := secret["token"].(string)
		if token == "" {
			return nil, fmt.Errorf("bearer secret missing token")
		}
		return map[string]string{"Authorization": "Bearer " + token}, nil

	case "api_key":
		header, _ := secret["header"].(string)
		value, _ := secret["value"].(string)
		if header == "" {
			header = "X-Api-Key"
		}
		if value == "" {
			return nil, fmt.Errorf("api_key secret missing value")
		}
		return map[string]string{header: value}, nil

	case "basic":
		username, _ := secret["username"].(string)
		password, _ := secret["password"].(string)
		if username == "" {
			return nil, fmt.Errorf("basic secret missing username")
		}
		raw := base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
		return map[string]string{"Authorization": "Basic " + raw}, nil

	case "":
		return nil, fmt.Errorf("secret missing type")
	}
	return nil, fmt.Errorf("unsupported secret type %q", kind)
}
