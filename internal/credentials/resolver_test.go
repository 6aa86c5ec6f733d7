package credentials

import (
	"context"
	"testing"

	"github.com/haasonsaas/execd/internal/store"
	"github.com/haasonsaas/execd/pkg/models"
)

func newTestResolver(t *testing.T) (*Resolver, *store.Store) {
	t.Helper()
	st, err := store.Open(":memory:", nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return NewResolver(st, nil), st
}

func TestResolve_Bearer(t *testing.T) {
	r, st := newTestResolver(t)
	ctx := context.Background()
	if _, err := st.UpsertCredential(ctx, &models.Credential{
		WorkspaceID: "ws_1",
		SourceKey:   "crm",
		Scope:       models.CredentialScopeWorkspace,
		SecretJSON:  map[string]any{"type": "bearer", "token": "tok-123"},
	}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	resolved, err := r.Resolve(ctx, "ws_1", "crm", models.CredentialScopeWorkspace, "")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved == nil {
		t.Fatal("expected a resolved credential")
	}
	if resolved.Headers["Authorization"] != "Bearer tok-123" {
		t.Errorf("unexpected headers: %v", resolved.Headers)
	}
	if resolved.SourceKey != "crm" || resolved.Scope != models.CredentialScopeWorkspace {
		t.Errorf("unexpected metadata: %+v", resolved)
	}
}

func TestResolve_UnboundIsNil(t *testing.T) {
	r, _ := newTestResolver(t)
	resolved, err := r.Resolve(context.Background(), "ws_1", "crm", models.CredentialScopeWorkspace, "")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved != nil {
		t.Errorf("expected nil for unbound credential, got %+v", resolved)
	}
}

func TestResolve_ActorScope(t *testing.T) {
	r, st := newTestResolver(t)
	ctx := context.Background()
	if _, err := st.UpsertCredential(ctx, &models.Credential{
		WorkspaceID: "ws_1",
		SourceKey:   "email",
		Scope:       models.CredentialScopeActor,
		ActorID:     "actor_a",
		SecretJSON:  map[string]any{"type": "api_key", "header": "X-Mail-Key", "value": "k1"},
	}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	resolved, err := r.Resolve(ctx, "ws_1", "email", models.CredentialScopeActor, "actor_a")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved == nil || resolved.Headers["X-Mail-Key"] != "k1" {
		t.Errorf("unexpected resolution: %+v", resolved)
	}

	other, err := r.Resolve(ctx, "ws_1", "email", models.CredentialScopeActor, "actor_b")
	if err != nil {
		t.Fatalf("resolve other actor: %v", err)
	}
	if other != nil {
		t.Errorf("actor_b must not see actor_a's credential: %+v", other)
	}
}

func TestBuildHeaders(t *testing.T) {
	cases := []struct {
		name    string
		secret  map[string]any
		header  string
		value   string
		wantErr bool
	}{
		{"bearer", map[string]any{"type": "bearer", "token": "t"}, "Authorization", "Bearer t", false},
		{"api_key default header", map[string]any{"type": "api_key", "value": "v"}, "X-Api-Key", "v", false},
		{"basic", map[string]any{"type": "basic", "username": "u", "password": "p"}, "Authorization", "Basic dTpw", false},
		{"bearer without token", map[string]any{"type": "bearer"}, "", "", true},
		{"missing type", map[string]any{"token": "t"}, "", "", true},
		{"unsupported type", map[string]any{"type": "oauth_dance"}, "", "", true},
	}
	for _, tc := range cases {
		headers, err := buildHeaders(tc.secret)
		if tc.wantErr {
			if err == nil {
				t.Errorf("%s: expected error", tc.name)
			}
			continue
		}
		if err != nil {
			t.Errorf("%s: %v", tc.name, err)
			continue
		}
		if headers[tc.header] != tc.value {
			t.Errorf("%s: got %v", tc.name, headers)
		}
	}
}
