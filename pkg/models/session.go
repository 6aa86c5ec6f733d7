package models

import "time"

// AnonymousSession bootstraps workspace identity for unauthenticated
// callers. Bootstrapping the same session id is idempotent and only
// refreshes LastSeenAt.
type AnonymousSession struct {
	SessionID   string    `json:"session_id"`
	WorkspaceID string    `json:"workspace_id"`
	ActorID     string    `json:"actor_id"`
	ClientID    string    `json:"client_id"`
	CreatedAt   time.Time `json:"created_at"`
	LastSeenAt  time.Time `json:"last_seen_at"`
}
