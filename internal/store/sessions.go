package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/haasonsaas/execd/pkg/models"
)

// BootstrapAnonymousSession returns the existing session for the id,
// refreshing last_seen_at, or creates a new session with fresh
// workspace, actor, and client ids. An empty sessionID always creates.
func (s *Store) BootstrapAnonymousSession(ctx context.Context, sessionID string) (*models.AnonymousSession, error) {
	if sessionID != "" {
		existing, err := s.getAnonymousSession(ctx, sessionID)
		if err == nil {
			existing.LastSeenAt = now()
			err = s.execWrite(func() error {
				_, err := s.db.ExecContext(ctx,
					`UPDATE anonymous_sessions SET last_seen_at = ? WHERE session_id = ?`,
					formatTime(existing.LastSeenAt), sessionID)
				return err
			})
			if err != nil {
				return nil, fmt.Errorf("refresh anonymous session: %w", err)
			}
			return existing, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}

	session := &models.AnonymousSession{
		SessionID:   sessionID,
		WorkspaceID: "ws_" + uuid.NewString(),
		ActorID:     "actor_" + uuid.NewString(),
		ClientID:    "client_" + uuid.NewString(),
		CreatedAt:   now(),
	}
	if session.SessionID == "" {
		session.SessionID = "sess_" + uuid.NewString()
	}
	session.LastSeenAt = session.CreatedAt

	err := s.execWrite(func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO anonymous_sessions (session_id, workspace_id, actor_id, client_id, created_at, last_seen_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			session.SessionID, session.WorkspaceID, session.ActorID, session.ClientID,
			formatTime(session.CreatedAt), formatTime(session.LastSeenAt),
		)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("create anonymous session: %w", err)
	}
	return session, nil
}

// GetAnonymousSession returns a session by id.
func (s *Store) GetAnonymousSession(ctx context.Context, sessionID string) (*models.AnonymousSession, error) {
	return s.getAnonymousSession(ctx, sessionID)
}

// PruneAnonymousSessions deletes sessions idle since before the cutoff.
func (s *Store) PruneAnonymousSessions(ctx context.Context, cutoff time.Time) (int64, error) {
	var n int64
	err := s.execWrite(func() error {
		res, err := s.db.ExecContext(ctx,
			`DELETE FROM anonymous_sessions WHERE last_seen_at < ?`, formatTime(cutoff))
		if err != nil {
			return fmt.Errorf("prune anonymous sessions: %w", err)
		}
		n, err = res.RowsAffected()
		return err
	})
	return n, err
}

func (s *Store) getAnonymousSession(ctx context.Context, sessionID string) (*models.AnonymousSession, error) {
	var (
		session    models.AnonymousSession
		createdAt  string
		lastSeenAt string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT session_id, workspace_id, actor_id, client_id, created_at, last_seen_at
		FROM anonymous_sessions WHERE session_id = ?`, sessionID).Scan(
		&session.SessionID, &session.WorkspaceID, &session.ActorID,
		&session.ClientID, &createdAt, &lastSeenAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get anonymous session: %w", err)
	}
	session.CreatedAt = parseTime(createdAt)
	session.LastSeenAt = parseTime(lastSeenAt)
	return &session, nil
}
