// Package store provides durable persistence for the execution kernel.
//
// The store is backed by an embedded SQLite database (pure-Go driver)
// and is the single source of truth for tasks, approvals, the durable
// event log, access policies, credentials, tool sources, and anonymous
// sessions. Writes are serialized through a single mutex so that each
// published operation is atomic and reads after a successful write
// observe its effects.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver
)

var (
	// ErrNotFound indicates the requested row does not exist in the
	// caller's workspace. Workspace mismatches surface as not-found to
	// avoid id enumeration.
	ErrNotFound = errors.New("not found")
)

// Store is the SQLite-backed kernel store.
type Store struct {
	db     *sql.DB
	logger *slog.Logger

	// writeMu serializes all mutations. SQLite allows a single writer
	// per database; funneling writes through one lock keeps the driver
	// from ever returning SQLITE_BUSY under concurrent dispatch.
	writeMu sync.Mutex
}

// Open opens (or creates) the database at path and applies the schema.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if path == "" {
		path = ":memory:"
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// A single connection keeps :memory: databases coherent and pairs
	// with the single-writer discipline.
	db.SetMaxOpenConns(1)

	s := &Store{
		db:     db,
		logger: logger.With("component", "store"),
	}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS tasks (
			id TEXT PRIMARY KEY,
			workspace_id TEXT NOT NULL,
			actor_id TEXT NOT NULL DEFAULT '',
			client_id TEXT NOT NULL DEFAULT '',
			code TEXT NOT NULL,
			runtime_id TEXT NOT NULL,
			timeout_ms INTEGER NOT NULL,
			metadata TEXT,
			status TEXT NOT NULL,
			stdout TEXT NOT NULL DEFAULT '',
			stderr TEXT NOT NULL DEFAULT '',
			exit_code INTEGER,
			error TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			started_at TEXT,
			completed_at TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS approvals (
			id TEXT PRIMARY KEY,
			task_id TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
			tool_path TEXT NOT NULL,
			input TEXT,
			status TEXT NOT NULL,
			reviewer_id TEXT NOT NULL DEFAULT '',
			reason TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			resolved_at TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS task_events (
			task_id TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
			seq INTEGER NOT NULL,
			event_name TEXT NOT NULL,
			type TEXT NOT NULL,
			payload TEXT,
			created_at TEXT NOT NULL,
			PRIMARY KEY (task_id, seq)
		)`,
		`CREATE TABLE IF NOT EXISTS access_policies (
			id TEXT PRIMARY KEY,
			workspace_id TEXT NOT NULL,
			actor_id TEXT NOT NULL DEFAULT '',
			client_id TEXT NOT NULL DEFAULT '',
			tool_path_pattern TEXT NOT NULL,
			decision TEXT NOT NULL,
			priority INTEGER NOT NULL DEFAULT 0,
			argument_conditions TEXT,
			scope_type TEXT NOT NULL DEFAULT '',
			target_account_id TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS source_credentials (
			id TEXT PRIMARY KEY,
			workspace_id TEXT NOT NULL,
			source_key TEXT NOT NULL,
			scope TEXT NOT NULL,
			actor_id TEXT NOT NULL DEFAULT '',
			secret_json TEXT NOT NULL,
			provider TEXT NOT NULL DEFAULT 'local',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			UNIQUE (workspace_id, source_key, scope, actor_id)
		)`,
		`CREATE TABLE IF NOT EXISTS tool_sources (
			id TEXT PRIMARY KEY,
			workspace_id TEXT NOT NULL,
			name TEXT NOT NULL,
			type TEXT NOT NULL,
			config TEXT,
			enabled INTEGER NOT NULL DEFAULT 1,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			UNIQUE (workspace_id, name)
		)`,
		`CREATE TABLE IF NOT EXISTS anonymous_sessions (
			session_id TEXT PRIMARY KEY,
			workspace_id TEXT NOT NULL,
			actor_id TEXT NOT NULL,
			client_id TEXT NOT NULL,
			created_at TEXT NOT NULL,
			last_seen_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_workspace_created ON tasks(workspace_id, created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_approvals_status ON approvals(status)`,
		`CREATE INDEX IF NOT EXISTS idx_approvals_task ON approvals(task_id)`,
		`CREATE INDEX IF NOT EXISTS idx_task_events_task_seq ON task_events(task_id, seq ASC)`,
		`CREATE INDEX IF NOT EXISTS idx_policies_workspace ON access_policies(workspace_id)`,
	}

	if _, err := s.db.Exec(`PRAGMA foreign_keys = ON`); err != nil {
		return fmt.Errorf("enable foreign keys: %w", err)
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

// execWrite runs fn under the single-writer lock.
func (s *Store) execWrite(fn func() error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return fn()
}

const timeLayout = time.RFC3339Nano

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func parseTimePtr(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t := parseTime(ns.String)
	return &t
}

func marshalJSON(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal json column: %w", err)
	}
	return string(data), nil
}

func unmarshalMap(ns sql.NullString) map[string]any {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(ns.String), &m); err != nil {
		return nil
	}
	return m
}

func nullableInt(p *int) any {
	if p == nil {
		return nil
	}
	return *p
}

func intPtr(ni sql.NullInt64) *int {
	if !ni.Valid {
		return nil
	}
	v := int(ni.Int64)
	return &v
}

// now returns the current UTC time; a var so tests can pin it.
var now = func() time.Time { return time.Now().UTC() }
