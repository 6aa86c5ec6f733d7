package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/haasonsaas/execd/pkg/models"
)

// CreateTaskParams holds the inputs for CreateTask.
type CreateTaskParams struct {
	WorkspaceID string
	ActorID     string
	ClientID    string
	Code        string
	RuntimeID   string
	TimeoutMs   int64
	Metadata    map[string]any
}

const taskColumns = `id, workspace_id, actor_id, client_id, code, runtime_id, timeout_ms,
	metadata, status, stdout, stderr, exit_code, error,
	created_at, updated_at, started_at, completed_at`

// CreateTask persists a new task in status queued.
func (s *Store) CreateTask(ctx context.Context, params CreateTaskParams) (*models.Task, error) {
	if strings.TrimSpace(params.WorkspaceID) == "" {
		return nil, fmt.Errorf("workspace id is required")
	}
	if strings.TrimSpace(params.RuntimeID) == "" {
		return nil, fmt.Errorf("runtime id is required")
	}

	task := &models.Task{
		ID:          "task_" + uuid.NewString(),
		WorkspaceID: params.WorkspaceID,
		ActorID:     params.ActorID,
		ClientID:    params.ClientID,
		Code:        params.Code,
		RuntimeID:   params.RuntimeID,
		TimeoutMs:   params.TimeoutMs,
		Metadata:    params.Metadata,
		Status:      models.TaskStatusQueued,
		CreatedAt:   now(),
	}
	task.UpdatedAt = task.CreatedAt

	metadata, err := marshalJSON(task.Metadata)
	if err != nil {
		return nil, err
	}

	err = s.execWrite(func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO tasks (id, workspace_id, actor_id, client_id, code, runtime_id, timeout_ms,
				metadata, status, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			task.ID, task.WorkspaceID, task.ActorID, task.ClientID, task.Code,
			task.RuntimeID, task.TimeoutMs, metadata, string(task.Status),
			formatTime(task.CreatedAt), formatTime(task.UpdatedAt),
		)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}
	return task, nil
}

// GetTask returns a task by id. A non-empty workspaceID additionally
// requires the task to belong to that workspace; mismatches report
// ErrNotFound rather than revealing the task exists.
func (s *Store) GetTask(ctx context.Context, taskID, workspaceID string) (*models.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE id = ?`
	args := []any{taskID}
	if workspaceID != "" {
		query += ` AND workspace_id = ?`
		args = append(args, workspaceID)
	}

	row := s.db.QueryRowContext(ctx, query, args...)
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return task, nil
}

// ListTasks returns the workspace's tasks, newest first.
func (s *Store) ListTasks(ctx context.Context, workspaceID string, limit int) ([]*models.Task, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+taskColumns+` FROM tasks
		WHERE workspace_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?`, workspaceID, limit)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*models.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// MarkTaskRunning transitions queued -> running and stamps started_at
// on the first transition. Running tasks are a no-op; terminal tasks
// refuse silently.
func (s *Store) MarkTaskRunning(ctx context.Context, taskID string) error {
	return s.execWrite(func() error {
		ts := formatTime(now())
		_, err := s.db.ExecContext(ctx, `
			UPDATE tasks
			SET status = ?, started_at = COALESCE(started_at, ?), updated_at = ?
			WHERE id = ? AND status IN (?, ?)`,
			string(models.TaskStatusRunning), ts, ts,
			taskID, string(models.TaskStatusQueued), string(models.TaskStatusRunning),
		)
		if err != nil {
			return fmt.Errorf("mark task running: %w", err)
		}
		return nil
	})
}

// FinishTaskParams holds the terminal result of a task.
type FinishTaskParams struct {
	Status   models.TaskStatus
	Stdout   string
	Stderr   string
	ExitCode *int
	Error    string
}

// MarkTaskFinished records the terminal state. Terminal statuses are
// absorbing: finishing an already-terminal task is a silent no-op.
// Returns whether the transition was applied.
func (s *Store) MarkTaskFinished(ctx context.Context, taskID string, params FinishTaskParams) (bool, error) {
	if !params.Status.IsTerminal() {
		return false, fmt.Errorf("status %q is not terminal", params.Status)
	}

	var applied bool
	err := s.execWrite(func() error {
		ts := formatTime(now())
		res, err := s.db.ExecContext(ctx, `
			UPDATE tasks
			SET status = ?, stdout = ?, stderr = ?, exit_code = ?, error = ?,
				completed_at = ?, updated_at = ?
			WHERE id = ? AND status IN (?, ?)`,
			string(params.Status), params.Stdout, params.Stderr,
			nullableInt(params.ExitCode), params.Error, ts, ts,
			taskID, string(models.TaskStatusQueued), string(models.TaskStatusRunning),
		)
		if err != nil {
			return fmt.Errorf("mark task finished: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		applied = n > 0
		return nil
	})
	return applied, err
}

// FailRunningTasks finalizes every queued or running task as failed.
// Called once at boot: waiters do not survive a kernel restart, so any
// task interrupted mid-flight can never complete.
func (s *Store) FailRunningTasks(ctx context.Context, reason string) (int64, error) {
	var n int64
	err := s.execWrite(func() error {
		ts := formatTime(now())
		res, err := s.db.ExecContext(ctx, `
			UPDATE tasks
			SET status = ?, error = ?, completed_at = ?, updated_at = ?
			WHERE status IN (?, ?)`,
			string(models.TaskStatusFailed), reason, ts, ts,
			string(models.TaskStatusQueued), string(models.TaskStatusRunning),
		)
		if err != nil {
			return fmt.Errorf("fail running tasks: %w", err)
		}
		n, err = res.RowsAffected()
		return err
	})
	return n, err
}

// PruneTerminalTasks deletes terminal tasks completed before the
// cutoff. Approvals and events cascade. Returns the number pruned.
func (s *Store) PruneTerminalTasks(ctx context.Context, cutoff time.Time) (int64, error) {
	var n int64
	err := s.execWrite(func() error {
		res, err := s.db.ExecContext(ctx, `
			DELETE FROM tasks
			WHERE completed_at IS NOT NULL AND completed_at < ?`, formatTime(cutoff))
		if err != nil {
			return fmt.Errorf("prune tasks: %w", err)
		}
		n, err = res.RowsAffected()
		return err
	})
	return n, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*models.Task, error) {
	var (
		task               models.Task
		metadata           sql.NullString
		exitCode           sql.NullInt64
		createdAt, updated string
		startedAt          sql.NullString
		completedAt        sql.NullString
		status             string
	)
	err := row.Scan(
		&task.ID, &task.WorkspaceID, &task.ActorID, &task.ClientID, &task.Code,
		&task.RuntimeID, &task.TimeoutMs, &metadata, &status, &task.Stdout,
		&task.Stderr, &exitCode, &task.Error, &createdAt, &updated,
		&startedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}
	task.Status = models.TaskStatus(status)
	task.Metadata = unmarshalMap(metadata)
	task.ExitCode = intPtr(exitCode)
	task.CreatedAt = parseTime(createdAt)
	task.UpdatedAt = parseTime(updated)
	task.StartedAt = parseTimePtr(startedAt)
	task.CompletedAt = parseTimePtr(completedAt)
	return &task, nil
}
