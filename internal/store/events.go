package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/haasonsaas/execd/pkg/models"
)

// AppendTaskEventParams holds the inputs for AppendTaskEvent.
type AppendTaskEventParams struct {
	TaskID    string
	EventName models.EventName
	Type      string
	Payload   map[string]any
}

// AppendTaskEvent appends an immutable record to the task's event log
// and returns it with the assigned monotonic id. Sequence numbers are
// dense per task; assignment happens inside the write lock so two
// concurrent appends can never collide.
func (s *Store) AppendTaskEvent(ctx context.Context, params AppendTaskEventParams) (*models.TaskEvent, error) {
	event := &models.TaskEvent{
		TaskID:    params.TaskID,
		EventName: params.EventName,
		Type:      params.Type,
		Payload:   params.Payload,
		CreatedAt: now(),
	}

	payload, err := marshalJSON(event.Payload)
	if err != nil {
		return nil, err
	}

	err = s.execWrite(func() error {
		row := s.db.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(seq), 0) + 1 FROM task_events WHERE task_id = ?`, event.TaskID)
		if err := row.Scan(&event.ID); err != nil {
			return fmt.Errorf("next event seq: %w", err)
		}
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO task_events (task_id, seq, event_name, type, payload, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			event.TaskID, event.ID, string(event.EventName), event.Type,
			payload, formatTime(event.CreatedAt),
		)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("append task event: %w", err)
	}
	return event, nil
}

// ListTaskEvents returns the task's durable event log ordered by id.
func (s *Store) ListTaskEvents(ctx context.Context, taskID string) ([]*models.TaskEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT task_id, seq, event_name, type, payload, created_at
		FROM task_events
		WHERE task_id = ?
		ORDER BY seq ASC`, taskID)
	if err != nil {
		return nil, fmt.Errorf("list task events: %w", err)
	}
	defer rows.Close()

	var events []*models.TaskEvent
	for rows.Next() {
		var (
			event     models.TaskEvent
			eventName string
			payload   sql.NullString
			createdAt string
		)
		if err := rows.Scan(&event.TaskID, &event.ID, &eventName, &event.Type, &payload, &createdAt); err != nil {
			return nil, fmt.Errorf("scan task event: %w", err)
		}
		event.EventName = models.EventName(eventName)
		event.Payload = unmarshalMap(payload)
		event.CreatedAt = parseTime(createdAt)
		events = append(events, &event)
	}
	return events, rows.Err()
}
