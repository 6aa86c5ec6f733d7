package events

import (
	"context"
	"log/slog"
	"sync"

	"github.com/haasonsaas/execd/internal/observability"
	"github.com/haasonsaas/execd/internal/store"
	"github.com/haasonsaas/execd/pkg/models"
)

// Publisher appends events to the durable log and then fans them out
// on the live bus. The append happens-before any live delivery, and a
// per-publisher lock keeps the (append, fan-out) pair atomic so the
// live order always matches the durable order.
type Publisher struct {
	store   *store.Store
	bus     *Bus
	metrics *observability.Metrics
	logger  *slog.Logger

	// mu serializes append+fanout; concurrent tool calls publish from
	// separate goroutines.
	mu sync.Mutex
}

// NewPublisher creates a Publisher over the given store and bus.
func NewPublisher(st *store.Store, bus *Bus, metrics *observability.Metrics, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		store:   st,
		bus:     bus,
		metrics: metrics,
		logger:  logger.With("component", "events"),
	}
}

// Bus exposes the live bus for subscribers.
func (p *Publisher) Bus() *Bus {
	return p.bus
}

// Publish durably appends one event and delivers it live. The returned
// event carries the store-assigned monotonic id. A failed append skips
// live delivery entirely; an event is never visible live without being
// on disk first.
func (p *Publisher) Publish(ctx context.Context, taskID string, name models.EventName, eventType string, payload map[string]any) (*models.TaskEvent, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	event, err := p.store.AppendTaskEvent(ctx, store.AppendTaskEventParams{
		TaskID:    taskID,
		EventName: name,
		Type:      eventType,
		Payload:   payload,
	})
	if err != nil {
		p.logger.Error("event append failed",
			"task_id", taskID,
			"type", eventType,
			"error", err,
		)
		return nil, err
	}

	if p.metrics != nil {
		p.metrics.EventsAppended.Inc()
	}
	p.bus.Publish(taskID, event)
	return event, nil
}
