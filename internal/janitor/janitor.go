// Package janitor runs scheduled background maintenance: pruning idle
// anonymous sessions and expired terminal tasks.
package janitor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/haasonsaas/execd/internal/config"
	"github.com/haasonsaas/execd/internal/store"
)

// Janitor owns the maintenance cron.
type Janitor struct {
	store  *store.Store
	cfg    config.JanitorConfig
	cron   *cron.Cron
	logger *slog.Logger
}

// New creates a Janitor from its configuration.
func New(st *store.Store, cfg config.JanitorConfig, logger *slog.Logger) *Janitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Janitor{
		store:  st,
		cfg:    cfg,
		cron:   cron.New(),
		logger: logger.With("component", "janitor"),
	}
}

// Start schedules the sweep and starts the cron. Disabled janitors are
// a no-op.
func (j *Janitor) Start() error {
	if !j.cfg.Enabled {
		return nil
	}
	schedule := j.cfg.Schedule
	if schedule == "" {
		schedule = "@hourly"
	}
	if _, err := j.cron.AddFunc(schedule, func() {
		if _, _, err := j.Sweep(context.Background()); err != nil {
			j.logger.Error("sweep failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("schedule janitor: %w", err)
	}
	j.cron.Start()
	j.logger.Info("janitor started", "schedule", schedule)
	return nil
}

// Stop halts the cron and waits for a running sweep to finish.
func (j *Janitor) Stop() {
	<-j.cron.Stop().Done()
}

// Sweep prunes in one pass and reports how many rows each prune
// removed. Zero retention windows skip their prune.
func (j *Janitor) Sweep(ctx context.Context) (tasks, sessions int64, err error) {
	now := time.Now().UTC()

	if j.cfg.TaskRetention > 0 {
		tasks, err = j.store.PruneTerminalTasks(ctx, now.Add(-j.cfg.TaskRetention))
		if err != nil {
			return tasks, sessions, fmt.Errorf("prune tasks: %w", err)
		}
	}
	if j.cfg.SessionTTL > 0 {
		sessions, err = j.store.PruneAnonymousSessions(ctx, now.Add(-j.cfg.SessionTTL))
		if err != nil {
			return tasks, sessions, fmt.Errorf("prune sessions: %w", err)
		}
	}

	if tasks > 0 || sessions > 0 {
		j.logger.Info("sweep pruned", "tasks", tasks, "sessions", sessions)
	}
	return tasks, sessions, nil
}
