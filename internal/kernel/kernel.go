// Package kernel assembles the execution kernel: store, event bus,
// tool registry, policy engine, approval coordinator, mediator,
// runtimes, scheduler, janitor, and the HTTP surface.
package kernel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/haasonsaas/execd/internal/approvals"
	"github.com/haasonsaas/execd/internal/callback"
	"github.com/haasonsaas/execd/internal/config"
	"github.com/haasonsaas/execd/internal/controlplane"
	"github.com/haasonsaas/execd/internal/credentials"
	"github.com/haasonsaas/execd/internal/events"
	"github.com/haasonsaas/execd/internal/janitor"
	"github.com/haasonsaas/execd/internal/mediator"
	"github.com/haasonsaas/execd/internal/observability"
	"github.com/haasonsaas/execd/internal/policy"
	"github.com/haasonsaas/execd/internal/runtime"
	"github.com/haasonsaas/execd/internal/scheduler"
	"github.com/haasonsaas/execd/internal/store"
	"github.com/haasonsaas/execd/internal/tools"
)

// Kernel is the fully wired execution kernel.
type Kernel struct {
	cfg    *config.Config
	logger *slog.Logger

	store     *store.Store
	bus       *events.Bus
	scheduler *scheduler.Scheduler
	janitor   *janitor.Janitor
	service   *controlplane.Service

	httpServer   *http.Server
	httpListener net.Listener
}

// New assembles a Kernel from configuration. The store is opened and
// migrated; nothing listens until Start.
func New(cfg *config.Config, logger *slog.Logger) (*Kernel, error) {
	if logger == nil {
		logger = slog.Default()
	}

	st, err := store.Open(cfg.Database.Path, logger)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	bus := events.NewBus(0)
	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
	publisher := events.NewPublisher(st, bus, metrics, logger)

	registry := tools.NewRegistry()
	if err := tools.RegisterBuiltins(registry); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("register builtin tools: %w", err)
	}

	engine := policy.NewEngine(st, logger)
	resolver := credentials.NewResolver(st, logger)
	coordinator := approvals.NewCoordinator(st, publisher, logger)
	med := mediator.New(registry, engine, resolver, coordinator, publisher, metrics, logger)

	runtimes := runtime.NewRegistry()
	for _, rc := range cfg.Runtimes {
		var rt runtime.Runtime
		switch rc.Type {
		case config.RuntimeSubprocess:
			rt = runtime.NewSubprocessRuntime(rc, cfg.Internal.CallbackBaseURL, cfg.Internal.Token, logger)
		case config.RuntimeRemote:
			rt = runtime.NewRemoteRuntime(rc, cfg.Internal.CallbackBaseURL, cfg.Internal.Token, logger)
		default:
			_ = st.Close()
			return nil, fmt.Errorf("runtime %q: unknown type %q", rc.ID, rc.Type)
		}
		if err := runtimes.Register(rt); err != nil {
			_ = st.Close()
			return nil, fmt.Errorf("register runtime %q: %w", rc.ID, err)
		}
	}

	runs := runtime.NewRunTable()
	sched := scheduler.New(st, runtimes, runs, med, publisher, metrics, cfg.Tasks.DefaultTimeout, logger)

	service := controlplane.NewService(st, bus, sched, coordinator, metrics,
		cfg.Server.SessionSecret, cfg.Tasks.ListLimit, logger)

	// Public control plane and the sandbox callback surface share one
	// listener; callbacks live under /internal and carry their own token.
	mux := http.NewServeMux()
	controlplane.NewHandler(service, logger).Register(mux)
	callback.NewHandler(runs, cfg.Internal.Token, logger).Register(mux)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return &Kernel{
		cfg:        cfg,
		logger:     logger.With("component", "kernel"),
		store:      st,
		bus:        bus,
		scheduler:  sched,
		janitor:    janitor.New(st, cfg.Janitor, logger),
		service:    service,
		httpServer: httpServer,
	}, nil
}

// Start recovers interrupted tasks, starts the janitor, and begins
// serving. Serve errors after a clean start are logged, not returned.
func (k *Kernel) Start(ctx context.Context) error {
	if err := k.scheduler.Recover(ctx); err != nil {
		return fmt.Errorf("recover tasks: %w", err)
	}
	if err := k.janitor.Start(); err != nil {
		return fmt.Errorf("start janitor: %w", err)
	}

	listener, err := net.Listen("tcp", k.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("http listen: %w", err)
	}
	k.httpListener = listener

	go func() {
		if err := k.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			k.logger.Error("http server error", "error", err)
		}
	}()

	k.logger.Info("kernel started", "addr", listener.Addr().String())
	return nil
}

// Addr returns the bound listen address, useful when the configured
// port is zero.
func (k *Kernel) Addr() string {
	if k.httpListener == nil {
		return k.httpServer.Addr
	}
	return k.httpListener.Addr().String()
}

// Shutdown stops accepting work, waits for in-flight tasks, and closes
// the store.
func (k *Kernel) Shutdown(ctx context.Context) error {
	var firstErr error
	if k.httpListener != nil {
		if err := k.httpServer.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("http shutdown: %w", err)
		}
	}
	k.janitor.Stop()
	k.scheduler.Wait()
	if err := k.store.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("close store: %w", err)
	}
	return firstErr
}
