// Package observability provides the kernel's Prometheus metrics and
// structured logging setup.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is the kernel's metric set, wired through the scheduler,
// mediator, and approval coordinator.
type Metrics struct {
	// TasksStarted counts tasks handed to a runtime.
	TasksStarted prometheus.Counter

	// TasksFinished counts tasks reaching a terminal status.
	// Labels: status (completed|failed|timed_out|denied)
	TasksFinished *prometheus.CounterVec

	// TaskDuration measures wall time from dispatch to terminal status.
	// Buckets: 50ms doubling to ~200s
	TaskDuration prometheus.Histogram

	// ToolCalls counts mediated tool calls.
	// Labels: outcome (completed|failed|denied)
	ToolCalls *prometheus.CounterVec

	// Approvals counts approval resolutions.
	// Labels: decision (approved|denied)
	Approvals *prometheus.CounterVec

	// ApprovalWait measures how long a gated call waited on a reviewer.
	// Buckets: 500ms doubling to ~4500s
	ApprovalWait prometheus.Histogram

	// EventsAppended counts durable task events written to the log.
	EventsAppended prometheus.Counter

	// EventSubscribers gauges live event-stream subscriptions.
	EventSubscribers prometheus.Gauge
}

// NewMetrics registers the metric set on the given registerer. Pass
// prometheus.DefaultRegisterer in production and a fresh registry in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		TasksStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "execd_tasks_started_total",
			Help: "Tasks handed to a runtime.",
		}),
		TasksFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "execd_tasks_finished_total",
			Help: "Tasks reaching a terminal status.",
		}, []string{"status"}),
		TaskDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "execd_task_duration_seconds",
			Help:    "Wall time from dispatch to terminal status.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		ToolCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "execd_tool_calls_total",
			Help: "Mediated tool calls by outcome.",
		}, []string{"outcome"}),
		Approvals: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "execd_approvals_total",
			Help: "Approval resolutions by decision.",
		}, []string{"decision"}),
		ApprovalWait: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "execd_approval_wait_seconds",
			Help:    "Time a gated tool call waited on a reviewer.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 14),
		}),
		EventsAppended: factory.NewCounter(prometheus.CounterOpts{
			Name: "execd_events_appended_total",
			Help: "Durable task events appended.",
		}),
		EventSubscribers: factory.NewGauge(prometheus.GaugeOpts{
			Name: "execd_event_subscribers",
			Help: "Live event-stream subscriptions.",
		}),
	}
}
