package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Tasks processed partitioned by task type and outcome
	tasksProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scheduler_tasks_processed_total",
			Help: "Total number of tasks processed by the dispatcher",
		},
		[]string{"type", "outcome"},
	)

	// Per-task handler latency in seconds partitioned by task type
	taskDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scheduler_task_duration_seconds",
			Help:    "Task handler latencies in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"type"},
	)

	// Full poll cycle latency in seconds
	cycleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "scheduler_cycle_duration_seconds",
			Help:    "Poll cycle latencies in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Cycles skipped because the previous cycle was still running
	cyclesSkippedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "scheduler_cycles_skipped_total",
			Help: "Total number of poll cycles skipped due to an in-flight cycle",
		},
	)

	// Check tasks backfilled by the due-delivery sweep
	sweepScheduledTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "scheduler_sweep_checks_scheduled_total",
			Help: "Total number of check tasks enqueued by the due-delivery sweep",
		},
	)

	// Sync tasks enqueued by the stale-account sweep
	accountSyncScheduledTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "scheduler_account_syncs_scheduled_total",
			Help: "Total number of sync tasks enqueued by the stale-account sweep",
		},
	)
)
