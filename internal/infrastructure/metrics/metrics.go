// Package metrics holds the prometheus collectors of the lifecycle service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "lifecycle"

var (
	// ─── Engine ──────────────────────────────────────────────────────────────────

	TransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "engine",
		Name:      "transitions_total",
		Help:      "Lifecycle transitions, labelled by command and outcome.",
	}, []string{"command", "outcome"})

	TrackedSecondsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "engine",
		Name:      "tracked_seconds_total",
		Help:      "Seconds folded from running timers into tasks by live transitions.",
	})

	ClockSkewTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "engine",
		Name:      "clock_skew_total",
		Help:      "Timer stops whose end instant preceded the start instant.",
	})

	DispatchFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "engine",
		Name:      "dispatch_failures_total",
		Help:      "Instruction batches the dispatcher failed to deliver after a save.",
	})

	// ─── Reconciler ──────────────────────────────────────────────────────────────

	ReconcileRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "reconcile",
		Name:      "runs_total",
		Help:      "Reconciliation sweeps, labelled by mode and result.",
	}, []string{"mode", "result"})

	ReconcileRecoveredSeconds = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "reconcile",
		Name:      "recovered_seconds_total",
		Help:      "Seconds committed to tasks by reconciliation.",
	})

	ReconcileDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "reconcile",
		Name:      "duration_seconds",
		Help:      "Wall time of a reconciliation sweep.",
		Buckets:   []float64{0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300},
	}, []string{"mode"})

	// ─── Recurrence ──────────────────────────────────────────────────────────────

	RecurrenceMaterializedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "recurrence",
		Name:      "materialized_total",
		Help:      "Tasks created from recurring definitions, labelled by origin.",
	}, []string{"origin"})

	RecurrenceSkippedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "recurrence",
		Name:      "skipped_total",
		Help:      "Due occurrences skipped because they already existed.",
	})

	// ─── HTTP ────────────────────────────────────────────────────────────────────

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request duration in seconds",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path"})
)

// Outcome labels for TransitionsTotal.
const (
	OutcomeApplied  = "applied"
	OutcomeRefused  = "refused"
	OutcomeConflict = "conflict"
	OutcomeFailed   = "failed"
)
