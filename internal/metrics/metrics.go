package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "tab_limiter"

var (
	// EventsReceived counts lifecycle events routed through the dispatcher.
	EventsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_received_total",
		Help:      "Lifecycle events routed through the dispatcher.",
	}, []string{"kind"})

	// EventsSkipped counts events short-circuited before any enforcement.
	EventsSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_skipped_total",
		Help:      "Events short-circuited before enforcement.",
	}, []string{"reason"})

	// EnforcementRuns counts enforcement passes by resource and trigger.
	EnforcementRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "enforcement_runs_total",
		Help:      "Enforcement passes by resource and trigger.",
	}, []string{"resource", "trigger"})

	// TabsClosed counts tabs closed by the tab enforcer.
	TabsClosed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tabs_closed_total",
		Help:      "Tabs closed by the enforcer.",
	})

	// WindowsClosed counts windows closed, by closure path
	// (immediate, confirmed, expired, fallback).
	WindowsClosed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "windows_closed_total",
		Help:      "Windows closed by the enforcer, by closure path.",
	}, []string{"path"})

	// CloseFailures counts close operations that returned an error.
	CloseFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "close_failures_total",
		Help:      "Close operations that failed.",
	}, []string{"resource"})

	// JobsEnqueued counts enforcement jobs placed into the worker channel.
	JobsEnqueued = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "jobs_enqueued_total",
		Help:      "Enforcement jobs placed into the worker channel.",
	}, []string{"kind"})

	// JobsDropped counts jobs discarded without running.
	JobsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "jobs_dropped_total",
		Help:      "Enforcement jobs discarded without running.",
	}, []string{"reason"})

	// JobsProcessed counts worker completions.
	JobsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "jobs_processed_total",
		Help:      "Worker job completions.",
	}, []string{"kind", "status"})

	// WorkerQueueDepth tracks current job channel length.
	WorkerQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "worker_queue_depth",
		Help:      "Current job channel buffer depth.",
	})

	// TotalTabs is the badge counter: tabs across all normal windows.
	TotalTabs = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "total_tabs",
		Help:      "Tabs across all normal windows (badge counter).",
	})

	// NormalWindows is the current count of normal-type windows.
	NormalWindows = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "normal_windows",
		Help:      "Current count of normal-type windows.",
	})

	// OverLimit is 1 when any per-window or global limit is exceeded.
	OverLimit = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "over_limit",
		Help:      "1 when any tab or window limit is exceeded, else 0.",
	})

	// PendingClosures tracks windows with a live warning/fallback timer.
	PendingClosures = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "pending_window_closures",
		Help:      "Windows currently tracked for deferred closure.",
	})

	// ActivityLogSize tracks the current ring buffer length.
	ActivityLogSize = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "activity_log_entries",
		Help:      "Entries currently held in the activity log ring buffer.",
	})

	// DBSizeBytes tracks bbolt on-disk file size.
	DBSizeBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "db_size_bytes",
		Help:      "bbolt on-disk file size in bytes.",
	})

	// BrowserQueryErrors counts directory queries that failed.
	BrowserQueryErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "browser_query_errors_total",
		Help:      "Directory queries against the browser that failed.",
	}, []string{"query"})
)
