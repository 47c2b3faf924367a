package sync

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for sync passes
var (
	// syncRunsTotal counts finished passes by status.
	syncRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "calltrack_sync_runs_total",
		Help: "Total number of sync passes by final status",
	}, []string{"status"})

	// syncRunsRejected counts passes refused because another was in flight.
	syncRunsRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "calltrack_sync_runs_rejected_total",
		Help: "Total number of sync requests dropped while a pass was running",
	})

	// syncDuration measures pass latency.
	syncDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "calltrack_sync_duration_seconds",
		Help:    "Sync pass duration in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// callsImported counts calls inserted from the device log.
	callsImported = promauto.NewCounter(prometheus.CounterOpts{
		Name: "calltrack_calls_imported_total",
		Help: "Total number of calls inserted from the device call log",
	})

	// recordingsMatched counts recording lookups by outcome.
	recordingsMatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "calltrack_recordings_total",
		Help: "Total number of recording lookups by outcome",
	}, []string{"outcome"})

	// staleProcessingSwept counts abandoned processing markers cleared.
	staleProcessingSwept = promauto.NewCounter(prometheus.CounterOpts{
		Name: "calltrack_stale_processing_swept_total",
		Help: "Total number of stale processing markers cleared",
	})

	// syncInFlight is 1 while a pass runs.
	syncInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "calltrack_sync_in_flight",
		Help: "Whether a sync pass is currently running",
	})
)
