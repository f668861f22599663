package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ErrorsClassified tracks classified errors per category and severity
	ErrorsClassified = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "faultline_errors_classified_total",
			Help: "Total number of errors classified",
		},
		[]string{"category", "severity"},
	)

	// RecoveryAttempts tracks recovery attempts per strategy and outcome
	RecoveryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "faultline_recovery_attempts_total",
			Help: "Total number of recovery attempts",
		},
		[]string{"strategy", "outcome"},
	)

	// RecoveryDuration tracks recovery attempt latency per strategy
	RecoveryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "faultline_recovery_duration_seconds",
			Help:    "Recovery attempt duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"strategy"},
	)

	// WALEntries tracks the current size of the write-ahead log
	WALEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "faultline_wal_entries",
			Help: "Current number of entries in the error WAL",
		},
	)

	// SilentFailures tracks silent failures found by the last WAL scan
	SilentFailures = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "faultline_silent_failures",
			Help: "Silent failures detected by the last WAL scan",
		},
	)

	// RetroactivePasses tracks retroactive recovery passes by result
	RetroactivePasses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "faultline_retroactive_passes_total",
			Help: "Total number of retroactive recovery passes",
		},
		[]string{"result"},
	)

	// ActiveAlerts tracks currently active telemetry alerts
	ActiveAlerts = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "faultline_active_alerts",
			Help: "Currently active telemetry alerts",
		},
	)

	// PatternsDetected tracks detected error patterns per type
	PatternsDetected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "faultline_patterns_detected_total",
			Help: "Total number of error patterns detected",
		},
		[]string{"type"},
	)
)
