package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	RunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "switchyard_runs_total",
			Help: "Total number of rollout runs by final status.",
		},
		[]string{"status"},
	)

	RunDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "switchyard_run_duration_seconds",
			Help:    "Duration of rollout runs in seconds.",
			Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		},
		[]string{"status"},
	)

	RunsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "switchyard_runs_active",
			Help: "Number of rollout runs currently executing.",
		},
	)

	DevicePushesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "switchyard_device_pushes_total",
			Help: "Total number of device pushes by vendor and final status.",
		},
		[]string{"vendor", "status"},
	)

	DevicePushDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "switchyard_device_push_duration_seconds",
			Help:    "Duration of device pushes in seconds, including retries.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300},
		},
		[]string{"vendor", "status"},
	)

	DevicePushRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "switchyard_device_push_retries_total",
			Help: "Total number of retried push attempts by error code.",
		},
		[]string{"error_code"},
	)

	TransitionContentionTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "switchyard_transition_contention_total",
			Help: "Total number of state transitions lost to a concurrent writer.",
		},
		[]string{"kind"},
	)

	DryRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "switchyard_dry_runs_total",
			Help: "Total number of dry-runs by outcome.",
		},
		[]string{"outcome"},
	)
)

// Register registers all custom switchyard metrics with the default Prometheus registry.
func Register() {
	prometheus.MustRegister(
		RunsTotal,
		RunDurationSeconds,
		RunsActive,
		DevicePushesTotal,
		DevicePushDurationSeconds,
		DevicePushRetriesTotal,
		TransitionContentionTotal,
		DryRunsTotal,
	)
}
