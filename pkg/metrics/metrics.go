package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus instrumentation for the master service manager, exposed on
// the admin API at /metrics.

var (
	ServiceUp = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "svcmaster_service_up",
			Help: "Whether the supervised service is currently running (1) or not (0)",
		},
		[]string{"service"},
	)

	ServiceRestarts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "svcmaster_service_restarts_total",
			Help: "Total number of service restarts by trigger",
		},
		[]string{"service", "trigger"}, // trigger: health_failure, manual, scheduled
	)

	ConsecutiveFailures = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "svcmaster_service_consecutive_failures",
			Help: "Current consecutive health-check failure count per service",
		},
		[]string{"service"},
	)

	HealthCheckDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "svcmaster_health_check_duration_seconds",
			Help:    "Duration of health-check probes in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"service", "type"},
	)

	MonthlyRestarts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "svcmaster_monthly_restarts_total",
			Help: "Total number of scheduled monthly full restarts performed",
		},
	)
)
