package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Rollout metrics
	RolloutsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shipgate_rollouts_total",
			Help: "Total number of finished rollouts by terminal state",
		},
		[]string{"state"},
	)

	RolloutsRejectedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "shipgate_rollouts_rejected_total",
			Help: "Total number of rollout requests rejected at intake (conflict or invalid)",
		},
	)

	RolloutsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "shipgate_rollouts_active",
			Help: "Number of rollouts currently in a non-terminal state",
		},
	)

	RolloutDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "shipgate_rollout_duration_seconds",
			Help:    "Wall time from intake to terminal state",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"state"},
	)

	// Probe metrics
	ProbeAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shipgate_probe_attempts_total",
			Help: "Total number of individual health probe attempts by result",
		},
		[]string{"result"},
	)

	// Remote executor metrics
	RemoteRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "shipgate_remote_connection_retries_total",
			Help: "Total number of retried SSH connection attempts",
		},
	)

	RemoteCommandDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "shipgate_remote_command_duration_seconds",
			Help:    "Duration of remote commands",
			Buckets: prometheus.DefBuckets,
		},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shipgate_api_requests_total",
			Help: "Total number of API requests by method and status",
		},
		[]string{"method", "status"},
	)
)

func init() {
	prometheus.MustRegister(
		RolloutsTotal,
		RolloutsRejectedTotal,
		RolloutsActive,
		RolloutDuration,
		ProbeAttemptsTotal,
		RemoteRetriesTotal,
		RemoteCommandDuration,
		APIRequestsTotal,
	)
}

// Handler returns the HTTP handler that exposes the metrics endpoint
func Handler() http.Handler {
	return promhttp.Handler()
}
