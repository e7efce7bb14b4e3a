// README: Prometheus metrics shared by the API server and background loops.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	AssignmentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "hail", Name: "assignments_total", Help: "Driver assignment attempts by outcome"},
		[]string{"result"},
	)
	RematchAttemptsTotal = promauto.NewCounter(
		prometheus.CounterOpts{Namespace: "hail", Name: "rematch_attempts_total", Help: "Re-match candidate attempts"},
	)
	RematchExhaustedTotal = promauto.NewCounter(
		prometheus.CounterOpts{Namespace: "hail", Name: "rematch_exhausted_total", Help: "Searches terminated without a driver"},
	)
	LocationUpdatesTotal = promauto.NewCounter(
		prometheus.CounterOpts{Namespace: "hail", Name: "location_updates_total", Help: "Accepted driver location updates"},
	)
	LocationRateLimitedTotal = promauto.NewCounter(
		prometheus.CounterOpts{Namespace: "hail", Name: "location_rate_limited_total", Help: "Location updates refused by the rate limiter"},
	)
	CleanupCorrectionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{Namespace: "hail", Name: "cleanup_corrections_total", Help: "Driver status corrections made by the consistency sweep"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "hail", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "hail",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
