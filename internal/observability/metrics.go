package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Console HTTP metrics
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "console_http_request_duration_seconds",
			Help:    "Console HTTP request latency in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "console_http_requests_total",
			Help: "Total number of console HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// Gateway metrics
	GatewayRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_request_duration_seconds",
			Help:    "Backend API call latency in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "status"},
	)

	GatewayRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_requests_total",
			Help: "Total number of backend API calls by outcome",
		},
		[]string{"method", "outcome"},
	)

	// Session metrics
	SessionTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "session_transitions_total",
			Help: "Session state machine transitions",
		},
		[]string{"transition"},
	)

	SessionExpiriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "session_expiries_total",
			Help: "Sessions purged after the API reported them unauthorized",
		},
	)

	LoginAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "login_attempts_total",
			Help: "Login attempts by result",
		},
		[]string{"result"},
	)

	CredentialStoreErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "credential_store_errors_total",
			Help: "Credential store failures by backend and operation",
		},
		[]string{"backend", "operation"},
	)

	// Audit metrics
	SessionEventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "session_events_published_total",
			Help: "Session events published to the broker",
		},
		[]string{"type", "result"},
	)
)
