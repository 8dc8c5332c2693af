// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package metrics provides Prometheus instrumentation for the router.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics the router emits.
type Metrics struct {
	// Connection metrics
	ActiveConnections  *prometheus.GaugeVec
	TotalConnections   *prometheus.CounterVec
	ConnectionErrors   *prometheus.CounterVec
	ConnectionDuration *prometheus.HistogramVec

	// Byte-relay metrics
	BytesUp   *prometheus.CounterVec
	BytesDown *prometheus.CounterVec

	// Backend metrics
	BackendConnectTotal   *prometheus.CounterVec
	BackendConnectErrors  *prometheus.CounterVec
	BackendConnectLatency *prometheus.HistogramVec

	// Quarantine metrics
	CircuitBreakerState *prometheus.GaugeVec
	QuarantinedCount    *prometheus.GaugeVec
	DestinationsEligible *prometheus.GaugeVec

	// Handshake metrics
	HandshakeErrors *prometheus.CounterVec
	TLSUpgrades     *prometheus.CounterVec

	// ACL metrics
	AuthAttempts *prometheus.CounterVec
	AuthRejected *prometheus.CounterVec

	// Accept-gate metrics
	RateLimitedAccepts *prometheus.CounterVec
	CapacityRejections *prometheus.CounterVec
}

// New creates a Metrics instance with all counters, gauges, and
// histograms registered under namespace.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "sqlrouter"
	}

	return &Metrics{
		ActiveConnections: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_connections",
				Help:      "Number of currently active sessions",
			},
			[]string{"bind"},
		),
		TotalConnections: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "connections_total",
				Help:      "Total number of sessions accepted",
			},
			[]string{"bind", "status"},
		),
		ConnectionErrors: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "connection_errors_total",
				Help:      "Total number of session errors",
			},
			[]string{"bind", "error_type"},
		),
		ConnectionDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "connection_duration_seconds",
				Help:      "Session duration in seconds",
				Buckets:   []float64{.01, .05, .1, .5, 1, 5, 10, 30, 60, 300, 600},
			},
			[]string{"bind"},
		),
		BytesUp: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "bytes_up_total",
				Help:      "Total bytes relayed from client to backend",
			},
			[]string{"bind"},
		),
		BytesDown: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "bytes_down_total",
				Help:      "Total bytes relayed from backend to client",
			},
			[]string{"bind"},
		),
		BackendConnectTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "backend_connect_total",
				Help:      "Total number of backend connect attempts",
			},
			[]string{"bind", "addr", "status"},
		),
		BackendConnectErrors: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "backend_connect_errors_total",
				Help:      "Total number of backend connect failures by classification",
			},
			[]string{"bind", "addr", "error_type"},
		),
		BackendConnectLatency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "backend_connect_latency_seconds",
				Help:      "Backend connect latency in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"bind"},
		),
		CircuitBreakerState: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "quarantine_breaker_state",
				Help:      "Per-destination quarantine state (0=eligible, 2=quarantined)",
			},
			[]string{"addr"},
		),
		QuarantinedCount: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "quarantined_destinations",
				Help:      "Number of destinations currently quarantined",
			},
			[]string{"bind"},
		),
		DestinationsEligible: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "destinations_eligible",
				Help:      "Number of destinations currently eligible for selection",
			},
			[]string{"bind", "mode"},
		),
		HandshakeErrors: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "handshake_errors_total",
				Help:      "Total number of handshake inspection failures",
			},
			[]string{"bind", "error_type"},
		),
		TLSUpgrades: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tls_upgrades_total",
				Help:      "Total number of sessions that requested a TLS upgrade",
			},
			[]string{"bind"},
		),
		AuthAttempts: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "auth_attempts_total",
				Help:      "Total number of ACL authorization checks",
			},
			[]string{"bind", "stage"},
		),
		AuthRejected: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "auth_rejected_total",
				Help:      "Total number of sessions rejected by ACL",
			},
			[]string{"bind", "stage"},
		),
		RateLimitedAccepts: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rate_limited_accepts_total",
				Help:      "Total number of accepts rejected by the per-bind rate limiter",
			},
			[]string{"bind"},
		),
		CapacityRejections: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "capacity_rejections_total",
				Help:      "Total number of accepts rejected because the global connection cap was reached",
			},
			[]string{"bind"},
		),
	}
}

// ObserveSession tracks a session's lifecycle: active-connection
// gauge, duration histogram, and a final status-tagged counter.
func (m *Metrics) ObserveSession(bind string, f func() error) error {
	m.ActiveConnections.WithLabelValues(bind).Inc()
	defer m.ActiveConnections.WithLabelValues(bind).Dec()

	start := time.Now()
	err := f()
	m.ConnectionDuration.WithLabelValues(bind).Observe(time.Since(start).Seconds())

	status := "success"
	if err != nil {
		status = "error"
	}
	m.TotalConnections.WithLabelValues(bind, status).Inc()
	return err
}
