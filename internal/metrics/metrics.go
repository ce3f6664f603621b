// Package metrics holds the Prometheus collectors shared across packages.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HostRequests counts host plugin API calls by endpoint and outcome (ok, rejected, transport).
	HostRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plexscanner_host_requests_total",
			Help: "Host plugin API requests by endpoint and outcome",
		},
		[]string{"endpoint", "outcome"},
	)

	HostRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "plexscanner_host_request_duration_seconds",
			Help:    "Host plugin API request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	// PlexRefreshes counts refresh requests sent to Plex by outcome (ok, error, rejected).
	PlexRefreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plexscanner_plex_refreshes_total",
			Help: "Plex section refresh requests by outcome",
		},
		[]string{"outcome"},
	)

	// ScannerChanges counts detected file changes by kind (added, modified, deleted) and source.
	ScannerChanges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plexscanner_changes_total",
			Help: "File changes detected in the watch directory",
		},
		[]string{"kind", "source"},
	)

	// BreakerState is 0 closed, 1 half-open, 2 open.
	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "plexscanner_circuit_breaker_state",
			Help: "Circuit breaker state (0 closed, 1 half-open, 2 open)",
		},
		[]string{"name"},
	)

	PanelActions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plexscanner_panel_actions_total",
			Help: "Config panel actions by action and notification level",
		},
		[]string{"action", "level"},
	)
)
