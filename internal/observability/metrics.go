package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	AlertsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "emergency",
		Name:      "alerts_created_total",
		Help:      "Total number of alerts raised by clients",
	}, []string{"type"})

	AlertTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "emergency",
		Name:      "alert_transitions_total",
		Help:      "Alert status transitions by target status and outcome",
	}, []string{"status", "outcome"})

	ChangeEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "emergency",
		Name:      "change_events_total",
		Help:      "Row change notifications published to the realtime feed",
	}, []string{"table", "op"})

	StoreReloads = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "emergency",
		Name:      "store_reloads_total",
		Help:      "Collection reloads performed by data stores",
	}, []string{"table", "outcome"})

	LocationFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "emergency",
		Name:      "location_fallbacks_total",
		Help:      "Alerts created with the default location because no fix was available",
	})

	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "emergency",
		Name:      "active_sessions",
		Help:      "Number of live per-identity data stores",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "emergency",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "emergency",
		Name:      "ws_connections",
		Help:      "Number of active WebSocket connections",
	})
)
