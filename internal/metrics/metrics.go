package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ConnectionsActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "merge_gateway_connections_active",
			Help: "Live websocket connections per feature gateway",
		},
		[]string{"feature"},
	)

	ConnectionsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "merge_gateway_connections_rejected_total",
			Help: "Connection attempts refused before upgrade",
		},
		[]string{"reason"},
	)

	CommandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "merge_gateway_commands_total",
			Help: "Inbound client commands by outcome",
		},
		[]string{"feature", "event", "outcome"},
	)

	EnvelopesPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "merge_gateway_envelopes_published_total",
			Help: "Envelopes published to the bus",
		},
		[]string{"channel", "outcome"},
	)

	EnvelopesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "merge_gateway_envelopes_received_total",
			Help: "Envelopes received from the bus",
		},
		[]string{"channel", "outcome"},
	)

	Deliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "merge_gateway_deliveries_total",
			Help: "Frames handed to local sockets by the dispatcher",
		},
		[]string{"feature", "target"},
	)

	BackendDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "merge_gateway_backend_request_duration_seconds",
			Help:    "Backend REST call latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"client", "method", "status"},
	)
)
