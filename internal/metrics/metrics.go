package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roomfeed_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "roomfeed_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Activity metrics
	ActivityPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roomfeed_activity_published_total",
			Help: "Activity messages published",
		},
		[]string{"type", "source"}, // type: text|share, source: http|gateway
	)

	ActivityPublishFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "roomfeed_activity_publish_failures_total",
			Help: "Activity messages that could not be published",
		},
	)

	// Gateway metrics
	GatewayConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "roomfeed_gateway_connections",
			Help: "Open WebSocket gateway connections",
		},
	)

	GatewayFrames = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roomfeed_gateway_frames_total",
			Help: "Frames received by the gateway",
		},
		[]string{"action"},
	)

	// Presence metrics
	PresenceReaped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "roomfeed_presence_reaped_total",
			Help: "Presence members removed after missing refreshes",
		},
	)

	RoomsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "roomfeed_rooms_created_total",
			Help: "Total rooms created",
		},
	)
)
