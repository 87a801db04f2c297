package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Event metrics
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streamweaver_events_published_total",
			Help: "Total number of events published",
		},
		[]string{"event_type"},
	)

	EventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streamweaver_events_dropped_total",
			Help: "Total number of events dropped by backpressure",
		},
		[]string{"policy"},
	)

	EventsReplayed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "streamweaver_events_replayed_total",
			Help: "Total number of events replayed to reconnecting subscribers",
		},
	)

	PublishDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "streamweaver_publish_duration_seconds",
			Help:    "Publish latency in seconds",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1, .5},
		},
	)

	// Session metrics
	SessionsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "streamweaver_sessions_created_total",
			Help: "Total number of sessions created",
		},
	)

	SessionsClosed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "streamweaver_sessions_closed_total",
			Help: "Total number of sessions closed",
		},
	)

	// Stream metrics
	ActiveStreams = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "streamweaver_active_streams",
			Help: "Number of currently active stream subscribers",
		},
	)

	StreamConnections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streamweaver_stream_connections_total",
			Help: "Total number of stream subscriptions",
		},
		[]string{"reconnection"},
	)

	HeartbeatsSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "streamweaver_heartbeats_sent_total",
			Help: "Total number of heartbeat events enqueued",
		},
	)

	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "streamweaver_queue_depth",
			Help: "Current per-session queue depth",
		},
		[]string{"session_id"},
	)

	// Error metrics
	Errors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streamweaver_errors_total",
			Help: "Total number of errors by kind",
		},
		[]string{"kind"},
	)
)
