package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for the collaboration server
// Declared in one package to keep instrument names consistent
// and avoid coupling between packages.
//
// Naming convention: namespace_subsystem_name
// - namespace: codesafe (application-level grouping)
// - subsystem: websocket, room, store, ratelimit (feature-level grouping)
// - name: specific metric (connections_active, events_total, etc.)
//
// Metric Types:
// - Gauge: Current state (connections, rooms, sockets per room)
// - Counter: Cumulative events (frames processed, flushes, rejections)
// - Histogram: Latency distributions (processing time, flush duration)

var (
	// ActiveWebSocketConnections tracks the current number of active WebSocket connections (Gauge - current state)
	ActiveWebSocketConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "codesafe",
		Subsystem: "websocket",
		Name:      "connections_active",
		Help:      "Current number of active WebSocket connections",
	})

	// ActiveRooms tracks the current number of live rooms (Gauge - current state)
	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "codesafe",
		Subsystem: "room",
		Name:      "rooms_active",
		Help:      "Current number of live rooms",
	})

	// RoomSockets tracks the number of sockets attached to each room (GaugeVec with room_id label)
	RoomSockets = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "codesafe",
		Subsystem: "room",
		Name:      "sockets_count",
		Help:      "Number of sockets attached to each room",
	}, []string{"room_id"})

	// WebsocketEvents tracks the total number of WebSocket frames processed (CounterVec - cumulative)
	WebsocketEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "codesafe",
		Subsystem: "websocket",
		Name:      "events_total",
		Help:      "Total WebSocket frames processed",
	}, []string{"event_type", "status"})

	// MessageProcessingDuration tracks the time spent processing WebSocket frames (HistogramVec - latency distribution)
	MessageProcessingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "codesafe",
		Subsystem: "websocket",
		Name:      "message_processing_seconds",
		Help:      "Time spent processing WebSocket frames",
		Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	}, []string{"event_type"})

	// PersistFlushes counts persist flush attempts by outcome (CounterVec - cumulative)
	PersistFlushes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "codesafe",
		Subsystem: "store",
		Name:      "flushes_total",
		Help:      "Total persist flush attempts",
	}, []string{"status"})

	// PersistFlushDuration tracks end-to-end flush latency (Histogram - latency distribution)
	PersistFlushDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "codesafe",
		Subsystem: "store",
		Name:      "flush_duration_seconds",
		Help:      "Time spent writing a project snapshot to the store",
		Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
	})

	// CircuitBreakerState exposes breaker state per backing service (0=closed, 1=half-open, 2=open)
	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "codesafe",
		Subsystem: "store",
		Name:      "circuit_breaker_state",
		Help:      "Circuit breaker state (0=closed, 1=half-open, 2=open)",
	}, []string{"service"})

	// CircuitBreakerFailures counts requests rejected by an open breaker (CounterVec - cumulative)
	CircuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "codesafe",
		Subsystem: "store",
		Name:      "circuit_breaker_failures_total",
		Help:      "Total requests rejected by an open circuit breaker",
	}, []string{"service"})

	// RateLimitRequests counts rate-limited endpoint hits (CounterVec - cumulative)
	RateLimitRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "codesafe",
		Subsystem: "ratelimit",
		Name:      "requests_total",
		Help:      "Total requests checked against a rate limit",
	}, []string{"limit_type"})

	// RateLimitExceeded counts rejected requests per limit (CounterVec - cumulative)
	RateLimitExceeded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "codesafe",
		Subsystem: "ratelimit",
		Name:      "exceeded_total",
		Help:      "Total requests rejected by a rate limit",
	}, []string{"limit_type"})
)

func IncConnection() {
	ActiveWebSocketConnections.Inc()
}

func DecConnection() {
	ActiveWebSocketConnections.Dec()
}
