// Package metrics provides Prometheus metrics for capsule.
// It tracks publish throughput, listener deliveries and connection churn
// so that stalled listeners and flapping endpoints are visible.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "capsule"
)

// Publish metrics track the enqueue path.
var (
	// MessagesPublishedTotal counts enqueue attempts, labeled by result.
	MessagesPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_published_total",
			Help:      "Total number of messages pushed onto channel lists",
		},
		[]string{"channel", "result"}, // result: success, failure
	)

	// PublishLatency measures the time of a single RPUSH round trip.
	PublishLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "publish_latency_seconds",
			Help:      "Time to push a message onto a channel list in seconds",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25},
		},
	)
)

// Listener metrics track the consume path.
var (
	// MessagesDeliveredTotal counts messages popped and dispatched.
	MessagesDeliveredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_delivered_total",
			Help:      "Total number of messages popped by listeners and dispatched",
		},
		[]string{"channel"},
	)

	// MessagesMalformedTotal counts list elements that were not valid envelopes.
	MessagesMalformedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_malformed_total",
			Help:      "Total number of list elements that failed envelope decoding",
		},
		[]string{"channel"},
	)

	// HandlerFaultsTotal counts handler invocations that failed or panicked.
	HandlerFaultsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handler_faults_total",
			Help:      "Total number of handler invocations that returned an error or panicked",
		},
		[]string{"channel"},
	)

	// DispatchLatency measures the time to run every handler for one message.
	DispatchLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatch_latency_seconds",
			Help:      "Time to dispatch one message to all handlers in seconds",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
	)

	// ListenerReconnectsTotal counts connect attempts after the first one.
	ListenerReconnectsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "listener_reconnects_total",
			Help:      "Total number of listener reconnect attempts",
		},
	)

	// ActiveListeners tracks listener loops currently running.
	ActiveListeners = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_listeners",
			Help:      "Current number of running listener loops",
		},
	)
)

// Endpoint metrics track the shared publish-side connections.
var (
	// EndpointConnections tracks cached publish-side clients.
	EndpointConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "endpoint_connections",
			Help:      "Current number of cached endpoint connections",
		},
	)

	// EndpointDialFailuresTotal counts failed connection attempts.
	EndpointDialFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "endpoint_dial_failures_total",
			Help:      "Total number of failed endpoint connection attempts",
		},
		[]string{"kind"}, // kind: shared, dedicated
	)
)

// Relay and archive metrics track the optional sinks.
var (
	// RelayForwardedTotal counts messages forwarded to or ingested from a queue.
	RelayForwardedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_messages_total",
			Help:      "Total number of messages moved by the relay",
		},
		[]string{"direction", "status"}, // direction: forward, ingest
	)

	// ArchiveOperationsTotal counts archive writes.
	ArchiveOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "archive_operations_total",
			Help:      "Total number of archive operations",
		},
		[]string{"store", "status"},
	)
)
