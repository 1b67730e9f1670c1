package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsConfig configures the Prometheus metrics.
type MetricsConfig struct {
	// Namespace is the metrics namespace (default: "parley").
	Namespace string

	// Subsystem is the metrics subsystem (default: "").
	Subsystem string

	// ConstLabels are constant labels added to all metrics.
	ConstLabels prometheus.Labels

	// Buckets are the histogram buckets for broadcast duration.
	// Default: prometheus.DefBuckets
	Buckets []float64

	// Registry is the Prometheus registry to use.
	// Default: prometheus.DefaultRegisterer
	Registry prometheus.Registerer
}

// MetricsOption configures the Prometheus metrics.
type MetricsOption func(*MetricsConfig)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Namespace = namespace
	}
}

// WithSubsystem sets the metrics subsystem.
func WithSubsystem(subsystem string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Subsystem = subsystem
	}
}

// WithConstLabels sets constant labels for all metrics.
func WithConstLabels(labels prometheus.Labels) MetricsOption {
	return func(c *MetricsConfig) {
		c.ConstLabels = labels
	}
}

// WithBuckets sets the histogram buckets.
func WithBuckets(buckets []float64) MetricsOption {
	return func(c *MetricsConfig) {
		c.Buckets = buckets
	}
}

// WithRegistry sets the Prometheus registry.
func WithRegistry(registry prometheus.Registerer) MetricsOption {
	return func(c *MetricsConfig) {
		c.Registry = registry
	}
}

// defaultMetricsConfig returns the default metrics configuration.
func defaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Namespace:   "parley",
		Subsystem:   "",
		ConstLabels: nil,
		Buckets:     prometheus.DefBuckets,
		Registry:    prometheus.DefaultRegisterer,
	}
}

// Metrics holds the Prometheus collectors for the relay.
//
// Metrics collected:
//   - parley_active_connections: Gauge of currently registered clients
//   - parley_connections_total: Counter of clients admitted since start
//   - parley_messages_total: Counter of broadcast messages by kind
//   - parley_delivery_failures_total: Counter of per-recipient delivery failures by reason
//   - parley_handshake_failures_total: Counter of rejected handshakes by status
//   - parley_broadcast_duration_seconds: Histogram of broadcast fan-out duration
//
// All record methods are safe on a nil receiver so the relay can run
// without metrics wired in (tests, embedded use).
type Metrics struct {
	activeConnections prometheus.Gauge
	connectionsTotal  prometheus.Counter
	messagesTotal     *prometheus.CounterVec
	deliveryFailures  *prometheus.CounterVec
	handshakeFailures *prometheus.CounterVec
	broadcastDuration prometheus.Histogram
}

// NewMetrics creates and registers the relay collectors.
func NewMetrics(opts ...MetricsOption) *Metrics {
	config := defaultMetricsConfig()
	for _, opt := range opts {
		opt(&config)
	}

	factory := promauto.With(config.Registry)

	return &Metrics{
		activeConnections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "active_connections",
			Help:        "Number of currently registered clients",
			ConstLabels: config.ConstLabels,
		}),

		connectionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "connections_total",
			Help:        "Total number of clients admitted since start",
			ConstLabels: config.ConstLabels,
		}),

		messagesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "messages_total",
			Help:        "Total broadcast messages by kind",
			ConstLabels: config.ConstLabels,
		}, []string{"kind"}),

		deliveryFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "delivery_failures_total",
			Help:        "Per-recipient delivery failures by reason",
			ConstLabels: config.ConstLabels,
		}, []string{"reason"}),

		handshakeFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "handshake_failures_total",
			Help:        "Rejected handshakes by status",
			ConstLabels: config.ConstLabels,
		}, []string{"status"}),

		broadcastDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "broadcast_duration_seconds",
			Help:        "Broadcast fan-out duration in seconds",
			ConstLabels: config.ConstLabels,
			Buckets:     config.Buckets,
		}),
	}
}

// RecordConnect records a client admission.
func (m *Metrics) RecordConnect() {
	if m == nil {
		return
	}
	m.activeConnections.Inc()
	m.connectionsTotal.Inc()
}

// RecordDisconnect records a client departure.
func (m *Metrics) RecordDisconnect() {
	if m == nil {
		return
	}
	m.activeConnections.Dec()
}

// RecordMessage records one broadcast message of the given kind.
func (m *Metrics) RecordMessage(kind string) {
	if m == nil {
		return
	}
	m.messagesTotal.WithLabelValues(kind).Inc()
}

// RecordDeliveryFailure records a per-recipient delivery failure.
// Reasons are a small fixed set (queue_full, closed) to keep label
// cardinality low.
func (m *Metrics) RecordDeliveryFailure(reason string) {
	if m == nil {
		return
	}
	m.deliveryFailures.WithLabelValues(reason).Inc()
}

// RecordHandshakeFailure records a rejected handshake by status name.
func (m *Metrics) RecordHandshakeFailure(status string) {
	if m == nil {
		return
	}
	m.handshakeFailures.WithLabelValues(status).Inc()
}

// ObserveBroadcast records the duration of one broadcast fan-out.
func (m *Metrics) ObserveBroadcast(d time.Duration) {
	if m == nil {
		return
	}
	m.broadcastDuration.Observe(d.Seconds())
}
