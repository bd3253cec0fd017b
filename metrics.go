package zk

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/QuangTung97/zksession/proto"
)

// MetricsConfig configures the Prometheus metrics of a ConnectionManager.
type MetricsConfig struct {
	// Namespace is the metrics namespace (default: "zk").
	Namespace string

	// Subsystem is the metrics subsystem (default: "client").
	Subsystem string

	// ConstLabels are constant labels added to all metrics.
	ConstLabels prometheus.Labels

	// Buckets are the histogram buckets for request latency.
	// Default: prometheus.DefBuckets
	Buckets []float64

	// Registry is the Prometheus registry to use. Metrics are disabled
	// when it is nil.
	Registry prometheus.Registerer
}

// MetricsOption configures the Prometheus metrics.
type MetricsOption func(*MetricsConfig)

// WithMetricsNamespace sets the metrics namespace.
func WithMetricsNamespace(namespace string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Namespace = namespace
	}
}

// WithMetricsConstLabels sets constant labels for all metrics.
func WithMetricsConstLabels(labels prometheus.Labels) MetricsOption {
	return func(c *MetricsConfig) {
		c.ConstLabels = labels
	}
}

// WithMetricsBuckets sets the latency histogram buckets.
func WithMetricsBuckets(buckets []float64) MetricsOption {
	return func(c *MetricsConfig) {
		c.Buckets = buckets
	}
}

func defaultMetricsConfig(registry prometheus.Registerer) MetricsConfig {
	return MetricsConfig{
		Namespace: "zk",
		Subsystem: "client",
		Buckets:   prometheus.DefBuckets,
		Registry:  registry,
	}
}

// connMetrics is nil when metrics are disabled, every method is nil safe.
type connMetrics struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	pendingRequests prometheus.Gauge
	reconnectsTotal prometheus.Counter
	state           prometheus.Gauge
	watchEvents     *prometheus.CounterVec
	protocolErrors  prometheus.Counter
}

func newConnMetrics(config MetricsConfig) *connMetrics {
	if config.Registry == nil {
		return nil
	}
	factory := promauto.With(config.Registry)

	return &connMetrics{
		requestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "requests_total",
			Help:        "Total number of completed requests by op and result code",
			ConstLabels: config.ConstLabels,
		}, []string{"op", "code"}),

		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "request_duration_seconds",
			Help:        "Time from queueing a request to its completion",
			ConstLabels: config.ConstLabels,
			Buckets:     config.Buckets,
		}, []string{"op"}),

		pendingRequests: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "pending_requests",
			Help:        "Requests written to the server and awaiting a reply",
			ConstLabels: config.ConstLabels,
		}),

		reconnectsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "connection_attempts_total",
			Help:        "Total number of connection attempts to ensemble members",
			ConstLabels: config.ConstLabels,
		}),

		state: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "state",
			Help:        "Current connection state code",
			ConstLabels: config.ConstLabels,
		}),

		watchEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "watch_events_total",
			Help:        "Total number of watcher notifications received",
			ConstLabels: config.ConstLabels,
		}, []string{"type"}),

		protocolErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "protocol_errors_total",
			Help:        "Total number of connections torn down by protocol errors",
			ConstLabels: config.ConstLabels,
		}),
	}
}

func (m *connMetrics) observeRequest(op proto.OpCode, err error, start time.Time) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(op.String(), CodeOf(err).String()).Inc()
	m.requestDuration.WithLabelValues(op.String()).Observe(time.Since(start).Seconds())
}

func (m *connMetrics) setPending(n int) {
	if m == nil {
		return
	}
	m.pendingRequests.Set(float64(n))
}

func (m *connMetrics) connectAttempt() {
	if m == nil {
		return
	}
	m.reconnectsTotal.Inc()
}

func (m *connMetrics) setState(s State) {
	if m == nil {
		return
	}
	m.state.Set(float64(s))
}

func (m *connMetrics) watchEvent(t EventType) {
	if m == nil {
		return
	}
	m.watchEvents.WithLabelValues(t.String()).Inc()
}

func (m *connMetrics) protocolError() {
	if m == nil {
		return
	}
	m.protocolErrors.Inc()
}
