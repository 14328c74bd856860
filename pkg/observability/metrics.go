package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusMetricsClient implements MetricsClient backed by a prometheus
// registry. Collectors are created lazily per metric name and label set shape.
type PrometheusMetricsClient struct {
	namespace  string
	registry   *prometheus.Registry
	mu         sync.Mutex
	counters   map[string]*prometheus.CounterVec
	gauges     map[string]*prometheus.GaugeVec
	histograms map[string]*prometheus.HistogramVec
}

// NewMetricsClient creates a prometheus-backed metrics client with its own registry.
func NewMetricsClient(namespace string) *PrometheusMetricsClient {
	return &PrometheusMetricsClient{
		namespace:  namespace,
		registry:   prometheus.NewRegistry(),
		counters:   make(map[string]*prometheus.CounterVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
		histograms: make(map[string]*prometheus.HistogramVec),
	}
}

// Registry exposes the underlying registry for the /metrics handler.
func (c *PrometheusMetricsClient) Registry() *prometheus.Registry {
	return c.registry
}

func labelKeys(labels map[string]string) []string {
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	return keys
}

func (c *PrometheusMetricsClient) counter(name string, labels map[string]string) prometheus.Counter {
	c.mu.Lock()
	defer c.mu.Unlock()
	vec, ok := c.counters[name]
	if !ok {
		vec = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: c.namespace,
			Name:      name,
		}, labelKeys(labels))
		c.registry.MustRegister(vec)
		c.counters[name] = vec
	}
	return vec.With(labels)
}

func (c *PrometheusMetricsClient) gauge(name string, labels map[string]string) prometheus.Gauge {
	c.mu.Lock()
	defer c.mu.Unlock()
	vec, ok := c.gauges[name]
	if !ok {
		vec = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: c.namespace,
			Name:      name,
		}, labelKeys(labels))
		c.registry.MustRegister(vec)
		c.gauges[name] = vec
	}
	return vec.With(labels)
}

func (c *PrometheusMetricsClient) histogram(name string, labels map[string]string) prometheus.Observer {
	c.mu.Lock()
	defer c.mu.Unlock()
	vec, ok := c.histograms[name]
	if !ok {
		vec = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: c.namespace,
			Name:      name,
			Buckets:   prometheus.DefBuckets,
		}, labelKeys(labels))
		c.registry.MustRegister(vec)
		c.histograms[name] = vec
	}
	return vec.With(labels)
}

// IncrementCounter increments a counter without labels
func (c *PrometheusMetricsClient) IncrementCounter(name string, value float64) {
	c.counter(name, nil).Add(value)
}

// IncrementCounterWithLabels increments a labeled counter
func (c *PrometheusMetricsClient) IncrementCounterWithLabels(name string, value float64, labels map[string]string) {
	c.counter(name, labels).Add(value)
}

// RecordGauge sets a gauge value
func (c *PrometheusMetricsClient) RecordGauge(name string, value float64, labels map[string]string) {
	c.gauge(name, labels).Set(value)
}

// RecordHistogram records an observation
func (c *PrometheusMetricsClient) RecordHistogram(name string, value float64, labels map[string]string) {
	c.histogram(name, labels).Observe(value)
}

// RecordTimer records a duration in seconds
func (c *PrometheusMetricsClient) RecordTimer(name string, duration time.Duration, labels map[string]string) {
	c.histogram(name, labels).Observe(duration.Seconds())
}

// Close implements MetricsClient
func (c *PrometheusMetricsClient) Close() error { return nil }

// NoopMetricsClient discards all metrics. Used in tests.
type NoopMetricsClient struct{}

// NewNoopMetricsClient creates a NoopMetricsClient
func NewNoopMetricsClient() MetricsClient { return &NoopMetricsClient{} }

func (c *NoopMetricsClient) IncrementCounter(name string, value float64) {}
func (c *NoopMetricsClient) IncrementCounterWithLabels(name string, value float64, labels map[string]string) {
}
func (c *NoopMetricsClient) RecordGauge(name string, value float64, labels map[string]string)     {}
func (c *NoopMetricsClient) RecordHistogram(name string, value float64, labels map[string]string) {}
func (c *NoopMetricsClient) RecordTimer(name string, duration time.Duration, labels map[string]string) {
}
func (c *NoopMetricsClient) Close() error { return nil }
