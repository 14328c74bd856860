package websocket

import (
	"sync/atomic"
	"time"

	"github.com/cartoworks/cartoworks/pkg/observability"
)

// MetricsCollector aggregates transport-level metrics for the websocket
// server on top of the shared metrics client.
type MetricsCollector struct {
	client observability.MetricsClient
	active atomic.Int64
}

// NewMetricsCollector creates a collector. A nil client records nothing.
func NewMetricsCollector(client observability.MetricsClient) *MetricsCollector {
	if client == nil {
		client = observability.NewNoopMetricsClient()
	}
	return &MetricsCollector{client: client}
}

// RecordConnectionOpened tracks a new client connection.
func (m *MetricsCollector) RecordConnectionOpened() {
	m.client.IncrementCounter("ws_connections_total", 1)
	m.client.RecordGauge("ws_connections_active", float64(m.active.Add(1)), nil)
}

// RecordConnectionClosed tracks a closed client connection.
func (m *MetricsCollector) RecordConnectionClosed(lifetime time.Duration) {
	m.client.RecordGauge("ws_connections_active", float64(m.active.Add(-1)), nil)
	m.client.RecordTimer("ws_connection_lifetime", lifetime, nil)
}

// RecordMessage tracks one processed message and its handling latency.
func (m *MetricsCollector) RecordMessage(direction, method string, latency time.Duration) {
	m.client.IncrementCounterWithLabels("ws_messages_total", 1, map[string]string{
		"direction": direction,
		"method":    method,
	})
	if latency > 0 {
		m.client.RecordHistogram("ws_message_latency_seconds", latency.Seconds(), map[string]string{
			"method": method,
		})
	}
}

// RecordError tracks a transport error by kind.
func (m *MetricsCollector) RecordError(kind string) {
	m.client.IncrementCounterWithLabels("ws_errors_total", 1, map[string]string{"kind": kind})
}

// RecordDroppedBroadcast tracks a notification discarded because a client's
// outbound queue was full.
func (m *MetricsCollector) RecordDroppedBroadcast() {
	m.client.IncrementCounter("ws_broadcasts_dropped_total", 1)
}

// ActiveConnections returns the current connection count as seen by metrics.
func (m *MetricsCollector) ActiveConnections() int64 {
	return m.active.Load()
}
