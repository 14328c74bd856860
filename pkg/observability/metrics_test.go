package observability

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusCounter(t *testing.T) {
	client := NewMetricsClient("cartoworks")
	client.IncrementCounter("operations_total", 1)
	client.IncrementCounter("operations_total", 2)

	families, err := client.Registry().Gather()
	require.NoError(t, err)
	require.Len(t, families, 1)
	assert.Equal(t, "cartoworks_operations_total", families[0].GetName())
	assert.Equal(t, float64(3), families[0].GetMetric()[0].GetCounter().GetValue())
}

func TestPrometheusLabeledMetrics(t *testing.T) {
	client := NewMetricsClient("cartoworks")
	client.IncrementCounterWithLabels("broadcasts_total", 1, map[string]string{"event": "map.updated"})
	client.RecordGauge("sessions_active", 4, nil)
	client.RecordTimer("submit_duration", 20*time.Millisecond, map[string]string{"outcome": "accepted"})

	families, err := client.Registry().Gather()
	require.NoError(t, err)
	assert.Len(t, families, 3)
}

func TestNoopMetricsClient(t *testing.T) {
	client := NewNoopMetricsClient()
	client.IncrementCounter("anything", 1)
	client.RecordGauge("anything", 1, nil)
	assert.NoError(t, client.Close())
}
