package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := InitMetrics(mp)
	require.NoError(t, err)
	return m, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := make(map[string]metricdata.Metrics)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func sumOf(t *testing.T, m metricdata.Metrics) int64 {
	t.Helper()
	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok, "metric %s is not an int64 sum", m.Name)
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	return total
}

func TestRealtimeMetrics(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.ConnectionOpened(ctx)
	m.ConnectionOpened(ctx)
	m.ConnectionClosed(ctx)
	m.SubscriptionAdded(ctx, "document")
	m.SubscriptionAdded(ctx, "collection")
	m.SubscriptionRemoved(ctx, "document")
	m.RecordEvent(ctx, "collection", "added")
	m.RecordEvent(ctx, "collection", "modified")
	m.RecordPoll(ctx, "collection", 3*time.Millisecond, nil)
	m.RecordPoll(ctx, "collection", time.Millisecond, errors.New("store down"))

	got := collect(t, reader)

	assert.Equal(t, int64(1), sumOf(t, got["realtime.connections"]))
	assert.Equal(t, int64(1), sumOf(t, got["realtime.subscriptions"]))
	assert.Equal(t, int64(2), sumOf(t, got["realtime.events"]))
	assert.Equal(t, int64(1), sumOf(t, got["realtime.poll.errors"]))

	hist, ok := got["realtime.poll.duration"].Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	require.Len(t, hist.DataPoints, 1)
	assert.Equal(t, uint64(2), hist.DataPoints[0].Count)
	assert.InDelta(t, 4.0, hist.DataPoints[0].Sum, 0.001)
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	ctx := context.Background()

	assert.NotPanics(t, func() {
		m.ConnectionOpened(ctx)
		m.ConnectionClosed(ctx)
		m.SubscriptionAdded(ctx, "document")
		m.SubscriptionRemoved(ctx, "document")
		m.RecordPoll(ctx, "document", time.Millisecond, nil)
		m.RecordEvent(ctx, "document", "modified")
	})
}
