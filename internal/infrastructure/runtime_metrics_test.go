package infrastructure

import (
	"context"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestRuntimeMetricsCollect(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer provider.Shutdown(context.Background())

	m, err := NewRuntimeMetrics(provider.Meter("test"), 0)
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, m.interval)

	runtime.GC()
	stats := m.Collect(context.Background())
	assert.Positive(t, stats.Goroutines)
	assert.Positive(t, stats.SystemBytes)
	assert.GreaterOrEqual(t, stats.GCCount, uint32(1))

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	names := map[string]bool{}
	for _, sm := range rm.ScopeMetrics {
		for _, metric := range sm.Metrics {
			names[metric.Name] = true
		}
	}
	for _, name := range []string{"process_goroutines", "process_heap_in_use_bytes", "process_gc_pause_seconds", "process_uptime_seconds"} {
		assert.True(t, names[name], name)
	}
}

func TestRuntimeMetricsRunStops(t *testing.T) {
	provider := sdkmetric.NewMeterProvider()
	defer provider.Shutdown(context.Background())

	m, err := NewRuntimeMetrics(provider.Meter("test"), 10*time.Millisecond)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()
	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestCurrentRuntimeStats(t *testing.T) {
	stats := CurrentRuntimeStats(time.Now().Add(-time.Minute))
	assert.GreaterOrEqual(t, stats.UptimeSeconds, 60.0)
	assert.Positive(t, stats.Goroutines)
}
