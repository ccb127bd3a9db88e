package infrastructure

import (
	"context"
	"errors"
	"runtime"
	"time"

	"go.opentelemetry.io/otel/metric"
)

// RuntimeStats is a snapshot of the process, reported by the health
// endpoint. Large exports hold big buffers, so heap figures matter here.
type RuntimeStats struct {
	Goroutines    int64   `json:"goroutines"`
	HeapInUse     int64   `json:"heap_in_use_bytes"`
	HeapReleased  int64   `json:"heap_released_bytes"`
	SystemBytes   int64   `json:"system_bytes"`
	GCCount       uint32  `json:"gc_count"`
	LastGCPauseMS int64   `json:"last_gc_pause_ms"`
	UptimeSeconds float64 `json:"uptime_seconds"`
}

// RuntimeMetrics records process gauges on an OpenTelemetry meter
type RuntimeMetrics struct {
	goroutines   metric.Int64Gauge
	heapInUse    metric.Int64Gauge
	heapReleased metric.Int64Gauge
	systemBytes  metric.Int64Gauge
	gcPause      metric.Float64Histogram
	uptime       metric.Float64Gauge

	startTime time.Time
	interval  time.Duration
	lastGC    uint32
}

// NewRuntimeMetrics creates the instruments; interval is the period of Run
func NewRuntimeMetrics(meter metric.Meter, interval time.Duration) (*RuntimeMetrics, error) {
	var (
		m    = RuntimeMetrics{startTime: time.Now(), interval: interval}
		errs []error
		err  error
	)

	m.goroutines, err = meter.Int64Gauge("process_goroutines",
		metric.WithDescription("Number of active goroutines"))
	errs = append(errs, err)

	m.heapInUse, err = meter.Int64Gauge("process_heap_in_use_bytes",
		metric.WithDescription("Heap bytes in use"), metric.WithUnit("By"))
	errs = append(errs, err)

	m.heapReleased, err = meter.Int64Gauge("process_heap_released_bytes",
		metric.WithDescription("Heap bytes returned to the OS"), metric.WithUnit("By"))
	errs = append(errs, err)

	m.systemBytes, err = meter.Int64Gauge("process_system_bytes",
		metric.WithDescription("Memory obtained from the OS"), metric.WithUnit("By"))
	errs = append(errs, err)

	m.gcPause, err = meter.Float64Histogram("process_gc_pause_seconds",
		metric.WithDescription("Garbage collection pause duration"), metric.WithUnit("s"))
	errs = append(errs, err)

	m.uptime, err = meter.Float64Gauge("process_uptime_seconds",
		metric.WithDescription("Process uptime in seconds"), metric.WithUnit("s"))
	errs = append(errs, err)

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	if m.interval <= 0 {
		m.interval = 30 * time.Second
	}
	return &m, nil
}

// Collect reads the runtime statistics and records them
func (m *RuntimeMetrics) Collect(ctx context.Context) RuntimeStats {
	stats, mem := readRuntimeStats(m.startTime)

	m.goroutines.Record(ctx, stats.Goroutines)
	m.heapInUse.Record(ctx, stats.HeapInUse)
	m.heapReleased.Record(ctx, stats.HeapReleased)
	m.systemBytes.Record(ctx, stats.SystemBytes)
	m.uptime.Record(ctx, stats.UptimeSeconds)

	// pauses since the previous collection, bounded by the ring size
	from := m.lastGC
	if mem.NumGC-from > uint32(len(mem.PauseNs)) {
		from = mem.NumGC - uint32(len(mem.PauseNs))
	}
	for gc := from; gc < mem.NumGC; gc++ {
		pause := mem.PauseNs[gc%uint32(len(mem.PauseNs))]
		m.gcPause.Record(ctx, time.Duration(pause).Seconds())
	}
	m.lastGC = mem.NumGC

	return stats
}

// Run collects every interval until ctx is done
func (m *RuntimeMetrics) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.Collect(ctx)
	for {
		select {
		case <-ticker.C:
			m.Collect(ctx)
		case <-ctx.Done():
			return nil
		}
	}
}

// CurrentRuntimeStats reads the runtime statistics without recording them
func CurrentRuntimeStats(startTime time.Time) RuntimeStats {
	stats, _ := readRuntimeStats(startTime)
	return stats
}

func readRuntimeStats(startTime time.Time) (RuntimeStats, *runtime.MemStats) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	stats := RuntimeStats{
		Goroutines:    int64(runtime.NumGoroutine()),
		HeapInUse:     int64(mem.HeapInuse),
		HeapReleased:  int64(mem.HeapReleased),
		SystemBytes:   int64(mem.Sys),
		GCCount:       mem.NumGC,
		UptimeSeconds: time.Since(startTime).Seconds(),
	}
	if mem.NumGC > 0 {
		stats.LastGCPauseMS = time.Duration(mem.PauseNs[(mem.NumGC+255)%256]).Milliseconds()
	}
	return stats, &mem
}
