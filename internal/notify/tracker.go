package notify

import (
	"context"
	"errors"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/Benevox/rapidpro/internal/exports"
)

// Trackers fans a latency event out to every tracker
type Trackers []exports.LatencyTracker

// TrackLatency implements exports.LatencyTracker
func (t Trackers) TrackLatency(ctx context.Context, userID, key string, seconds float64) error {
	var errs []error
	for _, tracker := range t {
		if err := tracker.TrackLatency(ctx, userID, key, seconds); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// MetricsTracker records export latency on a histogram labelled by key.
// User ids are not recorded.
type MetricsTracker struct {
	histogram metric.Float64Histogram
}

// NewMetricsTracker creates a tracker recording on histogram
func NewMetricsTracker(histogram metric.Float64Histogram) *MetricsTracker {
	return &MetricsTracker{histogram: histogram}
}

// TrackLatency implements exports.LatencyTracker
func (t *MetricsTracker) TrackLatency(ctx context.Context, _ string, key string, seconds float64) error {
	t.histogram.Record(ctx, seconds, metric.WithAttributes(attribute.String("key", key)))
	return nil
}

// LogTracker writes latency events to the log, one line per event
type LogTracker struct {
	logger *slog.Logger
}

// NewLogTracker creates a log tracker
func NewLogTracker(logger *slog.Logger) *LogTracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogTracker{logger: logger.With(slog.String("component", "analytics"))}
}

// TrackLatency implements exports.LatencyTracker
func (t *LogTracker) TrackLatency(ctx context.Context, userID, key string, seconds float64) error {
	t.logger.InfoContext(ctx, "latency",
		slog.String("key", key),
		slog.String("user_id", userID),
		slog.Float64("seconds", seconds))
	return nil
}
