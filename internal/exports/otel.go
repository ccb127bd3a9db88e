package exports

import (
	"context"
	"fmt"
	"time"

	"github.com/Benevox/rapidpro/internal/infrastructure"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	TracerName = "rapidpro.exports"
)

// Tracer provides OpenTelemetry instrumentation for export runs. A Tracer
// built with nil metrics only records spans.
type Tracer struct {
	tracer  trace.Tracer
	metrics *infrastructure.ExportMetrics
}

// NewTracer creates a tracer recording into metrics
func NewTracer(metrics *infrastructure.ExportMetrics) *Tracer {
	return &Tracer{
		tracer:  otel.Tracer(TracerName),
		metrics: metrics,
	}
}

// StartRun creates the span covering a whole job run
func (t *Tracer) StartRun(ctx context.Context, job *Job) (context.Context, trace.Span) {
	ctx, span := t.tracer.Start(ctx, fmt.Sprintf("export.run.%s", job.Kind),
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("export.id", job.ID),
			attribute.String("export.kind", job.Kind),
			attribute.String("export.org_id", job.OrgID),
		),
	)

	if t.metrics != nil {
		t.metrics.ActiveJobs.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", job.Kind)))
	}
	return ctx, span
}

// RecordSheet records that a table opened a new physical sheet
func (t *Tracer) RecordSheet(ctx context.Context, job *Job, index int, name string) {
	span := trace.SpanFromContext(ctx)
	span.AddEvent("sheet.opened", trace.WithAttributes(
		attribute.Int("sheet.index", index),
		attribute.String("sheet.name", name),
	))

	if t.metrics != nil {
		t.metrics.SheetsCreated.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", job.Kind)))
	}
}

// RecordAssetSaved records the handoff of the output to the asset store
func (t *Tracer) RecordAssetSaved(ctx context.Context, job *Job, size int64) {
	span := trace.SpanFromContext(ctx)
	span.AddEvent("asset.saved", trace.WithAttributes(
		attribute.String("asset.extension", job.Extension),
		attribute.Int64("asset.size_bytes", size),
	))

	if t.metrics != nil && size > 0 {
		t.metrics.BytesStored.Add(ctx, size, metric.WithAttributes(attribute.String("kind", job.Kind)))
	}
}

// RecordCompletion ends a successful run
func (t *Tracer) RecordCompletion(ctx context.Context, span trace.Span, job *Job, rows int64, duration time.Duration) {
	span.SetAttributes(
		attribute.String("export.status", string(job.Status)),
		attribute.Int64("export.rows", rows),
		attribute.Float64("export.duration_seconds", duration.Seconds()),
	)
	span.SetStatus(codes.Ok, "export complete")

	if t.metrics != nil {
		attrs := metric.WithAttributes(
			attribute.String("status", string(StatusComplete)),
			attribute.String("kind", job.Kind),
		)
		t.metrics.JobsTotal.Add(ctx, 1, attrs)
		t.metrics.JobDuration.Record(ctx, duration.Seconds(), attrs)
		if rows > 0 {
			t.metrics.RowsWritten.Add(ctx, rows, metric.WithAttributes(attribute.String("kind", job.Kind)))
		}
		t.metrics.ActiveJobs.Add(ctx, -1, metric.WithAttributes(attribute.String("kind", job.Kind)))
	}
	span.End()
}

// RecordFailure ends a failed run
func (t *Tracer) RecordFailure(ctx context.Context, span trace.Span, job *Job, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	span.SetAttributes(
		attribute.String("export.status", string(StatusFailed)),
		attribute.String("export.error_type", string(GetErrorType(err))),
	)

	if t.metrics != nil {
		t.metrics.JobsTotal.Add(ctx, 1, metric.WithAttributes(
			attribute.String("status", string(StatusFailed)),
			attribute.String("kind", job.Kind),
		))
		t.metrics.ActiveJobs.Add(ctx, -1, metric.WithAttributes(attribute.String("kind", job.Kind)))
	}
	span.End()
}
