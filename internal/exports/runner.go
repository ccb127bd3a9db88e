package exports

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/Benevox/rapidpro/internal/assets"
	"github.com/Benevox/rapidpro/internal/exporter"

	"go.opentelemetry.io/otel/trace"
)

// DefaultAnalyticsNamespace prefixes latency analytics keys
const DefaultAnalyticsNamespace = "temba"

var errNoOutput = errors.New("producer returned no output")

// Notifier tells the requesting user that an export has finished
type Notifier interface {
	ExportFinished(ctx context.Context, job *Job) error
}

// LatencyTracker records how long an export took for analytics
type LatencyTracker interface {
	TrackLatency(ctx context.Context, userID, key string, seconds float64) error
}

// AssetKey returns the key a job's output is stored under
func AssetKey(job *Job) assets.Key {
	return assets.Key{Type: job.AssetType, ID: job.ID, Extension: job.Extension}
}

// LatencyKey returns the analytics key latency is tracked under
func LatencyKey(namespace string, job *Job) string {
	return fmt.Sprintf("%s.%s_latency", namespace, job.AnalyticsKey)
}

// RunnerOption configures a Runner
type RunnerOption func(*Runner)

// WithNotifier sets the notifier told about completed exports
func WithNotifier(n Notifier) RunnerOption {
	return func(r *Runner) { r.notifier = n }
}

// WithLatencyTracker sets the analytics latency tracker
func WithLatencyTracker(t LatencyTracker) RunnerOption {
	return func(r *Runner) { r.latency = t }
}

// WithTimezones sets how organization timezones are resolved
func WithTimezones(tz Timezones) RunnerOption {
	return func(r *Runner) { r.timezones = tz }
}

// WithTracer sets the instrumentation of runs
func WithTracer(t *Tracer) RunnerOption {
	return func(r *Runner) { r.tracer = t }
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) RunnerOption {
	return func(r *Runner) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithLimits bounds the files producers write
func WithLimits(l Limits) RunnerOption {
	return func(r *Runner) { r.limits = l }
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) RunnerOption {
	return func(r *Runner) { r.now = now }
}

// WithAnalyticsNamespace sets the prefix of latency keys
func WithAnalyticsNamespace(ns string) RunnerOption {
	return func(r *Runner) {
		if ns != "" {
			r.namespace = ns
		}
	}
}

// WithFreeOSMemory returns freed heap to the OS after each run
func WithFreeOSMemory(enabled bool) RunnerOption {
	return func(r *Runner) { r.freeOSMemory = enabled }
}

// Runner drives export jobs from Pending to Complete or Failed
type Runner struct {
	store        JobStore
	registry     *Registry
	assets       assets.Store
	notifier     Notifier
	latency      LatencyTracker
	timezones    Timezones
	tracer       *Tracer
	logger       *slog.Logger
	limits       Limits
	now          func() time.Time
	namespace    string
	freeOSMemory bool
}

// NewRunner creates a runner storing outputs in assetStore
func NewRunner(store JobStore, registry *Registry, assetStore assets.Store, opts ...RunnerOption) *Runner {
	r := &Runner{
		store:     store,
		registry:  registry,
		assets:    assetStore,
		logger:    slog.Default(),
		now:       time.Now,
		namespace: DefaultAnalyticsNamespace,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.tracer == nil {
		r.tracer = NewTracer(nil)
	}
	r.logger = r.logger.With(slog.String("component", "export_runner"))
	return r
}

// Run executes job. The stored job must be Pending; job is refreshed from
// the store first, so a stale copy cannot run a finished export again.
// Once started a run is not cancelled by ctx; every failure leaves the job
// Failed and persisted, and is returned as an *ExportError.
func (r *Runner) Run(ctx context.Context, job *Job) error {
	ctx = context.WithoutCancel(ctx)
	log := r.logger.With(
		slog.String("export_id", job.ID),
		slog.String("kind", job.Kind),
		slog.String("org_id", job.OrgID),
	)

	stored, err := r.store.GetJob(ctx, job.ID)
	if err != nil {
		errType := ErrorTypePersistence
		if errors.Is(err, ErrJobNotFound) {
			errType = ErrorTypeNotFound
		}
		return &ExportError{Type: errType, JobID: job.ID, Message: "failed to load export", Cause: err}
	}
	*job = *stored

	if !CanTransition(job.Status, StatusProcessing) {
		return notRunnable(job)
	}

	ctx, span := r.tracer.StartRun(ctx, job)
	defer r.release()

	start := r.now()
	if err := job.Transition(StatusProcessing, start); err != nil {
		r.tracer.RecordFailure(ctx, span, job, err)
		return err
	}
	if err := r.store.TransitionJob(ctx, job, StatusPending); err != nil {
		if errors.Is(err, ErrInvalidTransition) {
			// another runner got there first
			exportErr := r.refresh(ctx, job, log)
			r.tracer.RecordFailure(ctx, span, job, exportErr)
			return exportErr
		}
		job.Status, job.StartedOn = StatusPending, nil
		return r.fail(ctx, span, job, log, ErrorTypePersistence, "failed to mark export as processing", err)
	}
	log.InfoContext(ctx, "export started")

	rows, exportErr := r.produce(ctx, job, log)
	if exportErr != nil {
		return r.fail(ctx, span, job, log, exportErr.Type, exportErr.Message, exportErr.Cause)
	}

	// only a persisted completion is visible on the job
	end := r.now()
	done := job.Clone()
	if err := done.Transition(StatusComplete, end); err != nil {
		return r.fail(ctx, span, job, log, ErrorTypeInvalidState, "failed to complete export", err)
	}
	done.ElapsedSeconds = end.Sub(start).Seconds()
	if err := r.store.TransitionJob(ctx, done, StatusProcessing); err != nil {
		if errors.Is(err, ErrInvalidTransition) {
			// failed elsewhere while running, e.g. by recovery in another process
			exportErr := r.refresh(ctx, job, log)
			r.tracer.RecordFailure(ctx, span, job, exportErr)
			return exportErr
		}
		return r.fail(ctx, span, job, log, ErrorTypePersistence, "failed to mark export as complete", err)
	}
	*job = *done

	log.InfoContext(ctx, "export complete",
		slog.Int64("rows", rows),
		slog.String("extension", job.Extension),
		slog.Float64("elapsed_seconds", job.ElapsedSeconds))
	r.tracer.RecordCompletion(ctx, span, job, rows, end.Sub(start))

	r.finished(ctx, job, log)
	return nil
}

// produce runs the producer of the job's kind and hands its output to the
// asset store. The temporary output is released on every path.
func (r *Runner) produce(ctx context.Context, job *Job, log *slog.Logger) (int64, *ExportError) {
	producer, err := r.registry.Get(job.Kind)
	if err != nil {
		return 0, &ExportError{Type: ErrorTypeProduction, JobID: job.ID, Message: "no producer for export", Cause: err}
	}

	session := &Session{
		Job:      job.Clone(),
		Location: r.location(ctx, job, log),
		Logger:   log,
		Limits:   r.limits,
		onSheet: func(index int, name string) {
			r.tracer.RecordSheet(ctx, job, index, name)
		},
	}
	defer session.close()

	out, err := safeProduce(ctx, producer, session)
	if out != nil {
		defer out.Close()
	}
	if err == nil && out == nil {
		err = errNoOutput
	}
	if err != nil {
		errType := ErrorTypeProduction
		if errors.Is(err, errProducerPanic) {
			errType = ErrorTypePanic
		}
		return 0, &ExportError{Type: errType, JobID: job.ID, Message: "failed to produce export", Cause: err}
	}

	job.Extension = out.Extension
	if err := r.assets.Save(ctx, AssetKey(job), out); err != nil {
		return 0, &ExportError{Type: ErrorTypeStorage, JobID: job.ID, Message: "failed to store export", Cause: err}
	}
	r.tracer.RecordAssetSaved(ctx, job, out.Size())

	if err := out.Close(); err != nil {
		log.WarnContext(ctx, "failed to remove temporary export file", slog.String("error", err.Error()))
	}
	return session.Rows(), nil
}

var errProducerPanic = errors.New("producer panicked")

func safeProduce(ctx context.Context, p Producer, s *Session) (out *exporter.Output, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			out = nil
			err = fmt.Errorf("%w: %v", errProducerPanic, rec)
		}
	}()
	return p.Produce(ctx, s)
}

func (r *Runner) location(ctx context.Context, job *Job, log *slog.Logger) *time.Location {
	if r.timezones == nil {
		return time.UTC
	}
	loc, err := r.timezones.Location(ctx, job.OrgID)
	if err != nil || loc == nil {
		log.WarnContext(ctx, "failed to resolve org timezone, using UTC", slog.Any("error", err))
		return time.UTC
	}
	return loc
}

// fail moves the job to Failed, persists it and returns the error
func (r *Runner) fail(ctx context.Context, span trace.Span, job *Job, log *slog.Logger, errType ErrorType, message string, cause error) error {
	exportErr := &ExportError{Type: errType, JobID: job.ID, Message: message, Cause: cause}

	now := r.now()
	from := job.Status
	job.Error = exportErr.Error()
	if job.StartedOn != nil {
		job.ElapsedSeconds = now.Sub(*job.StartedOn).Seconds()
	}
	if err := job.Transition(StatusFailed, now); err == nil {
		if err := r.store.TransitionJob(ctx, job, from); err != nil {
			log.ErrorContext(ctx, "failed to persist export failure", slog.String("error", err.Error()))
		}
	}

	log.ErrorContext(ctx, "export failed",
		slog.String("error_type", string(errType)),
		slog.String("error", exportErr.Error()))
	r.tracer.RecordFailure(ctx, span, job, exportErr)
	return exportErr
}

// MarkFailed fails a job outside of a run, e.g. one interrupted by a
// restart or one the queue could not accept. Terminal jobs are left as is.
func (r *Runner) MarkFailed(ctx context.Context, job *Job, errType ErrorType, message string) error {
	if job.IsTerminal() {
		return nil
	}
	exportErr := &ExportError{Type: errType, JobID: job.ID, Message: message}
	from := job.Status
	job.Error = exportErr.Error()
	if err := job.Transition(StatusFailed, r.now()); err != nil {
		return err
	}
	if err := r.store.TransitionJob(context.WithoutCancel(ctx), job, from); err != nil {
		if errors.Is(err, ErrInvalidTransition) {
			return &ExportError{Type: ErrorTypeInvalidState, JobID: job.ID, Message: "export changed before it could be failed", Cause: err}
		}
		return &ExportError{Type: ErrorTypePersistence, JobID: job.ID, Message: "failed to mark export as failed", Cause: err}
	}
	r.logger.WarnContext(ctx, "export marked failed",
		slog.String("export_id", job.ID),
		slog.String("error_type", string(errType)),
		slog.String("reason", message))
	return nil
}

// refresh replaces job with its stored state after a lost transition and
// returns the error reported for the run
func (r *Runner) refresh(ctx context.Context, job *Job, log *slog.Logger) error {
	if stored, err := r.store.GetJob(ctx, job.ID); err == nil {
		*job = *stored
	}
	log.WarnContext(ctx, "export changed by another runner", slog.String("status", string(job.Status)))
	return notRunnable(job)
}

func notRunnable(job *Job) *ExportError {
	return &ExportError{
		Type:    ErrorTypeInvalidState,
		JobID:   job.ID,
		Message: fmt.Sprintf("cannot run a %s export", job.Status),
		Cause:   ErrInvalidTransition,
	}
}

// finished sends the completion signals. Their failures are logged only.
func (r *Runner) finished(ctx context.Context, job *Job, log *slog.Logger) {
	if r.notifier != nil {
		if err := r.notifier.ExportFinished(ctx, job.Clone()); err != nil {
			log.WarnContext(ctx, "failed to notify export finished", slog.String("error", err.Error()))
		}
	}
	if r.latency != nil {
		key := LatencyKey(r.namespace, job)
		if err := r.latency.TrackLatency(ctx, job.CreatedBy, key, job.ElapsedSeconds); err != nil {
			log.WarnContext(ctx, "failed to track export latency",
				slog.String("key", key),
				slog.String("error", err.Error()))
		}
	}
}

func (r *Runner) release() {
	if r.freeOSMemory {
		debug.FreeOSMemory()
	}
}
