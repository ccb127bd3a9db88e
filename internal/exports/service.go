package exports

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/Benevox/rapidpro/internal/assets"
)

// Enqueuer schedules persisted Pending jobs
type Enqueuer interface {
	Enqueue(ctx context.Context, job *Job) error
}

// Request asks for a new export
type Request struct {
	OrgID     string
	Kind      string
	CreatedBy string
	Params    map[string]string
}

// Result of requesting an export. Reused is set when an unfinished export
// of the same organization and kind was returned instead of a new one.
type Result struct {
	Job    *Job
	Reused bool
}

// Service is the entry point for requesting exports and reading back
// their status and output
type Service struct {
	store    JobStore
	registry *Registry
	guard    *Guard
	queue    Enqueuer
	assets   assets.Store
	logger   *slog.Logger
	now      func() time.Time
}

// NewService creates a service. A nil guard disables reuse of unfinished
// exports.
func NewService(store JobStore, registry *Registry, guard *Guard, queue Enqueuer, assetStore assets.Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:    store,
		registry: registry,
		guard:    guard,
		queue:    queue,
		assets:   assetStore,
		logger:   logger.With(slog.String("component", "export_service")),
		now:      time.Now,
	}
}

// Request returns the organization's unfinished export of the same kind
// when the guard finds one, and otherwise creates and enqueues a new job.
func (s *Service) Request(ctx context.Context, req Request) (*Result, error) {
	if req.OrgID == "" {
		return nil, NewValidationError("org id is required")
	}
	producer, err := s.registry.Get(req.Kind)
	if err != nil {
		return nil, &ExportError{Type: ErrorTypeValidation, Message: fmt.Sprintf("unsupported export kind %q", req.Kind), Cause: err}
	}

	if s.guard != nil {
		existing, err := s.guard.FindRecentUnfinished(ctx, req.OrgID, req.Kind)
		if err != nil {
			return nil, &ExportError{Type: ErrorTypePersistence, Message: "failed to check for running exports", Cause: err}
		}
		if existing != nil {
			s.logger.InfoContext(ctx, "reusing unfinished export",
				slog.String("export_id", existing.ID),
				slog.String("org_id", req.OrgID),
				slog.String("kind", req.Kind))
			return &Result{Job: existing, Reused: true}, nil
		}
	}

	job := NewJob(producer.Info(), req.OrgID, req.CreatedBy, req.Params, s.now())
	if err := s.store.CreateJob(ctx, job); err != nil {
		return nil, &ExportError{Type: ErrorTypePersistence, JobID: job.ID, Message: "failed to create export", Cause: err}
	}
	s.logger.InfoContext(ctx, "export requested",
		slog.String("export_id", job.ID),
		slog.String("org_id", job.OrgID),
		slog.String("kind", job.Kind))

	if err := s.queue.Enqueue(ctx, job); err != nil {
		return &Result{Job: job}, err
	}
	return &Result{Job: job}, nil
}

// Get returns a job by id
func (s *Service) Get(ctx context.Context, id string) (*Job, error) {
	job, err := s.store.GetJob(ctx, id)
	if err != nil {
		if errors.Is(err, ErrJobNotFound) {
			return nil, &ExportError{Type: ErrorTypeNotFound, JobID: id, Message: "export not found", Cause: err}
		}
		return nil, &ExportError{Type: ErrorTypePersistence, JobID: id, Message: "failed to load export", Cause: err}
	}
	return job, nil
}

// List returns jobs matching filter
func (s *Service) List(ctx context.Context, filter JobFilter) ([]*Job, error) {
	jobs, err := s.store.ListJobs(ctx, filter)
	if err != nil {
		return nil, &ExportError{Type: ErrorTypePersistence, Message: "failed to list exports", Cause: err}
	}
	return jobs, nil
}

// Kinds returns the export kinds that can be requested
func (s *Service) Kinds() []KindInfo { return s.registry.Kinds() }

// DownloadURL returns the link to a complete job's output
func (s *Service) DownloadURL(ctx context.Context, job *Job) (string, error) {
	if !job.IsAssetReady() {
		return "", &ExportError{Type: ErrorTypeInvalidState, JobID: job.ID, Message: fmt.Sprintf("export is %s", job.Status), Cause: ErrNotReady}
	}
	link, err := s.assets.URL(ctx, AssetKey(job))
	if err != nil {
		return "", s.assetErr(job, err)
	}
	return link, nil
}

// Open streams a complete job's output
func (s *Service) Open(ctx context.Context, job *Job) (io.ReadCloser, error) {
	if !job.IsAssetReady() {
		return nil, &ExportError{Type: ErrorTypeInvalidState, JobID: job.ID, Message: fmt.Sprintf("export is %s", job.Status), Cause: ErrNotReady}
	}
	rc, err := s.assets.Open(ctx, AssetKey(job))
	if err != nil {
		return nil, s.assetErr(job, err)
	}
	return rc, nil
}

func (s *Service) assetErr(job *Job, err error) error {
	if errors.Is(err, assets.ErrAssetNotFound) {
		return &ExportError{Type: ErrorTypeNotFound, JobID: job.ID, Message: "export file is missing", Cause: err}
	}
	return &ExportError{Type: ErrorTypeStorage, JobID: job.ID, Message: "failed to read export file", Cause: err}
}
