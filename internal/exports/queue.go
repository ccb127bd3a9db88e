package exports

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Default sizing of a JobQueue
const (
	DefaultWorkers = 4
)

// JobRunner executes a single export job
type JobRunner interface {
	Run(ctx context.Context, job *Job) error
	MarkFailed(ctx context.Context, job *Job, errType ErrorType, message string) error
}

// QueueStats describes the current load of a queue
type QueueStats struct {
	Workers  int `json:"workers"`
	Queued   int `json:"queued"`
	Capacity int `json:"capacity"`
	Active   int `json:"active"`
}

// JobQueue runs export jobs on a fixed pool of workers. Each job is run by
// exactly one worker; workers share nothing but the queue.
type JobQueue struct {
	mu       sync.RWMutex
	jobs     chan *Job
	workers  int
	wg       sync.WaitGroup
	runner   JobRunner
	store    JobStore
	logger   *slog.Logger
	shutdown chan struct{}
	stopOnce sync.Once
	active   map[string]*Job // Currently executing jobs
}

// NewJobQueue creates a new job queue. A non-positive size buffers twice
// the number of workers.
func NewJobQueue(workers, size int, runner JobRunner, store JobStore, logger *slog.Logger) *JobQueue {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if size <= 0 {
		size = workers * 2
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &JobQueue{
		jobs:     make(chan *Job, size),
		workers:  workers,
		runner:   runner,
		store:    store,
		logger:   logger.With(slog.String("component", "export_queue")),
		shutdown: make(chan struct{}),
		active:   make(map[string]*Job),
	}
}

// Start recovers jobs left over by a previous process, then starts the
// workers
func (q *JobQueue) Start(ctx context.Context) error {
	q.logger.Info("starting export queue", slog.Int("workers", q.workers))

	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx, i)
	}

	if err := q.Recover(ctx); err != nil {
		return fmt.Errorf("failed to recover exports: %w", err)
	}
	return nil
}

// Stop waits for running jobs to finish. Queued jobs that have not started
// stay Pending and are picked up by Recover on the next start.
func (q *JobQueue) Stop(timeout time.Duration) error {
	q.logger.Info("stopping export queue")

	q.stopOnce.Do(func() { close(q.shutdown) })

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		q.logger.Info("export queue stopped gracefully")
		return nil
	case <-time.After(timeout):
		q.logger.Warn("export queue stop timeout exceeded")
		return fmt.Errorf("timeout waiting for export workers to finish")
	}
}

// Enqueue schedules a Pending job that is already persisted. When the
// queue is full the job is failed and ErrQueueFull returned.
func (q *JobQueue) Enqueue(ctx context.Context, job *Job) error {
	select {
	case <-q.shutdown:
		return fmt.Errorf("export queue is stopped")
	default:
	}

	select {
	case q.jobs <- job.Clone():
		q.logger.InfoContext(ctx, "export enqueued",
			slog.String("export_id", job.ID),
			slog.String("kind", job.Kind))
		return nil
	default:
		if err := q.runner.MarkFailed(ctx, job, ErrorTypeProduction, "export queue is full"); err != nil {
			q.logger.ErrorContext(ctx, "failed to fail rejected export",
				slog.String("export_id", job.ID),
				slog.String("error", err.Error()))
		}
		return fmt.Errorf("export %s: %w", job.ID, ErrQueueFull)
	}
}

// Recover handles jobs that were unfinished when the process stopped.
// Processing jobs were interrupted and their output is lost, so they are
// failed; Pending jobs never started and are handed back to the workers in
// the background, oldest first. Pending jobs that cannot be handed over
// before shutdown stay Pending for the next start.
func (q *JobQueue) Recover(ctx context.Context) error {
	jobs, err := ListUnfinished(ctx, q.store)
	if err != nil {
		return err
	}

	var (
		failed  int
		pending []*Job
	)
	for _, job := range jobs {
		switch job.Status {
		case StatusProcessing:
			if err := q.runner.MarkFailed(ctx, job, ErrorTypeProduction, "export was interrupted by a restart"); err != nil {
				q.logger.ErrorContext(ctx, "failed to fail interrupted export",
					slog.String("export_id", job.ID),
					slog.String("error", err.Error()))
				continue
			}
			failed++
		case StatusPending:
			pending = append(pending, job)
		}
	}

	if len(jobs) > 0 {
		q.logger.InfoContext(ctx, "recovered unfinished exports",
			slog.Int("failed", failed),
			slog.Int("requeued", len(pending)))
	}
	if len(pending) > 0 {
		q.wg.Add(1)
		go q.requeue(ctx, pending)
	}
	return nil
}

// requeue hands recovered jobs to the workers, waiting for room in the
// queue instead of rejecting them
func (q *JobQueue) requeue(ctx context.Context, jobs []*Job) {
	defer q.wg.Done()

	for i, job := range jobs {
		select {
		case q.jobs <- job.Clone():
		case <-q.shutdown:
			q.logger.Info("requeue stopped by shutdown", slog.Int("left_pending", len(jobs)-i))
			return
		case <-ctx.Done():
			q.logger.Info("requeue stopped by context", slog.Int("left_pending", len(jobs)-i))
			return
		}
	}
	q.logger.DebugContext(ctx, "recovered exports requeued", slog.Int("count", len(jobs)))
}

// Stats returns the current load of the queue
func (q *JobQueue) Stats() QueueStats {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return QueueStats{
		Workers:  q.workers,
		Queued:   len(q.jobs),
		Capacity: cap(q.jobs),
		Active:   len(q.active),
	}
}

// IsActive reports whether a worker is running the job
func (q *JobQueue) IsActive(id string) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	_, ok := q.active[id]
	return ok
}

// worker processes jobs from the queue
func (q *JobQueue) worker(ctx context.Context, workerID int) {
	defer q.wg.Done()

	logger := q.logger.With(slog.Int("worker_id", workerID))
	logger.Debug("worker started")

	for {
		select {
		case <-ctx.Done():
			logger.Debug("worker stopped by context")
			return
		case <-q.shutdown:
			logger.Debug("worker stopped by shutdown")
			return
		case job := <-q.jobs:
			q.processJob(ctx, job, logger)
		}
	}
}

// processJob runs a single job. A panic fails the job instead of the
// process.
func (q *JobQueue) processJob(ctx context.Context, job *Job, logger *slog.Logger) {
	logger = logger.With(slog.String("export_id", job.ID))

	q.mu.Lock()
	q.active[job.ID] = job
	q.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			logger.Error("export run panicked", slog.Any("panic", r))
			if err := q.runner.MarkFailed(ctx, job, ErrorTypePanic, fmt.Sprintf("export run panicked: %v", r)); err != nil {
				logger.Error("failed to update export after panic", slog.String("error", err.Error()))
			}
		}

		q.mu.Lock()
		delete(q.active, job.ID)
		q.mu.Unlock()
	}()

	if err := q.runner.Run(ctx, job); err != nil {
		// the runner has already logged and persisted the failure
		logger.Debug("export run returned error", slog.String("error", err.Error()))
	}
}
