package retention

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/Benevox/rapidpro/internal/assets"
	"github.com/Benevox/rapidpro/internal/exports"
)

// DefaultBatchSize is the number of jobs listed per pruning step
const DefaultBatchSize = 500

// Config contains configuration for the retention pruner
type Config struct {
	// MaxAge is how long finished jobs are kept. 0 keeps them forever.
	MaxAge time.Duration
	// Schedule is a cron expression, e.g. "0 3 * * *" or "@daily".
	// Empty disables the scheduler.
	Schedule  string
	BatchSize int
}

// Pruner deletes old finished jobs and their assets
type Pruner struct {
	store  exports.JobStore
	assets assets.Store
	config Config
	logger *slog.Logger
	pruned metric.Int64Counter
	now    func() time.Time
}

// NewPruner creates a new retention pruner
func NewPruner(store exports.JobStore, assetStore assets.Store, config Config, logger *slog.Logger) *Pruner {
	if logger == nil {
		logger = slog.Default()
	}
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultBatchSize
	}
	return &Pruner{
		store:  store,
		assets: assetStore,
		config: config,
		logger: logger.With(slog.String("component", "retention")),
		now:    time.Now,
	}
}

// WithMetrics counts pruned jobs on counter
func (p *Pruner) WithMetrics(counter metric.Int64Counter) *Pruner {
	p.pruned = counter
	return p
}

// Config returns the pruner's configuration
func (p *Pruner) Config() Config { return p.config }

// Prune deletes finished jobs created before now minus MaxAge. A job
// whose asset cannot be deleted is kept for the next run. It returns the
// number of jobs deleted.
func (p *Pruner) Prune(ctx context.Context) (int, error) {
	if p.config.MaxAge <= 0 {
		return 0, nil
	}

	cutoff := p.now().Add(-p.config.MaxAge)
	filter := exports.JobFilter{
		Statuses:      exports.TerminalStatuses,
		CreatedBefore: cutoff,
		Limit:         p.config.BatchSize,
	}

	var (
		deleted int
		errs    []error
		skipped = map[string]bool{}
	)
	for {
		if err := ctx.Err(); err != nil {
			return deleted, err
		}

		jobs, err := p.store.ListJobs(ctx, filter)
		if err != nil {
			return deleted, fmt.Errorf("failed to list expired exports: %w", err)
		}

		progress := 0
		for _, job := range jobs {
			if skipped[job.ID] {
				continue
			}
			if err := p.pruneJob(ctx, job); err != nil {
				skipped[job.ID] = true
				errs = append(errs, err)
				continue
			}
			deleted++
			progress++
		}

		// a short batch is the last one; a batch of only failures would repeat
		if len(jobs) < filter.Limit || progress == 0 {
			break
		}
	}

	if deleted > 0 && p.pruned != nil {
		p.pruned.Add(ctx, int64(deleted))
	}
	p.logger.InfoContext(ctx, "retention pruning finished",
		slog.Int("deleted", deleted),
		slog.Int("failed", len(errs)),
		slog.Time("cutoff", cutoff))

	return deleted, errors.Join(errs...)
}

func (p *Pruner) pruneJob(ctx context.Context, job *exports.Job) error {
	if job.Extension != "" && p.assets != nil {
		err := p.assets.Delete(ctx, exports.AssetKey(job))
		if err != nil && !errors.Is(err, assets.ErrAssetNotFound) {
			p.logger.WarnContext(ctx, "failed to delete export asset",
				slog.String("export_id", job.ID),
				slog.String("error", err.Error()))
			return fmt.Errorf("export %s: %w", job.ID, err)
		}
	}
	if err := p.store.DeleteJob(ctx, job.ID); err != nil && !errors.Is(err, exports.ErrJobNotFound) {
		return fmt.Errorf("export %s: %w", job.ID, err)
	}
	return nil
}
