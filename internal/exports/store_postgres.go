package exports

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresSchema creates the export job table
const PostgresSchema = `
CREATE TABLE IF NOT EXISTS export_jobs (
	id                TEXT PRIMARY KEY,
	org_id            TEXT NOT NULL,
	kind              TEXT NOT NULL,
	status            TEXT NOT NULL,
	analytics_key     TEXT NOT NULL DEFAULT '',
	asset_type        TEXT NOT NULL DEFAULT '',
	notification_type TEXT NOT NULL DEFAULT '',
	created_by        TEXT NOT NULL DEFAULT '',
	created_on        TIMESTAMPTZ NOT NULL,
	modified_on       TIMESTAMPTZ NOT NULL,
	started_on        TIMESTAMPTZ,
	completed_on      TIMESTAMPTZ,
	elapsed_seconds   DOUBLE PRECISION NOT NULL DEFAULT 0,
	extension         TEXT NOT NULL DEFAULT '',
	error             TEXT NOT NULL DEFAULT '',
	params            JSONB NOT NULL DEFAULT '{}'
);

CREATE INDEX IF NOT EXISTS idx_export_jobs_org_status ON export_jobs(org_id, status, created_on);
CREATE INDEX IF NOT EXISTS idx_export_jobs_created_on ON export_jobs(created_on);
`

// PostgresConfig configures the connection pool of the Postgres job store
type PostgresConfig struct {
	URL             string
	MaxConns        int
	MinConns        int
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// PostgresJobStore implements JobStore on PostgreSQL through pgx
type PostgresJobStore struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPostgresJobStore connects, verifies the connection and creates the schema
func NewPostgresJobStore(ctx context.Context, cfg PostgresConfig, logger *slog.Logger) (*PostgresJobStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = int32(cfg.MaxConns)
	}
	if cfg.MinConns > 0 {
		poolConfig.MinConns = int32(cfg.MinConns)
	}
	if cfg.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := pool.Exec(ctx, PostgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	s := &PostgresJobStore{
		pool:   pool,
		logger: logger.With(slog.String("component", "exports.store.postgres")),
	}
	s.logger.Info("Postgres job store initialized", slog.Int("max_conns", int(poolConfig.MaxConns)))
	return s, nil
}

// CreateJob inserts a new job
func (s *PostgresJobStore) CreateJob(ctx context.Context, job *Job) error {
	params, err := encodeParams(job.Params)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx, `INSERT INTO export_jobs (`+jobColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		job.ID, job.OrgID, job.Kind, string(job.Status),
		job.AnalyticsKey, job.AssetType, job.NotificationType, job.CreatedBy,
		job.CreatedOn.UTC(), job.ModifiedOn.UTC(), job.StartedOn, job.CompletedOn,
		job.ElapsedSeconds, job.Extension, job.Error, params,
	)
	if err != nil {
		return fmt.Errorf("failed to create job %s: %w", job.ID, err)
	}
	return nil
}

// GetJob retrieves a job by ID
func (s *PostgresJobStore) GetJob(ctx context.Context, id string) (*Job, error) {
	row := s.pool.QueryRow(ctx, "SELECT "+jobColumns+" FROM export_jobs WHERE id = $1", id)
	job, err := scanPostgresJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("job %s: %w", id, ErrJobNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job %s: %w", id, err)
	}
	return job, nil
}

// UpdateJob overwrites the mutable fields of an existing job
func (s *PostgresJobStore) UpdateJob(ctx context.Context, job *Job) error {
	n, err := s.update(ctx, job, "")
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("job %s: %w", job.ID, ErrJobNotFound)
	}
	return nil
}

// TransitionJob updates the job if its stored status is still from. The
// status check and the write are one statement, so concurrent processes
// sharing the database cannot both move a job out of the same status.
func (s *PostgresJobStore) TransitionJob(ctx context.Context, job *Job, from Status) error {
	n, err := s.update(ctx, job, from)
	if err != nil {
		return err
	}
	if n == 0 {
		stored, err := s.GetJob(ctx, job.ID)
		if err != nil {
			return err
		}
		return staleTransition(job, from, stored.Status)
	}
	return nil
}

func (s *PostgresJobStore) update(ctx context.Context, job *Job, from Status) (int64, error) {
	params, err := encodeParams(job.Params)
	if err != nil {
		return 0, err
	}

	query := `UPDATE export_jobs SET
		status = $1, modified_on = $2, started_on = $3, completed_on = $4,
		elapsed_seconds = $5, extension = $6, error = $7, params = $8
		WHERE id = $9`
	args := []interface{}{
		string(job.Status), job.ModifiedOn.UTC(), job.StartedOn, job.CompletedOn,
		job.ElapsedSeconds, job.Extension, job.Error, params, job.ID,
	}
	if from != "" {
		query += " AND status = $10"
		args = append(args, string(from))
	}

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to update job %s: %w", job.ID, err)
	}
	return tag.RowsAffected(), nil
}

// ListJobs returns jobs matching the filter
func (s *PostgresJobStore) ListJobs(ctx context.Context, filter JobFilter) ([]*Job, error) {
	query, args := buildListQuery(filter,
		func(n int) string { return "$" + strconv.Itoa(n) },
		func(t time.Time) interface{} { return t.UTC() },
	)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	jobs := make([]*Job, 0)
	for rows.Next() {
		job, err := scanPostgresJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	return jobs, nil
}

// DeleteJob removes a job
func (s *PostgresJobStore) DeleteJob(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, "DELETE FROM export_jobs WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete job %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("job %s: %w", id, ErrJobNotFound)
	}
	return nil
}

// Pool returns the connection pool
func (s *PostgresJobStore) Pool() *pgxpool.Pool { return s.pool }

// Ping checks the database connection
func (s *PostgresJobStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the connection pool
func (s *PostgresJobStore) Close() error {
	s.pool.Close()
	s.logger.Info("Postgres job store closed")
	return nil
}

func scanPostgresJob(row pgx.Row) (*Job, error) {
	var (
		job                    Job
		status                 string
		startedOn, completedOn *time.Time
		params                 []byte
	)
	err := row.Scan(
		&job.ID, &job.OrgID, &job.Kind, &status,
		&job.AnalyticsKey, &job.AssetType, &job.NotificationType, &job.CreatedBy,
		&job.CreatedOn, &job.ModifiedOn, &startedOn, &completedOn,
		&job.ElapsedSeconds, &job.Extension, &job.Error, &params,
	)
	if err != nil {
		return nil, err
	}

	job.Status = Status(status)
	job.CreatedOn = job.CreatedOn.UTC()
	job.ModifiedOn = job.ModifiedOn.UTC()
	if startedOn != nil {
		t := startedOn.UTC()
		job.StartedOn = &t
	}
	if completedOn != nil {
		t := completedOn.UTC()
		job.CompletedOn = &t
	}
	if job.Params, err = decodeParams(params); err != nil {
		return nil, err
	}
	return &job, nil
}
