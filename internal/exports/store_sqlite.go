package exports

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteSchema creates the export job table
const SQLiteSchema = `
CREATE TABLE IF NOT EXISTS export_jobs (
	id                TEXT PRIMARY KEY,
	org_id            TEXT NOT NULL,
	kind              TEXT NOT NULL,
	status            TEXT NOT NULL,
	analytics_key     TEXT NOT NULL DEFAULT '',
	asset_type        TEXT NOT NULL DEFAULT '',
	notification_type TEXT NOT NULL DEFAULT '',
	created_by        TEXT NOT NULL DEFAULT '',
	created_on        INTEGER NOT NULL,
	modified_on       INTEGER NOT NULL,
	started_on        INTEGER,
	completed_on      INTEGER,
	elapsed_seconds   REAL NOT NULL DEFAULT 0,
	extension         TEXT NOT NULL DEFAULT '',
	error             TEXT NOT NULL DEFAULT '',
	params            TEXT NOT NULL DEFAULT '{}'
);

CREATE INDEX IF NOT EXISTS idx_export_jobs_org_status ON export_jobs(org_id, status, created_on);
CREATE INDEX IF NOT EXISTS idx_export_jobs_created_on ON export_jobs(created_on);
`

// SQLiteConfig contains configuration for the SQLite job store
type SQLiteConfig struct {
	// Path is the database file path
	Path string
	// MaxOpenConns is the maximum number of open connections
	MaxOpenConns int
	// WALMode enables write-ahead logging
	WALMode bool
	// BusyTimeout is how long to wait on a locked database
	BusyTimeout time.Duration
}

// DefaultSQLiteConfig returns the default SQLite configuration
func DefaultSQLiteConfig() SQLiteConfig {
	return SQLiteConfig{
		Path:         "data/exports.db",
		MaxOpenConns: 4,
		WALMode:      true,
		BusyTimeout:  5 * time.Second,
	}
}

// SQLiteJobStore implements JobStore on SQLite. Timestamps are stored as
// unix nanoseconds in UTC.
type SQLiteJobStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteJobStore opens the database and creates the schema
func NewSQLiteJobStore(cfg SQLiteConfig, logger *slog.Logger) (*SQLiteJobStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxOpenConns <= 0 {
		cfg.MaxOpenConns = 1
	}

	db, err := sql.Open("sqlite3", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)

	s := &SQLiteJobStore{
		db:     db,
		logger: logger.With(slog.String("component", "exports.store.sqlite")),
	}
	if err := s.initialize(cfg); err != nil {
		db.Close()
		return nil, err
	}

	s.logger.Info("SQLite job store initialized",
		slog.String("path", cfg.Path),
		slog.Bool("wal_mode", cfg.WALMode))
	return s, nil
}

func (s *SQLiteJobStore) initialize(cfg SQLiteConfig) error {
	if cfg.WALMode {
		if _, err := s.db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
			return fmt.Errorf("failed to enable WAL mode: %w", err)
		}
	}
	if cfg.BusyTimeout > 0 {
		if _, err := s.db.Exec(fmt.Sprintf("PRAGMA busy_timeout=%d;", cfg.BusyTimeout.Milliseconds())); err != nil {
			return fmt.Errorf("failed to set busy timeout: %w", err)
		}
	}
	if _, err := s.db.Exec(SQLiteSchema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// CreateJob inserts a new job
func (s *SQLiteJobStore) CreateJob(ctx context.Context, job *Job) error {
	params, err := encodeParams(job.Params)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `INSERT INTO export_jobs (`+jobColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.OrgID, job.Kind, string(job.Status),
		job.AnalyticsKey, job.AssetType, job.NotificationType, job.CreatedBy,
		unixNanos(job.CreatedOn), unixNanos(job.ModifiedOn),
		nullableNanos(job.StartedOn), nullableNanos(job.CompletedOn),
		job.ElapsedSeconds, job.Extension, job.Error, params,
	)
	if err != nil {
		return fmt.Errorf("failed to create job %s: %w", job.ID, err)
	}
	return nil
}

// GetJob retrieves a job by ID
func (s *SQLiteJobStore) GetJob(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+jobColumns+" FROM export_jobs WHERE id = ?", id)
	job, err := scanSQLiteJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("job %s: %w", id, ErrJobNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job %s: %w", id, err)
	}
	return job, nil
}

// UpdateJob overwrites the mutable fields of an existing job
func (s *SQLiteJobStore) UpdateJob(ctx context.Context, job *Job) error {
	n, err := s.update(ctx, job, "")
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("job %s: %w", job.ID, ErrJobNotFound)
	}
	return nil
}

// TransitionJob updates the job if its stored status is still from
func (s *SQLiteJobStore) TransitionJob(ctx context.Context, job *Job, from Status) error {
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

// update writes the mutable fields, guarded by the stored status when from
// is set, and returns the number of rows changed
func (s *SQLiteJobStore) update(ctx context.Context, job *Job, from Status) (int64, error) {
	params, err := encodeParams(job.Params)
	if err != nil {
		return 0, err
	}

	query := `UPDATE export_jobs SET
		status = ?, modified_on = ?, started_on = ?, completed_on = ?,
		elapsed_seconds = ?, extension = ?, error = ?, params = ?
		WHERE id = ?`
	args := []interface{}{
		string(job.Status), unixNanos(job.ModifiedOn),
		nullableNanos(job.StartedOn), nullableNanos(job.CompletedOn),
		job.ElapsedSeconds, job.Extension, job.Error, params, job.ID,
	}
	if from != "" {
		query += " AND status = ?"
		args = append(args, string(from))
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to update job %s: %w", job.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to update job %s: %w", job.ID, err)
	}
	return n, nil
}

// ListJobs returns jobs matching the filter
func (s *SQLiteJobStore) ListJobs(ctx context.Context, filter JobFilter) ([]*Job, error) {
	query, args := buildListQuery(filter,
		func(int) string { return "?" },
		func(t time.Time) interface{} { return unixNanos(t) },
	)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	jobs := make([]*Job, 0)
	for rows.Next() {
		job, err := scanSQLiteJob(rows)
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
func (s *SQLiteJobStore) DeleteJob(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM export_jobs WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete job %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("job %s: %w", id, ErrJobNotFound)
	}
	return nil
}

// DB returns the underlying database, shared with query-backed sources
func (s *SQLiteJobStore) DB() *sql.DB { return s.db }

// Ping checks the database connection
func (s *SQLiteJobStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases the database
func (s *SQLiteJobStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close sqlite database: %w", err)
	}
	s.logger.Info("SQLite job store closed")
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSQLiteJob(row rowScanner) (*Job, error) {
	var (
		job                    Job
		status                 string
		createdOn, modifiedOn  int64
		startedOn, completedOn sql.NullInt64
		params                 string
	)
	err := row.Scan(
		&job.ID, &job.OrgID, &job.Kind, &status,
		&job.AnalyticsKey, &job.AssetType, &job.NotificationType, &job.CreatedBy,
		&createdOn, &modifiedOn, &startedOn, &completedOn,
		&job.ElapsedSeconds, &job.Extension, &job.Error, &params,
	)
	if err != nil {
		return nil, err
	}

	job.Status = Status(status)
	job.CreatedOn = fromNanos(createdOn)
	job.ModifiedOn = fromNanos(modifiedOn)
	if startedOn.Valid {
		t := fromNanos(startedOn.Int64)
		job.StartedOn = &t
	}
	if completedOn.Valid {
		t := fromNanos(completedOn.Int64)
		job.CompletedOn = &t
	}
	if job.Params, err = decodeParams([]byte(params)); err != nil {
		return nil, err
	}
	return &job, nil
}

func unixNanos(t time.Time) int64 { return t.UTC().UnixNano() }

func fromNanos(n int64) time.Time { return time.Unix(0, n).UTC() }

func nullableNanos(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return unixNanos(*t)
}
