package sources

import (
	"context"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Benevox/rapidpro/internal/exports"
)

// PgxSource streams the result of a pgx query
type PgxSource struct {
	rows    pgx.Rows
	columns []string
}

// NewPgxSource wraps rows; the source owns and closes them
func NewPgxSource(rows pgx.Rows) *PgxSource {
	fields := rows.FieldDescriptions()
	columns := make([]string, len(fields))
	for i, f := range fields {
		columns[i] = f.Name
	}
	return &PgxSource{rows: rows, columns: columns}
}

// Columns implements RowSource
func (s *PgxSource) Columns() []string { return s.columns }

// Next implements RowSource. UUID columns are rendered in their canonical
// text form.
func (s *PgxSource) Next(_ context.Context) ([]interface{}, error) {
	if !s.rows.Next() {
		if err := s.rows.Err(); err != nil {
			return nil, fmt.Errorf("failed to read rows: %w", err)
		}
		return nil, io.EOF
	}
	values, err := s.rows.Values()
	if err != nil {
		return nil, fmt.Errorf("failed to read row values: %w", err)
	}
	for i, v := range values {
		if id, ok := v.([16]byte); ok {
			values[i] = uuid.UUID(id).String()
		}
	}
	return values, nil
}

// Close implements RowSource
func (s *PgxSource) Close() error {
	s.rows.Close()
	return s.rows.Err()
}

// PgxQueryOpener runs query on pool for each job, with the same arguments
// as SQLQueryOpener
func PgxQueryOpener(pool *pgxpool.Pool, query string, params ...string) Opener {
	return func(ctx context.Context, session *exports.Session) (RowSource, error) {
		rows, err := pool.Query(ctx, query, queryArgs(session.Job, params)...)
		if err != nil {
			return nil, fmt.Errorf("failed to run export query: %w", err)
		}
		return NewPgxSource(rows), nil
	}
}
