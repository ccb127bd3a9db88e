package sources

import (
	"context"
	"database/sql"
	"fmt"
	"io"

	"github.com/Benevox/rapidpro/internal/exports"
)

// SQLSource streams the result of a database/sql query
type SQLSource struct {
	rows    *sql.Rows
	columns []string
	values  []interface{}
	ptrs    []interface{}
}

// NewSQLSource wraps rows; the source owns and closes them
func NewSQLSource(rows *sql.Rows) (*SQLSource, error) {
	columns, err := rows.Columns()
	if err != nil {
		rows.Close()
		return nil, fmt.Errorf("failed to read columns: %w", err)
	}
	values := make([]interface{}, len(columns))
	ptrs := make([]interface{}, len(columns))
	for i := range values {
		ptrs[i] = &values[i]
	}
	return &SQLSource{rows: rows, columns: columns, values: values, ptrs: ptrs}, nil
}

// Columns implements RowSource
func (s *SQLSource) Columns() []string { return s.columns }

// Next implements RowSource
func (s *SQLSource) Next(_ context.Context) ([]interface{}, error) {
	if !s.rows.Next() {
		if err := s.rows.Err(); err != nil {
			return nil, fmt.Errorf("failed to read rows: %w", err)
		}
		return nil, io.EOF
	}
	if err := s.rows.Scan(s.ptrs...); err != nil {
		return nil, fmt.Errorf("failed to scan row: %w", err)
	}
	return s.values, nil
}

// Close implements RowSource
func (s *SQLSource) Close() error { return s.rows.Close() }

// SQLQueryOpener runs query for each job. The organization id is the first
// argument, followed by the named job parameters in order.
func SQLQueryOpener(db *sql.DB, query string, params ...string) Opener {
	return func(ctx context.Context, session *exports.Session) (RowSource, error) {
		rows, err := db.QueryContext(ctx, query, queryArgs(session.Job, params)...)
		if err != nil {
			return nil, fmt.Errorf("failed to run export query: %w", err)
		}
		return NewSQLSource(rows)
	}
}

func queryArgs(job *exports.Job, params []string) []interface{} {
	args := make([]interface{}, 0, len(params)+1)
	args = append(args, job.OrgID)
	for _, p := range params {
		args = append(args, job.Params[p])
	}
	return args
}
