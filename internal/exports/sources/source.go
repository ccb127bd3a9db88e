package sources

import (
	"context"
	"io"

	"github.com/Benevox/rapidpro/internal/exports"
)

// RowSource yields the rows of one table in order. Next returns io.EOF
// after the last row. Rows returned by Next may be reused by the following
// call.
type RowSource interface {
	Columns() []string
	Next(ctx context.Context) ([]interface{}, error)
	Close() error
}

// Opener starts the row source for a run. It receives the session so it
// can read the job's parameters and organization.
type Opener func(ctx context.Context, session *exports.Session) (RowSource, error)

// SliceSource serves rows held in memory
type SliceSource struct {
	columns []string
	rows    [][]interface{}
	pos     int
}

// NewSliceSource creates a source over rows
func NewSliceSource(columns []string, rows [][]interface{}) *SliceSource {
	return &SliceSource{columns: columns, rows: rows}
}

// Columns implements RowSource
func (s *SliceSource) Columns() []string { return s.columns }

// Next implements RowSource
func (s *SliceSource) Next(ctx context.Context) ([]interface{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.pos >= len(s.rows) {
		return nil, io.EOF
	}
	row := s.rows[s.pos]
	s.pos++
	return row, nil
}

// Close implements RowSource
func (s *SliceSource) Close() error { return nil }
