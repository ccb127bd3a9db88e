package sources

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/Benevox/rapidpro/internal/exports"
)

// ParamPath is the job parameter naming the CSV file to export
const ParamPath = "path"

// CSVSource reads rows from a CSV stream whose first record is the header
type CSVSource struct {
	reader  *csv.Reader
	closer  io.Closer
	columns []string
	row     []interface{}
}

// NewCSVSource reads the header from r. closer, if not nil, is closed with
// the source.
func NewCSVSource(r io.Reader, closer io.Closer) (*CSVSource, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.ReuseRecord = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("csv has no header")
		}
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}
	columns := make([]string, len(header))
	for i, h := range header {
		columns[i] = strings.TrimPrefix(h, "\ufeff")
	}

	return &CSVSource{
		reader:  reader,
		closer:  closer,
		columns: columns,
		row:     make([]interface{}, len(columns)),
	}, nil
}

// OpenCSVFile opens a CSV file as a source
func OpenCSVFile(path string) (*CSVSource, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open CSV file: %w", err)
	}
	src, err := NewCSVSource(file, file)
	if err != nil {
		file.Close()
		return nil, err
	}
	return src, nil
}

// Columns implements RowSource
func (s *CSVSource) Columns() []string { return s.columns }

// Next implements RowSource. Short records are padded with empty values
// and long ones truncated to the header width.
func (s *CSVSource) Next(ctx context.Context) ([]interface{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	record, err := s.reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("failed to read CSV record: %w", err)
	}
	for i := range s.row {
		if i < len(record) {
			s.row[i] = record[i]
		} else {
			s.row[i] = nil
		}
	}
	return s.row, nil
}

// Close implements RowSource
func (s *CSVSource) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}

// CSVFileOpener opens the file named by the job's "path" parameter,
// resolved inside baseDir
func CSVFileOpener(baseDir string) Opener {
	return func(_ context.Context, session *exports.Session) (RowSource, error) {
		name := session.Job.Params[ParamPath]
		if name == "" {
			return nil, fmt.Errorf("missing %q parameter", ParamPath)
		}
		path, err := resolveWithin(baseDir, name)
		if err != nil {
			return nil, err
		}
		return OpenCSVFile(path)
	}
}

// resolveWithin joins name to baseDir, refusing paths that leave it
func resolveWithin(baseDir, name string) (string, error) {
	if filepath.IsAbs(name) {
		return "", fmt.Errorf("path %q must be relative", name)
	}
	path := filepath.Join(baseDir, name)
	rel, err := filepath.Rel(baseDir, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q is outside the data directory", name)
	}
	return path, nil
}
