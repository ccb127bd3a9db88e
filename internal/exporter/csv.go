package exporter

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"
)

// DateTimeLayout is used for datetimes written to CSV output
const DateTimeLayout = "2006-01-02 15:04:05"

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// CSVStream writes a single, unbounded stream of CSV records. It is the
// fallback used when a table has more columns than a sheet can hold.
type CSVStream struct {
	writer *csv.Writer
	rows   int
}

// NewCSVStream writes the UTF-8 BOM (so spreadsheet applications detect
// the encoding) and the header row to w.
func NewCSVStream(w io.Writer, columns []string) (*CSVStream, error) {
	if _, err := w.Write(utf8BOM); err != nil {
		return nil, fmt.Errorf("failed to write BOM: %w", err)
	}

	writer := csv.NewWriter(w)

	if len(columns) > 0 {
		header := make([]string, len(columns))
		for i, c := range columns {
			header[i] = CleanString(c)
		}
		if err := writer.Write(header); err != nil {
			return nil, fmt.Errorf("failed to write headers: %w", err)
		}
	}

	return &CSVStream{writer: writer}, nil
}

// Append writes already normalized values as the next record
func (s *CSVStream) Append(values []interface{}) error {
	record := make([]string, len(values))
	for i, v := range values {
		record[i] = csvField(v)
	}
	if err := s.writer.Write(record); err != nil {
		return fmt.Errorf("failed to write record %d: %w", s.rows+1, err)
	}
	s.rows++
	return nil
}

// Rows returns the number of records written after the header
func (s *CSVStream) Rows() int { return s.rows }

// Flush writes any buffered data to the underlying writer
func (s *CSVStream) Flush() error {
	s.writer.Flush()
	return s.writer.Error()
}

func csvField(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case time.Time:
		return val.Format(DateTimeLayout)
	default:
		return displayString(val)
	}
}
