package exporter

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
)

const (
	// MaxExcelRows is the number of rows a single xlsx sheet can hold
	MaxExcelRows = excelize.TotalRows
	// MaxExcelCols is the number of columns a single xlsx sheet can hold
	MaxExcelCols = excelize.MaxColumns

	// DefaultRowCapacity keeps header plus data within MaxExcelRows
	DefaultRowCapacity = MaxExcelRows - 1

	// Column width hints
	WidthSmall  = 15
	WidthMedium = 20
	WidthLarge  = 100

	maxSheetNameLength = 31
)

var sheetNameReplacer = strings.NewReplacer(
	":", "_", "\\", "_", "/", "_", "?", "_", "*", "_", "[", "(", "]", ")",
)

// SheetName returns the display name of the index'th sheet of a table,
// trimmed to what the xlsx format accepts.
func SheetName(table string, index int) string {
	suffix := " " + strconv.Itoa(index)
	base := strings.Trim(sheetNameReplacer.Replace(table), "'")
	if base == "" {
		base = "Sheet"
	}
	if r := []rune(base); len(r)+len(suffix) > maxSheetNameLength {
		base = strings.TrimRight(string(r[:maxSheetNameLength-len(suffix)]), " '")
	}
	return base + suffix
}

// SheetWriter appends rows to one physical sheet. Row 1 holds the header;
// data starts at row 2. A SheetWriter never holds more than capacity data
// rows.
type SheetWriter struct {
	name     string
	index    int
	capacity int
	row      int
	stream   *excelize.StreamWriter
}

// newSheetWriter opens a stream on an existing sheet of book, applies
// column widths and writes the header row.
func newSheetWriter(book *excelize.File, name string, index, capacity int, columns []string, widths []float64) (*SheetWriter, error) {
	stream, err := book.NewStreamWriter(name)
	if err != nil {
		return nil, fmt.Errorf("failed to open sheet %q: %w", name, err)
	}

	// widths must be set before the first row is streamed
	for i, w := range widths {
		if i >= len(columns) {
			break
		}
		if w <= 0 {
			continue
		}
		if err := stream.SetColWidth(i+1, i+1, w); err != nil {
			return nil, fmt.Errorf("failed to set width of column %d: %w", i+1, err)
		}
	}

	header := make([]interface{}, len(columns))
	for i, c := range columns {
		header[i] = CleanString(c)
	}
	if err := stream.SetRow("A1", header); err != nil {
		return nil, fmt.Errorf("failed to write header to %q: %w", name, err)
	}

	return &SheetWriter{
		name:     name,
		index:    index,
		capacity: capacity,
		row:      2,
		stream:   stream,
	}, nil
}

// Name returns the sheet's display name
func (s *SheetWriter) Name() string { return s.name }

// Index returns the 1-based position of the sheet within its table
func (s *SheetWriter) Index() int { return s.index }

// Rows returns the number of data rows written so far
func (s *SheetWriter) Rows() int { return s.row - 2 }

// Full reports whether the sheet already holds capacity data rows
func (s *SheetWriter) Full() bool {
	return s.row > s.capacity+1
}

// Append writes already normalized values as the next row
func (s *SheetWriter) Append(values []interface{}) error {
	if s.Full() {
		return fmt.Errorf("sheet %q is full (%d rows)", s.name, s.capacity)
	}
	cell, err := excelize.CoordinatesToCellName(1, s.row)
	if err != nil {
		return err
	}
	if err := s.stream.SetRow(cell, values); err != nil {
		return fmt.Errorf("failed to write row %d to %q: %w", s.row, s.name, err)
	}
	s.row++
	return nil
}

// Flush ends the stream. No rows can be appended afterwards.
func (s *SheetWriter) Flush() error {
	if err := s.stream.Flush(); err != nil {
		return fmt.Errorf("failed to flush sheet %q: %w", s.name, err)
	}
	return nil
}
