package exporter

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/xuri/excelize/v2"
)

// DefaultProgressEvery is how often, in rows, progress is logged
const DefaultProgressEvery = 10000

var (
	// ErrExporterFinalized is returned when writing to a finalized exporter
	ErrExporterFinalized = errors.New("exporter already finalized")
	// ErrNoColumns is returned for a table without headers
	ErrNoColumns = errors.New("table has no columns")
)

// TableSpec describes one logical table. It must not change once an
// exporter has been built from it.
type TableSpec struct {
	Name    string
	Columns []string
	// Widths are optional per-column widths applied to every sheet
	Widths []float64
	// RowCapacity is the number of data rows per sheet, excluding the header
	RowCapacity int
	// ColCapacity is the widest table that can still be written as xlsx
	ColCapacity int
}

func (s TableSpec) withDefaults() TableSpec {
	if s.RowCapacity <= 0 || s.RowCapacity > DefaultRowCapacity {
		s.RowCapacity = DefaultRowCapacity
	}
	if s.ColCapacity <= 0 || s.ColCapacity > MaxExcelCols {
		s.ColCapacity = MaxExcelCols
	}
	return s
}

// Options configures a TableExporter
type Options struct {
	// Location is the timezone datetimes are rendered in
	Location *time.Location
	Logger   *slog.Logger
	// ProgressEvery logs progress every N rows; 0 uses DefaultProgressEvery
	ProgressEvery int
	// TempDir holds the finalized file; empty uses the OS default
	TempDir string
	// OnSheet is called each time a sheet is opened
	OnSheet func(index int, name string)
}

// TableExporter writes one logical table across as many physical sheets as
// its row capacity requires. Tables wider than the column capacity are
// written as a single CSV stream instead. A TableExporter is not safe for
// concurrent use.
type TableExporter struct {
	spec   TableSpec
	opts   Options
	norm   Normalizer
	logger *slog.Logger

	// xlsx mode
	book   *excelize.File
	sheet  *SheetWriter
	sheets []string

	// csv mode
	csvFile *os.File
	csv     *CSVStream

	rows      int64
	finalized bool
}

// New builds an exporter and opens the first sheet with its header row
func New(spec TableSpec, opts Options) (*TableExporter, error) {
	if len(spec.Columns) == 0 {
		return nil, ErrNoColumns
	}
	spec = spec.withDefaults()
	spec.Columns = append([]string(nil), spec.Columns...)
	spec.Widths = append([]float64(nil), spec.Widths...)

	if opts.ProgressEvery <= 0 {
		opts.ProgressEvery = DefaultProgressEvery
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	e := &TableExporter{
		spec:   spec,
		opts:   opts,
		norm:   NewNormalizer(opts.Location),
		logger: logger.With(slog.String("component", "table_exporter"), slog.String("table", spec.Name)),
	}

	if len(spec.Columns) > spec.ColCapacity {
		if err := e.openCSV(); err != nil {
			return nil, err
		}
		return e, nil
	}

	e.book = excelize.NewFile()
	if err := e.openSheet(); err != nil {
		e.book.Close()
		return nil, err
	}
	return e, nil
}

func (e *TableExporter) openCSV() error {
	e.logger.Warn("column count exceeds sheet capacity, writing csv",
		slog.Int("columns", len(e.spec.Columns)),
		slog.Int("column_capacity", e.spec.ColCapacity))

	file, err := os.CreateTemp(e.opts.TempDir, "export-*."+ExtCSV)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	stream, err := NewCSVStream(file, e.spec.Columns)
	if err != nil {
		file.Close()
		os.Remove(file.Name())
		return err
	}
	e.csvFile = file
	e.csv = stream
	return nil
}

// openSheet flushes the current sheet, if any, and starts the next one
func (e *TableExporter) openSheet() error {
	index := len(e.sheets) + 1
	name := SheetName(e.spec.Name, index)

	if e.sheet != nil {
		if err := e.sheet.Flush(); err != nil {
			return err
		}
	}

	if index == 1 {
		// a new workbook always carries one default sheet
		if err := e.book.SetSheetName(e.book.GetSheetName(0), name); err != nil {
			return fmt.Errorf("failed to name sheet %q: %w", name, err)
		}
	} else if _, err := e.book.NewSheet(name); err != nil {
		return fmt.Errorf("failed to create sheet %q: %w", name, err)
	}

	sheet, err := newSheetWriter(e.book, name, index, e.spec.RowCapacity, e.spec.Columns, e.spec.Widths)
	if err != nil {
		return err
	}
	e.sheet = sheet
	e.sheets = append(e.sheets, name)

	if index > 1 {
		e.logger.Debug("opened sheet", slog.Int("sheet", index), slog.String("name", name))
	}
	if e.opts.OnSheet != nil {
		e.opts.OnSheet(index, name)
	}
	return nil
}

// WriteRow normalizes values and appends them as the next row, opening a
// new sheet first when the current one is full.
func (e *TableExporter) WriteRow(values []interface{}) error {
	if e.finalized {
		return ErrExporterFinalized
	}

	row := e.norm.Row(values)

	if e.csv != nil {
		if err := e.csv.Append(row); err != nil {
			return err
		}
	} else {
		if e.sheet.Full() {
			if err := e.openSheet(); err != nil {
				return err
			}
		}
		if err := e.sheet.Append(row); err != nil {
			return err
		}
	}

	e.rows++
	if e.rows%int64(e.opts.ProgressEvery) == 0 {
		e.logger.Info("export progress",
			slog.Int64("rows", e.rows),
			slog.Int("sheet", e.SheetCount()))
	}
	return nil
}

// Rows returns the number of data rows written
func (e *TableExporter) Rows() int64 { return e.rows }

// SheetCount returns the number of sheets opened so far. CSV output
// counts as one.
func (e *TableExporter) SheetCount() int {
	if e.csv != nil {
		return 1
	}
	return len(e.sheets)
}

// Sheets returns the names of the sheets opened so far
func (e *TableExporter) Sheets() []string {
	return append([]string(nil), e.sheets...)
}

// Extension returns the extension of the file Finalize will produce
func (e *TableExporter) Extension() string {
	if e.csv != nil {
		return ExtCSV
	}
	return ExtXLSX
}

// Finalize serializes everything written into a temporary file and returns
// it rewound. The exporter cannot be written to afterwards. The caller owns
// the Output and must Close it.
func (e *TableExporter) Finalize() (*Output, error) {
	if e.finalized {
		return nil, ErrExporterFinalized
	}
	e.finalized = true

	var (
		out *Output
		err error
	)
	if e.csv != nil {
		out, err = e.finalizeCSV()
	} else {
		out, err = e.finalizeXLSX()
	}
	if err != nil {
		return nil, err
	}

	e.logger.Info("export finalized",
		slog.Int64("rows", e.rows),
		slog.Int("sheets", e.SheetCount()),
		slog.String("extension", out.Extension),
		slog.Int64("bytes", out.Size()))
	return out, nil
}

func (e *TableExporter) finalizeCSV() (*Output, error) {
	file := e.csvFile
	e.csvFile = nil

	if err := e.csv.Flush(); err != nil {
		file.Close()
		os.Remove(file.Name())
		return nil, fmt.Errorf("failed to flush csv: %w", err)
	}
	return openOutput(file, ExtCSV)
}

func (e *TableExporter) finalizeXLSX() (*Output, error) {
	book := e.book
	e.book = nil
	defer book.Close()

	if err := e.sheet.Flush(); err != nil {
		return nil, err
	}
	book.SetActiveSheet(0)

	file, err := os.CreateTemp(e.opts.TempDir, "export-*."+ExtXLSX)
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}
	if err := book.Write(file); err != nil {
		file.Close()
		os.Remove(file.Name())
		return nil, fmt.Errorf("failed to write workbook: %w", err)
	}
	return openOutput(file, ExtXLSX)
}

// Close releases any resources held by an exporter that was not finalized.
// It is safe to call after Finalize and more than once.
func (e *TableExporter) Close() error {
	e.finalized = true

	var errs []error
	if e.book != nil {
		errs = append(errs, e.book.Close())
		e.book = nil
	}
	if e.csvFile != nil {
		name := e.csvFile.Name()
		errs = append(errs, e.csvFile.Close(), os.Remove(name))
		e.csvFile = nil
	}
	return errors.Join(errs...)
}
