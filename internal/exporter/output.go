package exporter

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
)

// File extensions produced by the exporter
const (
	ExtXLSX = "xlsx"
	ExtCSV  = "csv"
)

// ContentType returns the MIME type for an export file extension
func ContentType(ext string) string {
	switch ext {
	case ExtXLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case ExtCSV:
		return "text/csv; charset=utf-8"
	default:
		return "application/octet-stream"
	}
}

// Output is a finalized export held in a temporary file. Reading it
// streams the file from the start; Close removes the file.
type Output struct {
	Extension string

	file      *os.File
	size      int64
	closeOnce sync.Once
	closeErr  error
}

// NewOutput copies r into a temporary file in dir. Producers that do not
// go through a TableExporter use it to hand over ready-made content.
func NewOutput(dir, ext string, r io.Reader) (*Output, error) {
	file, err := os.CreateTemp(dir, "export-*."+ext)
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}
	if _, err := io.Copy(file, r); err != nil {
		file.Close()
		os.Remove(file.Name())
		return nil, fmt.Errorf("failed to write temp file: %w", err)
	}
	return openOutput(file, ext)
}

// openOutput rewinds a fully written temp file and wraps it
func openOutput(file *os.File, ext string) (*Output, error) {
	size, err := file.Seek(0, io.SeekCurrent)
	if err == nil {
		_, err = file.Seek(0, io.SeekStart)
	}
	if err != nil {
		file.Close()
		os.Remove(file.Name())
		return nil, fmt.Errorf("failed to rewind temp file: %w", err)
	}
	return &Output{Extension: ext, file: file, size: size}, nil
}

// Read implements io.Reader
func (o *Output) Read(p []byte) (int, error) {
	if o.file == nil {
		return 0, os.ErrClosed
	}
	return o.file.Read(p)
}

// Seek implements io.Seeker so uploaders can rewind or size the stream
func (o *Output) Seek(offset int64, whence int) (int64, error) {
	if o.file == nil {
		return 0, os.ErrClosed
	}
	return o.file.Seek(offset, whence)
}

// Size returns the number of bytes in the output
func (o *Output) Size() int64 { return o.size }

// Path returns the location of the temporary file
func (o *Output) Path() string {
	if o.file == nil {
		return ""
	}
	return o.file.Name()
}

// Close releases the temporary file. It is safe to call more than once.
func (o *Output) Close() error {
	o.closeOnce.Do(func() {
		if o.file == nil {
			return
		}
		name := o.file.Name()
		err := o.file.Close()
		if rmErr := os.Remove(name); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			err = errors.Join(err, rmErr)
		}
		o.closeErr = err
	})
	return o.closeErr
}
