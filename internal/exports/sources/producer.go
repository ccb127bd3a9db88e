package sources

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/Benevox/rapidpro/internal/exporter"
	"github.com/Benevox/rapidpro/internal/exports"
)

// TableProducer exports a single table read from a RowSource
type TableProducer struct {
	info   exports.KindInfo
	table  string
	open   Opener
	widths []float64
}

// NewTableProducer creates a producer writing rows from open into a table
// named table
func NewTableProducer(info exports.KindInfo, table string, open Opener, widths ...float64) *TableProducer {
	return &TableProducer{info: info, table: table, open: open, widths: widths}
}

// Info implements exports.Producer
func (p *TableProducer) Info() exports.KindInfo { return p.info }

// Produce implements exports.Producer
func (p *TableProducer) Produce(ctx context.Context, session *exports.Session) (*exporter.Output, error) {
	src, err := p.open(ctx, session)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	table, err := session.NewTable(p.table, src.Columns(), p.widths...)
	if err != nil {
		return nil, err
	}

	for {
		row, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if err := table.WriteRow(row); err != nil {
			return nil, fmt.Errorf("failed to write row %d: %w", table.Rows()+1, err)
		}
	}

	if err := src.Close(); err != nil {
		return nil, fmt.Errorf("failed to close row source: %w", err)
	}
	return table.Finalize()
}
