package exports

import (
	"context"
	"log/slog"
	"time"

	"github.com/Benevox/rapidpro/internal/exporter"
)

// KindInfo describes an export kind
type KindInfo struct {
	// Kind identifies the export, e.g. "contacts"
	Kind string
	// AnalyticsKey names the latency metric; defaults to Kind + "_export"
	AnalyticsKey string
	// AssetType groups stored files; defaults to Kind + "_export"
	AssetType string
	// NotificationType prefixes the notification scope; defaults to Kind
	NotificationType string
}

func (k KindInfo) analyticsKey() string {
	if k.AnalyticsKey != "" {
		return k.AnalyticsKey
	}
	return k.Kind + "_export"
}

func (k KindInfo) assetType() string {
	if k.AssetType != "" {
		return k.AssetType
	}
	return k.Kind + "_export"
}

func (k KindInfo) notificationType() string {
	if k.NotificationType != "" {
		return k.NotificationType
	}
	return k.Kind
}

// Producer writes the output of one export kind. Produce returns a
// finalized Output which the runner hands to the asset store and closes.
type Producer interface {
	Info() KindInfo
	Produce(ctx context.Context, session *Session) (*exporter.Output, error)
}

// Limits bound the files producers write
type Limits struct {
	RowCapacity   int
	ColCapacity   int
	ProgressEvery int
	TempDir       string
}

// Session carries what a producer needs for one run
type Session struct {
	// Job is a copy of the job being run
	Job      *Job
	Location *time.Location
	Logger   *slog.Logger
	Limits   Limits

	onSheet func(index int, name string)
	tables  []*exporter.TableExporter
}

// NewTable starts a table exporter configured for this run. The session
// keeps track of it to report rows written.
func (s *Session) NewTable(name string, columns []string, widths ...float64) (*exporter.TableExporter, error) {
	table, err := exporter.New(exporter.TableSpec{
		Name:        name,
		Columns:     columns,
		Widths:      widths,
		RowCapacity: s.Limits.RowCapacity,
		ColCapacity: s.Limits.ColCapacity,
	}, exporter.Options{
		Location:      s.Location,
		Logger:        s.Logger,
		ProgressEvery: s.Limits.ProgressEvery,
		TempDir:       s.Limits.TempDir,
		OnSheet:       s.onSheet,
	})
	if err != nil {
		return nil, err
	}
	s.tables = append(s.tables, table)
	return table, nil
}

// Rows returns the number of rows written by every table of the session
func (s *Session) Rows() int64 {
	var n int64
	for _, t := range s.tables {
		n += t.Rows()
	}
	return n
}

// close releases tables a producer left open
func (s *Session) close() {
	for _, t := range s.tables {
		t.Close()
	}
	s.tables = nil
}
