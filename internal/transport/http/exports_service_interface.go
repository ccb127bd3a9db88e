package http

import (
	"context"
	"io"

	"github.com/Benevox/rapidpro/internal/exports"
)

// ExportService is what the export endpoints need from the export service
type ExportService interface {
	Request(ctx context.Context, req exports.Request) (*exports.Result, error)
	Get(ctx context.Context, id string) (*exports.Job, error)
	List(ctx context.Context, filter exports.JobFilter) ([]*exports.Job, error)
	Kinds() []exports.KindInfo
	DownloadURL(ctx context.Context, job *exports.Job) (string, error)
	Open(ctx context.Context, job *exports.Job) (io.ReadCloser, error)
}

var _ ExportService = (*exports.Service)(nil)
