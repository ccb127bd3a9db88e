package http

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	apierrors "github.com/Benevox/rapidpro/internal/errors"
	"github.com/Benevox/rapidpro/internal/exporter"
	"github.com/Benevox/rapidpro/internal/exports"
	"github.com/Benevox/rapidpro/internal/middleware"
	"github.com/Benevox/rapidpro/internal/notify"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

var statusValues = []string{
	string(exports.StatusPending),
	string(exports.StatusProcessing),
	string(exports.StatusComplete),
	string(exports.StatusFailed),
}

// CreateExportRequest is the body of POST /api/exports
type CreateExportRequest struct {
	OrgID     string            `json:"org_id" validate:"required,identifier"`
	Kind      string            `json:"kind" validate:"required,identifier"`
	CreatedBy string            `json:"created_by,omitempty" validate:"omitempty,max=128"`
	Params    map[string]string `json:"params,omitempty" validate:"omitempty,max=32,dive,keys,identifier,endkeys,max=1024"`
}

// ExportResponse describes an export job
type ExportResponse struct {
	*exports.Job
	IsReady     bool   `json:"is_ready"`
	DownloadURL string `json:"download_url,omitempty"`
	Reused      bool   `json:"reused,omitempty"`
}

// KindResponse describes an export kind
type KindResponse struct {
	Kind             string `json:"kind"`
	AnalyticsKey     string `json:"analytics_key,omitempty"`
	AssetType        string `json:"asset_type,omitempty"`
	NotificationType string `json:"notification_type,omitempty"`
}

// ExportsHandler handles the export endpoints
type ExportsHandler struct {
	service      ExportService
	validator    *middleware.Validator
	errorHandler *apierrors.ErrorHandler
	limiter      *middleware.RateLimiter
	logger       *slog.Logger
	tracer       trace.Tracer
}

// NewExportsHandler creates the handler. A nil limiter leaves requests
// unlimited.
func NewExportsHandler(service ExportService, errorHandler *apierrors.ErrorHandler, limiter *middleware.RateLimiter, logger *slog.Logger) *ExportsHandler {
	if service == nil {
		panic("service cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if errorHandler == nil {
		errorHandler = apierrors.NewErrorHandler(logger, false)
	}
	return &ExportsHandler{
		service:      service,
		validator:    middleware.NewValidator(),
		errorHandler: errorHandler,
		limiter:      limiter,
		logger:       logger.With(slog.String("handler", "exports")),
		tracer:       otel.Tracer("exports-handler"),
	}
}

// Routes returns the export routes, to be mounted under /api/exports
func (h *ExportsHandler) Routes() chi.Router {
	r := chi.NewRouter()

	create := http.Handler(http.HandlerFunc(h.CreateExport))
	if h.limiter != nil {
		create = h.limiter.Handler(create)
	}
	r.Method(http.MethodPost, "/", create)
	r.Get("/", h.ListExports)
	r.Get("/kinds", h.ListKinds)
	r.Get("/{id}", h.GetExport)
	r.Get("/{id}/download", h.Download)
	return r
}

// CreateExport handles POST /api/exports
func (h *ExportsHandler) CreateExport(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "exports_handler.create")
	defer span.End()
	r = r.WithContext(ctx)

	var req CreateExportRequest
	if err := h.validator.DecodeJSON(w, r, &req); err != nil {
		span.SetStatus(codes.Error, "invalid request")
		h.errorHandler.HandleError(w, r, err)
		return
	}
	span.SetAttributes(
		attribute.String("export.org_id", req.OrgID),
		attribute.String("export.kind", req.Kind),
	)

	result, err := h.service.Request(ctx, exports.Request{
		OrgID:     req.OrgID,
		Kind:      req.Kind,
		CreatedBy: req.CreatedBy,
		Params:    req.Params,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "request failed")
		h.errorHandler.HandleError(w, r, err)
		return
	}
	span.SetAttributes(
		attribute.String("export.id", result.Job.ID),
		attribute.Bool("export.reused", result.Reused),
	)

	status := http.StatusCreated
	if result.Reused {
		status = http.StatusOK
	} else {
		w.Header().Set("Location", "/api/exports/"+result.Job.ID)
	}

	resp := toResponse(result.Job)
	resp.Reused = result.Reused
	render.Status(r, status)
	render.JSON(w, r, resp)
}

// GetExport handles GET /api/exports/{id}
func (h *ExportsHandler) GetExport(w http.ResponseWriter, r *http.Request) {
	job, ok := h.loadJob(w, r)
	if !ok {
		return
	}
	render.JSON(w, r, toResponse(job))
}

// ListExports handles GET /api/exports?org_id=&kind=&status=&limit=
func (h *ExportsHandler) ListExports(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	orgID := query.Get("org_id")
	if orgID == "" {
		h.errorHandler.HandleError(w, r, apierrors.ErrValidation("org_id", "org_id is required"))
		return
	}

	limit, err := middleware.QueryInt(r, "limit", 1, maxListLimit, defaultListLimit)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	statuses, err := middleware.QueryEnum(r, "status", statusValues)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	filter := exports.JobFilter{
		OrgID:       orgID,
		Kind:        query.Get("kind"),
		NewestFirst: true,
		Limit:       limit,
	}
	for _, s := range statuses {
		filter.Statuses = append(filter.Statuses, exports.Status(s))
	}
	if since := query.Get("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			h.errorHandler.HandleError(w, r, apierrors.ErrValidation("since", "since must be an RFC 3339 timestamp"))
			return
		}
		filter.CreatedAfter = t
	}

	jobs, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	items := make([]ExportResponse, 0, len(jobs))
	for _, job := range jobs {
		items = append(items, toResponse(job))
	}
	render.JSON(w, r, map[string]interface{}{
		"exports": items,
		"count":   len(items),
	})
}

// ListKinds handles GET /api/exports/kinds
func (h *ExportsHandler) ListKinds(w http.ResponseWriter, r *http.Request) {
	kinds := h.service.Kinds()
	out := make([]KindResponse, 0, len(kinds))
	for _, k := range kinds {
		out = append(out, KindResponse{
			Kind:             k.Kind,
			AnalyticsKey:     k.AnalyticsKey,
			AssetType:        k.AssetType,
			NotificationType: k.NotificationType,
		})
	}
	render.JSON(w, r, map[string]interface{}{"kinds": out})
}

// Download handles GET /api/exports/{id}/download. Absolute asset links
// are redirected to; anything else is streamed. ?stream=true always
// streams.
func (h *ExportsHandler) Download(w http.ResponseWriter, r *http.Request) {
	job, ok := h.loadJob(w, r)
	if !ok {
		return
	}
	ctx, span := h.tracer.Start(r.Context(), "exports_handler.download",
		trace.WithAttributes(attribute.String("export.id", job.ID)))
	defer span.End()

	stream, _ := strconv.ParseBool(r.URL.Query().Get("stream"))
	if !stream {
		link, err := h.service.DownloadURL(ctx, job)
		if err != nil {
			span.RecordError(err)
			h.errorHandler.HandleError(w, r, err)
			return
		}
		if u, err := url.Parse(link); err == nil && u.IsAbs() {
			http.Redirect(w, r, link, http.StatusFound)
			return
		}
	}

	rc, err := h.service.Open(ctx, job)
	if err != nil {
		span.RecordError(err)
		h.errorHandler.HandleError(w, r, err)
		return
	}
	defer rc.Close()

	key := exports.AssetKey(job)
	w.Header().Set("Content-Type", exporter.ContentType(job.Extension))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", key.Filename()))
	n, err := io.Copy(w, rc)
	if err != nil {
		h.logger.WarnContext(ctx, "download interrupted",
			slog.String("export_id", job.ID),
			slog.Int64("bytes", n),
			slog.String("error", err.Error()))
		return
	}
	span.SetAttributes(attribute.Int64("export.bytes", n))
}

func (h *ExportsHandler) loadJob(w http.ResponseWriter, r *http.Request) (*exports.Job, bool) {
	id := chi.URLParam(r, "id")
	if err := h.validator.ValidateVar("id", id, "required,uuid"); err != nil {
		h.errorHandler.HandleError(w, r, apierrors.ErrExportNotFound)
		return nil, false
	}
	job, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return nil, false
	}
	return job, true
}

func toResponse(job *exports.Job) ExportResponse {
	resp := ExportResponse{Job: job, IsReady: job.IsAssetReady()}
	if resp.IsReady {
		resp.DownloadURL = notify.DownloadPath(job)
	}
	return resp
}
