package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/render"

	"github.com/Benevox/rapidpro/internal/exports"
	"github.com/Benevox/rapidpro/internal/infrastructure"
)

// QueueStats reports the load of the job queue
type QueueStats interface {
	Stats() exports.QueueStats
}

// ConnectionStats reports websocket counters
type ConnectionStats interface {
	ClientCount() int
}

// Pinger checks that a backing store is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthInfo is what the health handler reports on
type HealthInfo struct {
	Version   string
	StartTime time.Time
	Queue     QueueStats
	Hub       ConnectionStats
	// Store is checked by the readiness probe; nil means always ready
	Store Pinger
}

// HealthHandler handles health-related HTTP requests
type HealthHandler struct {
	info   HealthInfo
	logger *slog.Logger
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(info HealthInfo, logger *slog.Logger) *HealthHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if info.StartTime.IsZero() {
		info.StartTime = time.Now()
	}
	return &HealthHandler{
		info:   info,
		logger: logger.With(slog.String("handler", "health")),
	}
}

// HealthCheck handles GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"status":    "ok",
		"version":   h.info.Version,
		"timestamp": time.Now().UTC(),
		"runtime":   infrastructure.CurrentRuntimeStats(h.info.StartTime),
	}
	if h.info.Queue != nil {
		resp["queue"] = h.info.Queue.Stats()
	}
	if h.info.Hub != nil {
		resp["websocket_clients"] = h.info.Hub.ClientCount()
	}
	render.JSON(w, r, resp)
}

// ReadinessCheck handles GET /api/health/ready
func (h *HealthHandler) ReadinessCheck(w http.ResponseWriter, r *http.Request) {
	if h.info.Store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.info.Store.Ping(ctx); err != nil {
			h.logger.WarnContext(ctx, "job store not ready", slog.String("error", err.Error()))
			render.Status(r, http.StatusServiceUnavailable)
			render.JSON(w, r, map[string]interface{}{
				"status": "unavailable",
				"error":  "job store unreachable",
			})
			return
		}
	}
	render.JSON(w, r, map[string]interface{}{"status": "ready"})
}

// LivenessCheck handles GET /api/health/live
func (h *HealthHandler) LivenessCheck(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, map[string]interface{}{"status": "alive"})
}
