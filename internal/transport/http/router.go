package http

import (
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	apierrors "github.com/Benevox/rapidpro/internal/errors"
	"github.com/Benevox/rapidpro/internal/middleware"
)

// RouterConfig holds the handlers and middleware settings of the router
type RouterConfig struct {
	Exports      *ExportsHandler
	Health       *HealthHandler
	ErrorHandler *apierrors.ErrorHandler
	// WebSocket is served at /ws without the response-wrapping middleware
	WebSocket http.Handler
	// Metrics, when set, is served at /metrics
	Metrics http.Handler
	// AssetsDir, when set, is served under AssetsPrefix
	AssetsDir    string
	AssetsPrefix string
	OTel         *middleware.OTelMiddleware
	CORS         middleware.CORSConfig
	Logger       *slog.Logger
}

// NewRouter builds the HTTP router
func NewRouter(cfg RouterConfig) *chi.Mux {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	errorHandler := cfg.ErrorHandler
	if errorHandler == nil {
		errorHandler = apierrors.NewErrorHandler(logger, false)
	}

	r := chi.NewRouter()
	r.NotFound(errorHandler.NotFound)
	r.MethodNotAllowed(errorHandler.MethodNotAllowed)

	// these do not wrap the ResponseWriter, so websocket upgrades survive
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)

	if cfg.WebSocket != nil {
		r.Handle("/ws", cfg.WebSocket)
	}
	if cfg.Metrics != nil {
		r.Handle("/metrics", cfg.Metrics)
	}

	r.Group(func(r chi.Router) {
		// RequestID → RealIP → OTel → Logger → Recoverer
		if cfg.OTel != nil {
			r.Use(cfg.OTel.Handler)
		}
		r.Use(middleware.StructuredLogger(logger))
		r.Use(apierrors.RecoveryMiddleware(errorHandler))
		r.Use(middleware.SecurityHeaders)
		r.Use(middleware.CORS(cfg.CORS))

		r.Route("/api", func(r chi.Router) {
			r.Use(render.SetContentType(render.ContentTypeJSON))

			if cfg.Health != nil {
				r.Get("/health", cfg.Health.HealthCheck)
				r.Get("/health/ready", cfg.Health.ReadinessCheck)
				r.Get("/health/live", cfg.Health.LivenessCheck)
			}
			if cfg.Exports != nil {
				r.Mount("/exports", cfg.Exports.Routes())
			}
		})

		if cfg.AssetsDir != "" {
			prefix := "/" + strings.Trim(cfg.AssetsPrefix, "/")
			if prefix == "/" {
				prefix = "/assets"
			}
			r.Route(prefix, func(r chi.Router) {
				r.Use(chimw.SetHeader("Content-Disposition", "attachment"))
				r.Handle("/*", http.StripPrefix(prefix, http.FileServer(noListing{http.Dir(cfg.AssetsDir)})))
			})
		}
	})

	return r
}

// noListing hides directory indexes of the asset directory
type noListing struct {
	fs http.FileSystem
}

func (n noListing) Open(name string) (http.File, error) {
	f, err := n.fs.Open(name)
	if err != nil {
		return nil, err
	}
	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if stat.IsDir() {
		f.Close()
		return nil, os.ErrNotExist
	}
	return f, nil
}
