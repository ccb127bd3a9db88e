package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/Benevox/rapidpro/internal/assets"
	"github.com/Benevox/rapidpro/internal/config"
	apierrors "github.com/Benevox/rapidpro/internal/errors"
	"github.com/Benevox/rapidpro/internal/exports"
	"github.com/Benevox/rapidpro/internal/exports/sources"
	"github.com/Benevox/rapidpro/internal/infrastructure"
	"github.com/Benevox/rapidpro/internal/middleware"
	"github.com/Benevox/rapidpro/internal/notify"
	"github.com/Benevox/rapidpro/internal/retention"
	handlers "github.com/Benevox/rapidpro/internal/transport/http"
	ws "github.com/Benevox/rapidpro/internal/websocket"
	"github.com/Benevox/rapidpro/pkg/contracts"
)

const (
	// AssetsPrefix is where filesystem assets are served
	AssetsPrefix = "/assets"

	runtimeMetricsInterval = 30 * time.Second
)

// Application holds every component of the export service
type Application struct {
	Config *config.Config
	Paths  config.Paths
	Logger *slog.Logger

	OTel    *infrastructure.OTelProviders
	Metrics *infrastructure.ExportMetrics
	Runtime *infrastructure.RuntimeMetrics

	Store     exports.JobStore
	Assets    assets.Store
	Registry  *exports.Registry
	Runner    *exports.Runner
	Queue     *exports.JobQueue
	Service   *exports.Service
	Hub       *ws.Hub
	Retention *retention.Scheduler

	Router *chi.Mux
	Server *http.Server

	startTime time.Time
	db        *Database
}

// NewApplication loads the configuration from configPath (or the default
// locations when empty), initializes logging and builds the application
// rooted at the working directory
func NewApplication(configPath string) (*Application, error) {
	var (
		cfg *config.Config
		err error
	)
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	baseDir, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get working directory: %w", err)
	}

	return New(context.Background(), cfg, baseDir, logger)
}

// New wires the application from cfg. Relative paths in cfg are resolved
// against baseDir.
func New(ctx context.Context, cfg *config.Config, baseDir string, logger *slog.Logger) (*Application, error) {
	if logger == nil {
		logger = slog.Default()
	}

	a := &Application{
		Config:    cfg,
		Paths:     cfg.ResolvePaths(baseDir),
		Logger:    logger,
		startTime: time.Now(),
	}

	logger.InfoContext(ctx, "Application starting",
		slog.String("version", contracts.Version),
		slog.String("base_dir", baseDir),
		slog.String("storage", cfg.Storage.Driver),
		slog.String("assets", cfg.Assets.Provider))

	if err := a.Paths.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("failed to ensure directories: %w", err)
	}
	a.Paths.LogPathResolution(logger)

	if err := a.initializeTelemetry(); err != nil {
		return nil, err
	}
	if err := a.initializeServices(ctx); err != nil {
		a.closeStore()
		return nil, err
	}
	a.setupRouter()
	a.createServer()

	return a, nil
}

func (a *Application) initializeTelemetry() error {
	tel := a.Config.Telemetry
	otelCfg := infrastructure.DefaultOTelConfig()
	otelCfg.ServiceVersion = contracts.Version
	otelCfg.Environment = tel.Environment
	otelCfg.EnableTracing = tel.EnableTracing
	otelCfg.EnableMetrics = tel.EnableMetrics
	otelCfg.TraceExporter = tel.TraceExporter
	otelCfg.MetricExporter = tel.MetricExporter
	otelCfg.SampleRatio = tel.SampleRatio

	providers, err := infrastructure.InitializeOTel(otelCfg, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}
	a.OTel = providers

	a.Metrics, err = infrastructure.CreateExportMetrics(providers.Meter)
	if err != nil {
		return fmt.Errorf("failed to create export metrics: %w", err)
	}
	a.Runtime, err = infrastructure.NewRuntimeMetrics(providers.Meter, runtimeMetricsInterval)
	if err != nil {
		return fmt.Errorf("failed to create runtime metrics: %w", err)
	}
	return nil
}

func (a *Application) initializeServices(ctx context.Context) error {
	cfg := a.Config

	db, err := OpenDatabase(ctx, cfg.Storage, a.Paths, a.Logger)
	if err != nil {
		return err
	}
	a.db = db
	a.Store = db.Store

	a.Assets, err = OpenAssets(cfg.Assets, a.Paths, a.Logger)
	if err != nil {
		return err
	}

	a.Registry, err = BuildRegistry(cfg.Export.Kinds, a.Paths.DataDir, db.SQL, db.Pool)
	if err != nil {
		return err
	}

	timezones, err := exports.NewStaticTimezones(cfg.Export.DefaultTimezone, cfg.Export.Timezones)
	if err != nil {
		return fmt.Errorf("invalid timezone configuration: %w", err)
	}

	wsMetrics, err := ws.NewMetrics(a.OTel.Meter)
	if err != nil {
		return fmt.Errorf("failed to create websocket metrics: %w", err)
	}
	a.Hub = ws.NewHub(a.Logger, wsMetrics)

	a.Runner = exports.NewRunner(a.Store, a.Registry, a.Assets,
		exports.WithNotifier(notify.Notifiers{
			notify.NewHubNotifier(a.Hub),
			notify.NewLogNotifier(a.Logger),
		}),
		exports.WithLatencyTracker(notify.Trackers{
			notify.NewMetricsTracker(a.Metrics.Latency),
			notify.NewLogTracker(a.Logger),
		}),
		exports.WithTimezones(timezones),
		exports.WithTracer(exports.NewTracer(a.Metrics)),
		exports.WithLogger(a.Logger),
		exports.WithLimits(exportLimits(cfg.Export, a.Paths)),
		exports.WithAnalyticsNamespace(cfg.Export.AnalyticsNamespace),
		exports.WithFreeOSMemory(cfg.Export.FreeOSMemory),
	)

	a.Queue = exports.NewJobQueue(cfg.Export.Workers, cfg.Export.QueueSize, a.Runner, a.Store, a.Logger)

	var guard *exports.Guard
	if !cfg.Export.DisableGuard {
		guard = exports.NewGuard(a.Store, cfg.Export.RecencyWindow)
	}
	a.Service = exports.NewService(a.Store, a.Registry, guard, a.Queue, a.Assets, a.Logger)

	if cfg.Retention.Enabled {
		pruner := retention.NewPruner(a.Store, a.Assets, retention.Config{
			MaxAge:   cfg.Retention.MaxAge,
			Schedule: cfg.Retention.Schedule,
		}, a.Logger).WithMetrics(a.Metrics.JobsPruned)
		a.Retention = retention.NewScheduler(pruner, a.Logger)
	}

	a.Logger.InfoContext(ctx, "Services initialized",
		slog.Int("kinds", a.Registry.Count()),
		slog.Int("workers", cfg.Export.Workers),
		slog.Bool("guard", guard != nil),
		slog.Bool("retention", a.Retention != nil))
	return nil
}

func exportLimits(cfg config.ExportConfig, paths config.Paths) exports.Limits {
	return exports.Limits{
		RowCapacity:   cfg.RowCapacity,
		ColCapacity:   cfg.ColumnCapacity,
		ProgressEvery: cfg.ProgressEvery,
		TempDir:       paths.TempDir,
	}
}

func (a *Application) setupRouter() {
	cfg := a.Config
	errorHandler := apierrors.NewErrorHandler(a.Logger, cfg.Telemetry.Environment == "development")

	var limiter *middleware.RateLimiter
	if cfg.RateLimit.Enabled {
		limiter = middleware.NewRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst, middleware.KeyByIP, a.Logger)
	}

	var pinger handlers.Pinger
	if a.db != nil && a.db.ping != nil {
		pinger = a.db
	}

	routerCfg := handlers.RouterConfig{
		Exports:      handlers.NewExportsHandler(a.Service, errorHandler, limiter, a.Logger),
		Health:       handlers.NewHealthHandler(handlers.HealthInfo{Version: contracts.Version, StartTime: a.startTime, Queue: a.Queue, Hub: a.Hub, Store: pinger}, a.Logger),
		ErrorHandler: errorHandler,
		WebSocket: ws.NewHandler(a.Hub, ws.HandlerConfig{
			ReadBufferSize:  cfg.WebSocket.ReadBufferSize,
			WriteBufferSize: cfg.WebSocket.WriteBufferSize,
			AllowedOrigins:  cfg.Server.AllowedOrigins,
		}, a.Logger),
		Metrics: a.OTel.PrometheusHTTP,
		OTel:    middleware.NewOTelMiddleware(a.OTel.Tracer, a.Metrics, a.Logger),
		CORS: middleware.CORSConfig{
			AllowedOrigins: cfg.Server.AllowedOrigins,
			Logger:         a.Logger,
		},
		Logger: a.Logger,
	}
	if fs, ok := a.Assets.(*assets.FileStore); ok {
		routerCfg.AssetsDir = fs.Dir()
		routerCfg.AssetsPrefix = AssetsPrefix
	}

	a.Router = handlers.NewRouter(routerCfg)
}

func (a *Application) createServer() {
	s := a.Config.Server
	a.Server = &http.Server{
		Addr:           s.Addr(),
		Handler:        a.Router,
		ReadTimeout:    s.ReadTimeout,
		WriteTimeout:   s.WriteTimeout,
		IdleTimeout:    s.IdleTimeout,
		MaxHeaderBytes: s.MaxHeaderBytes,
	}
}

// Start starts the background components: the hub, the export queue
// (recovering unfinished jobs) and the retention scheduler
func (a *Application) Start(ctx context.Context) error {
	a.Hub.Start()

	if err := a.Queue.Start(ctx); err != nil {
		return err
	}

	if a.Retention != nil {
		if err := a.Retention.Start(ctx); err != nil {
			return fmt.Errorf("failed to start retention scheduler: %w", err)
		}
	}
	return nil
}

// Run starts the application and serves HTTP until ctx is done or the
// server fails, then shuts everything down
func (a *Application) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := a.Start(ctx); err != nil {
		a.Stop(context.Background())
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.Logger.InfoContext(gctx, "HTTP server listening", slog.String("address", a.Server.Addr))
		if err := a.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return a.Runtime.Run(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		return a.Stop(context.Background())
	})

	return g.Wait()
}

// RunUntilSignal runs the application until SIGINT or SIGTERM
func (a *Application) RunUntilSignal() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return a.Run(ctx)
}

// Stop shuts the application down: the HTTP server first, then the
// export queue, the hub, the stores and telemetry
func (a *Application) Stop(ctx context.Context) error {
	a.Logger.InfoContext(ctx, "Shutting down application")

	shutdownCtx, cancel := context.WithTimeout(ctx, a.Config.Server.ShutdownTimeout)
	defer cancel()

	var errs []error
	if err := a.Server.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("server shutdown: %w", err))
	}

	if a.Retention != nil {
		a.Retention.Stop()
	}

	if err := a.Queue.Stop(a.Config.Export.StopTimeout); err != nil {
		a.Logger.ErrorContext(ctx, "Failed to stop export queue gracefully", slog.String("error", err.Error()))
	}

	a.Hub.Stop()
	a.closeStore()

	if a.OTel != nil {
		if err := a.OTel.Shutdown(shutdownCtx); err != nil {
			a.Logger.ErrorContext(ctx, "Error shutting down OpenTelemetry", slog.String("error", err.Error()))
		}
	}

	a.Logger.InfoContext(ctx, "Application shutdown complete")
	return errors.Join(errs...)
}

func (a *Application) closeStore() {
	if a.db == nil {
		return
	}
	if err := a.db.Close(); err != nil {
		a.Logger.Error("Failed to close job store", slog.String("error", err.Error()))
	}
	a.db = nil
}

// BuildRegistry registers a table producer for each configured kind. Kinds
// with a query read from db or pool, whichever is set; the others read the
// CSV file named by the job's path parameter inside dataDir.
func BuildRegistry(kinds []config.KindConfig, dataDir string, db *sql.DB, pool *pgxpool.Pool) (*exports.Registry, error) {
	registry := exports.NewRegistry()
	for _, k := range kinds {
		info := exports.KindInfo{Kind: k.Kind, AnalyticsKey: k.AnalyticsKey}

		var open sources.Opener
		switch {
		case k.Query == "":
			open = sources.CSVFileOpener(dataDir)
		case pool != nil:
			open = sources.PgxQueryOpener(pool, k.Query, k.QueryParams...)
		case db != nil:
			open = sources.SQLQueryOpener(db, k.Query, k.QueryParams...)
		default:
			return nil, fmt.Errorf("export kind %q has a query but the job store is not a SQL database", k.Kind)
		}

		if err := registry.Register(sources.NewTableProducer(info, k.Table, open, k.Widths...)); err != nil {
			return nil, fmt.Errorf("failed to register export kind %q: %w", k.Kind, err)
		}
	}
	return registry, nil
}
