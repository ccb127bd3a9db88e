package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// EnvPrefix prefixes every environment variable read by Load
const EnvPrefix = "EXPORT"

// ConfigFileEnv names the variable pointing at an explicit config file
const ConfigFileEnv = "EXPORT_CONFIG"

// Config represents the complete application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" envconfig:"SERVER"`
	Logging   LoggingConfig   `yaml:"logging" envconfig:"LOGGING"`
	Export    ExportConfig    `yaml:"export" envconfig:"EXPORT"`
	Storage   StorageConfig   `yaml:"storage" envconfig:"STORAGE"`
	Assets    AssetsConfig    `yaml:"assets" envconfig:"ASSETS"`
	Retention RetentionConfig `yaml:"retention" envconfig:"RETENTION"`
	Telemetry TelemetryConfig `yaml:"telemetry" envconfig:"TELEMETRY"`
	RateLimit RateLimitConfig `yaml:"rate_limit" envconfig:"RATE_LIMIT"`
	WebSocket WebSocketConfig `yaml:"websocket" envconfig:"WEBSOCKET"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host            string        `yaml:"host" envconfig:"HOST"`
	Port            int           `yaml:"port" envconfig:"PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" envconfig:"IDLE_TIMEOUT"`
	MaxHeaderBytes  int           `yaml:"max_header_bytes" envconfig:"MAX_HEADER_BYTES"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT"`
	AllowedOrigins  []string      `yaml:"allowed_origins" envconfig:"ALLOWED_ORIGINS"`
}

// Addr returns the listen address
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level    string `yaml:"level" envconfig:"LEVEL"`
	Format   string `yaml:"format" envconfig:"FORMAT"`
	Output   string `yaml:"output" envconfig:"OUTPUT"`
	FilePath string `yaml:"file_path" envconfig:"FILE_PATH"`
}

// ExportConfig bounds export files and sizes the worker pool
type ExportConfig struct {
	// RowCapacity is the number of data rows per sheet; 0 uses the format limit
	RowCapacity        int           `yaml:"row_capacity" envconfig:"ROW_CAPACITY"`
	ColumnCapacity     int           `yaml:"column_capacity" envconfig:"COLUMN_CAPACITY"`
	ProgressEvery      int           `yaml:"progress_every" envconfig:"PROGRESS_EVERY"`
	RecencyWindow      time.Duration `yaml:"recency_window" envconfig:"RECENCY_WINDOW"`
	DisableGuard       bool          `yaml:"disable_guard" envconfig:"DISABLE_GUARD"`
	TempDir            string        `yaml:"temp_dir" envconfig:"TEMP_DIR"`
	DataDir            string        `yaml:"data_dir" envconfig:"DATA_DIR"`
	Workers            int           `yaml:"workers" envconfig:"WORKERS"`
	QueueSize          int           `yaml:"queue_size" envconfig:"QUEUE_SIZE"`
	StopTimeout        time.Duration `yaml:"stop_timeout" envconfig:"STOP_TIMEOUT"`
	AnalyticsNamespace string        `yaml:"analytics_namespace" envconfig:"ANALYTICS_NAMESPACE"`
	FreeOSMemory       bool          `yaml:"free_os_memory" envconfig:"FREE_OS_MEMORY"`
	DefaultTimezone    string        `yaml:"default_timezone" envconfig:"DEFAULT_TIMEZONE"`
	// Timezones maps organization ids to IANA zone names
	Timezones map[string]string `yaml:"timezones" envconfig:"TIMEZONES"`
	// Kinds lists the exports the service can produce; file only
	Kinds []KindConfig `yaml:"kinds" ignored:"true"`
}

// KindConfig describes one export kind. Rows come from Query when it is set
// and the job store is a SQL database, otherwise from the CSV file named by
// the job's path parameter under DataDir.
type KindConfig struct {
	Kind         string    `yaml:"kind"`
	Table        string    `yaml:"table"`
	AnalyticsKey string    `yaml:"analytics_key"`
	Query        string    `yaml:"query"`
	QueryParams  []string  `yaml:"query_params"`
	Widths       []float64 `yaml:"widths"`
}

// StorageConfig selects where jobs are persisted
type StorageConfig struct {
	// Driver is one of memory, sqlite or postgres
	Driver      string        `yaml:"driver" envconfig:"DRIVER"`
	SQLitePath  string        `yaml:"sqlite_path" envconfig:"SQLITE_PATH"`
	PostgresURL string        `yaml:"postgres_url" envconfig:"POSTGRES_URL"`
	MaxConns    int           `yaml:"max_conns" envconfig:"MAX_CONNS"`
	BusyTimeout time.Duration `yaml:"busy_timeout" envconfig:"BUSY_TIMEOUT"`
}

// AssetsConfig selects where finished files are stored
type AssetsConfig struct {
	// Provider is one of filesystem or s3
	Provider       string        `yaml:"provider" envconfig:"PROVIDER"`
	Dir            string        `yaml:"dir" envconfig:"DIR"`
	BaseURL        string        `yaml:"base_url" envconfig:"BASE_URL"`
	Bucket         string        `yaml:"bucket" envconfig:"BUCKET"`
	Region         string        `yaml:"region" envconfig:"REGION"`
	Endpoint       string        `yaml:"endpoint" envconfig:"ENDPOINT"`
	Prefix         string        `yaml:"prefix" envconfig:"PREFIX"`
	AccessKey      string        `yaml:"access_key" envconfig:"ACCESS_KEY"`
	SecretKey      string        `yaml:"secret_key" envconfig:"SECRET_KEY"`
	ForcePathStyle bool          `yaml:"force_path_style" envconfig:"FORCE_PATH_STYLE"`
	URLExpiry      time.Duration `yaml:"url_expiry" envconfig:"URL_EXPIRY"`
}

// RetentionConfig controls pruning of finished jobs
type RetentionConfig struct {
	Enabled  bool          `yaml:"enabled" envconfig:"ENABLED"`
	Schedule string        `yaml:"schedule" envconfig:"SCHEDULE"`
	MaxAge   time.Duration `yaml:"max_age" envconfig:"MAX_AGE"`
}

// TelemetryConfig configures OpenTelemetry
type TelemetryConfig struct {
	Environment    string  `yaml:"environment" envconfig:"ENVIRONMENT"`
	EnableTracing  bool    `yaml:"enable_tracing" envconfig:"ENABLE_TRACING"`
	EnableMetrics  bool    `yaml:"enable_metrics" envconfig:"ENABLE_METRICS"`
	TraceExporter  string  `yaml:"trace_exporter" envconfig:"TRACE_EXPORTER"`
	MetricExporter string  `yaml:"metric_exporter" envconfig:"METRIC_EXPORTER"`
	SampleRatio    float64 `yaml:"sample_ratio" envconfig:"SAMPLE_RATIO"`
}

// RateLimitConfig contains rate limiting configuration for export requests
type RateLimitConfig struct {
	Enabled bool    `yaml:"enabled" envconfig:"ENABLED"`
	RPS     float64 `yaml:"rps" envconfig:"RPS"`
	Burst   int     `yaml:"burst" envconfig:"BURST"`
}

// WebSocketConfig contains WebSocket configuration
type WebSocketConfig struct {
	ReadBufferSize  int `yaml:"read_buffer_size" envconfig:"READ_BUFFER_SIZE"`
	WriteBufferSize int `yaml:"write_buffer_size" envconfig:"WRITE_BUFFER_SIZE"`
}

// Load builds the configuration from defaults, then the config file if one
// is found, then EXPORT_* environment variables.
func Load() (*Config, error) {
	return LoadFile(getConfigFilePath())
}

// LoadFile is Load with an explicit config file; an empty path skips the file
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := loadFromFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// loadFromFile overlays the YAML file onto cfg; keys missing from the file
// keep their current values
func loadFromFile(filePath string, cfg *Config) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return err
	}
	return yaml.UnmarshalStrict(data, cfg)
}

// validate validates the configuration and normalizes enumerations
func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("server read timeout must be positive")
	}
	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server write timeout must be positive")
	}

	c.Logging.Output = strings.ToLower(c.Logging.Output)
	switch c.Logging.Output {
	case "console", "file", "both":
	default:
		return fmt.Errorf("invalid logging output %q", c.Logging.Output)
	}
	if c.Logging.Output != "console" && c.Logging.FilePath == "" {
		return fmt.Errorf("logging file path is required for output %q", c.Logging.Output)
	}
	// always JSON
	c.Logging.Format = "json"

	if c.Export.RowCapacity < 0 {
		return fmt.Errorf("export row capacity must not be negative")
	}
	if c.Export.ColumnCapacity < 0 {
		return fmt.Errorf("export column capacity must not be negative")
	}
	if c.Export.Workers <= 0 {
		return fmt.Errorf("export workers must be positive")
	}
	if c.Export.QueueSize <= 0 {
		return fmt.Errorf("export queue size must be positive")
	}
	if c.Export.RecencyWindow < 0 {
		return fmt.Errorf("export recency window must not be negative")
	}
	seen := make(map[string]bool, len(c.Export.Kinds))
	for i, k := range c.Export.Kinds {
		if k.Kind == "" || k.Table == "" {
			return fmt.Errorf("export kind %d needs a kind and a table", i)
		}
		if seen[k.Kind] {
			return fmt.Errorf("export kind %q is defined twice", k.Kind)
		}
		seen[k.Kind] = true
	}

	c.Storage.Driver = strings.ToLower(c.Storage.Driver)
	switch c.Storage.Driver {
	case "memory":
	case "sqlite":
		if c.Storage.SQLitePath == "" {
			return fmt.Errorf("storage sqlite_path is required for the sqlite driver")
		}
	case "postgres":
		if c.Storage.PostgresURL == "" {
			return fmt.Errorf("storage postgres_url is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}

	c.Assets.Provider = strings.ToLower(c.Assets.Provider)
	switch c.Assets.Provider {
	case "filesystem":
		if c.Assets.Dir == "" {
			return fmt.Errorf("assets dir is required for the filesystem provider")
		}
	case "s3":
		if c.Assets.Bucket == "" {
			return fmt.Errorf("assets bucket is required for the s3 provider")
		}
	default:
		return fmt.Errorf("unknown assets provider %q", c.Assets.Provider)
	}

	if c.Retention.Enabled {
		if c.Retention.Schedule == "" {
			return fmt.Errorf("retention schedule is required when retention is enabled")
		}
		if c.Retention.MaxAge <= 0 {
			return fmt.Errorf("retention max age must be positive")
		}
	}

	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry sample ratio must be between 0 and 1")
	}

	if c.RateLimit.Enabled && (c.RateLimit.RPS <= 0 || c.RateLimit.Burst <= 0) {
		return fmt.Errorf("rate limit rps and burst must be positive")
	}

	return nil
}

// getConfigFilePath returns the path to the config file
func getConfigFilePath() string {
	if path := os.Getenv(ConfigFileEnv); path != "" {
		return path
	}

	locations := []string{
		"config.yaml",
		"configs/config.yaml",
		"../configs/config.yaml",
	}

	for _, location := range locations {
		if _, err := os.Stat(location); err == nil {
			return location
		}
	}

	return "" // No config file found, use env vars only
}

// Default returns default configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    60 * time.Second,
			IdleTimeout:     60 * time.Second,
			MaxHeaderBytes:  1 << 20, // 1MB
			ShutdownTimeout: 30 * time.Second,
			AllowedOrigins:  []string{"http://localhost:8080"},
		},
		Logging: LoggingConfig{
			Level:    "info",
			Format:   "json",
			Output:   "console",
			FilePath: "logs/exports.log",
		},
		Export: ExportConfig{
			ProgressEvery:      10000,
			RecencyWindow:      4 * time.Hour,
			DataDir:            "data/sources",
			Workers:            4,
			QueueSize:          100,
			StopTimeout:        30 * time.Second,
			AnalyticsNamespace: "temba",
			DefaultTimezone:    "UTC",
			Kinds: []KindConfig{
				{Kind: "contacts", Table: "Contacts", AnalyticsKey: "contact_export", Widths: []float64{20, 20, 15}},
				{Kind: "messages", Table: "Messages", AnalyticsKey: "msg_export", Widths: []float64{20, 20, 100}},
				{Kind: "results", Table: "Runs", AnalyticsKey: "results_export"},
				{Kind: "tickets", Table: "Tickets", AnalyticsKey: "ticket_export"},
			},
		},
		Storage: StorageConfig{
			Driver:      "sqlite",
			SQLitePath:  "data/exports.db",
			MaxConns:    4,
			BusyTimeout: 5 * time.Second,
		},
		Assets: AssetsConfig{
			Provider:  "filesystem",
			Dir:       "data/assets",
			BaseURL:   "/assets",
			Region:    "us-east-1",
			URLExpiry: 24 * time.Hour,
		},
		Retention: RetentionConfig{
			Enabled:  true,
			Schedule: "@daily",
			MaxAge:   90 * 24 * time.Hour,
		},
		Telemetry: TelemetryConfig{
			Environment:    "development",
			EnableTracing:  true,
			EnableMetrics:  true,
			TraceExporter:  "none",
			MetricExporter: "prometheus",
			SampleRatio:    1.0,
		},
		RateLimit: RateLimitConfig{
			Enabled: true,
			RPS:     5,
			Burst:   10,
		},
		WebSocket: WebSocketConfig{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}
