package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadFile(t *testing.T) {
	tests := []struct {
		name        string
		env         map[string]string
		file        string
		wantErr     string
		validateCfg func(*testing.T, *Config)
	}{
		{
			name: "defaults",
			validateCfg: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 8080, cfg.Server.Port)
				assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout)
				assert.Equal(t, "sqlite", cfg.Storage.Driver)
				assert.Equal(t, "filesystem", cfg.Assets.Provider)
				assert.Equal(t, 4*time.Hour, cfg.Export.RecencyWindow)
				assert.Equal(t, "temba", cfg.Export.AnalyticsNamespace)
				assert.Equal(t, 4, cfg.Export.Workers)
				assert.Equal(t, "json", cfg.Logging.Format)
				require.NotEmpty(t, cfg.Export.Kinds)
				assert.Equal(t, "contacts", cfg.Export.Kinds[0].Kind)
			},
		},
		{
			name: "file overrides defaults",
			file: `
server:
  port: 9090
  read_timeout: 5s
export:
  row_capacity: 1000
  recency_window: 30m
  timezones:
    org-1: Africa/Kigali
storage:
  driver: memory
`,
			validateCfg: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 9090, cfg.Server.Port)
				assert.Equal(t, 5*time.Second, cfg.Server.ReadTimeout)
				assert.Equal(t, 60*time.Second, cfg.Server.WriteTimeout, "untouched keys keep defaults")
				assert.Equal(t, 1000, cfg.Export.RowCapacity)
				assert.Equal(t, 30*time.Minute, cfg.Export.RecencyWindow)
				assert.Equal(t, map[string]string{"org-1": "Africa/Kigali"}, cfg.Export.Timezones)
				assert.Equal(t, "memory", cfg.Storage.Driver)
			},
		},
		{
			name: "env overrides file",
			file: "server:\n  port: 9090\n",
			env: map[string]string{
				"EXPORT_SERVER_PORT":            "7070",
				"EXPORT_EXPORT_WORKERS":         "8",
				"EXPORT_EXPORT_TIMEZONES":       "org-1:UTC,org-2:Africa/Kigali",
				"EXPORT_STORAGE_DRIVER":         "POSTGRES",
				"EXPORT_STORAGE_POSTGRES_URL":   "postgres://localhost/exports",
				"EXPORT_RETENTION_MAX_AGE":      "720h",
				"EXPORT_SERVER_ALLOWED_ORIGINS": "http://a,http://b",
			},
			validateCfg: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 7070, cfg.Server.Port)
				assert.Equal(t, 8, cfg.Export.Workers)
				assert.Equal(t, "UTC", cfg.Export.Timezones["org-1"])
				assert.Equal(t, "Africa/Kigali", cfg.Export.Timezones["org-2"])
				assert.Equal(t, "postgres", cfg.Storage.Driver)
				assert.Equal(t, 720*time.Hour, cfg.Retention.MaxAge)
				assert.Equal(t, []string{"http://a", "http://b"}, cfg.Server.AllowedOrigins)
			},
		},
		{
			name: "file kinds replace defaults",
			file: `
export:
  kinds:
    - kind: flows
      table: Flows
      query: SELECT name, created_on FROM flows WHERE org_id = $1
`,
			validateCfg: func(t *testing.T, cfg *Config) {
				require.Len(t, cfg.Export.Kinds, 1)
				assert.Equal(t, "flows", cfg.Export.Kinds[0].Kind)
				assert.Contains(t, cfg.Export.Kinds[0].Query, "FROM flows")
			},
		},
		{
			name:    "duplicate kind",
			file:    "export:\n  kinds:\n    - {kind: a, table: A}\n    - {kind: a, table: B}\n",
			wantErr: "defined twice",
		},
		{
			name:    "kind without table",
			file:    "export:\n  kinds:\n    - {kind: a}\n",
			wantErr: "needs a kind and a table",
		},
		{
			name:    "unknown file key",
			file:    "server:\n  prot: 9090\n",
			wantErr: "failed to load config from file",
		},
		{
			name:    "invalid port",
			env:     map[string]string{"EXPORT_SERVER_PORT": "70000"},
			wantErr: "invalid server port",
		},
		{
			name:    "invalid env value",
			env:     map[string]string{"EXPORT_EXPORT_WORKERS": "many"},
			wantErr: "failed to load config from env",
		},
		{
			name:    "unknown storage driver",
			env:     map[string]string{"EXPORT_STORAGE_DRIVER": "mongo"},
			wantErr: "unknown storage driver",
		},
		{
			name:    "postgres without url",
			env:     map[string]string{"EXPORT_STORAGE_DRIVER": "postgres"},
			wantErr: "postgres_url is required",
		},
		{
			name:    "s3 without bucket",
			env:     map[string]string{"EXPORT_ASSETS_PROVIDER": "s3"},
			wantErr: "bucket is required",
		},
		{
			name:    "negative row capacity",
			env:     map[string]string{"EXPORT_EXPORT_ROW_CAPACITY": "-1"},
			wantErr: "row capacity",
		},
		{
			name:    "zero workers",
			env:     map[string]string{"EXPORT_EXPORT_WORKERS": "0"},
			wantErr: "workers must be positive",
		},
		{
			name:    "retention without schedule",
			env:     map[string]string{"EXPORT_RETENTION_SCHEDULE": ""},
			wantErr: "retention schedule is required",
		},
		{
			name:    "bad logging output",
			env:     map[string]string{"EXPORT_LOGGING_OUTPUT": "syslog"},
			wantErr: "invalid logging output",
		},
		{
			name:    "bad sample ratio",
			env:     map[string]string{"EXPORT_TELEMETRY_SAMPLE_RATIO": "1.5"},
			wantErr: "sample ratio",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			path := ""
			if tt.file != "" {
				path = writeConfigFile(t, tt.file)
			}

			cfg, err := LoadFile(path)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			tt.validateCfg(t, cfg)
		})
	}
}

func TestLoadFileMissing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadUsesConfigEnv(t *testing.T) {
	path := writeConfigFile(t, "server:\n  port: 9191\n")
	t.Setenv(ConfigFileEnv, path)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9191, cfg.Server.Port)
}

func TestServerAddr(t *testing.T) {
	assert.Equal(t, ":8080", Default().Server.Addr())
	assert.Equal(t, "127.0.0.1:9000", ServerConfig{Host: "127.0.0.1", Port: 9000}.Addr())
}

func TestResolvePaths(t *testing.T) {
	base := t.TempDir()
	cfg := Default()
	cfg.Export.TempDir = "tmp"
	cfg.Assets.Dir = filepath.Join(base, "elsewhere")

	paths := cfg.ResolvePaths(base)
	assert.Equal(t, filepath.Join(base, "data", "sources"), paths.DataDir)
	assert.Equal(t, filepath.Join(base, "tmp"), paths.TempDir)
	assert.Equal(t, filepath.Join(base, "elsewhere"), paths.AssetsDir, "absolute paths are kept")
	assert.Equal(t, filepath.Join(base, "logs"), paths.LogsDir)
	assert.Equal(t, filepath.Join(base, "data", "exports.db"), paths.SQLite)

	require.NoError(t, paths.EnsureDirectories())
	for _, dir := range []string{paths.DataDir, paths.TempDir, paths.AssetsDir, paths.LogsDir} {
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}

	cfg.Export.TempDir = ""
	assert.Equal(t, os.TempDir(), cfg.ResolvePaths(base).TempDir)
}

func TestExecutableDir(t *testing.T) {
	dir, err := ExecutableDir()
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(dir))
}
