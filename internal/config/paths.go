package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// Paths are the directories the service reads from and writes to, all
// absolute
type Paths struct {
	BaseDir   string
	DataDir   string
	TempDir   string
	AssetsDir string
	LogsDir   string
	SQLite    string
}

// ExecutableDir returns the directory holding the running binary, with
// symlinks resolved
func ExecutableDir() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("failed to get executable path: %w", err)
	}
	exe, err = filepath.EvalSymlinks(exe)
	if err != nil {
		return "", fmt.Errorf("failed to resolve executable symlinks: %w", err)
	}
	return filepath.Dir(exe), nil
}

// ResolvePaths resolves the configured relative paths against baseDir.
// An empty TempDir resolves to the system temp directory.
func (c *Config) ResolvePaths(baseDir string) Paths {
	p := Paths{
		BaseDir:   baseDir,
		DataDir:   resolve(baseDir, c.Export.DataDir),
		AssetsDir: resolve(baseDir, c.Assets.Dir),
		LogsDir:   filepath.Dir(resolve(baseDir, c.Logging.FilePath)),
		SQLite:    resolve(baseDir, c.Storage.SQLitePath),
		TempDir:   os.TempDir(),
	}
	if c.Export.TempDir != "" {
		p.TempDir = resolve(baseDir, c.Export.TempDir)
	}
	return p
}

func resolve(baseDir, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(baseDir, path)
}

// EnsureDirectories creates every directory that does not exist yet
func (p Paths) EnsureDirectories() error {
	dirs := []string{p.DataDir, p.TempDir, p.AssetsDir, p.LogsDir}
	if p.SQLite != "" {
		dirs = append(dirs, filepath.Dir(p.SQLite))
	}
	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

// LogPathResolution logs the resolved paths
func (p Paths) LogPathResolution(logger *slog.Logger) {
	logger.Info("Path resolution",
		slog.String("base_dir", p.BaseDir),
		slog.String("data_dir", p.DataDir),
		slog.String("temp_dir", p.TempDir),
		slog.String("assets_dir", p.AssetsDir),
		slog.String("logs_dir", p.LogsDir))
}
