package assets

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// FileStore keeps assets on the local filesystem, laid out as
// <dir>/<type>/<id>.<ext>. URLs are built from a base URL under which the
// directory is served.
type FileStore struct {
	dir     string
	baseURL string
	logger  *slog.Logger
}

// NewFileStore creates the asset directory if needed
func NewFileStore(dir, baseURL string, logger *slog.Logger) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("asset directory is required")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create asset directory: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FileStore{
		dir:     dir,
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger.With(slog.String("component", "file_asset_store")),
	}, nil
}

// Dir returns the root directory of the store
func (s *FileStore) Dir() string { return s.dir }

func (s *FileStore) path(key Key) string {
	return filepath.Join(s.dir, filepath.FromSlash(key.Path()))
}

// Save writes to a temp file next to the target and renames it into place
// so readers never see a partial asset.
func (s *FileStore) Save(ctx context.Context, key Key, r io.Reader) error {
	if err := key.Validate(); err != nil {
		return err
	}
	target := s.path(key)
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return fmt.Errorf("failed to create asset directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(target), ".upload-*")
	if err != nil {
		return fmt.Errorf("failed to create asset file: %w", err)
	}
	written, err := io.Copy(tmp, r)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write asset %s: %w", key.Path(), err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to store asset %s: %w", key.Path(), err)
	}

	s.logger.InfoContext(ctx, "asset saved",
		slog.String("asset", key.Path()),
		slog.Int64("bytes", written))
	return nil
}

// Open implements Store
func (s *FileStore) Open(_ context.Context, key Key) (io.ReadCloser, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	f, err := os.Open(s.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrAssetNotFound, key.Path())
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open asset %s: %w", key.Path(), err)
	}
	return f, nil
}

// URL implements Store
func (s *FileStore) URL(_ context.Context, key Key) (string, error) {
	if err := key.Validate(); err != nil {
		return "", err
	}
	if _, err := os.Stat(s.path(key)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrAssetNotFound, key.Path())
		}
		return "", fmt.Errorf("failed to stat asset %s: %w", key.Path(), err)
	}
	return s.baseURL + "/" + url.PathEscape(key.Type) + "/" + url.PathEscape(key.Filename()), nil
}

// Delete implements Store
func (s *FileStore) Delete(ctx context.Context, key Key) error {
	if err := key.Validate(); err != nil {
		return err
	}
	err := os.Remove(s.path(key))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete asset %s: %w", key.Path(), err)
	}
	s.logger.DebugContext(ctx, "asset deleted", slog.String("asset", key.Path()))
	return nil
}
