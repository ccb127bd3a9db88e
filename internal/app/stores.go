package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Benevox/rapidpro/internal/assets"
	"github.com/Benevox/rapidpro/internal/config"
	"github.com/Benevox/rapidpro/internal/exports"
)

// Database is the job store selected by the storage driver. SQL or Pool is
// set when the store is backed by SQLite or Postgres, so query-backed
// export kinds can share the connection.
type Database struct {
	Store exports.JobStore
	SQL   *sql.DB
	Pool  *pgxpool.Pool

	ping  func(context.Context) error
	close func() error
}

// OpenDatabase opens the job store named by cfg.Driver
func OpenDatabase(ctx context.Context, cfg config.StorageConfig, paths config.Paths, logger *slog.Logger) (*Database, error) {
	switch cfg.Driver {
	case "memory":
		return &Database{Store: exports.NewMemoryJobStore()}, nil

	case "sqlite":
		sqliteCfg := exports.DefaultSQLiteConfig()
		sqliteCfg.Path = paths.SQLite
		if cfg.MaxConns > 0 {
			sqliteCfg.MaxOpenConns = cfg.MaxConns
		}
		if cfg.BusyTimeout > 0 {
			sqliteCfg.BusyTimeout = cfg.BusyTimeout
		}
		store, err := exports.NewSQLiteJobStore(sqliteCfg, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite job store: %w", err)
		}
		return &Database{Store: store, SQL: store.DB(), ping: store.Ping, close: store.Close}, nil

	case "postgres":
		store, err := exports.NewPostgresJobStore(ctx, exports.PostgresConfig{
			URL:      cfg.PostgresURL,
			MaxConns: cfg.MaxConns,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres job store: %w", err)
		}
		return &Database{Store: store, Pool: store.Pool(), ping: store.Ping, close: store.Close}, nil
	}
	return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
}

// Ping checks the store's connection; the memory store is always up
func (d *Database) Ping(ctx context.Context) error {
	if d.ping == nil {
		return nil
	}
	return d.ping(ctx)
}

// Close releases the store's connections
func (d *Database) Close() error {
	if d.close == nil {
		return nil
	}
	return d.close()
}

// OpenAssets creates the asset store named by cfg.Provider
func OpenAssets(cfg config.AssetsConfig, paths config.Paths, logger *slog.Logger) (assets.Store, error) {
	switch cfg.Provider {
	case "filesystem":
		store, err := assets.NewFileStore(paths.AssetsDir, cfg.BaseURL, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open asset directory: %w", err)
		}
		return store, nil

	case "s3":
		store, err := assets.NewS3Store(assets.S3Config{
			Bucket:         cfg.Bucket,
			Region:         cfg.Region,
			Endpoint:       cfg.Endpoint,
			AccessKey:      cfg.AccessKey,
			SecretKey:      cfg.SecretKey,
			Prefix:         cfg.Prefix,
			URLExpiry:      cfg.URLExpiry,
			ForcePathStyle: cfg.ForcePathStyle,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create s3 asset store: %w", err)
		}
		return store, nil
	}
	return nil, fmt.Errorf("unknown assets provider %q", cfg.Provider)
}
