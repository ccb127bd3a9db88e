package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/Benevox/rapidpro/internal/app"
	"github.com/Benevox/rapidpro/internal/assets"
	"github.com/Benevox/rapidpro/internal/config"
	"github.com/Benevox/rapidpro/internal/exporter"
	"github.com/Benevox/rapidpro/internal/exports"
	"github.com/Benevox/rapidpro/internal/exports/sources"
	"github.com/Benevox/rapidpro/internal/validation"
)

type runOptions struct {
	kind        string
	orgID       string
	file        string
	outDir      string
	rowCapacity int
	timezone    string
}

func newRunCmd() *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Export a CSV file to a workbook",
		Long: `Run an export locally, without a server: the rows of a CSV file are
written to an xlsx workbook using the table layout of the given kind.

Examples:
  # Export contacts.csv with the contacts layout
  exportctl run --file contacts.csv --out exports/

  # Small sheets, to check sheet splitting
  exportctl run --kind messages --file msgs.csv --row-capacity 1000`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg, cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			job, path, err := runLocalExport(cmd.Context(), cfg, opts, logger)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "export %s complete in %.2fs: %s\n", job.ID, job.ElapsedSeconds, path)
			return nil
		},
	}

	cmd.Flags().StringVarP(&opts.kind, "kind", "k", "contacts", "export kind")
	cmd.Flags().StringVar(&opts.orgID, "org", "local", "organization id recorded on the job")
	cmd.Flags().StringVarP(&opts.file, "file", "f", "", "CSV file to export")
	cmd.Flags().StringVarP(&opts.outDir, "out", "o", ".", "directory receiving the workbook")
	cmd.Flags().IntVar(&opts.rowCapacity, "row-capacity", 0, "data rows per sheet (0 uses the configured value)")
	cmd.Flags().StringVar(&opts.timezone, "timezone", "", "IANA timezone for dates (default from config)")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

// runLocalExport runs one export synchronously and returns the finished job
// and the path of the workbook
func runLocalExport(ctx context.Context, cfg *config.Config, opts runOptions, logger *slog.Logger) (*exports.Job, string, error) {
	kind, err := findKind(cfg.Export.Kinds, opts.kind)
	if err != nil {
		return nil, "", err
	}
	// local runs always read the file
	kind.Query = ""

	file, err := filepath.Abs(opts.file)
	if err != nil {
		return nil, "", fmt.Errorf("invalid file path: %w", err)
	}
	validator := validation.NewFileValidator(logger)
	if err := validator.ValidateCSVFile(file); err != nil {
		return nil, "", fmt.Errorf("cannot read %s: %w", opts.file, err)
	}
	if err := validator.ValidateOutputDirectory(opts.outDir); err != nil {
		return nil, "", err
	}

	registry, err := app.BuildRegistry([]config.KindConfig{kind}, filepath.Dir(file), nil, nil)
	if err != nil {
		return nil, "", err
	}
	producer, err := registry.Get(kind.Kind)
	if err != nil {
		return nil, "", err
	}

	assetStore, err := assets.NewFileStore(opts.outDir, "", logger)
	if err != nil {
		return nil, "", err
	}

	zone := opts.timezone
	if zone == "" {
		zone = cfg.Export.DefaultTimezone
	}
	timezones, err := exports.NewStaticTimezones(zone, nil)
	if err != nil {
		return nil, "", err
	}

	limits := exports.Limits{
		RowCapacity:   cfg.Export.RowCapacity,
		ColCapacity:   cfg.Export.ColumnCapacity,
		ProgressEvery: cfg.Export.ProgressEvery,
		TempDir:       os.TempDir(),
	}
	if opts.rowCapacity > 0 {
		limits.RowCapacity = opts.rowCapacity
	}

	store := exports.NewMemoryJobStore()
	runner := exports.NewRunner(store, registry, assetStore,
		exports.WithLogger(logger),
		exports.WithLimits(limits),
		exports.WithTimezones(timezones),
		exports.WithAnalyticsNamespace(cfg.Export.AnalyticsNamespace),
	)

	job := exports.NewJob(producer.Info(), opts.orgID, "", map[string]string{
		sources.ParamPath: filepath.Base(file),
	}, time.Now())
	if err := store.CreateJob(ctx, job); err != nil {
		return nil, "", err
	}

	runErr := runner.Run(ctx, job)
	finished, err := store.GetJob(ctx, job.ID)
	if err != nil {
		return nil, "", err
	}
	if runErr != nil {
		return finished, "", fmt.Errorf("export failed: %w", runErr)
	}

	path := filepath.Join(assetStore.Dir(), filepath.FromSlash(exports.AssetKey(finished).Path()))
	if finished.Extension == exporter.ExtXLSX {
		sheets, err := validator.ValidateWorkbook(path)
		if err != nil {
			return finished, "", err
		}
		logger.Debug("workbook written", slog.String("path", path), slog.Int("sheets", len(sheets)))
	}
	return finished, path, nil
}

func findKind(kinds []config.KindConfig, name string) (config.KindConfig, error) {
	for _, k := range kinds {
		if k.Kind == name {
			return k, nil
		}
	}
	return config.KindConfig{}, fmt.Errorf("unknown export kind %q", name)
}
