package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/Benevox/rapidpro/internal/app"
	"github.com/Benevox/rapidpro/internal/config"
	"github.com/Benevox/rapidpro/internal/exports"
)

type listOptions struct {
	orgID      string
	kind       string
	statuses   []string
	unfinished bool
	limit      int
	format     string
}

func newJobsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect export jobs",
		Long: `Inspect the export jobs recorded in the configured job store.

Subcommands:
  list    - List jobs, newest first`,
	}
	cmd.AddCommand(newJobsListCmd())
	return cmd
}

func newJobsListCmd() *cobra.Command {
	var opts listOptions

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List export jobs",
		Long: `List export jobs, newest first.

Examples:
  # Failed exports of one organization
  exportctl jobs list --org org-1 --status failed

  # Everything still pending or processing, as JSON
  exportctl jobs list --unfinished --format json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			filter, err := opts.filter()
			if err != nil {
				return err
			}
			return listJobs(cmd.Context(), cfg, filter, opts.format, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	cmd.Flags().StringVar(&opts.orgID, "org", "", "only jobs of this organization")
	cmd.Flags().StringVarP(&opts.kind, "kind", "k", "", "only jobs of this kind")
	cmd.Flags().StringSliceVarP(&opts.statuses, "status", "s", nil, "only jobs in these statuses (pending, processing, complete, failed)")
	cmd.Flags().BoolVar(&opts.unfinished, "unfinished", false, "only pending and processing jobs")
	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 50, "maximum number of jobs (0 for all)")
	cmd.Flags().StringVar(&opts.format, "format", "table", "output format (table, json)")

	return cmd
}

func (o listOptions) filter() (exports.JobFilter, error) {
	if o.unfinished && len(o.statuses) > 0 {
		return exports.JobFilter{}, fmt.Errorf("--unfinished and --status are mutually exclusive")
	}
	if o.limit < 0 {
		return exports.JobFilter{}, fmt.Errorf("--limit must not be negative")
	}

	filter := exports.JobFilter{
		OrgID:       o.orgID,
		Kind:        o.kind,
		NewestFirst: true,
		Limit:       o.limit,
	}
	if o.unfinished {
		filter.Statuses = exports.UnfinishedStatuses
	}
	for _, s := range o.statuses {
		status := exports.Status(s)
		if !status.Valid() {
			return exports.JobFilter{}, fmt.Errorf("invalid status %q", s)
		}
		filter.Statuses = append(filter.Statuses, status)
	}
	return filter, nil
}

func listJobs(ctx context.Context, cfg *config.Config, filter exports.JobFilter, format string, out, errOut io.Writer) error {
	if format != "table" && format != "json" {
		return fmt.Errorf("unknown format %q", format)
	}
	logger, err := newLogger(cfg, errOut)
	if err != nil {
		return err
	}

	wd, err := os.Getwd()
	if err != nil {
		return err
	}
	db, err := app.OpenDatabase(ctx, cfg.Storage, cfg.ResolvePaths(wd), logger)
	if err != nil {
		return err
	}
	defer db.Close()

	jobs, err := db.Store.ListJobs(ctx, filter)
	if err != nil {
		return fmt.Errorf("failed to list jobs: %w", err)
	}

	if format == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(jobs)
	}
	return writeJobTable(out, jobs)
}

func writeJobTable(out io.Writer, jobs []*exports.Job) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tORG\tKIND\tSTATUS\tCREATED\tELAPSED\tERROR")
	for _, job := range jobs {
		elapsed := "-"
		if job.IsTerminal() {
			elapsed = fmt.Sprintf("%.1fs", job.ElapsedSeconds)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			job.ID, job.OrgID, job.Kind, job.Status,
			job.CreatedOn.UTC().Format(time.RFC3339), elapsed, job.Error)
	}
	return w.Flush()
}
