package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/event-ingest/internal/model"
	"github.com/sells-group/event-ingest/internal/monitoring"
	"github.com/sells-group/event-ingest/internal/store"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect sync run history",
	Long:  "Commands for listing and summarizing runs recorded in the remote sync log.",
}

// -- runs list --

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sync runs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		remote, err := openRemote(ctx)
		if err != nil {
			return err
		}
		defer remote.Close() //nolint:errcheck

		status, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")

		runs, err := remote.List(ctx, store.RunFilter{
			Status: model.RunStatus(status),
			Limit:  limit,
		})
		if err != nil {
			return eris.Wrap(err, "runs list")
		}

		if len(runs) == 0 {
			fmt.Fprintln(os.Stderr, "No runs found.")
			return nil
		}

		formatRunsList(os.Stdout, runs)
		return nil
	},
}

// -- runs stats --

var runsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show aggregate sync statistics",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		remote, err := openRemote(ctx)
		if err != nil {
			return err
		}
		defer remote.Close() //nolint:errcheck

		since, _ := cmd.Flags().GetDuration("since")
		hours := int(since / time.Hour)
		if hours <= 0 {
			hours = 24
		}

		snap, err := monitoring.NewCollector(remote, nil).Collect(ctx, hours)
		if err != nil {
			return eris.Wrap(err, "runs stats")
		}

		formatRunStats(os.Stdout, snap)
		return nil
	},
}

func init() {
	runsListCmd.Flags().String("status", "", "filter by run status (running, complete, failed)")
	runsListCmd.Flags().Int("limit", 50, "max number of runs to display")

	runsStatsCmd.Flags().Duration("since", 24*time.Hour, "time window for stats (e.g. 24h, 72h, 168h)")

	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsStatsCmd)
	rootCmd.AddCommand(runsCmd)
}

// openRemote connects to the remote store and ensures its tables exist.
func openRemote(ctx context.Context) (*store.PostgresStore, error) {
	if err := cfg.Validate("sync"); err != nil {
		return nil, err
	}
	remote, err := store.NewPostgres(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}
	if err := remote.Migrate(ctx); err != nil {
		_ = remote.Close()
		return nil, err
	}
	return remote, nil
}

// formatRunsList writes a tabular list of runs to w.
func formatRunsList(out io.Writer, runs []model.SyncRun) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tRUN\tSTATUS\tSYNCED\tDUPES\tPRUNED\tERRORS\tSTARTED\tDURATION")
	_, _ = fmt.Fprintln(w, "--\t---\t------\t------\t-----\t------\t------\t-------\t--------")

	for _, r := range runs {
		dur := "-"
		if r.CompletedAt != nil {
			dur = r.CompletedAt.Sub(r.StartedAt).Round(time.Second).String()
		}

		_, _ = fmt.Fprintf(w, "%s\t%d\t%s\t%d\t%d\t%d\t%d\t%s\t%s\n",
			truncateID(r.ID),
			r.RunNumber,
			r.Status,
			r.Synced,
			r.Duplicates,
			r.Pruned,
			len(r.Errors),
			r.StartedAt.Format("2006-01-02 15:04"),
			dur,
		)
	}
	_ = w.Flush()
}

// formatRunStats writes aggregate stats to w.
func formatRunStats(out io.Writer, s *monitoring.Snapshot) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Window:\t%dh\n", s.LookbackHours)
	_, _ = fmt.Fprintf(w, "Total runs:\t%d\n", s.RunsTotal)
	_, _ = fmt.Fprintf(w, "Complete:\t%d\n", s.RunsComplete)
	_, _ = fmt.Fprintf(w, "Failed:\t%d\n", s.RunsFailed)
	_, _ = fmt.Fprintf(w, "Running:\t%d\n", s.RunsRunning)
	_, _ = fmt.Fprintf(w, "Synced:\t%d\n", s.Synced)
	_, _ = fmt.Fprintf(w, "Duplicates:\t%d\n", s.Duplicates)
	_, _ = fmt.Fprintf(w, "Pruned:\t%d\n", s.Pruned)
	_, _ = fmt.Fprintf(w, "Validation errors:\t%d\n", s.ValidationErrors)
	_, _ = fmt.Fprintf(w, "Transient errors:\t%d\n", s.TransientErrors)
	if s.LastSuccess != nil {
		_, _ = fmt.Fprintf(w, "Last success:\t%s\n", s.LastSuccess.Format(time.RFC3339))
	} else {
		_, _ = fmt.Fprintln(w, "Last success:\tnever")
	}
	_ = w.Flush()
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
