package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/lead-sourcing/internal/model"
	"github.com/sells-group/lead-sourcing/internal/store"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect sourcing run history",
	Long:  "Commands for listing, viewing, and summarizing sourcing runs.",
}

// -- runs list --

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sourcing runs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		status, _ := cmd.Flags().GetString("status")
		trigger, _ := cmd.Flags().GetString("trigger")
		limit, _ := cmd.Flags().GetInt("limit")

		runs, err := st.ListRuns(ctx, store.RunFilter{
			Status:  model.RunStatus(status),
			Trigger: model.Trigger(trigger),
			Limit:   limit,
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

// -- runs show --

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show full details of a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		run, err := st.GetRun(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "runs show")
		}

		format, _ := cmd.Flags().GetString("format")
		return writeRun(os.Stdout, run, format)
	},
}

// -- runs stats --

var runsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show aggregate run statistics",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		since, _ := cmd.Flags().GetDuration("since")
		cutoff := time.Now().UTC().Add(-since)
		runs, err := st.ListRuns(ctx, store.RunFilter{CreatedAfter: cutoff, Limit: 10000})
		if err != nil {
			return eris.Wrap(err, "runs stats")
		}

		formatRunStats(os.Stdout, computeRunStats(runs, cutoff))
		return nil
	},
}

func init() {
	runsListCmd.Flags().String("status", "", "filter by run status (done, skipped, error, pulling, ...)")
	runsListCmd.Flags().String("trigger", "", "filter by trigger (schedule, event, http, manual)")
	runsListCmd.Flags().Int("limit", 50, "max number of runs to display")

	runsShowCmd.Flags().String("format", "json", "output format: json or yaml")

	runsStatsCmd.Flags().Duration("since", 7*24*time.Hour, "time window for stats (e.g. 24h, 168h)")

	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
	runsCmd.AddCommand(runsStatsCmd)
	rootCmd.AddCommand(runsCmd)
}

// writeRun encodes a run as JSON or YAML.
func writeRun(out io.Writer, run *model.Run, format string) error {
	switch format {
	case "", "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(run)
	case "yaml":
		// Round-trip through JSON so YAML keys match the JSON field names.
		b, err := json.Marshal(run)
		if err != nil {
			return eris.Wrap(err, "marshal run")
		}
		var doc map[string]any
		if err := json.Unmarshal(b, &doc); err != nil {
			return eris.Wrap(err, "decode run")
		}
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		defer enc.Close() //nolint:errcheck
		return eris.Wrap(enc.Encode(doc), "encode run yaml")
	default:
		return eris.Errorf("unknown format %q (json, yaml)", format)
	}
}

// runStats holds aggregate statistics computed from a set of runs.
type runStats struct {
	Total       int
	Done        int
	Skipped     int
	Failed      int
	Other       int
	Inserted    int
	Assignments int
	AvgDurSecs  float64
}

// computeRunStats aggregates runs created at or after since.
func computeRunStats(runs []model.Run, since time.Time) runStats {
	var s runStats

	var totalDur time.Duration
	var durCount int

	for _, r := range runs {
		if r.CreatedAt.Before(since) {
			continue
		}
		s.Total++
		switch r.Status {
		case model.RunStatusDone:
			s.Done++
			totalDur += r.UpdatedAt.Sub(r.CreatedAt)
			durCount++
		case model.RunStatusSkipped:
			s.Skipped++
		case model.RunStatusError:
			s.Failed++
		default:
			s.Other++
		}
		if r.Summary != nil {
			s.Inserted += r.Summary.Inserted
			s.Assignments += r.Summary.Assignments
		}
	}

	if durCount > 0 {
		s.AvgDurSecs = totalDur.Seconds() / float64(durCount)
	}
	return s
}

// formatRunsList writes a tabular list of runs to w.
func formatRunsList(out io.Writer, runs []model.Run) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tTRIGGER\tSTATUS\tINSERTED\tASSIGNED\tERRORS\tCREATED\tDURATION")
	_, _ = fmt.Fprintln(w, "--\t-------\t------\t--------\t--------\t------\t-------\t--------")

	for _, r := range runs {
		dur := r.UpdatedAt.Sub(r.CreatedAt).Round(time.Second).String()

		inserted, assigned, errs := "-", "-", "-"
		if r.Summary != nil {
			inserted = fmt.Sprint(r.Summary.Inserted)
			assigned = fmt.Sprint(r.Summary.Assignments)
			errs = fmt.Sprint(len(r.Summary.Errors))
		}

		status := string(r.Status)
		if r.Summary != nil && r.Summary.Reason != "" {
			status += " (" + r.Summary.Reason + ")"
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			truncateID(r.ID),
			r.Trigger,
			status,
			inserted,
			assigned,
			errs,
			r.CreatedAt.Format("2006-01-02 15:04"),
			dur,
		)
	}
	_ = w.Flush()
}

// formatRunStats writes aggregate stats to w.
func formatRunStats(out io.Writer, s runStats) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Total runs:\t%d\n", s.Total)
	_, _ = fmt.Fprintf(w, "Done:\t%d\n", s.Done)
	_, _ = fmt.Fprintf(w, "Skipped:\t%d\n", s.Skipped)
	_, _ = fmt.Fprintf(w, "Failed:\t%d\n", s.Failed)
	_, _ = fmt.Fprintf(w, "Other:\t%d\n", s.Other)
	_, _ = fmt.Fprintf(w, "Leads inserted:\t%d\n", s.Inserted)
	_, _ = fmt.Fprintf(w, "Assignments:\t%d\n", s.Assignments)
	if s.AvgDurSecs > 0 {
		_, _ = fmt.Fprintf(w, "Avg duration:\t%.1fs\n", s.AvgDurSecs)
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
