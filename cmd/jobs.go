package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/prospector/internal/export"
	"github.com/sells-group/prospector/internal/model"
	"github.com/sells-group/prospector/internal/store"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect and manage prospecting jobs",
	Long:  "Commands for listing, viewing, pausing, resuming, and exporting prospecting jobs.",
}

// -- jobs list --

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List prospecting jobs",
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
		limit, _ := cmd.Flags().GetInt("limit")

		jobs, err := st.ListJobs(ctx, store.JobFilter{
			Status: model.JobStatus(status),
			Limit:  limit,
		})
		if err != nil {
			return eris.Wrap(err, "jobs list")
		}

		if len(jobs) == 0 {
			fmt.Fprintln(os.Stderr, "No jobs found.")
			return nil
		}

		formatJobsList(os.Stdout, jobs)
		return nil
	},
}

// -- jobs show --

var jobsShowCmd = &cobra.Command{
	Use:   "show <job-id>",
	Short: "Show full details of a job",
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

		job, err := st.GetJob(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "jobs show")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(job)
	},
}

// -- jobs pause / resume --

var jobsPauseCmd = &cobra.Command{
	Use:   "pause <job-id>",
	Short: "Pause a running job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return transitionJob(cmd, args[0],
			[]model.JobStatus{model.JobStatusRunning}, model.JobStatusPaused)
	},
}

var jobsResumeCmd = &cobra.Command{
	Use:   "resume <job-id>",
	Short: "Mark a paused job eligible to run again",
	Long:  "Flips a paused job back to running. A serve process picks it up on its next stale-job sweep, or start one with: prospector serve --resume-stale.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return transitionJob(cmd, args[0],
			[]model.JobStatus{model.JobStatusPaused}, model.JobStatusRunning)
	},
}

// transitionJob applies a guarded status change from the CLI. The job
// worker lives in the serve process; here we only flip the row.
func transitionJob(cmd *cobra.Command, jobID string, from []model.JobStatus, to model.JobStatus) error {
	ctx := cmd.Context()

	st, err := initStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close() //nolint:errcheck
	if err := st.Migrate(ctx); err != nil {
		return err
	}

	if err := st.TransitionJob(ctx, jobID, from, to); err != nil {
		return eris.Wrapf(err, "jobs %s", to)
	}
	fmt.Fprintf(os.Stdout, "Job %s is now %s.\n", jobID, to)
	return nil
}

// -- jobs export --

var jobsExportCmd = &cobra.Command{
	Use:   "export <job-id>",
	Short: "Export a job's results to CSV or XLSX",
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

		jobID := args[0]
		if _, err := st.GetJob(ctx, jobID); err != nil {
			return eris.Wrap(err, "jobs export")
		}

		results, err := st.ListResults(ctx, jobID)
		if err != nil {
			return eris.Wrap(err, "jobs export")
		}

		format, _ := cmd.Flags().GetString("format")
		out, _ := cmd.Flags().GetString("output")
		if out == "" {
			out = fmt.Sprintf("job_%s_results.%s", jobID, format)
		}

		f, err := os.Create(out)
		if err != nil {
			return eris.Wrapf(err, "create %s", out)
		}
		defer f.Close() //nolint:errcheck

		switch strings.ToLower(format) {
		case "csv":
			err = export.WriteCSV(f, results)
		case "xlsx":
			err = export.WriteXLSX(f, results)
		default:
			return eris.Errorf("unknown export format %q", format)
		}
		if err != nil {
			return eris.Wrap(err, "jobs export")
		}

		fmt.Fprintf(os.Stdout, "Wrote %d results to %s\n", len(results), filepath.Clean(out))
		return nil
	},
}

func init() {
	jobsListCmd.Flags().String("status", "", "filter by job status (pending, running, paused, completed, failed)")
	jobsListCmd.Flags().Int("limit", 50, "max number of jobs to display")

	jobsExportCmd.Flags().String("format", "csv", "export format (csv, xlsx)")
	jobsExportCmd.Flags().String("output", "", "output file (default job_<id>_results.<format>)")

	jobsCmd.AddCommand(jobsListCmd)
	jobsCmd.AddCommand(jobsShowCmd)
	jobsCmd.AddCommand(jobsPauseCmd)
	jobsCmd.AddCommand(jobsResumeCmd)
	jobsCmd.AddCommand(jobsExportCmd)
	rootCmd.AddCommand(jobsCmd)
}

// formatJobsList writes a tabular list of jobs to w.
func formatJobsList(out io.Writer, jobs []model.Job) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tDESCRIPTION\tSTATUS\tPROGRESS\tCURRENT\tCREATED")
	_, _ = fmt.Fprintln(w, "--\t-----------\t------\t--------\t-------\t-------")

	for _, j := range jobs {
		desc := j.Description
		if len(desc) > 30 {
			desc = desc[:27] + "..."
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d/%d (%.0f%%)\t%s\t%s\n",
			truncateID(j.ID),
			desc,
			j.Status,
			j.CountiesProcessed,
			j.CountiesTotal,
			j.ProgressPercent(),
			j.CurrentCounty,
			j.CreatedAt.Format("2006-01-02 15:04"),
		)
	}
	_ = w.Flush()
}

// truncateID shortens a UUID for display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
