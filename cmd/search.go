package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/prospector/internal/geo"
	"github.com/sells-group/prospector/internal/model"
)

var searchState string

var searchCmd = &cobra.Command{
	Use:   "search <description>",
	Short: "Run a prospecting job for a state in the foreground",
	Long:  `Researches the described kind of organization in every county of the given state, e.g. prospector search "naloxone distribution teams" --state DE. Ctrl-C pauses the job; it can be resumed later via the API or "prospector jobs resume".`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}
		if err := geo.Seed(ctx, st); err != nil {
			return err
		}

		runner, err := initRunner(st)
		if err != nil {
			return err
		}
		defer runner.Close()

		job, err := runner.StartJob(ctx, args[0], searchState)
		if err != nil {
			return err
		}

		fmt.Fprintf(os.Stdout, "Job %s started: %d counties in %s\n", job.ID, job.CountiesTotal, searchState)

		done := make(chan struct{})
		go func() {
			runner.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			// Stop the worker, then park the job so it can be resumed.
			runner.Close()
			if err := st.TransitionJob(context.Background(), job.ID,
				[]model.JobStatus{model.JobStatusRunning}, model.JobStatusPaused); err != nil {
				zap.L().Warn("park interrupted job", zap.String("job_id", job.ID), zap.Error(err))
			}
		}

		final, err := runner.GetStatus(context.Background(), job.ID)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "Job %s finished: status=%s processed=%d/%d\n",
			final.ID, final.Status, final.CountiesProcessed, final.CountiesTotal)
		return nil
	},
}

func init() {
	searchCmd.Flags().StringVar(&searchState, "state", "", "two-letter state code (required)")
	searchCmd.MarkFlagRequired("state") //nolint:errcheck
	rootCmd.AddCommand(searchCmd)
}
