package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

// defaultResetReason is recorded on runs abandoned by runs reset.
const defaultResetReason = "abandoned: reset by operator"

// NewRunsCommand creates the runs command and its subcommands.
func NewRunsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect recorded pipeline runs",
		Long: `Inspect the pipeline runs recorded in the state database.

Every run records its trigger, status and the outcome of each stage,
including the number of attempts and the rows written.`,
		Example: `  # List the latest runs
  listingwh runs list

  # Show the stages of one run
  listingwh runs show <run-id>

  # Release the run lock held by a crashed process
  listingwh runs reset`,
	}

	cmd.AddCommand(newRunsListCommand())
	cmd.AddCommand(newRunsShowCommand())
	cmd.AddCommand(newRunsResetCommand())

	return cmd
}

func newRunsListCommand() *cobra.Command {
	var (
		limit  int
		format string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cmdCtx, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			runs, err := cmdCtx.Engine.Store().ListRuns(limit)
			if err != nil {
				return fmt.Errorf("failed to list runs: %w", err)
			}

			records := make([][]any, 0, len(runs))
			for _, run := range runs {
				records = append(records, []any{run.ID, run.Trigger, string(run.Status), run.StartedAt, run.CompletedAt, run.Error})
			}
			return renderRecords(cmd.OutOrStdout(), format,
				[]string{"id", "trigger", "status", "started_at", "completed_at", "error"}, records)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of runs to list")
	cmd.Flags().StringVarP(&format, "format", "f", FormatTable, "Output format: table, json, csv, md")

	return cmd
}

func newRunsShowCommand() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show the stages of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmdCtx, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			store := cmdCtx.Engine.Store()
			run, err := store.GetRun(args[0])
			if err != nil {
				return fmt.Errorf("failed to get run %s: %w", args[0], err)
			}
			stageRuns, err := store.GetStageRunsForRun(run.ID)
			if err != nil {
				return fmt.Errorf("failed to load stage runs: %w", err)
			}
			sortStageRuns(stageRuns, cmdCtx.Engine.Stages())

			switch format {
			case FormatJSON:
				return writeJSON(cmd.OutOrStdout(), newRunSummary(run, stageRuns))
			case FormatTable, "":
				renderRunText(cmd.OutOrStdout(), run, stageRuns)
				return nil
			default:
				records := make([][]any, 0, len(stageRuns))
				for _, sr := range stageRuns {
					records = append(records, []any{sr.Stage, string(sr.Status), sr.Attempts, sr.RowsAffected, stageDuration(sr), sr.Error})
				}
				return renderRecords(cmd.OutOrStdout(), format,
					[]string{"stage", "status", "attempts", "rows", "duration", "error"}, records)
			}
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", FormatTable, "Output format: table, json, csv, md")

	return cmd
}

func newRunsResetCommand() *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Mark active runs as failed",
		Long: `Mark every active run of the pipeline as failed.

A run that was interrupted without completing (for example because the
process was killed) keeps the pipeline locked. Reset releases the lock so a
new run can start. Only use it when no run is actually in progress.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if reason == "" {
				return errors.New("--reason must not be empty")
			}

			cmdCtx, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			n, err := cmdCtx.Engine.Store().AbandonActiveRuns(cmdCtx.Engine.Pipeline(), reason)
			if err != nil {
				return fmt.Errorf("failed to reset runs: %w", err)
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Reset %d active run(s)\n", n)
			return nil
		},
	}

	cmd.Flags().StringVar(&reason, "reason", defaultResetReason, "Error recorded on the reset runs")

	return cmd
}
