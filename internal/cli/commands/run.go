package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/leapstack-labs/listingwh/internal/engine"
	"github.com/leapstack-labs/listingwh/pkg/core"
	"github.com/spf13/cobra"
)

// metricsPushTimeout bounds the Pushgateway export after a run.
const metricsPushTimeout = 30 * time.Second

// RunOptions holds options for the run command.
type RunOptions struct {
	From       string
	Trigger    string
	JSONOutput bool
}

// NewRunCommand creates the run command.
func NewRunCommand() *cobra.Command {
	opts := &RunOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the warehouse pipeline",
		Long: `Execute the listing warehouse stages in dependency order.

Source tables are refreshed, staged, copied into the warehouse, split into
dimensions and joined into the fact table before the datamarts are rebuilt.
Independent stages run in parallel. Failed stages are retried and block
everything downstream of them.

Use --from to re-run a stage and everything downstream of it against the
tables left by an earlier run.`,
		Example: `  # Run the full pipeline
  listingwh run

  # Rebuild the fact table and datamarts only
  listingwh run --from build_fact

  # Run from a scheduler with JSON output
  listingwh run --trigger schedule --json`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runRun(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.From, "from", "", "Run this stage and everything downstream of it")
	cmd.Flags().StringVar(&opts.Trigger, "trigger", "manual", "Trigger recorded with the run (manual, schedule, ...)")
	cmd.Flags().BoolVar(&opts.JSONOutput, "json", false, "Output the run summary as JSON")
	cmd.Flags().Int("max-parallelism", 0, "Maximum number of concurrently running stages")
	cmd.Flags().Int("retries", 0, "Re-attempts after a failed stage attempt")
	cmd.Flags().Duration("retry-delay", 0, "Delay between stage attempts")
	cmd.Flags().String("join-strictness", "", "Fact dimension join strictness (strict, loose)")

	_ = cmd.RegisterFlagCompletionFunc("join-strictness", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return []string{"strict", "loose"}, cobra.ShellCompDirectiveNoFileComp
	})

	return cmd
}

func runRun(cmd *cobra.Command, opts *RunOptions) error {
	cmdCtx, cleanup, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	eng := cmdCtx.Engine

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var run *core.Run
	var runErr error
	if opts.From != "" {
		run, runErr = eng.RunFrom(ctx, opts.From, opts.Trigger)
	} else {
		run, runErr = eng.Run(ctx, opts.Trigger)
	}
	if run == nil {
		switch {
		case errors.Is(runErr, core.ErrRunActive):
			return fmt.Errorf("%w\nHint: wait for it to finish, or run 'listingwh runs reset' if it was abandoned", runErr)
		case errors.Is(runErr, engine.ErrUnknownStage):
			return fmt.Errorf("%w\nAvailable stages: %v", runErr, eng.Stages())
		}
		return runErr
	}

	pushMetrics(ctx, cmdCtx)

	stageRuns, err := eng.Store().GetStageRunsForRun(run.ID)
	if err != nil {
		return fmt.Errorf("failed to load stage runs: %w", err)
	}
	sortStageRuns(stageRuns, eng.Stages())

	if opts.JSONOutput {
		if err := writeJSON(cmd.OutOrStdout(), newRunSummary(run, stageRuns)); err != nil {
			return err
		}
	} else {
		renderRunText(cmd.OutOrStdout(), run, stageRuns)
	}

	return runErr
}

// pushMetrics exports the run metrics when a Pushgateway is configured.
// A failed push is logged and does not fail the run.
func pushMetrics(ctx context.Context, cmdCtx *CommandContext) {
	url := cmdCtx.Cfg.Metrics.PushgatewayURL
	if url == "" {
		return
	}
	pushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), metricsPushTimeout)
	defer cancel()
	if err := cmdCtx.Metrics.Push(pushCtx, url, cmdCtx.Cfg.Metrics.Job); err != nil {
		cmdCtx.Logger.Warn("failed to push metrics", slog.String("url", url), slog.String("error", err.Error()))
	}
}

// sortStageRuns orders stage runs by the pipeline's dependency order.
func sortStageRuns(stageRuns []*core.StageRun, order []string) {
	slices.SortStableFunc(stageRuns, func(a, b *core.StageRun) int {
		return slices.Index(order, a.Stage) - slices.Index(order, b.Stage)
	})
}

// RunSummary is the JSON output of the run command.
type RunSummary struct {
	ID          string         `json:"id"`
	Pipeline    string         `json:"pipeline"`
	Trigger     string         `json:"trigger"`
	Status      string         `json:"status"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	Error       string         `json:"error,omitempty"`
	Stages      []StageSummary `json:"stages"`
}

// StageSummary is one stage of a RunSummary.
type StageSummary struct {
	Stage        string `json:"stage"`
	Status       string `json:"status"`
	Attempts     int    `json:"attempts"`
	RowsAffected int64  `json:"rows_affected"`
	DurationMs   int64  `json:"duration_ms"`
	Error        string `json:"error,omitempty"`
}

func newRunSummary(run *core.Run, stageRuns []*core.StageRun) RunSummary {
	summary := RunSummary{
		ID:          run.ID,
		Pipeline:    run.Pipeline,
		Trigger:     run.Trigger,
		Status:      string(run.Status),
		StartedAt:   run.StartedAt,
		CompletedAt: run.CompletedAt,
		Error:       run.Error,
		Stages:      make([]StageSummary, 0, len(stageRuns)),
	}
	for _, sr := range stageRuns {
		summary.Stages = append(summary.Stages, StageSummary{
			Stage:        sr.Stage,
			Status:       string(sr.Status),
			Attempts:     sr.Attempts,
			RowsAffected: sr.RowsAffected,
			DurationMs:   stageDuration(sr).Milliseconds(),
			Error:        sr.Error,
		})
	}
	return summary
}

func stageDuration(sr *core.StageRun) time.Duration {
	if sr.CompletedAt == nil {
		return 0
	}
	return sr.CompletedAt.Sub(sr.StartedAt)
}

func renderRunText(w io.Writer, run *core.Run, stageRuns []*core.StageRun) {
	_, _ = fmt.Fprintf(w, "Run %s: %s\n", run.ID, run.Status)

	records := make([][]any, 0, len(stageRuns))
	for _, sr := range stageRuns {
		records = append(records, []any{
			sr.Stage, string(sr.Status), sr.Attempts, sr.RowsAffected, stageDuration(sr), sr.Error,
		})
	}
	newTable(w, []string{"Stage", "Status", "Attempts", "Rows", "Duration", "Error"}, records).Render()

	if run.CompletedAt != nil {
		_, _ = fmt.Fprintf(w, "Completed in %s\n", run.CompletedAt.Sub(run.StartedAt).Round(time.Millisecond))
	}
	if run.Error != "" {
		_, _ = fmt.Fprintf(w, "Error: %s\n", run.Error)
	}
}
