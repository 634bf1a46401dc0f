package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// NewDAGCommand creates the dag command.
func NewDAGCommand() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "dag",
		Short: "Show the stage dependency graph",
		Long: `Display the dependency graph (DAG) of the pipeline stages.

Stages are grouped by execution level. Stages on the same level have no
dependency on each other and run in parallel.`,
		Example: `  # Show the DAG
  listingwh dag

  # Output as JSON
  listingwh dag --format json`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDAG(cmd, format)
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", FormatTable, "Output format: table, json, csv, md")
	_ = cmd.RegisterFlagCompletionFunc("format", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return formatCompletions, cobra.ShellCompDirectiveNoFileComp
	})

	return cmd
}

func runDAG(cmd *cobra.Command, format string) error {
	cmdCtx, cleanup, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	eng := cmdCtx.Engine
	levels, err := eng.Plan()
	if err != nil {
		return fmt.Errorf("failed to get execution levels: %w", err)
	}

	var records [][]any
	for i, level := range levels {
		for _, stage := range level {
			upstream := eng.Upstream(stage)
			if format == FormatJSON {
				records = append(records, []any{i, stage, upstream})
				continue
			}
			records = append(records, []any{i, stage, strings.Join(upstream, ", ")})
		}
	}

	return renderRecords(cmd.OutOrStdout(), format, []string{"level", "stage", "upstream"}, records)
}
