package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

// warehouseTablesQuery lists the tables the pipeline owns. It uses only
// information_schema so it runs unchanged on every supported warehouse.
const warehouseTablesQuery = `SELECT lower(table_schema) AS table_schema, lower(table_name) AS table_name, table_type
FROM information_schema.tables
WHERE lower(table_schema) IN ('raw', 'staging', 'datawarehouse', 'datamart')
ORDER BY 1, 2`

// QueryOptions holds options for the query command.
type QueryOptions struct {
	Format string
	Input  string
}

// NewQueryCommand creates the query command.
func NewQueryCommand() *cobra.Command {
	opts := &QueryOptions{}

	cmd := &cobra.Command{
		Use:   "query [SQL]",
		Short: "Query the warehouse",
		Long: `Run a SQL query against the configured warehouse target.

Use it to inspect the dimension, fact and datamart tables after a run. The
query is sent to the warehouse as is.`,
		Example: `  # Execute SQL directly
  listingwh query "SELECT * FROM datamart.dm_listing_neighbourhood"

  # List the pipeline tables
  listingwh query tables

  # Read SQL from a file and output CSV
  listingwh query -i report.sql --format csv

  # Read SQL from stdin
  echo "SELECT COUNT(*) FROM datawarehouse.fact" | listingwh query -`,
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(cmd, args, opts)
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.Format, "format", "f", FormatTable, "Output format: table, json, csv, md")
	cmd.Flags().StringVarP(&opts.Input, "input", "i", "", "Read SQL from file")
	_ = cmd.RegisterFlagCompletionFunc("format", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return formatCompletions, cobra.ShellCompDirectiveNoFileComp
	})

	cmd.AddCommand(newQueryTablesCommand(opts))

	return cmd
}

func runQuery(cmd *cobra.Command, args []string, opts *QueryOptions) error {
	var sqlQuery string

	switch {
	case len(args) == 1 && args[0] == "-":
		content, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return fmt.Errorf("failed to read stdin: %w", err)
		}
		sqlQuery = string(content)
	case len(args) > 0:
		sqlQuery = strings.Join(args, " ")
	case opts.Input != "":
		content, err := os.ReadFile(opts.Input)
		if err != nil {
			return fmt.Errorf("failed to read file: %w", err)
		}
		sqlQuery = string(content)
	}

	if strings.TrimSpace(sqlQuery) == "" {
		return fmt.Errorf("no query given\nHint: pass SQL as an argument, with --input, or '-' to read stdin")
	}

	return executeAndRender(cmd.Context(), cmd, sqlQuery, opts.Format)
}

func executeAndRender(ctx context.Context, cmd *cobra.Command, sqlQuery, format string) error {
	cmdCtx, cleanup, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	wh, err := cmdCtx.Engine.Warehouse(ctx)
	if err != nil {
		return err
	}

	rows, err := wh.Query(ctx, sqlQuery)
	if err != nil {
		return fmt.Errorf("query failed: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return renderResults(cmd.OutOrStdout(), rows.Rows, format)
}

// newQueryTablesCommand creates the tables subcommand.
func newQueryTablesCommand(opts *QueryOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "tables",
		Short: "List the raw, staging, warehouse and datamart tables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return executeAndRender(cmd.Context(), cmd, warehouseTablesQuery, opts.Format)
		},
	}
}
