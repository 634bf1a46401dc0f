// Package cli provides the command-line interface for listingwh.
package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/leapstack-labs/listingwh/internal/cli/commands"
	"github.com/leapstack-labs/listingwh/internal/cli/config"
	"github.com/spf13/cobra"
)

var (
	cfgFile    string
	targetFlag string
)

// Version information (set via ldflags)
var (
	Version   = "0.1.0"
	BuildDate = "unknown"
	GitCommit = "unknown"
)

// skipConfig lists commands that must work without a loadable config.
var skipConfig = map[string]bool{
	"help":       true,
	"version":    true,
	"completion": true,
	"__complete": true,
}

// NewRootCmd creates the root command.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "listingwh",
		Short: "listingwh - listing warehouse pipeline",
		Long: `listingwh builds a star-schema warehouse from monthly short-term rental
listing drops, census tables and LGA mappings.

Each run refreshes the raw source tables, stages and types them, builds the
LGA, suburb, host, listing and date dimensions, joins the fact table and
rebuilds the neighbourhood, property type and host datamarts.`,
		Version: Version,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if skipConfig[cmd.Name()] {
				return nil
			}

			cfg, err := config.LoadConfigWithTarget(cfgFile, targetFlag, cmd.Flags())
			if err != nil {
				return err
			}

			logger := newLogger(cmd, cfg.Verbose)
			if configFile := config.GetConfigFileUsed(); configFile != "" {
				logger.Debug("using config file", slog.String("path", configFile))
			}
			if targetFlag != "" {
				logger.Debug("using environment", slog.String("env", targetFlag))
			}

			ctx := config.WithConfig(cmd.Context(), cfg)
			ctx = config.WithLogger(ctx, logger)
			cmd.SetContext(ctx)
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.SetVersionTemplate(`{{.Name}} {{.Version}}
`)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./listingwh.yaml)")
	rootCmd.PersistentFlags().StringVarP(&targetFlag, "env", "e", "", "Environment to use (e.g., dev, prod)")
	rootCmd.PersistentFlags().String("database", "", "Warehouse database (DuckDB file or database name)")
	rootCmd.PersistentFlags().String("state", "", "Path to state database")
	rootCmd.PersistentFlags().String("source-dir", "", "Directory holding the source files")
	rootCmd.PersistentFlags().String("webhook-url", "", "Webhook notified on stage failure")
	rootCmd.PersistentFlags().String("pushgateway-url", "", "Prometheus Pushgateway receiving run metrics")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Verbose output")

	rootCmd.AddCommand(commands.NewVersionCommand(Version, GitCommit, BuildDate))
	rootCmd.AddCommand(commands.NewRunCommand())
	rootCmd.AddCommand(commands.NewDAGCommand())
	rootCmd.AddCommand(commands.NewRunsCommand())
	rootCmd.AddCommand(commands.NewQueryCommand())
	rootCmd.AddCommand(NewCompletionCommand())

	return rootCmd
}

// newLogger writes text logs to the command's stderr.
func newLogger(cmd *cobra.Command, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
}

// Execute runs the root command.
func Execute() error {
	rootCmd := NewRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return err
	}
	return nil
}

// NewCompletionCommand creates the completion command.
func NewCompletionCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "completion [bash|zsh|fish|powershell]",
		Short: "Generate shell completion scripts",
		Long: `Generate shell completion scripts for listingwh.

To load completions:

Bash:
  $ source <(listingwh completion bash)

Zsh:
  $ listingwh completion zsh > "${fpath[1]}/_listingwh"

Fish:
  $ listingwh completion fish | source

PowerShell:
  PS> listingwh completion powershell | Out-String | Invoke-Expression
`,
		DisableFlagsInUseLine: true,
		ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
		Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			switch args[0] {
			case "bash":
				return cmd.Root().GenBashCompletion(out)
			case "zsh":
				return cmd.Root().GenZshCompletion(out)
			case "fish":
				return cmd.Root().GenFishCompletion(out, true)
			case "powershell":
				return cmd.Root().GenPowerShellCompletionWithDesc(out)
			}
			return nil
		},
	}
	return cmd
}
