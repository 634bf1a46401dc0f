package commands

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/leapstack-labs/listingwh/internal/cli/config"
	"github.com/leapstack-labs/listingwh/internal/engine"
	"github.com/leapstack-labs/listingwh/internal/metrics"
	"github.com/leapstack-labs/listingwh/internal/notify"
	"github.com/leapstack-labs/listingwh/internal/warehouse"
	"github.com/spf13/cobra"

	// Register warehouse adapters.
	_ "github.com/leapstack-labs/listingwh/pkg/adapters/duckdb"
	_ "github.com/leapstack-labs/listingwh/pkg/adapters/postgres"
	_ "github.com/leapstack-labs/listingwh/pkg/adapters/snowflake"
)

// CommandContext holds common dependencies for CLI commands.
type CommandContext struct {
	Cfg     *config.Config
	Logger  *slog.Logger
	Engine  *engine.Engine
	Metrics *metrics.Recorder
}

// NewCommandContext creates a CommandContext with an engine over the
// listing warehouse stages.
// Returns the context and a cleanup function that must be called (typically via defer).
func NewCommandContext(cmd *cobra.Command) (*CommandContext, func(), error) {
	cfg, err := getConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	logger := config.GetLogger(cmd.Context())
	recorder := metrics.New()

	eng, err := createEngine(cfg, logger, recorder)
	if err != nil {
		return nil, nil, err
	}

	cleanup := func() {
		if err := eng.Close(); err != nil {
			logger.Warn("failed to close engine", slog.String("error", err.Error()))
		}
	}

	return &CommandContext{
		Cfg:     cfg,
		Logger:  logger,
		Engine:  eng,
		Metrics: recorder,
	}, cleanup, nil
}

// getConfig returns the configuration loaded by the root command, loading
// it from the working directory when the command runs standalone.
func getConfig(cmd *cobra.Command) (*config.Config, error) {
	if cfg := config.GetConfig(cmd.Context()); cfg != nil {
		return cfg, nil
	}
	return config.LoadConfig("", nil)
}

func createEngine(cfg *config.Config, logger *slog.Logger, observer engine.Observer) (*engine.Engine, error) {
	// Ensure state directory exists
	if cfg.StatePath != ":memory:" {
		if stateDir := filepath.Dir(cfg.StatePath); stateDir != "." && stateDir != "" {
			if err := os.MkdirAll(stateDir, 0o750); err != nil {
				return nil, fmt.Errorf("failed to create state directory: %w", err)
			}
		}
	}

	strictness, err := warehouse.ParseJoinStrictness(cfg.Pipeline.JoinStrictness)
	if err != nil {
		return nil, err
	}

	stages := warehouse.Stages(warehouse.Options{
		SourceDir:      cfg.Sources.Dir,
		SourceFiles:    cfg.Sources.Files,
		Header:         cfg.Sources.Header,
		JoinStrictness: strictness,
		Logger:         logger,
	})

	// Config defaults are already applied; a zero here is the operator
	// turning retries or the delay off.
	retries, retryDelay := cfg.Pipeline.Retries, cfg.Pipeline.RetryDelay
	if retries == 0 {
		retries = -1
	}
	if retryDelay == 0 {
		retryDelay = -1
	}

	return engine.New(engine.Config{
		Pipeline:       cfg.Pipeline.Name,
		MaxParallelism: cfg.Pipeline.MaxParallelism,
		Retries:        retries,
		RetryDelay:     retryDelay,
		Target:         cfg.Target.AdapterConfig(),
		StatePath:      cfg.StatePath,
		Notifier:       buildNotifier(cfg, logger),
		Observer:       observer,
		Logger:         logger,
	}, stages)
}

// buildNotifier logs every terminal failure and posts it to the webhook
// when one is configured.
func buildNotifier(cfg *config.Config, logger *slog.Logger) notify.Notifier {
	notifiers := notify.Multi{notify.LogNotifier{Logger: logger}}
	if cfg.Notify.WebhookURL == "" {
		return notifiers
	}

	retries := cfg.Notify.Retries
	if retries < 0 {
		retries = 0
	}
	opts := []notify.WebhookOption{
		notify.WithLogger(logger),
		notify.WithRetry(uint64(retries), cfg.Notify.RetryDelay),
	}
	for key, value := range cfg.Notify.Headers {
		opts = append(opts, notify.WithHeader(key, value))
	}
	return append(notifiers, notify.NewWebhookNotifier(cfg.Notify.WebhookURL, opts...))
}
