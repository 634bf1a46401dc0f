package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	intconfig "github.com/leapstack-labs/listingwh/internal/config"
	"github.com/leapstack-labs/listingwh/pkg/core"
	"github.com/spf13/pflag"
)

// loggerKey is used to store logger in context.
type loggerKey struct{}

// configKey is used to store the loaded config in context.
type configKey struct{}

// envPrefix is the prefix of configuration environment variables.
const envPrefix = "LISTINGWH_"

// envSections are the nested config sections addressable from the
// environment, e.g. LISTINGWH_PIPELINE_RETRIES -> pipeline.retries.
var envSections = []string{"target", "sources", "pipeline", "notify", "metrics"}

// flagKeys maps CLI flag names to config keys. Flags not listed here are
// command options and never reach the config.
var flagKeys = map[string]string{
	"state":           "state_path",
	"database":        "target.database",
	"source-dir":      "sources.dir",
	"verbose":         "verbose",
	"max-parallelism": "pipeline.max_parallelism",
	"retries":         "pipeline.retries",
	"retry-delay":     "pipeline.retry_delay",
	"join-strictness": "pipeline.join_strictness",
	"webhook-url":     "notify.webhook_url",
	"pushgateway-url": "metrics.pushgateway_url",
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// Package-level koanf instance and config file tracking
var (
	k              = koanf.New(".")
	configFileUsed string
)

// findConfigFile finds the config file to use.
// Priority: explicit path > listingwh.yaml > listingwh.yml in projectRoot
func findConfigFile(explicit, projectRoot string) string {
	if explicit != "" {
		return explicit
	}
	return intconfig.FindConfigFile(projectRoot)
}

// inferProjectRoot determines the project root.
// Priority:
//  1. Directory of an explicit --config file
//  2. Search upward from CWD for listingwh.yaml
//  3. Current working directory
func inferProjectRoot(cfgFile string) string {
	if cfgFile != "" {
		if abs, err := filepath.Abs(cfgFile); err == nil {
			return filepath.Dir(abs)
		}
	}

	cwd, err := os.Getwd()
	if err != nil || cwd == "" {
		return "."
	}
	if root := intconfig.FindProjectRoot(cwd); root != "" {
		return root
	}
	return cwd
}

// resolvePathRelativeTo resolves a path relative to baseDir if it's not absolute.
// Returns the path unchanged if it's empty, already absolute or in-memory.
func resolvePathRelativeTo(path, baseDir string) string {
	if path == "" || path == ":memory:" || filepath.IsAbs(path) || strings.Contains(path, "://") {
		return path
	}
	return filepath.Join(baseDir, path)
}

// ResetConfig resets the koanf instance. Used for testing.
func ResetConfig() {
	k = koanf.New(".")
	configFileUsed = ""
}

// envKey maps LISTINGWH_PIPELINE_MAX_PARALLELISM to pipeline.max_parallelism.
func envKey(s string) string {
	key := strings.ToLower(strings.TrimPrefix(s, envPrefix))
	for _, section := range envSections {
		if rest, ok := strings.CutPrefix(key, section+"_"); ok {
			return section + "." + rest
		}
	}
	return key
}

// LoadConfig loads configuration from file, environment variables, and flags.
// Precedence (highest to lowest): flags > env vars > config file > defaults
func LoadConfig(cfgFile string, flags *pflag.FlagSet) (*Config, error) {
	return LoadConfigWithTarget(cfgFile, "", flags)
}

// LoadConfigWithTarget loads configuration with an optional environment
// override selecting one of the configured environments.
func LoadConfigWithTarget(cfgFile string, targetOverride string, flags *pflag.FlagSet) (*Config, error) {
	k = koanf.New(".")

	projectRoot := inferProjectRoot(cfgFile)

	// Paths given as flags are relative to CWD, not the project root.
	flagPaths := make(map[string]string)
	if flags != nil {
		for _, name := range []string{"state", "database", "source-dir"} {
			f := flags.Lookup(name)
			if f == nil || !f.Changed || f.Value.String() == "" {
				continue
			}
			v := f.Value.String()
			if v != ":memory:" {
				if abs, err := filepath.Abs(v); err == nil {
					v = abs
				}
			}
			flagPaths[name] = v
		}
	}

	// 1. Load defaults
	if err := k.Load(confmap.Provider(map[string]interface{}{
		"state_path":               DefaultStateFile,
		"verbose":                  false,
		"sources.dir":              DefaultSourceDir,
		"sources.header":           true,
		"pipeline.name":            DefaultPipeline,
		"pipeline.max_parallelism": DefaultMaxParallelism,
		"pipeline.retries":         DefaultRetries,
		"pipeline.retry_delay":     DefaultRetryDelay,
		"pipeline.join_strictness": DefaultJoinStrictness,
		"notify.retries":           DefaultNotifyRetries,
		"notify.retry_delay":       DefaultNotifyDelay,
		"metrics.job":              DefaultMetricsJob,
	}, "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// 2. Find and load config file
	configFileUsed = findConfigFile(cfgFile, projectRoot)
	if configFileUsed != "" {
		if err := k.Load(file.Provider(configFileUsed), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", configFileUsed, err)
		}
	}

	// 3. Load environment variables (LISTINGWH_ prefix)
	if err := k.Load(env.Provider(envPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	// 4. Load flags (highest priority - overrides env vars and config file)
	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, interface{}) {
			// Only load flags that were explicitly set
			if !f.Changed {
				return "", nil
			}
			key, ok := flagKeys[f.Name]
			if !ok {
				return "", nil
			}
			if v, ok := flagPaths[f.Name]; ok {
				return key, v
			}
			return key, posflag.FlagVal(flags, f)
		}), nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	// 5. Unmarshal into Config struct
	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	cfg.ProjectRoot = projectRoot

	// Determine which environment to use for target selection
	envForTarget := cfg.Environment
	if targetOverride != "" {
		envForTarget = targetOverride
	}
	if envForTarget != "" && cfg.Environments != nil {
		if envCfg, ok := cfg.Environments[envForTarget]; ok {
			if envCfg.Target != nil {
				cfg.Target = MergeTargetConfig(cfg.Target, envCfg.Target)
			}
			if envCfg.SourceDir != "" && flagPaths["source-dir"] == "" {
				cfg.Sources.Dir = envCfg.SourceDir
			}
		}
	}

	if cfg.Target == nil {
		cfg.Target = &core.TargetConfig{}
	}
	if v := flagPaths["database"]; v != "" {
		cfg.Target.Database = v
	}

	intconfig.ApplyTargetDefaults(cfg.Target)
	expandTargetEnvVars(cfg.Target)

	cfg.StatePath = resolvePathRelativeTo(cfg.StatePath, projectRoot)
	cfg.Sources.Dir = resolvePathRelativeTo(cfg.Sources.Dir, projectRoot)
	if cfg.Target.Type == "duckdb" {
		cfg.Target.Database = resolvePathRelativeTo(cfg.Target.Database, projectRoot)
	}

	if err := intconfig.ValidateTarget(cfg.Target); err != nil {
		return nil, fmt.Errorf("invalid target configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// GetConfigFileUsed returns the path to the config file being used, if any.
func GetConfigFileUsed() string {
	return configFileUsed
}

// WithConfig returns ctx carrying cfg.
func WithConfig(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, configKey{}, cfg)
}

// GetConfig retrieves the config from the command context.
// Returns nil if none was stored.
func GetConfig(ctx context.Context) *Config {
	if c, ok := ctx.Value(configKey{}).(*Config); ok {
		return c
	}
	return nil
}

// WithLogger returns ctx carrying logger.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// GetLogger retrieves the logger from the command context.
func GetLogger(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok {
		return l
	}
	// Return discard logger as safe fallback
	return slog.New(slog.DiscardHandler)
}

// expandEnvVars expands ${VAR} patterns in a string with environment variable values.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := match[2 : len(match)-1]
		if val := os.Getenv(varName); val != "" {
			return val
		}
		return match // Return original if not found
	})
}

// expandTargetEnvVars expands environment variables in sensitive target fields.
func expandTargetEnvVars(t *core.TargetConfig) {
	if t == nil {
		return
	}
	t.Password = expandEnvVars(t.Password)
	t.User = expandEnvVars(t.User)
	t.Host = expandEnvVars(t.Host)
	t.Database = expandEnvVars(t.Database)
	t.Account = expandEnvVars(t.Account)
	t.Warehouse = expandEnvVars(t.Warehouse)
	t.Role = expandEnvVars(t.Role)
}

// MergeTargetConfig merges two target configs, with override taking precedence.
func MergeTargetConfig(base, override *core.TargetConfig) *core.TargetConfig {
	if base == nil {
		return override
	}
	if override == nil {
		return base
	}

	merged := &core.TargetConfig{
		Type:      base.Type,
		Database:  base.Database,
		Host:      base.Host,
		Port:      base.Port,
		User:      base.User,
		Password:  base.Password,
		Schema:    base.Schema,
		Account:   base.Account,
		Warehouse: base.Warehouse,
		Role:      base.Role,
		Options:   make(map[string]string),
		Params:    make(map[string]any),
	}
	for k, v := range base.Options {
		merged.Options[k] = v
	}
	for k, v := range base.Params {
		merged.Params[k] = v
	}

	if override.Type != "" {
		merged.Type = override.Type
	}
	if override.Database != "" {
		merged.Database = override.Database
	}
	if override.Host != "" {
		merged.Host = override.Host
	}
	if override.Port != 0 {
		merged.Port = override.Port
	}
	if override.User != "" {
		merged.User = override.User
	}
	if override.Password != "" {
		merged.Password = override.Password
	}
	if override.Schema != "" {
		merged.Schema = override.Schema
	}
	if override.Account != "" {
		merged.Account = override.Account
	}
	if override.Warehouse != "" {
		merged.Warehouse = override.Warehouse
	}
	if override.Role != "" {
		merged.Role = override.Role
	}
	for k, v := range override.Options {
		merged.Options[k] = v
	}
	for k, v := range override.Params {
		merged.Params[k] = v
	}

	return merged
}
