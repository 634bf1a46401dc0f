// Package config provides configuration management for the listingwh CLI.
//
// The shared target type lives in pkg/core and is re-exported here via a
// type alias for convenience.
package config

import (
	"time"

	"github.com/leapstack-labs/listingwh/pkg/core"
)

// TargetConfig is an alias for the shared target configuration.
// This allows CLI code to use config.TargetConfig without importing pkg/core.
type TargetConfig = core.TargetConfig

// Config holds all CLI configuration options.
type Config struct {
	StatePath    string               `koanf:"state_path"`
	Environment  string               `koanf:"environment"`
	Verbose      bool                 `koanf:"verbose"`
	Target       *TargetConfig        `koanf:"target"`
	Sources      SourcesConfig        `koanf:"sources"`
	Pipeline     PipelineConfig       `koanf:"pipeline"`
	Notify       NotifyConfig         `koanf:"notify"`
	Metrics      MetricsConfig        `koanf:"metrics"`
	Environments map[string]EnvConfig `koanf:"environments"`

	// ProjectRoot is the directory relative paths were resolved against.
	ProjectRoot string `koanf:"-"`
}

// SourcesConfig locates the raw source files.
type SourcesConfig struct {
	Dir    string `koanf:"dir"`
	Header bool   `koanf:"header"`
	// Files overrides the default file glob per dataset.
	Files map[string]string `koanf:"files"`
}

// PipelineConfig tunes stage scheduling.
type PipelineConfig struct {
	Name           string        `koanf:"name"`
	MaxParallelism int           `koanf:"max_parallelism"`
	Retries        int           `koanf:"retries"`
	RetryDelay     time.Duration `koanf:"retry_delay"`
	JoinStrictness string        `koanf:"join_strictness"`
}

// NotifyConfig configures failure notifications.
type NotifyConfig struct {
	WebhookURL string            `koanf:"webhook_url"`
	Headers    map[string]string `koanf:"headers"`
	Retries    int               `koanf:"retries"`
	RetryDelay time.Duration     `koanf:"retry_delay"`
}

// MetricsConfig configures the Prometheus Pushgateway export.
type MetricsConfig struct {
	PushgatewayURL string `koanf:"pushgateway_url"`
	Job            string `koanf:"job"`
}

// EnvConfig holds environment-specific configuration overrides.
type EnvConfig struct {
	Target    *TargetConfig `koanf:"target"`
	SourceDir string        `koanf:"source_dir"`
}

// Default configuration values.
const (
	DefaultStateFile      = ".listingwh/state.db"
	DefaultSourceDir      = "data"
	DefaultPipeline       = "listingwh"
	DefaultMaxParallelism = 5
	DefaultRetries        = 2
	DefaultRetryDelay     = "5m"
	DefaultJoinStrictness = "strict"
	DefaultNotifyRetries  = 3
	DefaultNotifyDelay    = "1s"
	DefaultMetricsJob     = "listingwh"
)
