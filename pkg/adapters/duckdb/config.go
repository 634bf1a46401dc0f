package duckdb

import (
	"fmt"

	"github.com/go-viper/mapstructure/v2"
)

// Params holds DuckDB-specific configuration.
// Parsed from adapter.Config.Params using mapstructure.
type Params struct {
	// Extensions to install and load (e.g., "httpfs" for s3:// source globs)
	Extensions []string `mapstructure:"extensions"`

	// Secrets for cloud storage holding the raw source files
	Secrets []SecretConfig `mapstructure:"secrets"`

	// Settings to apply at session level (e.g., memory_limit, threads)
	Settings map[string]string `mapstructure:"settings"`
}

// SecretConfig defines a DuckDB secret for cloud storage.
type SecretConfig struct {
	// Type: "s3", "gcs", "azure", "r2", "huggingface"
	Type string `mapstructure:"type"`

	// Provider: "config", "credential_chain", "service_account", etc.
	Provider string `mapstructure:"provider"`

	// Region for S3 buckets
	Region string `mapstructure:"region,omitempty"`

	// Scope limits the secret to specific paths (string or []string)
	Scope any `mapstructure:"scope,omitempty"`

	// KeyID for explicit credentials (prefer credential_chain)
	KeyID string `mapstructure:"key_id,omitempty"`

	// Secret for explicit credentials (prefer credential_chain)
	Secret string `mapstructure:"secret,omitempty"`

	// Endpoint for S3-compatible services (MinIO, etc.)
	Endpoint string `mapstructure:"endpoint,omitempty"`

	// URLStyle: "vhost" or "path" for S3
	URLStyle string `mapstructure:"url_style,omitempty"`

	// UseSSL: whether to use HTTPS (default true)
	UseSSL *bool `mapstructure:"use_ssl,omitempty"`
}

// parseParams decodes the free-form target params into Params.
func parseParams(raw map[string]any) (*Params, error) {
	params := &Params{}
	if len(raw) == 0 {
		return params, nil
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           params,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create params decoder: %w", err)
	}
	if err := decoder.Decode(raw); err != nil {
		return nil, fmt.Errorf("invalid duckdb params: %w", err)
	}
	return params, nil
}
