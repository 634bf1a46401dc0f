// Package config provides the target configuration helpers shared by the
// CLI and anything else that needs to resolve a warehouse target.
package config

import (
	"fmt"
	"strings"

	"github.com/leapstack-labs/listingwh/pkg/adapter"
	"github.com/leapstack-labs/listingwh/pkg/core"
)

// Default configuration values.
const (
	DefaultTargetType   = "duckdb"
	DefaultDatabase     = "warehouse.duckdb"
	DefaultPostgresPort = 5432
)

// DefaultSchemaForType returns the default schema for a warehouse type.
func DefaultSchemaForType(dbType string) string {
	switch strings.ToLower(dbType) {
	case "postgres":
		return "public"
	case "snowflake":
		return "PUBLIC"
	default:
		return "main"
	}
}

// ApplyTargetDefaults applies default values to a TargetConfig based on the target type.
func ApplyTargetDefaults(t *core.TargetConfig) {
	if t == nil {
		return
	}

	if t.Type == "" {
		t.Type = DefaultTargetType
	}
	t.Type = strings.ToLower(t.Type)

	if t.Schema == "" {
		t.Schema = DefaultSchemaForType(t.Type)
	}

	switch t.Type {
	case "duckdb":
		if t.Database == "" {
			t.Database = DefaultDatabase
		}
	case "postgres":
		if t.Port == 0 {
			t.Port = DefaultPostgresPort
		}
	}
}

// ValidateTarget checks that the target names a registered adapter and
// carries the fields that adapter needs.
func ValidateTarget(t *core.TargetConfig) error {
	if t == nil {
		return fmt.Errorf("target is required")
	}
	if t.Type == "" {
		return fmt.Errorf("target type is required")
	}

	if !adapter.IsRegistered(strings.ToLower(t.Type)) {
		return &adapter.UnknownAdapterError{
			Type:      t.Type,
			Available: adapter.ListAdapters(),
		}
	}

	switch strings.ToLower(t.Type) {
	case "postgres":
		if t.Host == "" {
			return fmt.Errorf("postgres target requires host")
		}
		if t.Database == "" {
			return fmt.Errorf("postgres target requires database")
		}
	case "snowflake":
		if t.Account == "" {
			return fmt.Errorf("snowflake target requires account")
		}
		if t.Database == "" {
			return fmt.Errorf("snowflake target requires database")
		}
	}
	return nil
}
