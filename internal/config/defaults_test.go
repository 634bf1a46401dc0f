package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/listingwh/pkg/adapter"
	_ "github.com/leapstack-labs/listingwh/pkg/adapters/duckdb"
	"github.com/leapstack-labs/listingwh/pkg/core"
)

func TestApplyTargetDefaults(t *testing.T) {
	tests := []struct {
		name   string
		target core.TargetConfig
		want   core.TargetConfig
	}{
		{
			name:   "empty defaults to duckdb",
			target: core.TargetConfig{},
			want:   core.TargetConfig{Type: "duckdb", Database: DefaultDatabase, Schema: "main"},
		},
		{
			name:   "postgres port and schema",
			target: core.TargetConfig{Type: "Postgres", Host: "db"},
			want:   core.TargetConfig{Type: "postgres", Host: "db", Port: 5432, Schema: "public"},
		},
		{
			name:   "snowflake schema",
			target: core.TargetConfig{Type: "snowflake", Account: "acct"},
			want:   core.TargetConfig{Type: "snowflake", Account: "acct", Schema: "PUBLIC"},
		},
		{
			name:   "explicit values kept",
			target: core.TargetConfig{Type: "postgres", Port: 6543, Schema: "etl"},
			want:   core.TargetConfig{Type: "postgres", Port: 6543, Schema: "etl"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target := tt.target
			ApplyTargetDefaults(&target)
			assert.Equal(t, tt.want, target)
		})
	}

	ApplyTargetDefaults(nil)
}

func TestValidateTarget(t *testing.T) {
	require.NoError(t, ValidateTarget(&core.TargetConfig{Type: "duckdb"}))

	assert.Error(t, ValidateTarget(nil))
	assert.Error(t, ValidateTarget(&core.TargetConfig{}))

	err := ValidateTarget(&core.TargetConfig{Type: "oracle"})
	var unknown *adapter.UnknownAdapterError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "oracle", unknown.Type)
	assert.Contains(t, unknown.Available, "duckdb")
}

func TestFindProjectRoot(t *testing.T) {
	root := t.TempDir()
	nested := filepath.Join(root, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0o750))

	assert.Empty(t, FindConfigFile(root))

	require.NoError(t, os.WriteFile(filepath.Join(root, ConfigFileNameAlt), []byte("verbose: true\n"), 0o600))
	assert.Equal(t, filepath.Join(root, ConfigFileNameAlt), FindConfigFile(root))
	assert.Equal(t, root, FindProjectRoot(nested))

	require.NoError(t, os.WriteFile(filepath.Join(root, ConfigFileName), []byte("verbose: true\n"), 0o600))
	assert.Equal(t, filepath.Join(root, ConfigFileName), FindConfigFile(root))
}
