// Package adapter provides the warehouse store contract used by the pipeline
// and the shared database/sql plumbing the concrete adapters build on.
//
// The pipeline core only needs four capabilities from a warehouse: refreshing
// external raw table metadata, materializing a query as a named table, and
// declaring primary-key and foreign-key constraints. Dialect differences
// (positional raw columns, permissive casts, medians) are exposed through
// Dialect so that stage transformations never hard-code a vendor.
//
// Concrete adapter implementations are in pkg/adapters/ subdirectories.
package adapter

import (
	"context"

	"github.com/leapstack-labs/listingwh/pkg/core"
)

// Type aliases so adapter implementations do not need to import pkg/core.
type (
	// Config is an alias for core.AdapterConfig.
	Config = core.AdapterConfig

	// Rows is an alias for core.Rows.
	Rows = core.Rows
)

// Warehouse defines the interface that all warehouse adapters must implement.
// Every call is synchronous and either fully succeeds or leaves the target
// table in its prior committed state.
type Warehouse interface {
	// Connect establishes a connection to the warehouse using the provided config.
	Connect(ctx context.Context, cfg Config) error

	// Close closes the connection and releases resources.
	Close() error

	// Exec executes a SQL statement that doesn't return rows.
	Exec(ctx context.Context, sql string) error

	// Query executes a SQL statement that returns rows.
	Query(ctx context.Context, sql string) (*Rows, error)

	// RefreshExternal re-synchronizes a raw table with its external location.
	RefreshExternal(ctx context.Context, src RawSource) error

	// Materialize replaces table with the result of query and returns its row count.
	Materialize(ctx context.Context, table, query string) (int64, error)

	// DeclarePrimaryKey validates and declares a primary key.
	// A duplicate or NULL key fails with *ConstraintError.
	DeclarePrimaryKey(ctx context.Context, pk PrimaryKey) error

	// DeclareForeignKey validates and declares a foreign key.
	// A non-NULL value missing from the referenced table fails with *ConstraintError.
	DeclareForeignKey(ctx context.Context, fk ForeignKey) error

	// Dialect returns the SQL dialect used to render stage transformations.
	Dialect() Dialect
}

// RawSource describes one externally stored raw dataset.
type RawSource struct {
	// Table is the qualified raw table name (e.g. raw.raw_listings).
	Table string
	// Location is the external location: a file glob for DuckDB and
	// Postgres, ignored by Snowflake which owns its stage definition.
	Location string
	// Columns is the number of positional columns (c1..cN).
	Columns int
	// Header indicates the files carry a header row to skip.
	Header bool
}

// PrimaryKey declares Column as the primary key of Table.
type PrimaryKey struct {
	Name   string
	Table  string
	Column string
}

// ForeignKey declares Table.Column as referencing RefTable.RefColumn.
type ForeignKey struct {
	Name      string
	Table     string
	Column    string
	RefTable  string
	RefColumn string
}
