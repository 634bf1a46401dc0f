package adapter

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"github.com/leapstack-labs/listingwh/pkg/core"
)

// BaseSQLAdapter provides common database/sql functionality for adapters.
// Embed this struct in concrete adapter implementations to get standard
// Close, Exec, Query, materialization and constraint validation.
type BaseSQLAdapter struct {
	DB     *sql.DB
	Cfg    core.AdapterConfig
	Logger *slog.Logger
}

// Close closes the database connection.
func (b *BaseSQLAdapter) Close() error {
	if b.DB != nil {
		b.logger().Debug("closing database connection")
		return b.DB.Close()
	}
	return nil
}

// Exec executes a SQL statement that doesn't return rows.
func (b *BaseSQLAdapter) Exec(ctx context.Context, sqlStr string) error {
	if b.DB == nil {
		return fmt.Errorf("database connection not established")
	}
	_, err := b.DB.ExecContext(ctx, sqlStr)
	if err != nil {
		return fmt.Errorf("failed to execute SQL: %w", err)
	}
	return nil
}

// Query executes a SQL statement that returns rows.
func (b *BaseSQLAdapter) Query(ctx context.Context, sqlStr string) (*core.Rows, error) {
	if b.DB == nil {
		return nil, fmt.Errorf("database connection not established")
	}
	//nolint:rowserrcheck // rows.Err() must be checked by caller after iteration completes
	rows, err := b.DB.QueryContext(ctx, sqlStr)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	return &core.Rows{Rows: rows}, nil
}

// IsConnected returns true if the database connection is established.
func (b *BaseSQLAdapter) IsConnected() bool {
	return b.DB != nil
}

func (b *BaseSQLAdapter) logger() *slog.Logger {
	if b.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return b.Logger
}

// ParseQualifiedName splits a table reference into schema and name.
// Uses defaultSchema if not specified.
func ParseQualifiedName(table, defaultSchema string) (schema, name string) {
	if parts := strings.Split(table, "."); len(parts) == 2 {
		return parts[0], parts[1]
	}
	return defaultSchema, table
}

// EnsureSchema creates the schema of a qualified table name if needed.
func (b *BaseSQLAdapter) EnsureSchema(ctx context.Context, table string) error {
	schema, _ := ParseQualifiedName(table, "")
	if schema == "" {
		return nil
	}
	return b.Exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", schema))
}

// CountRows returns the number of rows in table.
func (b *BaseSQLAdapter) CountRows(ctx context.Context, table string) (int64, error) {
	if b.DB == nil {
		return 0, fmt.Errorf("database connection not established")
	}
	var count int64
	//nolint:gosec // Table names come from the fixed pipeline layout
	if err := b.DB.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", table)).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count rows of %s: %w", table, err)
	}
	return count, nil
}

// MaterializeReplace replaces table with the result of query using
// CREATE OR REPLACE TABLE, which swaps the table atomically for readers.
func (b *BaseSQLAdapter) MaterializeReplace(ctx context.Context, table, query string) (int64, error) {
	if err := b.EnsureSchema(ctx, table); err != nil {
		return 0, err
	}

	b.logger().Debug("materializing table", slog.String("table", table))

	if err := b.Exec(ctx, fmt.Sprintf("CREATE OR REPLACE TABLE %s AS %s", table, query)); err != nil {
		return 0, fmt.Errorf("failed to materialize %s: %w", table, err)
	}
	return b.CountRows(ctx, table)
}

// ValidatePrimaryKey checks that pk.Column is unique and non-NULL.
func (b *BaseSQLAdapter) ValidatePrimaryKey(ctx context.Context, pk PrimaryKey) error {
	if b.DB == nil {
		return fmt.Errorf("database connection not established")
	}

	//nolint:gosec // Identifiers come from the fixed pipeline layout
	query := fmt.Sprintf(
		"SELECT COUNT(%[1]s) - COUNT(DISTINCT %[1]s), COUNT(*) - COUNT(%[1]s) FROM %[2]s",
		pk.Column, pk.Table,
	)
	var duplicates, nulls int64
	if err := b.DB.QueryRowContext(ctx, query).Scan(&duplicates, &nulls); err != nil {
		return fmt.Errorf("failed to validate primary key %s: %w", pk.Name, err)
	}

	if nulls > 0 {
		return &ConstraintError{
			Kind: ConstraintPrimaryKey, Name: pk.Name, Table: pk.Table, Column: pk.Column,
			Violations: nulls, Detail: "NULL key(s)",
		}
	}
	if duplicates > 0 {
		return &ConstraintError{
			Kind: ConstraintPrimaryKey, Name: pk.Name, Table: pk.Table, Column: pk.Column,
			Violations: duplicates, Detail: "duplicate key(s)",
		}
	}
	return nil
}

// ValidateForeignKey checks that every non-NULL fk.Column value exists in
// fk.RefTable.RefColumn.
func (b *BaseSQLAdapter) ValidateForeignKey(ctx context.Context, fk ForeignKey) error {
	if b.DB == nil {
		return fmt.Errorf("database connection not established")
	}

	//nolint:gosec // Identifiers come from the fixed pipeline layout
	query := fmt.Sprintf(
		"SELECT COUNT(*) FROM %s f WHERE f.%s IS NOT NULL AND NOT EXISTS (SELECT 1 FROM %s r WHERE r.%s = f.%s)",
		fk.Table, fk.Column, fk.RefTable, fk.RefColumn, fk.Column,
	)
	var orphans int64
	if err := b.DB.QueryRowContext(ctx, query).Scan(&orphans); err != nil {
		return fmt.Errorf("failed to validate foreign key %s: %w", fk.Name, err)
	}

	if orphans > 0 {
		return &ConstraintError{
			Kind: ConstraintForeignKey, Name: fk.Name,
			Table: fk.Table, Column: fk.Column,
			RefTable: fk.RefTable, RefColumn: fk.RefColumn,
			Violations: orphans,
		}
	}
	return nil
}

// AddPrimaryKey declares pk with ALTER TABLE. Callers validate first.
func (b *BaseSQLAdapter) AddPrimaryKey(ctx context.Context, pk PrimaryKey) error {
	return b.Exec(ctx, fmt.Sprintf("ALTER TABLE %s ADD CONSTRAINT %s PRIMARY KEY (%s)", pk.Table, pk.Name, pk.Column))
}

// AddForeignKey declares fk with ALTER TABLE. Callers validate first.
func (b *BaseSQLAdapter) AddForeignKey(ctx context.Context, fk ForeignKey) error {
	return b.Exec(ctx, fmt.Sprintf("ALTER TABLE %s ADD CONSTRAINT %s FOREIGN KEY (%s) REFERENCES %s (%s)",
		fk.Table, fk.Name, fk.Column, fk.RefTable, fk.RefColumn))
}
