// Package duckdb provides the DuckDB warehouse adapter for listingwh.
//
// DuckDB reads the raw CSV drops directly through read_csv views, so a
// source refresh re-globs the location and re-declares the view. DuckDB
// cannot add constraints to existing tables; declarations are validated by
// query and recorded in a constraint catalog table instead.
package duckdb

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/leapstack-labs/listingwh/pkg/adapter"

	_ "github.com/marcboeker/go-duckdb" // duckdb driver
)

// ConstraintCatalog is the table holding declared constraints.
const ConstraintCatalog = "main.listingwh_constraints"

// Adapter implements adapter.Warehouse for DuckDB.
type Adapter struct {
	adapter.BaseSQLAdapter
	dialect adapter.ANSIDialect
}

// New creates a new DuckDB adapter instance.
func New(logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Adapter{
		BaseSQLAdapter: adapter.BaseSQLAdapter{Logger: logger},
		dialect:        adapter.ANSIDialect{DialectName: "duckdb"},
	}
}

// Dialect returns the DuckDB dialect.
func (a *Adapter) Dialect() adapter.Dialect {
	return a.dialect
}

// Connect establishes a connection to DuckDB.
// Use ":memory:" as the path for an in-memory database.
func (a *Adapter) Connect(ctx context.Context, cfg adapter.Config) error {
	params, err := parseParams(cfg.Params)
	if err != nil {
		return err
	}

	path := cfg.Path
	if path == "" {
		path = ":memory:"
	}

	db, err := sql.Open("duckdb", path)
	if err != nil {
		return fmt.Errorf("failed to open duckdb connection: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping duckdb: %w", err)
	}

	a.DB = db
	a.Cfg = cfg

	if err := a.applyParams(ctx, params); err != nil {
		_ = db.Close()
		a.DB = nil
		return err
	}

	a.Logger.Debug("connected to duckdb", slog.String("path", path))
	return nil
}

func (a *Adapter) applyParams(ctx context.Context, params *Params) error {
	for _, ext := range params.Extensions {
		if err := a.Exec(ctx, fmt.Sprintf("INSTALL %s; LOAD %s;", ext, ext)); err != nil {
			return fmt.Errorf("failed to load extension %s: %w", ext, err)
		}
	}

	for key, value := range params.Settings {
		if err := a.Exec(ctx, fmt.Sprintf("SET %s = %s", key, adapter.QuoteLiteral(value))); err != nil {
			return fmt.Errorf("failed to apply setting %s: %w", key, err)
		}
	}

	for i, secret := range params.Secrets {
		if err := a.Exec(ctx, buildCreateSecretSQL(secret)); err != nil {
			return fmt.Errorf("failed to create secret %d (%s): %w", i, secret.Type, err)
		}
	}
	return nil
}

// buildCreateSecretSQL renders a CREATE SECRET statement for cfg.
func buildCreateSecretSQL(cfg SecretConfig) string {
	parts := []string{"TYPE " + cfg.Type}

	if cfg.Provider != "" {
		parts = append(parts, "PROVIDER "+cfg.Provider)
	}
	if cfg.Region != "" {
		parts = append(parts, "REGION "+adapter.QuoteLiteral(cfg.Region))
	}
	if cfg.KeyID != "" {
		parts = append(parts, "KEY_ID "+adapter.QuoteLiteral(cfg.KeyID))
	}
	if cfg.Secret != "" {
		parts = append(parts, "SECRET "+adapter.QuoteLiteral(cfg.Secret))
	}
	if cfg.Endpoint != "" {
		parts = append(parts, "ENDPOINT "+adapter.QuoteLiteral(cfg.Endpoint))
	}
	if cfg.URLStyle != "" {
		parts = append(parts, "URL_STYLE "+adapter.QuoteLiteral(cfg.URLStyle))
	}
	if cfg.UseSSL != nil {
		parts = append(parts, fmt.Sprintf("USE_SSL %t", *cfg.UseSSL))
	}
	if scope := formatScope(cfg.Scope); scope != "" {
		parts = append(parts, "SCOPE "+scope)
	}

	return "CREATE SECRET (\n    " + strings.Join(parts, ",\n    ") + "\n)"
}

func formatScope(scope any) string {
	var values []string
	switch s := scope.(type) {
	case nil:
		return ""
	case string:
		return adapter.QuoteLiteral(s)
	case []string:
		values = s
	case []any:
		for _, v := range s {
			values = append(values, fmt.Sprint(v))
		}
	default:
		return adapter.QuoteLiteral(fmt.Sprint(s))
	}

	if len(values) == 0 {
		return ""
	}
	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = adapter.QuoteLiteral(v)
	}
	return "(" + strings.Join(quoted, ", ") + ")"
}

// RefreshExternal re-globs src.Location and re-declares the raw view over it.
// The glob is probed first so a missing drop fails the refresh instead of
// leaving a view that errors on first read.
func (a *Adapter) RefreshExternal(ctx context.Context, src adapter.RawSource) error {
	if a.DB == nil {
		return fmt.Errorf("database connection not established")
	}
	if err := a.EnsureSchema(ctx, src.Table); err != nil {
		return err
	}

	reader := readCSVExpr(src)

	var files int64
	//nolint:gosec // Reader is rendered from configured source locations
	if err := a.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+reader).Scan(&files); err != nil {
		return fmt.Errorf("failed to read source %s at %s: %w", src.Table, src.Location, err)
	}

	if err := a.Exec(ctx, fmt.Sprintf("CREATE OR REPLACE VIEW %s AS SELECT * FROM %s", src.Table, reader)); err != nil {
		return fmt.Errorf("failed to refresh %s: %w", src.Table, err)
	}

	a.Logger.Debug("refreshed raw source",
		slog.String("table", src.Table),
		slog.String("location", src.Location),
		slog.Int64("rows", files))
	return nil
}

func readCSVExpr(src adapter.RawSource) string {
	location := src.Location
	if !strings.Contains(location, "://") {
		if abs, err := filepath.Abs(location); err == nil {
			location = abs
		}
	}

	columns := make([]string, src.Columns)
	for i := range columns {
		columns[i] = fmt.Sprintf("'c%d': 'VARCHAR'", i+1)
	}

	return fmt.Sprintf("read_csv(%s, header=%t, columns={%s})",
		adapter.QuoteLiteral(location), src.Header, strings.Join(columns, ", "))
}

// Materialize replaces table with the result of query.
func (a *Adapter) Materialize(ctx context.Context, table, query string) (int64, error) {
	return a.MaterializeReplace(ctx, table, query)
}

// DeclarePrimaryKey validates pk and records it in the constraint catalog.
func (a *Adapter) DeclarePrimaryKey(ctx context.Context, pk adapter.PrimaryKey) error {
	if err := a.ValidatePrimaryKey(ctx, pk); err != nil {
		return err
	}
	return a.recordConstraint(ctx, pk.Name, adapter.ConstraintPrimaryKey, pk.Table, pk.Column, "", "")
}

// DeclareForeignKey validates fk and records it in the constraint catalog.
func (a *Adapter) DeclareForeignKey(ctx context.Context, fk adapter.ForeignKey) error {
	if err := a.ValidateForeignKey(ctx, fk); err != nil {
		return err
	}
	return a.recordConstraint(ctx, fk.Name, adapter.ConstraintForeignKey, fk.Table, fk.Column, fk.RefTable, fk.RefColumn)
}

func (a *Adapter) recordConstraint(ctx context.Context, name, kind, table, column, refTable, refColumn string) error {
	//nolint:gosec // Catalog name is a package constant
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS ` + ConstraintCatalog + ` (
			name VARCHAR PRIMARY KEY,
			kind VARCHAR NOT NULL,
			table_name VARCHAR NOT NULL,
			column_name VARCHAR NOT NULL,
			ref_table VARCHAR,
			ref_column VARCHAR
		)`,
		`DELETE FROM ` + ConstraintCatalog + ` WHERE name = ` + adapter.QuoteLiteral(name),
		fmt.Sprintf(`INSERT INTO %s (name, kind, table_name, column_name, ref_table, ref_column) VALUES (%s, %s, %s, %s, %s, %s)`,
			ConstraintCatalog,
			adapter.QuoteLiteral(name), adapter.QuoteLiteral(kind),
			adapter.QuoteLiteral(table), adapter.QuoteLiteral(column),
			nullableLiteral(refTable), nullableLiteral(refColumn)),
	}

	for _, stmt := range stmts {
		if err := a.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to record constraint %s: %w", name, err)
		}
	}

	a.Logger.Debug("declared constraint", slog.String("name", name), slog.String("kind", kind))
	return nil
}

func nullableLiteral(s string) string {
	if s == "" {
		return "NULL"
	}
	return adapter.QuoteLiteral(s)
}

// Ensure Adapter implements adapter.Warehouse.
var _ adapter.Warehouse = (*Adapter)(nil)
