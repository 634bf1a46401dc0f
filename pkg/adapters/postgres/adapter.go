package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/leapstack-labs/listingwh/pkg/adapter"
)

// Adapter implements adapter.Warehouse for PostgreSQL.
type Adapter struct {
	adapter.BaseSQLAdapter
	dialect Dialect
}

// New creates a new PostgreSQL adapter instance.
// If logger is nil, a discard logger is used.
func New(logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Adapter{
		BaseSQLAdapter: adapter.BaseSQLAdapter{Logger: logger},
		dialect:        NewDialect(),
	}
}

// Dialect returns the PostgreSQL dialect.
func (a *Adapter) Dialect() adapter.Dialect {
	return a.dialect
}

// Connect establishes a connection to PostgreSQL.
func (a *Adapter) Connect(ctx context.Context, cfg adapter.Config) error {
	dsn := buildPostgresDSN(cfg)

	a.Logger.Debug("connecting to postgres", slog.String("host", cfg.Host), slog.String("database", cfg.Database))

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("failed to open postgres connection: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping postgres: %w", err)
	}

	a.DB = db
	a.Cfg = cfg
	return nil
}

// buildPostgresDSN constructs a PostgreSQL connection string.
func buildPostgresDSN(cfg adapter.Config) string {
	// Build key=value format: host=localhost port=5432 user=postgres ...
	host := cfg.Host
	if host == "" {
		host = "localhost"
	}

	port := cfg.Port
	if port == 0 {
		port = 5432
	}

	sslmode := "disable"
	if cfg.Options != nil {
		if mode, ok := cfg.Options["sslmode"]; ok {
			sslmode = mode
		}
	}

	// Build DSN
	dsn := fmt.Sprintf("host=%s port=%d dbname=%s sslmode=%s",
		host, port, cfg.Database, sslmode)

	if cfg.Username != "" {
		dsn += fmt.Sprintf(" user=%s", cfg.Username)
	}
	if cfg.Password != "" {
		dsn += fmt.Sprintf(" password=%s", cfg.Password)
	}

	return dsn
}

// Materialize replaces table with the result of query inside one
// transaction, so readers keep the previous table until commit.
func (a *Adapter) Materialize(ctx context.Context, table, query string) (int64, error) {
	if a.DB == nil {
		return 0, fmt.Errorf("database connection not established")
	}

	tx, err := a.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var stmts []string
	if schema, _ := adapter.ParseQualifiedName(table, ""); schema != "" {
		stmts = append(stmts, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", schema))
	}
	stmts = append(stmts,
		fmt.Sprintf("DROP TABLE IF EXISTS %s CASCADE", table),
		fmt.Sprintf("CREATE TABLE %s AS %s", table, query),
	)
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return 0, fmt.Errorf("failed to materialize %s: %w", table, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit %s: %w", table, err)
	}

	a.Logger.Debug("materialized table", slog.String("table", table))
	return a.CountRows(ctx, table)
}

// RefreshExternal reloads src.Table from the CSV files matching
// src.Location. The table is dropped, recreated with TEXT columns
// c1..cN and filled with COPY in a single transaction.
func (a *Adapter) RefreshExternal(ctx context.Context, src adapter.RawSource) error {
	if a.DB == nil {
		return fmt.Errorf("database connection not established")
	}
	if strings.Contains(src.Location, "://") {
		return fmt.Errorf("postgres cannot read remote location %s for %s", src.Location, src.Table)
	}

	files, err := filepath.Glob(src.Location)
	if err != nil {
		return fmt.Errorf("invalid location %s: %w", src.Location, err)
	}
	if len(files) == 0 {
		return fmt.Errorf("no files match %s for %s", src.Location, src.Table)
	}

	conn, err := a.DB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to get connection: %w", err)
	}
	defer func() { _ = conn.Close() }()

	err = conn.Raw(func(driverConn any) error {
		sc, ok := driverConn.(*stdlib.Conn)
		if !ok {
			return fmt.Errorf("unexpected driver connection %T", driverConn)
		}
		return pgx.BeginFunc(ctx, sc.Conn(), func(tx pgx.Tx) error {
			return a.reloadRaw(ctx, tx, src, files)
		})
	})
	if err != nil {
		return fmt.Errorf("failed to refresh %s: %w", src.Table, err)
	}

	a.Logger.Debug("refreshed raw source",
		slog.String("table", src.Table),
		slog.Int("files", len(files)))
	return nil
}

func (a *Adapter) reloadRaw(ctx context.Context, tx pgx.Tx, src adapter.RawSource, files []string) error {
	for _, stmt := range rawTableDDL(src) {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return err
		}
	}

	copySQL := fmt.Sprintf("COPY %s FROM STDIN WITH (FORMAT csv, HEADER %t)", src.Table, src.Header)
	for _, path := range files {
		if err := copyFile(ctx, tx, copySQL, path); err != nil {
			return err
		}
	}
	return nil
}

func copyFile(ctx context.Context, tx pgx.Tx, copySQL, path string) error {
	file, err := os.Open(path) //nolint:gosec // path comes from the configured source glob
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer func() { _ = file.Close() }()

	if _, err := tx.Conn().PgConn().CopyFrom(ctx, file, copySQL); err != nil {
		return fmt.Errorf("failed to copy %s: %w", path, err)
	}
	return nil
}

// rawTableDDL returns the statements recreating src.Table as TEXT columns.
func rawTableDDL(src adapter.RawSource) []string {
	columns := make([]string, src.Columns)
	for i := range columns {
		columns[i] = fmt.Sprintf("c%d TEXT", i+1)
	}

	var stmts []string
	if schema, _ := adapter.ParseQualifiedName(src.Table, ""); schema != "" {
		stmts = append(stmts, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", sanitizeIdentifier(schema)))
	}
	return append(stmts,
		fmt.Sprintf("DROP TABLE IF EXISTS %s CASCADE", src.Table),
		fmt.Sprintf("CREATE TABLE %s (%s)", src.Table, strings.Join(columns, ", ")),
	)
}

// DeclarePrimaryKey validates pk and (re)declares it. An existing
// constraint of the same name is dropped first so partial reruns that
// keep the dimension tables can redeclare.
func (a *Adapter) DeclarePrimaryKey(ctx context.Context, pk adapter.PrimaryKey) error {
	if err := a.ValidatePrimaryKey(ctx, pk); err != nil {
		return err
	}
	if err := a.dropConstraint(ctx, pk.Table, pk.Name); err != nil {
		return err
	}
	return a.AddPrimaryKey(ctx, pk)
}

// DeclareForeignKey validates fk and (re)declares it.
func (a *Adapter) DeclareForeignKey(ctx context.Context, fk adapter.ForeignKey) error {
	if err := a.ValidateForeignKey(ctx, fk); err != nil {
		return err
	}
	if err := a.dropConstraint(ctx, fk.Table, fk.Name); err != nil {
		return err
	}
	return a.AddForeignKey(ctx, fk)
}

func (a *Adapter) dropConstraint(ctx context.Context, table, name string) error {
	return a.Exec(ctx, fmt.Sprintf("ALTER TABLE %s DROP CONSTRAINT IF EXISTS %s CASCADE", table, name))
}

// sanitizeIdentifier makes a column name safe for SQL.
func sanitizeIdentifier(name string) string {
	// Replace problematic characters
	safe := strings.ReplaceAll(name, " ", "_")
	safe = strings.ReplaceAll(safe, "-", "_")
	// Quote if it contains special chars or is a reserved word
	if strings.ContainsAny(safe, "()[]{}") || isReservedWord(safe) {
		return fmt.Sprintf(`"%s"`, safe)
	}
	return safe
}

// isReservedWord checks if a name is a PostgreSQL reserved word.
func isReservedWord(name string) bool {
	reserved := map[string]bool{
		"user": true, "order": true, "group": true, "table": true,
		"select": true, "from": true, "where": true, "index": true,
	}
	return reserved[strings.ToLower(name)]
}

// Ensure Adapter implements adapter.Warehouse.
var _ adapter.Warehouse = (*Adapter)(nil)
