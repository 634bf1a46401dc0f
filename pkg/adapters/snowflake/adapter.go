package snowflake

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"github.com/leapstack-labs/listingwh/pkg/adapter"
	sf "github.com/snowflakedb/gosnowflake"
)

// Adapter implements adapter.Warehouse for Snowflake.
type Adapter struct {
	adapter.BaseSQLAdapter
	dialect Dialect
}

// New creates a new Snowflake adapter instance.
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

// Dialect returns the Snowflake dialect.
func (a *Adapter) Dialect() adapter.Dialect {
	return a.dialect
}

// Connect establishes a connection to Snowflake.
func (a *Adapter) Connect(ctx context.Context, cfg adapter.Config) error {
	dsn, err := buildDSN(cfg)
	if err != nil {
		return err
	}

	a.Logger.Debug("connecting to snowflake",
		slog.String("account", cfg.Account),
		slog.String("database", cfg.Database),
		slog.String("warehouse", cfg.Warehouse))

	db, err := sql.Open("snowflake", dsn)
	if err != nil {
		return fmt.Errorf("failed to open snowflake connection: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping snowflake: %w", err)
	}

	a.DB = db
	a.Cfg = cfg
	return nil
}

// buildDSN renders the gosnowflake DSN for cfg.
func buildDSN(cfg adapter.Config) (string, error) {
	if cfg.Account == "" {
		return "", fmt.Errorf("snowflake target requires an account")
	}

	sfCfg := &sf.Config{
		Account:   cfg.Account,
		User:      cfg.Username,
		Password:  cfg.Password,
		Database:  cfg.Database,
		Schema:    cfg.Schema,
		Warehouse: cfg.Warehouse,
		Role:      cfg.Role,
	}
	if len(cfg.Options) > 0 {
		sfCfg.Params = make(map[string]*string, len(cfg.Options))
		for k, v := range cfg.Options {
			sfCfg.Params[k] = &v
		}
	}

	dsn, err := sf.DSN(sfCfg)
	if err != nil {
		return "", fmt.Errorf("invalid snowflake config: %w", err)
	}
	return dsn, nil
}

// RefreshExternal refreshes the external table metadata against its stage.
func (a *Adapter) RefreshExternal(ctx context.Context, src adapter.RawSource) error {
	if err := a.Exec(ctx, fmt.Sprintf("ALTER EXTERNAL TABLE %s REFRESH", src.Table)); err != nil {
		return fmt.Errorf("failed to refresh %s: %w", src.Table, err)
	}
	a.Logger.Debug("refreshed external table", slog.String("table", src.Table))
	return nil
}

// Materialize replaces table with CREATE OR REPLACE TABLE ... AS.
func (a *Adapter) Materialize(ctx context.Context, table, query string) (int64, error) {
	return a.MaterializeReplace(ctx, table, query)
}

// DeclarePrimaryKey validates and (re)declares pk.
func (a *Adapter) DeclarePrimaryKey(ctx context.Context, pk adapter.PrimaryKey) error {
	if err := a.ValidatePrimaryKey(ctx, pk); err != nil {
		return err
	}
	if err := a.dropExistingConstraint(ctx, pk.Table, pk.Name); err != nil {
		return err
	}
	return a.AddPrimaryKey(ctx, pk)
}

// DeclareForeignKey validates and (re)declares fk.
func (a *Adapter) DeclareForeignKey(ctx context.Context, fk adapter.ForeignKey) error {
	if err := a.ValidateForeignKey(ctx, fk); err != nil {
		return err
	}
	if err := a.dropExistingConstraint(ctx, fk.Table, fk.Name); err != nil {
		return err
	}
	return a.AddForeignKey(ctx, fk)
}

// dropExistingConstraint drops constraint name from table when it survived
// from a previous run. Snowflake has no DROP CONSTRAINT IF EXISTS.
func (a *Adapter) dropExistingConstraint(ctx context.Context, table, name string) error {
	schema, tableName := adapter.ParseQualifiedName(table, a.Cfg.Schema)

	//nolint:gosec // Identifiers come from the fixed pipeline layout
	query := fmt.Sprintf(
		"SELECT COUNT(*) FROM information_schema.table_constraints WHERE table_schema = %s AND table_name = %s AND constraint_name = %s",
		adapter.QuoteLiteral(strings.ToUpper(schema)),
		adapter.QuoteLiteral(strings.ToUpper(tableName)),
		adapter.QuoteLiteral(strings.ToUpper(name)),
	)

	var existing int64
	if err := a.DB.QueryRowContext(ctx, query).Scan(&existing); err != nil {
		return fmt.Errorf("failed to look up constraint %s: %w", name, err)
	}
	if existing == 0 {
		return nil
	}
	return a.Exec(ctx, fmt.Sprintf("ALTER TABLE %s DROP CONSTRAINT %s CASCADE", table, name))
}

// Ensure Adapter implements adapter.Warehouse.
var _ adapter.Warehouse = (*Adapter)(nil)
