package postgres

import (
	"fmt"

	"github.com/leapstack-labs/listingwh/pkg/adapter"
)

// Dialect renders PostgreSQL fragments. Permissive casts rely on
// pg_input_is_valid, available from PostgreSQL 16.
type Dialect struct {
	adapter.ANSIDialect
}

// NewDialect returns the PostgreSQL dialect.
func NewDialect() Dialect {
	return Dialect{ANSIDialect: adapter.ANSIDialect{DialectName: "postgres"}}
}

// TypeName maps logical types to PostgreSQL type names.
func (d Dialect) TypeName(t adapter.ColumnType) string {
	switch t {
	case adapter.TypeDouble:
		return "DOUBLE PRECISION"
	case adapter.TypeString:
		return "TEXT"
	default:
		return d.ANSIDialect.TypeName(t)
	}
}

// TryCast yields NULL when expr is not valid input for the target type.
func (d Dialect) TryCast(expr string, t adapter.ColumnType) string {
	if t == adapter.TypeString {
		return fmt.Sprintf("CAST(%s AS TEXT)", expr)
	}
	typ := d.TypeName(t)
	return fmt.Sprintf("CASE WHEN pg_input_is_valid(trim(%[1]s), %[2]s) THEN CAST(trim(%[1]s) AS %[3]s) END",
		expr, adapter.QuoteLiteral(lowerTypeName(typ)), typ)
}

// Median uses the continuous 50th percentile.
func (d Dialect) Median(expr string) string {
	return fmt.Sprintf("percentile_cont(0.5) WITHIN GROUP (ORDER BY %s)", expr)
}

func lowerTypeName(typ string) string {
	switch typ {
	case "INTEGER":
		return "integer"
	case "BOOLEAN":
		return "boolean"
	case "DATE":
		return "date"
	case "DOUBLE PRECISION":
		return "double precision"
	default:
		return "text"
	}
}

var _ adapter.Dialect = Dialect{}
