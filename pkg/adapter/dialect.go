package adapter

import (
	"fmt"
	"strings"
)

// ColumnType is a logical column type used by staging casts.
type ColumnType int

// Logical column types.
const (
	TypeString ColumnType = iota
	TypeInt
	TypeBool
	TypeDate
	TypeDouble
)

// String returns the lowercase logical type name.
func (t ColumnType) String() string {
	switch t {
	case TypeString:
		return "string"
	case TypeInt:
		return "int"
	case TypeBool:
		return "bool"
	case TypeDate:
		return "date"
	case TypeDouble:
		return "double"
	default:
		return fmt.Sprintf("ColumnType(%d)", int(t))
	}
}

// Dialect renders the vendor-specific fragments of stage transformations.
type Dialect interface {
	// Name returns the dialect name (duckdb, postgres, snowflake).
	Name() string

	// RawColumn returns the expression reading positional raw column pos (1-based) as text.
	RawColumn(pos int) string

	// TryCast casts expr to t, yielding NULL instead of an error on bad input.
	TryCast(expr string, t ColumnType) string

	// Median returns an aggregate computing the median of expr.
	Median(expr string) string

	// TypeName returns the physical type name for t.
	TypeName(t ColumnType) string
}

// ANSIDialect implements the parts of Dialect shared by warehouses that
// support TRY_CAST and MEDIAN. Concrete dialects embed it.
type ANSIDialect struct {
	DialectName string
}

// Name returns the dialect name.
func (d ANSIDialect) Name() string { return d.DialectName }

// RawColumn reads a positional column named c<pos>.
func (d ANSIDialect) RawColumn(pos int) string {
	return fmt.Sprintf("c%d", pos)
}

// TypeName maps logical types to ANSI type names.
func (d ANSIDialect) TypeName(t ColumnType) string {
	switch t {
	case TypeInt:
		return "INTEGER"
	case TypeBool:
		return "BOOLEAN"
	case TypeDate:
		return "DATE"
	case TypeDouble:
		return "DOUBLE"
	default:
		return "VARCHAR"
	}
}

// TryCast uses TRY_CAST. Strings are passed through as VARCHAR.
func (d ANSIDialect) TryCast(expr string, t ColumnType) string {
	if t == TypeString {
		return fmt.Sprintf("CAST(%s AS VARCHAR)", expr)
	}
	return fmt.Sprintf("TRY_CAST(%s AS %s)", expr, d.TypeName(t))
}

// Median uses the MEDIAN aggregate.
func (d ANSIDialect) Median(expr string) string {
	return fmt.Sprintf("MEDIAN(%s)", expr)
}

// QuoteLiteral renders s as a single-quoted SQL string literal.
func QuoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
