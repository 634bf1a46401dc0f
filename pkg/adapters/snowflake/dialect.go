package snowflake

import (
	"fmt"

	"github.com/leapstack-labs/listingwh/pkg/adapter"
)

// Dialect renders Snowflake fragments.
type Dialect struct {
	adapter.ANSIDialect
}

// NewDialect returns the Snowflake dialect.
func NewDialect() Dialect {
	return Dialect{ANSIDialect: adapter.ANSIDialect{DialectName: "snowflake"}}
}

// RawColumn reads positional column pos from the external table VALUE variant.
func (d Dialect) RawColumn(pos int) string {
	return fmt.Sprintf("value:c%d::varchar", pos)
}

var _ adapter.Dialect = Dialect{}
