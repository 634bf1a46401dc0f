// Package snowflake provides the Snowflake warehouse adapter for listingwh.
//
// Raw datasets are Snowflake external tables over a stage; positional
// columns are read from the VALUE variant. Snowflake records but does not
// enforce declared constraints, so every declaration is validated by query
// before it is added.
//
// Import this package with a blank identifier to register the adapter:
//
//	import _ "github.com/leapstack-labs/listingwh/pkg/adapters/snowflake"
package snowflake

import (
	"log/slog"

	"github.com/leapstack-labs/listingwh/pkg/adapter"
)

func init() {
	adapter.Register("snowflake", func(logger *slog.Logger) adapter.Warehouse { return New(logger) })
}
