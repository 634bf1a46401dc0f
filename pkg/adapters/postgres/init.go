// Package postgres provides the PostgreSQL warehouse adapter for listingwh.
//
// Import this package with a blank identifier to register the adapter:
//
//	import _ "github.com/leapstack-labs/listingwh/pkg/adapters/postgres"
package postgres

import (
	"log/slog"

	"github.com/leapstack-labs/listingwh/pkg/adapter"
)

func init() {
	adapter.Register("postgres", func(logger *slog.Logger) adapter.Warehouse { return New(logger) })
}
