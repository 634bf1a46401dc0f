package duckdb

import (
	"log/slog"

	"github.com/leapstack-labs/listingwh/pkg/adapter"
)

func init() {
	adapter.Register("duckdb", func(logger *slog.Logger) adapter.Warehouse { return New(logger) })
}
