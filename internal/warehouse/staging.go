package warehouse

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/leapstack-labs/listingwh/pkg/adapter"
)

// StagingNormalizer casts the positional raw columns into typed staging
// tables. Values that fail to cast become NULL.
type StagingNormalizer struct {
	logger *slog.Logger
}

// Apply rebuilds the five staging tables.
func (s *StagingNormalizer) Apply(ctx context.Context, wh adapter.Warehouse) (int64, error) {
	var total int64
	for _, d := range Datasets {
		rows, err := wh.Materialize(ctx, d.StagingTable(), stagingQuery(wh.Dialect(), d))
		if err != nil {
			return total, fmt.Errorf("failed to stage %s: %w", d.Name, err)
		}
		s.logger.Debug("staged dataset", slog.String("table", d.StagingTable()), slog.Int64("rows", rows))
		total += rows
	}
	return total, nil
}

func stagingQuery(d adapter.Dialect, ds Dataset) string {
	cols := make([]string, len(ds.Columns))
	for i, c := range ds.Columns {
		cols[i] = fmt.Sprintf("%s AS %s", d.TryCast(d.RawColumn(c.Pos), c.Type), c.Name)
	}
	return fmt.Sprintf("SELECT\n  %s\nFROM %s", strings.Join(cols, ",\n  "), ds.RawTable())
}
