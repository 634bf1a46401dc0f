package warehouse

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/leapstack-labs/listingwh/pkg/adapter"
)

// SourceRefresh re-synchronizes the raw tables with their external
// locations. It writes no rows.
type SourceRefresh struct {
	opts   Options
	logger *slog.Logger
}

// RawSources returns the raw source descriptors in load order.
func (s *SourceRefresh) RawSources() []adapter.RawSource {
	out := make([]adapter.RawSource, len(Datasets))
	for i, d := range Datasets {
		out[i] = adapter.RawSource{
			Table:    d.RawTable(),
			Location: s.opts.SourceLocation(d.Name),
			Columns:  d.RawColumns,
			Header:   s.opts.Header,
		}
	}
	return out
}

// Apply refreshes every raw table. The first failure fails the stage.
func (s *SourceRefresh) Apply(ctx context.Context, wh adapter.Warehouse) (int64, error) {
	for _, src := range s.RawSources() {
		if err := wh.RefreshExternal(ctx, src); err != nil {
			return 0, fmt.Errorf("failed to refresh %s: %w", src.Table, err)
		}
		s.logger.Debug("refreshed source", slog.String("table", src.Table), slog.String("location", src.Location))
	}
	return 0, nil
}

func isURL(loc string) bool {
	return strings.Contains(loc, "://")
}
