package warehouse

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/leapstack-labs/listingwh/pkg/adapter"
)

// WarehouseLoader copies the staging tables into the warehouse schema.
// The listings copy gains year_month, the first day of the scrape month.
type WarehouseLoader struct {
	logger *slog.Logger
}

// Apply rebuilds the five warehouse copies.
func (l *WarehouseLoader) Apply(ctx context.Context, wh adapter.Warehouse) (int64, error) {
	var total int64
	for _, d := range Datasets {
		rows, err := wh.Materialize(ctx, d.WarehouseTable(), loadQuery(d))
		if err != nil {
			return total, fmt.Errorf("failed to load %s: %w", d.Name, err)
		}
		l.logger.Debug("loaded dataset", slog.String("table", d.WarehouseTable()), slog.Int64("rows", rows))
		total += rows
	}
	return total, nil
}

func loadQuery(d Dataset) string {
	if d.Name == DatasetListings {
		return fmt.Sprintf("SELECT *, CAST(date_trunc('month', scraped_date) AS DATE) AS year_month FROM %s", d.StagingTable())
	}
	return "SELECT * FROM " + d.StagingTable()
}
