package warehouse

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/leapstack-labs/listingwh/pkg/adapter"
)

// mart is one datamart table grouped by a set of observation columns
// crossed with year_month.
type mart struct {
	table string
	// groups maps output column names to observation expressions.
	groups []groupColumn
	// hostRevenue adds the host neighbourhood revenue measures.
	hostRevenue bool
}

type groupColumn struct {
	name string
	expr string
}

var marts = []mart{
	{
		table:  TableDMListingNeighbourhood,
		groups: []groupColumn{{"listing_neighbourhood", "lg.lga_name"}},
	},
	{
		table: TableDMPropertyType,
		groups: []groupColumn{
			{"property_type", "dl.property_type"},
			{"room_type", "dl.room_type"},
			{"accommodates", "dl.accommodates"},
		},
	},
	{
		table:       TableDMHostNeighbourhood,
		groups:      []groupColumn{{"host_neighbourhood_lga", "ds.lga_name"}},
		hostRevenue: true,
	},
}

// DatamartBuilder aggregates the fact table into the reporting marts.
type DatamartBuilder struct {
	logger *slog.Logger
}

// Apply rebuilds the three datamart tables.
func (b *DatamartBuilder) Apply(ctx context.Context, wh adapter.Warehouse) (int64, error) {
	var total int64
	for _, m := range marts {
		rows, err := wh.Materialize(ctx, m.table, m.query(wh.Dialect()))
		if err != nil {
			return total, fmt.Errorf("failed to build %s: %w", m.table, err)
		}
		b.logger.Debug("built datamart", slog.String("table", m.table), slog.Int64("rows", rows))
		total += rows
	}
	return total, nil
}

const martObservations = `SELECT
    %s,
    dd.year_month,
    f.price,
    f.stays,
    f.revenue,
    f.review_scores_rating,
    dl.has_availability,
    dh.host_orig_id,
    dh.host_is_superhost
  FROM ` + TableFact + ` AS f
  LEFT JOIN ` + TableDimDate + ` AS dd ON dd.date_id = f.date_id
  LEFT JOIN ` + TableDimLGA + ` AS lg ON lg.lga_code_2016 = f.listing_neigh_idf
  LEFT JOIN ` + TableDimListing + ` AS dl ON dl.listing_id = f.listing_idf
  LEFT JOIN ` + TableDimHost + ` AS dh ON dh.host_id = f.host_idf
  LEFT JOIN ` + TableDimSuburb + ` AS ds ON ds.suburb_id = f.host_neighf`

func (m mart) query(d adapter.Dialect) string {
	groupNames := make([]string, len(m.groups))
	obsCols := make([]string, len(m.groups))
	for i, g := range m.groups {
		groupNames[i] = g.name
		obsCols[i] = fmt.Sprintf("%s AS %s", g.expr, g.name)
	}
	groups := strings.Join(groupNames, ", ")

	cellMeasures := []string{
		"COUNT(CASE WHEN has_availability THEN 1 END) AS active_listings",
		"COUNT(CASE WHEN NOT has_availability THEN 1 END) AS inactive_listings",
		"100.0 * COUNT(CASE WHEN has_availability THEN 1 END) / NULLIF(COUNT(has_availability), 0) AS active_listings_rate",
		"MIN(CASE WHEN has_availability THEN price END) AS min_price_act",
		"MAX(CASE WHEN has_availability THEN price END) AS max_price_act",
		d.Median("CASE WHEN has_availability THEN price END") + " AS median_price_act",
		"COUNT(DISTINCT host_orig_id) AS number_of_distinct_hosts",
		"100.0 * COUNT(DISTINCT CASE WHEN host_is_superhost THEN host_orig_id END) / NULLIF(COUNT(DISTINCT host_orig_id), 0) AS super_host_rate",
		"AVG(CASE WHEN has_availability THEN review_scores_rating END) AS avg_rev_score_act",
		"SUM(CASE WHEN has_availability THEN stays END) AS total_number_of_stays",
		"SUM(revenue) AS total_revenue",
		"SUM(CASE WHEN has_availability THEN revenue END) AS active_revenue",
	}
	double := d.TypeName(adapter.TypeDouble)

	outCols := append([]string{}, groupNames...)
	outCols = append(outCols,
		"year_month",
		"active_listings",
		"inactive_listings",
		"active_listings_rate",
		"min_price_act",
		"max_price_act",
		"median_price_act",
		"number_of_distinct_hosts",
		"super_host_rate",
		"avg_rev_score_act",
		periodChange("active_listings", groups)+" AS percentage_change_for_active_listings",
		periodChange("inactive_listings", groups)+" AS percentage_change_for_inactive_listings",
		"total_number_of_stays",
		ratio("total_revenue", "active_listings", double)+" AS average_estimated_revenue_per_active_listings",
	)
	if m.hostRevenue {
		outCols = append(outCols,
			"total_revenue AS estimated_revenue",
			ratio("active_revenue", "number_of_distinct_hosts", double)+" AS estimated_revenue_per_host_distinct",
		)
	}

	return fmt.Sprintf(`WITH obs AS (
  %s
),
cells AS (
  SELECT
    %s,
    year_month,
    %s
  FROM obs
  GROUP BY %s, year_month
)
SELECT
  %s
FROM cells`,
		fmt.Sprintf(martObservations, strings.Join(obsCols, ",\n    ")),
		groups,
		strings.Join(cellMeasures, ",\n    "),
		groups,
		strings.Join(outCols, ",\n  "),
	)
}

// periodChange renders the percentage change of col against the previous
// period of the same group. It is NULL without a previous period or when
// the previous count is zero.
func periodChange(col, partition string) string {
	prev := fmt.Sprintf("LAG(%s) OVER (PARTITION BY %s ORDER BY year_month)", col, partition)
	return fmt.Sprintf("100.0 * (%s - %s) / NULLIF(%s, 0)", col, prev, prev)
}

// ratio divides num by den as floating point, NULL when den is zero.
// Integer aggregates would otherwise divide as integers on Postgres.
func ratio(num, den, double string) string {
	return fmt.Sprintf("CAST(%s AS %s) / NULLIF(%s, 0)", num, double, den)
}
