package warehouse

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/leapstack-labs/listingwh/pkg/adapter"
)

// FactBuilder builds the fact table and then declares every dimension
// primary key and every fact foreign key. Declaration validates first, so
// an orphan or duplicate key fails the stage with *adapter.ConstraintError.
type FactBuilder struct {
	Strictness JoinStrictness
	logger     *slog.Logger
}

// PrimaryKeys are declared on the dimensions once the fact is built.
var PrimaryKeys = []adapter.PrimaryKey{
	{Name: "pk_dim_date", Table: TableDimDate, Column: "date_id"},
	{Name: "pk_dim_host", Table: TableDimHost, Column: "host_id"},
	{Name: "pk_dim_lga", Table: TableDimLGA, Column: "lga_code_2016"},
	{Name: "pk_dim_listing", Table: TableDimListing, Column: "listing_id"},
	{Name: "pk_dim_suburb", Table: TableDimSuburb, Column: "suburb_id"},
}

// ForeignKeys reference the dimensions from the fact table.
var ForeignKeys = []adapter.ForeignKey{
	{Name: "fk_dim_date", Table: TableFact, Column: "date_id", RefTable: TableDimDate, RefColumn: "date_id"},
	{Name: "fk_dim_host", Table: TableFact, Column: "host_idf", RefTable: TableDimHost, RefColumn: "host_id"},
	{Name: "fk_dim_lga", Table: TableFact, Column: "listing_neigh_idf", RefTable: TableDimLGA, RefColumn: "lga_code_2016"},
	{Name: "fk_dim_listing", Table: TableFact, Column: "listing_idf", RefTable: TableDimListing, RefColumn: "listing_id"},
	{Name: "fk_dim_suburb", Table: TableFact, Column: "host_neighf", RefTable: TableDimSuburb, RefColumn: "suburb_id"},
}

// Apply rebuilds the fact table and declares the star-schema constraints.
func (f *FactBuilder) Apply(ctx context.Context, wh adapter.Warehouse) (int64, error) {
	rows, err := wh.Materialize(ctx, TableFact, factQuery(f.Strictness))
	if err != nil {
		return 0, err
	}
	f.logger.Debug("built fact", slog.Int64("rows", rows), slog.String("join_strictness", string(f.Strictness)))

	for _, pk := range PrimaryKeys {
		if err := wh.DeclarePrimaryKey(ctx, pk); err != nil {
			return rows, fmt.Errorf("failed to declare %s: %w", pk.Name, err)
		}
	}
	for _, fk := range ForeignKeys {
		if err := wh.DeclareForeignKey(ctx, fk); err != nil {
			return rows, fmt.Errorf("failed to declare %s: %w", fk.Name, err)
		}
	}
	return rows, nil
}

// dimensionJoin renders the join of listings alias l to a dimension on its
// original identifier. Strict joins also match every attribute, treating
// NULLs as equal; loose joins take the lowest key per identifier.
func dimensionJoin(strictness JoinStrictness, table, alias, key, origID, listingsID string, attrs []string) string {
	if strictness == JoinLoose {
		return fmt.Sprintf(`LEFT JOIN (
  SELECT %[3]s, MIN(%[4]s) AS %[4]s FROM %[1]s GROUP BY %[3]s
) AS %[2]s ON %[2]s.%[3]s = l.%[5]s`, table, alias, origID, key, listingsID)
	}

	conds := []string{fmt.Sprintf("%s.%s = l.%s", alias, origID, listingsID)}
	for _, a := range attrs {
		conds = append(conds, fmt.Sprintf("%s.%s IS NOT DISTINCT FROM l.%s", alias, a, a))
	}
	return fmt.Sprintf("LEFT JOIN %s AS %s ON\n  %s", table, alias, strings.Join(conds, "\n  AND "))
}

func factQuery(strictness JoinStrictness) string {
	return fmt.Sprintf(`SELECT
  dl.listing_id AS listing_idf,
  dd.date_id,
  dh.host_id AS host_idf,
  COALESCE(ds.suburb_id, %[1]d) AS host_neighf,
  lg.lga_code_2016 AS listing_neigh_idf,
  l.price,
  30 - l.availability_30 AS stays,
  l.price * (30 - l.availability_30) AS revenue,
  l.review_scores_rating
FROM %[2]s AS l
%[3]s
%[4]s
LEFT JOIN (
  SELECT lower(suburb_name) AS suburb_key, MIN(suburb_id) AS suburb_id
  FROM %[5]s
  WHERE suburb_id <> %[1]d
  GROUP BY lower(suburb_name)
) AS ds ON ds.suburb_key = lower(l.host_neighbourhood)
LEFT JOIN (
  SELECT lga_name, MIN(lga_code_2016) AS lga_code_2016
  FROM %[6]s
  WHERE lga_name IS NOT NULL
  GROUP BY lga_name
) AS lg ON lg.lga_name = l.listing_neighbourhood
LEFT JOIN %[7]s AS dd ON dd.year_month = l.year_month
WHERE l.price < %[8]d`,
		UnknownSuburbID,
		tableListings,
		dimensionJoin(strictness, TableDimListing, "dl", "listing_id", "list_orig_id", "listing_id", listingAttributes),
		dimensionJoin(strictness, TableDimHost, "dh", "host_id", "host_orig_id", "host_id", hostAttributes),
		TableDimSuburb,
		TableDimLGA,
		TableDimDate,
		MaxPrice,
	)
}
