package warehouse

import (
	"context"
	"fmt"
	"strings"

	"github.com/leapstack-labs/listingwh/pkg/adapter"
)

// Each dimension is built in one statement: the candidate set is made
// DISTINCT and the surrogate key is a dense rank over the natural key then
// every attribute, so keys are unique, contiguous from 1 and reproducible.

// lgaProjection projects census and LGA code data onto the stripped LGA
// code. It backs both dim_lga and the LGA columns of the suburb dimension.
func lgaProjection() string {
	return `SELECT
  substr(c1.lga_code_2016, 4) AS lga_code_2016,
  lc.lga_name,
  c1.tot_p_m,
  c1.tot_p_f,
  c1.tot_p_p,
  c2.median_age_persons,
  c2.median_mortgage_repay_monthly,
  c2.median_tot_prsnl_inc_weekly,
  c2.median_rent_weekly,
  c2.median_tot_fam_inc_weekly,
  c2.average_num_psns_per_bedroom,
  c2.median_tot_hhd_inc_weekly,
  c2.average_household_size
FROM ` + tableCensus1 + ` AS c1
LEFT JOIN ` + tableCensus2 + ` AS c2 ON c1.lga_code_2016 = c2.lga_code_2016
LEFT JOIN ` + tableLGACode + ` AS lc ON substr(c1.lga_code_2016, 4) = lc.lga_code`
}

// rankedDimension renders a dimension query that prefixes the distinct
// candidate rows of from with a dense-rank key.
func rankedDimension(key, naturalKey string, attrs []string, from string) string {
	order := []string{naturalKey}
	for _, a := range attrs {
		order = append(order, a+" NULLS LAST")
	}
	cols := append([]string{naturalKey}, attrs...)

	return fmt.Sprintf(`SELECT
  DENSE_RANK() OVER (ORDER BY %s) AS %s,
  %s
FROM (
  %s
) AS candidates`,
		strings.Join(order, ", "), key,
		strings.Join(cols, ",\n  "),
		from)
}

// LGABuilder builds dim_lga keyed by the stripped natural LGA code.
type LGABuilder struct{}

// Apply rebuilds dim_lga.
func (LGABuilder) Apply(ctx context.Context, wh adapter.Warehouse) (int64, error) {
	return wh.Materialize(ctx, TableDimLGA, lgaProjection())
}

func suburbQuery() string {
	from := `SELECT DISTINCT
    s.suburb_name,
    l.lga_code_2016 AS lga_code,
    l.lga_name
  FROM ` + tableLGASuburb + ` AS s
  LEFT JOIN (` + lgaProjection() + `) AS l ON lower(s.lga_name) = lower(l.lga_name)
  WHERE s.suburb_name IS NOT NULL`
	return rankedDimension("suburb_id", "suburb_name", []string{"lga_code", "lga_name"}, from)
}

// SuburbBuilder builds dim_suburb_base. The sentinel member is added by
// SuburbFinalizer.
type SuburbBuilder struct{}

// Apply rebuilds dim_suburb_base.
func (SuburbBuilder) Apply(ctx context.Context, wh adapter.Warehouse) (int64, error) {
	return wh.Materialize(ctx, TableDimSuburbBase, suburbQuery())
}

var hostAttributes = []string{"host_name", "host_since", "host_is_superhost"}

func hostQuery() string {
	from := `SELECT DISTINCT
    host_id AS host_orig_id,
    ` + strings.Join(hostAttributes, ",\n    ") + `
  FROM ` + tableListings + `
  WHERE host_id IS NOT NULL`
	return rankedDimension("host_id", "host_orig_id", hostAttributes, from)
}

// HostBuilder builds dim_host.
type HostBuilder struct{}

// Apply rebuilds dim_host.
func (HostBuilder) Apply(ctx context.Context, wh adapter.Warehouse) (int64, error) {
	return wh.Materialize(ctx, TableDimHost, hostQuery())
}

var listingAttributes = []string{"property_type", "room_type", "accommodates", "has_availability", "number_of_reviews"}

func listingQuery() string {
	from := `SELECT DISTINCT
    listing_id AS list_orig_id,
    ` + strings.Join(listingAttributes, ",\n    ") + `
  FROM ` + tableListings + `
  WHERE listing_id IS NOT NULL`
	return rankedDimension("listing_id", "list_orig_id", listingAttributes, from)
}

// ListingBuilder builds dim_listing. One original listing id may map to
// several keys when its attributes change between scrapes.
type ListingBuilder struct{}

// Apply rebuilds dim_listing.
func (ListingBuilder) Apply(ctx context.Context, wh adapter.Warehouse) (int64, error) {
	return wh.Materialize(ctx, TableDimListing, listingQuery())
}

func dateQuery() string {
	from := `SELECT DISTINCT year_month
  FROM ` + tableListings + `
  WHERE year_month IS NOT NULL`
	return rankedDimension("date_id", "year_month", nil, from)
}

// DateBuilder builds dim_date over the observed months.
type DateBuilder struct{}

// Apply rebuilds dim_date.
func (DateBuilder) Apply(ctx context.Context, wh adapter.Warehouse) (int64, error) {
	return wh.Materialize(ctx, TableDimDate, dateQuery())
}

// SuburbFinalizer publishes dim_suburb as dim_suburb_base plus the
// sentinel member.
type SuburbFinalizer struct{}

// Apply rebuilds dim_suburb.
func (SuburbFinalizer) Apply(ctx context.Context, wh adapter.Warehouse) (int64, error) {
	return wh.Materialize(ctx, TableDimSuburb, finalSuburbQuery())
}

func finalSuburbQuery() string {
	return fmt.Sprintf(`SELECT suburb_id, suburb_name, lga_code, lga_name FROM %s
UNION ALL
SELECT %d, 'unknown', 'unknown', 'unknown'`, TableDimSuburbBase, UnknownSuburbID)
}
