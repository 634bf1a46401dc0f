package warehouse

import (
	"strings"
	"testing"

	"github.com/leapstack-labs/listingwh/pkg/adapter"
	"github.com/leapstack-labs/listingwh/pkg/adapters/postgres"
	"github.com/leapstack-labs/listingwh/pkg/adapters/snowflake"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStages_Graph(t *testing.T) {
	stages := Stages(Options{})
	require.Len(t, stages, 11)

	upstream := map[string][]string{}
	for _, st := range stages {
		require.NotNil(t, st.Transform, st.Name)
		upstream[st.Name] = st.Upstream
	}

	assert.Empty(t, upstream[StageRefreshSource])
	assert.Equal(t, []string{StageRefreshSource}, upstream[StageRefreshStaging])
	assert.Equal(t, []string{StageRefreshStaging}, upstream[StageLoadWarehouse])
	for _, dim := range []string{StageDimLGA, StageDimSuburb, StageDimHost, StageDimListing, StageDimDate} {
		assert.Equal(t, []string{StageLoadWarehouse}, upstream[dim], dim)
	}
	assert.ElementsMatch(t,
		[]string{StageDimLGA, StageDimSuburb, StageDimHost, StageDimListing, StageDimDate},
		upstream[StageFinalizeSuburb])
	assert.Equal(t, []string{StageFinalizeSuburb}, upstream[StageBuildFact])
	assert.Equal(t, []string{StageBuildFact}, upstream[StageBuildDatamart])
}

func TestStages_DefaultStrictness(t *testing.T) {
	for _, st := range Stages(Options{}) {
		if fb, ok := st.Transform.(*FactBuilder); ok {
			assert.Equal(t, JoinStrict, fb.Strictness)
			return
		}
	}
	t.Fatal("no fact builder stage")
}

func TestParseJoinStrictness(t *testing.T) {
	tests := []struct {
		in      string
		want    JoinStrictness
		wantErr bool
	}{
		{in: "", want: JoinStrict},
		{in: "strict", want: JoinStrict},
		{in: "loose", want: JoinLoose},
		{in: "fuzzy", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseJoinStrictness(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestOptions_SourceLocation(t *testing.T) {
	opts := Options{
		SourceDir: "data",
		SourceFiles: map[string]string{
			DatasetListings: "/abs/listings.csv",
			DatasetCensus1:  "gs://bucket/census_1.csv",
			DatasetCensus2:  "",
		},
	}
	assert.Equal(t, "/abs/listings.csv", opts.SourceLocation(DatasetListings))
	assert.Equal(t, "gs://bucket/census_1.csv", opts.SourceLocation(DatasetCensus1))
	assert.Equal(t, "data/census/census_2*.csv", opts.SourceLocation(DatasetCensus2))
	assert.Equal(t, "lga/lga_code*.csv", Options{}.SourceLocation(DatasetLGACode))
}

func TestDatasets(t *testing.T) {
	assert.Equal(t, []string{"listings", "census_1", "census_2", "lga_code", "lga_suburb"}, DatasetNames())

	d, ok := LookupDataset(DatasetListings)
	require.True(t, ok)
	assert.Equal(t, "raw.raw_listings", d.RawTable())
	assert.Equal(t, "staging.staging_listings", d.StagingTable())
	assert.Equal(t, "datawarehouse.listings", d.WarehouseTable())
	for _, c := range d.Columns {
		assert.NotEqual(t, 2, c.Pos, "c2 is not staged")
		assert.LessOrEqual(t, c.Pos, d.RawColumns)
	}

	_, ok = LookupDataset("reviews")
	assert.False(t, ok)
}

func TestStagingQuery_Dialects(t *testing.T) {
	census, _ := LookupDataset(DatasetCensus2)

	tests := []struct {
		name     string
		dialect  adapter.Dialect
		contains []string
	}{
		{
			name:    "duckdb",
			dialect: adapter.ANSIDialect{DialectName: "duckdb"},
			contains: []string{
				"CAST(c1 AS VARCHAR) AS lga_code_2016",
				"TRY_CAST(c2 AS INTEGER) AS median_age_persons",
				"TRY_CAST(c7 AS DOUBLE) AS average_num_psns_per_bedroom",
				"FROM raw.raw_census_2",
			},
		},
		{
			name:    "snowflake",
			dialect: snowflake.NewDialect(),
			contains: []string{
				"CAST(value:c1::varchar AS VARCHAR) AS lga_code_2016",
				"TRY_CAST(value:c9::varchar AS DOUBLE) AS average_household_size",
			},
		},
		{
			name:    "postgres",
			dialect: postgres.NewDialect(),
			contains: []string{
				"CAST(c1 AS TEXT) AS lga_code_2016",
				"pg_input_is_valid(trim(c7), 'double precision')",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := stagingQuery(tt.dialect, census)
			for _, want := range tt.contains {
				assert.Contains(t, q, want)
			}
		})
	}
}

func TestLoadQuery(t *testing.T) {
	listings, _ := LookupDataset(DatasetListings)
	census, _ := LookupDataset(DatasetCensus1)

	assert.Contains(t, loadQuery(listings), "CAST(date_trunc('month', scraped_date) AS DATE) AS year_month")
	assert.Equal(t, "SELECT * FROM staging.staging_census_1", loadQuery(census))
}

func TestFactQuery_Strictness(t *testing.T) {
	strict := factQuery(JoinStrict)
	assert.Contains(t, strict, "dl.number_of_reviews IS NOT DISTINCT FROM l.number_of_reviews")
	assert.Contains(t, strict, "dh.host_is_superhost IS NOT DISTINCT FROM l.host_is_superhost")
	assert.Contains(t, strict, "COALESCE(ds.suburb_id, 99999999) AS host_neighf")
	assert.Contains(t, strict, "WHERE l.price < 2000")

	loose := factQuery(JoinLoose)
	assert.NotContains(t, loose, "IS NOT DISTINCT FROM")
	assert.Contains(t, loose, "SELECT list_orig_id, MIN(listing_id) AS listing_id FROM datawarehouse.dim_listing GROUP BY list_orig_id")
	assert.Contains(t, loose, "SELECT host_orig_id, MIN(host_id) AS host_id FROM datawarehouse.dim_host GROUP BY host_orig_id")
}

func TestMartQuery(t *testing.T) {
	for _, m := range marts {
		q := m.query(adapter.ANSIDialect{DialectName: "duckdb"})
		assert.Contains(t, q, "MEDIAN(CASE WHEN has_availability THEN price END) AS median_price_act", m.table)
		assert.Contains(t, q, "/ NULLIF(LAG(active_listings) OVER (PARTITION BY", m.table)
		assert.Equal(t, m.hostRevenue, strings.Contains(q, "estimated_revenue_per_host_distinct"), m.table)
		assert.Contains(t, q, "SUM(revenue) AS total_revenue", m.table)
		assert.Contains(t, q, "CAST(total_revenue AS DOUBLE) / NULLIF(active_listings, 0) AS average_estimated_revenue_per_active_listings", m.table)
	}

	pg := marts[2].query(postgres.NewDialect())
	assert.Contains(t, pg, "CAST(total_revenue AS DOUBLE PRECISION) / NULLIF(active_listings, 0)")
	assert.Contains(t, pg, "CAST(active_revenue AS DOUBLE PRECISION) / NULLIF(number_of_distinct_hosts, 0) AS estimated_revenue_per_host_distinct")
	assert.Contains(t, pg, "percentile_cont(0.5) WITHIN GROUP (ORDER BY CASE WHEN has_availability THEN price END)")
}
