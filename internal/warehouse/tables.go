package warehouse

import (
	"github.com/leapstack-labs/listingwh/pkg/adapter"
)

// Schemas of the warehouse layers.
const (
	SchemaRaw       = "raw"
	SchemaStaging   = "staging"
	SchemaWarehouse = "datawarehouse"
	SchemaDatamart  = "datamart"
)

// Dimension, fact and datamart tables.
const (
	TableDimLGA        = SchemaWarehouse + ".dim_lga"
	TableDimSuburbBase = SchemaWarehouse + ".dim_suburb_base"
	TableDimSuburb     = SchemaWarehouse + ".dim_suburb"
	TableDimHost       = SchemaWarehouse + ".dim_host"
	TableDimListing    = SchemaWarehouse + ".dim_listing"
	TableDimDate       = SchemaWarehouse + ".dim_date"
	TableFact          = SchemaWarehouse + ".fact"

	TableDMListingNeighbourhood = SchemaDatamart + ".dm_listing_neighbourhood"
	TableDMPropertyType         = SchemaDatamart + ".dm_property_type"
	TableDMHostNeighbourhood    = SchemaDatamart + ".dm_host_neighbourhood"
)

// UnknownSuburbID is the reserved key of the "unknown" suburb member.
const UnknownSuburbID = 99999999

// MaxPrice is the exclusive upper bound on listing prices kept in the fact.
const MaxPrice = 2000

// Column is a typed column read from a positional raw column.
type Column struct {
	Name string
	Pos  int
	Type adapter.ColumnType
}

// Dataset is one source dataset and its tables in each layer.
type Dataset struct {
	Name string
	// RawColumns is the number of positional columns in the raw files.
	RawColumns int
	Columns    []Column
}

// RawTable returns the raw external table name.
func (d Dataset) RawTable() string { return SchemaRaw + ".raw_" + d.Name }

// StagingTable returns the typed staging table name.
func (d Dataset) StagingTable() string { return SchemaStaging + ".staging_" + d.Name }

// WarehouseTable returns the warehouse copy table name.
func (d Dataset) WarehouseTable() string { return SchemaWarehouse + "." + d.Name }

// Dataset names.
const (
	DatasetListings  = "listings"
	DatasetCensus1   = "census_1"
	DatasetCensus2   = "census_2"
	DatasetLGACode   = "lga_code"
	DatasetLGASuburb = "lga_suburb"
)

func col(name string, pos int, t adapter.ColumnType) Column {
	return Column{Name: name, Pos: pos, Type: t}
}

// Datasets lists the source datasets in load order.
var Datasets = []Dataset{
	{
		Name:       DatasetListings,
		RawColumns: 22,
		Columns: []Column{
			col("listing_id", 1, adapter.TypeInt),
			col("scraped_date", 3, adapter.TypeDate),
			col("host_id", 4, adapter.TypeInt),
			col("host_name", 5, adapter.TypeString),
			col("host_since", 6, adapter.TypeString),
			col("host_is_superhost", 7, adapter.TypeBool),
			col("host_neighbourhood", 8, adapter.TypeString),
			col("listing_neighbourhood", 9, adapter.TypeString),
			col("property_type", 10, adapter.TypeString),
			col("room_type", 11, adapter.TypeString),
			col("accommodates", 12, adapter.TypeInt),
			col("price", 13, adapter.TypeInt),
			col("has_availability", 14, adapter.TypeBool),
			col("availability_30", 15, adapter.TypeInt),
			col("number_of_reviews", 16, adapter.TypeInt),
			col("review_scores_rating", 17, adapter.TypeInt),
			col("review_scores_accuracy", 18, adapter.TypeInt),
			col("review_scores_cleanliness", 19, adapter.TypeInt),
			col("review_scores_checkin", 20, adapter.TypeInt),
			col("review_scores_communication", 21, adapter.TypeInt),
			col("review_scores_value", 22, adapter.TypeInt),
		},
	},
	{
		Name:       DatasetCensus1,
		RawColumns: 4,
		Columns: []Column{
			col("lga_code_2016", 1, adapter.TypeString),
			col("tot_p_m", 2, adapter.TypeInt),
			col("tot_p_f", 3, adapter.TypeInt),
			col("tot_p_p", 4, adapter.TypeInt),
		},
	},
	{
		Name:       DatasetCensus2,
		RawColumns: 9,
		Columns: []Column{
			col("lga_code_2016", 1, adapter.TypeString),
			col("median_age_persons", 2, adapter.TypeInt),
			col("median_mortgage_repay_monthly", 3, adapter.TypeInt),
			col("median_tot_prsnl_inc_weekly", 4, adapter.TypeInt),
			col("median_rent_weekly", 5, adapter.TypeInt),
			col("median_tot_fam_inc_weekly", 6, adapter.TypeInt),
			col("average_num_psns_per_bedroom", 7, adapter.TypeDouble),
			col("median_tot_hhd_inc_weekly", 8, adapter.TypeInt),
			col("average_household_size", 9, adapter.TypeDouble),
		},
	},
	{
		Name:       DatasetLGACode,
		RawColumns: 2,
		Columns: []Column{
			col("lga_code", 1, adapter.TypeString),
			col("lga_name", 2, adapter.TypeString),
		},
	},
	{
		Name:       DatasetLGASuburb,
		RawColumns: 2,
		Columns: []Column{
			col("lga_name", 1, adapter.TypeString),
			col("suburb_name", 2, adapter.TypeString),
		},
	},
}

// LookupDataset returns the dataset with the given name.
func LookupDataset(name string) (Dataset, bool) {
	for _, d := range Datasets {
		if d.Name == name {
			return d, true
		}
	}
	return Dataset{}, false
}

// DatasetNames returns the dataset names in load order.
func DatasetNames() []string {
	names := make([]string, len(Datasets))
	for i, d := range Datasets {
		names[i] = d.Name
	}
	return names
}

const (
	tableListings  = SchemaWarehouse + "." + DatasetListings
	tableCensus1   = SchemaWarehouse + "." + DatasetCensus1
	tableCensus2   = SchemaWarehouse + "." + DatasetCensus2
	tableLGACode   = SchemaWarehouse + "." + DatasetLGACode
	tableLGASuburb = SchemaWarehouse + "." + DatasetLGASuburb
)
