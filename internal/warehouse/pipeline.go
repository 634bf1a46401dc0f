// Package warehouse defines the listing warehouse stages: source refresh,
// staging casts, the warehouse copy, the five dimension builders, the
// suburb finalizer, the fact builder and the datamart builder.
//
// Every stage fully rebuilds the tables it owns from its upstream tables,
// so any stage can be re-run in isolation once its inputs exist.
package warehouse

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/leapstack-labs/listingwh/internal/engine"
)

// Stage names.
const (
	StageRefreshSource  = "refresh_source"
	StageRefreshStaging = "refresh_staging"
	StageLoadWarehouse  = "load_warehouse"
	StageDimLGA         = "dim_lga"
	StageDimSuburb      = "dim_suburb"
	StageDimHost        = "dim_host"
	StageDimListing     = "dim_listing"
	StageDimDate        = "dim_date"
	StageFinalizeSuburb = "finalize_suburb"
	StageBuildFact      = "build_fact"
	StageBuildDatamart  = "build_datamart"
)

// JoinStrictness selects how fact rows are matched to the listing and host
// dimensions.
type JoinStrictness string

const (
	// JoinStrict matches on the identifier and every dimension attribute.
	JoinStrict JoinStrictness = "strict"
	// JoinLoose matches on the identifier only, taking the lowest key.
	JoinLoose JoinStrictness = "loose"
)

// ParseJoinStrictness parses a configured strictness. Empty means strict.
func ParseJoinStrictness(s string) (JoinStrictness, error) {
	switch JoinStrictness(s) {
	case "", JoinStrict:
		return JoinStrict, nil
	case JoinLoose:
		return JoinLoose, nil
	default:
		return "", fmt.Errorf("invalid join strictness %q (want %q or %q)", s, JoinStrict, JoinLoose)
	}
}

// DefaultSourceFiles are the source file globs relative to the source
// directory, keyed by dataset name.
var DefaultSourceFiles = map[string]string{
	DatasetListings:  "listings/*.csv",
	DatasetCensus1:   "census/census_1*.csv",
	DatasetCensus2:   "census/census_2*.csv",
	DatasetLGACode:   "lga/lga_code*.csv",
	DatasetLGASuburb: "lga/lga_suburb*.csv",
}

// Options configures the stages.
type Options struct {
	// SourceDir is the directory relative source locations resolve against.
	SourceDir string
	// SourceFiles overrides DefaultSourceFiles per dataset.
	SourceFiles map[string]string
	// Header indicates source files carry a header row.
	Header bool
	// JoinStrictness of the fact dimension joins. Empty means strict.
	JoinStrictness JoinStrictness
	// Logger is the structured logger (optional, uses discard if nil).
	Logger *slog.Logger
}

// SourceLocation returns the resolved location of a dataset.
func (o Options) SourceLocation(dataset string) string {
	loc, ok := o.SourceFiles[dataset]
	if !ok || loc == "" {
		loc = DefaultSourceFiles[dataset]
	}
	if o.SourceDir == "" || filepath.IsAbs(loc) || isURL(loc) {
		return loc
	}
	return filepath.Join(o.SourceDir, loc)
}

func (o Options) logger() *slog.Logger {
	if o.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return o.Logger
}

// Stages returns the fixed stage graph.
func Stages(opts Options) []engine.Stage {
	logger := opts.logger()
	strictness := opts.JoinStrictness
	if strictness == "" {
		strictness = JoinStrict
	}

	return []engine.Stage{
		{Name: StageRefreshSource, Transform: &SourceRefresh{opts: opts, logger: logger}},
		{Name: StageRefreshStaging, Upstream: []string{StageRefreshSource}, Transform: &StagingNormalizer{logger: logger}},
		{Name: StageLoadWarehouse, Upstream: []string{StageRefreshStaging}, Transform: &WarehouseLoader{logger: logger}},
		{Name: StageDimLGA, Upstream: []string{StageLoadWarehouse}, Transform: LGABuilder{}},
		{Name: StageDimSuburb, Upstream: []string{StageLoadWarehouse}, Transform: SuburbBuilder{}},
		{Name: StageDimHost, Upstream: []string{StageLoadWarehouse}, Transform: HostBuilder{}},
		{Name: StageDimListing, Upstream: []string{StageLoadWarehouse}, Transform: ListingBuilder{}},
		{Name: StageDimDate, Upstream: []string{StageLoadWarehouse}, Transform: DateBuilder{}},
		{
			Name:      StageFinalizeSuburb,
			Upstream:  []string{StageDimLGA, StageDimSuburb, StageDimHost, StageDimListing, StageDimDate},
			Transform: SuburbFinalizer{},
		},
		{Name: StageBuildFact, Upstream: []string{StageFinalizeSuburb}, Transform: &FactBuilder{Strictness: strictness, logger: logger}},
		{Name: StageBuildDatamart, Upstream: []string{StageBuildFact}, Transform: &DatamartBuilder{logger: logger}},
	}
}
