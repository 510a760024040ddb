package query

import (
	"github.com/leapstack-labs/leapquery/pkg/meta"
)

// BinningKind names a binning strategy on the wire.
type BinningKind string

// Binning strategies.
const (
	// BinDefault leaves the bin count to the execution boundary, which picks
	// it from the column's cardinality. Bin edges may change between runs.
	BinDefault BinningKind = "default"
	// BinNumBins splits the observed [min, max] range into NumBins bins.
	BinNumBins BinningKind = "num-bins"
	// BinWidth uses fixed-width bins aligned to a multiple of BinWidth.
	BinWidth BinningKind = "bin-width"
)

// Binning is the binning annotation stored on a column. Bin edges are never
// stored; they are computed when the query runs.
type Binning struct {
	Strategy BinningKind
	NumBins  int
	BinWidth float64
}

// BinningStrategy is a catalog entry returned by AvailableBinningStrategies.
type BinningStrategy struct {
	Binning Binning
	// Default marks the strategy the UI preselects.
	Default bool
	// Selected marks the strategy the column is currently annotated with.
	Selected bool
	// Coordinate is set for latitude/longitude strategies (widths in degrees).
	Coordinate bool
}

var numericStrategies = []Binning{
	{Strategy: BinDefault},
	{Strategy: BinNumBins, NumBins: 10},
	{Strategy: BinNumBins, NumBins: 50},
	{Strategy: BinNumBins, NumBins: 100},
	{Strategy: BinWidth, BinWidth: 1},
	{Strategy: BinWidth, BinWidth: 10},
	{Strategy: BinWidth, BinWidth: 100},
}

var coordinateStrategies = []Binning{
	{Strategy: BinDefault},
	{Strategy: BinWidth, BinWidth: 0.1},
	{Strategy: BinWidth, BinWidth: 1},
	{Strategy: BinWidth, BinWidth: 10},
	{Strategy: BinWidth, BinWidth: 20},
}

// AvailableBinningStrategies returns the binning strategies valid for col
// in the given stage. The result is empty for non-numeric columns and for
// databases without the binning feature.
func AvailableBinningStrategies(q *Query, stageIndex int, col Column) ([]BinningStrategy, error) {
	if _, err := q.stageAt(stageIndex); err != nil {
		return nil, err
	}
	if !col.IsNumeric() || !q.features().Has(meta.FeatureBinning) {
		return nil, nil
	}
	// Aggregation results are computed after grouping and cannot be binned.
	if col.source == SourceAggregation {
		return nil, nil
	}

	catalog := numericStrategies
	coordinate := col.semanticType.IsCoordinate()
	if coordinate {
		catalog = coordinateStrategies
	}

	out := make([]BinningStrategy, 0, len(catalog))
	for _, b := range catalog {
		out = append(out, BinningStrategy{
			Binning:    b,
			Default:    b.Strategy == BinDefault,
			Selected:   col.binning != nil && *col.binning == b,
			Coordinate: coordinate,
		})
	}
	return out, nil
}

func validateBinning(col Column, b Binning) error {
	if !col.IsNumeric() {
		return invalid(ClauseBreakout, "cannot bin non-numeric column of type %s", col.baseType)
	}
	if col.source == SourceAggregation {
		return invalid(ClauseBreakout, "cannot bin an aggregation result")
	}
	switch b.Strategy {
	case BinDefault:
		if b.NumBins != 0 || b.BinWidth != 0 {
			return invalid(ClauseBreakout, "default binning takes no bin count or width")
		}
	case BinNumBins:
		if b.NumBins <= 0 {
			return invalid(ClauseBreakout, "num-bins requires a positive bin count, got %d", b.NumBins)
		}
	case BinWidth:
		if b.BinWidth <= 0 {
			return invalid(ClauseBreakout, "bin-width requires a positive width, got %g", b.BinWidth)
		}
	default:
		return invalid(ClauseBreakout, "unknown binning strategy %q", b.Strategy)
	}
	return nil
}
