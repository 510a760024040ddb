package query

import (
	"github.com/leapstack-labs/leapquery/pkg/meta"
)

// AggregationOperator is a catalog entry for an aggregation function.
type AggregationOperator struct {
	// ShortName is the wire operator, e.g. "cum-sum".
	ShortName string
	// DisplayName is the human label, e.g. "Cumulative sum of ...".
	DisplayName string
	// FormulaName is the name used in the formula language, e.g. "CumulativeSum".
	FormulaName string
	// Args names the formula arguments; empty for operators taking none.
	Args []string
	// Column is set when the operator aggregates a column.
	Column bool
	// Condition is set when the operator takes a boolean condition.
	Condition bool
	// Number is set when the operator takes a trailing numeric literal (percentile).
	Number bool
	// ColumnKind constrains the aggregated column.
	ColumnKind argKind
	// Result is the result type; empty means "same as the column".
	Result   meta.BaseType
	Features []meta.Feature
}

// AggregationOperators is the static catalog keyed by short name.
// Order is the presentation order.
var AggregationOperators = []AggregationOperator{
	{ShortName: "count", DisplayName: "Count of rows", FormulaName: "Count", Result: meta.TypeBigInteger},
	{ShortName: "sum", DisplayName: "Sum of ...", FormulaName: "Sum", Args: []string{"column"}, Column: true, ColumnKind: argNumeric},
	{ShortName: "avg", DisplayName: "Average of ...", FormulaName: "Average", Args: []string{"column"}, Column: true, ColumnKind: argNumeric, Result: meta.TypeFloat},
	{ShortName: "median", DisplayName: "Median of ...", FormulaName: "Median", Args: []string{"column"}, Column: true, ColumnKind: argNumeric, Result: meta.TypeFloat, Features: []meta.Feature{meta.FeaturePercentile}},
	{ShortName: "distinct", DisplayName: "Number of distinct values of ...", FormulaName: "Distinct", Args: []string{"column"}, Column: true, Result: meta.TypeBigInteger},
	{ShortName: "cum-sum", DisplayName: "Cumulative sum of ...", FormulaName: "CumulativeSum", Args: []string{"column"}, Column: true, ColumnKind: argNumeric},
	{ShortName: "cum-count", DisplayName: "Cumulative count of rows", FormulaName: "CumulativeCount", Result: meta.TypeBigInteger},
	{ShortName: "stddev", DisplayName: "Standard deviation of ...", FormulaName: "StandardDeviation", Args: []string{"column"}, Column: true, ColumnKind: argNumeric, Result: meta.TypeFloat, Features: []meta.Feature{meta.FeatureStandardDeviation}},
	{ShortName: "var", DisplayName: "Variance of ...", FormulaName: "Variance", Args: []string{"column"}, Column: true, ColumnKind: argNumeric, Result: meta.TypeFloat, Features: []meta.Feature{meta.FeatureStandardDeviation}},
	{ShortName: "min", DisplayName: "Minimum of ...", FormulaName: "Min", Args: []string{"column"}, Column: true, ColumnKind: argOrdered},
	{ShortName: "max", DisplayName: "Maximum of ...", FormulaName: "Max", Args: []string{"column"}, Column: true, ColumnKind: argOrdered},
	{ShortName: "percentile", DisplayName: "Percentile of ...", FormulaName: "Percentile", Args: []string{"column", "percentile"}, Column: true, Number: true, ColumnKind: argNumeric, Result: meta.TypeFloat, Features: []meta.Feature{meta.FeaturePercentile}},
	{ShortName: "share", DisplayName: "Percentage of rows matching ...", FormulaName: "Share", Args: []string{"condition"}, Condition: true, Result: meta.TypeFloat},
	{ShortName: "count-where", DisplayName: "Count of rows matching ...", FormulaName: "CountIf", Args: []string{"condition"}, Condition: true, Result: meta.TypeBigInteger},
	{ShortName: "sum-where", DisplayName: "Sum of ... matching ...", FormulaName: "SumIf", Args: []string{"column", "condition"}, Column: true, Condition: true, ColumnKind: argNumeric},
	{ShortName: "distinct-where", DisplayName: "Distinct values of ... matching ...", FormulaName: "DistinctIf", Args: []string{"column", "condition"}, Column: true, Condition: true, Result: meta.TypeBigInteger},
}

var operatorsByShortName = func() map[string]AggregationOperator {
	m := make(map[string]AggregationOperator, len(AggregationOperators))
	for _, op := range AggregationOperators {
		m[op.ShortName] = op
	}
	return m
}()

// LookupAggregationOperator returns the catalog entry for a short name
// regardless of database support.
func LookupAggregationOperator(shortName string) (AggregationOperator, bool) {
	op, ok := operatorsByShortName[shortName]
	return op, ok
}

// Supported reports whether the feature set enables the operator.
func (op AggregationOperator) Supported(fs meta.FeatureSet) bool {
	return fs.HasAll(op.Features...)
}

// AvailableAggregationOperators returns the operators valid for the stage,
// filtered by the database's declared features.
func AvailableAggregationOperators(q *Query, stageIndex int) ([]AggregationOperator, error) {
	if _, err := q.stageAt(stageIndex); err != nil {
		return nil, err
	}
	fs := q.features()
	out := make([]AggregationOperator, 0, len(AggregationOperators))
	for _, op := range AggregationOperators {
		if op.Supported(fs) {
			out = append(out, op)
		}
	}
	return out, nil
}

// FindAggregationOperator looks an available operator up by short name.
// Matching is exact and case-sensitive.
func FindAggregationOperator(q *Query, stageIndex int, shortName string) (AggregationOperator, bool) {
	ops, err := AvailableAggregationOperators(q, stageIndex)
	if err != nil {
		return AggregationOperator{}, false
	}
	for _, op := range ops {
		if op.ShortName == shortName {
			return op, true
		}
	}
	return AggregationOperator{}, false
}

// resultType returns the type an aggregation with this operator produces.
func (op AggregationOperator) resultType(col *Column) meta.BaseType {
	if op.Result != "" {
		return op.Result
	}
	if col != nil {
		return col.baseType
	}
	return meta.TypeUnknown
}
