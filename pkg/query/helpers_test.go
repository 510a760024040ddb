package query

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/leapquery/pkg/meta"
)

func newOrders(t *testing.T, features ...meta.Feature) *Query {
	t.Helper()
	q, err := New(meta.SampleDatabase(features...), meta.OrdersID)
	require.NoError(t, err)
	return q
}

func newPeople(t *testing.T, features ...meta.Feature) *Query {
	t.Helper()
	q, err := New(meta.SampleDatabase(features...), meta.PeopleID)
	require.NoError(t, err)
	return q
}

func field(t *testing.T, q *Query, id int64) Column {
	t.Helper()
	c, err := FieldColumn(q.Provider(), id)
	require.NoError(t, err)
	return c
}

func bucketed(t *testing.T, c Column, u TemporalUnit) Column {
	t.Helper()
	out, err := WithTemporalBucket(c, &TemporalBucket{Unit: u})
	require.NoError(t, err)
	return out
}

func binned(t *testing.T, c Column, b Binning) Column {
	t.Helper()
	out, err := WithBinning(c, &BinningStrategy{Binning: b})
	require.NoError(t, err)
	return out
}

func operator(t *testing.T, shortName string) AggregationOperator {
	t.Helper()
	op, ok := LookupAggregationOperator(shortName)
	require.True(t, ok, "operator %s", shortName)
	return op
}

func aggregation(t *testing.T, shortName string, col *Column) Aggregation {
	t.Helper()
	a, err := NewAggregation(operator(t, shortName), col)
	require.NoError(t, err)
	return a
}

// visible returns the visible column of the stage matching pred.
func visible(t *testing.T, q *Query, stage int, pred func(Column) bool) Column {
	t.Helper()
	cols, err := VisibleColumns(q, stage)
	require.NoError(t, err)
	for _, c := range cols {
		if pred(c) {
			return c
		}
	}
	require.FailNow(t, "no matching visible column")
	return Column{}
}

func named(name string) func(Column) bool {
	return func(c Column) bool { return c.Name() == name }
}

// mustQuery returns a helper that unwraps a builder result, failing the test on error.
func mustQuery(t *testing.T) func(*Query, error) *Query {
	return func(q *Query, err error) *Query {
		t.Helper()
		require.NoError(t, err)
		return q
	}
}

func displayName(t *testing.T, q *Query, stage int, x any) string {
	t.Helper()
	info, err := DisplayInfo(q, stage, x)
	require.NoError(t, err)
	return info.DisplayName
}
