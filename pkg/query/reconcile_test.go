package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/leapquery/pkg/meta"
)

func TestReconcileSupportedQueryUnchanged(t *testing.T) {
	must := mustQuery(t)
	q := newOrders(t, meta.FeatureBinning)
	total := field(t, q, meta.OrdersTotal)
	q = must(AddBreakout(q, -1, binned(t, total, Binning{Strategy: BinWidth, BinWidth: 10})))
	q = must(AddAggregation(q, -1, aggregation(t, "count", nil)))

	got, warnings, err := Reconcile(q)
	require.NoError(t, err)
	assert.Empty(t, warnings)
	assert.Equal(t, q, got)
}

func TestReconcileAnnotations(t *testing.T) {
	must := mustQuery(t)
	q := newOrders(t, meta.AllFeatures()...)
	total := field(t, q, meta.OrdersTotal)
	created := field(t, q, meta.OrdersCreatedAt)
	dow := bucketed(t, created, UnitDayOfWeek)
	q = must(AddBreakout(q, -1, binned(t, total, Binning{Strategy: BinNumBins, NumBins: 10})))
	q = must(AddBreakout(q, -1, dow))
	q = must(AddAggregation(q, -1, aggregation(t, "count", nil)))
	q = must(AddOrderBy(q, -1, dow, Ascending))

	got, warnings, err := Reconcile(q.WithProvider(meta.SampleDatabase()))
	require.NoError(t, err)
	require.Len(t, warnings, 2)
	for _, w := range warnings {
		assert.Equal(t, ClauseBreakout, w.Kind)
		assert.Equal(t, 0, w.Stage)
	}

	breakouts, err := Breakouts(got, -1)
	require.NoError(t, err)
	require.Len(t, breakouts, 2)
	assert.Nil(t, breakouts[0].Column.Binning())
	u, ok := breakouts[1].Column.TemporalUnit()
	require.True(t, ok)
	assert.Equal(t, UnitDay, u)

	orderBys, err := OrderBys(got, -1)
	require.NoError(t, err)
	require.Len(t, orderBys, 1)
	assert.True(t, orderBys[0].Column.Equal(breakouts[1].Column), "sort follows its breakout")
}

func TestReconcileInvalidWireAnnotations(t *testing.T) {
	p := meta.SampleDatabase(meta.FeatureBinning)
	q, err := FromWire(p, []byte(`{"database":1,"type":"query","query":{"source-table":2,"breakout":[
		["field",16,{"base-type":"type/Float","temporal-unit":"month"}],
		["field",18,{"base-type":"type/DateTime","binning":{"strategy":"num-bins","num-bins":0}}]]}}`))
	require.NoError(t, err)

	got, warnings, err := Reconcile(q)
	require.NoError(t, err)
	assert.Len(t, warnings, 2)

	breakouts, err := Breakouts(got, -1)
	require.NoError(t, err)
	_, ok := breakouts[0].Column.TemporalUnit()
	assert.False(t, ok, "a number has no temporal unit")
	assert.Nil(t, breakouts[1].Column.Binning())
}

func TestReconcileJoinStrategy(t *testing.T) {
	must := mustQuery(t)
	q := newOrders(t, meta.AllFeatures()...)
	j, err := NewJoin(q, -1, Source{TableID: meta.ProductsID})
	require.NoError(t, err)
	rhs, err := JoinConditionRHSColumns(q, -1, j)
	require.NoError(t, err)
	q = must(AddJoin(q, -1, j.WithStrategy(FullJoin).WithCondition("=", field(t, q, meta.OrdersProductID), rhs[0])))

	got, warnings, err := Reconcile(q.WithProvider(meta.SampleDatabase(meta.FeatureLeftJoin, meta.FeatureInnerJoin)))
	require.NoError(t, err)
	require.Len(t, warnings, 1)
	assert.Equal(t, ClauseJoin, warnings[0].Kind)

	joins, err := Joins(got, -1)
	require.NoError(t, err)
	assert.Equal(t, LeftJoin, joins[0].Strategy)
}

func TestReconcileRemovesUnsupportedFunctions(t *testing.T) {
	must := mustQuery(t)
	q := newPeople(t, meta.AllFeatures()...)
	email := field(t, q, meta.PeopleEmail)
	q = must(AddExpression(q, -1, "Domain", NewCall("regex-match-first", email, Lit("@(.*)"))))
	q = must(AddFilter(q, -1, NewCall("=", visible(t, q, 0, named("Domain")), Lit("example.com"))))
	q = must(AddFilter(q, -1, NewCall("not-null", email)))

	got, warnings, err := Reconcile(q.WithProvider(meta.SampleDatabase()))
	require.NoError(t, err)
	require.Len(t, warnings, 1)
	assert.Equal(t, ClauseExpression, warnings[0].Kind)
	assert.Contains(t, warnings[0].String(), "Domain")

	exprs, err := Expressions(got, -1)
	require.NoError(t, err)
	assert.Empty(t, exprs)
	filters, err := Filters(got, -1)
	require.NoError(t, err)
	assert.Equal(t, []Filter{{Expr: NewCall("not-null", email)}}, filters)
}

func TestReconcileRemovesUnsupportedAggregations(t *testing.T) {
	must := mustQuery(t)
	q := newOrders(t, meta.AllFeatures()...)
	total := field(t, q, meta.OrdersTotal)
	q = must(AddAggregation(q, 0, aggregation(t, "count", nil)))
	q = must(AddAggregation(q, 0, aggregation(t, "stddev", &total)))
	q = must(AddAggregation(q, 0, aggregation(t, "sum", &total)))
	sum, err := AggregationColumn(q, 0, 2)
	require.NoError(t, err)
	q = must(AddOrderBy(q, 0, sum, Descending))
	q = AppendStage(q)
	q = must(AddFilter(q, 1, NewCall(">", visible(t, q, 1, named("stddev")), Lit(1))))

	got, warnings, err := Reconcile(q.WithProvider(meta.SampleDatabase()))
	require.NoError(t, err)
	require.Len(t, warnings, 1)
	assert.Equal(t, ClauseAggregation, warnings[0].Kind)

	aggs, err := Aggregations(got, 0)
	require.NoError(t, err)
	require.Len(t, aggs, 2)
	assert.Equal(t, "sum", aggs[1].Operator)

	orderBys, err := OrderBys(got, 0)
	require.NoError(t, err)
	require.Len(t, orderBys, 1)
	assert.Equal(t, 1, orderBys[0].Column.AggregationIndex())

	has, err := HasClauses(got, 1)
	require.NoError(t, err)
	assert.False(t, has, "the filter on the removed output is gone")
}

func TestReconcileUnsupportedExpressionWithEarlierDependent(t *testing.T) {
	must := mustQuery(t)
	q := newPeople(t, meta.AllFeatures()...)
	name := field(t, q, meta.PeopleName)
	q = must(AddExpression(q, -1, "Pattern", NewCall("regex-match-first", name, Lit("x"))))
	q = must(AddExpression(q, -1, "Lower", NewCall("lower", visible(t, q, 0, named("Pattern")))))
	q = must(AddExpression(q, -1, "Upper", NewCall("upper", name)))
	q = reorderExpressions(q, 0, 1, 2, 0)

	var got *Query
	var warnings []Warning
	require.NotPanics(t, func() {
		var err error
		got, warnings, err = Reconcile(q.WithProvider(meta.SampleDatabase()))
		require.NoError(t, err)
	})
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0].Message, "Pattern")

	exprs, err := Expressions(got, -1)
	require.NoError(t, err)
	require.Len(t, exprs, 1)
	assert.Equal(t, "Upper", exprs[0].Name)
}

func TestReconcileDropsBreakoutsMadeIdentical(t *testing.T) {
	p := meta.SampleDatabase()
	q, err := FromWire(p, []byte(`{"database":1,"type":"query","query":{"source-table":3,
		"aggregation":[["count"]],
		"breakout":[
			["field",38,{"base-type":"type/Date","temporal-unit":"hour"}],
			["field",38,{"base-type":"type/Date","temporal-unit":"minute"}]],
		"order-by":[["desc",["field",38,{"base-type":"type/Date","temporal-unit":"minute"}]]]}}`))
	require.NoError(t, err)

	got, warnings, err := Reconcile(q)
	require.NoError(t, err)
	require.Len(t, warnings, 3)
	assert.Contains(t, warnings[2].Message, "duplicate breakout")

	breakouts, err := Breakouts(got, -1)
	require.NoError(t, err)
	require.Len(t, breakouts, 1)
	u, ok := breakouts[0].Column.TemporalUnit()
	require.True(t, ok)
	assert.Equal(t, UnitDay, u)

	orderBys, err := OrderBys(got, -1)
	require.NoError(t, err)
	require.Len(t, orderBys, 1)
	assert.True(t, orderBys[0].Column.Equal(breakouts[0].Column), "sort moves to the surviving breakout")

	raw, err := ToWire(got)
	require.NoError(t, err)
	back, err := FromWire(p, raw)
	require.NoError(t, err)
	assert.Equal(t, got, back)
}
