package query

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/leapquery/pkg/meta"
)

func TestToWireShape(t *testing.T) {
	must := mustQuery(t)
	q := newOrders(t)
	total := field(t, q, meta.OrdersTotal)
	q = must(AddFilter(q, -1, NewCall(">", total, Lit(10))))
	q = must(AddBreakout(q, -1, bucketed(t, field(t, q, meta.OrdersCreatedAt), UnitYear)))
	q = must(AddAggregation(q, -1, aggregation(t, "count", nil)))
	count, err := AggregationColumn(q, -1, 0)
	require.NoError(t, err)
	q = must(AddOrderBy(q, -1, count, Descending))
	q = must(SetLimit(q, -1, 5))

	got, err := ToWire(q)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"database": 1,
		"type": "query",
		"query": {
			"source-table": 2,
			"filter": [">", ["field", 16, {"base-type": "type/Float"}], 10],
			"aggregation": [["count"]],
			"breakout": [["field", 18, {"base-type": "type/DateTime", "temporal-unit": "year"}]],
			"order-by": [["desc", ["aggregation", 0]]],
			"limit": 5
		}
	}`, string(got))

	viaMarshal, err := json.Marshal(q)
	require.NoError(t, err)
	assert.JSONEq(t, string(got), string(viaMarshal))
}

func TestToWireNestsStages(t *testing.T) {
	must := mustQuery(t)
	q := newOrders(t)
	q = must(AddAggregation(q, 0, aggregation(t, "count", nil)))
	q = AppendStage(q)
	q = must(AddFilter(q, 1, NewCall(">", visible(t, q, 1, named("count")), Lit(3))))

	got, err := ToWire(q)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"database": 1,
		"type": "query",
		"query": {
			"source-query": {"source-table": 2, "aggregation": [["count"]]},
			"filter": [">", ["field", "count", {"base-type": "type/BigInteger"}], 3]
		}
	}`, string(got))
}

func TestToWireFilters(t *testing.T) {
	must := mustQuery(t)
	q := newOrders(t)
	total := field(t, q, meta.OrdersTotal)
	and := NewCall("and", NewCall(">", total, Lit(1)), NewCall("<", total, Lit(9)))

	single := must(AddFilter(q, -1, and))
	raw, err := ToWire(single)
	require.NoError(t, err)
	var wq struct {
		Query struct {
			Filter []any `json:"filter"`
		} `json:"query"`
	}
	require.NoError(t, json.Unmarshal(raw, &wq))
	require.Len(t, wq.Query.Filter, 2, "a lone and filter is wrapped")
	assert.Equal(t, "and", wq.Query.Filter[0])

	back, err := FromWire(q.Provider(), raw)
	require.NoError(t, err)
	filters, err := Filters(back, -1)
	require.NoError(t, err)
	assert.Equal(t, []Filter{{Expr: and}}, filters)

	// A hand-written top-level and splits into separate filters.
	split, err := FromWire(q.Provider(), []byte(`{"database":1,"type":"query","query":{"source-table":2,
		"filter":["and",[">",["field",16],1],["<",["field",16],9]]}}`))
	require.NoError(t, err)
	filters, err = Filters(split, -1)
	require.NoError(t, err)
	assert.Len(t, filters, 2)
}

func TestWireRoundTrip(t *testing.T) {
	must := mustQuery(t)
	q := newOrders(t, meta.AllFeatures()...)
	total := field(t, q, meta.OrdersTotal)
	tax := field(t, q, meta.OrdersTax)
	created := field(t, q, meta.OrdersCreatedAt)

	q = must(AddExpression(q, 0, "Zeta", NewCall("-", total, tax)))
	q = must(AddExpression(q, 0, "Alpha", NewCall("*", visible(t, q, 0, named("Zeta")), Lit(2))))

	j, err := NewJoin(q, 0, Source{TableID: meta.ProductsID})
	require.NoError(t, err)
	rhs, err := JoinConditionRHSColumns(q, 0, j)
	require.NoError(t, err)
	q = must(AddJoin(q, 0, j.WithStrategy(InnerJoin).WithCondition("=", field(t, q, meta.OrdersProductID), rhs[0])))

	category := visible(t, q, 0, func(c Column) bool {
		return c.Source() == SourceJoinedField && c.FieldID() == meta.ProductsCategory
	})
	state := visible(t, q, 0, func(c Column) bool {
		return c.Source() == SourceImplicitField && c.FieldID() == meta.PeopleState
	})
	q = must(AddFilter(q, 0, NewCall("=", category, Lit("Gizmo"), Lit("Widget"))))
	q = must(AddFilter(q, 0, NewCall("not-null", state)))
	q = must(AddBreakout(q, 0, bucketed(t, created, UnitMonth)))
	q = must(AddBreakout(q, 0, binned(t, total, Binning{Strategy: BinNumBins, NumBins: 10})))
	q = must(AddAggregation(q, 0, aggregation(t, "count", nil)))
	sumWhere, err := NewConditionalAggregation(operator(t, "sum-where"), &total, NewCall(">", visible(t, q, 0, named("Alpha")), Lit(0)))
	require.NoError(t, err)
	q = must(AddAggregation(q, 0, sumWhere.Named("big", "Big orders")))
	p90, err := NewPercentileAggregation(total, 0.9)
	require.NoError(t, err)
	q = must(AddAggregation(q, 0, p90))
	sum, err := AggregationColumn(q, 0, 1)
	require.NoError(t, err)
	q = must(AddOrderBy(q, 0, sum, Descending))

	q = AppendStage(q)
	q = must(AddFilter(q, 1, NewCall(">", visible(t, q, 1, named("count")), Lit(5))))
	q = must(AddBreakout(q, 1, bucketed(t, visible(t, q, 1, named("CREATED_AT")), UnitYear)))
	q = must(AddAggregation(q, 1, aggregation(t, "avg", ptr(visible(t, q, 1, named("big"))))))
	q = must(SetLimit(q, 1, 100))

	raw, err := ToWire(q)
	require.NoError(t, err)
	assert.Less(t, strings.Index(string(raw), `"Zeta"`), strings.Index(string(raw), `"Alpha"`), "expressions keep definition order")

	back, err := FromWire(q.Provider(), raw)
	require.NoError(t, err)
	assert.Equal(t, q, back)

	again, err := ToWire(back)
	require.NoError(t, err)
	assert.Equal(t, string(raw), string(again))
}

func TestWireRoundTripCard(t *testing.T) {
	must := mustQuery(t)
	p := meta.SampleDatabase()
	q, err := NewFromCard(p, 1)
	require.NoError(t, err)
	q = must(AddBreakout(q, 0, bucketed(t, visible(t, q, 0, named("CREATED_AT")), UnitYear)))
	q = must(AddAggregation(q, 0, aggregation(t, "sum", ptr(visible(t, q, 0, named("count"))))))

	raw, err := ToWire(q)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"source-table":"card__1"`)

	back, err := FromWire(p, raw)
	require.NoError(t, err)
	assert.Equal(t, q, back)
}

func TestFromWireErrors(t *testing.T) {
	p := meta.SampleDatabase()
	tests := []struct {
		name     string
		json     string
		notFound bool
	}{
		{"not json", `{`, false},
		{"native query", `{"database":1,"type":"native","query":{}}`, false},
		{"missing query", `{"database":1,"type":"query"}`, false},
		{"other database", `{"database":7,"type":"query","query":{"source-table":2}}`, false},
		{"missing source", `{"database":1,"type":"query","query":{}}`, false},
		{"bad source", `{"database":1,"type":"query","query":{"source-table":"orders"}}`, false},
		{"unknown table", `{"database":1,"type":"query","query":{"source-table":99}}`, true},
		{"unknown field", `{"database":1,"type":"query","query":{"source-table":2,"breakout":[["field",999]]}}`, true},
		{"unknown card", `{"database":1,"type":"query","query":{"source-table":"card__9"}}`, true},
		{"unknown aggregation", `{"database":1,"type":"query","query":{"source-table":2,"aggregation":[["mode"]]}}`, false},
		{"unknown operator", `{"database":1,"type":"query","query":{"source-table":2,"filter":["like",["field",16],"x"]}}`, false},
		{"unknown expression", `{"database":1,"type":"query","query":{"source-table":2,"breakout":[["expression","Nope"]]}}`, false},
		{"unknown join alias", `{"database":1,"type":"query","query":{"source-table":2,"breakout":[["field",22,{"join-alias":"P"}]]}}`, false},
		{"bad direction", `{"database":1,"type":"query","query":{"source-table":2,"order-by":[["up",["field",16]]]}}`, false},
		{"field after first stage", `{"database":1,"type":"query","query":{"source-query":{"source-table":2},"breakout":[["field",16]]}}`, false},
		{"missing prev column", `{"database":1,"type":"query","query":{"source-query":{"source-table":2},"breakout":[["field","nope"]]}}`, false},
		{"aggregation ref out of range", `{"database":1,"type":"query","query":{"source-table":2,"order-by":[["asc",["aggregation",0]]]}}`, false},
		{"field of another table", `{"database":1,"type":"query","query":{"source-table":2,"breakout":[["field",32]]}}`, false},
		{"field of a card source", `{"database":1,"type":"query","query":{"source-table":"card__1","breakout":[["field",16]]}}`, false},
		{"implicit through non-fk", `{"database":1,"type":"query","query":{"source-table":2,"breakout":[["field",22,{"source-field":16}]]}}`, false},
		{"implicit through wrong fk", `{"database":1,"type":"query","query":{"source-table":2,"breakout":[["field",32,{"source-field":13}]]}}`, false},
		{"joined field of another table", `{"database":1,"type":"query","query":{"source-table":2,
			"joins":[{"alias":"P","source-table":1,"condition":["=",["field",13],["field",21,{"join-alias":"P"}]]}],
			"breakout":[["field",32,{"join-alias":"P"}]]}}`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := FromWire(p, []byte(tt.json))
			require.Error(t, err)
			if tt.notFound {
				assert.True(t, errors.Is(err, meta.ErrNotFound), "got %v", err)
				return
			}
			var wireErr *WireError
			assert.True(t, errors.As(err, &wireErr), "got %v", err)
		})
	}
}

func TestFromWireKeepsUnsupportedAnnotations(t *testing.T) {
	// Binning without the feature decodes as written; Reconcile clears it.
	p := meta.SampleDatabase()
	q, err := FromWire(p, []byte(`{"database":1,"type":"query","query":{"source-table":2,
		"breakout":[["field",16,{"base-type":"type/Float","binning":{"strategy":"num-bins","num-bins":10}}]]}}`))
	require.NoError(t, err)
	breakouts, err := Breakouts(q, -1)
	require.NoError(t, err)
	require.Len(t, breakouts, 1)
	assert.Equal(t, &Binning{Strategy: BinNumBins, NumBins: 10}, breakouts[0].Column.Binning())
}

func ptr[T any](v T) *T { return &v }
