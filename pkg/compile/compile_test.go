package compile

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/leapquery/pkg/dialect"
	"github.com/leapstack-labs/leapquery/pkg/dialects/duckdb"
	"github.com/leapstack-labs/leapquery/pkg/dialects/sqlite"
	"github.com/leapstack-labs/leapquery/pkg/meta"
	"github.com/leapstack-labs/leapquery/pkg/query"
)

func must(t *testing.T) func(*query.Query, error) *query.Query {
	return func(q *query.Query, err error) *query.Query {
		t.Helper()
		require.NoError(t, err)
		return q
	}
}

func orders(t *testing.T, features ...meta.Feature) *query.Query {
	t.Helper()
	q, err := query.New(meta.SampleDatabase(features...), meta.OrdersID)
	require.NoError(t, err)
	return q
}

func field(t *testing.T, q *query.Query, id int64) query.Column {
	t.Helper()
	c, err := query.FieldColumn(q.Provider(), id)
	require.NoError(t, err)
	return c
}

func visible(t *testing.T, q *query.Query, pred func(query.Column) bool) query.Column {
	t.Helper()
	cols, err := query.VisibleColumns(q, -1)
	require.NoError(t, err)
	for _, c := range cols {
		if pred(c) {
			return c
		}
	}
	require.FailNow(t, "no matching visible column")
	return query.Column{}
}

func aggregation(t *testing.T, op string, col *query.Column) query.Aggregation {
	t.Helper()
	o, ok := query.LookupAggregationOperator(op)
	require.True(t, ok)
	a, err := query.NewAggregation(o, col)
	require.NoError(t, err)
	return a
}

func month(t *testing.T, c query.Column) query.Column {
	t.Helper()
	out, err := query.WithTemporalBucket(c, &query.TemporalBucket{Unit: query.UnitMonth})
	require.NoError(t, err)
	return out
}

func binned(t *testing.T, c query.Column, b query.Binning) query.Column {
	t.Helper()
	out, err := query.WithBinning(c, &query.BinningStrategy{Binning: b})
	require.NoError(t, err)
	return out
}

func compileDuckDB(t *testing.T, q *query.Query) string {
	t.Helper()
	sql, err := Compile(q, duckdb.DuckDB, Options{})
	require.NoError(t, err)
	return sql
}

func TestCompileRawTable(t *testing.T) {
	q := must(t)(query.SetLimit(orders(t), -1, 10))
	assert.Equal(t,
		`SELECT "source"."ID" AS "ID", "source"."USER_ID" AS "USER_ID", "source"."PRODUCT_ID" AS "PRODUCT_ID", `+
			`"source"."SUBTOTAL" AS "SUBTOTAL", "source"."TAX" AS "TAX", "source"."TOTAL" AS "TOTAL", `+
			`"source"."DISCOUNT" AS "DISCOUNT", "source"."CREATED_AT" AS "CREATED_AT", "source"."QUANTITY" AS "QUANTITY" `+
			`FROM "main"."ORDERS" AS "source" LIMIT 10`,
		compileDuckDB(t, q))
}

func TestCompileAggregated(t *testing.T) {
	q := orders(t)
	q = must(t)(query.AddAggregation(q, -1, aggregation(t, "count", nil)))
	q = must(t)(query.AddBreakout(q, -1, month(t, field(t, q, meta.OrdersCreatedAt))))
	q = must(t)(query.AddFilter(q, -1, query.NewCall(">", field(t, q, meta.OrdersTotal), query.Lit(100))))
	count, err := query.AggregationColumn(q, -1, 0)
	require.NoError(t, err)
	q = must(t)(query.AddOrderBy(q, -1, count, query.Descending))
	q = must(t)(query.SetLimit(q, -1, 5))

	assert.Equal(t,
		`SELECT DATE_TRUNC('month', "source"."CREATED_AT") AS "CREATED_AT", COUNT(*) AS "count" `+
			`FROM "main"."ORDERS" AS "source" WHERE "source"."TOTAL" > 100 GROUP BY 1 ORDER BY "count" DESC LIMIT 5`,
		compileDuckDB(t, q))
}

func TestCompileOrderByBreakout(t *testing.T) {
	q := orders(t)
	created := month(t, field(t, q, meta.OrdersCreatedAt))
	q = must(t)(query.AddAggregation(q, -1, aggregation(t, "count", nil)))
	q = must(t)(query.AddBreakout(q, -1, created))
	q = must(t)(query.AddOrderBy(q, -1, created, query.Ascending))

	assert.Contains(t, compileDuckDB(t, q), `GROUP BY 1 ORDER BY "CREATED_AT" ASC`)
}

func TestCompileImplicitJoin(t *testing.T) {
	q := orders(t)
	category := visible(t, q, func(c query.Column) bool {
		return c.Source() == query.SourceImplicitField && c.FieldID() == meta.ProductsCategory
	})
	total := field(t, q, meta.OrdersTotal)
	q = must(t)(query.AddAggregation(q, -1, aggregation(t, "sum", &total)))
	q = must(t)(query.AddBreakout(q, -1, category))

	assert.Equal(t,
		`SELECT "PRODUCTS__via__PRODUCT_ID"."CATEGORY" AS "CATEGORY", SUM("source"."TOTAL") AS "sum" `+
			`FROM "main"."ORDERS" AS "source" `+
			`LEFT JOIN "main"."PRODUCTS" AS "PRODUCTS__via__PRODUCT_ID" ON "source"."PRODUCT_ID" = "PRODUCTS__via__PRODUCT_ID"."ID" `+
			`GROUP BY 1`,
		compileDuckDB(t, q))
}

func TestCompileConditionalAggregation(t *testing.T) {
	q := orders(t)
	category := visible(t, q, func(c query.Column) bool {
		return c.Source() == query.SourceImplicitField && c.FieldID() == meta.ProductsCategory
	})
	op, ok := query.LookupAggregationOperator("count-where")
	require.True(t, ok)
	a, err := query.NewConditionalAggregation(op, nil,
		query.NewCall("=", category, query.Lit("Widget"), query.Lit("Gizmo")))
	require.NoError(t, err)
	q = must(t)(query.AddAggregation(q, -1, a))

	assert.Equal(t,
		`SELECT SUM(CASE WHEN "PRODUCTS__via__PRODUCT_ID"."CATEGORY" IN ('Widget', 'Gizmo') THEN 1 ELSE 0 END) AS "count_where" `+
			`FROM "main"."ORDERS" AS "source" `+
			`LEFT JOIN "main"."PRODUCTS" AS "PRODUCTS__via__PRODUCT_ID" ON "source"."PRODUCT_ID" = "PRODUCTS__via__PRODUCT_ID"."ID"`,
		compileDuckDB(t, q))
}

func TestCompileBinWidth(t *testing.T) {
	q := orders(t, meta.FeatureBinning)
	total := binned(t, field(t, q, meta.OrdersTotal), query.Binning{Strategy: query.BinWidth, BinWidth: 10})
	q = must(t)(query.AddAggregation(q, -1, aggregation(t, "count", nil)))
	q = must(t)(query.AddBreakout(q, -1, total))

	assert.Equal(t,
		`SELECT (FLOOR("source"."TOTAL" / 10) * 10) AS "TOTAL", COUNT(*) AS "count" FROM "main"."ORDERS" AS "source" GROUP BY 1`,
		compileDuckDB(t, q))
}

func TestCompileNumBins(t *testing.T) {
	q := orders(t, meta.FeatureBinning)
	total := binned(t, field(t, q, meta.OrdersTotal), query.Binning{Strategy: query.BinNumBins, NumBins: 4})
	q = must(t)(query.AddAggregation(q, -1, aggregation(t, "count", nil)))
	q = must(t)(query.AddBreakout(q, -1, total))

	x := `"source"."TOTAL"`
	lo, hi := `"bounds_1"."min_value"`, `"bounds_1"."max_value"`
	width := fmt.Sprintf("((%s - %s) / 4.0)", hi, lo)
	bin := fmt.Sprintf("(%s + LEAST(FLOOR((%s - %s) / NULLIF(%s, 0)), 3) * %s)", lo, x, lo, width, width)
	bounds := `(SELECT MIN("source"."TOTAL") AS "min_value", MAX("source"."TOTAL") AS "max_value" FROM "main"."ORDERS" AS "source") AS "bounds_1"`

	assert.Equal(t,
		`SELECT `+bin+` AS "TOTAL", COUNT(*) AS "count" FROM "main"."ORDERS" AS "source" CROSS JOIN `+bounds+` GROUP BY 1`,
		compileDuckDB(t, q))
}

func TestCompileDefaultBinning(t *testing.T) {
	q := orders(t, meta.FeatureBinning)
	total := binned(t, field(t, q, meta.OrdersTotal), query.Binning{Strategy: query.BinDefault})
	q = must(t)(query.AddAggregation(q, -1, aggregation(t, "count", nil)))
	q = must(t)(query.AddBreakout(q, -1, total))

	sql := compileDuckDB(t, q)
	assert.Contains(t, sql, "/ 8.0)")
	assert.Contains(t, sql, ", 7) *")
	assert.Contains(t, sql, `CROSS JOIN (SELECT MIN("source"."TOTAL")`)
}

func TestCompileCumulative(t *testing.T) {
	q := orders(t)
	total := field(t, q, meta.OrdersTotal)
	q = must(t)(query.AddAggregation(q, -1, aggregation(t, "cum-sum", &total)))
	q = must(t)(query.AddAggregation(q, -1, aggregation(t, "cum-count", nil)))
	q = must(t)(query.AddBreakout(q, -1, month(t, field(t, q, meta.OrdersCreatedAt))))

	assert.Equal(t,
		`SELECT DATE_TRUNC('month', "source"."CREATED_AT") AS "CREATED_AT", `+
			`SUM(SUM("source"."TOTAL")) OVER (ORDER BY DATE_TRUNC('month', "source"."CREATED_AT")) AS "cum_sum", `+
			`SUM(COUNT(*)) OVER (ORDER BY DATE_TRUNC('month', "source"."CREATED_AT")) AS "cum_count" `+
			`FROM "main"."ORDERS" AS "source" GROUP BY 1`,
		compileDuckDB(t, q))
}

func TestCompileCumulativeWithoutBreakouts(t *testing.T) {
	q := must(t)(query.AddAggregation(orders(t), -1, aggregation(t, "cum-count", nil)))
	assert.Equal(t, `SELECT COUNT(*) AS "cum_count" FROM "main"."ORDERS" AS "source"`, compileDuckDB(t, q))
}

func TestCompileMultiStage(t *testing.T) {
	q := orders(t, meta.FeatureNestedQueries)
	q = must(t)(query.AddAggregation(q, -1, aggregation(t, "count", nil)))
	q = must(t)(query.AddBreakout(q, -1, month(t, field(t, q, meta.OrdersCreatedAt))))
	first := compileDuckDB(t, q)

	q = query.AppendStage(q)
	count := visible(t, q, func(c query.Column) bool { return c.Name() == "count" })
	q = must(t)(query.AddFilter(q, -1, query.NewCall(">", count, query.Lit(10))))

	assert.Equal(t,
		`SELECT "source"."CREATED_AT" AS "CREATED_AT", "source"."count" AS "count" `+
			`FROM (`+first+`) AS "source" WHERE "source"."count" > 10`,
		compileDuckDB(t, q))
}

func TestCompileExpressions(t *testing.T) {
	q := orders(t, meta.FeatureExpressions)
	net := query.NewCall("-", field(t, q, meta.OrdersTotal), field(t, q, meta.OrdersTax))
	q = must(t)(query.AddExpression(q, -1, "Net", net))
	due := query.NewCall("datetime-add", field(t, q, meta.OrdersCreatedAt), query.Lit(3), query.Lit("day"))
	q = must(t)(query.AddExpression(q, -1, "Due", due))
	netCol := visible(t, q, func(c query.Column) bool { return c.Name() == "Net" })
	q = must(t)(query.AddFilter(q, -1, query.NewCall(">", netCol, query.Lit(0))))

	sql := compileDuckDB(t, q)
	assert.Contains(t, sql, `(("source"."TOTAL" - "source"."TAX")) AS "Net"`)
	assert.Contains(t, sql, `(("source"."CREATED_AT" + (3) * INTERVAL '1 day')) AS "Due"`)
	assert.Contains(t, sql, `WHERE (("source"."TOTAL" - "source"."TAX")) > 0`)
}

func TestCompileExplicitJoin(t *testing.T) {
	q := orders(t, meta.FeatureLeftJoin)
	j, err := query.NewJoin(q, -1, query.Source{TableID: meta.PeopleID})
	require.NoError(t, err)
	rhs, err := query.JoinConditionRHSColumns(q, -1, j)
	require.NoError(t, err)
	var peopleID query.Column
	for _, c := range rhs {
		if c.FieldID() == meta.PeopleIDField {
			peopleID = c
		}
	}
	j = j.WithCondition("=", field(t, q, meta.OrdersUserID), peopleID)
	q = must(t)(query.AddJoin(q, -1, j))
	state := visible(t, q, func(c query.Column) bool {
		return c.Source() == query.SourceJoinedField && c.FieldID() == meta.PeopleState
	})
	q = must(t)(query.AddAggregation(q, -1, aggregation(t, "count", nil)))
	q = must(t)(query.AddBreakout(q, -1, state))

	assert.Equal(t,
		fmt.Sprintf(`SELECT "%[1]s"."STATE" AS "%[1]s__STATE", COUNT(*) AS "count" `+
			`FROM "main"."ORDERS" AS "source" LEFT JOIN "main"."PEOPLE" AS "%[1]s" ON "source"."USER_ID" = "%[1]s"."ID" GROUP BY 1`, j.Alias),
		compileDuckDB(t, q))
}

func TestCompileTextFilters(t *testing.T) {
	q, err := query.New(meta.SampleDatabase(), meta.PeopleID)
	require.NoError(t, err)
	name := field(t, q, meta.PeopleName)
	contains := query.NewCall("contains", name, query.Lit("smith")).WithOptions(map[string]any{"case-sensitive": false})
	q = must(t)(query.AddFilter(q, -1, contains))
	q = must(t)(query.AddFilter(q, -1, query.NewCall("starts-with", field(t, q, meta.PeopleEmail), query.Lit("a"))))
	q = must(t)(query.AddFilter(q, -1, query.NewCall("not-empty", field(t, q, meta.PeopleCity))))

	assert.Contains(t, compileDuckDB(t, q),
		`WHERE LOWER("source"."NAME") LIKE ('%' || LOWER('smith') || '%') `+
			`AND "source"."EMAIL" LIKE ('a' || '%') `+
			`AND ("source"."CITY" IS NOT NULL AND "source"."CITY" <> '')`)
}

func TestCompileCardSource(t *testing.T) {
	q, err := query.NewFromCard(meta.SampleDatabase(meta.FeatureNestedQueries), 1)
	require.NoError(t, err)

	_, err = Compile(q, duckdb.DuckDB, Options{})
	assert.ErrorIs(t, err, ErrCardResolver)

	sql, err := Compile(q, duckdb.DuckDB, Options{Cards: func(id int64) (string, error) {
		assert.Equal(t, int64(1), id)
		return "SELECT 1", nil
	}})
	require.NoError(t, err)
	assert.Equal(t, `SELECT "source"."CREATED_AT" AS "CREATED_AT", "source"."count" AS "count" FROM (SELECT 1) AS "source"`, sql)

	boom := errors.New("boom")
	_, err = Compile(q, duckdb.DuckDB, Options{Cards: func(int64) (string, error) { return "", boom }})
	assert.ErrorIs(t, err, boom)
}

func TestCompileUnsupportedByDialect(t *testing.T) {
	q := orders(t, meta.FeaturePercentile)
	total := field(t, q, meta.OrdersTotal)
	q = must(t)(query.AddAggregation(q, -1, aggregation(t, "median", &total)))

	_, err := Compile(q, sqlite.SQLite, Options{})
	assert.ErrorIs(t, err, dialect.ErrUnsupported)

	sql, err := Compile(q, duckdb.DuckDB, Options{})
	require.NoError(t, err)
	assert.Equal(t, `SELECT MEDIAN("source"."TOTAL") AS "median" FROM "main"."ORDERS" AS "source"`, sql)
}

func TestCompileSQLiteTemporal(t *testing.T) {
	q := orders(t)
	q = must(t)(query.AddAggregation(q, -1, aggregation(t, "count", nil)))
	q = must(t)(query.AddBreakout(q, -1, month(t, field(t, q, meta.OrdersCreatedAt))))

	sql, err := Compile(q, sqlite.SQLite, Options{})
	require.NoError(t, err)
	assert.Equal(t,
		`SELECT strftime('%Y-%m-01', "source"."CREATED_AT") AS "CREATED_AT", COUNT(*) AS "count" FROM "main"."ORDERS" AS "source" GROUP BY 1`,
		sql)
}

func TestCompileRequiresDialect(t *testing.T) {
	_, err := Compile(orders(t), nil, Options{})
	assert.ErrorIs(t, err, dialect.ErrDialectRequired)
}
