package query

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/leapquery/pkg/meta"
)

func TestNew(t *testing.T) {
	p := meta.SampleDatabase()

	q, err := New(p, meta.OrdersID)
	require.NoError(t, err)
	assert.Equal(t, 1, q.StageCount())
	assert.Equal(t, meta.SampleDatabaseID, q.DatabaseID())
	assert.Equal(t, Source{TableID: meta.OrdersID}, q.Source())

	_, err = New(p, 999)
	require.Error(t, err)
	assert.True(t, errors.Is(err, meta.ErrNotFound))

	q, err = NewFromCard(p, 1)
	require.NoError(t, err)
	assert.True(t, q.Source().IsCard())

	_, err = NewFromCard(p, 42)
	assert.True(t, errors.Is(err, meta.ErrNotFound))
}

func TestBuildersDoNotMutate(t *testing.T) {
	must := mustQuery(t)
	base := newOrders(t, meta.AllFeatures()...)
	total := field(t, base, meta.OrdersTotal)
	created := field(t, base, meta.OrdersCreatedAt)
	base = must(AddFilter(base, -1, NewCall(">", total, Lit(10))))
	base = must(AddBreakout(base, -1, bucketed(t, created, UnitYear)))
	base = must(AddAggregation(base, -1, aggregation(t, "count", nil)))

	before, err := ToWire(base)
	require.NoError(t, err)

	ops := map[string]func(q *Query) (*Query, error){
		"filter": func(q *Query) (*Query, error) {
			return AddFilter(q, -1, NewCall("<", total, Lit(100)))
		},
		"breakout": func(q *Query) (*Query, error) {
			return AddBreakout(q, -1, bucketed(t, created, UnitMonth))
		},
		"aggregation": func(q *Query) (*Query, error) {
			return AddAggregation(q, -1, aggregation(t, "sum", &total))
		},
		"expression": func(q *Query) (*Query, error) {
			return AddExpression(q, -1, "Net", NewCall("-", total, Lit(1)))
		},
		"order-by": func(q *Query) (*Query, error) {
			return AddOrderBy(q, -1, bucketed(t, created, UnitYear), Descending)
		},
		"limit": func(q *Query) (*Query, error) {
			return SetLimit(q, -1, 10)
		},
		"remove": func(q *Query) (*Query, error) {
			return RemoveClause(q, -1, ClauseRef{Kind: ClauseBreakout, Index: 0})
		},
		"replace": func(q *Query) (*Query, error) {
			return ReplaceClause(q, -1, ClauseRef{Kind: ClauseAggregation, Index: 0}, aggregation(t, "sum", &total))
		},
		"append-stage": func(q *Query) (*Query, error) {
			return AppendStage(q), nil
		},
	}

	for name, op := range ops {
		t.Run(name, func(t *testing.T) {
			next, err := op(base)
			require.NoError(t, err)
			assert.NotSame(t, base, next)

			after, err := ToWire(base)
			require.NoError(t, err)
			assert.JSONEq(t, string(before), string(after))

			changed, err := ToWire(next)
			require.NoError(t, err)
			assert.NotEqual(t, string(before), string(changed))
		})
	}
}

func TestClauseOrderPreserved(t *testing.T) {
	must := mustQuery(t)
	q := newOrders(t)
	total := field(t, q, meta.OrdersTotal)
	c1 := NewCall(">", total, Lit(1))
	c2 := NewCall(">", total, Lit(2))
	c3 := NewCall(">", total, Lit(3))

	q = must(AddFilter(q, -1, c1))
	q = must(AddFilter(q, -1, c2))
	q = must(AddFilter(q, -1, c3))

	filters, err := Filters(q, -1)
	require.NoError(t, err)
	assert.Equal(t, []Filter{{Expr: c1}, {Expr: c2}, {Expr: c3}}, filters)

	q = must(RemoveClause(q, -1, ClauseRef{Kind: ClauseFilter, Index: 1}))
	filters, err = Filters(q, -1)
	require.NoError(t, err)
	assert.Equal(t, []Filter{{Expr: c1}, {Expr: c3}}, filters)
}

func TestStageIsolation(t *testing.T) {
	must := mustQuery(t)
	q := newOrders(t)
	q = must(AddBreakout(q, 0, bucketed(t, field(t, q, meta.OrdersCreatedAt), UnitMonth)))
	q = must(AddAggregation(q, 0, aggregation(t, "count", nil)))
	q = AppendStage(q)

	stage1, err := BreakoutableColumns(q, 1)
	require.NoError(t, err)
	names := make([]string, 0, len(stage1))
	for _, c := range stage1 {
		assert.Equal(t, SourcePreviousStage, c.Source())
		names = append(names, c.Name())
	}
	assert.Equal(t, []string{"CREATED_AT", "count"}, names)

	stage0, err := BreakoutableColumns(q, 0)
	require.NoError(t, err)
	for _, c := range stage0 {
		assert.NotEqual(t, SourcePreviousStage, c.Source())
		assert.NotEqual(t, "count", c.Name())
	}

	// Raw table fields are not visible after the first stage.
	_, err = AddBreakout(q, 1, field(t, q, meta.OrdersTotal))
	assert.True(t, errors.Is(err, ErrInvalidClause))
}

func TestStageIndex(t *testing.T) {
	q := AppendStage(newOrders(t))

	s, err := q.stageAt(-1)
	require.NoError(t, err)
	assert.Same(t, q.stages[1], s)

	for _, idx := range []int{2, -2, 7} {
		_, err := VisibleColumns(q, idx)
		var stageErr *StageIndexError
		require.True(t, errors.As(err, &stageErr), "index %d", idx)
		assert.Equal(t, 2, stageErr.Stages)
	}
}

func TestDropStages(t *testing.T) {
	must := mustQuery(t)
	q := newOrders(t)
	q = must(AddAggregation(q, 0, aggregation(t, "count", nil)))
	q = AppendStage(AppendStage(q))
	require.Equal(t, 3, q.StageCount())

	dropped := DropEmptyStages(q)
	assert.Equal(t, 1, dropped.StageCount())
	assert.Equal(t, 3, q.StageCount())

	one, err := DropStage(q, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, one.StageCount())

	_, err = DropStage(q, 0)
	assert.Error(t, err)

	nonEmpty, err := HasClauses(q, 0)
	require.NoError(t, err)
	assert.True(t, nonEmpty)
	nonEmpty, err = HasClauses(q, -1)
	require.NoError(t, err)
	assert.False(t, nonEmpty)
}

func TestAccessorsReturnCopies(t *testing.T) {
	must := mustQuery(t)
	q := newOrders(t)
	total := field(t, q, meta.OrdersTotal)
	q = must(AddFilter(q, -1, NewCall(">", total, Lit(1))))

	filters, err := Filters(q, -1)
	require.NoError(t, err)
	filters[0] = Filter{Expr: NewCall("<", total, Lit(5))}

	again, err := Filters(q, -1)
	require.NoError(t, err)
	assert.Equal(t, ">", again[0].Expr.(Call).Op)
}
