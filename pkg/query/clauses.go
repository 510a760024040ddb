package query

import (
	"fmt"
	"slices"

	"github.com/leapstack-labs/leapquery/pkg/meta"
)

// ClauseKind names a clause list of a stage.
type ClauseKind string

// Clause kinds.
const (
	ClauseAggregation ClauseKind = "aggregation"
	ClauseBreakout    ClauseKind = "breakout"
	ClauseFilter      ClauseKind = "filter"
	ClauseJoin        ClauseKind = "join"
	ClauseExpression  ClauseKind = "expression"
	ClauseOrderBy     ClauseKind = "order-by"
)

// ClauseRef addresses a clause by position within its stage's list.
// Positions shift after every structural edit; re-resolve refs after each one.
type ClauseRef struct {
	Kind  ClauseKind
	Index int
}

// Clause is implemented by every clause value.
type Clause interface {
	clauseKind() ClauseKind
}

// Aggregation is one aggregation clause, e.g. sum of Total.
type Aggregation struct {
	Operator   string
	Column     *Column
	Condition  Expr
	Percentile float64
	// Name and DisplayName override the generated names when set.
	Name        string
	DisplayName string
}

func (Aggregation) clauseKind() ClauseKind { return ClauseAggregation }

// Breakout groups rows by a column, optionally binned or bucketed.
type Breakout struct {
	Column Column
}

func (Breakout) clauseKind() ClauseKind { return ClauseBreakout }

// Filter restricts rows with a boolean expression.
type Filter struct {
	Expr Expr
}

func (Filter) clauseKind() ClauseKind { return ClauseFilter }

// NamedExpression is a custom column.
type NamedExpression struct {
	Name string
	Expr Expr
}

func (NamedExpression) clauseKind() ClauseKind { return ClauseExpression }

// Direction is a sort direction.
type Direction string

// Sort directions.
const (
	Ascending  Direction = "asc"
	Descending Direction = "desc"
)

// OrderBy sorts the stage's rows by a column.
type OrderBy struct {
	Column    Column
	Direction Direction
}

func (OrderBy) clauseKind() ClauseKind { return ClauseOrderBy }

// JoinStrategy is a join type. Its value doubles as the gating feature.
type JoinStrategy string

// Join strategies.
const (
	LeftJoin  JoinStrategy = "left-join"
	RightJoin JoinStrategy = "right-join"
	InnerJoin JoinStrategy = "inner-join"
	FullJoin  JoinStrategy = "full-join"
)

var joinStrategies = []JoinStrategy{LeftJoin, RightJoin, InnerJoin, FullJoin}

// JoinFields selects which joined columns a stage returns.
type JoinFields string

// Join field selections.
const (
	JoinFieldsAll  JoinFields = "all"
	JoinFieldsNone JoinFields = "none"
)

// JoinCondition compares a stage column with a joined column.
type JoinCondition struct {
	Op  string
	LHS Column
	RHS Column
}

// JoinConditionOperators are the comparison operators a join condition accepts.
var JoinConditionOperators = []string{"=", "!=", "<", "<=", ">", ">="}

// Join is an explicit join to a table or card.
type Join struct {
	Alias      string
	Strategy   JoinStrategy
	Source     Source
	Conditions []JoinCondition
	Fields     JoinFields
}

func (Join) clauseKind() ClauseKind { return ClauseJoin }

// WithCondition returns a copy of j with one more condition.
func (j Join) WithCondition(op string, lhs, rhs Column) Join {
	j.Conditions = appendCopy(j.Conditions, JoinCondition{Op: op, LHS: lhs, RHS: rhs})
	return j
}

// WithStrategy returns a copy of j using strategy s.
func (j Join) WithStrategy(s JoinStrategy) Join {
	j.Strategy = s
	return j
}

// WithFields returns a copy of j returning the given field selection.
func (j Join) WithFields(f JoinFields) Join {
	j.Fields = f
	return j
}

// NewAggregation builds an aggregation taking at most a column.
func NewAggregation(op AggregationOperator, col *Column) (Aggregation, error) {
	a := Aggregation{Operator: op.ShortName, Column: copyColumn(col)}
	return a, a.validate()
}

// NewConditionalAggregation builds share, count-where, sum-where or distinct-where.
func NewConditionalAggregation(op AggregationOperator, col *Column, cond Expr) (Aggregation, error) {
	a := Aggregation{Operator: op.ShortName, Column: copyColumn(col), Condition: cond}
	return a, a.validate()
}

// NewPercentileAggregation builds a percentile aggregation; p is in [0, 1].
func NewPercentileAggregation(col Column, p float64) (Aggregation, error) {
	a := Aggregation{Operator: "percentile", Column: &col, Percentile: p}
	return a, a.validate()
}

// Named returns a copy of a with a custom name and display name.
func (a Aggregation) Named(name, displayName string) Aggregation {
	a.Name = name
	a.DisplayName = displayName
	return a
}

func copyColumn(c *Column) *Column {
	if c == nil {
		return nil
	}
	cc := *c
	return &cc
}

func (a Aggregation) validate() error {
	op, ok := LookupAggregationOperator(a.Operator)
	if !ok {
		return invalid(ClauseAggregation, "unknown operator %q", a.Operator)
	}
	switch {
	case op.Column && a.Column == nil:
		return invalid(ClauseAggregation, "%s requires a column", op.ShortName)
	case !op.Column && a.Column != nil:
		return invalid(ClauseAggregation, "%s takes no column", op.ShortName)
	case op.Condition && a.Condition == nil:
		return invalid(ClauseAggregation, "%s requires a condition", op.ShortName)
	case !op.Condition && a.Condition != nil:
		return invalid(ClauseAggregation, "%s takes no condition", op.ShortName)
	}
	if a.Column != nil {
		if a.Column.source == SourceAggregation {
			return invalid(ClauseAggregation, "cannot aggregate an aggregation result in the same stage")
		}
		if !op.ColumnKind.accepts(a.Column.baseType) {
			return invalid(ClauseAggregation, "%s expects a %s column, got %s", op.ShortName, op.ColumnKind, a.Column.baseType)
		}
	}
	if a.Condition != nil {
		if err := validateBoolean(ClauseAggregation, a.Condition); err != nil {
			return err
		}
	}
	if op.Number {
		if a.Percentile < 0 || a.Percentile > 1 {
			return invalid(ClauseAggregation, "percentile must be between 0 and 1, got %g", a.Percentile)
		}
	} else if a.Percentile != 0 {
		return invalid(ClauseAggregation, "%s takes no numeric argument", op.ShortName)
	}
	return nil
}

func validateBoolean(kind ClauseKind, e Expr) error {
	if err := validateExpr(kind, e); err != nil {
		return err
	}
	if t := exprType(e); t != meta.TypeBoolean && t != meta.TypeUnknown {
		return invalid(kind, "expected a boolean expression, got %s", t)
	}
	return nil
}

// clauseColumns lists every column a clause references, including nested ones.
func clauseColumns(c Clause) []Column {
	var out []Column
	add := func(col Column) { out = append(out, col) }
	switch v := c.(type) {
	case Aggregation:
		if v.Column != nil {
			add(*v.Column)
		}
		if v.Condition != nil {
			walkColumns(v.Condition, add)
		}
	case Breakout:
		add(v.Column)
	case Filter:
		walkColumns(v.Expr, add)
	case NamedExpression:
		walkColumns(v.Expr, add)
	case OrderBy:
		add(v.Column)
	case Join:
		for _, cond := range v.Conditions {
			add(cond.LHS)
			add(cond.RHS)
		}
	}
	return out
}

// mapClauseColumns rebuilds c with every referenced column passed through fn.
func mapClauseColumns(c Clause, fn func(Column) Column) Clause {
	switch v := c.(type) {
	case Aggregation:
		if v.Column != nil {
			col := fn(*v.Column)
			v.Column = &col
		}
		if v.Condition != nil {
			v.Condition = mapColumns(v.Condition, fn)
		}
		return v
	case Breakout:
		v.Column = fn(v.Column)
		return v
	case Filter:
		v.Expr = mapColumns(v.Expr, fn)
		return v
	case NamedExpression:
		v.Expr = mapColumns(v.Expr, fn)
		return v
	case OrderBy:
		v.Column = fn(v.Column)
		return v
	case Join:
		if len(v.Conditions) > 0 {
			conds := make([]JoinCondition, len(v.Conditions))
			for i, cond := range v.Conditions {
				conds[i] = JoinCondition{Op: cond.Op, LHS: fn(cond.LHS), RHS: fn(cond.RHS)}
			}
			v.Conditions = conds
		}
		return v
	}
	return c
}

func clauseReferences(c Clause, pred func(Column) bool) bool {
	return slices.ContainsFunc(clauseColumns(c), pred)
}

// containsColumn reports whether cols holds c. exact also compares annotations.
func containsColumn(cols []Column, c Column, exact bool) bool {
	for _, o := range cols {
		if (exact && o.Equal(c)) || (!exact && o.SameColumn(c)) {
			return true
		}
	}
	return false
}

func requireVisible(kind ClauseKind, cols []Column, refs []Column) error {
	for _, c := range refs {
		if !containsColumn(cols, c, false) {
			return invalid(kind, "column %s is not visible in this stage", c.key())
		}
	}
	return nil
}

// AddAggregation appends an aggregation to the stage.
func AddAggregation(q *Query, stageIndex int, a Aggregation) (*Query, error) {
	i, err := q.normalizeStage(stageIndex)
	if err != nil {
		return nil, err
	}
	if err := checkAggregation(q, i, a); err != nil {
		return nil, err
	}
	s := q.stages[i].clone()
	s.aggregations = appendCopy(s.aggregations, a)
	return q.withStage(i, s), nil
}

func checkAggregation(q *Query, i int, a Aggregation) error {
	if err := a.validate(); err != nil {
		return err
	}
	cols, err := AggregableColumns(q, i)
	if err != nil {
		return err
	}
	return requireVisible(ClauseAggregation, cols, clauseColumns(a))
}

// AddBreakout appends a breakout on col to the stage. The same column may
// be broken out several times with different annotations; an exact
// duplicate is rejected.
func AddBreakout(q *Query, stageIndex int, col Column) (*Query, error) {
	i, err := q.normalizeStage(stageIndex)
	if err != nil {
		return nil, err
	}
	if err := checkBreakout(q, i, col, -1); err != nil {
		return nil, err
	}
	s := q.stages[i].clone()
	s.breakouts = appendCopy(s.breakouts, Breakout{Column: col})
	return q.withStage(i, s), nil
}

func checkBreakout(q *Query, i int, col Column, replacing int) error {
	if col.source == SourceAggregation {
		return invalid(ClauseBreakout, "cannot break out by an aggregation result")
	}
	if col.binning != nil {
		if err := validateBinning(col, *col.binning); err != nil {
			return err
		}
	}
	if col.unit != nil {
		if err := validateTemporalUnit(col, *col.unit); err != nil {
			return err
		}
	}
	cols, err := BreakoutableColumns(q, i)
	if err != nil {
		return err
	}
	if err := requireVisible(ClauseBreakout, cols, []Column{col}); err != nil {
		return err
	}
	for j, b := range q.stages[i].breakouts {
		if j != replacing && b.Column.Equal(col) {
			return invalid(ClauseBreakout, "stage already breaks out by %s", col.key())
		}
	}
	return nil
}

// AddFilter appends a filter to the stage.
func AddFilter(q *Query, stageIndex int, e Expr) (*Query, error) {
	i, err := q.normalizeStage(stageIndex)
	if err != nil {
		return nil, err
	}
	f := Filter{Expr: e}
	if err := checkFilter(q, i, f); err != nil {
		return nil, err
	}
	s := q.stages[i].clone()
	s.filters = appendCopy(s.filters, f)
	return q.withStage(i, s), nil
}

func checkFilter(q *Query, i int, f Filter) error {
	if err := validateBoolean(ClauseFilter, f.Expr); err != nil {
		return err
	}
	cols, err := FilterableColumns(q, i)
	if err != nil {
		return err
	}
	return requireVisible(ClauseFilter, cols, clauseColumns(f))
}

// AddExpression appends a custom column named name to the stage.
func AddExpression(q *Query, stageIndex int, name string, e Expr) (*Query, error) {
	i, err := q.normalizeStage(stageIndex)
	if err != nil {
		return nil, err
	}
	ne := NamedExpression{Name: name, Expr: e}
	if err := checkExpression(q, i, ne, -1); err != nil {
		return nil, err
	}
	s := q.stages[i].clone()
	s.expressions = appendCopy(s.expressions, ne)
	return q.withStage(i, s), nil
}

func checkExpression(q *Query, i int, ne NamedExpression, replacing int) error {
	if ne.Name == "" {
		return invalid(ClauseExpression, "expression name is empty")
	}
	for j, other := range q.stages[i].expressions {
		if j != replacing && other.Name == ne.Name {
			return invalid(ClauseExpression, "expression %q already exists", ne.Name)
		}
	}
	if err := validateExpr(ClauseExpression, ne.Expr); err != nil {
		return err
	}
	cols, err := VisibleColumns(q, i)
	if err != nil {
		return err
	}
	refs := clauseColumns(ne)
	if replacing >= 0 {
		// Expressions may only use the ones defined before them.
		exprs := q.stages[i].expressions
		self := exprs[replacing].Name
		for _, c := range refs {
			if c.source != SourceExpression {
				continue
			}
			if c.name == self || c.name == ne.Name {
				return invalid(ClauseExpression, "expression %q references itself", ne.Name)
			}
			if slices.ContainsFunc(exprs[replacing+1:], func(e NamedExpression) bool { return e.Name == c.name }) {
				return invalid(ClauseExpression, "expression %q references %q, which is defined after it", ne.Name, c.name)
			}
		}
	}
	return requireVisible(ClauseExpression, cols, refs)
}

// NewJoin starts a join against src with a generated alias, the left-join
// strategy and all fields selected. Add conditions with WithCondition.
func NewJoin(q *Query, stageIndex int, src Source) (Join, error) {
	s, err := q.stageAt(stageIndex)
	if err != nil {
		return Join{}, err
	}
	var base string
	if src.IsCard() {
		card, err := q.provider.LookupCard(src.CardID)
		if err != nil {
			return Join{}, err
		}
		base = card.Name
	} else {
		t, err := q.provider.LookupTable(src.TableID)
		if err != nil {
			return Join{}, err
		}
		base = t.DisplayName
	}
	alias := base
	for n := 2; slices.ContainsFunc(s.joins, func(j Join) bool { return j.Alias == alias }); n++ {
		alias = fmt.Sprintf("%s_%d", base, n)
	}
	return Join{Alias: alias, Strategy: LeftJoin, Source: src, Fields: JoinFieldsAll}, nil
}

// AddJoin appends a join to the stage.
func AddJoin(q *Query, stageIndex int, j Join) (*Query, error) {
	i, err := q.normalizeStage(stageIndex)
	if err != nil {
		return nil, err
	}
	if err := checkJoin(q, i, j, -1); err != nil {
		return nil, err
	}
	s := q.stages[i].clone()
	s.joins = appendCopy(s.joins, j)
	return q.withStage(i, s), nil
}

func checkJoin(q *Query, i int, j Join, replacing int) error {
	if j.Alias == "" {
		return invalid(ClauseJoin, "join alias is empty")
	}
	for k, other := range q.stages[i].joins {
		if k != replacing && other.Alias == j.Alias {
			return invalid(ClauseJoin, "join alias %q already exists", j.Alias)
		}
	}
	if !slices.Contains(joinStrategies, j.Strategy) {
		return invalid(ClauseJoin, "unknown join strategy %q", j.Strategy)
	}
	if j.Fields != JoinFieldsAll && j.Fields != JoinFieldsNone {
		return invalid(ClauseJoin, "unknown join fields %q", j.Fields)
	}
	if len(j.Conditions) == 0 {
		return invalid(ClauseJoin, "join %q has no condition", j.Alias)
	}
	lhs, err := joinLHS(q, i, replacing)
	if err != nil {
		return err
	}
	rhs, err := JoinConditionRHSColumns(q, i, j)
	if err != nil {
		return err
	}
	for _, c := range j.Conditions {
		if !slices.Contains(JoinConditionOperators, c.Op) {
			return invalid(ClauseJoin, "unknown join operator %q", c.Op)
		}
		if !containsColumn(lhs, c.LHS, false) {
			return invalid(ClauseJoin, "column %s cannot be used on the left of a join condition", c.LHS.key())
		}
		if !containsColumn(rhs, c.RHS, false) {
			return invalid(ClauseJoin, "column %s does not belong to join %q", c.RHS.key(), j.Alias)
		}
	}
	return nil
}

// AddOrderBy appends a sort on col. In an aggregated stage only breakouts
// (with their exact annotations) and aggregations can be sorted.
func AddOrderBy(q *Query, stageIndex int, col Column, dir Direction) (*Query, error) {
	i, err := q.normalizeStage(stageIndex)
	if err != nil {
		return nil, err
	}
	o := OrderBy{Column: col, Direction: dir}
	if err := checkOrderBy(q, i, o, -1); err != nil {
		return nil, err
	}
	s := q.stages[i].clone()
	s.orderBys = appendCopy(s.orderBys, o)
	return q.withStage(i, s), nil
}

func checkOrderBy(q *Query, i int, o OrderBy, replacing int) error {
	if o.Direction != Ascending && o.Direction != Descending {
		return invalid(ClauseOrderBy, "unknown direction %q", o.Direction)
	}
	cols, err := OrderableColumns(q, i)
	if err != nil {
		return err
	}
	if !containsColumn(cols, o.Column, q.stages[i].aggregated()) {
		return invalid(ClauseOrderBy, "column %s cannot be sorted in this stage", o.Column.key())
	}
	for k, other := range q.stages[i].orderBys {
		if k != replacing && other.Column.Equal(o.Column) {
			return invalid(ClauseOrderBy, "stage is already sorted by %s", o.Column.key())
		}
	}
	return nil
}

// SetLimit sets the stage's row limit; 0 clears it.
func SetLimit(q *Query, stageIndex int, n int) (*Query, error) {
	i, err := q.normalizeStage(stageIndex)
	if err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, invalid("", "limit must not be negative, got %d", n)
	}
	s := q.stages[i].clone()
	s.limit = n
	return q.withStage(i, s), nil
}

// Limit returns the stage's row limit, 0 when unset.
func Limit(q *Query, stageIndex int) (int, error) {
	s, err := q.stageAt(stageIndex)
	if err != nil {
		return 0, err
	}
	return s.limit, nil
}

// Aggregations returns the stage's aggregation clauses in order.
func Aggregations(q *Query, stageIndex int) ([]Aggregation, error) {
	s, err := q.stageAt(stageIndex)
	if err != nil {
		return nil, err
	}
	return slices.Clone(s.aggregations), nil
}

// Breakouts returns the stage's breakout clauses in order.
func Breakouts(q *Query, stageIndex int) ([]Breakout, error) {
	s, err := q.stageAt(stageIndex)
	if err != nil {
		return nil, err
	}
	return slices.Clone(s.breakouts), nil
}

// Filters returns the stage's filter clauses in order.
func Filters(q *Query, stageIndex int) ([]Filter, error) {
	s, err := q.stageAt(stageIndex)
	if err != nil {
		return nil, err
	}
	return slices.Clone(s.filters), nil
}

// Joins returns the stage's join clauses in order.
func Joins(q *Query, stageIndex int) ([]Join, error) {
	s, err := q.stageAt(stageIndex)
	if err != nil {
		return nil, err
	}
	return slices.Clone(s.joins), nil
}

// Expressions returns the stage's custom columns in order.
func Expressions(q *Query, stageIndex int) ([]NamedExpression, error) {
	s, err := q.stageAt(stageIndex)
	if err != nil {
		return nil, err
	}
	return slices.Clone(s.expressions), nil
}

// OrderBys returns the stage's sort clauses in order.
func OrderBys(q *Query, stageIndex int) ([]OrderBy, error) {
	s, err := q.stageAt(stageIndex)
	if err != nil {
		return nil, err
	}
	return slices.Clone(s.orderBys), nil
}

// ClauseAt returns the clause addressed by ref.
func ClauseAt(q *Query, stageIndex int, ref ClauseRef) (Clause, error) {
	s, err := q.stageAt(stageIndex)
	if err != nil {
		return nil, err
	}
	n := s.count(ref.Kind)
	if n < 0 {
		return nil, invalid(ref.Kind, "unknown clause kind")
	}
	if ref.Index < 0 || ref.Index >= n {
		return nil, &ClauseIndexError{Kind: ref.Kind, Index: ref.Index, Len: n}
	}
	switch ref.Kind {
	case ClauseAggregation:
		return s.aggregations[ref.Index], nil
	case ClauseBreakout:
		return s.breakouts[ref.Index], nil
	case ClauseFilter:
		return s.filters[ref.Index], nil
	case ClauseJoin:
		return s.joins[ref.Index], nil
	case ClauseExpression:
		return s.expressions[ref.Index], nil
	default:
		return s.orderBys[ref.Index], nil
	}
}

// count returns the length of a clause list, or -1 for an unknown kind.
func (s *Stage) count(kind ClauseKind) int {
	switch kind {
	case ClauseAggregation:
		return len(s.aggregations)
	case ClauseBreakout:
		return len(s.breakouts)
	case ClauseFilter:
		return len(s.filters)
	case ClauseJoin:
		return len(s.joins)
	case ClauseExpression:
		return len(s.expressions)
	case ClauseOrderBy:
		return len(s.orderBys)
	}
	return -1
}

// AvailableJoinStrategies returns the join strategies the database supports.
func AvailableJoinStrategies(q *Query) []JoinStrategy {
	fs := q.features()
	var out []JoinStrategy
	for _, s := range joinStrategies {
		if fs.Has(meta.Feature(s)) {
			out = append(out, s)
		}
	}
	return out
}
