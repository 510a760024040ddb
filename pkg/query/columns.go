package query

import (
	"fmt"
	"strings"

	"github.com/leapstack-labs/leapquery/pkg/meta"
)

// ReturnedColumn is one output column of a stage.
type ReturnedColumn struct {
	// Name is unique within the stage output; later stages reference it.
	Name string
	// Column is the handle inside the stage: a breakout column with its
	// annotations, an aggregation column or a plain visible column.
	Column       Column
	BaseType     meta.BaseType
	SemanticType meta.SemanticType
}

// returnedColumn pairs an output column with the clause or column it came
// from, so edits can tell renamed outputs from dropped ones.
type returnedColumn struct {
	ReturnedColumn
	origin string
}

func sourceColumns(q *Query, i int) ([]Column, error) {
	if i > 0 {
		prev, err := returned(q, i-1)
		if err != nil {
			return nil, err
		}
		out := make([]Column, len(prev))
		for k, rc := range prev {
			out[k] = previousStageColumn(rc.Name, rc.BaseType, rc.SemanticType)
		}
		return out, nil
	}
	src := q.stages[0].source
	if src.IsCard() {
		card, err := q.provider.LookupCard(src.CardID)
		if err != nil {
			return nil, err
		}
		out := make([]Column, len(card.Columns))
		for k, cc := range card.Columns {
			out[k] = cardColumn(cc)
		}
		return out, nil
	}
	fields, err := q.provider.TableFields(src.TableID)
	if err != nil {
		return nil, err
	}
	out := make([]Column, len(fields))
	for k, f := range fields {
		out[k] = fieldColumn(f)
	}
	return out, nil
}

// implicitColumns lists fields reachable through the source table's foreign keys.
func implicitColumns(q *Query, i int) ([]Column, error) {
	src := q.stages[0].source
	if i > 0 || src.IsCard() {
		return nil, nil
	}
	fields, err := q.provider.TableFields(src.TableID)
	if err != nil {
		return nil, err
	}
	var out []Column
	for _, fk := range fields {
		if fk.FKTargetID == 0 {
			continue
		}
		target, err := q.provider.LookupField(fk.FKTargetID)
		if err != nil {
			return nil, err
		}
		targetFields, err := q.provider.TableFields(target.TableID)
		if err != nil {
			return nil, err
		}
		for _, f := range targetFields {
			out = append(out, implicitColumn(fk, f))
		}
	}
	return out, nil
}

func joinSourceColumns(q *Query, j Join) ([]Column, error) {
	if j.Source.IsCard() {
		card, err := q.provider.LookupCard(j.Source.CardID)
		if err != nil {
			return nil, err
		}
		out := make([]Column, len(card.Columns))
		for k, cc := range card.Columns {
			out[k] = joinedCardColumn(j.Alias, cc)
		}
		return out, nil
	}
	fields, err := q.provider.TableFields(j.Source.TableID)
	if err != nil {
		return nil, err
	}
	out := make([]Column, len(fields))
	for k, f := range fields {
		out[k] = joinedColumn(j.Alias, f)
	}
	return out, nil
}

func joinedColumns(q *Query, joins []Join) ([]Column, error) {
	var out []Column
	for _, j := range joins {
		cols, err := joinSourceColumns(q, j)
		if err != nil {
			return nil, err
		}
		out = append(out, cols...)
	}
	return out, nil
}

func expressionColumns(s *Stage) []Column {
	out := make([]Column, len(s.expressions))
	for k, e := range s.expressions {
		out[k] = expressionColumn(e.Name, exprType(e.Expr))
	}
	return out
}

// VisibleColumns returns every column the stage's clauses may reference:
// its source columns, custom expressions, joined columns and, on stage 0,
// columns reachable through foreign keys. Stage N>0 sees only stage N-1's
// returned columns.
func VisibleColumns(q *Query, stageIndex int) ([]Column, error) {
	i, err := q.normalizeStage(stageIndex)
	if err != nil {
		return nil, err
	}
	return visibleColumns(q, i)
}

func visibleColumns(q *Query, i int) ([]Column, error) {
	s := q.stages[i]
	out, err := sourceColumns(q, i)
	if err != nil {
		return nil, err
	}
	out = append(out, expressionColumns(s)...)
	joined, err := joinedColumns(q, s.joins)
	if err != nil {
		return nil, err
	}
	out = append(out, joined...)
	implicit, err := implicitColumns(q, i)
	if err != nil {
		return nil, err
	}
	return append(out, implicit...), nil
}

// BreakoutableColumns returns the columns the stage can group by.
func BreakoutableColumns(q *Query, stageIndex int) ([]Column, error) {
	return VisibleColumns(q, stageIndex)
}

// FilterableColumns returns the columns the stage's filters can reference.
func FilterableColumns(q *Query, stageIndex int) ([]Column, error) {
	return VisibleColumns(q, stageIndex)
}

// AggregableColumns returns the columns the stage's aggregations can reference.
func AggregableColumns(q *Query, stageIndex int) ([]Column, error) {
	return VisibleColumns(q, stageIndex)
}

// OrderableColumns returns the columns the stage can sort by. An aggregated
// stage sorts only by its breakouts and aggregations.
func OrderableColumns(q *Query, stageIndex int) ([]Column, error) {
	i, err := q.normalizeStage(stageIndex)
	if err != nil {
		return nil, err
	}
	s := q.stages[i]
	if !s.aggregated() {
		return visibleColumns(q, i)
	}
	out := make([]Column, 0, len(s.breakouts)+len(s.aggregations))
	for _, b := range s.breakouts {
		out = append(out, b.Column)
	}
	for k := range s.aggregations {
		out = append(out, aggregationColumnAt(s, k))
	}
	return out, nil
}

func aggregationColumnAt(s *Stage, k int) Column {
	a := s.aggregations[k]
	op, _ := LookupAggregationOperator(a.Operator)
	return aggregationColumn(k, op.resultType(a.Column))
}

// AggregationColumn returns the handle of the stage's k-th aggregation result,
// for sorting.
func AggregationColumn(q *Query, stageIndex, k int) (Column, error) {
	s, err := q.stageAt(stageIndex)
	if err != nil {
		return Column{}, err
	}
	if k < 0 || k >= len(s.aggregations) {
		return Column{}, &ClauseIndexError{Kind: ClauseAggregation, Index: k, Len: len(s.aggregations)}
	}
	return aggregationColumnAt(s, k), nil
}

// JoinConditionLHSColumns returns the columns usable on the left side of a
// new join's condition: source columns, expressions and earlier joins.
func JoinConditionLHSColumns(q *Query, stageIndex int) ([]Column, error) {
	i, err := q.normalizeStage(stageIndex)
	if err != nil {
		return nil, err
	}
	return joinLHS(q, i, -1)
}

// joinLHS lists left-side candidates for the join at position upto, or for a
// new join when upto is negative.
func joinLHS(q *Query, i int, upto int) ([]Column, error) {
	s := q.stages[i]
	out, err := sourceColumns(q, i)
	if err != nil {
		return nil, err
	}
	out = append(out, expressionColumns(s)...)
	joins := s.joins
	if upto >= 0 {
		joins = joins[:upto]
	}
	joined, err := joinedColumns(q, joins)
	if err != nil {
		return nil, err
	}
	return append(out, joined...), nil
}

// JoinConditionRHSColumns returns the columns of j's source, aliased by j.
func JoinConditionRHSColumns(q *Query, stageIndex int, j Join) ([]Column, error) {
	if _, err := q.stageAt(stageIndex); err != nil {
		return nil, err
	}
	return joinSourceColumns(q, j)
}

// JoinableTables returns the tables a stage can join, or nothing when the
// database supports no join strategy.
func JoinableTables(q *Query, stageIndex int) ([]*meta.Table, error) {
	if _, err := q.stageAt(stageIndex); err != nil {
		return nil, err
	}
	if len(AvailableJoinStrategies(q)) == 0 {
		return nil, nil
	}
	return q.provider.Tables(), nil
}

// ReturnedColumns returns the stage's output columns in order. An aggregated
// stage returns its breakouts then its aggregations; otherwise the stage
// returns its source columns, expressions and the fields of joins selecting
// all fields.
func ReturnedColumns(q *Query, stageIndex int) ([]ReturnedColumn, error) {
	i, err := q.normalizeStage(stageIndex)
	if err != nil {
		return nil, err
	}
	rcs, err := returned(q, i)
	if err != nil {
		return nil, err
	}
	out := make([]ReturnedColumn, len(rcs))
	for k, rc := range rcs {
		out[k] = rc.ReturnedColumn
	}
	return out, nil
}

func returned(q *Query, i int) ([]returnedColumn, error) {
	s := q.stages[i]
	names := uniqueNames{}
	var out []returnedColumn
	add := func(c Column, name, origin string) {
		t := c.baseType
		if u, ok := c.TemporalUnit(); ok && u.IsExtraction() {
			t = meta.TypeInteger
		}
		out = append(out, returnedColumn{
			ReturnedColumn: ReturnedColumn{
				Name:         names.add(name),
				Column:       c,
				BaseType:     t,
				SemanticType: c.semanticType,
			},
			origin: origin,
		})
	}

	if s.aggregated() {
		for k, b := range s.breakouts {
			name, err := refName(q, b.Column)
			if err != nil {
				return nil, err
			}
			add(b.Column, name, fmt.Sprintf("breakout:%d", k))
		}
		for k, a := range s.aggregations {
			add(aggregationColumnAt(s, k), aggregationName(a), fmt.Sprintf("aggregation:%d", k))
		}
		return out, nil
	}

	cols, err := sourceColumns(q, i)
	if err != nil {
		return nil, err
	}
	cols = append(cols, expressionColumns(s)...)
	for _, j := range s.joins {
		if j.Fields != JoinFieldsAll {
			continue
		}
		joined, err := joinSourceColumns(q, j)
		if err != nil {
			return nil, err
		}
		cols = append(cols, joined...)
	}
	for _, c := range cols {
		name, err := refName(q, c)
		if err != nil {
			return nil, err
		}
		add(c, name, c.key())
	}
	return out, nil
}

// refName is the column's output name before deduplication.
func refName(q *Query, c Column) (string, error) {
	switch c.source {
	case SourceTableField, SourceImplicitField:
		f, err := q.provider.LookupField(c.fieldID)
		if err != nil {
			return "", err
		}
		return f.Name, nil
	case SourceJoinedField:
		name := c.name
		if c.fieldID != 0 {
			f, err := q.provider.LookupField(c.fieldID)
			if err != nil {
				return "", err
			}
			name = f.Name
		}
		return c.joinAlias + "__" + name, nil
	}
	return c.name, nil
}

func aggregationName(a Aggregation) string {
	if a.Name != "" {
		return a.Name
	}
	return strings.ReplaceAll(a.Operator, "-", "_")
}

// uniqueNames hands out "x", "x_2", "x_3" for repeated names.
type uniqueNames map[string]bool

func (u uniqueNames) add(name string) string {
	if !u[name] {
		u[name] = true
		return name
	}
	for n := 2; ; n++ {
		c := fmt.Sprintf("%s_%d", name, n)
		if !u[c] {
			u[c] = true
			return c
		}
	}
}
