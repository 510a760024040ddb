package query

import (
	"fmt"
	"slices"
	"strings"
)

// marks records which clauses of a stage are being removed.
type marks map[ClauseKind]map[int]bool

func (m marks) set(kind ClauseKind, i int) bool {
	if m[kind] == nil {
		m[kind] = map[int]bool{}
	}
	if m[kind][i] {
		return false
	}
	m[kind][i] = true
	return true
}

func (m marks) has(kind ClauseKind, i int) bool { return m[kind][i] }

// before counts the marked clauses of kind positioned before i.
func (m marks) before(kind ClauseKind, i int) int {
	n := 0
	for k := range m[kind] {
		if k < i {
			n++
		}
	}
	return n
}

// originMap translates an output origin of a stage before an edit into its
// origin after the edit. ok is false when the output was dropped.
type originMap func(origin string) (string, bool)

func identityOrigins(o string) (string, bool) { return o, true }

// pruneStage removes the marked clauses and everything that depends on them:
// clauses referencing a removed expression or join alias, clauses for which
// dangling reports true, and order-bys on removed breakouts or aggregations.
// Aggregation references in surviving order-bys are renumbered.
func pruneStage(s *Stage, m marks, dangling func(Column) bool) (*Stage, originMap) {
	if m == nil {
		m = marks{}
	}
	if dangling == nil {
		dangling = func(Column) bool { return false }
	}
	removedExpr := map[string]bool{}
	removedAlias := map[string]bool{}
	for k := range m[ClauseExpression] {
		removedExpr[s.expressions[k].Name] = true
	}
	for k := range m[ClauseJoin] {
		removedAlias[s.joins[k].Alias] = true
	}
	broken := func(c Column) bool {
		switch {
		case c.source == SourceExpression && removedExpr[c.name]:
			return true
		case c.source == SourceJoinedField && removedAlias[c.joinAlias]:
			return true
		}
		return dangling(c)
	}

	// Expressions and joins can depend on each other, so iterate to a fixpoint.
	for changed := true; changed; {
		changed = false
		for k, e := range s.expressions {
			if !m.has(ClauseExpression, k) && clauseReferences(e, broken) {
				m.set(ClauseExpression, k)
				removedExpr[e.Name] = true
				changed = true
			}
		}
		for k, j := range s.joins {
			if !m.has(ClauseJoin, k) && clauseReferences(j, broken) {
				m.set(ClauseJoin, k)
				removedAlias[j.Alias] = true
				changed = true
			}
		}
	}
	for k, f := range s.filters {
		if clauseReferences(f, broken) {
			m.set(ClauseFilter, k)
		}
	}
	for k, a := range s.aggregations {
		if clauseReferences(a, broken) {
			m.set(ClauseAggregation, k)
		}
	}
	for k, b := range s.breakouts {
		if clauseReferences(b, broken) {
			m.set(ClauseBreakout, k)
		}
	}
	for k, o := range s.orderBys {
		switch {
		case o.Column.source == SourceAggregation && m.has(ClauseAggregation, o.Column.aggIndex):
			m.set(ClauseOrderBy, k)
		case o.Column.source != SourceAggregation && sortsRemovedBreakout(s, m, o.Column):
			m.set(ClauseOrderBy, k)
		case broken(o.Column):
			m.set(ClauseOrderBy, k)
		}
	}

	ns := s.clone()
	ns.expressions = keep(s.expressions, m[ClauseExpression])
	ns.joins = keep(s.joins, m[ClauseJoin])
	ns.filters = keep(s.filters, m[ClauseFilter])
	ns.aggregations = keep(s.aggregations, m[ClauseAggregation])
	ns.breakouts = keep(s.breakouts, m[ClauseBreakout])
	orderBys := keep(s.orderBys, m[ClauseOrderBy])
	if len(m[ClauseAggregation]) > 0 {
		for k, o := range orderBys {
			if o.Column.source == SourceAggregation {
				o.Column.aggIndex -= m.before(ClauseAggregation, o.Column.aggIndex)
				orderBys = replaceAt(orderBys, k, o)
			}
		}
	}
	ns.orderBys = orderBys

	origins := func(o string) (string, bool) {
		for _, kind := range []ClauseKind{ClauseBreakout, ClauseAggregation} {
			prefix := string(kind) + ":"
			if !strings.HasPrefix(o, prefix) {
				continue
			}
			var k int
			if _, err := fmt.Sscanf(o[len(prefix):], "%d", &k); err != nil {
				return "", false
			}
			if m.has(kind, k) {
				return "", false
			}
			return fmt.Sprintf("%s%d", prefix, k-m.before(kind, k)), true
		}
		if strings.HasPrefix(o, "expr:") && removedExpr[o[len("expr:"):]] {
			return "", false
		}
		for alias := range removedAlias {
			if strings.HasPrefix(o, "join:"+alias+":") {
				return "", false
			}
		}
		return o, true
	}
	return ns, origins
}

// sortsRemovedBreakout reports whether col sorts a removed breakout that no
// surviving breakout duplicates.
func sortsRemovedBreakout(s *Stage, m marks, col Column) bool {
	removed := false
	for k, b := range s.breakouts {
		if !b.Column.Equal(col) {
			continue
		}
		if !m.has(ClauseBreakout, k) {
			return false
		}
		removed = true
	}
	return removed
}

func keep[T any](xs []T, drop map[int]bool) []T {
	if len(drop) == 0 {
		return xs
	}
	var out []T
	for k, x := range xs {
		if !drop[k] {
			out = append(out, x)
		}
	}
	return out
}

// propagate installs the edited stage i and carries the change through the
// later stages: references to renamed outputs are renamed and clauses
// referencing dropped outputs are removed, stage by stage.
func propagate(q *Query, i int, edited *Stage, origins originMap) (*Query, error) {
	out := q.withStage(i, edited)
	for ; i+1 < len(q.stages); i++ {
		before, err := returned(q, i)
		if err != nil {
			return nil, err
		}
		after, err := returned(out, i)
		if err != nil {
			return nil, err
		}
		byOrigin := make(map[string]string, len(after))
		for _, rc := range after {
			byOrigin[rc.origin] = rc.Name
		}
		renames := map[string]string{}
		claimed := map[string]bool{}
		var unmatched []string
		for _, rc := range before {
			if o, ok := origins(rc.origin); ok {
				if n, ok := byOrigin[o]; ok {
					claimed[o] = true
					if n != rc.Name {
						renames[rc.Name] = n
					}
					continue
				}
			}
			unmatched = append(unmatched, rc.Name)
		}
		dropped := map[string]bool{}
		for _, name := range unmatched {
			// A new output column with the same name keeps name refs resolvable.
			if !slices.ContainsFunc(after, func(rc returnedColumn) bool {
				return rc.Name == name && !claimed[rc.origin]
			}) {
				dropped[name] = true
			}
		}
		if len(renames) == 0 && len(dropped) == 0 {
			break
		}

		// Prune before renaming: a rename may reuse a dropped name.
		pruned, inner := pruneStage(q.stages[i+1], nil, func(c Column) bool {
			return c.source == SourcePreviousStage && dropped[c.name]
		})
		pruned = renameStageRefs(pruned, func(c Column) Column {
			if c.source == SourcePreviousStage {
				if n, ok := renames[c.name]; ok {
					c.name = n
				}
			}
			return c
		})
		out = out.withStage(i+1, pruned)
		origins = func(o string) (string, bool) {
			if name, ok := strings.CutPrefix(o, "prev:"); ok {
				if dropped[name] {
					return "", false
				}
				if n, ok := renames[name]; ok {
					return "prev:" + n, true
				}
			}
			return inner(o)
		}
	}
	return out, nil
}

// renameStageRefs rebuilds every clause of s with fn applied to its columns.
func renameStageRefs(s *Stage, fn func(Column) Column) *Stage {
	ns := s.clone()
	ns.expressions = mapClauses(s.expressions, fn)
	ns.joins = mapClauses(s.joins, fn)
	ns.filters = mapClauses(s.filters, fn)
	ns.aggregations = mapClauses(s.aggregations, fn)
	ns.breakouts = mapClauses(s.breakouts, fn)
	ns.orderBys = mapClauses(s.orderBys, fn)
	return ns
}

func mapClauses[T Clause](xs []T, fn func(Column) Column) []T {
	if len(xs) == 0 {
		return xs
	}
	out := make([]T, len(xs))
	for k, x := range xs {
		out[k] = mapClauseColumns(x, fn).(T)
	}
	return out
}

// RemoveClause removes the clause at ref and every clause that depends on it,
// in this stage and in later stages. It never leaves a dangling reference.
func RemoveClause(q *Query, stageIndex int, ref ClauseRef) (*Query, error) {
	i, err := q.normalizeStage(stageIndex)
	if err != nil {
		return nil, err
	}
	if _, err := ClauseAt(q, i, ref); err != nil {
		return nil, err
	}
	m := marks{}
	m.set(ref.Kind, ref.Index)
	edited, origins := pruneStage(q.stages[i], m, nil)
	return propagate(q, i, edited, origins)
}

// ReplaceClause swaps the clause at ref for c, which must be of the same
// kind. Renaming an expression or join alias renames its references in the
// stage; sorts on a replaced breakout follow the new column; later stages
// follow renamed outputs and lose references to outputs that disappear.
func ReplaceClause(q *Query, stageIndex int, ref ClauseRef, c Clause) (*Query, error) {
	i, err := q.normalizeStage(stageIndex)
	if err != nil {
		return nil, err
	}
	old, err := ClauseAt(q, i, ref)
	if err != nil {
		return nil, err
	}
	if c == nil || c.clauseKind() != ref.Kind {
		return nil, invalid(ref.Kind, "replacement must be a %s clause", ref.Kind)
	}

	s := q.stages[i]
	ns := s.clone()
	origins := originMap(identityOrigins)
	switch v := c.(type) {
	case Aggregation:
		if err := checkAggregation(q, i, v); err != nil {
			return nil, err
		}
		ns.aggregations = replaceAt(s.aggregations, ref.Index, v)
	case Breakout:
		if err := checkBreakout(q, i, v.Column, ref.Index); err != nil {
			return nil, err
		}
		prev := old.(Breakout).Column
		ns.breakouts = replaceAt(s.breakouts, ref.Index, v)
		for k, o := range ns.orderBys {
			if o.Column.Equal(prev) {
				ns.orderBys = replaceAt(ns.orderBys, k, OrderBy{Column: v.Column, Direction: o.Direction})
			}
		}
	case Filter:
		if err := checkFilter(q, i, v); err != nil {
			return nil, err
		}
		ns.filters = replaceAt(s.filters, ref.Index, v)
	case NamedExpression:
		if err := checkExpression(q, i, v, ref.Index); err != nil {
			return nil, err
		}
		prev := old.(NamedExpression).Name
		ns.expressions = replaceAt(s.expressions, ref.Index, v)
		if prev != v.Name {
			t := exprType(v.Expr)
			ns = renameStageRefs(ns, func(col Column) Column {
				if col.source == SourceExpression && col.name == prev {
					col.name = v.Name
					col.baseType = t
				}
				return col
			})
			origins = func(o string) (string, bool) {
				if o == "expr:"+prev {
					return "expr:" + v.Name, true
				}
				return o, true
			}
		}
	case Join:
		if err := checkJoin(q, i, v, ref.Index); err != nil {
			return nil, err
		}
		prev := old.(Join).Alias
		ns.joins = replaceAt(s.joins, ref.Index, v)
		if prev != v.Alias {
			ns = renameStageRefs(ns, func(col Column) Column {
				if col.source == SourceJoinedField && col.joinAlias == prev {
					col.joinAlias = v.Alias
				}
				return col
			})
			origins = func(o string) (string, bool) {
				if rest, ok := strings.CutPrefix(o, "join:"+prev+":"); ok {
					return "join:" + v.Alias + ":" + rest, true
				}
				return o, true
			}
		}
	case OrderBy:
		if err := checkOrderBy(q, i, v, ref.Index); err != nil {
			return nil, err
		}
		ns.orderBys = replaceAt(s.orderBys, ref.Index, v)
	}
	return propagate(q, i, ns, origins)
}
