// Package compile renders a query.Query as SQL for a dialect.
//
// Every stage becomes one SELECT. Stage 0 reads its table or card, later
// stages read the previous stage as a subquery aliased "source". Fields
// reached through foreign keys are LEFT JOINed under "<TABLE>__via__<FK>"
// aliases, and numeric bins with data-dependent edges CROSS JOIN a bounds
// subquery computing MIN and MAX of the binned column.
package compile

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/leapstack-labs/leapquery/pkg/dialect"
	"github.com/leapstack-labs/leapquery/pkg/query"
)

// DefaultBinCount is the bin count used for the default binning strategy.
const DefaultBinCount = 8

// sourceAlias names a stage's input relation.
const sourceAlias = "source"

// ErrCardResolver is returned when a card source is compiled without a resolver.
var ErrCardResolver = errors.New("no card resolver configured")

// CardResolver returns the SQL of a saved card.
type CardResolver func(cardID int64) (string, error)

// Options tunes compilation.
type Options struct {
	// Cards resolves card sources and card joins.
	Cards CardResolver
}

// Compile renders q as a single SQL statement.
func Compile(q *query.Query, d *dialect.Dialect, opts Options) (string, error) {
	if d == nil {
		return "", dialect.ErrDialectRequired
	}
	var sql string
	for i := 0; i < q.StageCount(); i++ {
		s, err := compileStage(q, d, opts, i, sql)
		if err != nil {
			return "", fmt.Errorf("stage %d: %w", i, err)
		}
		sql = s
	}
	return sql, nil
}

type implicitJoin struct {
	alias string
	sql   string
}

type stageCompiler struct {
	q     *query.Query
	d     *dialect.Dialect
	opts  Options
	index int

	exprs     map[string]query.Expr
	resolving map[string]bool

	implicit      []implicitJoin
	implicitAlias map[int64]string

	from   string
	bounds []string
}

func compileStage(q *query.Query, d *dialect.Dialect, opts Options, i int, prev string) (string, error) {
	c := &stageCompiler{
		q:             q,
		d:             d,
		opts:          opts,
		index:         i,
		exprs:         map[string]query.Expr{},
		resolving:     map[string]bool{},
		implicitAlias: map[int64]string{},
	}

	joins, err := query.Joins(q, i)
	if err != nil {
		return "", err
	}
	expressions, err := query.Expressions(q, i)
	if err != nil {
		return "", err
	}
	filters, err := query.Filters(q, i)
	if err != nil {
		return "", err
	}
	breakouts, err := query.Breakouts(q, i)
	if err != nil {
		return "", err
	}
	aggregations, err := query.Aggregations(q, i)
	if err != nil {
		return "", err
	}
	orderBys, err := query.OrderBys(q, i)
	if err != nil {
		return "", err
	}
	limit, err := query.Limit(q, i)
	if err != nil {
		return "", err
	}
	returned, err := query.ReturnedColumns(q, i)
	if err != nil {
		return "", err
	}

	for _, e := range expressions {
		c.exprs[e.Name] = e.Expr
	}

	// Implicit joins must be known before the FROM clause is rendered.
	visit := func(col query.Column) error { return c.registerImplicit(col) }
	for _, j := range joins {
		for _, cond := range j.Conditions {
			if err := visit(cond.LHS); err != nil {
				return "", err
			}
		}
	}
	for _, e := range expressions {
		if err := walk(e.Expr, visit); err != nil {
			return "", err
		}
	}
	for _, f := range filters {
		if err := walk(f.Expr, visit); err != nil {
			return "", err
		}
	}
	for _, b := range breakouts {
		if err := visit(b.Column); err != nil {
			return "", err
		}
	}
	for _, a := range aggregations {
		if a.Column != nil {
			if err := visit(*a.Column); err != nil {
				return "", err
			}
		}
		if a.Condition != nil {
			if err := walk(a.Condition, visit); err != nil {
				return "", err
			}
		}
	}
	for _, o := range orderBys {
		if err := visit(o.Column); err != nil {
			return "", err
		}
	}

	src, err := c.sourceSQL(prev)
	if err != nil {
		return "", err
	}
	from := src + " AS " + d.QuoteIdentifier(sourceAlias)
	for _, j := range c.implicit {
		from += " " + j.sql
	}
	for _, j := range joins {
		js, err := c.joinSQL(j)
		if err != nil {
			return "", fmt.Errorf("join %s: %w", j.Alias, err)
		}
		from += " " + js
	}
	c.from = from

	aggregated := len(breakouts) > 0 || len(aggregations) > 0

	var selects []string
	var breakoutSQL []string
	if aggregated {
		for k, b := range breakouts {
			s, err := c.column(b.Column)
			if err != nil {
				return "", fmt.Errorf("breakout %d: %w", k, err)
			}
			breakoutSQL = append(breakoutSQL, s)
			selects = append(selects, s+" AS "+d.QuoteIdentifier(returned[k].Name))
		}
		for k, a := range aggregations {
			s, err := c.aggregation(a, breakoutSQL)
			if err != nil {
				return "", fmt.Errorf("aggregation %d: %w", k, err)
			}
			selects = append(selects, s+" AS "+d.QuoteIdentifier(returned[len(breakouts)+k].Name))
		}
	} else {
		for _, rc := range returned {
			s, err := c.column(rc.Column)
			if err != nil {
				return "", err
			}
			selects = append(selects, s+" AS "+d.QuoteIdentifier(rc.Name))
		}
	}

	var where []string
	for k, f := range filters {
		s, err := c.expr(f.Expr)
		if err != nil {
			return "", fmt.Errorf("filter %d: %w", k, err)
		}
		where = append(where, s)
	}

	var order []string
	for k, o := range orderBys {
		s, err := c.orderTerm(o, aggregated, breakouts, returned)
		if err != nil {
			return "", fmt.Errorf("order by %d: %w", k, err)
		}
		order = append(order, s)
	}

	var sb strings.Builder
	sb.WriteString("SELECT ")
	sb.WriteString(strings.Join(selects, ", "))
	sb.WriteString(" FROM ")
	sb.WriteString(c.from)
	for _, b := range c.bounds {
		sb.WriteString(" CROSS JOIN ")
		sb.WriteString(b)
	}
	if len(where) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(where, " AND "))
	}
	if len(breakoutSQL) > 0 {
		ordinals := make([]string, len(breakoutSQL))
		for k := range breakoutSQL {
			ordinals[k] = strconv.Itoa(k + 1)
		}
		sb.WriteString(" GROUP BY ")
		sb.WriteString(strings.Join(ordinals, ", "))
	}
	if len(order) > 0 {
		sb.WriteString(" ORDER BY ")
		sb.WriteString(strings.Join(order, ", "))
	}
	if limit > 0 {
		sb.WriteString(" LIMIT ")
		sb.WriteString(strconv.Itoa(limit))
	}
	return sb.String(), nil
}

func (c *stageCompiler) sourceSQL(prev string) (string, error) {
	if c.index > 0 {
		return "(" + prev + ")", nil
	}
	return c.relation(c.q.Source())
}

// relation renders a table name or a parenthesized card query.
func (c *stageCompiler) relation(src query.Source) (string, error) {
	if src.IsCard() {
		if c.opts.Cards == nil {
			return "", fmt.Errorf("card %d: %w", src.CardID, ErrCardResolver)
		}
		sql, err := c.opts.Cards(src.CardID)
		if err != nil {
			return "", fmt.Errorf("card %d: %w", src.CardID, err)
		}
		return "(" + sql + ")", nil
	}
	t, err := c.q.Provider().LookupTable(src.TableID)
	if err != nil {
		return "", err
	}
	return c.d.QuoteQualified(t.Schema, t.Name), nil
}

var joinKeywords = map[query.JoinStrategy]string{
	query.LeftJoin:  "LEFT JOIN",
	query.RightJoin: "RIGHT JOIN",
	query.InnerJoin: "INNER JOIN",
	query.FullJoin:  "FULL JOIN",
}

func (c *stageCompiler) joinSQL(j query.Join) (string, error) {
	kw, ok := joinKeywords[j.Strategy]
	if !ok {
		return "", fmt.Errorf("unknown join strategy %q", j.Strategy)
	}
	rel, err := c.relation(j.Source)
	if err != nil {
		return "", err
	}
	conds := make([]string, 0, len(j.Conditions))
	for _, cond := range j.Conditions {
		lhs, err := c.column(cond.LHS)
		if err != nil {
			return "", err
		}
		rhs, err := c.column(cond.RHS)
		if err != nil {
			return "", err
		}
		conds = append(conds, fmt.Sprintf("%s %s %s", lhs, comparison(cond.Op), rhs))
	}
	on := "1 = 1"
	if len(conds) > 0 {
		on = strings.Join(conds, " AND ")
	}
	return fmt.Sprintf("%s %s AS %s ON %s", kw, rel, c.d.QuoteIdentifier(j.Alias), on), nil
}

func comparison(op string) string {
	if op == "!=" {
		return "<>"
	}
	return op
}

// registerImplicit adds the LEFT JOIN a foreign-key column needs.
func (c *stageCompiler) registerImplicit(col query.Column) error {
	if col.Source() != query.SourceImplicitField {
		return nil
	}
	if _, ok := c.implicitAlias[col.FKFieldID()]; ok {
		return nil
	}
	p := c.q.Provider()
	fk, err := p.LookupField(col.FKFieldID())
	if err != nil {
		return err
	}
	target, err := p.LookupField(fk.FKTargetID)
	if err != nil {
		return err
	}
	table, err := p.LookupTable(target.TableID)
	if err != nil {
		return err
	}
	alias := table.Name + "__via__" + fk.Name
	c.implicitAlias[col.FKFieldID()] = alias
	c.implicit = append(c.implicit, implicitJoin{
		alias: alias,
		sql: fmt.Sprintf("LEFT JOIN %s AS %s ON %s = %s",
			c.d.QuoteQualified(table.Schema, table.Name),
			c.d.QuoteIdentifier(alias),
			c.d.QuoteQualified(sourceAlias, fk.Name),
			c.d.QuoteQualified(alias, target.Name)),
	})
	return nil
}

func (c *stageCompiler) orderTerm(o query.OrderBy, aggregated bool, breakouts []query.Breakout, returned []query.ReturnedColumn) (string, error) {
	dir := "ASC"
	if o.Direction == query.Descending {
		dir = "DESC"
	}
	if aggregated {
		if o.Column.Source() == query.SourceAggregation {
			k := len(breakouts) + o.Column.AggregationIndex()
			if k >= len(returned) {
				return "", fmt.Errorf("aggregation %d does not exist", o.Column.AggregationIndex())
			}
			return c.d.QuoteIdentifier(returned[k].Name) + " " + dir, nil
		}
		for k, b := range breakouts {
			if b.Column.Equal(o.Column) {
				return c.d.QuoteIdentifier(returned[k].Name) + " " + dir, nil
			}
		}
	}
	s, err := c.column(o.Column)
	if err != nil {
		return "", err
	}
	return s + " " + dir, nil
}
