package query

import (
	"fmt"
	"slices"

	"github.com/leapstack-labs/leapquery/pkg/meta"
)

// Warning describes one change Reconcile made to a query.
type Warning struct {
	Stage   int
	Kind    ClauseKind
	Message string
}

func (w Warning) String() string {
	return fmt.Sprintf("stage %d %s: %s", w.Stage, w.Kind, w.Message)
}

// Reconcile adapts a query loaded from storage to what the database
// supports today. Unsupported binning is cleared, temporal units the column
// or database cannot use fall back to the default unit, unsupported join
// strategies fall back to a supported one, breakouts made identical by a
// fallback are dropped, and aggregations or expressions using unsupported
// operators are removed together with their dependents.
func Reconcile(q *Query) (*Query, []Warning, error) {
	var warnings []Warning
	fs := q.features()
	for i := range q.stages {
		var stageWarnings []Warning
		seen := map[string]bool{}
		warn := func(kind ClauseKind, format string, args ...any) {
			msg := fmt.Sprintf(format, args...)
			if seen[msg] {
				return
			}
			seen[msg] = true
			stageWarnings = append(stageWarnings, Warning{Stage: i, Kind: kind, Message: msg})
		}

		// Annotation fixes keep names and positions, so no cascade is needed.
		fixed := renameStageRefs(q.stages[i], func(c Column) Column {
			return reconcileColumn(c, fs, warn)
		})
		for k, j := range fixed.joins {
			if fs.Has(meta.Feature(j.Strategy)) {
				continue
			}
			if avail := AvailableJoinStrategies(q); len(avail) > 0 {
				warn(ClauseJoin, "join %q: %s is not supported, using %s", j.Alias, j.Strategy, avail[0])
				fixed.joins = replaceAt(fixed.joins, k, j.WithStrategy(avail[0]))
			}
		}
		q = q.withStage(i, fixed)

		// Fallback units can make two breakouts identical; keep the first.
		for k := len(q.stages[i].breakouts) - 1; k > 0; k-- {
			b := q.stages[i].breakouts[k]
			if !slices.ContainsFunc(q.stages[i].breakouts[:k], func(o Breakout) bool { return o.Column.Equal(b.Column) }) {
				continue
			}
			warn(ClauseBreakout, "removed duplicate breakout on %s", b.Column.key())
			var err error
			if q, err = RemoveClause(q, i, ClauseRef{Kind: ClauseBreakout, Index: k}); err != nil {
				return nil, nil, err
			}
		}

		// Removal cascades, so unsupported expressions are removed by name.
		var unsupported []string
		for _, e := range q.stages[i].expressions {
			if op, ok := unsupportedFunction(e.Expr, fs); ok {
				warn(ClauseExpression, "removed expression %q: %s is not supported", e.Name, op)
				unsupported = append(unsupported, e.Name)
			}
		}
		for _, name := range unsupported {
			k := slices.IndexFunc(q.stages[i].expressions, func(e NamedExpression) bool { return e.Name == name })
			if k < 0 {
				continue
			}
			var err error
			if q, err = RemoveClause(q, i, ClauseRef{Kind: ClauseExpression, Index: k}); err != nil {
				return nil, nil, err
			}
		}
		for k := len(q.stages[i].aggregations) - 1; k >= 0; k-- {
			a := q.stages[i].aggregations[k]
			op, ok := LookupAggregationOperator(a.Operator)
			if ok && op.Supported(fs) {
				continue
			}
			warn(ClauseAggregation, "removed %s aggregation: not supported by this database", a.Operator)
			var err error
			if q, err = RemoveClause(q, i, ClauseRef{Kind: ClauseAggregation, Index: k}); err != nil {
				return nil, nil, err
			}
		}
		warnings = append(warnings, stageWarnings...)
	}
	return q, warnings, nil
}

func reconcileColumn(c Column, fs meta.FeatureSet, warn func(ClauseKind, string, ...any)) Column {
	if c.binning != nil {
		switch {
		case !fs.Has(meta.FeatureBinning):
			warn(ClauseBreakout, "cleared binning of %s: binning is not supported", c.key())
			c.binning = nil
		case validateBinning(c, *c.binning) != nil:
			warn(ClauseBreakout, "cleared binning of %s: %s is not valid for this column", c.key(), c.binning.Strategy)
			c.binning = nil
		}
	}
	if c.unit != nil {
		u := *c.unit
		ok := validateTemporalUnit(c, u) == nil && (!u.IsExtraction() || fs.Has(meta.FeatureTemporalExtract))
		if !ok {
			if unitsFor(c.baseType) == nil || c.source == SourceAggregation {
				warn(ClauseBreakout, "cleared temporal unit %s of %s", u, c.key())
				c.unit = nil
			} else {
				def := DefaultTemporalUnit(c.baseType)
				warn(ClauseBreakout, "temporal unit %s of %s replaced by %s", u, c.key(), def)
				c.unit = &def
			}
		}
	}
	return c
}

// unsupportedFunction returns the first operator in e the features do not enable.
func unsupportedFunction(e Expr, fs meta.FeatureSet) (string, bool) {
	c, ok := e.(Call)
	if !ok {
		return "", false
	}
	if fn, ok := functionsByOp[c.Op]; ok && !fs.HasAll(fn.Features...) {
		return c.Op, true
	}
	for _, a := range c.Args {
		if op, ok := unsupportedFunction(a, fs); ok {
			return op, true
		}
	}
	return "", false
}
