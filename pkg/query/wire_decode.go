package query

import (
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/go-viper/mapstructure/v2"

	"github.com/leapstack-labs/leapquery/pkg/meta"
)

// fieldOptions is the options object of a field or expression reference.
type fieldOptions struct {
	BaseType     string       `mapstructure:"base-type"`
	TemporalUnit string       `mapstructure:"temporal-unit"`
	Binning      *wireBinning `mapstructure:"binning"`
	JoinAlias    string       `mapstructure:"join-alias"`
	SourceField  int64        `mapstructure:"source-field"`
}

type wireBinning struct {
	Strategy string  `mapstructure:"strategy"`
	NumBins  int     `mapstructure:"num-bins"`
	BinWidth float64 `mapstructure:"bin-width"`
}

type aggregationOptions struct {
	Name        string `mapstructure:"name"`
	DisplayName string `mapstructure:"display-name"`
}

func decodeOptions(in map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	return dec.Decode(in)
}

// FromWire parses an MBQL JSON query, resolving every reference against p.
// Annotations are kept as written, even when the database no longer supports
// them; run Reconcile to fall back to safe defaults.
func FromWire(p meta.Provider, data []byte) (*Query, error) {
	var wq wireQuery
	if err := json.Unmarshal(data, &wq); err != nil {
		return nil, &WireError{Message: err.Error()}
	}
	if wq.Type != "" && wq.Type != "query" {
		return nil, &WireError{Path: "type", Message: fmt.Sprintf("unsupported query type %q", wq.Type)}
	}
	if wq.Query == nil {
		return nil, &WireError{Path: "query", Message: "missing query"}
	}
	if db := p.Database().ID; wq.Database != 0 && wq.Database != db {
		return nil, &WireError{Path: "database", Message: fmt.Sprintf("query targets database %d, metadata is for %d", wq.Database, db)}
	}

	var chain []*wireStage
	for ws := wq.Query; ws != nil; ws = ws.SourceQuery {
		chain = append(chain, ws)
	}
	slices.Reverse(chain)

	src, err := decodeSource(chain[0].SourceTable, "stage[0].source-table")
	if err != nil {
		return nil, err
	}
	var q *Query
	if src.IsCard() {
		q, err = NewFromCard(p, src.CardID)
	} else {
		q, err = New(p, src.TableID)
	}
	if err != nil {
		return nil, err
	}

	for i, ws := range chain {
		path := fmt.Sprintf("stage[%d]", i)
		if i > 0 {
			if len(ws.SourceTable) > 0 {
				return nil, &WireError{Path: path, Message: "source-table is only allowed on the first stage"}
			}
			q = AppendStage(q)
		}
		d := &stageDecoder{q: q, i: i, path: path, stage: &Stage{limit: ws.Limit}}
		if i == 0 {
			d.stage.source = src
		}
		if err := d.decode(ws); err != nil {
			return nil, err
		}
		q = q.withStage(i, d.stage)
	}
	return q, nil
}

func decodeSource(raw json.RawMessage, path string) (Source, error) {
	if len(raw) == 0 {
		return Source{}, &WireError{Path: path, Message: "missing source"}
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return Source{}, &WireError{Path: path, Message: err.Error()}
	}
	switch x := v.(type) {
	case float64:
		return Source{TableID: int64(x)}, nil
	case string:
		if rest, ok := strings.CutPrefix(x, "card__"); ok {
			id, err := strconv.ParseInt(rest, 10, 64)
			if err == nil {
				return Source{CardID: id}, nil
			}
		}
	}
	return Source{}, &WireError{Path: path, Message: fmt.Sprintf("invalid source %s", raw)}
}

// stageDecoder builds one stage. Clauses are decoded in dependency order so
// references resolve against the clauses already decoded.
type stageDecoder struct {
	q     *Query
	i     int
	path  string
	stage *Stage
}

func (d *stageDecoder) errorf(path, format string, args ...any) error {
	return &WireError{Path: d.path + "." + path, Message: fmt.Sprintf(format, args...)}
}

func unmarshalAny(raw json.RawMessage) (any, error) {
	var v any
	err := json.Unmarshal(raw, &v)
	return v, err
}

func (d *stageDecoder) decode(ws *wireStage) error {
	// Join headers first so field refs can resolve aliases.
	for k, wj := range ws.Joins {
		path := fmt.Sprintf("joins[%d]", k)
		src, err := decodeSource(wj.SourceTable, d.path+"."+path+".source-table")
		if err != nil {
			return err
		}
		if wj.Alias == "" {
			return d.errorf(path, "missing alias")
		}
		j := Join{Alias: wj.Alias, Strategy: JoinStrategy(wj.Strategy), Source: src, Fields: JoinFields(wj.Fields)}
		if j.Strategy == "" {
			j.Strategy = LeftJoin
		}
		if j.Fields == "" {
			j.Fields = JoinFieldsAll
		}
		d.stage.joins = append(d.stage.joins, j)
	}

	if ws.Expressions != nil {
		for k, name := range ws.Expressions.names {
			v, err := unmarshalAny(ws.Expressions.exprs[k])
			if err != nil {
				return d.errorf("expressions."+name, "%v", err)
			}
			e, err := d.expr(v, "expressions."+name)
			if err != nil {
				return err
			}
			d.stage.expressions = append(d.stage.expressions, NamedExpression{Name: name, Expr: e})
		}
	}

	for k, wj := range ws.Joins {
		conds, err := d.joinConditions(wj.Condition, fmt.Sprintf("joins[%d].condition", k))
		if err != nil {
			return err
		}
		d.stage.joins[k].Conditions = conds
	}

	if len(ws.Filter) > 0 {
		v, err := unmarshalAny(ws.Filter)
		if err != nil {
			return d.errorf("filter", "%v", err)
		}
		parts := []any{v}
		if x, ok := v.([]any); ok && len(x) > 0 && x[0] == "and" {
			parts = x[1:]
		}
		for k, part := range parts {
			e, err := d.expr(part, fmt.Sprintf("filter[%d]", k))
			if err != nil {
				return err
			}
			d.stage.filters = append(d.stage.filters, Filter{Expr: e})
		}
	}

	for k, raw := range ws.Aggregation {
		v, err := unmarshalAny(raw)
		if err != nil {
			return d.errorf(fmt.Sprintf("aggregation[%d]", k), "%v", err)
		}
		a, err := d.aggregation(v, fmt.Sprintf("aggregation[%d]", k))
		if err != nil {
			return err
		}
		d.stage.aggregations = append(d.stage.aggregations, a)
	}

	for k, raw := range ws.Breakout {
		path := fmt.Sprintf("breakout[%d]", k)
		col, err := d.columnRaw(raw, path)
		if err != nil {
			return err
		}
		d.stage.breakouts = append(d.stage.breakouts, Breakout{Column: col})
	}

	for k, raw := range ws.OrderBy {
		path := fmt.Sprintf("order-by[%d]", k)
		v, err := unmarshalAny(raw)
		if err != nil {
			return d.errorf(path, "%v", err)
		}
		x, ok := v.([]any)
		if !ok || len(x) != 2 {
			return d.errorf(path, "expected [direction, column]")
		}
		dir := Direction(fmt.Sprint(x[0]))
		if dir != Ascending && dir != Descending {
			return d.errorf(path, "unknown direction %q", dir)
		}
		col, err := d.column(x[1], path+"[1]")
		if err != nil {
			return err
		}
		d.stage.orderBys = append(d.stage.orderBys, OrderBy{Column: col, Direction: dir})
	}
	return nil
}

func (d *stageDecoder) joinConditions(raw json.RawMessage, path string) ([]JoinCondition, error) {
	v, err := unmarshalAny(raw)
	if err != nil {
		return nil, d.errorf(path, "%v", err)
	}
	x, ok := v.([]any)
	if !ok || len(x) == 0 {
		return nil, d.errorf(path, "expected a condition")
	}
	parts := []any{v}
	if x[0] == "and" {
		parts = x[1:]
	}
	var out []JoinCondition
	for k, part := range parts {
		p := fmt.Sprintf("%s[%d]", path, k)
		c, ok := part.([]any)
		if !ok || len(c) != 3 {
			return nil, d.errorf(p, "expected [operator, lhs, rhs]")
		}
		op, _ := c[0].(string)
		lhs, err := d.column(c[1], p+"[1]")
		if err != nil {
			return nil, err
		}
		rhs, err := d.column(c[2], p+"[2]")
		if err != nil {
			return nil, err
		}
		out = append(out, JoinCondition{Op: op, LHS: lhs, RHS: rhs})
	}
	return out, nil
}

func (d *stageDecoder) aggregation(v any, path string) (Aggregation, error) {
	x, ok := v.([]any)
	if !ok || len(x) == 0 {
		return Aggregation{}, d.errorf(path, "expected an aggregation clause")
	}
	name, _ := x[0].(string)
	if name == "aggregation-options" {
		if len(x) != 3 {
			return Aggregation{}, d.errorf(path, "aggregation-options takes a clause and options")
		}
		a, err := d.aggregation(x[1], path+"[1]")
		if err != nil {
			return Aggregation{}, err
		}
		m, ok := x[2].(map[string]any)
		if !ok {
			return Aggregation{}, d.errorf(path+"[2]", "expected an options object")
		}
		var opts aggregationOptions
		if err := decodeOptions(m, &opts); err != nil {
			return Aggregation{}, d.errorf(path+"[2]", "%v", err)
		}
		return a.Named(opts.Name, opts.DisplayName), nil
	}

	op, ok := LookupAggregationOperator(name)
	if !ok {
		return Aggregation{}, d.errorf(path, "unknown aggregation %q", name)
	}
	args := x[1:]
	a := Aggregation{Operator: op.ShortName}
	k := 0
	if op.Column {
		if k >= len(args) {
			return Aggregation{}, d.errorf(path, "%s requires a column", name)
		}
		col, err := d.column(args[k], fmt.Sprintf("%s[%d]", path, k+1))
		if err != nil {
			return Aggregation{}, err
		}
		a.Column = &col
		k++
	}
	if op.Condition {
		if k >= len(args) {
			return Aggregation{}, d.errorf(path, "%s requires a condition", name)
		}
		cond, err := d.expr(args[k], fmt.Sprintf("%s[%d]", path, k+1))
		if err != nil {
			return Aggregation{}, err
		}
		a.Condition = cond
		k++
	}
	if op.Number {
		if k >= len(args) {
			return Aggregation{}, d.errorf(path, "%s requires a number", name)
		}
		p, ok := args[k].(float64)
		if !ok {
			return Aggregation{}, d.errorf(path, "%s requires a number", name)
		}
		a.Percentile = p
		k++
	}
	if k != len(args) {
		return Aggregation{}, d.errorf(path, "%s takes %d arguments, got %d", name, k, len(args))
	}
	return a, nil
}

func (d *stageDecoder) expr(v any, path string) (Expr, error) {
	switch x := v.(type) {
	case nil, float64, string, bool:
		return Literal{Value: x}, nil
	case []any:
		if len(x) == 0 {
			return nil, d.errorf(path, "empty clause")
		}
		op, ok := x[0].(string)
		if !ok {
			return nil, d.errorf(path, "clause must start with an operator")
		}
		switch op {
		case "field", "expression", "aggregation":
			return d.column(x, path)
		}
		if _, ok := functionsByOp[op]; !ok {
			return nil, d.errorf(path, "unknown operator %q", op)
		}
		args := x[1:]
		var opts map[string]any
		if n := len(args); n > 0 {
			if m, ok := args[n-1].(map[string]any); ok {
				opts = m
				args = args[:n-1]
			}
		}
		var out []Expr
		for k, a := range args {
			e, err := d.expr(a, fmt.Sprintf("%s[%d]", path, k+1))
			if err != nil {
				return nil, err
			}
			out = append(out, e)
		}
		return Call{Op: op, Args: out, Options: opts}, nil
	}
	return nil, d.errorf(path, "unexpected %T", v)
}

func (d *stageDecoder) columnRaw(raw json.RawMessage, path string) (Column, error) {
	v, err := unmarshalAny(raw)
	if err != nil {
		return Column{}, d.errorf(path, "%v", err)
	}
	return d.column(v, path)
}

func (d *stageDecoder) column(v any, path string) (Column, error) {
	x, ok := v.([]any)
	if !ok || len(x) < 2 || len(x) > 3 {
		return Column{}, d.errorf(path, "expected a column reference")
	}
	var opts fieldOptions
	if len(x) == 3 {
		m, ok := x[2].(map[string]any)
		if !ok {
			return Column{}, d.errorf(path, "expected an options object")
		}
		if err := decodeOptions(m, &opts); err != nil {
			return Column{}, d.errorf(path, "%v", err)
		}
	}

	col, err := d.resolve(x[0], x[1], opts, path)
	if err != nil {
		return Column{}, err
	}
	if opts.TemporalUnit != "" {
		u := TemporalUnit(opts.TemporalUnit)
		col.unit = &u
	}
	if opts.Binning != nil {
		b := Binning{Strategy: BinningKind(opts.Binning.Strategy), NumBins: opts.Binning.NumBins, BinWidth: opts.Binning.BinWidth}
		col.binning = &b
	}
	return col, nil
}

func (d *stageDecoder) resolve(kind, ref any, opts fieldOptions, path string) (Column, error) {
	switch kind {
	case "aggregation":
		k, ok := ref.(float64)
		if !ok || int(k) < 0 || int(k) >= len(d.stage.aggregations) {
			return Column{}, d.errorf(path, "unknown aggregation %v", ref)
		}
		return aggregationColumnAt(d.stage, int(k)), nil
	case "expression":
		name, _ := ref.(string)
		for _, e := range d.stage.expressions {
			if e.Name == name {
				return expressionColumn(name, exprType(e.Expr)), nil
			}
		}
		return Column{}, d.errorf(path, "unknown expression %q", name)
	case "field":
	default:
		return Column{}, d.errorf(path, "unknown reference %v", kind)
	}

	var join *Join
	if opts.JoinAlias != "" {
		k := slices.IndexFunc(d.stage.joins, func(j Join) bool { return j.Alias == opts.JoinAlias })
		if k < 0 {
			return Column{}, d.errorf(path, "unknown join alias %q", opts.JoinAlias)
		}
		join = &d.stage.joins[k]
	}

	switch id := ref.(type) {
	case float64:
		f, err := d.q.provider.LookupField(int64(id))
		if err != nil {
			return Column{}, fmt.Errorf("%s.%s: %w", d.path, path, err)
		}
		switch {
		case join != nil:
			if join.Source.IsCard() || f.TableID != join.Source.TableID {
				return Column{}, d.errorf(path, "field %d is not a field of join %q", f.ID, join.Alias)
			}
			return joinedColumn(join.Alias, f), nil
		case d.i > 0:
			return Column{}, d.errorf(path, "field %d is not visible after the first stage", f.ID)
		case opts.SourceField != 0:
			fk, err := d.q.provider.LookupField(opts.SourceField)
			if err != nil {
				return Column{}, fmt.Errorf("%s.%s: %w", d.path, path, err)
			}
			if err := d.checkImplicit(fk, f, path); err != nil {
				return Column{}, err
			}
			return implicitColumn(fk, f), nil
		}
		if src := d.stage.source; src.IsCard() || f.TableID != src.TableID {
			return Column{}, d.errorf(path, "field %d is not a field of the source table", f.ID)
		}
		return fieldColumn(f), nil
	case string:
		if join != nil {
			if !join.Source.IsCard() {
				return Column{}, d.errorf(path, "join %q references a table; use a field id", join.Alias)
			}
			card, err := d.q.provider.LookupCard(join.Source.CardID)
			if err != nil {
				return Column{}, fmt.Errorf("%s.%s: %w", d.path, path, err)
			}
			for _, cc := range card.Columns {
				if cc.Name == id {
					return joinedCardColumn(join.Alias, cc), nil
				}
			}
			return Column{}, d.errorf(path, "card %d has no column %q", card.ID, id)
		}
		if d.i > 0 {
			prev, err := returned(d.q, d.i-1)
			if err != nil {
				return Column{}, err
			}
			for _, rc := range prev {
				if rc.Name == id {
					return previousStageColumn(rc.Name, rc.BaseType, rc.SemanticType), nil
				}
			}
			return Column{}, d.errorf(path, "previous stage returns no column %q", id)
		}
		if src := d.stage.source; src.IsCard() {
			card, err := d.q.provider.LookupCard(src.CardID)
			if err != nil {
				return Column{}, err
			}
			for _, cc := range card.Columns {
				if cc.Name == id {
					return cardColumn(cc), nil
				}
			}
		}
		return Column{}, d.errorf(path, "unknown column %q", id)
	}
	return Column{}, d.errorf(path, "invalid field reference %v", ref)
}

// checkImplicit requires fk to be a foreign key of the source table pointing
// at the table of f.
func (d *stageDecoder) checkImplicit(fk, f *meta.Field, path string) error {
	src := d.stage.source
	if src.IsCard() || fk.TableID != src.TableID || fk.FKTargetID == 0 {
		return d.errorf(path, "field %d is not a foreign key of the source table", fk.ID)
	}
	target, err := d.q.provider.LookupField(fk.FKTargetID)
	if err != nil {
		return fmt.Errorf("%s.%s: %w", d.path, path, err)
	}
	if target.TableID != f.TableID {
		return d.errorf(path, "field %d is not reachable through foreign key %d", f.ID, fk.ID)
	}
	return nil
}
