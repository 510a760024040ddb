package query

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// wireQuery is the outer MBQL envelope.
type wireQuery struct {
	Database int64      `json:"database"`
	Type     string     `json:"type"`
	Query    *wireStage `json:"query"`
}

// wireStage is one stage; earlier stages nest under source-query.
type wireStage struct {
	SourceTable json.RawMessage   `json:"source-table,omitempty"`
	SourceQuery *wireStage        `json:"source-query,omitempty"`
	Joins       []wireJoin        `json:"joins,omitempty"`
	Expressions *wireExpressions  `json:"expressions,omitempty"`
	Filter      json.RawMessage   `json:"filter,omitempty"`
	Aggregation []json.RawMessage `json:"aggregation,omitempty"`
	Breakout    []json.RawMessage `json:"breakout,omitempty"`
	OrderBy     []json.RawMessage `json:"order-by,omitempty"`
	Limit       int               `json:"limit,omitempty"`
}

type wireJoin struct {
	Alias       string          `json:"alias"`
	Strategy    string          `json:"strategy"`
	SourceTable json.RawMessage `json:"source-table"`
	Condition   json.RawMessage `json:"condition"`
	Fields      string          `json:"fields"`
}

// wireExpressions keeps the expressions object in definition order.
type wireExpressions struct {
	names []string
	exprs []json.RawMessage
}

// MarshalJSON writes the entries in definition order.
func (w *wireExpressions) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, name := range w.names {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(name)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(w.exprs[i])
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads the entries keeping their order.
func (w *wireExpressions) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return &WireError{Path: "expressions", Message: "expected an object"}
	}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		name, ok := tok.(string)
		if !ok {
			return &WireError{Path: "expressions", Message: "expected an expression name"}
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return err
		}
		w.names = append(w.names, name)
		w.exprs = append(w.exprs, raw)
	}
	_, err = dec.Token()
	return err
}

// ToWire serialises q to MBQL JSON.
func ToWire(q *Query) ([]byte, error) {
	var inner *wireStage
	for i := range q.stages {
		ws, err := encodeStage(q, i)
		if err != nil {
			return nil, fmt.Errorf("stage %d: %w", i, err)
		}
		ws.SourceQuery = inner
		inner = ws
	}
	return json.Marshal(wireQuery{Database: q.dbID, Type: "query", Query: inner})
}

// MarshalJSON encodes the query in its wire form.
func (q *Query) MarshalJSON() ([]byte, error) {
	return ToWire(q)
}

func encodeSource(src Source) json.RawMessage {
	if src.IsCard() {
		return json.RawMessage(fmt.Sprintf(`"card__%d"`, src.CardID))
	}
	return json.RawMessage(fmt.Sprintf("%d", src.TableID))
}

func encodeStage(q *Query, i int) (*wireStage, error) {
	s := q.stages[i]
	ws := &wireStage{Limit: s.limit}
	if i == 0 {
		ws.SourceTable = encodeSource(s.source)
	}
	for _, j := range s.joins {
		wj, err := encodeJoin(j)
		if err != nil {
			return nil, err
		}
		ws.Joins = append(ws.Joins, wj)
	}
	if len(s.expressions) > 0 {
		ws.Expressions = &wireExpressions{}
		for _, e := range s.expressions {
			raw, err := marshalExpr(e.Expr)
			if err != nil {
				return nil, err
			}
			ws.Expressions.names = append(ws.Expressions.names, e.Name)
			ws.Expressions.exprs = append(ws.Expressions.exprs, raw)
		}
	}
	if len(s.filters) > 0 {
		raw, err := encodeFilters(s.filters)
		if err != nil {
			return nil, err
		}
		ws.Filter = raw
	}
	for _, a := range s.aggregations {
		raw, err := json.Marshal(encodeAggregation(a))
		if err != nil {
			return nil, err
		}
		ws.Aggregation = append(ws.Aggregation, raw)
	}
	for _, b := range s.breakouts {
		raw, err := marshalExpr(b.Column)
		if err != nil {
			return nil, err
		}
		ws.Breakout = append(ws.Breakout, raw)
	}
	for _, o := range s.orderBys {
		raw, err := json.Marshal([]any{string(o.Direction), encodeExpr(o.Column)})
		if err != nil {
			return nil, err
		}
		ws.OrderBy = append(ws.OrderBy, raw)
	}
	return ws, nil
}

// encodeFilters emits a lone filter bare and wraps anything else in "and",
// so a single "and" filter is not split on the way back.
func encodeFilters(filters []Filter) (json.RawMessage, error) {
	if len(filters) == 1 {
		if c, ok := filters[0].Expr.(Call); !ok || c.Op != "and" {
			return marshalExpr(filters[0].Expr)
		}
	}
	parts := []any{"and"}
	for _, f := range filters {
		parts = append(parts, encodeExpr(f.Expr))
	}
	return json.Marshal(parts)
}

func encodeJoin(j Join) (wireJoin, error) {
	conds := make([]any, len(j.Conditions))
	for k, c := range j.Conditions {
		conds[k] = []any{c.Op, encodeExpr(c.LHS), encodeExpr(c.RHS)}
	}
	var cond any
	switch len(conds) {
	case 0:
	case 1:
		cond = conds[0]
	default:
		cond = append([]any{"and"}, conds...)
	}
	raw, err := json.Marshal(cond)
	if err != nil {
		return wireJoin{}, err
	}
	return wireJoin{
		Alias:       j.Alias,
		Strategy:    string(j.Strategy),
		SourceTable: encodeSource(j.Source),
		Condition:   raw,
		Fields:      string(j.Fields),
	}, nil
}

func encodeAggregation(a Aggregation) any {
	parts := []any{a.Operator}
	if a.Column != nil {
		parts = append(parts, encodeExpr(*a.Column))
	}
	if a.Condition != nil {
		parts = append(parts, encodeExpr(a.Condition))
	}
	if a.Operator == "percentile" {
		parts = append(parts, a.Percentile)
	}
	if a.Name == "" && a.DisplayName == "" {
		return parts
	}
	opts := map[string]any{}
	if a.Name != "" {
		opts["name"] = a.Name
	}
	if a.DisplayName != "" {
		opts["display-name"] = a.DisplayName
	}
	return []any{"aggregation-options", parts, opts}
}

func marshalExpr(e Expr) (json.RawMessage, error) {
	return json.Marshal(encodeExpr(e))
}

// encodeExpr converts an expression tree into plain JSON values.
func encodeExpr(e Expr) any {
	switch n := e.(type) {
	case Column:
		return encodeColumn(n)
	case Literal:
		return n.Value
	case Call:
		parts := make([]any, 0, len(n.Args)+2)
		parts = append(parts, n.Op)
		for _, a := range n.Args {
			parts = append(parts, encodeExpr(a))
		}
		if len(n.Options) > 0 {
			parts = append(parts, n.Options)
		}
		return parts
	}
	return nil
}

func encodeColumn(c Column) any {
	opts := map[string]any{}
	if c.unit != nil {
		opts["temporal-unit"] = string(*c.unit)
	}
	if c.binning != nil {
		b := map[string]any{"strategy": string(c.binning.Strategy)}
		switch c.binning.Strategy {
		case BinNumBins:
			b["num-bins"] = c.binning.NumBins
		case BinWidth:
			b["bin-width"] = c.binning.BinWidth
		}
		opts["binning"] = b
	}

	switch c.source {
	case SourceAggregation:
		return []any{"aggregation", c.aggIndex}
	case SourceExpression:
		if len(opts) == 0 {
			return []any{"expression", c.name}
		}
		return []any{"expression", c.name, opts}
	}

	opts["base-type"] = string(c.baseType)
	if c.joinAlias != "" {
		opts["join-alias"] = c.joinAlias
	}
	if c.fkFieldID != 0 {
		opts["source-field"] = c.fkFieldID
	}
	var id any = c.fieldID
	if c.fieldID == 0 {
		id = c.name
	}
	return []any{"field", id, opts}
}
