// Package completion suggests formula-language completions for a partially
// typed custom expression, filter or aggregation.
//
// A source returns nil when it does not apply at the cursor and a result with
// an empty, non-nil option list when it applies but nothing matched.
package completion

import (
	"sort"

	"github.com/leapstack-labs/leapquery/pkg/query"
)

// Mode is the kind of formula being edited.
type Mode string

// Formula modes.
const (
	ModeAggregation Mode = "aggregation"
	ModeExpression  Mode = "expression"
	ModeFilter      Mode = "filter"
)

// Option types.
const (
	TypeAggregation = "aggregation"
	TypeFunction    = "function"
	TypeField       = "field"
)

// Request is the editor state completions are computed for.
type Request struct {
	Query *query.Query
	// Stage is the stage the formula belongs to; -1 is the last stage.
	Stage int
	Mode  Mode
	Doc   string
	// Cursor is a byte offset into Doc.
	Cursor int
}

// Result is a set of options replacing Doc[From:To].
type Result struct {
	From int `json:"from"`
	To   int `json:"to"`
	// Filter is always false; options are already matched and ranked.
	Filter  bool     `json:"filter"`
	Options []Option `json:"options"`
}

// Option is a single suggestion.
type Option struct {
	Label        string `json:"label"`
	DisplayLabel string `json:"displayLabel"`
	Icon         string `json:"icon"`
	Type         string `json:"type"`
	// Matches are inclusive rune index ranges of Label to highlight.
	Matches [][2]int `json:"matches"`
	// Apply is nil when accepting the option must keep the text as is,
	// e.g. when the call's parentheses are already typed.
	Apply *Edit `json:"apply,omitempty"`
}

// Edit replaces Doc[From:To] with Insert and moves the cursor to Cursor.
type Edit struct {
	From   int    `json:"from"`
	To     int    `json:"to"`
	Insert string `json:"insert"`
	Cursor int    `json:"cursor"`
}

// ApplyTo returns doc with the edit applied and the new cursor offset.
func (e Edit) ApplyTo(doc string) (string, int) {
	return doc[:e.From] + e.Insert + doc[e.To:], e.Cursor
}

// Source computes completions for a request.
type Source func(req Request) (*Result, error)

type suggestion struct {
	Option
	match fuzzyResult
}

// rank orders suggestions by score, then highlight span, then label.
func rank(s []suggestion) []Option {
	sort.SliceStable(s, func(i, j int) bool {
		a, b := s[i].match, s[j].match
		if a.score != b.score {
			return a.score < b.score
		}
		if a.span() != b.span() {
			return a.span() < b.span()
		}
		return s[i].Label < s[j].Label
	})
	out := make([]Option, len(s))
	for i := range s {
		out[i] = s[i].Option
	}
	return out
}

// Complete merges every applicable source. A [Column] reference under the
// cursor takes precedence over function names. It returns nil when no
// source applies.
func Complete(req Request) (*Result, error) {
	cols, err := suggestColumns(req)
	if err != nil {
		return nil, err
	}
	if cols != nil {
		return cols, nil
	}

	tok, ok := wordAt(req.Doc, req.Cursor)
	if !ok {
		return nil, nil
	}
	aggs, aggsOK, err := aggregationSuggestions(req, tok)
	if err != nil {
		return nil, err
	}
	fns, fnsOK := functionSuggestions(req, tok)
	if !aggsOK && !fnsOK {
		return nil, nil
	}
	return &Result{From: tok.From, To: tok.To, Options: rank(append(aggs, fns...))}, nil
}

// Aggregations suggests aggregation functions. It applies only in
// aggregation mode.
func Aggregations(req Request) (*Result, error) {
	tok, ok := wordAt(req.Doc, req.Cursor)
	if !ok {
		return nil, nil
	}
	s, ok, err := aggregationSuggestions(req, tok)
	if err != nil || !ok {
		return nil, err
	}
	return &Result{From: tok.From, To: tok.To, Options: rank(s)}, nil
}

func aggregationSuggestions(req Request, tok token) ([]suggestion, bool, error) {
	if req.Mode != ModeAggregation {
		return nil, false, nil
	}
	ops, err := query.AvailableAggregationOperators(req.Query, req.Stage)
	if err != nil {
		return nil, false, err
	}
	call := followedByCall(req.Doc, tok.To)
	out := []suggestion{}
	for _, op := range ops {
		m := fuzzyMatch(tok.Text, op.FormulaName)
		if !m.matched {
			continue
		}
		opt := Option{
			Label:        op.FormulaName,
			DisplayLabel: op.FormulaName,
			Icon:         "function",
			Type:         TypeAggregation,
			Matches:      m.ranges,
		}
		if !call {
			opt.Apply = insertCall(tok, op.FormulaName, len(op.Args) > 0)
		}
		out = append(out, suggestion{opt, m})
	}
	return out, true, nil
}

// Functions suggests expression functions. Boolean functions are offered
// only in filter mode.
func Functions(req Request) (*Result, error) {
	if _, err := query.VisibleColumns(req.Query, req.Stage); err != nil {
		return nil, err
	}
	tok, ok := wordAt(req.Doc, req.Cursor)
	if !ok {
		return nil, nil
	}
	s, _ := functionSuggestions(req, tok)
	return &Result{From: tok.From, To: tok.To, Options: rank(s)}, nil
}

// Formula operators that are written infix rather than called.
var infixFunctions = map[string]bool{"and": true, "or": true, "not": true}

func functionSuggestions(req Request, tok token) ([]suggestion, bool) {
	call := followedByCall(req.Doc, tok.To)
	out := []suggestion{}
	for _, fn := range query.AvailableFunctions(req.Query, req.Mode == ModeFilter) {
		if infixFunctions[fn.Op] || !isIdentifier(fn.FormulaName) {
			continue
		}
		m := fuzzyMatch(tok.Text, fn.FormulaName)
		if !m.matched {
			continue
		}
		opt := Option{
			Label:        fn.FormulaName,
			DisplayLabel: fn.FormulaName,
			Icon:         "function",
			Type:         TypeFunction,
			Matches:      m.ranges,
		}
		if !call {
			opt.Apply = insertCall(tok, fn.FormulaName, true)
			if fn.MaxArgs == 0 {
				opt.Apply.Cursor = tok.From + len(opt.Apply.Insert)
			}
		}
		out = append(out, suggestion{opt, m})
	}
	return out, true
}

// Columns suggests [Column] references from the stage's visible columns.
func Columns(req Request) (*Result, error) {
	return suggestColumns(req)
}

func suggestColumns(req Request) (*Result, error) {
	tok, ok := columnRefAt(req.Doc, req.Cursor)
	if !ok {
		return nil, nil
	}
	cols, err := query.VisibleColumns(req.Query, req.Stage)
	if err != nil {
		return nil, err
	}
	out := []suggestion{}
	for _, c := range cols {
		info, err := query.DisplayInfo(req.Query, req.Stage, c)
		if err != nil {
			return nil, err
		}
		label := info.DisplayName
		var m fuzzyResult
		if tok.Text != "" {
			m = fuzzyMatch(tok.Text, label)
			if !m.matched {
				continue
			}
		}
		insert := "[" + label + "]"
		out = append(out, suggestion{Option{
			Label:        label,
			DisplayLabel: info.LongDisplayName,
			Icon:         info.Icon,
			Type:         TypeField,
			Matches:      m.ranges,
			Apply:        &Edit{From: tok.From, To: tok.To, Insert: insert, Cursor: tok.From + len(insert)},
		}, m})
	}
	if tok.Text == "" {
		// Keep the stage's column order when nothing is typed yet.
		opts := make([]Option, len(out))
		for i := range out {
			opts[i] = out[i].Option
		}
		return &Result{From: tok.From, To: tok.To, Options: opts}, nil
	}
	return &Result{From: tok.From, To: tok.To, Options: rank(out)}, nil
}

// insertCall replaces the token with name, adding parentheses with the
// cursor between them when the function takes arguments.
func insertCall(tok token, name string, parens bool) *Edit {
	insert := name
	cursor := tok.From + len(name)
	if parens {
		insert += "()"
		cursor++
	}
	return &Edit{From: tok.From, To: tok.To, Insert: insert, Cursor: cursor}
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !isIdentRune(r) {
			return false
		}
	}
	return true
}
