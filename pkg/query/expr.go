package query

import (
	"fmt"

	"github.com/leapstack-labs/leapquery/pkg/meta"
)

// Expr is a node of an expression tree: a Column, a Literal or a Call.
type Expr interface {
	exprNode()
}

// Literal is a constant. Numbers are normalised to float64.
type Literal struct {
	Value any
}

func (Literal) exprNode() {}

// Lit builds a Literal, normalising integer kinds to float64.
func Lit(v any) Literal {
	switch n := v.(type) {
	case int:
		return Literal{Value: float64(n)}
	case int32:
		return Literal{Value: float64(n)}
	case int64:
		return Literal{Value: float64(n)}
	case float32:
		return Literal{Value: float64(n)}
	}
	return Literal{Value: v}
}

// Call applies an operator to arguments, e.g. ["contains", col, "foo"].
type Call struct {
	Op      string
	Args    []Expr
	Options map[string]any
}

func (Call) exprNode() {}

// NewCall builds a Call.
func NewCall(op string, args ...Expr) Call {
	return Call{Op: op, Args: args}
}

// WithOptions returns a copy of c carrying the given options.
func (c Call) WithOptions(opts map[string]any) Call {
	if len(opts) == 0 {
		c.Options = nil
		return c
	}
	m := make(map[string]any, len(opts))
	for k, v := range opts {
		m[k] = v
	}
	c.Options = m
	return c
}

// walkColumns calls fn for every Column in e.
func walkColumns(e Expr, fn func(Column)) {
	switch n := e.(type) {
	case Column:
		fn(n)
	case Call:
		for _, a := range n.Args {
			walkColumns(a, fn)
		}
	}
}

// mapColumns rebuilds e with every Column replaced by fn's result.
func mapColumns(e Expr, fn func(Column) Column) Expr {
	switch n := e.(type) {
	case Column:
		return fn(n)
	case Call:
		if len(n.Args) == 0 {
			return n
		}
		args := make([]Expr, len(n.Args))
		for i, a := range n.Args {
			args[i] = mapColumns(a, fn)
		}
		n.Args = args
		return n
	}
	return e
}

func exprReferences(e Expr, pred func(Column) bool) bool {
	found := false
	walkColumns(e, func(c Column) {
		if pred(c) {
			found = true
		}
	})
	return found
}

// exprType infers the result type of e.
func exprType(e Expr) meta.BaseType {
	switch n := e.(type) {
	case Column:
		return n.baseType
	case Literal:
		switch n.Value.(type) {
		case float64:
			return meta.TypeFloat
		case string:
			return meta.TypeText
		case bool:
			return meta.TypeBoolean
		}
		return meta.TypeUnknown
	case Call:
		if fn, ok := functionsByOp[n.Op]; ok {
			if fn.Result != "" {
				return fn.Result
			}
			// case alternates condition and value; its type is the first value's.
			if n.Op == "case" && len(n.Args) > 1 {
				return exprType(n.Args[1])
			}
			if len(n.Args) > 0 {
				return exprType(n.Args[0])
			}
		}
		return meta.TypeUnknown
	}
	return meta.TypeUnknown
}

// argKind constrains the first argument of a function.
type argKind int

const (
	argAny argKind = iota
	argText
	argNumeric
	argTemporal
	argOrdered
	argBoolean
)

func (k argKind) accepts(t meta.BaseType) bool {
	if t == meta.TypeUnknown {
		return true
	}
	switch k {
	case argText:
		return t.IsText()
	case argNumeric:
		return t.IsNumeric()
	case argTemporal:
		return t.IsTemporal()
	case argOrdered:
		return t.IsNumeric() || t.IsTemporal() || t.IsText()
	case argBoolean:
		return t == meta.TypeBoolean
	}
	return true
}

func (k argKind) String() string {
	switch k {
	case argText:
		return "text"
	case argNumeric:
		return "numeric"
	case argTemporal:
		return "temporal"
	case argOrdered:
		return "ordered"
	case argBoolean:
		return "boolean"
	}
	return "any"
}

// Function describes an operator usable in custom expressions and filters.
type Function struct {
	Op          string
	FormulaName string
	Args        []string
	MinArgs     int
	// MaxArgs is -1 for variadic functions.
	MaxArgs int
	// Result is the result type; empty means "same as the first argument".
	Result   meta.BaseType
	Boolean  bool
	First    argKind
	Features []meta.Feature
}

// Functions is the catalog of expression and filter operators.
var Functions = []Function{
	{Op: "+", FormulaName: "+", Args: []string{"a", "b"}, MinArgs: 2, MaxArgs: -1, First: argNumeric, Result: meta.TypeFloat},
	{Op: "-", FormulaName: "-", Args: []string{"a", "b"}, MinArgs: 2, MaxArgs: -1, First: argNumeric, Result: meta.TypeFloat},
	{Op: "*", FormulaName: "*", Args: []string{"a", "b"}, MinArgs: 2, MaxArgs: -1, First: argNumeric, Result: meta.TypeFloat},
	{Op: "/", FormulaName: "/", Args: []string{"a", "b"}, MinArgs: 2, MaxArgs: -1, First: argNumeric, Result: meta.TypeFloat},
	{Op: "abs", FormulaName: "abs", Args: []string{"column"}, MinArgs: 1, MaxArgs: 1, First: argNumeric},
	{Op: "ceil", FormulaName: "ceil", Args: []string{"column"}, MinArgs: 1, MaxArgs: 1, First: argNumeric, Result: meta.TypeInteger},
	{Op: "floor", FormulaName: "floor", Args: []string{"column"}, MinArgs: 1, MaxArgs: 1, First: argNumeric, Result: meta.TypeInteger},
	{Op: "round", FormulaName: "round", Args: []string{"column"}, MinArgs: 1, MaxArgs: 1, First: argNumeric, Result: meta.TypeInteger},
	{Op: "sqrt", FormulaName: "sqrt", Args: []string{"column"}, MinArgs: 1, MaxArgs: 1, First: argNumeric, Result: meta.TypeFloat},
	{Op: "power", FormulaName: "power", Args: []string{"column", "exponent"}, MinArgs: 2, MaxArgs: 2, First: argNumeric, Result: meta.TypeFloat},
	{Op: "log", FormulaName: "log", Args: []string{"column"}, MinArgs: 1, MaxArgs: 1, First: argNumeric, Result: meta.TypeFloat},
	{Op: "exp", FormulaName: "exp", Args: []string{"column"}, MinArgs: 1, MaxArgs: 1, First: argNumeric, Result: meta.TypeFloat},
	{Op: "concat", FormulaName: "concat", Args: []string{"value1", "value2"}, MinArgs: 2, MaxArgs: -1, Result: meta.TypeText},
	{Op: "lower", FormulaName: "lower", Args: []string{"text"}, MinArgs: 1, MaxArgs: 1, First: argText, Result: meta.TypeText},
	{Op: "upper", FormulaName: "upper", Args: []string{"text"}, MinArgs: 1, MaxArgs: 1, First: argText, Result: meta.TypeText},
	{Op: "trim", FormulaName: "trim", Args: []string{"text"}, MinArgs: 1, MaxArgs: 1, First: argText, Result: meta.TypeText},
	{Op: "ltrim", FormulaName: "ltrim", Args: []string{"text"}, MinArgs: 1, MaxArgs: 1, First: argText, Result: meta.TypeText},
	{Op: "rtrim", FormulaName: "rtrim", Args: []string{"text"}, MinArgs: 1, MaxArgs: 1, First: argText, Result: meta.TypeText},
	{Op: "length", FormulaName: "length", Args: []string{"text"}, MinArgs: 1, MaxArgs: 1, First: argText, Result: meta.TypeInteger},
	{Op: "substring", FormulaName: "substring", Args: []string{"text", "position", "length"}, MinArgs: 3, MaxArgs: 3, First: argText, Result: meta.TypeText},
	{Op: "replace", FormulaName: "replace", Args: []string{"text", "find", "replace"}, MinArgs: 3, MaxArgs: 3, First: argText, Result: meta.TypeText},
	{Op: "regex-match-first", FormulaName: "regexextract", Args: []string{"text", "regex"}, MinArgs: 2, MaxArgs: 2, First: argText, Result: meta.TypeText, Features: []meta.Feature{meta.FeatureRegex}},
	{Op: "coalesce", FormulaName: "coalesce", Args: []string{"value1", "value2"}, MinArgs: 2, MaxArgs: -1},
	{Op: "case", FormulaName: "case", Args: []string{"condition", "output"}, MinArgs: 2, MaxArgs: -1, First: argBoolean},
	{Op: "datetime-add", FormulaName: "datetimeAdd", Args: []string{"column", "amount", "unit"}, MinArgs: 3, MaxArgs: 3, First: argTemporal},
	{Op: "datetime-subtract", FormulaName: "datetimeSubtract", Args: []string{"column", "amount", "unit"}, MinArgs: 3, MaxArgs: 3, First: argTemporal},
	{Op: "get-year", FormulaName: "year", Args: []string{"column"}, MinArgs: 1, MaxArgs: 1, First: argTemporal, Result: meta.TypeInteger},
	{Op: "get-quarter", FormulaName: "quarter", Args: []string{"column"}, MinArgs: 1, MaxArgs: 1, First: argTemporal, Result: meta.TypeInteger},
	{Op: "get-month", FormulaName: "month", Args: []string{"column"}, MinArgs: 1, MaxArgs: 1, First: argTemporal, Result: meta.TypeInteger},
	{Op: "get-day", FormulaName: "day", Args: []string{"column"}, MinArgs: 1, MaxArgs: 1, First: argTemporal, Result: meta.TypeInteger},
	{Op: "get-hour", FormulaName: "hour", Args: []string{"column"}, MinArgs: 1, MaxArgs: 1, First: argTemporal, Result: meta.TypeInteger},
	{Op: "now", FormulaName: "now", MinArgs: 0, MaxArgs: 0, Result: meta.TypeDateTime},

	{Op: "=", FormulaName: "=", Args: []string{"column", "value"}, MinArgs: 2, MaxArgs: -1, Boolean: true, Result: meta.TypeBoolean},
	{Op: "!=", FormulaName: "!=", Args: []string{"column", "value"}, MinArgs: 2, MaxArgs: -1, Boolean: true, Result: meta.TypeBoolean},
	{Op: "<", FormulaName: "<", Args: []string{"column", "value"}, MinArgs: 2, MaxArgs: 2, First: argOrdered, Boolean: true, Result: meta.TypeBoolean},
	{Op: "<=", FormulaName: "<=", Args: []string{"column", "value"}, MinArgs: 2, MaxArgs: 2, First: argOrdered, Boolean: true, Result: meta.TypeBoolean},
	{Op: ">", FormulaName: ">", Args: []string{"column", "value"}, MinArgs: 2, MaxArgs: 2, First: argOrdered, Boolean: true, Result: meta.TypeBoolean},
	{Op: ">=", FormulaName: ">=", Args: []string{"column", "value"}, MinArgs: 2, MaxArgs: 2, First: argOrdered, Boolean: true, Result: meta.TypeBoolean},
	{Op: "between", FormulaName: "between", Args: []string{"column", "start", "end"}, MinArgs: 3, MaxArgs: 3, First: argOrdered, Boolean: true, Result: meta.TypeBoolean},
	{Op: "contains", FormulaName: "contains", Args: []string{"text", "search"}, MinArgs: 2, MaxArgs: 2, First: argText, Boolean: true, Result: meta.TypeBoolean},
	{Op: "does-not-contain", FormulaName: "doesNotContain", Args: []string{"text", "search"}, MinArgs: 2, MaxArgs: 2, First: argText, Boolean: true, Result: meta.TypeBoolean},
	{Op: "starts-with", FormulaName: "startsWith", Args: []string{"text", "prefix"}, MinArgs: 2, MaxArgs: 2, First: argText, Boolean: true, Result: meta.TypeBoolean},
	{Op: "ends-with", FormulaName: "endsWith", Args: []string{"text", "suffix"}, MinArgs: 2, MaxArgs: 2, First: argText, Boolean: true, Result: meta.TypeBoolean},
	{Op: "is-null", FormulaName: "isNull", Args: []string{"column"}, MinArgs: 1, MaxArgs: 1, Boolean: true, Result: meta.TypeBoolean},
	{Op: "not-null", FormulaName: "notNull", Args: []string{"column"}, MinArgs: 1, MaxArgs: 1, Boolean: true, Result: meta.TypeBoolean},
	{Op: "is-empty", FormulaName: "isEmpty", Args: []string{"column"}, MinArgs: 1, MaxArgs: 1, First: argText, Boolean: true, Result: meta.TypeBoolean},
	{Op: "not-empty", FormulaName: "notEmpty", Args: []string{"column"}, MinArgs: 1, MaxArgs: 1, First: argText, Boolean: true, Result: meta.TypeBoolean},
	{Op: "and", FormulaName: "AND", MinArgs: 2, MaxArgs: -1, First: argBoolean, Boolean: true, Result: meta.TypeBoolean},
	{Op: "or", FormulaName: "OR", MinArgs: 2, MaxArgs: -1, First: argBoolean, Boolean: true, Result: meta.TypeBoolean},
	{Op: "not", FormulaName: "NOT", MinArgs: 1, MaxArgs: 1, First: argBoolean, Boolean: true, Result: meta.TypeBoolean},
}

var functionsByOp = func() map[string]Function {
	m := make(map[string]Function, len(Functions))
	for _, f := range Functions {
		m[f.Op] = f
	}
	return m
}()

// LookupFunction returns the catalog entry for an operator.
func LookupFunction(op string) (Function, bool) {
	f, ok := functionsByOp[op]
	return f, ok
}

// AvailableFunctions returns the functions the query's database supports.
// Boolean-only functions are included only when filters is set.
func AvailableFunctions(q *Query, filters bool) []Function {
	fs := q.features()
	out := make([]Function, 0, len(Functions))
	for _, f := range Functions {
		if !fs.HasAll(f.Features...) {
			continue
		}
		if f.Boolean && !filters {
			continue
		}
		out = append(out, f)
	}
	return out
}

// validateExpr type-checks an expression tree against the function catalog.
func validateExpr(kind ClauseKind, e Expr) error {
	switch n := e.(type) {
	case Column, Literal:
		return nil
	case Call:
		fn, ok := functionsByOp[n.Op]
		if !ok {
			return invalid(kind, "unknown operator %q", n.Op)
		}
		if len(n.Args) < fn.MinArgs || (fn.MaxArgs >= 0 && len(n.Args) > fn.MaxArgs) {
			return invalid(kind, "%s expects %s arguments, got %d", n.Op, arity(fn), len(n.Args))
		}
		if len(n.Args) > 0 && !fn.First.accepts(exprType(n.Args[0])) {
			return invalid(kind, "%s expects a %s first argument, got %s", n.Op, fn.First, exprType(n.Args[0]))
		}
		for _, a := range n.Args {
			if err := validateExpr(kind, a); err != nil {
				return err
			}
		}
		return nil
	case nil:
		return invalid(kind, "missing expression")
	}
	return invalid(kind, "unsupported expression node %T", e)
}

func arity(fn Function) string {
	switch {
	case fn.MaxArgs < 0:
		return fmt.Sprintf("at least %d", fn.MinArgs)
	case fn.MinArgs == fn.MaxArgs:
		return fmt.Sprintf("%d", fn.MinArgs)
	default:
		return fmt.Sprintf("%d to %d", fn.MinArgs, fn.MaxArgs)
	}
}
