package compile

import (
	"fmt"
	"strings"

	"github.com/leapstack-labs/leapquery/pkg/dialect"
	"github.com/leapstack-labs/leapquery/pkg/query"
)

// walk calls fn for every column in e.
func walk(e query.Expr, fn func(query.Column) error) error {
	switch n := e.(type) {
	case query.Column:
		return fn(n)
	case query.Call:
		for _, a := range n.Args {
			if err := walk(a, fn); err != nil {
				return err
			}
		}
	}
	return nil
}

// column renders a column with its binning or temporal annotation applied.
func (c *stageCompiler) column(col query.Column) (string, error) {
	base, err := c.baseColumn(col)
	if err != nil {
		return "", err
	}
	if b := col.Binning(); b != nil {
		return c.bin(base, *b)
	}
	if u, ok := col.TemporalUnit(); ok {
		if u.IsExtraction() {
			return c.d.ExtractTemporal(string(u), base)
		}
		return c.d.TruncateTemporal(string(u), base)
	}
	return base, nil
}

func (c *stageCompiler) baseColumn(col query.Column) (string, error) {
	p := c.q.Provider()
	switch col.Source() {
	case query.SourceTableField:
		f, err := p.LookupField(col.FieldID())
		if err != nil {
			return "", err
		}
		return c.d.QuoteQualified(sourceAlias, f.Name), nil
	case query.SourceImplicitField:
		if err := c.registerImplicit(col); err != nil {
			return "", err
		}
		f, err := p.LookupField(col.FieldID())
		if err != nil {
			return "", err
		}
		return c.d.QuoteQualified(c.implicitAlias[col.FKFieldID()], f.Name), nil
	case query.SourceJoinedField:
		name := col.Name()
		if col.FieldID() != 0 {
			f, err := p.LookupField(col.FieldID())
			if err != nil {
				return "", err
			}
			name = f.Name
		}
		return c.d.QuoteQualified(col.JoinAlias(), name), nil
	case query.SourceCardColumn, query.SourcePreviousStage:
		return c.d.QuoteQualified(sourceAlias, col.Name()), nil
	case query.SourceExpression:
		e, ok := c.exprs[col.Name()]
		if !ok {
			return "", fmt.Errorf("unknown expression %q", col.Name())
		}
		if c.resolving[col.Name()] {
			return "", fmt.Errorf("expression %q references itself", col.Name())
		}
		c.resolving[col.Name()] = true
		defer delete(c.resolving, col.Name())
		s, err := c.expr(e)
		if err != nil {
			return "", fmt.Errorf("expression %q: %w", col.Name(), err)
		}
		return "(" + s + ")", nil
	case query.SourceAggregation:
		return "", fmt.Errorf("aggregation %d cannot be referenced before grouping", col.AggregationIndex())
	}
	return "", fmt.Errorf("unknown column source %v", col.Source())
}

// bin renders the lower edge of the bin holding x.
func (c *stageCompiler) bin(x string, b query.Binning) (string, error) {
	switch b.Strategy {
	case query.BinWidth:
		w := dialect.FormatNumber(b.BinWidth)
		return fmt.Sprintf("(FLOOR(%s / %s) * %s)", x, w, w), nil
	case query.BinNumBins, query.BinDefault:
		n := b.NumBins
		if b.Strategy == query.BinDefault {
			n = DefaultBinCount
		}
		alias := fmt.Sprintf("bounds_%d", len(c.bounds)+1)
		c.bounds = append(c.bounds, fmt.Sprintf("(SELECT MIN(%s) AS %s, MAX(%s) AS %s FROM %s) AS %s",
			x, c.d.QuoteIdentifier("min_value"), x, c.d.QuoteIdentifier("max_value"), c.from, c.d.QuoteIdentifier(alias)))
		lo := c.d.QuoteQualified(alias, "min_value")
		hi := c.d.QuoteQualified(alias, "max_value")
		width := fmt.Sprintf("((%s - %s) / %d.0)", hi, lo, n)
		// The maximum falls into the last bin rather than one past it.
		return fmt.Sprintf("(%s + %s(FLOOR((%s - %s) / NULLIF(%s, 0)), %d) * %s)",
			lo, c.d.FunctionName("least"), x, lo, width, n-1, width), nil
	}
	return "", fmt.Errorf("unknown binning strategy %q", b.Strategy)
}

func (c *stageCompiler) expr(e query.Expr) (string, error) {
	switch n := e.(type) {
	case query.Column:
		return c.column(n)
	case query.Literal:
		return c.literal(n.Value)
	case query.Call:
		return c.call(n)
	case nil:
		return "", fmt.Errorf("missing expression")
	}
	return "", fmt.Errorf("unsupported expression node %T", e)
}

func (c *stageCompiler) literal(v any) (string, error) {
	switch x := v.(type) {
	case nil:
		return "NULL", nil
	case string:
		return c.d.QuoteString(x), nil
	case float64:
		return dialect.FormatNumber(x), nil
	case int:
		return dialect.FormatNumber(float64(x)), nil
	case int64:
		return dialect.FormatNumber(float64(x)), nil
	case bool:
		if x {
			return "TRUE", nil
		}
		return "FALSE", nil
	}
	return "", fmt.Errorf("unsupported literal %T", v)
}

func (c *stageCompiler) args(args []query.Expr) ([]string, error) {
	out := make([]string, len(args))
	for i, a := range args {
		s, err := c.expr(a)
		if err != nil {
			return nil, err
		}
		out[i] = s
	}
	return out, nil
}

// literalString returns the string value of a literal argument.
func literalString(e query.Expr) (string, bool) {
	lit, ok := e.(query.Literal)
	if !ok {
		return "", false
	}
	s, ok := lit.Value.(string)
	return s, ok
}

var temporalGetters = map[string]string{
	"get-year":    "year",
	"get-quarter": "quarter-of-year",
	"get-month":   "month-of-year",
	"get-day":     "day-of-month",
	"get-hour":    "hour-of-day",
}

func (c *stageCompiler) call(n query.Call) (string, error) {
	fn, ok := query.LookupFunction(n.Op)
	if !ok {
		return "", fmt.Errorf("unknown operator %q", n.Op)
	}
	if len(n.Args) < fn.MinArgs || (fn.MaxArgs >= 0 && len(n.Args) > fn.MaxArgs) {
		return "", fmt.Errorf("%s: wrong number of arguments (%d)", n.Op, len(n.Args))
	}

	switch n.Op {
	case "now":
		return "CURRENT_TIMESTAMP", nil
	case "datetime-add", "datetime-subtract":
		return c.interval(n)
	case "regex-match-first":
		x, err := c.expr(n.Args[0])
		if err != nil {
			return "", err
		}
		pattern, err := c.expr(n.Args[1])
		if err != nil {
			return "", err
		}
		return c.d.RegexExtract(x, pattern)
	}
	if unit, ok := temporalGetters[n.Op]; ok {
		x, err := c.expr(n.Args[0])
		if err != nil {
			return "", err
		}
		return c.d.ExtractTemporal(unit, x)
	}

	args, err := c.args(n.Args)
	if err != nil {
		return "", err
	}
	switch n.Op {
	case "+", "-", "*":
		return "(" + strings.Join(args, " "+n.Op+" ") + ")", nil
	case "/":
		// Multiplying by 1.0 keeps integer operands from truncating.
		return "(1.0 * " + strings.Join(args, " / ") + ")", nil
	case "concat":
		return "(" + strings.Join(args, " || ") + ")", nil
	case "case":
		return caseWhen(args), nil
	case "=", "!=":
		return equality(n.Op, args), nil
	case "<", "<=", ">", ">=":
		return fmt.Sprintf("%s %s %s", args[0], n.Op, args[1]), nil
	case "between":
		return fmt.Sprintf("%s BETWEEN %s AND %s", args[0], args[1], args[2]), nil
	case "contains", "does-not-contain", "starts-with", "ends-with":
		return c.like(n, args), nil
	case "is-null":
		return args[0] + " IS NULL", nil
	case "not-null":
		return args[0] + " IS NOT NULL", nil
	case "is-empty":
		return fmt.Sprintf("(%s IS NULL OR %s = '')", args[0], args[0]), nil
	case "not-empty":
		return fmt.Sprintf("(%s IS NOT NULL AND %s <> '')", args[0], args[0]), nil
	case "and", "or":
		return "(" + strings.Join(args, " "+strings.ToUpper(n.Op)+" ") + ")", nil
	case "not":
		return "NOT (" + args[0] + ")", nil
	}
	return c.d.FunctionName(n.Op) + "(" + strings.Join(args, ", ") + ")", nil
}

func caseWhen(args []string) string {
	var sb strings.Builder
	sb.WriteString("CASE")
	k := 0
	for ; k+1 < len(args); k += 2 {
		fmt.Fprintf(&sb, " WHEN %s THEN %s", args[k], args[k+1])
	}
	if k < len(args) {
		fmt.Fprintf(&sb, " ELSE %s", args[k])
	}
	sb.WriteString(" END")
	return sb.String()
}

func equality(op string, args []string) string {
	if len(args) == 2 {
		if args[1] == "NULL" {
			if op == "=" {
				return args[0] + " IS NULL"
			}
			return args[0] + " IS NOT NULL"
		}
		return fmt.Sprintf("%s %s %s", args[0], comparison(op), args[1])
	}
	in := "IN"
	if op == "!=" {
		in = "NOT IN"
	}
	return fmt.Sprintf("%s %s (%s)", args[0], in, strings.Join(args[1:], ", "))
}

// like renders the text matching operators. The comparison is
// case-sensitive unless the call carries "case-sensitive": false.
func (c *stageCompiler) like(n query.Call, args []string) string {
	x, pattern := args[0], args[1]
	if cs, ok := n.Options["case-sensitive"].(bool); ok && !cs {
		x, pattern = "LOWER("+x+")", "LOWER("+pattern+")"
	}
	switch n.Op {
	case "starts-with":
		return fmt.Sprintf("%s LIKE (%s || '%%')", x, pattern)
	case "ends-with":
		return fmt.Sprintf("%s LIKE ('%%' || %s)", x, pattern)
	case "does-not-contain":
		return fmt.Sprintf("%s NOT LIKE ('%%' || %s || '%%')", x, pattern)
	}
	return fmt.Sprintf("%s LIKE ('%%' || %s || '%%')", x, pattern)
}

func (c *stageCompiler) interval(n query.Call) (string, error) {
	unit, ok := literalString(n.Args[2])
	if !ok {
		return "", fmt.Errorf("%s: unit must be a string literal", n.Op)
	}
	x, err := c.expr(n.Args[0])
	if err != nil {
		return "", err
	}
	amount, err := c.expr(n.Args[1])
	if err != nil {
		return "", err
	}
	if n.Op == "datetime-subtract" {
		amount = "-(" + amount + ")"
	}
	return c.d.AddInterval(x, amount, unit)
}
