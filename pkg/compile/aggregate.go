package compile

import (
	"fmt"
	"strings"

	"github.com/leapstack-labs/leapquery/pkg/query"
)

// aggregation renders one aggregation. Cumulative operators run a window
// over the grouped rows ordered by the breakouts.
func (c *stageCompiler) aggregation(a query.Aggregation, breakouts []string) (string, error) {
	var x, cond string
	var err error
	if a.Column != nil {
		if x, err = c.column(*a.Column); err != nil {
			return "", err
		}
	}
	if a.Condition != nil {
		if cond, err = c.expr(a.Condition); err != nil {
			return "", err
		}
	}

	switch a.Operator {
	case "count":
		return "COUNT(*)", nil
	case "sum", "avg", "min", "max":
		return strings.ToUpper(a.Operator) + "(" + x + ")", nil
	case "distinct":
		return "COUNT(DISTINCT " + x + ")", nil
	case "stddev", "var":
		return c.d.FunctionName(a.Operator) + "(" + x + ")", nil
	case "median":
		return c.d.Percentile(x, 0.5)
	case "percentile":
		return c.d.Percentile(x, a.Percentile)
	case "cum-count":
		return cumulative("COUNT(*)", breakouts), nil
	case "cum-sum":
		return cumulative("SUM("+x+")", breakouts), nil
	case "share":
		return fmt.Sprintf("AVG(CASE WHEN %s THEN 1.0 ELSE 0.0 END)", cond), nil
	case "count-where":
		return fmt.Sprintf("SUM(CASE WHEN %s THEN 1 ELSE 0 END)", cond), nil
	case "sum-where":
		return fmt.Sprintf("SUM(CASE WHEN %s THEN %s ELSE 0 END)", cond, x), nil
	case "distinct-where":
		return fmt.Sprintf("COUNT(DISTINCT CASE WHEN %s THEN %s END)", cond, x), nil
	}
	return "", fmt.Errorf("unknown aggregation operator %q", a.Operator)
}

func cumulative(agg string, breakouts []string) string {
	if len(breakouts) == 0 {
		return agg
	}
	return fmt.Sprintf("SUM(%s) OVER (ORDER BY %s)", agg, strings.Join(breakouts, ", "))
}
