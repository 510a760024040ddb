package query

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/leapstack-labs/leapquery/pkg/meta"
)

// Info is the human-facing projection of a column, clause, operator or
// bucket. It is computed on demand and never stored on the entity.
type Info struct {
	// Name is the machine name: a column's output name, an operator's short
	// name, a bucket's unit or strategy.
	Name            string
	DisplayName     string
	LongDisplayName string
	Icon            string
	// Group is the table, join alias or section the entity belongs to.
	Group    string
	Default  bool
	Selected bool
}

// Display groups for non-table columns.
const (
	GroupExpressions    = "Custom Expressions"
	GroupSummaries      = "Summaries"
	GroupPreviousResult = "Previous results"
)

// DisplayInfo projects x into display info within the given stage. x is a
// Column, ReturnedColumn, clause value, AggregationOperator, BinningStrategy,
// TemporalBucket or *meta.Table.
func DisplayInfo(q *Query, stageIndex int, x any) (Info, error) {
	i, err := q.normalizeStage(stageIndex)
	if err != nil {
		return Info{}, err
	}
	switch v := x.(type) {
	case Column:
		return columnInfo(q, i, v)
	case ReturnedColumn:
		info, err := columnInfo(q, i, v.Column)
		info.Name = v.Name
		return info, err
	case Aggregation:
		name, err := aggregationDisplayName(q, i, v)
		if err != nil {
			return Info{}, err
		}
		return Info{Name: aggregationName(v), DisplayName: name, LongDisplayName: name, Icon: "sum", Group: GroupSummaries}, nil
	case Breakout:
		return columnInfo(q, i, v.Column)
	case Filter:
		name, err := exprDisplay(q, i, v.Expr)
		if err != nil {
			return Info{}, err
		}
		return Info{DisplayName: name, LongDisplayName: name, Icon: "filter"}, nil
	case NamedExpression:
		return Info{Name: v.Name, DisplayName: v.Name, LongDisplayName: v.Name, Icon: typeIcon(exprType(v.Expr), ""), Group: GroupExpressions}, nil
	case OrderBy:
		info, err := columnInfo(q, i, v.Column)
		if err != nil {
			return Info{}, err
		}
		info.Icon = "arrow_up"
		if v.Direction == Descending {
			info.Icon = "arrow_down"
		}
		return info, nil
	case Join:
		return Info{Name: v.Alias, DisplayName: v.Alias, LongDisplayName: joinStrategyName(v.Strategy) + " " + v.Alias, Icon: joinIcon(v.Strategy), Group: v.Alias}, nil
	case JoinStrategy:
		return Info{Name: string(v), DisplayName: joinStrategyName(v), Icon: joinIcon(v), Default: v == LeftJoin}, nil
	case AggregationOperator:
		return Info{Name: v.ShortName, DisplayName: v.DisplayName, LongDisplayName: v.DisplayName}, nil
	case BinningStrategy:
		name := binningStrategyName(v.Binning, v.Coordinate)
		return Info{Name: string(v.Binning.Strategy), DisplayName: name, Default: v.Default, Selected: v.Selected}, nil
	case TemporalBucket:
		return Info{Name: string(v.Unit), DisplayName: unitName(v.Unit), Default: v.Default, Selected: v.Selected}, nil
	case *meta.Table:
		return Info{Name: v.Name, DisplayName: v.DisplayName, LongDisplayName: v.DisplayName, Icon: "table", Group: v.Schema}, nil
	}
	return Info{}, fmt.Errorf("no display info for %T", x)
}

func columnInfo(q *Query, i int, c Column) (Info, error) {
	base, group, err := columnBaseName(q, i, c)
	if err != nil {
		return Info{}, err
	}
	name, err := refName(q, c)
	if err != nil {
		return Info{}, err
	}
	display := base + annotationSuffix(c)
	long := display
	if group != "" && c.source != SourceExpression && c.source != SourceAggregation {
		long = group + " → " + display
	}
	return Info{
		Name:            name,
		DisplayName:     display,
		LongDisplayName: long,
		Icon:            typeIcon(c.baseType, c.semanticType),
		Group:           group,
	}, nil
}

// columnBaseName returns the column's display name without annotations and
// the group it belongs to.
func columnBaseName(q *Query, i int, c Column) (string, string, error) {
	switch c.source {
	case SourceTableField:
		f, err := q.provider.LookupField(c.fieldID)
		if err != nil {
			return "", "", err
		}
		t, err := q.provider.LookupTable(f.TableID)
		if err != nil {
			return "", "", err
		}
		return f.DisplayName, t.DisplayName, nil
	case SourceImplicitField:
		fk, err := q.provider.LookupField(c.fkFieldID)
		if err != nil {
			return "", "", err
		}
		f, err := q.provider.LookupField(c.fieldID)
		if err != nil {
			return "", "", err
		}
		via := strings.TrimSuffix(fk.DisplayName, " ID")
		return via + " → " + f.DisplayName, via, nil
	case SourceJoinedField:
		name := meta.Humanize(c.name)
		if c.fieldID != 0 {
			f, err := q.provider.LookupField(c.fieldID)
			if err != nil {
				return "", "", err
			}
			name = f.DisplayName
		}
		return c.joinAlias + " → " + name, c.joinAlias, nil
	case SourceCardColumn:
		card, err := q.provider.LookupCard(q.stages[0].source.CardID)
		if err != nil {
			return "", "", err
		}
		for _, cc := range card.Columns {
			if cc.Name == c.name {
				return cc.DisplayName, card.Name, nil
			}
		}
		return meta.Humanize(c.name), card.Name, nil
	case SourcePreviousStage:
		if i == 0 {
			return c.name, GroupPreviousResult, nil
		}
		prev, err := returned(q, i-1)
		if err != nil {
			return "", "", err
		}
		for _, rc := range prev {
			if rc.Name == c.name {
				info, err := columnInfo(q, i-1, rc.Column)
				return info.DisplayName, GroupPreviousResult, err
			}
		}
		return c.name, GroupPreviousResult, nil
	case SourceExpression:
		return c.name, GroupExpressions, nil
	case SourceAggregation:
		s := q.stages[i]
		if c.aggIndex < 0 || c.aggIndex >= len(s.aggregations) {
			return "", "", &ClauseIndexError{Kind: ClauseAggregation, Index: c.aggIndex, Len: len(s.aggregations)}
		}
		name, err := aggregationDisplayName(q, i, s.aggregations[c.aggIndex])
		return name, GroupSummaries, err
	}
	return "", "", fmt.Errorf("unknown column source %v", c.source)
}

func annotationSuffix(c Column) string {
	if c.unit != nil {
		return ": " + unitName(*c.unit)
	}
	if c.binning != nil {
		return ": " + binningAnnotationName(*c.binning, c.semanticType.IsCoordinate())
	}
	return ""
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// binningAnnotationName names the binning of an annotated column, e.g. "10 bins".
func binningAnnotationName(b Binning, coordinate bool) string {
	switch b.Strategy {
	case BinNumBins:
		return fmt.Sprintf("%d bins", b.NumBins)
	case BinWidth:
		if coordinate {
			return formatNumber(b.BinWidth) + "°"
		}
		return "Bin width " + formatNumber(b.BinWidth)
	}
	return "Auto binned"
}

// binningStrategyName names a catalog entry, e.g. "Bin every 10 degrees".
func binningStrategyName(b Binning, coordinate bool) string {
	switch b.Strategy {
	case BinNumBins:
		return fmt.Sprintf("%d bins", b.NumBins)
	case BinWidth:
		if coordinate {
			unit := "degrees"
			if b.BinWidth == 1 {
				unit = "degree"
			}
			return fmt.Sprintf("Bin every %s %s", formatNumber(b.BinWidth), unit)
		}
		return "Bin width " + formatNumber(b.BinWidth)
	}
	return "Auto bin"
}

var unitNames = map[TemporalUnit]string{
	UnitMinute:        "Minute",
	UnitHour:          "Hour",
	UnitDay:           "Day",
	UnitWeek:          "Week",
	UnitMonth:         "Month",
	UnitQuarter:       "Quarter",
	UnitYear:          "Year",
	UnitMinuteOfHour:  "Minute of hour",
	UnitHourOfDay:     "Hour of day",
	UnitDayOfWeek:     "Day of week",
	UnitDayOfMonth:    "Day of month",
	UnitDayOfYear:     "Day of year",
	UnitWeekOfYear:    "Week of year",
	UnitMonthOfYear:   "Month of year",
	UnitQuarterOfYear: "Quarter of year",
}

func unitName(u TemporalUnit) string {
	if n, ok := unitNames[u]; ok {
		return n
	}
	return meta.Humanize(string(u))
}

var aggregationTemplates = map[string]string{
	"count":          "Count",
	"cum-count":      "Cumulative count",
	"sum":            "Sum of %s",
	"avg":            "Average of %s",
	"median":         "Median of %s",
	"distinct":       "Distinct values of %s",
	"cum-sum":        "Cumulative sum of %s",
	"stddev":         "Standard deviation of %s",
	"var":            "Variance of %s",
	"min":            "Min of %s",
	"max":            "Max of %s",
	"percentile":     "Percentile of %s",
	"share":          "Share of rows matching condition",
	"count-where":    "Count of rows matching condition",
	"sum-where":      "Sum of %s matching condition",
	"distinct-where": "Distinct values of %s matching condition",
}

func aggregationDisplayName(q *Query, i int, a Aggregation) (string, error) {
	if a.DisplayName != "" {
		return a.DisplayName, nil
	}
	tmpl, ok := aggregationTemplates[a.Operator]
	if !ok {
		return a.Operator, nil
	}
	if a.Column == nil {
		return tmpl, nil
	}
	info, err := columnInfo(q, i, *a.Column)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(tmpl, info.DisplayName), nil
}

var filterTemplates = map[string]string{
	"=":                "%s is %s",
	"!=":               "%s is not %s",
	"<":                "%s is less than %s",
	"<=":               "%s is less than or equal to %s",
	">":                "%s is greater than %s",
	">=":               "%s is greater than or equal to %s",
	"between":          "%s is between %s and %s",
	"contains":         "%s contains %s",
	"does-not-contain": "%s does not contain %s",
	"starts-with":      "%s starts with %s",
	"ends-with":        "%s ends with %s",
	"is-null":          "%s is empty",
	"not-null":         "%s is not empty",
	"is-empty":         "%s is empty",
	"not-empty":        "%s is not empty",
	"not":              "not %s",
}

// exprDisplay renders an expression as a human-readable phrase, e.g.
// "Total is greater than 10".
func exprDisplay(q *Query, i int, e Expr) (string, error) {
	switch n := e.(type) {
	case Column:
		info, err := columnInfo(q, i, n)
		return info.DisplayName, err
	case Literal:
		switch v := n.Value.(type) {
		case float64:
			return formatNumber(v), nil
		case nil:
			return "null", nil
		}
		return fmt.Sprint(n.Value), nil
	case Call:
		args := make([]any, len(n.Args))
		strs := make([]string, len(n.Args))
		for k, a := range n.Args {
			s, err := exprDisplay(q, i, a)
			if err != nil {
				return "", err
			}
			args[k], strs[k] = s, s
		}
		switch n.Op {
		case "and", "or":
			return strings.Join(strs, " "+n.Op+" "), nil
		case "=", "!=":
			if len(strs) > 2 {
				return fmt.Sprintf(filterTemplates[n.Op], strs[0], fmt.Sprintf("%d selections", len(strs)-1)), nil
			}
		}
		if tmpl, ok := filterTemplates[n.Op]; ok && strings.Count(tmpl, "%s") == len(args) {
			return fmt.Sprintf(tmpl, args...), nil
		}
		name := n.Op
		if fn, ok := functionsByOp[n.Op]; ok {
			name = fn.FormulaName
		}
		return name + "(" + strings.Join(strs, ", ") + ")", nil
	}
	return "", fmt.Errorf("unsupported expression node %T", e)
}

func typeIcon(t meta.BaseType, st meta.SemanticType) string {
	switch {
	case st == meta.SemanticPK:
		return "label"
	case st == meta.SemanticFK:
		return "connections"
	case st.IsCoordinate():
		return "location"
	case t.IsTemporal():
		return "calendar"
	case t.IsNumeric():
		return "int"
	case t.IsText():
		return "string"
	case t == meta.TypeBoolean:
		return "io"
	}
	return "unknown"
}

func joinStrategyName(s JoinStrategy) string {
	switch s {
	case LeftJoin:
		return "Left outer join"
	case RightJoin:
		return "Right outer join"
	case InnerJoin:
		return "Inner join"
	case FullJoin:
		return "Full outer join"
	}
	return string(s)
}

func joinIcon(s JoinStrategy) string {
	switch s {
	case RightJoin:
		return "join_right_outer"
	case InnerJoin:
		return "join_inner"
	case FullJoin:
		return "join_full_outer"
	}
	return "join_left_outer"
}
