package dialect

import (
	"fmt"
	"strings"
)

// Standard renderings shared by engines with DATE_TRUNC, EXTRACT and
// INTERVAL arithmetic (DuckDB, PostgreSQL).

var truncateUnits = map[string]string{
	"minute":  "minute",
	"hour":    "hour",
	"day":     "day",
	"week":    "week",
	"month":   "month",
	"quarter": "quarter",
	"year":    "year",
}

// extractUnits maps extraction units to EXTRACT fields. Day of week is
// shifted so that Sunday is 1.
var extractUnits = map[string]string{
	"minute-of-hour":  "MINUTE",
	"hour-of-day":     "HOUR",
	"day-of-week":     "DOW",
	"day-of-month":    "DAY",
	"day-of-year":     "DOY",
	"week-of-year":    "WEEK",
	"month-of-year":   "MONTH",
	"quarter-of-year": "QUARTER",
	"year":            "YEAR",
}

// intervalUnits maps interval units to a multiplier and base unit.
var intervalUnits = map[string]struct {
	n    int
	base string
}{
	"year":    {1, "year"},
	"quarter": {3, "month"},
	"month":   {1, "month"},
	"week":    {7, "day"},
	"day":     {1, "day"},
	"hour":    {1, "hour"},
	"minute":  {1, "minute"},
	"second":  {1, "second"},
}

// StandardTruncate renders DATE_TRUNC('unit', expr).
func StandardTruncate(d *Dialect, unit, expr string) (string, error) {
	u, ok := truncateUnits[unit]
	if !ok {
		return "", fmt.Errorf("unknown truncation unit %q", unit)
	}
	return fmt.Sprintf("DATE_TRUNC(%s, %s)", d.QuoteString(u), expr), nil
}

// StandardExtract renders CAST(EXTRACT(FIELD FROM expr) AS INTEGER).
func StandardExtract(_ *Dialect, unit, expr string) (string, error) {
	field, ok := extractUnits[unit]
	if !ok {
		return "", fmt.Errorf("unknown extraction unit %q", unit)
	}
	out := fmt.Sprintf("CAST(EXTRACT(%s FROM %s) AS INTEGER)", field, expr)
	if unit == "day-of-week" {
		out = "(" + out + " + 1)"
	}
	return out, nil
}

// StandardAddInterval renders (expr + (amount) * INTERVAL 'n unit').
func StandardAddInterval(d *Dialect, expr, amount, unit string) (string, error) {
	u, ok := intervalUnits[strings.ToLower(unit)]
	if !ok {
		return "", fmt.Errorf("unknown interval unit %q", unit)
	}
	return fmt.Sprintf("(%s + (%s) * INTERVAL %s)", expr, amount, d.QuoteString(fmt.Sprintf("%d %s", u.n, u.base))), nil
}

// OrderedSetPercentile renders PERCENTILE_CONT(p) WITHIN GROUP (ORDER BY expr).
func OrderedSetPercentile(_ *Dialect, expr string, p float64) (string, error) {
	return fmt.Sprintf("PERCENTILE_CONT(%s) WITHIN GROUP (ORDER BY %s)", FormatNumber(p), expr), nil
}

// IntervalUnit returns the multiplier and base unit for an interval unit.
func IntervalUnit(unit string) (int, string, bool) {
	u, ok := intervalUnits[strings.ToLower(unit)]
	return u.n, u.base, ok
}
