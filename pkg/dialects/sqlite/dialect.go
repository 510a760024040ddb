// Package sqlite provides the SQLite SQL dialect definition.
//
// SQLite has no DATE_TRUNC, EXTRACT or INTERVAL type; temporal bucketing
// goes through strftime and date modifiers instead. Percentiles and
// regular expressions are not available.
package sqlite

import (
	"fmt"

	"github.com/leapstack-labs/leapquery/pkg/core"
	"github.com/leapstack-labs/leapquery/pkg/dialect"
	"github.com/leapstack-labs/leapquery/pkg/meta"
)

func init() {
	dialect.Register(SQLite)
}

// Config is the SQLite dialect configuration.
var Config = &core.DialectConfig{
	Name:          "sqlite",
	DefaultSchema: "main",
	Placeholder:   core.PlaceholderQuestion,
	Identifiers: core.IdentifierConfig{
		Quote:         `"`,
		QuoteEnd:      `"`,
		Escape:        `""`,
		Normalization: core.NormCaseInsensitive,
	},
	Features: []string{
		string(meta.FeatureBinning),
		string(meta.FeatureExpressions),
		string(meta.FeatureLeftJoin),
		string(meta.FeatureRightJoin),
		string(meta.FeatureInnerJoin),
		string(meta.FeatureFullJoin),
		string(meta.FeatureNestedQueries),
		string(meta.FeatureTemporalExtract),
	},
	Functions: map[string]string{
		"log":       "LOG10",
		"substring": "SUBSTR",
		"least":     "MIN",
	},
}

// SQLite is the SQLite dialect.
var SQLite = dialect.New(Config).
	Truncate(truncate).
	Extract(extract).
	AddInterval(addInterval).
	Build()

var truncateFormats = map[string]string{
	"minute": "%Y-%m-%d %H:%M:00",
	"hour":   "%Y-%m-%d %H:00:00",
	"month":  "%Y-%m-01",
	"year":   "%Y-01-01",
}

func truncate(_ *dialect.Dialect, unit, expr string) (string, error) {
	if f, ok := truncateFormats[unit]; ok {
		return fmt.Sprintf("strftime('%s', %s)", f, expr), nil
	}
	switch unit {
	case "day":
		return fmt.Sprintf("date(%s)", expr), nil
	case "week":
		// Weeks start on Sunday.
		return fmt.Sprintf("date(%s, '-6 days', 'weekday 0')", expr), nil
	case "quarter":
		return fmt.Sprintf("date(%s, 'start of month', '-' || ((CAST(strftime('%%m', %s) AS INTEGER) - 1) %% 3) || ' months')", expr, expr), nil
	}
	return "", fmt.Errorf("unknown truncation unit %q", unit)
}

var extractFormats = map[string]string{
	"minute-of-hour": "%M",
	"hour-of-day":    "%H",
	"day-of-month":   "%d",
	"day-of-year":    "%j",
	"week-of-year":   "%W",
	"month-of-year":  "%m",
	"year":           "%Y",
}

func extract(_ *dialect.Dialect, unit, expr string) (string, error) {
	if f, ok := extractFormats[unit]; ok {
		return fmt.Sprintf("CAST(strftime('%s', %s) AS INTEGER)", f, expr), nil
	}
	switch unit {
	case "day-of-week":
		return fmt.Sprintf("(CAST(strftime('%%w', %s) AS INTEGER) + 1)", expr), nil
	case "quarter-of-year":
		return fmt.Sprintf("((CAST(strftime('%%m', %s) AS INTEGER) + 2) / 3)", expr), nil
	}
	return "", fmt.Errorf("unknown extraction unit %q", unit)
}

func addInterval(_ *dialect.Dialect, expr, amount, unit string) (string, error) {
	n, base, ok := dialect.IntervalUnit(unit)
	if !ok {
		return "", fmt.Errorf("unknown interval unit %q", unit)
	}
	if n != 1 {
		amount = fmt.Sprintf("(%s) * %d", amount, n)
	}
	return fmt.Sprintf("datetime(%s, (%s) || ' %ss')", expr, amount, base), nil
}
