package duckdb

import (
	"fmt"

	"github.com/leapstack-labs/leapquery/pkg/dialect"
)

func init() {
	dialect.Register(DuckDB)
}

// DuckDB is the DuckDB dialect. Temporal functions use the standard
// DATE_TRUNC and EXTRACT spellings.
var DuckDB = dialect.New(Config).
	Percentile(quantile).
	Regex(regexExtract).
	Build()

func quantile(_ *dialect.Dialect, expr string, p float64) (string, error) {
	if p == 0.5 {
		return fmt.Sprintf("MEDIAN(%s)", expr), nil
	}
	return fmt.Sprintf("QUANTILE_CONT(%s, %s)", expr, dialect.FormatNumber(p)), nil
}

func regexExtract(_ *dialect.Dialect, expr, pattern string) (string, error) {
	return fmt.Sprintf("REGEXP_EXTRACT(%s, %s)", expr, pattern), nil
}
