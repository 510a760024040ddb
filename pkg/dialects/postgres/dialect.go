package postgres

import (
	"fmt"

	"github.com/leapstack-labs/leapquery/pkg/dialect"
)

func init() {
	dialect.Register(Postgres)
}

// Postgres is the PostgreSQL dialect.
var Postgres = dialect.New(Config).
	Percentile(dialect.OrderedSetPercentile).
	Regex(regexExtract).
	Build()

// regexExtract uses SUBSTRING ... FROM, which returns the first match or
// the first parenthesized group.
func regexExtract(_ *dialect.Dialect, expr, pattern string) (string, error) {
	return fmt.Sprintf("SUBSTRING(%s FROM %s)", expr, pattern), nil
}
