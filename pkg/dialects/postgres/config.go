// Package postgres provides the PostgreSQL SQL dialect definition.
// This package is pure Go with no database driver dependencies.
package postgres

import (
	"github.com/leapstack-labs/leapquery/pkg/core"
	"github.com/leapstack-labs/leapquery/pkg/meta"
)

// Config is the PostgreSQL dialect configuration.
var Config = &core.DialectConfig{
	Name:          "postgres",
	DefaultSchema: "public",
	Placeholder:   core.PlaceholderDollar,
	Identifiers: core.IdentifierConfig{
		Quote:         `"`,
		QuoteEnd:      `"`,
		Escape:        `""`,
		Normalization: core.NormLowercase, // Postgres normalizes unquoted to lowercase
	},
	Features: []string{
		string(meta.FeatureStandardDeviation),
		string(meta.FeaturePercentile),
		string(meta.FeatureBinning),
		string(meta.FeatureExpressions),
		string(meta.FeatureLeftJoin),
		string(meta.FeatureRightJoin),
		string(meta.FeatureInnerJoin),
		string(meta.FeatureFullJoin),
		string(meta.FeatureNestedQueries),
		string(meta.FeatureRegex),
		string(meta.FeatureTemporalExtract),
	},
	Functions: map[string]string{
		"log":    "LOG",
		"stddev": "STDDEV_SAMP",
		"var":    "VAR_SAMP",
		"least":  "LEAST",
	},
}
