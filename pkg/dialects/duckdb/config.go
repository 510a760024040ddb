// Package duckdb provides the DuckDB SQL dialect definition.
// This package is pure Go with no database driver dependencies.
package duckdb

import (
	"github.com/leapstack-labs/leapquery/pkg/core"
	"github.com/leapstack-labs/leapquery/pkg/meta"
)

// Config is the DuckDB dialect configuration.
// This is pure data, shared by the adapter and the compiler.
var Config = &core.DialectConfig{
	Name:          "duckdb",
	DefaultSchema: "main",
	Placeholder:   core.PlaceholderQuestion,
	Identifiers: core.IdentifierConfig{
		Quote:         `"`,
		QuoteEnd:      `"`,
		Escape:        `""`,
		Normalization: core.NormCaseInsensitive,
	},
	Features: features(
		meta.FeatureStandardDeviation,
		meta.FeaturePercentile,
		meta.FeatureBinning,
		meta.FeatureExpressions,
		meta.FeatureLeftJoin,
		meta.FeatureRightJoin,
		meta.FeatureInnerJoin,
		meta.FeatureFullJoin,
		meta.FeatureNestedQueries,
		meta.FeatureRegex,
		meta.FeatureTemporalExtract,
	),
	Functions: map[string]string{
		"log":    "LOG10",
		"stddev": "STDDEV_SAMP",
		"var":    "VAR_SAMP",
		"least":  "LEAST",
	},
}

func features(fs ...meta.Feature) []string {
	out := make([]string, len(fs))
	for i, f := range fs {
		out[i] = string(f)
	}
	return out
}
