// Package dialect provides the SQL spelling the query compiler renders with.
//
// A Dialect bundles static configuration (quoting, placeholders, declared
// features, function names) with rendering hooks for the constructs that
// differ between engines: temporal truncation and extraction, interval
// arithmetic, percentiles and regular expressions. Concrete dialects are
// registered from pkg/dialects/*/ packages.
package dialect

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/leapstack-labs/leapquery/pkg/core"
)

// ErrUnsupported is returned by hooks for constructs the engine lacks.
var ErrUnsupported = errors.New("not supported by dialect")

// UnsupportedError names the construct a dialect cannot render.
type UnsupportedError struct {
	Dialect   string
	Construct string
}

func (e *UnsupportedError) Error() string {
	return fmt.Sprintf("%s is not supported by the %s dialect", e.Construct, e.Dialect)
}

// Unwrap lets errors.Is match ErrUnsupported.
func (e *UnsupportedError) Unwrap() error { return ErrUnsupported }

// Hook signatures. Units use the wire names ("month", "day-of-week").
type (
	// TemporalFunc renders expr truncated to, or extracted as, unit.
	TemporalFunc func(d *Dialect, unit, expr string) (string, error)
	// IntervalFunc renders expr shifted by amount units.
	IntervalFunc func(d *Dialect, expr, amount, unit string) (string, error)
	// PercentileFunc renders the continuous percentile p of expr.
	PercentileFunc func(d *Dialect, expr string, p float64) (string, error)
	// RegexFunc renders the first match of pattern in expr.
	RegexFunc func(d *Dialect, expr, pattern string) (string, error)
)

// Dialect represents a SQL dialect configuration.
type Dialect struct {
	Name        string
	Identifiers core.IdentifierConfig

	// Database-specific settings
	DefaultSchema string                // Default schema name ("main" for DuckDB, "public" for Postgres)
	Placeholder   core.PlaceholderStyle // How to format query parameters

	features  []string
	functions map[string]string

	truncate   TemporalFunc
	extract    TemporalFunc
	addition   IntervalFunc
	percentile PercentileFunc
	regex      RegexFunc
}

// Config returns the pure data configuration for this dialect.
func (d *Dialect) Config() *core.DialectConfig {
	functions := make(map[string]string, len(d.functions))
	for k, v := range d.functions {
		functions[k] = v
	}
	return &core.DialectConfig{
		Name:          d.Name,
		Identifiers:   d.Identifiers,
		DefaultSchema: d.DefaultSchema,
		Placeholder:   d.Placeholder,
		Features:      append([]string(nil), d.features...),
		Functions:     functions,
	}
}

// Features returns the query features the engine supports.
func (d *Dialect) Features() []string {
	return append([]string(nil), d.features...)
}

// NormalizeName normalizes an identifier according to the dialect's rules.
func (d *Dialect) NormalizeName(name string) string {
	switch d.Identifiers.Normalization {
	case core.NormUppercase:
		return strings.ToUpper(name)
	case core.NormLowercase, core.NormCaseInsensitive:
		return strings.ToLower(name)
	default: // NormCaseSensitive
		return name
	}
}

// FormatPlaceholder returns a placeholder for the given parameter index (1-based).
func (d *Dialect) FormatPlaceholder(index int) string {
	switch d.Placeholder {
	case core.PlaceholderDollar:
		return "$" + strconv.Itoa(index)
	default: // PlaceholderQuestion
		return "?"
	}
}

// QuoteIdentifier quotes an identifier using the dialect's quote characters.
func (d *Dialect) QuoteIdentifier(name string) string {
	// Escape any existing quote end characters in the name (e.g., ] -> ]])
	escaped := strings.ReplaceAll(name, d.Identifiers.QuoteEnd, d.Identifiers.Escape)
	return d.Identifiers.Quote + escaped + d.Identifiers.QuoteEnd
}

// QuoteQualified quotes each part of a dotted name, skipping empty parts.
func (d *Dialect) QuoteQualified(parts ...string) string {
	quoted := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			quoted = append(quoted, d.QuoteIdentifier(p))
		}
	}
	return strings.Join(quoted, ".")
}

// QuoteString renders a string literal.
func (d *Dialect) QuoteString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// FunctionName returns the SQL function for a formula operator, falling
// back to the upper-cased operator.
func (d *Dialect) FunctionName(op string) string {
	if name, ok := d.functions[op]; ok {
		return name
	}
	return strings.ToUpper(op)
}

// TruncateTemporal renders expr truncated to unit.
func (d *Dialect) TruncateTemporal(unit, expr string) (string, error) {
	if d.truncate == nil {
		return "", d.unsupported("temporal truncation")
	}
	return d.truncate(d, unit, expr)
}

// ExtractTemporal renders the unit component of expr as an integer.
func (d *Dialect) ExtractTemporal(unit, expr string) (string, error) {
	if d.extract == nil {
		return "", d.unsupported("temporal extraction")
	}
	return d.extract(d, unit, expr)
}

// AddInterval renders expr plus amount units; amount may be negative.
func (d *Dialect) AddInterval(expr, amount, unit string) (string, error) {
	if d.addition == nil {
		return "", d.unsupported("interval arithmetic")
	}
	return d.addition(d, expr, amount, unit)
}

// Percentile renders the continuous percentile p of expr.
func (d *Dialect) Percentile(expr string, p float64) (string, error) {
	if d.percentile == nil {
		return "", d.unsupported("percentile aggregation")
	}
	return d.percentile(d, expr, p)
}

// RegexExtract renders the first match of pattern in expr.
func (d *Dialect) RegexExtract(expr, pattern string) (string, error) {
	if d.regex == nil {
		return "", d.unsupported("regular expressions")
	}
	return d.regex(d, expr, pattern)
}

func (d *Dialect) unsupported(construct string) error {
	return &UnsupportedError{Dialect: d.Name, Construct: construct}
}

// Builder assembles a Dialect.
type Builder struct {
	dialect *Dialect
}

// New creates a dialect builder from a DialectConfig. Hooks default to the
// standard SQL renderings; dialects override what they spell differently.
func New(cfg *core.DialectConfig) *Builder {
	functions := make(map[string]string, len(cfg.Functions))
	for k, v := range cfg.Functions {
		functions[k] = v
	}
	return &Builder{dialect: &Dialect{
		Name:          cfg.Name,
		Identifiers:   cfg.Identifiers,
		DefaultSchema: cfg.DefaultSchema,
		Placeholder:   cfg.Placeholder,
		features:      append([]string(nil), cfg.Features...),
		functions:     functions,
		truncate:      StandardTruncate,
		extract:       StandardExtract,
		addition:      StandardAddInterval,
	}}
}

// Truncate sets the temporal truncation hook.
func (b *Builder) Truncate(fn TemporalFunc) *Builder {
	b.dialect.truncate = fn
	return b
}

// Extract sets the temporal extraction hook.
func (b *Builder) Extract(fn TemporalFunc) *Builder {
	b.dialect.extract = fn
	return b
}

// AddInterval sets the interval arithmetic hook.
func (b *Builder) AddInterval(fn IntervalFunc) *Builder {
	b.dialect.addition = fn
	return b
}

// Percentile sets the percentile hook; nil leaves percentiles unsupported.
func (b *Builder) Percentile(fn PercentileFunc) *Builder {
	b.dialect.percentile = fn
	return b
}

// Regex sets the regex extraction hook; nil leaves regexes unsupported.
func (b *Builder) Regex(fn RegexFunc) *Builder {
	b.dialect.regex = fn
	return b
}

// Build returns the configured dialect.
func (b *Builder) Build() *Dialect {
	return b.dialect
}
