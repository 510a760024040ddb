// Package meta provides read-only lookup of databases, tables, fields and
// their capabilities for the query library.
//
// A Provider is never mutated by its consumers. Snapshot is the in-memory
// implementation; it is built once from a SnapshotSpec and shared freely
// between goroutines.
package meta

import (
	"errors"
	"fmt"
	"sort"
)

// ErrNotFound is the sentinel wrapped by every NotFoundError.
var ErrNotFound = errors.New("not found")

// NotFoundError is returned when a table, field or card id is unknown.
// Callers building clauses treat it as a data-integrity failure.
type NotFoundError struct {
	Kind string
	ID   int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %d not found", e.Kind, e.ID)
}

// Unwrap lets errors.Is match ErrNotFound.
func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}

// Feature is a capability flag declared by a database.
type Feature string

// Database features consulted by the operator and bucket catalogs.
const (
	FeatureStandardDeviation Feature = "standard-deviation-aggregations"
	FeaturePercentile        Feature = "percentile-aggregations"
	FeatureBinning           Feature = "binning"
	FeatureExpressions       Feature = "expressions"
	FeatureLeftJoin          Feature = "left-join"
	FeatureRightJoin         Feature = "right-join"
	FeatureInnerJoin         Feature = "inner-join"
	FeatureFullJoin          Feature = "full-join"
	FeatureNestedQueries     Feature = "nested-queries"
	FeatureRegex             Feature = "regex"
	FeatureTemporalExtract   Feature = "temporal-extract"
)

// AllFeatures returns every feature known to the library.
func AllFeatures() []Feature {
	return []Feature{
		FeatureStandardDeviation,
		FeaturePercentile,
		FeatureBinning,
		FeatureExpressions,
		FeatureLeftJoin,
		FeatureRightJoin,
		FeatureInnerJoin,
		FeatureFullJoin,
		FeatureNestedQueries,
		FeatureRegex,
		FeatureTemporalExtract,
	}
}

// FeatureSet is an immutable set of features.
type FeatureSet struct {
	m map[Feature]struct{}
}

// NewFeatureSet builds a set from the given features.
func NewFeatureSet(features ...Feature) FeatureSet {
	m := make(map[Feature]struct{}, len(features))
	for _, f := range features {
		m[f] = struct{}{}
	}
	return FeatureSet{m: m}
}

// Has reports whether the set contains f.
func (s FeatureSet) Has(f Feature) bool {
	_, ok := s.m[f]
	return ok
}

// HasAll reports whether every feature in fs is present.
func (s FeatureSet) HasAll(fs ...Feature) bool {
	for _, f := range fs {
		if !s.Has(f) {
			return false
		}
	}
	return true
}

// List returns the features sorted by name.
func (s FeatureSet) List() []Feature {
	out := make([]Feature, 0, len(s.m))
	for f := range s.m {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Database describes the database a query runs against.
type Database struct {
	ID     int64
	Name   string
	Engine string
}

// Table is a physical table.
type Table struct {
	ID          int64
	Schema      string
	Name        string
	DisplayName string
}

// Field is a physical column of a table.
type Field struct {
	ID           int64
	TableID      int64
	Name         string
	DisplayName  string
	BaseType     BaseType
	SemanticType SemanticType
	Position     int
	// FKTargetID is the id of the field this foreign key points at, or 0.
	FKTargetID int64
}

// Card is a saved question usable as a query source ("card__<id>").
type Card struct {
	ID      int64
	Name    string
	Columns []CardColumn
}

// CardColumn is one result column of a Card.
type CardColumn struct {
	Name         string
	DisplayName  string
	BaseType     BaseType
	SemanticType SemanticType
}

// Provider is the read-only metadata contract consumed by the query library.
// Returned pointers are shared and must not be modified.
type Provider interface {
	Database() Database
	DatabaseFeatures() FeatureSet
	LookupTable(id int64) (*Table, error)
	LookupField(id int64) (*Field, error)
	LookupCard(id int64) (*Card, error)
	Tables() []*Table
	TableFields(tableID int64) ([]*Field, error)
}
