package query

import (
	"fmt"

	"github.com/leapstack-labs/leapquery/pkg/meta"
)

// ColumnSource tells where a Column comes from.
type ColumnSource int

// Column sources.
const (
	// SourceTableField is a field of the stage-0 source table.
	SourceTableField ColumnSource = iota + 1
	// SourceImplicitField is a field reached through a foreign key of the source table.
	SourceImplicitField
	// SourceJoinedField is a field of an explicitly joined table.
	SourceJoinedField
	// SourceCardColumn is a result column of a saved card used as source.
	SourceCardColumn
	// SourcePreviousStage is a column returned by the previous stage.
	SourcePreviousStage
	// SourceExpression is a custom expression of the current stage.
	SourceExpression
	// SourceAggregation is the result of an aggregation of the current stage.
	SourceAggregation
)

func (s ColumnSource) String() string {
	switch s {
	case SourceTableField:
		return "table"
	case SourceImplicitField:
		return "implicitly-joinable"
	case SourceJoinedField:
		return "joined"
	case SourceCardColumn:
		return "card"
	case SourcePreviousStage:
		return "previous-stage"
	case SourceExpression:
		return "expression"
	case SourceAggregation:
		return "aggregation"
	default:
		return "unknown"
	}
}

// Column is an opaque handle over a field, expression, aggregation result
// or previous-stage column, optionally annotated with a binning strategy
// or a temporal unit. Columns are values; annotating one returns a copy.
type Column struct {
	source       ColumnSource
	fieldID      int64
	fkFieldID    int64
	joinAlias    string
	name         string
	aggIndex     int
	baseType     meta.BaseType
	semanticType meta.SemanticType
	binning      *Binning
	unit         *TemporalUnit
}

func (Column) exprNode() {}

// Source returns where the column comes from.
func (c Column) Source() ColumnSource { return c.source }

// FieldID returns the physical field id, or 0 for name-based columns.
func (c Column) FieldID() int64 { return c.fieldID }

// FKFieldID returns the foreign key used to reach an implicitly joinable field.
func (c Column) FKFieldID() int64 { return c.fkFieldID }

// JoinAlias returns the join alias of a joined field.
func (c Column) JoinAlias() string { return c.joinAlias }

// Name returns the reference name of name-based columns
// (expressions, previous-stage and card columns).
func (c Column) Name() string { return c.name }

// AggregationIndex returns the aggregation position for aggregation columns.
func (c Column) AggregationIndex() int { return c.aggIndex }

// BaseType returns the column's base type.
func (c Column) BaseType() meta.BaseType { return c.baseType }

// SemanticType returns the column's semantic type.
func (c Column) SemanticType() meta.SemanticType { return c.semanticType }

// Binning returns a copy of the binning annotation, or nil.
func (c Column) Binning() *Binning {
	if c.binning == nil {
		return nil
	}
	b := *c.binning
	return &b
}

// TemporalUnit returns the temporal bucket annotation if any.
func (c Column) TemporalUnit() (TemporalUnit, bool) {
	if c.unit == nil {
		return "", false
	}
	return *c.unit, true
}

// IsNumeric reports whether the column can be binned.
func (c Column) IsNumeric() bool { return c.baseType.IsNumeric() }

// IsTemporal reports whether the column can be temporally bucketed.
func (c Column) IsTemporal() bool { return c.baseType.IsTemporal() }

// key identifies the underlying column, ignoring annotations.
func (c Column) key() string {
	switch c.source {
	case SourceTableField:
		return fmt.Sprintf("field:%d", c.fieldID)
	case SourceImplicitField:
		return fmt.Sprintf("fk:%d:%d", c.fkFieldID, c.fieldID)
	case SourceJoinedField:
		if c.fieldID != 0 {
			return fmt.Sprintf("join:%s:%d", c.joinAlias, c.fieldID)
		}
		return fmt.Sprintf("join:%s:%s", c.joinAlias, c.name)
	case SourceCardColumn:
		return "card:" + c.name
	case SourcePreviousStage:
		return "prev:" + c.name
	case SourceExpression:
		return "expr:" + c.name
	case SourceAggregation:
		return fmt.Sprintf("agg:%d", c.aggIndex)
	}
	return "?"
}

// SameColumn reports whether both handles point at the same underlying
// column, ignoring binning and temporal annotations.
func (c Column) SameColumn(o Column) bool {
	return c.key() == o.key()
}

// Equal reports whether both handles are the same column with the same
// annotations.
func (c Column) Equal(o Column) bool {
	if c.key() != o.key() {
		return false
	}
	switch {
	case (c.binning == nil) != (o.binning == nil):
		return false
	case c.binning != nil && *c.binning != *o.binning:
		return false
	case (c.unit == nil) != (o.unit == nil):
		return false
	case c.unit != nil && *c.unit != *o.unit:
		return false
	}
	return true
}

// stripped returns the column without annotations.
func (c Column) stripped() Column {
	c.binning = nil
	c.unit = nil
	return c
}

// WithBinning returns a copy of col annotated with strategy, or with the
// binning annotation cleared when strategy is nil ("Don't bin").
// Only numeric columns accept a strategy.
func WithBinning(col Column, strategy *BinningStrategy) (Column, error) {
	if strategy == nil {
		col.binning = nil
		return col, nil
	}
	b := strategy.Binning
	if err := validateBinning(col, b); err != nil {
		return Column{}, err
	}
	col.binning = &b
	col.unit = nil
	return col, nil
}

// WithTemporalBucket returns a copy of col annotated with bucket, or with the
// temporal annotation cleared when bucket is nil ("Don't bin").
// Only temporal columns accept a bucket, and the unit must suit the type.
func WithTemporalBucket(col Column, bucket *TemporalBucket) (Column, error) {
	if bucket == nil {
		col.unit = nil
		return col, nil
	}
	if err := validateTemporalUnit(col, bucket.Unit); err != nil {
		return Column{}, err
	}
	u := bucket.Unit
	col.unit = &u
	col.binning = nil
	return col, nil
}

// FieldColumn builds a handle for a physical field of the stage-0 source.
// It fails with a meta.NotFoundError when the field is unknown.
func FieldColumn(p meta.Provider, fieldID int64) (Column, error) {
	f, err := p.LookupField(fieldID)
	if err != nil {
		return Column{}, err
	}
	return fieldColumn(f), nil
}

func fieldColumn(f *meta.Field) Column {
	return Column{
		source:       SourceTableField,
		fieldID:      f.ID,
		baseType:     f.BaseType,
		semanticType: f.SemanticType,
	}
}

func implicitColumn(fk *meta.Field, f *meta.Field) Column {
	c := fieldColumn(f)
	c.source = SourceImplicitField
	c.fkFieldID = fk.ID
	return c
}

func joinedColumn(alias string, f *meta.Field) Column {
	c := fieldColumn(f)
	c.source = SourceJoinedField
	c.joinAlias = alias
	return c
}

func joinedCardColumn(alias string, cc meta.CardColumn) Column {
	return Column{
		source:       SourceJoinedField,
		joinAlias:    alias,
		name:         cc.Name,
		baseType:     cc.BaseType,
		semanticType: cc.SemanticType,
	}
}

func cardColumn(cc meta.CardColumn) Column {
	return Column{
		source:       SourceCardColumn,
		name:         cc.Name,
		baseType:     cc.BaseType,
		semanticType: cc.SemanticType,
	}
}

func previousStageColumn(name string, t meta.BaseType, st meta.SemanticType) Column {
	return Column{
		source:       SourcePreviousStage,
		name:         name,
		baseType:     t,
		semanticType: st,
	}
}

func expressionColumn(name string, t meta.BaseType) Column {
	return Column{source: SourceExpression, name: name, baseType: t}
}

func aggregationColumn(index int, t meta.BaseType) Column {
	return Column{source: SourceAggregation, aggIndex: index, baseType: t}
}
