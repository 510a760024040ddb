package meta

import "strings"

// BaseType is the storage-level type of a column (e.g. "type/Integer").
type BaseType string

// Base types understood by the query library.
const (
	TypeInteger    BaseType = "type/Integer"
	TypeBigInteger BaseType = "type/BigInteger"
	TypeFloat      BaseType = "type/Float"
	TypeDecimal    BaseType = "type/Decimal"
	TypeText       BaseType = "type/Text"
	TypeBoolean    BaseType = "type/Boolean"
	TypeDate       BaseType = "type/Date"
	TypeDateTime   BaseType = "type/DateTime"
	TypeTime       BaseType = "type/Time"
	TypeUnknown    BaseType = "type/*"
)

// SemanticType refines a base type with meaning (coordinates, keys).
type SemanticType string

// Semantic types that change how columns are bucketed or joined.
const (
	SemanticNone      SemanticType = ""
	SemanticPK        SemanticType = "type/PK"
	SemanticFK        SemanticType = "type/FK"
	SemanticLatitude  SemanticType = "type/Latitude"
	SemanticLongitude SemanticType = "type/Longitude"
	SemanticCategory  SemanticType = "type/Category"
)

// IsNumeric reports whether values of this type can be binned.
func (t BaseType) IsNumeric() bool {
	switch t {
	case TypeInteger, TypeBigInteger, TypeFloat, TypeDecimal:
		return true
	}
	return false
}

// IsTemporal reports whether values of this type can be temporally bucketed.
func (t BaseType) IsTemporal() bool {
	switch t {
	case TypeDate, TypeDateTime, TypeTime:
		return true
	}
	return false
}

// IsText reports whether the type holds strings.
func (t BaseType) IsText() bool {
	return t == TypeText
}

// IsCoordinate reports whether the semantic type is a latitude or longitude.
func (s SemanticType) IsCoordinate() bool {
	return s == SemanticLatitude || s == SemanticLongitude
}

// ParseBaseType maps a database type name to a BaseType.
// Names already in "type/..." form are returned unchanged.
func ParseBaseType(dbType string) BaseType {
	if strings.HasPrefix(dbType, "type/") {
		return BaseType(dbType)
	}
	t := strings.ToUpper(strings.TrimSpace(dbType))
	if i := strings.IndexByte(t, '('); i >= 0 {
		t = t[:i]
	}
	switch t {
	case "TINYINT", "SMALLINT", "INTEGER", "INT", "INT2", "INT4", "UTINYINT", "USMALLINT", "UINTEGER":
		return TypeInteger
	case "BIGINT", "INT8", "HUGEINT", "UBIGINT", "LONG":
		return TypeBigInteger
	case "REAL", "FLOAT", "FLOAT4", "FLOAT8", "DOUBLE", "DOUBLE PRECISION":
		return TypeFloat
	case "DECIMAL", "NUMERIC":
		return TypeDecimal
	case "VARCHAR", "TEXT", "CHAR", "CHARACTER VARYING", "CHARACTER", "STRING", "UUID", "BPCHAR":
		return TypeText
	case "BOOLEAN", "BOOL":
		return TypeBoolean
	case "DATE":
		return TypeDate
	case "TIMESTAMP", "DATETIME", "TIMESTAMPTZ", "TIMESTAMP WITH TIME ZONE", "TIMESTAMP WITHOUT TIME ZONE":
		return TypeDateTime
	case "TIME", "TIME WITHOUT TIME ZONE", "TIMETZ":
		return TypeTime
	}
	return TypeUnknown
}
