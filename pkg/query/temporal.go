package query

import (
	"github.com/leapstack-labs/leapquery/pkg/meta"
)

// TemporalUnit is a temporal bucketing unit.
type TemporalUnit string

// Truncation units.
const (
	UnitMinute  TemporalUnit = "minute"
	UnitHour    TemporalUnit = "hour"
	UnitDay     TemporalUnit = "day"
	UnitWeek    TemporalUnit = "week"
	UnitMonth   TemporalUnit = "month"
	UnitQuarter TemporalUnit = "quarter"
	UnitYear    TemporalUnit = "year"
)

// Extraction units.
const (
	UnitMinuteOfHour  TemporalUnit = "minute-of-hour"
	UnitHourOfDay     TemporalUnit = "hour-of-day"
	UnitDayOfWeek     TemporalUnit = "day-of-week"
	UnitDayOfMonth    TemporalUnit = "day-of-month"
	UnitDayOfYear     TemporalUnit = "day-of-year"
	UnitWeekOfYear    TemporalUnit = "week-of-year"
	UnitMonthOfYear   TemporalUnit = "month-of-year"
	UnitQuarterOfYear TemporalUnit = "quarter-of-year"
)

// IsExtraction reports whether the unit extracts a number from the value
// instead of truncating it.
func (u TemporalUnit) IsExtraction() bool {
	switch u {
	case UnitMinuteOfHour, UnitHourOfDay, UnitDayOfWeek, UnitDayOfMonth,
		UnitDayOfYear, UnitWeekOfYear, UnitMonthOfYear, UnitQuarterOfYear:
		return true
	}
	return false
}

// TemporalBucket is a catalog entry returned by AvailableTemporalBuckets.
type TemporalBucket struct {
	Unit TemporalUnit
	// Default marks the unit the UI preselects.
	Default bool
	// Selected marks the unit the column is currently annotated with.
	Selected bool
}

var (
	dateTimeUnits = []TemporalUnit{
		UnitMinute, UnitHour, UnitDay, UnitWeek, UnitMonth, UnitQuarter, UnitYear,
		UnitMinuteOfHour, UnitHourOfDay, UnitDayOfWeek, UnitDayOfMonth, UnitDayOfYear,
		UnitWeekOfYear, UnitMonthOfYear, UnitQuarterOfYear,
	}
	dateUnits = []TemporalUnit{
		UnitDay, UnitWeek, UnitMonth, UnitQuarter, UnitYear,
		UnitDayOfWeek, UnitDayOfMonth, UnitDayOfYear,
		UnitWeekOfYear, UnitMonthOfYear, UnitQuarterOfYear,
	}
	timeUnits = []TemporalUnit{
		UnitMinute, UnitHour, UnitMinuteOfHour, UnitHourOfDay,
	}
)

func unitsFor(t meta.BaseType) []TemporalUnit {
	switch t {
	case meta.TypeDateTime:
		return dateTimeUnits
	case meta.TypeDate:
		return dateUnits
	case meta.TypeTime:
		return timeUnits
	}
	return nil
}

// DefaultTemporalUnit returns the unit preselected for a column type.
func DefaultTemporalUnit(t meta.BaseType) TemporalUnit {
	if t == meta.TypeTime {
		return UnitHour
	}
	return UnitDay
}

// AvailableTemporalBuckets returns the units valid for col in the given
// stage. Extraction units require the temporal-extract feature.
func AvailableTemporalBuckets(q *Query, stageIndex int, col Column) ([]TemporalBucket, error) {
	if _, err := q.stageAt(stageIndex); err != nil {
		return nil, err
	}
	if col.source == SourceAggregation {
		return nil, nil
	}
	units := unitsFor(col.baseType)
	if len(units) == 0 {
		return nil, nil
	}
	extract := q.features().Has(meta.FeatureTemporalExtract)
	def := DefaultTemporalUnit(col.baseType)

	out := make([]TemporalBucket, 0, len(units))
	for _, u := range units {
		if u.IsExtraction() && !extract {
			continue
		}
		out = append(out, TemporalBucket{
			Unit:     u,
			Default:  u == def,
			Selected: col.unit != nil && *col.unit == u,
		})
	}
	return out, nil
}

func validateTemporalUnit(col Column, u TemporalUnit) error {
	units := unitsFor(col.baseType)
	if len(units) == 0 {
		return invalid(ClauseBreakout, "cannot bucket non-temporal column of type %s", col.baseType)
	}
	if col.source == SourceAggregation {
		return invalid(ClauseBreakout, "cannot bucket an aggregation result")
	}
	for _, v := range units {
		if v == u {
			return nil
		}
	}
	return invalid(ClauseBreakout, "temporal unit %q is not valid for %s", u, col.baseType)
}
