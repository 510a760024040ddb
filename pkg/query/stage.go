package query

// Stage is one step of the pipeline. Stages are never modified after
// construction; builders copy the stage and the clause list they touch.
type Stage struct {
	source       Source
	joins        []Join
	expressions  []NamedExpression
	filters      []Filter
	aggregations []Aggregation
	breakouts    []Breakout
	orderBys     []OrderBy
	limit        int
}

func (s *Stage) clone() *Stage {
	c := *s
	return &c
}

func (s *Stage) isEmpty() bool {
	return len(s.joins) == 0 && len(s.expressions) == 0 && len(s.filters) == 0 &&
		len(s.aggregations) == 0 && len(s.breakouts) == 0 && len(s.orderBys) == 0 &&
		s.limit == 0
}

// aggregated reports whether the stage groups rows.
func (s *Stage) aggregated() bool {
	return len(s.aggregations) > 0 || len(s.breakouts) > 0
}

// appendCopy returns a new slice with v appended, leaving xs untouched.
func appendCopy[T any](xs []T, v T) []T {
	out := make([]T, len(xs), len(xs)+1)
	copy(out, xs)
	return append(out, v)
}

// removeAt returns a new slice without element i; nil when it becomes empty.
func removeAt[T any](xs []T, i int) []T {
	if len(xs) == 1 {
		return nil
	}
	out := make([]T, 0, len(xs)-1)
	out = append(out, xs[:i]...)
	return append(out, xs[i+1:]...)
}

// replaceAt returns a new slice with element i replaced.
func replaceAt[T any](xs []T, i int, v T) []T {
	out := make([]T, len(xs))
	copy(out, xs)
	out[i] = v
	return out
}
