package query

import (
	"errors"
	"fmt"
)

// ErrInvalidClause is wrapped by every InvalidClauseError.
var ErrInvalidClause = errors.New("invalid clause")

// InvalidClauseError reports a clause that cannot be constructed, such as
// binning a text column.
type InvalidClauseError struct {
	Kind   ClauseKind
	Reason string
}

func (e *InvalidClauseError) Error() string {
	if e.Kind == "" {
		return fmt.Sprintf("invalid clause: %s", e.Reason)
	}
	return fmt.Sprintf("invalid %s clause: %s", e.Kind, e.Reason)
}

// Unwrap lets errors.Is match ErrInvalidClause.
func (e *InvalidClauseError) Unwrap() error { return ErrInvalidClause }

func invalid(kind ClauseKind, format string, args ...any) error {
	return &InvalidClauseError{Kind: kind, Reason: fmt.Sprintf(format, args...)}
}

// StageIndexError reports a stage index outside the pipeline.
type StageIndexError struct {
	Index  int
	Stages int
}

func (e *StageIndexError) Error() string {
	return fmt.Sprintf("stage index %d out of range (query has %d stages)", e.Index, e.Stages)
}

// ClauseIndexError reports a clause index outside a stage's clause list.
type ClauseIndexError struct {
	Kind  ClauseKind
	Index int
	Len   int
}

func (e *ClauseIndexError) Error() string {
	return fmt.Sprintf("%s index %d out of range (stage has %d)", e.Kind, e.Index, e.Len)
}

// WireError reports a malformed wire-form query.
type WireError struct {
	Path    string
	Message string
}

func (e *WireError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("malformed query: %s", e.Message)
	}
	return fmt.Sprintf("malformed query at %s: %s", e.Path, e.Message)
}
