// Package state persists saved questions in SQLite.
//
// A saved question stores a query in its wire form together with the
// columns it returns, so it can be offered as a card source
// ("card__<id>") and compiled as a subquery of other questions.
package state

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/leapstack-labs/leapquery/pkg/meta"
)

var (
	// ErrNotFound is returned when no question matches a lookup.
	ErrNotFound = errors.New("question not found")

	// ErrNotOpened is returned when the store is used before Open.
	ErrNotOpened = errors.New("database not opened")

	// ErrCardCycle is returned when saved questions reference each other in a loop.
	ErrCardCycle = errors.New("saved questions reference each other")
)

// Question is a saved query.
type Question struct {
	// ID is a stable uuid.
	ID string
	// CardID is the numeric id used by card sources.
	CardID      int64
	Name        string
	Description string
	DatabaseID  int64
	// Query is the wire JSON of the query.
	Query     json.RawMessage
	Columns   []meta.CardColumnSpec
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Card returns the question as a metadata card.
func (q *Question) Card() meta.CardSpec {
	return meta.CardSpec{ID: q.CardID, Name: q.Name, Columns: q.Columns}
}

// generateID creates a new UUID.
func generateID() string {
	return uuid.New().String()
}
