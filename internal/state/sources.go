package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"

	"github.com/leapstack-labs/leapquery/internal/dag"
	"github.com/leapstack-labs/leapquery/pkg/query"
)

// cardSources returns the cards q reads from: the source of its first
// stage and the targets of joins in any stage.
func cardSources(q *query.Query) []int64 {
	var ids []int64
	if src := q.Source(); src.IsCard() {
		ids = append(ids, src.CardID)
	}
	for i := range q.StageCount() {
		joins, err := query.Joins(q, i)
		if err != nil {
			continue
		}
		for _, j := range joins {
			if j.Source.IsCard() {
				ids = append(ids, j.Source.CardID)
			}
		}
	}
	slices.Sort(ids)
	return slices.Compact(ids)
}

func writeSources(ctx context.Context, tx *sql.Tx, cardID int64, sources []int64) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM question_sources WHERE card_id = ?`, cardID); err != nil {
		return fmt.Errorf("failed to clear question sources: %w", err)
	}
	for _, src := range sources {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO question_sources (card_id, source_card_id) VALUES (?, ?)`, cardID, src); err != nil {
			return fmt.Errorf("failed to record question source: %w", err)
		}
	}
	return nil
}

// CardGraph returns the dependency graph of saved questions, keyed by card
// id. Cards of the metadata snapshot appear only as sources.
func (s *SQLiteStore) CardGraph(ctx context.Context) (*dag.Graph[int64], error) {
	if s.db == nil {
		return nil, ErrNotOpened
	}
	g := dag.NewGraph[int64]()

	rows, err := s.db.QueryContext(ctx,
		`SELECT q.card_id, s.source_card_id FROM questions q
		 LEFT JOIN question_sources s ON s.card_id = q.card_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list question sources: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var (
			id  int64
			src sql.NullInt64
		)
		if err := rows.Scan(&id, &src); err != nil {
			return nil, fmt.Errorf("failed to scan question source: %w", err)
		}
		g.AddNode(id)
		if !src.Valid {
			continue
		}
		if err := g.AddEdge(src.Int64, id); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCardCycle, err)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating question sources: %w", err)
	}
	return g, nil
}

// checkSources fails with ErrCardCycle when giving cardID these sources
// would make saved questions reference each other in a loop.
func (s *SQLiteStore) checkSources(ctx context.Context, cardID int64, sources []int64) error {
	g, err := s.CardGraph(ctx)
	if err != nil {
		return err
	}
	if err := g.SetSources(cardID, sources); err != nil {
		if errors.Is(err, dag.ErrCycle) {
			return fmt.Errorf("%w: card %d reads from itself", ErrCardCycle, cardID)
		}
		return err
	}
	if cycle := g.FindCycle(); cycle != nil {
		return fmt.Errorf("%w: cards %v", ErrCardCycle, cycle)
	}
	return nil
}

// Dependents returns the questions built directly or transitively on the
// card cardID, ordered by card id.
func (s *SQLiteStore) Dependents(ctx context.Context, cardID int64) ([]*Question, error) {
	g, err := s.CardGraph(ctx)
	if err != nil {
		return nil, err
	}
	var out []*Question
	for _, id := range g.Downstream(cardID) {
		q, err := s.GetQuestionByCardID(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, nil
}
