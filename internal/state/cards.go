package state

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/leapstack-labs/leapquery/pkg/compile"
	"github.com/leapstack-labs/leapquery/pkg/dialect"
	"github.com/leapstack-labs/leapquery/pkg/meta"
	"github.com/leapstack-labs/leapquery/pkg/query"
)

// CardSpecs returns the saved questions of a database as metadata cards.
func (s *SQLiteStore) CardSpecs(ctx context.Context, databaseID int64) ([]meta.CardSpec, error) {
	questions, err := s.ListQuestions(ctx, databaseID)
	if err != nil {
		return nil, err
	}
	cards := make([]meta.CardSpec, len(questions))
	for i, q := range questions {
		cards[i] = q.Card()
	}
	return cards, nil
}

// MergeCards returns spec with cards added. Cards replace snapshot cards
// with the same id.
func MergeCards(spec meta.SnapshotSpec, cards []meta.CardSpec) meta.SnapshotSpec {
	byID := make(map[int64]int, len(spec.Cards))
	merged := make([]meta.CardSpec, len(spec.Cards), len(spec.Cards)+len(cards))
	copy(merged, spec.Cards)
	for i, c := range merged {
		byID[c.ID] = i
	}
	for _, c := range cards {
		if i, ok := byID[c.ID]; ok {
			merged[i] = c
			continue
		}
		byID[c.ID] = len(merged)
		merged = append(merged, c)
	}
	spec.Cards = merged
	return spec
}

// LoadQuestion decodes a saved question against p and reconciles it with
// the features p declares today.
func (s *SQLiteStore) LoadQuestion(ctx context.Context, p meta.Provider, id string) (*query.Query, []query.Warning, error) {
	question, err := s.GetQuestion(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return decodeQuestion(p, question)
}

func decodeQuestion(p meta.Provider, question *Question) (*query.Query, []query.Warning, error) {
	q, err := query.FromWire(p, question.Query)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to decode question %q: %w", question.Name, err)
	}
	return query.Reconcile(q)
}

// CardResolver compiles saved questions on demand so they can serve as
// card sources. Nested cards resolve recursively; reference loops fail
// with ErrCardCycle.
func (s *SQLiteStore) CardResolver(ctx context.Context, p meta.Provider, d *dialect.Dialect) compile.CardResolver {
	resolving := make(map[int64]bool)
	var resolve compile.CardResolver
	resolve = func(cardID int64) (string, error) {
		if resolving[cardID] {
			return "", fmt.Errorf("%w: card %d", ErrCardCycle, cardID)
		}
		resolving[cardID] = true
		defer delete(resolving, cardID)

		question, err := s.GetQuestionByCardID(ctx, cardID)
		if err != nil {
			return "", err
		}
		q, warnings, err := decodeQuestion(p, question)
		if err != nil {
			return "", err
		}
		for _, w := range warnings {
			s.logger.Warn("saved question changed on load",
				slog.Int64("card_id", cardID),
				slog.String("warning", w.String()))
		}
		return compile.Compile(q, d, compile.Options{Cards: resolve})
	}
	return resolve
}
