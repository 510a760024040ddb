package query

import (
	"fmt"

	"github.com/leapstack-labs/leapquery/pkg/meta"
)

// Query is an immutable multi-stage query.
type Query struct {
	provider meta.Provider
	dbID     int64
	stages   []*Stage
}

// Source is the data source of stage 0: a table or a saved card.
type Source struct {
	TableID int64
	CardID  int64
}

// IsCard reports whether the source is a saved card.
func (s Source) IsCard() bool { return s.CardID != 0 }

// New returns a single-stage query reading the given table.
// It fails with a meta.NotFoundError when the table is unknown.
func New(p meta.Provider, tableID int64) (*Query, error) {
	if _, err := p.LookupTable(tableID); err != nil {
		return nil, err
	}
	return &Query{
		provider: p,
		dbID:     p.Database().ID,
		stages:   []*Stage{{source: Source{TableID: tableID}}},
	}, nil
}

// NewFromCard returns a single-stage query reading a saved card's results.
func NewFromCard(p meta.Provider, cardID int64) (*Query, error) {
	if _, err := p.LookupCard(cardID); err != nil {
		return nil, err
	}
	return &Query{
		provider: p,
		dbID:     p.Database().ID,
		stages:   []*Stage{{source: Source{CardID: cardID}}},
	}, nil
}

// Provider returns the metadata provider the query resolves against.
func (q *Query) Provider() meta.Provider { return q.provider }

// DatabaseID returns the id of the query's database.
func (q *Query) DatabaseID() int64 { return q.dbID }

// StageCount returns the number of stages.
func (q *Query) StageCount() int { return len(q.stages) }

// Source returns the stage-0 source.
func (q *Query) Source() Source { return q.stages[0].source }

func (q *Query) features() meta.FeatureSet {
	return q.provider.DatabaseFeatures()
}

// normalizeStage resolves -1 to the last stage and range-checks the index.
func (q *Query) normalizeStage(i int) (int, error) {
	n := len(q.stages)
	if i == -1 {
		i = n - 1
	}
	if i < 0 || i >= n {
		return 0, &StageIndexError{Index: i, Stages: n}
	}
	return i, nil
}

func (q *Query) stageAt(i int) (*Stage, error) {
	i, err := q.normalizeStage(i)
	if err != nil {
		return nil, err
	}
	return q.stages[i], nil
}

// withStage returns a copy of q with stage i replaced; other stages are shared.
func (q *Query) withStage(i int, s *Stage) *Query {
	stages := make([]*Stage, len(q.stages))
	copy(stages, q.stages)
	stages[i] = s
	return &Query{provider: q.provider, dbID: q.dbID, stages: stages}
}

// WithProvider returns a copy of q resolving against p. Used after a
// metadata refresh; call Reconcile afterwards to drop stale clauses.
func (q *Query) WithProvider(p meta.Provider) *Query {
	return &Query{provider: p, dbID: p.Database().ID, stages: q.stages}
}

// AppendStage adds an empty stage reading the previous stage's results.
func AppendStage(q *Query) *Query {
	stages := make([]*Stage, len(q.stages), len(q.stages)+1)
	copy(stages, q.stages)
	stages = append(stages, &Stage{})
	return &Query{provider: q.provider, dbID: q.dbID, stages: stages}
}

// DropStage removes stage i and every stage after it. Stage 0 cannot be dropped.
func DropStage(q *Query, stageIndex int) (*Query, error) {
	i, err := q.normalizeStage(stageIndex)
	if err != nil {
		return nil, err
	}
	if i == 0 {
		return nil, fmt.Errorf("cannot drop the first stage: %w", &StageIndexError{Index: i, Stages: len(q.stages)})
	}
	stages := make([]*Stage, i)
	copy(stages, q.stages[:i])
	return &Query{provider: q.provider, dbID: q.dbID, stages: stages}, nil
}

// DropEmptyStages removes stages after the first that own no clauses.
// An empty stage returns its input unchanged, so later references stay valid.
func DropEmptyStages(q *Query) *Query {
	stages := make([]*Stage, 0, len(q.stages))
	for i, s := range q.stages {
		if i > 0 && s.isEmpty() {
			continue
		}
		stages = append(stages, s)
	}
	if len(stages) == len(q.stages) {
		return q
	}
	return &Query{provider: q.provider, dbID: q.dbID, stages: stages}
}

// HasClauses reports whether the stage owns any clause.
func HasClauses(q *Query, stageIndex int) (bool, error) {
	s, err := q.stageAt(stageIndex)
	if err != nil {
		return false, err
	}
	return !s.isEmpty(), nil
}
