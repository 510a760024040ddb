package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/leapstack-labs/leapquery/pkg/meta"
	"github.com/leapstack-labs/leapquery/pkg/query"
)

// WriteSnapshot writes spec as a YAML snapshot into dir and returns its path.
func WriteSnapshot(t testing.TB, dir string, spec meta.SnapshotSpec) string {
	t.Helper()
	data, err := meta.MarshalSnapshotSpec(spec)
	if err != nil {
		t.Fatalf("failed to marshal snapshot: %v", err)
	}
	path := filepath.Join(dir, "metadata.yaml")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("failed to write snapshot: %v", err)
	}
	return path
}

// WriteQuery writes q in wire form into dir and returns its path.
func WriteQuery(t testing.TB, dir, name string, q *query.Query) string {
	t.Helper()
	data, err := query.ToWire(q)
	if err != nil {
		t.Fatalf("failed to encode query: %v", err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("failed to write query: %v", err)
	}
	return path
}

// OrdersByMonth counts sample ORDERS per month of CREATED_AT.
func OrdersByMonth(t testing.TB, p meta.Provider) *query.Query {
	t.Helper()
	q, err := query.New(p, meta.OrdersID)
	must(t, err)
	op, ok := query.LookupAggregationOperator("count")
	if !ok {
		t.Fatal("count operator missing")
	}
	agg, err := query.NewAggregation(op, nil)
	must(t, err)
	q, err = query.AddAggregation(q, -1, agg)
	must(t, err)
	created, err := query.FieldColumn(p, meta.OrdersCreatedAt)
	must(t, err)
	created, err = query.WithTemporalBucket(created, &query.TemporalBucket{Unit: query.UnitMonth})
	must(t, err)
	q, err = query.AddBreakout(q, -1, created)
	must(t, err)
	return q
}

func must(t testing.TB, err error) {
	t.Helper()
	if err != nil {
		t.Fatal(err)
	}
}
