package adapter

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/leapstack-labs/leapquery/pkg/dialect"
	"github.com/leapstack-labs/leapquery/pkg/meta"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAdapter serves table metadata from memory.
type fakeAdapter struct {
	BaseSQLAdapter
	tables map[string]*Metadata
	order  []string
}

func (f *fakeAdapter) Connect(context.Context, Config) error { return nil }

func (f *fakeAdapter) ListTables(context.Context) ([]string, error) { return f.order, nil }

func (f *fakeAdapter) GetTableMetadata(_ context.Context, table string) (*Metadata, error) {
	md, ok := f.tables[table]
	if !ok {
		return nil, fmt.Errorf("table %s not found", table)
	}
	return md, nil
}

func (f *fakeAdapter) LoadCSV(context.Context, string, string) error { return errors.ErrUnsupported }

func (f *fakeAdapter) Dialect() *dialect.Dialect { return testDialect }

func newFakeAdapter() *fakeAdapter {
	people := &Metadata{
		Schema: "main",
		Name:   "people",
		Columns: []Column{
			{Name: "id", Type: "INTEGER", PrimaryKey: true},
			{Name: "name", Type: "VARCHAR"},
			{Name: "latitude", Type: "DOUBLE"},
			{Name: "lng", Type: "DOUBLE"},
		},
	}
	orders := &Metadata{
		Schema: "main",
		Name:   "orders",
		Columns: []Column{
			{Name: "id", Type: "BIGINT", PrimaryKey: true},
			{Name: "user_id", Type: "INTEGER"},
			{Name: "vendor_id", Type: "INTEGER"},
			{Name: "created_at", Type: "TIMESTAMP"},
			{Name: "total", Type: "DECIMAL(10,2)"},
		},
		ForeignKeys: []ForeignKey{
			{Column: "user_id", RefTable: "people", RefColumn: "id"},
			{Column: "vendor_id", RefSchema: "main", RefTable: "vendors", RefColumn: "id"},
		},
	}
	return &fakeAdapter{
		tables: map[string]*Metadata{"main.orders": orders, "main.people": people},
		order:  []string{"main.orders", "main.people"},
	}
}

func TestIntrospect(t *testing.T) {
	spec, err := Introspect(context.Background(), newFakeAdapter(), IntrospectOptions{DatabaseID: 7})
	require.NoError(t, err)

	assert.Equal(t, int64(7), spec.Database.ID)
	assert.Equal(t, "testdb", spec.Database.Name)
	assert.Equal(t, "testdb", spec.Database.Engine)
	assert.Equal(t, []string{"binning", "left-join"}, spec.Database.Features)

	require.Len(t, spec.Tables, 2)
	orders, people := spec.Tables[0], spec.Tables[1]
	assert.Equal(t, int64(1), orders.ID)
	assert.Equal(t, "Orders", orders.DisplayName)
	assert.Equal(t, int64(2), people.ID)

	// Field ids run across tables in listing order.
	assert.Equal(t, int64(1), orders.Fields[0].ID)
	assert.Equal(t, int64(6), people.Fields[0].ID)

	assert.Equal(t, string(meta.SemanticPK), orders.Fields[0].SemanticType)
	assert.Equal(t, string(meta.TypeBigInteger), orders.Fields[0].BaseType)
	assert.Equal(t, string(meta.TypeDateTime), orders.Fields[3].BaseType)
	assert.Equal(t, string(meta.TypeDecimal), orders.Fields[4].BaseType)

	userID := orders.Fields[1]
	assert.Equal(t, string(meta.SemanticFK), userID.SemanticType)
	assert.Equal(t, people.Fields[0].ID, userID.FKTarget)

	vendorID := orders.Fields[2]
	assert.Empty(t, vendorID.SemanticType, "fk to a table outside the snapshot is dropped")
	assert.Zero(t, vendorID.FKTarget)

	assert.Equal(t, string(meta.SemanticLatitude), people.Fields[2].SemanticType)
	assert.Equal(t, string(meta.SemanticLongitude), people.Fields[3].SemanticType)

	snap, err := meta.NewSnapshot(spec)
	require.NoError(t, err)
	assert.Equal(t, "testdb", snap.Database().Engine)
}

func TestIntrospect_Deterministic(t *testing.T) {
	a := newFakeAdapter()
	first, err := Introspect(context.Background(), a, IntrospectOptions{Concurrency: 1})
	require.NoError(t, err)
	second, err := Introspect(context.Background(), a, IntrospectOptions{Concurrency: 8})
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestIntrospect_TableFilter(t *testing.T) {
	spec, err := Introspect(context.Background(), newFakeAdapter(), IntrospectOptions{
		Name:   "warehouse",
		Tables: []string{"main.orders"},
	})
	require.NoError(t, err)
	assert.Equal(t, "warehouse", spec.Database.Name)
	require.Len(t, spec.Tables, 1)
	assert.Empty(t, spec.Tables[0].Fields[1].SemanticType, "people is not introspected")
}

func TestIntrospect_MetadataError(t *testing.T) {
	_, err := Introspect(context.Background(), newFakeAdapter(), IntrospectOptions{
		Tables: []string{"main.orders", "main.missing"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "introspect main.missing")
}
