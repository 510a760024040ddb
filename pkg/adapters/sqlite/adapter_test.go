package sqlite

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/leapstack-labs/leapquery/pkg/adapter"
	"github.com/leapstack-labs/leapquery/pkg/core"
	"github.com/leapstack-labs/leapquery/pkg/meta"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func connect(t *testing.T) *Adapter {
	t.Helper()
	adp := New(nil)
	require.NoError(t, adp.Connect(context.Background(), core.AdapterConfig{Path: ":memory:"}))
	t.Cleanup(func() { _ = adp.Close() })
	return adp
}

func createSample(t *testing.T, adp *Adapter) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, adp.Exec(ctx, `CREATE TABLE people (id INTEGER PRIMARY KEY, name TEXT, latitude REAL, longitude REAL)`))
	require.NoError(t, adp.Exec(ctx, `CREATE TABLE orders (
		id INTEGER PRIMARY KEY,
		user_id INTEGER REFERENCES people(id),
		created_at DATETIME,
		total REAL NOT NULL
	)`))
	require.NoError(t, adp.Exec(ctx, `INSERT INTO people VALUES (1, 'Ada', 51.5, -0.12), (2, 'Grace', 40.7, -74.0)`))
	require.NoError(t, adp.Exec(ctx, `INSERT INTO orders VALUES
		(1, 1, '2024-01-03 10:00:00', 10.5),
		(2, 1, '2024-02-11 12:30:00', 20.0),
		(3, 2, '2024-02-14 09:15:00', 7.25)`))
}

func TestAdapter_Connect(t *testing.T) {
	ctx := context.Background()

	t.Run("in-memory", func(t *testing.T) {
		adp := connect(t)
		assert.True(t, adp.IsConnected())
	})

	t.Run("file-based", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "test.db")
		adp := New(nil)
		require.NoError(t, adp.Connect(ctx, core.AdapterConfig{Path: path}))
		defer func() { _ = adp.Close() }()

		require.NoError(t, adp.Exec(ctx, "CREATE TABLE t (x INTEGER)"))
		_, err := os.Stat(path)
		assert.NoError(t, err, "database file should exist")
	})
}

func TestAdapter_NotConnected(t *testing.T) {
	ctx := context.Background()
	adp := New(nil)

	_, err := adp.ListTables(ctx)
	require.ErrorIs(t, err, adapter.ErrNotConnected)
	_, err = adp.GetTableMetadata(ctx, "orders")
	require.ErrorIs(t, err, adapter.ErrNotConnected)
	require.ErrorIs(t, adp.LoadCSV(ctx, "t", "missing.csv"), adapter.ErrNotConnected)
	assert.NoError(t, adp.Close())
}

func TestAdapter_ListTables(t *testing.T) {
	adp := connect(t)
	createSample(t, adp)

	tables, err := adp.ListTables(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"main.orders", "main.people"}, tables)
}

func TestAdapter_GetTableMetadata(t *testing.T) {
	adp := connect(t)
	createSample(t, adp)

	md, err := adp.GetTableMetadata(context.Background(), "orders")
	require.NoError(t, err)

	assert.Equal(t, "main.orders", md.QualifiedName())
	assert.Equal(t, int64(3), md.RowCount)
	require.Len(t, md.Columns, 4)

	assert.Equal(t, core.Column{Name: "id", Type: "INTEGER", PrimaryKey: true, Position: 1}, md.Columns[0])
	assert.Equal(t, core.Column{Name: "user_id", Type: "INTEGER", Nullable: true, Position: 2}, md.Columns[1])
	assert.Equal(t, "DATETIME", md.Columns[2].Type)
	assert.False(t, md.Columns[3].Nullable)

	require.Len(t, md.ForeignKeys, 1)
	assert.Equal(t, core.ForeignKey{Column: "user_id", RefSchema: "main", RefTable: "people", RefColumn: "id"}, md.ForeignKeys[0])
}

func TestAdapter_GetTableMetadata_NotFound(t *testing.T) {
	adp := connect(t)

	_, err := adp.GetTableMetadata(context.Background(), "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "table missing not found")
}

func TestIntrospect_SQLite(t *testing.T) {
	adp := connect(t)
	createSample(t, adp)

	spec, err := adapter.Introspect(context.Background(), adp, adapter.IntrospectOptions{DatabaseID: 3, Name: "Sample"})
	require.NoError(t, err)

	assert.Equal(t, "sqlite", spec.Database.Engine)
	assert.NotContains(t, spec.Database.Features, string(meta.FeaturePercentile))

	orders, people := spec.Tables[0], spec.Tables[1]
	userID := orders.Fields[1]
	assert.Equal(t, string(meta.SemanticFK), userID.SemanticType)
	assert.Equal(t, people.Fields[0].ID, userID.FKTarget)
	assert.Equal(t, string(meta.TypeDateTime), orders.Fields[2].BaseType)
	assert.Equal(t, string(meta.SemanticLatitude), people.Fields[2].SemanticType)
	assert.Equal(t, string(meta.SemanticLongitude), people.Fields[3].SemanticType)

	snap, err := meta.NewSnapshot(spec)
	require.NoError(t, err)
	assert.Equal(t, "Sample", snap.Database().Name)
}

func TestAdapter_LoadCSV(t *testing.T) {
	ctx := context.Background()
	adp := connect(t)

	csvPath := filepath.Join(t.TempDir(), "orders.csv")
	content := "id,product,quantity,price\n1,Widget,3,9.99\n2,Gizmo,,19.5\n3,Doohickey,1,4\n"
	require.NoError(t, os.WriteFile(csvPath, []byte(content), 0600))

	require.NoError(t, adp.LoadCSV(ctx, "orders", csvPath))

	md, err := adp.GetTableMetadata(ctx, "orders")
	require.NoError(t, err)
	assert.Equal(t, int64(3), md.RowCount)

	types := make(map[string]string)
	for _, c := range md.Columns {
		types[c.Name] = c.Type
	}
	assert.Equal(t, map[string]string{"id": "INTEGER", "product": "TEXT", "quantity": "INTEGER", "price": "REAL"}, types)

	res, err := adapter.QueryAll(ctx, adp, `SELECT SUM(quantity), COUNT(quantity) FROM "orders"`, 0)
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, int64(4), res.Rows[0][0])
	assert.Equal(t, int64(2), res.Rows[0][1], "empty cells load as NULL")

	// Loading again replaces the table.
	require.NoError(t, adp.LoadCSV(ctx, "orders", csvPath))
	md, err = adp.GetTableMetadata(ctx, "orders")
	require.NoError(t, err)
	assert.Equal(t, int64(3), md.RowCount)
}

func TestInferColumnTypes(t *testing.T) {
	rows := [][]string{
		{"1", "1.5", "a", ""},
		{"2", "2", "3", ""},
	}
	assert.Equal(t, []string{"INTEGER", "REAL", "TEXT", "TEXT"}, inferColumnTypes(4, rows))
}

func TestAdapter_Registry(t *testing.T) {
	factory, ok := adapter.Get("sqlite")
	require.True(t, ok)
	adp, ok := factory(nil).(*Adapter)
	require.True(t, ok)
	assert.Equal(t, "sqlite", adp.Dialect().Name)
}
