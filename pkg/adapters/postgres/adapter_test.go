package postgres

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/leapstack-labs/leapquery/pkg/adapter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildPostgresDSN(t *testing.T) {
	tests := []struct {
		name     string
		config   adapter.Config
		expected string
	}{
		{
			name: "basic connection",
			config: adapter.Config{
				Host:     "localhost",
				Port:     5432,
				Database: "testdb",
				Username: "user",
				Password: "pass",
			},
			expected: "host=localhost port=5432 dbname=testdb sslmode=disable user=user password=pass",
		},
		{
			name: "with custom sslmode",
			config: adapter.Config{
				Host:     "prod.example.com",
				Port:     5432,
				Database: "proddb",
				Username: "admin",
				Options:  map[string]string{"sslmode": "require"},
			},
			expected: "host=prod.example.com port=5432 dbname=proddb sslmode=require user=admin",
		},
		{
			name: "defaults",
			config: adapter.Config{
				Database: "mydb",
			},
			expected: "host=localhost port=5432 dbname=mydb sslmode=disable",
		},
		{
			name: "custom port",
			config: adapter.Config{
				Host:     "db.example.com",
				Port:     5433,
				Database: "analytics",
				Username: "analyst",
			},
			expected: "host=db.example.com port=5433 dbname=analytics sslmode=disable user=analyst",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dsn := buildPostgresDSN(tt.config)
			assert.Equal(t, tt.expected, dsn)
		})
	}
}

func TestColumnName(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"name", "name"},
		{"my column", "my_column"},
		{"my-field", "my_field"},
		{" padded ", "padded"},
		{"UPPERCASE", "UPPERCASE"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, columnName(tt.input))
		})
	}
}

func TestCreateTableSQL(t *testing.T) {
	drop, create := createTableSQL(New(nil).Dialect(), "orders", []string{"id", "user", "unit price"})
	assert.Equal(t, `DROP TABLE IF EXISTS "orders"`, drop)
	assert.Equal(t, `CREATE TABLE "orders" ("id" TEXT, "user" TEXT, "unit_price" TEXT)`, create)
}

func TestNew(t *testing.T) {
	adp := New(nil)

	assert.NotNil(t, adp, "New() should return non-nil adapter")
	assert.Nil(t, adp.DB, "DB should be nil before Connect")
	assert.False(t, adp.IsConnected(), "should not be connected initially")
	assert.Equal(t, "postgres", adp.Dialect().Name, "dialect name should be postgres")

	// Verify interface compliance
	var _ adapter.Adapter = (*Adapter)(nil)
	var _ adapter.Adapter = adp
}

func TestAdapter_NotConnected(t *testing.T) {
	tests := []struct {
		name      string
		operation func(ctx context.Context, adp *Adapter) error
		errMsg    string
	}{
		{
			name: "exec without connect",
			operation: func(ctx context.Context, adp *Adapter) error {
				return adp.Exec(ctx, "SELECT 1")
			},
			errMsg: "not established",
		},
		{
			name: "query without connect",
			operation: func(ctx context.Context, adp *Adapter) error {
				_, err := adp.Query(ctx, "SELECT 1")
				return err
			},
			errMsg: "not established",
		},
		{
			name: "get metadata without connect",
			operation: func(ctx context.Context, adp *Adapter) error {
				_, err := adp.GetTableMetadata(ctx, "users")
				return err
			},
			errMsg: "not established",
		},
		{
			name: "list tables without connect",
			operation: func(ctx context.Context, adp *Adapter) error {
				_, err := adp.ListTables(ctx)
				return err
			},
			errMsg: "not established",
		},
		{
			name: "load csv without connect",
			operation: func(ctx context.Context, adp *Adapter) error {
				return adp.LoadCSV(ctx, "test", "/tmp/test.csv")
			},
			errMsg: "not established",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			adp := New(nil)

			err := tt.operation(ctx, adp)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestAdapter_Registry(t *testing.T) {
	assert.True(t, adapter.IsRegistered("postgres"), "postgres adapter should be registered")

	factory, ok := adapter.Get("postgres")
	require.True(t, ok, "should be able to get postgres factory")

	adp := factory(nil)
	assert.NotNil(t, adp)

	pg, ok := adp.(*Adapter)
	assert.True(t, ok, "factory should return *Adapter")
	assert.NotNil(t, pg)
	assert.Equal(t, "postgres", pg.Dialect().Name)
}

func TestAdapter_Close(t *testing.T) {
	// Close should not error even without connection
	adp := New(nil)
	assert.NoError(t, adp.Close())
}

func TestAdapter_GetTableMetadata_Keys(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectQuery("FROM information_schema.columns").
		WithArgs("public", "orders").
		WillReturnRows(sqlmock.NewRows([]string{"column_name", "data_type", "is_nullable", "ordinal_position"}).
			AddRow("id", "bigint", "NO", 1).
			AddRow("user_id", "integer", "YES", 2).
			AddRow("total", "numeric", "YES", 3))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM "public"."orders"`)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(18760))
	mock.ExpectQuery("FROM information_schema.table_constraints").
		WithArgs("public", "orders").
		WillReturnRows(sqlmock.NewRows([]string{"constraint_type", "column_name", "table_schema", "table_name", "column_name"}).
			AddRow("PRIMARY KEY", "id", "", "", "").
			AddRow("FOREIGN KEY", "user_id", "public", "people", "id"))

	adp := New(nil)
	adp.DB = db

	md, err := adp.GetTableMetadata(context.Background(), "orders")
	require.NoError(t, err)

	assert.Equal(t, "public.orders", md.QualifiedName())
	assert.Equal(t, int64(18760), md.RowCount)
	assert.True(t, md.Columns[0].PrimaryKey)
	assert.False(t, md.Columns[1].PrimaryKey)
	require.Len(t, md.ForeignKeys, 1)
	assert.Equal(t, adapter.ForeignKey{Column: "user_id", RefSchema: "public", RefTable: "people", RefColumn: "id"}, md.ForeignKeys[0])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAdapter_ListTables(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectQuery(regexp.QuoteMeta("WHERE table_schema = $1")).
		WithArgs("analytics").
		WillReturnRows(sqlmock.NewRows([]string{"table_name"}).AddRow("orders"))

	adp := New(nil)
	adp.DB = db
	adp.Cfg.Schema = "analytics"

	tables, err := adp.ListTables(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"analytics.orders"}, tables)
}
