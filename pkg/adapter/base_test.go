package adapter

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/leapstack-labs/leapquery/pkg/core"
	"github.com/leapstack-labs/leapquery/pkg/dialect"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testDialect = dialect.New(&core.DialectConfig{
	Name:          "testdb",
	DefaultSchema: "main",
	Placeholder:   core.PlaceholderQuestion,
	Identifiers: core.IdentifierConfig{
		Quote:    `"`,
		QuoteEnd: `"`,
		Escape:   `""`,
	},
	Features: []string{"binning", "left-join"},
}).Build()

func TestBaseSQLAdapter_Close(t *testing.T) {
	tests := []struct {
		name    string
		setupDB bool
	}{
		{name: "close with nil DB", setupDB: false},
		{name: "close with open DB", setupDB: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			base := &BaseSQLAdapter{}

			if tt.setupDB {
				db, mock, err := sqlmock.New()
				require.NoError(t, err)
				mock.ExpectClose()
				base.DB = db
			}

			assert.NoError(t, base.Close())
		})
	}
}

func TestBaseSQLAdapter_Exec(t *testing.T) {
	tests := []struct {
		name      string
		setupDB   bool
		setupMock func(mock sqlmock.Sqlmock)
		sql       string
		args      []any
		errMsg    string
	}{
		{
			name:   "exec without connection",
			sql:    "SELECT 1",
			errMsg: "database connection not established",
		},
		{
			name:    "exec success",
			setupDB: true,
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec("CREATE TABLE orders").WillReturnResult(sqlmock.NewResult(0, 0))
			},
			sql: "CREATE TABLE orders (id INT)",
		},
		{
			name:    "exec with args",
			setupDB: true,
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec("INSERT INTO orders").
					WithArgs(1, "widget").
					WillReturnResult(sqlmock.NewResult(1, 1))
			},
			sql:  "INSERT INTO orders VALUES (?, ?)",
			args: []any{1, "widget"},
		},
		{
			name:    "exec with error",
			setupDB: true,
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec("INVALID SQL").WillReturnError(assert.AnError)
			},
			sql:    "INVALID SQL",
			errMsg: "failed to execute SQL",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			base := &BaseSQLAdapter{}

			if tt.setupDB {
				db, mock, err := sqlmock.New()
				require.NoError(t, err)
				defer func() { _ = db.Close() }()

				if tt.setupMock != nil {
					tt.setupMock(mock)
				}
				base.DB = db
			}

			err := base.Exec(ctx, tt.sql, tt.args...)
			if tt.errMsg != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMsg)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestBaseSQLAdapter_Query(t *testing.T) {
	tests := []struct {
		name      string
		setupDB   bool
		setupMock func(mock sqlmock.Sqlmock)
		sql       string
		errMsg    string
	}{
		{
			name:   "query without connection",
			sql:    "SELECT 1",
			errMsg: "database connection not established",
		},
		{
			name:    "query success",
			setupDB: true,
			setupMock: func(mock sqlmock.Sqlmock) {
				rows := sqlmock.NewRows([]string{"id", "name"}).
					AddRow(1, "alice").
					AddRow(2, "bob")
				mock.ExpectQuery("SELECT").WillReturnRows(rows)
			},
			sql: "SELECT id, name FROM people",
		},
		{
			name:    "query with error",
			setupDB: true,
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery("INVALID").WillReturnError(assert.AnError)
			},
			sql:    "INVALID SQL",
			errMsg: "failed to execute query",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			base := &BaseSQLAdapter{}

			if tt.setupDB {
				db, mock, err := sqlmock.New()
				require.NoError(t, err)
				defer func() { _ = db.Close() }()

				if tt.setupMock != nil {
					tt.setupMock(mock)
				}
				base.DB = db
			}

			rows, err := base.Query(ctx, tt.sql)
			if tt.errMsg != "" {
				require.Error(t, err)
				assert.Nil(t, rows)
				assert.Contains(t, err.Error(), tt.errMsg)
			} else {
				require.NoError(t, err)
				assert.NotNil(t, rows)
				defer func() { _ = rows.Close() }()
			}
		})
	}
}

func TestBaseSQLAdapter_IsConnected(t *testing.T) {
	base := &BaseSQLAdapter{}
	assert.False(t, base.IsConnected())

	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()
	base.DB = db
	assert.True(t, base.IsConnected())
}

func TestParseQualifiedName(t *testing.T) {
	schema, name := ParseQualifiedName("analytics.orders", testDialect)
	assert.Equal(t, "analytics", schema)
	assert.Equal(t, "orders", name)

	schema, name = ParseQualifiedName("orders", testDialect)
	assert.Equal(t, "main", schema)
	assert.Equal(t, "orders", name)
}

func TestBaseSQLAdapter_ListTablesCommon(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectQuery("FROM information_schema.tables").
		WithArgs("main").
		WillReturnRows(sqlmock.NewRows([]string{"table_name"}).AddRow("orders").AddRow("people"))

	base := &BaseSQLAdapter{DB: db}
	tables, err := base.ListTablesCommon(context.Background(), testDialect)
	require.NoError(t, err)
	assert.Equal(t, []string{"main.orders", "main.people"}, tables)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBaseSQLAdapter_ListTablesCommon_ConfiguredSchema(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectQuery("FROM information_schema.tables").
		WithArgs("analytics").
		WillReturnRows(sqlmock.NewRows([]string{"table_name"}).AddRow("events"))

	base := &BaseSQLAdapter{DB: db, Cfg: core.AdapterConfig{Schema: "analytics"}}
	tables, err := base.ListTablesCommon(context.Background(), testDialect)
	require.NoError(t, err)
	assert.Equal(t, []string{"analytics.events"}, tables)
}

func TestBaseSQLAdapter_GetTableMetadataCommon(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectQuery("FROM information_schema.columns").
		WithArgs("main", "orders").
		WillReturnRows(sqlmock.NewRows([]string{"column_name", "data_type", "is_nullable", "ordinal_position"}).
			AddRow("ID", "BIGINT", "NO", 1).
			AddRow("TOTAL", "DOUBLE", "YES", 2))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM "main"."orders"`)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(42))

	base := &BaseSQLAdapter{DB: db}
	md, err := base.GetTableMetadataCommon(context.Background(), "orders", testDialect)
	require.NoError(t, err)

	assert.Equal(t, "main.orders", md.QualifiedName())
	require.Len(t, md.Columns, 2)
	assert.Equal(t, "ID", md.Columns[0].Name)
	assert.False(t, md.Columns[0].Nullable)
	assert.True(t, md.Columns[1].Nullable)
	assert.Equal(t, int64(42), md.RowCount)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBaseSQLAdapter_GetTableMetadataCommon_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectQuery("FROM information_schema.columns").
		WillReturnRows(sqlmock.NewRows([]string{"column_name", "data_type", "is_nullable", "ordinal_position"}))

	base := &BaseSQLAdapter{DB: db}
	_, err = base.GetTableMetadataCommon(context.Background(), "missing", testDialect)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "table missing not found")
}

func TestMarkPrimaryKeys(t *testing.T) {
	md := &core.TableMetadata{Columns: []core.Column{{Name: "ID"}, {Name: "TOTAL"}}}
	MarkPrimaryKeys(md, "ID")
	assert.True(t, md.Columns[0].PrimaryKey)
	assert.False(t, md.Columns[1].PrimaryKey)
}
