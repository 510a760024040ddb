// Package sqlite provides a SQLite database adapter for LeapQuery,
// backed by the pure-Go modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"github.com/leapstack-labs/leapquery/pkg/adapter"
	"github.com/leapstack-labs/leapquery/pkg/dialect"
	sqlitedialect "github.com/leapstack-labs/leapquery/pkg/dialects/sqlite"

	_ "modernc.org/sqlite" // sqlite driver
)

// Adapter implements the adapter.Adapter interface for SQLite.
type Adapter struct {
	adapter.BaseSQLAdapter
}

// New creates a new SQLite adapter instance.
// If logger is nil, a discard logger is used.
func New(logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Adapter{
		BaseSQLAdapter: adapter.BaseSQLAdapter{Logger: logger},
	}
}

// Dialect returns the SQLite dialect.
func (a *Adapter) Dialect() *dialect.Dialect {
	return sqlitedialect.SQLite
}

// Connect opens the database file at cfg.Path.
// Use ":memory:" (or an empty path) for an in-memory database.
func (a *Adapter) Connect(ctx context.Context, cfg adapter.Config) error {
	path := cfg.Path
	if path == "" {
		path = ":memory:"
	}
	a.Logger.Debug("connecting to sqlite", slog.String("path", path))

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return fmt.Errorf("failed to open sqlite connection: %w", err)
	}
	if path == ":memory:" {
		// Every pooled connection would otherwise see its own empty database.
		db.SetMaxOpenConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping sqlite: %w", err)
	}

	a.DB = db
	a.Cfg = cfg
	return nil
}

// ListTables returns the user tables of the main database.
func (a *Adapter) ListTables(ctx context.Context) ([]string, error) {
	if a.DB == nil {
		return nil, adapter.ErrNotConnected
	}
	rows, err := a.DB.QueryContext(ctx, `
		SELECT name FROM sqlite_master
		WHERE type = 'table' AND name NOT LIKE 'sqlite_%'
		ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	defer func() { _ = rows.Close() }()

	schema := a.Dialect().DefaultSchema
	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan table name: %w", err)
		}
		tables = append(tables, schema+"."+name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tables: %w", err)
	}
	return tables, nil
}

// GetTableMetadata reads columns and keys through PRAGMA table_info and
// PRAGMA foreign_key_list.
func (a *Adapter) GetTableMetadata(ctx context.Context, table string) (*adapter.Metadata, error) {
	if a.DB == nil {
		return nil, adapter.ErrNotConnected
	}
	d := a.Dialect()
	schema, name := adapter.ParseQualifiedName(table, d)
	qualified := d.QuoteQualified(schema, name)

	columns, err := a.tableInfo(ctx, d.QuoteIdentifier(schema), d.QuoteIdentifier(name))
	if err != nil {
		return nil, err
	}
	if len(columns) == 0 {
		return nil, fmt.Errorf("table %s not found", table)
	}

	md := &adapter.Metadata{Schema: schema, Name: name, Columns: columns}
	fks, err := a.foreignKeys(ctx, d.QuoteIdentifier(schema), d.QuoteIdentifier(name))
	if err != nil {
		return nil, err
	}
	for i := range fks {
		fks[i].RefSchema = schema
	}
	md.ForeignKeys = fks
	md.RowCount = a.RowCount(ctx, qualified)
	return md, nil
}

func (a *Adapter) tableInfo(ctx context.Context, schema, table string) ([]adapter.Column, error) {
	rows, err := a.DB.QueryContext(ctx, fmt.Sprintf("PRAGMA %s.table_info(%s)", schema, table))
	if err != nil {
		return nil, fmt.Errorf("failed to query column metadata: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var columns []adapter.Column
	for rows.Next() {
		var (
			cid     int
			col     adapter.Column
			notNull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &col.Name, &col.Type, &notNull, &dflt, &pk); err != nil {
			return nil, fmt.Errorf("failed to scan column metadata: %w", err)
		}
		col.Position = cid + 1
		col.Nullable = notNull == 0 && pk == 0
		col.PrimaryKey = pk > 0
		columns = append(columns, col)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating column metadata: %w", err)
	}
	return columns, nil
}

func (a *Adapter) foreignKeys(ctx context.Context, schema, table string) ([]adapter.ForeignKey, error) {
	rows, err := a.DB.QueryContext(ctx, fmt.Sprintf("PRAGMA %s.foreign_key_list(%s)", schema, table))
	if err != nil {
		return nil, fmt.Errorf("failed to query foreign keys: %w", err)
	}
	defer func() { _ = rows.Close() }()

	byID := make(map[int][]adapter.ForeignKey)
	var order []int
	for rows.Next() {
		var (
			id, seq                       int
			refTable, from                string
			to                            sql.NullString
			onUpdate, onDelete, matchRule string
		)
		if err := rows.Scan(&id, &seq, &refTable, &from, &to, &onUpdate, &onDelete, &matchRule); err != nil {
			return nil, fmt.Errorf("failed to scan foreign key: %w", err)
		}
		if _, seen := byID[id]; !seen {
			order = append(order, id)
		}
		byID[id] = append(byID[id], adapter.ForeignKey{Column: from, RefTable: refTable, RefColumn: to.String})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating foreign keys: %w", err)
	}

	var fks []adapter.ForeignKey
	for _, id := range order {
		// Composite keys cannot drive implicit joins. A key without a
		// target column references the parent's primary key, which is
		// not resolved here.
		if parts := byID[id]; len(parts) == 1 && parts[0].RefColumn != "" {
			fks = append(fks, parts[0])
		}
	}
	return fks, nil
}

// quoteList quotes each name with the dialect and joins them with commas.
func quoteList(d *dialect.Dialect, names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = d.QuoteIdentifier(n)
	}
	return strings.Join(quoted, ", ")
}

// Ensure Adapter implements adapter.Adapter interface
var _ adapter.Adapter = (*Adapter)(nil)
