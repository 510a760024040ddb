// Package duckdb provides a DuckDB database adapter for LeapQuery.
package duckdb

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/leapstack-labs/leapquery/pkg/adapter"
	"github.com/leapstack-labs/leapquery/pkg/dialect"
	duckdbdialect "github.com/leapstack-labs/leapquery/pkg/dialects/duckdb"

	_ "github.com/marcboeker/go-duckdb" // duckdb driver
)

// Adapter implements the adapter.Adapter interface for DuckDB.
type Adapter struct {
	adapter.BaseSQLAdapter
}

// New creates a new DuckDB adapter instance.
// If logger is nil, a discard logger is used.
func New(logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Adapter{
		BaseSQLAdapter: adapter.BaseSQLAdapter{Logger: logger},
	}
}

// Dialect returns the DuckDB dialect.
func (a *Adapter) Dialect() *dialect.Dialect {
	return duckdbdialect.DuckDB
}

// Connect establishes a connection to DuckDB and applies the
// extensions, settings and secrets declared in cfg.Params.
// Use ":memory:" as the path for an in-memory database.
func (a *Adapter) Connect(ctx context.Context, cfg adapter.Config) error {
	params, err := parseParams(cfg.Params)
	if err != nil {
		return err
	}

	path := cfg.Path
	if path == "" {
		path = ":memory:"
	}
	a.Logger.Debug("connecting to duckdb", slog.String("path", path))

	db, err := sql.Open("duckdb", path)
	if err != nil {
		return fmt.Errorf("failed to open duckdb connection: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping duckdb: %w", err)
	}

	a.DB = db
	a.Cfg = cfg

	if err := a.applyParams(ctx, params); err != nil {
		_ = db.Close()
		a.DB = nil
		return err
	}
	return nil
}

func (a *Adapter) applyParams(ctx context.Context, p *Params) error {
	for _, ext := range p.Extensions {
		a.Logger.Debug("loading extension", slog.String("extension", ext))
		for _, stmt := range []string{"INSTALL ", "LOAD "} {
			if err := a.Exec(ctx, stmt+ext); err != nil {
				return fmt.Errorf("failed to load extension %s: %w", ext, err)
			}
		}
	}
	for key, value := range p.Settings {
		if err := a.Exec(ctx, fmt.Sprintf("SET %s = %s", key, a.Dialect().QuoteString(value))); err != nil {
			return fmt.Errorf("failed to apply setting %s: %w", key, err)
		}
	}
	for _, s := range p.Secrets {
		if err := a.Exec(ctx, buildCreateSecretSQL(s)); err != nil {
			return fmt.Errorf("failed to create %s secret: %w", s.Type, err)
		}
	}
	return nil
}

// ListTables returns the base tables of the configured schema.
func (a *Adapter) ListTables(ctx context.Context) ([]string, error) {
	return a.ListTablesCommon(ctx, a.Dialect())
}

// GetTableMetadata retrieves columns, keys and row count for a table.
func (a *Adapter) GetTableMetadata(ctx context.Context, table string) (*adapter.Metadata, error) {
	md, err := a.GetTableMetadataCommon(ctx, table, a.Dialect())
	if err != nil {
		return nil, err
	}
	if err := a.readPrimaryKeys(ctx, md); err != nil {
		return nil, fmt.Errorf("failed to read primary keys: %w", err)
	}
	if err := a.readForeignKeys(ctx, md); err != nil {
		// Older DuckDB builds lack the referenced_* columns.
		a.Logger.Debug("skipping foreign keys", slog.String("table", md.QualifiedName()), slog.Any("error", err))
	}
	return md, nil
}

func (a *Adapter) readPrimaryKeys(ctx context.Context, md *adapter.Metadata) error {
	rows, err := a.DB.QueryContext(ctx, `
		SELECT array_to_string(constraint_column_names, ',')
		FROM duckdb_constraints()
		WHERE schema_name = ? AND table_name = ? AND constraint_type = 'PRIMARY KEY'
	`, md.Schema, md.Name)
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var cols string
		if err := rows.Scan(&cols); err != nil {
			return err
		}
		adapter.MarkPrimaryKeys(md, strings.Split(cols, ",")...)
	}
	return rows.Err()
}

func (a *Adapter) readForeignKeys(ctx context.Context, md *adapter.Metadata) error {
	rows, err := a.DB.QueryContext(ctx, `
		SELECT
			array_to_string(constraint_column_names, ','),
			referenced_table,
			array_to_string(referenced_column_names, ',')
		FROM duckdb_constraints()
		WHERE schema_name = ? AND table_name = ? AND constraint_type = 'FOREIGN KEY'
	`, md.Schema, md.Name)
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var cols, refTable, refCols string
		if err := rows.Scan(&cols, &refTable, &refCols); err != nil {
			return err
		}
		// Composite keys cannot drive implicit joins.
		if strings.Contains(cols, ",") || strings.Contains(refCols, ",") {
			continue
		}
		md.ForeignKeys = append(md.ForeignKeys, adapter.ForeignKey{
			Column:    cols,
			RefSchema: md.Schema,
			RefTable:  refTable,
			RefColumn: refCols,
		})
	}
	return rows.Err()
}

// LoadCSV loads data from a CSV file into a table.
// DuckDB will automatically infer the schema from the CSV file.
func (a *Adapter) LoadCSV(ctx context.Context, tableName string, filePath string) error {
	if a.DB == nil {
		return adapter.ErrNotConnected
	}

	absPath, err := filepath.Abs(filePath)
	if err != nil {
		return fmt.Errorf("failed to get absolute path: %w", err)
	}

	d := a.Dialect()
	query := fmt.Sprintf(
		"CREATE OR REPLACE TABLE %s AS SELECT * FROM read_csv_auto(%s, header=true)",
		d.QuoteIdentifier(tableName),
		d.QuoteString(absPath),
	)
	if err := a.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to load CSV: %w", err)
	}
	return nil
}

// Ensure Adapter implements adapter.Adapter interface
var _ adapter.Adapter = (*Adapter)(nil)
