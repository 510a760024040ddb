// Package postgres provides a PostgreSQL database adapter for LeapQuery.
package postgres

import (
	"context"
	"database/sql"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/jackc/pgx/v5/stdlib"
	"github.com/leapstack-labs/leapquery/pkg/adapter"
	"github.com/leapstack-labs/leapquery/pkg/dialect"
	pgdialect "github.com/leapstack-labs/leapquery/pkg/dialects/postgres"
)

// Adapter implements the adapter.Adapter interface for PostgreSQL.
type Adapter struct {
	adapter.BaseSQLAdapter
}

// New creates a new PostgreSQL adapter instance.
// If logger is nil, a discard logger is used.
func New(logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Adapter{
		BaseSQLAdapter: adapter.BaseSQLAdapter{Logger: logger},
	}
}

// Dialect returns the PostgreSQL dialect.
func (a *Adapter) Dialect() *dialect.Dialect {
	return pgdialect.Postgres
}

// Connect establishes a connection to PostgreSQL.
func (a *Adapter) Connect(ctx context.Context, cfg adapter.Config) error {
	dsn := buildPostgresDSN(cfg)

	a.Logger.Debug("connecting to postgres", slog.String("host", cfg.Host), slog.String("database", cfg.Database))

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("failed to open postgres connection: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping postgres: %w", err)
	}

	a.DB = db
	a.Cfg = cfg
	return nil
}

// buildPostgresDSN constructs a key=value PostgreSQL connection string.
func buildPostgresDSN(cfg adapter.Config) string {
	host := cfg.Host
	if host == "" {
		host = "localhost"
	}

	port := cfg.Port
	if port == 0 {
		port = 5432
	}

	sslmode := "disable"
	if mode, ok := cfg.Options["sslmode"]; ok {
		sslmode = mode
	}

	dsn := fmt.Sprintf("host=%s port=%d dbname=%s sslmode=%s",
		host, port, cfg.Database, sslmode)

	if cfg.Username != "" {
		dsn += fmt.Sprintf(" user=%s", cfg.Username)
	}
	if cfg.Password != "" {
		dsn += fmt.Sprintf(" password=%s", cfg.Password)
	}
	return dsn
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
	if err := a.readKeys(ctx, md); err != nil {
		return nil, fmt.Errorf("failed to read keys of %s: %w", md.QualifiedName(), err)
	}
	return md, nil
}

const keysQuery = `
	SELECT
		tc.constraint_type,
		kcu.column_name,
		COALESCE(ccu.table_schema, ''),
		COALESCE(ccu.table_name, ''),
		COALESCE(ccu.column_name, '')
	FROM information_schema.table_constraints tc
	JOIN information_schema.key_column_usage kcu
		ON kcu.constraint_name = tc.constraint_name
		AND kcu.table_schema = tc.table_schema
	LEFT JOIN information_schema.constraint_column_usage ccu
		ON ccu.constraint_name = tc.constraint_name
		AND ccu.constraint_schema = tc.table_schema
		AND tc.constraint_type = 'FOREIGN KEY'
	WHERE tc.table_schema = $1 AND tc.table_name = $2
		AND tc.constraint_type IN ('PRIMARY KEY', 'FOREIGN KEY')
	ORDER BY kcu.ordinal_position
`

func (a *Adapter) readKeys(ctx context.Context, md *adapter.Metadata) error {
	rows, err := a.DB.QueryContext(ctx, keysQuery, md.Schema, md.Name)
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var kind, col string
		var fk adapter.ForeignKey
		if err := rows.Scan(&kind, &col, &fk.RefSchema, &fk.RefTable, &fk.RefColumn); err != nil {
			return err
		}
		if kind == "PRIMARY KEY" {
			adapter.MarkPrimaryKeys(md, col)
			continue
		}
		fk.Column = col
		md.ForeignKeys = append(md.ForeignKeys, fk)
	}
	return rows.Err()
}

// LoadCSV loads data from a CSV file into a table using COPY FROM STDIN.
// All columns are created as TEXT type for robustness.
func (a *Adapter) LoadCSV(ctx context.Context, tableName string, filePath string) error {
	if a.DB == nil {
		return adapter.ErrNotConnected
	}

	absPath, err := filepath.Abs(filePath)
	if err != nil {
		return fmt.Errorf("failed to get absolute path: %w", err)
	}

	file, err := os.Open(absPath) //nolint:gosec // absPath is derived from user-provided filePath, which is expected
	if err != nil {
		return fmt.Errorf("failed to open CSV file: %w", err)
	}
	defer func() { _ = file.Close() }()

	headers, err := csv.NewReader(file).Read()
	if err != nil {
		return fmt.Errorf("failed to read CSV header: %w", err)
	}

	if err := a.createTextTable(ctx, tableName, headers); err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}

	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("failed to reset file: %w", err)
	}

	if err := a.copyFromCSV(ctx, tableName, file); err != nil {
		return fmt.Errorf("failed to copy data: %w", err)
	}
	return nil
}

// createTableSQL renders the DROP and CREATE statements for a TEXT table.
func createTableSQL(d *dialect.Dialect, tableName string, headers []string) (drop, create string) {
	table := d.QuoteIdentifier(tableName)
	defs := make([]string, len(headers))
	for i, h := range headers {
		defs[i] = d.QuoteIdentifier(columnName(h)) + " TEXT"
	}
	return "DROP TABLE IF EXISTS " + table,
		fmt.Sprintf("CREATE TABLE %s (%s)", table, strings.Join(defs, ", "))
}

func (a *Adapter) createTextTable(ctx context.Context, tableName string, headers []string) error {
	drop, create := createTableSQL(a.Dialect(), tableName, headers)
	if err := a.Exec(ctx, drop); err != nil {
		return err
	}
	return a.Exec(ctx, create)
}

// copyFromCSV streams the file through the pgx connection's COPY protocol.
func (a *Adapter) copyFromCSV(ctx context.Context, tableName string, r io.Reader) error {
	conn, err := a.DB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to get connection: %w", err)
	}
	defer func() { _ = conn.Close() }()

	copySQL := fmt.Sprintf("COPY %s FROM STDIN WITH (FORMAT csv, HEADER true)", a.Dialect().QuoteIdentifier(tableName))
	return conn.Raw(func(driverConn any) error {
		pgxConn, ok := driverConn.(*stdlib.Conn)
		if !ok {
			return fmt.Errorf("unexpected driver connection %T", driverConn)
		}
		tag, err := pgxConn.Conn().PgConn().CopyFrom(ctx, r, copySQL)
		if err != nil {
			return err
		}
		a.Logger.Debug("copied rows", slog.String("table", tableName), slog.Int64("rows", tag.RowsAffected()))
		return nil
	})
}

// columnName turns a CSV header into a column name.
func columnName(header string) string {
	return strings.NewReplacer(" ", "_", "-", "_").Replace(strings.TrimSpace(header))
}

// Ensure Adapter implements adapter.Adapter interface
var _ adapter.Adapter = (*Adapter)(nil)
