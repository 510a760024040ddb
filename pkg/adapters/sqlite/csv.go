package sqlite

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/leapstack-labs/leapquery/pkg/adapter"
)

// LoadCSV replaces tableName with the contents of a CSV file. Column types
// are inferred from the values: INTEGER, REAL or TEXT. Empty cells load as
// NULL.
func (a *Adapter) LoadCSV(ctx context.Context, tableName string, filePath string) error {
	if a.DB == nil {
		return adapter.ErrNotConnected
	}

	f, err := os.Open(filePath) //nolint:gosec // path comes from the caller
	if err != nil {
		return fmt.Errorf("failed to open CSV file: %w", err)
	}
	defer func() { _ = f.Close() }()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return fmt.Errorf("failed to read CSV: %w", err)
	}
	if len(records) == 0 {
		return fmt.Errorf("CSV file %s has no header", filePath)
	}
	headers, data := records[0], records[1:]
	for i, h := range headers {
		headers[i] = strings.TrimSpace(h)
	}
	types := inferColumnTypes(len(headers), data)

	d := a.Dialect()
	table := d.QuoteIdentifier(tableName)
	defs := make([]string, len(headers))
	for i, h := range headers {
		defs[i] = d.QuoteIdentifier(h) + " " + types[i]
	}

	tx, err := a.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+table); err != nil {
		return fmt.Errorf("failed to drop table: %w", err)
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("CREATE TABLE %s (%s)", table, strings.Join(defs, ", "))); err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(headers)), ", ")
	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, quoteList(d, headers), placeholders))
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for n, rec := range data {
		args := make([]any, len(headers))
		for i := range headers {
			if i < len(rec) {
				args[i] = convertCell(rec[i], types[i])
			}
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("failed to insert row %d: %w", n+1, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit CSV load: %w", err)
	}
	return nil
}

// inferColumnTypes picks the narrowest type that holds every non-empty cell.
func inferColumnTypes(n int, rows [][]string) []string {
	types := make([]string, n)
	for i := range types {
		types[i] = "INTEGER"
		seen := false
		for _, row := range rows {
			if i >= len(row) || row[i] == "" {
				continue
			}
			seen = true
			v := row[i]
			if types[i] == "INTEGER" {
				if _, err := strconv.ParseInt(v, 10, 64); err == nil {
					continue
				}
				types[i] = "REAL"
			}
			if _, err := strconv.ParseFloat(v, 64); err != nil {
				types[i] = "TEXT"
				break
			}
		}
		if !seen {
			types[i] = "TEXT"
		}
	}
	return types
}

func convertCell(v, typ string) any {
	if v == "" {
		return nil
	}
	switch typ {
	case "INTEGER":
		n, _ := strconv.ParseInt(v, 10, 64)
		return n
	case "REAL":
		f, _ := strconv.ParseFloat(v, 64)
		return f
	}
	return v
}
