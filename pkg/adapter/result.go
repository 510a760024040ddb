package adapter

import (
	"context"
	"fmt"
)

// Result is a fully materialised query result.
type Result struct {
	Columns []string
	Rows    [][]any
}

// Collect drains rows into a Result and closes them. Byte slices are
// converted to strings so results print and serialise cleanly.
// A positive maxRows stops reading after that many rows.
func Collect(rows *Rows, maxRows int) (*Result, error) {
	defer func() { _ = rows.Close() }()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to read result columns: %w", err)
	}
	res := &Result{Columns: cols}
	for rows.Next() {
		if maxRows > 0 && len(res.Rows) >= maxRows {
			break
		}
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		for i, v := range vals {
			if b, ok := v.([]byte); ok {
				vals[i] = string(b)
			}
		}
		res.Rows = append(res.Rows, vals)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return res, nil
}

// QueryAll runs sql on a and collects the result.
func QueryAll(ctx context.Context, a Adapter, sql string, maxRows int, args ...any) (*Result, error) {
	rows, err := a.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return Collect(rows, maxRows)
}
