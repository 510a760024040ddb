package commands

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/leapquery/pkg/adapter"
	"github.com/leapstack-labs/leapquery/pkg/compile"
)

// DefaultMaxRows bounds how many result rows run prints.
const DefaultMaxRows = 1000

// RunOptions holds options for the run command.
type RunOptions struct {
	Input   QueryInput
	MaxRows int
	ShowSQL bool
}

// NewRunCommand creates the run command.
func NewRunCommand() *cobra.Command {
	opts := &RunOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Compile a query and run it against the database",
		Long: `Compile a query and execute it against the configured database.

Results are printed for inspection only; at most --max-rows rows are read.`,
		Example: `  leapquery run --query question.json
  leapquery run --question 3f0c... --max-rows 20 -o csv
  leapquery run --db-type duckdb --db-path warehouse.duckdb --metadata metadata.yaml --table orders`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runRun(cmd, opts)
		},
	}
	opts.Input.AddFlags(cmd.Flags())
	cmd.Flags().IntVar(&opts.MaxRows, "max-rows", DefaultMaxRows, "Maximum rows to read (0 for all)")
	cmd.Flags().BoolVar(&opts.ShowSQL, "show-sql", false, "Print the compiled SQL before the results")
	return cmd
}

func runRun(cmd *cobra.Command, opts *RunOptions) error {
	ctx := cmd.Context()
	cc := NewCommandContext(cmd)

	ws, err := cc.OpenWorkspace(ctx, false)
	if err != nil {
		return err
	}
	defer func() { _ = ws.Close() }()

	q, err := opts.Input.Load(ctx, cc, ws, func(p string) ([]byte, error) { return readInput(cmd, p) })
	if err != nil {
		return err
	}

	db, err := cc.Connect(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	// Compile with the connected engine's dialect.
	ws.Dialect = db.Dialect()
	sql, err := compile.Compile(q, ws.Dialect, compile.Options{Cards: ws.CardResolver(ctx)})
	if err != nil {
		return fmt.Errorf("failed to compile query: %w", err)
	}
	if opts.ShowSQL {
		cc.Renderer.Warnf("%s\n\n", sql)
	}

	start := time.Now()
	res, err := adapter.QueryAll(ctx, db, sql, opts.MaxRows)
	if err != nil {
		return err
	}
	cc.Logger.Debug("query executed",
		slog.Int("rows", len(res.Rows)),
		slog.Duration("duration", time.Since(start)))

	return cc.Renderer.Table(res.Columns, res.Rows)
}
