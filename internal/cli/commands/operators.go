package commands

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/leapquery/pkg/query"
)

// OperatorsOptions holds options for the operators command.
type OperatorsOptions struct {
	Input     QueryInput
	Functions bool
}

// NewOperatorsCommand creates the operators command.
func NewOperatorsCommand() *cobra.Command {
	opts := &OperatorsOptions{}
	cmd := &cobra.Command{
		Use:   "operators",
		Short: "List the aggregation operators the database supports",
		Long: `List aggregation operators available at a stage, filtered by the
database's features. With --functions, list expression functions instead.`,
		Example: `  leapquery operators --table ORDERS
  leapquery operators --table ORDERS --functions
  leapquery operators --table ORDERS --features binning -o json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runOperators(cmd, opts)
		},
	}
	opts.Input.AddFlags(cmd.Flags())
	cmd.Flags().BoolVar(&opts.Functions, "functions", false, "List expression functions")
	return cmd
}

func runOperators(cmd *cobra.Command, opts *OperatorsOptions) error {
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

	if opts.Functions {
		var rows [][]any
		for _, f := range query.AvailableFunctions(q, true) {
			kind := "expression"
			if f.Boolean {
				kind = "filter"
			}
			rows = append(rows, []any{f.Op, f.FormulaName, strings.Join(f.Args, ", "), kind})
		}
		return cc.Renderer.Table([]string{"Name", "Formula", "Arguments", "Kind"}, rows)
	}

	ops, err := query.AvailableAggregationOperators(q, opts.Input.Stage)
	if err != nil {
		return err
	}
	rows := make([][]any, len(ops))
	for i, op := range ops {
		rows[i] = []any{op.ShortName, op.DisplayName, op.FormulaName, strings.Join(op.Args, ", ")}
	}
	return cc.Renderer.Table([]string{"Name", "Display Name", "Formula", "Arguments"}, rows)
}
