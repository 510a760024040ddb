package commands

import (
	"github.com/spf13/cobra"

	"github.com/leapstack-labs/leapquery/pkg/query"
)

// BucketsOptions holds options for the buckets command.
type BucketsOptions struct {
	Input QueryInput
}

// NewBucketsCommand creates the buckets command.
func NewBucketsCommand() *cobra.Command {
	opts := &BucketsOptions{}
	cmd := &cobra.Command{
		Use:   "buckets <column>",
		Short: "List binning strategies and temporal buckets for a column",
		Long: `List the binning strategies and temporal buckets a breakout column can use.

Numeric columns offer binning when the database supports it; temporal
columns offer truncation and, with temporal-extract, extraction units.`,
		Example: `  leapquery buckets --table ORDERS Total
  leapquery buckets --table PEOPLE Latitude
  leapquery buckets --table ORDERS "Created At"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBuckets(cmd, args[0], opts)
		},
	}
	opts.Input.AddFlags(cmd.Flags())
	return cmd
}

func runBuckets(cmd *cobra.Command, ref string, opts *BucketsOptions) error {
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
	stage := opts.Input.Stage

	cols, err := query.BreakoutableColumns(q, stage)
	if err != nil {
		return err
	}
	col, err := findColumn(q, stage, cols, ref)
	if err != nil {
		return err
	}

	var rows [][]any
	buckets, err := query.AvailableTemporalBuckets(q, stage, col)
	if err != nil {
		return err
	}
	for _, b := range buckets {
		info, err := query.DisplayInfo(q, stage, b)
		if err != nil {
			return err
		}
		rows = append(rows, []any{"temporal", info.Name, info.DisplayName, info.Default})
	}
	strategies, err := query.AvailableBinningStrategies(q, stage, col)
	if err != nil {
		return err
	}
	for _, s := range strategies {
		info, err := query.DisplayInfo(q, stage, s)
		if err != nil {
			return err
		}
		rows = append(rows, []any{"binning", info.Name, info.DisplayName, info.Default})
	}
	return cc.Renderer.Table([]string{"Kind", "Name", "Display Name", "Default"}, rows)
}
