package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/leapquery/pkg/query"
)

// Column listing kinds.
var columnKinds = map[string]func(*query.Query, int) ([]query.Column, error){
	"visible":      query.VisibleColumns,
	"breakoutable": query.BreakoutableColumns,
	"filterable":   query.FilterableColumns,
	"orderable":    query.OrderableColumns,
	"aggregable":   query.AggregableColumns,
	"join-lhs":     query.JoinConditionLHSColumns,
}

// ColumnsOptions holds options for the columns command.
type ColumnsOptions struct {
	Input QueryInput
	Kind  string
}

// NewColumnsCommand creates the columns command.
func NewColumnsCommand() *cobra.Command {
	opts := &ColumnsOptions{}
	cmd := &cobra.Command{
		Use:   "columns",
		Short: "List the columns a stage offers",
		Long: `List the columns of a query stage with their display names.

Kinds: visible, breakoutable, filterable, orderable, aggregable, join-lhs
and returned (the columns the stage produces).`,
		Example: `  leapquery columns --table ORDERS
  leapquery columns --query question.json --kind returned
  leapquery columns --table ORDERS --kind breakoutable -o json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runColumns(cmd, opts)
		},
	}
	opts.Input.AddFlags(cmd.Flags())
	cmd.Flags().StringVarP(&opts.Kind, "kind", "k", "visible", "Column kind to list")
	_ = cmd.RegisterFlagCompletionFunc("kind", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return []string{"visible", "breakoutable", "filterable", "orderable", "aggregable", "join-lhs", "returned"}, cobra.ShellCompDirectiveNoFileComp
	})
	return cmd
}

func runColumns(cmd *cobra.Command, opts *ColumnsOptions) error {
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

	var rows [][]any
	if opts.Kind == "returned" {
		cols, err := query.ReturnedColumns(q, stage)
		if err != nil {
			return err
		}
		for _, rc := range cols {
			info, err := query.DisplayInfo(q, stage, rc)
			if err != nil {
				return err
			}
			rows = append(rows, []any{info.Name, info.DisplayName, info.Group, string(rc.BaseType)})
		}
	} else {
		list, ok := columnKinds[opts.Kind]
		if !ok {
			return fmt.Errorf("unknown column kind %q", opts.Kind)
		}
		cols, err := list(q, stage)
		if err != nil {
			return err
		}
		for _, c := range cols {
			info, err := query.DisplayInfo(q, stage, c)
			if err != nil {
				return err
			}
			rows = append(rows, []any{info.Name, info.DisplayName, info.Group, string(c.BaseType())})
		}
	}
	return cc.Renderer.Table([]string{"Name", "Display Name", "Group", "Type"}, rows)
}
