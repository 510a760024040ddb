package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/leapquery/pkg/completion"
)

// CompleteOptions holds options for the complete command.
type CompleteOptions struct {
	Input  QueryInput
	Mode   string
	Cursor int
	Apply  int
}

// NewCompleteCommand creates the complete command.
func NewCompleteCommand() *cobra.Command {
	opts := &CompleteOptions{}
	cmd := &cobra.Command{
		Use:   "complete <formula>",
		Short: "Suggest completions for a formula",
		Long: `Suggest completions for a partially typed custom expression, filter or
aggregation formula.

The cursor defaults to the end of the formula. Options are ranked by match
quality; matched characters are highlighted on a terminal.`,
		Example: `  # Aggregation functions matching "Coun"
  leapquery complete --table ORDERS "Coun"

  # Column references in a filter
  leapquery complete --table ORDERS --mode filter "[Cre"

  # Apply the first option and print the new formula
  leapquery complete --table ORDERS --apply 1 "Cum"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runComplete(cmd, args[0], opts)
		},
	}
	opts.Input.AddFlags(cmd.Flags())
	cmd.Flags().StringVarP(&opts.Mode, "mode", "m", string(completion.ModeAggregation), "Formula mode: aggregation, expression, filter")
	cmd.Flags().IntVar(&opts.Cursor, "cursor", -1, "Cursor byte offset (-1 is the end)")
	cmd.Flags().IntVar(&opts.Apply, "apply", 0, "Apply the n-th option (1-based) and print the result")
	_ = cmd.RegisterFlagCompletionFunc("mode", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return []string{"aggregation", "expression", "filter"}, cobra.ShellCompDirectiveNoFileComp
	})
	return cmd
}

func parseMode(s string) (completion.Mode, error) {
	switch m := completion.Mode(strings.ToLower(s)); m {
	case completion.ModeAggregation, completion.ModeExpression, completion.ModeFilter:
		return m, nil
	}
	return "", fmt.Errorf("invalid mode %q (expected aggregation, expression or filter)", s)
}

func runComplete(cmd *cobra.Command, doc string, opts *CompleteOptions) error {
	ctx := cmd.Context()
	cc := NewCommandContext(cmd)
	mode, err := parseMode(opts.Mode)
	if err != nil {
		return err
	}
	cursor := opts.Cursor
	if cursor < 0 || cursor > len(doc) {
		cursor = len(doc)
	}

	ws, err := cc.OpenWorkspace(ctx, false)
	if err != nil {
		return err
	}
	defer func() { _ = ws.Close() }()

	q, err := opts.Input.Load(ctx, cc, ws, func(p string) ([]byte, error) { return readInput(cmd, p) })
	if err != nil {
		return err
	}

	res, err := completion.Complete(completion.Request{
		Query: q, Stage: opts.Input.Stage, Mode: mode, Doc: doc, Cursor: cursor,
	})
	if err != nil {
		return err
	}

	if opts.Apply > 0 {
		return applyOption(cc.Renderer, doc, cursor, res, opts.Apply)
	}
	return renderCompletions(cc.Renderer, res)
}

// applyOption prints doc with the n-th option accepted.
func applyOption(r *Renderer, doc string, cursor int, res *completion.Result, n int) error {
	if res == nil || n > len(res.Options) {
		return fmt.Errorf("no option %d", n)
	}
	opt := res.Options[n-1]
	newDoc, newCursor := doc, cursor
	if opt.Apply != nil {
		newDoc, newCursor = opt.Apply.ApplyTo(doc)
	}
	if r.IsJSON() {
		return r.JSON(map[string]any{"doc": newDoc, "cursor": newCursor})
	}
	r.Println(newDoc)
	return nil
}

func renderCompletions(r *Renderer, res *completion.Result) error {
	if res == nil {
		if r.IsJSON() {
			return r.JSON(nil)
		}
		r.Println("No completions apply at the cursor.")
		return nil
	}
	if r.IsJSON() {
		return r.JSON(res)
	}
	rows := make([][]any, len(res.Options))
	for i, o := range res.Options {
		insert := ""
		if o.Apply != nil {
			insert = o.Apply.Insert
		}
		rows[i] = []any{i + 1, r.Highlight(o.Label, o.Matches), o.Type, formatRanges(o.Matches), insert}
	}
	r.Printf("Replacing [%d,%d)\n", res.From, res.To)
	return r.Table([]string{"#", "Label", "Type", "Matches", "Insert"}, rows)
}
