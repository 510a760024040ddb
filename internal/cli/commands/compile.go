package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/leapquery/pkg/compile"
	"github.com/leapstack-labs/leapquery/pkg/dialect"
)

// CompileOptions holds options for the compile command.
type CompileOptions struct {
	Input   QueryInput
	Dialect string
}

// NewCompileCommand creates the compile command.
func NewCompileCommand() *cobra.Command {
	opts := &CompileOptions{}
	cmd := &cobra.Command{
		Use:   "compile",
		Short: "Compile a query to SQL",
		Long: `Compile a query to a single SQL statement.

The dialect follows the configured database, then the metadata snapshot's
engine. Saved questions used as card sources are compiled inline.`,
		Example: `  leapquery compile --query question.json
  leapquery compile --question 3f0c... --dialect postgres
  cat question.json | leapquery compile --query -`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCompile(cmd, opts)
		},
	}
	opts.Input.AddFlags(cmd.Flags())
	cmd.Flags().StringVar(&opts.Dialect, "dialect", "", "SQL dialect (duckdb, postgres, sqlite)")
	_ = cmd.RegisterFlagCompletionFunc("dialect", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return dialect.List(), cobra.ShellCompDirectiveNoFileComp
	})
	return cmd
}

func runCompile(cmd *cobra.Command, opts *CompileOptions) error {
	ctx := cmd.Context()
	cc := NewCommandContext(cmd)

	ws, err := cc.OpenWorkspace(ctx, false)
	if err != nil {
		return err
	}
	defer func() { _ = ws.Close() }()

	if opts.Dialect != "" {
		d, ok := dialect.Get(opts.Dialect)
		if !ok {
			return fmt.Errorf("unknown dialect %q (available: %s)", opts.Dialect, strings.Join(dialect.List(), ", "))
		}
		ws.Dialect = d
	}

	q, err := opts.Input.Load(ctx, cc, ws, func(p string) ([]byte, error) { return readInput(cmd, p) })
	if err != nil {
		return err
	}
	sql, err := compile.Compile(q, ws.Dialect, compile.Options{Cards: ws.CardResolver(ctx)})
	if err != nil {
		return fmt.Errorf("failed to compile query: %w", err)
	}

	if cc.Renderer.IsJSON() {
		return cc.Renderer.JSON(map[string]string{"dialect": ws.Dialect.Name, "sql": sql})
	}
	cc.Renderer.Println(sql)
	return nil
}
