package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/leapquery/pkg/adapter"
	"github.com/leapstack-labs/leapquery/pkg/meta"
)

// IntrospectOptions holds options for the introspect command.
type IntrospectOptions struct {
	Out         string
	DatabaseID  int64
	Name        string
	Tables      []string
	Concurrency int
}

// NewIntrospectCommand creates the introspect command.
func NewIntrospectCommand() *cobra.Command {
	opts := &IntrospectOptions{}
	cmd := &cobra.Command{
		Use:   "introspect",
		Short: "Write a metadata snapshot of the configured database",
		Long: `Read tables, columns and keys from the configured database and write a
metadata snapshot in YAML. Point the metadata setting at the file to use it.`,
		Example: `  leapquery introspect --db-type duckdb --db-path warehouse.duckdb --out metadata.yaml
  leapquery introspect --tables main.orders,main.people`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runIntrospect(cmd, opts)
		},
	}
	cmd.Flags().StringVar(&opts.Out, "out", "", "Output file (default: stdout)")
	cmd.Flags().Int64Var(&opts.DatabaseID, "database-id", 1, "Database id written to the snapshot")
	cmd.Flags().StringVar(&opts.Name, "name", "", "Database display name")
	cmd.Flags().StringSliceVar(&opts.Tables, "tables", nil, "Only these tables (schema.name)")
	cmd.Flags().IntVar(&opts.Concurrency, "concurrency", adapter.DefaultIntrospectConcurrency, "Parallel metadata reads")
	return cmd
}

func runIntrospect(cmd *cobra.Command, opts *IntrospectOptions) error {
	ctx := cmd.Context()
	cc := NewCommandContext(cmd)

	db, err := cc.Connect(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	spec, err := adapter.Introspect(ctx, db, adapter.IntrospectOptions{
		DatabaseID:  opts.DatabaseID,
		Name:        opts.Name,
		Tables:      opts.Tables,
		Concurrency: opts.Concurrency,
		Logger:      cc.Logger,
	})
	if err != nil {
		return err
	}

	data, err := meta.MarshalSnapshotSpec(spec)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	if opts.Out == "" {
		_, err = cc.Renderer.Out().Write(data)
		return err
	}
	if err := os.WriteFile(opts.Out, data, 0o600); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	cc.Renderer.Warnf("Wrote %d tables to %s\n", len(spec.Tables), opts.Out)
	return nil
}
