package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/leapquery/internal/config"
	"github.com/leapstack-labs/leapquery/internal/state"
	"github.com/leapstack-labs/leapquery/pkg/adapter"
	"github.com/leapstack-labs/leapquery/pkg/compile"
	"github.com/leapstack-labs/leapquery/pkg/dialect"
	"github.com/leapstack-labs/leapquery/pkg/meta"

	// Register adapters and their dialects.
	_ "github.com/leapstack-labs/leapquery/pkg/adapters/duckdb"
	_ "github.com/leapstack-labs/leapquery/pkg/adapters/postgres"
	_ "github.com/leapstack-labs/leapquery/pkg/adapters/sqlite"
)

// CommandContext holds common dependencies for CLI commands.
type CommandContext struct {
	Cfg      *config.Config
	Logger   *slog.Logger
	Renderer *Renderer
}

// NewCommandContext builds a CommandContext from the command's context.
func NewCommandContext(cmd *cobra.Command) *CommandContext {
	cfg := config.FromContext(cmd.Context())
	return &CommandContext{
		Cfg:      cfg,
		Logger:   config.GetLogger(cmd.Context()),
		Renderer: NewRenderer(cmd.OutOrStdout(), cmd.ErrOrStderr(), cfg.Output),
	}
}

// Workspace is the metadata, saved questions and dialect a command works
// against.
type Workspace struct {
	Snapshot *meta.Snapshot
	// Spec is the snapshot spec before saved questions were merged in.
	Spec meta.SnapshotSpec
	// Store is nil when no state database exists yet.
	Store   *state.SQLiteStore
	Dialect *dialect.Dialect
}

// Close releases the state store.
func (w *Workspace) Close() error {
	if w.Store == nil {
		return nil
	}
	return w.Store.Close()
}

// CardResolver returns a resolver compiling saved questions, or nil when
// there is no store.
func (w *Workspace) CardResolver(ctx context.Context) compile.CardResolver {
	if w.Store == nil {
		return nil
	}
	return w.Store.CardResolver(ctx, w.Snapshot, w.Dialect)
}

// OpenWorkspace loads metadata and, when createStore is set or the state
// database already exists, the saved question store.
func (cc *CommandContext) OpenWorkspace(ctx context.Context, createStore bool) (*Workspace, error) {
	spec, err := cc.loadSpec()
	if err != nil {
		return nil, err
	}
	ws := &Workspace{Spec: spec}

	store, err := cc.openStore(ctx, createStore)
	if err != nil {
		return nil, err
	}
	ws.Store = store

	merged := spec
	if store != nil {
		cards, err := store.CardSpecs(ctx, spec.Database.ID)
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("failed to load saved questions: %w", err)
		}
		merged = state.MergeCards(spec, cards)
	}
	if ws.Snapshot, err = cc.buildSnapshot(merged); err != nil {
		_ = ws.Close()
		return nil, err
	}

	if ws.Dialect, err = cc.resolveDialect(spec.Database.Engine); err != nil {
		_ = ws.Close()
		return nil, err
	}
	return ws, nil
}

func (cc *CommandContext) loadSpec() (meta.SnapshotSpec, error) {
	if cc.Cfg.Sample || cc.Cfg.Metadata == "" {
		cc.Logger.Debug("using sample database")
		return meta.SampleSpec(meta.AllFeatures()...), nil
	}
	cc.Logger.Debug("loading metadata snapshot", slog.String("path", cc.Cfg.Metadata))
	return meta.LoadSnapshotSpecFile(cc.Cfg.Metadata)
}

// buildSnapshot validates spec and applies configured feature overrides.
func (cc *CommandContext) buildSnapshot(spec meta.SnapshotSpec) (*meta.Snapshot, error) {
	snap, err := meta.NewSnapshot(spec)
	if err != nil {
		return nil, err
	}
	if overrides := cc.Cfg.FeatureOverrides(); overrides != nil {
		snap = snap.WithFeatures(overrides...)
	}
	return snap, nil
}

func (cc *CommandContext) openStore(ctx context.Context, create bool) (*state.SQLiteStore, error) {
	path := cc.Cfg.StatePath
	if path == "" {
		return nil, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if !create {
			return nil, nil
		}
		if dir := filepath.Dir(path); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return nil, fmt.Errorf("failed to create state directory: %w", err)
			}
		}
	}
	store := state.NewSQLiteStore(cc.Logger)
	if err := store.Open(ctx, path); err != nil {
		return nil, fmt.Errorf("failed to open state database: %w", err)
	}
	return store, nil
}

// resolveDialect picks the configured database's dialect, then the
// snapshot's engine, then DuckDB.
func (cc *CommandContext) resolveDialect(engine string) (*dialect.Dialect, error) {
	name := cc.Cfg.Database.Type
	if name == "" {
		name = engine
	}
	if name == "" {
		name = "duckdb"
	}
	d, ok := dialect.Get(name)
	if !ok {
		return nil, fmt.Errorf("unknown dialect %q (available: %v)", name, dialect.List())
	}
	return d, nil
}

// Connect opens the configured database.
func (cc *CommandContext) Connect(ctx context.Context) (adapter.Adapter, error) {
	if !cc.Cfg.HasDatabase() {
		return nil, fmt.Errorf("no database configured\nHint: set database.type in leapquery.yaml or pass --db-type")
	}
	return adapter.Open(ctx, *cc.Cfg.AdapterConfig(), cc.Logger)
}

// readInput reads a file argument, with "-" meaning stdin.
func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	data, err := os.ReadFile(path) //nolint:gosec // path is a user-supplied CLI argument
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return data, nil
}
