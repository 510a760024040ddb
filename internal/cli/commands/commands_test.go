package commands

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/leapquery/internal/config"
	"github.com/leapstack-labs/leapquery/internal/testutil"
	"github.com/leapstack-labs/leapquery/pkg/adapters/sqlite"
	"github.com/leapstack-labs/leapquery/pkg/completion"
	"github.com/leapstack-labs/leapquery/pkg/core"
	"github.com/leapstack-labs/leapquery/pkg/meta"
	"github.com/leapstack-labs/leapquery/pkg/query"
)

func TestCompleteCommand(t *testing.T) {
	cfg := testConfig(t)

	t.Run("json options", func(t *testing.T) {
		out, _, err := execute(t, cfg, NewCompleteCommand(), "--table", "ORDERS", "Coun")
		require.NoError(t, err)

		var res completion.Result
		require.NoError(t, json.Unmarshal([]byte(out), &res), out)
		require.NotEmpty(t, res.Options)
		assert.Equal(t, "Count", res.Options[0].Label)
		assert.Equal(t, 0, res.From)
	})

	t.Run("apply first option", func(t *testing.T) {
		md := *cfg
		md.Output = ModeMarkdown
		out, _, err := execute(t, &md, NewCompleteCommand(), "--table", "ORDERS", "--apply", "1", "Coun")
		require.NoError(t, err)
		assert.Equal(t, "Count\n", out)
	})

	t.Run("no completions", func(t *testing.T) {
		md := *cfg
		md.Output = ModeMarkdown
		out, _, err := execute(t, &md, NewCompleteCommand(), "--table", "ORDERS", "12")
		require.NoError(t, err)
		assert.Contains(t, out, "No completions apply")
	})

	t.Run("invalid mode", func(t *testing.T) {
		_, _, err := execute(t, cfg, NewCompleteCommand(), "--table", "ORDERS", "--mode", "sql", "Coun")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid mode")
	})

	t.Run("query source required", func(t *testing.T) {
		_, _, err := execute(t, cfg, NewCompleteCommand(), "Coun")
		require.ErrorIs(t, err, errNoQuery)
	})
}

func TestColumnsCommand(t *testing.T) {
	cfg := testConfig(t)

	out, _, err := execute(t, cfg, NewColumnsCommand(), "--table", "ORDERS")
	require.NoError(t, err)
	names := column(decodeRows(t, out), "Display Name")
	assert.Contains(t, names, "Total")
	assert.Contains(t, names, "Created At")

	_, _, err = execute(t, cfg, NewColumnsCommand(), "--table", "ORDERS", "--kind", "sideways")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown column kind")
}

func TestColumnsCommand_Returned(t *testing.T) {
	cfg := testConfig(t)
	path := testutil.WriteQuery(t, t.TempDir(), "question.json", testutil.OrdersByMonth(t, meta.SampleDatabase(meta.AllFeatures()...)))

	out, _, err := execute(t, cfg, NewColumnsCommand(), "--query", path, "--kind", "returned")
	require.NoError(t, err)
	rows := decodeRows(t, out)
	require.Len(t, rows, 2)
	assert.Equal(t, "CREATED_AT", rows[0]["Name"])
	assert.Equal(t, "count", rows[1]["Name"])
}

func TestBucketsCommand(t *testing.T) {
	cfg := testConfig(t)

	t.Run("numeric", func(t *testing.T) {
		out, _, err := execute(t, cfg, NewBucketsCommand(), "--table", "ORDERS", "Total")
		require.NoError(t, err)
		rows := decodeRows(t, out)
		assert.Contains(t, column(rows, "Display Name"), "10 bins")
		assert.Contains(t, column(rows, "Kind"), "binning")
		assert.NotContains(t, column(rows, "Kind"), "temporal")
	})

	t.Run("temporal", func(t *testing.T) {
		out, _, err := execute(t, cfg, NewBucketsCommand(), "--table", "ORDERS", "Created At")
		require.NoError(t, err)
		rows := decodeRows(t, out)
		assert.Contains(t, column(rows, "Kind"), "temporal")
	})

	t.Run("binning disabled", func(t *testing.T) {
		noBins := *cfg
		noBins.Features = []string{string(meta.FeatureTemporalExtract)}
		out, _, err := execute(t, &noBins, NewBucketsCommand(), "--table", "ORDERS", "Total")
		require.NoError(t, err)
		assert.Empty(t, decodeRows(t, out))
	})

	t.Run("unknown column", func(t *testing.T) {
		_, _, err := execute(t, cfg, NewBucketsCommand(), "--table", "ORDERS", "Nope")
		require.Error(t, err)
	})
}

func TestOperatorsCommand(t *testing.T) {
	cfg := testConfig(t)

	out, _, err := execute(t, cfg, NewOperatorsCommand(), "--table", "ORDERS")
	require.NoError(t, err)
	assert.Contains(t, column(decodeRows(t, out), "Formula"), "Count")

	out, _, err = execute(t, cfg, NewOperatorsCommand(), "--table", "ORDERS", "--functions")
	require.NoError(t, err)
	rows := decodeRows(t, out)
	assert.NotEmpty(t, rows)
	assert.Contains(t, column(rows, "Kind"), "filter")
}

func TestCompileCommand(t *testing.T) {
	cfg := testConfig(t)
	path := testutil.WriteQuery(t, t.TempDir(), "question.json", testutil.OrdersByMonth(t, meta.SampleDatabase(meta.AllFeatures()...)))

	t.Run("duckdb", func(t *testing.T) {
		out, _, err := execute(t, cfg, NewCompileCommand(), "--query", path)
		require.NoError(t, err)
		var got map[string]string
		require.NoError(t, json.Unmarshal([]byte(out), &got))
		assert.Equal(t, "duckdb", got["dialect"])
		assert.Contains(t, got["sql"], `DATE_TRUNC('month', "source"."CREATED_AT")`)
	})

	t.Run("sqlite text", func(t *testing.T) {
		md := *cfg
		md.Output = ModeMarkdown
		out, _, err := execute(t, &md, NewCompileCommand(), "--query", path, "--dialect", "sqlite")
		require.NoError(t, err)
		assert.NotContains(t, out, "DATE_TRUNC")
		assert.Contains(t, out, "COUNT(*)")
	})

	t.Run("unknown dialect", func(t *testing.T) {
		_, _, err := execute(t, cfg, NewCompileCommand(), "--query", path, "--dialect", "oracle")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown dialect")
	})

	t.Run("stdin", func(t *testing.T) {
		data, err := query.ToWire(testutil.OrdersByMonth(t, meta.SampleDatabase(meta.AllFeatures()...)))
		require.NoError(t, err)
		cmd := NewCompileCommand()
		cmd.SetIn(strings.NewReader(string(data)))
		out, _, err := execute(t, cfg, cmd, "--query", "-")
		require.NoError(t, err)
		assert.Contains(t, out, "DATE_TRUNC")
	})
}

func TestQuestionsCommands(t *testing.T) {
	cfg := testConfig(t)
	path := testutil.WriteQuery(t, t.TempDir(), "question.json", testutil.OrdersByMonth(t, meta.SampleDatabase(meta.AllFeatures()...)))

	// Listing before anything is saved does not create the state database.
	out, _, err := execute(t, cfg, NewQuestionsCommand(), "list")
	require.NoError(t, err)
	assert.Empty(t, decodeRows(t, out))
	assert.NoFileExists(t, cfg.StatePath)

	out, _, err = execute(t, cfg, NewQuestionsCommand(), "save", "--name", "Orders per month", "--query", path)
	require.NoError(t, err)
	var saved map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &saved))
	assert.Equal(t, "Orders per month", saved["name"])
	assert.InDelta(t, 1, saved["card_id"], 0)
	assert.FileExists(t, cfg.StatePath)

	out, _, err = execute(t, cfg, NewQuestionsCommand(), "list")
	require.NoError(t, err)
	rows := decodeRows(t, out)
	require.Len(t, rows, 1)
	assert.Equal(t, "Orders per month", rows[0]["Name"])
	assert.InDelta(t, 2, rows[0]["Columns"], 0)

	out, _, err = execute(t, cfg, NewQuestionsCommand(), "show", "1")
	require.NoError(t, err)
	var detail map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &detail))
	assert.Equal(t, saved["id"], detail["id"])
	assert.Len(t, detail["columns"], 2)

	// The saved question is a card source for new queries.
	out, _, err = execute(t, cfg, NewColumnsCommand(), "--card", "1")
	require.NoError(t, err)
	assert.Contains(t, column(decodeRows(t, out), "Name"), "count")

	out, _, err = execute(t, cfg, NewCompileCommand(), "--card", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "DATE_TRUNC")

	_, _, err = execute(t, cfg, NewQuestionsCommand(), "save", "--name", "Derived", "--card", "1")
	require.NoError(t, err)
	out, _, err = execute(t, cfg, NewQuestionsCommand(), "show", "1")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &detail))
	assert.Equal(t, []any{float64(2)}, detail["used_by"])

	md := *cfg
	md.Output = ModeMarkdown
	_, _, err = execute(t, &md, NewQuestionsCommand(), "delete", saved["id"].(string))
	require.Error(t, err)
	assert.Contains(t, err.Error(), `is used by "Derived" (card 2)`)

	out, _, err = execute(t, &md, NewQuestionsCommand(), "delete", "--force", saved["id"].(string))
	require.NoError(t, err)
	assert.Contains(t, out, `Deleted "Orders per month"`)

	_, _, err = execute(t, cfg, NewQuestionsCommand(), "show", "1")
	require.Error(t, err)
}

func TestIntrospectAndRun(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "shop.db")
	ctx := context.Background()

	db := sqlite.New(nil)
	require.NoError(t, db.Connect(ctx, core.AdapterConfig{Path: dbPath}))
	require.NoError(t, db.Exec(ctx, `CREATE TABLE orders (id INTEGER PRIMARY KEY, created_at DATETIME, total REAL)`))
	require.NoError(t, db.Exec(ctx, `INSERT INTO orders VALUES
		(1, '2024-01-03 10:00:00', 10.5),
		(2, '2024-02-11 12:30:00', 20.0),
		(3, '2024-02-14 09:15:00', 7.25)`))
	require.NoError(t, db.Close())

	cfg := testConfig(t)
	cfg.Database = config.DatabaseConfig{Type: "sqlite", Path: dbPath}
	metadata := filepath.Join(dir, "metadata.yaml")

	_, errOut, err := execute(t, cfg, NewIntrospectCommand(), "--out", metadata, "--name", "Shop")
	require.NoError(t, err)
	assert.Contains(t, errOut, "Wrote 1 tables")

	spec, err := meta.LoadSnapshotSpecFile(metadata)
	require.NoError(t, err)
	assert.Equal(t, "Shop", spec.Database.Name)
	assert.Equal(t, "sqlite", spec.Database.Engine)

	cfg.Metadata = metadata
	out, errOut, err := execute(t, cfg, NewRunCommand(), "--table", "orders", "--show-sql")
	require.NoError(t, err)
	assert.Contains(t, errOut, "SELECT")
	rows := decodeRows(t, out)
	require.Len(t, rows, 3)

	out, _, err = execute(t, cfg, NewRunCommand(), "--table", "orders", "--max-rows", "2")
	require.NoError(t, err)
	assert.Len(t, decodeRows(t, out), 2)
}

func TestRunCommand_NoDatabase(t *testing.T) {
	_, _, err := execute(t, testConfig(t), NewRunCommand(), "--table", "ORDERS")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no database configured")
}

func TestREPLSession(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	r, out, errOut := testRenderer(ModeMarkdown, false)
	cc := &CommandContext{Cfg: cfg, Logger: testutil.NewTestLogger(t), Renderer: r}

	ws, err := cc.OpenWorkspace(ctx, false)
	require.NoError(t, err)
	q, err := query.New(ws.Snapshot, meta.OrdersID)
	require.NoError(t, err)
	s, err := newREPLSession(cc, ws, q, -1, completion.ModeAggregation)
	require.NoError(t, err)
	defer s.close()

	assert.Contains(t, s.describe(), "aggregation mode")

	t.Run("tab completion", func(t *testing.T) {
		cands, n := s.Do([]rune("Coun"), 4)
		assert.Equal(t, 4, n)
		assert.Contains(t, cands, []rune("t"))

		cands, n = s.Do([]rune(".he"), 3)
		assert.Equal(t, 3, n)
		assert.Equal(t, [][]rune{[]rune("lp")}, cands)
	})

	t.Run("formula and apply", func(t *testing.T) {
		out.Reset()
		assert.False(t, s.handleLine(ctx, "Coun"))
		assert.Contains(t, out.String(), "Count")
		assertNoANSI(t, out.String())

		out.Reset()
		assert.False(t, s.handleLine(ctx, ".apply 1"))
		assert.Equal(t, "Count\n", out.String())
	})

	t.Run("mode", func(t *testing.T) {
		out.Reset()
		s.handleLine(ctx, ".mode filter")
		s.handleLine(ctx, ".mode")
		assert.Equal(t, "mode: filter\n", out.String())

		errOut.Reset()
		s.handleLine(ctx, ".mode nope")
		assert.Contains(t, errOut.String(), "invalid mode")
	})

	t.Run("table switch", func(t *testing.T) {
		assert.False(t, s.handleLine(ctx, ".table people"))
		assert.Contains(t, s.describe(), "People")
	})

	t.Run("reload keeps query", func(t *testing.T) {
		s.reload(ctx)
		assert.Contains(t, s.describe(), "People")
	})

	t.Run("unknown command", func(t *testing.T) {
		errOut.Reset()
		assert.False(t, s.handleLine(ctx, ".bogus"))
		assert.Contains(t, errOut.String(), "unknown command")
	})

	t.Run("quit", func(t *testing.T) {
		assert.True(t, s.handleLine(ctx, ".quit"))
	})
}

func TestFindTable(t *testing.T) {
	snap := meta.SampleDatabase()
	for _, ref := range []string{"2", "ORDERS", "orders", "main.orders", "Orders"} {
		t.Run(ref, func(t *testing.T) {
			table, err := findTable(snap, ref)
			require.NoError(t, err)
			assert.Equal(t, meta.OrdersID, table.ID)
		})
	}

	_, err := findTable(snap, "invoices")
	require.ErrorIs(t, err, meta.ErrNotFound)
}

func TestRenderer(t *testing.T) {
	t.Run("auto mode", func(t *testing.T) {
		r, _, _ := testRenderer(ModeAuto, false)
		assert.Equal(t, ModeMarkdown, r.Mode())
		r, _, _ = testRenderer("", true)
		assert.Equal(t, ModeTable, r.Mode())
	})

	t.Run("unstyled highlight", func(t *testing.T) {
		r, _, _ := testRenderer(ModeTable, false)
		assert.Equal(t, "Count", r.Highlight("Count", [][2]int{{0, 3}}))
		assert.Equal(t, "faint", r.Muted("faint"))
	})

	t.Run("csv", func(t *testing.T) {
		r, out, _ := testRenderer(ModeCSV, false)
		require.NoError(t, r.Table([]string{"a", "b"}, [][]any{{1, nil}}))
		assert.Contains(t, out.String(), "1,NULL")
	})

	t.Run("empty table", func(t *testing.T) {
		r, out, _ := testRenderer(ModeTable, false)
		require.NoError(t, r.Table([]string{"a"}, nil))
		assert.Equal(t, "(0 rows)\n", out.String())
	})

	t.Run("json table", func(t *testing.T) {
		r, out, _ := testRenderer(ModeJSON, false)
		require.NoError(t, r.Table([]string{"a", "b"}, [][]any{{1, "x"}}))
		rows := decodeRows(t, out.String())
		assert.Equal(t, []map[string]any{{"a": float64(1), "b": "x"}}, rows)
	})

	t.Run("ranges", func(t *testing.T) {
		assert.Equal(t, "[0,1] [3,3]", formatRanges([][2]int{{0, 1}, {3, 3}}))
	})
}
