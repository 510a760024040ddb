package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/leapstack-labs/leapquery/pkg/completion"
	"github.com/leapstack-labs/leapquery/pkg/meta"
	"github.com/leapstack-labs/leapquery/pkg/query"
)

const (
	replPrompt      = "leapquery> "
	replHistoryFile = "repl_history"
)

// NewREPLCommand creates the repl command.
func NewREPLCommand() *cobra.Command {
	var input QueryInput
	var mode string
	cmd := &cobra.Command{
		Use:   "repl",
		Short: "Interactive formula editor with completion",
		Long: `Start an interactive formula editor.

Type a formula to see ranked completions at its end; Tab completes the
current word. The metadata snapshot is reloaded when its file changes.`,
		Example: `  leapquery repl --table ORDERS
  leapquery repl --metadata metadata.yaml --table orders --mode filter`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runREPL(cmd, &input, mode)
		},
	}
	input.AddFlags(cmd.Flags())
	cmd.Flags().StringVarP(&mode, "mode", "m", string(completion.ModeAggregation), "Formula mode: aggregation, expression, filter")
	return cmd
}

func runREPL(cmd *cobra.Command, input *QueryInput, modeFlag string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	cc := NewCommandContext(cmd)

	mode, err := parseMode(modeFlag)
	if err != nil {
		return err
	}
	ws, err := cc.OpenWorkspace(ctx, false)
	if err != nil {
		return err
	}
	if input.File == "" && input.Question == "" && input.Card == 0 && input.Table == "" {
		if tables := ws.Snapshot.Tables(); len(tables) > 0 {
			input.Table = strconv.FormatInt(tables[0].ID, 10)
		}
	}
	q, err := input.Load(ctx, cc, ws, func(p string) ([]byte, error) { return readInput(cmd, p) })
	if err != nil {
		_ = ws.Close()
		return err
	}
	session, err := newREPLSession(cc, ws, q, input.Stage, mode)
	if err != nil {
		_ = ws.Close()
		return err
	}
	defer session.close()

	if cc.Cfg.Metadata != "" && !cc.Cfg.Sample {
		go func() {
			err := meta.WatchSnapshot(ctx, cc.Cfg.Metadata, cc.Logger, func(*meta.Snapshot) {
				session.reload(ctx)
			})
			if err != nil {
				cc.Logger.Warn("metadata watcher stopped", slog.Any("error", err))
			}
		}()
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          replPrompt,
		HistoryFile:     historyPath(cc.Cfg.StatePath),
		AutoComplete:    session,
		InterruptPrompt: "^C",
		EOFPrompt:       ".quit",
	})
	if err != nil {
		return fmt.Errorf("failed to initialize REPL: %w", err)
	}
	defer func() { _ = rl.Close() }()

	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "LeapQuery formula editor (%s)\n", session.describe())
	_, _ = fmt.Fprintln(out, "Type .help for commands, .quit to exit")
	_, _ = fmt.Fprintln(out)

	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if session.handleLine(ctx, strings.TrimSpace(line)) {
			return nil
		}
	}
}

// historyPath keeps history next to the state database when its directory
// exists.
func historyPath(statePath string) string {
	if statePath == "" {
		return ""
	}
	dir := filepath.Dir(statePath)
	if _, err := os.Stat(dir); err != nil {
		return ""
	}
	return filepath.Join(dir, replHistoryFile)
}

// replSession is the editor state. The readline completer and the
// metadata watcher run on other goroutines, so fields are guarded by mu.
type replSession struct {
	cc *CommandContext

	mu      sync.Mutex
	ws      *Workspace
	q       *query.Query
	wire    []byte
	stage   int
	mode    completion.Mode
	lastDoc string
	last    *completion.Result
	closed  bool
}

var _ readline.AutoCompleter = (*replSession)(nil)

func newREPLSession(cc *CommandContext, ws *Workspace, q *query.Query, stage int, mode completion.Mode) (*replSession, error) {
	s := &replSession{cc: cc, ws: ws, stage: stage, mode: mode}
	if err := s.setQuery(q); err != nil {
		return nil, err
	}
	return s, nil
}

// setQuery must be called with mu held or before the session is shared.
func (s *replSession) setQuery(q *query.Query) error {
	wire, err := query.ToWire(q)
	if err != nil {
		return err
	}
	s.q, s.wire = q, wire
	s.last, s.lastDoc = nil, ""
	return nil
}

func (s *replSession) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	_ = s.ws.Close()
}

func (s *replSession) describe() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	src := s.q.Source()
	if src.IsCard() {
		if c, err := s.ws.Snapshot.LookupCard(src.CardID); err == nil {
			return fmt.Sprintf("%s, %s mode", c.Name, s.mode)
		}
	} else if t, err := s.ws.Snapshot.LookupTable(src.TableID); err == nil {
		return fmt.Sprintf("%s, %s mode", t.DisplayName, s.mode)
	}
	return fmt.Sprintf("%s mode", s.mode)
}

// reload rebuilds the workspace from the metadata file and carries the
// current query over, reconciled with the new features.
func (s *replSession) reload(ctx context.Context) {
	ws, err := s.cc.OpenWorkspace(ctx, false)
	if err != nil {
		s.cc.Logger.Warn("failed to reload metadata", slog.Any("error", err))
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		_ = ws.Close()
		return
	}
	q, err := query.FromWire(ws.Snapshot, s.wire)
	if err == nil {
		var warnings []query.Warning
		q, warnings, err = query.Reconcile(q)
		for _, w := range warnings {
			s.cc.Logger.Warn("query adjusted to database features", slog.String("warning", w.String()))
		}
	}
	if err != nil {
		_ = ws.Close()
		s.cc.Logger.Warn("query no longer matches metadata", slog.Any("error", err))
		return
	}
	old := s.ws
	s.ws = ws
	if err := s.setQuery(q); err != nil {
		s.cc.Logger.Warn("failed to encode query", slog.Any("error", err))
	}
	_ = old.Close()
	s.cc.Logger.Info("metadata reloaded")
}

func (s *replSession) complete(doc string, cursor int) (*completion.Result, error) {
	return completion.Complete(completion.Request{
		Query: s.q, Stage: s.stage, Mode: s.mode, Doc: doc, Cursor: cursor,
	})
}

// Do implements readline.AutoCompleter. Readline can only append at the
// cursor, so it offers the options whose insertion extends the typed word.
func (s *replSession) Do(line []rune, pos int) ([][]rune, int) {
	if len(line) > 0 && line[0] == '.' {
		return completeDotCommand(string(line[:pos]))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	doc := string(line)
	cursor := len(string(line[:pos]))
	res, err := s.complete(doc, cursor)
	if err != nil || res == nil || res.From > cursor {
		return nil, 0
	}
	typed := doc[res.From:cursor]
	var out [][]rune
	for _, o := range res.Options {
		text := o.Label
		if o.Apply != nil {
			text = o.Apply.Insert
		}
		if strings.HasPrefix(text, typed) && len(text) > len(typed) {
			out = append(out, []rune(text[len(typed):]))
		}
	}
	return out, len([]rune(typed))
}

var dotCommands = []string{".apply", ".card", ".clear", ".columns", ".exit", ".help", ".mode", ".operators", ".quit", ".stage", ".table"}

func completeDotCommand(typed string) ([][]rune, int) {
	var out [][]rune
	for _, c := range dotCommands {
		if strings.HasPrefix(c, typed) && c != typed {
			out = append(out, []rune(c[len(typed):]))
		}
	}
	return out, len([]rune(typed))
}

// handleLine runs one input line and reports whether the session ends.
func (s *replSession) handleLine(ctx context.Context, line string) bool {
	if line == "" {
		return false
	}
	r := s.cc.Renderer
	if !strings.HasPrefix(line, ".") {
		s.mu.Lock()
		res, err := s.complete(line, len(line))
		if err == nil {
			s.last, s.lastDoc = res, line
		}
		s.mu.Unlock()
		if err != nil {
			r.Warnf("Error: %v\n", err)
			return false
		}
		if err := renderCompletions(r, res); err != nil {
			r.Warnf("Error: %v\n", err)
		}
		return false
	}

	if err := s.dotCommand(ctx, strings.Fields(line)); err != nil {
		if errors.Is(err, errQuit) {
			return true
		}
		r.Warnf("Error: %v\n", err)
	}
	return false
}

var errQuit = errors.New("quit")

func (s *replSession) dotCommand(_ context.Context, parts []string) error {
	r := s.cc.Renderer
	arg := ""
	if len(parts) > 1 {
		arg = strings.Join(parts[1:], " ")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch strings.ToLower(parts[0]) {
	case ".quit", ".exit":
		return errQuit
	case ".help":
		printREPLHelp(r.Out())
	case ".clear":
		r.Printf("\033[H\033[2J")
	case ".mode":
		if arg == "" {
			r.Printf("mode: %s\n", s.mode)
			return nil
		}
		mode, err := parseMode(arg)
		if err != nil {
			return err
		}
		s.mode = mode
		s.last = nil
	case ".stage":
		if arg == "" {
			r.Printf("stage: %d of %d\n", s.stage, s.q.StageCount())
			return nil
		}
		n, err := strconv.Atoi(arg)
		if err != nil {
			return fmt.Errorf("invalid stage %q", arg)
		}
		if _, err := query.HasClauses(s.q, n); err != nil {
			return err
		}
		s.stage = n
		s.last = nil
	case ".table":
		t, err := findTable(s.ws.Snapshot, arg)
		if err != nil {
			return err
		}
		q, err := query.New(s.ws.Snapshot, t.ID)
		if err != nil {
			return err
		}
		s.stage = -1
		return s.setQuery(q)
	case ".card":
		id, err := strconv.ParseInt(arg, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid card id %q", arg)
		}
		q, err := query.NewFromCard(s.ws.Snapshot, id)
		if err != nil {
			return err
		}
		s.stage = -1
		return s.setQuery(q)
	case ".columns":
		cols, err := query.VisibleColumns(s.q, s.stage)
		if err != nil {
			return err
		}
		rows := make([][]any, 0, len(cols))
		for _, c := range cols {
			info, err := query.DisplayInfo(s.q, s.stage, c)
			if err != nil {
				return err
			}
			rows = append(rows, []any{info.DisplayName, info.Group, string(c.BaseType())})
		}
		return r.Table([]string{"Column", "Group", "Type"}, rows)
	case ".operators":
		ops, err := query.AvailableAggregationOperators(s.q, s.stage)
		if err != nil {
			return err
		}
		rows := make([][]any, len(ops))
		for i, op := range ops {
			rows[i] = []any{op.FormulaName, op.DisplayName}
		}
		return r.Table([]string{"Formula", "Display Name"}, rows)
	case ".apply":
		n, err := strconv.Atoi(arg)
		if err != nil || n < 1 {
			return fmt.Errorf("usage: .apply <option number>")
		}
		if s.last == nil {
			return fmt.Errorf("no completions to apply; type a formula first")
		}
		return applyOption(r, s.lastDoc, len(s.lastDoc), s.last, n)
	default:
		return fmt.Errorf("unknown command: %s (type .help for commands)", parts[0])
	}
	return nil
}

func printREPLHelp(w io.Writer) {
	help := `
Commands:
  .help             Show this help message
  .mode [m]         Show or set the formula mode (aggregation, expression, filter)
  .stage [n]        Show or set the stage (-1 is the last stage)
  .table <name>     Start a new query on a table
  .card <id>        Start a new query on a saved question
  .columns          List the columns formulas can reference
  .operators        List aggregation functions
  .apply <n>        Accept option n of the last completion
  .clear            Clear the screen
  .quit / .exit     Exit the REPL

Tips:
  - Any other line is a formula; completions are shown for its end
  - Tab completes the word under the cursor
  - Column references are written [Column Name]
`
	_, _ = fmt.Fprintln(w, help)
}
