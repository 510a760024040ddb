package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/spf13/pflag"

	"github.com/leapstack-labs/leapquery/pkg/meta"
	"github.com/leapstack-labs/leapquery/pkg/query"
)

// errNoQuery is returned when no query source flag is set.
var errNoQuery = errors.New("one of --query, --question, --table or --card is required")

// QueryInput selects the query a command operates on.
type QueryInput struct {
	File     string // wire JSON, "-" for stdin
	Question string // saved question id
	Table    string // table id or name
	Card     int64
	Stage    int
}

// AddFlags registers the query source flags.
func (in *QueryInput) AddFlags(fs *pflag.FlagSet) {
	fs.StringVarP(&in.File, "query", "q", "", "Query in wire JSON form (file path, - for stdin)")
	fs.StringVar(&in.Question, "question", "", "Saved question id")
	fs.StringVar(&in.Table, "table", "", "Start a new query on this table (id or name)")
	fs.Int64Var(&in.Card, "card", 0, "Start a new query on this saved card id")
	fs.IntVar(&in.Stage, "stage", -1, "Stage index (-1 is the last stage)")
}

// Load builds the selected query. Queries read from JSON or the store are
// reconciled with the current features; warnings are logged.
func (in *QueryInput) Load(ctx context.Context, cc *CommandContext, ws *Workspace, readFile func(string) ([]byte, error)) (*query.Query, error) {
	var (
		q        *query.Query
		warnings []query.Warning
		err      error
	)
	switch {
	case in.File != "":
		data, rerr := readFile(in.File)
		if rerr != nil {
			return nil, rerr
		}
		if q, err = query.FromWire(ws.Snapshot, data); err != nil {
			return nil, err
		}
		q, warnings, err = query.Reconcile(q)
	case in.Question != "":
		if ws.Store == nil {
			return nil, fmt.Errorf("no saved questions at %s", cc.Cfg.StatePath)
		}
		q, warnings, err = ws.Store.LoadQuestion(ctx, ws.Snapshot, in.Question)
	case in.Card != 0:
		q, err = query.NewFromCard(ws.Snapshot, in.Card)
	case in.Table != "":
		var table *meta.Table
		if table, err = findTable(ws.Snapshot, in.Table); err != nil {
			return nil, err
		}
		q, err = query.New(ws.Snapshot, table.ID)
	default:
		return nil, errNoQuery
	}
	if err != nil {
		return nil, err
	}
	for _, w := range warnings {
		cc.Logger.Warn("query adjusted to database features", slog.String("warning", w.String()))
	}
	return q, nil
}

// findTable resolves a table by id, name, schema-qualified name or
// display name. Names match case-insensitively.
func findTable(p meta.Provider, ref string) (*meta.Table, error) {
	if id, err := strconv.ParseInt(ref, 10, 64); err == nil {
		return p.LookupTable(id)
	}
	for _, t := range p.Tables() {
		if strings.EqualFold(t.Name, ref) || strings.EqualFold(t.DisplayName, ref) ||
			(t.Schema != "" && strings.EqualFold(t.Schema+"."+t.Name, ref)) {
			return t, nil
		}
	}
	return nil, fmt.Errorf("%w: table %q", meta.ErrNotFound, ref)
}

// findColumn resolves a column among cols by output name, display name or
// long display name.
func findColumn(q *query.Query, stage int, cols []query.Column, ref string) (query.Column, error) {
	for _, c := range cols {
		info, err := query.DisplayInfo(q, stage, c)
		if err != nil {
			return query.Column{}, err
		}
		if strings.EqualFold(info.Name, ref) || strings.EqualFold(info.DisplayName, ref) ||
			strings.EqualFold(info.LongDisplayName, ref) {
			return c, nil
		}
	}
	return query.Column{}, fmt.Errorf("column %q not found", ref)
}
