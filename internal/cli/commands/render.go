package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/muesli/termenv"
	"golang.org/x/term"
)

// Output modes.
const (
	ModeAuto     = "auto"
	ModeTable    = "table"
	ModeJSON     = "json"
	ModeCSV      = "csv"
	ModeMarkdown = "markdown"
)

// Renderer writes command output in the configured mode.
type Renderer struct {
	out    io.Writer
	errOut io.Writer
	mode   string
	styled bool
	match  lipgloss.Style
	muted  lipgloss.Style
}

// NewRenderer resolves mode against out. Auto renders tables on a terminal
// and markdown otherwise. Styling is off when out is not a terminal or
// NO_COLOR is set.
func NewRenderer(out, errOut io.Writer, mode string) *Renderer {
	return newRenderer(out, errOut, mode, isTerminal(out))
}

func newRenderer(out, errOut io.Writer, mode string, tty bool) *Renderer {
	if mode == "" || mode == ModeAuto {
		mode = ModeMarkdown
		if tty {
			mode = ModeTable
		}
	}
	lr := lipgloss.NewRenderer(out)
	styled := tty && !termenv.EnvNoColor()
	if !styled {
		lr.SetColorProfile(termenv.Ascii)
	}
	return &Renderer{
		out:    out,
		errOut: errOut,
		mode:   mode,
		styled: styled,
		match:  lr.NewStyle().Bold(true).Foreground(lipgloss.Color("212")),
		muted:  lr.NewStyle().Faint(true),
	}
}

// Mode returns the resolved output mode.
func (r *Renderer) Mode() string { return r.mode }

// IsJSON reports whether output is JSON.
func (r *Renderer) IsJSON() bool { return r.mode == ModeJSON }

// Out returns the output writer.
func (r *Renderer) Out() io.Writer { return r.out }

// Println writes a line to the output.
func (r *Renderer) Println(a ...any) {
	_, _ = fmt.Fprintln(r.out, a...)
}

// Printf writes formatted text to the output.
func (r *Renderer) Printf(format string, a ...any) {
	_, _ = fmt.Fprintf(r.out, format, a...)
}

// Warnf writes a message to the error stream.
func (r *Renderer) Warnf(format string, a ...any) {
	_, _ = fmt.Fprintf(r.errOut, format, a...)
}

// JSON writes v as indented JSON.
func (r *Renderer) JSON(v any) error {
	enc := json.NewEncoder(r.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// Table renders rows under headers. JSON mode writes an array of objects
// keyed by header.
func (r *Renderer) Table(headers []string, rows [][]any) error {
	if r.mode == ModeJSON {
		objs := make([]map[string]any, len(rows))
		for i, row := range rows {
			obj := make(map[string]any, len(headers))
			for j, h := range headers {
				if j < len(row) {
					obj[h] = row[j]
				}
			}
			objs[i] = obj
		}
		return r.JSON(objs)
	}

	t := table.NewWriter()
	t.SetOutputMirror(r.out)
	t.SetStyle(table.StyleLight)
	header := make(table.Row, len(headers))
	for i, h := range headers {
		header[i] = h
	}
	t.AppendHeader(header)
	for _, row := range rows {
		out := make(table.Row, len(row))
		for i, v := range row {
			out[i] = formatValue(v)
		}
		t.AppendRow(out)
	}

	switch r.mode {
	case ModeCSV:
		t.RenderCSV()
	case ModeMarkdown:
		t.RenderMarkdown()
	default:
		if len(rows) == 0 {
			r.Println("(0 rows)")
			return nil
		}
		t.Render()
		r.Printf("(%d rows)\n", len(rows))
	}
	return nil
}

// Highlight styles the inclusive rune ranges of label. Unstyled output
// returns label unchanged.
func (r *Renderer) Highlight(label string, ranges [][2]int) string {
	if !r.styled || len(ranges) == 0 {
		return label
	}
	runes := []rune(label)
	var b strings.Builder
	pos := 0
	for _, m := range ranges {
		start, end := m[0], m[1]+1
		if start < pos || end > len(runes) || start >= end {
			continue
		}
		b.WriteString(string(runes[pos:start]))
		b.WriteString(r.match.Render(string(runes[start:end])))
		pos = end
	}
	b.WriteString(string(runes[pos:]))
	return b.String()
}

// Muted renders secondary text.
func (r *Renderer) Muted(s string) string {
	if !r.styled {
		return s
	}
	return r.muted.Render(s)
}

func formatValue(v any) any {
	if v == nil {
		return "NULL"
	}
	return v
}

// formatRanges renders match ranges as "[0,1] [3,3]".
func formatRanges(ranges [][2]int) string {
	parts := make([]string, len(ranges))
	for i, m := range ranges {
		parts[i] = fmt.Sprintf("[%d,%d]", m[0], m[1])
	}
	return strings.Join(parts, " ")
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return term.IsTerminal(int(f.Fd())) //nolint:gosec // file descriptors fit in int
}
