package commands

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/leapquery/internal/state"
)

// NewQuestionsCommand creates the questions command group.
func NewQuestionsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "questions",
		Aliases: []string{"q"},
		Short:   "Manage saved questions",
		Long: `Save queries as questions. A saved question can be used as a card source
by other queries (--card <card id>).`,
	}
	cmd.AddCommand(newQuestionsSaveCommand())
	cmd.AddCommand(newQuestionsListCommand())
	cmd.AddCommand(newQuestionsShowCommand())
	cmd.AddCommand(newQuestionsDeleteCommand())
	return cmd
}

func newQuestionsSaveCommand() *cobra.Command {
	var (
		input       QueryInput
		name        string
		description string
		update      string
	)
	cmd := &cobra.Command{
		Use:   "save",
		Short: "Save a query as a question",
		Example: `  leapquery questions save --name "Orders per month" --query question.json
  leapquery questions save --update 3f0c... --query question.json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cc := NewCommandContext(cmd)
			ws, err := cc.OpenWorkspace(ctx, true)
			if err != nil {
				return err
			}
			defer func() { _ = ws.Close() }()

			q, err := input.Load(ctx, cc, ws, func(p string) ([]byte, error) { return readInput(cmd, p) })
			if err != nil {
				return err
			}

			var saved *state.Question
			if update != "" {
				saved, err = ws.Store.UpdateQuestion(ctx, update, q)
			} else {
				saved, err = ws.Store.SaveQuestion(ctx, name, description, q)
			}
			if err != nil {
				return err
			}
			if cc.Renderer.IsJSON() {
				return cc.Renderer.JSON(questionSummary(saved))
			}
			cc.Renderer.Printf("Saved %q as card %d (%s)\n", saved.Name, saved.CardID, saved.ID)
			return nil
		},
	}
	input.AddFlags(cmd.Flags())
	cmd.Flags().StringVar(&name, "name", "", "Question name")
	cmd.Flags().StringVar(&description, "description", "", "Question description")
	cmd.Flags().StringVar(&update, "update", "", "Replace the query of this question id")
	return cmd
}

func newQuestionsListCommand() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List saved questions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cc := NewCommandContext(cmd)
			ws, err := cc.OpenWorkspace(ctx, false)
			if err != nil {
				return err
			}
			defer func() { _ = ws.Close() }()
			if ws.Store == nil {
				return cc.Renderer.Table(questionHeaders, nil)
			}

			dbID := ws.Spec.Database.ID
			if all {
				dbID = 0
			}
			questions, err := ws.Store.ListQuestions(ctx, dbID)
			if err != nil {
				return err
			}
			rows := make([][]any, len(questions))
			for i, q := range questions {
				rows[i] = []any{q.CardID, q.ID, q.Name, len(q.Columns), q.UpdatedAt.Format(time.DateTime)}
			}
			return cc.Renderer.Table(questionHeaders, rows)
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "Include questions of every database")
	return cmd
}

var questionHeaders = []string{"Card", "ID", "Name", "Columns", "Updated"}

func newQuestionsShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id|card id>",
		Short: "Show a saved question",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cc := NewCommandContext(cmd)
			ws, err := cc.OpenWorkspace(ctx, false)
			if err != nil {
				return err
			}
			defer func() { _ = ws.Close() }()
			if ws.Store == nil {
				return fmt.Errorf("%w: %s", state.ErrNotFound, args[0])
			}

			question, err := lookupQuestion(ctx, ws.Store, args[0])
			if err != nil {
				return err
			}
			dependents, err := ws.Store.Dependents(ctx, question.CardID)
			if err != nil {
				return err
			}
			r := cc.Renderer
			if r.IsJSON() {
				detail := questionDetail(question)
				used := make([]int64, len(dependents))
				for i, d := range dependents {
					used[i] = d.CardID
				}
				detail["used_by"] = used
				return r.JSON(detail)
			}
			r.Printf("%s (card %d)\n", question.Name, question.CardID)
			if question.Description != "" {
				r.Println(r.Muted(question.Description))
			}
			r.Printf("id: %s\ndatabase: %d\n", question.ID, question.DatabaseID)
			if len(dependents) > 0 {
				r.Printf("used by: %s\n", questionNames(dependents))
			}
			r.Println()
			rows := make([][]any, len(question.Columns))
			for i, c := range question.Columns {
				rows[i] = []any{c.Name, c.DisplayName, c.BaseType}
			}
			if err := r.Table([]string{"Column", "Display Name", "Type"}, rows); err != nil {
				return err
			}
			r.Printf("\n%s\n", question.Query)
			return nil
		},
	}
}

func newQuestionsDeleteCommand() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "delete <id|card id>",
		Short: "Delete a saved question",
		Long: `Delete a saved question. Questions other questions are built on are kept
unless --force is given.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cc := NewCommandContext(cmd)
			ws, err := cc.OpenWorkspace(ctx, false)
			if err != nil {
				return err
			}
			defer func() { _ = ws.Close() }()
			if ws.Store == nil {
				return fmt.Errorf("%w: %s", state.ErrNotFound, args[0])
			}
			question, err := lookupQuestion(ctx, ws.Store, args[0])
			if err != nil {
				return err
			}
			if !force {
				dependents, err := ws.Store.Dependents(ctx, question.CardID)
				if err != nil {
					return err
				}
				if len(dependents) > 0 {
					return fmt.Errorf("%q is used by %s\nHint: pass --force to delete it anyway",
						question.Name, questionNames(dependents))
				}
			}
			if err := ws.Store.DeleteQuestion(ctx, question.ID); err != nil {
				return err
			}
			cc.Renderer.Printf("Deleted %q\n", question.Name)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Delete even when other questions use it")
	return cmd
}

func questionNames(questions []*state.Question) string {
	names := make([]string, len(questions))
	for i, q := range questions {
		names[i] = fmt.Sprintf("%q (card %d)", q.Name, q.CardID)
	}
	return strings.Join(names, ", ")
}

// lookupQuestion accepts a question id or a numeric card id.
func lookupQuestion(ctx context.Context, store *state.SQLiteStore, ref string) (*state.Question, error) {
	if cardID, err := strconv.ParseInt(ref, 10, 64); err == nil {
		return store.GetQuestionByCardID(ctx, cardID)
	}
	return store.GetQuestion(ctx, ref)
}

func questionSummary(q *state.Question) map[string]any {
	return map[string]any{
		"id":      q.ID,
		"card_id": q.CardID,
		"name":    q.Name,
	}
}

func questionDetail(q *state.Question) map[string]any {
	out := questionSummary(q)
	out["description"] = q.Description
	out["database_id"] = q.DatabaseID
	out["columns"] = q.Columns
	out["query"] = q.Query
	out["created_at"] = q.CreatedAt
	out["updated_at"] = q.UpdatedAt
	return out
}
