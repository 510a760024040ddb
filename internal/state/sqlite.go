package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/leapstack-labs/leapquery/pkg/meta"
	"github.com/leapstack-labs/leapquery/pkg/query"

	_ "modernc.org/sqlite" // sqlite driver
)

// SQLiteStore stores saved questions in a SQLite database.
type SQLiteStore struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
}

// NewSQLiteStore creates a new store. If logger is nil, a discard logger is used.
func NewSQLiteStore(logger *slog.Logger) *SQLiteStore {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &SQLiteStore{logger: logger}
}

// Open opens the database at path and applies pending migrations.
// Use ":memory:" for an in-memory database.
func (s *SQLiteStore) Open(ctx context.Context, path string) error {
	dsn := ":memory:"
	if path != ":memory:" {
		dsn = path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open sqlite database: %w", err)
	}
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping sqlite database: %w", err)
	}

	s.db = db
	s.path = path
	if err := s.Migrate(); err != nil {
		_ = db.Close()
		s.db = nil
		return err
	}
	s.logger.Debug("opened question store", slog.String("path", path))
	return nil
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// SaveQuestion stores q under name and returns the saved question.
func (s *SQLiteStore) SaveQuestion(ctx context.Context, name, description string, q *query.Query) (*Question, error) {
	if s.db == nil {
		return nil, ErrNotOpened
	}
	if name == "" {
		return nil, errors.New("question name is required")
	}

	wire, cols, err := encodeQuestion(q)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	question := &Question{
		ID:          generateID(),
		Name:        name,
		Description: description,
		DatabaseID:  q.DatabaseID(),
		Query:       wire,
		Columns:     cols,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	colsJSON, err := json.Marshal(cols)
	if err != nil {
		return nil, fmt.Errorf("failed to encode columns: %w", err)
	}
	sources := cardSources(q)

	err = s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO questions (id, name, description, database_id, query, columns, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			question.ID, name, description, question.DatabaseID, string(wire), string(colsJSON),
			formatTime(now), formatTime(now),
		)
		if err != nil {
			return fmt.Errorf("failed to save question: %w", err)
		}
		if question.CardID, err = res.LastInsertId(); err != nil {
			return fmt.Errorf("failed to read card id: %w", err)
		}
		return writeSources(ctx, tx, question.CardID, sources)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Debug("saved question",
		slog.String("id", question.ID),
		slog.Int64("card_id", question.CardID),
		slog.String("name", name))
	return question, nil
}

// UpdateQuestion replaces the query of an existing question.
func (s *SQLiteStore) UpdateQuestion(ctx context.Context, id string, q *query.Query) (*Question, error) {
	if s.db == nil {
		return nil, ErrNotOpened
	}
	wire, cols, err := encodeQuestion(q)
	if err != nil {
		return nil, err
	}
	colsJSON, err := json.Marshal(cols)
	if err != nil {
		return nil, fmt.Errorf("failed to encode columns: %w", err)
	}

	existing, err := s.GetQuestion(ctx, id)
	if err != nil {
		return nil, err
	}
	sources := cardSources(q)
	if err := s.checkSources(ctx, existing.CardID, sources); err != nil {
		return nil, err
	}

	err = s.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`UPDATE questions SET query = ?, columns = ?, database_id = ?, updated_at = ? WHERE id = ?`,
			string(wire), string(colsJSON), q.DatabaseID(), formatTime(time.Now().UTC()), id,
		)
		if err != nil {
			return fmt.Errorf("failed to update question: %w", err)
		}
		return writeSources(ctx, tx, existing.CardID, sources)
	})
	if err != nil {
		return nil, err
	}
	return s.GetQuestion(ctx, id)
}

// GetQuestion retrieves a question by uuid.
func (s *SQLiteStore) GetQuestion(ctx context.Context, id string) (*Question, error) {
	return s.getOne(ctx, `WHERE id = ?`, id)
}

// GetQuestionByCardID retrieves a question by its card id.
func (s *SQLiteStore) GetQuestionByCardID(ctx context.Context, cardID int64) (*Question, error) {
	return s.getOne(ctx, `WHERE card_id = ?`, cardID)
}

// ListQuestions returns all questions of a database ordered by card id.
// A zero databaseID lists every question.
func (s *SQLiteStore) ListQuestions(ctx context.Context, databaseID int64) ([]*Question, error) {
	if s.db == nil {
		return nil, ErrNotOpened
	}
	rows, err := s.db.QueryContext(ctx,
		selectQuestions+` WHERE ? = 0 OR database_id = ? ORDER BY card_id`,
		databaseID, databaseID)
	if err != nil {
		return nil, fmt.Errorf("failed to list questions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*Question
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating questions: %w", err)
	}
	return out, nil
}

// DeleteQuestion removes a question by uuid.
func (s *SQLiteStore) DeleteQuestion(ctx context.Context, id string) error {
	if s.db == nil {
		return ErrNotOpened
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`DELETE FROM question_sources WHERE card_id = (SELECT card_id FROM questions WHERE id = ?)`, id)
		if err != nil {
			return fmt.Errorf("failed to delete question sources: %w", err)
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM questions WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("failed to delete question: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil
	})
}

// inTx runs fn in a transaction, committing when it returns nil.
func (s *SQLiteStore) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

const selectQuestions = `SELECT card_id, id, name, description, database_id, query, columns, created_at, updated_at FROM questions`

func (s *SQLiteStore) getOne(ctx context.Context, where string, arg any) (*Question, error) {
	if s.db == nil {
		return nil, ErrNotOpened
	}
	row := s.db.QueryRowContext(ctx, selectQuestions+" "+where, arg)
	q, err := scanQuestion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %v", ErrNotFound, arg)
	}
	if err != nil {
		return nil, err
	}
	return q, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanQuestion(sc scanner) (*Question, error) {
	var (
		q                Question
		wire, cols       string
		created, updated string
	)
	err := sc.Scan(&q.CardID, &q.ID, &q.Name, &q.Description, &q.DatabaseID, &wire, &cols, &created, &updated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan question: %w", err)
	}
	q.Query = json.RawMessage(wire)
	if err := json.Unmarshal([]byte(cols), &q.Columns); err != nil {
		return nil, fmt.Errorf("failed to decode columns of question %s: %w", q.ID, err)
	}
	if q.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
		return nil, fmt.Errorf("failed to parse created_at: %w", err)
	}
	if q.UpdatedAt, err = time.Parse(time.RFC3339Nano, updated); err != nil {
		return nil, fmt.Errorf("failed to parse updated_at: %w", err)
	}
	return &q, nil
}

func formatTime(t time.Time) string {
	return t.Format(time.RFC3339Nano)
}

// encodeQuestion returns the wire form and result columns of q.
func encodeQuestion(q *query.Query) (json.RawMessage, []meta.CardColumnSpec, error) {
	wire, err := query.ToWire(q)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode query: %w", err)
	}
	returned, err := query.ReturnedColumns(q, -1)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to compute result columns: %w", err)
	}
	cols := make([]meta.CardColumnSpec, len(returned))
	for i, rc := range returned {
		cols[i] = meta.CardColumnSpec{
			Name:         rc.Name,
			BaseType:     string(rc.BaseType),
			SemanticType: string(rc.SemanticType),
		}
	}
	return wire, cols, nil
}
