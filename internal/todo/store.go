// Package todo is the command executor behind the dispatcher: a Postgres-backed
// todo list and the mapping from selected tools to list operations.
package todo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a todo id does not exist.
var ErrNotFound = errors.New("todo not found")

// Todo represents a row in the todos table.
type Todo struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Completed bool      `json:"completed"`
	CreatedAt time.Time `json:"createdAt"`
}

// UpdateParams holds optional fields for partial updates.
type UpdateParams struct {
	Text      *string
	Completed *bool
}

// Store abstracts todo persistence for testability.
type Store interface {
	List(ctx context.Context) ([]Todo, error)
	Create(ctx context.Context, text string) (*Todo, error)
	Update(ctx context.Context, id string, params UpdateParams) (*Todo, error)
	Delete(ctx context.Context, id string) error
	// DeleteMany deletes the given ids, or every todo when all is true.
	DeleteMany(ctx context.Context, ids []string, all bool) (int, error)
	// CompleteMany sets completed on the given ids, or on every todo when all is true.
	CompleteMany(ctx context.Context, ids []string, all bool, completed bool) (int, error)
}

const schema = `
CREATE TABLE IF NOT EXISTS todos (
	id         UUID PRIMARY KEY,
	text       TEXT NOT NULL,
	completed  BOOLEAN NOT NULL DEFAULT FALSE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// SQLStore is the PostgreSQL implementation of Store.
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore creates a store backed by the given connection pool.
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

// EnsureSchema creates the todos table if it does not exist.
func (s *SQLStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("EnsureSchema: %w", err)
	}
	return nil
}

// List returns all todos ordered by created_at DESC.
func (s *SQLStore) List(ctx context.Context) ([]Todo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, text, completed, created_at
		FROM todos ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("List: %w", err)
	}
	defer rows.Close()

	todos := []Todo{}
	for rows.Next() {
		var t Todo
		if err := rows.Scan(&t.ID, &t.Text, &t.Completed, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("List: %w", err)
		}
		todos = append(todos, t)
	}
	return todos, rows.Err()
}

// Create inserts a new, incomplete todo.
func (s *SQLStore) Create(ctx context.Context, text string) (*Todo, error) {
	var t Todo
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO todos (id, text)
		VALUES ($1, $2)
		RETURNING id, text, completed, created_at`,
		uuid.New().String(), text,
	).Scan(&t.ID, &t.Text, &t.Completed, &t.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("Create: %w", err)
	}
	return &t, nil
}

// Update applies a partial update. Nil fields are left unchanged.
func (s *SQLStore) Update(ctx context.Context, id string, params UpdateParams) (*Todo, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}
	var t Todo
	err := s.db.QueryRowContext(ctx, `
		UPDATE todos
		SET text = COALESCE($2, text),
		    completed = COALESCE($3, completed)
		WHERE id = $1
		RETURNING id, text, completed, created_at`,
		id, params.Text, params.Completed,
	).Scan(&t.ID, &t.Text, &t.Completed, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("Update: %w", err)
	}
	return &t, nil
}

// Delete removes a todo by id.
func (s *SQLStore) Delete(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return ErrNotFound
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM todos WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("Delete: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("Delete: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteMany removes the listed todos, or all of them.
func (s *SQLStore) DeleteMany(ctx context.Context, ids []string, all bool) (int, error) {
	query := `DELETE FROM todos`
	var args []any
	if !all {
		ids = validIDs(ids)
		if len(ids) == 0 {
			return 0, nil
		}
		where, idArgs := inClause(ids, 1)
		query += " WHERE id IN (" + where + ")"
		args = idArgs
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("DeleteMany: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("DeleteMany: %w", err)
	}
	return int(n), nil
}

// CompleteMany sets completed on the listed todos, or all of them.
func (s *SQLStore) CompleteMany(ctx context.Context, ids []string, all bool, completed bool) (int, error) {
	query := `UPDATE todos SET completed = $1`
	args := []any{completed}
	if !all {
		ids = validIDs(ids)
		if len(ids) == 0 {
			return 0, nil
		}
		where, idArgs := inClause(ids, 2)
		query += " WHERE id IN (" + where + ")"
		args = append(args, idArgs...)
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("CompleteMany: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("CompleteMany: %w", err)
	}
	return int(n), nil
}

// validIDs drops ids that cannot match a UUID column; Postgres would reject
// the whole statement otherwise.
func validIDs(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, err := uuid.Parse(id); err == nil {
			out = append(out, id)
		}
	}
	return out
}

// inClause renders $start, $start+1, ... for the ids.
func inClause(ids []string, start int) (string, []any) {
	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = fmt.Sprintf("$%d", start+i)
		args[i] = id
	}
	return strings.Join(placeholders, ", "), args
}
