package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"gallery/internal/models"
)

func (s *Storage) ListTodos(ctx context.Context) ([]models.Todo, error) {
	const op = "storage.ListTodos"

	rows, err := s.pool.Query(ctx, `SELECT id, title, completed, created_at FROM todos ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	todos, err := pgx.CollectRows(rows, pgx.RowToStructByName[models.Todo])
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if todos == nil {
		todos = []models.Todo{}
	}
	return todos, nil
}

func (s *Storage) GetTodo(ctx context.Context, id int64) (*models.Todo, error) {
	const op = "storage.GetTodo"

	var t models.Todo
	err := s.pool.QueryRow(ctx, `SELECT id, title, completed, created_at FROM todos WHERE id = $1`, id).
		Scan(&t.ID, &t.Title, &t.Completed, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%s: todo %d: %w", op, id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &t, nil
}

func (s *Storage) CreateTodo(ctx context.Context, title string) (*models.Todo, error) {
	const op = "storage.CreateTodo"

	t := models.Todo{Title: title}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO todos (title, completed) VALUES ($1, false) RETURNING id, created_at`, title).
		Scan(&t.ID, &t.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &t, nil
}

func (s *Storage) UpdateTodo(ctx context.Context, t *models.Todo) error {
	const op = "storage.UpdateTodo"

	tag, err := s.pool.Exec(ctx,
		`UPDATE todos SET title = $2, completed = $3 WHERE id = $1`, t.ID, t.Title, t.Completed)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: todo %d: %w", op, t.ID, models.ErrNotFound)
	}
	return nil
}

func (s *Storage) DeleteTodo(ctx context.Context, id int64) error {
	const op = "storage.DeleteTodo"

	tag, err := s.pool.Exec(ctx, `DELETE FROM todos WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: todo %d: %w", op, id, models.ErrNotFound)
	}
	return nil
}
