package task

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) List(ctx context.Context) ([]Task, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, title, description, done, created_at, updated_at
		FROM tasks
		ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()

	tasks := make([]Task, 0)
	for rows.Next() {
		var t Task
		if err := rows.Scan(&t.ID, &t.Title, &t.Description, &t.Done, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tasks: %w", err)
	}

	return tasks, nil
}

func (r *Repository) Get(ctx context.Context, id string) (Task, error) {
	var t Task
	err := r.db.QueryRowContext(ctx, `
		SELECT id, title, description, done, created_at, updated_at
		FROM tasks
		WHERE id = $1
	`, id).Scan(&t.ID, &t.Title, &t.Description, &t.Done, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Task{}, err
		}
		return Task{}, fmt.Errorf("query task: %w", err)
	}

	return t, nil
}

func (r *Repository) Create(ctx context.Context, input TaskInput) (Task, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return Task{}, fmt.Errorf("generate uuid v7: %w", err)
	}

	now := time.Now().UTC()
	t := Task{
		ID:          id.String(),
		Title:       input.Title,
		Description: input.Description,
		Done:        input.Done,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO tasks (id, title, description, done, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, t.ID, t.Title, t.Description, t.Done, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return Task{}, fmt.Errorf("insert task: %w", err)
	}

	return t, nil
}

func (r *Repository) Update(ctx context.Context, id string, input TaskInput) (Task, error) {
	var t Task
	err := r.db.QueryRowContext(ctx, `
		UPDATE tasks
		SET title = $2, description = $3, done = $4, updated_at = $5
		WHERE id = $1
		RETURNING id, title, description, done, created_at, updated_at
	`, id, input.Title, input.Description, input.Done, time.Now().UTC()).
		Scan(&t.ID, &t.Title, &t.Description, &t.Done, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Task{}, err
		}
		return Task{}, fmt.Errorf("update task: %w", err)
	}

	return t, nil
}

func (r *Repository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}

	return nil
}
