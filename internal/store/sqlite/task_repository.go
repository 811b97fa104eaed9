package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dkeye/studyroom/internal/domain"
)

const taskColumns = `id, room_id, author_id, title, description, priority, status,
	estimate_min, actual_min, created_at, updated_at`

func scanTask(row interface{ Scan(...any) error }) (*domain.Task, error) {
	var (
		t                    domain.Task
		createdAt, updatedAt string
	)
	err := row.Scan(&t.ID, &t.RoomID, &t.AuthorID, &t.Title, &t.Description,
		&t.Priority, &t.Status, &t.EstimateMin, &t.ActualMin, &createdAt, &updatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	if t.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if t.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	return &t, nil
}

func (s *Store) CreateTask(ctx context.Context, task *domain.Task) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tasks (id, room_id, author_id, title, description, priority, status,
			estimate_min, actual_min, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		task.ID, task.RoomID, task.AuthorID, task.Title, task.Description,
		task.Priority, task.Status, task.EstimateMin, task.ActualMin,
		fmtTime(task.CreatedAt), fmtTime(task.UpdatedAt))
	if err != nil {
		return fmt.Errorf("create task: %w", mapErr(err))
	}
	return nil
}

func (s *Store) GetTask(ctx context.Context, id domain.TaskID) (*domain.Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	return scanTask(row)
}

// UpdateTask reads, patches and writes inside one transaction so concurrent
// writers to different fields serialize per field, not per record.
func (s *Store) UpdateTask(ctx context.Context, id domain.TaskID, patch domain.TaskPatch, now time.Time) (*domain.Task, error) {
	var out *domain.Task
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
		task, err := scanTask(row)
		if err != nil {
			return err
		}
		if err := patch.Apply(task, now); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE tasks SET title = ?, description = ?, priority = ?, status = ?,
				estimate_min = ?, actual_min = ?, updated_at = ?
			 WHERE id = ?`,
			task.Title, task.Description, task.Priority, task.Status,
			task.EstimateMin, task.ActualMin, fmtTime(task.UpdatedAt), task.ID,
		); err != nil {
			return mapErr(err)
		}
		out = task
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) ListTasks(ctx context.Context, room domain.RoomID) ([]*domain.Task, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE room_id = ? ORDER BY created_at`, room)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", mapErr(err))
	}
	defer rows.Close()

	var out []*domain.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, task)
	}
	return out, rows.Err()
}
