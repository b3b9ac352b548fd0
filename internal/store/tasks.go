package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrTaskNotFound = errors.New("task not found")

const (
	TaskStatusOpen = "open"
	TaskStatusDone = "done"
)

type TaskRecord struct {
	ID              int64
	UserID          int64
	Title           string
	Description     string
	DueOn           string
	Status          string
	CreatedByUserID int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type CreateTaskInput struct {
	UserID          int64
	Title           string
	Description     string
	DueOn           string
	CreatedByUserID int64
}

func (s *Store) CreateTask(ctx context.Context, input CreateTaskInput) (TaskRecord, error) {
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return TaskRecord{}, fmt.Errorf("create task: title is required")
	}
	createdBy := input.CreatedByUserID
	if createdBy == 0 {
		createdBy = input.UserID
	}
	nowUnix := time.Now().UTC().Unix()
	result, err := s.db.ExecContext(
		ctx,
		`INSERT INTO tasks
			(user_id, title, description, due_on, status, created_by_user_id, created_at_unix, updated_at_unix)
		 VALUES (?, ?, ?, ?, 'open', ?, ?, ?)`,
		input.UserID,
		title,
		strings.TrimSpace(input.Description),
		nullIfEmpty(strings.TrimSpace(input.DueOn)),
		createdBy,
		nowUnix,
		nowUnix,
	)
	if err != nil {
		return TaskRecord{}, fmt.Errorf("insert task: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return TaskRecord{}, fmt.Errorf("insert task id: %w", err)
	}
	return s.LookupTask(ctx, id)
}

func (s *Store) LookupTask(ctx context.Context, id int64) (TaskRecord, error) {
	row := s.db.QueryRowContext(ctx, selectTaskSQL+` WHERE id = ?`, id)
	record, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return TaskRecord{}, ErrTaskNotFound
	}
	return record, err
}

// ListTasks returns the user's tasks, open first, then by due date.
func (s *Store) ListTasks(ctx context.Context, userID int64, includeDone bool) ([]TaskRecord, error) {
	query := selectTaskSQL + ` WHERE user_id = ?`
	if !includeDone {
		query += ` AND status = 'open'`
	}
	query += ` ORDER BY status ASC, COALESCE(due_on, '9999-12-31') ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	results := []TaskRecord{}
	for rows.Next() {
		record, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, record)
	}
	return results, nil
}

type UpdateTaskInput struct {
	ID          int64
	UserID      int64
	Title       string
	Description string
	DueOn       string
}

// UpdateTask rewrites the mutable fields; empty inputs keep the stored
// value.
func (s *Store) UpdateTask(ctx context.Context, input UpdateTaskInput) (TaskRecord, error) {
	result, err := s.db.ExecContext(
		ctx,
		`UPDATE tasks
		 SET title = COALESCE(?, title),
		     description = COALESCE(?, description),
		     due_on = COALESCE(?, due_on),
		     updated_at_unix = ?
		 WHERE id = ? AND user_id = ?`,
		nullIfEmpty(strings.TrimSpace(input.Title)),
		nullIfEmpty(strings.TrimSpace(input.Description)),
		nullIfEmpty(strings.TrimSpace(input.DueOn)),
		time.Now().UTC().Unix(),
		input.ID,
		input.UserID,
	)
	if err != nil {
		return TaskRecord{}, fmt.Errorf("update task: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err == nil && rowsAffected == 0 {
		return TaskRecord{}, ErrTaskNotFound
	}
	return s.LookupTask(ctx, input.ID)
}

func (s *Store) CompleteTask(ctx context.Context, id, userID int64) (TaskRecord, error) {
	result, err := s.db.ExecContext(
		ctx,
		`UPDATE tasks SET status = 'done', updated_at_unix = ?
		 WHERE id = ? AND user_id = ? AND status = 'open'`,
		time.Now().UTC().Unix(),
		id,
		userID,
	)
	if err != nil {
		return TaskRecord{}, fmt.Errorf("complete task: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err == nil && rowsAffected == 0 {
		return TaskRecord{}, ErrTaskNotFound
	}
	return s.LookupTask(ctx, id)
}

func (s *Store) DeleteTask(ctx context.Context, id, userID int64) error {
	result, err := s.db.ExecContext(
		ctx,
		`DELETE FROM tasks WHERE id = ? AND user_id = ?`,
		id,
		userID,
	)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err == nil && rowsAffected == 0 {
		return ErrTaskNotFound
	}
	return nil
}

const selectTaskSQL = `SELECT id, user_id, title, description, COALESCE(due_on, ''), status,
	created_by_user_id, created_at_unix, updated_at_unix
 FROM tasks`

func scanTask(row rowScanner) (TaskRecord, error) {
	var record TaskRecord
	var createdUnix, updatedUnix int64
	if err := row.Scan(
		&record.ID,
		&record.UserID,
		&record.Title,
		&record.Description,
		&record.DueOn,
		&record.Status,
		&record.CreatedByUserID,
		&createdUnix,
		&updatedUnix,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return TaskRecord{}, err
		}
		return TaskRecord{}, fmt.Errorf("scan task row: %w", err)
	}
	record.CreatedAt = time.Unix(createdUnix, 0).UTC()
	record.UpdatedAt = time.Unix(updatedUnix, 0).UTC()
	return record, nil
}
