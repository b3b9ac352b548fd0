package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrNoteNotFound = errors.New("note not found")

type NoteRecord struct {
	ID        int64
	UserID    int64
	Title     string
	Body      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (s *Store) CreateNote(ctx context.Context, userID int64, title, body string) (NoteRecord, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return NoteRecord{}, fmt.Errorf("create note: title is required")
	}
	nowUnix := time.Now().UTC().Unix()
	result, err := s.db.ExecContext(
		ctx,
		`INSERT INTO notes (user_id, title, body, created_at_unix, updated_at_unix)
		 VALUES (?, ?, ?, ?, ?)`,
		userID,
		title,
		strings.TrimSpace(body),
		nowUnix,
		nowUnix,
	)
	if err != nil {
		return NoteRecord{}, fmt.Errorf("insert note: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return NoteRecord{}, fmt.Errorf("insert note id: %w", err)
	}
	return s.LookupNote(ctx, id)
}

func (s *Store) LookupNote(ctx context.Context, id int64) (NoteRecord, error) {
	row := s.db.QueryRowContext(ctx, selectNoteSQL+` WHERE id = ?`, id)
	record, err := scanNote(row)
	if errors.Is(err, sql.ErrNoRows) {
		return NoteRecord{}, ErrNoteNotFound
	}
	return record, err
}

func (s *Store) ListNotes(ctx context.Context, userID int64) ([]NoteRecord, error) {
	rows, err := s.db.QueryContext(
		ctx,
		selectNoteSQL+` WHERE user_id = ? ORDER BY updated_at_unix DESC, id DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list notes: %w", err)
	}
	defer rows.Close()

	results := []NoteRecord{}
	for rows.Next() {
		record, err := scanNote(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, record)
	}
	return results, nil
}

func (s *Store) UpdateNote(ctx context.Context, id, userID int64, title, body string) (NoteRecord, error) {
	result, err := s.db.ExecContext(
		ctx,
		`UPDATE notes
		 SET title = COALESCE(?, title),
		     body = COALESCE(?, body),
		     updated_at_unix = ?
		 WHERE id = ? AND user_id = ?`,
		nullIfEmpty(strings.TrimSpace(title)),
		nullIfEmpty(strings.TrimSpace(body)),
		time.Now().UTC().Unix(),
		id,
		userID,
	)
	if err != nil {
		return NoteRecord{}, fmt.Errorf("update note: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err == nil && rowsAffected == 0 {
		return NoteRecord{}, ErrNoteNotFound
	}
	return s.LookupNote(ctx, id)
}

func (s *Store) DeleteNote(ctx context.Context, id, userID int64) error {
	result, err := s.db.ExecContext(
		ctx,
		`DELETE FROM notes WHERE id = ? AND user_id = ?`,
		id,
		userID,
	)
	if err != nil {
		return fmt.Errorf("delete note: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err == nil && rowsAffected == 0 {
		return ErrNoteNotFound
	}
	return nil
}

const selectNoteSQL = `SELECT id, user_id, title, body, created_at_unix, updated_at_unix FROM notes`

func scanNote(row rowScanner) (NoteRecord, error) {
	var record NoteRecord
	var createdUnix, updatedUnix int64
	if err := row.Scan(
		&record.ID,
		&record.UserID,
		&record.Title,
		&record.Body,
		&createdUnix,
		&updatedUnix,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return NoteRecord{}, err
		}
		return NoteRecord{}, fmt.Errorf("scan note row: %w", err)
	}
	record.CreatedAt = time.Unix(createdUnix, 0).UTC()
	record.UpdatedAt = time.Unix(updatedUnix, 0).UTC()
	return record, nil
}
