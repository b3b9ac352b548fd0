package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrUserNotFound = errors.New("user not found")
var ErrUserAlreadyExists = errors.New("user already exists")

type UserRecord struct {
	ID          int64
	Email       string
	DisplayName string
	Timezone    string
	CreatedAt   time.Time
}

func (s *Store) CreateUser(ctx context.Context, email, displayName, timezone string) (UserRecord, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	displayName = strings.TrimSpace(displayName)
	if timezone = strings.TrimSpace(timezone); timezone == "" {
		timezone = "UTC"
	}
	if email == "" {
		return UserRecord{}, fmt.Errorf("create user: email is required")
	}
	result, err := s.db.ExecContext(
		ctx,
		`INSERT INTO users (email, display_name, timezone) VALUES (?, ?, ?)`,
		email,
		displayName,
		timezone,
	)
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "unique constraint") {
			return UserRecord{}, ErrUserAlreadyExists
		}
		return UserRecord{}, fmt.Errorf("insert user: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return UserRecord{}, fmt.Errorf("insert user id: %w", err)
	}
	return s.LookupUser(ctx, id)
}

func (s *Store) LookupUser(ctx context.Context, id int64) (UserRecord, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT id, email, display_name, timezone, created_at FROM users WHERE id = ?`,
		id,
	)
	return scanUser(row)
}

func (s *Store) LookupUserByEmail(ctx context.Context, email string) (UserRecord, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT id, email, display_name, timezone, created_at FROM users WHERE email = ?`,
		strings.ToLower(strings.TrimSpace(email)),
	)
	return scanUser(row)
}

func (s *Store) UserExists(ctx context.Context, id int64) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM users WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("user exists: %w", err)
	}
	return true, nil
}

// SearchUsers matches the query against display name and email,
// case-insensitively. An empty query lists everyone up to the limit.
func (s *Store) SearchUsers(ctx context.Context, query string, limit int) ([]UserRecord, error) {
	if limit < 1 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}
	pattern := "%" + strings.ToLower(strings.TrimSpace(query)) + "%"
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, email, display_name, timezone, created_at
		 FROM users
		 WHERE lower(display_name) LIKE ? OR lower(email) LIKE ?
		 ORDER BY id
		 LIMIT ?`,
		pattern,
		pattern,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("search users: %w", err)
	}
	defer rows.Close()

	results := make([]UserRecord, 0, limit)
	for rows.Next() {
		record, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, record)
	}
	return results, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (UserRecord, error) {
	var record UserRecord
	var createdAtText string
	if err := row.Scan(
		&record.ID,
		&record.Email,
		&record.DisplayName,
		&record.Timezone,
		&createdAtText,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return UserRecord{}, ErrUserNotFound
		}
		return UserRecord{}, fmt.Errorf("scan user row: %w", err)
	}
	record.CreatedAt = parseSQLiteDateTime(createdAtText)
	return record, nil
}
