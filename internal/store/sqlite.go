package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

type Store struct {
	db *sql.DB
}

func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA journal_mode=WAL; PRAGMA foreign_keys=ON;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply sqlite pragmas: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) AutoMigrate(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			email TEXT NOT NULL UNIQUE,
			display_name TEXT NOT NULL,
			timezone TEXT NOT NULL DEFAULT 'UTC',
			created_at TEXT NOT NULL DEFAULT (datetime('now'))
		);`,
		`CREATE TABLE IF NOT EXISTS roles (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL UNIQUE
		);`,
		`CREATE TABLE IF NOT EXISTS permissions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL UNIQUE,
			description TEXT NOT NULL DEFAULT ''
		);`,
		`CREATE TABLE IF NOT EXISTS user_roles (
			user_id INTEGER NOT NULL,
			role_id INTEGER NOT NULL,
			UNIQUE(user_id, role_id),
			FOREIGN KEY(user_id) REFERENCES users(id) ON DELETE CASCADE,
			FOREIGN KEY(role_id) REFERENCES roles(id) ON DELETE CASCADE
		);`,
		`CREATE TABLE IF NOT EXISTS role_permissions (
			role_id INTEGER NOT NULL,
			permission_id INTEGER NOT NULL,
			UNIQUE(role_id, permission_id),
			FOREIGN KEY(role_id) REFERENCES roles(id) ON DELETE CASCADE,
			FOREIGN KEY(permission_id) REFERENCES permissions(id) ON DELETE CASCADE
		);`,
		`CREATE TABLE IF NOT EXISTS permission_grants (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id INTEGER NOT NULL,
			permission_name TEXT NOT NULL,
			granted_by_user_id INTEGER,
			created_at_unix INTEGER NOT NULL,
			UNIQUE(user_id, permission_name),
			FOREIGN KEY(user_id) REFERENCES users(id) ON DELETE CASCADE
		);`,
		`CREATE TABLE IF NOT EXISTS delegations (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			grantor_user_id INTEGER NOT NULL,
			grantee_user_id INTEGER NOT NULL,
			permission_name TEXT NOT NULL,
			created_at_unix INTEGER NOT NULL,
			expires_at_unix INTEGER,
			revoked_at_unix INTEGER,
			FOREIGN KEY(grantor_user_id) REFERENCES users(id) ON DELETE CASCADE,
			FOREIGN KEY(grantee_user_id) REFERENCES users(id) ON DELETE CASCADE
		);`,
		`CREATE TABLE IF NOT EXISTS permission_requests (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			requester_user_id INTEGER NOT NULL,
			permission_name TEXT NOT NULL,
			request_kind TEXT NOT NULL,
			target_user_id INTEGER,
			reason TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'pending',
			decided_by_user_id INTEGER,
			decided_at_unix INTEGER,
			decision_note TEXT,
			created_at_unix INTEGER NOT NULL,
			FOREIGN KEY(requester_user_id) REFERENCES users(id) ON DELETE CASCADE
		);`,
		`CREATE TABLE IF NOT EXISTS notifications (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id INTEGER NOT NULL,
			event_type TEXT NOT NULL,
			subject_id INTEGER,
			payload_json TEXT NOT NULL DEFAULT '{}',
			read INTEGER NOT NULL DEFAULT 0,
			created_at_unix INTEGER NOT NULL,
			FOREIGN KEY(user_id) REFERENCES users(id) ON DELETE CASCADE
		);`,
		`CREATE TABLE IF NOT EXISTS alarms (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id INTEGER NOT NULL,
			title TEXT NOT NULL,
			fire_at_unix INTEGER NOT NULL,
			fire_at_local TEXT NOT NULL DEFAULT '',
			timezone TEXT NOT NULL DEFAULT 'UTC',
			status TEXT NOT NULL DEFAULT 'active',
			repeat_cron TEXT,
			created_by_user_id INTEGER NOT NULL,
			created_at_unix INTEGER NOT NULL,
			updated_at_unix INTEGER NOT NULL,
			FOREIGN KEY(user_id) REFERENCES users(id) ON DELETE CASCADE
		);`,
		`CREATE TABLE IF NOT EXISTS tasks (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id INTEGER NOT NULL,
			title TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			due_on TEXT,
			status TEXT NOT NULL DEFAULT 'open',
			created_by_user_id INTEGER NOT NULL,
			created_at_unix INTEGER NOT NULL,
			updated_at_unix INTEGER NOT NULL,
			FOREIGN KEY(user_id) REFERENCES users(id) ON DELETE CASCADE
		);`,
		`CREATE TABLE IF NOT EXISTS notes (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id INTEGER NOT NULL,
			title TEXT NOT NULL,
			body TEXT NOT NULL DEFAULT '',
			created_at_unix INTEGER NOT NULL,
			updated_at_unix INTEGER NOT NULL,
			FOREIGN KEY(user_id) REFERENCES users(id) ON DELETE CASCADE
		);`,
		`CREATE TABLE IF NOT EXISTS agent_runs (
			id TEXT PRIMARY KEY,
			user_id INTEGER NOT NULL,
			profile TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'running',
			final_text TEXT,
			steps INTEGER NOT NULL DEFAULT 0,
			created_at_unix INTEGER NOT NULL,
			finished_at_unix INTEGER
		);`,
		`CREATE TABLE IF NOT EXISTS tool_audit (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL DEFAULT '',
			user_id INTEGER NOT NULL,
			tool_name TEXT NOT NULL,
			args_json TEXT NOT NULL DEFAULT '{}',
			ok INTEGER NOT NULL DEFAULT 1,
			error_message TEXT,
			created_at_unix INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS token_usage_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL DEFAULT '',
			model TEXT NOT NULL DEFAULT '',
			input_tokens INTEGER NOT NULL DEFAULT 0,
			output_tokens INTEGER NOT NULL DEFAULT 0,
			total_tokens INTEGER NOT NULL DEFAULT 0,
			created_at_unix INTEGER NOT NULL
		);`,
	}

	for _, query := range queries {
		if _, err := s.db.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("run migration: %w", err)
		}
	}
	alterQueries := []string{
		`ALTER TABLE alarms ADD COLUMN repeat_cron TEXT;`,
		`ALTER TABLE alarms ADD COLUMN fire_at_local TEXT NOT NULL DEFAULT '';`,
		`ALTER TABLE alarms ADD COLUMN timezone TEXT NOT NULL DEFAULT 'UTC';`,
		`ALTER TABLE delegations ADD COLUMN expires_at_unix INTEGER;`,
		`ALTER TABLE delegations ADD COLUMN revoked_at_unix INTEGER;`,
		`ALTER TABLE permission_grants ADD COLUMN granted_by_user_id INTEGER;`,
		`ALTER TABLE permission_requests ADD COLUMN decision_note TEXT;`,
		`ALTER TABLE notifications ADD COLUMN subject_id INTEGER;`,
		`ALTER TABLE tasks ADD COLUMN due_on TEXT;`,
		`ALTER TABLE tasks ADD COLUMN created_by_user_id INTEGER NOT NULL DEFAULT 0;`,
		`ALTER TABLE agent_runs ADD COLUMN profile TEXT NOT NULL DEFAULT '';`,
	}
	for _, query := range alterQueries {
		if _, err := s.db.ExecContext(ctx, query); err != nil {
			message := strings.ToLower(err.Error())
			if strings.Contains(message, "duplicate column name") || strings.Contains(message, "no such table") {
				continue
			}
			return fmt.Errorf("run migration alter: %w", err)
		}
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}

func parseSQLiteDateTime(input string) time.Time {
	text := strings.TrimSpace(input)
	if text == "" {
		return time.Time{}
	}
	parsed, err := time.ParseInLocation("2006-01-02 15:04:05", text, time.UTC)
	if err != nil {
		return time.Time{}
	}
	return parsed.UTC()
}

func nullIfEmpty(value string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}

func nullIfZeroInt64(value int64) any {
	if value == 0 {
		return nil
	}
	return value
}
