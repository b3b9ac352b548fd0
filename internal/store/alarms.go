package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrAlarmNotFound = errors.New("alarm not found")

const (
	AlarmStatusActive    = "active"
	AlarmStatusCancelled = "cancelled"
	AlarmStatusFired     = "fired"
)

type AlarmRecord struct {
	ID              int64
	UserID          int64
	Title           string
	FireAt          time.Time
	FireAtLocal     string
	Timezone        string
	Status          string
	RepeatCron      string
	CreatedByUserID int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type CreateAlarmInput struct {
	UserID          int64
	Title           string
	FireAt          time.Time
	FireAtLocal     string
	Timezone        string
	RepeatCron      string
	CreatedByUserID int64
}

func (s *Store) CreateAlarm(ctx context.Context, input CreateAlarmInput) (AlarmRecord, error) {
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return AlarmRecord{}, fmt.Errorf("create alarm: title is required")
	}
	if input.FireAt.IsZero() {
		return AlarmRecord{}, fmt.Errorf("create alarm: fire time is required")
	}
	timezone := strings.TrimSpace(input.Timezone)
	if timezone == "" {
		timezone = "UTC"
	}
	createdBy := input.CreatedByUserID
	if createdBy == 0 {
		createdBy = input.UserID
	}
	nowUnix := time.Now().UTC().Unix()
	result, err := s.db.ExecContext(
		ctx,
		`INSERT INTO alarms
			(user_id, title, fire_at_unix, fire_at_local, timezone, status, repeat_cron,
			 created_by_user_id, created_at_unix, updated_at_unix)
		 VALUES (?, ?, ?, ?, ?, 'active', ?, ?, ?, ?)`,
		input.UserID,
		title,
		input.FireAt.UTC().Unix(),
		strings.TrimSpace(input.FireAtLocal),
		timezone,
		nullIfEmpty(strings.TrimSpace(input.RepeatCron)),
		createdBy,
		nowUnix,
		nowUnix,
	)
	if err != nil {
		return AlarmRecord{}, fmt.Errorf("insert alarm: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return AlarmRecord{}, fmt.Errorf("insert alarm id: %w", err)
	}
	return s.LookupAlarm(ctx, id)
}

func (s *Store) LookupAlarm(ctx context.Context, id int64) (AlarmRecord, error) {
	row := s.db.QueryRowContext(ctx, selectAlarmSQL+` WHERE id = ?`, id)
	record, err := scanAlarm(row)
	if errors.Is(err, sql.ErrNoRows) {
		return AlarmRecord{}, ErrAlarmNotFound
	}
	return record, err
}

// ListActiveAlarms returns the user's active alarms ordered by fire
// time.
func (s *Store) ListActiveAlarms(ctx context.Context, userID int64) ([]AlarmRecord, error) {
	rows, err := s.db.QueryContext(
		ctx,
		selectAlarmSQL+` WHERE user_id = ? AND status = 'active' ORDER BY fire_at_unix ASC, id ASC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list active alarms: %w", err)
	}
	return collectAlarms(rows)
}

func (s *Store) CancelAlarm(ctx context.Context, id, userID int64) (AlarmRecord, error) {
	result, err := s.db.ExecContext(
		ctx,
		`UPDATE alarms SET status = 'cancelled', updated_at_unix = ?
		 WHERE id = ? AND user_id = ? AND status = 'active'`,
		time.Now().UTC().Unix(),
		id,
		userID,
	)
	if err != nil {
		return AlarmRecord{}, fmt.Errorf("cancel alarm: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err == nil && rowsAffected == 0 {
		return AlarmRecord{}, ErrAlarmNotFound
	}
	return s.LookupAlarm(ctx, id)
}

// CancelAlarmByTitle cancels the user's active alarm matching the
// title case-insensitively. With several matches the earliest-firing
// one is cancelled.
func (s *Store) CancelAlarmByTitle(ctx context.Context, userID int64, title string) (AlarmRecord, error) {
	row := s.db.QueryRowContext(
		ctx,
		selectAlarmSQL+` WHERE user_id = ? AND status = 'active' AND lower(title) = lower(?)
		 ORDER BY fire_at_unix ASC, id ASC LIMIT 1`,
		userID,
		strings.TrimSpace(title),
	)
	record, err := scanAlarm(row)
	if errors.Is(err, sql.ErrNoRows) {
		return AlarmRecord{}, ErrAlarmNotFound
	}
	if err != nil {
		return AlarmRecord{}, err
	}
	return s.CancelAlarm(ctx, record.ID, userID)
}

type UpdateAlarmInput struct {
	ID          int64
	UserID      int64
	Title       string
	FireAt      time.Time
	FireAtLocal string
	RepeatCron  string
}

// UpdateAlarm rewrites the mutable fields of an active alarm. Zero
// values leave the stored value in place.
func (s *Store) UpdateAlarm(ctx context.Context, input UpdateAlarmInput) (AlarmRecord, error) {
	fireAtUnix := int64(0)
	if !input.FireAt.IsZero() {
		fireAtUnix = input.FireAt.UTC().Unix()
	}
	result, err := s.db.ExecContext(
		ctx,
		`UPDATE alarms
		 SET title = COALESCE(?, title),
		     fire_at_unix = COALESCE(?, fire_at_unix),
		     fire_at_local = CASE WHEN ? != '' THEN ? ELSE fire_at_local END,
		     repeat_cron = COALESCE(?, repeat_cron),
		     updated_at_unix = ?
		 WHERE id = ? AND user_id = ? AND status = 'active'`,
		nullIfEmpty(strings.TrimSpace(input.Title)),
		nullIfZeroInt64(fireAtUnix),
		strings.TrimSpace(input.FireAtLocal),
		strings.TrimSpace(input.FireAtLocal),
		nullIfEmpty(strings.TrimSpace(input.RepeatCron)),
		time.Now().UTC().Unix(),
		input.ID,
		input.UserID,
	)
	if err != nil {
		return AlarmRecord{}, fmt.Errorf("update alarm: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err == nil && rowsAffected == 0 {
		return AlarmRecord{}, ErrAlarmNotFound
	}
	return s.LookupAlarm(ctx, input.ID)
}

func (s *Store) DeleteAlarm(ctx context.Context, id, userID int64) error {
	result, err := s.db.ExecContext(
		ctx,
		`DELETE FROM alarms WHERE id = ? AND user_id = ?`,
		id,
		userID,
	)
	if err != nil {
		return fmt.Errorf("delete alarm: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err == nil && rowsAffected == 0 {
		return ErrAlarmNotFound
	}
	return nil
}

// DueAlarms returns active alarms whose fire time has passed.
func (s *Store) DueAlarms(ctx context.Context, now time.Time, limit int) ([]AlarmRecord, error) {
	if limit < 1 {
		limit = 50
	}
	rows, err := s.db.QueryContext(
		ctx,
		selectAlarmSQL+` WHERE status = 'active' AND fire_at_unix <= ? ORDER BY fire_at_unix ASC LIMIT ?`,
		now.UTC().Unix(),
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("due alarms: %w", err)
	}
	return collectAlarms(rows)
}

// MarkAlarmFired finishes a one-shot alarm.
func (s *Store) MarkAlarmFired(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(
		ctx,
		`UPDATE alarms SET status = 'fired', updated_at_unix = ?
		 WHERE id = ? AND status = 'active'`,
		time.Now().UTC().Unix(),
		id,
	)
	if err != nil {
		return fmt.Errorf("mark alarm fired: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err == nil && rowsAffected == 0 {
		return ErrAlarmNotFound
	}
	return nil
}

// RescheduleAlarm moves a recurring alarm to its next fire time while
// keeping it active.
func (s *Store) RescheduleAlarm(ctx context.Context, id int64, nextFireAt time.Time) error {
	result, err := s.db.ExecContext(
		ctx,
		`UPDATE alarms SET fire_at_unix = ?, updated_at_unix = ?
		 WHERE id = ? AND status = 'active'`,
		nextFireAt.UTC().Unix(),
		time.Now().UTC().Unix(),
		id,
	)
	if err != nil {
		return fmt.Errorf("reschedule alarm: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err == nil && rowsAffected == 0 {
		return ErrAlarmNotFound
	}
	return nil
}

const selectAlarmSQL = `SELECT id, user_id, title, fire_at_unix, fire_at_local, timezone, status,
	COALESCE(repeat_cron, ''), created_by_user_id, created_at_unix, updated_at_unix
 FROM alarms`

func scanAlarm(row rowScanner) (AlarmRecord, error) {
	var record AlarmRecord
	var fireUnix, createdUnix, updatedUnix int64
	if err := row.Scan(
		&record.ID,
		&record.UserID,
		&record.Title,
		&fireUnix,
		&record.FireAtLocal,
		&record.Timezone,
		&record.Status,
		&record.RepeatCron,
		&record.CreatedByUserID,
		&createdUnix,
		&updatedUnix,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return AlarmRecord{}, err
		}
		return AlarmRecord{}, fmt.Errorf("scan alarm row: %w", err)
	}
	record.FireAt = time.Unix(fireUnix, 0).UTC()
	record.CreatedAt = time.Unix(createdUnix, 0).UTC()
	record.UpdatedAt = time.Unix(updatedUnix, 0).UTC()
	return record, nil
}

func collectAlarms(rows *sql.Rows) ([]AlarmRecord, error) {
	defer rows.Close()
	results := []AlarmRecord{}
	for rows.Next() {
		record, err := scanAlarm(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, record)
	}
	return results, nil
}
