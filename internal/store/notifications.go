package store

import (
	"context"
	"fmt"
	"strings"
	"time"
)

const (
	EventRequestCreated  = "permission_request.created"
	EventRequestApproved = "permission_request.approved"
	EventRequestRejected = "permission_request.rejected"
	EventAlarmFired      = "alarm.fired"
	EventTaskAssigned    = "task.assigned"
	EventNoteAssigned    = "note.assigned"
	EventAlarmAssigned   = "alarm.assigned"
)

type NotificationRecord struct {
	ID        int64
	UserID    int64
	EventType string
	SubjectID int64
	Payload   string
	Read      bool
	CreatedAt time.Time
}

// Notify inserts one notification row. subjectID ties the event to the
// entity it is about (request id, alarm id) and may be zero.
func (s *Store) Notify(ctx context.Context, userID int64, eventType string, subjectID int64, payloadJSON string) error {
	return notifyExec(ctx, s.db, userID, eventType, subjectID, payloadJSON, time.Now().UTC())
}

func notifyExec(ctx context.Context, db execer, userID int64, eventType string, subjectID int64, payloadJSON string, now time.Time) error {
	if strings.TrimSpace(payloadJSON) == "" {
		payloadJSON = "{}"
	}
	_, err := db.ExecContext(
		ctx,
		`INSERT INTO notifications (user_id, event_type, subject_id, payload_json, created_at_unix)
		 VALUES (?, ?, ?, ?, ?)`,
		userID,
		strings.TrimSpace(eventType),
		nullIfZeroInt64(subjectID),
		payloadJSON,
		now.Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

func (s *Store) ListNotifications(ctx context.Context, userID int64, unreadOnly bool, limit int) ([]NotificationRecord, error) {
	if limit < 1 {
		limit = 100
	}
	query := `SELECT id, user_id, event_type, COALESCE(subject_id, 0), payload_json, read, created_at_unix
		 FROM notifications WHERE user_id = ?`
	if unreadOnly {
		query += ` AND read = 0`
	}
	query += ` ORDER BY created_at_unix DESC, id DESC LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	results := []NotificationRecord{}
	for rows.Next() {
		var record NotificationRecord
		var readInt int
		var createdUnix int64
		if err := rows.Scan(
			&record.ID,
			&record.UserID,
			&record.EventType,
			&record.SubjectID,
			&record.Payload,
			&readInt,
			&createdUnix,
		); err != nil {
			return nil, fmt.Errorf("scan notification row: %w", err)
		}
		record.Read = readInt != 0
		record.CreatedAt = time.Unix(createdUnix, 0).UTC()
		results = append(results, record)
	}
	return results, nil
}

func (s *Store) MarkNotificationsRead(ctx context.Context, userID int64, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, 0, len(ids)+1)
	args = append(args, userID)
	for _, id := range ids {
		args = append(args, id)
	}
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE notifications SET read = 1 WHERE user_id = ? AND id IN (`+placeholders+`)`,
		args...,
	)
	if err != nil {
		return fmt.Errorf("mark notifications read: %w", err)
	}
	return nil
}
