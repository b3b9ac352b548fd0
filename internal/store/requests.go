package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrRequestNotFound = errors.New("permission request not found")
var ErrRequestAlreadyDecided = errors.New("permission request already decided")

const (
	RequestKindPermission = "permission"
	RequestKindDelegation = "delegation"

	RequestStatusPending  = "pending"
	RequestStatusApproved = "approved"
	RequestStatusRejected = "rejected"
)

type PermissionRequestRecord struct {
	ID              int64
	RequesterUserID int64
	PermissionName  string
	Kind            string
	TargetUserID    int64
	Reason          string
	Status          string
	DecidedByUserID int64
	DecidedAt       time.Time
	DecisionNote    string
	CreatedAt       time.Time
}

type CreatePermissionRequestInput struct {
	RequesterUserID int64
	PermissionName  string
	Kind            string
	TargetUserID    int64
	Reason          string
}

func (s *Store) CreatePermissionRequest(ctx context.Context, input CreatePermissionRequestInput) (PermissionRequestRecord, error) {
	result, err := s.db.ExecContext(
		ctx,
		`INSERT INTO permission_requests
			(requester_user_id, permission_name, request_kind, target_user_id, reason, status, created_at_unix)
		 VALUES (?, ?, ?, ?, ?, 'pending', ?)`,
		input.RequesterUserID,
		strings.TrimSpace(input.PermissionName),
		input.Kind,
		nullIfZeroInt64(input.TargetUserID),
		strings.TrimSpace(input.Reason),
		time.Now().UTC().Unix(),
	)
	if err != nil {
		return PermissionRequestRecord{}, fmt.Errorf("insert permission request: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return PermissionRequestRecord{}, fmt.Errorf("insert permission request id: %w", err)
	}
	return s.LookupPermissionRequest(ctx, id)
}

func (s *Store) LookupPermissionRequest(ctx context.Context, id int64) (PermissionRequestRecord, error) {
	row := s.db.QueryRowContext(ctx, selectRequestSQL+` WHERE id = ?`, id)
	record, err := scanPermissionRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return PermissionRequestRecord{}, ErrRequestNotFound
	}
	return record, err
}

// ListRequestsByRequester returns the user's own requests, newest
// first.
func (s *Store) ListRequestsByRequester(ctx context.Context, requesterUserID int64) ([]PermissionRequestRecord, error) {
	rows, err := s.db.QueryContext(
		ctx,
		selectRequestSQL+` WHERE requester_user_id = ? ORDER BY created_at_unix DESC, id DESC`,
		requesterUserID,
	)
	if err != nil {
		return nil, fmt.Errorf("list requests by requester: %w", err)
	}
	return collectRequests(rows)
}

// ListPendingRequests returns every undecided request, oldest first,
// so an approver inbox processes them in arrival order.
func (s *Store) ListPendingRequests(ctx context.Context) ([]PermissionRequestRecord, error) {
	rows, err := s.db.QueryContext(
		ctx,
		selectRequestSQL+` WHERE status = 'pending' ORDER BY created_at_unix ASC, id ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("list pending requests: %w", err)
	}
	return collectRequests(rows)
}

type DecideRequestInput struct {
	RequestID     int64
	DeciderUserID int64
	Approve       bool
	Note          string
}

// DecideRequest applies a decision atomically: the pending check, the
// grant writes, the status update, and the notification fan-out all
// happen in one transaction, so two concurrent deciders cannot both
// win. On approval:
//   - a permission request inserts one grant for the requester;
//   - a delegation request inserts an active delegation from the
//     target to the requester, grants the requester the for_others
//     name, and grants the base name too when the catalog knows it.
//
// Both outcomes notify the requester and the decider and mark the
// decider's request-created notifications for this request as read.
func (s *Store) DecideRequest(ctx context.Context, input DecideRequestInput) (PermissionRequestRecord, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return PermissionRequestRecord{}, fmt.Errorf("begin decide tx: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	row := tx.QueryRowContext(ctx, selectRequestSQL+` WHERE id = ?`, input.RequestID)
	request, err := scanPermissionRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return PermissionRequestRecord{}, ErrRequestNotFound
	}
	if err != nil {
		return PermissionRequestRecord{}, err
	}
	if request.Status != RequestStatusPending {
		return PermissionRequestRecord{}, ErrRequestAlreadyDecided
	}

	status := RequestStatusRejected
	if input.Approve {
		status = RequestStatusApproved
	}
	if _, err := tx.ExecContext(
		ctx,
		`UPDATE permission_requests
		 SET status = ?, decided_by_user_id = ?, decided_at_unix = ?, decision_note = ?
		 WHERE id = ? AND status = 'pending'`,
		status,
		input.DeciderUserID,
		now.Unix(),
		nullIfEmpty(strings.TrimSpace(input.Note)),
		input.RequestID,
	); err != nil {
		return PermissionRequestRecord{}, fmt.Errorf("update request status: %w", err)
	}

	if input.Approve {
		if err := applyApproval(ctx, tx, request, input.DeciderUserID, now); err != nil {
			return PermissionRequestRecord{}, err
		}
	}

	eventType := EventRequestRejected
	if input.Approve {
		eventType = EventRequestApproved
	}
	for _, userID := range []int64{request.RequesterUserID, input.DeciderUserID} {
		if err := notifyExec(ctx, tx, userID, eventType, request.ID, requestEventPayload(request, status), now); err != nil {
			return PermissionRequestRecord{}, err
		}
	}
	if _, err := tx.ExecContext(
		ctx,
		`UPDATE notifications SET read = 1
		 WHERE user_id = ? AND event_type = ? AND subject_id = ?`,
		input.DeciderUserID,
		EventRequestCreated,
		request.ID,
	); err != nil {
		return PermissionRequestRecord{}, fmt.Errorf("mark request notifications read: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return PermissionRequestRecord{}, fmt.Errorf("commit decide tx: %w", err)
	}
	return s.LookupPermissionRequest(ctx, input.RequestID)
}

func applyApproval(ctx context.Context, tx *sql.Tx, request PermissionRequestRecord, deciderUserID int64, now time.Time) error {
	switch request.Kind {
	case RequestKindPermission:
		return grantPermissionExec(ctx, tx, request.RequesterUserID, request.PermissionName, deciderUserID, now)
	case RequestKindDelegation:
		if err := createDelegationExec(ctx, tx, request.TargetUserID, request.RequesterUserID, request.PermissionName, now); err != nil {
			return err
		}
		if err := grantPermissionExec(ctx, tx, request.RequesterUserID, request.PermissionName, deciderUserID, now); err != nil {
			return err
		}
		base := strings.TrimSuffix(request.PermissionName, ".for_others")
		if base == request.PermissionName {
			return nil
		}
		var one int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM permissions WHERE name = ?`, base).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("check base permission: %w", err)
		}
		return grantPermissionExec(ctx, tx, request.RequesterUserID, base, deciderUserID, now)
	default:
		return fmt.Errorf("decide request: unknown kind %q", request.Kind)
	}
}

func requestEventPayload(request PermissionRequestRecord, status string) string {
	return fmt.Sprintf(
		`{"request_id": %d, "permission_name": %q, "kind": %q, "status": %q}`,
		request.ID, request.PermissionName, request.Kind, status,
	)
}

const selectRequestSQL = `SELECT id, requester_user_id, permission_name, request_kind,
	COALESCE(target_user_id, 0), reason, status,
	COALESCE(decided_by_user_id, 0), COALESCE(decided_at_unix, 0), COALESCE(decision_note, ''),
	created_at_unix
 FROM permission_requests`

func scanPermissionRequest(row rowScanner) (PermissionRequestRecord, error) {
	var record PermissionRequestRecord
	var decidedUnix, createdUnix int64
	if err := row.Scan(
		&record.ID,
		&record.RequesterUserID,
		&record.PermissionName,
		&record.Kind,
		&record.TargetUserID,
		&record.Reason,
		&record.Status,
		&record.DecidedByUserID,
		&decidedUnix,
		&record.DecisionNote,
		&createdUnix,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return PermissionRequestRecord{}, err
		}
		return PermissionRequestRecord{}, fmt.Errorf("scan permission request row: %w", err)
	}
	if decidedUnix > 0 {
		record.DecidedAt = time.Unix(decidedUnix, 0).UTC()
	}
	record.CreatedAt = time.Unix(createdUnix, 0).UTC()
	return record, nil
}

func collectRequests(rows *sql.Rows) ([]PermissionRequestRecord, error) {
	defer rows.Close()
	results := []PermissionRequestRecord{}
	for rows.Next() {
		record, err := scanPermissionRequest(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, record)
	}
	return results, nil
}
