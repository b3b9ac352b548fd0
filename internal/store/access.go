package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrDelegationNotFound = errors.New("delegation not found")

type DelegationRecord struct {
	ID             int64
	GrantorUserID  int64
	GranteeUserID  int64
	PermissionName string
	CreatedAt      time.Time
	ExpiresAt      time.Time
	RevokedAt      time.Time
}

// Active reports whether the delegation is usable at the given time:
// not revoked and not past its expiration.
func (d DelegationRecord) Active(now time.Time) bool {
	if !d.RevokedAt.IsZero() {
		return false
	}
	if !d.ExpiresAt.IsZero() && !d.ExpiresAt.After(now) {
		return false
	}
	return true
}

func (s *Store) EnsureRole(ctx context.Context, name string) error {
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO roles (name) VALUES (?) ON CONFLICT(name) DO NOTHING`,
		strings.TrimSpace(name),
	)
	if err != nil {
		return fmt.Errorf("ensure role: %w", err)
	}
	return nil
}

func (s *Store) EnsurePermission(ctx context.Context, name, description string) error {
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO permissions (name, description) VALUES (?, ?)
		 ON CONFLICT(name) DO UPDATE SET description = excluded.description`,
		strings.TrimSpace(name),
		strings.TrimSpace(description),
	)
	if err != nil {
		return fmt.Errorf("ensure permission: %w", err)
	}
	return nil
}

func (s *Store) PermissionExists(ctx context.Context, name string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(
		ctx,
		`SELECT 1 FROM permissions WHERE name = ?`,
		strings.TrimSpace(name),
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("permission exists: %w", err)
	}
	return true, nil
}

func (s *Store) AssignRole(ctx context.Context, userID int64, roleName string) error {
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO user_roles (user_id, role_id)
		 SELECT ?, id FROM roles WHERE name = ?
		 ON CONFLICT(user_id, role_id) DO NOTHING`,
		userID,
		strings.TrimSpace(roleName),
	)
	if err != nil {
		return fmt.Errorf("assign role: %w", err)
	}
	return nil
}

func (s *Store) AttachRolePermission(ctx context.Context, roleName, permissionName string) error {
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO role_permissions (role_id, permission_id)
		 SELECT r.id, p.id FROM roles r, permissions p WHERE r.name = ? AND p.name = ?
		 ON CONFLICT(role_id, permission_id) DO NOTHING`,
		strings.TrimSpace(roleName),
		strings.TrimSpace(permissionName),
	)
	if err != nil {
		return fmt.Errorf("attach role permission: %w", err)
	}
	return nil
}

// GrantPermission inserts an ad-hoc grant, idempotently. Grants made
// outside a request decision carry no granting user.
func (s *Store) GrantPermission(ctx context.Context, userID int64, permissionName string) error {
	return grantPermissionExec(ctx, s.db, userID, permissionName, 0, time.Now().UTC())
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func grantPermissionExec(ctx context.Context, db execer, userID int64, permissionName string, grantedByUserID int64, now time.Time) error {
	_, err := db.ExecContext(
		ctx,
		`INSERT INTO permission_grants (user_id, permission_name, granted_by_user_id, created_at_unix)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(user_id, permission_name) DO NOTHING`,
		userID,
		strings.TrimSpace(permissionName),
		nullIfZeroInt64(grantedByUserID),
		now.Unix(),
	)
	if err != nil {
		return fmt.Errorf("grant permission: %w", err)
	}
	return nil
}

// PermissionGrantRecord is one ad-hoc grant row. GrantedByUserID is
// zero for grants that did not come from an approved request.
type PermissionGrantRecord struct {
	ID              int64
	UserID          int64
	PermissionName  string
	GrantedByUserID int64
	CreatedAt       time.Time
}

// ListPermissionGrants returns the user's ad-hoc grants, oldest first.
func (s *Store) ListPermissionGrants(ctx context.Context, userID int64) ([]PermissionGrantRecord, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, user_id, permission_name, COALESCE(granted_by_user_id, 0), created_at_unix
		 FROM permission_grants
		 WHERE user_id = ?
		 ORDER BY created_at_unix ASC, id ASC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list permission grants: %w", err)
	}
	defer rows.Close()
	grants := []PermissionGrantRecord{}
	for rows.Next() {
		var grant PermissionGrantRecord
		var createdUnix int64
		if err := rows.Scan(&grant.ID, &grant.UserID, &grant.PermissionName, &grant.GrantedByUserID, &createdUnix); err != nil {
			return nil, fmt.Errorf("scan permission grant row: %w", err)
		}
		grant.CreatedAt = time.Unix(createdUnix, 0).UTC()
		grants = append(grants, grant)
	}
	return grants, nil
}

// PermissionSet returns the union of role-derived permissions and
// ad-hoc grants for the user.
func (s *Store) PermissionSet(ctx context.Context, userID int64) (map[string]struct{}, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT p.name
		 FROM permissions p
		 JOIN role_permissions rp ON rp.permission_id = p.id
		 JOIN user_roles ur ON ur.role_id = rp.role_id
		 WHERE ur.user_id = ?
		 UNION
		 SELECT permission_name FROM permission_grants WHERE user_id = ?`,
		userID,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("permission set: %w", err)
	}
	defer rows.Close()

	set := map[string]struct{}{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan permission name: %w", err)
		}
		set[name] = struct{}{}
	}
	return set, nil
}

func (s *Store) RoleNames(ctx context.Context, userID int64) ([]string, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT r.name FROM roles r
		 JOIN user_roles ur ON ur.role_id = r.id
		 WHERE ur.user_id = ?
		 ORDER BY r.name`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("role names: %w", err)
	}
	defer rows.Close()

	names := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan role name: %w", err)
		}
		names = append(names, name)
	}
	return names, nil
}

// UsersWithPermission returns every user holding the permission either
// through a role or an ad-hoc grant. Used for approver fan-out.
func (s *Store) UsersWithPermission(ctx context.Context, permissionName string) ([]int64, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT ur.user_id
		 FROM user_roles ur
		 JOIN role_permissions rp ON rp.role_id = ur.role_id
		 JOIN permissions p ON p.id = rp.permission_id
		 WHERE p.name = ?
		 UNION
		 SELECT user_id FROM permission_grants WHERE permission_name = ?
		 ORDER BY 1`,
		strings.TrimSpace(permissionName),
		strings.TrimSpace(permissionName),
	)
	if err != nil {
		return nil, fmt.Errorf("users with permission: %w", err)
	}
	defer rows.Close()

	ids := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan user id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// HasActiveDelegation reports whether grantor has an active delegation
// of the permission to grantee at the given time.
func (s *Store) HasActiveDelegation(ctx context.Context, grantorUserID, granteeUserID int64, permissionName string, now time.Time) (bool, error) {
	var one int
	err := s.db.QueryRowContext(
		ctx,
		`SELECT 1 FROM delegations
		 WHERE grantor_user_id = ? AND grantee_user_id = ? AND permission_name = ?
		   AND revoked_at_unix IS NULL
		   AND (expires_at_unix IS NULL OR expires_at_unix > ?)
		 LIMIT 1`,
		grantorUserID,
		granteeUserID,
		strings.TrimSpace(permissionName),
		now.Unix(),
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("has active delegation: %w", err)
	}
	return true, nil
}

// CreateDelegation inserts a delegation unless an active one already
// exists for the same triple.
func (s *Store) CreateDelegation(ctx context.Context, grantorUserID, granteeUserID int64, permissionName string) error {
	now := time.Now().UTC()
	return createDelegationExec(ctx, s.db, grantorUserID, granteeUserID, permissionName, now)
}

func createDelegationExec(ctx context.Context, db execer, grantorUserID, granteeUserID int64, permissionName string, now time.Time) error {
	_, err := db.ExecContext(
		ctx,
		`INSERT INTO delegations (grantor_user_id, grantee_user_id, permission_name, created_at_unix)
		 SELECT ?, ?, ?, ?
		 WHERE NOT EXISTS (
			SELECT 1 FROM delegations
			WHERE grantor_user_id = ? AND grantee_user_id = ? AND permission_name = ?
			  AND revoked_at_unix IS NULL
			  AND (expires_at_unix IS NULL OR expires_at_unix > ?)
		 )`,
		grantorUserID,
		granteeUserID,
		strings.TrimSpace(permissionName),
		now.Unix(),
		grantorUserID,
		granteeUserID,
		strings.TrimSpace(permissionName),
		now.Unix(),
	)
	if err != nil {
		return fmt.Errorf("create delegation: %w", err)
	}
	return nil
}

// ListDelegations returns delegations where the user is grantor or
// grantee, newest first.
func (s *Store) ListDelegations(ctx context.Context, userID int64) ([]DelegationRecord, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, grantor_user_id, grantee_user_id, permission_name,
		        created_at_unix, COALESCE(expires_at_unix, 0), COALESCE(revoked_at_unix, 0)
		 FROM delegations
		 WHERE grantor_user_id = ? OR grantee_user_id = ?
		 ORDER BY created_at_unix DESC, id DESC`,
		userID,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list delegations: %w", err)
	}
	defer rows.Close()

	results := []DelegationRecord{}
	for rows.Next() {
		record, err := scanDelegation(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, record)
	}
	return results, nil
}

func (s *Store) LookupDelegation(ctx context.Context, id int64) (DelegationRecord, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT id, grantor_user_id, grantee_user_id, permission_name,
		        created_at_unix, COALESCE(expires_at_unix, 0), COALESCE(revoked_at_unix, 0)
		 FROM delegations WHERE id = ?`,
		id,
	)
	record, err := scanDelegation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return DelegationRecord{}, ErrDelegationNotFound
	}
	return record, err
}

// UpdateDelegationExpiration sets or clears the expiration. Only the
// grantor may change it.
func (s *Store) UpdateDelegationExpiration(ctx context.Context, id, grantorUserID int64, expiresAt time.Time) error {
	expiresUnix := int64(0)
	if !expiresAt.IsZero() {
		expiresUnix = expiresAt.UTC().Unix()
	}
	result, err := s.db.ExecContext(
		ctx,
		`UPDATE delegations SET expires_at_unix = ?
		 WHERE id = ? AND grantor_user_id = ? AND revoked_at_unix IS NULL`,
		nullIfZeroInt64(expiresUnix),
		id,
		grantorUserID,
	)
	if err != nil {
		return fmt.Errorf("update delegation expiration: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err == nil && rowsAffected == 0 {
		return ErrDelegationNotFound
	}
	return nil
}

// RevokeDelegation marks the delegation revoked. Only the grantor may
// revoke it; revoking twice is a not-found.
func (s *Store) RevokeDelegation(ctx context.Context, id, grantorUserID int64) error {
	result, err := s.db.ExecContext(
		ctx,
		`UPDATE delegations SET revoked_at_unix = ?
		 WHERE id = ? AND grantor_user_id = ? AND revoked_at_unix IS NULL`,
		time.Now().UTC().Unix(),
		id,
		grantorUserID,
	)
	if err != nil {
		return fmt.Errorf("revoke delegation: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err == nil && rowsAffected == 0 {
		return ErrDelegationNotFound
	}
	return nil
}

func scanDelegation(row rowScanner) (DelegationRecord, error) {
	var record DelegationRecord
	var createdUnix, expiresUnix, revokedUnix int64
	if err := row.Scan(
		&record.ID,
		&record.GrantorUserID,
		&record.GranteeUserID,
		&record.PermissionName,
		&createdUnix,
		&expiresUnix,
		&revokedUnix,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return DelegationRecord{}, err
		}
		return DelegationRecord{}, fmt.Errorf("scan delegation row: %w", err)
	}
	record.CreatedAt = time.Unix(createdUnix, 0).UTC()
	if expiresUnix > 0 {
		record.ExpiresAt = time.Unix(expiresUnix, 0).UTC()
	}
	if revokedUnix > 0 {
		record.RevokedAt = time.Unix(revokedUnix, 0).UTC()
	}
	return record, nil
}
