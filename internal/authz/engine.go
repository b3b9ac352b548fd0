package authz

import (
	"context"
	"fmt"
	"time"
)

// Identity is an actor's resolved permission view: the union of
// role-derived permissions and ad-hoc grants. It is computed per
// authorization decision (or once per agent run for the prefetch) and
// never cached across requests.
type Identity struct {
	UserID      int64
	Permissions map[string]struct{}
}

// Has reports whether the identity holds the named permission.
func (id Identity) Has(name string) bool {
	_, ok := id.Permissions[name]
	return ok
}

// Directory is the read surface the engine needs from persistence.
type Directory interface {
	UserExists(ctx context.Context, userID int64) (bool, error)
	PermissionSet(ctx context.Context, userID int64) (map[string]struct{}, error)
	HasActiveDelegation(ctx context.Context, grantorUserID, granteeUserID int64, permissionName string, now time.Time) (bool, error)
}

// Engine decides whether an actor may exercise a permission, possibly
// against another user's account.
type Engine struct {
	dir Directory
	now func() time.Time
}

func NewEngine(dir Directory) *Engine {
	return &Engine{dir: dir, now: func() time.Time { return time.Now().UTC() }}
}

// ResolveIdentity loads the actor's effective permission set.
func (e *Engine) ResolveIdentity(ctx context.Context, userID int64) (Identity, error) {
	exists, err := e.dir.UserExists(ctx, userID)
	if err != nil {
		return Identity{}, fmt.Errorf("resolve identity: %w", err)
	}
	if !exists {
		return Identity{}, fmt.Errorf("resolve identity: user %d not found", userID)
	}
	perms, err := e.dir.PermissionSet(ctx, userID)
	if err != nil {
		return Identity{}, fmt.Errorf("resolve identity: %w", err)
	}
	return Identity{UserID: userID, Permissions: perms}, nil
}

// Require is the self-only check: the actor must hold the permission.
func (e *Engine) Require(actor Identity, permissionName string) error {
	if !actor.Has(permissionName) {
		return missingPermission(permissionName)
	}
	return nil
}

// Authorize decides whether actor may exercise permissionName against
// targetUserID (nil or self means a self-action) and returns the
// effective target user id.
//
// Self-actions need only the base permission. Acting on another user
// additionally requires the for_others variant, an active delegation
// from the target, and, for receptive permissions, that the target
// holds the matching receive permission.
func (e *Engine) Authorize(ctx context.Context, actor Identity, permissionName string, targetUserID *int64) (int64, error) {
	if !actor.Has(permissionName) {
		return 0, missingPermission(permissionName)
	}

	target := actor.UserID
	if targetUserID != nil {
		target = *targetUserID
	}
	if target == actor.UserID {
		return actor.UserID, nil
	}

	forOthersName := ForOthers(permissionName)
	if !actor.Has(forOthersName) {
		return 0, missingPermission(forOthersName)
	}

	active, err := e.dir.HasActiveDelegation(ctx, target, actor.UserID, forOthersName, e.now())
	if err != nil {
		return 0, fmt.Errorf("authorize: %w", err)
	}
	if !active {
		return 0, missingDelegation(target, forOthersName)
	}

	if receiveName, ok := ReceivePermission(permissionName); ok {
		targetPerms, err := e.dir.PermissionSet(ctx, target)
		if err != nil {
			return 0, fmt.Errorf("authorize: %w", err)
		}
		if _, has := targetPerms[receiveName]; !has {
			return 0, targetLacksAccess(target, receiveName)
		}
	}

	return target, nil
}
