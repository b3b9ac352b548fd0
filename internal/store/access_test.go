package store

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestPermissionSetUnionsRolesAndGrants(t *testing.T) {
	sqlStore := newTestStore(t)
	ctx := context.Background()
	user := newTestUser(t, sqlStore, "basic@example.com")

	if err := sqlStore.EnsureRole(ctx, "basic"); err != nil {
		t.Fatalf("ensure role: %v", err)
	}
	for _, name := range []string{"notes:list", "notes:create"} {
		if err := sqlStore.EnsurePermission(ctx, name, ""); err != nil {
			t.Fatalf("ensure permission: %v", err)
		}
		if err := sqlStore.AttachRolePermission(ctx, "basic", name); err != nil {
			t.Fatalf("attach role permission: %v", err)
		}
	}
	if err := sqlStore.AssignRole(ctx, user.ID, "basic"); err != nil {
		t.Fatalf("assign role: %v", err)
	}
	if err := sqlStore.GrantPermission(ctx, user.ID, "alarms:set"); err != nil {
		t.Fatalf("grant permission: %v", err)
	}
	// Granting twice is a no-op.
	if err := sqlStore.GrantPermission(ctx, user.ID, "alarms:set"); err != nil {
		t.Fatalf("regrant permission: %v", err)
	}

	set, err := sqlStore.PermissionSet(ctx, user.ID)
	if err != nil {
		t.Fatalf("permission set: %v", err)
	}
	for _, name := range []string{"notes:list", "notes:create", "alarms:set"} {
		if _, ok := set[name]; !ok {
			t.Fatalf("expected %s in permission set %v", name, set)
		}
	}
	if len(set) != 3 {
		t.Fatalf("expected 3 permissions, got %d", len(set))
	}
}

func TestDelegationLifecycle(t *testing.T) {
	sqlStore := newTestStore(t)
	ctx := context.Background()
	grantor := newTestUser(t, sqlStore, "grantor@example.com")
	grantee := newTestUser(t, sqlStore, "grantee@example.com")
	now := time.Now().UTC()

	active, err := sqlStore.HasActiveDelegation(ctx, grantor.ID, grantee.ID, "alarms:set.for_others", now)
	if err != nil {
		t.Fatalf("has active delegation: %v", err)
	}
	if active {
		t.Fatal("expected no delegation yet")
	}

	if err := sqlStore.CreateDelegation(ctx, grantor.ID, grantee.ID, "alarms:set.for_others"); err != nil {
		t.Fatalf("create delegation: %v", err)
	}
	// Idempotent while one is active.
	if err := sqlStore.CreateDelegation(ctx, grantor.ID, grantee.ID, "alarms:set.for_others"); err != nil {
		t.Fatalf("recreate delegation: %v", err)
	}
	delegations, err := sqlStore.ListDelegations(ctx, grantor.ID)
	if err != nil {
		t.Fatalf("list delegations: %v", err)
	}
	if len(delegations) != 1 {
		t.Fatalf("expected 1 delegation, got %d", len(delegations))
	}

	active, err = sqlStore.HasActiveDelegation(ctx, grantor.ID, grantee.ID, "alarms:set.for_others", now)
	if err != nil {
		t.Fatalf("has active delegation: %v", err)
	}
	if !active {
		t.Fatal("expected delegation to be active")
	}
	// Direction matters.
	reversed, err := sqlStore.HasActiveDelegation(ctx, grantee.ID, grantor.ID, "alarms:set.for_others", now)
	if err != nil {
		t.Fatalf("has active delegation reversed: %v", err)
	}
	if reversed {
		t.Fatal("reversed direction must not be active")
	}

	id := delegations[0].ID
	if err := sqlStore.UpdateDelegationExpiration(ctx, id, grantor.ID, now.Add(-time.Hour)); err != nil {
		t.Fatalf("update delegation expiration: %v", err)
	}
	active, err = sqlStore.HasActiveDelegation(ctx, grantor.ID, grantee.ID, "alarms:set.for_others", now)
	if err != nil {
		t.Fatalf("has active delegation after expiry: %v", err)
	}
	if active {
		t.Fatal("expired delegation must not be active")
	}

	if err := sqlStore.UpdateDelegationExpiration(ctx, id, grantor.ID, time.Time{}); err != nil {
		t.Fatalf("clear delegation expiration: %v", err)
	}
	if err := sqlStore.RevokeDelegation(ctx, id, grantor.ID); err != nil {
		t.Fatalf("revoke delegation: %v", err)
	}
	active, err = sqlStore.HasActiveDelegation(ctx, grantor.ID, grantee.ID, "alarms:set.for_others", now)
	if err != nil {
		t.Fatalf("has active delegation after revoke: %v", err)
	}
	if active {
		t.Fatal("revoked delegation must not be active")
	}
	// Revoking twice reports not found.
	if err := sqlStore.RevokeDelegation(ctx, id, grantor.ID); !errors.Is(err, ErrDelegationNotFound) {
		t.Fatalf("expected ErrDelegationNotFound, got %v", err)
	}
}

func TestRevokeDelegationRequiresGrantor(t *testing.T) {
	sqlStore := newTestStore(t)
	ctx := context.Background()
	grantor := newTestUser(t, sqlStore, "owner@example.com")
	grantee := newTestUser(t, sqlStore, "helper@example.com")

	if err := sqlStore.CreateDelegation(ctx, grantor.ID, grantee.ID, "tasks:create.for_others"); err != nil {
		t.Fatalf("create delegation: %v", err)
	}
	delegations, err := sqlStore.ListDelegations(ctx, grantee.ID)
	if err != nil {
		t.Fatalf("list delegations: %v", err)
	}
	if len(delegations) != 1 {
		t.Fatalf("expected 1 delegation, got %d", len(delegations))
	}

	err = sqlStore.RevokeDelegation(ctx, delegations[0].ID, grantee.ID)
	if !errors.Is(err, ErrDelegationNotFound) {
		t.Fatalf("grantee must not revoke, got %v", err)
	}
}

func TestUsersWithPermissionDeduplicates(t *testing.T) {
	sqlStore := newTestStore(t)
	ctx := context.Background()
	admin := newTestUser(t, sqlStore, "admin@example.com")
	other := newTestUser(t, sqlStore, "other@example.com")

	if err := sqlStore.EnsureRole(ctx, "admin"); err != nil {
		t.Fatalf("ensure role: %v", err)
	}
	if err := sqlStore.EnsurePermission(ctx, "permissions:approve", ""); err != nil {
		t.Fatalf("ensure permission: %v", err)
	}
	if err := sqlStore.AttachRolePermission(ctx, "admin", "permissions:approve"); err != nil {
		t.Fatalf("attach role permission: %v", err)
	}
	if err := sqlStore.AssignRole(ctx, admin.ID, "admin"); err != nil {
		t.Fatalf("assign role: %v", err)
	}
	// Same permission through role and grant must yield one entry.
	if err := sqlStore.GrantPermission(ctx, admin.ID, "permissions:approve"); err != nil {
		t.Fatalf("grant permission: %v", err)
	}
	if err := sqlStore.GrantPermission(ctx, other.ID, "permissions:approve"); err != nil {
		t.Fatalf("grant permission: %v", err)
	}

	ids, err := sqlStore.UsersWithPermission(ctx, "permissions:approve")
	if err != nil {
		t.Fatalf("users with permission: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("expected 2 holders, got %v", ids)
	}
}
