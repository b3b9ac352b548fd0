package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/wardenhq/warden/internal/store"
)

// Seed idempotently populates the permission catalog, the built-in
// roles with their bundles, and the demo users. Safe to run on every
// startup.
func Seed(ctx context.Context, sqlStore *store.Store, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	for _, name := range AllPermissionNames() {
		description := Describe(name)
		if err := sqlStore.EnsurePermission(ctx, name, description.Description); err != nil {
			return fmt.Errorf("seed permission %s: %w", name, err)
		}
	}
	for role, permissions := range RolePermissions() {
		if err := sqlStore.EnsureRole(ctx, role); err != nil {
			return fmt.Errorf("seed role %s: %w", role, err)
		}
		for _, name := range permissions {
			if err := sqlStore.AttachRolePermission(ctx, role, name); err != nil {
				return fmt.Errorf("seed role permission %s/%s: %w", role, name, err)
			}
		}
	}

	defaultUsers := []struct {
		email       string
		displayName string
		role        string
	}{
		{"alice@example.com", "Alice", "basic"},
		{"bob@example.com", "Bob", "pro"},
		{"admin@example.com", "Admin", "admin"},
	}
	for _, seed := range defaultUsers {
		user, err := sqlStore.CreateUser(ctx, seed.email, seed.displayName, "UTC")
		if errors.Is(err, store.ErrUserAlreadyExists) {
			user, err = sqlStore.LookupUserByEmail(ctx, seed.email)
		}
		if err != nil {
			return fmt.Errorf("seed user %s: %w", seed.email, err)
		}
		if err := sqlStore.AssignRole(ctx, user.ID, seed.role); err != nil {
			return fmt.Errorf("seed user role %s: %w", seed.email, err)
		}
	}
	logger.Info("catalog seeded",
		"permissions", len(AllPermissionNames()),
		"roles", len(RolePermissions()),
		"users", len(defaultUsers))
	return nil
}
