package store

import (
	"context"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "warden_test.sqlite")
	sqlStore, err := New(dbPath)
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	t.Cleanup(func() { _ = sqlStore.Close() })
	if err := sqlStore.AutoMigrate(context.Background()); err != nil {
		t.Fatalf("migrate test store: %v", err)
	}
	return sqlStore
}

func newTestUser(t *testing.T, sqlStore *Store, email string) UserRecord {
	t.Helper()
	user, err := sqlStore.CreateUser(context.Background(), email, email, "UTC")
	if err != nil {
		t.Fatalf("create test user %s: %v", email, err)
	}
	return user
}
