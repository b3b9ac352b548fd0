package toolserver

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/wardenhq/warden/internal/access"
	"github.com/wardenhq/warden/internal/auth"
	"github.com/wardenhq/warden/internal/authz"
	"github.com/wardenhq/warden/internal/store"
)

type testEnv struct {
	server *Server
	store  *store.Store
	tokens *auth.Tokens
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "toolserver_test.sqlite")
	sqlStore, err := store.New(dbPath)
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	t.Cleanup(func() { _ = sqlStore.Close() })
	if err := sqlStore.AutoMigrate(context.Background()); err != nil {
		t.Fatalf("migrate test store: %v", err)
	}
	engine := authz.NewEngine(sqlStore)
	tokens := auth.NewTokens("test-secret", time.Hour)
	server := New(Deps{
		Store:  sqlStore,
		Engine: engine,
		Access: access.NewService(sqlStore, engine, slog.Default()),
		Tokens: tokens,
	})
	return &testEnv{server: server, store: sqlStore, tokens: tokens}
}

// user creates an account, grants it the named permissions directly,
// and returns a bearer token for it.
func (env *testEnv) user(t *testing.T, email string, permissions ...string) (store.UserRecord, string) {
	t.Helper()
	ctx := context.Background()
	user, err := env.store.CreateUser(ctx, email, email, "UTC")
	if err != nil {
		t.Fatalf("create user %s: %v", email, err)
	}
	for _, name := range permissions {
		if err := env.store.EnsurePermission(ctx, name, ""); err != nil {
			t.Fatalf("ensure permission %s: %v", name, err)
		}
		if err := env.store.GrantPermission(ctx, user.ID, name); err != nil {
			t.Fatalf("grant %s: %v", name, err)
		}
	}
	token, err := env.tokens.Create(user.ID)
	if err != nil {
		t.Fatalf("create token: %v", err)
	}
	return user, token
}

func (env *testEnv) delegate(t *testing.T, grantor, grantee int64, permission string) {
	t.Helper()
	if err := env.store.EnsurePermission(context.Background(), permission, ""); err != nil {
		t.Fatalf("ensure permission: %v", err)
	}
	if err := env.store.CreateDelegation(context.Background(), grantor, grantee, permission); err != nil {
		t.Fatalf("create delegation: %v", err)
	}
}

func TestAuthMe(t *testing.T) {
	env := newTestEnv(t)
	user, token := env.user(t, "alice@example.com", "weather:read", "notes:list")

	res, err := env.server.authMe(context.Background(), commonArgs{Auth: token, AgentRunID: "run_x"})
	if err != nil {
		t.Fatalf("auth_me: %v", err)
	}
	payload := res.(map[string]any)
	if payload["user_id"] != user.ID || payload["email"] != "alice@example.com" {
		t.Fatalf("unexpected identity payload: %v", payload)
	}
	perms := payload["permissions"].([]string)
	if len(perms) != 2 || perms[0] != "notes:list" || perms[1] != "weather:read" {
		t.Fatalf("unexpected permissions: %v", perms)
	}
}

func TestAuthMeRejectsBadToken(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.server.authMe(context.Background(), commonArgs{Auth: "garbage"}); err == nil {
		t.Fatal("expected token rejection")
	}
}

func TestUsersListRequiresRequestPermission(t *testing.T) {
	env := newTestEnv(t)
	_, blocked := env.user(t, "blocked@example.com")
	_, allowed := env.user(t, "allowed@example.com", authz.PermissionRequestAccess)

	if _, err := env.server.usersList(context.Background(), usersListArgs{commonArgs: commonArgs{Auth: blocked}}); err == nil {
		t.Fatal("expected missing-permission error")
	}

	res, err := env.server.usersList(context.Background(), usersListArgs{
		commonArgs: commonArgs{Auth: allowed},
		Query:      "blocked",
	})
	if err != nil {
		t.Fatalf("users_list: %v", err)
	}
	items := res.([]map[string]any)
	if len(items) != 1 || items[0]["email"] != "blocked@example.com" {
		t.Fatalf("unexpected user listing: %v", items)
	}
}

func TestToolCallsAreAudited(t *testing.T) {
	env := newTestEnv(t)
	user, token := env.user(t, "alice@example.com")

	run, err := env.store.CreateAgentRun(context.Background(), user.ID, "general")
	if err != nil {
		t.Fatalf("create run: %v", err)
	}
	if _, err := env.server.authMe(context.Background(), commonArgs{Auth: token, AgentRunID: run.ID}); err != nil {
		t.Fatalf("auth_me: %v", err)
	}
	// A denied call is audited too, with the failure recorded.
	if _, err := env.server.usersList(context.Background(), usersListArgs{
		commonArgs: commonArgs{Auth: token, AgentRunID: run.ID},
	}); err == nil {
		t.Fatal("expected denial")
	}

	audits, err := env.store.ListToolCalls(context.Background(), run.ID)
	if err != nil {
		t.Fatalf("list tool calls: %v", err)
	}
	if len(audits) != 2 {
		t.Fatalf("expected 2 audit rows, got %d", len(audits))
	}
	if audits[0].ToolName != "auth.me" || !audits[0].OK {
		t.Fatalf("unexpected first audit: %+v", audits[0])
	}
	if audits[1].ToolName != "users.list" || audits[1].OK || audits[1].Error == "" {
		t.Fatalf("unexpected second audit: %+v", audits[1])
	}
}
