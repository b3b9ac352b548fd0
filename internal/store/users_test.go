package store

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestCreateAndLookupUser(t *testing.T) {
	sqlStore := newTestStore(t)
	ctx := context.Background()

	user, err := sqlStore.CreateUser(ctx, "Alice@Example.com", "Alice", "")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	if user.Email != "alice@example.com" {
		t.Fatalf("expected lowercased email, got %s", user.Email)
	}
	if user.Timezone != "UTC" {
		t.Fatalf("expected UTC default, got %s", user.Timezone)
	}

	if _, err := sqlStore.CreateUser(ctx, "alice@example.com", "Other Alice", ""); !errors.Is(err, ErrUserAlreadyExists) {
		t.Fatalf("expected ErrUserAlreadyExists, got %v", err)
	}

	byEmail, err := sqlStore.LookupUserByEmail(ctx, "ALICE@example.com")
	if err != nil {
		t.Fatalf("lookup by email: %v", err)
	}
	if byEmail.ID != user.ID {
		t.Fatalf("expected id %d, got %d", user.ID, byEmail.ID)
	}

	if _, err := sqlStore.LookupUser(ctx, 9999); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestSearchUsers(t *testing.T) {
	sqlStore := newTestStore(t)
	ctx := context.Background()
	newTestUser(t, sqlStore, "alice@example.com")
	newTestUser(t, sqlStore, "bob@example.com")

	matches, err := sqlStore.SearchUsers(ctx, "Alice", 10)
	if err != nil {
		t.Fatalf("search users: %v", err)
	}
	if len(matches) != 1 || !strings.HasPrefix(matches[0].Email, "alice") {
		t.Fatalf("unexpected matches: %v", matches)
	}

	everyone, err := sqlStore.SearchUsers(ctx, "", 10)
	if err != nil {
		t.Fatalf("search all users: %v", err)
	}
	if len(everyone) != 2 {
		t.Fatalf("expected 2 users, got %d", len(everyone))
	}

	none, err := sqlStore.SearchUsers(ctx, "charlie", 10)
	if err != nil {
		t.Fatalf("search missing user: %v", err)
	}
	if len(none) != 0 {
		t.Fatalf("expected no matches, got %v", none)
	}
}

func TestAgentRunAndAudit(t *testing.T) {
	sqlStore := newTestStore(t)
	ctx := context.Background()
	user := newTestUser(t, sqlStore, "alice@example.com")

	run, err := sqlStore.CreateAgentRun(ctx, user.ID, "general")
	if err != nil {
		t.Fatalf("create agent run: %v", err)
	}
	if !strings.HasPrefix(run.ID, "run_") {
		t.Fatalf("expected run_ id prefix, got %s", run.ID)
	}
	if run.Status != RunStatusRunning {
		t.Fatalf("expected running, got %s", run.Status)
	}

	if err := sqlStore.RecordToolCall(ctx, ToolCallAudit{
		RunID:    run.ID,
		UserID:   user.ID,
		ToolName: "alarms_list",
		OK:       true,
	}); err != nil {
		t.Fatalf("record tool call: %v", err)
	}
	if err := sqlStore.RecordTokenUsage(ctx, TokenUsage{
		RunID:        run.ID,
		Model:        "gpt-4o-mini",
		InputTokens:  120,
		OutputTokens: 40,
	}); err != nil {
		t.Fatalf("record token usage: %v", err)
	}

	if err := sqlStore.FinishAgentRun(ctx, run.ID, RunStatusCompleted, "all set", 3); err != nil {
		t.Fatalf("finish agent run: %v", err)
	}
	loaded, err := sqlStore.LookupAgentRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("lookup agent run: %v", err)
	}
	if loaded.Status != RunStatusCompleted || loaded.FinalText != "all set" || loaded.Steps != 3 {
		t.Fatalf("unexpected finished run: %+v", loaded)
	}
}
