package toolserver

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/wardenhq/warden/internal/store"
)

func taskPermissions() []string {
	return []string{"tasks:list", "tasks:create", "tasks:update", "tasks:complete", "tasks:delete"}
}

func TestTasksCreateAndListWithFilters(t *testing.T) {
	env := newTestEnv(t)
	_, token := env.user(t, "bob@example.com", taskPermissions()...)
	env.server.now = func() time.Time { return time.Date(2026, 8, 25, 9, 0, 0, 0, time.UTC) }

	created, err := env.server.tasksCreate(context.Background(), tasksCreateArgs{
		commonArgs: commonArgs{Auth: token},
		Title:      "File taxes",
		DueOn:      "tomorrow",
	})
	if err != nil {
		t.Fatalf("tasks_create: %v", err)
	}
	taskID := created.(map[string]any)["id"].(int64)

	if _, err := env.server.tasksCreate(context.Background(), tasksCreateArgs{
		commonArgs: commonArgs{Auth: token},
		Title:      "Water plants",
		DueOn:      "2026-09-15",
	}); err != nil {
		t.Fatalf("tasks_create: %v", err)
	}

	res, err := env.server.tasksList(context.Background(), tasksListArgs{
		commonArgs: commonArgs{Auth: token},
		DueOn:      "tomorrow",
	})
	if err != nil {
		t.Fatalf("tasks_list: %v", err)
	}
	items := res.([]map[string]any)
	if len(items) != 1 || items[0]["title"] != "File taxes" || items[0]["due_on"] != "2026-08-26" {
		t.Fatalf("unexpected filtered listing: %v", items)
	}

	if _, err := env.server.tasksComplete(context.Background(), tasksCompleteArgs{
		commonArgs: commonArgs{Auth: token},
		TaskID:     taskID,
	}); err != nil {
		t.Fatalf("tasks_complete: %v", err)
	}

	open := false
	res, err = env.server.tasksList(context.Background(), tasksListArgs{
		commonArgs: commonArgs{Auth: token},
		Completed:  &open,
	})
	if err != nil {
		t.Fatalf("tasks_list: %v", err)
	}
	items = res.([]map[string]any)
	if len(items) != 1 || items[0]["title"] != "Water plants" {
		t.Fatalf("unexpected open listing: %v", items)
	}
}

func TestTasksCreateDelegatedNotifiesTarget(t *testing.T) {
	env := newTestEnv(t)
	owner, _ := env.user(t, "owner@example.com", "tasks:receive")
	helper, helperToken := env.user(t, "helper@example.com", "tasks:create", "tasks:create.for_others")
	env.delegate(t, owner.ID, helper.ID, "tasks:create.for_others")

	target := owner.ID
	if _, err := env.server.tasksCreate(context.Background(), tasksCreateArgs{
		commonArgs:   commonArgs{Auth: helperToken},
		Title:        "Buy milk",
		TargetUserID: &target,
	}); err != nil {
		t.Fatalf("delegated tasks_create: %v", err)
	}

	notifications, err := env.store.ListNotifications(context.Background(), owner.ID, true, 10)
	if err != nil {
		t.Fatalf("list notifications: %v", err)
	}
	if len(notifications) != 1 || notifications[0].EventType != store.EventTaskAssigned {
		t.Fatalf("expected task.assigned notification, got %v", notifications)
	}
}

func TestTasksCreateDelegatedBlockedWhenTargetCannotReceive(t *testing.T) {
	env := newTestEnv(t)
	owner, _ := env.user(t, "owner@example.com") // no tasks:receive
	helper, helperToken := env.user(t, "helper@example.com", "tasks:create", "tasks:create.for_others")
	env.delegate(t, owner.ID, helper.ID, "tasks:create.for_others")

	target := owner.ID
	_, err := env.server.tasksCreate(context.Background(), tasksCreateArgs{
		commonArgs:   commonArgs{Auth: helperToken},
		Title:        "Buy milk",
		TargetUserID: &target,
	})
	if err == nil {
		t.Fatal("expected TARGET_LACKS_ACCESS denial")
	}
}

func TestTasksUpdateAndDelete(t *testing.T) {
	env := newTestEnv(t)
	_, token := env.user(t, "bob@example.com", taskPermissions()...)

	created, err := env.server.tasksCreate(context.Background(), tasksCreateArgs{
		commonArgs: commonArgs{Auth: token},
		Title:      "Draft report",
	})
	if err != nil {
		t.Fatalf("tasks_create: %v", err)
	}
	taskID := created.(map[string]any)["id"].(int64)

	if _, err := env.server.tasksUpdate(context.Background(), tasksUpdateArgs{
		commonArgs: commonArgs{Auth: token},
		TaskID:     taskID,
	}); err == nil {
		t.Fatal("expected no-fields error")
	}

	done := true
	res, err := env.server.tasksUpdate(context.Background(), tasksUpdateArgs{
		commonArgs: commonArgs{Auth: token},
		TaskID:     taskID,
		Title:      "Draft final report",
		Completed:  &done,
	})
	if err != nil {
		t.Fatalf("tasks_update: %v", err)
	}
	payload := res.(map[string]any)
	if payload["title"] != "Draft final report" || payload["completed"] != true {
		t.Fatalf("unexpected update payload: %v", payload)
	}

	if _, err := env.server.tasksDelete(context.Background(), tasksDeleteArgs{
		commonArgs: commonArgs{Auth: token},
		TaskID:     taskID,
	}); err != nil {
		t.Fatalf("tasks_delete: %v", err)
	}
	if _, err := env.server.tasksDelete(context.Background(), tasksDeleteArgs{
		commonArgs: commonArgs{Auth: token},
		TaskID:     taskID,
	}); !errors.Is(err, store.ErrTaskNotFound) {
		t.Fatalf("expected not-found, got %v", err)
	}
}

func TestNotesCRUD(t *testing.T) {
	env := newTestEnv(t)
	_, token := env.user(t, "alice@example.com", "notes:list", "notes:create", "notes:update", "notes:delete")

	created, err := env.server.notesCreate(context.Background(), notesCreateArgs{
		commonArgs: commonArgs{Auth: token},
		Title:      "Groceries",
		Content:    "milk, eggs",
	})
	if err != nil {
		t.Fatalf("notes_create: %v", err)
	}
	noteID := created.(map[string]any)["id"].(int64)

	res, err := env.server.notesUpdate(context.Background(), notesUpdateArgs{
		commonArgs: commonArgs{Auth: token},
		NoteID:     noteID,
		Content:    "milk, eggs, bread",
	})
	if err != nil {
		t.Fatalf("notes_update: %v", err)
	}
	if res.(map[string]any)["content"] != "milk, eggs, bread" {
		t.Fatalf("unexpected note content: %v", res)
	}

	listed, err := env.server.notesList(context.Background(), notesListArgs{commonArgs: commonArgs{Auth: token}})
	if err != nil {
		t.Fatalf("notes_list: %v", err)
	}
	if len(listed.([]map[string]any)) != 1 {
		t.Fatalf("unexpected listing: %v", listed)
	}

	if _, err := env.server.notesDelete(context.Background(), notesDeleteArgs{
		commonArgs: commonArgs{Auth: token},
		NoteID:     noteID,
	}); err != nil {
		t.Fatalf("notes_delete: %v", err)
	}
	if _, err := env.server.notesDelete(context.Background(), notesDeleteArgs{
		commonArgs: commonArgs{Auth: token},
		NoteID:     noteID,
	}); !errors.Is(err, store.ErrNoteNotFound) {
		t.Fatalf("expected not-found, got %v", err)
	}
}
