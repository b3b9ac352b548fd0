package agent

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/wardenhq/warden/internal/llm"
	"github.com/wardenhq/warden/internal/mcp"
)

type scriptedModel struct {
	responses []llm.Response
	calls     []llm.CompleteInput
}

func (m *scriptedModel) Complete(ctx context.Context, input llm.CompleteInput) (llm.Response, error) {
	m.calls = append(m.calls, input)
	if len(m.responses) == 0 {
		return llm.Response{}, fmt.Errorf("unexpected model call %d", len(m.calls))
	}
	next := m.responses[0]
	m.responses = m.responses[1:]
	return next, nil
}

func (m *scriptedModel) Model() string { return "fake-model" }

type backendCall struct {
	Name string
	Args map[string]any
}

type fakeBackend struct {
	tools    []mcp.ToolInfo
	handlers map[string]func(args map[string]any) mcp.ToolResult
	calls    []backendCall
}

func (b *fakeBackend) ListTools(ctx context.Context) ([]mcp.ToolInfo, error) {
	return b.tools, nil
}

func (b *fakeBackend) CallToolSafe(ctx context.Context, name string, args map[string]any) mcp.ToolResult {
	b.calls = append(b.calls, backendCall{Name: name, Args: args})
	if handler, ok := b.handlers[name]; ok {
		return handler(args)
	}
	return mcp.ToolResult{Err: "unknown tool " + name}
}

func (b *fakeBackend) called(name string) *backendCall {
	for i := range b.calls {
		if b.calls[i].Name == name {
			return &b.calls[i]
		}
	}
	return nil
}

func newFakeBackend(permissions ...string) *fakeBackend {
	names := []string{
		"auth_me", "users_list",
		"notes_list", "notes_create",
		"tasks_list", "tasks_create",
		"alarms_list", "alarms_set", "alarms_cancel",
		"approvals_requests_list", "approvals_request_decide",
		"permission_requests_create",
	}
	tools := make([]mcp.ToolInfo, 0, len(names))
	for _, name := range names {
		tools = append(tools, mcp.ToolInfo{
			Name:        name,
			InputSchema: map[string]any{"type": "object"},
		})
	}
	perms := make([]any, 0, len(permissions))
	for _, permission := range permissions {
		perms = append(perms, permission)
	}
	return &fakeBackend{
		tools: tools,
		handlers: map[string]func(map[string]any) mcp.ToolResult{
			"auth_me": func(map[string]any) mcp.ToolResult {
				return mcp.ToolResult{OK: true, Result: map[string]any{
					"user_id":     int64(1),
					"permissions": perms,
					"roles":       []any{"basic"},
				}}
			},
		},
	}
}

func usageOf(in, out int64) llm.Usage {
	return llm.Usage{InputTokens: in, OutputTokens: out, TotalTokens: in + out}
}

func TestRunCapabilitiesShortcut(t *testing.T) {
	backend := newFakeBackend("notes:list", "weather:read")
	model := &scriptedModel{}
	runner := NewRunner(backend, model, model, Config{}, nil)

	result, err := runner.Run(context.Background(), RunInput{
		Token:  "tok",
		RunID:  "run_1",
		Prompt: "what can i do?",
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(result.Text, "- Notes: list") || !strings.Contains(result.Text, "- Weather: read") {
		t.Fatalf("unexpected capabilities answer: %s", result.Text)
	}
	if len(model.calls) != 0 {
		t.Fatalf("capabilities question must not reach the model, got %d calls", len(model.calls))
	}
	authCall := backend.called("auth_me")
	if authCall == nil || authCall.Args["auth"] != "Bearer tok" {
		t.Fatalf("expected auth_me call with bearer token, got %+v", authCall)
	}
}

func TestRunAlarmShowIsDeterministic(t *testing.T) {
	backend := newFakeBackend("alarms:set")
	backend.handlers["alarms_list"] = func(map[string]any) mcp.ToolResult {
		return mcp.ToolResult{OK: true, Result: []any{
			map[string]any{"id": int64(3), "title": "Workout", "fire_at_local": "2026-09-01 07:00"},
		}}
	}
	model := &scriptedModel{responses: []llm.Response{
		{Text: "Let me think about your alarms...", Usage: usageOf(10, 5)},
	}}
	runner := NewRunner(backend, model, model, Config{}, nil)

	result, err := runner.Run(context.Background(), RunInput{Token: "tok", RunID: "run_2", Prompt: "show my alarms"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	expected := `You have one active alarm titled "Workout" set for 2026-09-01 07:00.`
	if result.Text != expected {
		t.Fatalf("expected %q, got %q", expected, result.Text)
	}
	if result.Usage.TotalTokens != 15 {
		t.Fatalf("unexpected usage: %+v", result.Usage)
	}
}

func TestRunDeterministicCancelSingleAlarm(t *testing.T) {
	backend := newFakeBackend("alarms:set")
	backend.handlers["alarms_list"] = func(map[string]any) mcp.ToolResult {
		return mcp.ToolResult{OK: true, Result: []any{
			map[string]any{"id": int64(7), "title": "Workout"},
		}}
	}
	backend.handlers["alarms_cancel"] = func(args map[string]any) mcp.ToolResult {
		return mcp.ToolResult{OK: true, Result: map[string]any{"ok": true}}
	}
	model := &scriptedModel{responses: []llm.Response{
		{Text: "Do you want me to cancel it?"},
	}}
	runner := NewRunner(backend, model, model, Config{}, nil)

	result, err := runner.Run(context.Background(), RunInput{Token: "tok", RunID: "run_3", Prompt: "cancel my alarm"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Text != `Cancelled alarm "Workout".` {
		t.Fatalf("unexpected answer: %q", result.Text)
	}
	cancelCall := backend.called("alarms_cancel")
	if cancelCall == nil {
		t.Fatal("expected alarms_cancel call")
	}
	if cancelCall.Args["alarm_id"] != int64(7) || cancelCall.Args["auth"] != "Bearer tok" || cancelCall.Args["agent_run_id"] != "run_3" {
		t.Fatalf("unexpected cancel args: %+v", cancelCall.Args)
	}
}

func TestRunToolLoopAndReviewer(t *testing.T) {
	backend := newFakeBackend("notes:create")
	backend.handlers["notes_create"] = func(args map[string]any) mcp.ToolResult {
		return mcp.ToolResult{OK: true, Result: map[string]any{"id": int64(1), "title": args["title"]}}
	}
	model := &scriptedModel{responses: []llm.Response{
		{
			ToolCalls: []llm.ToolCall{{ID: "c1", Name: "notes_create", ArgumentsJSON: `{"title":"Milk"}`}},
			Usage:     usageOf(20, 10),
		},
		{Text: "Done!", Usage: usageOf(30, 5)},
	}}
	reviewer := &scriptedModel{responses: []llm.Response{
		{Text: `I created the note "Milk" for you.`, Usage: usageOf(40, 8)},
	}}
	runner := NewRunner(backend, model, reviewer, Config{}, nil)

	result, err := runner.Run(context.Background(), RunInput{Token: "tok", RunID: "run_4", Prompt: "create a note titled Milk"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Text != `I created the note "Milk" for you.` {
		t.Fatalf("unexpected final text: %q", result.Text)
	}

	// The second model turn sees the tool evidence.
	second := model.calls[1]
	sawEvidence := false
	for _, message := range second.Messages {
		if message.Role == "assistant" && strings.HasPrefix(message.Content, "TOOL_RESULT") &&
			strings.Contains(message.Content, "notes_create") {
			sawEvidence = true
		}
	}
	if !sawEvidence {
		t.Fatal("expected TOOL_RESULT message in second model turn")
	}

	// The reviewer sees the evidence block, not the tool schemas.
	review := reviewer.calls[0]
	if len(review.Tools) != 0 || !strings.Contains(review.Messages[1].Content, "ok=true") {
		t.Fatalf("unexpected reviewer input: %+v", review)
	}

	if result.Usage.TotalTokens != 30+35+48 {
		t.Fatalf("unexpected usage total: %+v", result.Usage)
	}
}

func TestRunScopeViolationShortCircuits(t *testing.T) {
	backend := newFakeBackend("permissions:approve")
	backend.handlers["approvals_request_decide"] = func(map[string]any) mcp.ToolResult {
		return mcp.ToolResult{OK: true, Result: map[string]any{"id": int64(5), "status": "approved"}}
	}
	model := &scriptedModel{responses: []llm.Response{
		{ToolCalls: []llm.ToolCall{{Name: "notes_create", ArgumentsJSON: `{"title":"sneaky"}`}}},
		{ToolCalls: []llm.ToolCall{{Name: "approvals_request_decide", ArgumentsJSON: `{"decision":"approve"}`}}},
		{Text: "The request was approved."},
	}}
	reviewer := &scriptedModel{responses: []llm.Response{
		{Text: "Approved the pending request."},
	}}
	runner := NewRunner(backend, model, reviewer, Config{}, nil)

	result, err := runner.Run(context.Background(), RunInput{
		Token:  "tok",
		RunID:  "run_5",
		Prompt: "approve the pending delegation request",
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Text != "Approved the pending request." {
		t.Fatalf("unexpected final text: %q", result.Text)
	}
	if backend.called("notes_create") != nil {
		t.Fatal("out-of-scope tool must never reach the backend")
	}
	if backend.called("approvals_request_decide") == nil {
		t.Fatal("expected approvals_request_decide call")
	}

	// The scope violation came back to the model as failure evidence.
	second := model.calls[1]
	sawViolation := false
	for _, message := range second.Messages {
		if strings.Contains(message.Content, "outside the active specialist scope") {
			sawViolation = true
		}
	}
	if !sawViolation {
		t.Fatal("expected scope-violation tool result in history")
	}
}

func TestRunDueOnOverrideRewritesModelArgs(t *testing.T) {
	backend := newFakeBackend("tasks:create")
	backend.handlers["tasks_create"] = func(args map[string]any) mcp.ToolResult {
		return mcp.ToolResult{OK: true, Result: map[string]any{"id": int64(9), "title": args["title"], "due_on": args["due_on"]}}
	}
	model := &scriptedModel{responses: []llm.Response{
		{ToolCalls: []llm.ToolCall{{
			Name:          "tasks_create",
			ArgumentsJSON: `{"title":"File taxes","due_on":"2026-08-28"}`,
		}}},
		{Text: "Created the task."},
	}}
	reviewer := &scriptedModel{responses: []llm.Response{{Text: "Task created for next friday."}}}
	runner := NewRunner(backend, model, reviewer, Config{}, nil)

	if _, err := runner.Run(context.Background(), RunInput{
		Token:  "tok",
		RunID:  "run_6",
		Prompt: "add a task to file taxes next friday",
	}); err != nil {
		t.Fatalf("run: %v", err)
	}
	created := backend.called("tasks_create")
	if created == nil || created.Args["due_on"] != "next friday" {
		t.Fatalf("expected due_on override to 'next friday', got %+v", created)
	}
}

func TestRunDelegatedAlarmSetResolvesTarget(t *testing.T) {
	backend := newFakeBackend("alarms:set")
	backend.handlers["users_list"] = func(args map[string]any) mcp.ToolResult {
		return mcp.ToolResult{OK: true, Result: []any{
			map[string]any{"id": int64(42), "email": "bob@example.com"},
		}}
	}
	backend.handlers["alarms_set"] = func(args map[string]any) mcp.ToolResult {
		return mcp.ToolResult{OK: true, Result: map[string]any{
			"id": int64(11), "title": args["title"], "fire_at_local": "2026-09-01 15:00",
		}}
	}
	model := &scriptedModel{responses: []llm.Response{
		{ToolCalls: []llm.ToolCall{{
			Name:          "alarms_set",
			ArgumentsJSON: `{"title":"Pick up kids","fire_at":"2026-09-01T15:00:00Z"}`,
		}}},
		{Text: "Alarm is set."},
	}}
	runner := NewRunner(backend, model, nil, Config{}, nil)

	result, err := runner.Run(context.Background(), RunInput{
		Token:  "tok",
		RunID:  "run_7",
		Prompt: `set an alarm named Pick up kids at 2026-09-01T15:00:00Z for bob`,
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	setCall := backend.called("alarms_set")
	if setCall == nil || setCall.Args["target_user_id"] != int64(42) {
		t.Fatalf("expected resolved target_user_id=42, got %+v", setCall)
	}
	if result.Text != `Alarm set: "Pick up kids" at 2026-09-01 15:00.` {
		t.Fatalf("unexpected final text: %q", result.Text)
	}
}

func TestRunListFallbackUnwrapsResultEnvelope(t *testing.T) {
	backend := newFakeBackend("notes:list")
	backend.handlers["notes_list"] = func(map[string]any) mcp.ToolResult {
		return mcp.ToolResult{OK: true, Result: map[string]any{"result": []any{
			map[string]any{"id": int64(4), "title": "Milk"},
		}}}
	}
	model := &scriptedModel{responses: []llm.Response{
		{Text: "Let me check your notes.", Usage: usageOf(12, 4)},
	}}
	runner := NewRunner(backend, model, nil, Config{}, nil)

	result, err := runner.Run(context.Background(), RunInput{Token: "tok", RunID: "run_9", Prompt: "show my notes"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Text != `You have one note titled "Milk".` {
		t.Fatalf("wrapped list result must still yield the counted answer, got %q", result.Text)
	}
}

func TestRunNonConvergenceRecovery(t *testing.T) {
	backend := newFakeBackend()
	backend.handlers["notes_list"] = func(map[string]any) mcp.ToolResult {
		return mcp.ToolResult{OK: true, Result: []any{}}
	}
	loop := llm.Response{ToolCalls: []llm.ToolCall{{Name: "notes_list", ArgumentsJSON: "{}"}}}
	model := &scriptedModel{responses: []llm.Response{loop, loop}}
	reviewer := &scriptedModel{responses: []llm.Response{{Text: "You have no notes yet."}}}
	runner := NewRunner(backend, model, reviewer, Config{MaxSteps: 2}, nil)

	result, err := runner.Run(context.Background(), RunInput{Token: "tok", RunID: "run_8", Prompt: "hmm"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Text != "You have no notes yet." {
		t.Fatalf("expected recovery text, got %q", result.Text)
	}
}

func TestNormalizeMePayloadVariants(t *testing.T) {
	wrapped := normalizeMePayload([]any{map[string]any{
		"user_id":     float64(2),
		"permissions": []any{"notes:list"},
	}})
	if len(wrapped.Permissions) != 1 || wrapped.Permissions[0] != "notes:list" {
		t.Fatalf("unexpected wrapped payload: %+v", wrapped)
	}

	encoded := normalizeMePayload(`{"user_id": 3, "permissions": ["tasks:list"], "roles": ["pro"]}`)
	if len(encoded.Permissions) != 1 || len(encoded.Roles) != 1 {
		t.Fatalf("unexpected encoded payload: %+v", encoded)
	}

	garbage := normalizeMePayload("not json at all")
	if len(garbage.Permissions) != 0 || garbage.UserID != nil {
		t.Fatalf("garbage must yield empty identity, got %+v", garbage)
	}
}
