package agent

import (
	"strings"
	"testing"

	"github.com/wardenhq/warden/internal/llm"
)

func userSays(texts ...string) []llm.Message {
	messages := make([]llm.Message, 0, len(texts))
	for _, text := range texts {
		messages = append(messages, llm.Message{Role: "user", Content: text})
	}
	return messages
}

func TestRouteProfile(t *testing.T) {
	cases := []struct {
		text    string
		profile string
	}{
		{"can you approve my permission request?", "governance"},
		{"revoke bob's delegation", "governance"},
		{"add a task for tomorrow", "work"},
		{"set an alarm and check the weather", "work"},
		{"grant me access to the task list", "governance"},
		{"hello there", "general"},
		{"", "general"},
	}
	for _, c := range cases {
		got := RouteProfile(userSays(c.text))
		if got.Key != c.profile {
			t.Fatalf("%q: expected %s, got %s", c.text, c.profile, got.Key)
		}
	}
}

func TestProfileAllows(t *testing.T) {
	if !GeneralProfile.Allows("anything_at_all") {
		t.Fatal("general profile must allow everything")
	}
	if GovernanceProfile.Allows("notes_create") {
		t.Fatal("governance profile must not allow notes tools")
	}
	if !GovernanceProfile.Allows("approvals_request_decide") {
		t.Fatal("governance profile must allow approvals tools")
	}
	if !WorkProfile.Allows("alarms_set") {
		t.Fatal("work profile must allow alarm tools")
	}
}

func TestCapabilityAndAlarmIntents(t *testing.T) {
	if !IsCapabilitiesQuestion(userSays("  What Can I Do?  ")) {
		t.Fatal("expected capabilities question")
	}
	if IsCapabilitiesQuestion(userSays("what can i do about my alarm")) {
		t.Fatal("free-form question is not the capabilities shortcut")
	}
	if !IsAlarmShowIntent(userSays("which alarms do i have?")) {
		t.Fatal("expected alarm show intent")
	}
	if !IsAlarmCancelIntent(userSays("cancel the first one")) {
		t.Fatal("ordinal follow-up must count as cancel intent")
	}
	if IsAlarmCancelIntent(userSays("cancel my subscription")) {
		t.Fatal("no alarm and no ordinal token")
	}
	if !IsAlarmSetIntent(userSays("remind me with an alarm at 9")) {
		t.Fatal("expected alarm set intent")
	}
}

func TestAffirmativeAlarmCancel(t *testing.T) {
	convo := []llm.Message{
		{Role: "user", Content: "do i have alarms?"},
		{Role: "assistant", Content: "You have one alarm. Do you want me to cancel it?"},
		{Role: "user", Content: "yes"},
	}
	if !isAffirmativeAlarmCancel(convo) {
		t.Fatal("expected affirmative cancel confirmation")
	}
	if isAffirmativeAlarmCancel(userSays("yes")) {
		t.Fatal("bare yes without prior cancel offer must not trigger")
	}
}

func TestDueOnOverride(t *testing.T) {
	convo := userSays("move it to next friday please")

	args := map[string]any{"due_on": "2026-08-28"}
	applyDueOnOverride("tasks_update", args, convo)
	if args["due_on"] != "next friday" {
		t.Fatalf("ISO due_on must be replaced by the spoken phrase, got %v", args["due_on"])
	}

	args = map[string]any{"due_on": "tomorrow"}
	applyDueOnOverride("tasks_update", args, convo)
	if args["due_on"] != "tomorrow" {
		t.Fatalf("non-ISO due_on must survive, got %v", args["due_on"])
	}

	args = map[string]any{"due_on": "2026-08-28"}
	applyDueOnOverride("notes_update", args, convo)
	if args["due_on"] != "2026-08-28" {
		t.Fatalf("override applies to task tools only, got %v", args["due_on"])
	}

	args = map[string]any{}
	applyDueOnOverride("tasks_create", args, userSays("plan the offsite next week"))
	if args["due_on"] != "next week" {
		t.Fatalf("empty due_on gets the next-week phrase, got %v", args["due_on"])
	}
}

func TestAlarmExtractors(t *testing.T) {
	if got := extractAlarmTitle(`set an alarm "Morning Run" tomorrow`); got != "Morning Run" {
		t.Fatalf("quoted title: got %q", got)
	}
	if got := extractAlarmTitle("set an alarm named Standup"); got != "Standup" {
		t.Fatalf("named title: got %q", got)
	}
	if got := extractAlarmTitle("set an alarm soon"); got != "" {
		t.Fatalf("no title expected, got %q", got)
	}

	if got := extractAlarmTimePhrase("wake me in 20 minutes from now"); got != "in 20 minutes from now" {
		t.Fatalf("relative phrase: got %q", got)
	}
	if got := extractAlarmTimePhrase("at 2026-09-01 08:30 sharp"); got != "2026-09-01T08:30" {
		t.Fatalf("iso phrase: got %q", got)
	}

	if got := extractTargetHint("set an alarm for bob"); got != "bob" {
		t.Fatalf("target hint: got %q", got)
	}
	if got := extractTargetHint("set an alarm for alice smith tomorrow"); got != "alice smith" {
		t.Fatalf("two-word hint: got %q", got)
	}
	if got := extractTargetHint("set an alarm for myself"); got != "" {
		t.Fatalf("self reference must be ignored, got %q", got)
	}
}

func TestSummarizeAlarms(t *testing.T) {
	if got := summarizeAlarms(nil); got != "You currently have no active alarms." {
		t.Fatalf("empty: got %q", got)
	}

	one := []map[string]any{{"title": "Workout", "fire_at_local": "2026-09-01 07:00", "creator_email": "boss@example.com"}}
	expected := `You have one active alarm titled "Workout" set for 2026-09-01 07:00 (set by boss@example.com).`
	if got := summarizeAlarms(one); got != expected {
		t.Fatalf("single: got %q", got)
	}

	many := []map[string]any{
		{"title": "A", "fire_at": "2026-09-01T07:00:00Z"},
		{"title": "B", "fire_at": "2026-09-01T08:00:00Z"},
	}
	got := summarizeAlarms(many)
	if !strings.HasPrefix(got, "You have these active alarms:") || !strings.Contains(got, `2. "B" at`) {
		t.Fatalf("multi: got %q", got)
	}
}

func TestMutationSuccessText(t *testing.T) {
	results := []toolResult{
		{Tool: "alarms_list", OK: true, Result: []any{}},
		{Tool: "alarms_set", OK: true, Result: map[string]any{"title": "Workout", "fire_at_local": "2026-09-01 07:00"}},
	}
	if got := mutationSuccessText(results); got != `Alarm set: "Workout" at 2026-09-01 07:00.` {
		t.Fatalf("alarm set: got %q", got)
	}

	if got := mutationSuccessText([]toolResult{{Tool: "notes_create", OK: true}}); got != "" {
		t.Fatalf("untemplated mutation must yield empty text, got %q", got)
	}
	if got := mutationSuccessText([]toolResult{{Tool: "alarms_cancel", OK: false, Err: "nope"}}); got != "" {
		t.Fatalf("failures are not successes, got %q", got)
	}
}

func TestToolResultRoundTripAndEvidence(t *testing.T) {
	messages := []llm.Message{
		toolResultMessage("alarms_list", toolResult{Tool: "alarms_list", OK: true, Result: []any{map[string]any{"id": 1}}}),
		toolResultMessage("alarms_cancel", toolResult{Tool: "alarms_cancel", Err: "alarm not found"}),
		{Role: "assistant", Content: "plain text, not evidence"},
	}
	results := extractToolResults(messages)
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if !results[0].OK || results[1].OK || results[1].Err != "alarm not found" {
		t.Fatalf("unexpected results: %+v", results)
	}

	evidence := compactEvidence(results)
	if !strings.Contains(evidence, "- alarms_list: ok=true") ||
		!strings.Contains(evidence, "- alarms_cancel: ok=false error=alarm not found") {
		t.Fatalf("unexpected evidence: %s", evidence)
	}

	long := toolResult{Tool: "notes_list", OK: true, Result: strings.Repeat("x", 3000)}
	if !strings.Contains(compactEvidence([]toolResult{long}), "…(truncated)") {
		t.Fatal("expected per-result truncation marker")
	}
}
