package normalize

import (
	"encoding/json"
	"reflect"
	"testing"
)

func normalized(t *testing.T, raw any, tool string) any {
	t.Helper()
	value, _ := Normalize(raw, tool)
	return value
}

func TestNormalizeRoundTrip(t *testing.T) {
	cases := []any{
		map[string]any{"a": float64(1), "b": []any{"x", true, nil}},
		[]any{float64(1), float64(2), float64(3)},
		"plain words, no payload",
		float64(42),
		true,
		nil,
	}
	for _, original := range cases {
		encoded, err := json.Marshal(original)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		var decoded any
		if err := json.Unmarshal(encoded, &decoded); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		got := normalized(t, decoded, "tasks_list")
		if !reflect.DeepEqual(got, decoded) {
			t.Fatalf("round trip changed %#v into %#v", decoded, got)
		}
	}
}

func TestNormalizeNestedEnvelope(t *testing.T) {
	raw := map[string]any{"result": map[string]any{"result": "done"}}
	if got := normalized(t, raw, "alarms_set"); got != "done" {
		t.Fatalf("expected nested envelopes unwrapped, got %#v", got)
	}

	raw = map[string]any{"ok": true, "result": []any{float64(1)}}
	got := normalized(t, raw, "alarms_set")
	if !reflect.DeepEqual(got, []any{float64(1)}) {
		t.Fatalf("expected {ok,result} unwrapped, got %#v", got)
	}

	raw = map[string]any{"data": map[string]any{"id": float64(7)}}
	got = normalized(t, raw, "alarms_set")
	if !reflect.DeepEqual(got, map[string]any{"id": float64(7)}) {
		t.Fatalf("expected {data} unwrapped, got %#v", got)
	}
}

func TestNormalizeContentWrapperSingleton(t *testing.T) {
	raw := []any{map[string]any{"text": "5"}}

	if got := normalized(t, raw, "alarms_cancel"); got != float64(5) {
		t.Fatalf("expected singleton unwrap to 5, got %#v", got)
	}
	got := normalized(t, raw, "alarms_list")
	if !reflect.DeepEqual(got, []any{float64(5)}) {
		t.Fatalf("list-shaped tool must keep the list, got %#v", got)
	}
	got = normalized(t, raw, "alarms.list")
	if !reflect.DeepEqual(got, []any{float64(5)}) {
		t.Fatalf("dotted list tool must keep the list, got %#v", got)
	}
}

func TestNormalizeJSONString(t *testing.T) {
	got := normalized(t, `{"result": {"title": "Wake up"}}`, "alarms_list")
	want := map[string]any{"title": "Wake up"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected decoded+unwrapped dict, got %#v", got)
	}
}

func TestNormalizeFencedJSON(t *testing.T) {
	raw := "```json\n{\"id\": 3}\n```"
	got := normalized(t, raw, "notes_create")
	if !reflect.DeepEqual(got, map[string]any{"id": float64(3)}) {
		t.Fatalf("expected fence stripped and decoded, got %#v", got)
	}
}

func TestNormalizePythonLiteral(t *testing.T) {
	got := normalized(t, "{'ok': True, 'rows': [1, 2], 'note': None}", "tasks_list")
	want := map[string]any{"ok": true, "rows": []any{float64(1), float64(2)}, "note": nil}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected literal decode, got %#v", got)
	}
}

func TestNormalizeUndecodableStringUnchanged(t *testing.T) {
	raw := "{not json, not a literal"
	if got := normalized(t, raw, "tasks_list"); got != raw {
		t.Fatalf("undecodable input must pass through, got %#v", got)
	}
}

func TestNormalizeListElementwise(t *testing.T) {
	raw := []any{
		map[string]any{"result": "a"},
		map[string]any{"result": "b"},
	}
	got := normalized(t, raw, "notes_list")
	if !reflect.DeepEqual(got, []any{"a", "b"}) {
		t.Fatalf("expected element-wise unwrap, got %#v", got)
	}
}

func TestNormalizeDepthBound(t *testing.T) {
	// Deeper than the unwrap budget; must terminate and return
	// something rather than spin.
	raw := any("payload")
	for i := 0; i < 10; i++ {
		raw = map[string]any{"result": raw}
	}
	got, events := Normalize(raw, "tasks_list")
	if got == nil {
		t.Fatal("expected a value back")
	}
	if len(events) == 0 {
		t.Fatal("expected telemetry events")
	}
}

func TestNormalizeTelemetryEvents(t *testing.T) {
	_, events := Normalize(`{"result": 1}`, "alarms_set")
	var sawDecode, sawUnwrap bool
	for _, ev := range events {
		if ev.Tool != "alarms_set" {
			t.Fatalf("event carries wrong tool: %q", ev.Tool)
		}
		switch ev.Kind {
		case EventTextDecoded:
			sawDecode = true
		case EventEnvelopeUnwrapped:
			sawUnwrap = true
		}
	}
	if !sawDecode || !sawUnwrap {
		t.Fatalf("expected decode+unwrap events, got %#v", events)
	}
}

func TestParseLiteral(t *testing.T) {
	cases := []struct {
		in   string
		want any
	}{
		{"None", nil},
		{"True", true},
		{"-3.5", float64(-3.5)},
		{"'hi'", "hi"},
		{"(1, 2)", []any{float64(1), float64(2)}},
		{"[1, 'a', False]", []any{float64(1), "a", false}},
		{"{'k': {'n': 1}}", map[string]any{"k": map[string]any{"n": float64(1)}}},
	}
	for _, tc := range cases {
		got, ok := parseLiteral(tc.in)
		if !ok {
			t.Fatalf("parseLiteral(%q) failed", tc.in)
		}
		if !reflect.DeepEqual(got, tc.want) {
			t.Fatalf("parseLiteral(%q) = %#v, want %#v", tc.in, got, tc.want)
		}
	}
	for _, bad := range []string{"import os", "f(1)", "{'k': }", "'unterminated"} {
		if _, ok := parseLiteral(bad); ok {
			t.Fatalf("parseLiteral(%q) should fail", bad)
		}
	}
}
