package llm

import "testing"

func TestParseResponsePlainText(t *testing.T) {
	raw := map[string]any{
		"output_text": "  All done.  ",
		"usage": map[string]any{
			"input_tokens":  float64(100),
			"output_tokens": float64(20),
		},
	}
	response := ParseResponse(raw)
	if response.Text != "All done." {
		t.Fatalf("unexpected text: %q", response.Text)
	}
	if len(response.ToolCalls) != 0 {
		t.Fatalf("expected no tool calls, got %v", response.ToolCalls)
	}
	if response.Usage.TotalTokens != 120 {
		t.Fatalf("expected total 120, got %d", response.Usage.TotalTokens)
	}
}

func TestParseResponseOutputItems(t *testing.T) {
	raw := map[string]any{
		"output": []any{
			map[string]any{"type": "output_text", "text": "first"},
			map[string]any{"type": "text", "text": "second"},
		},
	}
	response := ParseResponse(raw)
	if response.Text != "first\nsecond" {
		t.Fatalf("unexpected joined text: %q", response.Text)
	}
}

func TestParseResponseFunctionCalls(t *testing.T) {
	raw := map[string]any{
		"output": []any{
			map[string]any{
				"type":      "function_call",
				"id":        "call_1",
				"name":      "alarms_list",
				"arguments": `{"limit": 5}`,
			},
			map[string]any{
				"type": "tool_call",
				"name": "alarms_cancel",
			},
			map[string]any{"type": "function_call"}, // nameless, skipped
		},
	}
	response := ParseResponse(raw)
	if len(response.ToolCalls) != 2 {
		t.Fatalf("expected 2 calls, got %v", response.ToolCalls)
	}
	if response.ToolCalls[0].Name != "alarms_list" || response.ToolCalls[0].ID != "call_1" {
		t.Fatalf("unexpected first call: %+v", response.ToolCalls[0])
	}
	args := response.ToolCalls[0].Arguments()
	if args["limit"] != float64(5) {
		t.Fatalf("unexpected arguments: %v", args)
	}
	// Missing arguments default to an empty object.
	if response.ToolCalls[1].ArgumentsJSON != "{}" {
		t.Fatalf("expected empty-object args, got %q", response.ToolCalls[1].ArgumentsJSON)
	}
}

func TestToolCallArgumentsTolerant(t *testing.T) {
	call := ToolCall{ArgumentsJSON: "not json"}
	if args := call.Arguments(); len(args) != 0 {
		t.Fatalf("malformed args must yield empty map, got %v", args)
	}
	call = ToolCall{}
	if args := call.Arguments(); len(args) != 0 {
		t.Fatalf("empty args must yield empty map, got %v", args)
	}
}

func TestExtractUsageVariants(t *testing.T) {
	cases := []struct {
		name string
		raw  map[string]any
		want Usage
	}{
		{
			name: "responses style",
			raw: map[string]any{"usage": map[string]any{
				"input_tokens":  float64(10),
				"output_tokens": float64(5),
				"total_tokens":  float64(15),
			}},
			want: Usage{10, 5, 15},
		},
		{
			name: "chat completions style",
			raw: map[string]any{"usage": map[string]any{
				"prompt_tokens":     float64(8),
				"completion_tokens": float64(2),
			}},
			want: Usage{8, 2, 10},
		},
		{
			name: "missing usage",
			raw:  map[string]any{},
			want: Usage{},
		},
		{
			name: "malformed usage",
			raw:  map[string]any{"usage": "nope"},
			want: Usage{},
		},
	}
	for _, tc := range cases {
		if got := ExtractUsage(tc.raw); got != tc.want {
			t.Fatalf("%s: expected %+v, got %+v", tc.name, tc.want, got)
		}
	}
}
