package llm

import "strings"

// ParseResponse interprets a raw Responses-API payload: prefers the
// flat output_text field, falls back to concatenating text output
// items, and collects function/tool call items.
func ParseResponse(raw map[string]any) Response {
	response := Response{Usage: ExtractUsage(raw)}

	if text, ok := raw["output_text"].(string); ok && strings.TrimSpace(text) != "" {
		response.Text = strings.TrimSpace(text)
	}

	output, _ := raw["output"].([]any)
	textParts := []string{}
	for _, item := range output {
		entry, ok := item.(map[string]any)
		if !ok {
			continue
		}
		itemType, _ := entry["type"].(string)
		switch itemType {
		case "output_text", "text":
			if text, ok := entry["text"].(string); ok && text != "" {
				textParts = append(textParts, text)
			}
		case "function_call", "tool_call":
			call := ToolCall{ArgumentsJSON: "{}"}
			if id, ok := entry["id"].(string); ok {
				call.ID = id
			}
			if name, ok := entry["name"].(string); ok {
				call.Name = name
			}
			if args, ok := entry["arguments"].(string); ok && strings.TrimSpace(args) != "" {
				call.ArgumentsJSON = args
			}
			if call.Name != "" {
				response.ToolCalls = append(response.ToolCalls, call)
			}
		}
	}
	if response.Text == "" && len(textParts) > 0 {
		response.Text = strings.TrimSpace(strings.Join(textParts, "\n"))
	}
	return response
}
