package agent

import (
	"fmt"
	"strings"

	"github.com/wardenhq/warden/internal/llm"
	"github.com/wardenhq/warden/internal/mcp"
)

// toolResult is one tool invocation's outcome as recorded in the
// conversation history.
type toolResult struct {
	Tool   string
	OK     bool
	Result any
	Err    string
}

func hasSuccessfulResult(results []toolResult, toolName string) bool {
	expected := mcp.NormalizeToolName(toolName)
	for _, result := range results {
		if result.OK && mcp.NormalizeToolName(result.Tool) == expected {
			return true
		}
	}
	return false
}

func latestSuccessResult(results []toolResult, toolName string) (any, bool) {
	expected := mcp.NormalizeToolName(toolName)
	var latest any
	found := false
	for _, result := range results {
		if result.OK && mcp.NormalizeToolName(result.Tool) == expected {
			latest = result.Result
			found = true
		}
	}
	return latest, found
}

// requiredToolsForTurn infers which tools must have succeeded for the
// turn to count as complete, from the latest user message alone.
func requiredToolsForTurn(messages []llm.Message) map[string]struct{} {
	text := strings.ToLower(lastUserText(messages))
	required := map[string]struct{}{}
	if text == "" {
		return required
	}

	showWords := []string{"show", "list", "what", "which", "have", "all"}

	if strings.Contains(text, "alarm") {
		if containsAny(text, []string{"show", "list", "what", "which", "have", "active", "upcoming"}) {
			required["alarms_list"] = struct{}{}
		}
		if containsAny(text, []string{"set", "create", "add", "schedule", "remind"}) {
			required["alarms_set"] = struct{}{}
		}
		if containsAny(text, cancelWords) {
			required["alarms_cancel"] = struct{}{}
		}
	}
	if strings.Contains(text, "note") {
		if containsAny(text, showWords) {
			required["notes_list"] = struct{}{}
		}
		if containsAny(text, []string{"create", "add", "new"}) {
			required["notes_create"] = struct{}{}
		}
		if containsAny(text, []string{"update", "edit", "change", "rename"}) {
			required["notes_update"] = struct{}{}
		}
		if containsAny(text, []string{"delete", "remove"}) {
			required["notes_delete"] = struct{}{}
		}
	}
	if strings.Contains(text, "task") || strings.Contains(text, "todo") {
		if containsAny(text, showWords) {
			required["tasks_list"] = struct{}{}
		}
		if containsAny(text, []string{"create", "add", "new"}) {
			required["tasks_create"] = struct{}{}
		}
		if containsAny(text, []string{"update", "edit", "change", "rename", "reschedule"}) {
			required["tasks_update"] = struct{}{}
		}
		if containsAny(text, []string{"complete", "done", "finish"}) {
			required["tasks_complete"] = struct{}{}
		}
		if containsAny(text, []string{"delete", "remove"}) {
			required["tasks_delete"] = struct{}{}
		}
	}
	return required
}

func missingRequiredTools(results []toolResult, required map[string]struct{}) []string {
	missing := []string{}
	for tool := range required {
		if !hasSuccessfulResult(results, tool) {
			missing = append(missing, tool)
		}
	}
	return missing
}

// rowsFromResult coerces a tool result into dict rows, tolerating a
// bare row, a list, or a {"result": ...} wrapper the normalizer left
// in place.
func rowsFromResult(result any) []map[string]any {
	switch value := result.(type) {
	case []any:
		rows := make([]map[string]any, 0, len(value))
		for _, item := range value {
			if row, ok := item.(map[string]any); ok {
				rows = append(rows, row)
			}
		}
		return rows
	case []map[string]any:
		return value
	case map[string]any:
		if _, ok := value["id"]; ok {
			return []map[string]any{value}
		}
		if nested, ok := value["result"]; ok {
			return rowsFromResult(nested)
		}
	}
	return nil
}

func rowString(row map[string]any, keys ...string) string {
	for _, key := range keys {
		if value, ok := row[key].(string); ok && strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

func rowID(row map[string]any) (int64, bool) {
	switch value := row["id"].(type) {
	case int64:
		return value, true
	case float64:
		return int64(value), true
	}
	return 0, false
}

// summarizeAlarms renders the deterministic alarm listing answer.
func summarizeAlarms(alarms []map[string]any) string {
	if len(alarms) == 0 {
		return "You currently have no active alarms."
	}
	if len(alarms) == 1 {
		first := alarms[0]
		title := rowString(first, "title")
		fireAt := rowString(first, "fire_at_local", "fire_at")
		if title != "" && fireAt != "" {
			if creator := rowString(first, "creator_email"); creator != "" {
				return fmt.Sprintf("You have one active alarm titled %q set for %s (set by %s).", title, fireAt, creator)
			}
			return fmt.Sprintf("You have one active alarm titled %q set for %s.", title, fireAt)
		}
		return "You have one active alarm."
	}

	lines := []string{"You have these active alarms:"}
	limit := len(alarms)
	if limit > 5 {
		limit = 5
	}
	for i := 0; i < limit; i++ {
		alarm := alarms[i]
		title := rowString(alarm, "title")
		fireAt := rowString(alarm, "fire_at_local", "fire_at")
		switch {
		case title != "" && fireAt != "":
			if creator := rowString(alarm, "creator_email"); creator != "" {
				lines = append(lines, fmt.Sprintf("%d. %q at %s (set by %s)", i+1, title, fireAt, creator))
			} else {
				lines = append(lines, fmt.Sprintf("%d. %q at %s", i+1, title, fireAt))
			}
		case title != "":
			lines = append(lines, fmt.Sprintf("%d. %q", i+1, title))
		default:
			lines = append(lines, fmt.Sprintf("%d. Alarm %v", i+1, alarm["id"]))
		}
	}
	return strings.Join(lines, "\n")
}

// mutationSuccessText renders deterministic confirmation text for the
// most recent successful mutation, or "" when no template applies.
func mutationSuccessText(results []toolResult) string {
	var last *toolResult
	for i := range results {
		if results[i].OK && strings.TrimSpace(results[i].Tool) != "" {
			last = &results[i]
		}
	}
	if last == nil {
		return ""
	}

	tool := mcp.NormalizeToolName(last.Tool)
	row, _ := last.Result.(map[string]any)

	switch tool {
	case "alarms_cancel", "alarms_cancel_by_title":
		if title := rowString(row, "title"); title != "" {
			return fmt.Sprintf("Cancelled alarm %q.", title)
		}
		return "Alarm cancelled successfully."
	case "alarms_delete":
		return "Alarm deleted successfully."
	case "alarms_update":
		title := rowString(row, "title")
		fireAt := rowString(row, "fire_at_local", "fire_at")
		if title != "" && fireAt != "" {
			return fmt.Sprintf("Alarm updated: %q at %s.", title, fireAt)
		}
		return "Alarm updated successfully."
	case "alarms_set":
		title := rowString(row, "title")
		fireAt := rowString(row, "fire_at_local", "fire_at")
		if title != "" && fireAt != "" {
			return fmt.Sprintf("Alarm set: %q at %s.", title, fireAt)
		}
		return "Alarm set successfully."
	}
	return ""
}
