package agent

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// buildCapabilitiesText derives the user-facing capability summary
// from the live permission set.
func buildCapabilitiesText(permissions []string, permsStatus string) string {
	if permsStatus != permsStatusOK {
		return "- (Unable to load permissions from auth_me; capabilities unknown)"
	}

	held := map[string]struct{}{}
	for _, permission := range permissions {
		held[permission] = struct{}{}
	}
	has := func(name string) bool {
		_, ok := held[name]
		return ok
	}
	group := func(title string, pairs [][2]string) string {
		labels := []string{}
		for _, pair := range pairs {
			if has(pair[0]) {
				labels = append(labels, pair[1])
			}
		}
		if len(labels) == 0 {
			return ""
		}
		return fmt.Sprintf("- %s: %s", title, strings.Join(labels, ", "))
	}

	lines := []string{}
	if line := group("Notes", [][2]string{
		{"notes:list", "list"}, {"notes:create", "create"},
		{"notes:update", "update"}, {"notes:delete", "delete"},
	}); line != "" {
		lines = append(lines, line)
	}
	if line := group("Tasks", [][2]string{
		{"tasks:list", "list"}, {"tasks:create", "create"},
		{"tasks:update", "update"}, {"tasks:complete", "complete"},
		{"tasks:delete", "delete"},
	}); line != "" {
		lines = append(lines, line)
	}
	if line := group("Alarms", [][2]string{
		{"alarms:set", "set"}, {"alarms:receive", "receive"},
	}); line != "" {
		lines = append(lines, line)
	}
	if has("weather:read") {
		lines = append(lines, "- Weather: read")
	}
	if line := group("Access", [][2]string{
		{"permissions:request", "request permissions"},
		{"permissions:approve", "approve requests"},
	}); line != "" {
		lines = append(lines, line)
	}

	if len(lines) == 0 {
		return "- (No tool permissions detected for this user)"
	}
	return strings.Join(lines, "\n")
}

func nowContext(now time.Time) string {
	return fmt.Sprintf(
		"Current local time: %s\nLocal date: %s\nTimezone: %s\n",
		now.Format(time.RFC3339),
		now.Format("2006-01-02"),
		now.Location().String(),
	)
}

func buildSystemPrompt(permsStatus string, me identity, capabilitiesText string, now time.Time) string {
	meJSON, _ := json.Marshal(map[string]any{
		"user_id":     me.UserID,
		"roles":       me.Roles,
		"permissions": me.Permissions,
	})

	return "You are a permission-aware assistant.\n" +
		"- You may call tools.\n" +
		"- Some tool calls may fail due to permissions.\n" +
		"- Tool results will be provided back to you in messages starting with 'TOOL_RESULT'.\n" +
		"- If a tool result payload contains {\"ok\": false, \"error\": ...}, explain politely " +
		"that the user lacks permission and suggest alternatives.\n" +
		"- Keep context from the conversation provided.\n\n" +
		"PERMISSIONS FETCH STATUS:\n" + permsStatus + "\n\n" +
		"USER PERMISSIONS (authoritative if status=ok):\n" + string(meJSON) + "\n\n" +
		"CAPABILITIES (derived from permissions; do not contradict this):\n" + capabilitiesText + "\n\n" +
		"TIME CONTEXT (authoritative):\n" + nowContext(now) + "\n" +
		"IMPORTANT TASK EDITING RULE:\n" +
		"- If the user asks to modify an existing task (change due date/title/completed), do NOT create a new task.\n" +
		"- Prefer tasks_update. If you need task_id, call tasks_list.\n\n" +
		"DUE DATE RULE (TASKS):\n" +
		"- due_on may be 'today', 'tomorrow', ISO 'YYYY-MM-DD', or natural phrases like " +
		"'next week', 'this friday', 'next wednesday'.\n" +
		"- If the user gives a weekday/week phrase, pass it through as-is (do NOT guess ISO).\n\n" +
		"ALARM DELEGATION RULE:\n" +
		"- To set an alarm for another user, resolve them with users_list and pass target_user_id.\n" +
		"- If the call fails with a missing-delegation error, offer to file a delegation request " +
		"via permission_requests_create instead of retrying.\n\n" +
		"ACCESS GOVERNANCE RULES:\n" +
		"- Use permission_requests_create to ask for new permissions or delegations; never claim " +
		"an approval happened without an approvals_request_decide success.\n" +
		"- Use approvals_requests_list before deciding when the user has not named a request.\n" +
		"- Delegations are managed with delegations_mine, delegations_update_expiration, and " +
		"delegations_revoke; only the grantor or an admin may change one.\n\n" +
		"WEATHER RULE:\n" +
		"- Location matching is case-insensitive (\"prague\" == \"Prague\"). Do NOT ask to confirm capitalization.\n" +
		"- Call weather_read if the user asks about weather and gives a plausible place name.\n" +
		"- Ask 'Which location?' only if the location is missing or relative (near me/here).\n" +
		"- Pass 'when' as now/today/tomorrow/next_7_days/next_14_days/YYYY-MM-DD/YYYY-MM-DD..YYYY-MM-DD " +
		"based on the request, and granularity='auto' unless asked otherwise.\n" +
		"- Answer from 'day' when present, else 'daily'; use 'current' only for now-questions.\n"
}
