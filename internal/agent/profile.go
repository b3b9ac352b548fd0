package agent

import (
	"strings"

	"github.com/wardenhq/warden/internal/llm"
	"github.com/wardenhq/warden/internal/mcp"
)

// Profile scopes a run to a specialist tool subset. The general
// profile carries no prefix list and allows everything.
type Profile struct {
	Key             string
	Name            string
	AllowedPrefixes []string
	Instruction     string
}

var GeneralProfile = Profile{
	Key:  "general",
	Name: "General Agent",
	Instruction: "Handle mixed-domain requests and choose tools based on " +
		"user intent and permissions.",
}

var WorkProfile = Profile{
	Key:  "work",
	Name: "Work Agent",
	AllowedPrefixes: []string{
		"notes_", "tasks_", "alarms_", "weather_", "auth_", "users_",
		"permission_requests_", "approvals_", "delegations_",
	},
	Instruction: "Focus on user productivity: notes, tasks, alarms, and weather. " +
		"Avoid governance workflows unless user explicitly requests them.",
}

var GovernanceProfile = Profile{
	Key:  "governance",
	Name: "Governance Agent",
	AllowedPrefixes: []string{
		"permission_requests_", "approvals_", "delegations_", "users_", "auth_",
	},
	Instruction: "Focus on access governance: permission requests, approvals, " +
		"delegations, and user lookup. Avoid creating or managing work items " +
		"unless user explicitly asks for that.",
}

// "permisson" catches a common misspelling seen in real traffic.
var governanceKeywords = []string{
	"permission", "permisson", "approve", "approval", "reject",
	"delegation", "delegate", "access", "grant", "revoke", "role",
}

var workKeywords = []string{"task", "note", "alarm", "weather", "todo"}

// RouteProfile picks a specialist from the latest user message. A
// profile wins only with strictly more keyword hits than the other;
// ties and silence fall back to the general profile.
func RouteProfile(messages []llm.Message) Profile {
	text := strings.ToLower(lastUserText(messages))
	if text == "" {
		return GeneralProfile
	}
	governanceHits := countHits(text, governanceKeywords)
	workHits := countHits(text, workKeywords)
	switch {
	case governanceHits > workHits && governanceHits > 0:
		return GovernanceProfile
	case workHits > governanceHits && workHits > 0:
		return WorkProfile
	default:
		return GeneralProfile
	}
}

func countHits(text string, keywords []string) int {
	hits := 0
	for _, keyword := range keywords {
		if strings.Contains(text, keyword) {
			hits++
		}
	}
	return hits
}

func (p Profile) Allows(toolName string) bool {
	if p.Key == GeneralProfile.Key {
		return true
	}
	for _, prefix := range p.AllowedPrefixes {
		if strings.HasPrefix(toolName, prefix) {
			return true
		}
	}
	return false
}

// FilterTools scopes the advertised tool list to the profile. An empty
// scoped set falls back to the full list so the model is never
// toolless after a misroute.
func FilterTools(tools []mcp.ToolInfo, profile Profile) []mcp.ToolInfo {
	if profile.Key == GeneralProfile.Key {
		return tools
	}
	scoped := make([]mcp.ToolInfo, 0, len(tools))
	for _, tool := range tools {
		if profile.Allows(tool.Name) {
			scoped = append(scoped, tool)
		}
	}
	if len(scoped) == 0 {
		return tools
	}
	return scoped
}
