package mcp

import "strings"

// NormalizeToolName canonicalizes a model-produced tool name so minor
// provider quirks (dots for underscores, stray case) still resolve.
func NormalizeToolName(name string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(name), ".", "_"))
}

// FindAuthMeTool locates the identity probe among the advertised
// tools. Exact names win; otherwise any tool whose name carries both
// "auth" and "me" fragments is accepted.
func FindAuthMeTool(tools []ToolInfo) (ToolInfo, bool) {
	for _, tool := range tools {
		if tool.Name == "auth_me" || tool.Name == "auth.me" {
			return tool, true
		}
	}
	for _, tool := range tools {
		lowered := strings.ToLower(tool.Name)
		if strings.Contains(lowered, "auth") && strings.Contains(lowered, "me") {
			return tool, true
		}
	}
	return ToolInfo{}, false
}
