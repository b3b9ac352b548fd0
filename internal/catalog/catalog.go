// Package catalog defines the permission catalog: the known
// permission names with human descriptions and the built-in role
// bundles. An optional JSON file can extend the catalog at runtime.
package catalog

import (
	"sort"
	"strings"
)

// Permission names referenced by the built-in roles.
var basicPermissions = []string{
	"weather:read",
	"notes:list", "notes:create", "notes:update", "notes:delete",
	"notifications:list",
	"permissions:request",
	"tasks:receive",
	"alarms:receive",
}

var proExtraPermissions = []string{
	"tasks:list", "tasks:create", "tasks:update", "tasks:complete", "tasks:delete",
	"tasks:create.for_others",
	"notes:create.for_others",
	"alarms:set",
	"alarms:set.for_others",
}

var adminExtraPermissions = []string{
	"agent:trace:view_all",
	"permissions:approve",
}

// RolePermissions maps each built-in role to its full permission
// bundle. Roles are cumulative: pro includes basic, admin includes
// both.
func RolePermissions() map[string][]string {
	pro := append(append([]string{}, basicPermissions...), proExtraPermissions...)
	admin := append(append([]string{}, pro...), adminExtraPermissions...)
	return map[string][]string{
		"basic": append([]string{}, basicPermissions...),
		"pro":   pro,
		"admin": admin,
	}
}

// AllPermissionNames returns every permission any built-in role
// carries, sorted and deduplicated.
func AllPermissionNames() []string {
	seen := map[string]struct{}{}
	for _, names := range RolePermissions() {
		for _, name := range names {
			seen[name] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

type Description struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

var knownDescriptions = map[string]Description{
	"weather:read":            {"View weather information", "Can check weather details in the app."},
	"notes:list":              {"View your notes", "Can see your personal notes."},
	"notes:create":            {"Create your notes", "Can add new notes for yourself."},
	"notes:update":            {"Edit your notes", "Can update notes you own."},
	"notes:delete":            {"Delete your notes", "Can remove notes you own."},
	"notifications:list":      {"View notifications", "Can read your notifications."},
	"permissions:request":     {"Request more access", "Can send permission access requests for approval."},
	"permissions:approve":     {"Approve access requests", "Can approve or reject permission requests from users."},
	"tasks:receive":           {"Receive task assignments", "Can receive tasks assigned by others."},
	"tasks:list":              {"View your tasks", "Can see task items you can work on."},
	"tasks:create":            {"Create your tasks", "Can create tasks for yourself."},
	"tasks:update":            {"Edit your tasks", "Can update task details."},
	"tasks:complete":          {"Complete tasks", "Can mark tasks as completed."},
	"tasks:delete":            {"Delete tasks", "Can remove task items."},
	"tasks:create.for_others": {"Create tasks for other users", "Can create and assign tasks on behalf of others."},
	"notes:create.for_others": {"Create notes for other users", "Can add notes on behalf of other users."},
	"alarms:receive":          {"Receive alarms", "Can receive alarm notifications."},
	"alarms:set":              {"Set alarms", "Can create alarms for yourself."},
	"alarms:set.for_others":   {"Set alarms for other users", "Can create alarms on behalf of other users."},
	"agent:trace:view_all":    {"View all agent traces", "Can inspect trace logs across users."},
}

// Describe returns a human description for a permission name. Unknown
// names get a generated "<Action> <Resource>" title so the UI never
// shows a raw identifier.
func Describe(name string) Description {
	if known, ok := knownDescriptions[name]; ok {
		return known
	}
	resource, action, found := strings.Cut(name, ":")
	if !found || strings.TrimSpace(action) == "" {
		action = "access"
	}
	if strings.TrimSpace(resource) == "" {
		resource = "resource"
	}
	forOthers := strings.HasSuffix(action, ".for_others")
	baseAction := strings.TrimSuffix(action, ".for_others")

	title := titleCase(baseAction) + " " + titleCase(resource)
	description := "Can " + strings.ReplaceAll(baseAction, "_", " ") + " " + resource + "."
	if forOthers {
		description = "Can " + strings.ReplaceAll(baseAction, "_", " ") + " " + resource + " for other users."
	}
	return Description{Title: title, Description: description}
}

// PermissionTool extracts the leading resource segment ("alarms:set"
// -> "alarms"), used to group capability summaries.
func PermissionTool(name string) string {
	tool, _, _ := strings.Cut(name, ":")
	if strings.TrimSpace(tool) == "" {
		return "other"
	}
	return strings.TrimSpace(tool)
}

func titleCase(input string) string {
	replaced := strings.NewReplacer("-", " ", "_", " ", ".", " ").Replace(input)
	parts := []string{}
	for _, raw := range strings.Fields(replaced) {
		parts = append(parts, strings.ToUpper(raw[:1])+raw[1:])
	}
	return strings.Join(parts, " ")
}
