package authz

import "strings"

// ForOthersSuffix marks the delegated variant of a base permission.
// "tasks:create.for_others" lets the holder create tasks on behalf of
// another user, provided that user granted a matching delegation.
const ForOthersSuffix = ".for_others"

// PermissionApprove is held by admin approvers who may decide any
// permission or delegation request.
const PermissionApprove = "permissions:approve"

// PermissionRequestAccess gates the request/lookup tools.
const PermissionRequestAccess = "permissions:request"

// receptivePermissions maps a base permission to the permission the
// *target* of a delegated action must hold for the action to land.
// This is an explicit allowlist, not a general rule: only these two
// actions push an effect onto another user's account.
var receptivePermissions = map[string]string{
	"tasks:create": "tasks:receive",
	"alarms:set":   "alarms:receive",
}

// IsForOthers reports whether name is a delegated-variant permission.
func IsForOthers(name string) bool {
	return strings.HasSuffix(name, ForOthersSuffix)
}

// ForOthers returns the delegated variant of a base permission name.
// Names that already carry the suffix are returned unchanged.
func ForOthers(name string) string {
	if IsForOthers(name) {
		return name
	}
	return name + ForOthersSuffix
}

// BaseName strips the for_others suffix, if present.
func BaseName(name string) string {
	return strings.TrimSuffix(name, ForOthersSuffix)
}

// ReceivePermission returns the receptiveness permission the target of
// a delegated action under base must hold, if the base permission has
// one.
func ReceivePermission(base string) (string, bool) {
	receive, ok := receptivePermissions[base]
	return receive, ok
}
