package authz

import "sort"

// NewIdentity builds an Identity from a permission name list.
func NewIdentity(userID int64, permissions []string) Identity {
	set := make(map[string]struct{}, len(permissions))
	for _, name := range permissions {
		if name == "" {
			continue
		}
		set[name] = struct{}{}
	}
	return Identity{UserID: userID, Permissions: set}
}

// SortedPermissions returns the identity's permissions in a stable
// order for rendering and serialization.
func (id Identity) SortedPermissions() []string {
	names := make([]string, 0, len(id.Permissions))
	for name := range id.Permissions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
