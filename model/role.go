package model

import "strings"

// Wildcard is the reserved permission meaning "authorized for every action".
// Only roles that hold it may bypass a transition's required roles.
const Wildcard = "*"

// PermissionSet is the set of permissions granted to a role. Each key is a
// permission string (e.g. "shop_drawing:approve") and may include wildcards
// (e.g. "shop_drawing:*" or Wildcard).
type PermissionSet map[string]bool

// NewPermissionSet builds a PermissionSet from a list of permissions.
func NewPermissionSet(perms ...string) PermissionSet {
	ps := make(PermissionSet, len(perms))
	for _, p := range perms {
		ps[p] = true
	}
	return ps
}

// Has returns true if the set contains the exact permission or a wildcard
// that matches it. A namespace wildcard never satisfies a query for the
// Wildcard sentinel itself.
func (ps PermissionSet) Has(perm string) bool {
	if ps[perm] || ps[Wildcard] {
		return true
	}
	if perm == Wildcard {
		return false
	}
	// "shop_drawing:*" matches "shop_drawing:approve".
	for pattern := range ps {
		if matchWildcard(pattern, perm) {
			return true
		}
	}
	return false
}

// HasAll returns true if the set matches all given permissions (including
// via wildcards).
func (ps PermissionSet) HasAll(perms ...string) bool {
	for _, p := range perms {
		if !ps.Has(p) {
			return false
		}
	}
	return true
}

// HasAny returns true if the set matches at least one of the given
// permissions (including via wildcards).
func (ps PermissionSet) HasAny(perms ...string) bool {
	for _, p := range perms {
		if ps.Has(p) {
			return true
		}
	}
	return false
}

// Clone returns an independent copy of the set.
func (ps PermissionSet) Clone() PermissionSet {
	out := make(PermissionSet, len(ps))
	for p, ok := range ps {
		out[p] = ok
	}
	return out
}

// IsWildcard reports whether the set grants every action.
func (ps PermissionSet) IsWildcard() bool {
	return ps[Wildcard]
}

// matchWildcard returns true if pattern (which may end in ":*") matches perm.
//
//	"shop_drawing:*"  matches "shop_drawing:approve"
//	"shop_drawing"    does NOT match "shop_drawing:approve"
func matchWildcard(pattern, perm string) bool {
	if !strings.HasSuffix(pattern, ":*") {
		return false
	}
	prefix := pattern[:len(pattern)-1]
	return strings.HasPrefix(perm, prefix)
}

// Role is an actor's role in the project, resolved once at startup.
type Role struct {
	ID             string        `json:"id"`
	Label          string        `json:"label,omitempty"`
	HierarchyLevel int           `json:"hierarchy_level"`
	Permissions    PermissionSet `json:"-"`
}

// Clone returns a copy whose permission set is not shared with r.
func (r Role) Clone() Role {
	r.Permissions = r.Permissions.Clone()
	return r
}

// IsOverride reports whether the role bypasses transition role lists.
func (r Role) IsOverride() bool {
	return r.Permissions.IsWildcard()
}
