// Package capability resolves project roles to permission sets and hierarchy
// ranks. A Resolver is built once at startup and never mutated, so any number
// of goroutines may query it without locking.
package capability

import (
	"sort"

	"github.com/pitabwire/docflow/model"
)

// Resolver answers role and permission questions from an immutable table.
type Resolver struct {
	roles map[string]model.Role
	// ids in descending hierarchy order, ties broken by id.
	ordered []string
}

// NewResolver indexes the given roles. Role ids must be unique and non-empty.
func NewResolver(roles []model.Role) (*Resolver, error) {
	r := &Resolver{roles: make(map[string]model.Role, len(roles))}
	for _, role := range roles {
		if role.ID == "" {
			return nil, model.NewConfigurationError("", model.CodeDuplicateRole, "role with empty id")
		}
		if _, dup := r.roles[role.ID]; dup {
			return nil, model.NewConfigurationError("", model.CodeDuplicateRole, "role %q declared twice", role.ID)
		}
		r.roles[role.ID] = role.Clone()
		r.ordered = append(r.ordered, role.ID)
	}
	sort.Slice(r.ordered, func(i, j int) bool {
		a, b := r.roles[r.ordered[i]], r.roles[r.ordered[j]]
		if a.HierarchyLevel != b.HierarchyLevel {
			return a.HierarchyLevel > b.HierarchyLevel
		}
		return a.ID < b.ID
	})
	return r, nil
}

// HasPermission reports whether role holds permission, either exactly or
// through a wildcard. Unknown roles hold nothing.
func (r *Resolver) HasPermission(role, permission string) bool {
	rl, ok := r.roles[role]
	if !ok {
		return false
	}
	return rl.Permissions.Has(permission)
}

// IsOverride reports whether role holds the wildcard permission.
func (r *Resolver) IsOverride(role string) bool {
	return r.HasPermission(role, model.Wildcard)
}

// IsRoleHigher reports whether a ranks strictly above b. Unknown roles rank
// below every known role.
func (r *Resolver) IsRoleHigher(a, b string) bool {
	return r.level(a) > r.level(b)
}

func (r *Resolver) level(id string) int {
	rl, ok := r.roles[id]
	if !ok {
		return minLevel
	}
	return rl.HierarchyLevel
}

const minLevel = -1 << 31

// RolesWithPermission returns the ids of every role holding permission,
// highest rank first.
func (r *Resolver) RolesWithPermission(permission string) []string {
	var ids []string
	for _, id := range r.ordered {
		if r.roles[id].Permissions.Has(permission) {
			ids = append(ids, id)
		}
	}
	return ids
}

// Role returns a copy of the role with the given id.
func (r *Resolver) Role(id string) (model.Role, bool) {
	rl, ok := r.roles[id]
	if !ok {
		return model.Role{}, false
	}
	return rl.Clone(), true
}

// Known reports whether id is part of the role vocabulary.
func (r *Resolver) Known(id string) bool {
	_, ok := r.roles[id]
	return ok
}

// Roles returns every role, highest rank first.
func (r *Resolver) Roles() []model.Role {
	out := make([]model.Role, 0, len(r.ordered))
	for _, id := range r.ordered {
		out = append(out, r.roles[id].Clone())
	}
	return out
}

// Vocabulary returns the set of known role ids.
func (r *Resolver) Vocabulary() map[string]bool {
	v := make(map[string]bool, len(r.roles))
	for id := range r.roles {
		v[id] = true
	}
	return v
}
