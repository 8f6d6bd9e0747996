package rbac

import (
	"sort"
)

// ============================================================================
// RESOURCE POLICY REGISTRY
// ============================================================================

// ResourcePolicy declares, per resource type, the valid actions and the
// default permissions granted to roles on it. Nested resources inherit
// actions from their dotted ancestors: a "course.lesson.quiz" request is
// valid if any of quiz, lesson or course declares the action.
type ResourcePolicy struct {
	Resource     string              `json:"resource" yaml:"resource"`
	Actions      []string            `json:"actions" yaml:"actions"`
	RoleDefaults map[string][]string `json:"role_defaults,omitempty" yaml:"role_defaults,omitempty"`
}

// ResourceRegistry answers which (resource, action) pairs are recognized and
// which default permissions a role holds. It is queried, never mutated, by
// the gate.
type ResourceRegistry interface {
	ValidAction(resource, action string) bool
	DefaultsFor(roleID string) []Permission
}

// StaticRegistry is a ResourceRegistry built from a fixed policy list,
// typically loaded from configuration.
type StaticRegistry struct {
	policies map[string]ResourcePolicy
	defaults map[string][]Permission
}

func NewStaticRegistry(policies []ResourcePolicy) *StaticRegistry {
	r := &StaticRegistry{
		policies: make(map[string]ResourcePolicy, len(policies)),
		defaults: make(map[string][]Permission),
	}
	for _, p := range policies {
		r.policies[p.Resource] = p
	}
	// precompute default permissions per role, ordered by resource for
	// deterministic expansion
	resources := make([]string, 0, len(r.policies))
	for res := range r.policies {
		resources = append(resources, res)
	}
	sort.Strings(resources)
	for _, res := range resources {
		for role, actions := range r.policies[res].RoleDefaults {
			for _, action := range actions {
				r.defaults[role] = append(r.defaults[role], Permission{
					ID:       "default:" + role + ":" + res + ":" + action,
					Resource: res,
					Action:   action,
					Effect:   EffectAllow,
					Priority: 0,
				})
			}
		}
	}
	for role := range r.defaults {
		perms := r.defaults[role]
		sort.Slice(perms, func(i, j int) bool { return perms[i].ID < perms[j].ID })
	}
	return r
}

// ValidAction walks the resource path and its ancestors looking for a policy
// that declares the action (exact or "*").
func (r *StaticRegistry) ValidAction(resource, action string) bool {
	if resource == "" || action == "" {
		return false
	}
	for _, level := range ExpandResource(resource) {
		pol, ok := r.policies[level]
		if !ok {
			continue
		}
		for _, a := range pol.Actions {
			if a == action || a == "*" {
				return true
			}
		}
	}
	return false
}

// DefaultsFor returns the default allow permissions declared for a role
// across all resource policies.
func (r *StaticRegistry) DefaultsFor(roleID string) []Permission {
	return r.defaults[roleID]
}
