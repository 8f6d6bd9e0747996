package rbac

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ============================================================================
// STORAGE INTERFACES
// ============================================================================

// PermissionStore is the external collaborator owning principals, roles and
// permissions. The engine only reads from it. Implementations return
// ErrStoreUnavailable on connectivity loss and ErrInvalidRole for role
// references that cannot be resolved.
type PermissionStore interface {
	GetRolesForUser(ctx context.Context, userID string) ([]*Role, error)
	GetRoleByID(ctx context.Context, roleID string) (*Role, error)
}

// AuditSink receives one record per authorization decision. Calls are
// fire-and-forget; sink failures never affect the decision.
type AuditSink interface {
	LogAccessAttempt(ctx context.Context, record *AccessRecord) error
}

// ============================================================================
// INHERITANCE RESOLVER
// ============================================================================

// ExpandRoles expands a principal's directly assigned roles into the full
// effective permission set by walking each role's parent chain. Every chain
// carries its own visited set: a repeat within one chain is a cycle and
// aborts with ErrCyclicRoleHierarchy instead of silently truncating. Roles
// that are not active contribute nothing and terminate their chain.
func ExpandRoles(ctx context.Context, store PermissionStore, principal *Principal) (*PermissionSet, error) {
	set := &PermissionSet{
		PrincipalID: principal.ID,
		TenantID:    principal.TenantID,
		Roles:       make([]string, 0, len(principal.Roles)),
		Permissions: make([]EffectivePermission, 0),
	}

	roles, err := store.GetRolesForUser(ctx, principal.ID)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*Role, len(roles))
	for _, r := range roles {
		if err := r.Validate(); err != nil {
			return nil, err
		}
		byID[r.ID] = r
	}

	// Assignments come from the store, augmented by any roles the caller
	// carried on the principal (token claims and the like).
	assigned := make([]string, 0, len(roles)+len(principal.Roles))
	seen := make(map[string]bool, len(roles))
	for _, r := range roles {
		if !seen[r.ID] {
			seen[r.ID] = true
			assigned = append(assigned, r.ID)
		}
	}
	for _, id := range principal.Roles {
		if !seen[id] {
			seen[id] = true
			assigned = append(assigned, id)
		}
	}

	collected := make(map[string]bool)
	for _, roleID := range assigned {
		root, ok := byID[roleID]
		if !ok {
			// The store may return only directly assigned roles; fall back to
			// a point lookup before declaring the reference invalid.
			root, err = store.GetRoleByID(ctx, roleID)
			if err != nil {
				if errors.Is(err, ErrStoreUnavailable) {
					return nil, err
				}
				return nil, fmt.Errorf("%w: %s", ErrInvalidRole, roleID)
			}
			if err := root.Validate(); err != nil {
				return nil, err
			}
		}

		visited := make(map[string]bool)
		cur := root
		for cur != nil {
			if visited[cur.ID] {
				return nil, fmt.Errorf("%w: role %s revisits %s", ErrCyclicRoleHierarchy, roleID, cur.ID)
			}
			visited[cur.ID] = true

			if cur.Status == StatusInactive {
				break
			}
			if !collected[cur.ID] {
				collected[cur.ID] = true
				set.Roles = append(set.Roles, cur.ID)
				if cur.SuperAdmin && !set.SuperAdmin {
					set.SuperAdmin = true
					set.AdminRole = cur.ID
				}
				for _, p := range cur.Permissions {
					set.Permissions = append(set.Permissions, EffectivePermission{
						Permission: p,
						RoleID:     cur.ID,
						RoleTenant: cur.TenantID,
					})
				}
			}

			if cur.ParentID == "" {
				break
			}
			parent, err := store.GetRoleByID(ctx, cur.ParentID)
			if err != nil {
				if errors.Is(err, ErrStoreUnavailable) {
					return nil, err
				}
				return nil, fmt.Errorf("%w: parent %s of role %s", ErrInvalidRole, cur.ParentID, cur.ID)
			}
			if err := parent.Validate(); err != nil {
				return nil, err
			}
			cur = parent
		}
	}
	return set, nil
}

// ExpandResource expands a dotted resource path into the path itself followed
// by each strict prefix, most specific first:
//
//	course.lesson.quiz -> [course.lesson.quiz, course.lesson, course]
func ExpandResource(path string) []string {
	if path == "" {
		return nil
	}
	out := []string{path}
	for {
		idx := strings.LastIndexByte(path, '.')
		if idx < 0 {
			break
		}
		path = path[:idx]
		out = append(out, path)
	}
	return out
}
