package stores

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/oarkflow/squealx"

	rbac "github.com/shanshuishenzhen/skillup-rbac"
)

// SQLPermissionStore persists roles and principal assignments in SQL via
// squealx. Permission lists are stored as JSON columns and re-validated on
// the way out so malformed rows never reach the evaluator.
type SQLPermissionStore struct {
	db *squealx.DB
}

func NewSQLPermissionStore(db *squealx.DB) *SQLPermissionStore {
	return &SQLPermissionStore{db: db}
}

func (s *SQLPermissionStore) GetRolesForUser(ctx context.Context, userID string) ([]*rbac.Role, error) {
	q := `SELECT role_id FROM user_roles WHERE user_id = :user_id`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{"user_id": userID})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", rbac.ErrStoreUnavailable, err)
	}
	defer r.Close()
	ids := make([]string, 0)
	for r.Next() {
		var id string
		if err := r.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	out := make([]*rbac.Role, 0, len(ids))
	for _, id := range ids {
		role, err := s.GetRoleByID(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, role)
	}
	return out, nil
}

func (s *SQLPermissionStore) GetRoleByID(ctx context.Context, roleID string) (*rbac.Role, error) {
	q := `SELECT id, name, tenant_id, parent_id, priority, status, super_admin, permissions_json FROM roles WHERE id = :id`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{"id": roleID})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", rbac.ErrStoreUnavailable, err)
	}
	defer r.Close()
	if !r.Next() {
		return nil, fmt.Errorf("role not found: %s", roleID)
	}
	var id, name, tenant, parent, status, permsJSON string
	var priority, superAdmin int
	if err := r.Scan(&id, &name, &tenant, &parent, &priority, &status, &superAdmin, &permsJSON); err != nil {
		return nil, err
	}
	role := &rbac.Role{
		ID:         id,
		Name:       name,
		TenantID:   tenant,
		ParentID:   parent,
		Priority:   priority,
		Status:     rbac.Status(status),
		SuperAdmin: superAdmin != 0,
	}
	if err := json.Unmarshal([]byte(permsJSON), &role.Permissions); err != nil {
		return nil, fmt.Errorf("%w: role %s permissions: %v", rbac.ErrMalformedRecord, id, err)
	}
	if err := role.Validate(); err != nil {
		return nil, err
	}
	return role, nil
}

// UpsertRole creates or replaces a role record.
func (s *SQLPermissionStore) UpsertRole(ctx context.Context, role *rbac.Role) error {
	if err := role.Validate(); err != nil {
		return err
	}
	perms, err := json.Marshal(role.Permissions)
	if err != nil {
		return err
	}
	q := `INSERT INTO roles(id, name, tenant_id, parent_id, priority, status, super_admin, permissions_json)
VALUES(:id, :name, :tenant_id, :parent_id, :priority, :status, :super_admin, :permissions_json)
ON CONFLICT(id) DO UPDATE SET name=:name, tenant_id=:tenant_id, parent_id=:parent_id, priority=:priority, status=:status, super_admin=:super_admin, permissions_json=:permissions_json`
	_, err = s.db.NamedExecContext(ctx, q, map[string]any{
		"id":               role.ID,
		"name":             role.Name,
		"tenant_id":        role.TenantID,
		"parent_id":        role.ParentID,
		"priority":         role.Priority,
		"status":           string(role.Status),
		"super_admin":      boolToInt(role.SuperAdmin),
		"permissions_json": string(perms),
	})
	return err
}

// DeleteRole removes a role record.
func (s *SQLPermissionStore) DeleteRole(ctx context.Context, roleID string) error {
	_, err := s.db.NamedExecContext(ctx, `DELETE FROM roles WHERE id = :id`, map[string]any{"id": roleID})
	return err
}

// AssignRole binds a role to a principal.
func (s *SQLPermissionStore) AssignRole(ctx context.Context, userID, roleID string) error {
	q := `INSERT INTO user_roles(user_id, role_id) VALUES(:user_id, :role_id) ON CONFLICT(user_id, role_id) DO NOTHING`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{"user_id": userID, "role_id": roleID})
	return err
}

// RevokeRole removes a role binding from a principal.
func (s *SQLPermissionStore) RevokeRole(ctx context.Context, userID, roleID string) error {
	q := `DELETE FROM user_roles WHERE user_id = :user_id AND role_id = :role_id`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{"user_id": userID, "role_id": roleID})
	return err
}
