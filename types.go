package rbac

import (
	"errors"
	"fmt"
	"time"
)

// ============================================================================
// DOMAIN OBJECTS
// ============================================================================

// Status of a principal or role record.
type Status string

const (
	StatusActive    Status = "active"
	StatusInactive  Status = "inactive"
	StatusSuspended Status = "suspended"
)

// Effect represents the outcome a permission declares.
type Effect string

const (
	EffectAllow Effect = "allow"
	EffectDeny  Effect = "deny"
)

// Operator is a condition comparison operator.
type Operator string

const (
	OpEq         Operator = "eq"
	OpNe         Operator = "ne"
	OpGt         Operator = "gt"
	OpGte        Operator = "gte"
	OpLt         Operator = "lt"
	OpLte        Operator = "lte"
	OpIn         Operator = "in"
	OpNin        Operator = "nin"
	OpContains   Operator = "contains"
	OpStartsWith Operator = "startsWith"
	OpEndsWith   Operator = "endsWith"
)

// Combinator links a condition to the next one in a permission's list.
type Combinator string

const (
	CombAnd Combinator = "and"
	CombOr  Combinator = "or"
)

// Principal represents who is requesting access.
type Principal struct {
	ID       string         `json:"id" yaml:"id"`
	TenantID string         `json:"tenant_id" yaml:"tenant_id"`
	Roles    []string       `json:"roles" yaml:"roles"`
	Status   Status         `json:"status" yaml:"status"`
	Attrs    map[string]any `json:"attrs,omitempty" yaml:"attrs,omitempty"`
}

// Role represents a named collection of permissions. An empty TenantID marks
// a cross-tenant role. ParentID forms a single-parent inheritance chain.
type Role struct {
	ID          string       `json:"id" yaml:"id"`
	Name        string       `json:"name" yaml:"name"`
	TenantID    string       `json:"tenant_id,omitempty" yaml:"tenant_id,omitempty"`
	ParentID    string       `json:"parent_id,omitempty" yaml:"parent_id,omitempty"`
	Priority    int          `json:"priority" yaml:"priority"`
	Status      Status       `json:"status" yaml:"status"`
	SuperAdmin  bool         `json:"super_admin,omitempty" yaml:"super_admin,omitempty"`
	Permissions []Permission `json:"permissions" yaml:"permissions"`
}

// Permission represents an effect on a resource/action pair. Resource and
// Action accept "*" or hierarchical patterns like "course.*".
type Permission struct {
	ID         string      `json:"id" yaml:"id"`
	Resource   string      `json:"resource" yaml:"resource"`
	Action     string      `json:"action" yaml:"action"`
	Effect     Effect      `json:"effect" yaml:"effect"`
	Priority   int         `json:"priority" yaml:"priority"`
	Conditions []Condition `json:"conditions,omitempty" yaml:"conditions,omitempty"`
}

// Condition is an attribute predicate narrowing when a permission applies.
// Value may reference context fields through {{user.*}} / {{resource.*}}
// placeholders, substituted at evaluation time. Combinator links this
// condition to the next one in the list; it is ignored on the last condition.
type Condition struct {
	Field      string     `json:"field" yaml:"field"`
	Operator   Operator   `json:"operator" yaml:"operator"`
	Value      any        `json:"value" yaml:"value"`
	Combinator Combinator `json:"combinator,omitempty" yaml:"combinator,omitempty"`
}

// AccessContext is the ephemeral input to one authorization decision.
// IP, SessionID and AnomalySignal are carried through to the audit record
// only; conditions may reference request metadata via "request.*" fields.
type AccessContext struct {
	Principal     *Principal     `json:"principal"`
	Resource      string         `json:"resource"`
	Action        string         `json:"action"`
	ResourceID    string         `json:"resource_id,omitempty"`
	ResourceAttrs map[string]any `json:"resource_attrs,omitempty"`
	TenantID      string         `json:"tenant_id,omitempty"`
	IP            string         `json:"ip,omitempty"`
	SessionID     string         `json:"session_id,omitempty"`
	AnomalySignal bool           `json:"anomaly_signal,omitempty"`
}

// Decision is the result of one authorization evaluation. MatchedBy carries
// the identifier of the winning permission or role.
type Decision struct {
	Effect     Effect `json:"effect"`
	Reason     string `json:"reason"`
	MatchedBy  string `json:"matched_by,omitempty"`
	Suspicious bool   `json:"suspicious"`
}

// Allowed reports whether the decision grants access.
func (d *Decision) Allowed() bool { return d.Effect == EffectAllow }

// Stable decision reasons, consumed by the HTTP layer for status mapping.
const (
	ReasonUnauthenticated       = "unauthenticated"
	ReasonAccountSuspended      = "account_suspended"
	ReasonAccountInactive       = "account_inactive"
	ReasonAdminRole             = "admin_role"
	ReasonPermissionGranted     = "permission_granted"
	ReasonInsufficientPerms     = "insufficient_permissions"
	ReasonNoMatchingPermission  = "no_matching_permission"
	ReasonInvalidResourceAction = "invalid_resource_action"
	ReasonInvalidRole           = "invalid_role"
)

// EffectivePermission is a permission annotated with the role it came from.
// RoleTenant is used for the same-tenant tie-break and for audit.
type EffectivePermission struct {
	Permission
	RoleID     string `json:"role_id"`
	RoleTenant string `json:"role_tenant,omitempty"`
}

// PermissionSet is the fully expanded permission snapshot for one principal.
// It is immutable once built and safe to share across decisions.
type PermissionSet struct {
	PrincipalID string                `json:"principal_id"`
	TenantID    string                `json:"tenant_id,omitempty"`
	Roles       []string              `json:"roles"`
	SuperAdmin  bool                  `json:"super_admin"`
	AdminRole   string                `json:"admin_role,omitempty"`
	Permissions []EffectivePermission `json:"permissions"`
}

// Entry is a permission cache entry. Version is assigned by the cache and
// increases monotonically per principal so that entries written before an
// explicit invalidation are detectable as stale.
type Entry struct {
	PrincipalID string         `json:"principal_id"`
	TenantID    string         `json:"tenant_id,omitempty"`
	Set         *PermissionSet `json:"set"`
	CreatedAt   time.Time      `json:"created_at"`
	ExpiresAt   time.Time      `json:"expires_at"`
	Version     uint64         `json:"version"`
}

// Expired reports whether the entry passed its TTL at the given time.
func (e *Entry) Expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && now.After(e.ExpiresAt)
}

// AccessRecord is what the gate forwards to the audit sink for every
// decision. SecurityAlert marks invalid_role denials and suspicious requests.
type AccessRecord struct {
	ID            string    `json:"id"`
	Timestamp     time.Time `json:"timestamp"`
	PrincipalID   string    `json:"principal_id"`
	TenantID      string    `json:"tenant_id,omitempty"`
	Resource      string    `json:"resource"`
	Action        string    `json:"action"`
	ResourceID    string    `json:"resource_id,omitempty"`
	Effect        Effect    `json:"effect"`
	Reason        string    `json:"reason"`
	MatchedBy     string    `json:"matched_by,omitempty"`
	Suspicious    bool      `json:"suspicious"`
	SecurityAlert bool      `json:"security_alert"`
	IP            string    `json:"ip,omitempty"`
	SessionID     string    `json:"session_id,omitempty"`
}

// ============================================================================
// ERRORS
// ============================================================================

var (
	// ErrStoreUnavailable is returned by permission stores on connectivity loss.
	ErrStoreUnavailable = errors.New("rbac: permission store unavailable")
	// ErrCacheUnavailable is returned by cache backends; the gate degrades to
	// direct store reads instead of surfacing it.
	ErrCacheUnavailable = errors.New("rbac: permission cache unavailable")
	// ErrCyclicRoleHierarchy is returned when a role parent chain repeats.
	ErrCyclicRoleHierarchy = errors.New("rbac: cyclic role hierarchy")
	// ErrInvalidRole is returned when an assigned role cannot be resolved.
	ErrInvalidRole = errors.New("rbac: invalid role reference")
	// ErrMalformedRecord is returned when a role or permission fails boundary
	// validation.
	ErrMalformedRecord = errors.New("rbac: malformed role or permission record")
	// ErrPermissionCheck wraps non-recoverable failures of a single decision,
	// distinguishing "could not determine" from a deny.
	ErrPermissionCheck = errors.New("rbac: permission_check_error")
)

// ============================================================================
// BOUNDARY VALIDATION
// ============================================================================

var validOperators = map[Operator]bool{
	OpEq: true, OpNe: true, OpGt: true, OpGte: true, OpLt: true, OpLte: true,
	OpIn: true, OpNin: true, OpContains: true, OpStartsWith: true, OpEndsWith: true,
}

// Validate rejects conditions with unknown operators or empty fields.
func (c Condition) Validate() error {
	if c.Field == "" {
		return fmt.Errorf("%w: condition field is required", ErrMalformedRecord)
	}
	if !validOperators[c.Operator] {
		return fmt.Errorf("%w: unknown operator %q", ErrMalformedRecord, c.Operator)
	}
	if c.Combinator != "" && c.Combinator != CombAnd && c.Combinator != CombOr {
		return fmt.Errorf("%w: unknown combinator %q", ErrMalformedRecord, c.Combinator)
	}
	return nil
}

// Validate rejects permissions missing an effect or target.
func (p Permission) Validate() error {
	if p.Resource == "" {
		return fmt.Errorf("%w: permission %s has no resource", ErrMalformedRecord, p.ID)
	}
	if p.Action == "" {
		return fmt.Errorf("%w: permission %s has no action", ErrMalformedRecord, p.ID)
	}
	if p.Effect != EffectAllow && p.Effect != EffectDeny {
		return fmt.Errorf("%w: permission %s has effect %q", ErrMalformedRecord, p.ID, p.Effect)
	}
	for _, c := range p.Conditions {
		if err := c.Validate(); err != nil {
			return fmt.Errorf("permission %s: %w", p.ID, err)
		}
	}
	return nil
}

// Validate rejects roles with missing identifiers or invalid permissions.
// Parent chain acyclicity is enforced at resolution time, not here, since a
// single role cannot see the rest of the hierarchy.
func (r *Role) Validate() error {
	if r == nil {
		return fmt.Errorf("%w: nil role", ErrMalformedRecord)
	}
	if r.ID == "" {
		return fmt.Errorf("%w: role id is required", ErrMalformedRecord)
	}
	if r.Status != "" && r.Status != StatusActive && r.Status != StatusInactive {
		return fmt.Errorf("%w: role %s has status %q", ErrMalformedRecord, r.ID, r.Status)
	}
	for _, p := range r.Permissions {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("role %s: %w", r.ID, err)
		}
	}
	return nil
}
