package rbac

import (
	"sort"

	"github.com/shanshuishenzhen/skillup-rbac/utils"
)

// ============================================================================
// POLICY EVALUATOR
// ============================================================================

// Decide produces an allow/deny decision for an access context against an
// effective permission set. It is deterministic and performs no I/O.
//
// Precedence is one explicit algorithm rather than scattered branches:
// account status short-circuits everything, the designated super-admin role
// bypasses permission matching, and conflicting permissions are resolved by a
// single sort (priority descending, deny over allow at equal priority,
// same-tenant roles winning remaining ties).
func Decide(set *PermissionSet, ctx *AccessContext) Decision {
	p := ctx.Principal
	if p == nil || p.ID == "" {
		return Decision{Effect: EffectDeny, Reason: ReasonUnauthenticated}
	}
	switch p.Status {
	case StatusActive:
	case StatusSuspended:
		return Decision{Effect: EffectDeny, Reason: ReasonAccountSuspended}
	default:
		return Decision{Effect: EffectDeny, Reason: ReasonAccountInactive}
	}

	if set.SuperAdmin {
		return Decision{Effect: EffectAllow, Reason: ReasonAdminRole, MatchedBy: set.AdminRole}
	}

	// Match at the most specific resource level that yields anything: an
	// exact course.lesson.quiz permission shadows one granted on course.
	var candidates []EffectivePermission
	for _, level := range ExpandResource(ctx.Resource) {
		for _, ep := range set.Permissions {
			if utils.Match(level, ep.Resource) && utils.Match(ctx.Action, ep.Action) {
				candidates = append(candidates, ep)
			}
		}
		if len(candidates) > 0 {
			break
		}
	}
	if len(candidates) == 0 {
		return Decision{Effect: EffectDeny, Reason: ReasonNoMatchingPermission}
	}

	applicable := candidates[:0:0]
	for _, ep := range candidates {
		if EvaluateConditions(ep.Conditions, ctx) {
			applicable = append(applicable, ep)
		}
	}
	if len(applicable) == 0 {
		return Decision{Effect: EffectDeny, Reason: ReasonNoMatchingPermission}
	}

	sortByPrecedence(applicable, ctx.TenantID)
	top := applicable[0]
	if top.Effect == EffectDeny {
		return Decision{Effect: EffectDeny, Reason: ReasonInsufficientPerms, MatchedBy: top.ID}
	}
	return Decision{Effect: EffectAllow, Reason: ReasonPermissionGranted, MatchedBy: top.ID}
}

// sortByPrecedence orders permissions so the first element wins: priority
// descending, deny before allow at equal priority, same-tenant roles before
// cross-tenant ones, then permission ID for a stable total order.
func sortByPrecedence(perms []EffectivePermission, tenantID string) {
	sort.SliceStable(perms, func(i, j int) bool {
		a, b := perms[i], perms[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if a.Effect != b.Effect {
			return a.Effect == EffectDeny
		}
		aT := tenantID != "" && a.RoleTenant == tenantID
		bT := tenantID != "" && b.RoleTenant == tenantID
		if aT != bT {
			return aT
		}
		return a.ID < b.ID
	})
}
