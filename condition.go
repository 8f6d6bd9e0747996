package rbac

import (
	"strings"
)

// ============================================================================
// CONDITION EVALUATOR
// ============================================================================

// undefined marks a field or placeholder that could not be resolved from the
// access context. It never satisfies any operator except ne.
type undefinedValue struct{}

var undefined = undefinedValue{}

func isUndefined(v any) bool {
	_, ok := v.(undefinedValue)
	return ok
}

// EvaluateCondition evaluates a single condition against the access context.
// Placeholders in the comparison value ({{user.id}}, {{resource.createdBy}})
// are substituted before comparing. Numeric operators on non-numeric operands
// evaluate to false rather than erroring.
func EvaluateCondition(c Condition, ctx *AccessContext) bool {
	left := lookupField(ctx, c.Field)
	right := resolveValue(ctx, c.Value)

	if isUndefined(left) || isUndefined(right) {
		// ne is the only operator an undefined operand can satisfy: an absent
		// field is "not equal" to any concrete value.
		if c.Operator == OpNe {
			return !(isUndefined(left) && isUndefined(right))
		}
		return false
	}

	switch c.Operator {
	case OpEq:
		return looseEqual(left, right)
	case OpNe:
		return !looseEqual(left, right)
	case OpGt:
		return numericCompare(left, right, func(a, b float64) bool { return a > b })
	case OpGte:
		return numericCompare(left, right, func(a, b float64) bool { return a >= b })
	case OpLt:
		return numericCompare(left, right, func(a, b float64) bool { return a < b })
	case OpLte:
		return numericCompare(left, right, func(a, b float64) bool { return a <= b })
	case OpIn:
		return collectionContains(right, left)
	case OpNin:
		return !collectionContains(right, left)
	case OpContains:
		return valueContains(left, right)
	case OpStartsWith:
		ls, lok := left.(string)
		rs, rok := right.(string)
		return lok && rok && strings.HasPrefix(ls, rs)
	case OpEndsWith:
		ls, lok := left.(string)
		rs, rok := right.(string)
		return lok && rok && strings.HasSuffix(ls, rs)
	}
	// Unknown operators are rejected at the store boundary; if one slips
	// through it must not grant anything.
	return false
}

// EvaluateConditions reduces a condition list left to right. Each step
// combines using the preceding condition's combinator with short-circuiting.
// An empty list is unconditionally applicable.
func EvaluateConditions(conds []Condition, ctx *AccessContext) bool {
	if len(conds) == 0 {
		return true
	}
	result := EvaluateCondition(conds[0], ctx)
	for i := 1; i < len(conds); i++ {
		switch conds[i-1].Combinator {
		case CombOr:
			if result {
				return true
			}
			result = EvaluateCondition(conds[i], ctx)
		default: // and is the default combinator
			if !result {
				return false
			}
			result = EvaluateCondition(conds[i], ctx)
		}
	}
	return result
}

// resolveValue substitutes {{user.*}} / {{resource.*}} / {{request.*}}
// placeholders in a comparison value. Elements of slice values are resolved
// individually so that in/nin lists may mix literals and placeholders.
func resolveValue(ctx *AccessContext, v any) any {
	switch vv := v.(type) {
	case string:
		if strings.HasPrefix(vv, "{{") && strings.HasSuffix(vv, "}}") {
			path := strings.TrimSpace(vv[2 : len(vv)-2])
			return lookupField(ctx, path)
		}
		return vv
	case []any:
		out := make([]any, len(vv))
		for i, item := range vv {
			out[i] = resolveValue(ctx, item)
		}
		return out
	default:
		return v
	}
}

// lookupField resolves a dot-path against the access context. Paths starting
// with "user." read the principal, "resource." the resource snapshot,
// "request." the request metadata. Bare paths read resource attributes, so a
// condition on "createdBy" compares against resource.createdBy.
func lookupField(ctx *AccessContext, path string) any {
	if ctx == nil || path == "" {
		return undefined
	}
	switch {
	case strings.HasPrefix(path, "user."):
		return lookupPrincipal(ctx.Principal, path[len("user."):])
	case strings.HasPrefix(path, "resource."):
		return lookupResource(ctx, path[len("resource."):])
	case strings.HasPrefix(path, "request."):
		return lookupRequest(ctx, path[len("request."):])
	default:
		return lookupAttrs(ctx.ResourceAttrs, path)
	}
}

func lookupPrincipal(p *Principal, field string) any {
	if p == nil {
		return undefined
	}
	switch field {
	case "id":
		return p.ID
	case "tenant_id", "tenantId":
		return p.TenantID
	case "status":
		return string(p.Status)
	case "roles":
		return p.Roles
	default:
		return lookupAttrs(p.Attrs, field)
	}
}

func lookupResource(ctx *AccessContext, field string) any {
	switch field {
	case "type":
		return ctx.Resource
	case "id":
		return ctx.ResourceID
	default:
		return lookupAttrs(ctx.ResourceAttrs, field)
	}
}

func lookupRequest(ctx *AccessContext, field string) any {
	switch field {
	case "ip":
		return ctx.IP
	case "session", "session_id", "sessionId":
		return ctx.SessionID
	default:
		return undefined
	}
}

// lookupAttrs walks a dot-path through nested attribute maps.
func lookupAttrs(attrs map[string]any, path string) any {
	if attrs == nil {
		return undefined
	}
	segs := strings.Split(path, ".")
	var cur any = attrs
	for _, seg := range segs {
		m, ok := cur.(map[string]any)
		if !ok {
			return undefined
		}
		cur, ok = m[seg]
		if !ok {
			return undefined
		}
	}
	return cur
}

// looseEqual compares loosely-typed attribute values: numbers compare across
// int/float representations, everything else requires matching kinds.
func looseEqual(a, b any) bool {
	if af, aok := toFloat(a); aok {
		bf, bok := toFloat(b)
		return bok && af == bf
	}
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	}
	return false
}

func numericCompare(a, b any, cmp func(a, b float64) bool) bool {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if !aok || !bok {
		return false
	}
	return cmp(af, bf)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

// collectionContains checks membership of needle in coll. A non-collection
// coll is treated as a single-element collection.
func collectionContains(coll, needle any) bool {
	switch cv := coll.(type) {
	case []any:
		for _, item := range cv {
			if looseEqual(needle, item) {
				return true
			}
		}
		return false
	case []string:
		for _, item := range cv {
			if looseEqual(needle, item) {
				return true
			}
		}
		return false
	default:
		return looseEqual(needle, coll)
	}
}

// valueContains handles the contains operator: substring match for string
// fields, membership for collection fields.
func valueContains(field, want any) bool {
	switch fv := field.(type) {
	case string:
		ws, ok := want.(string)
		return ok && strings.Contains(fv, ws)
	case []any, []string:
		return collectionContains(field, want)
	}
	return false
}
