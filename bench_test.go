package rbac

import (
	"context"
	"fmt"
	"testing"
)

func benchSet(numRoles, permsPerRole int) *PermissionSet {
	set := &PermissionSet{PrincipalID: "u1", TenantID: "t1"}
	for r := 0; r < numRoles; r++ {
		roleID := fmt.Sprintf("role-%d", r)
		set.Roles = append(set.Roles, roleID)
		for p := 0; p < permsPerRole; p++ {
			set.Permissions = append(set.Permissions, EffectivePermission{
				Permission: Permission{
					ID:       fmt.Sprintf("p-%d-%d", r, p),
					Resource: fmt.Sprintf("resource-%d", p),
					Action:   "view",
					Effect:   EffectAllow,
					Priority: p,
				},
				RoleID:     roleID,
				RoleTenant: "t1",
			})
		}
	}
	return set
}

func BenchmarkDecide(b *testing.B) {
	set := benchSet(5, 20)
	ctx := &AccessContext{
		Principal: &Principal{ID: "u1", TenantID: "t1", Status: StatusActive},
		Resource:  "resource-10",
		Action:    "view",
		TenantID:  "t1",
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		dec := Decide(set, ctx)
		if !dec.Allowed() {
			b.Fatalf("unexpected deny: %+v", dec)
		}
	}
}

func BenchmarkDecideWithConditions(b *testing.B) {
	set := benchSet(5, 20)
	for i := range set.Permissions {
		set.Permissions[i].Conditions = []Condition{
			{Field: "createdBy", Operator: OpEq, Value: "{{user.id}}"},
		}
	}
	ctx := &AccessContext{
		Principal:     &Principal{ID: "u1", TenantID: "t1", Status: StatusActive},
		Resource:      "resource-10",
		Action:        "view",
		TenantID:      "t1",
		ResourceAttrs: map[string]any{"createdBy": "u1"},
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		dec := Decide(set, ctx)
		if !dec.Allowed() {
			b.Fatalf("unexpected deny: %+v", dec)
		}
	}
}

func BenchmarkAuthorizeCached(b *testing.B) {
	store := newFakeStore(&Role{ID: "student", Status: StatusActive, Permissions: []Permission{
		{ID: "p", Resource: "course", Action: "view", Effect: EffectAllow},
	}})
	store.assignments["u1"] = []string{"student"}
	g := newTestGate(store, nil, nil)
	defer g.Close()

	ctx := context.Background()
	ac := &AccessContext{
		Principal: &Principal{ID: "u1", Status: StatusActive},
		Resource:  "course",
		Action:    "view",
	}
	// warm the cache
	if _, err := g.Authorize(ctx, ac); err != nil {
		b.Fatalf("warmup: %v", err)
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := g.Authorize(ctx, ac); err != nil {
			b.Fatalf("authorize: %v", err)
		}
	}
}

func BenchmarkExpandRoles(b *testing.B) {
	store := newFakeStore(
		&Role{ID: "l3", ParentID: "l2", Status: StatusActive, Permissions: []Permission{
			{ID: "p3", Resource: "exam", Action: "grade", Effect: EffectAllow},
		}},
		&Role{ID: "l2", ParentID: "l1", Status: StatusActive, Permissions: []Permission{
			{ID: "p2", Resource: "course", Action: "edit", Effect: EffectAllow},
		}},
		&Role{ID: "l1", Status: StatusActive, Permissions: []Permission{
			{ID: "p1", Resource: "course", Action: "view", Effect: EffectAllow},
		}},
	)
	store.assignments["u1"] = []string{"l3"}
	principal := &Principal{ID: "u1", Roles: []string{"l3"}}
	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := ExpandRoles(ctx, store, principal); err != nil {
			b.Fatalf("expand: %v", err)
		}
	}
}
