package rbac

// Builders provide a fluent API for constructing roles and permissions,
// used by configuration tooling and tests.

// PermissionBuilder builds a Permission.
type PermissionBuilder struct {
	p Permission
}

func NewPermissionBuilder() *PermissionBuilder {
	return &PermissionBuilder{p: Permission{Effect: EffectAllow}}
}

func (b *PermissionBuilder) ID(id string) *PermissionBuilder         { b.p.ID = id; return b }
func (b *PermissionBuilder) Resource(r string) *PermissionBuilder    { b.p.Resource = r; return b }
func (b *PermissionBuilder) Action(a string) *PermissionBuilder      { b.p.Action = a; return b }
func (b *PermissionBuilder) Effect(e Effect) *PermissionBuilder      { b.p.Effect = e; return b }
func (b *PermissionBuilder) Allow() *PermissionBuilder               { b.p.Effect = EffectAllow; return b }
func (b *PermissionBuilder) Deny() *PermissionBuilder                { b.p.Effect = EffectDeny; return b }
func (b *PermissionBuilder) Priority(p int) *PermissionBuilder       { b.p.Priority = p; return b }
func (b *PermissionBuilder) When(c ...Condition) *PermissionBuilder {
	b.p.Conditions = append(b.p.Conditions, c...)
	return b
}

func (b *PermissionBuilder) Build() Permission { return b.p }

// RoleBuilder builds a Role.
type RoleBuilder struct {
	r *Role
}

func NewRoleBuilder() *RoleBuilder {
	return &RoleBuilder{r: &Role{Status: StatusActive, Permissions: []Permission{}}}
}

func (b *RoleBuilder) ID(id string) *RoleBuilder       { b.r.ID = id; return b }
func (b *RoleBuilder) Name(n string) *RoleBuilder      { b.r.Name = n; return b }
func (b *RoleBuilder) Tenant(t string) *RoleBuilder    { b.r.TenantID = t; return b }
func (b *RoleBuilder) Parent(id string) *RoleBuilder   { b.r.ParentID = id; return b }
func (b *RoleBuilder) Priority(p int) *RoleBuilder     { b.r.Priority = p; return b }
func (b *RoleBuilder) Status(s Status) *RoleBuilder    { b.r.Status = s; return b }
func (b *RoleBuilder) SuperAdmin() *RoleBuilder        { b.r.SuperAdmin = true; return b }
func (b *RoleBuilder) Permission(p Permission) *RoleBuilder {
	b.r.Permissions = append(b.r.Permissions, p)
	return b
}
func (b *RoleBuilder) Build() *Role { return b.r }
