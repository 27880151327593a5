package rbac

import "time"

// Builders provide a fluent API for creating Users, Roles, Permissions,
// Resources and RoleAssignments

// UserBuilder builds a User
type UserBuilder struct {
	u *User
}

func NewUserBuilder() *UserBuilder {
	return &UserBuilder{u: &User{Attributes: map[string]any{}, Status: StatusActive}}
}

func (b *UserBuilder) ID(id string) *UserBuilder         { b.u.ID = id; return b }
func (b *UserBuilder) Email(email string) *UserBuilder   { b.u.Email = email; return b }
func (b *UserBuilder) Name(name string) *UserBuilder     { b.u.Name = name; return b }
func (b *UserBuilder) Domain(d string) *UserBuilder      { b.u.Domain = d; return b }
func (b *UserBuilder) Status(s EntityStatus) *UserBuilder {
	b.u.Status = s
	return b
}
func (b *UserBuilder) Attribute(key string, value any) *UserBuilder {
	b.u.Attributes[key] = value
	return b
}
func (b *UserBuilder) Build() *User { return b.u }

// RoleBuilder builds a Role
type RoleBuilder struct {
	r *Role
}

func NewRoleBuilder() *RoleBuilder {
	return &RoleBuilder{r: &Role{Permissions: []string{}, Status: StatusActive}}
}

func (b *RoleBuilder) ID(id string) *RoleBuilder          { b.r.ID = id; return b }
func (b *RoleBuilder) Name(n string) *RoleBuilder         { b.r.Name = n; return b }
func (b *RoleBuilder) Description(d string) *RoleBuilder  { b.r.Description = d; return b }
func (b *RoleBuilder) Parent(parentID string) *RoleBuilder {
	b.r.ParentID = parentID
	return b
}
func (b *RoleBuilder) Domain(d string) *RoleBuilder { b.r.Domain = d; return b }
func (b *RoleBuilder) Permissions(ids ...string) *RoleBuilder {
	b.r.Permissions = append(b.r.Permissions, ids...)
	return b
}
func (b *RoleBuilder) Build() *Role { return b.r }

// PermissionBuilder builds a Permission
type PermissionBuilder struct {
	p *Permission
}

func NewPermissionBuilder() *PermissionBuilder {
	return &PermissionBuilder{p: &Permission{}}
}

func (b *PermissionBuilder) ID(id string) *PermissionBuilder { b.p.ID = id; return b }
func (b *PermissionBuilder) Resource(resourceType string) *PermissionBuilder {
	b.p.ResourceType = resourceType
	return b
}
func (b *PermissionBuilder) Action(a string) *PermissionBuilder { b.p.Action = a; return b }
func (b *PermissionBuilder) Description(d string) *PermissionBuilder {
	b.p.Description = d
	return b
}
func (b *PermissionBuilder) Condition(field, op string, value any) *PermissionBuilder {
	if b.p.Conditions == nil {
		b.p.Conditions = Conditions{}
	}
	ops := b.p.Conditions[field]
	if ops == nil {
		ops = map[string]any{}
		b.p.Conditions[field] = ops
	}
	ops[op] = value
	return b
}
func (b *PermissionBuilder) Build() *Permission { return b.p }

// ResourceBuilder builds a Resource
type ResourceBuilder struct {
	res *Resource
}

func NewResourceBuilder() *ResourceBuilder {
	return &ResourceBuilder{res: &Resource{Attributes: map[string]any{}}}
}

func (b *ResourceBuilder) ID(id string) *ResourceBuilder    { b.res.ID = id; return b }
func (b *ResourceBuilder) Type(t string) *ResourceBuilder   { b.res.Type = t; return b }
func (b *ResourceBuilder) Domain(d string) *ResourceBuilder { b.res.Domain = d; return b }
func (b *ResourceBuilder) Attribute(key string, value any) *ResourceBuilder {
	b.res.Attributes[key] = value
	return b
}
func (b *ResourceBuilder) Build() *Resource { return b.res }

// AssignmentBuilder builds a RoleAssignment
type AssignmentBuilder struct {
	a *RoleAssignment
}

func NewAssignmentBuilder() *AssignmentBuilder {
	return &AssignmentBuilder{a: &RoleAssignment{}}
}

func (b *AssignmentBuilder) User(userID string) *AssignmentBuilder { b.a.UserID = userID; return b }
func (b *AssignmentBuilder) Role(roleID string) *AssignmentBuilder { b.a.RoleID = roleID; return b }
func (b *AssignmentBuilder) Domain(d string) *AssignmentBuilder    { b.a.Domain = d; return b }
func (b *AssignmentBuilder) GrantedBy(id string) *AssignmentBuilder {
	b.a.GrantedBy = id
	return b
}
func (b *AssignmentBuilder) ExpiresAt(t time.Time) *AssignmentBuilder {
	b.a.ExpiresAt = t
	return b
}
func (b *AssignmentBuilder) Build() *RoleAssignment { return b.a }
