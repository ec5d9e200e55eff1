package authcore

import "time"

// Builders provide a fluent API for creating Permissions, Roles and Policies

// PermissionBuilder builds a Permission
type PermissionBuilder struct {
	p *Permission
}

func NewPermissionBuilder() *PermissionBuilder {
	return &PermissionBuilder{p: &Permission{Actions: []string{}, Effect: EffectAllow}}
}

func (b *PermissionBuilder) ID(id string) *PermissionBuilder      { b.p.ID = id; return b }
func (b *PermissionBuilder) Name(n string) *PermissionBuilder     { b.p.Name = n; return b }
func (b *PermissionBuilder) Tenant(t string) *PermissionBuilder   { b.p.TenantID = t; return b }
func (b *PermissionBuilder) Resource(r string) *PermissionBuilder { b.p.Resource = r; return b }
func (b *PermissionBuilder) Effect(e Effect) *PermissionBuilder   { b.p.Effect = e; return b }
func (b *PermissionBuilder) Priority(p int) *PermissionBuilder    { b.p.Priority = p; return b }
func (b *PermissionBuilder) Describe(d string) *PermissionBuilder { b.p.Description = d; return b }
func (b *PermissionBuilder) Actions(a ...string) *PermissionBuilder {
	b.p.Actions = append(b.p.Actions, a...)
	return b
}
func (b *PermissionBuilder) When(field string, op Operator, value any) *PermissionBuilder {
	b.p.Conditions = append(b.p.Conditions, Condition{Field: field, Operator: op, Value: value})
	return b
}
func (b *PermissionBuilder) Weekdays(days ...int) *PermissionBuilder {
	b.window().Weekdays = append(b.window().Weekdays, days...)
	return b
}
func (b *PermissionBuilder) Hours(hours ...int) *PermissionBuilder {
	b.window().Hours = append(b.window().Hours, hours...)
	return b
}
func (b *PermissionBuilder) Between(start, end time.Time) *PermissionBuilder {
	b.window().Start, b.window().End = start, end
	return b
}
func (b *PermissionBuilder) Timezone(tz string) *PermissionBuilder {
	b.window().Timezone = tz
	return b
}
func (b *PermissionBuilder) Build() *Permission { return b.p }

func (b *PermissionBuilder) window() *TimeCondition {
	if b.p.TimeCondition == nil {
		b.p.TimeCondition = &TimeCondition{}
	}
	return b.p.TimeCondition
}

// RoleBuilder builds a Role
type RoleBuilder struct {
	r *Role
}

func NewRoleBuilder() *RoleBuilder {
	return &RoleBuilder{r: &Role{Permissions: []string{}, ParentRoles: []string{}}}
}
func (b *RoleBuilder) ID(id string) *RoleBuilder    { b.r.ID = id; return b }
func (b *RoleBuilder) Tenant(t string) *RoleBuilder { b.r.TenantID = t; return b }
func (b *RoleBuilder) Name(n string) *RoleBuilder   { b.r.Name = n; return b }
func (b *RoleBuilder) MaxAssignments(n int) *RoleBuilder {
	b.r.MaxAssignments = n
	return b
}
func (b *RoleBuilder) Permissions(ids ...string) *RoleBuilder {
	b.r.Permissions = append(b.r.Permissions, ids...)
	return b
}
func (b *RoleBuilder) Inherits(ids ...string) *RoleBuilder {
	b.r.ParentRoles = append(b.r.ParentRoles, ids...)
	return b
}
func (b *RoleBuilder) Build() *Role { return b.r }

// PolicyBuilder builds a Policy. Policies start active.
type PolicyBuilder struct {
	p *Policy
}

func NewPolicyBuilder() *PolicyBuilder {
	return &PolicyBuilder{p: &Policy{Statements: []Statement{}, Active: true, Version: DefaultPolicyVersion}}
}

func (b *PolicyBuilder) ID(id string) *PolicyBuilder       { b.p.ID = id; return b }
func (b *PolicyBuilder) Name(n string) *PolicyBuilder      { b.p.Name = n; return b }
func (b *PolicyBuilder) Tenant(t string) *PolicyBuilder    { b.p.TenantID = t; return b }
func (b *PolicyBuilder) Version(v string) *PolicyBuilder   { b.p.Version = v; return b }
func (b *PolicyBuilder) Priority(p int) *PolicyBuilder     { b.p.Priority = p; return b }
func (b *PolicyBuilder) Active(active bool) *PolicyBuilder { b.p.Active = active; return b }
func (b *PolicyBuilder) Statement(s Statement) *PolicyBuilder {
	b.p.Statements = append(b.p.Statements, s)
	return b
}
func (b *PolicyBuilder) Build() *Policy { return b.p }

// StatementBuilder builds a Statement
type StatementBuilder struct {
	s Statement
}

func Allow() *StatementBuilder { return &StatementBuilder{s: Statement{Effect: EffectAllow}} }
func Deny() *StatementBuilder  { return &StatementBuilder{s: Statement{Effect: EffectDeny}} }

func (b *StatementBuilder) Sid(id string) *StatementBuilder { b.s.Sid = id; return b }
func (b *StatementBuilder) Principals(p ...string) *StatementBuilder {
	b.s.Principals = append(b.s.Principals, p...)
	return b
}
func (b *StatementBuilder) NotPrincipals(p ...string) *StatementBuilder {
	b.s.NotPrincipals = append(b.s.NotPrincipals, p...)
	return b
}
func (b *StatementBuilder) Actions(a ...string) *StatementBuilder {
	b.s.Actions = append(b.s.Actions, a...)
	return b
}
func (b *StatementBuilder) NotActions(a ...string) *StatementBuilder {
	b.s.NotActions = append(b.s.NotActions, a...)
	return b
}
func (b *StatementBuilder) Resources(r ...string) *StatementBuilder {
	b.s.Resources = append(b.s.Resources, r...)
	return b
}
func (b *StatementBuilder) NotResources(r ...string) *StatementBuilder {
	b.s.NotResources = append(b.s.NotResources, r...)
	return b
}
func (b *StatementBuilder) When(field string, op Operator, value any) *StatementBuilder {
	b.s.Conditions = append(b.s.Conditions, Condition{Field: field, Operator: op, Value: value})
	return b
}
func (b *StatementBuilder) Build() Statement { return b.s }
