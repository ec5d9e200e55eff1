package authcore

import (
	"slices"
	"time"
)

// ============================================================================
// DOMAIN OBJECTS
// ============================================================================

// Effect is the outcome a permission or statement grants when it matches.
type Effect string

const (
	EffectAllow Effect = "allow"
	EffectDeny  Effect = "deny"
)

// Wildcard matches any resource, action, principal or permission id.
const Wildcard = "*"

// GlobalTenant scopes an entity to every tenant.
const GlobalTenant = ""

// AnyTenant is accepted by store list methods to span every tenant.
const AnyTenant = "*"

// normalizeTenant maps the wildcard tenant onto the global scope.
func normalizeTenant(tenantID string) string {
	if tenantID == Wildcard {
		return GlobalTenant
	}
	return tenantID
}

// Permission grants or denies a set of actions on a resource pattern.
type Permission struct {
	ID            string         `json:"id" yaml:"id"`
	Name          string         `json:"name" yaml:"name" validate:"required"`
	Description   string         `json:"description,omitempty" yaml:"description,omitempty"`
	Resource      string         `json:"resource" yaml:"resource" validate:"required"` // "documents", "documents:*", "*"
	Actions       []string       `json:"actions" yaml:"actions" validate:"required,min=1,dive,required"`
	Effect        Effect         `json:"effect" yaml:"effect" validate:"oneof=allow deny"`
	Conditions    []Condition    `json:"conditions,omitempty" yaml:"conditions,omitempty" validate:"dive"`
	TimeCondition *TimeCondition `json:"time_condition,omitempty" yaml:"time_condition,omitempty"`
	Priority      int            `json:"priority" yaml:"priority"`
	TenantID      string         `json:"tenant_id,omitempty" yaml:"tenant_id,omitempty"`
	CreatedAt     time.Time      `json:"created_at" yaml:"created_at,omitempty"`
	UpdatedAt     time.Time      `json:"updated_at" yaml:"updated_at,omitempty"`

	predicates []Predicate
	compiled   bool
}

// Clone returns a copy that shares no mutable slices with p.
func (p *Permission) Clone() *Permission {
	if p == nil {
		return nil
	}
	dup := *p
	dup.Actions = slices.Clone(p.Actions)
	dup.Conditions = slices.Clone(p.Conditions)
	if p.TimeCondition != nil {
		dup.TimeCondition = p.TimeCondition.Clone()
	}
	return &dup
}

// conditionPredicates returns the compiled conditions, compiling them when p
// was loaded from a backend that does not keep compiled state.
func (p *Permission) conditionPredicates() ([]Predicate, error) {
	if p.compiled {
		return p.predicates, nil
	}
	return CompileConditions(p.Conditions)
}

// PermissionPatch carries a partial update. Nil fields are left unchanged.
type PermissionPatch struct {
	Name          *string
	Description   *string
	Resource      *string
	Actions       []string
	Effect        *Effect
	Conditions    []Condition
	TimeCondition *TimeCondition
	ClearTime     bool
	Priority      *int
}

func (pp PermissionPatch) apply(p *Permission) {
	if pp.Name != nil {
		p.Name = *pp.Name
	}
	if pp.Description != nil {
		p.Description = *pp.Description
	}
	if pp.Resource != nil {
		p.Resource = *pp.Resource
	}
	if pp.Actions != nil {
		p.Actions = slices.Clone(pp.Actions)
	}
	if pp.Effect != nil {
		p.Effect = *pp.Effect
	}
	if pp.Conditions != nil {
		p.Conditions = slices.Clone(pp.Conditions)
	}
	if pp.ClearTime {
		p.TimeCondition = nil
	} else if pp.TimeCondition != nil {
		p.TimeCondition = pp.TimeCondition.Clone()
	}
	if pp.Priority != nil {
		p.Priority = *pp.Priority
	}
}

// Role is a named set of permission ids that may inherit from parent roles.
type Role struct {
	ID             string    `json:"id" yaml:"id"`
	Name           string    `json:"name" yaml:"name" validate:"required"`
	Description    string    `json:"description,omitempty" yaml:"description,omitempty"`
	Permissions    []string  `json:"permissions" yaml:"permissions" validate:"dive,required"`
	ParentRoles    []string  `json:"parent_roles,omitempty" yaml:"parent_roles,omitempty" validate:"dive,required"`
	IsSystem       bool      `json:"is_system" yaml:"is_system"`
	MaxAssignments int       `json:"max_assignments,omitempty" yaml:"max_assignments,omitempty" validate:"min=0"` // 0 = unlimited
	TenantID       string    `json:"tenant_id,omitempty" yaml:"tenant_id,omitempty"`
	CreatedAt      time.Time `json:"created_at" yaml:"created_at,omitempty"`
	UpdatedAt      time.Time `json:"updated_at" yaml:"updated_at,omitempty"`
}

func (r *Role) Clone() *Role {
	if r == nil {
		return nil
	}
	dup := *r
	dup.Permissions = slices.Clone(r.Permissions)
	dup.ParentRoles = slices.Clone(r.ParentRoles)
	return &dup
}

// RolePatch carries a partial role update. A nil slice leaves the field
// unchanged; an empty non-nil slice clears it.
type RolePatch struct {
	Name           *string
	Description    *string
	Permissions    []string
	ParentRoles    []string
	MaxAssignments *int
}

func (rp RolePatch) apply(r *Role) {
	if rp.Name != nil {
		r.Name = *rp.Name
	}
	if rp.Description != nil {
		r.Description = *rp.Description
	}
	if rp.Permissions != nil {
		r.Permissions = slices.Clone(rp.Permissions)
	}
	if rp.ParentRoles != nil {
		r.ParentRoles = slices.Clone(rp.ParentRoles)
	}
	if rp.MaxAssignments != nil {
		r.MaxAssignments = *rp.MaxAssignments
	}
}

// UserRoleAssignment grants a role to a user inside a tenant.
type UserRoleAssignment struct {
	UserID     string    `json:"user_id" yaml:"user_id"`
	RoleID     string    `json:"role_id" yaml:"role_id"`
	TenantID   string    `json:"tenant_id" yaml:"tenant_id"`
	Scope      string    `json:"scope,omitempty" yaml:"scope,omitempty"`
	ExpiresAt  time.Time `json:"expires_at,omitempty" yaml:"expires_at,omitempty"` // zero = never
	AssignedBy string    `json:"assigned_by,omitempty" yaml:"assigned_by,omitempty"`
	AssignedAt time.Time `json:"assigned_at" yaml:"assigned_at,omitempty"`
}

// Expired reports whether the assignment has lapsed at now.
func (a *UserRoleAssignment) Expired(now time.Time) bool {
	return !a.ExpiresAt.IsZero() && !now.Before(a.ExpiresAt)
}

func (a *UserRoleAssignment) Clone() *UserRoleAssignment {
	if a == nil {
		return nil
	}
	dup := *a
	return &dup
}

// AssignmentRequest is the input of AssignRole.
type AssignmentRequest struct {
	UserID     string    `json:"user_id" yaml:"user_id" validate:"required"`
	RoleID     string    `json:"role_id" yaml:"role_id" validate:"required"`
	TenantID   string    `json:"tenant_id" yaml:"tenant_id"`
	Scope      string    `json:"scope,omitempty" yaml:"scope,omitempty"`
	ExpiresAt  time.Time `json:"expires_at,omitempty" yaml:"expires_at,omitempty"`
	AssignedBy string    `json:"assigned_by,omitempty" yaml:"assigned_by,omitempty"`
}

// Policy is an IAM-style document evaluated before direct permissions.
type Policy struct {
	ID          string      `json:"id" yaml:"id"`
	Name        string      `json:"name" yaml:"name" validate:"required"`
	Description string      `json:"description,omitempty" yaml:"description,omitempty"`
	Version     string      `json:"version" yaml:"version"`
	Statements  []Statement `json:"statements" yaml:"statements" validate:"required,min=1,dive"`
	Active      bool        `json:"active" yaml:"active"`
	Priority    int         `json:"priority" yaml:"priority"` // higher = evaluated first
	TenantID    string      `json:"tenant_id,omitempty" yaml:"tenant_id,omitempty"`
	CreatedAt   time.Time   `json:"created_at" yaml:"created_at,omitempty"`
	UpdatedAt   time.Time   `json:"updated_at" yaml:"updated_at,omitempty"`
}

func (p *Policy) Clone() *Policy {
	if p == nil {
		return nil
	}
	dup := *p
	dup.Statements = make([]Statement, len(p.Statements))
	for i := range p.Statements {
		dup.Statements[i] = p.Statements[i].clone()
	}
	return &dup
}

// Statement is a single allow or deny rule inside a policy.
type Statement struct {
	Sid           string      `json:"sid,omitempty" yaml:"sid,omitempty"`
	Effect        Effect      `json:"effect" yaml:"effect" validate:"oneof=allow deny"`
	Principals    []string    `json:"principals,omitempty" yaml:"principals,omitempty"`
	NotPrincipals []string    `json:"not_principals,omitempty" yaml:"not_principals,omitempty"`
	Actions       []string    `json:"actions" yaml:"actions" validate:"required,min=1,dive,required"`
	NotActions    []string    `json:"not_actions,omitempty" yaml:"not_actions,omitempty"`
	Resources     []string    `json:"resources" yaml:"resources" validate:"required,min=1,dive,required"`
	NotResources  []string    `json:"not_resources,omitempty" yaml:"not_resources,omitempty"`
	Conditions    []Condition `json:"conditions,omitempty" yaml:"conditions,omitempty" validate:"dive"`

	predicates []Predicate
	compiled   bool
}

func (s Statement) clone() Statement {
	s.Principals = slices.Clone(s.Principals)
	s.NotPrincipals = slices.Clone(s.NotPrincipals)
	s.Actions = slices.Clone(s.Actions)
	s.NotActions = slices.Clone(s.NotActions)
	s.Resources = slices.Clone(s.Resources)
	s.NotResources = slices.Clone(s.NotResources)
	s.Conditions = slices.Clone(s.Conditions)
	return s
}

func (s *Statement) conditionPredicates() ([]Predicate, error) {
	if s.compiled {
		return s.predicates, nil
	}
	return CompileConditions(s.Conditions)
}

// PolicyPatch carries a partial policy update.
type PolicyPatch struct {
	Name        *string
	Description *string
	Version     *string
	Statements  []Statement
	Active      *bool
	Priority    *int
}

func (pp PolicyPatch) apply(p *Policy) {
	if pp.Name != nil {
		p.Name = *pp.Name
	}
	if pp.Description != nil {
		p.Description = *pp.Description
	}
	if pp.Version != nil {
		p.Version = *pp.Version
	}
	if pp.Statements != nil {
		p.Statements = make([]Statement, len(pp.Statements))
		for i := range pp.Statements {
			p.Statements[i] = pp.Statements[i].clone()
		}
	}
	if pp.Active != nil {
		p.Active = *pp.Active
	}
	if pp.Priority != nil {
		p.Priority = *pp.Priority
	}
}

// ============================================================================
// REQUEST / DECISION
// ============================================================================

// AuthorizationContext describes one access request.
type AuthorizationContext struct {
	ActorID            string         `json:"actor_id"`
	TenantID           string         `json:"tenant_id"`
	Resource           string         `json:"resource" validate:"required"` // resource type, e.g. "documents"
	Action             string         `json:"action" validate:"required"`
	ResourceID         string         `json:"resource_id,omitempty"`
	ResourceAttributes map[string]any `json:"resource_attributes,omitempty"`
	ActorAttributes    map[string]any `json:"actor_attributes,omitempty"`
	Environment        map[string]any `json:"environment,omitempty"`
	// RequestTime overrides the engine clock for time windows when set.
	RequestTime time.Time `json:"request_time,omitempty"`
}

// resourceCandidates lists the strings resource patterns are tested against:
// the bare type, and "type:id" when an instance id is present.
func (ac *AuthorizationContext) resourceCandidates() []string {
	if ac.ResourceID == "" {
		return []string{ac.Resource}
	}
	return []string{ac.Resource, ac.Resource + ":" + ac.ResourceID}
}

// DecisionSource names the stage of the pipeline that produced a decision.
type DecisionSource string

const (
	SourceNone       DecisionSource = ""
	SourceWildcard   DecisionSource = "wildcard"
	SourcePolicy     DecisionSource = "policy"
	SourcePermission DecisionSource = "permission"
	SourceCustom     DecisionSource = "custom"
	SourceDefault    DecisionSource = "default"
	SourceError      DecisionSource = "error"
)

// ReasonNoMatch is reported when neither a policy nor a permission matched.
const ReasonNoMatch = "no matching permission found"

// AuthorizationResult is the decision for one request.
type AuthorizationResult struct {
	Allowed     bool           `json:"allowed"`
	Reason      string         `json:"reason"`
	DecidedBy   string         `json:"decided_by,omitempty"` // permission, policy or wildcard id
	Source      DecisionSource `json:"source"`
	MatchingIDs []string       `json:"matching_ids,omitempty"`
	DenyingIDs  []string       `json:"denying_ids,omitempty"`
	Duration    time.Duration  `json:"duration"`
}

// Grants is the resolved access material of one user in one tenant.
type Grants struct {
	PermissionIDs []string `json:"permissions"`
	RoleIDs       []string `json:"roles"`
}

// HasWildcard reports whether the grants include the universal permission.
func (g Grants) HasWildcard() bool {
	return slices.Contains(g.PermissionIDs, Wildcard)
}
