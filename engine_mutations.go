package authcore

import "context"

// Mutations pass through the engine so affected cached permission sets are
// dropped and an audit event is emitted. Registry results are returned
// unchanged, including the (nil, nil) and (false, nil) not-found forms.

func (e *Engine) record(ctx context.Context, typ AuditEventType, tenantID, entityType, entityID string, prev, next any) {
	e.audit.emit(AuditEvent{
		Type:          typ,
		Timestamp:     e.now(),
		ActorID:       ActorFromContext(ctx),
		TenantID:      tenantID,
		EntityType:    entityType,
		EntityID:      entityID,
		PreviousState: prev,
		NewState:      next,
	})
}

// ============================================================================
// PERMISSIONS
// ============================================================================

func (e *Engine) CreatePermission(ctx context.Context, p *Permission) (*Permission, error) {
	created, err := e.permissions.Create(ctx, p)
	if err != nil {
		return nil, err
	}
	e.invalidatePermission(ctx, created.TenantID, created.ID)
	e.record(ctx, AuditPermissionCreated, created.TenantID, "permission", created.ID, nil, created)
	return created, nil
}

func (e *Engine) GetPermission(ctx context.Context, tenantID, id string) (*Permission, bool, error) {
	return e.permissions.Get(ctx, tenantID, id)
}

func (e *Engine) ListPermissions(ctx context.Context, tenantID string) ([]*Permission, error) {
	return e.permissions.List(ctx, tenantID)
}

func (e *Engine) UpdatePermission(ctx context.Context, tenantID, id string, patch PermissionPatch) (*Permission, error) {
	prev, ok, err := e.permissions.Get(ctx, tenantID, id)
	if err != nil || !ok {
		return nil, err
	}
	updated, err := e.permissions.Update(ctx, tenantID, id, patch)
	if err != nil || updated == nil {
		return updated, err
	}
	e.invalidatePermission(ctx, updated.TenantID, updated.ID)
	e.record(ctx, AuditPermissionUpdated, updated.TenantID, "permission", updated.ID, prev, updated)
	return updated, nil
}

func (e *Engine) DeletePermission(ctx context.Context, tenantID, id string) (bool, error) {
	tenantID = normalizeTenant(tenantID)
	prev, ok, err := e.permissions.Get(ctx, tenantID, id)
	if err != nil || !ok {
		return false, err
	}
	e.invalidatePermission(ctx, tenantID, id)
	deleted, err := e.permissions.Delete(ctx, tenantID, id)
	if err != nil || !deleted {
		return deleted, err
	}
	e.record(ctx, AuditPermissionDeleted, tenantID, "permission", id, prev, nil)
	changes, err := e.roles.detachPermission(ctx, tenantID, id)
	if err != nil {
		e.log.Error("detaching deleted permission from roles failed", "permission", id, "err", err)
	}
	for _, c := range changes {
		e.record(ctx, AuditRoleUpdated, c.next.TenantID, "role", c.next.ID, c.prev, c.next)
	}
	return true, nil
}

func (e *Engine) invalidatePermission(ctx context.Context, tenantID, permissionID string) {
	roles, err := e.roles.RolesWithPermission(ctx, tenantID, permissionID)
	if err != nil {
		e.log.Error("cache invalidation lookup failed", "permission", permissionID, "err", err)
		return
	}
	if len(roles) > 0 {
		e.invalidateRoles(ctx, tenantID, roles...)
	}
}

// ============================================================================
// ROLES
// ============================================================================

func (e *Engine) CreateRole(ctx context.Context, r *Role) (*Role, error) {
	created, err := e.roles.Create(ctx, r)
	if err != nil {
		return nil, err
	}
	e.invalidateRoles(ctx, created.TenantID, created.ID)
	e.record(ctx, AuditRoleCreated, created.TenantID, "role", created.ID, nil, created)
	return created, nil
}

func (e *Engine) GetRole(ctx context.Context, tenantID, id string) (*Role, bool, error) {
	return e.roles.Get(ctx, tenantID, id)
}

func (e *Engine) ListRoles(ctx context.Context, tenantID string) ([]*Role, error) {
	return e.roles.List(ctx, tenantID)
}

func (e *Engine) UpdateRole(ctx context.Context, tenantID, id string, patch RolePatch) (*Role, error) {
	prev, ok, err := e.roles.Get(ctx, tenantID, id)
	if err != nil || !ok {
		return nil, err
	}
	updated, err := e.roles.Update(ctx, tenantID, id, patch)
	if err != nil || updated == nil {
		return updated, err
	}
	e.invalidateRoles(ctx, updated.TenantID, updated.ID)
	e.record(ctx, AuditRoleUpdated, updated.TenantID, "role", updated.ID, prev, updated)
	return updated, nil
}

// DeleteRole removes a role together with its assignments.
func (e *Engine) DeleteRole(ctx context.Context, tenantID, id string) (bool, error) {
	tenantID = normalizeTenant(tenantID)
	prev, ok, err := e.roles.Get(ctx, tenantID, id)
	if err != nil || !ok {
		return false, err
	}
	if prev.IsSystem {
		return false, ErrProtectedRole.WithMessagef("role %q is a system role and cannot be deleted", id)
	}
	// affected users must be collected while the assignments still exist
	users, err := e.roles.affectedUsers(ctx, tenantID, []string{id})
	if err != nil {
		return false, err
	}
	deleted, err := e.roles.Delete(ctx, tenantID, id)
	if err != nil || !deleted {
		return deleted, err
	}
	e.invalidate(ctx, users)
	e.record(ctx, AuditRoleDeleted, tenantID, "role", id, prev, nil)
	return true, nil
}

func (e *Engine) AddPermissionToRole(ctx context.Context, tenantID, roleID, permissionID string) (*Role, error) {
	prev, ok, err := e.roles.Get(ctx, tenantID, roleID)
	if err != nil || !ok {
		return nil, err
	}
	updated, err := e.roles.AddPermission(ctx, tenantID, roleID, permissionID)
	if err != nil || updated == nil {
		return updated, err
	}
	e.invalidateRoles(ctx, updated.TenantID, updated.ID)
	e.record(ctx, AuditRoleUpdated, updated.TenantID, "role", updated.ID, prev, updated)
	return updated, nil
}

func (e *Engine) RemovePermissionFromRole(ctx context.Context, tenantID, roleID, permissionID string) (*Role, error) {
	prev, ok, err := e.roles.Get(ctx, tenantID, roleID)
	if err != nil || !ok {
		return nil, err
	}
	updated, err := e.roles.RemovePermission(ctx, tenantID, roleID, permissionID)
	if err != nil || updated == nil {
		return updated, err
	}
	e.invalidateRoles(ctx, updated.TenantID, updated.ID)
	e.record(ctx, AuditRoleUpdated, updated.TenantID, "role", updated.ID, prev, updated)
	return updated, nil
}

func (e *Engine) GetEffectivePermissions(ctx context.Context, tenantID, roleID string) ([]string, error) {
	return e.roles.EffectivePermissions(ctx, tenantID, roleID)
}

// ============================================================================
// ASSIGNMENTS
// ============================================================================

// AssignRole grants a role to a user. AssignedBy defaults to the actor
// carried by ctx.
func (e *Engine) AssignRole(ctx context.Context, req AssignmentRequest) (*UserRoleAssignment, error) {
	if req.AssignedBy == "" {
		req.AssignedBy = ActorFromContext(ctx)
	}
	a, err := e.roles.AssignRole(ctx, req)
	if err != nil || a == nil {
		return a, err
	}
	e.invalidate(ctx, []tenantUser{{tenant: a.TenantID, user: a.UserID}})
	e.record(ctx, AuditRoleAssigned, a.TenantID, "assignment", a.UserID, nil, a)
	return a, nil
}

func (e *Engine) UnassignRole(ctx context.Context, tenantID, userID, roleID string) (bool, error) {
	tenantID = normalizeTenant(tenantID)
	ok, err := e.roles.UnassignRole(ctx, tenantID, userID, roleID)
	if err != nil || !ok {
		return ok, err
	}
	e.invalidate(ctx, []tenantUser{{tenant: tenantID, user: userID}})
	e.record(ctx, AuditRoleUnassigned, tenantID, "assignment", userID, map[string]any{"role_id": roleID}, nil)
	return true, nil
}

func (e *Engine) GetUserRoles(ctx context.Context, tenantID, userID string) ([]*UserRoleAssignment, error) {
	return e.roles.GetUserRoles(ctx, tenantID, userID)
}

func (e *Engine) GetUsersWithRole(ctx context.Context, tenantID, roleID string) ([]*UserRoleAssignment, error) {
	return e.roles.GetUsersWithRole(ctx, tenantID, roleID)
}

func (e *Engine) UserHasRole(ctx context.Context, tenantID, userID, roleID string, scope ...string) (bool, error) {
	return e.roles.UserHasRole(ctx, tenantID, userID, roleID, scope...)
}

// ============================================================================
// POLICIES
// ============================================================================

// Policies are evaluated live on every request, so policy mutations need
// no cache invalidation.

func (e *Engine) CreatePolicy(ctx context.Context, p *Policy) (*Policy, error) {
	created, err := e.policies.Create(ctx, p)
	if err != nil {
		return nil, err
	}
	e.record(ctx, AuditPolicyCreated, created.TenantID, "policy", created.ID, nil, created)
	return created, nil
}

func (e *Engine) GetPolicy(ctx context.Context, tenantID, id string) (*Policy, bool, error) {
	return e.policies.Get(ctx, tenantID, id)
}

func (e *Engine) ListPolicies(ctx context.Context, tenantID string) ([]*Policy, error) {
	return e.policies.List(ctx, tenantID)
}

func (e *Engine) UpdatePolicy(ctx context.Context, tenantID, id string, patch PolicyPatch) (*Policy, error) {
	prev, ok, err := e.policies.Get(ctx, tenantID, id)
	if err != nil || !ok {
		return nil, err
	}
	updated, err := e.policies.Update(ctx, tenantID, id, patch)
	if err != nil || updated == nil {
		return updated, err
	}
	e.record(ctx, AuditPolicyUpdated, updated.TenantID, "policy", updated.ID, prev, updated)
	return updated, nil
}

func (e *Engine) DeletePolicy(ctx context.Context, tenantID, id string) (bool, error) {
	tenantID = normalizeTenant(tenantID)
	prev, ok, err := e.policies.Get(ctx, tenantID, id)
	if err != nil || !ok {
		return false, err
	}
	deleted, err := e.policies.Delete(ctx, tenantID, id)
	if err != nil || !deleted {
		return deleted, err
	}
	e.record(ctx, AuditPolicyDeleted, tenantID, "policy", id, prev, nil)
	return true, nil
}

func (e *Engine) ActivatePolicy(ctx context.Context, tenantID, id string) (*Policy, error) {
	active := true
	return e.UpdatePolicy(ctx, tenantID, id, PolicyPatch{Active: &active})
}

func (e *Engine) DeactivatePolicy(ctx context.Context, tenantID, id string) (*Policy, error) {
	active := false
	return e.UpdatePolicy(ctx, tenantID, id, PolicyPatch{Active: &active})
}
