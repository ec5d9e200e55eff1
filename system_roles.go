package authcore

import "context"

// Built-in role ids.
const (
	RoleSuperAdmin = "super-admin"
	RoleAdmin      = "admin"
	RoleUser       = "user"
	RoleGuest      = "guest"
)

// systemRoles lists the built-in roles parents first, so inheritance
// resolves as soon as each one is created.
func systemRoles() []*Role {
	return []*Role{
		{ID: RoleGuest, Name: "Guest", Description: "Unauthenticated or minimal access", Permissions: []string{}},
		{ID: RoleUser, Name: "User", Description: "Standard user", Permissions: []string{}, ParentRoles: []string{RoleGuest}},
		{ID: RoleAdmin, Name: "Administrator", Description: "Tenant administrator", Permissions: []string{}, ParentRoles: []string{RoleUser}},
		{ID: RoleSuperAdmin, Name: "Super Administrator", Description: "Unrestricted access", Permissions: []string{Wildcard}},
	}
}

// InitializeSystemRoles creates the built-in roles in tenantID (global when
// empty). Roles that already exist are left untouched, so the call is
// idempotent. It returns the roles created by this call.
func (e *Engine) InitializeSystemRoles(ctx context.Context, tenantID string) ([]*Role, error) {
	tenantID = normalizeTenant(tenantID)
	var created []*Role
	for _, def := range systemRoles() {
		_, exists, err := e.roles.Get(ctx, tenantID, def.ID)
		if err != nil {
			return created, err
		}
		if exists {
			continue
		}
		def.TenantID = tenantID
		def.IsSystem = true
		r, err := e.CreateRole(ctx, def)
		if err != nil {
			return created, err
		}
		created = append(created, r)
	}
	e.log.Info("system roles initialized", "tenant", tenantID, "created", len(created))
	return created, nil
}
