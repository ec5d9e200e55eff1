package authcore

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultMaxRoleDepth bounds inheritance walks when no depth is configured.
const DefaultMaxRoleDepth = 10

// RoleRegistry owns roles, their inheritance edges and user assignments.
type RoleRegistry struct {
	roles       RoleStore
	assignments AssignmentStore
	permissions *PermissionRegistry
	maxDepth    int
	now         func() time.Time

	// assignMu serializes the assignment-limit check with the write.
	assignMu sync.Mutex
}

func NewRoleRegistry(roles RoleStore, assignments AssignmentStore, permissions *PermissionRegistry, maxDepth int, clock func() time.Time) *RoleRegistry {
	if roles == nil || assignments == nil {
		mem := NewMemoryStore()
		if roles == nil {
			roles = mem
		}
		if assignments == nil {
			assignments = mem
		}
	}
	if clock == nil {
		clock = time.Now
	}
	if permissions == nil {
		permissions = NewPermissionRegistry(nil, clock)
	}
	if maxDepth < 0 {
		maxDepth = DefaultMaxRoleDepth
	}
	return &RoleRegistry{
		roles:       roles,
		assignments: assignments,
		permissions: permissions,
		maxDepth:    maxDepth,
		now:         clock,
	}
}

// MaxDepth is the number of parent edges an inheritance walk may follow.
func (r *RoleRegistry) MaxDepth() int { return r.maxDepth }

// checkPermissionIDs verifies every id names a permission visible from the
// role's tenant. The wildcard is always accepted.
func (r *RoleRegistry) checkPermissionIDs(ctx context.Context, tenantID string, ids []string) error {
	for _, id := range ids {
		if id == Wildcard {
			continue
		}
		_, ok, err := r.permissions.Resolve(ctx, tenantID, id)
		if err != nil {
			return err
		}
		if !ok {
			return ErrValidationFailed.WithMessagef("role: unknown permission %q", id)
		}
	}
	return nil
}

// prepareRole validates role. Only permission ids absent from stored are
// checked, so a role already holding an id is never rejected for it.
func (r *RoleRegistry) prepareRole(ctx context.Context, role *Role, stored []string) error {
	if err := validateStruct("role", role); err != nil {
		return err
	}
	role.Permissions = dedupe(role.Permissions)
	role.ParentRoles = dedupe(role.ParentRoles)
	if slices.Contains(role.ParentRoles, role.ID) {
		return ErrValidationFailed.WithMessagef("role %q cannot inherit from itself", role.ID)
	}
	added := make([]string, 0, len(role.Permissions))
	for _, id := range role.Permissions {
		if !slices.Contains(stored, id) {
			added = append(added, id)
		}
	}
	return r.checkPermissionIDs(ctx, role.TenantID, added)
}

// Create stores a new role. Parent roles may reference roles that do not
// exist yet; unknown parents are skipped during inheritance walks.
func (r *RoleRegistry) Create(ctx context.Context, role *Role) (*Role, error) {
	if role == nil {
		return nil, ErrValidationFailed.WithMessage("role is required")
	}
	role = role.Clone()
	role.TenantID = normalizeTenant(role.TenantID)
	if role.ID == "" {
		role.ID = uuid.NewString()
	}
	if role.Permissions == nil {
		role.Permissions = []string{}
	}
	if err := r.prepareRole(ctx, role, nil); err != nil {
		return nil, err
	}
	now := r.now()
	role.CreatedAt, role.UpdatedAt = now, now
	if err := r.roles.InsertRole(ctx, role); err != nil {
		return nil, storeErr(err)
	}
	return role, nil
}

func (r *RoleRegistry) Get(ctx context.Context, tenantID, id string) (*Role, bool, error) {
	role, ok, err := r.roles.GetRole(ctx, normalizeTenant(tenantID), id)
	return role, ok, storeErr(err)
}

// Resolve looks id up in the tenant first and then in the global scope.
func (r *RoleRegistry) Resolve(ctx context.Context, tenantID, id string) (*Role, bool, error) {
	tenantID = normalizeTenant(tenantID)
	role, ok, err := r.roles.GetRole(ctx, tenantID, id)
	if err != nil || ok || tenantID == GlobalTenant {
		return role, ok, storeErr(err)
	}
	role, ok, err = r.roles.GetRole(ctx, GlobalTenant, id)
	return role, ok, storeErr(err)
}

func (r *RoleRegistry) List(ctx context.Context, tenantID string) ([]*Role, error) {
	if tenantID != AnyTenant {
		tenantID = normalizeTenant(tenantID)
	}
	roles, err := r.roles.ListRoles(ctx, tenantID)
	return roles, storeErr(err)
}

// Update merges patch into the stored role, returning (nil, nil) when the
// role does not exist.
func (r *RoleRegistry) Update(ctx context.Context, tenantID, id string, patch RolePatch) (*Role, error) {
	cur, ok, err := r.Get(ctx, tenantID, id)
	if err != nil || !ok {
		return nil, err
	}
	next := cur.Clone()
	patch.apply(next)
	next.ID, next.TenantID, next.CreatedAt, next.IsSystem = cur.ID, cur.TenantID, cur.CreatedAt, cur.IsSystem
	return r.save(ctx, next, cur.Permissions)
}

func (r *RoleRegistry) save(ctx context.Context, role *Role, stored []string) (*Role, error) {
	if err := r.prepareRole(ctx, role, stored); err != nil {
		return nil, err
	}
	role.UpdatedAt = r.now()
	if err := r.roles.SaveRole(ctx, role); err != nil {
		return nil, storeErr(err)
	}
	return role, nil
}

// Delete removes a role and its assignments. System roles are protected.
func (r *RoleRegistry) Delete(ctx context.Context, tenantID, id string) (bool, error) {
	tenantID = normalizeTenant(tenantID)
	role, ok, err := r.Get(ctx, tenantID, id)
	if err != nil || !ok {
		return false, err
	}
	if role.IsSystem {
		return false, ErrProtectedRole.WithMessagef("role %q is a system role and cannot be deleted", id)
	}
	assigned, err := r.assignments.ListRoleAssignments(ctx, assignmentScope(tenantID), id)
	if err != nil {
		return false, storeErr(err)
	}
	shadowed := make(map[string]bool)
	for _, a := range assigned {
		if a.TenantID != tenantID {
			// a tenant role with the same id owns this assignment
			own, seen := shadowed[a.TenantID]
			if !seen {
				_, own, err = r.roles.GetRole(ctx, a.TenantID, id)
				if err != nil {
					return false, storeErr(err)
				}
				shadowed[a.TenantID] = own
			}
			if own {
				continue
			}
		}
		if _, err := r.assignments.DeleteAssignment(ctx, a.TenantID, a.UserID, a.RoleID); err != nil {
			return false, storeErr(err)
		}
	}
	deleted, err := r.roles.DeleteRole(ctx, tenantID, id)
	return deleted, storeErr(err)
}

// AddPermission appends permissionID to the role when not already present.
func (r *RoleRegistry) AddPermission(ctx context.Context, tenantID, roleID, permissionID string) (*Role, error) {
	role, ok, err := r.Get(ctx, tenantID, roleID)
	if err != nil || !ok {
		return nil, err
	}
	if slices.Contains(role.Permissions, permissionID) {
		return role, nil
	}
	stored := slices.Clone(role.Permissions)
	role.Permissions = append(role.Permissions, permissionID)
	return r.save(ctx, role, stored)
}

// RemovePermission drops permissionID from the role's own set.
func (r *RoleRegistry) RemovePermission(ctx context.Context, tenantID, roleID, permissionID string) (*Role, error) {
	role, ok, err := r.Get(ctx, tenantID, roleID)
	if err != nil || !ok {
		return nil, err
	}
	idx := slices.Index(role.Permissions, permissionID)
	if idx < 0 {
		return role, nil
	}
	stored := slices.Clone(role.Permissions)
	role.Permissions = slices.Delete(role.Permissions, idx, idx+1)
	return r.save(ctx, role, stored)
}

// EffectivePermissions returns the role's own permission ids followed by
// those inherited from ancestors reachable within MaxDepth edges.
func (r *RoleRegistry) EffectivePermissions(ctx context.Context, tenantID, roleID string) ([]string, error) {
	perms, _, err := r.walk(ctx, normalizeTenant(tenantID), roleID)
	return perms, err
}

// walk visits roleID and its ancestors breadth first. Each role is visited
// at most once, so cycles terminate, and no role further than maxDepth
// edges from the start is expanded.
func (r *RoleRegistry) walk(ctx context.Context, tenantID, roleID string) (perms, roles []string, err error) {
	type hop struct {
		id    string
		depth int
	}
	seenPerm := make(map[string]struct{})
	visited := map[string]struct{}{roleID: {}}
	queue := []hop{{id: roleID}}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		role, ok, err := r.Resolve(ctx, tenantID, cur.id)
		if err != nil {
			return nil, nil, err
		}
		if !ok {
			continue
		}
		roles = append(roles, role.ID)
		for _, p := range role.Permissions {
			if _, dup := seenPerm[p]; !dup {
				seenPerm[p] = struct{}{}
				perms = append(perms, p)
			}
		}
		if cur.depth >= r.maxDepth {
			continue
		}
		for _, parent := range role.ParentRoles {
			if _, seen := visited[parent]; seen {
				continue
			}
			visited[parent] = struct{}{}
			queue = append(queue, hop{id: parent, depth: cur.depth + 1})
		}
	}
	return perms, roles, nil
}

// ============================================================================
// ASSIGNMENTS
// ============================================================================

// AssignRole grants a role to a user. It returns (nil, nil) when the role
// does not exist, and ErrAssignmentLimit when the role already has
// MaxAssignments other active assignees in the tenant. Re-assigning
// replaces the previous assignment.
func (r *RoleRegistry) AssignRole(ctx context.Context, req AssignmentRequest) (*UserRoleAssignment, error) {
	if err := validateStruct("assignment", &req); err != nil {
		return nil, err
	}
	req.TenantID = normalizeTenant(req.TenantID)
	role, ok, err := r.Resolve(ctx, req.TenantID, req.RoleID)
	if err != nil || !ok {
		return nil, err
	}

	r.assignMu.Lock()
	defer r.assignMu.Unlock()

	now := r.now()
	if role.MaxAssignments > 0 {
		current, err := r.assignments.ListRoleAssignments(ctx, req.TenantID, req.RoleID)
		if err != nil {
			return nil, storeErr(err)
		}
		active := 0
		for _, a := range current {
			if a.UserID != req.UserID && !a.Expired(now) {
				active++
			}
		}
		if active >= role.MaxAssignments {
			return nil, ErrAssignmentLimit.WithMessagef("role %q allows at most %d assignments", role.ID, role.MaxAssignments)
		}
	}

	a := &UserRoleAssignment{
		UserID:     req.UserID,
		RoleID:     req.RoleID,
		TenantID:   req.TenantID,
		Scope:      req.Scope,
		ExpiresAt:  req.ExpiresAt,
		AssignedBy: req.AssignedBy,
		AssignedAt: now,
	}
	if err := r.assignments.SaveAssignment(ctx, a); err != nil {
		return nil, storeErr(err)
	}
	return a, nil
}

func (r *RoleRegistry) UnassignRole(ctx context.Context, tenantID, userID, roleID string) (bool, error) {
	ok, err := r.assignments.DeleteAssignment(ctx, normalizeTenant(tenantID), userID, roleID)
	return ok, storeErr(err)
}

// GetUserRoles returns the user's non-expired assignments in the tenant.
func (r *RoleRegistry) GetUserRoles(ctx context.Context, tenantID, userID string) ([]*UserRoleAssignment, error) {
	all, err := r.assignments.ListUserAssignments(ctx, normalizeTenant(tenantID), userID)
	if err != nil {
		return nil, storeErr(err)
	}
	return r.active(all), nil
}

// GetUsersWithRole returns the role's non-expired assignments in the tenant.
func (r *RoleRegistry) GetUsersWithRole(ctx context.Context, tenantID, roleID string) ([]*UserRoleAssignment, error) {
	all, err := r.assignments.ListRoleAssignments(ctx, normalizeTenant(tenantID), roleID)
	if err != nil {
		return nil, storeErr(err)
	}
	return r.active(all), nil
}

// UserHasRole reports whether the user holds the role directly. With a
// scope, an assignment matches when it has that scope or no scope at all.
func (r *RoleRegistry) UserHasRole(ctx context.Context, tenantID, userID, roleID string, scope ...string) (bool, error) {
	assigned, err := r.GetUserRoles(ctx, tenantID, userID)
	if err != nil {
		return false, err
	}
	want := ""
	if len(scope) > 0 {
		want = scope[0]
	}
	for _, a := range assigned {
		if a.RoleID != roleID {
			continue
		}
		if want == "" || a.Scope == "" || a.Scope == want {
			return true, nil
		}
	}
	return false, nil
}

func (r *RoleRegistry) active(all []*UserRoleAssignment) []*UserRoleAssignment {
	now := r.now()
	out := make([]*UserRoleAssignment, 0, len(all))
	for _, a := range all {
		if !a.Expired(now) {
			out = append(out, a)
		}
	}
	return out
}

// GetUserEffectivePermissions unions the effective permissions of every
// non-expired role assigned to the user in the tenant.
func (r *RoleRegistry) GetUserEffectivePermissions(ctx context.Context, tenantID, userID string) ([]string, error) {
	g, _, err := r.userGrants(ctx, normalizeTenant(tenantID), userID)
	return g.PermissionIDs, err
}

// userGrants resolves the user's permission and role ids along with the
// earliest expiry among the assignments used. A zero expiry means none of
// them expire.
func (r *RoleRegistry) userGrants(ctx context.Context, tenantID, userID string) (Grants, time.Time, error) {
	g := Grants{PermissionIDs: []string{}, RoleIDs: []string{}}
	var earliest time.Time
	assigned, err := r.GetUserRoles(ctx, tenantID, userID)
	if err != nil {
		return g, earliest, err
	}
	seenPerm := make(map[string]struct{})
	seenRole := make(map[string]struct{})
	for _, a := range assigned {
		if !a.ExpiresAt.IsZero() && (earliest.IsZero() || a.ExpiresAt.Before(earliest)) {
			earliest = a.ExpiresAt
		}
		perms, roles, err := r.walk(ctx, tenantID, a.RoleID)
		if err != nil {
			return g, earliest, err
		}
		for _, p := range perms {
			if _, dup := seenPerm[p]; !dup {
				seenPerm[p] = struct{}{}
				g.PermissionIDs = append(g.PermissionIDs, p)
			}
		}
		for _, id := range roles {
			if _, dup := seenRole[id]; !dup {
				seenRole[id] = struct{}{}
				g.RoleIDs = append(g.RoleIDs, id)
			}
		}
	}
	return g, earliest, nil
}

// ============================================================================
// IMPACT ANALYSIS
// ============================================================================

// roleChange pairs a role before and after an engine-driven edit.
type roleChange struct {
	prev, next *Role
}

// detachPermission drops permissionID from every role in scope that can no
// longer resolve it. A tenant role keeps the id when its tenant still defines
// a permission with that id.
func (r *RoleRegistry) detachPermission(ctx context.Context, tenantID, permissionID string) ([]roleChange, error) {
	roles, err := r.roles.ListRoles(ctx, assignmentScope(normalizeTenant(tenantID)))
	if err != nil {
		return nil, storeErr(err)
	}
	var out []roleChange
	for _, role := range roles {
		idx := slices.Index(role.Permissions, permissionID)
		if idx < 0 {
			continue
		}
		if _, ok, err := r.permissions.Resolve(ctx, role.TenantID, permissionID); err != nil {
			return out, err
		} else if ok {
			continue
		}
		next := role.Clone()
		next.Permissions = slices.Delete(next.Permissions, idx, idx+1)
		next.UpdatedAt = r.now()
		if err := r.roles.SaveRole(ctx, next); err != nil {
			return out, storeErr(err)
		}
		out = append(out, roleChange{prev: role, next: next})
	}
	return out, nil
}

// tenantUser identifies one cached permission set.
type tenantUser struct {
	tenant string
	user   string
}

// RolesWithPermission returns ids of roles in the tenant (or every tenant
// for the global scope) that list permissionID directly.
func (r *RoleRegistry) RolesWithPermission(ctx context.Context, tenantID, permissionID string) ([]string, error) {
	roles, err := r.roles.ListRoles(ctx, assignmentScope(normalizeTenant(tenantID)))
	if err != nil {
		return nil, storeErr(err)
	}
	var out []string
	for _, role := range roles {
		if slices.Contains(role.Permissions, permissionID) {
			out = append(out, role.ID)
		}
	}
	return dedupe(out), nil
}

// dependentRoles returns seeds plus every role that inherits from one of
// them, directly or transitively.
func (r *RoleRegistry) dependentRoles(ctx context.Context, seeds []string) ([]string, error) {
	if len(seeds) == 0 {
		return nil, nil
	}
	roles, err := r.roles.ListRoles(ctx, AnyTenant)
	if err != nil {
		return nil, storeErr(err)
	}
	children := make(map[string][]string)
	for _, role := range roles {
		for _, parent := range role.ParentRoles {
			children[parent] = append(children[parent], role.ID)
		}
	}
	seen := make(map[string]struct{}, len(seeds))
	out := make([]string, 0, len(seeds))
	queue := slices.Clone(seeds)
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
		queue = append(queue, children[id]...)
	}
	return out, nil
}

// affectedUsers lists the (tenant, user) pairs whose cached grants depend on
// any of roleIDs. Global changes span every tenant.
func (r *RoleRegistry) affectedUsers(ctx context.Context, tenantID string, roleIDs []string) ([]tenantUser, error) {
	roles, err := r.dependentRoles(ctx, roleIDs)
	if err != nil {
		return nil, err
	}
	seen := make(map[tenantUser]struct{})
	var out []tenantUser
	for _, roleID := range roles {
		assigned, err := r.assignments.ListRoleAssignments(ctx, assignmentScope(tenantID), roleID)
		if err != nil {
			return nil, storeErr(err)
		}
		for _, a := range assigned {
			tu := tenantUser{tenant: a.TenantID, user: a.UserID}
			if _, ok := seen[tu]; !ok {
				seen[tu] = struct{}{}
				out = append(out, tu)
			}
		}
	}
	return out, nil
}

// assignmentScope widens the global tenant to every tenant, since global
// roles can be assigned anywhere.
func assignmentScope(tenantID string) string {
	if tenantID == GlobalTenant {
		return AnyTenant
	}
	return tenantID
}

func dedupe(ids []string) []string {
	if ids == nil {
		return nil
	}
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
