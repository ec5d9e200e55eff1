package authcore

import "context"

// Storage ports. Registries own validation and matching; stores only keep
// rows keyed by (tenant, id). Implementations must make Insert atomic with
// respect to its uniqueness check and return ErrConflict on a duplicate key.
// Get and Delete report absence through their bool result, never an error.
//
// List methods match the tenant exactly; AnyTenant spans every tenant.

type PermissionStore interface {
	InsertPermission(ctx context.Context, p *Permission) error
	GetPermission(ctx context.Context, tenantID, id string) (*Permission, bool, error)
	ListPermissions(ctx context.Context, tenantID string) ([]*Permission, error)
	SavePermission(ctx context.Context, p *Permission) error
	DeletePermission(ctx context.Context, tenantID, id string) (bool, error)
}

type RoleStore interface {
	InsertRole(ctx context.Context, r *Role) error
	GetRole(ctx context.Context, tenantID, id string) (*Role, bool, error)
	ListRoles(ctx context.Context, tenantID string) ([]*Role, error)
	SaveRole(ctx context.Context, r *Role) error
	DeleteRole(ctx context.Context, tenantID, id string) (bool, error)
}

type PolicyStore interface {
	InsertPolicy(ctx context.Context, p *Policy) error
	GetPolicy(ctx context.Context, tenantID, id string) (*Policy, bool, error)
	ListPolicies(ctx context.Context, tenantID string) ([]*Policy, error)
	SavePolicy(ctx context.Context, p *Policy) error
	DeletePolicy(ctx context.Context, tenantID, id string) (bool, error)
}

// AssignmentStore keeps user-role assignments keyed by (tenant, user, role).
type AssignmentStore interface {
	// SaveAssignment inserts or replaces the assignment.
	SaveAssignment(ctx context.Context, a *UserRoleAssignment) error
	DeleteAssignment(ctx context.Context, tenantID, userID, roleID string) (bool, error)
	ListUserAssignments(ctx context.Context, tenantID, userID string) ([]*UserRoleAssignment, error)
	ListRoleAssignments(ctx context.Context, tenantID, roleID string) ([]*UserRoleAssignment, error)
}

// Stores bundles the four storage ports an Engine is built on.
type Stores struct {
	Permissions PermissionStore
	Roles       RoleStore
	Policies    PolicyStore
	Assignments AssignmentStore
}

// withDefaults fills unset ports from an in-memory store.
func (s Stores) withDefaults() Stores {
	var mem *MemoryStore
	lazy := func() *MemoryStore {
		if mem == nil {
			mem = NewMemoryStore()
		}
		return mem
	}
	if s.Permissions == nil {
		s.Permissions = lazy()
	}
	if s.Roles == nil {
		s.Roles = lazy()
	}
	if s.Policies == nil {
		s.Policies = lazy()
	}
	if s.Assignments == nil {
		s.Assignments = lazy()
	}
	return s
}
