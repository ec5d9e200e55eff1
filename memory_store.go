package authcore

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"
)

// ============================================================================
// IN-MEMORY STORES
// ============================================================================

type tenantKey struct {
	tenant string
	id     string
}

// memoryTable is a tenant-keyed map guarded by one lock. Values are cloned
// on the way in and out so callers never share state with the table.
type memoryTable[T any] struct {
	mu      sync.RWMutex
	rows    map[tenantKey]*T
	clone   func(*T) *T
	created func(*T) time.Time
	ident   func(*T) tenantKey
}

func newMemoryTable[T any](clone func(*T) *T, ident func(*T) tenantKey, created func(*T) time.Time) *memoryTable[T] {
	return &memoryTable[T]{
		rows:    make(map[tenantKey]*T),
		clone:   clone,
		ident:   ident,
		created: created,
	}
}

func (t *memoryTable[T]) insert(v *T) error {
	k := t.ident(v)
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.rows[k]; exists {
		return ErrConflict.WithMessagef("%q already exists in tenant %q", k.id, k.tenant)
	}
	t.rows[k] = t.clone(v)
	return nil
}

func (t *memoryTable[T]) save(v *T) {
	k := t.ident(v)
	t.mu.Lock()
	t.rows[k] = t.clone(v)
	t.mu.Unlock()
}

func (t *memoryTable[T]) get(tenant, id string) (*T, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	v, ok := t.rows[tenantKey{tenant: tenant, id: id}]
	if !ok {
		return nil, false
	}
	return t.clone(v), true
}

func (t *memoryTable[T]) delete(tenant, id string) bool {
	k := tenantKey{tenant: tenant, id: id}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.rows[k]; !ok {
		return false
	}
	delete(t.rows, k)
	return true
}

// list returns rows of the tenant ordered by creation time then id.
func (t *memoryTable[T]) list(tenant string, keep func(*T) bool) []*T {
	t.mu.RLock()
	out := make([]*T, 0, len(t.rows))
	for k, v := range t.rows {
		if tenant != AnyTenant && k.tenant != tenant {
			continue
		}
		if keep != nil && !keep(v) {
			continue
		}
		out = append(out, t.clone(v))
	}
	t.mu.RUnlock()
	slices.SortFunc(out, func(a, b *T) int {
		if c := t.created(a).Compare(t.created(b)); c != 0 {
			return c
		}
		ka, kb := t.ident(a), t.ident(b)
		if c := strings.Compare(ka.tenant, kb.tenant); c != 0 {
			return c
		}
		return strings.Compare(ka.id, kb.id)
	})
	return out
}

// MemoryStore implements every storage port in process memory. It is the
// default backend of an Engine.
type MemoryStore struct {
	permissions *memoryTable[Permission]
	roles       *memoryTable[Role]
	policies    *memoryTable[Policy]
	assignments *memoryTable[UserRoleAssignment]
}

var (
	_ PermissionStore = (*MemoryStore)(nil)
	_ RoleStore       = (*MemoryStore)(nil)
	_ PolicyStore     = (*MemoryStore)(nil)
	_ AssignmentStore = (*MemoryStore)(nil)
)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		permissions: newMemoryTable(
			func(p *Permission) *Permission {
				dup := p.Clone()
				// compiled predicates are immutable and safe to share
				dup.predicates, dup.compiled = p.predicates, p.compiled
				return dup
			},
			func(p *Permission) tenantKey { return tenantKey{p.TenantID, p.ID} },
			func(p *Permission) time.Time { return p.CreatedAt },
		),
		roles: newMemoryTable(
			(*Role).Clone,
			func(r *Role) tenantKey { return tenantKey{r.TenantID, r.ID} },
			func(r *Role) time.Time { return r.CreatedAt },
		),
		policies: newMemoryTable(
			func(p *Policy) *Policy {
				dup := p.Clone()
				for i := range p.Statements {
					dup.Statements[i].predicates = p.Statements[i].predicates
					dup.Statements[i].compiled = p.Statements[i].compiled
				}
				return dup
			},
			func(p *Policy) tenantKey { return tenantKey{p.TenantID, p.ID} },
			func(p *Policy) time.Time { return p.CreatedAt },
		),
		assignments: newMemoryTable(
			(*UserRoleAssignment).Clone,
			func(a *UserRoleAssignment) tenantKey { return tenantKey{a.TenantID, assignmentKey(a.UserID, a.RoleID)} },
			func(a *UserRoleAssignment) time.Time { return a.AssignedAt },
		),
	}
}

// assignmentKey joins user and role with a byte that cannot appear in
// either id as typed by a human.
func assignmentKey(userID, roleID string) string {
	return userID + "\x00" + roleID
}

func (m *MemoryStore) InsertPermission(_ context.Context, p *Permission) error {
	return m.permissions.insert(p)
}

func (m *MemoryStore) GetPermission(_ context.Context, tenantID, id string) (*Permission, bool, error) {
	p, ok := m.permissions.get(tenantID, id)
	return p, ok, nil
}

func (m *MemoryStore) ListPermissions(_ context.Context, tenantID string) ([]*Permission, error) {
	return m.permissions.list(tenantID, nil), nil
}

func (m *MemoryStore) SavePermission(_ context.Context, p *Permission) error {
	m.permissions.save(p)
	return nil
}

func (m *MemoryStore) DeletePermission(_ context.Context, tenantID, id string) (bool, error) {
	return m.permissions.delete(tenantID, id), nil
}

func (m *MemoryStore) InsertRole(_ context.Context, r *Role) error {
	return m.roles.insert(r)
}

func (m *MemoryStore) GetRole(_ context.Context, tenantID, id string) (*Role, bool, error) {
	r, ok := m.roles.get(tenantID, id)
	return r, ok, nil
}

func (m *MemoryStore) ListRoles(_ context.Context, tenantID string) ([]*Role, error) {
	return m.roles.list(tenantID, nil), nil
}

func (m *MemoryStore) SaveRole(_ context.Context, r *Role) error {
	m.roles.save(r)
	return nil
}

func (m *MemoryStore) DeleteRole(_ context.Context, tenantID, id string) (bool, error) {
	return m.roles.delete(tenantID, id), nil
}

func (m *MemoryStore) InsertPolicy(_ context.Context, p *Policy) error {
	return m.policies.insert(p)
}

func (m *MemoryStore) GetPolicy(_ context.Context, tenantID, id string) (*Policy, bool, error) {
	p, ok := m.policies.get(tenantID, id)
	return p, ok, nil
}

func (m *MemoryStore) ListPolicies(_ context.Context, tenantID string) ([]*Policy, error) {
	return m.policies.list(tenantID, nil), nil
}

func (m *MemoryStore) SavePolicy(_ context.Context, p *Policy) error {
	m.policies.save(p)
	return nil
}

func (m *MemoryStore) DeletePolicy(_ context.Context, tenantID, id string) (bool, error) {
	return m.policies.delete(tenantID, id), nil
}

func (m *MemoryStore) SaveAssignment(_ context.Context, a *UserRoleAssignment) error {
	m.assignments.save(a)
	return nil
}

func (m *MemoryStore) DeleteAssignment(_ context.Context, tenantID, userID, roleID string) (bool, error) {
	return m.assignments.delete(tenantID, assignmentKey(userID, roleID)), nil
}

func (m *MemoryStore) ListUserAssignments(_ context.Context, tenantID, userID string) ([]*UserRoleAssignment, error) {
	return m.assignments.list(tenantID, func(a *UserRoleAssignment) bool { return a.UserID == userID }), nil
}

func (m *MemoryStore) ListRoleAssignments(_ context.Context, tenantID, roleID string) ([]*UserRoleAssignment, error) {
	return m.assignments.list(tenantID, func(a *UserRoleAssignment) bool { return a.RoleID == roleID }), nil
}
