package authcore

import (
	"context"
	"slices"
	"sync"
	"testing"
	"time"
)

func newTestEngine(t *testing.T, opts ...EngineOption) *Engine {
	t.Helper()
	e, err := NewEngine(opts...)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	t.Cleanup(func() { e.Close() })
	return e
}

func mustPermission(t *testing.T, e *Engine, p *Permission) *Permission {
	t.Helper()
	created, err := e.CreatePermission(context.Background(), p)
	if err != nil {
		t.Fatalf("create permission %s: %v", p.ID, err)
	}
	return created
}

func mustRole(t *testing.T, e *Engine, r *Role) *Role {
	t.Helper()
	created, err := e.CreateRole(context.Background(), r)
	if err != nil {
		t.Fatalf("create role %s: %v", r.ID, err)
	}
	return created
}

func mustAssign(t *testing.T, e *Engine, req AssignmentRequest) *UserRoleAssignment {
	t.Helper()
	a, err := e.AssignRole(context.Background(), req)
	if err != nil {
		t.Fatalf("assign %s to %s: %v", req.RoleID, req.UserID, err)
	}
	if a == nil {
		t.Fatalf("assign %s to %s: role not found", req.RoleID, req.UserID)
	}
	return a
}

// grantDirect gives user a fresh role holding exactly permIDs.
func grantDirect(t *testing.T, e *Engine, tenant, user string, permIDs ...string) {
	t.Helper()
	role := mustRole(t, e, &Role{ID: "direct-" + user, Name: "direct grants", Permissions: permIDs, TenantID: tenant})
	mustAssign(t, e, AssignmentRequest{UserID: user, RoleID: role.ID, TenantID: tenant})
}

func mustAuthorize(t *testing.T, e *Engine, ac *AuthorizationContext) *AuthorizationResult {
	t.Helper()
	res, err := e.Authorize(context.Background(), ac)
	if err != nil {
		t.Fatalf("authorize %+v: %v", ac, err)
	}
	return res
}

func sameSet(got, want []string) bool {
	a, b := slices.Clone(got), slices.Clone(want)
	slices.Sort(a)
	slices.Sort(b)
	return slices.Equal(a, b)
}

// fakeClock is a settable clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(t time.Time) *fakeClock { return &fakeClock{now: t} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// countingCache is an in-memory CacheProvider that records its traffic.
type countingCache struct {
	mu      sync.Mutex
	data    map[string][]byte
	ttls    map[string]time.Duration
	gets    int
	hits    int
	sets    int
	deletes []string
}

func newCountingCache() *countingCache {
	return &countingCache{data: map[string][]byte{}, ttls: map[string]time.Duration{}}
}

func (c *countingCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gets++
	v, ok := c.data[key]
	if ok {
		c.hits++
	}
	return v, ok, nil
}

func (c *countingCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sets++
	c.data[key] = value
	c.ttls[key] = ttl
	return nil
}

func (c *countingCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	c.deletes = append(c.deletes, key)
	return nil
}

func (c *countingCache) stats() (sets, hits int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sets, c.hits
}

func (c *countingCache) has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.data[key]
	return ok
}
