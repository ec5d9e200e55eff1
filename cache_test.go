package authcore

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"
)

func TestGrantsAreCachedUntilInvalidated(t *testing.T) {
	ctx := context.Background()
	cache := newCountingCache()
	e := newTestEngine(t, WithCache(cache, time.Minute))
	mustPermission(t, e, &Permission{ID: "read", Name: "read", Resource: "documents", Actions: []string{"read"}})
	mustPermission(t, e, &Permission{ID: "write", Name: "write", Resource: "documents", Actions: []string{"write"}})
	mustRole(t, e, &Role{ID: "base", Name: "base", Permissions: []string{"read"}, TenantID: "acme"})
	mustRole(t, e, &Role{ID: "child", Name: "child", ParentRoles: []string{"base"}, TenantID: "acme"})
	mustAssign(t, e, AssignmentRequest{UserID: "u", RoleID: "child", TenantID: "acme"})
	key := PermissionsCacheKey("acme", "u")

	if !e.Can(ctx, "u", "acme", "documents", "read") {
		t.Fatalf("expected inherited read")
	}
	if !cache.has(key) {
		t.Fatalf("expected %s to be cached", key)
	}
	e.Can(ctx, "u", "acme", "documents", "read")
	if sets, hits := cache.stats(); sets != 1 || hits != 1 {
		t.Fatalf("expected one write and one hit, got sets=%d hits=%d", sets, hits)
	}

	// changing an ancestor drops the grants of users holding a descendant
	if _, err := e.AddPermissionToRole(ctx, "acme", "base", "write"); err != nil {
		t.Fatalf("add permission: %v", err)
	}
	if cache.has(key) {
		t.Fatalf("expected parent role change to invalidate %s", key)
	}
	if !e.Can(ctx, "u", "acme", "documents", "write") {
		t.Fatalf("expected the new permission to be visible immediately")
	}

	// narrowing a permission in place
	if _, err := e.UpdatePermission(ctx, "", "write", PermissionPatch{Actions: []string{"update"}}); err != nil {
		t.Fatalf("update permission: %v", err)
	}
	if cache.has(key) {
		t.Fatalf("expected permission update to invalidate %s", key)
	}
	if e.Can(ctx, "u", "acme", "documents", "write") {
		t.Fatalf("expected the narrowed permission to stop granting write")
	}

	if _, err := e.DeleteRole(ctx, "acme", "child"); err != nil {
		t.Fatalf("delete role: %v", err)
	}
	if cache.has(key) {
		t.Fatalf("expected role deletion to invalidate %s", key)
	}
	if e.Can(ctx, "u", "acme", "documents", "read") {
		t.Fatalf("expected access to end with the role")
	}
}

func TestCacheTTLClampedToAssignmentExpiry(t *testing.T) {
	clock := newFakeClock(time.Date(2025, 8, 1, 12, 0, 0, 0, time.UTC))
	cache := newCountingCache()
	e := newTestEngine(t, WithCache(cache, time.Hour), WithClock(clock.Now))
	mustRole(t, e, &Role{ID: "r", Name: "r"})
	mustAssign(t, e, AssignmentRequest{UserID: "u", RoleID: "r", ExpiresAt: clock.Now().Add(10 * time.Minute)})
	mustAssign(t, e, AssignmentRequest{UserID: "v", RoleID: "r"})

	e.Can(context.Background(), "u", "", "x", "y")
	e.Can(context.Background(), "v", "", "x", "y")

	cache.mu.Lock()
	defer cache.mu.Unlock()
	if ttl := cache.ttls[PermissionsCacheKey("", "u")]; ttl != 10*time.Minute {
		t.Fatalf("expected ttl clamped to 10m, got %s", ttl)
	}
	if ttl := cache.ttls[PermissionsCacheKey("", "v")]; ttl != time.Hour {
		t.Fatalf("expected configured ttl for a permanent assignment, got %s", ttl)
	}
}

func TestRistrettoCache(t *testing.T) {
	ctx := context.Background()
	c, err := NewRistrettoCache(RistrettoConfig{})
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	defer c.Close()

	if _, ok, _ := c.Get(ctx, "k"); ok {
		t.Fatalf("expected a miss on an empty cache")
	}
	if err := c.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, ok, err := c.Get(ctx, "k")
	if err != nil || !ok || string(got) != "v" {
		t.Fatalf("get: %q ok=%v err=%v", got, ok, err)
	}
	if err := c.Delete(ctx, "k"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, _ := c.Get(ctx, "k"); ok {
		t.Fatalf("expected a miss after delete")
	}
}

func TestPermissionsCacheKey(t *testing.T) {
	if got := PermissionsCacheKey("acme", "u1"); got != "user:acme:u1:permissions" {
		t.Fatalf("unexpected key %q", got)
	}
}

type brokenCache struct{}

func (brokenCache) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, errors.New("connection refused")
}
func (brokenCache) Set(context.Context, string, []byte, time.Duration) error {
	return errors.New("connection refused")
}
func (brokenCache) Delete(context.Context, string) error { return nil }

type levelLogger struct {
	mu    sync.Mutex
	lines map[string][]string
}

func newLevelLogger() *levelLogger { return &levelLogger{lines: map[string][]string{}} }

func (l *levelLogger) add(level, msg string) {
	l.mu.Lock()
	l.lines[level] = append(l.lines[level], msg)
	l.mu.Unlock()
}

func (l *levelLogger) Debug(msg string, _ ...any) { l.add("debug", msg) }
func (l *levelLogger) Info(msg string, _ ...any)  { l.add("info", msg) }
func (l *levelLogger) Warn(msg string, _ ...any)  { l.add("warn", msg) }
func (l *levelLogger) Error(msg string, _ ...any) { l.add("error", msg) }

func (l *levelLogger) messages(level string) []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.lines[level]...)
}

func TestBrokenCacheWarnsAndStillDecides(t *testing.T) {
	log := newLevelLogger()
	e := newTestEngine(t, WithLogger(log), WithCache(brokenCache{}, time.Minute))
	mustPermission(t, e, &Permission{ID: "p", Name: "p", Resource: "documents", Actions: []string{"read"}})
	grantDirect(t, e, "", "alice", "p")

	if !e.Can(context.Background(), "alice", "", "documents", "read") {
		t.Fatalf("cache failures must not change the decision")
	}
	warns := log.messages("warn")
	if !slices.Contains(warns, "permission cache get failed") || !slices.Contains(warns, "permission cache set failed") {
		t.Fatalf("expected cache failures logged as warnings, got %v", warns)
	}
	if errs := log.messages("error"); len(errs) != 0 {
		t.Fatalf("degraded cache must not log errors, got %v", errs)
	}
}
