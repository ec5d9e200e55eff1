package stores

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/oarkflow/authcore"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, redis.UniversalClient) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestRedisCacheGetSetDelete(t *testing.T) {
	ctx := context.Background()
	mr, client := newTestRedis(t)
	cache := NewRedisCache(client, "authz:")

	if _, ok, err := cache.Get(ctx, "missing"); err != nil || ok {
		t.Fatalf("expected clean miss, ok=%v err=%v", ok, err)
	}
	if err := cache.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	if !mr.Exists("authz:k") {
		t.Fatalf("prefix not applied")
	}
	got, ok, err := cache.Get(ctx, "k")
	if err != nil || !ok || string(got) != "v" {
		t.Fatalf("get: %q ok=%v err=%v", got, ok, err)
	}

	mr.FastForward(2 * time.Minute)
	if _, ok, _ := cache.Get(ctx, "k"); ok {
		t.Fatalf("expected key to expire")
	}

	_ = cache.Set(ctx, "k2", []byte("v2"), 0)
	if err := cache.Delete(ctx, "k2"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, _ := cache.Get(ctx, "k2"); ok {
		t.Fatalf("expected key to be deleted")
	}
}

func TestEngineUsesRedisCache(t *testing.T) {
	ctx := context.Background()
	mr, client := newTestRedis(t)
	engine, err := authcore.NewEngine(authcore.WithCache(NewRedisCache(client, ""), time.Minute))
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	defer engine.Close()

	if _, err := engine.CreatePermission(ctx, &authcore.Permission{ID: "p1", Name: "read", Resource: "documents", Actions: []string{"read"}}); err != nil {
		t.Fatalf("create permission: %v", err)
	}
	if _, err := engine.CreateRole(ctx, &authcore.Role{ID: "reader", Name: "Reader", Permissions: []string{"p1"}}); err != nil {
		t.Fatalf("create role: %v", err)
	}
	if _, err := engine.AssignRole(ctx, authcore.AssignmentRequest{UserID: "u1", RoleID: "reader"}); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if !engine.Can(ctx, "u1", "", "documents", "read") {
		t.Fatalf("expected read allowed")
	}
	key := authcore.PermissionsCacheKey("", "u1")
	if !mr.Exists(key) {
		t.Fatalf("expected %s to be cached", key)
	}

	if _, err := engine.UnassignRole(ctx, "", "u1", "reader"); err != nil {
		t.Fatalf("unassign: %v", err)
	}
	if mr.Exists(key) {
		t.Fatalf("expected unassign to invalidate %s", key)
	}
	if engine.Can(ctx, "u1", "", "documents", "read") {
		t.Fatalf("expected read denied after unassign")
	}
}
