package authcore

import (
	"context"
	"testing"
	"time"
)

func TestMemoryStoreClonesOnReadAndWrite(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	r := &Role{ID: "editor", Name: "Editor", Permissions: []string{"a"}}
	if err := m.InsertRole(ctx, r); err != nil {
		t.Fatalf("insert: %v", err)
	}
	r.Permissions[0] = "mutated"

	got, ok, err := m.GetRole(ctx, GlobalTenant, "editor")
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if got.Permissions[0] != "a" {
		t.Fatalf("store shares state with caller: %v", got.Permissions)
	}
	got.Permissions = append(got.Permissions, "b")
	again, _, _ := m.GetRole(ctx, GlobalTenant, "editor")
	if len(again.Permissions) != 1 {
		t.Fatalf("returned value shares state with store: %v", again.Permissions)
	}

	if err := m.InsertRole(ctx, &Role{ID: "editor", Name: "dup"}); !IsConflict(err) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestMemoryStoreTenantListing(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for i, p := range []*Permission{
		{ID: "p-acme", TenantID: "acme"},
		{ID: "p-global"},
		{ID: "p-other", TenantID: "other"},
	} {
		p.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		if err := m.InsertPermission(ctx, p); err != nil {
			t.Fatalf("insert %s: %v", p.ID, err)
		}
	}

	cases := []struct {
		tenant string
		want   []string
	}{
		{"acme", []string{"p-acme"}},
		{GlobalTenant, []string{"p-global"}},
		{AnyTenant, []string{"p-acme", "p-global", "p-other"}},
		{"missing", nil},
	}
	for _, c := range cases {
		got, err := m.ListPermissions(ctx, c.tenant)
		if err != nil {
			t.Fatalf("list %q: %v", c.tenant, err)
		}
		if len(got) != len(c.want) {
			t.Fatalf("list %q: expected %v, got %d rows", c.tenant, c.want, len(got))
		}
		for i := range got {
			if got[i].ID != c.want[i] {
				t.Fatalf("list %q: expected %v at %d, got %s", c.tenant, c.want[i], i, got[i].ID)
			}
		}
	}
}

func TestMemoryStoreAssignments(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	now := time.Now()
	for _, a := range []*UserRoleAssignment{
		{UserID: "alice", RoleID: "editor", TenantID: "acme", AssignedAt: now},
		{UserID: "alice", RoleID: "viewer", TenantID: "acme", AssignedAt: now.Add(time.Second)},
		{UserID: "bob", RoleID: "editor", TenantID: "acme", AssignedAt: now.Add(2 * time.Second)},
		{UserID: "alice", RoleID: "editor", TenantID: "other", AssignedAt: now.Add(3 * time.Second)},
	} {
		if err := m.SaveAssignment(ctx, a); err != nil {
			t.Fatalf("save: %v", err)
		}
	}

	byUser, _ := m.ListUserAssignments(ctx, "acme", "alice")
	if len(byUser) != 2 || byUser[0].RoleID != "editor" || byUser[1].RoleID != "viewer" {
		t.Fatalf("unexpected user assignments %+v", byUser)
	}
	byRole, _ := m.ListRoleAssignments(ctx, AnyTenant, "editor")
	if len(byRole) != 3 {
		t.Fatalf("expected 3 editor assignments across tenants, got %d", len(byRole))
	}

	ok, _ := m.DeleteAssignment(ctx, "acme", "alice", "editor")
	if !ok {
		t.Fatalf("expected delete to report a removed row")
	}
	ok, _ = m.DeleteAssignment(ctx, "acme", "alice", "editor")
	if ok {
		t.Fatalf("second delete must report nothing removed")
	}
	byUser, _ = m.ListUserAssignments(ctx, "acme", "alice")
	if len(byUser) != 1 {
		t.Fatalf("expected one remaining assignment, got %d", len(byUser))
	}
}
