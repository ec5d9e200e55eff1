package authcore

import (
	"context"
	"testing"
	"time"
)

func TestMatchesResourceWildcard(t *testing.T) {
	reg := NewPermissionRegistry(nil, nil)
	p := &Permission{ID: "all", Resource: "*", Actions: []string{"read"}}
	for _, res := range []string{"documents", "documents:1", "a:b:c", "x"} {
		if !reg.Matches(p, &AuthorizationContext{Resource: res, Action: "read"}) {
			t.Fatalf("expected * to match %q", res)
		}
	}
}

func TestMatchesGlobResource(t *testing.T) {
	reg := NewPermissionRegistry(nil, nil)
	p := &Permission{ID: "docs", Resource: "documents:*", Actions: []string{"*"}}
	if !reg.Matches(p, &AuthorizationContext{Resource: "documents:123", Action: "read"}) {
		t.Fatalf("expected documents:* to match documents:123")
	}
	if reg.Matches(p, &AuthorizationContext{Resource: "folders:123", Action: "read"}) {
		t.Fatalf("expected documents:* not to match folders:123")
	}
	if !reg.Matches(p, &AuthorizationContext{Resource: "documents", ResourceID: "123", Action: "read"}) {
		t.Fatalf("expected type plus id to match documents:*")
	}
	if reg.Matches(&Permission{Resource: "docs.v1", Actions: []string{"*"}}, &AuthorizationContext{Resource: "docsXv1", Action: "read"}) {
		t.Fatalf("literal characters must not act as regex metacharacters")
	}
}

func TestMatchesActionAndTenant(t *testing.T) {
	reg := NewPermissionRegistry(nil, nil)
	p := &Permission{Resource: "documents", Actions: []string{"read", "list"}, TenantID: "acme"}
	if !reg.Matches(p, &AuthorizationContext{Resource: "documents", Action: "list", TenantID: "acme"}) {
		t.Fatalf("expected listed action to match")
	}
	if reg.Matches(p, &AuthorizationContext{Resource: "documents", Action: "write", TenantID: "acme"}) {
		t.Fatalf("expected unlisted action not to match")
	}
	if reg.Matches(p, &AuthorizationContext{Resource: "documents", Action: "read", TenantID: "globex"}) {
		t.Fatalf("expected tenant-scoped permission not to match another tenant")
	}
	global := &Permission{Resource: "documents", Actions: []string{"read"}}
	if !reg.Matches(global, &AuthorizationContext{Resource: "documents", Action: "read", TenantID: "globex"}) {
		t.Fatalf("expected global permission to match any tenant")
	}
}

func TestMatchesConditionsAndTimeWindow(t *testing.T) {
	saturday := time.Date(2025, 6, 7, 10, 0, 0, 0, time.UTC)
	reg := NewPermissionRegistry(nil, func() time.Time { return saturday })
	ctx := context.Background()
	p, err := reg.Create(ctx, &Permission{
		ID:            "own-docs",
		Name:          "edit own documents on weekdays",
		Resource:      "documents",
		Actions:       []string{"edit"},
		Conditions:    []Condition{{Field: "resource.owner", Operator: OpEquals, Value: "${actorId}"}},
		TimeCondition: &TimeCondition{Weekdays: []int{1, 2, 3, 4, 5}, Timezone: "UTC"},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	ac := &AuthorizationContext{
		ActorID:            "alice",
		Resource:           "documents",
		Action:             "edit",
		ResourceAttributes: map[string]any{"owner": "alice"},
	}
	if reg.Matches(p, ac) {
		t.Fatalf("expected the weekday window to reject Saturday")
	}
	ac.RequestTime = saturday.AddDate(0, 0, 2)
	if !reg.Matches(p, ac) {
		t.Fatalf("expected Monday request time to match")
	}
	ac.ResourceAttributes = map[string]any{"owner": "bob"}
	if reg.Matches(p, ac) {
		t.Fatalf("expected owner mismatch to fail the condition")
	}
}

func TestPermissionRegistryCRUD(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	reg := NewPermissionRegistry(nil, clock.Now)

	for _, bad := range []*Permission{
		{Resource: "documents", Actions: []string{"read"}},
		{Name: "x", Actions: []string{"read"}},
		{Name: "x", Resource: "documents"},
		{Name: "x", Resource: "documents", Actions: []string{""}},
		{Name: "x", Resource: "documents", Actions: []string{"read"}, Effect: "maybe"},
		{Name: "x", Resource: "documents", Actions: []string{"read"}, Conditions: []Condition{{Field: "a"}}},
	} {
		if _, err := reg.Create(ctx, bad); !IsValidation(err) {
			t.Fatalf("expected validation error for %+v, got %v", bad, err)
		}
	}

	p, err := reg.Create(ctx, &Permission{ID: "p1", Name: "read", Resource: "documents", Actions: []string{"read"}})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if p.Effect != EffectAllow {
		t.Fatalf("expected default effect allow, got %s", p.Effect)
	}
	if _, err := reg.Create(ctx, &Permission{ID: "p1", Name: "dup", Resource: "x", Actions: []string{"read"}}); !IsConflict(err) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if _, err := reg.Create(ctx, &Permission{ID: "p1", Name: "other tenant", Resource: "x", Actions: []string{"read"}, TenantID: "acme"}); err != nil {
		t.Fatalf("same id in another tenant should be accepted: %v", err)
	}
	generated, err := reg.Create(ctx, &Permission{Name: "gen", Resource: "x", Actions: []string{"read"}})
	if err != nil || generated.ID == "" {
		t.Fatalf("expected generated id, got %q err=%v", generated.ID, err)
	}

	clock.Advance(time.Hour)
	name := "read documents"
	updated, err := reg.Update(ctx, "", "p1", PermissionPatch{Name: &name, Actions: []string{"read", "list"}})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Name != name || len(updated.Actions) != 2 || updated.Resource != "documents" {
		t.Fatalf("unexpected merge result %+v", updated)
	}
	if !updated.CreatedAt.Equal(p.CreatedAt) || !updated.UpdatedAt.After(p.CreatedAt) {
		t.Fatalf("timestamps not handled: created=%v updated=%v", updated.CreatedAt, updated.UpdatedAt)
	}
	if _, err := reg.Update(ctx, "", "p1", PermissionPatch{Actions: []string{}}); !IsValidation(err) {
		t.Fatalf("expected clearing actions to fail validation, got %v", err)
	}
	if missing, err := reg.Update(ctx, "", "nope", PermissionPatch{Name: &name}); missing != nil || err != nil {
		t.Fatalf("expected (nil, nil) for missing permission, got %v %v", missing, err)
	}

	list, err := reg.List(ctx, "")
	if err != nil || len(list) != 2 {
		t.Fatalf("expected 2 global permissions, got %d err=%v", len(list), err)
	}
	all, _ := reg.List(ctx, AnyTenant)
	if len(all) != 3 {
		t.Fatalf("expected 3 permissions across tenants, got %d", len(all))
	}

	if _, ok, _ := reg.Resolve(ctx, "acme", "p1"); !ok {
		t.Fatalf("expected tenant lookup to resolve")
	}
	if ok, _ := reg.Delete(ctx, "", "p1"); !ok {
		t.Fatalf("expected delete to report true")
	}
	if ok, _ := reg.Delete(ctx, "", "p1"); ok {
		t.Fatalf("expected second delete to report false")
	}
	if _, ok, _ := reg.Get(ctx, "", "p1"); ok {
		t.Fatalf("deleted permission still visible")
	}
}
