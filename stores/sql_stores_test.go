package stores

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/oarkflow/squealx"
	_ "modernc.org/sqlite"

	"github.com/oarkflow/authcore"
)

func newTestDB(t *testing.T) *squealx.DB {
	t.Helper()
	sqlDB, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	// every pooled connection to :memory: would see its own database
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	db := squealx.NewDb(sqlDB, "sqlite", "testdb")
	if err := Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func TestMigrateIsRepeatable(t *testing.T) {
	db := newTestDB(t)
	if err := Migrate(db); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
}

func TestSQLPermissionStoreRoundtrip(t *testing.T) {
	ctx := context.Background()
	store := NewSQLPermissionStore(newTestDB(t))
	now := time.Date(2025, 3, 4, 10, 0, 0, 0, time.UTC)
	p := &authcore.Permission{
		ID:       "doc-read",
		Name:     "Read documents",
		Resource: "documents:*",
		Actions:  []string{"read", "list"},
		Effect:   authcore.EffectAllow,
		Conditions: []authcore.Condition{
			{Field: "resource.owner", Operator: authcore.OpEquals, Value: "${actorId}"},
		},
		TimeCondition: &authcore.TimeCondition{Weekdays: []int{1, 2, 3, 4, 5}, Timezone: "UTC"},
		Priority:      3,
		TenantID:      "acme",
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := store.InsertPermission(ctx, p); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := store.InsertPermission(ctx, p); !authcore.IsConflict(err) {
		t.Fatalf("expected conflict on duplicate insert, got %v", err)
	}

	got, ok, err := store.GetPermission(ctx, "acme", "doc-read")
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if got.Resource != "documents:*" || len(got.Actions) != 2 || got.Priority != 3 {
		t.Fatalf("unexpected permission %+v", got)
	}
	if len(got.Conditions) != 1 || got.Conditions[0].Operator != authcore.OpEquals {
		t.Fatalf("conditions not restored: %+v", got.Conditions)
	}
	if got.TimeCondition == nil || len(got.TimeCondition.Weekdays) != 5 {
		t.Fatalf("time condition not restored: %+v", got.TimeCondition)
	}
	if !got.CreatedAt.Equal(now) {
		t.Fatalf("created_at = %v, want %v", got.CreatedAt, now)
	}

	if _, ok, _ := store.GetPermission(ctx, "", "doc-read"); ok {
		t.Fatalf("permission leaked into the global tenant")
	}

	got.Priority = 9
	got.TimeCondition = nil
	if err := store.SavePermission(ctx, got); err != nil {
		t.Fatalf("save: %v", err)
	}
	again, _, _ := store.GetPermission(ctx, "acme", "doc-read")
	if again.Priority != 9 || again.TimeCondition != nil {
		t.Fatalf("save not applied: %+v", again)
	}

	deleted, err := store.DeletePermission(ctx, "acme", "doc-read")
	if err != nil || !deleted {
		t.Fatalf("delete: deleted=%v err=%v", deleted, err)
	}
	deleted, _ = store.DeletePermission(ctx, "acme", "doc-read")
	if deleted {
		t.Fatalf("second delete reported a row")
	}
}

func TestSQLRoleStoreListByTenant(t *testing.T) {
	ctx := context.Background()
	store := NewSQLRoleStore(newTestDB(t))
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	roles := []*authcore.Role{
		{ID: "viewer", Name: "Viewer", Permissions: []string{"p1"}, CreatedAt: base, UpdatedAt: base},
		{ID: "editor", Name: "Editor", Permissions: []string{"p2"}, ParentRoles: []string{"viewer"}, TenantID: "acme", CreatedAt: base.Add(time.Second), UpdatedAt: base},
		{ID: "owner", Name: "Owner", Permissions: []string{"*"}, IsSystem: true, MaxAssignments: 2, TenantID: "acme", CreatedAt: base.Add(2 * time.Second), UpdatedAt: base},
	}
	for _, r := range roles {
		if err := store.InsertRole(ctx, r); err != nil {
			t.Fatalf("insert %s: %v", r.ID, err)
		}
	}

	acme, err := store.ListRoles(ctx, "acme")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(acme) != 2 || acme[0].ID != "editor" || acme[1].ID != "owner" {
		t.Fatalf("unexpected acme roles: %v", roleIDs(acme))
	}
	if !acme[1].IsSystem || acme[1].MaxAssignments != 2 {
		t.Fatalf("flags not restored: %+v", acme[1])
	}
	if len(acme[0].ParentRoles) != 1 || acme[0].ParentRoles[0] != "viewer" {
		t.Fatalf("parents not restored: %+v", acme[0].ParentRoles)
	}

	all, err := store.ListRoles(ctx, authcore.AnyTenant)
	if err != nil {
		t.Fatalf("list any: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 roles across tenants, got %d", len(all))
	}
}

func TestSQLPolicyStoreRoundtrip(t *testing.T) {
	ctx := context.Background()
	store := NewSQLPolicyStore(newTestDB(t))
	now := time.Now().UTC()
	p := &authcore.Policy{
		ID:      "no-delete",
		Name:    "No deletes",
		Version: "1",
		Active:  true,
		Statements: []authcore.Statement{
			{Sid: "deny-delete", Effect: authcore.EffectDeny, Principals: []string{"*"}, Actions: []string{"delete"}, Resources: []string{"*"}},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := store.InsertPolicy(ctx, p); err != nil {
		t.Fatalf("insert: %v", err)
	}
	got, ok, err := store.GetPolicy(ctx, "", "no-delete")
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if !got.Active || len(got.Statements) != 1 || got.Statements[0].Effect != authcore.EffectDeny {
		t.Fatalf("unexpected policy %+v", got)
	}
	got.Active = false
	if err := store.SavePolicy(ctx, got); err != nil {
		t.Fatalf("save: %v", err)
	}
	again, _, _ := store.GetPolicy(ctx, "", "no-delete")
	if again.Active {
		t.Fatalf("deactivation not persisted")
	}
}

func TestSQLAssignmentStore(t *testing.T) {
	ctx := context.Background()
	store := NewSQLAssignmentStore(newTestDB(t))
	at := time.Date(2025, 5, 1, 8, 0, 0, 0, time.UTC)
	expires := at.Add(24 * time.Hour)
	for _, a := range []*authcore.UserRoleAssignment{
		{UserID: "alice", RoleID: "editor", TenantID: "acme", AssignedAt: at},
		{UserID: "alice", RoleID: "viewer", TenantID: "acme", ExpiresAt: expires, AssignedAt: at.Add(time.Minute)},
		{UserID: "bob", RoleID: "editor", TenantID: "acme", Scope: "doc-1", AssignedAt: at},
		{UserID: "alice", RoleID: "editor", TenantID: "globex", AssignedAt: at},
	} {
		if err := store.SaveAssignment(ctx, a); err != nil {
			t.Fatalf("save %s/%s: %v", a.UserID, a.RoleID, err)
		}
	}

	mine, err := store.ListUserAssignments(ctx, "acme", "alice")
	if err != nil {
		t.Fatalf("list user: %v", err)
	}
	if len(mine) != 2 {
		t.Fatalf("expected 2 acme assignments for alice, got %d", len(mine))
	}
	if !mine[1].ExpiresAt.Equal(expires) || !mine[0].ExpiresAt.IsZero() {
		t.Fatalf("expiry not restored: %v / %v", mine[0].ExpiresAt, mine[1].ExpiresAt)
	}

	editors, err := store.ListRoleAssignments(ctx, authcore.AnyTenant, "editor")
	if err != nil {
		t.Fatalf("list role: %v", err)
	}
	if len(editors) != 3 {
		t.Fatalf("expected 3 editor assignments across tenants, got %d", len(editors))
	}

	// upsert keeps a single row per (tenant, user, role)
	if err := store.SaveAssignment(ctx, &authcore.UserRoleAssignment{UserID: "bob", RoleID: "editor", TenantID: "acme", Scope: "doc-2", AssignedAt: at}); err != nil {
		t.Fatalf("resave: %v", err)
	}
	bobs, _ := store.ListUserAssignments(ctx, "acme", "bob")
	if len(bobs) != 1 || bobs[0].Scope != "doc-2" {
		t.Fatalf("upsert failed: %+v", bobs)
	}

	removed, err := store.DeleteAssignment(ctx, "acme", "bob", "editor")
	if err != nil || !removed {
		t.Fatalf("delete: removed=%v err=%v", removed, err)
	}
}

func TestSQLAuditSinkQuery(t *testing.T) {
	ctx := context.Background()
	sink := NewSQLAuditSink(newTestDB(t))
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	events := []authcore.AuditEvent{
		{ID: "e1", Type: authcore.AuditRoleCreated, Timestamp: base, ActorID: "admin", EntityType: "role", EntityID: "editor", NewState: map[string]any{"id": "editor"}},
		{ID: "e2", Type: authcore.AuditAuthorizationDenied, Timestamp: base.Add(time.Minute), ActorID: "alice", TenantID: "acme", Metadata: map[string]any{"action": "delete"}},
		{ID: "e3", Type: authcore.AuditAuthorizationAllowed, Timestamp: base.Add(2 * time.Minute), ActorID: "alice", TenantID: "acme"},
	}
	for _, ev := range events {
		if err := sink.Record(ctx, ev); err != nil {
			t.Fatalf("record %s: %v", ev.ID, err)
		}
	}

	got, err := sink.Query(ctx, AuditFilter{ActorID: "alice"})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 2 || got[0].ID != "e2" || got[1].ID != "e3" {
		t.Fatalf("unexpected events: %+v", got)
	}
	if got[0].Metadata["action"] != "delete" {
		t.Fatalf("metadata not restored: %+v", got[0].Metadata)
	}

	denied, err := sink.Query(ctx, AuditFilter{Type: authcore.AuditAuthorizationDenied})
	if err != nil || len(denied) != 1 {
		t.Fatalf("type filter: %d events err=%v", len(denied), err)
	}

	recent, err := sink.Query(ctx, AuditFilter{Since: base.Add(90 * time.Second), Limit: 5})
	if err != nil || len(recent) != 1 || recent[0].ID != "e3" {
		t.Fatalf("since filter: %+v err=%v", recent, err)
	}

	created, _ := sink.Query(ctx, AuditFilter{EntityID: "editor"})
	state, ok := created[0].NewState.(map[string]any)
	if !ok || state["id"] != "editor" {
		t.Fatalf("new state not restored: %#v", created[0].NewState)
	}
}

func TestEngineOverSQLStores(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	sink := NewSQLAuditSink(db)
	engine, err := authcore.NewEngine(
		authcore.WithStores(NewSQLStores(db)),
		authcore.WithAuditSink(sink),
	)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}

	read, err := engine.CreatePermission(ctx, &authcore.Permission{ID: "p1", Name: "read docs", Resource: "documents", Actions: []string{"read"}})
	if err != nil {
		t.Fatalf("create p1: %v", err)
	}
	if _, err := engine.CreatePermission(ctx, &authcore.Permission{ID: "p2", Name: "write docs", Resource: "documents", Actions: []string{"write"}}); err != nil {
		t.Fatalf("create p2: %v", err)
	}
	if _, err := engine.CreatePermission(ctx, read); !authcore.IsConflict(err) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if _, err := engine.CreateRole(ctx, &authcore.Role{ID: "A", Name: "A", Permissions: []string{"p1"}, TenantID: "T"}); err != nil {
		t.Fatalf("create A: %v", err)
	}
	if _, err := engine.CreateRole(ctx, &authcore.Role{ID: "B", Name: "B", Permissions: []string{"p2"}, ParentRoles: []string{"A"}, TenantID: "T"}); err != nil {
		t.Fatalf("create B: %v", err)
	}
	if _, err := engine.AssignRole(ctx, authcore.AssignmentRequest{UserID: "U", RoleID: "B", TenantID: "T"}); err != nil {
		t.Fatalf("assign: %v", err)
	}

	perms, err := engine.GetUserEffectivePermissions(ctx, "U", "T")
	if err != nil {
		t.Fatalf("effective: %v", err)
	}
	if !contains(perms, "p1") || !contains(perms, "p2") {
		t.Fatalf("expected p1 and p2, got %v", perms)
	}
	if !engine.Can(ctx, "U", "T", "documents", "read") {
		t.Fatalf("expected read to be allowed")
	}
	if engine.Can(ctx, "U", "T", "documents", "delete") {
		t.Fatalf("expected delete to fall through to the default deny")
	}

	if err := engine.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	evs, err := sink.Query(ctx, AuditFilter{Type: authcore.AuditRoleAssigned})
	if err != nil || len(evs) != 1 {
		t.Fatalf("expected one role_assigned event, got %d err=%v", len(evs), err)
	}
}

func roleIDs(rs []*authcore.Role) []string {
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = r.ID
	}
	return out
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
