package stores

import (
	"context"

	"github.com/oarkflow/squealx"

	"github.com/oarkflow/authcore"
)

// SQLAssignmentStore implements authcore.AssignmentStore backed by a SQL DB (squealx)
type SQLAssignmentStore struct {
	db *squealx.DB
}

var _ authcore.AssignmentStore = (*SQLAssignmentStore)(nil)

func NewSQLAssignmentStore(db *squealx.DB) *SQLAssignmentStore {
	return &SQLAssignmentStore{db: db}
}

const assignmentColumns = `tenant_id, user_id, role_id, scope, expires_at, assigned_by, assigned_at`

func (s *SQLAssignmentStore) SaveAssignment(ctx context.Context, a *authcore.UserRoleAssignment) error {
	q := `INSERT INTO role_assignments(` + assignmentColumns + `) VALUES(:tenant_id, :user_id, :role_id, :scope, :expires_at, :assigned_by, :assigned_at)
ON CONFLICT(tenant_id, user_id, role_id) DO UPDATE SET scope=excluded.scope, expires_at=excluded.expires_at,
assigned_by=excluded.assigned_by, assigned_at=excluded.assigned_at`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"tenant_id":   a.TenantID,
		"user_id":     a.UserID,
		"role_id":     a.RoleID,
		"scope":       a.Scope,
		"expires_at":  formatTime(a.ExpiresAt),
		"assigned_by": a.AssignedBy,
		"assigned_at": formatTime(a.AssignedAt),
	})
	return err
}

func (s *SQLAssignmentStore) DeleteAssignment(ctx context.Context, tenantID, userID, roleID string) (bool, error) {
	q := `DELETE FROM role_assignments WHERE tenant_id = :tenant_id AND user_id = :user_id AND role_id = :role_id`
	res, err := s.db.NamedExecContext(ctx, q, map[string]any{"tenant_id": tenantID, "user_id": userID, "role_id": roleID})
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *SQLAssignmentStore) ListUserAssignments(ctx context.Context, tenantID, userID string) ([]*authcore.UserRoleAssignment, error) {
	where, params := tenantFilter(tenantID)
	params["user_id"] = userID
	q := `SELECT ` + assignmentColumns + ` FROM role_assignments WHERE ` + where + ` AND user_id = :user_id ORDER BY assigned_at, tenant_id, role_id`
	r, err := s.db.NamedQueryContext(ctx, q, params)
	if err != nil {
		return nil, err
	}
	return scanAssignments(r)
}

func (s *SQLAssignmentStore) ListRoleAssignments(ctx context.Context, tenantID, roleID string) ([]*authcore.UserRoleAssignment, error) {
	where, params := tenantFilter(tenantID)
	params["role_id"] = roleID
	q := `SELECT ` + assignmentColumns + ` FROM role_assignments WHERE ` + where + ` AND role_id = :role_id ORDER BY assigned_at, tenant_id, user_id`
	r, err := s.db.NamedQueryContext(ctx, q, params)
	if err != nil {
		return nil, err
	}
	return scanAssignments(r)
}

func scanAssignments(r rowScanner) ([]*authcore.UserRoleAssignment, error) {
	defer r.Close()
	out := make([]*authcore.UserRoleAssignment, 0)
	for r.Next() {
		var tenant, user, role, scope, expires, by, at string
		if err := r.Scan(&tenant, &user, &role, &scope, &expires, &by, &at); err != nil {
			return nil, err
		}
		out = append(out, &authcore.UserRoleAssignment{
			TenantID:   tenant,
			UserID:     user,
			RoleID:     role,
			Scope:      scope,
			ExpiresAt:  parseTime(expires),
			AssignedBy: by,
			AssignedAt: parseTime(at),
		})
	}
	return out, nil
}
