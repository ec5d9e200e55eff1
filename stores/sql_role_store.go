package stores

import (
	"context"

	"github.com/oarkflow/squealx"

	"github.com/oarkflow/authcore"
)

// SQLRoleStore persists roles in SQL (squealx)
type SQLRoleStore struct {
	db *squealx.DB
}

var _ authcore.RoleStore = (*SQLRoleStore)(nil)

func NewSQLRoleStore(db *squealx.DB) *SQLRoleStore {
	return &SQLRoleStore{db: db}
}

const roleColumns = `tenant_id, id, name, description, permissions_json, parent_roles_json, is_system, max_assignments, created_at, updated_at`

const roleValues = `:tenant_id, :id, :name, :description, :permissions_json, :parent_roles_json, :is_system, :max_assignments, :created_at, :updated_at`

func roleParams(r *authcore.Role) map[string]any {
	perms := r.Permissions
	if perms == nil {
		perms = []string{}
	}
	parents := r.ParentRoles
	if parents == nil {
		parents = []string{}
	}
	return map[string]any{
		"tenant_id":         r.TenantID,
		"id":                r.ID,
		"name":              r.Name,
		"description":       r.Description,
		"permissions_json":  toJSON(perms),
		"parent_roles_json": toJSON(parents),
		"is_system":         boolToInt(r.IsSystem),
		"max_assignments":   r.MaxAssignments,
		"created_at":        formatTime(r.CreatedAt),
		"updated_at":        formatTime(r.UpdatedAt),
	}
}

func (s *SQLRoleStore) InsertRole(ctx context.Context, r *authcore.Role) error {
	q := `INSERT INTO roles(` + roleColumns + `) VALUES(` + roleValues + `) ON CONFLICT(tenant_id, id) DO NOTHING`
	res, err := s.db.NamedExecContext(ctx, q, roleParams(r))
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return authcore.ErrConflict.WithMessagef("role %q already exists in tenant %q", r.ID, r.TenantID)
	}
	return nil
}

func (s *SQLRoleStore) SaveRole(ctx context.Context, r *authcore.Role) error {
	q := `INSERT INTO roles(` + roleColumns + `) VALUES(` + roleValues + `)
ON CONFLICT(tenant_id, id) DO UPDATE SET name=excluded.name, description=excluded.description,
permissions_json=excluded.permissions_json, parent_roles_json=excluded.parent_roles_json,
is_system=excluded.is_system, max_assignments=excluded.max_assignments, updated_at=excluded.updated_at`
	_, err := s.db.NamedExecContext(ctx, q, roleParams(r))
	return err
}

func (s *SQLRoleStore) GetRole(ctx context.Context, tenantID, id string) (*authcore.Role, bool, error) {
	q := `SELECT ` + roleColumns + ` FROM roles WHERE tenant_id = :tenant_id AND id = :id`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{"tenant_id": tenantID, "id": id})
	if err != nil {
		return nil, false, err
	}
	out, err := scanRoles(r)
	if err != nil || len(out) == 0 {
		return nil, false, err
	}
	return out[0], true, nil
}

func (s *SQLRoleStore) ListRoles(ctx context.Context, tenantID string) ([]*authcore.Role, error) {
	where, params := tenantFilter(tenantID)
	q := `SELECT ` + roleColumns + ` FROM roles WHERE ` + where + ` ORDER BY created_at, tenant_id, id`
	r, err := s.db.NamedQueryContext(ctx, q, params)
	if err != nil {
		return nil, err
	}
	return scanRoles(r)
}

func (s *SQLRoleStore) DeleteRole(ctx context.Context, tenantID, id string) (bool, error) {
	q := `DELETE FROM roles WHERE tenant_id = :tenant_id AND id = :id`
	res, err := s.db.NamedExecContext(ctx, q, map[string]any{"tenant_id": tenantID, "id": id})
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func scanRoles(r rowScanner) ([]*authcore.Role, error) {
	defer r.Close()
	out := make([]*authcore.Role, 0)
	for r.Next() {
		var tenant, id, name, desc, permsJSON, parentsJSON, created, updated string
		var isSystem, maxAssignments int
		if err := r.Scan(&tenant, &id, &name, &desc, &permsJSON, &parentsJSON, &isSystem, &maxAssignments, &created, &updated); err != nil {
			return nil, err
		}
		role := &authcore.Role{
			ID:             id,
			TenantID:       tenant,
			Name:           name,
			Description:    desc,
			IsSystem:       isSystem != 0,
			MaxAssignments: maxAssignments,
			CreatedAt:      parseTime(created),
			UpdatedAt:      parseTime(updated),
		}
		if err := fromJSON(permsJSON, &role.Permissions); err != nil {
			return nil, err
		}
		if err := fromJSON(parentsJSON, &role.ParentRoles); err != nil {
			return nil, err
		}
		if role.Permissions == nil {
			role.Permissions = []string{}
		}
		if len(role.ParentRoles) == 0 {
			role.ParentRoles = nil
		}
		out = append(out, role)
	}
	return out, nil
}
