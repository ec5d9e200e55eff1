package stores

import (
	"context"

	"github.com/oarkflow/squealx"

	"github.com/oarkflow/authcore"
)

// SQLPermissionStore persists permissions in SQL (squealx)
type SQLPermissionStore struct {
	db *squealx.DB
}

var _ authcore.PermissionStore = (*SQLPermissionStore)(nil)

func NewSQLPermissionStore(db *squealx.DB) *SQLPermissionStore {
	return &SQLPermissionStore{db: db}
}

const permissionColumns = `tenant_id, id, name, description, resource, actions_json, effect, conditions_json, time_condition_json, priority, created_at, updated_at`

const permissionValues = `:tenant_id, :id, :name, :description, :resource, :actions_json, :effect, :conditions_json, :time_condition_json, :priority, :created_at, :updated_at`

func permissionParams(p *authcore.Permission) map[string]any {
	tc := ""
	if p.TimeCondition != nil {
		tc = toJSON(p.TimeCondition)
	}
	conds := p.Conditions
	if conds == nil {
		conds = []authcore.Condition{}
	}
	return map[string]any{
		"tenant_id":           p.TenantID,
		"id":                  p.ID,
		"name":                p.Name,
		"description":         p.Description,
		"resource":            p.Resource,
		"actions_json":        toJSON(p.Actions),
		"effect":              string(p.Effect),
		"conditions_json":     toJSON(conds),
		"time_condition_json": tc,
		"priority":            p.Priority,
		"created_at":          formatTime(p.CreatedAt),
		"updated_at":          formatTime(p.UpdatedAt),
	}
}

func (s *SQLPermissionStore) InsertPermission(ctx context.Context, p *authcore.Permission) error {
	q := `INSERT INTO permissions(` + permissionColumns + `) VALUES(` + permissionValues + `) ON CONFLICT(tenant_id, id) DO NOTHING`
	res, err := s.db.NamedExecContext(ctx, q, permissionParams(p))
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return authcore.ErrConflict.WithMessagef("permission %q already exists in tenant %q", p.ID, p.TenantID)
	}
	return nil
}

func (s *SQLPermissionStore) SavePermission(ctx context.Context, p *authcore.Permission) error {
	q := `INSERT INTO permissions(` + permissionColumns + `) VALUES(` + permissionValues + `)
ON CONFLICT(tenant_id, id) DO UPDATE SET name=excluded.name, description=excluded.description, resource=excluded.resource,
actions_json=excluded.actions_json, effect=excluded.effect, conditions_json=excluded.conditions_json,
time_condition_json=excluded.time_condition_json, priority=excluded.priority, updated_at=excluded.updated_at`
	_, err := s.db.NamedExecContext(ctx, q, permissionParams(p))
	return err
}

func (s *SQLPermissionStore) GetPermission(ctx context.Context, tenantID, id string) (*authcore.Permission, bool, error) {
	q := `SELECT ` + permissionColumns + ` FROM permissions WHERE tenant_id = :tenant_id AND id = :id`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{"tenant_id": tenantID, "id": id})
	if err != nil {
		return nil, false, err
	}
	out, err := scanPermissions(r)
	if err != nil || len(out) == 0 {
		return nil, false, err
	}
	return out[0], true, nil
}

func (s *SQLPermissionStore) ListPermissions(ctx context.Context, tenantID string) ([]*authcore.Permission, error) {
	where, params := tenantFilter(tenantID)
	q := `SELECT ` + permissionColumns + ` FROM permissions WHERE ` + where + ` ORDER BY created_at, tenant_id, id`
	r, err := s.db.NamedQueryContext(ctx, q, params)
	if err != nil {
		return nil, err
	}
	return scanPermissions(r)
}

func (s *SQLPermissionStore) DeletePermission(ctx context.Context, tenantID, id string) (bool, error) {
	q := `DELETE FROM permissions WHERE tenant_id = :tenant_id AND id = :id`
	res, err := s.db.NamedExecContext(ctx, q, map[string]any{"tenant_id": tenantID, "id": id})
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func scanPermissions(r rowScanner) ([]*authcore.Permission, error) {
	defer r.Close()
	out := make([]*authcore.Permission, 0)
	for r.Next() {
		var tenant, id, name, desc, resource, actionsJSON, effect, condsJSON, tcJSON, created, updated string
		var priority int
		if err := r.Scan(&tenant, &id, &name, &desc, &resource, &actionsJSON, &effect, &condsJSON, &tcJSON, &priority, &created, &updated); err != nil {
			return nil, err
		}
		p := &authcore.Permission{
			ID:          id,
			TenantID:    tenant,
			Name:        name,
			Description: desc,
			Resource:    resource,
			Effect:      authcore.Effect(effect),
			Priority:    priority,
			CreatedAt:   parseTime(created),
			UpdatedAt:   parseTime(updated),
		}
		if err := fromJSON(actionsJSON, &p.Actions); err != nil {
			return nil, err
		}
		if err := fromJSON(condsJSON, &p.Conditions); err != nil {
			return nil, err
		}
		if len(p.Conditions) == 0 {
			p.Conditions = nil
		}
		if tcJSON != "" {
			p.TimeCondition = &authcore.TimeCondition{}
			if err := fromJSON(tcJSON, p.TimeCondition); err != nil {
				return nil, err
			}
		}
		out = append(out, p)
	}
	return out, nil
}
