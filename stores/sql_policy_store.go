package stores

import (
	"context"

	"github.com/oarkflow/squealx"

	"github.com/oarkflow/authcore"
)

// SQLPolicyStore persists policies in SQL (squealx). Statements are kept as
// one JSON document per policy.
type SQLPolicyStore struct {
	db *squealx.DB
}

var _ authcore.PolicyStore = (*SQLPolicyStore)(nil)

func NewSQLPolicyStore(db *squealx.DB) *SQLPolicyStore {
	return &SQLPolicyStore{db: db}
}

const policyColumns = `tenant_id, id, name, description, version, statements_json, active, priority, created_at, updated_at`

const policyValues = `:tenant_id, :id, :name, :description, :version, :statements_json, :active, :priority, :created_at, :updated_at`

func policyParams(p *authcore.Policy) map[string]any {
	return map[string]any{
		"tenant_id":       p.TenantID,
		"id":              p.ID,
		"name":            p.Name,
		"description":     p.Description,
		"version":         p.Version,
		"statements_json": toJSON(p.Statements),
		"active":          boolToInt(p.Active),
		"priority":        p.Priority,
		"created_at":      formatTime(p.CreatedAt),
		"updated_at":      formatTime(p.UpdatedAt),
	}
}

func (s *SQLPolicyStore) InsertPolicy(ctx context.Context, p *authcore.Policy) error {
	q := `INSERT INTO policies(` + policyColumns + `) VALUES(` + policyValues + `) ON CONFLICT(tenant_id, id) DO NOTHING`
	res, err := s.db.NamedExecContext(ctx, q, policyParams(p))
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return authcore.ErrConflict.WithMessagef("policy %q already exists in tenant %q", p.ID, p.TenantID)
	}
	return nil
}

func (s *SQLPolicyStore) SavePolicy(ctx context.Context, p *authcore.Policy) error {
	q := `INSERT INTO policies(` + policyColumns + `) VALUES(` + policyValues + `)
ON CONFLICT(tenant_id, id) DO UPDATE SET name=excluded.name, description=excluded.description, version=excluded.version,
statements_json=excluded.statements_json, active=excluded.active, priority=excluded.priority, updated_at=excluded.updated_at`
	_, err := s.db.NamedExecContext(ctx, q, policyParams(p))
	return err
}

func (s *SQLPolicyStore) GetPolicy(ctx context.Context, tenantID, id string) (*authcore.Policy, bool, error) {
	q := `SELECT ` + policyColumns + ` FROM policies WHERE tenant_id = :tenant_id AND id = :id`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{"tenant_id": tenantID, "id": id})
	if err != nil {
		return nil, false, err
	}
	out, err := scanPolicies(r)
	if err != nil || len(out) == 0 {
		return nil, false, err
	}
	return out[0], true, nil
}

func (s *SQLPolicyStore) ListPolicies(ctx context.Context, tenantID string) ([]*authcore.Policy, error) {
	where, params := tenantFilter(tenantID)
	q := `SELECT ` + policyColumns + ` FROM policies WHERE ` + where + ` ORDER BY created_at, tenant_id, id`
	r, err := s.db.NamedQueryContext(ctx, q, params)
	if err != nil {
		return nil, err
	}
	return scanPolicies(r)
}

func (s *SQLPolicyStore) DeletePolicy(ctx context.Context, tenantID, id string) (bool, error) {
	q := `DELETE FROM policies WHERE tenant_id = :tenant_id AND id = :id`
	res, err := s.db.NamedExecContext(ctx, q, map[string]any{"tenant_id": tenantID, "id": id})
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func scanPolicies(r rowScanner) ([]*authcore.Policy, error) {
	defer r.Close()
	out := make([]*authcore.Policy, 0)
	for r.Next() {
		var tenant, id, name, desc, version, stmtsJSON, created, updated string
		var active, priority int
		if err := r.Scan(&tenant, &id, &name, &desc, &version, &stmtsJSON, &active, &priority, &created, &updated); err != nil {
			return nil, err
		}
		p := &authcore.Policy{
			ID:          id,
			TenantID:    tenant,
			Name:        name,
			Description: desc,
			Version:     version,
			Active:      active != 0,
			Priority:    priority,
			CreatedAt:   parseTime(created),
			UpdatedAt:   parseTime(updated),
		}
		if err := fromJSON(stmtsJSON, &p.Statements); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}
