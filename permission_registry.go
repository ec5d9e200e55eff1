package authcore

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/oarkflow/authcore/utils"
)

// PermissionRegistry owns permission definitions and the matching
// primitives shared by the rest of the engine.
type PermissionRegistry struct {
	store PermissionStore
	now   func() time.Time
}

func NewPermissionRegistry(store PermissionStore, clock func() time.Time) *PermissionRegistry {
	if store == nil {
		store = NewMemoryStore()
	}
	if clock == nil {
		clock = time.Now
	}
	return &PermissionRegistry{store: store, now: clock}
}

// preparePermission validates p and attaches its compiled conditions.
func preparePermission(p *Permission) error {
	if err := validateStruct("permission", p); err != nil {
		return err
	}
	if p.TimeCondition != nil {
		if err := p.TimeCondition.Validate(); err != nil {
			return err
		}
	}
	preds, err := CompileConditions(p.Conditions)
	if err != nil {
		return err
	}
	p.predicates, p.compiled = preds, true
	return nil
}

// Create stores a new permission. A missing id is generated and a missing
// effect defaults to allow.
func (r *PermissionRegistry) Create(ctx context.Context, p *Permission) (*Permission, error) {
	if p == nil {
		return nil, ErrValidationFailed.WithMessage("permission is required")
	}
	p = p.Clone()
	p.TenantID = normalizeTenant(p.TenantID)
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Effect == "" {
		p.Effect = EffectAllow
	}
	if err := preparePermission(p); err != nil {
		return nil, err
	}
	now := r.now()
	p.CreatedAt, p.UpdatedAt = now, now
	if err := r.store.InsertPermission(ctx, p); err != nil {
		return nil, storeErr(err)
	}
	return p, nil
}

// Get returns the permission stored under exactly (tenantID, id).
func (r *PermissionRegistry) Get(ctx context.Context, tenantID, id string) (*Permission, bool, error) {
	p, ok, err := r.store.GetPermission(ctx, normalizeTenant(tenantID), id)
	return p, ok, storeErr(err)
}

// Resolve looks id up in the tenant first and then in the global scope.
func (r *PermissionRegistry) Resolve(ctx context.Context, tenantID, id string) (*Permission, bool, error) {
	tenantID = normalizeTenant(tenantID)
	p, ok, err := r.store.GetPermission(ctx, tenantID, id)
	if err != nil || ok || tenantID == GlobalTenant {
		return p, ok, storeErr(err)
	}
	p, ok, err = r.store.GetPermission(ctx, GlobalTenant, id)
	return p, ok, storeErr(err)
}

// ResolveAll resolves ids in order, skipping the wildcard and unknown ids.
func (r *PermissionRegistry) ResolveAll(ctx context.Context, tenantID string, ids []string) ([]*Permission, error) {
	out := make([]*Permission, 0, len(ids))
	for _, id := range ids {
		if id == Wildcard {
			continue
		}
		p, ok, err := r.Resolve(ctx, tenantID, id)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (r *PermissionRegistry) List(ctx context.Context, tenantID string) ([]*Permission, error) {
	if tenantID != AnyTenant {
		tenantID = normalizeTenant(tenantID)
	}
	ps, err := r.store.ListPermissions(ctx, tenantID)
	return ps, storeErr(err)
}

// Update merges patch into the stored permission. It returns (nil, nil)
// when the permission does not exist.
func (r *PermissionRegistry) Update(ctx context.Context, tenantID, id string, patch PermissionPatch) (*Permission, error) {
	cur, ok, err := r.Get(ctx, tenantID, id)
	if err != nil || !ok {
		return nil, err
	}
	next := cur.Clone()
	patch.apply(next)
	next.ID, next.TenantID, next.CreatedAt = cur.ID, cur.TenantID, cur.CreatedAt
	if next.Effect == "" {
		next.Effect = EffectAllow
	}
	if err := preparePermission(next); err != nil {
		return nil, err
	}
	next.UpdatedAt = r.now()
	if err := r.store.SavePermission(ctx, next); err != nil {
		return nil, storeErr(err)
	}
	return next, nil
}

// Delete reports whether a permission was removed.
func (r *PermissionRegistry) Delete(ctx context.Context, tenantID, id string) (bool, error) {
	ok, err := r.store.DeletePermission(ctx, normalizeTenant(tenantID), id)
	return ok, storeErr(err)
}

// Matches reports whether p applies to ac: resource pattern, action, tenant,
// attribute conditions and time window, in that order.
func (r *PermissionRegistry) Matches(p *Permission, ac *AuthorizationContext) bool {
	return r.matches(p, ac, ac.Attributes())
}

func (r *PermissionRegistry) matches(p *Permission, ac *AuthorizationContext, attrs Attributes) bool {
	if !utils.MatchAnyGlob([]string{p.Resource}, ac.resourceCandidates()...) {
		return false
	}
	if !utils.ContainsAction(p.Actions, ac.Action) {
		return false
	}
	if p.TenantID != GlobalTenant && p.TenantID != ac.TenantID {
		return false
	}
	if len(p.Conditions) > 0 {
		preds, err := p.conditionPredicates()
		if err != nil || !EvaluateConditions(preds, attrs) {
			return false
		}
	}
	if p.TimeCondition != nil && !p.TimeCondition.Allows(r.requestTime(ac)) {
		return false
	}
	return true
}

func (r *PermissionRegistry) requestTime(ac *AuthorizationContext) time.Time {
	if !ac.RequestTime.IsZero() {
		return ac.RequestTime
	}
	return r.now()
}
