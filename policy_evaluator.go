package authcore

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/oarkflow/authcore/utils"
)

// DefaultPolicyVersion is assigned to policies created without a version.
const DefaultPolicyVersion = "1"

// PolicyEvaluator owns policy documents and runs the two-stage evaluation:
// policies first, then the user's direct permissions.
type PolicyEvaluator struct {
	store       PolicyStore
	permissions *PermissionRegistry
	now         func() time.Time
}

func NewPolicyEvaluator(store PolicyStore, permissions *PermissionRegistry, clock func() time.Time) *PolicyEvaluator {
	if store == nil {
		store = NewMemoryStore()
	}
	if clock == nil {
		clock = time.Now
	}
	if permissions == nil {
		permissions = NewPermissionRegistry(nil, clock)
	}
	return &PolicyEvaluator{store: store, permissions: permissions, now: clock}
}

func preparePolicy(p *Policy) error {
	if err := validateStruct("policy", p); err != nil {
		return err
	}
	for i := range p.Statements {
		st := &p.Statements[i]
		preds, err := CompileConditions(st.Conditions)
		if err != nil {
			return ErrValidationFailed.WithMessagef("policy statement %d: %s", i, errMessage(err))
		}
		st.predicates, st.compiled = preds, true
	}
	return nil
}

// Create stores a new policy. Statements are validated and their conditions
// compiled before anything is written.
func (e *PolicyEvaluator) Create(ctx context.Context, p *Policy) (*Policy, error) {
	if p == nil {
		return nil, ErrValidationFailed.WithMessage("policy is required")
	}
	p = p.Clone()
	p.TenantID = normalizeTenant(p.TenantID)
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Version == "" {
		p.Version = DefaultPolicyVersion
	}
	if err := preparePolicy(p); err != nil {
		return nil, err
	}
	now := e.now()
	p.CreatedAt, p.UpdatedAt = now, now
	if err := e.store.InsertPolicy(ctx, p); err != nil {
		return nil, storeErr(err)
	}
	return p, nil
}

func (e *PolicyEvaluator) Get(ctx context.Context, tenantID, id string) (*Policy, bool, error) {
	p, ok, err := e.store.GetPolicy(ctx, normalizeTenant(tenantID), id)
	return p, ok, storeErr(err)
}

func (e *PolicyEvaluator) List(ctx context.Context, tenantID string) ([]*Policy, error) {
	if tenantID != AnyTenant {
		tenantID = normalizeTenant(tenantID)
	}
	ps, err := e.store.ListPolicies(ctx, tenantID)
	return ps, storeErr(err)
}

// Update merges patch into the stored policy, returning (nil, nil) when the
// policy does not exist.
func (e *PolicyEvaluator) Update(ctx context.Context, tenantID, id string, patch PolicyPatch) (*Policy, error) {
	cur, ok, err := e.Get(ctx, tenantID, id)
	if err != nil || !ok {
		return nil, err
	}
	next := cur.Clone()
	patch.apply(next)
	next.ID, next.TenantID, next.CreatedAt = cur.ID, cur.TenantID, cur.CreatedAt
	if next.Version == "" {
		next.Version = DefaultPolicyVersion
	}
	if err := preparePolicy(next); err != nil {
		return nil, err
	}
	next.UpdatedAt = e.now()
	if err := e.store.SavePolicy(ctx, next); err != nil {
		return nil, storeErr(err)
	}
	return next, nil
}

func (e *PolicyEvaluator) Delete(ctx context.Context, tenantID, id string) (bool, error) {
	ok, err := e.store.DeletePolicy(ctx, normalizeTenant(tenantID), id)
	return ok, storeErr(err)
}

// ActivePolicies returns the tenant's and the global scope's active
// policies, highest priority first. Ties keep creation order.
func (e *PolicyEvaluator) ActivePolicies(ctx context.Context, tenantID string) ([]*Policy, error) {
	tenantID = normalizeTenant(tenantID)
	scoped, err := e.store.ListPolicies(ctx, tenantID)
	if err != nil {
		return nil, storeErr(err)
	}
	if tenantID != GlobalTenant {
		global, err := e.store.ListPolicies(ctx, GlobalTenant)
		if err != nil {
			return nil, storeErr(err)
		}
		scoped = append(scoped, global...)
	}
	active := scoped[:0]
	for _, p := range scoped {
		if p.Active {
			active = append(active, p)
		}
	}
	slices.SortStableFunc(active, func(a, b *Policy) int {
		if c := cmp.Compare(b.Priority, a.Priority); c != 0 {
			return c
		}
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return active, nil
}

// Evaluate decides ac for a user holding grants. A result with reason
// ReasonNoMatch and an empty Source means nothing applied.
func (e *PolicyEvaluator) Evaluate(ctx context.Context, ac *AuthorizationContext, grants Grants) (*AuthorizationResult, error) {
	if grants.HasWildcard() {
		return &AuthorizationResult{
			Allowed:     true,
			Reason:      "wildcard permission grants all access",
			DecidedBy:   Wildcard,
			Source:      SourceWildcard,
			MatchingIDs: []string{Wildcard},
		}, nil
	}

	attrs := ac.Attributes()
	res, err := e.evaluatePolicies(ctx, ac, attrs, grants)
	if err != nil || res != nil {
		return res, err
	}
	return e.evaluatePermissions(ctx, ac, attrs, grants)
}

func (e *PolicyEvaluator) evaluatePolicies(ctx context.Context, ac *AuthorizationContext, attrs Attributes, grants Grants) (*AuthorizationResult, error) {
	policies, err := e.ActivePolicies(ctx, ac.TenantID)
	if err != nil {
		return nil, err
	}
	if len(policies) == 0 {
		return nil, nil
	}
	principals := principalSet(ac.ActorID, grants)
	resources := ac.resourceCandidates()

	var allowed []string
	var firstAllow string
	for _, p := range policies {
		for i := range p.Statements {
			st := &p.Statements[i]
			if !statementMatches(st, ac.Action, resources, principals, attrs) {
				continue
			}
			if st.Effect == EffectDeny {
				return &AuthorizationResult{
					Allowed:     false,
					Reason:      "denied by policy " + describeStatement(p, st, i),
					DecidedBy:   p.ID,
					Source:      SourcePolicy,
					MatchingIDs: append(allowed, p.ID),
					DenyingIDs:  []string{p.ID},
				}, nil
			}
			if firstAllow == "" {
				firstAllow = describeStatement(p, st, i)
			}
			allowed = append(allowed, p.ID)
			break
		}
	}
	if len(allowed) == 0 {
		return nil, nil
	}
	return &AuthorizationResult{
		Allowed:     true,
		Reason:      "allowed by policy " + firstAllow,
		DecidedBy:   allowed[0],
		Source:      SourcePolicy,
		MatchingIDs: allowed,
	}, nil
}

func (e *PolicyEvaluator) evaluatePermissions(ctx context.Context, ac *AuthorizationContext, attrs Attributes, grants Grants) (*AuthorizationResult, error) {
	perms, err := e.permissions.ResolveAll(ctx, ac.TenantID, grants.PermissionIDs)
	if err != nil {
		return nil, err
	}
	slices.SortStableFunc(perms, func(a, b *Permission) int {
		if a.Effect != b.Effect {
			if a.Effect == EffectDeny {
				return -1
			}
			if b.Effect == EffectDeny {
				return 1
			}
		}
		return cmp.Compare(b.Priority, a.Priority)
	})

	var matched []string
	for _, p := range perms {
		if !e.permissions.matches(p, ac, attrs) {
			continue
		}
		if p.Effect == EffectDeny {
			return &AuthorizationResult{
				Allowed:     false,
				Reason:      fmt.Sprintf("denied by permission %s", p.ID),
				DecidedBy:   p.ID,
				Source:      SourcePermission,
				MatchingIDs: append(matched, p.ID),
				DenyingIDs:  []string{p.ID},
			}, nil
		}
		matched = append(matched, p.ID)
	}
	if len(matched) == 0 {
		return &AuthorizationResult{Allowed: false, Reason: ReasonNoMatch}, nil
	}
	return &AuthorizationResult{
		Allowed:     true,
		Reason:      fmt.Sprintf("allowed by permission %s", matched[0]),
		DecidedBy:   matched[0],
		Source:      SourcePermission,
		MatchingIDs: matched,
	}, nil
}

func principalSet(actorID string, grants Grants) map[string]struct{} {
	set := make(map[string]struct{}, 1+len(grants.PermissionIDs)+len(grants.RoleIDs))
	if actorID != "" {
		set[actorID] = struct{}{}
	}
	for _, id := range grants.PermissionIDs {
		set[id] = struct{}{}
	}
	for _, id := range grants.RoleIDs {
		set[id] = struct{}{}
	}
	return set
}

func principalListMatches(list []string, principals map[string]struct{}) bool {
	for _, p := range list {
		if p == Wildcard {
			return true
		}
		if _, ok := principals[p]; ok {
			return true
		}
	}
	return false
}

func statementMatches(st *Statement, action string, resources []string, principals map[string]struct{}, attrs Attributes) bool {
	if len(st.NotPrincipals) > 0 && principalListMatches(st.NotPrincipals, principals) {
		return false
	}
	if len(st.Principals) > 0 && !principalListMatches(st.Principals, principals) {
		return false
	}
	if !utils.MatchAnyGlob(st.Actions, action) || utils.MatchAnyGlob(st.NotActions, action) {
		return false
	}
	if !utils.MatchAnyGlob(st.Resources, resources...) || utils.MatchAnyGlob(st.NotResources, resources...) {
		return false
	}
	if len(st.Conditions) > 0 {
		preds, err := st.conditionPredicates()
		if err != nil || !EvaluateConditions(preds, attrs) {
			return false
		}
	}
	return true
}

func describeStatement(p *Policy, st *Statement, idx int) string {
	if st.Sid != "" {
		return fmt.Sprintf("%s (statement %s)", p.ID, st.Sid)
	}
	return fmt.Sprintf("%s (statement %d)", p.ID, idx)
}
