package authcore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/oarkflow/authcore/logger"
)

// Engine is the authorization entry point. It composes the permission and
// role registries with the policy evaluator, memoizes permission sets in a
// CacheProvider and reports decisions and mutations to an AuditSink.
type Engine struct {
	stores      Stores
	permissions *PermissionRegistry
	roles       *RoleRegistry
	policies    *PolicyEvaluator

	defaultEffect Effect
	maxDepth      int
	cache         CacheProvider
	cacheTTL      time.Duration
	auditSink     AuditSink
	auditBuffer   int
	audit         *auditDispatcher
	custom        CustomEvaluator
	now           func() time.Time
	log           logger.Logger

	// flight coalesces concurrent permission-set resolution per cache key.
	flight singleflight.Group
}

// NewEngine builds an engine. Without options it denies by default, keeps
// everything in memory, caches nothing and discards audit events.
func NewEngine(opts ...EngineOption) (*Engine, error) {
	e := &Engine{
		defaultEffect: EffectDeny,
		maxDepth:      DefaultMaxRoleDepth,
		cache:         NoopCache{},
		cacheTTL:      DefaultCacheTTL,
		auditSink:     NoopAuditSink{},
		auditBuffer:   DefaultAuditBuffer,
		now:           time.Now,
		log:           logger.NewNullLogger(),
	}
	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, err
		}
	}
	e.stores = e.stores.withDefaults()
	e.permissions = NewPermissionRegistry(e.stores.Permissions, e.now)
	e.roles = NewRoleRegistry(e.stores.Roles, e.stores.Assignments, e.permissions, e.maxDepth, e.now)
	e.policies = NewPolicyEvaluator(e.stores.Policies, e.permissions, e.now)
	e.audit = newAuditDispatcher(e.auditSink, e.auditBuffer, e.log)
	return e, nil
}

// Close flushes pending audit events. The engine must not be used after.
func (e *Engine) Close() error {
	e.audit.close()
	return nil
}

func (e *Engine) Permissions() *PermissionRegistry { return e.permissions }
func (e *Engine) Roles() *RoleRegistry             { return e.roles }
func (e *Engine) Policies() *PolicyEvaluator       { return e.policies }
func (e *Engine) DefaultEffect() Effect            { return e.defaultEffect }

// ============================================================================
// AUTHORIZATION
// ============================================================================

// Authorize decides a single request. A result is always returned; the
// error is non-nil only when the request is malformed, a store fails or
// the custom evaluator fails, and the accompanying result is then a denial.
func (e *Engine) Authorize(ctx context.Context, ac *AuthorizationContext) (*AuthorizationResult, error) {
	start := time.Now()
	if ac == nil {
		err := ErrValidationFailed.WithMessage("authorization context is required")
		return e.failed(start, err), err
	}
	req := *ac
	req.TenantID = normalizeTenant(req.TenantID)
	if err := validateStruct("authorization context", &req); err != nil {
		return e.failed(start, err), err
	}

	grants, err := e.resolveGrants(ctx, req.TenantID, req.ActorID)
	if err != nil {
		return e.failed(start, err), err
	}
	res, err := e.decide(ctx, &req, grants)
	e.finish(&req, res, start)
	return res, err
}

// failed is the denial reported alongside an error.
func (e *Engine) failed(start time.Time, err error) *AuthorizationResult {
	return &AuthorizationResult{
		Allowed:  false,
		Reason:   err.Error(),
		Source:   SourceError,
		Duration: time.Since(start),
	}
}

func (e *Engine) decide(ctx context.Context, ac *AuthorizationContext, grants Grants) (*AuthorizationResult, error) {
	if e.custom != nil {
		res, err := e.runCustom(ctx, ac, grants)
		if err != nil || res != nil {
			return res, err
		}
	}
	res, err := e.policies.Evaluate(ctx, ac, grants)
	if err != nil {
		return &AuthorizationResult{Allowed: false, Reason: err.Error(), Source: SourceError}, err
	}
	if !res.Allowed && res.Source == SourceNone && res.Reason == ReasonNoMatch {
		res.Allowed = e.defaultEffect == EffectAllow
		res.Source = SourceDefault
		res.Reason = fmt.Sprintf("%s (default effect: %s)", ReasonNoMatch, e.defaultEffect)
	}
	return res, nil
}

// runCustom gives the custom evaluator first refusal. A nil result with a
// nil error passes control to the built-in pipeline.
func (e *Engine) runCustom(ctx context.Context, ac *AuthorizationContext, grants Grants) (*AuthorizationResult, error) {
	perms, err := e.permissions.ResolveAll(ctx, ac.TenantID, grants.PermissionIDs)
	if err != nil {
		return &AuthorizationResult{Allowed: false, Reason: err.Error(), Source: SourceError}, err
	}
	for _, p := range perms {
		ok, err := e.custom(ctx, ac, p)
		if err != nil {
			return &AuthorizationResult{
				Allowed:   false,
				Reason:    "custom evaluator error",
				DecidedBy: p.ID,
				Source:    SourceCustom,
			}, fmt.Errorf("custom evaluator on permission %s: %w", p.ID, err)
		}
		if ok {
			return &AuthorizationResult{
				Allowed:     true,
				Reason:      "allowed by custom evaluator on permission " + p.ID,
				DecidedBy:   p.ID,
				Source:      SourceCustom,
				MatchingIDs: []string{p.ID},
			}, nil
		}
	}
	return nil, nil
}

func (e *Engine) finish(ac *AuthorizationContext, res *AuthorizationResult, start time.Time) {
	res.Duration = time.Since(start)
	typ := AuditAuthorizationDenied
	if res.Allowed {
		typ = AuditAuthorizationAllowed
	}
	e.audit.emit(AuditEvent{
		Type:       typ,
		Timestamp:  e.now(),
		ActorID:    ac.ActorID,
		TenantID:   ac.TenantID,
		EntityType: ac.Resource,
		EntityID:   ac.ResourceID,
		Metadata: map[string]any{
			"action":     ac.Action,
			"reason":     res.Reason,
			"decided_by": res.DecidedBy,
			"source":     string(res.Source),
			"duration":   res.Duration.String(),
		},
	})
	e.log.Debug("authorization decision",
		"tenant", ac.TenantID,
		"actor", ac.ActorID,
		"resource", ac.Resource,
		"action", ac.Action,
		"allowed", res.Allowed,
		"decided_by", res.DecidedBy,
		"reason", res.Reason,
	)
}

// BatchCheck is one (resource, action) pair of a batch.
type BatchCheck struct {
	Resource           string         `json:"resource"`
	Action             string         `json:"action"`
	ResourceID         string         `json:"resource_id,omitempty"`
	ResourceAttributes map[string]any `json:"resource_attributes,omitempty"`
}

// BatchRequest evaluates many checks for one actor.
type BatchRequest struct {
	ActorID         string         `json:"actor_id"`
	TenantID        string         `json:"tenant_id"`
	ActorAttributes map[string]any `json:"actor_attributes,omitempty"`
	Environment     map[string]any `json:"environment,omitempty"`
	RequestTime     time.Time      `json:"request_time,omitempty"`
	Checks          []BatchCheck   `json:"checks"`
}

// BatchResult holds one result per check, in request order.
type BatchResult struct {
	Results  []*AuthorizationResult `json:"results"`
	Duration time.Duration          `json:"duration"`
}

// AuthorizeBatch resolves the actor's permissions once and decides every
// check. A malformed check yields a denial in its slot. Cancellation of ctx
// or a custom evaluator failure stops the batch and returns the results
// decided so far with the error.
func (e *Engine) AuthorizeBatch(ctx context.Context, req BatchRequest) (*BatchResult, error) {
	start := time.Now()
	tenant := normalizeTenant(req.TenantID)
	out := &BatchResult{Results: make([]*AuthorizationResult, 0, len(req.Checks))}

	grants, err := e.resolveGrants(ctx, tenant, req.ActorID)
	if err != nil {
		out.Duration = time.Since(start)
		return out, err
	}
	for _, check := range req.Checks {
		if err := ctx.Err(); err != nil {
			out.Duration = time.Since(start)
			return out, err
		}
		itemStart := time.Now()
		ac := &AuthorizationContext{
			ActorID:            req.ActorID,
			TenantID:           tenant,
			Resource:           check.Resource,
			Action:             check.Action,
			ResourceID:         check.ResourceID,
			ResourceAttributes: check.ResourceAttributes,
			ActorAttributes:    req.ActorAttributes,
			Environment:        req.Environment,
			RequestTime:        req.RequestTime,
		}
		if err := validateStruct("authorization context", ac); err != nil {
			out.Results = append(out.Results, e.failed(itemStart, err))
			continue
		}
		res, err := e.decide(ctx, ac, grants)
		e.finish(ac, res, itemStart)
		out.Results = append(out.Results, res)
		if err != nil {
			out.Duration = time.Since(start)
			return out, err
		}
	}
	out.Duration = time.Since(start)
	return out, nil
}

// Can reports only whether the request is allowed. Errors deny.
func (e *Engine) Can(ctx context.Context, actorID, tenantID, resource, action string, resourceID ...string) bool {
	ac := &AuthorizationContext{ActorID: actorID, TenantID: tenantID, Resource: resource, Action: action}
	if len(resourceID) > 0 {
		ac.ResourceID = resourceID[0]
	}
	res, err := e.Authorize(ctx, ac)
	return err == nil && res.Allowed
}

// ============================================================================
// PERMISSION SET CACHE
// ============================================================================

// GetUserEffectivePermissions returns the user's resolved permission ids,
// served from the cache when possible.
func (e *Engine) GetUserEffectivePermissions(ctx context.Context, userID, tenantID string) ([]string, error) {
	g, err := e.resolveGrants(ctx, normalizeTenant(tenantID), userID)
	if err != nil {
		return nil, err
	}
	return g.PermissionIDs, nil
}

// resolveGrants returns the user's grants. Cache failures are logged and
// the grants are recomputed; they never fail the request.
func (e *Engine) resolveGrants(ctx context.Context, tenantID, userID string) (Grants, error) {
	if userID == "" {
		return Grants{}, nil
	}
	key := PermissionsCacheKey(tenantID, userID)
	if g, ok := e.cachedGrants(ctx, key); ok {
		return g, nil
	}
	v, err, _ := e.flight.Do(key, func() (any, error) {
		g, expiry, err := e.roles.userGrants(ctx, tenantID, userID)
		if err != nil {
			return Grants{}, err
		}
		e.storeGrants(ctx, key, g, expiry)
		return g, nil
	})
	if err != nil {
		return Grants{}, err
	}
	return v.(Grants), nil
}

func (e *Engine) cacheEnabled() bool {
	_, noop := e.cache.(NoopCache)
	return !noop
}

func (e *Engine) cachedGrants(ctx context.Context, key string) (Grants, bool) {
	if !e.cacheEnabled() {
		return Grants{}, false
	}
	raw, ok, err := e.cache.Get(ctx, key)
	if err != nil {
		e.log.Warn("permission cache get failed", "key", key, "err", err)
		return Grants{}, false
	}
	if !ok {
		return Grants{}, false
	}
	var g Grants
	if err := json.Unmarshal(raw, &g); err != nil {
		e.log.Warn("permission cache entry unreadable", "key", key, "err", err)
		return Grants{}, false
	}
	return g, true
}

// storeGrants caches g for at most cacheTTL and never past the earliest
// expiry of the assignments it came from.
func (e *Engine) storeGrants(ctx context.Context, key string, g Grants, expiry time.Time) {
	if !e.cacheEnabled() {
		return
	}
	ttl := e.cacheTTL
	if !expiry.IsZero() {
		remaining := expiry.Sub(e.now())
		if remaining <= 0 {
			return
		}
		if remaining < ttl {
			ttl = remaining
		}
	}
	raw, err := json.Marshal(g)
	if err != nil {
		e.log.Error("permission cache encode failed", "key", key, "err", err)
		return
	}
	if err := e.cache.Set(ctx, key, raw, ttl); err != nil {
		e.log.Warn("permission cache set failed", "key", key, "err", err)
	}
}

// invalidate drops the cached grants of every listed user.
func (e *Engine) invalidate(ctx context.Context, users []tenantUser) {
	for _, u := range users {
		key := PermissionsCacheKey(u.tenant, u.user)
		e.flight.Forget(key)
		if err := e.cache.Delete(ctx, key); err != nil {
			e.log.Error("permission cache delete failed", "key", key, "err", err)
		}
	}
}

// invalidateRoles drops the grants of users holding any of roleIDs or a
// role inheriting from them.
func (e *Engine) invalidateRoles(ctx context.Context, tenantID string, roleIDs ...string) {
	users, err := e.roles.affectedUsers(ctx, tenantID, roleIDs)
	if err != nil {
		e.log.Error("cache invalidation lookup failed", "tenant", tenantID, "err", err)
		return
	}
	e.invalidate(ctx, users)
}
