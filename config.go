package authcore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is a complete engine description: settings plus seed data.
type Config struct {
	Version           uint16              `json:"version" yaml:"version"`
	Engine            EngineConfig        `json:"engine" yaml:"engine"`
	SystemRoleTenants []string            `json:"system_role_tenants,omitempty" yaml:"system_role_tenants,omitempty"`
	Permissions       []*Permission       `json:"permissions,omitempty" yaml:"permissions,omitempty"`
	Roles             []*Role             `json:"roles,omitempty" yaml:"roles,omitempty"`
	Policies          []*Policy           `json:"policies,omitempty" yaml:"policies,omitempty"`
	Assignments       []AssignmentRequest `json:"assignments,omitempty" yaml:"assignments,omitempty"`
}

type EngineConfig struct {
	DefaultEffect        Effect `json:"default_effect,omitempty" yaml:"default_effect,omitempty"`
	MaxRoleDepth         *int   `json:"max_role_depth,omitempty" yaml:"max_role_depth,omitempty"`
	CacheEnabled         bool   `json:"cache_enabled" yaml:"cache_enabled"`
	CacheTTLMs           int64  `json:"cache_ttl_ms,omitempty" yaml:"cache_ttl_ms,omitempty"`
	RistrettoNumCounters int64  `json:"ristretto_num_counters,omitempty" yaml:"ristretto_num_counters,omitempty"`
	RistrettoMaxCost     int64  `json:"ristretto_max_cost,omitempty" yaml:"ristretto_max_cost,omitempty"`
	RistrettoBufferItems int64  `json:"ristretto_buffer_items,omitempty" yaml:"ristretto_buffer_items,omitempty"`
	AuditBufferSize      int    `json:"audit_buffer_size,omitempty" yaml:"audit_buffer_size,omitempty"`
}

// ConfigLoader loads configuration from various formats
type ConfigLoader struct{}

func NewConfigLoader() *ConfigLoader {
	return &ConfigLoader{}
}

func (l *ConfigLoader) LoadYAML(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, ErrInvalidConfig.WithCause(err)
	}
	return cfg, nil
}

func (l *ConfigLoader) LoadJSON(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, ErrInvalidConfig.WithCause(err)
	}
	return cfg, nil
}

// LoadFile picks the format from the extension; anything that is not
// .json is read as YAML.
func (l *ConfigLoader) LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, ErrInvalidConfig.WithMessagef("read %s", path).WithCause(err)
	}
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return l.LoadJSON(data)
	}
	return l.LoadYAML(data)
}

// ToYAML exports config to YAML
func (c *Config) ToYAML() ([]byte, error) {
	return yaml.Marshal(c)
}

// ToJSON exports config to JSON
func (c *Config) ToJSON() ([]byte, error) {
	return json.MarshalIndent(c, "", "  ")
}

// Validate checks settings and every seed entity without touching a store.
// Role permission references must name a permission in the same tenant or
// the global scope, or the wildcard.
func (c *Config) Validate() error {
	ec := c.Engine
	if ec.DefaultEffect != "" && ec.DefaultEffect != EffectAllow && ec.DefaultEffect != EffectDeny {
		return ErrInvalidConfig.WithMessagef("engine.default_effect must be allow or deny, got %q", ec.DefaultEffect)
	}
	if ec.MaxRoleDepth != nil && *ec.MaxRoleDepth < 0 {
		return ErrInvalidConfig.WithMessagef("engine.max_role_depth must be >= 0, got %d", *ec.MaxRoleDepth)
	}
	if ec.CacheTTLMs < 0 {
		return ErrInvalidConfig.WithMessage("engine.cache_ttl_ms must be >= 0")
	}
	if ec.AuditBufferSize < 0 {
		return ErrInvalidConfig.WithMessage("engine.audit_buffer_size must be >= 0")
	}

	known := make(map[tenantKey]struct{}, len(c.Permissions))
	for i, p := range c.Permissions {
		if p == nil {
			return ErrInvalidConfig.WithMessagef("permissions[%d] is empty", i)
		}
		dup := p.Clone()
		if dup.Effect == "" {
			dup.Effect = EffectAllow
		}
		if err := preparePermission(dup); err != nil {
			return ErrInvalidConfig.WithMessagef("permission %q: %s", p.ID, errMessage(err))
		}
		k := tenantKey{normalizeTenant(p.TenantID), p.ID}
		if _, seen := known[k]; seen && p.ID != "" {
			return ErrInvalidConfig.WithMessagef("permission %q declared twice in tenant %q", p.ID, k.tenant)
		}
		known[k] = struct{}{}
	}
	for i, r := range c.Roles {
		if r == nil {
			return ErrInvalidConfig.WithMessagef("roles[%d] is empty", i)
		}
		if err := validateStruct("role", r); err != nil {
			return ErrInvalidConfig.WithMessagef("role %q: %s", r.ID, errMessage(err))
		}
		tenant := normalizeTenant(r.TenantID)
		for _, pid := range r.Permissions {
			if pid == Wildcard {
				continue
			}
			_, scoped := known[tenantKey{tenant, pid}]
			_, global := known[tenantKey{GlobalTenant, pid}]
			if !scoped && !global {
				return ErrInvalidConfig.WithMessagef("role %q references unknown permission %q", r.ID, pid)
			}
		}
	}
	for i, p := range c.Policies {
		if p == nil {
			return ErrInvalidConfig.WithMessagef("policies[%d] is empty", i)
		}
		if err := preparePolicy(p.Clone()); err != nil {
			return ErrInvalidConfig.WithMessagef("policy %q: %s", p.ID, errMessage(err))
		}
	}
	for i := range c.Assignments {
		if err := validateStruct("assignment", &c.Assignments[i]); err != nil {
			return ErrInvalidConfig.WithMessagef("assignments[%d]: %s", i, errMessage(err))
		}
	}
	return nil
}

// Options translates the engine section into EngineOptions. When caching
// is enabled a RistrettoCache sized from the section is created.
func (c *Config) Options() ([]EngineOption, error) {
	ec := c.Engine
	var opts []EngineOption
	if ec.DefaultEffect != "" {
		opts = append(opts, WithDefaultEffect(ec.DefaultEffect))
	}
	if ec.MaxRoleDepth != nil {
		opts = append(opts, WithMaxRoleDepth(*ec.MaxRoleDepth))
	}
	if ec.AuditBufferSize > 0 {
		opts = append(opts, WithAuditBuffer(ec.AuditBufferSize))
	}
	if ec.CacheEnabled {
		cache, err := NewRistrettoCache(RistrettoConfig{
			NumCounters: ec.RistrettoNumCounters,
			MaxCost:     ec.RistrettoMaxCost,
			BufferItems: ec.RistrettoBufferItems,
		})
		if err != nil {
			return nil, err
		}
		opts = append(opts, WithCache(cache, time.Duration(ec.CacheTTLMs)*time.Millisecond))
	}
	return opts, nil
}

// ApplyConfig seeds the engine from cfg: system roles, then permissions,
// roles, policies and assignments. Existing entities are updated in place.
// Seeding runs through the engine, so it is audited and invalidates caches.
func (e *Engine) ApplyConfig(ctx context.Context, cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	for _, t := range cfg.SystemRoleTenants {
		if _, err := e.InitializeSystemRoles(ctx, t); err != nil {
			return fmt.Errorf("system roles for tenant %q: %w", t, err)
		}
	}
	for _, p := range cfg.Permissions {
		if err := e.upsertPermission(ctx, p); err != nil {
			return fmt.Errorf("apply permission %s: %w", p.ID, err)
		}
	}
	for _, r := range cfg.Roles {
		if err := e.upsertRole(ctx, r); err != nil {
			return fmt.Errorf("apply role %s: %w", r.ID, err)
		}
	}
	for _, p := range cfg.Policies {
		if err := e.upsertPolicy(ctx, p); err != nil {
			return fmt.Errorf("apply policy %s: %w", p.ID, err)
		}
	}
	for _, a := range cfg.Assignments {
		if _, err := e.AssignRole(ctx, a); err != nil {
			return fmt.Errorf("assign role %s to %s: %w", a.RoleID, a.UserID, err)
		}
	}
	e.log.Info("configuration applied",
		"permissions", len(cfg.Permissions),
		"roles", len(cfg.Roles),
		"policies", len(cfg.Policies),
		"assignments", len(cfg.Assignments),
	)
	return nil
}

func (e *Engine) upsertPermission(ctx context.Context, p *Permission) error {
	if p.ID != "" {
		if _, ok, err := e.permissions.Get(ctx, p.TenantID, p.ID); err != nil {
			return err
		} else if ok {
			effect := p.Effect
			if effect == "" {
				effect = EffectAllow
			}
			patch := PermissionPatch{
				Name:          &p.Name,
				Description:   &p.Description,
				Resource:      &p.Resource,
				Actions:       p.Actions,
				Effect:        &effect,
				Conditions:    nonNil(p.Conditions),
				TimeCondition: p.TimeCondition,
				ClearTime:     p.TimeCondition == nil,
				Priority:      &p.Priority,
			}
			_, err := e.UpdatePermission(ctx, p.TenantID, p.ID, patch)
			return err
		}
	}
	_, err := e.CreatePermission(ctx, p)
	return err
}

func (e *Engine) upsertRole(ctx context.Context, r *Role) error {
	if r.ID != "" {
		if _, ok, err := e.roles.Get(ctx, r.TenantID, r.ID); err != nil {
			return err
		} else if ok {
			patch := RolePatch{
				Name:           &r.Name,
				Description:    &r.Description,
				Permissions:    nonNil(r.Permissions),
				ParentRoles:    nonNil(r.ParentRoles),
				MaxAssignments: &r.MaxAssignments,
			}
			_, err := e.UpdateRole(ctx, r.TenantID, r.ID, patch)
			return err
		}
	}
	_, err := e.CreateRole(ctx, r)
	return err
}

func (e *Engine) upsertPolicy(ctx context.Context, p *Policy) error {
	if p.ID != "" {
		if _, ok, err := e.policies.Get(ctx, p.TenantID, p.ID); err != nil {
			return err
		} else if ok {
			patch := PolicyPatch{
				Name:        &p.Name,
				Description: &p.Description,
				Version:     &p.Version,
				Statements:  p.Statements,
				Active:      &p.Active,
				Priority:    &p.Priority,
			}
			_, err := e.UpdatePolicy(ctx, p.TenantID, p.ID, patch)
			return err
		}
	}
	_, err := e.CreatePolicy(ctx, p)
	return err
}

// nonNil turns nil into an empty slice so a patch clears the field.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
