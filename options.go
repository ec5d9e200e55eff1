package authcore

import (
	"context"
	"time"

	"github.com/oarkflow/authcore/logger"
)

// Logger is re-exported so callers need not import the logger package.
type Logger = logger.Logger

// EngineOption configures an Engine at construction.
type EngineOption func(*Engine) error

// CustomEvaluator is consulted before the built-in pipeline for each of the
// actor's resolved permissions. Returning true allows the request.
type CustomEvaluator func(ctx context.Context, ac *AuthorizationContext, p *Permission) (bool, error)

// WithLogger installs a Logger on the Engine via EngineOption
func WithLogger(l logger.Logger) EngineOption {
	return func(e *Engine) error {
		if l == nil {
			l = logger.NewNullLogger()
		}
		e.log = l
		return nil
	}
}

// WithDefaultEffect sets the decision used when nothing matches.
func WithDefaultEffect(effect Effect) EngineOption {
	return func(e *Engine) error {
		if effect != EffectAllow && effect != EffectDeny {
			return ErrInvalidConfig.WithMessagef("default effect must be allow or deny, got %q", effect)
		}
		e.defaultEffect = effect
		return nil
	}
}

// WithMaxRoleDepth bounds role inheritance walks. Zero means a role's own
// permissions only.
func WithMaxRoleDepth(depth int) EngineOption {
	return func(e *Engine) error {
		if depth < 0 {
			return ErrInvalidConfig.WithMessagef("max role depth must be >= 0, got %d", depth)
		}
		e.maxDepth = depth
		return nil
	}
}

// WithCache memoizes permission sets in provider. A non-positive ttl keeps
// DefaultCacheTTL.
func WithCache(provider CacheProvider, ttl time.Duration) EngineOption {
	return func(e *Engine) error {
		if provider == nil {
			provider = NoopCache{}
		}
		e.cache = provider
		if ttl > 0 {
			e.cacheTTL = ttl
		}
		return nil
	}
}

func WithAuditSink(sink AuditSink) EngineOption {
	return func(e *Engine) error {
		if sink == nil {
			sink = NoopAuditSink{}
		}
		e.auditSink = sink
		return nil
	}
}

// WithAuditBuffer sets the capacity of the async audit queue.
func WithAuditBuffer(size int) EngineOption {
	return func(e *Engine) error {
		if size <= 0 {
			return ErrInvalidConfig.WithMessagef("audit buffer must be positive, got %d", size)
		}
		e.auditBuffer = size
		return nil
	}
}

func WithCustomEvaluator(fn CustomEvaluator) EngineOption {
	return func(e *Engine) error {
		e.custom = fn
		return nil
	}
}

// WithClock replaces time.Now for expiry checks, time windows and
// timestamps.
func WithClock(clock func() time.Time) EngineOption {
	return func(e *Engine) error {
		if clock == nil {
			clock = time.Now
		}
		e.now = clock
		return nil
	}
}

// WithStores substitutes storage backends. Unset ports stay in memory.
func WithStores(s Stores) EngineOption {
	return func(e *Engine) error {
		e.stores = s
		return nil
	}
}

type actorKey struct{}

// WithActor records who is performing mutations made with ctx. The id is
// copied into audit events and assignment records.
func WithActor(ctx context.Context, actorID string) context.Context {
	return context.WithValue(ctx, actorKey{}, actorID)
}

// ActorFromContext returns the id stored by WithActor.
func ActorFromContext(ctx context.Context) string {
	id, _ := ctx.Value(actorKey{}).(string)
	return id
}
