package authcore

import (
	"context"
	"time"

	"github.com/dgraph-io/ristretto"
)

// DefaultCacheTTL is the lifetime of a cached permission set.
const DefaultCacheTTL = 5 * time.Minute

// CacheProvider stores serialized permission sets. Get reports a miss with
// ok=false and a nil error.
type CacheProvider interface {
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// PermissionsCacheKey is the cache key of a user's permission set.
func PermissionsCacheKey(tenantID, userID string) string {
	return "user:" + tenantID + ":" + userID + ":permissions"
}

// NoopCache never stores anything. It is the engine default.
type NoopCache struct{}

func (NoopCache) Get(context.Context, string) ([]byte, bool, error)        { return nil, false, nil }
func (NoopCache) Set(context.Context, string, []byte, time.Duration) error { return nil }
func (NoopCache) Delete(context.Context, string) error                     { return nil }

// RistrettoConfig sizes a RistrettoCache. Zero fields take defaults.
type RistrettoConfig struct {
	NumCounters int64
	MaxCost     int64
	BufferItems int64
}

// RistrettoCache is an in-process CacheProvider. Cost is the value size in
// bytes, so MaxCost bounds memory.
type RistrettoCache struct {
	c *ristretto.Cache
}

func NewRistrettoCache(cfg RistrettoConfig) (*RistrettoCache, error) {
	if cfg.NumCounters <= 0 {
		cfg.NumCounters = 1e5
	}
	if cfg.MaxCost <= 0 {
		cfg.MaxCost = 64 << 20
	}
	if cfg.BufferItems <= 0 {
		cfg.BufferItems = 64
	}
	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: cfg.NumCounters,
		MaxCost:     cfg.MaxCost,
		BufferItems: cfg.BufferItems,
	})
	if err != nil {
		return nil, ErrInvalidConfig.WithCause(err)
	}
	return &RistrettoCache{c: c}, nil
}

func (r *RistrettoCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := r.c.Get(key)
	if !ok {
		return nil, false, nil
	}
	b, ok := v.([]byte)
	return b, ok, nil
}

// Set waits for the write buffer to drain so the value is visible to the
// next Get.
func (r *RistrettoCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	r.c.SetWithTTL(key, value, int64(len(value)), ttl)
	r.c.Wait()
	return nil
}

func (r *RistrettoCache) Delete(_ context.Context, key string) error {
	r.c.Del(key)
	return nil
}

func (r *RistrettoCache) Close() {
	r.c.Close()
}
