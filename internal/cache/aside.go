package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"
)

type TTLs struct {
	Content  time.Duration `yaml:"content"`
	Metadata time.Duration `yaml:"metadata"`
	List     time.Duration `yaml:"list"`
}

func DefaultTTLs() TTLs {
	return TTLs{
		Content:  4 * time.Hour,
		Metadata: 2 * time.Hour,
		List:     15 * time.Minute,
	}
}

// Aside wraps a Cache so that no cache failure ever reaches the caller:
// errors are logged at warning and reads degrade to misses. A nil *Aside is
// valid and caches nothing.
type Aside struct {
	cache  Cache
	logger *slog.Logger
	TTLs   TTLs
}

func NewAside(c Cache, ttls TTLs, logger *slog.Logger) *Aside {
	if c == nil {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Aside{cache: c, logger: logger, TTLs: ttls}
}

// GetJSON returns the decoded cached value for key, if any.
func GetJSON[T any](ctx context.Context, a *Aside, key string) (T, bool) {
	var out T
	if a == nil {
		return out, false
	}
	raw, ok, err := a.cache.Get(ctx, key)
	if err != nil {
		a.logger.Warn("cache get failed", "key", key, "error", err)
		return out, false
	}
	if !ok {
		return out, false
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		a.logger.Warn("cache entry undecodable", "key", key, "error", err)
		a.Invalidate(ctx, key)
		var zero T
		return zero, false
	}
	return out, true
}

func (a *Aside) SetJSON(ctx context.Context, key string, value any, ttl time.Duration) {
	if a == nil {
		return
	}
	raw, err := json.Marshal(value)
	if err != nil {
		a.logger.Warn("cache encode failed", "key", key, "error", err)
		return
	}
	if err := a.cache.Set(ctx, key, raw, ttl); err != nil {
		a.logger.Warn("cache set failed", "key", key, "error", err)
	}
}

func (a *Aside) Invalidate(ctx context.Context, keys ...string) {
	if a == nil || len(keys) == 0 {
		return
	}
	if err := a.cache.Remove(ctx, keys...); err != nil {
		a.logger.Warn("cache invalidate failed", "keys", keys, "error", err)
	}
}

// GetOrLoad serves key from the cache, or calls load and caches its result.
// Load errors are returned as-is and nothing is cached.
func GetOrLoad[T any](ctx context.Context, a *Aside, key string, ttl time.Duration, load func(context.Context) (T, error)) (T, error) {
	if v, ok := GetJSON[T](ctx, a, key); ok {
		return v, nil
	}
	v, err := load(ctx)
	if err != nil {
		return v, err
	}
	a.SetJSON(ctx, key, v, ttl)
	return v, nil
}
