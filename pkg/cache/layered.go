package cache

import (
	"context"
	"time"
)

const (
	localMaxEntries = 1000
	localSweepEvery = 5 * time.Minute

	// localFillTTL bounds how stale a read-through fill can get ahead
	// of the authoritative Redis entry.
	localFillTTL = 10 * time.Minute
)

// LayeredCache fronts a RedisCache with an in-process byte cache. Reads hit
// the local layer first; writes go through to Redis and then refresh the
// local copy. Locks and existence checks always go to Redis, since only it
// is shared across instances.
type LayeredCache struct {
	local *localCache
	redis *RedisCache
}

func NewLayeredCache(redis *RedisCache) *LayeredCache {
	return &LayeredCache{
		local: newLocalCache(localMaxEntries, localSweepEvery),
		redis: redis,
	}
}

func (lc *LayeredCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := encode(value)
	if err != nil {
		return err
	}
	if err := lc.redis.setBytes(ctx, key, data, ttl); err != nil {
		return err
	}
	lc.local.set(lc.redis.key(key), data, ttl)
	return nil
}

func (lc *LayeredCache) Get(ctx context.Context, key string, dest interface{}) error {
	full := lc.redis.key(key)
	if data, ok := lc.local.get(full); ok {
		return decodeInto(data, dest)
	}

	data, err := lc.redis.getBytes(ctx, key)
	if err != nil {
		return err
	}
	lc.local.set(full, data, localFillTTL)
	return decodeInto(data, dest)
}

func (lc *LayeredCache) Exists(ctx context.Context, keys ...string) (bool, error) {
	return lc.redis.Exists(ctx, keys...)
}

func (lc *LayeredCache) MSet(ctx context.Context, values map[string]interface{}, ttl time.Duration) error {
	if err := lc.redis.MSet(ctx, values, ttl); err != nil {
		return err
	}
	for key, value := range values {
		if data, err := encode(value); err == nil {
			lc.local.set(lc.redis.key(key), data, ttl)
		}
	}
	return nil
}

func (lc *LayeredCache) MGet(ctx context.Context, keys ...string) (map[string]string, error) {
	return lc.redis.MGet(ctx, keys...)
}

func (lc *LayeredCache) DeleteByPattern(ctx context.Context, pattern string) error {
	// Patterns end in a glob; locally a prefix wipe covers the same keys.
	lc.local.removePrefix(lc.redis.key(trimGlob(pattern)))
	return lc.redis.DeleteByPattern(ctx, pattern)
}

func (lc *LayeredCache) TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return lc.redis.TryLock(ctx, key, ttl)
}

func (lc *LayeredCache) Unlock(ctx context.Context, key string) error {
	return lc.redis.Unlock(ctx, key)
}

// Close stops the local janitor. The underlying Redis client is shared and
// stays open; whoever constructed it closes it.
func (lc *LayeredCache) Close() {
	lc.local.close()
}

var _ Service = (*LayeredCache)(nil)
