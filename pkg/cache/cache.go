// Package cache provides the shared Redis cache, an in-process front for hot
// keys, and the advisory locks used to fence scheduled jobs.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

var ErrCacheMiss = errors.New("cache: key not found")

// Service is the cache surface the services depend on. Values are stored
// JSON-encoded; string values pass through as-is.
type Service interface {
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Get(ctx context.Context, key string, dest interface{}) error
	Exists(ctx context.Context, keys ...string) (bool, error)
	MSet(ctx context.Context, values map[string]interface{}, ttl time.Duration) error
	MGet(ctx context.Context, keys ...string) (map[string]string, error)
	DeleteByPattern(ctx context.Context, pattern string) error
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key string) error
}

// MGetTyped bulk-reads keys and unmarshals each hit into T. Entries that fail
// to decode are dropped from the result.
func MGetTyped[T any](ctx context.Context, c Service, keys ...string) (map[string]T, error) {
	if len(keys) == 0 {
		return map[string]T{}, nil
	}

	raw, err := c.MGet(ctx, keys...)
	if err != nil {
		return nil, err
	}

	out := make(map[string]T, len(raw))
	for key, val := range raw {
		var v T
		if err := json.Unmarshal([]byte(val), &v); err != nil {
			continue
		}
		out[key] = v
	}
	return out, nil
}

// encode turns a value into its stored form. Strings pass through so callers
// can cache pre-rendered text without double encoding.
func encode(value interface{}) ([]byte, error) {
	if s, ok := value.(string); ok {
		return []byte(s), nil
	}
	return json.Marshal(value)
}

// decodeInto is the inverse of encode.
func decodeInto(data []byte, dest interface{}) error {
	if sp, ok := dest.(*string); ok {
		*sp = string(data)
		return nil
	}
	return json.Unmarshal(data, dest)
}
