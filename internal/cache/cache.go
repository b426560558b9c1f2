package cache

import (
	"context"
	"time"
)

// Store is a JSON key/value cache with TTLs
type Store interface {
	GetJSON(ctx context.Context, key string, dst any) (hit bool, err error)
	SetJSON(ctx context.Context, key string, val any, ttl time.Duration) error
	// SetJSONIfAbsent stores val only when key is unset and reports whether it did
	SetJSONIfAbsent(ctx context.Context, key string, val any, ttl time.Duration) (stored bool, err error)
	Del(ctx context.Context, keys ...string) error
	Ping(ctx context.Context) error
}
