package cache

import (
	"context"
	"time"
)

// BasicOps is the key-value surface used by the cache-aside store.
type BasicOps interface {
	// Get returns "" and no error for a missing key.
	Get(ctx context.Context, key string) (string, error)
	// Set stores value; a zero ttl never expires.
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
}

// WindowCounter counts hits in fixed windows. The window starts with the
// first hit on a key.
type WindowCounter interface {
	IncrWindow(ctx context.Context, key string, window time.Duration) (int64, error)
}
