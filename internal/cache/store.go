package cache

import (
	"context"
	"errors"
	"time"
)

// ErrCacheMiss is returned by Store.Get when the key is absent or expired.
var ErrCacheMiss = errors.New("cache miss")

// Store is a remote key/value cache with per-entry expiry. Implementations
// must be safe for concurrent use.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}
