// Package cache provides the process-level key/value store used for
// self-service flows, authorization decisions and short-lived user caching.
// Two backends exist: an in-memory TTL store (single instance, tests) and
// Redis (multi-instance deployments).
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrMiss is returned when a key is absent or expired.
var ErrMiss = errors.New("cache miss")

// Cache is the contract shared by all backends. Values are opaque bytes;
// callers own serialization.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}
