package ports

import (
	"context"
	"time"
)

// KVStore is the durable backing store for sessions.
// Each key holds one serialized session; Set replaces the whole value atomically.
type KVStore interface {
	// Get returns the value stored under key.
	// Returns domain.ErrSessionNotFound if the key does not exist or has expired.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key, refreshing its TTL. A zero ttl means no expiration.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// List returns the keys that have not expired.
	List(ctx context.Context) ([]string, error)
}
