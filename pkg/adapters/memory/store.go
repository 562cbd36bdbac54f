package memory

import (
	"context"
	"time"

	"github.com/aretw0/concord/pkg/domain"
	"github.com/patrickmn/go-cache"
)

// DefaultCleanupInterval is how often expired entries are purged from memory.
const DefaultCleanupInterval = time.Minute

// Store implements ports.KVStore in memory, honouring per-key TTLs.
// Safe for concurrent use.
type Store struct {
	items *cache.Cache
}

// NewStore creates a new in-memory store that purges expired keys every cleanupInterval.
func NewStore(cleanupInterval time.Duration) *Store {
	if cleanupInterval <= 0 {
		cleanupInterval = DefaultCleanupInterval
	}
	return &Store{
		items: cache.New(cache.NoExpiration, cleanupInterval),
	}
}

// Set stores a private copy of value, similar to serialization.
func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	expiration := ttl
	if ttl <= 0 {
		expiration = cache.NoExpiration
	}
	s.items.Set(key, append([]byte(nil), value...), expiration)
	return nil
}

// Get returns a copy so callers can't mutate stored bytes.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	v, ok := s.items.Get(key)
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return append([]byte(nil), v.([]byte)...), nil
}

// Delete removes the key.
func (s *Store) Delete(ctx context.Context, key string) error {
	s.items.Delete(key)
	return nil
}

// List returns the unexpired keys.
func (s *Store) List(ctx context.Context) ([]string, error) {
	items := s.items.Items()
	keys := make([]string, 0, len(items))
	for k := range items {
		keys = append(keys, k)
	}
	return keys, nil
}
