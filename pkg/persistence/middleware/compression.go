package middleware

import (
	"context"
	"fmt"
	"time"

	"github.com/aretw0/concord/pkg/ports"
	"github.com/golang/snappy"
)

type compressionMiddleware struct {
	next ports.KVStore
}

// NewCompressionMiddleware creates a middleware that snappy-compresses values.
// Large visualization states (camera paths, selections) compress well and shrink Redis traffic.
func NewCompressionMiddleware() Middleware {
	return func(next ports.KVStore) ports.KVStore {
		return &compressionMiddleware{next: next}
	}
}

func (m *compressionMiddleware) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return m.next.Set(ctx, key, snappy.Encode(nil, value), ttl)
}

func (m *compressionMiddleware) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := m.next.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	plain, err := snappy.Decode(nil, data)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress session: %w", err)
	}
	return plain, nil
}

func (m *compressionMiddleware) Delete(ctx context.Context, key string) error {
	return m.next.Delete(ctx, key)
}

func (m *compressionMiddleware) List(ctx context.Context) ([]string, error) {
	return m.next.List(ctx)
}
