// Package cli wires configuration into a running engine for the concord commands.
package cli

import (
	"fmt"
	"log/slog"

	"github.com/aretw0/concord"
	"github.com/aretw0/concord/internal/config"
	"github.com/aretw0/concord/pkg/adapters/file"
	"github.com/aretw0/concord/pkg/adapters/memory"
	"github.com/aretw0/concord/pkg/adapters/redis"
	"github.com/aretw0/concord/pkg/persistence/middleware"
	"github.com/aretw0/concord/pkg/ports"
)

// Backend is an opened session store plus the resources it holds.
type Backend struct {
	Store  ports.KVStore
	Locker ports.DistributedLocker
	close  func() error
}

// Close releases the backend's connections.
func (b *Backend) Close() error {
	if b.close == nil {
		return nil
	}
	return b.close()
}

// OpenStore builds the configured KV backend wrapped in the configured middleware:
// compression first, encryption innermost.
func OpenStore(cfg config.Store, logger *slog.Logger) (*Backend, error) {
	b := &Backend{}

	switch cfg.Backend {
	case config.BackendRedis:
		rs := redis.New(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, redis.WithPrefix(cfg.Redis.Prefix))
		b.Store = rs
		b.close = rs.Close
		if cfg.DistributedLock {
			b.Locker = redis.NewLocker(rs.Client(), cfg.Redis.Prefix)
		}
	case config.BackendFile:
		b.Store = file.New(cfg.File.Path)
	case config.BackendMemory, "":
		b.Store = memory.NewStore(memory.DefaultCleanupInterval)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}

	var mws []middleware.Middleware
	if cfg.Compress {
		mws = append(mws, middleware.NewCompressionMiddleware())
	}
	active, fallback, err := cfg.Keys()
	if err != nil {
		_ = b.Close()
		return nil, err
	}
	if active != nil {
		enc, err := middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{
			ActiveKey:    active,
			FallbackKeys: fallback,
		})
		if err != nil {
			_ = b.Close()
			return nil, err
		}
		mws = append(mws, enc)
	}
	b.Store = middleware.Chain(b.Store, mws...)

	logger.Debug("session store opened",
		"backend", cfg.Backend,
		"compress", cfg.Compress,
		"encrypted", active != nil,
		"distributed_lock", b.Locker != nil,
	)
	return b, nil
}

// NewEngine opens the backend and builds an engine from cfg. Callers must Close the backend.
func NewEngine(cfg config.Config, logger *slog.Logger, opts ...concord.Option) (*concord.Engine, *Backend, error) {
	backend, err := OpenStore(cfg.Store, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("error opening session store: %w", err)
	}

	engineOpts := []concord.Option{
		concord.WithLogger(logger),
		concord.WithSessionTTL(cfg.Session.TTL),
		concord.WithLockTimeout(cfg.Session.LockTimeout),
		concord.WithShards(cfg.Session.CacheShards),
	}
	if backend.Locker != nil {
		engineOpts = append(engineOpts, concord.WithLocker(backend.Locker))
	}
	engineOpts = append(engineOpts, opts...)

	return concord.New(backend.Store, engineOpts...), backend, nil
}
