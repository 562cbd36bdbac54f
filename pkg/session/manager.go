package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/aretw0/concord/internal/logging"
	"github.com/aretw0/concord/internal/shard"
	"github.com/aretw0/concord/pkg/domain"
	"github.com/aretw0/concord/pkg/observability"
	"github.com/aretw0/concord/pkg/ports"
)

// Manager is the session store: it owns session creation, lookup, mutation and expiry.
// Safe for concurrent use.
type Manager struct {
	store ports.KVStore
	cache *cache
	locks *Locks

	ttl     time.Duration
	now     func() time.Time
	logger  *slog.Logger
	metrics *observability.Metrics

	// shared is set when other replicas write the same store; reads then bypass the cache.
	shared bool
}

type options struct {
	locker      ports.DistributedLocker
	logger      *slog.Logger
	metrics     *observability.Metrics
	clock       func() time.Time
	ttl         time.Duration
	lockTimeout time.Duration
	shards      int
}

// Option configures the Manager.
type Option func(*options)

// WithLocker enables distributed locking. The in-memory cache is then used for
// bookkeeping only, and every read goes to the backing store.
func WithLocker(locker ports.DistributedLocker) Option {
	return func(o *options) {
		o.locker = locker
	}
}

// WithLogger configures a logger for the Manager.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithMetrics records lock timeouts, expirations and cache size.
func WithMetrics(m *observability.Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.clock = now
	}
}

// WithTTL sets how long a session survives without updates. Zero disables expiry.
func WithTTL(ttl time.Duration) Option {
	return func(o *options) {
		o.ttl = ttl
	}
}

// WithLockTimeout bounds the wait for a session lock. Zero waits until the context ends.
func WithLockTimeout(d time.Duration) Option {
	return func(o *options) {
		o.lockTimeout = d
	}
}

// WithShards sets the number of cache and lock shards.
func WithShards(n int) Option {
	return func(o *options) {
		o.shards = n
	}
}

// NewManager creates a session store backed by store.
func NewManager(store ports.KVStore, opts ...Option) *Manager {
	o := options{
		logger:      logging.NewNop(),
		clock:       time.Now,
		ttl:         domain.DefaultSessionTTL,
		lockTimeout: domain.DefaultLockTimeout,
		shards:      shard.DefaultCount,
	}
	for _, opt := range opts {
		opt(&o)
	}

	locks := NewLocks(o.shards, o.lockTimeout)
	locks.locker = o.locker
	locks.logger = o.logger
	locks.onTimeout = o.metrics.IncLockTimeout

	return &Manager{
		store:   store,
		cache:   newCache(o.shards),
		locks:   locks,
		ttl:     o.ttl,
		now:     o.clock,
		logger:  o.logger,
		metrics: o.metrics,
		shared:  o.locker != nil,
	}
}

// TTL returns the configured session time-to-live.
func (m *Manager) TTL() time.Duration {
	return m.ttl
}

// Now returns the manager's clock reading.
func (m *Manager) Now() time.Time {
	return m.now()
}

// Store returns the underlying KV store.
func (m *Manager) Store() ports.KVStore {
	return m.store
}

// Create registers a new session with the given initial state, forcing its version to 1.
// It fails with domain.ErrDuplicateSession if the ID is already live.
func (m *Manager) Create(ctx context.Context, sessionID string, initial domain.SharedState) (*domain.CollaborationSession, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("%w: empty session id", domain.ErrInvalidUpdate)
	}

	var created *domain.CollaborationSession
	err := m.locks.WithLock(ctx, sessionID, func(ctx context.Context) error {
		_, err := m.load(ctx, sessionID)
		if err == nil {
			return fmt.Errorf("%w: %s", domain.ErrDuplicateSession, sessionID)
		}
		if !errors.Is(err, domain.ErrSessionNotFound) {
			return fmt.Errorf("failed to check session existence: %w", err)
		}

		sess := domain.NewSession(sessionID, initial, m.now())
		if err := m.persist(ctx, sess); err != nil {
			return err
		}
		created = sess.Snapshot()
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.logger.Debug("session created", "session_id", sessionID)
	return created, nil
}

// Get returns a copy of the session.
// Returns domain.ErrSessionNotFound if it was never created, was deleted, or has expired.
func (m *Manager) Get(ctx context.Context, sessionID string) (*domain.CollaborationSession, error) {
	if !m.shared {
		if sess, ok := m.cache.get(sessionID); ok {
			if sess.Expired(m.now(), m.ttl) {
				return nil, domain.ErrSessionNotFound
			}
			return sess.Snapshot(), nil
		}
	}

	// Cache misses load under the lock so a concurrent Delete cannot be undone by a stale fill.
	var sess *domain.CollaborationSession
	err := m.locks.WithLock(ctx, sessionID, func(ctx context.Context) error {
		var err error
		sess, err = m.load(ctx, sessionID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return sess.Snapshot(), nil
}

// Update runs fn on a private copy of the session under the session lock and,
// if fn succeeds, commits the copy with a fresh LastUpdate. If fn fails nothing is written.
// The returned session is a copy of what was committed.
// TODO: with the redis backend, swap the commit in with WATCH/MULTI so fn can run outside the lock.
func (m *Manager) Update(ctx context.Context, sessionID string, fn func(*domain.CollaborationSession) error) (*domain.CollaborationSession, error) {
	var committed *domain.CollaborationSession
	err := m.locks.WithLock(ctx, sessionID, func(ctx context.Context) error {
		current, err := m.load(ctx, sessionID)
		if err != nil {
			return err
		}

		work := current.Snapshot()
		if err := fn(work); err != nil {
			return err
		}
		work.LastUpdate = m.now()

		if err := m.persist(ctx, work); err != nil {
			return err
		}
		committed = work.Snapshot()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return committed, nil
}

// Delete removes the session. Returns domain.ErrSessionNotFound if it does not exist.
func (m *Manager) Delete(ctx context.Context, sessionID string) error {
	return m.locks.WithLock(ctx, sessionID, func(ctx context.Context) error {
		if _, err := m.load(ctx, sessionID); err != nil {
			return err
		}
		return m.remove(ctx, sessionID)
	})
}

// List returns the IDs of stored sessions in lexical order.
func (m *Manager) List(ctx context.Context) ([]string, error) {
	ids, err := m.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	sort.Strings(ids)
	return ids, nil
}

// Cached returns the number of sessions in the in-memory cache.
func (m *Manager) Cached() int {
	return m.cache.len()
}

// load returns the committed, unexpired session. The caller must hold the session lock.
func (m *Manager) load(ctx context.Context, sessionID string) (*domain.CollaborationSession, error) {
	sess, err := m.lookup(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Expired(m.now(), m.ttl) {
		return nil, domain.ErrSessionNotFound
	}
	return sess, nil
}

// lookup returns the committed session, expired or not. The caller must hold the session lock.
func (m *Manager) lookup(ctx context.Context, sessionID string) (*domain.CollaborationSession, error) {
	sess, ok := m.cache.get(sessionID)
	if !ok || m.shared {
		data, err := m.store.Get(ctx, sessionID)
		if err != nil {
			if errors.Is(err, domain.ErrSessionNotFound) {
				m.evict(sessionID)
			}
			return nil, err
		}
		if sess, err = decode(sessionID, data); err != nil {
			return nil, err
		}
		m.cache.put(sess)
		m.metrics.SetCached(m.cache.len())
	}
	return sess, nil
}

// persist writes through to the store, then the cache. The caller must hold the session lock.
func (m *Manager) persist(ctx context.Context, sess *domain.CollaborationSession) error {
	data, err := encode(sess)
	if err != nil {
		return err
	}
	if err := m.store.Set(ctx, sess.SessionID, data, m.ttl); err != nil {
		return fmt.Errorf("failed to persist session %s: %w", sess.SessionID, err)
	}
	m.cache.put(sess)
	m.metrics.SetCached(m.cache.len())
	return nil
}

func (m *Manager) remove(ctx context.Context, sessionID string) error {
	if err := m.store.Delete(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to delete session %s: %w", sessionID, err)
	}
	m.evict(sessionID)
	return nil
}

func (m *Manager) evict(sessionID string) {
	m.cache.remove(sessionID)
	m.metrics.SetCached(m.cache.len())
}
