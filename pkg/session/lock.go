package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aretw0/concord/internal/logging"
	"github.com/aretw0/concord/internal/shard"
	"github.com/aretw0/concord/pkg/domain"
	"github.com/aretw0/concord/pkg/ports"
)

// DefaultDistributedLockTTL bounds how long a crashed replica can hold a session.
const DefaultDistributedLockTTL = 30 * time.Second

// lockEntry holds the session's semaphore and the number of goroutines using it.
// A channel is used instead of a mutex so acquisition can give up after a timeout.
type lockEntry struct {
	sem  chan struct{}
	refs int
}

type lockShard struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

// Locks serializes work per session ID.
// Entries are reference counted and removed once no goroutine holds or waits for them.
type Locks struct {
	shards  []*lockShard
	timeout time.Duration

	locker  ports.DistributedLocker
	lockTTL time.Duration
	logger  *slog.Logger

	onTimeout func()
}

// NewLocks creates a lock table with n shards. A zero timeout waits until the context ends.
func NewLocks(n int, timeout time.Duration) *Locks {
	n = shard.Normalize(n)
	l := &Locks{
		shards:  make([]*lockShard, n),
		timeout: timeout,
		lockTTL: DefaultDistributedLockTTL,
		logger:  logging.NewNop(),
	}
	for i := range l.shards {
		l.shards[i] = &lockShard{locks: make(map[string]*lockEntry)}
	}
	return l
}

func (l *Locks) shardFor(sessionID string) *lockShard {
	return l.shards[shard.Index(sessionID, len(l.shards))]
}

// acquire gets or creates the entry and increments its reference count.
// The caller MUST call release(sessionID) when done with the entry.
func (l *Locks) acquire(sessionID string) *lockEntry {
	s := l.shardFor(sessionID)
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, exists := s.locks[sessionID]
	if !exists {
		entry = &lockEntry{sem: make(chan struct{}, 1)}
		s.locks[sessionID] = entry
	}
	entry.refs++
	return entry
}

// release decrements the reference count and deletes the entry if it reaches zero.
func (l *Locks) release(sessionID string) {
	s := l.shardFor(sessionID)
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, exists := s.locks[sessionID]
	if !exists {
		return
	}
	entry.refs--
	if entry.refs <= 0 {
		delete(s.locks, sessionID)
	}
}

// Held returns the number of sessions with a live lock entry.
func (l *Locks) Held() int {
	total := 0
	for _, s := range l.shards {
		s.mu.Lock()
		total += len(s.locks)
		s.mu.Unlock()
	}
	return total
}

// WithLock runs fn while holding the lock for sessionID.
// It returns domain.ErrLockTimeout if the lock is not acquired within the configured bound.
func (l *Locks) WithLock(ctx context.Context, sessionID string, fn func(context.Context) error) error {
	entry := l.acquire(sessionID)
	defer l.release(sessionID)

	if err := l.wait(ctx, entry); err != nil {
		if errors.Is(err, domain.ErrLockTimeout) && l.onTimeout != nil {
			l.onTimeout()
		}
		return err
	}
	defer func() { <-entry.sem }()

	if l.locker != nil {
		lockCtx := ctx
		if l.timeout > 0 {
			var cancel context.CancelFunc
			lockCtx, cancel = context.WithTimeout(ctx, l.timeout)
			defer cancel()
		}
		unlock, err := l.locker.Lock(lockCtx, sessionID, l.lockTTL)
		if err != nil {
			if lockCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
				if l.onTimeout != nil {
					l.onTimeout()
				}
				return fmt.Errorf("distributed lock for %s: %w", sessionID, domain.ErrLockTimeout)
			}
			return fmt.Errorf("failed to acquire distributed lock: %w", err)
		}
		defer func() {
			if err := unlock(context.WithoutCancel(ctx)); err != nil {
				l.logger.Warn("Failed to release distributed lock (will expire via TTL)",
					"session_id", sessionID,
					"err", err,
				)
			}
		}()
	}

	return fn(ctx)
}

func (l *Locks) wait(ctx context.Context, entry *lockEntry) error {
	// Fast path
	select {
	case entry.sem <- struct{}{}:
		return nil
	default:
	}

	var expired <-chan time.Time
	if l.timeout > 0 {
		timer := time.NewTimer(l.timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case entry.sem <- struct{}{}:
		return nil
	case <-expired:
		return domain.ErrLockTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}
