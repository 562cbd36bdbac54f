package session

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/aretw0/concord/pkg/domain"
	"golang.org/x/sync/errgroup"
)

// DefaultReapInterval is how often Run sweeps for expired sessions.
const DefaultReapInterval = time.Minute

// reapParallelism caps concurrent store round-trips during a sweep.
const reapParallelism = 8

// Reap removes every session whose last update is older than the TTL and returns
// how many were removed. Sessions that are busy are skipped until the next sweep.
func (m *Manager) Reap(ctx context.Context) (int, error) {
	if m.ttl <= 0 {
		return 0, nil
	}

	stored, err := m.store.List(ctx)
	if err != nil {
		return 0, err
	}
	ids := unique(stored, m.cache.keys())

	var removed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(reapParallelism)

	for _, id := range ids {
		g.Go(func() error {
			err := m.locks.WithLock(gctx, id, func(ctx context.Context) error {
				sess, err := m.lookup(ctx, id)
				if errors.Is(err, domain.ErrSessionNotFound) {
					return nil
				}
				if err != nil {
					return err
				}
				if !sess.Expired(m.now(), m.ttl) {
					return nil
				}
				if err := m.remove(ctx, id); err != nil {
					return err
				}
				removed.Add(1)
				return nil
			})
			if err != nil && gctx.Err() == nil {
				m.logger.Debug("reaper skipped session", "session_id", id, "err", err)
			}
			return gctx.Err()
		})
	}

	err = g.Wait()
	n := int(removed.Load())
	m.metrics.AddExpired(n)
	if n > 0 {
		m.logger.Info("expired sessions removed", "count", n)
	}
	return n, err
}

// Run sweeps every interval until ctx is done.
func (m *Manager) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultReapInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := m.Reap(ctx); err != nil && ctx.Err() == nil {
				m.logger.Warn("session reap failed", "err", err)
			}
		}
	}
}

func unique(lists ...[]string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, l := range lists {
		for _, s := range l {
			if _, ok := seen[s]; ok {
				continue
			}
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	return out
}
