package session

import (
	"sync"

	"github.com/aretw0/concord/internal/shard"
	"github.com/aretw0/concord/pkg/domain"
)

// cache holds committed sessions. Stored values are never mutated; writers replace them.
type cache struct {
	shards []*cacheShard
}

type cacheShard struct {
	mu    sync.RWMutex
	items map[string]*domain.CollaborationSession
}

func newCache(n int) *cache {
	n = shard.Normalize(n)
	c := &cache{shards: make([]*cacheShard, n)}
	for i := range c.shards {
		c.shards[i] = &cacheShard{items: make(map[string]*domain.CollaborationSession)}
	}
	return c
}

func (c *cache) shardFor(sessionID string) *cacheShard {
	return c.shards[shard.Index(sessionID, len(c.shards))]
}

func (c *cache) get(sessionID string) (*domain.CollaborationSession, bool) {
	s := c.shardFor(sessionID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.items[sessionID]
	return v, ok
}

func (c *cache) put(sess *domain.CollaborationSession) {
	s := c.shardFor(sess.SessionID)
	s.mu.Lock()
	s.items[sess.SessionID] = sess
	s.mu.Unlock()
}

func (c *cache) remove(sessionID string) {
	s := c.shardFor(sessionID)
	s.mu.Lock()
	delete(s.items, sessionID)
	s.mu.Unlock()
}

func (c *cache) keys() []string {
	var out []string
	for _, s := range c.shards {
		s.mu.RLock()
		for k := range s.items {
			out = append(out, k)
		}
		s.mu.RUnlock()
	}
	return out
}

func (c *cache) len() int {
	total := 0
	for _, s := range c.shards {
		s.mu.RLock()
		total += len(s.items)
		s.mu.RUnlock()
	}
	return total
}
