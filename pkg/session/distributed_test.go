package session_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aretw0/concord/pkg/adapters/redis"
	"github.com/aretw0/concord/pkg/domain"
	"github.com/aretw0/concord/pkg/session"
	backend "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Two managers sharing one redis behave like two replicas.
func TestManager_DistributedReplicas(t *testing.T) {
	mr := miniredis.RunT(t)
	client := backend.NewClient(&backend.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := redis.NewFromClient(client)
	locker := redis.NewLocker(client, "concord:")

	replicaA := session.NewManager(store, session.WithLocker(locker), session.WithLockTimeout(10*time.Second))
	replicaB := session.NewManager(store, session.WithLocker(locker), session.WithLockTimeout(10*time.Second))
	ctx := context.Background()

	_, err := replicaA.Create(ctx, "shared", domain.NewSharedState())
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		for _, mgr := range []*session.Manager{replicaA, replicaB} {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := mgr.Update(ctx, "shared", func(s *domain.CollaborationSession) error {
					s.SharedState.Version++
					return nil
				})
				assert.NoError(t, err)
			}()
		}
	}
	wg.Wait()

	got, err := replicaB.Get(ctx, "shared")
	require.NoError(t, err)
	assert.Equal(t, int64(21), got.SharedState.Version)

	// Replica A must not serve its stale cache.
	got, err = replicaA.Get(ctx, "shared")
	require.NoError(t, err)
	assert.Equal(t, int64(21), got.SharedState.Version)
}
