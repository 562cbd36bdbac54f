package ports

import (
	"context"
	"time"
)

// UnlockFunc releases a lock obtained from a DistributedLocker. Releasing a lock
// that already expired is not an error.
type UnlockFunc func(ctx context.Context) error

// DistributedLocker serializes writers of one session across replicas sharing a KVStore.
// The session manager acquires it while holding its in-process lock for the same session.
type DistributedLocker interface {
	// Lock waits until the session key is free or ctx ends. The lock lapses after ttl
	// so a crashed replica cannot wedge the session.
	Lock(ctx context.Context, sessionID string, ttl time.Duration) (UnlockFunc, error)
}
