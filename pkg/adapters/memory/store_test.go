package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/aretw0/concord/pkg/adapters/memory"
	"github.com/aretw0/concord/pkg/domain"
	"github.com/aretw0/concord/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_Contract(t *testing.T) {
	store := memory.NewStore(time.Minute)
	ports.RunKVStoreContract(t, store)
}

func TestMemoryStore_TTL_Expiration(t *testing.T) {
	store := memory.NewStore(time.Minute)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "short", []byte("v"), 50*time.Millisecond))
	require.NoError(t, store.Set(ctx, "forever", []byte("v"), 0))

	time.Sleep(100 * time.Millisecond)

	_, err := store.Get(ctx, "short")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)

	keys, err := store.List(ctx)
	require.NoError(t, err)
	assert.NotContains(t, keys, "short", "expired keys are filtered from List even before cleanup")
	assert.Contains(t, keys, "forever")
}

func TestMemoryStore_Isolation(t *testing.T) {
	store := memory.NewStore(time.Minute)
	ctx := context.Background()

	value := []byte("abc")
	require.NoError(t, store.Set(ctx, "k", value, 0))
	value[0] = 'z'

	got, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), got)

	got[1] = 'z'
	again, _ := store.Get(ctx, "k")
	assert.Equal(t, []byte("abc"), again)
}
