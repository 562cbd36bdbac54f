package ports

import (
	"context"
	"testing"
	"time"

	"github.com/aretw0/concord/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunKVStoreContract runs a suite of tests to verify that a KVStore implementation
// adheres to the defined interface contract.
func RunKVStoreContract(t *testing.T, store KVStore) {
	ctx := context.Background()
	key := "contract-test-session-" + time.Now().Format("20060102150405")

	t.Run("Set and Get", func(t *testing.T) {
		value := []byte(`{"sessionId":"contract","sharedState":{"version":1}}`)

		err := store.Set(ctx, key, value, time.Hour)
		require.NoError(t, err, "Set should not return error")

		got, err := store.Get(ctx, key)
		require.NoError(t, err, "Get should not return error")
		assert.Equal(t, value, got)
	})

	t.Run("Set Replaces Whole Value", func(t *testing.T) {
		require.NoError(t, store.Set(ctx, key, []byte("first-value-that-is-longer"), time.Hour))
		require.NoError(t, store.Set(ctx, key, []byte("second"), time.Hour))

		got, err := store.Get(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, []byte("second"), got)
	})

	t.Run("Get Non-Existent", func(t *testing.T) {
		_, err := store.Get(ctx, "non-existent-"+key)
		assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, store.Set(ctx, key, []byte("x"), time.Hour))

		err := store.Delete(ctx, key)
		require.NoError(t, err, "Delete should not return error")

		_, err = store.Get(ctx, key)
		assert.ErrorIs(t, err, domain.ErrSessionNotFound, "Get after Delete should return ErrSessionNotFound")

		assert.NoError(t, store.Delete(ctx, key), "Deleting a missing key should succeed")
	})

	t.Run("List", func(t *testing.T) {
		id1 := key + "-1"
		id2 := key + "-2"
		require.NoError(t, store.Set(ctx, id1, []byte("1"), time.Hour))
		require.NoError(t, store.Set(ctx, id2, []byte("2"), 0))

		defer func() {
			_ = store.Delete(ctx, id1)
			_ = store.Delete(ctx, id2)
		}()

		keys, err := store.List(ctx)
		require.NoError(t, err)
		assert.Contains(t, keys, id1)
		assert.Contains(t, keys, id2)
	})
}
