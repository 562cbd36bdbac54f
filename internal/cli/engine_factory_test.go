package cli

import (
	"context"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/aretw0/concord/internal/config"
	"github.com/aretw0/concord/internal/logging"
	"github.com/aretw0/concord/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenStore_Backends(t *testing.T) {
	mr := miniredis.RunT(t)
	logger := logging.NewNop()

	cases := map[string]config.Store{
		"memory": {Backend: config.BackendMemory},
		"file":   {Backend: config.BackendFile, File: config.File{Path: t.TempDir()}},
		"redis": {
			Backend:         config.BackendRedis,
			Redis:           config.Redis{Addr: mr.Addr(), Prefix: "test:"},
			DistributedLock: true,
		},
		"compressed+encrypted": {
			Backend:       config.BackendMemory,
			Compress:      true,
			EncryptionKey: strings.Repeat("0f", 32),
		},
	}

	for name, cfg := range cases {
		t.Run(name, func(t *testing.T) {
			b, err := OpenStore(cfg, logger)
			require.NoError(t, err)
			t.Cleanup(func() { _ = b.Close() })

			ctx := context.Background()
			require.NoError(t, b.Store.Set(ctx, "k", []byte("v"), 0))
			got, err := b.Store.Get(ctx, "k")
			require.NoError(t, err)
			assert.Equal(t, []byte("v"), got)

			assert.Equal(t, cfg.DistributedLock, b.Locker != nil)
		})
	}
}

func TestOpenStore_BadKey(t *testing.T) {
	_, err := OpenStore(config.Store{Backend: config.BackendMemory, EncryptionKey: "zz"}, logging.NewNop())
	assert.Error(t, err)
}

func TestNewEngine(t *testing.T) {
	eng, backend, err := NewEngine(config.Default(), logging.NewNop())
	require.NoError(t, err)
	defer backend.Close()

	ctx := context.Background()
	_, err = eng.CreateSession(ctx, "s1", domain.NewSharedState())
	require.NoError(t, err)
	ids, err := eng.ListSessions(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"s1"}, ids)
}
