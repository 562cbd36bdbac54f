package main

import (
	"bytes"
	"context"
	"testing"

	"github.com/aretw0/concord/internal/cli"
	"github.com/aretw0/concord/internal/config"
	"github.com/aretw0/concord/internal/logging"
	"github.com/aretw0/concord/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() { rootCmd.SetArgs(nil) })
	err := rootCmd.Execute()
	return out.String(), err
}

func TestSessionCommands(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("CONCORD_STORE_BACKEND", config.BackendFile)
	t.Setenv("CONCORD_STORE_FILE_PATH", dir)

	seed := config.Default()
	seed.Store.Backend = config.BackendFile
	seed.Store.File.Path = dir
	engine, backend, err := cli.NewEngine(seed, logging.NewNop())
	require.NoError(t, err)
	defer backend.Close()

	ctx := context.Background()
	for _, id := range []string{"alpha", "beta"} {
		_, err := engine.CreateSession(ctx, id, domain.SharedState{
			QueryState: domain.Fields{"q": id},
		})
		require.NoError(t, err)
	}

	out, err := runCLI(t, "session", "ls")
	require.NoError(t, err)
	assert.Contains(t, out, "- alpha")
	assert.Contains(t, out, "- beta")

	out, err = runCLI(t, "session", "inspect", "alpha")
	require.NoError(t, err)
	assert.Contains(t, out, `"sessionId": "alpha"`)
	assert.Contains(t, out, `"q": "alpha"`)

	_, err = runCLI(t, "session", "inspect", "missing")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)

	out, err = runCLI(t, "session", "rm", "alpha")
	require.NoError(t, err)
	assert.Contains(t, out, "Removed session 'alpha'")

	out, err = runCLI(t, "session", "rm", "--all")
	require.NoError(t, err)
	assert.Contains(t, out, "Removed session 'beta'")

	out, err = runCLI(t, "session", "ls")
	require.NoError(t, err)
	assert.Contains(t, out, "No live sessions found.")
}

func TestVersionCommand(t *testing.T) {
	_, err := runCLI(t, "version")
	require.NoError(t, err)
}
