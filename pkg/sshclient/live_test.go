package sshclient

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rileyhilliard/nbssh/pkg/engine/cryptossh"
)

// skipIfNoSSH skips live SSH tests unless NBSSH_TEST_SSH_HOST is
// explicitly set, which it is not in most CI environments.
func skipIfNoSSH(t *testing.T) {
	t.Helper()
	if os.Getenv("NBSSH_TEST_SSH_HOST") == "" {
		t.Skip("Skipping live SSH test: NBSSH_TEST_SSH_HOST not set")
	}
}

func liveConfig() Config {
	return Config{
		Host:     os.Getenv("NBSSH_TEST_SSH_HOST"),
		User:     os.Getenv("NBSSH_TEST_SSH_USER"),
		Password: os.Getenv("NBSSH_TEST_SSH_PASSWORD"),
		Engine:   cryptossh.NewInsecure(),
	}
}

func TestLive_EchoRoundTrip(t *testing.T) {
	skipIfNoSSH(t)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client, err := New(ctx, liveConfig())
	require.NoError(t, err)
	defer client.Close()

	remote, err := client.RunCommandPty(ctx, `echo "me"`, false)
	require.NoError(t, err)

	lines, err := remote.Stdout.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"me"}, lines)
	assert.Equal(t, 0, remote.ExitStatus())
}

func TestLive_NonzeroExitStatus(t *testing.T) {
	skipIfNoSSH(t)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client, err := New(ctx, liveConfig())
	require.NoError(t, err)
	defer client.Close()

	remote, err := client.RunCommandPty(ctx, "exit 7", false)
	require.NoError(t, err)
	_, err = remote.Stdout.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 7, remote.ExitStatus())
}

func TestLive_SequentialCommandsReopenChannel(t *testing.T) {
	skipIfNoSSH(t)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	client, err := New(ctx, liveConfig())
	require.NoError(t, err)
	defer client.Close()

	for i, cmd := range []string{"echo one", "echo two"} {
		remote, err := client.RunCommandPty(ctx, cmd, false)
		require.NoError(t, err, "command %d", i)
		lines, err := remote.Stdout.Drain(ctx)
		require.NoError(t, err)
		require.Len(t, lines, 1)
	}
}

func TestLive_StderrSeparated(t *testing.T) {
	skipIfNoSSH(t)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client, err := New(ctx, liveConfig())
	require.NoError(t, err)
	defer client.Close()

	remote, err := client.RunCommandPty(ctx, `echo out; echo err >&2`, false)
	require.NoError(t, err)

	stdout, err := remote.Stdout.Drain(ctx)
	require.NoError(t, err)
	stderr, err := remote.Stderr.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"out"}, stdout)
	assert.Equal(t, []string{"err"}, stderr)
}
