package sshclient

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rileyhilliard/nbssh/pkg/engine"
	"github.com/rileyhilliard/nbssh/pkg/engine/enginetest"
)

func TestRetryUntilReady_ReturnsFirstResult(t *testing.T) {
	w := &countWaiter{}
	sess := &enginetest.Session{}

	calls := 0
	got, err := retryUntilReady(context.Background(), w, sess, func() (int, engine.Status, error) {
		calls++
		return 42, engine.Ready, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, got)
	assert.Equal(t, 1, calls)
	assert.Zero(t, w.waits)
}

func TestRetryUntilReady_WaitsBetweenWouldBlocks(t *testing.T) {
	w := &countWaiter{}
	sess := &enginetest.Session{Dirs: engine.BlockInbound | engine.BlockOutbound}

	calls := 0
	got, err := retryUntilReady(context.Background(), w, sess, func() (string, engine.Status, error) {
		calls++
		if calls < 4 {
			return "", engine.WouldBlock, nil
		}
		return "done", engine.Ready, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "done", got)
	assert.Equal(t, 4, calls)
	assert.Equal(t, 3, w.waits, "one wait per would-block result")
}

func TestRetryUntilReady_TerminalErrorPassesThrough(t *testing.T) {
	w := &countWaiter{}
	sess := &enginetest.Session{}

	_, err := retryUntilReady(context.Background(), w, sess, func() (int, engine.Status, error) {
		return 0, engine.Ready, assert.AnError
	})
	assert.Equal(t, assert.AnError, err)
	assert.Zero(t, w.waits, "terminal errors never trigger a wait")
}

func TestRetryUntilReady_WaiterErrorStopsLoop(t *testing.T) {
	sess := &enginetest.Session{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	got, err := retryUntilReady(ctx, &countWaiter{}, sess, func() (int, engine.Status, error) {
		calls++
		return 7, engine.WouldBlock, nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, got, "a failed wait discards the partial result")
	assert.Equal(t, 1, calls)
}

func TestRetryUnit(t *testing.T) {
	w := &countWaiter{}
	sess := &enginetest.Session{}

	calls := 0
	err := retryUnit(context.Background(), w, sess, func() (engine.Status, error) {
		calls++
		if calls < 2 {
			return engine.WouldBlock, nil
		}
		return engine.Ready, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, 1, w.waits)
}
