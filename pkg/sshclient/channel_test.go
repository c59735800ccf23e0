package sshclient

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	nberrors "github.com/rileyhilliard/nbssh/internal/errors"
	"github.com/rileyhilliard/nbssh/pkg/engine"
	"github.com/rileyhilliard/nbssh/pkg/engine/enginetest"
)

func TestOpenChannel_RetriesUntilAvailable(t *testing.T) {
	sess := &enginetest.Session{OpenNil: 4}
	_, w := newTestClient(t, sess)

	assert.Equal(t, 1, sess.Opened)
	assert.GreaterOrEqual(t, w.waits, 4,
		"each not-yet-available response should wait before retrying")
}

func TestOpenChannel_ErrorIsProtocolError(t *testing.T) {
	sess := &enginetest.Session{OpenErr: assert.AnError}
	cfg, _ := testConfig(sess)

	_, err := New(context.Background(), cfg)
	require.Error(t, err)
	assert.True(t, nberrors.IsCode(err, nberrors.ErrProto))
	assert.Contains(t, err.Error(), "open channel")
}

func TestOpenChannel_CancelledWhileUnavailable(t *testing.T) {
	sess := &enginetest.Session{OpenNil: 1 << 30}
	cfg, _ := testConfig(sess)

	// Cancel once the construction sequence starts waiting on channel
	// availability; the earlier phases of this scripted session never wait.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cfg.NewWaiter = func(net.Conn) Waiter {
		return waiterFunc(func(ctx context.Context, dirs engine.BlockDirections) error {
			cancel()
			return ctx.Err()
		})
	}

	_, err := New(ctx, cfg)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

type waiterFunc func(ctx context.Context, dirs engine.BlockDirections) error

func (f waiterFunc) WaitReady(ctx context.Context, dirs engine.BlockDirections) error {
	return f(ctx, dirs)
}

func TestEnsureLive_KeepsOpenChannel(t *testing.T) {
	chn := &enginetest.Channel{}
	sess := &enginetest.Session{Channels: []*enginetest.Channel{chn}}
	client, _ := newTestClient(t, sess)

	require.NoError(t, client.ensureLive(context.Background()))
	require.NoError(t, client.ensureLive(context.Background()))
	assert.Equal(t, 1, sess.Opened)
}

func TestEnsureLive_ReplacesClosedChannel(t *testing.T) {
	stale := &enginetest.Channel{Closed: true}
	fresh := &enginetest.Channel{}
	sess := &enginetest.Session{Channels: []*enginetest.Channel{stale, fresh}}
	cfg, _ := testConfig(sess)
	client, err := New(context.Background(), cfg)
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, client.ensureLive(context.Background()))
	assert.Equal(t, 2, sess.Opened)
	assert.Same(t, fresh, client.chn)
}
