package sshclient

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	nberrors "github.com/rileyhilliard/nbssh/internal/errors"
	"github.com/rileyhilliard/nbssh/pkg/engine"
)

// tcpPair returns two connected TCP sockets on the loopback interface.
func tcpPair(t *testing.T) (client, server net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			accepted <- conn
		}
	}()

	client, err = net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	select {
	case server = <-accepted:
	case <-time.After(time.Second):
		t.Fatal("accept timed out")
	}
	t.Cleanup(func() { _ = server.Close() })
	return client, server
}

func TestSocketWaiter_BlockNoneReturnsImmediately(t *testing.T) {
	// BlockNone never touches the socket, so even a pipe works.
	client, _ := net.Pipe()
	defer client.Close()

	w := NewSocketWaiter(client)
	assert.NoError(t, w.WaitReady(context.Background(), engine.BlockNone))
}

func TestSocketWaiter_RequiresRawSocketAccess(t *testing.T) {
	client, _ := net.Pipe()
	defer client.Close()

	w := NewSocketWaiter(client)
	err := w.WaitReady(context.Background(), engine.BlockInbound)
	require.Error(t, err)
	assert.True(t, nberrors.IsCode(err, nberrors.ErrProto))
}

func TestSocketWaiter_ReadReadiness(t *testing.T) {
	client, server := tcpPair(t)
	w := NewSocketWaiter(client)

	go func() {
		time.Sleep(20 * time.Millisecond)
		_, _ = server.Write([]byte("x"))
	}()

	start := time.Now()
	require.NoError(t, w.WaitReady(context.Background(), engine.BlockInbound))
	assert.Less(t, time.Since(start), time.Second)

	// The wait must not consume the byte.
	buf := make([]byte, 1)
	require.NoError(t, client.SetReadDeadline(time.Now().Add(time.Second)))
	n, err := client.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, byte('x'), buf[0])
}

func TestSocketWaiter_WriteReadinessOnIdleSocket(t *testing.T) {
	client, _ := tcpPair(t)
	w := NewSocketWaiter(client)

	// An idle socket's send buffer has room, so the wait completes at once.
	done := make(chan error, 1)
	go func() { done <- w.WaitReady(context.Background(), engine.BlockOutbound) }()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("write readiness wait did not complete")
	}
}

func TestSocketWaiter_ContextCancelInterruptsWait(t *testing.T) {
	client, _ := tcpPair(t)
	w := NewSocketWaiter(client)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	err := w.WaitReady(ctx, engine.BlockInbound)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Second)
}

func TestSocketWaiter_BothDirectionsWithPendingData(t *testing.T) {
	client, server := tcpPair(t)
	w := NewSocketWaiter(client)

	_, err := server.Write([]byte("y"))
	require.NoError(t, err)

	start := time.Now()
	require.NoError(t, w.WaitReady(context.Background(),
		engine.BlockInbound|engine.BlockOutbound))
	assert.Less(t, time.Since(start), time.Second)
}

func TestSocketWaiter_BothDirectionsSpuriousWakeup(t *testing.T) {
	if testing.Short() {
		t.Skip("waits out the both-directions poll interval")
	}
	client, _ := tcpPair(t)
	w := NewSocketWaiter(client)

	// No data arrives; the bounded read deadline fires and the waiter
	// reports a spurious wakeup as success so the retry loop re-invokes.
	start := time.Now()
	err := w.WaitReady(context.Background(),
		engine.BlockInbound|engine.BlockOutbound)
	assert.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), bothDirsPollInterval/2)
}
