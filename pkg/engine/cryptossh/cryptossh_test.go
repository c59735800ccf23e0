package cryptossh

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rileyhilliard/nbssh/pkg/engine"
)

func TestNewInsecure(t *testing.T) {
	eng := NewInsecure()
	require.NotNil(t, eng.HostKeyCallback)
	assert.NotZero(t, eng.HandshakeTimeout)
}

func TestSessionNeverReportsBlockDirections(t *testing.T) {
	sess := NewInsecure().NewSession()
	assert.Equal(t, engine.BlockNone, sess.BlockDirections())
}

func TestSetNonblockingIsNoop(t *testing.T) {
	sess := NewInsecure().NewSession()
	sess.SetNonblocking(true)
	sess.SetNonblocking(false)
}

func TestAuthBeforeStartupFails(t *testing.T) {
	sess := NewInsecure().NewSession()
	_, err := sess.UserauthPassword("user", "pass")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "startup not performed")
}

func TestOpenChannelBeforeAuthFails(t *testing.T) {
	sess := NewInsecure().NewSession()
	_, _, err := sess.OpenChannel()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not authenticated")
}

func TestAgentAuthWithoutAgent(t *testing.T) {
	t.Setenv("SSH_AUTH_SOCK", "")
	sess := NewInsecure().NewSession()
	_, err := sess.UserauthAgent("user")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SSH_AUTH_SOCK")
}

func TestPubkeyAuthMissingKeyFile(t *testing.T) {
	sess := NewInsecure().NewSession()
	_, err := sess.UserauthPublickeyFromfile("user", "", "/nonexistent/key", "")
	require.Error(t, err)
	assert.True(t, os.IsNotExist(err))
}

func TestPubkeyAuthUnparsableKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mangled")
	require.NoError(t, os.WriteFile(path, []byte("not a PEM key"), 0600))

	sess := NewInsecure().NewSession()
	_, err := sess.UserauthPublickeyFromfile("user", "", path, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse key")
}

func TestSessionCloseWithoutClient(t *testing.T) {
	sess := NewInsecure().NewSession()
	_, err := sess.Close()
	assert.NoError(t, err)
}

func TestStreamQueueDeliversPumpedData(t *testing.T) {
	q := newStreamQueue()
	go q.pump(strings.NewReader("hello world"))

	buf := make([]byte, 5)
	n := q.read(buf)
	assert.Equal(t, "hello", string(buf[:n]))

	rest := make([]byte, 64)
	n = q.read(rest)
	assert.Equal(t, " world", string(rest[:n]))

	assert.Zero(t, q.read(rest), "zero read signals end of stream")
	assert.True(t, q.ended())
}

func TestStreamQueueEndedWithBufferedData(t *testing.T) {
	q := newStreamQueue()
	go q.pump(strings.NewReader("x"))
	q.waitDone()

	assert.True(t, q.ended(), "pipe end is visible before the data is read")
	buf := make([]byte, 4)
	n := q.read(buf)
	assert.Equal(t, "x", string(buf[:n]))
}

func TestStreamQueueEmptyStream(t *testing.T) {
	q := newStreamQueue()
	go q.pump(strings.NewReader(""))
	q.waitDone()

	buf := make([]byte, 4)
	assert.Zero(t, q.read(buf))
	assert.True(t, q.ended())
}

func TestChannelEOFVisibleFromStderr(t *testing.T) {
	c := newChannel(nil)
	go c.stdout.pump(strings.NewReader("out\n"))
	go c.stderr.pump(strings.NewReader(""))
	c.stdout.waitDone()
	c.stderr.waitDone()

	// Drain stderr first: its end of stream must surface channel EOF
	// without any stdout read.
	buf := make([]byte, 16)
	n, _, err := c.Read(engine.StreamStderr, buf)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.True(t, c.AtEOF())

	// Stdout data buffered before EOF stays readable.
	n, _, err = c.Read(engine.StreamStdout, buf)
	require.NoError(t, err)
	assert.Equal(t, "out\n", string(buf[:n]))
}

func TestChannelNotAtEOFWhileStreamsOpen(t *testing.T) {
	c := newChannel(nil)
	r, w := io.Pipe()
	go c.stdout.pump(r)
	go c.stderr.pump(strings.NewReader(""))
	c.stderr.waitDone()

	assert.False(t, c.AtEOF(), "stdout pipe still open")
	require.NoError(t, w.Close())
	c.stdout.waitDone()
	assert.True(t, c.AtEOF())
}

func TestExitStatusWaitsForCommandCompletion(t *testing.T) {
	c := newChannel(nil)
	c.mu.Lock()
	c.started = true
	c.mu.Unlock()

	go func() {
		time.Sleep(20 * time.Millisecond)
		c.mu.Lock()
		c.exit = 7
		c.closed = true
		c.mu.Unlock()
		close(c.commandDone)
	}()

	assert.Equal(t, 7, c.ExitStatus(),
		"exit status must not be read before the command records it")
}

func TestExitStatusBeforeExecute(t *testing.T) {
	c := newChannel(nil)
	assert.Zero(t, c.ExitStatus())
}
