// Package cryptossh binds the engine boundary to golang.org/x/crypto/ssh.
//
// x/crypto/ssh is an internally threaded, blocking implementation: its
// operations complete or fail without ever needing the caller to wait on
// the socket. The adapter therefore always reports BlockNone and never
// returns WouldBlock; the client's retry loop degenerates to a single
// invocation per operation. The non-blocking discipline is exercised in
// full by libssh2-style engines and by the enginetest fake.
//
// One quirk of the binding: x/crypto/ssh performs user authentication as
// part of the protocol handshake, so Startup only captures the socket and
// the handshake is driven by the first userauth call. A failed handshake
// consumes the socket; the adapter redials transparently so the next
// authentication strategy can run.
package cryptossh

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/rileyhilliard/nbssh/pkg/engine"
)

// Engine implements engine.Engine over x/crypto/ssh.
type Engine struct {
	// HostKeyCallback verifies server host keys. New() installs a
	// ~/.ssh/known_hosts based callback; NewInsecure() skips checking.
	HostKeyCallback ssh.HostKeyCallback
	// HandshakeTimeout bounds one handshake attempt.
	HandshakeTimeout time.Duration
}

// New returns an engine that verifies host keys against
// ~/.ssh/known_hosts, creating the file if missing.
func New() (*Engine, error) {
	callback, err := knownHostsCallback()
	if err != nil {
		return nil, err
	}
	return &Engine{
		HostKeyCallback:  callback,
		HandshakeTimeout: 10 * time.Second,
	}, nil
}

// NewInsecure returns an engine that skips host key verification.
// Intended for CI and test environments.
func NewInsecure() *Engine {
	return &Engine{
		HostKeyCallback:  ssh.InsecureIgnoreHostKey(), //nolint:gosec // caller opted out of host key checking
		HandshakeTimeout: 10 * time.Second,
	}
}

// NewSession implements engine.Engine.
func (e *Engine) NewSession() engine.Session {
	return &session{eng: e}
}

func knownHostsCallback() (ssh.HostKeyCallback, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		home = os.Getenv("HOME")
	}
	path := filepath.Join(home, ".ssh", "known_hosts")
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return nil, fmt.Errorf("failed to create .ssh directory: %w", err)
		}
		if err := os.WriteFile(path, []byte{}, 0600); err != nil {
			return nil, fmt.Errorf("failed to create known_hosts: %w", err)
		}
	}
	return knownhosts.New(path)
}

type session struct {
	eng    *Engine
	sock   net.Conn
	addr   string
	client *ssh.Client
}

var _ engine.Session = (*session)(nil)

// SetNonblocking is a no-op: x/crypto/ssh manages the socket itself and
// never surfaces would-block to the caller.
func (s *session) SetNonblocking(nonblocking bool) {}

func (s *session) Startup(sock net.Conn) (engine.Status, error) {
	s.sock = sock
	s.addr = sock.RemoteAddr().String()
	return engine.Ready, nil
}

// handshake performs the SSH handshake with a single auth method. On
// failure the consumed socket is replaced with a fresh dial so another
// strategy can be attempted.
func (s *session) handshake(user string, method ssh.AuthMethod) (engine.Status, error) {
	if s.client != nil {
		return engine.Ready, nil
	}
	if s.sock == nil {
		return engine.Ready, errors.New("cryptossh: startup not performed")
	}

	config := &ssh.ClientConfig{
		User:            user,
		Auth:            []ssh.AuthMethod{method},
		HostKeyCallback: s.eng.HostKeyCallback,
		Timeout:         s.eng.HandshakeTimeout,
	}

	conn, chans, reqs, err := ssh.NewClientConn(s.sock, s.addr, config)
	if err != nil {
		s.redial()
		return engine.Ready, err
	}
	s.client = ssh.NewClient(conn, chans, reqs)
	return engine.Ready, nil
}

func (s *session) redial() {
	_ = s.sock.Close()
	sock, err := net.DialTimeout("tcp", s.addr, s.eng.HandshakeTimeout)
	if err != nil {
		s.sock = nil
		return
	}
	s.sock = sock
}

func (s *session) UserauthAgent(user string) (engine.Status, error) {
	sockPath := os.Getenv("SSH_AUTH_SOCK")
	if sockPath == "" {
		return engine.Ready, errors.New("cryptossh: no SSH agent available (SSH_AUTH_SOCK unset)")
	}
	conn, err := net.Dial("unix", sockPath)
	if err != nil {
		return engine.Ready, fmt.Errorf("cryptossh: cannot reach SSH agent: %w", err)
	}
	defer conn.Close()

	agentClient := agent.NewClient(conn)
	signers, err := agentClient.Signers()
	if err != nil {
		return engine.Ready, fmt.Errorf("cryptossh: agent signers: %w", err)
	}
	if len(signers) == 0 {
		return engine.Ready, errors.New("cryptossh: agent has no keys loaded")
	}
	return s.handshake(user, ssh.PublicKeys(signers...))
}

// UserauthPublickeyFromfile authenticates with the private key at
// privkeyPath. The pubkeyPath parameter exists for engine-boundary parity;
// x/crypto/ssh derives the public key from the private key.
func (s *session) UserauthPublickeyFromfile(user, pubkeyPath, privkeyPath, passphrase string) (engine.Status, error) {
	keyData, err := os.ReadFile(privkeyPath)
	if err != nil {
		return engine.Ready, err
	}

	var signer ssh.Signer
	if passphrase != "" {
		signer, err = ssh.ParsePrivateKeyWithPassphrase(keyData, []byte(passphrase))
	} else {
		signer, err = ssh.ParsePrivateKey(keyData)
	}
	if err != nil {
		return engine.Ready, fmt.Errorf("cryptossh: parse key %s: %w", privkeyPath, err)
	}
	return s.handshake(user, ssh.PublicKeys(signer))
}

func (s *session) UserauthPassword(user, password string) (engine.Status, error) {
	return s.handshake(user, ssh.Password(password))
}

func (s *session) OpenChannel() (engine.Channel, engine.Status, error) {
	if s.client == nil {
		return nil, engine.Ready, errors.New("cryptossh: not authenticated")
	}
	sess, err := s.client.NewSession()
	if err != nil {
		return nil, engine.Ready, err
	}
	return newChannel(sess), engine.Ready, nil
}

func (s *session) BlockDirections() engine.BlockDirections {
	return engine.BlockNone
}

func (s *session) Close() (engine.Status, error) {
	if s.client != nil {
		err := s.client.Close()
		s.client = nil
		return engine.Ready, err
	}
	if s.sock != nil {
		_ = s.sock.Close()
		s.sock = nil
	}
	return engine.Ready, nil
}

// channel adapts one *ssh.Session to the engine channel contract. The
// command's stdout and stderr pipes are pumped into buffered queues by
// background goroutines; reads drain the queues and block until data,
// stream end, or command exit.
type channel struct {
	sess *ssh.Session

	mu          sync.Mutex
	started     bool
	closed      bool
	exit        int
	stdout      *streamQueue
	stderr      *streamQueue
	commandDone chan struct{}
}

var _ engine.Channel = (*channel)(nil)

func newChannel(sess *ssh.Session) *channel {
	return &channel{
		sess:        sess,
		stdout:      newStreamQueue(),
		stderr:      newStreamQueue(),
		commandDone: make(chan struct{}),
	}
}

func (c *channel) RequestPty(term string) (engine.Status, error) {
	modes := ssh.TerminalModes{
		ssh.ECHO:          0,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}
	return engine.Ready, c.sess.RequestPty(term, 80, 40, modes)
}

func (c *channel) Execute(command string) (engine.Status, error) {
	c.mu.Lock()
	if c.closed || c.started {
		c.mu.Unlock()
		// One x/crypto/ssh session runs one command; a reuse attempt is
		// the staleness condition the client recovers from by reopening.
		return engine.Ready, &engine.ChannelError{
			Code: engine.CodeChannelFailure,
			Op:   "execute",
			Err:  errors.New("channel already used"),
		}
	}
	c.started = true
	c.mu.Unlock()

	stdoutPipe, err := c.sess.StdoutPipe()
	if err != nil {
		return engine.Ready, err
	}
	stderrPipe, err := c.sess.StderrPipe()
	if err != nil {
		return engine.Ready, err
	}
	if err := c.sess.Start(command); err != nil {
		return engine.Ready, err
	}

	go c.stdout.pump(stdoutPipe)
	go c.stderr.pump(stderrPipe)
	go func() {
		err := c.sess.Wait()
		exit := 0
		if err != nil {
			var exitErr *ssh.ExitError
			if errors.As(err, &exitErr) {
				exit = exitErr.ExitStatus()
			} else {
				exit = -1
			}
		}
		c.mu.Lock()
		c.exit = exit
		// The session cannot run another command; mark it stale so the
		// client replaces it before the next execute.
		c.closed = true
		c.mu.Unlock()
		close(c.commandDone)
	}()

	return engine.Ready, nil
}

func (c *channel) Read(stream engine.StreamID, buf []byte) (int, engine.Status, error) {
	q := c.stdout
	if stream == engine.StreamStderr {
		q = c.stderr
	}
	n := q.read(buf)
	return n, engine.Ready, nil
}

// AtEOF reports channel-level EOF: both output pipes have ended. Data
// still buffered in either queue remains readable past EOF, so either
// stream can be drained first.
func (c *channel) AtEOF() bool {
	return c.stdout.ended() && c.stderr.ended()
}

func (c *channel) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// ExitStatus waits for the command's Wait goroutine to record the exit
// status before reporting it. Stream EOF and command completion are
// signaled independently, so a caller arriving right after the output
// drain could otherwise read the zero value.
func (c *channel) ExitStatus() int {
	c.mu.Lock()
	started := c.started
	c.mu.Unlock()
	if started {
		<-c.commandDone
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exit
}

func (c *channel) WaitEOF() (engine.Status, error) {
	c.mu.Lock()
	started := c.started
	c.mu.Unlock()
	if started {
		c.stdout.waitDone()
		c.stderr.waitDone()
	}
	return engine.Ready, nil
}

func (c *channel) Close() (engine.Status, error) {
	c.mu.Lock()
	alreadyClosed := c.closed
	started := c.started
	c.closed = true
	c.mu.Unlock()

	if alreadyClosed && !started {
		return engine.Ready, nil
	}
	err := c.sess.Close()
	// EOF from a session that already finished is the normal case.
	if err != nil && errors.Is(err, io.EOF) {
		err = nil
	}
	return engine.Ready, err
}

func (c *channel) WaitClosed() (engine.Status, error) {
	c.mu.Lock()
	started := c.started
	c.mu.Unlock()
	if started {
		<-c.commandDone
	}
	return engine.Ready, nil
}

// streamQueue carries pumped output chunks to blocking reads.
type streamQueue struct {
	ch      chan []byte
	mu      sync.Mutex
	partial []byte
	doneCh  chan struct{}
}

func newStreamQueue() *streamQueue {
	return &streamQueue{
		ch:     make(chan []byte, 16),
		doneCh: make(chan struct{}),
	}
}

// pump drains an output pipe into the queue and closes it at stream end.
func (q *streamQueue) pump(r io.Reader) {
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			q.ch <- chunk
		}
		if err != nil {
			close(q.ch)
			close(q.doneCh)
			return
		}
	}
}

// read returns buffered bytes, blocking until data arrives or the stream
// ends. A zero return means end of stream.
func (q *streamQueue) read(buf []byte) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.partial) == 0 {
		chunk, ok := <-q.ch
		if !ok {
			return 0
		}
		q.partial = chunk
	}
	n := copy(buf, q.partial)
	q.partial = q.partial[n:]
	return n
}

// ended reports whether the pumped pipe has hit end of stream. Buffered
// chunks may still be unread.
func (q *streamQueue) ended() bool {
	select {
	case <-q.doneCh:
		return true
	default:
		return false
	}
}

func (q *streamQueue) waitDone() {
	<-q.doneCh
}
