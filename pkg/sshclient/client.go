// Package sshclient implements a single-host, non-blocking SSH session
// client. It owns one TCP socket, drives an external protocol engine's
// non-blocking state machine through readiness waits, and streams remote
// command output back as lazily-produced lines.
//
// One Client serves one remote host. Multiple Clients run fine side by
// side, each owning its socket, session, and channel exclusively. Within
// one Client, callers must serialize RunCommand calls.
package sshclient

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"time"

	nberrors "github.com/rileyhilliard/nbssh/internal/errors"
	"github.com/rileyhilliard/nbssh/internal/logger"
	"github.com/rileyhilliard/nbssh/pkg/engine"
)

// Defaults shared with callers layering multi-host orchestration on top.
const (
	// DefaultRetries is the number of connection attempts.
	DefaultRetries = 3
	// DefaultBackoff is the fixed interval between connection attempts.
	DefaultBackoff = 5 * time.Second
	// DefaultPort is the SSH port.
	DefaultPort = 22
	// DefaultTerminator splits remote output into lines. Remote output
	// terminators are protocol-determined, not client-OS-determined.
	DefaultTerminator = "\n"
	// DefaultTerm is the terminal type requested with a PTY.
	DefaultTerm = "xterm"
)

// DialFunc establishes the transport socket. Exposed for tests.
type DialFunc func(network, address string, timeout time.Duration) (net.Conn, error)

// Config holds construction options for a Client. Zero values select
// defaults where a default exists; Host is required.
type Config struct {
	Host string
	// User defaults to the current OS user.
	User string
	// Password is optional. It is used as the key passphrase fallback
	// for public-key authentication and, when set, enables password
	// authentication as the final fallback strategy.
	Password string
	Port     int
	// PrivateKeyPath selects explicit key-pair authentication. When set,
	// no other strategy is attempted and a failure is surfaced directly.
	// The public key is expected alongside at PrivateKeyPath + ".pub".
	PrivateKeyPath string
	// NumRetries is the number of connection attempts before giving up.
	NumRetries int
	// RetryBackoff is the fixed sleep between connection attempts.
	RetryBackoff time.Duration
	// UsePTY requests a pseudo-terminal for executed commands.
	// Overridable per execute call.
	UsePTY bool
	// Terminator is the line terminator used to split remote output.
	Terminator string
	// IdentityFiles is the ordered list of private-key candidates for
	// the identity-file probe. Defaults to the well-known ~/.ssh names.
	IdentityFiles []string
	// DisableAgent skips the SSH agent authentication strategy.
	DisableAgent bool
	// ConnectTimeout bounds a single TCP connect attempt.
	ConnectTimeout time.Duration

	// Engine provides the protocol implementation. Required.
	Engine engine.Engine
	// Logger defaults to a debug-env-gated logger.
	Logger logger.Logger
	// LineCallback, when set, is invoked for every streamed output line
	// with the host it came from. Useful for host-prefixed logging.
	LineCallback func(host, line string)

	// Dial and NewWaiter are test seams; they default to a TCP dial and
	// the runtime-poller socket waiter.
	Dial      DialFunc
	NewWaiter func(net.Conn) Waiter
}

// Client is a fully connected, authenticated SSH session client with an
// open command-execution channel. Construction is all-or-nothing: a
// returned Client is ready to execute commands.
type Client struct {
	cfg    Config
	addr   string
	sock   net.Conn
	sess   engine.Session
	chn    engine.Channel
	waiter Waiter
	log    logger.Logger
	closed bool
}

// RemoteCommand is the handle returned for one executed command: the
// underlying channel, the host it ran on, and lazily-produced stdout and
// stderr line streams. ExitStatus is valid only after Stdout has been
// drained to EOF.
type RemoteCommand struct {
	Channel engine.Channel
	Host    string
	Stdout  *LineStream
	Stderr  *LineStream
}

// ExitStatus returns the remote command's exit status. Valid only after
// the stdout stream has been fully drained.
func (r *RemoteCommand) ExitStatus() int {
	return r.Channel.ExitStatus()
}

// New connects to the host, performs the protocol handshake,
// authenticates, and opens a command-execution channel. On any failure
// the socket is torn down and an error is returned; there is no
// partially-initialized client state.
func New(ctx context.Context, cfg Config) (*Client, error) {
	cfg = withDefaults(cfg)
	if cfg.Host == "" {
		return nil, nberrors.New(nberrors.ErrConfig,
			"No host configured",
			"Set Config.Host to the remote host to connect to")
	}
	if cfg.Engine == nil {
		return nil, nberrors.New(nberrors.ErrConfig,
			"No protocol engine configured",
			"Set Config.Engine, e.g. cryptossh.New()")
	}

	c := &Client{
		cfg:  cfg,
		addr: net.JoinHostPort(cfg.Host, fmt.Sprintf("%d", cfg.Port)),
		log:  cfg.Logger,
	}

	if err := c.connect(ctx); err != nil {
		return nil, err
	}

	c.sess = cfg.Engine.NewSession()
	c.waiter = cfg.NewWaiter(c.sock)
	// All engine interaction past connect runs in non-blocking mode.
	c.sess.SetNonblocking(true)

	if err := c.startup(ctx); err != nil {
		c.teardownSocket()
		return nil, err
	}
	if err := c.authenticate(ctx); err != nil {
		c.teardownSocket()
		return nil, err
	}

	chn, err := c.openChannel(ctx)
	if err != nil {
		c.teardownSocket()
		return nil, err
	}
	c.chn = chn

	return c, nil
}

// Host returns the configured remote host.
func (c *Client) Host() string {
	return c.cfg.Host
}

// Execute runs a command on the client's channel, transparently replacing
// a stale channel first and recovering once from a channel-level failure
// during execution. It returns the channel the command is running on;
// output has not been read yet.
func (c *Client) Execute(ctx context.Context, command string, usePty bool) (engine.Channel, error) {
	if err := c.ensureLive(ctx); err != nil {
		return nil, err
	}

	if err := c.startCommand(ctx, c.chn, command, usePty); err != nil {
		if !engine.IsChannelFailure(err) {
			return nil, nberrors.WrapWithCode(err, nberrors.ErrExec,
				fmt.Sprintf("Failed to execute command on %s", c.cfg.Host),
				"Check the session is still alive")
		}
		// Channel went stale under us. Replace it and retry the command
		// exactly once; a second failure propagates.
		c.log.Debug("Channel closed - opening new channel")
		chn, oerr := c.openChannel(ctx)
		if oerr != nil {
			return nil, oerr
		}
		c.chn = chn
		if rerr := c.startCommand(ctx, c.chn, command, usePty); rerr != nil {
			return nil, nberrors.WrapWithCode(rerr, nberrors.ErrChannel,
				fmt.Sprintf("Command failed again on a fresh channel on %s", c.cfg.Host),
				"The remote side keeps closing channels; check server logs")
		}
	}

	// Yield once so the engine can buffer output before the first read.
	runtime.Gosched()

	return c.chn, nil
}

// startCommand requests an optional PTY and starts the command, all via
// the retry driver.
func (c *Client) startCommand(ctx context.Context, chn engine.Channel, command string, usePty bool) error {
	if usePty {
		if err := retryUnit(ctx, c.waiter, c.sess, func() (engine.Status, error) {
			return chn.RequestPty(DefaultTerm)
		}); err != nil {
			return err
		}
	}
	return retryUnit(ctx, c.waiter, c.sess, func() (engine.Status, error) {
		return chn.Execute(command)
	})
}

// RunCommand executes a command with the configured PTY default and
// returns the handle with lazy stdout and stderr line streams.
func (c *Client) RunCommand(ctx context.Context, command string) (*RemoteCommand, error) {
	return c.RunCommandPty(ctx, command, c.cfg.UsePTY)
}

// RunCommandPty is RunCommand with an explicit PTY choice.
func (c *Client) RunCommandPty(ctx context.Context, command string, usePty bool) (*RemoteCommand, error) {
	chn, err := c.Execute(ctx, command, usePty)
	if err != nil {
		return nil, err
	}
	return &RemoteCommand{
		Channel: chn,
		Host:    c.cfg.Host,
		Stdout:  c.newLineStream(chn, engine.StreamStdout),
		Stderr:  c.newLineStream(chn, engine.StreamStderr),
	}, nil
}

// WaitFinished waits for EOF on the channel, closes it, and waits for the
// remote close acknowledgement.
func (c *Client) WaitFinished(ctx context.Context, chn engine.Channel) error {
	if chn == nil {
		return nil
	}
	if err := retryUnit(ctx, c.waiter, c.sess, chn.WaitEOF); err != nil {
		return err
	}
	if err := retryUnit(ctx, c.waiter, c.sess, chn.Close); err != nil {
		return err
	}
	return retryUnit(ctx, c.waiter, c.sess, chn.WaitClosed)
}

// Close releases the channel, session, and socket. Teardown is
// best-effort: protocol-level close failures are logged, not returned.
func (c *Client) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if c.chn != nil {
		if err := retryUnit(ctx, c.waiter, c.sess, c.chn.Close); err != nil {
			c.log.Debug("Channel close failed during teardown: %v", err)
		}
		c.chn = nil
	}
	if c.sess != nil {
		if err := retryUnit(ctx, c.waiter, c.sess, c.sess.Close); err != nil {
			c.log.Debug("Session close failed during teardown: %v", err)
		}
		c.sess = nil
	}
	c.teardownSocket()
	return nil
}

func (c *Client) teardownSocket() {
	if c.sock != nil {
		_ = c.sock.Close()
		c.sock = nil
	}
}

// withDefaults fills in unset config fields.
func withDefaults(cfg Config) Config {
	if cfg.User == "" {
		cfg.User = currentUser()
	}
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.NumRetries == 0 {
		cfg.NumRetries = DefaultRetries
	}
	if cfg.RetryBackoff == 0 {
		cfg.RetryBackoff = DefaultBackoff
	}
	if cfg.Terminator == "" {
		cfg.Terminator = DefaultTerminator
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if len(cfg.IdentityFiles) == 0 {
		cfg.IdentityFiles = DefaultIdentityFiles()
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.NewEnvLogger("[sshclient]")
	}
	if cfg.Dial == nil {
		cfg.Dial = net.DialTimeout
	}
	if cfg.NewWaiter == nil {
		cfg.NewWaiter = NewSocketWaiter
	}
	return cfg
}

// DefaultIdentityFiles returns the ordered well-known private-key
// candidate paths for the identity-file probe.
func DefaultIdentityFiles() []string {
	home := homeDir()
	return []string{
		filepath.Join(home, ".ssh", "id_ed25519"),
		filepath.Join(home, ".ssh", "id_rsa"),
		filepath.Join(home, ".ssh", "id_ecdsa"),
		filepath.Join(home, ".ssh", "id_dsa"),
		filepath.Join(home, ".ssh", "identity"),
	}
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return os.Getenv("HOME")
	}
	return home
}

func currentUser() string {
	if user := os.Getenv("USER"); user != "" {
		return user
	}
	return "root"
}
