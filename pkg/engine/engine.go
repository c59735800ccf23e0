// Package engine defines the boundary to an SSH protocol engine: the
// external implementation providing session and channel primitives (key
// exchange, encryption, packet framing) that the client drives.
//
// Engines built on a non-blocking socket report WouldBlock instead of
// stalling, together with the socket direction they are waiting on. The
// client is responsible for waiting on socket readiness and re-invoking
// the operation. Would-block is a status value, not an error; errors are
// reserved for terminal protocol failures.
package engine

import (
	"errors"
	"fmt"
	"net"
)

// BlockDirections is the engine-reported set of socket directions the
// engine is waiting on after a would-block result.
type BlockDirections int

const (
	// BlockNone means the engine is not actually blocked; a wait on the
	// socket would be spurious and callers should retry immediately.
	BlockNone BlockDirections = 0
	// BlockInbound means the engine needs the socket to become readable.
	BlockInbound BlockDirections = 1 << 0
	// BlockOutbound means the engine needs the socket to become writable.
	BlockOutbound BlockDirections = 1 << 1
)

// String returns a human-readable form for debug logging.
func (d BlockDirections) String() string {
	switch d {
	case BlockNone:
		return "none"
	case BlockInbound:
		return "inbound"
	case BlockOutbound:
		return "outbound"
	case BlockInbound | BlockOutbound:
		return "inbound|outbound"
	}
	return fmt.Sprintf("BlockDirections(%d)", int(d))
}

// Status is the progress result of a single engine operation.
type Status int

const (
	// Ready means the operation completed; its value and error are valid.
	Ready Status = iota
	// WouldBlock means the socket must become ready before the operation
	// can make progress. The operation must be re-invoked after waiting.
	WouldBlock
)

// StreamID selects a channel output stream.
type StreamID int

const (
	// StreamStdout is the channel's standard output stream.
	StreamStdout StreamID = 0
	// StreamStderr is the channel's extended-data (standard error) stream.
	StreamStderr StreamID = 1
)

// CodeChannelFailure is the engine error code signaling a channel-level
// failure (the remote side closed or invalidated the channel). The client
// recovers from it by reopening the channel and retrying once.
const CodeChannelFailure = -22

// ChannelError is a terminal channel-level engine error carrying the
// engine's numeric error code.
type ChannelError struct {
	Code int
	Op   string
	Err  error
}

func (e *ChannelError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("channel %s failed with code %d: %v", e.Op, e.Code, e.Err)
	}
	return fmt.Sprintf("channel %s failed with code %d", e.Op, e.Code)
}

func (e *ChannelError) Unwrap() error {
	return e.Err
}

// IsChannelFailure reports whether err is a ChannelError with the
// recoverable channel-failure code.
func IsChannelFailure(err error) bool {
	var chErr *ChannelError
	if errors.As(err, &chErr) {
		return chErr.Code == CodeChannelFailure
	}
	return false
}

// Engine creates protocol sessions. Implementations wrap a concrete SSH
// protocol library.
type Engine interface {
	// NewSession creates a fresh, unconnected session.
	NewSession() Session
}

// Session is one SSH protocol session bound to a single transport socket.
// Sessions are not safe for concurrent use.
type Session interface {
	// SetNonblocking switches the session (and its socket) between
	// blocking and non-blocking mode. In non-blocking mode operations
	// may return WouldBlock.
	SetNonblocking(nonblocking bool)

	// Startup performs the protocol handshake over the connected socket.
	Startup(sock net.Conn) (Status, error)

	// UserauthAgent authenticates via the local SSH agent.
	UserauthAgent(user string) (Status, error)

	// UserauthPublickeyFromfile authenticates with a key pair read from
	// disk. An empty passphrase is valid for unencrypted keys.
	UserauthPublickeyFromfile(user, pubkeyPath, privkeyPath, passphrase string) (Status, error)

	// UserauthPassword authenticates with a plain password.
	UserauthPassword(user, password string) (Status, error)

	// OpenChannel requests a new command-execution channel. A nil channel
	// with Ready status and nil error means the channel is not yet
	// available and the caller should wait on BlockDirections and retry.
	OpenChannel() (Channel, Status, error)

	// BlockDirections reports which socket direction(s) the engine is
	// currently waiting on. Valid after a WouldBlock result.
	BlockDirections() BlockDirections

	// Close shuts the session down.
	Close() (Status, error)
}

// Channel is a single logical command-execution stream multiplexed over
// one authenticated session. A channel may become stale (remote-closed)
// independently of the session; stale channels must be replaced, never
// reused.
type Channel interface {
	// RequestPty requests a pseudo-terminal of the given terminal type.
	RequestPty(term string) (Status, error)

	// Execute starts the given command on the channel.
	Execute(command string) (Status, error)

	// Read reads raw bytes from the selected output stream into buf.
	// A zero count with Ready status and AtEOF true signals end of stream.
	Read(stream StreamID, buf []byte) (int, Status, error)

	// AtEOF reports whether the remote side signaled end of stream.
	AtEOF() bool

	// IsClosed reports whether the channel has been closed and must not
	// be reused for a new command.
	IsClosed() bool

	// ExitStatus returns the remote command's exit status. Only valid
	// after the output has been drained to EOF.
	ExitStatus() int

	// WaitEOF blocks (subject to would-block retries) until the remote
	// side signals EOF.
	WaitEOF() (Status, error)

	// Close closes the channel.
	Close() (Status, error)

	// WaitClosed waits for the remote close acknowledgement.
	WaitClosed() (Status, error)
}
