// Package enginetest provides a scripted fake protocol engine for testing
// the session client without a live SSH server. Sessions and channels are
// driven by per-operation scripts: canned auth outcomes, interleaved
// would-block results, chunked read data, and injected channel failures.
package enginetest

import (
	"errors"
	"net"
	"sync"

	"github.com/rileyhilliard/nbssh/pkg/engine"
)

// Engine hands out a single scripted session.
type Engine struct {
	Session *Session
}

// New returns an engine that serves the given scripted session.
func New(s *Session) *Engine {
	return &Engine{Session: s}
}

// NewSession implements engine.Engine.
func (e *Engine) NewSession() engine.Session {
	if e.Session == nil {
		e.Session = &Session{}
	}
	return e.Session
}

// Chunk is one scripted read result.
type Chunk struct {
	Data   []byte
	Status engine.Status
	Err    error
}

// WouldBlock is a convenience chunk making the next read report
// would-block.
func WouldBlock() Chunk {
	return Chunk{Status: engine.WouldBlock}
}

// Data is a convenience chunk returning bytes.
func Data(s string) Chunk {
	return Chunk{Data: []byte(s)}
}

// Session is a scripted engine session. The zero value authenticates
// everything successfully and opens fresh channels immediately.
type Session struct {
	mu sync.Mutex

	// StartupBlocks makes Startup report would-block that many times
	// before completing. StartupErr, when set, fails the handshake.
	StartupBlocks int
	StartupErr    error

	// AgentErr fails agent authentication when set.
	AgentErr error
	// PubkeyErr maps private-key paths to auth outcomes; paths not in
	// the map succeed. PubkeyErrAll fails every public-key attempt.
	PubkeyErr    map[string]error
	PubkeyErrAll error
	// PasswordErr fails password authentication when set.
	PasswordErr error

	// OpenNil makes OpenChannel report "not yet available" that many
	// times before producing a channel.
	OpenNil int
	// Channels is the queue of channels to hand out; when exhausted,
	// fresh empty channels are produced.
	Channels []*Channel
	// OpenErr fails OpenChannel when set.
	OpenErr error

	// Dirs is the reported block-direction set.
	Dirs engine.BlockDirections

	// Recorded state.
	NonblockingLog []bool
	AuthCalls      []string
	Opened         int
	Closed         bool
	startupLeft    int
	startupInit    bool
	openNilLeft    int
	openNilInit    bool
}

var _ engine.Session = (*Session)(nil)

func (s *Session) SetNonblocking(nonblocking bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.NonblockingLog = append(s.NonblockingLog, nonblocking)
}

func (s *Session) Startup(sock net.Conn) (engine.Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.startupInit {
		s.startupLeft = s.StartupBlocks
		s.startupInit = true
	}
	if s.startupLeft > 0 {
		s.startupLeft--
		return engine.WouldBlock, nil
	}
	return engine.Ready, s.StartupErr
}

func (s *Session) UserauthAgent(user string) (engine.Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.AuthCalls = append(s.AuthCalls, "agent:"+user)
	return engine.Ready, s.AgentErr
}

func (s *Session) UserauthPublickeyFromfile(user, pubkeyPath, privkeyPath, passphrase string) (engine.Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.AuthCalls = append(s.AuthCalls, "pubkey:"+privkeyPath)
	if s.PubkeyErrAll != nil {
		return engine.Ready, s.PubkeyErrAll
	}
	if err, ok := s.PubkeyErr[privkeyPath]; ok {
		return engine.Ready, err
	}
	return engine.Ready, nil
}

func (s *Session) UserauthPassword(user, password string) (engine.Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.AuthCalls = append(s.AuthCalls, "password:"+user)
	return engine.Ready, s.PasswordErr
}

func (s *Session) OpenChannel() (engine.Channel, engine.Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.OpenErr != nil {
		return nil, engine.Ready, s.OpenErr
	}
	if !s.openNilInit {
		s.openNilLeft = s.OpenNil
		s.openNilInit = true
	}
	if s.openNilLeft > 0 {
		s.openNilLeft--
		return nil, engine.Ready, nil
	}
	s.Opened++
	if len(s.Channels) > 0 {
		chn := s.Channels[0]
		s.Channels = s.Channels[1:]
		return chn, engine.Ready, nil
	}
	return &Channel{}, engine.Ready, nil
}

func (s *Session) BlockDirections() engine.BlockDirections {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Dirs
}

func (s *Session) Close() (engine.Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Closed = true
	return engine.Ready, nil
}

// Channel is a scripted engine channel. Stdout and Stderr scripts are
// consumed one chunk per read; an exhausted script reads as zero bytes.
// The channel reports EOF once no would-block chunks remain in either
// script, matching an engine whose remote has ended the streams with
// output still buffered locally. Buffered chunks stay readable past EOF,
// on both streams, in either drain order.
type Channel struct {
	mu sync.Mutex

	Stdout []Chunk
	Stderr []Chunk

	// ExecuteErrs is popped once per Execute call; an empty queue means
	// success. Use a ChannelError with engine.CodeChannelFailure to
	// exercise the reopen-and-retry path.
	ExecuteErrs []error
	// PtyErr fails RequestPty when set.
	PtyErr error
	// Closed marks the channel stale before any command runs.
	Closed bool
	// Exit is the reported exit status.
	Exit int

	Executed    []string
	PtyRequests int
	eofOverride *bool
}

var _ engine.Channel = (*Channel)(nil)

// ChannelFailure returns the recoverable -22 channel error for scripting.
func ChannelFailure(op string) error {
	return &engine.ChannelError{
		Code: engine.CodeChannelFailure,
		Op:   op,
		Err:  errors.New("channel failure injected by test"),
	}
}

// SetEOF overrides the derived EOF state.
func (c *Channel) SetEOF(eof bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.eofOverride = &eof
}

func (c *Channel) RequestPty(term string) (engine.Status, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.PtyRequests++
	return engine.Ready, c.PtyErr
}

func (c *Channel) Execute(command string) (engine.Status, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Executed = append(c.Executed, command)
	if len(c.ExecuteErrs) > 0 {
		err := c.ExecuteErrs[0]
		c.ExecuteErrs = c.ExecuteErrs[1:]
		return engine.Ready, err
	}
	return engine.Ready, nil
}

func (c *Channel) Read(stream engine.StreamID, buf []byte) (int, engine.Status, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	script := &c.Stdout
	if stream == engine.StreamStderr {
		script = &c.Stderr
	}
	if len(*script) == 0 {
		return 0, engine.Ready, nil
	}
	chunk := (*script)[0]
	*script = (*script)[1:]
	if chunk.Status == engine.WouldBlock {
		return 0, engine.WouldBlock, nil
	}
	if chunk.Err != nil {
		return 0, engine.Ready, chunk.Err
	}
	n := copy(buf, chunk.Data)
	// Oversized chunks are not split; tests use chunks under the read
	// buffer size.
	return n, engine.Ready, nil
}

func (c *Channel) AtEOF() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.eofOverride != nil {
		return *c.eofOverride
	}
	for _, script := range [][]Chunk{c.Stdout, c.Stderr} {
		for _, chunk := range script {
			if chunk.Status == engine.WouldBlock {
				return false
			}
		}
	}
	return true
}

func (c *Channel) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Closed
}

func (c *Channel) ExitStatus() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Exit
}

func (c *Channel) WaitEOF() (engine.Status, error) {
	return engine.Ready, nil
}

func (c *Channel) Close() (engine.Status, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Closed = true
	return engine.Ready, nil
}

func (c *Channel) WaitClosed() (engine.Status, error) {
	return engine.Ready, nil
}
