package sshclient

import (
	"bytes"
	"context"
	"io"

	"github.com/rileyhilliard/nbssh/pkg/engine"
)

// readChunkSize is the buffer size for a single raw channel read.
const readChunkSize = 4096

// LineStream is a lazy, one-shot sequence of output lines from one
// channel stream. Lines are produced on demand: each Next call reads raw
// chunks from the channel through the retry driver until a complete line
// is available or the stream hits end-of-file.
//
// Chunk boundaries are invisible to callers: bytes without a trailing
// terminator are carried over and prepended to the next chunk, so a
// terminator split across two reads is never lost or duplicated. A
// trailing unterminated remainder is emitted as a final line at EOF.
type LineStream struct {
	c         *Client
	chn       engine.Channel
	stream    engine.StreamID
	term      []byte
	remainder []byte
	pending   []string
	eof       bool
	buf       []byte
}

func (c *Client) newLineStream(chn engine.Channel, stream engine.StreamID) *LineStream {
	return &LineStream{
		c:      c,
		chn:    chn,
		stream: stream,
		term:   []byte(c.cfg.Terminator),
		buf:    make([]byte, readChunkSize),
	}
}

// Next returns the next output line, or io.EOF once the stream is
// exhausted. Lines are returned in the exact order they appear in the
// byte stream, with trailing whitespace stripped.
func (s *LineStream) Next(ctx context.Context) (string, error) {
	for len(s.pending) == 0 && !s.eof {
		if err := s.fill(ctx); err != nil {
			return "", err
		}
	}
	if len(s.pending) == 0 {
		return "", io.EOF
	}
	line := s.pending[0]
	s.pending = s.pending[1:]
	if s.c.cfg.LineCallback != nil {
		s.c.cfg.LineCallback(s.c.cfg.Host, line)
	}
	return line, nil
}

// Drain consumes the rest of the stream and returns all remaining lines.
func (s *LineStream) Drain(ctx context.Context) ([]string, error) {
	var lines []string
	for {
		line, err := s.Next(ctx)
		if err == io.EOF {
			return lines, nil
		}
		if err != nil {
			return lines, err
		}
		lines = append(lines, line)
	}
}

// fill waits for readiness, reads one raw chunk from the channel, and
// splits it into lines. A zero-byte read with the channel at end-of-file
// flushes the remainder and marks the stream exhausted; the stream is
// never read again after that.
func (s *LineStream) fill(ctx context.Context) error {
	if err := s.c.waiter.WaitReady(ctx, s.c.sess.BlockDirections()); err != nil {
		return err
	}

	n, err := retryUntilReady(ctx, s.c.waiter, s.c.sess, func() (int, engine.Status, error) {
		return s.chn.Read(s.stream, s.buf)
	})
	if err != nil {
		return err
	}

	if n > 0 {
		s.c.log.Debug("Got data size %d", n)
		s.split(s.buf[:n])
		return nil
	}
	if s.chn.AtEOF() {
		s.finish()
	}
	return nil
}

// split appends data to the carried-over remainder and cuts complete
// lines at the terminator.
func (s *LineStream) split(data []byte) {
	s.remainder = append(s.remainder, data...)
	for {
		idx := bytes.Index(s.remainder, s.term)
		if idx < 0 {
			break
		}
		s.pending = append(s.pending, trimLine(s.remainder[:idx]))
		s.remainder = s.remainder[idx+len(s.term):]
	}
}

// finish flushes an unterminated trailing remainder as the final line and
// marks end of stream.
func (s *LineStream) finish() {
	if len(s.remainder) > 0 {
		s.pending = append(s.pending, trimLine(s.remainder))
		s.remainder = nil
	}
	s.eof = true
}

func trimLine(b []byte) string {
	return string(bytes.TrimRight(b, " \t\r\n"))
}
