package sshclient

import (
	"context"
	"errors"
	"net"
	"os"
	"syscall"
	"time"

	nberrors "github.com/rileyhilliard/nbssh/internal/errors"
	"github.com/rileyhilliard/nbssh/pkg/engine"
)

// Waiter suspends the calling goroutine until the transport socket is
// ready in the direction(s) the engine is blocked on. This is the sole
// suspension point of the client: waiting yields the thread to other
// goroutines via the runtime poller.
type Waiter interface {
	// WaitReady returns once the socket is ready for the given
	// direction(s), immediately for BlockNone, or with the context's
	// error if the wait is cancelled.
	WaitReady(ctx context.Context, dirs engine.BlockDirections) error
}

// bothDirsPollInterval bounds the wait when the engine is blocked on both
// directions at once. The poll is performed on the read side only, so a
// periodic wakeup lets the retry loop make write progress too.
const bothDirsPollInterval = time.Second

// socketWaiter waits on a TCP socket through the runtime network poller
// using syscall.RawConn read/write waits.
type socketWaiter struct {
	conn net.Conn
}

// NewSocketWaiter returns a Waiter for the given socket. The socket must
// support syscall.Conn (all *net.TCPConn do).
func NewSocketWaiter(conn net.Conn) Waiter {
	return &socketWaiter{conn: conn}
}

func (w *socketWaiter) WaitReady(ctx context.Context, dirs engine.BlockDirections) error {
	if dirs == engine.BlockNone {
		return nil
	}

	sc, ok := w.conn.(syscall.Conn)
	if !ok {
		return nberrors.New(nberrors.ErrProto,
			"Transport socket does not support readiness waits",
			"Use a TCP connection as the transport socket")
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return nberrors.Wrap(err, "Failed to access raw socket")
	}

	waitRead := dirs&engine.BlockInbound != 0
	waitWrite := dirs&engine.BlockOutbound != 0
	both := waitRead && waitWrite

	// Cancellation interrupts the poller wait through the socket deadline.
	stop := make(chan struct{})
	if ctx.Done() != nil {
		go func() {
			select {
			case <-ctx.Done():
				_ = w.conn.SetDeadline(time.Now())
			case <-stop:
			}
		}()
	}
	defer func() {
		close(stop)
		_ = w.conn.SetDeadline(time.Time{})
	}()

	if both {
		// Cannot wait on both directions in one poller call; wait on
		// read with a bounded deadline so write readiness is retried.
		_ = w.conn.SetReadDeadline(time.Now().Add(bothDirsPollInterval))
	}

	var waitErr error
	wakeup := waitOnce()
	if waitRead {
		waitErr = raw.Read(wakeup)
	} else {
		waitErr = raw.Write(wakeup)
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}
	if waitErr != nil {
		if both && errors.Is(waitErr, os.ErrDeadlineExceeded) {
			// Spurious wakeup; the retry loop re-invokes the operation.
			return nil
		}
		return nberrors.Wrap(waitErr, "Socket readiness wait failed")
	}
	return nil
}

// waitOnce returns a RawConn callback that defers once (parking the
// goroutine until the socket is ready) and then completes.
func waitOnce() func(fd uintptr) bool {
	first := true
	return func(fd uintptr) bool {
		if first {
			first = false
			return false
		}
		return true
	}
}
