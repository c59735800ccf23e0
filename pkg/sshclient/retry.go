package sshclient

import (
	"context"

	"github.com/rileyhilliard/nbssh/pkg/engine"
)

// retryUntilReady drives a single engine operation to completion: invoke,
// and while the engine reports would-block, wait on the socket in the
// engine's current block direction(s) and re-invoke. There is no retry
// cap; termination comes from the engine returning a result or from the
// waiter failing (closed socket, cancelled context).
//
// The returned error may be a terminal protocol error from the engine;
// this layer interprets only the would-block status, never error codes.
func retryUntilReady[T any](ctx context.Context, w Waiter, s engine.Session, op func() (T, engine.Status, error)) (T, error) {
	for {
		v, status, err := op()
		if status != engine.WouldBlock {
			return v, err
		}
		if werr := w.WaitReady(ctx, s.BlockDirections()); werr != nil {
			var zero T
			return zero, werr
		}
	}
}

// retryUnit is retryUntilReady for operations without a result value.
func retryUnit(ctx context.Context, w Waiter, s engine.Session, op func() (engine.Status, error)) error {
	_, err := retryUntilReady(ctx, w, s, func() (struct{}, engine.Status, error) {
		status, err := op()
		return struct{}{}, status, err
	})
	return err
}
