package sshclient

import (
	"context"
	"fmt"

	nberrors "github.com/rileyhilliard/nbssh/internal/errors"
	"github.com/rileyhilliard/nbssh/pkg/engine"
)

// openChannel requests a command-execution channel from the session. The
// engine signals "not yet available" with a nil channel (distinct from
// would-block); both cases wait on the session's block directions before
// retrying.
func (c *Client) openChannel(ctx context.Context) (engine.Channel, error) {
	for {
		chn, status, err := c.sess.OpenChannel()
		if err != nil {
			return nil, nberrors.WrapWithCode(err, nberrors.ErrProto,
				fmt.Sprintf("Failed to open channel on %s", c.cfg.Host),
				"The session may have died; reconnect and try again")
		}
		if status != engine.WouldBlock && chn != nil {
			return chn, nil
		}
		if werr := c.waiter.WaitReady(ctx, c.sess.BlockDirections()); werr != nil {
			return nil, werr
		}
	}
}

// ensureLive replaces the client's channel if the current one reports
// closed. A stale channel is never reused for a new command.
func (c *Client) ensureLive(ctx context.Context) error {
	if c.chn != nil && !c.chn.IsClosed() {
		return nil
	}
	if c.chn != nil {
		c.log.Debug("Channel reported closed - opening new channel")
	}
	chn, err := c.openChannel(ctx)
	if err != nil {
		return err
	}
	c.chn = chn
	return nil
}
