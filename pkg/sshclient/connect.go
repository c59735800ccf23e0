package sshclient

import (
	"context"
	"fmt"
	"strings"
	"time"

	nberrors "github.com/rileyhilliard/nbssh/internal/errors"
	"github.com/rileyhilliard/nbssh/pkg/engine"
)

// connect establishes the transport socket with bounded retries. Each
// attempt is a synchronous (blocking) TCP connect; on success the socket
// is handed over for non-blocking engine interaction.
func (c *Client) connect(ctx context.Context) error {
	var lastErr error
	for attempt := 1; attempt <= c.cfg.NumRetries; attempt++ {
		sock, err := c.cfg.Dial("tcp", c.addr, c.cfg.ConnectTimeout)
		if err == nil {
			c.sock = sock
			return nil
		}
		lastErr = err
		c.log.Error("Error connecting to host '%s:%d' - retry %d/%d",
			c.cfg.Host, c.cfg.Port, attempt, c.cfg.NumRetries)
		if attempt == c.cfg.NumRetries {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.cfg.RetryBackoff):
		}
	}

	return nberrors.WrapWithCode(lastErr, nberrors.ErrConnect,
		fmt.Sprintf("Error connecting to host '%s:%d' - retry %d/%d",
			c.cfg.Host, c.cfg.Port, c.cfg.NumRetries, c.cfg.NumRetries),
		suggestionForDialError(lastErr))
}

// startup drives the protocol handshake to completion through the retry
// driver.
func (c *Client) startup(ctx context.Context) error {
	sock := c.sock
	err := retryUnit(ctx, c.waiter, c.sess, func() (engine.Status, error) {
		return c.sess.Startup(sock)
	})
	if err != nil {
		return nberrors.WrapWithCode(err, nberrors.ErrProto,
			fmt.Sprintf("SSH handshake with '%s' didn't go through", c.cfg.Host),
			"Is an SSH server listening on that port? Try: ssh "+c.cfg.Host)
	}
	return nil
}

func suggestionForDialError(err error) string {
	if err == nil {
		return ""
	}
	errStr := err.Error()
	if strings.Contains(errStr, "connection refused") {
		return "Is SSH running on that box? Try: ssh <host>"
	}
	if strings.Contains(errStr, "no route to host") || strings.Contains(errStr, "network is unreachable") {
		return "Can't route to the host. Check your network connection."
	}
	if strings.Contains(errStr, "timeout") || strings.Contains(errStr, "i/o timeout") {
		return "Connection timed out. Host might be offline or blocked by a firewall."
	}
	return "Make sure the host is reachable: ping <host>"
}
