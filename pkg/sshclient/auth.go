package sshclient

import (
	"context"
	"fmt"
	"os"

	nberrors "github.com/rileyhilliard/nbssh/internal/errors"
	"github.com/rileyhilliard/nbssh/pkg/engine"
)

// authenticate tries authentication strategies in strict priority order:
//
//  1. An explicitly configured key pair, with no fallback - a failure is
//     surfaced immediately.
//  2. The SSH agent.
//  3. The ordered identity-file probe over well-known key locations.
//  4. Password, when one is configured.
//
// Authentication happens exactly once per client; no strategy result is
// cached beyond the session.
func (c *Client) authenticate(ctx context.Context) error {
	if c.cfg.PrivateKeyPath != "" {
		c.log.Debug("Proceeding with public key file authentication")
		return c.pkeyAuth(ctx)
	}

	if !c.cfg.DisableAgent {
		if err := c.agentAuth(ctx); err == nil {
			c.log.Debug("Authentication with SSH Agent succeeded")
			return nil
		} else {
			c.log.Debug("Agent auth failed with %v, "+
				"continuing with other authentication methods", err)
		}
	}

	if err := c.identityAuth(ctx); err != nil {
		if c.cfg.Password == "" {
			return err
		}
		c.log.Debug("Public key auth failed, trying password")
		return c.passwordAuth(ctx)
	}
	return nil
}

// pkeyAuth authenticates with the explicitly configured key pair. The
// public key is expected alongside the private key with a ".pub" suffix.
func (c *Client) pkeyAuth(ctx context.Context) error {
	pubFile := c.cfg.PrivateKeyPath + ".pub"
	c.log.Debug("Attempting authentication with public key %s for user %s",
		pubFile, c.cfg.User)
	err := retryUnit(ctx, c.waiter, c.sess, func() (engine.Status, error) {
		return c.sess.UserauthPublickeyFromfile(
			c.cfg.User, pubFile, c.cfg.PrivateKeyPath, c.passphrase())
	})
	if err != nil {
		return nberrors.WrapWithCode(err, nberrors.ErrAuth,
			fmt.Sprintf("Authentication with key %s failed for %s@%s",
				c.cfg.PrivateKeyPath, c.cfg.User, c.cfg.Host),
			"An explicit key disables all fallback strategies; check the key and its passphrase")
	}
	return nil
}

// agentAuth authenticates via the SSH agent. Agent authentication in the
// engine is not cancellable mid-flight the way channel I/O is, so this is
// the one call that runs with the socket forced into blocking mode, on a
// borrowed goroutine so sibling clients keep making progress. The mode is
// restored regardless of outcome.
func (c *Client) agentAuth(ctx context.Context) error {
	c.sess.SetNonblocking(false)
	defer c.sess.SetNonblocking(true)

	done := make(chan error, 1)
	go func() {
		_, err := c.sess.UserauthAgent(c.cfg.User)
		done <- err
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// identityAuth probes the ordered identity-file candidates, attempting
// public-key authentication with each one that exists on disk. A failure
// on one candidate is logged at debug level and the next is tried.
func (c *Client) identityAuth(ctx context.Context) error {
	for _, identityFile := range c.cfg.IdentityFiles {
		if _, err := os.Stat(identityFile); err != nil {
			continue
		}
		pubFile := identityFile + ".pub"
		c.log.Debug("Trying to authenticate with identity file %s", identityFile)
		err := retryUnit(ctx, c.waiter, c.sess, func() (engine.Status, error) {
			return c.sess.UserauthPublickeyFromfile(
				c.cfg.User, pubFile, identityFile, c.passphrase())
		})
		if err != nil {
			c.log.Debug("Authentication with identity file %s failed, "+
				"continuing with other identities", identityFile)
			continue
		}
		c.log.Debug("Authentication succeeded with identity file %s", identityFile)
		return nil
	}
	return nberrors.New(nberrors.ErrAuth,
		"No authentication methods succeeded",
		"Check your keys are loaded: ssh-add -l")
}

// passwordAuth authenticates with the configured password.
func (c *Client) passwordAuth(ctx context.Context) error {
	err := retryUnit(ctx, c.waiter, c.sess, func() (engine.Status, error) {
		return c.sess.UserauthPassword(c.cfg.User, c.cfg.Password)
	})
	if err != nil {
		return nberrors.WrapWithCode(err, nberrors.ErrAuth,
			fmt.Sprintf("Password authentication failed for %s@%s", c.cfg.User, c.cfg.Host),
			"Check the configured password")
	}
	return nil
}

// passphrase is the key passphrase: the configured password when set,
// otherwise the empty string. The empty-string fallback is a
// configuration default, not a security decision; keys requiring a
// non-empty passphrase need Password set.
func (c *Client) passphrase() string {
	return c.cfg.Password
}
