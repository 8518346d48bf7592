/*
 * MailVerify - Copyright (C) 2022 Zane van Iperen.
 *    Contact: zane@zanevaniperen.com
 *
 * This program is free software; you can redistribute it and/or modify
 * it under the terms of the GNU General Public License version 2, and only
 * version 2 as published by the Free Software Foundation.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License
 * along with this program; if not, write to the Free Software
 * Foundation, Inc., 59 Temple Place, Suite 330, Boston, MA  02111-1307  USA
 */

package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-imap/commands"
	log "github.com/sirupsen/logrus"
	"github.com/vs49688/mailverify/imap"
	"github.com/vs49688/mailverify/transport"
)

type Factory struct{}

// clientConn sits between go-imap and the transport. It records everything
// read up to the first LF and can hold the reader goroutine while the
// transport replaces its stream.
type clientConn struct {
	*transport.Connection

	mu       sync.Mutex
	greeting []byte
	done     bool

	hold     chan struct{}
	parked   chan struct{}
	isParked bool
}

func (c *clientConn) Read(b []byte) (int, error) {
	for {
		c.wait()

		n, err := c.Connection.Read(b)
		if n == 0 && err != nil && c.holding() {
			continue
		}

		c.record(b[:n])
		return n, err
	}
}

func (c *clientConn) record(b []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.done || len(b) == 0 {
		return
	}

	if i := bytes.IndexByte(b, '\n'); i >= 0 {
		c.greeting = append(c.greeting, b[:i]...)
		c.done = true
	} else {
		c.greeting = append(c.greeting, b...)
	}
}

func (c *clientConn) holding() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hold != nil
}

// wait blocks the reader while a hold is in place.
func (c *clientConn) wait() {
	c.mu.Lock()
	hold := c.hold
	if hold != nil && !c.isParked {
		c.isParked = true
		close(c.parked)
	}
	c.mu.Unlock()

	if hold != nil {
		<-hold
	}
}

// upgradeTLS parks the reader, then hands the socket to the transport for
// the handshake. A pending read is interrupted with an expired deadline.
// done is closed if the reader exits on its own.
func (c *clientConn) upgradeTLS(ctx context.Context, cfg *tls.Config, done <-chan struct{}) error {
	c.mu.Lock()
	c.hold = make(chan struct{})
	c.parked = make(chan struct{})
	c.isParked = false
	parked := c.parked
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		close(c.hold)
		c.hold = nil
		c.mu.Unlock()
	}()

	if err := c.Connection.SetReadDeadline(expired); err != nil {
		return err
	}

	select {
	case <-parked:
	case <-done:
		return transport.ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	if err := c.Connection.SetReadDeadline(noDeadline); err != nil {
		return err
	}

	return c.Connection.UpgradeTLS(ctx, cfg)
}

func (c *clientConn) Greeting() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return strings.TrimRight(string(c.greeting), "\r")
}

type imapClient struct {
	*client.Client
	conn *clientConn
}

func (c *imapClient) Greeting() string {
	return c.conn.Greeting()
}

// IsTLS reports the state of the transport, which go-imap cannot see after
// an upgrade it did not perform itself.
func (c *imapClient) IsTLS() bool {
	return c.conn.IsTLS()
}

// Logout always closes the transport, even if the server never answers.
func (c *imapClient) Logout() error {
	err := c.Client.Logout()
	if cerr := c.conn.Close(); err == nil {
		err = cerr
	}
	return err
}

func (c *imapClient) startTLS(ctx context.Context, cfg *tls.Config) error {
	status, err := c.Execute(&commands.StartTLS{}, nil)
	if err != nil {
		return err
	}
	if err := status.Err(); err != nil {
		return err
	}

	if err := c.conn.upgradeTLS(ctx, cfg, c.LoggedOut()); err != nil {
		return err
	}

	// Anything advertised before the upgrade is stale.
	_, err = c.Capability()
	return err
}

func (f *Factory) NewClient(ctx context.Context, cfg *imap.ClientConfig) (imap.Client, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}

	dialCtx := ctx
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	conn, err := transport.Dial(dialCtx, &transport.Config{
		Host:      cfg.Host,
		Port:      cfg.Port,
		TLS:       cfg.TLS,
		TLSConfig: cfg.TLSConfig,
		Resolver:  cfg.Resolver,
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}

	cc := &clientConn{Connection: conn}

	// client.New blocks until the greeting arrives.
	if cfg.Timeout > 0 {
		if deadline, ok := dialCtx.Deadline(); ok {
			_ = conn.SetReadDeadline(deadline)
		}
	}

	c, err := client.New(cc)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	_ = conn.SetReadDeadline(noDeadline)

	c.Timeout = cfg.Timeout

	ic := &imapClient{Client: c, conn: cc}

	wantCleanup := true
	defer func() {
		if wantCleanup {
			_ = ic.Logout()
		}
	}()

	if cfg.Debug {
		c.SetDebug(os.Stderr)
	}

	if cfg.StartTLS && !cfg.TLS {
		tlsCtx := ctx
		if cfg.Timeout > 0 {
			var cancel context.CancelFunc
			tlsCtx, cancel = context.WithTimeout(ctx, cfg.Timeout)
			defer cancel()
		}

		logger.Trace("imap_starttls")
		if err := ic.startTLS(tlsCtx, cfg.TLSConfig); err != nil {
			return nil, &transport.ConnectionError{Op: "starttls", Host: cfg.Host, Err: err}
		}
	}

	wantCleanup = false
	return ic, nil
}

var (
	noDeadline time.Time
	expired    = time.Unix(1, 0)
)
