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

package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"
)

// Dial resolves cfg.Host, connects to the first address returned and,
// if cfg.TLS is set, performs the TLS handshake before returning.
func Dial(ctx context.Context, cfg *Config) (*Connection, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}
	logger = logger.WithFields(log.Fields{"host": cfg.Host, "port": cfg.Port})

	resolver := cfg.Resolver
	if resolver == nil {
		resolver = net.DefaultResolver
	}

	logger.WithField("tls", cfg.TLS).Trace("transport_connecting")

	addr, err := resolve(ctx, resolver, cfg.Host)
	if err != nil {
		return nil, err
	}

	network := "tcp4"
	if addr.IP.To4() == nil {
		network = "tcp6"
	}

	var d net.Dialer
	sock, err := d.DialContext(ctx, network, net.JoinHostPort(addr.String(), strconv.Itoa(int(cfg.Port))))
	if err != nil {
		return nil, &ConnectionError{Op: "connect", Host: cfg.Host, Err: err}
	}

	c := &Connection{
		host:   cfg.Host,
		port:   cfg.Port,
		logger: logger,
		sock:   sock,
	}

	logger.WithFields(log.Fields{
		"network": network,
		"address": sock.RemoteAddr().String(),
	}).Debug("transport_connected")

	if cfg.TLS {
		if err := c.UpgradeTLS(ctx, cfg.TLSConfig); err != nil {
			return nil, err
		}
	}

	return c, nil
}

func resolve(ctx context.Context, resolver Resolver, host string) (net.IPAddr, error) {
	addrs, err := resolver.LookupIPAddr(ctx, host)
	if err != nil {
		return net.IPAddr{}, &ConnectionError{Op: "resolve", Host: host, Err: err}
	}

	if len(addrs) == 0 {
		return net.IPAddr{}, &ConnectionError{Op: "resolve", Host: host, Err: ErrNoAddress}
	}

	return addrs[0], nil
}

// UpgradeTLS wraps the plaintext socket in a TLS client session keyed by
// the server hostname. The plaintext stream is only replaced once the
// handshake has completed. A failed handshake closes the connection.
// Upgrading an already-upgraded connection is a no-op.
func (c *Connection) UpgradeTLS(ctx context.Context, cfg *tls.Config) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return &ConnectionError{Op: "tls", Host: c.host, Err: ErrClosed}
	}
	if c.tls != nil {
		c.mu.Unlock()
		return nil
	}
	sock := c.sock
	c.mu.Unlock()

	var tlsConfig *tls.Config
	if cfg != nil {
		tlsConfig = cfg.Clone()
	} else {
		tlsConfig = &tls.Config{}
	}

	if tlsConfig.ServerName == "" {
		tlsConfig.ServerName = c.host
	}

	c.logger.Trace("transport_tls_handshake")

	tlsConn := tls.Client(sock, tlsConfig)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		_ = c.Close()
		return &ConnectionError{Op: "tls", Host: c.host, Err: fmt.Errorf("%w: %v", ErrTLSHandshake, err)}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		_ = tlsConn.Close()
		return &ConnectionError{Op: "tls", Host: c.host, Err: ErrClosed}
	}

	c.tls = tlsConn

	state := tlsConn.ConnectionState()
	c.logger.WithFields(log.Fields{
		"version": tls.VersionName(state.Version),
		"cipher":  tls.CipherSuiteName(state.CipherSuite),
	}).Debug("transport_tls_established")
	return nil
}

func (c *Connection) stream() (net.Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrClosed
	}

	if c.tls != nil {
		return c.tls, nil
	}

	return c.sock, nil
}

func (c *Connection) IsTLS() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tls != nil
}

// Read performs at most one transfer of up to MaxChunk bytes.
func (c *Connection) Read(b []byte) (int, error) {
	s, err := c.stream()
	if err != nil {
		return 0, err
	}

	if len(b) > MaxChunk {
		b = b[:MaxChunk]
	}

	return s.Read(b)
}

func (c *Connection) Write(b []byte) (int, error) {
	s, err := c.stream()
	if err != nil {
		return 0, err
	}

	return s.Write(b)
}

// Close tears the connection down innermost-stream-first: the TLS
// session is closed before the socket it was layered on.
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	var err error
	if c.tls != nil {
		err = c.tls.Close()
		c.tls = nil
	}

	// tls.Conn.Close has usually closed this already.
	_ = c.sock.Close()

	c.logger.Trace("transport_closed")
	return err
}

func (c *Connection) LocalAddr() net.Addr {
	return c.sock.LocalAddr()
}

func (c *Connection) RemoteAddr() net.Addr {
	return c.sock.RemoteAddr()
}

func (c *Connection) SetDeadline(t time.Time) error {
	s, err := c.stream()
	if err != nil {
		return err
	}
	return s.SetDeadline(t)
}

func (c *Connection) SetReadDeadline(t time.Time) error {
	s, err := c.stream()
	if err != nil {
		return err
	}
	return s.SetReadDeadline(t)
}

func (c *Connection) SetWriteDeadline(t time.Time) error {
	s, err := c.stream()
	if err != nil {
		return err
	}
	return s.SetWriteDeadline(t)
}

var _ net.Conn = (*Connection)(nil)
