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

package internal

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"math/big"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/backend/memory"
	"github.com/emersion/go-imap/server"
	"github.com/emersion/go-sasl"
	"github.com/stretchr/testify/assert"
)

type TestServerOptions struct {
	// TLSConfig enables STARTTLS, or implicit TLS if ImplicitTLS is set.
	TLSConfig   *tls.Config
	ImplicitTLS bool
}

func BuildTestIMAPServer(t *testing.T) (*server.Server, string, *memory.Mailbox) {
	return BuildTestIMAPServerWithOptions(t, TestServerOptions{})
}

// BuildTestIMAPServerWithOptions starts an in-memory server with a single
// "username"/"password" account and an empty INBOX.
func BuildTestIMAPServerWithOptions(t *testing.T, opts TestServerOptions) (*server.Server, string, *memory.Mailbox) {
	be := memory.New()
	user, err := be.Login(nil, "username", "password")
	assert.NoError(t, err)
	if err != nil {
		t.FailNow()
	}

	mb, err := user.GetMailbox("INBOX")
	assert.NoError(t, err)
	if err != nil {
		t.FailNow()
	}

	mailbox := mb.(*memory.Mailbox)
	mailbox.Messages = nil

	s := server.New(be)
	t.Cleanup(func() { _ = s.Close() })

	s.AllowInsecureAuth = true

	var l net.Listener
	l, err = net.Listen("tcp", "127.0.0.1:0")
	assert.NoError(t, err)
	if err != nil {
		t.FailNow()
	}

	if opts.TLSConfig != nil {
		if opts.ImplicitTLS {
			l = tls.NewListener(l, opts.TLSConfig)
		} else {
			s.TLSConfig = opts.TLSConfig
		}
	}

	go func() { _ = s.Serve(l) }()

	return s, l.Addr().String(), mailbox
}

// AddMessage appends a message to the mailbox with the given UID.
func AddMessage(mailbox *memory.Mailbox, uid uint32, body string, flags ...string) {
	mailbox.Messages = append(mailbox.Messages, &memory.Message{
		Uid:   uid,
		Date:  time.Date(2016, 5, 11, 14, 31, 59, 0, time.UTC),
		Size:  uint32(len(body)),
		Flags: flags,
		Body:  []byte(body),
	})
}

// SplitHostPort splits an address returned by BuildTestIMAPServer.
func SplitHostPort(t *testing.T, addr string) (string, uint16) {
	host, port, err := net.SplitHostPort(addr)
	if !assert.NoError(t, err) {
		t.FailNow()
	}

	p, err := strconv.ParseUint(port, 10, 16)
	if !assert.NoError(t, err) {
		t.FailNow()
	}

	return host, uint16(p)
}

// LoopbackResolver resolves every name to 127.0.0.1.
type LoopbackResolver struct{}

func (LoopbackResolver) LookupIPAddr(_ context.Context, _ string) ([]net.IPAddr, error) {
	return []net.IPAddr{{IP: net.IPv4(127, 0, 0, 1)}}, nil
}

// GenerateTLSConfig creates a self-signed certificate for host and
// 127.0.0.1, returning a server config and a pool trusting it.
func GenerateTLSConfig(t *testing.T, host string) (*tls.Config, *x509.CertPool) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if !assert.NoError(t, err) {
		t.FailNow()
	}

	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: host},
		DNSNames:              []string{host},
		IPAddresses:           []net.IP{net.IPv4(127, 0, 0, 1)},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
	}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if !assert.NoError(t, err) {
		t.FailNow()
	}

	cert, err := x509.ParseCertificate(der)
	if !assert.NoError(t, err) {
		t.FailNow()
	}

	pool := x509.NewCertPool()
	pool.AddCert(cert)

	return &tls.Config{
		Certificates: []tls.Certificate{{
			Certificate: [][]byte{der},
			PrivateKey:  key,
			Leaf:        cert,
		}},
	}, pool
}

type xoauth2Server struct {
	conn    server.Conn
	address string
	token   string
	failed  bool
}

func (s *xoauth2Server) Next(response []byte) ([]byte, bool, error) {
	if s.failed {
		return nil, true, errors.New("invalid credentials")
	}

	if response == nil {
		return []byte{}, false, nil
	}

	want := "user=" + s.address + "\x01auth=Bearer " + s.token + "\x01\x01"
	if string(response) != want {
		s.failed = true
		return []byte(`{"status":"401","schemes":"Bearer","scope":"https://mail.google.com/"}`), false, nil
	}

	user, err := s.conn.Server().Backend.Login(s.conn.Info(), "username", "password")
	if err != nil {
		return nil, true, err
	}

	ctx := s.conn.Context()
	ctx.State = imap.AuthenticatedState
	ctx.User = user
	return nil, true, nil
}

// EnableXOAuth2 accepts AUTHENTICATE XOAUTH2 for address/token, logging
// in as the test account.
func EnableXOAuth2(s *server.Server, address string, token string) {
	s.EnableAuth("XOAUTH2", func(conn server.Conn) sasl.Server {
		return &xoauth2Server{conn: conn, address: address, token: token}
	})
}

// CRLF converts a readable LF-terminated message into wire format.
func CRLF(s string) string {
	return strings.ReplaceAll(strings.ReplaceAll(s, "\r\n", "\n"), "\n", "\r\n")
}
