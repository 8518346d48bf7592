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

//go:generate mockgen -source=types.go -destination=mock_imap/mock_imap.go

package imap

import (
	"context"
	"crypto/tls"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-sasl"
	log "github.com/sirupsen/logrus"
	"github.com/vs49688/mailverify/transport"
)

// XOAuth2 is the SASL mechanism name Gmail uses for bearer tokens.
const XOAuth2 = "XOAUTH2"

type Authenticatable interface {
	Login(username string, password string) error

	Authenticate(auth sasl.Client) error
}

type Authenticator interface {
	Authenticate(c Authenticatable) error
}

// Client is the subset of *client.Client used by a single-shot session,
// plus the server greeting.
type Client interface {
	Authenticatable

	Capability() (map[string]bool, error)

	Select(name string, readOnly bool) (*imap.MailboxStatus, error)

	UidSearch(criteria *imap.SearchCriteria) ([]uint32, error)

	UidFetch(seqset *imap.SeqSet, items []imap.FetchItem, ch chan *imap.Message) error

	Logout() error

	// Greeting is the server's first line, without the trailing CRLF.
	Greeting() string
}

type ClientConfig struct {
	Host      string
	Port      uint16
	TLS       bool
	StartTLS  bool
	TLSConfig *tls.Config
	Debug     bool
	// Timeout bounds the dial and each IMAP command. Zero disables it.
	Timeout  time.Duration
	Resolver transport.Resolver
	Logger   *log.Entry
}

type ClientFactory interface {
	NewClient(ctx context.Context, cfg *ClientConfig) (Client, error)
}

type Message = imap.Message
type SeqSet = imap.SeqSet
type MailboxStatus = imap.MailboxStatus
type FetchItem = imap.FetchItem
type SearchCriteria = imap.SearchCriteria
type Literal = imap.Literal
