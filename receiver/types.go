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

package receiver

import (
	"crypto/tls"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/vs49688/mailverify/credentials"
	"github.com/vs49688/mailverify/imap"
	"github.com/vs49688/mailverify/oauth"
	"github.com/vs49688/mailverify/transport"
)

const DefaultMailbox = "INBOX"

var (
	ErrInvalidTransition = errors.New("invalid session state transition")
	ErrMissingBody       = errors.New("fetch result has no body")
)

type Config struct {
	Host      string
	Port      uint16
	TLS       bool
	StartTLS  bool
	TLSConfig *tls.Config

	Credentials credentials.IMAP
	// SASLMechanism is LOGIN (default) or PLAIN for plain credentials and
	// XOAUTH2 (default) or OAUTHBEARER for OAuth2 credentials.
	SASLMechanism string
	Mailbox       string

	Debug             bool
	PrintGreeting     bool
	PrintCapabilities bool

	Timeout  time.Duration
	Factory  imap.ClientFactory
	OAuth    *oauth.Provider
	Resolver transport.Resolver
	Logger   *log.Entry
}

type ClientError struct {
	Op  string
	Err error
}

func (e *ClientError) Error() string {
	return fmt.Sprintf("imap %v: %v", e.Op, e.Err)
}

func (e *ClientError) Unwrap() error {
	return e.Err
}

// FetchError means a UID returned by SEARCH produced no FETCH result.
type FetchError struct {
	UID uint32
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("failed to fetch email with uid %v", e.UID)
}

type sstate int

const (
	StateConnected sstate = iota
	StateGreetingRead
	StateAuthenticated
	StateMailboxSelected
	StateSearched
	StateFetched
)

func (s sstate) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateGreetingRead:
		return "greeting_read"
	case StateAuthenticated:
		return "authenticated"
	case StateMailboxSelected:
		return "mailbox_selected"
	case StateSearched:
		return "searched"
	case StateFetched:
		return "fetched"
	default:
		panic("invalid_state")
	}
}

// Session is a single-use IMAP session. It only ever moves forward
// through its states.
type Session struct {
	client  imap.Client
	state   sstate
	mailbox string
	logger  *log.Entry

	printGreeting     bool
	printCapabilities bool
}
