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

// Package credentials holds the secret-bearing configuration shared by the
// IMAP and Gmail REST paths.
package credentials

import (
	"errors"
	"fmt"
	"strings"
)

// Kind selects the ingestion path.
type Kind int

const (
	KindPlainIMAP Kind = iota
	KindGmailIMAP
	KindGmailREST
)

var ErrUnknownKind = errors.New("unknown credential kind")

func (k Kind) String() string {
	switch k {
	case KindPlainIMAP:
		return "plain-imap"
	case KindGmailIMAP:
		return "gmail-imap"
	case KindGmailREST:
		return "gmail-rest-api"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(s) {
	case "plain-imap":
		return KindPlainIMAP, nil
	case "gmail-imap":
		return KindGmailIMAP, nil
	case "gmail-rest-api":
		return KindGmailREST, nil
	default:
		return 0, ErrUnknownKind
	}
}

// Secret is a byte slice that refuses to print itself.
// Zero overwrites the backing array in place.
type Secret []byte

func NewSecret(s string) Secret {
	return Secret(s)
}

func (s Secret) String() string {
	if len(s) == 0 {
		return ""
	}
	return "******"
}

func (s Secret) GoString() string {
	return s.String()
}

// Reveal returns a copy of the secret as a string. The copy is not
// covered by Zero.
func (s Secret) Reveal() string {
	return string(s)
}

func (s Secret) Zero() {
	for i := range s {
		s[i] = 0
	}
}

// IMAP is the closed set of IMAP credentials: Plain or OAuth2.
type IMAP interface {
	Zero()
	imapCredentials()
}

type Plain struct {
	Username string
	Password Secret
}

func (p *Plain) Zero() {
	p.Password.Zero()
}

func (p *Plain) imapCredentials() {}

// OAuth2 is a client id/secret plus refresh token. It is used both for
// XOAUTH2 over IMAP and for the Gmail REST API.
type OAuth2 struct {
	ClientID     string
	ClientSecret Secret
	RefreshToken Secret
}

func (o *OAuth2) Zero() {
	o.ClientSecret.Zero()
	o.RefreshToken.Zero()
}

func (o *OAuth2) imapCredentials() {}
