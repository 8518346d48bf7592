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

package imap

import (
	"bytes"
	"errors"
	"strings"

	"github.com/emersion/go-sasl"
	"golang.org/x/oauth2"
)

var ErrMalformedXOAuth2 = errors.New("malformed XOAUTH2 response")

type plainAuthenticator struct {
	username string
	password string
}

func NewNormalAuthenticator(username string, password string) *plainAuthenticator {
	return &plainAuthenticator{username: username, password: password}
}

func (a *plainAuthenticator) Authenticate(c Authenticatable) error {
	return c.Login(a.username, a.password)
}

type saslAuthenticator struct {
	client sasl.Client
}

func NewSASLAuthenticator(client sasl.Client) *saslAuthenticator {
	return &saslAuthenticator{client: client}
}

func (a *saslAuthenticator) Authenticate(c Authenticatable) error {
	return c.Authenticate(a.client)
}

type tokenAuthenticator struct {
	username string
	source   oauth2.TokenSource
	build    func(username string, token string) sasl.Client
}

func (a *tokenAuthenticator) Authenticate(c Authenticatable) error {
	tok, err := a.source.Token()
	if err != nil {
		return err
	}

	return c.Authenticate(a.build(a.username, tok.AccessToken))
}

// NewXOAuth2Authenticator authenticates with AUTHENTICATE XOAUTH2, as
// Gmail expects.
func NewXOAuth2Authenticator(username string, source oauth2.TokenSource) *tokenAuthenticator {
	return &tokenAuthenticator{
		username: username,
		source:   source,
		build:    NewXOAuth2Client,
	}
}

func NewOAuthBearerAuthenticator(username string, source oauth2.TokenSource) *tokenAuthenticator {
	return &tokenAuthenticator{
		username: username,
		source:   source,
		build: func(username string, token string) sasl.Client {
			return sasl.NewOAuthBearerClient(&sasl.OAuthBearerOptions{
				Username: username,
				Token:    token,
			})
		},
	}
}

type xoauth2Client struct {
	username string
	token    string
}

func NewXOAuth2Client(username string, token string) sasl.Client {
	return &xoauth2Client{username: username, token: token}
}

func (a *xoauth2Client) Start() (string, []byte, error) {
	return XOAuth2, EncodeXOAuth2(a.username, a.token), nil
}

// Next is only reached on failure, when the server sends a JSON error
// as a challenge. An empty reply makes it finish with a tagged NO.
func (a *xoauth2Client) Next(_ []byte) ([]byte, error) {
	return []byte{}, nil
}

func EncodeXOAuth2(username string, token string) []byte {
	return []byte("user=" + username + "\x01auth=Bearer " + token + "\x01\x01")
}

func DecodeXOAuth2(b []byte) (string, string, error) {
	if !bytes.HasSuffix(b, []byte("\x01\x01")) {
		return "", "", ErrMalformedXOAuth2
	}

	parts := strings.Split(string(b[:len(b)-2]), "\x01")
	if len(parts) != 2 {
		return "", "", ErrMalformedXOAuth2
	}

	username := strings.TrimPrefix(parts[0], "user=")
	token := strings.TrimPrefix(parts[1], "auth=Bearer ")
	if username == parts[0] || token == parts[1] {
		return "", "", ErrMalformedXOAuth2
	}

	return username, token, nil
}
