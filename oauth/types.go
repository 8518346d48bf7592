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

package oauth

import (
	"fmt"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
)

type Config struct {
	// TokenURL is the refresh-token exchange endpoint. Defaults to Google's.
	TokenURL string
	// APIEndpoint overrides the Gmail API base URL, for tests.
	APIEndpoint string
	HTTPClient  *http.Client
	Timeout     time.Duration
	Logger      *log.Entry
}

// Grant is a freshly exchanged access token paired with the mailbox
// address it belongs to. It is never cached.
type Grant struct {
	Address string
	Token   *oauth2.Token
}

func (g *Grant) AccessToken() string {
	if g == nil || g.Token == nil {
		return ""
	}
	return g.Token.AccessToken
}

func (g *Grant) Zero() {
	if g.Token != nil {
		g.Token.AccessToken = ""
		g.Token.RefreshToken = ""
	}
}

// AuthError is an OAuth2 or Gmail API failure. Status is the HTTP status
// code when one was received, zero otherwise.
type AuthError struct {
	Op     string
	Status int
	Err    error
}

func (e *AuthError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("auth: %v: status %v: %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("auth: %v: %v", e.Op, e.Err)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

type Provider struct {
	tokenURL    string
	apiEndpoint string
	httpClient  *http.Client
	timeout     time.Duration
	logger      *log.Entry
}
