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

// Package oauth exchanges refresh tokens for access tokens and resolves
// the mailbox address they belong to.
package oauth

import (
	"context"
	"errors"
	"net/http"

	log "github.com/sirupsen/logrus"
	"github.com/vs49688/mailverify/credentials"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

var (
	ErrMissingAccessToken = errors.New("response missing access_token")
	ErrMissingAddress     = errors.New("response missing emailAddress")
)

func NewProvider(cfg *Config) *Provider {
	p := &Provider{
		tokenURL:    cfg.TokenURL,
		apiEndpoint: cfg.APIEndpoint,
		httpClient:  cfg.HTTPClient,
		timeout:     cfg.Timeout,
		logger:      cfg.Logger,
	}

	if p.tokenURL == "" {
		p.tokenURL = endpoints.Google.TokenURL
	}

	if p.httpClient == nil {
		p.httpClient = http.DefaultClient
	}

	if p.logger == nil {
		p.logger = log.NewEntry(log.StandardLogger())
	}

	return p
}

func (p *Provider) context(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
	if p.timeout > 0 {
		return context.WithTimeout(ctx, p.timeout)
	}
	return context.WithCancel(ctx)
}

// Exchange trades the refresh token for a short-lived access token.
func (p *Provider) Exchange(ctx context.Context, creds *credentials.OAuth2) (*oauth2.Token, error) {
	ctx, cancel := p.context(ctx)
	defer cancel()

	cfg := &oauth2.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret.Reveal(),
		Endpoint: oauth2.Endpoint{
			TokenURL:  p.tokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}

	p.logger.WithField("token_url", p.tokenURL).Trace("oauth_exchange")

	tok, err := cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: creds.RefreshToken.Reveal()}).Token()
	if err != nil {
		return nil, tokenError(err)
	}

	if tok.AccessToken == "" {
		return nil, &AuthError{Op: "token", Err: ErrMissingAccessToken}
	}

	p.logger.WithField("expiry", tok.Expiry).Debug("oauth_exchange_succeeded")
	return tok, nil
}

func tokenError(err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.Response != nil {
		return &AuthError{Op: "token", Status: re.Response.StatusCode, Err: err}
	}

	// x/oauth2 reports a missing access_token as a plain error.
	return &AuthError{Op: "token", Err: err}
}

// Service builds a Gmail API client authorised by tok.
func (p *Provider) Service(ctx context.Context, tok *oauth2.Token) (*gmail.Service, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)

	opts := []option.ClientOption{
		option.WithHTTPClient(oauth2.NewClient(ctx, oauth2.StaticTokenSource(tok))),
	}

	if p.apiEndpoint != "" {
		opts = append(opts, option.WithEndpoint(p.apiEndpoint))
	}

	svc, err := gmail.NewService(ctx, opts...)
	if err != nil {
		return nil, &AuthError{Op: "service", Err: err}
	}

	return svc, nil
}

// Address looks up the account's primary email address.
func (p *Provider) Address(ctx context.Context, svc *gmail.Service) (string, error) {
	ctx, cancel := p.context(ctx)
	defer cancel()

	profile, err := svc.Users.GetProfile("me").Context(ctx).Do()
	if err != nil {
		return "", APIError("profile", err)
	}

	if profile.EmailAddress == "" {
		return "", &AuthError{Op: "profile", Err: ErrMissingAddress}
	}

	p.logger.WithField("address", profile.EmailAddress).Debug("oauth_profile_resolved")
	return profile.EmailAddress, nil
}

// Grant exchanges the refresh token and resolves the address in one go.
func (p *Provider) Grant(ctx context.Context, creds *credentials.OAuth2) (*Grant, *gmail.Service, error) {
	tok, err := p.Exchange(ctx, creds)
	if err != nil {
		return nil, nil, err
	}

	svc, err := p.Service(ctx, tok)
	if err != nil {
		return nil, nil, err
	}

	addr, err := p.Address(ctx, svc)
	if err != nil {
		return nil, nil, err
	}

	return &Grant{Address: addr, Token: tok}, svc, nil
}

// APIError wraps a Gmail API failure, keeping the HTTP status if known.
func APIError(op string, err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return &AuthError{Op: op, Status: gerr.Code, Err: err}
	}
	return &AuthError{Op: op, Err: err}
}
