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

package pipeline

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	msgdkim "github.com/emersion/go-msgauth/dkim"
	"github.com/stretchr/testify/assert"
	"github.com/vs49688/mailverify/credentials"
	"github.com/vs49688/mailverify/dkim"
	"github.com/vs49688/mailverify/gmail"
	"github.com/vs49688/mailverify/internal"
	"github.com/vs49688/mailverify/oauth"
	"github.com/vs49688/mailverify/receiver"
)

const selectorName = "sel._domainkey.example.com"

func signedMessage(t *testing.T, from string) ([]byte, string) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if !assert.NoError(t, err) {
		t.FailNow()
	}

	raw := internal.CRLF(`From: ` + from + `
To: verifier@example.net
Subject: Proposal 42
Date: Wed, 11 May 2016 14:31:59 +0000
Content-Type: text/plain

vote yes
`)

	var b bytes.Buffer
	err = msgdkim.Sign(&b, strings.NewReader(raw), &msgdkim.SignOptions{
		Domain:     "example.com",
		Selector:   "sel",
		Signer:     priv,
		HeaderKeys: []string{"From", "Subject", "Date"},
	})
	if !assert.NoError(t, err) {
		t.FailNow()
	}

	return b.Bytes(), "v=DKIM1; k=ed25519; p=" + base64.StdEncoding.EncodeToString(pub)
}

// assertZeroed checks that every byte of secret has been overwritten.
func assertZeroed(t *testing.T, name string, secret credentials.Secret) {
	t.Helper()

	if assert.NotEmpty(t, secret, name) {
		assert.Equal(t, make([]byte, len(secret)), []byte(secret), name)
	}
}

func imapSource(t *testing.T, raw []byte) *IMAPSource {
	_, addr, mailbox := internal.BuildTestIMAPServer(t)
	internal.AddMessage(mailbox, 1, string(raw))

	host, port := internal.SplitHostPort(t, addr)
	return &IMAPSource{Config: receiver.Config{
		Host:        host,
		Port:        port,
		Credentials: &credentials.Plain{Username: "username", Password: credentials.NewSecret("password")},
		Timeout:     10 * time.Second,
	}}
}

func TestRunIMAP(t *testing.T) {
	raw, record := signedMessage(t, "Alice <alice@example.com>")
	src := imapSource(t, raw)
	password := src.Config.Credentials.(*credentials.Plain).Password

	out, err := Run(context.Background(), &Config{
		Source:      src,
		Verifier:    &dkim.Verifier{Resolver: dkim.StaticResolver{selectorName: {record}}},
		RequireDKIM: true,
	})
	if !assert.NoError(t, err) {
		t.FailNow()
	}

	assert.True(t, out.Verified())
	assert.Equal(t, Email{From: "alice@example.com", Subject: "Proposal 42"}, out.Email())

	sum := sha256.Sum256(raw)
	assert.Equal(t, sum[:], out.EventIDSalt())

	assertZeroed(t, "password", password)
}

func TestRunIMAPBadPassword(t *testing.T) {
	raw, _ := signedMessage(t, "alice@example.com")
	src := imapSource(t, raw)
	password := credentials.NewSecret("hunter2")
	src.Config.Credentials = &credentials.Plain{Username: "username", Password: password}

	out, err := Run(context.Background(), &Config{Source: src, RequireDKIM: true})
	assert.Nil(t, out)

	var clientErr *receiver.ClientError
	if assert.True(t, errors.As(err, &clientErr)) {
		assert.Equal(t, "authenticate", clientErr.Op)
	}

	assertZeroed(t, "password", password)
}

func TestRunNoMessage(t *testing.T) {
	_, addr, _ := internal.BuildTestIMAPServer(t)
	host, port := internal.SplitHostPort(t, addr)

	out, err := Run(context.Background(), &Config{
		Source: &IMAPSource{Config: receiver.Config{
			Host:        host,
			Port:        port,
			Credentials: &credentials.Plain{Username: "username", Password: credentials.NewSecret("password")},
		}},
		RequireDKIM: true,
	})
	assert.NoError(t, err)
	assert.Nil(t, out)
}

func TestRunVerifyFailure(t *testing.T) {
	raw, _ := signedMessage(t, "Alice <alice@example.com>")
	_, otherRecord := signedMessage(t, "Alice <alice@example.com>")

	verifier := &dkim.Verifier{Resolver: dkim.StaticResolver{selectorName: {otherRecord}}}

	out, err := Run(context.Background(), &Config{
		Source:      imapSource(t, raw),
		Verifier:    verifier,
		RequireDKIM: true,
	})

	var verifyErr *dkim.VerifyError
	if assert.True(t, errors.As(err, &verifyErr)) {
		assert.Equal(t, "example.com", verifyErr.Domain)
	}
	if assert.NotNil(t, out) {
		assert.False(t, out.Verified())
		assert.Equal(t, err, out.VerifyErr)
	}

	// Without RequireDKIM the failure is only recorded.
	out, err = Run(context.Background(), &Config{
		Source:   imapSource(t, raw),
		Verifier: verifier,
	})
	assert.NoError(t, err)
	if assert.NotNil(t, out) {
		assert.Error(t, out.VerifyErr)
		assert.Equal(t, "Proposal 42", out.Email().Subject)
	}
}

func TestRunNoSource(t *testing.T) {
	_, err := Run(context.Background(), &Config{})
	assert.ErrorIs(t, err, ErrNoSource)
}

type fakeGmail struct {
	raw         []byte
	modifyID    string
	modified    bool
	rejectToken bool
}

func (f *fakeGmail) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	var body interface{}
	switch r.URL.Path {
	case "/token":
		if f.rejectToken {
			w.WriteHeader(http.StatusBadRequest)
			body = map[string]interface{}{"error": "invalid_grant"}
			break
		}
		body = map[string]interface{}{"access_token": "access-123", "token_type": "Bearer", "expires_in": 3600}
	case "/gmail/v1/users/me/profile":
		body = map[string]interface{}{"emailAddress": "verifier@example.net"}
	case "/gmail/v1/users/me/messages":
		body = map[string]interface{}{"messages": []map[string]string{{"id": "m1"}}}
	case "/gmail/v1/users/me/messages/m1":
		body = map[string]interface{}{"id": "m1", "raw": base64.URLEncoding.EncodeToString(f.raw)}
	case "/gmail/v1/users/me/messages/m1/modify":
		f.modified = true
		body = map[string]interface{}{"id": f.modifyID}
	default:
		http.NotFound(w, r)
		return
	}

	_ = json.NewEncoder(w).Encode(body)
}

func gmailSource(t *testing.T, f *fakeGmail) *GmailSource {
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)

	return &GmailSource{Config: gmail.Config{
		Credentials: &credentials.OAuth2{
			ClientID:     "client-id",
			ClientSecret: credentials.NewSecret("client-secret"),
			RefreshToken: credentials.NewSecret("refresh-token"),
		},
		OAuth: oauth.NewProvider(&oauth.Config{
			TokenURL:    srv.URL + "/token",
			APIEndpoint: srv.URL + "/",
			HTTPClient:  srv.Client(),
		}),
	}}
}

func TestRunGmail(t *testing.T) {
	raw, record := signedMessage(t, "alice@mail.example.com")
	f := &fakeGmail{raw: raw, modifyID: "m1"}
	src := gmailSource(t, f)

	out, err := Run(context.Background(), &Config{
		Source:      src,
		Verifier:    &dkim.Verifier{Resolver: dkim.StaticResolver{selectorName: {record}}},
		RequireDKIM: true,
	})
	if !assert.NoError(t, err) {
		t.FailNow()
	}

	assert.True(t, f.modified)
	assert.True(t, out.Verified())
	assert.Equal(t, "alice@mail.example.com", out.Email().From)

	assertZeroed(t, "client secret", src.Config.Credentials.ClientSecret)
	assertZeroed(t, "refresh token", src.Config.Credentials.RefreshToken)
}

func TestRunGmailTokenRejected(t *testing.T) {
	raw, _ := signedMessage(t, "alice@example.com")
	src := gmailSource(t, &fakeGmail{raw: raw, modifyID: "m1", rejectToken: true})

	out, err := Run(context.Background(), &Config{Source: src, RequireDKIM: true})
	assert.Error(t, err)
	assert.Nil(t, out)

	assertZeroed(t, "client secret", src.Config.Credentials.ClientSecret)
	assertZeroed(t, "refresh token", src.Config.Credentials.RefreshToken)
}

func TestRunGmailMarkReadFailure(t *testing.T) {
	raw, _ := signedMessage(t, "alice@example.com")
	f := &fakeGmail{raw: raw, modifyID: "other"}

	src := gmailSource(t, f)

	out, err := Run(context.Background(), &Config{
		Source:      src,
		RequireDKIM: true,
	})
	assert.ErrorIs(t, err, gmail.ErrIDMismatch)
	if assert.NotNil(t, out) {
		assert.Equal(t, "alice@example.com", out.Message.OriginalSender)
		assert.Nil(t, out.Verification)
	}

	assertZeroed(t, "client secret", src.Config.Credentials.ClientSecret)
	assertZeroed(t, "refresh token", src.Config.Credentials.RefreshToken)
}
