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
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/emersion/go-imap"
	"github.com/golang/mock/gomock"
	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/vs49688/mailverify/credentials"
	"github.com/vs49688/mailverify/imap/mock_imap"
	"github.com/vs49688/mailverify/internal"
	"github.com/vs49688/mailverify/oauth"
)

func makeTestMessage(subject string) string {
	return internal.CRLF(`From: Sender <from@example.com>
To: to@example.com
Subject: ` + subject + `
Date: Wed, 11 May 2016 14:31:59 +0000
Content-Type: text/plain

Привет!
`)
}

func plainConfig(t *testing.T, addr string) *Config {
	host, port := internal.SplitHostPort(t, addr)
	return &Config{
		Host:        host,
		Port:        port,
		Credentials: &credentials.Plain{Username: "username", Password: credentials.NewSecret("password")},
		Timeout:     10 * time.Second,
	}
}

func TestReadNext(t *testing.T) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(log.TraceLevel)

	_, addr, mailbox := internal.BuildTestIMAPServer(t)

	internal.AddMessage(mailbox, 3, makeTestMessage("three"), imap.SeenFlag)
	internal.AddMessage(mailbox, 5, makeTestMessage("five"))
	internal.AddMessage(mailbox, 7, makeTestMessage("seven"))
	internal.AddMessage(mailbox, 9, makeTestMessage("nine"), imap.SeenFlag)

	cfg := plainConfig(t, addr)
	cfg.Logger = log.NewEntry(logger)

	msg, err := ReadNext(context.Background(), cfg)
	if !assert.NoError(t, err) {
		t.FailNow()
	}
	if !assert.NotNil(t, msg) {
		t.FailNow()
	}

	assert.Equal(t, "from@example.com", msg.OriginalSender)
	if assert.NotNil(t, msg.Subject) {
		assert.Equal(t, "seven", *msg.Subject)
	}
	if assert.NotNil(t, msg.BodyText) {
		assert.Equal(t, "Привет!\r\n", *msg.BodyText)
	}

	var transitions int
	for _, e := range hook.AllEntries() {
		if e.Message == "receiver_state" {
			transitions++
		}
	}
	assert.NotZero(t, transitions)

	// Once 7 is seen, 5 is next.
	mailbox.Messages[2].Flags = []string{imap.SeenFlag}

	msg, err = ReadNext(context.Background(), plainConfig(t, addr))
	if assert.NoError(t, err) && assert.NotNil(t, msg) {
		assert.Equal(t, "five", *msg.Subject)
	}

	mailbox.Messages[1].Flags = []string{imap.SeenFlag}

	msg, err = ReadNext(context.Background(), plainConfig(t, addr))
	assert.NoError(t, err)
	assert.Nil(t, msg)
}

func TestReadNextEmptyMailbox(t *testing.T) {
	_, addr, _ := internal.BuildTestIMAPServer(t)

	msg, err := ReadNext(context.Background(), plainConfig(t, addr))
	assert.NoError(t, err)
	assert.Nil(t, msg)
}

func TestBadPassword(t *testing.T) {
	_, addr, _ := internal.BuildTestIMAPServer(t)

	cfg := plainConfig(t, addr)
	cfg.Credentials = &credentials.Plain{Username: "username", Password: credentials.NewSecret("nope")}

	_, err := ReadNext(context.Background(), cfg)

	var clientErr *ClientError
	if assert.True(t, errors.As(err, &clientErr)) {
		assert.Equal(t, "authenticate", clientErr.Op)
	}
}

func TestSASLPlain(t *testing.T) {
	_, addr, mailbox := internal.BuildTestIMAPServer(t)
	internal.AddMessage(mailbox, 1, makeTestMessage("plain"))

	cfg := plainConfig(t, addr)
	cfg.SASLMechanism = "plain"

	msg, err := ReadNext(context.Background(), cfg)
	if assert.NoError(t, err) && assert.NotNil(t, msg) {
		assert.Equal(t, "plain", *msg.Subject)
	}

	cfg = plainConfig(t, addr)
	cfg.SASLMechanism = "PLAIN"
	cfg.Credentials = &credentials.Plain{Username: "username", Password: credentials.NewSecret("nope")}

	_, err = ReadNext(context.Background(), cfg)

	var clientErr *ClientError
	if assert.True(t, errors.As(err, &clientErr)) {
		assert.Equal(t, "authenticate", clientErr.Op)
	}
}

func TestImplicitTLS(t *testing.T) {
	serverConfig, pool := internal.GenerateTLSConfig(t, "imap.example.com")
	_, addr, mailbox := internal.BuildTestIMAPServerWithOptions(t, internal.TestServerOptions{
		TLSConfig:   serverConfig,
		ImplicitTLS: true,
	})
	internal.AddMessage(mailbox, 1, makeTestMessage("secure"))

	cfg := plainConfig(t, addr)
	cfg.Host = "imap.example.com"
	cfg.TLS = true
	cfg.TLSConfig = &tls.Config{RootCAs: pool}
	cfg.Resolver = internal.LoopbackResolver{}

	msg, err := ReadNext(context.Background(), cfg)
	if assert.NoError(t, err) && assert.NotNil(t, msg) {
		assert.Equal(t, "secure", *msg.Subject)
	}
}

func TestStartTLS(t *testing.T) {
	serverConfig, pool := internal.GenerateTLSConfig(t, "imap.example.com")
	_, addr, mailbox := internal.BuildTestIMAPServerWithOptions(t, internal.TestServerOptions{
		TLSConfig: serverConfig,
	})
	internal.AddMessage(mailbox, 1, makeTestMessage("upgraded"))

	cfg := plainConfig(t, addr)
	cfg.Host = "imap.example.com"
	cfg.StartTLS = true
	cfg.TLSConfig = &tls.Config{RootCAs: pool}
	cfg.Resolver = internal.LoopbackResolver{}

	msg, err := ReadNext(context.Background(), cfg)
	if assert.NoError(t, err) && assert.NotNil(t, msg) {
		assert.Equal(t, "upgraded", *msg.Subject)
	}
}

func TestXOAuth2(t *testing.T) {
	google := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/token":
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"access_token": "ya29.token",
				"token_type":   "Bearer",
				"expires_in":   3600,
			})
		case "/gmail/v1/users/me/profile":
			_ = json.NewEncoder(w).Encode(map[string]interface{}{"emailAddress": "u@x.com"})
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(google.Close)

	srv, addr, mailbox := internal.BuildTestIMAPServer(t)
	internal.EnableXOAuth2(srv, "u@x.com", "ya29.token")
	internal.AddMessage(mailbox, 4, makeTestMessage("oauth"))

	cfg := plainConfig(t, addr)
	cfg.Credentials = &credentials.OAuth2{
		ClientID:     "id",
		ClientSecret: credentials.NewSecret("secret"),
		RefreshToken: credentials.NewSecret("refresh"),
	}
	cfg.OAuth = oauth.NewProvider(&oauth.Config{
		TokenURL:    google.URL + "/token",
		APIEndpoint: google.URL + "/",
		HTTPClient:  google.Client(),
	})

	msg, err := ReadNext(context.Background(), cfg)
	if assert.NoError(t, err) && assert.NotNil(t, msg) {
		assert.Equal(t, "oauth", *msg.Subject)
	}
}

func TestOAuthFailureNeverConnects(t *testing.T) {
	google := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	t.Cleanup(google.Close)

	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	// No NewClient expectation: any connection attempt fails the test.
	factory := mock_imap.NewMockClientFactory(ctrl)

	_, err := ReadNext(context.Background(), &Config{
		Host: "imap.gmail.com",
		Port: 993,
		Credentials: &credentials.OAuth2{
			ClientID:     "id",
			ClientSecret: credentials.NewSecret("secret"),
			RefreshToken: credentials.NewSecret("refresh"),
		},
		Factory: factory,
		OAuth: oauth.NewProvider(&oauth.Config{
			TokenURL:   google.URL,
			HTTPClient: google.Client(),
		}),
	})

	var authErr *oauth.AuthError
	if assert.True(t, errors.As(err, &authErr)) {
		assert.Equal(t, http.StatusUnauthorized, authErr.Status)
	}
}

func TestGreetingAndCapabilities(t *testing.T) {
	_, addr, _ := internal.BuildTestIMAPServer(t)

	logger, hook := test.NewNullLogger()
	logger.SetLevel(log.TraceLevel)

	cfg := plainConfig(t, addr)
	cfg.PrintGreeting = true
	cfg.PrintCapabilities = true
	cfg.Logger = log.NewEntry(logger)

	_, err := ReadNext(context.Background(), cfg)
	if !assert.NoError(t, err) {
		t.FailNow()
	}

	var greeting string
	var caps []string
	for _, e := range hook.AllEntries() {
		switch e.Message {
		case "receiver_greeting":
			assert.Equal(t, log.InfoLevel, e.Level)
			greeting = e.Data["greeting"].(string)
		case "receiver_capability":
			assert.Equal(t, log.InfoLevel, e.Level)
			caps = append(caps, e.Data["capability"].(string))
		}
	}

	assert.True(t, strings.HasPrefix(greeting, "* OK"), greeting)
	assert.Contains(t, caps, "IMAP4rev1")
}

type mockSession struct {
	ctrl    *gomock.Controller
	client  *mock_imap.MockClient
	factory *mock_imap.MockClientFactory
}

func newMockSession(t *testing.T) *mockSession {
	ctrl := gomock.NewController(t)
	t.Cleanup(ctrl.Finish)

	m := &mockSession{
		ctrl:    ctrl,
		client:  mock_imap.NewMockClient(ctrl),
		factory: mock_imap.NewMockClientFactory(ctrl),
	}

	m.factory.EXPECT().NewClient(gomock.Any(), gomock.Any()).Return(m.client, nil)
	m.client.EXPECT().Greeting().Return("* OK ready")
	m.client.EXPECT().Capability().Return(map[string]bool{"IMAP4rev1": true}, nil)
	m.client.EXPECT().Login("username", "password").Return(nil)
	m.client.EXPECT().Logout().Return(nil)

	return m
}

func (m *mockSession) config() *Config {
	return &Config{
		Host:        "imap.example.com",
		Port:        143,
		Credentials: &credentials.Plain{Username: "username", Password: credentials.NewSecret("password")},
		Factory:     m.factory,
	}
}

func fetchReturning(t *testing.T, wantSeqSet string, msgs ...*imap.Message) func(*imap.SeqSet, []imap.FetchItem, chan *imap.Message) error {
	return func(seqset *imap.SeqSet, items []imap.FetchItem, ch chan *imap.Message) error {
		defer close(ch)

		assert.Equal(t, wantSeqSet, seqset.String())
		assert.Contains(t, items, imap.FetchEnvelope)
		assert.Contains(t, items, imap.FetchItem("BODY[]"))

		for _, msg := range msgs {
			ch <- msg
		}
		return nil
	}
}

func fetchedMessage(uid uint32, raw string, env *imap.Envelope) *imap.Message {
	return &imap.Message{
		Uid:      uid,
		Envelope: env,
		Body: map[*imap.BodySectionName]imap.Literal{
			&imap.BodySectionName{}: bytes.NewBufferString(raw),
		},
	}
}

func TestZeroMessagesSkipsSearch(t *testing.T) {
	m := newMockSession(t)

	m.client.EXPECT().Select("INBOX", false).Return(&imap.MailboxStatus{Name: "INBOX", Messages: 0}, nil)

	msg, err := ReadNext(context.Background(), m.config())
	assert.NoError(t, err)
	assert.Nil(t, msg)
}

func TestNoUnseenSkipsFetch(t *testing.T) {
	m := newMockSession(t)

	m.client.EXPECT().Select("INBOX", false).Return(&imap.MailboxStatus{Name: "INBOX", Messages: 4}, nil)
	m.client.EXPECT().UidSearch(gomock.Any()).Return(nil, nil)

	msg, err := ReadNext(context.Background(), m.config())
	assert.NoError(t, err)
	assert.Nil(t, msg)
}

func TestHighestUIDWins(t *testing.T) {
	m := newMockSession(t)

	m.client.EXPECT().Select("INBOX", false).Return(&imap.MailboxStatus{Name: "INBOX", Messages: 9}, nil)
	m.client.EXPECT().UidSearch(gomock.Any()).DoAndReturn(func(c *imap.SearchCriteria) ([]uint32, error) {
		assert.Equal(t, []string{imap.SeenFlag}, c.WithoutFlags)
		return []uint32{3, 7, 5}, nil
	})
	m.client.EXPECT().UidFetch(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(fetchReturning(t, "7", fetchedMessage(7, makeTestMessage("seven"), nil)))

	msg, err := ReadNext(context.Background(), m.config())
	if assert.NoError(t, err) && assert.NotNil(t, msg) {
		assert.Equal(t, "seven", *msg.Subject)
	}
}

func TestMissingFetchResult(t *testing.T) {
	m := newMockSession(t)

	m.client.EXPECT().Select("INBOX", false).Return(&imap.MailboxStatus{Name: "INBOX", Messages: 1}, nil)
	m.client.EXPECT().UidSearch(gomock.Any()).Return([]uint32{12}, nil)
	m.client.EXPECT().UidFetch(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(fetchReturning(t, "12"))

	_, err := ReadNext(context.Background(), m.config())

	var fetchErr *FetchError
	if assert.True(t, errors.As(err, &fetchErr)) {
		assert.Equal(t, uint32(12), fetchErr.UID)
	}
}

func TestEnvelopeSenderFallback(t *testing.T) {
	m := newMockSession(t)

	raw := internal.CRLF("Subject: no from header\n\nbody\n")
	env := &imap.Envelope{From: []*imap.Address{{MailboxName: "env", HostName: "example.com"}}}

	m.client.EXPECT().Select("INBOX", false).Return(&imap.MailboxStatus{Name: "INBOX", Messages: 1}, nil)
	m.client.EXPECT().UidSearch(gomock.Any()).Return([]uint32{2}, nil)
	m.client.EXPECT().UidFetch(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(fetchReturning(t, "2", fetchedMessage(2, raw, env)))

	msg, err := ReadNext(context.Background(), m.config())
	if assert.NoError(t, err) && assert.NotNil(t, msg) {
		assert.Equal(t, "env@example.com", msg.OriginalSender)
	}
}

func TestSelectFailure(t *testing.T) {
	m := newMockSession(t)

	m.client.EXPECT().Select("INBOX", false).Return(nil, errors.New("NO no such mailbox"))

	_, err := ReadNext(context.Background(), m.config())

	var clientErr *ClientError
	if assert.True(t, errors.As(err, &clientErr)) {
		assert.Equal(t, "select", clientErr.Op)
	}
}

func TestCapabilityFailureIsNotFatal(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	c := mock_imap.NewMockClient(ctrl)
	f := mock_imap.NewMockClientFactory(ctrl)

	f.EXPECT().NewClient(gomock.Any(), gomock.Any()).Return(c, nil)
	c.EXPECT().Greeting().Return("* OK")
	c.EXPECT().Capability().Return(nil, errors.New("BAD"))
	c.EXPECT().Login("username", "password").Return(nil)
	c.EXPECT().Select("INBOX", false).Return(&imap.MailboxStatus{Name: "INBOX"}, nil)
	c.EXPECT().Logout().Return(nil)

	msg, err := ReadNext(context.Background(), &Config{
		Credentials: &credentials.Plain{Username: "username", Password: credentials.NewSecret("password")},
		Factory:     f,
	})
	assert.NoError(t, err)
	assert.Nil(t, msg)
}

func TestForwardOnly(t *testing.T) {
	m := newMockSession(t)

	m.client.EXPECT().Select("INBOX", false).Return(&imap.MailboxStatus{Name: "INBOX", Messages: 0}, nil)

	s, err := Connect(context.Background(), m.config())
	if !assert.NoError(t, err) {
		t.FailNow()
	}
	defer s.Close()

	assert.Equal(t, StateAuthenticated, s.State())

	_, err = s.FetchLatestUnseen()
	assert.NoError(t, err)
	assert.Equal(t, StateMailboxSelected, s.State())

	_, err = s.FetchLatestUnseen()
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestStateNames(t *testing.T) {
	assert.Equal(t, "connected", StateConnected.String())
	assert.Equal(t, "fetched", StateFetched.String())
	assert.Panics(t, func() { _ = sstate(42).String() })
}
