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

// Package receiver reads the most recent unseen message from an IMAP
// mailbox.
package receiver

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-sasl"
	log "github.com/sirupsen/logrus"
	"github.com/vs49688/mailverify/credentials"
	"github.com/vs49688/mailverify/email"
	imap2 "github.com/vs49688/mailverify/imap"
	"github.com/vs49688/mailverify/imap/client"
	"github.com/vs49688/mailverify/oauth"
	"golang.org/x/oauth2"
)

// ReadNext connects, authenticates and fetches the latest unseen message.
// It returns nil, nil if there is none.
func ReadNext(ctx context.Context, cfg *Config) (*email.Message, error) {
	s, err := Connect(ctx, cfg)
	if err != nil {
		return nil, err
	}
	defer s.Close()

	return s.FetchLatestUnseen()
}

// Connect opens a session and authenticates it.
func Connect(ctx context.Context, cfg *Config) (*Session, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}
	logger = logger.WithFields(log.Fields{"host": cfg.Host, "port": cfg.Port})

	// Resolve the token first so a bad refresh token never opens a socket.
	auth, err := buildAuthenticator(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	factory := cfg.Factory
	if factory == nil {
		factory = &client.Factory{}
	}

	mailbox := cfg.Mailbox
	if mailbox == "" {
		mailbox = DefaultMailbox
	}

	c, err := factory.NewClient(ctx, &imap2.ClientConfig{
		Host:      cfg.Host,
		Port:      cfg.Port,
		TLS:       cfg.TLS,
		StartTLS:  cfg.StartTLS,
		TLSConfig: cfg.TLSConfig,
		Debug:     cfg.Debug,
		Timeout:   cfg.Timeout,
		Resolver:  cfg.Resolver,
		Logger:    logger,
	})
	if err != nil {
		logger.WithError(err).Error("receiver_connect_failed")
		return nil, err
	}

	s := &Session{
		client:            c,
		state:             StateConnected,
		mailbox:           mailbox,
		logger:            logger,
		printGreeting:     cfg.PrintGreeting,
		printCapabilities: cfg.PrintCapabilities,
	}

	wantCleanup := true
	defer func() {
		if wantCleanup {
			_ = s.Close()
		}
	}()

	if err := s.readGreeting(); err != nil {
		return nil, err
	}

	s.logCapabilities()

	if err := s.authenticate(auth); err != nil {
		return nil, err
	}

	wantCleanup = false
	return s, nil
}

func buildAuthenticator(ctx context.Context, cfg *Config, logger *log.Entry) (imap2.Authenticator, error) {
	switch creds := cfg.Credentials.(type) {
	case *credentials.Plain:
		if strings.EqualFold(cfg.SASLMechanism, sasl.Plain) {
			return imap2.NewSASLAuthenticator(sasl.NewPlainClient("", creds.Username, creds.Password.Reveal())), nil
		}
		return imap2.NewNormalAuthenticator(creds.Username, creds.Password.Reveal()), nil
	case *credentials.OAuth2:
		provider := cfg.OAuth
		if provider == nil {
			provider = oauth.NewProvider(&oauth.Config{Timeout: cfg.Timeout, Logger: logger})
		}

		grant, _, err := provider.Grant(ctx, creds)
		if err != nil {
			logger.WithError(err).Error("receiver_oauth_failed")
			return nil, err
		}

		src := oauth2.StaticTokenSource(grant.Token)
		if strings.EqualFold(cfg.SASLMechanism, sasl.OAuthBearer) {
			return imap2.NewOAuthBearerAuthenticator(grant.Address, src), nil
		}
		return imap2.NewXOAuth2Authenticator(grant.Address, src), nil
	default:
		return nil, fmt.Errorf("unsupported credentials %T", cfg.Credentials)
	}
}

func (s *Session) transition(to sstate) error {
	if to != s.state+1 {
		return fmt.Errorf("%w: %v -> %v", ErrInvalidTransition, s.state, to)
	}

	s.logger.WithFields(log.Fields{"from": s.state, "to": to}).Trace("receiver_state")
	s.state = to
	return nil
}

func (s *Session) State() sstate {
	return s.state
}

func (s *Session) readGreeting() error {
	if err := s.transition(StateGreetingRead); err != nil {
		return err
	}

	e := s.logger.WithField("greeting", s.client.Greeting())
	if s.printGreeting {
		e.Info("receiver_greeting")
	} else {
		e.Trace("receiver_greeting")
	}

	return nil
}

func (s *Session) logCapabilities() {
	caps, err := s.client.Capability()
	if err != nil {
		s.logger.WithError(err).Warn("receiver_capability_failed")
		return
	}

	for name := range caps {
		e := s.logger.WithField("capability", name)
		if s.printCapabilities {
			e.Info("receiver_capability")
		} else {
			e.Debug("receiver_capability")
		}
	}
}

func (s *Session) authenticate(auth imap2.Authenticator) error {
	if s.state != StateGreetingRead {
		return fmt.Errorf("%w: %v -> %v", ErrInvalidTransition, s.state, StateAuthenticated)
	}

	if err := auth.Authenticate(s.client); err != nil {
		s.logger.WithError(err).Error("receiver_authenticate_failed")
		return &ClientError{Op: "authenticate", Err: err}
	}

	return s.transition(StateAuthenticated)
}

// FetchLatestUnseen selects the mailbox, searches for unseen messages and
// fetches the one with the highest UID. Fetching marks it \Seen.
func (s *Session) FetchLatestUnseen() (*email.Message, error) {
	if s.state != StateAuthenticated {
		return nil, fmt.Errorf("%w: %v -> %v", ErrInvalidTransition, s.state, StateMailboxSelected)
	}

	mbStatus, err := s.client.Select(s.mailbox, false)
	if err != nil {
		s.logger.WithError(err).Error("receiver_select_failed")
		return nil, &ClientError{Op: "select", Err: err}
	}

	if err := s.transition(StateMailboxSelected); err != nil {
		return nil, err
	}

	s.logger.WithFields(log.Fields{
		"name":         mbStatus.Name,
		"num_messages": mbStatus.Messages,
		"unseen":       mbStatus.Unseen,
	}).Debug("receiver_mailbox_status")

	if mbStatus.Messages == 0 {
		return nil, nil
	}

	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}

	uids, err := s.client.UidSearch(criteria)
	if err != nil {
		s.logger.WithError(err).Error("receiver_search_failed")
		return nil, &ClientError{Op: "search", Err: err}
	}

	if err := s.transition(StateSearched); err != nil {
		return nil, err
	}

	s.logger.WithField("uids", uids).Debug("receiver_search_succeeded")

	if len(uids) == 0 {
		return nil, nil
	}

	uid := maxUID(uids)

	raw, envelope, err := s.fetch(uid)
	if err != nil {
		return nil, err
	}

	if err := s.transition(StateFetched); err != nil {
		return nil, err
	}

	msg, err := email.ParseWithEnvelope(raw, envelopeSender(envelope))
	if err != nil {
		s.logger.WithError(err).WithField("uid", uid).Error("receiver_parse_failed")
		return nil, err
	}

	s.logger.WithFields(log.Fields{
		"uid":    uid,
		"sender": msg.OriginalSender,
		"size":   msg.Len(),
	}).Info("receiver_fetch_succeeded")

	return msg, nil
}

func (s *Session) fetch(uid uint32) ([]byte, *imap.Envelope, error) {
	seqset := new(imap.SeqSet)
	seqset.AddNum(uid)

	section := &imap.BodySectionName{}
	items := []imap.FetchItem{imap.FetchEnvelope, section.FetchItem()}

	ch := make(chan *imap.Message, 1)
	done := make(chan error, 1)

	go func() {
		done <- s.client.UidFetch(seqset, items, ch)
	}()

	msg := readMessage(ch, uid)

	if err := <-done; err != nil {
		s.logger.WithError(err).WithField("uid", uid).Error("receiver_fetch_failed")
		return nil, nil, &ClientError{Op: "fetch", Err: err}
	}

	if msg == nil {
		s.logger.WithField("uid", uid).Error("receiver_fetch_empty")
		return nil, nil, &FetchError{UID: uid}
	}

	body := msg.GetBody(section)
	if body == nil {
		return nil, nil, &email.ParseError{Err: ErrMissingBody}
	}

	raw, err := io.ReadAll(body)
	if err != nil {
		return nil, nil, &ClientError{Op: "fetch", Err: err}
	}

	return raw, msg.Envelope, nil
}

// Close logs out. It is safe to call more than once.
func (s *Session) Close() error {
	if s.client == nil {
		return nil
	}

	err := s.client.Logout()
	s.client = nil
	return err
}
