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

// Package gmail reads the next unread message through the Gmail REST API.
package gmail

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/vs49688/mailverify/email"
	"github.com/vs49688/mailverify/oauth"
	"google.golang.org/api/gmail/v1"
)

// Client wraps an authorised Gmail API service.
type Client struct {
	srv     *gmail.Service
	timeout time.Duration
	logger  *log.Entry
}

func NewClient(srv *gmail.Service, timeout time.Duration, logger *log.Entry) *Client {
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}
	return &Client{srv: srv, timeout: timeout, logger: logger}
}

func (c *Client) context(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout > 0 {
		return context.WithTimeout(ctx, c.timeout)
	}
	return context.WithCancel(ctx)
}

// NextUnreadID returns the id of one unread message, or "" if there are none.
func (c *Client) NextUnreadID(ctx context.Context) (string, error) {
	ctx, cancel := c.context(ctx)
	defer cancel()

	res, err := c.srv.Users.Messages.List("me").
		Q(UnreadQuery).
		MaxResults(1).
		Context(ctx).
		Do()
	if err != nil {
		return "", oauth.APIError("list", err)
	}

	if len(res.Messages) == 0 {
		return "", nil
	}

	return res.Messages[0].Id, nil
}

// GetRaw fetches the raw RFC 5322 bytes of a message.
func (c *Client) GetRaw(ctx context.Context, id string) ([]byte, error) {
	ctx, cancel := c.context(ctx)
	defer cancel()

	msg, err := c.srv.Users.Messages.Get("me", id).Format("raw").Context(ctx).Do()
	if err != nil {
		return nil, oauth.APIError("get", err)
	}

	if msg.Raw == "" {
		return nil, &oauth.AuthError{Op: "get", Err: ErrEmptyRaw}
	}

	decoded, err := base64.URLEncoding.DecodeString(msg.Raw)
	if err != nil {
		decoded, err = base64.RawURLEncoding.DecodeString(msg.Raw)
		if err != nil {
			return nil, &oauth.AuthError{Op: "get", Err: err}
		}
	}

	return decoded, nil
}

// MarkRead removes the UNREAD label and checks the server modified the
// message we asked for.
func (c *Client) MarkRead(ctx context.Context, id string) error {
	ctx, cancel := c.context(ctx)
	defer cancel()

	req := &gmail.ModifyMessageRequest{
		RemoveLabelIds: []string{UnreadLabel},
	}

	res, err := c.srv.Users.Messages.Modify("me", id, req).Context(ctx).Do()
	if err != nil {
		return oauth.APIError("modify", err)
	}

	if res.Id != id {
		return &oauth.AuthError{
			Op:  "modify",
			Err: fmt.Errorf("%w: expected %v, got %v", ErrIDMismatch, id, res.Id),
		}
	}

	return nil
}

// ReadNext exchanges the refresh token, then fetches, parses and marks read
// the next unread message. It returns nil, nil if there is none.
//
// The message is only marked read once it has been fetched and parsed. If
// marking fails the parsed message is returned alongside the error.
func ReadNext(ctx context.Context, cfg *Config) (*email.Message, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}

	provider := cfg.OAuth
	if provider == nil {
		provider = oauth.NewProvider(&oauth.Config{Timeout: cfg.Timeout, Logger: logger})
	}

	grant, srv, err := provider.Grant(ctx, cfg.Credentials)
	if err != nil {
		logger.WithError(err).Error("gmail_oauth_failed")
		return nil, err
	}
	defer grant.Zero()

	logger = logger.WithField("address", grant.Address)
	c := NewClient(srv, cfg.Timeout, logger)

	id, err := c.NextUnreadID(ctx)
	if err != nil {
		logger.WithError(err).Error("gmail_list_failed")
		return nil, err
	}

	if id == "" {
		logger.Debug("gmail_no_unread")
		return nil, nil
	}

	logger = logger.WithField("id", id)

	raw, err := c.GetRaw(ctx, id)
	if err != nil {
		logger.WithError(err).Error("gmail_get_failed")
		return nil, err
	}

	msg, err := email.Parse(raw)
	if err != nil {
		logger.WithError(err).Error("gmail_parse_failed")
		return nil, err
	}

	if err := c.MarkRead(ctx, id); err != nil {
		logger.WithError(err).Error("gmail_mark_read_failed")
		return msg, err
	}

	logger.WithFields(log.Fields{
		"sender": msg.OriginalSender,
		"size":   msg.Len(),
	}).Info("gmail_fetch_succeeded")

	return msg, nil
}
