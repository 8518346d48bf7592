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

// Package pipeline reads the next message from the configured source and
// verifies its DKIM signatures.
package pipeline

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/vs49688/mailverify/dkim"
	"github.com/vs49688/mailverify/email"
	"github.com/vs49688/mailverify/gmail"
	"github.com/vs49688/mailverify/receiver"
)

var ErrNoSource = errors.New("no source configured")

// ReadNext fetches the next unread message from src. Credentials are
// zeroed once it returns.
func ReadNext(ctx context.Context, src Source, logger *log.Entry) (*email.Message, error) {
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}

	switch s := src.(type) {
	case *IMAPSource:
		if s.Config.Credentials != nil {
			defer s.Config.Credentials.Zero()
		}
		cfg := s.Config
		if cfg.Logger == nil {
			cfg.Logger = logger.WithField("source", "imap")
		}
		return receiver.ReadNext(ctx, &cfg)
	case *GmailSource:
		if s.Config.Credentials != nil {
			defer s.Config.Credentials.Zero()
		}
		cfg := s.Config
		if cfg.Logger == nil {
			cfg.Logger = logger.WithField("source", "gmail")
		}
		return gmail.ReadNext(ctx, &cfg)
	case nil:
		return nil, ErrNoSource
	default:
		return nil, fmt.Errorf("unsupported source %T", src)
	}
}

// Run reads the next message and verifies it. It returns nil, nil when
// there is nothing to read.
//
// A verification failure is recorded on the Outcome, and only returned as
// an error when RequireDKIM is set. If the message was fetched but could not
// be marked read, the Outcome is returned along with that error and no
// verification is attempted.
func Run(ctx context.Context, cfg *Config) (*Outcome, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}

	msg, err := ReadNext(ctx, cfg.Source, logger)
	if msg == nil {
		if err == nil {
			logger.Debug("pipeline_no_message")
		}
		return nil, err
	}

	out := &Outcome{Message: msg}
	if err != nil {
		return out, err
	}

	logger = logger.WithField("sender", msg.OriginalSender)

	verifier := cfg.Verifier
	if verifier == nil {
		verifier = &dkim.Verifier{Logger: logger}
	}

	out.Verification, out.VerifyErr = verifier.Verify(ctx, msg)
	if out.VerifyErr != nil {
		logger.WithError(out.VerifyErr).Warn("pipeline_verify_failed")
		if cfg.RequireDKIM {
			return out, out.VerifyErr
		}
		return out, nil
	}

	logger.WithField("signing_domain", out.Verification.Aligned.Domain).Info("pipeline_verify_succeeded")
	return out, nil
}
