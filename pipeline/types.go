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
	"crypto/sha256"

	log "github.com/sirupsen/logrus"
	"github.com/vs49688/mailverify/dkim"
	"github.com/vs49688/mailverify/email"
	"github.com/vs49688/mailverify/gmail"
	"github.com/vs49688/mailverify/receiver"
)

// Source is either an IMAPSource or a GmailSource.
type Source interface {
	isSource()
}

type IMAPSource struct {
	Config receiver.Config
}

func (*IMAPSource) isSource() {}

type GmailSource struct {
	Config gmail.Config
}

func (*GmailSource) isSource() {}

type Config struct {
	Source Source
	// Verifier defaults to DNS-over-HTTPS lookups against DefaultDoHURL.
	Verifier *dkim.Verifier
	// RequireDKIM makes a failed verification fail the run.
	RequireDKIM bool
	Logger      *log.Entry
}

// Outcome is a fetched message and the result of verifying it.
// Verification is nil if verification never ran.
type Outcome struct {
	Message      *email.Message
	Verification *dkim.Result
	VerifyErr    error
}

// Email is the summary emitted for a verified message.
type Email struct {
	From    string `json:"from"`
	Subject string `json:"subject"`
}

func (o *Outcome) Email() Email {
	e := Email{From: o.Message.OriginalSender}
	if o.Message.Subject != nil {
		e.Subject = *o.Message.Subject
	}
	return e
}

// EventIDSalt identifies the message by the SHA-256 of its raw bytes.
func (o *Outcome) EventIDSalt() []byte {
	sum := sha256.Sum256(o.Message.Raw())
	return sum[:]
}

// Verified reports whether an aligned signature passed.
func (o *Outcome) Verified() bool {
	return o.VerifyErr == nil && o.Verification != nil && o.Verification.Aligned != nil
}
