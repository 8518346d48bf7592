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

// Package email turns raw RFC 5322 bytes into a Message.
package email

import (
	"bytes"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
)

var senderHeaders = []string{"Resent-From", "From", "Sender"}

func Parse(raw []byte) (*Message, error) {
	return ParseWithEnvelope(raw, "")
}

// ParseWithEnvelope is Parse with a fallback sender, normally the
// IMAP envelope's first From address.
func ParseWithEnvelope(raw []byte, envelopeSender string) (*Message, error) {
	raw = append([]byte(nil), raw...)

	ent, err := message.Read(bytes.NewReader(raw))
	if err != nil && !message.IsUnknownCharset(err) && !message.IsUnknownEncoding(err) {
		return nil, &ParseError{Err: err}
	}

	msg := &Message{raw: raw}

	if subject, ok := firstText(ent.Header, "Subject"); ok {
		msg.Subject = &subject
	}

	msg.OriginalSender = findSender(ent.Header, envelopeSender)
	if msg.OriginalSender == "" {
		return nil, &ParseError{Err: ErrNoSender}
	}

	fields := ent.Header.FieldsByKey("DKIM-Signature")
	for fields.Next() {
		msg.DKIMSignatures = append(msg.DKIMSignatures, fields.Value())
	}

	msg.BodyText = extractBody(ent)

	return msg, nil
}

func firstText(h message.Header, key string) (string, bool) {
	fields := h.FieldsByKey(key)
	if !fields.Next() {
		return "", false
	}

	// Unknown charsets still give back the raw value.
	v, _ := fields.Text()
	return v, true
}

func findSender(h message.Header, envelopeSender string) string {
	for _, key := range senderHeaders {
		v, ok := firstText(h, key)
		if !ok {
			continue
		}

		if addr := senderAddress(v); addr != "" {
			return addr
		}
	}

	return strings.TrimSpace(envelopeSender)
}

// senderAddress returns the first mailbox in an address list, or the
// trimmed value if it does not parse as one.
func senderAddress(v string) string {
	addrs, err := mail.ParseAddressList(v)
	if err == nil && len(addrs) > 0 && addrs[0].Address != "" {
		return addrs[0].Address
	}

	return strings.TrimSpace(v)
}

// extractBody prefers the first text/plain part, then text/html, then
// any other textual part.
func extractBody(ent *message.Entity) *string {
	var plain, html, other *string

	_ = ent.Walk(func(_ []int, part *message.Entity, err error) error {
		if err != nil && !message.IsUnknownCharset(err) && !message.IsUnknownEncoding(err) {
			return nil
		}

		t, _, _ := part.Header.ContentType()
		t = strings.ToLower(t)

		var target **string
		switch {
		case t == "text/plain" && plain == nil:
			target = &plain
		case t == "text/html" && html == nil:
			target = &html
		case strings.HasPrefix(t, "text/") && other == nil:
			target = &other
		default:
			return nil
		}

		b, err := io.ReadAll(part.Body)
		if err != nil || !utf8.Valid(b) {
			return nil
		}

		s := string(b)
		*target = &s
		return nil
	})

	switch {
	case plain != nil:
		return plain
	case html != nil:
		return html
	default:
		return other
	}
}
