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

package email

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"
)

var ErrNoSender = errors.New("failed to extract original sender")

type ParseError struct {
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("failed to parse email message: %v", e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Message is the normalised form of one fetched email. It is never
// modified after Parse returns.
type Message struct {
	// OriginalSender is never empty.
	OriginalSender string
	// DKIMSignatures holds every DKIM-Signature value in header order.
	DKIMSignatures []string
	Subject        *string
	BodyText       *string

	raw []byte
}

// Raw returns a copy of the exact bytes the message was parsed from.
func (m *Message) Raw() []byte {
	return append([]byte(nil), m.raw...)
}

// Reader reads the exact wire bytes without copying them.
func (m *Message) Reader() io.Reader {
	return bytes.NewReader(m.raw)
}

func (m *Message) Len() int {
	return len(m.raw)
}

func (m *Message) String() string {
	subject := "<none>"
	if m.Subject != nil {
		subject = fmt.Sprintf("%q", *m.Subject)
	}

	body := "<none>"
	if m.BodyText != nil {
		body = fmt.Sprintf("%q...", truncate(*m.BodyText, 30))
	}

	return fmt.Sprintf("Message{sender=%q signatures=%v subject=%v body=%v raw_len=%v}",
		m.OriginalSender, len(m.DKIMSignatures), subject, body, len(m.raw))
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}

	runes := []rune(s)
	return string(runes[:n])
}
