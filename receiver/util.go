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
	"github.com/emersion/go-imap"
)

func maxUID(uids []uint32) uint32 {
	var m uint32
	for _, uid := range uids {
		if uid > m {
			m = uid
		}
	}
	return m
}

// readMessage drains ch, preferring the result for uid.
func readMessage(ch chan *imap.Message, uid uint32) *imap.Message {
	var found *imap.Message
	for msg := range ch {
		if msg.Uid == uid || (found == nil && msg.Uid == 0) {
			found = msg
		}
	}

	return found
}

// envelopeSender returns the envelope's first From mailbox.
func envelopeSender(env *imap.Envelope) string {
	if env == nil || len(env.From) == 0 || env.From[0] == nil {
		return ""
	}

	a := env.From[0]
	if a.MailboxName == "" {
		return ""
	}

	if a.HostName == "" {
		return a.MailboxName
	}

	return a.MailboxName + "@" + a.HostName
}
