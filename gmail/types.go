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

package gmail

import (
	"errors"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/vs49688/mailverify/credentials"
	"github.com/vs49688/mailverify/oauth"
)

const (
	UnreadQuery = "is:unread"
	UnreadLabel = "UNREAD"
)

var (
	ErrEmptyRaw   = errors.New("raw message empty")
	ErrIDMismatch = errors.New("modified message id does not match")
)

type Config struct {
	Credentials *credentials.OAuth2
	// OAuth defaults to a provider talking to Google.
	OAuth   *oauth.Provider
	Timeout time.Duration
	Logger  *log.Entry
}
