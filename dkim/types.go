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

package dkim

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/emersion/go-msgauth/dkim"
	log "github.com/sirupsen/logrus"
)

var (
	ErrNoSignature = errors.New("message has no DKIM-Signature")
	ErrNotAligned  = errors.New("no passing signature is aligned with the sender domain")
)

// TXTResolver looks up DNS TXT records. *net.Resolver satisfies it.
type TXTResolver interface {
	LookupTXT(ctx context.Context, name string) ([]string, error)
}

type Verifier struct {
	Resolver TXTResolver
	// Timeout bounds each TXT lookup. Zero disables it.
	Timeout time.Duration
	Logger  *log.Entry
}

type Result struct {
	// Domain is the sender domain signatures were checked against.
	Domain        string
	Verifications []*dkim.Verification
	// Aligned is the first passing signature whose d= matches Domain.
	Aligned *dkim.Verification
}

type CannotExtractDomainError struct {
	Sender string
}

func (e *CannotExtractDomainError) Error() string {
	return fmt.Sprintf("cannot extract domain from %q", e.Sender)
}

type VerifyError struct {
	Domain string
	Err    error
}

func (e *VerifyError) Error() string {
	return fmt.Sprintf("dkim verification failed for %v: %v", e.Domain, e.Err)
}

func (e *VerifyError) Unwrap() error {
	return e.Err
}
