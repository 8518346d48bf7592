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

// Package dkim checks a Message's DKIM signatures against the domain of
// its original sender.
package dkim

import (
	"context"
	"strings"

	"github.com/emersion/go-msgauth/dkim"
	log "github.com/sirupsen/logrus"
	"github.com/vs49688/mailverify/email"
)

// Domain returns the component of sender between the first and second '@'.
func Domain(sender string) (string, error) {
	parts := strings.Split(sender, "@")
	if len(parts) < 2 || parts[1] == "" {
		return "", &CannotExtractDomainError{Sender: sender}
	}

	return strings.ToLower(strings.TrimSuffix(parts[1], ".")), nil
}

// Aligned reports whether a signing domain covers the sender domain,
// either exactly or as a parent.
func Aligned(signingDomain string, senderDomain string) bool {
	d := strings.ToLower(strings.TrimSuffix(signingDomain, "."))
	s := strings.ToLower(senderDomain)
	return d != "" && (d == s || strings.HasSuffix(s, "."+d))
}

// Verify checks every signature on msg. A non-nil error means no aligned
// signature passed; the Result is still returned when one was produced.
func (v *Verifier) Verify(ctx context.Context, msg *email.Message) (*Result, error) {
	logger := v.Logger
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}

	domain, err := Domain(msg.OriginalSender)
	if err != nil {
		return nil, err
	}

	logger = logger.WithField("domain", domain)

	if len(msg.DKIMSignatures) == 0 {
		return nil, &VerifyError{Domain: domain, Err: ErrNoSignature}
	}

	resolver := v.Resolver
	if resolver == nil {
		resolver = NewDoHResolver(DefaultDoHURL, nil)
	}

	verifications, err := dkim.VerifyWithOptions(msg.Reader(), &dkim.VerifyOptions{
		LookupTXT: func(name string) ([]string, error) {
			lctx, cancel := ctx, context.CancelFunc(func() {})
			if v.Timeout > 0 {
				lctx, cancel = context.WithTimeout(ctx, v.Timeout)
			}
			defer cancel()

			logger.WithField("name", name).Trace("dkim_lookup_txt")
			return resolver.LookupTXT(lctx, name)
		},
	})
	if err != nil {
		return nil, &VerifyError{Domain: domain, Err: err}
	}

	res := &Result{Domain: domain, Verifications: verifications}

	var firstErr error
	unaligned := false
	for _, ver := range verifications {
		e := logger.WithFields(log.Fields{
			"signing_domain": ver.Domain,
			"identifier":     ver.Identifier,
		})

		if ver.Err != nil {
			e.WithError(ver.Err).Debug("dkim_signature_failed")
			if firstErr == nil {
				firstErr = ver.Err
			}
			continue
		}

		if !Aligned(ver.Domain, domain) {
			e.Debug("dkim_signature_not_aligned")
			unaligned = true
			continue
		}

		e.Debug("dkim_signature_passed")
		if res.Aligned == nil {
			res.Aligned = ver
		}
	}

	if res.Aligned != nil {
		return res, nil
	}

	if unaligned || firstErr == nil {
		firstErr = ErrNotAligned
	}

	return res, &VerifyError{Domain: domain, Err: firstErr}
}
