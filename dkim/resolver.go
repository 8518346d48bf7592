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
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/miekg/dns"
)

const DefaultDoHURL = "https://cloudflare-dns.com/dns-query"

const dnsMessageType = "application/dns-message"

// DoHResolver queries TXT records with DNS-over-HTTPS (RFC 8484).
type DoHResolver struct {
	url    string
	client *http.Client
}

func NewDoHResolver(endpoint string, client *http.Client) *DoHResolver {
	if endpoint == "" {
		endpoint = DefaultDoHURL
	}

	if client == nil {
		client = http.DefaultClient
	}

	return &DoHResolver{url: endpoint, client: client}
}

type DoHError struct {
	Name   string
	Status int
	Rcode  int
}

func (e *DoHError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("doh lookup %v: http status %v", e.Name, e.Status)
	}
	return fmt.Sprintf("doh lookup %v: %v", e.Name, dns.RcodeToString[e.Rcode])
}

func (r *DoHResolver) LookupTXT(ctx context.Context, name string) ([]string, error) {
	q := new(dns.Msg)
	q.SetQuestion(dns.Fqdn(name), dns.TypeTXT)
	// RFC 8484 4.1: use id 0 for cache friendliness.
	q.Id = 0

	packed, err := q.Pack()
	if err != nil {
		return nil, fmt.Errorf("doh lookup %v: %w", name, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(packed))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", dnsMessageType)
	req.Header.Set("Accept", dnsMessageType)

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &DoHError{Name: name, Status: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, dns.MaxMsgSize))
	if err != nil {
		return nil, err
	}

	var answer dns.Msg
	if err := answer.Unpack(body); err != nil {
		return nil, fmt.Errorf("doh lookup %v: %w", name, err)
	}

	if answer.Rcode != dns.RcodeSuccess {
		return nil, &DoHError{Name: name, Rcode: answer.Rcode}
	}

	var records []string
	for _, rr := range answer.Answer {
		if txt, ok := rr.(*dns.TXT); ok {
			records = append(records, strings.Join(txt.Txt, ""))
		}
	}

	return records, nil
}

// SystemResolver uses the operating system's resolver.
type SystemResolver struct {
	Resolver *net.Resolver
}

func (r *SystemResolver) LookupTXT(ctx context.Context, name string) ([]string, error) {
	resolver := r.Resolver
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	return resolver.LookupTXT(ctx, name)
}

// StaticResolver serves fixed records, keyed by lower-cased name.
type StaticResolver map[string][]string

func (r StaticResolver) LookupTXT(_ context.Context, name string) ([]string, error) {
	recs, ok := r[strings.ToLower(strings.TrimSuffix(name, "."))]
	if !ok {
		return nil, &net.DNSError{Err: "no such host", Name: name, IsNotFound: true}
	}
	return recs, nil
}
