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

package config

import (
	"fmt"
	"time"
)

const (
	DefaultTimeout   = 30 * time.Second
	DefaultDNS       = "https"
	DefaultLogLevel  = "info"
	DefaultLogFormat = "text"
)

// MissingEnvError is returned for a required setting that is unset or blank.
type MissingEnvError struct {
	Key string
}

func (e *MissingEnvError) Error() string {
	return fmt.Sprintf("missing env var for %v", e.Key)
}

type InvalidEnvError struct {
	Key    string
	Reason string
}

func (e *InvalidEnvError) Error() string {
	return fmt.Sprintf("invalid env var for %v: %v", e.Key, e.Reason)
}

type IMAPConfig struct {
	Host          string `json:"host"`
	Port          string `json:"port"`
	TLS           string `json:"tls"`
	StartTLS      string `json:"starttls"`
	TLSSkipVerify string `json:"tls_skip_verify"`
	Username      string `json:"username"`
	Password      string `json:"-"`
	Mailbox       string `json:"mailbox"`
	SASLMechanism string `json:"sasl_mechanism"`

	DebugGreeting     string `json:"debug_greeting"`
	DebugCapabilities string `json:"debug_capabilities"`
	Debug             string `json:"debug"`
}

type OAuth2Config struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"-"`
	RefreshToken string `json:"-"`
}

// CliConfig holds raw settings as read from flags or the environment.
// Everything is kept as a string so quoting and validation are handled
// uniformly by Resolve.
type CliConfig struct {
	CredentialKind string       `json:"credential_kind"`
	IMAP           IMAPConfig   `json:"imap"`
	Gmail          OAuth2Config `json:"gmail"`
	Timeout        string       `json:"timeout"`
	DNS            string       `json:"dns"`
	DoHURL         string       `json:"doh_url"`
	RequireDKIM    string       `json:"require_dkim"`
	LogLevel       string       `json:"log_level"`
	LogFormat      string       `json:"log_format"`
}
