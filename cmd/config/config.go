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
	"crypto/tls"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-sasl"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	"github.com/vs49688/mailverify/credentials"
	"github.com/vs49688/mailverify/dkim"
	"github.com/vs49688/mailverify/gmail"
	"github.com/vs49688/mailverify/pipeline"
	"github.com/vs49688/mailverify/receiver"
)

func DefaultConfig() CliConfig {
	return CliConfig{
		IMAP: IMAPConfig{
			StartTLS:      "false",
			TLSSkipVerify: "false",
			Mailbox:       receiver.DefaultMailbox,
		},
		Timeout:     DefaultTimeout.String(),
		DNS:         DefaultDNS,
		DoHURL:      dkim.DefaultDoHURL,
		RequireDKIM: "true",
		LogLevel:    DefaultLogLevel,
		LogFormat:   DefaultLogFormat,
	}
}

const (
	imapLogin   = "LOGIN"
	imapXOAuth2 = "XOAUTH2"
)

func (cfg *CliConfig) Parameters() []cli.Flag {
	def := DefaultConfig()

	return []cli.Flag{
		&cli.StringFlag{
			Name:        "credential-kind",
			Usage:       "credential kind (plain-imap, gmail-imap, gmail-rest-api)",
			EnvVars:     []string{"MAIL_CREDENTIAL_KIND"},
			Destination: &cfg.CredentialKind,
			Value:       def.CredentialKind,
		},
		&cli.StringFlag{
			Name:        "imap-host",
			Usage:       "imap server host",
			EnvVars:     []string{"IMAP_HOST"},
			Destination: &cfg.IMAP.Host,
			Value:       def.IMAP.Host,
		},
		&cli.StringFlag{
			Name:        "imap-port",
			Usage:       "imap server port",
			EnvVars:     []string{"IMAP_PORT"},
			Destination: &cfg.IMAP.Port,
			Value:       def.IMAP.Port,
		},
		&cli.StringFlag{
			Name:        "imap-tls",
			Usage:       "use implicit tls (true/false)",
			EnvVars:     []string{"IMAP_TLS"},
			Destination: &cfg.IMAP.TLS,
			Value:       def.IMAP.TLS,
		},
		&cli.StringFlag{
			Name:        "imap-starttls",
			Usage:       "upgrade a plaintext connection with STARTTLS (true/false)",
			EnvVars:     []string{"IMAP_STARTTLS"},
			Destination: &cfg.IMAP.StartTLS,
			Value:       def.IMAP.StartTLS,
		},
		&cli.StringFlag{
			Name:        "imap-tls-skip-verify",
			Usage:       "skip imap tls verification",
			EnvVars:     []string{"IMAP_TLS_SKIP_VERIFY"},
			Destination: &cfg.IMAP.TLSSkipVerify,
			Value:       def.IMAP.TLSSkipVerify,
		},
		&cli.StringFlag{
			Name:        "imap-username",
			Usage:       "imap username (plain-imap)",
			EnvVars:     []string{"IMAP_USERNAME"},
			Destination: &cfg.IMAP.Username,
			Value:       def.IMAP.Username,
		},
		&cli.StringFlag{
			Name:        "imap-password",
			Usage:       "imap password (plain-imap)",
			EnvVars:     []string{"IMAP_PASSWORD"},
			Destination: &cfg.IMAP.Password,
			Value:       def.IMAP.Password,
		},
		&cli.StringFlag{
			Name:        "imap-mailbox",
			Usage:       "mailbox to read from",
			EnvVars:     []string{"IMAP_MAILBOX"},
			Destination: &cfg.IMAP.Mailbox,
			Value:       def.IMAP.Mailbox,
		},
		&cli.StringFlag{
			Name:        "imap-sasl-mechanism",
			Usage:       "sasl mechanism: LOGIN or PLAIN for plain-imap, XOAUTH2 or OAUTHBEARER for gmail-imap",
			EnvVars:     []string{"IMAP_SASL_MECHANISM"},
			Destination: &cfg.IMAP.SASLMechanism,
			Value:       def.IMAP.SASLMechanism,
		},
		&cli.StringFlag{
			Name:        "imap-debug-greeting",
			Usage:       "log the server greeting",
			EnvVars:     []string{"IMAP_DEBUG_GREETING"},
			Destination: &cfg.IMAP.DebugGreeting,
			Value:       def.IMAP.DebugGreeting,
		},
		&cli.StringFlag{
			Name:        "imap-debug-capabilities",
			Usage:       "log the server capabilities",
			EnvVars:     []string{"IMAP_DEBUG_CAPABILITIES"},
			Destination: &cfg.IMAP.DebugCapabilities,
			Value:       def.IMAP.DebugCapabilities,
		},
		&cli.StringFlag{
			Name:        "imap-debug",
			Usage:       "write the imap protocol trace to stderr",
			EnvVars:     []string{"IMAP_DEBUG"},
			Destination: &cfg.IMAP.Debug,
			Value:       def.IMAP.Debug,
		},
		&cli.StringFlag{
			Name:        "gmail-client-id",
			Usage:       "oauth2 client id",
			EnvVars:     []string{"GMAIL_CLIENT_ID"},
			Destination: &cfg.Gmail.ClientID,
			Value:       def.Gmail.ClientID,
		},
		&cli.StringFlag{
			Name:        "gmail-client-secret",
			Usage:       "oauth2 client secret",
			EnvVars:     []string{"GMAIL_CLIENT_SECRET"},
			Destination: &cfg.Gmail.ClientSecret,
			Value:       def.Gmail.ClientSecret,
		},
		&cli.StringFlag{
			Name:        "gmail-token",
			Usage:       "oauth2 refresh token",
			EnvVars:     []string{"GMAIL_TOKEN"},
			Destination: &cfg.Gmail.RefreshToken,
			Value:       def.Gmail.RefreshToken,
		},
		&cli.StringFlag{
			Name:        "timeout",
			Usage:       "timeout for each network step, 0 to disable",
			EnvVars:     []string{"MAILVERIFY_TIMEOUT"},
			Destination: &cfg.Timeout,
			Value:       def.Timeout,
		},
		&cli.StringFlag{
			Name:        "dns",
			Usage:       "dkim key lookup method (https, system)",
			EnvVars:     []string{"MAILVERIFY_DNS"},
			Destination: &cfg.DNS,
			Value:       def.DNS,
		},
		&cli.StringFlag{
			Name:        "doh-url",
			Usage:       "dns-over-https endpoint",
			EnvVars:     []string{"MAILVERIFY_DOH_URL"},
			Destination: &cfg.DoHURL,
			Value:       def.DoHURL,
		},
		&cli.StringFlag{
			Name:        "require-dkim",
			Usage:       "fail if no aligned dkim signature passes",
			EnvVars:     []string{"MAILVERIFY_REQUIRE_DKIM"},
			Destination: &cfg.RequireDKIM,
			Value:       def.RequireDKIM,
		},
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "logging level",
			EnvVars:     []string{"MAILVERIFY_LOG_LEVEL"},
			Destination: &cfg.LogLevel,
			Value:       def.LogLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "logging format (text/json)",
			EnvVars:     []string{"MAILVERIFY_LOG_FORMAT"},
			Destination: &cfg.LogFormat,
			Value:       def.LogFormat,
		},
	}
}

// clean strips the quotes some environments wrap values in.
func clean(s string) string {
	return strings.Trim(s, `"`)
}

func required(key string, value string) (string, error) {
	v := clean(value)
	if v == "" {
		return "", &MissingEnvError{Key: key}
	}
	return v, nil
}

func parseBool(key string, value string) (bool, error) {
	switch strings.ToLower(clean(value)) {
	case "true":
		return true, nil
	case "false":
		return false, nil
	default:
		return false, &InvalidEnvError{Key: key, Reason: "not a valid boolean"}
	}
}

func optionalBool(key string, value string, def bool) (bool, error) {
	if clean(value) == "" {
		return def, nil
	}
	return parseBool(key, value)
}

// debugToggle is lenient: "true" or "1" enables, anything else disables.
func debugToggle(value string) bool {
	v := strings.ToLower(clean(value))
	return v == "true" || v == "1"
}

// BuildLogger creates a logger from the log level and format settings.
func (cfg *CliConfig) BuildLogger() (*log.Logger, error) {
	logger := log.New()
	logger.SetOutput(os.Stderr)

	level := clean(cfg.LogLevel)
	if level == "" {
		level = DefaultLogLevel
	}

	lvl, err := log.ParseLevel(level)
	if err != nil {
		return nil, &InvalidEnvError{Key: "MAILVERIFY_LOG_LEVEL", Reason: err.Error()}
	}
	logger.SetLevel(lvl)

	switch clean(cfg.LogFormat) {
	case "", "text":
	case "json":
		logger.SetFormatter(&log.JSONFormatter{})
	default:
		return nil, &InvalidEnvError{Key: "MAILVERIFY_LOG_FORMAT", Reason: "must be text or json"}
	}

	return logger, nil
}

func (cfg *CliConfig) resolveTimeout() (time.Duration, error) {
	v := clean(cfg.Timeout)
	if v == "" {
		return DefaultTimeout, nil
	}

	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		return 0, &InvalidEnvError{Key: "MAILVERIFY_TIMEOUT", Reason: "not a valid duration"}
	}
	return d, nil
}

func (cfg *CliConfig) resolveVerifier(timeout time.Duration, logger *log.Entry) (*dkim.Verifier, error) {
	v := &dkim.Verifier{Timeout: timeout, Logger: logger}

	switch strings.ToLower(clean(cfg.DNS)) {
	case "", "https":
		v.Resolver = dkim.NewDoHResolver(clean(cfg.DoHURL), nil)
	case "system":
		v.Resolver = &dkim.SystemResolver{}
	default:
		return nil, &InvalidEnvError{Key: "MAILVERIFY_DNS", Reason: "must be https or system"}
	}

	return v, nil
}

func (cfg *OAuth2Config) resolve() (*credentials.OAuth2, error) {
	clientID, err := required("GMAIL_CLIENT_ID", cfg.ClientID)
	if err != nil {
		return nil, err
	}

	clientSecret, err := required("GMAIL_CLIENT_SECRET", cfg.ClientSecret)
	if err != nil {
		return nil, err
	}

	token, err := required("GMAIL_TOKEN", cfg.RefreshToken)
	if err != nil {
		return nil, err
	}

	return &credentials.OAuth2{
		ClientID:     clientID,
		ClientSecret: credentials.NewSecret(clientSecret),
		RefreshToken: credentials.NewSecret(token),
	}, nil
}

func (cfg *IMAPConfig) resolve(kind credentials.Kind, gmailCfg *OAuth2Config) (receiver.Config, error) {
	var rc receiver.Config

	switch kind {
	case credentials.KindPlainIMAP:
		username, err := required("IMAP_USERNAME", cfg.Username)
		if err != nil {
			return rc, err
		}

		password, err := required("IMAP_PASSWORD", cfg.Password)
		if err != nil {
			return rc, err
		}

		rc.Credentials = &credentials.Plain{Username: username, Password: credentials.NewSecret(password)}

		switch mech := strings.ToUpper(clean(cfg.SASLMechanism)); mech {
		case "", imapLogin:
			rc.SASLMechanism = imapLogin
		case sasl.Plain:
			rc.SASLMechanism = sasl.Plain
		default:
			return rc, &InvalidEnvError{Key: "IMAP_SASL_MECHANISM", Reason: "must be LOGIN or PLAIN"}
		}
	case credentials.KindGmailIMAP:
		creds, err := gmailCfg.resolve()
		if err != nil {
			return rc, err
		}
		rc.Credentials = creds

		switch mech := strings.ToUpper(clean(cfg.SASLMechanism)); mech {
		case "", imapXOAuth2:
			rc.SASLMechanism = imapXOAuth2
		case sasl.OAuthBearer:
			rc.SASLMechanism = sasl.OAuthBearer
		default:
			return rc, &InvalidEnvError{Key: "IMAP_SASL_MECHANISM", Reason: "must be XOAUTH2 or OAUTHBEARER"}
		}
	}

	host, err := required("IMAP_HOST", cfg.Host)
	if err != nil {
		return rc, err
	}
	rc.Host = host

	port, err := required("IMAP_PORT", cfg.Port)
	if err != nil {
		return rc, err
	}

	p, err := strconv.ParseUint(port, 10, 16)
	if err != nil {
		return rc, &InvalidEnvError{Key: "IMAP_PORT", Reason: "not a valid u16"}
	}
	rc.Port = uint16(p)

	tlsValue, err := required("IMAP_TLS", cfg.TLS)
	if err != nil {
		return rc, err
	}

	if rc.TLS, err = parseBool("IMAP_TLS", tlsValue); err != nil {
		return rc, err
	}

	if rc.StartTLS, err = optionalBool("IMAP_STARTTLS", cfg.StartTLS, false); err != nil {
		return rc, err
	}

	if rc.TLS && rc.StartTLS {
		return rc, &InvalidEnvError{Key: "IMAP_STARTTLS", Reason: "cannot be combined with IMAP_TLS"}
	}

	skipVerify, err := optionalBool("IMAP_TLS_SKIP_VERIFY", cfg.TLSSkipVerify, false)
	if err != nil {
		return rc, err
	}

	if skipVerify {
		// #nosec G402
		rc.TLSConfig = &tls.Config{InsecureSkipVerify: true}
	}

	rc.Mailbox = clean(cfg.Mailbox)
	if rc.Mailbox == "" {
		rc.Mailbox = receiver.DefaultMailbox
	}

	rc.PrintGreeting = debugToggle(cfg.DebugGreeting)
	rc.PrintCapabilities = debugToggle(cfg.DebugCapabilities)
	rc.Debug = debugToggle(cfg.Debug)

	return rc, nil
}

// Resolve validates the settings and builds a pipeline configuration.
// It does not touch the network.
func (cfg *CliConfig) Resolve(logger *log.Entry) (pipeline.Config, error) {
	var pc pipeline.Config

	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}

	kindValue, err := required("MAIL_CREDENTIAL_KIND", cfg.CredentialKind)
	if err != nil {
		return pc, err
	}

	kind, err := credentials.ParseKind(kindValue)
	if err != nil {
		return pc, &InvalidEnvError{Key: "MAIL_CREDENTIAL_KIND", Reason: err.Error()}
	}

	timeout, err := cfg.resolveTimeout()
	if err != nil {
		return pc, err
	}

	if pc.RequireDKIM, err = optionalBool("MAILVERIFY_REQUIRE_DKIM", cfg.RequireDKIM, true); err != nil {
		return pc, err
	}

	if pc.Verifier, err = cfg.resolveVerifier(timeout, logger.WithField("component", "dkim")); err != nil {
		return pc, err
	}

	switch kind {
	case credentials.KindPlainIMAP, credentials.KindGmailIMAP:
		rc, err := cfg.IMAP.resolve(kind, &cfg.Gmail)
		if err != nil {
			return pc, err
		}

		rc.Timeout = timeout
		rc.Logger = logger.WithField("component", "imap")
		pc.Source = &pipeline.IMAPSource{Config: rc}
	case credentials.KindGmailREST:
		creds, err := cfg.Gmail.resolve()
		if err != nil {
			return pc, err
		}

		pc.Source = &pipeline.GmailSource{Config: gmail.Config{
			Credentials: creds,
			Timeout:     timeout,
			Logger:      logger.WithField("component", "gmail"),
		}}
	}

	pc.Logger = logger
	return pc, nil
}
