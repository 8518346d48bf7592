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
	"github.com/urfave/cli/v2"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"
)

const GmailScope = "https://mail.google.com/"

// LoginConfig holds the client used to obtain a refresh token interactively.
type LoginConfig struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"-"`
	Config       oauth2.Config
}

func (cfg *LoginConfig) Parameters() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "gmail-client-id",
			Usage:       "oauth2 client id",
			EnvVars:     []string{"GMAIL_CLIENT_ID"},
			Destination: &cfg.ClientID,
		},
		&cli.StringFlag{
			Name:        "gmail-client-secret",
			Usage:       "oauth2 client secret",
			EnvVars:     []string{"GMAIL_CLIENT_SECRET"},
			Destination: &cfg.ClientSecret,
		},
	}
}

func (cfg *LoginConfig) Resolve() error {
	clientID, err := required("GMAIL_CLIENT_ID", cfg.ClientID)
	if err != nil {
		return err
	}

	clientSecret, err := required("GMAIL_CLIENT_SECRET", cfg.ClientSecret)
	if err != nil {
		return err
	}

	cfg.Config = oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint:     endpoints.Google,
		Scopes:       []string{GmailScope},
	}

	return nil
}
