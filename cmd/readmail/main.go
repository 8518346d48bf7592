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

package readmail

import (
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	"github.com/vs49688/mailverify/cmd/config"
	"github.com/vs49688/mailverify/pipeline"
)

func RegisterCommand(app *cli.App) *cli.App {
	cfg := &config.CliConfig{}
	app.Commands = append(app.Commands, &cli.Command{
		Name:   "read-mail",
		Usage:  "Read the next unread email and report whether it verifies",
		Flags:  cfg.Parameters(),
		Action: func(context *cli.Context) error { return readmail(context, cfg) },
	})
	return app
}

func readmail(ctx *cli.Context, cfg *config.CliConfig) error {
	logger, err := cfg.BuildLogger()
	if err != nil {
		return err
	}
	entry := log.NewEntry(logger)

	pc, err := cfg.Resolve(entry)
	if err != nil {
		entry.WithError(err).Error("invalid_configuration")
		return err
	}

	// Verification failures are reported, not fatal.
	pc.RequireDKIM = false

	out, err := pipeline.Run(ctx.Context, &pc)
	if out == nil {
		if err != nil {
			entry.WithError(err).Error("read_mail_failed")
			return err
		}
		entry.Info("no_new_email")
		return nil
	}

	entry.WithField("message", out.Message.String()).Info("read_mail_message")

	if err != nil {
		entry.WithError(err).Error("read_mail_failed")
		return err
	}

	if out.VerifyErr != nil {
		entry.WithError(out.VerifyErr).Warn("email_verification_failed")
	} else {
		entry.WithField("signing_domain", out.Verification.Aligned.Domain).Info("email_verification_succeeded")
	}

	return nil
}
