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

package check

import (
	"encoding/hex"
	"encoding/json"
	"io"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	"github.com/vs49688/mailverify/cmd/config"
	"github.com/vs49688/mailverify/pipeline"
)

func RegisterCommand(app *cli.App) *cli.App {
	cfg := &config.CliConfig{}
	app.Commands = append(app.Commands, &cli.Command{
		Name:   "check",
		Usage:  "Read the next unread email, verify it and print a summary",
		Flags:  cfg.Parameters(),
		Action: func(context *cli.Context) error { return check(context, cfg) },
	})
	return app
}

type summary struct {
	pipeline.Email
	EventIDSalt string `json:"event_id_salt"`
}

func check(ctx *cli.Context, cfg *config.CliConfig) error {
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

	out, err := pipeline.Run(ctx.Context, &pc)
	if err != nil {
		entry.WithError(err).Error("check_failed")
		return err
	}

	if out == nil {
		entry.Info("no_new_email")
		return nil
	}

	return writeSummary(os.Stdout, out)
}

func writeSummary(w io.Writer, out *pipeline.Outcome) error {
	return json.NewEncoder(w).Encode(summary{
		Email:       out.Email(),
		EventIDSalt: hex.EncodeToString(out.EventIDSalt()),
	})
}
