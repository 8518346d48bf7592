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
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/vs49688/mailverify/email"
	"github.com/vs49688/mailverify/internal"
	"github.com/vs49688/mailverify/pipeline"
)

func TestWriteSummary(t *testing.T) {
	msg, err := email.Parse([]byte(internal.CRLF("From: alice@example.com\nSubject: Proposal 42\n\nvote yes\n")))
	if !assert.NoError(t, err) {
		t.FailNow()
	}

	var b bytes.Buffer
	if !assert.NoError(t, writeSummary(&b, &pipeline.Outcome{Message: msg})) {
		t.FailNow()
	}

	var got map[string]string
	if !assert.NoError(t, json.Unmarshal(b.Bytes(), &got)) {
		t.FailNow()
	}

	assert.Equal(t, "alice@example.com", got["from"])
	assert.Equal(t, "Proposal 42", got["subject"])
	assert.Len(t, got["event_id_salt"], 64)
	assert.Equal(t, byte('\n'), b.Bytes()[b.Len()-1])
}

func TestWriteSummaryNoSubject(t *testing.T) {
	msg, err := email.Parse([]byte(internal.CRLF("From: alice@example.com\n\nvote yes\n")))
	if !assert.NoError(t, err) {
		t.FailNow()
	}

	var b bytes.Buffer
	assert.NoError(t, writeSummary(&b, &pipeline.Outcome{Message: msg}))
	assert.Contains(t, b.String(), `"subject":""`)
}
