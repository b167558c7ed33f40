// Copyright (c) 2026 Cal Page
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package message parses raw RFC 5322 bytes into a NormalizedMessage.
//
// Parsing is total: a malformed header or an undecodable part degrades to an
// absent value instead of failing the whole message. SES stores whatever the
// remote MTA sent, so the parser has to survive arbitrary garbage.
package message

import (
	"bytes"
	"io"
	"log/slog"
	"strings"
	"time"

	gomessage "github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"

	"github.com/cpsource/ses-daemon-bot/internal/models"
)

// Parse converts raw email bytes into a NormalizedMessage. It never returns
// an error; the worst outcome is a message with only the S3 key as identity
// and the processing time as timestamp.
func Parse(s3Key string, raw []byte) *models.NormalizedMessage {
	msg := &models.NormalizedMessage{
		MessageID:  s3Key,
		S3Key:      s3Key,
		ReceivedAt: time.Now().UTC(),
		Raw:        raw,
	}

	entity, err := gomessage.Read(bytes.NewReader(raw))
	if err != nil && !gomessage.IsUnknownCharset(err) {
		slog.Warn("unparseable message, keeping raw only", "s3_key", s3Key, "error", err)
		return msg
	}

	header := mail.Header{Header: entity.Header}

	if id := strings.TrimSpace(entity.Header.Get("Message-Id")); id != "" {
		msg.MessageID = id
	}

	msg.SenderName, msg.Sender = parseAddress(header, "From")
	_, msg.Recipient = parseAddress(header, "To")

	if subject, err := header.Subject(); err == nil {
		msg.Subject = subject
	} else {
		msg.Subject = entity.Header.Get("Subject")
	}

	if date, err := header.Date(); err == nil && !date.IsZero() {
		msg.ReceivedAt = date
	}

	msg.BodyText, msg.BodyHTML = extractBodies(entity)

	return msg
}

// parseAddress returns the decoded display name and address of the first
// mailbox in the given header field. On any parse failure the raw header
// value is used as the address.
func parseAddress(header mail.Header, field string) (name, address string) {
	addrs, err := header.AddressList(field)
	if err != nil || len(addrs) == 0 {
		raw := strings.TrimSpace(header.Get(field))
		return "", strings.Trim(raw, "<>")
	}
	return addrs[0].Name, addrs[0].Address
}

// extractBodies walks every MIME part depth-first and captures the first
// text/plain and first text/html parts. Attachments are skipped; later parts
// of the same type never overwrite earlier captures.
func extractBodies(entity *gomessage.Entity) (bodyText, bodyHTML string) {
	var walk func(e *gomessage.Entity)
	walk = func(e *gomessage.Entity) {
		if mr := e.MultipartReader(); mr != nil {
			for {
				part, err := mr.NextPart()
				if err == io.EOF {
					return
				}
				if err != nil {
					// Remaining parts are unreadable; what we have so far stands.
					slog.Debug("error reading MIME part", "error", err)
					return
				}
				walk(part)
			}
		}

		if disposition, _, _ := e.Header.ContentDisposition(); disposition == "attachment" {
			return
		}

		mediaType, _, err := e.Header.ContentType()
		if err != nil {
			mediaType = "text/plain"
		}

		switch mediaType {
		case "text/plain":
			if bodyText == "" {
				bodyText = readPart(e)
			}
		case "text/html":
			if bodyHTML == "" {
				bodyHTML = readPart(e)
			}
		}
	}
	walk(entity)
	return bodyText, bodyHTML
}

func readPart(e *gomessage.Entity) string {
	content, err := io.ReadAll(e.Body)
	if err != nil {
		// Partial content is better than none; transfer-decoding errors
		// surface mid-read.
		slog.Debug("error decoding part content", "error", err)
	}
	return string(content)
}
