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

// Package models defines the data structures shared across the daemon.
package models

import (
	"strings"
	"time"

	"github.com/k3a/html2text"
)

// NormalizedMessage is a fully parsed inbound email, ready for classification.
// It is constructed once by the message parser and treated as read-only by
// every downstream consumer.
type NormalizedMessage struct {
	// MessageID is the Message-ID header, falling back to the S3 key when
	// the header is absent. It is the natural identity for dedup and persistence.
	MessageID string

	// S3Key is the object key the message was fetched from.
	S3Key string

	Sender     string // sender address, e.g. "bob@customer.com"
	SenderName string // decoded display name, may be empty
	Recipient  string
	Subject    string

	BodyText string
	BodyHTML string

	// ReceivedAt is the parsed Date header, or the processing time when the
	// header is absent or malformed.
	ReceivedAt time.Time

	// Raw is the original payload, retained for deep MIME inspection by the
	// bounce/complaint detector.
	Raw []byte
}

// EffectiveBody returns the text body, falling back to the HTML body with
// tags stripped and whitespace collapsed. A message with neither body yields
// the empty string; this is valid, not an error.
func (m *NormalizedMessage) EffectiveBody() string {
	if m.BodyText != "" {
		return m.BodyText
	}
	if m.BodyHTML != "" {
		return strings.Join(strings.Fields(html2text.HTML2Text(m.BodyHTML)), " ")
	}
	return ""
}
