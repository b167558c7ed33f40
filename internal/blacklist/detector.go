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

// Package blacklist detects bounce and complaint notifications, extracts the
// affected address from DSN/ARF MIME structure or text heuristics, and keeps
// the email_blacklist table current with upsert-and-increment semantics.
package blacklist

import (
	"bytes"
	"io"
	"regexp"
	"strings"

	gomessage "github.com/emersion/go-message"
)

var emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)

// DSN recipient headers inside message/delivery-status parts, with an
// optional rfc822; address-type prefix.
var finalRecipientPattern = regexp.MustCompile(`(?i)(?:Final-Recipient|Original-Recipient)[:\s]+(?:rfc822;)?\s*<?([a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,})>?`)

// Amazon SES bounce bodies phrase it as "... deliver the mail to the
// following recipients:" followed by the address.
var sesDeliveryPattern = regexp.MustCompile(`(?i)(?:deliver|delivering)[^\n]*(?:to the following recipients?|to)[:\s]*\n*([a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,})`)

// ARF feedback-report header naming the recipient the complaint concerns.
var originalRcptPattern = regexp.MustCompile(`(?i)Original-Rcpt-To[:\s]+<?([a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,})>?`)

var toHeaderPattern = regexp.MustCompile(`(?i)\bTo[:\s]+<?([a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,})>?`)

var bodyFallbackPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(?:failed|rejected|bounced|undeliverable)[:\s]+<?([a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,})>?`),
	regexp.MustCompile(`(?i)(?:recipient|address)[:\s]+<?([a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,})>?`),
	regexp.MustCompile(`(?i)<([a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,})>.*(?:failed|rejected|bounced|error)`),
	regexp.MustCompile(`(?i)(?:could not be delivered to)[:\s]+<?([a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,})>?`),
	finalRecipientPattern,
}

var bounceSubjectIndicators = []string{
	"delivery status notification",
	"undeliverable",
	"mail delivery failed",
	"delivery failure",
	"returned mail",
	"failure notice",
	"undelivered mail",
	"message not delivered",
	"delivery problem",
}

// Detector evaluates bounce/complaint predicates and extracts affected
// addresses, excluding the system's own domain and known system senders.
type Detector struct {
	ownDomain string // without the leading @
}

// NewDetector creates a detector for the given sending domain.
func NewDetector(ownDomain string) *Detector {
	return &Detector{ownDomain: strings.ToLower(strings.TrimPrefix(ownDomain, "@"))}
}

// IsBounce reports whether the message looks like a delivery-failure
// notification, based on sender and subject heuristics.
func (d *Detector) IsBounce(sender, subject string) bool {
	senderLower := strings.ToLower(sender)
	if strings.Contains(senderLower, "mailer-daemon") || strings.Contains(senderLower, "postmaster") {
		return true
	}

	subjectLower := strings.ToLower(subject)
	for _, indicator := range bounceSubjectIndicators {
		if strings.Contains(subjectLower, indicator) {
			return true
		}
	}
	return false
}

// IsComplaint reports whether the message came through the SES feedback-loop
// abuse channel.
func (d *Detector) IsComplaint(sender string) bool {
	senderLower := strings.ToLower(sender)
	if strings.Contains(senderLower, "complaints@email-abuse.amazonses.com") {
		return true
	}
	return strings.Contains(senderLower, "complaint@") && strings.Contains(senderLower, "amazonses.com")
}

// ExtractBouncedAddress finds the recipient a bounce concerns. It tries, in
// order: the X-Failed-Recipients header, machine-readable delivery-status
// parts, text/plain DSN phrasings, and finally any foreign address in the
// body. Returns "" when nothing plausible is found.
func (d *Detector) ExtractBouncedAddress(body string, raw []byte) string {
	if len(raw) > 0 {
		if addr := d.extractBouncedFromRaw(raw); addr != "" {
			return addr
		}
	}
	if body == "" {
		return ""
	}

	for _, pattern := range bodyFallbackPatterns {
		if m := pattern.FindStringSubmatch(body); m != nil {
			addr := strings.ToLower(m[1])
			if !d.isOwnOrSystemAddress(addr) {
				return addr
			}
		}
	}

	return d.anyForeignAddress(body)
}

func (d *Detector) extractBouncedFromRaw(raw []byte) string {
	entity, err := gomessage.Read(bytes.NewReader(raw))
	if err != nil && !gomessage.IsUnknownCharset(err) {
		return ""
	}

	if failed := entity.Header.Get("X-Failed-Recipients"); failed != "" {
		if m := emailPattern.FindString(failed); m != "" {
			return strings.ToLower(m)
		}
	}

	// The machine-readable delivery-status part outranks text/plain
	// phrasings, wherever each sits in the MIME tree.
	var fromStatus, fromText string
	walkParts(entity, func(mediaType string, part *gomessage.Entity) bool {
		content, err := io.ReadAll(part.Body)
		if err != nil || len(content) == 0 {
			return true
		}
		text := string(content)

		switch mediaType {
		case "message/delivery-status":
			if m := finalRecipientPattern.FindStringSubmatch(text); m != nil {
				addr := strings.ToLower(m[1])
				if !d.isOwnAddress(addr) {
					fromStatus = addr
					return false
				}
			}
		case "text/plain":
			if fromText != "" {
				return true
			}
			if m := sesDeliveryPattern.FindStringSubmatch(text); m != nil {
				addr := strings.ToLower(m[1])
				if !d.isOwnAddress(addr) {
					fromText = addr
					return true
				}
			}
			if m := finalRecipientPattern.FindStringSubmatch(text); m != nil {
				addr := strings.ToLower(m[1])
				if !d.isOwnAddress(addr) {
					fromText = addr
				}
			}
		}
		return true
	})
	if fromStatus != "" {
		return fromStatus
	}
	return fromText
}

// ExtractComplaintAddress finds the address a spam complaint concerns: the
// Original-Rcpt-To of an ARF feedback-report part, the To: of the embedded
// original message, or any foreign address in the body text.
func (d *Detector) ExtractComplaintAddress(body string, raw []byte) string {
	if len(raw) > 0 {
		if addr := d.extractComplaintFromRaw(raw); addr != "" {
			return addr
		}
	}
	if body == "" {
		return ""
	}

	for _, pattern := range []*regexp.Regexp{toHeaderPattern, originalRcptPattern} {
		if m := pattern.FindStringSubmatch(body); m != nil {
			addr := strings.ToLower(m[1])
			if !d.isOwnOrSystemAddress(addr) {
				return addr
			}
		}
	}

	return d.anyForeignAddress(body)
}

func (d *Detector) extractComplaintFromRaw(raw []byte) string {
	entity, err := gomessage.Read(bytes.NewReader(raw))
	if err != nil && !gomessage.IsUnknownCharset(err) {
		return ""
	}

	// Category priority: the ARF feedback-report is authoritative, then the
	// embedded original message, then text/plain heuristics.
	var fromReport, fromEmbedded, fromText string
	walkParts(entity, func(mediaType string, part *gomessage.Entity) bool {
		switch mediaType {
		case "message/feedback-report":
			content, err := io.ReadAll(part.Body)
			if err != nil {
				return true
			}
			if m := originalRcptPattern.FindStringSubmatch(string(content)); m != nil {
				fromReport = strings.ToLower(m[1])
				return false
			}
		case "message/rfc822":
			// The embedded original message; its To: is the complainant.
			if fromEmbedded != "" {
				return true
			}
			inner, err := gomessage.Read(part.Body)
			if err != nil && !gomessage.IsUnknownCharset(err) {
				return true
			}
			if to := inner.Header.Get("To"); to != "" {
				if m := emailPattern.FindString(to); m != "" {
					addr := strings.ToLower(m)
					if !d.isOwnAddress(addr) {
						fromEmbedded = addr
					}
				}
			}
		case "text/plain":
			if fromText != "" {
				return true
			}
			content, err := io.ReadAll(part.Body)
			if err != nil {
				return true
			}
			if m := toHeaderPattern.FindStringSubmatch(string(content)); m != nil {
				addr := strings.ToLower(m[1])
				if !d.isOwnOrSystemAddress(addr) {
					fromText = addr
				}
			}
		}
		return true
	})
	switch {
	case fromReport != "":
		return fromReport
	case fromEmbedded != "":
		return fromEmbedded
	}
	return fromText
}

// anyForeignAddress returns the first address in the text that belongs to
// neither our domain nor a known system sender.
func (d *Detector) anyForeignAddress(text string) string {
	for _, m := range emailPattern.FindAllString(text, -1) {
		addr := strings.ToLower(m)
		if !d.isOwnOrSystemAddress(addr) {
			return addr
		}
	}
	return ""
}

func (d *Detector) isOwnAddress(addr string) bool {
	return d.ownDomain != "" && strings.HasSuffix(addr, "@"+d.ownDomain)
}

func (d *Detector) isOwnOrSystemAddress(addr string) bool {
	return d.isOwnAddress(addr) ||
		strings.Contains(addr, "mailer-daemon") ||
		strings.Contains(addr, "postmaster") ||
		strings.Contains(addr, "amazonses.com")
}

// walkParts visits every leaf MIME part depth-first until fn returns false.
func walkParts(entity *gomessage.Entity, fn func(mediaType string, part *gomessage.Entity) bool) bool {
	if mr := entity.MultipartReader(); mr != nil {
		for {
			part, err := mr.NextPart()
			if err != nil {
				return true
			}
			if !walkParts(part, fn) {
				return false
			}
		}
	}

	mediaType, _, err := entity.Header.ContentType()
	if err != nil {
		mediaType = "text/plain"
	}
	return fn(mediaType, entity)
}
