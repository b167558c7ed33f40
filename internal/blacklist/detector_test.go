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

package blacklist

import "testing"

func TestIsBounce(t *testing.T) {
	d := NewDetector("frflashy.com")

	tests := []struct {
		name    string
		sender  string
		subject string
		want    bool
	}{
		{"mailer-daemon sender", "MAILER-DAEMON@amazonses.com", "anything", true},
		{"postmaster sender", "postmaster@example.org", "hi", true},
		{"undelivered subject", "bounces@example.org", "Undelivered Mail Returned to Sender", true},
		{"dsn subject", "noreply@example.org", "Delivery Status Notification (Failure)", true},
		{"failure notice", "someone@example.org", "failure notice", true},
		{"regular mail", "bob@customer.com", "Please send info", false},
		{"empty", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := d.IsBounce(tt.sender, tt.subject); got != tt.want {
				t.Errorf("IsBounce(%q, %q) = %v, want %v", tt.sender, tt.subject, got, tt.want)
			}
		})
	}
}

func TestIsComplaint(t *testing.T) {
	d := NewDetector("frflashy.com")

	tests := []struct {
		sender string
		want   bool
	}{
		{"complaints@email-abuse.amazonses.com", true},
		{"COMPLAINTS@EMAIL-ABUSE.AMAZONSES.COM", true},
		{"complaint@feedback.amazonses.com", true},
		{"bob@customer.com", false},
		{"complaint@example.org", false},
	}

	for _, tt := range tests {
		if got := d.IsComplaint(tt.sender); got != tt.want {
			t.Errorf("IsComplaint(%q) = %v, want %v", tt.sender, got, tt.want)
		}
	}
}

const bounceDSN = "From: MAILER-DAEMON@amazonses.com\r\n" +
	"To: admin@frflashy.com\r\n" +
	"Subject: Delivery Status Notification (Failure)\r\n" +
	"MIME-Version: 1.0\r\n" +
	"Content-Type: multipart/report; report-type=delivery-status; boundary=\"b1\"\r\n" +
	"\r\n" +
	"--b1\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"An error occurred while trying to deliver the mail to the following recipients:\r\n" +
	"bob@customer.com\r\n" +
	"--b1\r\n" +
	"Content-Type: message/delivery-status\r\n" +
	"\r\n" +
	"Reporting-MTA: dns; amazonses.com\r\n" +
	"\r\n" +
	"Final-Recipient: rfc822; Bob@Customer.com\r\n" +
	"Action: failed\r\n" +
	"Status: 5.1.1\r\n" +
	"--b1--\r\n"

func TestExtractBouncedAddressFromDeliveryStatus(t *testing.T) {
	d := NewDetector("frflashy.com")

	addr := d.ExtractBouncedAddress("", []byte(bounceDSN))
	if addr != "bob@customer.com" {
		t.Errorf("ExtractBouncedAddress = %q, want lowercased bob@customer.com", addr)
	}
}

func TestExtractBouncedAddressPrefersDeliveryStatus(t *testing.T) {
	d := NewDetector("frflashy.com")

	// The human-readable part names a different address than the
	// machine-readable one and sits earlier in the MIME tree; the
	// delivery-status part must still win.
	raw := "From: MAILER-DAEMON@amazonses.com\r\n" +
		"Subject: Delivery Status Notification (Failure)\r\n" +
		"MIME-Version: 1.0\r\n" +
		"Content-Type: multipart/report; report-type=delivery-status; boundary=\"b1\"\r\n" +
		"\r\n" +
		"--b1\r\n" +
		"Content-Type: text/plain; charset=utf-8\r\n" +
		"\r\n" +
		"We could not deliver the mail to the following recipients:\r\n" +
		"wrong@customer.com\r\n" +
		"--b1\r\n" +
		"Content-Type: message/delivery-status\r\n" +
		"\r\n" +
		"Reporting-MTA: dns; amazonses.com\r\n" +
		"\r\n" +
		"Final-Recipient: rfc822; right@customer.com\r\n" +
		"Action: failed\r\n" +
		"--b1--\r\n"

	addr := d.ExtractBouncedAddress("", []byte(raw))
	if addr != "right@customer.com" {
		t.Errorf("ExtractBouncedAddress = %q, want the delivery-status recipient", addr)
	}
}

func TestExtractBouncedAddressFromFailedRecipientsHeader(t *testing.T) {
	d := NewDetector("frflashy.com")

	raw := "From: MAILER-DAEMON@example.org\r\n" +
		"X-Failed-Recipients: alice@customer.com\r\n" +
		"Subject: Mail delivery failed\r\n" +
		"\r\n" +
		"delivery failed\r\n"

	addr := d.ExtractBouncedAddress("delivery failed", []byte(raw))
	if addr != "alice@customer.com" {
		t.Errorf("ExtractBouncedAddress = %q, want alice@customer.com", addr)
	}
}

func TestExtractBouncedAddressBodyFallback(t *testing.T) {
	d := NewDetector("frflashy.com")

	tests := []struct {
		name string
		body string
		want string
	}{
		{
			"failed phrasing",
			"The following address failed: carol@customer.com",
			"carol@customer.com",
		},
		{
			"final recipient in plain text",
			"Final-Recipient: rfc822; dave@customer.com",
			"dave@customer.com",
		},
		{
			"any foreign address",
			"We could not reach the mailbox of erin@customer.com at this time.",
			"erin@customer.com",
		},
		{
			"own domain excluded",
			"Delivery failed from admin@frflashy.com to nobody anywhere",
			"",
		},
		{
			"system addresses excluded",
			"Report from mailer-daemon@amazonses.com and postmaster@amazonses.com",
			"",
		},
		{"empty body", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := d.ExtractBouncedAddress(tt.body, nil); got != tt.want {
				t.Errorf("ExtractBouncedAddress(%q) = %q, want %q", tt.body, got, tt.want)
			}
		})
	}
}

const complaintARF = "From: complaints@email-abuse.amazonses.com\r\n" +
	"To: admin@frflashy.com\r\n" +
	"Subject: Complaint about message\r\n" +
	"MIME-Version: 1.0\r\n" +
	"Content-Type: multipart/report; report-type=feedback-report; boundary=\"b1\"\r\n" +
	"\r\n" +
	"--b1\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"This is an abuse report.\r\n" +
	"--b1\r\n" +
	"Content-Type: message/feedback-report\r\n" +
	"\r\n" +
	"Feedback-Type: abuse\r\n" +
	"Original-Rcpt-To: Mallory@Customer.com\r\n" +
	"--b1--\r\n"

func TestExtractComplaintAddressFromFeedbackReport(t *testing.T) {
	d := NewDetector("frflashy.com")

	addr := d.ExtractComplaintAddress("", []byte(complaintARF))
	if addr != "mallory@customer.com" {
		t.Errorf("ExtractComplaintAddress = %q, want mallory@customer.com", addr)
	}
}

func TestExtractComplaintAddressPrefersFeedbackReport(t *testing.T) {
	d := NewDetector("frflashy.com")

	raw := "From: complaints@email-abuse.amazonses.com\r\n" +
		"Subject: Complaint\r\n" +
		"MIME-Version: 1.0\r\n" +
		"Content-Type: multipart/report; report-type=feedback-report; boundary=\"b1\"\r\n" +
		"\r\n" +
		"--b1\r\n" +
		"Content-Type: text/plain; charset=utf-8\r\n" +
		"\r\n" +
		"Complaint about mail To: wrong@customer.com\r\n" +
		"--b1\r\n" +
		"Content-Type: message/feedback-report\r\n" +
		"\r\n" +
		"Feedback-Type: abuse\r\n" +
		"Original-Rcpt-To: right@customer.com\r\n" +
		"--b1--\r\n"

	addr := d.ExtractComplaintAddress("", []byte(raw))
	if addr != "right@customer.com" {
		t.Errorf("ExtractComplaintAddress = %q, want the feedback-report recipient", addr)
	}
}

func TestExtractComplaintAddressFromEmbeddedMessage(t *testing.T) {
	d := NewDetector("frflashy.com")

	raw := "From: complaints@email-abuse.amazonses.com\r\n" +
		"Subject: Complaint\r\n" +
		"MIME-Version: 1.0\r\n" +
		"Content-Type: multipart/mixed; boundary=\"b1\"\r\n" +
		"\r\n" +
		"--b1\r\n" +
		"Content-Type: message/rfc822\r\n" +
		"\r\n" +
		"From: admin@frflashy.com\r\n" +
		"To: trudy@customer.com\r\n" +
		"Subject: Original newsletter\r\n" +
		"\r\n" +
		"original content\r\n" +
		"--b1--\r\n"

	addr := d.ExtractComplaintAddress("", []byte(raw))
	if addr != "trudy@customer.com" {
		t.Errorf("ExtractComplaintAddress = %q, want trudy@customer.com", addr)
	}
}

func TestExtractComplaintAddressBodyFallback(t *testing.T) {
	d := NewDetector("frflashy.com")

	addr := d.ExtractComplaintAddress("Complaint regarding mail To: victim@customer.com", nil)
	if addr != "victim@customer.com" {
		t.Errorf("ExtractComplaintAddress = %q, want victim@customer.com", addr)
	}
}
