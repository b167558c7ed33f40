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

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cpsource/ses-daemon-bot/internal/models"
)

// Sentinel intent labels persisted for short-circuited notifications.
const (
	LabelBounce    = "bounce_notification"
	LabelComplaint = "complaint_notification"
)

// Blacklist reasons recorded per notification kind.
const (
	bounceReason    = "SES bounce notification"
	complaintReason = "SES complaint notification - user marked email as spam"
	entrySource     = "ses-daemon-bot"
)

// UserChecker answers whether an address belongs to a live account.
type UserChecker interface {
	Exists(ctx context.Context, address string) (bool, error)
}

// Notifier sends the advisory operator email when a live user bounces.
type Notifier interface {
	SendEmail(ctx context.Context, to, from, subject, body string) (string, error)
}

// Outcome describes what bounce/complaint handling did; it is persisted
// verbatim as the record's handler result.
type Outcome struct {
	Kind           string `json:"kind"` // "bounce" or "complaint"
	ExtractedEmail string `json:"extracted_email,omitempty"`
	Blacklisted    bool   `json:"blacklisted"`
	Inserted       bool   `json:"inserted,omitempty"`
	AccessCount    int    `json:"access_cnt,omitempty"`
	UserInDatabase bool   `json:"user_in_database,omitempty"`
	AdminNotified  bool   `json:"admin_notified,omitempty"`
	DryRun         bool   `json:"dry_run,omitempty"`
	Error          string `json:"error,omitempty"`
}

// Handler drives blacklist maintenance for detected notifications.
type Handler struct {
	Detector *Detector
	Store    *Store
	Users    UserChecker
	Notifier Notifier

	AdminAddress string
	FromAddress  string
	DryRun       bool
}

// HandleBounce extracts the bounced address, blacklists it, and warns the
// operator when the address belongs to a live account. The advisory email is
// best-effort; its failure never fails the bounce handling.
func (h *Handler) HandleBounce(ctx context.Context, msg *models.NormalizedMessage) *Outcome {
	slog.Info("detected bounce notification", "subject", msg.Subject, "sender", msg.Sender)

	out := &Outcome{Kind: "bounce", DryRun: h.DryRun}

	addr := h.Detector.ExtractBouncedAddress(msg.EffectiveBody(), msg.Raw)
	if addr == "" {
		slog.Warn("could not extract bounced address", "message_id", msg.MessageID)
		out.Error = "could not extract email address"
		return out
	}
	out.ExtractedEmail = addr
	slog.Info("extracted bounced address", "address", addr)

	if h.Users != nil {
		exists, err := h.Users.Exists(ctx, addr)
		if err != nil {
			slog.Error("user directory check failed", "address", addr, "error", err)
		}
		out.UserInDatabase = exists

		if exists {
			slog.Warn("bounced address belongs to a live user", "address", addr)
			if h.DryRun {
				slog.Info("[dry-run] would notify admin about bounced user", "address", addr)
			} else if h.Notifier != nil {
				out.AdminNotified = h.notifyBouncedUser(ctx, addr, msg.Subject)
			}
		}
	}

	if h.DryRun {
		slog.Info("[dry-run] would blacklist", "address", addr)
		return out
	}

	res, err := h.Store.Add(ctx, addr, bounceReason, entrySource)
	if err != nil {
		slog.Error("failed to blacklist bounced address", "address", addr, "error", err)
		out.Error = "failed to add to blacklist"
		return out
	}

	out.Blacklisted = true
	out.Inserted = res.Inserted
	out.AccessCount = res.AccessCount
	logUpsert("bounce", addr, res)
	return out
}

// HandleComplaint extracts the complainant address and blacklists it.
func (h *Handler) HandleComplaint(ctx context.Context, msg *models.NormalizedMessage) *Outcome {
	slog.Info("detected complaint notification", "subject", msg.Subject, "sender", msg.Sender)

	out := &Outcome{Kind: "complaint", DryRun: h.DryRun}

	addr := h.Detector.ExtractComplaintAddress(msg.EffectiveBody(), msg.Raw)
	if addr == "" {
		slog.Warn("could not extract complainant address", "message_id", msg.MessageID)
		out.Error = "could not extract email address"
		return out
	}
	out.ExtractedEmail = addr
	slog.Info("extracted complainant address", "address", addr)

	if h.DryRun {
		slog.Info("[dry-run] would blacklist complainant", "address", addr)
		return out
	}

	res, err := h.Store.Add(ctx, addr, complaintReason, entrySource)
	if err != nil {
		slog.Error("failed to blacklist complainant", "address", addr, "error", err)
		out.Error = "failed to add to blacklist"
		return out
	}

	out.Blacklisted = true
	out.Inserted = res.Inserted
	out.AccessCount = res.AccessCount
	logUpsert("complaint", addr, res)
	return out
}

func (h *Handler) notifyBouncedUser(ctx context.Context, addr, originalSubject string) bool {
	if originalSubject == "" {
		originalSubject = "(no subject)"
	}
	subject := fmt.Sprintf("Bounce alert: User in database - %s", addr)
	body := fmt.Sprintf(`A delivery failure notification was received for an email address that exists in the users table.

Bounced email: %s
Original bounce subject: %s

This user may need to be contacted through alternative means or removed from the database.

Note: The user has NOT been automatically removed. Manual review is required.
`, addr, originalSubject)

	if _, err := h.Notifier.SendEmail(ctx, h.AdminAddress, h.FromAddress, subject, body); err != nil {
		slog.Warn("failed to notify admin about bounced user", "address", addr, "error", err)
		return false
	}
	slog.Info("sent admin notification for bounced user", "address", addr)
	return true
}

func logUpsert(kind, addr string, res *UpsertResult) {
	if res.Inserted {
		slog.Info("added to blacklist", "kind", kind, "address", addr)
	} else {
		slog.Info("updated blacklist entry", "kind", kind, "address", addr, "access_cnt", res.AccessCount)
	}
}
