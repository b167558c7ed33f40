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

package handlers

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cpsource/ses-daemon-bot/internal/models"
)

// handleSendInfo replies with the canned information text. The reply threads
// onto the original subject; the template's own subject is unused here.
func (r *Router) handleSendInfo(ctx context.Context, msg *models.NormalizedMessage) *Result {
	tmpl, err := r.Templates.LoadWithContent("send_info")
	if err != nil {
		slog.Error("failed to load send_info template", "error", err)
		return errorResult("send_info", "failed to load template")
	}

	subject := replySubject(msg)

	if r.DryRun {
		slog.Info("[dry-run] would reply with info", "to", msg.Sender, "subject", subject)
		return &Result{Action: "send_info", Status: "dry_run", To: msg.Sender, DryRun: true}
	}

	messageID, err := r.Sender.SendReply(ctx, msg.Sender, tmpl.From, subject, tmpl.Body, msg.MessageID)
	if err != nil {
		slog.Error("failed to send info reply", "to", msg.Sender, "error", err)
		return errorResult("send_info", err.Error())
	}

	return &Result{
		Action:    "send_info",
		Status:    "sent",
		To:        msg.Sender,
		Subject:   "Re: " + subject,
		MessageID: messageID,
	}
}

// handleSpeakToHuman acknowledges the request and promises a phone follow-up.
func (r *Router) handleSpeakToHuman(ctx context.Context, msg *models.NormalizedMessage) *Result {
	tmpl, err := r.Templates.Load("speak_to_human")
	if err != nil {
		slog.Error("failed to load speak_to_human template", "error", err)
		return errorResult("speak_to_human", "failed to load template")
	}

	subject := replySubject(msg)

	if r.DryRun {
		slog.Info("[dry-run] would send phone follow-up ack", "to", msg.Sender)
		return &Result{Action: "speak_to_human", Status: "dry_run", To: msg.Sender, DryRun: true}
	}

	messageID, err := r.Sender.SendReply(ctx, msg.Sender, tmpl.From, subject, tmpl.Body, msg.MessageID)
	if err != nil {
		slog.Error("failed to send phone follow-up ack", "to", msg.Sender, "error", err)
		return errorResult("speak_to_human", err.Error())
	}

	slog.Info("escalated for phone follow-up", "sender", msg.Sender, "subject", msg.Subject)
	return &Result{
		Action:    "speak_to_human",
		Status:    "sent",
		To:        msg.Sender,
		Subject:   "Re: " + subject,
		MessageID: messageID,
	}
}

// handleEmailToHuman acknowledges the sender and forwards the original
// message to the operator. The forward is best-effort; a failure there does
// not override a successful acknowledgement.
func (r *Router) handleEmailToHuman(ctx context.Context, msg *models.NormalizedMessage) *Result {
	tmpl, err := r.Templates.Load("email_to_human")
	if err != nil {
		slog.Error("failed to load email_to_human template", "error", err)
		return errorResult("email_to_human", "failed to load template")
	}

	subject := replySubject(msg)

	if r.DryRun {
		slog.Info("[dry-run] would ack and forward to operator", "to", msg.Sender, "operator", r.AdminAddress)
		return &Result{Action: "email_to_human", Status: "dry_run", To: msg.Sender, ForwardedTo: r.AdminAddress, DryRun: true}
	}

	messageID, err := r.Sender.SendReply(ctx, msg.Sender, tmpl.From, subject, tmpl.Body, msg.MessageID)
	if err != nil {
		slog.Error("failed to send email_to_human ack", "to", msg.Sender, "error", err)
		return errorResult("email_to_human", err.Error())
	}

	forwarded := r.forwardToOperator(ctx, msg, fmt.Sprintf("Message for review from %s", msg.Sender))

	return &Result{
		Action:        "email_to_human",
		Status:        "sent",
		To:            msg.Sender,
		Subject:       "Re: " + subject,
		MessageID:     messageID,
		ForwardedTo:   r.AdminAddress,
		AdminNotified: forwarded,
	}
}

// handleUnknown forwards the message to the operator for manual review.
func (r *Router) handleUnknown(ctx context.Context, msg *models.NormalizedMessage) *Result {
	if r.DryRun {
		slog.Info("[dry-run] would forward unknown message to operator", "operator", r.AdminAddress)
		return &Result{Action: "unknown", Status: "dry_run", ForwardedTo: r.AdminAddress, DryRun: true}
	}

	subject := fmt.Sprintf("Unknown message received by %s", r.FromAddress)
	messageID, err := r.Sender.SendEmail(ctx, r.AdminAddress, r.FromAddress, subject, forwardBody(msg, r.FromAddress))
	if err != nil {
		slog.Error("failed to forward unknown message", "operator", r.AdminAddress, "error", err)
		return errorResult("unknown", err.Error())
	}

	slog.Info("forwarded unknown message to operator", "operator", r.AdminAddress)
	return &Result{
		Action:      "unknown",
		Status:      "forwarded",
		ForwardedTo: r.AdminAddress,
		MessageID:   messageID,
	}
}

func (r *Router) forwardToOperator(ctx context.Context, msg *models.NormalizedMessage, subject string) bool {
	_, err := r.Sender.SendEmail(ctx, r.AdminAddress, r.FromAddress, subject, forwardBody(msg, r.FromAddress))
	if err != nil {
		slog.Warn("failed to forward message to operator", "operator", r.AdminAddress, "error", err)
		return false
	}
	return true
}

func forwardBody(msg *models.NormalizedMessage, inbox string) string {
	return fmt.Sprintf(`A message has been received by %s.

From: %s
Subject: %s
Received: %s

--- Original Message ---

%s
`, inbox, msg.Sender, msg.Subject, msg.ReceivedAt.Format("2006-01-02 15:04:05 MST"), msg.EffectiveBody())
}
