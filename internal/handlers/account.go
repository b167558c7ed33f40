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

// handleCreateAccount creates a user account for the sender and mails the
// credentials back, or replies with a pointer to password recovery when the
// account already exists.
func (r *Router) handleCreateAccount(ctx context.Context, msg *models.NormalizedMessage) *Result {
	userEmail := msg.Sender
	subject := replySubject(msg)

	exists, err := r.Users.Exists(ctx, userEmail)
	if err != nil {
		slog.Error("user existence check failed", "address", userEmail, "error", err)
		// Treat as absent; the unique constraint catches a real duplicate.
		exists = false
	}

	if exists {
		slog.Info("account already exists", "address", userEmail)

		tmpl, err := r.Templates.Load("create_account_exists")
		if err != nil {
			slog.Error("failed to load create_account_exists template", "error", err)
			return errorResult("create_account", "failed to load template")
		}
		body := tmpl.Render(map[string]string{"USER_EMAIL": userEmail})

		if r.DryRun {
			slog.Info("[dry-run] would reply account-exists", "to", userEmail)
			return &Result{Action: "create_account", Status: "dry_run", AccountExists: true, To: userEmail, DryRun: true}
		}

		messageID, err := r.Sender.SendReply(ctx, userEmail, tmpl.From, subject, body, msg.MessageID)
		if err != nil {
			slog.Error("failed to send account-exists reply", "to", userEmail, "error", err)
			return errorResult("create_account", err.Error())
		}
		return &Result{
			Action:        "create_account",
			Status:        "account_exists",
			AccountExists: true,
			To:            userEmail,
			MessageID:     messageID,
		}
	}

	// The generated password doubles as the recovery authorization code.
	password, err := generatePassword()
	if err != nil {
		slog.Error("failed to generate password", "error", err)
		return errorResult("create_account", "failed to generate credentials")
	}

	if r.DryRun {
		slog.Info("[dry-run] would create account", "address", userEmail)
		return &Result{Action: "create_account", Status: "dry_run", To: userEmail, Username: userEmail, DryRun: true}
	}

	if err := r.Users.Create(ctx, userEmail, hashPassword(password), password); err != nil {
		slog.Error("failed to create user", "address", userEmail, "error", err)
		return errorResult("create_account", "failed to create user in database")
	}
	slog.Info("created account", "address", userEmail)

	tmpl, err := r.Templates.Load("create_account_success")
	if err != nil {
		slog.Error("failed to load create_account_success template", "error", err)
		return &Result{
			Action:   "create_account",
			Status:   "created_but_email_failed",
			To:       userEmail,
			Username: userEmail,
			Error:    "failed to load template",
		}
	}
	body := tmpl.Render(map[string]string{
		"USER_EMAIL": userEmail,
		"PASSWORD":   password,
		"AUTH_CODE":  password,
	})

	messageID, err := r.Sender.SendReply(ctx, userEmail, tmpl.From, subject, body, msg.MessageID)
	if err != nil {
		slog.Error("account created but credential email failed", "to", userEmail, "error", err)
		return &Result{
			Action:   "create_account",
			Status:   "created_but_email_failed",
			To:       userEmail,
			Username: userEmail,
			Error:    err.Error(),
		}
	}

	return &Result{
		Action:    "create_account",
		Status:    "created",
		To:        userEmail,
		Username:  userEmail,
		MessageID: messageID,
	}
}

// handleUnsubscribe deletes the sender's account, confirms by reply, and
// notifies the operator. The operator notification is best-effort.
func (r *Router) handleUnsubscribe(ctx context.Context, msg *models.NormalizedMessage) *Result {
	userEmail := msg.Sender
	subject := replySubject(msg)

	tmpl, err := r.Templates.Load("unsubscribe")
	if err != nil {
		slog.Error("failed to load unsubscribe template", "error", err)
		return errorResult("unsubscribe", "failed to load template")
	}

	if r.DryRun {
		slog.Info("[dry-run] would delete user and confirm unsubscribe", "address", userEmail)
		return &Result{Action: "unsubscribe", Status: "dry_run", To: userEmail, DryRun: true}
	}

	deleted, err := r.Users.Delete(ctx, userEmail)
	if err != nil {
		slog.Error("failed to delete user", "address", userEmail, "error", err)
	} else if deleted {
		slog.Info("deleted user", "address", userEmail)
	} else {
		slog.Info("unsubscribe from address with no account", "address", userEmail)
	}

	messageID, replyErr := r.Sender.SendReply(ctx, userEmail, tmpl.From, subject, tmpl.Body, msg.MessageID)

	notified := r.notifyUnsubscribe(ctx, msg, deleted)

	if replyErr != nil {
		slog.Error("failed to send unsubscribe confirmation", "to", userEmail, "error", replyErr)
		return &Result{
			Action:      "unsubscribe",
			Status:      "error",
			Error:       replyErr.Error(),
			UserDeleted: deleted,
		}
	}

	return &Result{
		Action:        "unsubscribe",
		Status:        "sent",
		To:            userEmail,
		Subject:       "Re: " + subject,
		MessageID:     messageID,
		UserDeleted:   deleted,
		AdminNotified: notified,
	}
}

func (r *Router) notifyUnsubscribe(ctx context.Context, msg *models.NormalizedMessage, deleted bool) bool {
	deletedText := "No (not found)"
	if deleted {
		deletedText = "Yes"
	}
	origSubject := msg.Subject
	if origSubject == "" {
		origSubject = "(none)"
	}
	body := msg.EffectiveBody()
	if body == "" {
		body = "(no body)"
	}

	notifyBody := fmt.Sprintf(`An unsubscribe request was processed.

User: %s
Original Subject: %s
User deleted from database: %s

Original message:
---
%s
`, msg.Sender, origSubject, deletedText, body)

	_, err := r.Sender.SendEmail(ctx, r.AdminAddress, r.FromAddress,
		fmt.Sprintf("User unsubscribed: %s", msg.Sender), notifyBody)
	if err != nil {
		slog.Warn("failed to notify operator about unsubscribe", "error", err)
		return false
	}
	return true
}
