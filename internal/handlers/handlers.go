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

// Package handlers dispatches one action per classified intent: canned
// replies, account creation and deletion, and operator forwarding.
//
// A handler never fails the enclosing item. Template and send failures are
// embedded in the returned Result; the record status stays determined by the
// intent, not by delivery success.
package handlers

import (
	"context"
	"log/slog"

	"github.com/cpsource/ses-daemon-bot/internal/intent"
	"github.com/cpsource/ses-daemon-bot/internal/models"
	"github.com/cpsource/ses-daemon-bot/internal/store"
	"github.com/cpsource/ses-daemon-bot/internal/templates"
)

// MailSender delivers outbound mail. Satisfied by *sender.Sender.
type MailSender interface {
	SendEmail(ctx context.Context, to, from, subject, body string) (string, error)
	SendReply(ctx context.Context, to, from, subject, body, inReplyTo string) (string, error)
}

// Directory is the slice of the users table the account handlers need.
// Satisfied by *store.UserDirectory.
type Directory interface {
	Exists(ctx context.Context, address string) (bool, error)
	Create(ctx context.Context, email, passwordHash, authCode string) error
	Delete(ctx context.Context, address string) (bool, error)
}

// Result is the structured outcome of one handler run, persisted verbatim as
// the record's handler result.
type Result struct {
	Action        string `json:"action"`
	Status        string `json:"status"`
	To            string `json:"to,omitempty"`
	Subject       string `json:"subject,omitempty"`
	MessageID     string `json:"message_id,omitempty"`
	ForwardedTo   string `json:"forwarded_to,omitempty"`
	Username      string `json:"username,omitempty"`
	AccountExists bool   `json:"account_exists,omitempty"`
	UserDeleted   bool   `json:"user_deleted,omitempty"`
	AdminNotified bool   `json:"admin_notified,omitempty"`
	DryRun        bool   `json:"dry_run,omitempty"`
	Error         string `json:"error,omitempty"`
}

// Router maps intents to their handlers.
type Router struct {
	Sender    MailSender
	Templates *templates.Loader
	Users     Directory

	AdminAddress string
	FromAddress  string
	DryRun       bool
}

// Dispatch runs the handler for the classified intent and returns its result
// together with the record status the intent maps to.
func (r *Router) Dispatch(ctx context.Context, msg *models.NormalizedMessage, it intent.Intent) (*Result, string) {
	switch it {
	case intent.SendInfo:
		return r.handleSendInfo(ctx, msg), store.StatusProcessed
	case intent.CreateAccount:
		return r.handleCreateAccount(ctx, msg), store.StatusProcessed
	case intent.Unknown:
		return r.handleUnknown(ctx, msg), store.StatusPendingReview
	case intent.SpeakToHuman:
		return r.handleSpeakToHuman(ctx, msg), store.StatusEscalated
	case intent.EmailToHuman:
		return r.handleEmailToHuman(ctx, msg), store.StatusProcessed
	case intent.SpamOrAutoReply:
		// Replying to autoresponders and bulk mail only breeds mail loops.
		slog.Info("ignoring spam or auto-reply", "sender", msg.Sender, "subject", msg.Subject)
		return &Result{Action: it.Label(), Status: "ignored"}, store.StatusProcessed
	case intent.Unsubscribe:
		return r.handleUnsubscribe(ctx, msg), store.StatusProcessed
	default:
		slog.Warn("no handler for intent", "intent", it.Label(), "sender", msg.Sender)
		return &Result{Action: it.Label(), Status: "no_handler"}, store.StatusProcessed
	}
}

// replySubject picks the subject for threaded replies.
func replySubject(msg *models.NormalizedMessage) string {
	if msg.Subject != "" {
		return msg.Subject
	}
	return "Your inquiry"
}

func errorResult(action, errMsg string) *Result {
	return &Result{Action: action, Status: "error", Error: errMsg}
}
