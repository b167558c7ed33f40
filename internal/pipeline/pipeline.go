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

// Package pipeline orchestrates one message's journey: fetch, parse, dedup,
// bounce/complaint short-circuit, classify, dispatch, persist, archive.
// Items are processed sequentially; one bad message never takes down the
// batch.
package pipeline

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/cpsource/ses-daemon-bot/internal/blacklist"
	"github.com/cpsource/ses-daemon-bot/internal/handlers"
	"github.com/cpsource/ses-daemon-bot/internal/intent"
	"github.com/cpsource/ses-daemon-bot/internal/message"
	"github.com/cpsource/ses-daemon-bot/internal/models"
	"github.com/cpsource/ses-daemon-bot/internal/store"
)

// Source lists, fetches and archives inbound messages. Satisfied by
// *mailbox.Mailbox.
type Source interface {
	ListPending(ctx context.Context) ([]string, error)
	Fetch(ctx context.Context, key string) ([]byte, error)
	ArchiveProcessed(ctx context.Context, key string) error
	ArchiveFailed(ctx context.Context, key string) error
}

// Classifier labels a message's intent. Satisfied by *intent.Classifier.
type Classifier interface {
	Classify(ctx context.Context, sender, subject, body string) *intent.Result
}

// Dispatcher runs the per-intent handler. Satisfied by *handlers.Router.
type Dispatcher interface {
	Dispatch(ctx context.Context, msg *models.NormalizedMessage, it intent.Intent) (*handlers.Result, string)
}

// Recorder persists processed messages. Satisfied by *store.Store.
type Recorder interface {
	Save(ctx context.Context, r *store.Record) (int64, error)
	Exists(ctx context.Context, messageID string) (bool, error)
}

// NotificationHandler short-circuits bounce and complaint mail. Satisfied by
// *blacklist.Handler.
type NotificationHandler interface {
	HandleBounce(ctx context.Context, msg *models.NormalizedMessage) *blacklist.Outcome
	HandleComplaint(ctx context.Context, msg *models.NormalizedMessage) *blacklist.Outcome
}

// DedupFilter is the optional Redis fast path. Satisfied by *dedup.Filter.
// Seen is read-only; the pipeline calls MarkSeen only after a record has been
// persisted, so an inspection run never mutates the cache.
type DedupFilter interface {
	Seen(ctx context.Context, messageID string) (bool, error)
	MarkSeen(ctx context.Context, messageID string) error
}

// InboxMarker is the optional WorkMail side channel. Satisfied by
// *workmail.Client.
type InboxMarker interface {
	MarkReadByMessageID(messageID string) bool
}

// Pipeline wires the processing stages together. Dedup and Inbox may be nil.
type Pipeline struct {
	Source        Source
	Detector      *blacklist.Detector
	Notifications NotificationHandler
	Classifier    Classifier
	Router        Dispatcher
	Store         Recorder
	Dedup         DedupFilter
	Inbox         InboxMarker

	DryRun bool
}

// Stats summarises one batch.
type Stats struct {
	Pending   int
	Processed int
	Skipped   int
	Failed    int
}

// RunBatch processes every pending message once. Per-item failures are
// isolated: the item is archived under failed/ and the batch continues.
func (p *Pipeline) RunBatch(ctx context.Context) Stats {
	runID := uuid.NewString()
	log := slog.With("run_id", runID)

	var stats Stats

	keys, err := p.Source.ListPending(ctx)
	if err != nil {
		log.Error("failed to list pending messages", "error", err)
		return stats
	}
	stats.Pending = len(keys)
	if len(keys) == 0 {
		log.Debug("no pending messages")
		return stats
	}

	log.Info("processing batch", "pending", len(keys))

	for _, key := range keys {
		if ctx.Err() != nil {
			log.Info("batch interrupted", "remaining", stats.Pending-stats.Processed-stats.Skipped-stats.Failed)
			break
		}

		switch p.processOne(ctx, log, key) {
		case itemProcessed:
			stats.Processed++
		case itemSkipped:
			stats.Skipped++
		case itemFailed:
			stats.Failed++
		}
	}

	log.Info("batch complete",
		"processed", stats.Processed, "skipped", stats.Skipped, "failed", stats.Failed)
	return stats
}

type itemOutcome int

const (
	itemProcessed itemOutcome = iota
	itemSkipped
	itemFailed
)

// processOne handles a single S3 object. A panic in any stage is contained
// here and treated as an item failure.
func (p *Pipeline) processOne(ctx context.Context, log *slog.Logger, key string) (outcome itemOutcome) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("panic while processing message", "key", key, "panic", r)
			p.archiveFailed(ctx, log, key)
			outcome = itemFailed
		}
	}()

	raw, err := p.Source.Fetch(ctx, key)
	if err != nil {
		log.Error("failed to fetch message", "key", key, "error", err)
		p.archiveFailed(ctx, log, key)
		return itemFailed
	}

	msg := message.Parse(key, raw)
	log = log.With("message_id", msg.MessageID, "sender", msg.Sender)

	if dup, reason := p.isDuplicate(ctx, log, msg.MessageID); dup {
		log.Info("skipping already-processed message", "reason", reason)
		p.archiveProcessed(ctx, log, key)
		return itemSkipped
	}

	record := &store.Record{
		MessageID:  msg.MessageID,
		S3Key:      key,
		Sender:     msg.Sender,
		SenderName: msg.SenderName,
		Recipient:  msg.Recipient,
		Subject:    msg.Subject,
		Body:       msg.EffectiveBody(),
		ReceivedAt: msg.ReceivedAt,
	}

	switch {
	case p.Detector.IsBounce(msg.Sender, msg.Subject):
		outcome := p.Notifications.HandleBounce(ctx, msg)
		record.IntentLabel = blacklist.LabelBounce
		record.IntentFlags = intent.AllFalseResult()
		record.HandlerResult = marshalResult(log, outcome)
		record.Status = store.StatusProcessed

	case p.Detector.IsComplaint(msg.Sender):
		outcome := p.Notifications.HandleComplaint(ctx, msg)
		record.IntentLabel = blacklist.LabelComplaint
		record.IntentFlags = intent.AllFalseResult()
		record.HandlerResult = marshalResult(log, outcome)
		record.Status = store.StatusProcessed

	default:
		result := p.Classifier.Classify(ctx, msg.Sender, msg.Subject, msg.EffectiveBody())
		log.Info("classified message", "intent", result.Label())

		handlerResult, status := p.Router.Dispatch(ctx, msg, result.Intent)
		record.IntentLabel = result.Label()
		record.IntentFlags = result.Flags
		record.HandlerResult = marshalResult(log, handlerResult)
		record.Status = status
	}

	if p.DryRun {
		log.Info("[dry-run] would persist record", "intent", record.IntentLabel, "status", record.Status)
	} else {
		if _, err := p.Store.Save(ctx, record); err != nil {
			log.Error("failed to persist record", "error", err)
			p.archiveFailed(ctx, log, key)
			return itemFailed
		}
		p.markSeen(ctx, log, msg.MessageID)
	}

	p.markInboxRead(log, msg.MessageID)
	p.archiveProcessed(ctx, log, key)

	log.Info("processed message", "intent", record.IntentLabel, "status", record.Status)
	return itemProcessed
}

// isDuplicate decides whether the message was already processed. The Redis
// cache is only a hint: a hit still has to be confirmed by the authoritative
// Postgres check before the message is skipped, so a stale or poisoned cache
// entry can never drop mail. Check errors are logged and treated as
// not-duplicate; the Save upsert stays idempotent regardless.
func (p *Pipeline) isDuplicate(ctx context.Context, log *slog.Logger, messageID string) (bool, string) {
	reason := "already recorded"
	if p.Dedup != nil {
		seen, err := p.Dedup.Seen(ctx, messageID)
		if err != nil {
			log.Warn("dedup fast path unavailable", "error", err)
		} else if seen {
			reason = "seen in dedup cache"
		}
	}

	exists, err := p.Store.Exists(ctx, messageID)
	if err != nil {
		log.Warn("dedup store check failed", "error", err)
		return false, ""
	}
	if exists {
		return true, reason
	}
	return false, ""
}

// markSeen caches the persisted message ID. Best-effort: the Postgres row is
// already the durable dedup record.
func (p *Pipeline) markSeen(ctx context.Context, log *slog.Logger, messageID string) {
	if p.Dedup == nil {
		return
	}
	if err := p.Dedup.MarkSeen(ctx, messageID); err != nil {
		log.Warn("failed to update dedup cache", "error", err)
	}
}

func (p *Pipeline) markInboxRead(log *slog.Logger, messageID string) {
	if p.Inbox == nil {
		return
	}
	if p.DryRun {
		log.Debug("[dry-run] would mark message read in inbox")
		return
	}
	p.Inbox.MarkReadByMessageID(messageID)
}

func (p *Pipeline) archiveProcessed(ctx context.Context, log *slog.Logger, key string) {
	if p.DryRun {
		log.Info("[dry-run] would archive as processed", "key", key)
		return
	}
	if err := p.Source.ArchiveProcessed(ctx, key); err != nil {
		log.Error("failed to archive processed message", "key", key, "error", err)
	}
}

func (p *Pipeline) archiveFailed(ctx context.Context, log *slog.Logger, key string) {
	if p.DryRun {
		log.Info("[dry-run] would archive as failed", "key", key)
		return
	}
	if err := p.Source.ArchiveFailed(ctx, key); err != nil {
		log.Error("failed to archive failed message", "key", key, "error", err)
	}
}

func marshalResult(log *slog.Logger, v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		log.Error("failed to marshal handler result", "error", err)
		return nil
	}
	return data
}

// Run polls for pending mail until the context is cancelled. The first batch
// runs immediately; once stops after it.
func (p *Pipeline) Run(ctx context.Context, interval time.Duration, once bool) {
	slog.Info("starting processing loop", "interval", interval, "once", once)

	p.RunBatch(ctx)
	if once {
		slog.Info("single run complete")
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("processing loop stopped")
			return
		case <-ticker.C:
			p.RunBatch(ctx)
		}
	}
}
