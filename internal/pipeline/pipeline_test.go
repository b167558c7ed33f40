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

package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/cpsource/ses-daemon-bot/internal/blacklist"
	"github.com/cpsource/ses-daemon-bot/internal/handlers"
	"github.com/cpsource/ses-daemon-bot/internal/intent"
	"github.com/cpsource/ses-daemon-bot/internal/models"
	"github.com/cpsource/ses-daemon-bot/internal/store"
)

// fakeSource is an in-memory bucket.
type fakeSource struct {
	objects   map[string][]byte
	fetchErr  map[string]error
	processed []string
	failed    []string
}

func (f *fakeSource) ListPending(ctx context.Context) ([]string, error) {
	var keys []string
	// Deterministic order for assertions.
	for _, k := range []string{"emails/a", "emails/b", "emails/c"} {
		if _, ok := f.objects[k]; ok {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func (f *fakeSource) Fetch(ctx context.Context, key string) ([]byte, error) {
	if err := f.fetchErr[key]; err != nil {
		return nil, err
	}
	return f.objects[key], nil
}

func (f *fakeSource) ArchiveProcessed(ctx context.Context, key string) error {
	f.processed = append(f.processed, key)
	return nil
}

func (f *fakeSource) ArchiveFailed(ctx context.Context, key string) error {
	f.failed = append(f.failed, key)
	return nil
}

type fakeClassifier struct {
	intent intent.Intent
}

func (f *fakeClassifier) Classify(ctx context.Context, sender, subject, body string) *intent.Result {
	flags := make([]bool, intent.Count)
	flags[f.intent] = true
	return &intent.Result{Intent: f.intent, Flags: flags, RawResponse: "[]"}
}

type fakeRouter struct {
	dispatched []string
}

func (f *fakeRouter) Dispatch(ctx context.Context, msg *models.NormalizedMessage, it intent.Intent) (*handlers.Result, string) {
	f.dispatched = append(f.dispatched, msg.MessageID)
	return &handlers.Result{Action: it.Label(), Status: "sent"}, store.StatusProcessed
}

type fakeRecorder struct {
	saved    []*store.Record
	existing map[string]bool
	saveErr  error
}

func (f *fakeRecorder) Save(ctx context.Context, r *store.Record) (int64, error) {
	if f.saveErr != nil {
		return 0, f.saveErr
	}
	f.saved = append(f.saved, r)
	return int64(len(f.saved)), nil
}

func (f *fakeRecorder) Exists(ctx context.Context, messageID string) (bool, error) {
	return f.existing[messageID], nil
}

type fakeDedup struct {
	seen   map[string]bool
	marked []string
}

func (f *fakeDedup) Seen(ctx context.Context, messageID string) (bool, error) {
	return f.seen[messageID], nil
}

func (f *fakeDedup) MarkSeen(ctx context.Context, messageID string) error {
	if f.seen == nil {
		f.seen = make(map[string]bool)
	}
	f.seen[messageID] = true
	f.marked = append(f.marked, messageID)
	return nil
}

type fakeNotifications struct {
	bounces    []string
	complaints []string
}

func (f *fakeNotifications) HandleBounce(ctx context.Context, msg *models.NormalizedMessage) *blacklist.Outcome {
	f.bounces = append(f.bounces, msg.Sender)
	return &blacklist.Outcome{Kind: "bounce", Blacklisted: true}
}

func (f *fakeNotifications) HandleComplaint(ctx context.Context, msg *models.NormalizedMessage) *blacklist.Outcome {
	f.complaints = append(f.complaints, msg.Sender)
	return &blacklist.Outcome{Kind: "complaint", Blacklisted: true}
}

func rawMail(from, subject string) []byte {
	return []byte("Message-ID: <" + subject + "@test>\r\n" +
		"From: " + from + "\r\n" +
		"To: admin@frflashy.com\r\n" +
		"Subject: " + subject + "\r\n" +
		"\r\n" +
		"body of " + subject + "\r\n")
}

func testPipeline(src *fakeSource, rec *fakeRecorder) (*Pipeline, *fakeRouter, *fakeNotifications) {
	router := &fakeRouter{}
	notif := &fakeNotifications{}
	p := &Pipeline{
		Source:        src,
		Detector:      blacklist.NewDetector("frflashy.com"),
		Notifications: notif,
		Classifier:    &fakeClassifier{intent: intent.SendInfo},
		Router:        router,
		Store:         rec,
	}
	return p, router, notif
}

func TestRunBatchProcessesAll(t *testing.T) {
	src := &fakeSource{objects: map[string][]byte{
		"emails/a": rawMail("bob@customer.com", "a"),
		"emails/b": rawMail("carol@customer.com", "b"),
		"emails/c": rawMail("dave@customer.com", "c"),
	}}
	rec := &fakeRecorder{}
	p, router, _ := testPipeline(src, rec)

	stats := p.RunBatch(context.Background())

	if stats.Processed != 3 || stats.Failed != 0 || stats.Skipped != 0 {
		t.Errorf("stats = %+v, want 3 processed", stats)
	}
	if len(router.dispatched) != 3 {
		t.Errorf("dispatched %d, want 3", len(router.dispatched))
	}
	if len(rec.saved) != 3 {
		t.Errorf("saved %d records, want 3", len(rec.saved))
	}
	if len(src.processed) != 3 {
		t.Errorf("archived %d as processed, want 3", len(src.processed))
	}
}

func TestRunBatchIsolatesItemFailure(t *testing.T) {
	src := &fakeSource{
		objects: map[string][]byte{
			"emails/a": rawMail("bob@customer.com", "a"),
			"emails/b": rawMail("carol@customer.com", "b"),
			"emails/c": rawMail("dave@customer.com", "c"),
		},
		fetchErr: map[string]error{"emails/b": errors.New("object gone")},
	}
	rec := &fakeRecorder{}
	p, _, _ := testPipeline(src, rec)

	stats := p.RunBatch(context.Background())

	if stats.Processed != 2 {
		t.Errorf("Processed = %d, want 2", stats.Processed)
	}
	if stats.Failed != 1 {
		t.Errorf("Failed = %d, want 1", stats.Failed)
	}
	if len(src.failed) != 1 || src.failed[0] != "emails/b" {
		t.Errorf("failed archive = %v, want only emails/b", src.failed)
	}
	if len(rec.saved) != 2 {
		t.Errorf("saved %d, the failed item must not be persisted", len(rec.saved))
	}
}

func TestRunBatchSkipsDuplicates(t *testing.T) {
	src := &fakeSource{objects: map[string][]byte{
		"emails/a": rawMail("bob@customer.com", "a"),
	}}
	rec := &fakeRecorder{existing: map[string]bool{"<a@test>": true}}
	p, router, _ := testPipeline(src, rec)

	stats := p.RunBatch(context.Background())

	if stats.Skipped != 1 || stats.Processed != 0 {
		t.Errorf("stats = %+v, want 1 skipped", stats)
	}
	if len(router.dispatched) != 0 {
		t.Error("duplicates must not reach the handlers")
	}
	if len(src.processed) != 1 {
		t.Errorf("duplicate must still be archived, got %v", src.processed)
	}
}

func TestRunBatchShortCircuitsBounce(t *testing.T) {
	src := &fakeSource{objects: map[string][]byte{
		"emails/a": rawMail("MAILER-DAEMON@amazonses.com", "Delivery Status Notification"),
	}}
	rec := &fakeRecorder{}
	p, router, notif := testPipeline(src, rec)

	stats := p.RunBatch(context.Background())

	if stats.Processed != 1 {
		t.Fatalf("stats = %+v, want 1 processed", stats)
	}
	if len(notif.bounces) != 1 {
		t.Errorf("bounces = %v, want the bounce handled", notif.bounces)
	}
	if len(router.dispatched) != 0 {
		t.Error("bounce mail must never be classified or dispatched")
	}

	r := rec.saved[0]
	if r.IntentLabel != blacklist.LabelBounce {
		t.Errorf("IntentLabel = %q, want %q", r.IntentLabel, blacklist.LabelBounce)
	}
	if r.Status != store.StatusProcessed {
		t.Errorf("Status = %q, want processed", r.Status)
	}
	for i, f := range r.IntentFlags {
		if f {
			t.Errorf("IntentFlags[%d] = true, want all-false sentinel", i)
		}
	}
}

func TestRunBatchShortCircuitsComplaint(t *testing.T) {
	src := &fakeSource{objects: map[string][]byte{
		"emails/a": rawMail("complaints@email-abuse.amazonses.com", "Complaint"),
	}}
	rec := &fakeRecorder{}
	p, router, notif := testPipeline(src, rec)

	p.RunBatch(context.Background())

	if len(notif.complaints) != 1 {
		t.Errorf("complaints = %v, want the complaint handled", notif.complaints)
	}
	if len(router.dispatched) != 0 {
		t.Error("complaint mail must never be dispatched")
	}
	if rec.saved[0].IntentLabel != blacklist.LabelComplaint {
		t.Errorf("IntentLabel = %q, want %q", rec.saved[0].IntentLabel, blacklist.LabelComplaint)
	}
}

func TestRunBatchPersistFailureArchivesFailed(t *testing.T) {
	src := &fakeSource{objects: map[string][]byte{
		"emails/a": rawMail("bob@customer.com", "a"),
	}}
	rec := &fakeRecorder{saveErr: errors.New("db down")}
	p, _, _ := testPipeline(src, rec)

	stats := p.RunBatch(context.Background())

	if stats.Failed != 1 {
		t.Errorf("Failed = %d, want 1", stats.Failed)
	}
	if len(src.failed) != 1 {
		t.Errorf("failed archive = %v, want the item moved to failed/", src.failed)
	}
}

func TestRunBatchDryRunTouchesNothing(t *testing.T) {
	src := &fakeSource{objects: map[string][]byte{
		"emails/a": rawMail("bob@customer.com", "a"),
	}}
	rec := &fakeRecorder{}
	p, router, _ := testPipeline(src, rec)
	p.DryRun = true

	stats := p.RunBatch(context.Background())

	if stats.Processed != 1 {
		t.Errorf("stats = %+v, want the item still counted", stats)
	}
	if len(router.dispatched) != 1 {
		t.Error("dry-run still classifies and dispatches (handlers gate their own sends)")
	}
	if len(rec.saved) != 0 {
		t.Error("dry-run must not persist records")
	}
	if len(src.processed) != 0 && len(src.failed) != 0 {
		t.Error("dry-run must not move objects")
	}
}

func TestRunBatchDryRunLeavesDedupUntouched(t *testing.T) {
	src := &fakeSource{objects: map[string][]byte{
		"emails/a": rawMail("bob@customer.com", "a"),
	}}
	rec := &fakeRecorder{}
	cache := &fakeDedup{}
	p, router, _ := testPipeline(src, rec)
	p.Dedup = cache
	p.DryRun = true

	p.RunBatch(context.Background())

	if len(cache.marked) != 0 {
		t.Fatalf("dry-run marked %v in the dedup cache, want no mutations", cache.marked)
	}

	// The same message must still be fully processed on the next real run.
	p.DryRun = false
	stats := p.RunBatch(context.Background())

	if stats.Processed != 1 || stats.Skipped != 0 {
		t.Errorf("stats = %+v, want the message processed after a dry-run inspection", stats)
	}
	if len(router.dispatched) != 2 {
		t.Errorf("dispatched %d times, want dry-run + real run", len(router.dispatched))
	}
	if len(rec.saved) != 1 {
		t.Errorf("saved %d records, want 1 from the real run", len(rec.saved))
	}
	if len(cache.marked) != 1 || cache.marked[0] != "<a@test>" {
		t.Errorf("marked = %v, want the persisted message ID", cache.marked)
	}
}

func TestRunBatchConfirmsDedupHitAgainstStore(t *testing.T) {
	src := &fakeSource{objects: map[string][]byte{
		"emails/a": rawMail("bob@customer.com", "a"),
	}}
	// The cache claims the message was seen but the store has no record of it.
	rec := &fakeRecorder{}
	p, router, _ := testPipeline(src, rec)
	p.Dedup = &fakeDedup{seen: map[string]bool{"<a@test>": true}}

	stats := p.RunBatch(context.Background())

	if stats.Skipped != 0 || stats.Processed != 1 {
		t.Errorf("stats = %+v, a cache hit without a persisted record must not skip", stats)
	}
	if len(router.dispatched) != 1 {
		t.Error("the message must be dispatched despite the stale cache entry")
	}
	if len(rec.saved) != 1 {
		t.Error("the message must be persisted despite the stale cache entry")
	}
}

func TestRunBatchMarksDedupOnlyAfterPersist(t *testing.T) {
	src := &fakeSource{objects: map[string][]byte{
		"emails/a": rawMail("bob@customer.com", "a"),
	}}
	rec := &fakeRecorder{saveErr: errors.New("db down")}
	cache := &fakeDedup{}
	p, _, _ := testPipeline(src, rec)
	p.Dedup = cache

	p.RunBatch(context.Background())

	if len(cache.marked) != 0 {
		t.Errorf("marked = %v, a failed persist must not mark the message seen", cache.marked)
	}
}

type panickingRouter struct{}

func (panickingRouter) Dispatch(ctx context.Context, msg *models.NormalizedMessage, it intent.Intent) (*handlers.Result, string) {
	panic("handler bug")
}

func TestRunBatchRecoversFromPanic(t *testing.T) {
	src := &fakeSource{objects: map[string][]byte{
		"emails/a": rawMail("bob@customer.com", "a"),
		"emails/b": rawMail("carol@customer.com", "b"),
	}}
	rec := &fakeRecorder{}
	p, _, _ := testPipeline(src, rec)
	p.Router = panickingRouter{}

	stats := p.RunBatch(context.Background())

	if stats.Failed != 2 {
		t.Errorf("Failed = %d, want both items failed without crashing", stats.Failed)
	}
	if len(src.failed) != 2 {
		t.Errorf("failed archive = %v, want both items", src.failed)
	}
}
