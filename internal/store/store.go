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

// Package store provides the Postgres-backed record of processed emails,
// keyed by message ID with upsert-on-conflict semantics, plus the user
// directory the account handlers consult.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Record represents one processed email persisted in Postgres.
type Record struct {
	ID            int64
	MessageID     string
	S3Key         string
	Sender        string
	SenderName    string
	Recipient     string
	Subject       string
	Body          string
	ReceivedAt    time.Time
	ProcessedAt   time.Time
	IntentFlags   []bool
	IntentLabel   string
	HandlerResult json.RawMessage
	Status        string
}

// Processing statuses persisted in the status column.
const (
	StatusProcessed     = "processed"
	StatusPendingReview = "pending_review"
	StatusEscalated     = "escalated"
	StatusFailed        = "failed"
)

// Store provides CRUD operations for processed-email records.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates the store and ensures the schema exists.
func NewStore(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	s := &Store{pool: pool}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure ses_emails schema: %w", err)
	}
	slog.Info("processed-email store initialised")
	return s, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS ses_emails (
			id             BIGSERIAL PRIMARY KEY,
			message_id     TEXT NOT NULL UNIQUE,
			s3_key         TEXT NOT NULL,
			sender         TEXT NOT NULL,
			sender_name    TEXT DEFAULT '',
			recipient      TEXT DEFAULT '',
			subject        TEXT DEFAULT '',
			body           TEXT DEFAULT '',
			received_at    TIMESTAMPTZ,
			processed_at   TIMESTAMPTZ DEFAULT NOW(),
			intent_flags   JSONB NOT NULL,
			intent_label   TEXT NOT NULL,
			handler_result JSONB,
			status         TEXT DEFAULT 'processed'
		);
		CREATE INDEX IF NOT EXISTS idx_ses_emails_sender ON ses_emails(sender);
		CREATE INDEX IF NOT EXISTS idx_ses_emails_intent_label ON ses_emails(intent_label);
		CREATE INDEX IF NOT EXISTS idx_ses_emails_status ON ses_emails(status);
		CREATE INDEX IF NOT EXISTS idx_ses_emails_processed_at ON ses_emails(processed_at);
	`)
	return err
}

// Save inserts or updates a record keyed on message_id. Reprocessing the same
// message overwrites flags, label, handler result, status and processed_at;
// the original envelope columns are left untouched.
func (s *Store) Save(ctx context.Context, r *Record) (int64, error) {
	flags, err := json.Marshal(r.IntentFlags)
	if err != nil {
		return 0, fmt.Errorf("marshal intent flags: %w", err)
	}

	var handlerResult any
	if len(r.HandlerResult) > 0 {
		handlerResult = r.HandlerResult
	}

	var id int64
	err = s.pool.QueryRow(ctx, `
		INSERT INTO ses_emails
			(message_id, s3_key, sender, sender_name, recipient, subject, body,
			 received_at, intent_flags, intent_label, handler_result, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (message_id) DO UPDATE SET
			intent_flags   = EXCLUDED.intent_flags,
			intent_label   = EXCLUDED.intent_label,
			handler_result = EXCLUDED.handler_result,
			status         = EXCLUDED.status,
			processed_at   = NOW()
		RETURNING id
	`, r.MessageID, r.S3Key, r.Sender, r.SenderName, r.Recipient, r.Subject, r.Body,
		r.ReceivedAt, flags, r.IntentLabel, handlerResult, r.Status).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("save email %s: %w", r.MessageID, err)
	}
	return id, nil
}

// Exists reports whether a message has already been processed.
func (s *Store) Exists(ctx context.Context, messageID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM ses_emails WHERE message_id = $1)`, messageID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check email existence: %w", err)
	}
	return exists, nil
}

// GetByMessageID retrieves a single record, or nil when absent.
func (s *Store) GetByMessageID(ctx context.Context, messageID string) (*Record, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, message_id, s3_key, sender, sender_name, recipient, subject, body,
		       received_at, processed_at, intent_flags, intent_label, handler_result, status
		FROM ses_emails
		WHERE message_id = $1
	`, messageID)
	return scanRecord(row)
}

// Recent returns the most recently processed records.
func (s *Store) Recent(ctx context.Context, limit int) ([]Record, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, message_id, s3_key, sender, sender_name, recipient, subject, body,
		       received_at, processed_at, intent_flags, intent_label, handler_result, status
		FROM ses_emails
		ORDER BY processed_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRecords(rows)
}

// ByIntent returns records with the given intent label, newest first.
func (s *Store) ByIntent(ctx context.Context, label string, limit int) ([]Record, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, message_id, s3_key, sender, sender_name, recipient, subject, body,
		       received_at, processed_at, intent_flags, intent_label, handler_result, status
		FROM ses_emails
		WHERE intent_label = $1
		ORDER BY processed_at DESC
		LIMIT $2
	`, label, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRecords(rows)
}

// ByStatus returns records with the given status, newest first.
func (s *Store) ByStatus(ctx context.Context, status string, limit int) ([]Record, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, message_id, s3_key, sender, sender_name, recipient, subject, body,
		       received_at, processed_at, intent_flags, intent_label, handler_result, status
		FROM ses_emails
		WHERE status = $1
		ORDER BY processed_at DESC
		LIMIT $2
	`, status, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRecords(rows)
}

// CountsByIntent returns processed-email counts grouped by intent label.
func (s *Store) CountsByIntent(ctx context.Context) (map[string]int, error) {
	return s.groupCounts(ctx, `SELECT intent_label, COUNT(*) FROM ses_emails GROUP BY intent_label`)
}

// CountsByStatus returns processed-email counts grouped by status.
func (s *Store) CountsByStatus(ctx context.Context) (map[string]int, error) {
	return s.groupCounts(ctx, `SELECT status, COUNT(*) FROM ses_emails GROUP BY status`)
}

func (s *Store) groupCounts(ctx context.Context, query string) (map[string]int, error) {
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var key string
		var n int
		if err := rows.Scan(&key, &n); err != nil {
			return nil, err
		}
		counts[key] = n
	}
	return counts, rows.Err()
}

func scanRecord(row pgx.Row) (*Record, error) {
	var r Record
	var flags []byte
	err := row.Scan(
		&r.ID, &r.MessageID, &r.S3Key, &r.Sender, &r.SenderName, &r.Recipient,
		&r.Subject, &r.Body, &r.ReceivedAt, &r.ProcessedAt, &flags,
		&r.IntentLabel, &r.HandlerResult, &r.Status,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(flags, &r.IntentFlags); err != nil {
		return nil, fmt.Errorf("decode intent flags: %w", err)
	}
	return &r, nil
}

func collectRecords(rows pgx.Rows) ([]Record, error) {
	var records []Record
	for rows.Next() {
		var r Record
		var flags []byte
		if err := rows.Scan(
			&r.ID, &r.MessageID, &r.S3Key, &r.Sender, &r.SenderName, &r.Recipient,
			&r.Subject, &r.Body, &r.ReceivedAt, &r.ProcessedAt, &flags,
			&r.IntentLabel, &r.HandlerResult, &r.Status,
		); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(flags, &r.IntentFlags); err != nil {
			return nil, fmt.Errorf("decode intent flags: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}
