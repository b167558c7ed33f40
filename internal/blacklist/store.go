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
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

// UpsertResult reports what a blacklist upsert did.
type UpsertResult struct {
	Inserted    bool // true on first insert, false on increment
	AccessCount int  // current access_cnt after the operation
}

// Store maintains the email_blacklist table. Addresses are unique and
// lowercased; re-inserting an existing address increments its counter and
// refreshes last_access_date in a single atomic statement.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates the blacklist store and ensures the schema exists.
func NewStore(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	s := &Store{pool: pool}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure email_blacklist schema: %w", err)
	}
	slog.Info("blacklist store initialised")
	return s, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS email_blacklist (
			id               BIGSERIAL PRIMARY KEY,
			email            TEXT NOT NULL UNIQUE,
			reason           TEXT DEFAULT '',
			source           TEXT DEFAULT '',
			access_cnt       INTEGER NOT NULL DEFAULT 1,
			created_at       TIMESTAMPTZ DEFAULT NOW(),
			last_access_date TIMESTAMPTZ DEFAULT NOW()
		);
	`)
	return err
}

// Add inserts the address or increments its counter. The (xmax = 0) trick
// distinguishes a fresh insert from a conflict update in one round trip.
func (s *Store) Add(ctx context.Context, email, reason, source string) (*UpsertResult, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, fmt.Errorf("blacklist add: empty address")
	}

	var r UpsertResult
	err := s.pool.QueryRow(ctx, `
		INSERT INTO email_blacklist (email, reason, source)
		VALUES ($1, $2, $3)
		ON CONFLICT (email) DO UPDATE SET
			access_cnt       = email_blacklist.access_cnt + 1,
			last_access_date = NOW()
		RETURNING (xmax = 0) AS inserted, access_cnt
	`, email, reason, source).Scan(&r.Inserted, &r.AccessCount)
	if err != nil {
		return nil, fmt.Errorf("blacklist upsert %s: %w", email, err)
	}
	return &r, nil
}

// Contains reports whether the address is blacklisted.
func (s *Store) Contains(ctx context.Context, email string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM email_blacklist WHERE email = $1)`,
		strings.ToLower(strings.TrimSpace(email)),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("blacklist lookup: %w", err)
	}
	return exists, nil
}
