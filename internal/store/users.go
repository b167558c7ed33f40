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

package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// UserDirectory gives the account handlers access to the application's users
// table. The table is owned by the web application; this daemon only checks
// existence, creates signup rows and deletes unsubscribe rows.
type UserDirectory struct {
	pool *pgxpool.Pool
}

// NewUserDirectory wraps the shared Postgres pool.
func NewUserDirectory(pool *pgxpool.Pool) *UserDirectory {
	return &UserDirectory{pool: pool}
}

// Exists reports whether an account matches the address, by email or username.
func (d *UserDirectory) Exists(ctx context.Context, address string) (bool, error) {
	var exists bool
	err := d.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM users WHERE email = $1 OR username = $1)`, address,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check user existence: %w", err)
	}
	return exists, nil
}

// Create inserts a new account. The email doubles as the username; authCode
// is the plain credential kept for recovery, matching the web app's schema.
func (d *UserDirectory) Create(ctx context.Context, email, passwordHash, authCode string) error {
	_, err := d.pool.Exec(ctx, `
		INSERT INTO users (username, email, password_hash, tier, delf_level, users_auth, ai_tokens)
		VALUES ($1, $1, $2, 0, 0, $3, 5000)
	`, email, passwordHash, authCode)
	if err != nil {
		return fmt.Errorf("create user %s: %w", email, err)
	}
	return nil
}

// Delete removes the account matching the address. Returns false when no row
// matched.
func (d *UserDirectory) Delete(ctx context.Context, address string) (bool, error) {
	tag, err := d.pool.Exec(ctx,
		`DELETE FROM users WHERE email = $1 OR username = $1`, address)
	if err != nil {
		return false, fmt.Errorf("delete user %s: %w", address, err)
	}
	return tag.RowsAffected() > 0, nil
}
