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
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

// Hash parameters matching the web application's login check
// (werkzeug pbkdf2:sha256 format).
const (
	hashIterations = 600000
	hashKeyLen     = 32
	saltLen        = 16
)

const saltAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// generatePassword returns a random 32-bit value as an 8-character hex string.
func generatePassword() (string, error) {
	var buf [4]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return hex.EncodeToString(buf[:]), nil
}

// hashPassword produces a hash in the form pbkdf2:sha256:<iter>$<salt>$<hex>,
// verifiable by the web application.
func hashPassword(password string) string {
	salt := make([]byte, saltLen)
	randBytes := make([]byte, saltLen)
	rand.Read(randBytes)
	for i, b := range randBytes {
		salt[i] = saltAlphabet[int(b)%len(saltAlphabet)]
	}

	key := pbkdf2.Key([]byte(password), salt, hashIterations, hashKeyLen, sha256.New)
	return fmt.Sprintf("pbkdf2:sha256:%d$%s$%s", hashIterations, salt, hex.EncodeToString(key))
}
