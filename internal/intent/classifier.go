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

package intent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const (
	defaultBaseURL = "https://api.openai.com/v1"

	// The expected model output is a short JSON array; temperature 0 keeps it
	// deterministic and the token ceiling keeps it cheap.
	maxOutputTokens = 50
)

const promptTemplate = `You are an intent classification engine.

You will be given an email message sent to me.
Your task is to determine the sender's primary intent.

You MUST return a single JSON array of exactly 8 items.
Each item corresponds to a fixed intent slot.

Intent slots (fixed order):
0 = send_info
1 = create_account
2 = unknown
3 = speak_to_human
4 = email_to_human
5 = spam_or_auto_reply
6 = unsubscribe
7 = reserved_for_future

Rules:
- Exactly ONE item must be true.
- All other items must be false.
- If the intent is unclear or ambiguous, set index 2 (unknown) to true.
- Index 7 must always be false.
- Do NOT include any explanation or extra text.
- Output MUST be valid JSON only.

Classify based solely on the email content.

Email message:
<<<
{EMAIL_TEXT}
>>>

Return the JSON array now.`

// Classifier calls a chat-completion endpoint to label inbound mail.
type Classifier struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
}

// NewClassifier creates a classifier against the given endpoint. An empty
// baseURL targets the OpenAI API.
func NewClassifier(apiKey, model, baseURL string) *Classifier {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Classifier{
		apiKey:  apiKey,
		model:   model,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Classify labels an email by sender, subject and body. It never returns an
// error: every failure mode resolves to the Unknown sentinel with the cause
// preserved in RawResponse.
func (c *Classifier) Classify(ctx context.Context, sender, subject, body string) *Result {
	var parts []string
	if sender != "" {
		parts = append(parts, "From: "+sender)
	}
	if subject != "" {
		parts = append(parts, "Subject: "+subject)
	}
	if body != "" {
		parts = append(parts, "\n"+body)
	}

	prompt := strings.Replace(promptTemplate, "{EMAIL_TEXT}", strings.Join(parts, "\n"), 1)

	raw, err := c.complete(ctx, prompt)
	if err != nil {
		slog.Error("classification call failed", "error", err)
		return UnknownResult(err.Error())
	}

	slog.Debug("LLM response", "raw", raw)
	return parseResponse(raw)
}

// complete performs a single chat-completion round-trip. No retry: intent
// labeling is a soft business concern, not a reliability concern.
func (c *Classifier) complete(ctx context.Context, prompt string) (string, error) {
	reqBody, err := json.Marshal(chatRequest{
		Model:       c.model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		MaxTokens:   maxOutputTokens,
		Temperature: 0,
	})
	if err != nil {
		return "", fmt.Errorf("marshal completion request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(reqBody))
	if err != nil {
		return "", fmt.Errorf("build completion request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("completion call: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read completion response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("completion service returned HTTP %d: %s", resp.StatusCode, string(respBody))
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("decode completion response: %w", err)
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("completion service error: %s", parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("completion response has no choices")
	}

	return strings.TrimSpace(parsed.Choices[0].Message.Content), nil
}

// parseResponse validates the model output: a JSON array of exactly Count
// entries, coerced to booleans, with exactly one true. Violations coerce to
// the Unknown sentinel while preserving the raw output for audit.
func parseResponse(raw string) *Result {
	var values []any
	if err := json.Unmarshal([]byte(raw), &values); err != nil {
		slog.Warn("classifier response is not valid JSON", "error", err)
		return UnknownResult(raw)
	}

	if len(values) != Count {
		slog.Warn("classifier response has wrong length", "got", len(values), "want", Count)
		return UnknownResult(raw)
	}

	flags := make([]bool, Count)
	trueCount := 0
	for i, v := range values {
		flags[i] = truthy(v)
		if flags[i] {
			trueCount++
		}
	}

	if trueCount != 1 {
		slog.Warn("classifier response violates one-hot invariant", "true_count", trueCount)
		return UnknownResult(raw)
	}

	var selected Intent
	for i, f := range flags {
		if f {
			selected = Intent(i)
			break
		}
	}

	return &Result{Intent: selected, Flags: flags, RawResponse: raw}
}

// truthy coerces whatever JSON value types the model emits to booleans.
// Models occasionally answer with 0/1 ints instead of true/false.
func truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case float64:
		return t != 0
	case string:
		return t != ""
	case nil:
		return false
	default:
		return true
	}
}
