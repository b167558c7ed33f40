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

// Package intent classifies inbound email purpose via an LLM completion call.
//
// The model is asked for a fixed-length JSON array of booleans, one slot per
// intent, exactly one true. Any protocol violation — malformed JSON, wrong
// length, zero or multiple true entries, transport failure — coerces to the
// Unknown sentinel; classification never fails the pipeline.
package intent

// Intent is one of a closed set of inbound-email purposes. The integer value
// is the slot index in the classifier's flag vector.
type Intent int

const (
	SendInfo Intent = iota
	CreateAccount
	Unknown
	SpeakToHuman
	EmailToHuman
	SpamOrAutoReply
	Unsubscribe
	Reserved

	// Count is the cardinality of the intent set and the required length of
	// every flag vector.
	Count = int(Reserved) + 1
)

var labels = [Count]string{
	"send_info",
	"create_account",
	"unknown",
	"speak_to_human",
	"email_to_human",
	"spam_or_auto_reply",
	"unsubscribe",
	"reserved",
}

var descriptions = [Count]string{
	"User wants information, pricing, or documentation",
	"User wants to sign up, register, or start trial",
	"Intent cannot be confidently determined",
	"User requests phone or voice support",
	"User requests human contact via email",
	"Automated reply, newsletter, or unsolicited bulk mail",
	"User wants their account removed and no further mail",
	"Reserved for future use",
}

// Label returns the stable string label stored in the database.
func (i Intent) Label() string {
	if i < 0 || int(i) >= Count {
		return "unknown"
	}
	return labels[i]
}

// Description returns the human-readable meaning of the intent.
func (i Intent) Description() string {
	if i < 0 || int(i) >= Count {
		return descriptions[Unknown]
	}
	return descriptions[i]
}

// Result is the outcome of one classification round-trip.
type Result struct {
	Intent Intent

	// Flags is the validated one-hot vector, except for sentinel results
	// produced by bounce/complaint short-circuits, which carry all-false.
	Flags []bool

	// RawResponse is the verbatim model output (or the transport error text),
	// retained for audit.
	RawResponse string
}

// Label is shorthand for the intent's database label.
func (r *Result) Label() string { return r.Intent.Label() }

// UnknownResult builds the sentinel result substituted whenever validation of
// the model response fails.
func UnknownResult(raw string) *Result {
	flags := make([]bool, Count)
	flags[Unknown] = true
	return &Result{Intent: Unknown, Flags: flags, RawResponse: raw}
}

// AllFalseResult builds the record shape used for bounce/complaint mail,
// which bypasses classification entirely.
func AllFalseResult() []bool {
	return make([]bool, Count)
}
