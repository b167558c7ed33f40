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

// Package workmail is the best-effort IMAP side channel that keeps the AWS
// WorkMail inbox in sync with processing: messages handled from S3 are marked
// read so the human view of the inbox matches reality. All failures here are
// logged and swallowed; mail processing never depends on this channel.
package workmail

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
)

// DefaultServer is the AWS WorkMail IMAP endpoint for us-east-1.
const DefaultServer = "imap.mail.us-east-1.awsapps.com:993"

// Client marks and deletes WorkMail messages by Message-ID. A Client with
// empty credentials is valid and does nothing.
type Client struct {
	server   string
	email    string
	password string

	conn *imapclient.Client

	// failed latches after a login failure so each batch does not retry a
	// known-bad credential against the server.
	failed bool
}

// NewClient creates a WorkMail client. server may be empty to use the
// default endpoint.
func NewClient(email, password, server string) *Client {
	if server == "" {
		server = DefaultServer
	}
	return &Client{server: server, email: email, password: password}
}

// Enabled reports whether credentials are configured.
func (c *Client) Enabled() bool {
	return c.email != "" && c.password != ""
}

func (c *Client) connect() bool {
	if c.conn != nil {
		return true
	}
	if c.failed || !c.Enabled() {
		return false
	}

	conn, err := imapclient.DialTLS(c.server, nil)
	if err != nil {
		slog.Warn("WorkMail IMAP dial failed", "server", c.server, "error", err)
		c.failed = true
		return false
	}

	if err := conn.Login(c.email, c.password).Wait(); err != nil {
		slog.Warn("WorkMail IMAP login failed", "user", c.email, "error", err)
		_ = conn.Logout().Wait()
		c.failed = true
		return false
	}

	slog.Debug("connected to WorkMail", "user", c.email)
	c.conn = conn
	return true
}

// Close logs out and drops the connection.
func (c *Client) Close() {
	if c.conn != nil {
		_ = c.conn.Logout().Wait()
		c.conn = nil
	}
}

// MarkReadByMessageID finds the message in INBOX by its Message-ID header and
// adds the \Seen flag. Returns true when at least one message was marked.
func (c *Client) MarkReadByMessageID(messageID string) bool {
	uids, ok := c.findByMessageID(messageID)
	if !ok || len(uids) == 0 {
		return false
	}

	cmd := c.conn.Store(imap.UIDSetNum(uids...), &imap.StoreFlags{
		Op:     imap.StoreFlagsAdd,
		Silent: true,
		Flags:  []imap.Flag{imap.FlagSeen},
	}, nil)
	if err := cmd.Close(); err != nil {
		slog.Warn("failed to mark message read in WorkMail", "message_id", messageID, "error", err)
		c.dropConnection()
		return false
	}

	slog.Debug("marked as read in WorkMail", "message_id", messageID)
	return true
}

// DeleteByMessageID finds the message in INBOX by its Message-ID header,
// flags it deleted and expunges. Returns true when a message was removed.
func (c *Client) DeleteByMessageID(messageID string) bool {
	uids, ok := c.findByMessageID(messageID)
	if !ok || len(uids) == 0 {
		return false
	}

	cmd := c.conn.Store(imap.UIDSetNum(uids...), &imap.StoreFlags{
		Op:     imap.StoreFlagsAdd,
		Silent: true,
		Flags:  []imap.Flag{imap.FlagDeleted},
	}, nil)
	if err := cmd.Close(); err != nil {
		slog.Warn("failed to flag message deleted in WorkMail", "message_id", messageID, "error", err)
		c.dropConnection()
		return false
	}

	if err := c.conn.Expunge().Close(); err != nil {
		slog.Warn("WorkMail expunge failed", "message_id", messageID, "error", err)
		return false
	}

	slog.Debug("deleted from WorkMail", "message_id", messageID)
	return true
}

// findByMessageID selects INBOX and searches for the Message-ID, first with
// angle brackets, then without. Message IDs synthesised from S3 keys will
// simply never match.
func (c *Client) findByMessageID(messageID string) ([]imap.UID, bool) {
	if !c.connect() {
		return nil, false
	}

	if _, err := c.conn.Select("INBOX", nil).Wait(); err != nil {
		slog.Warn("failed to select WorkMail INBOX", "error", err)
		c.dropConnection()
		return nil, false
	}

	searchID := strings.Trim(messageID, "<>")

	uids, err := c.searchHeader(fmt.Sprintf("<%s>", searchID))
	if err == nil && len(uids) == 0 {
		uids, err = c.searchHeader(searchID)
	}
	if err != nil {
		slog.Warn("WorkMail search failed", "message_id", messageID, "error", err)
		c.dropConnection()
		return nil, false
	}
	if len(uids) == 0 {
		slog.Debug("message not found in WorkMail", "message_id", messageID)
	}
	return uids, true
}

func (c *Client) searchHeader(value string) ([]imap.UID, error) {
	criteria := &imap.SearchCriteria{
		Header: []imap.SearchCriteriaHeaderField{
			{Key: "Message-ID", Value: value},
		},
	}
	data, err := c.conn.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return nil, err
	}
	return data.AllUIDs(), nil
}

func (c *Client) dropConnection() {
	if c.conn != nil {
		_ = c.conn.Logout().Wait()
		c.conn = nil
	}
}
