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

// Package mailbox reads inbound mail from the S3 bucket where SES drops
// delivered messages. Objects arrive under emails/ and are moved to
// processed/ or failed/ after handling; the move is copy-then-delete, so a
// delete failure can leave the original behind. That duplicate is caught by
// dedup downstream, never re-actioned.
package mailbox

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Bucket prefixes forming the mailbox lifecycle.
const (
	IncomingPrefix  = "emails/"
	ProcessedPrefix = "processed/"
	FailedPrefix    = "failed/"
)

// Mailbox is the S3-backed source of inbound mail.
type Mailbox struct {
	client *minio.Client
	bucket string
}

// Config holds the S3 connection settings.
type Config struct {
	Endpoint        string // empty means AWS S3
	UseSSL          bool
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
}

// New creates a Mailbox over the configured bucket.
func New(cfg Config) (*Mailbox, error) {
	endpoint := cfg.Endpoint
	useSSL := cfg.UseSSL
	if endpoint == "" {
		endpoint = "s3." + cfg.Region + ".amazonaws.com"
		useSSL = true
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: useSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("initialise S3 client: %w", err)
	}

	return &Mailbox{client: client, bucket: cfg.Bucket}, nil
}

// Ping verifies the bucket is reachable with the configured credentials.
func (m *Mailbox) Ping(ctx context.Context) error {
	exists, err := m.client.BucketExists(ctx, m.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", m.bucket, err)
	}
	if !exists {
		return fmt.Errorf("bucket %s does not exist", m.bucket)
	}
	return nil
}

// ListPending returns the keys of all unprocessed messages, in listing order.
func (m *Mailbox) ListPending(ctx context.Context) ([]string, error) {
	return m.listKeys(ctx, IncomingPrefix)
}

func (m *Mailbox) listKeys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	for object := range m.client.ListObjects(ctx, m.bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if object.Err != nil {
			return nil, fmt.Errorf("list %s: %w", prefix, object.Err)
		}
		// The prefix marker object is not a message.
		if object.Key == prefix {
			continue
		}
		keys = append(keys, object.Key)
	}
	return keys, nil
}

// Fetch downloads the raw message bytes for the given key.
func (m *Mailbox) Fetch(ctx context.Context, key string) ([]byte, error) {
	obj, err := m.client.GetObject(ctx, m.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get object %s: %w", key, err)
	}
	defer obj.Close()

	raw, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("read object %s: %w", key, err)
	}
	return raw, nil
}

// ArchiveProcessed moves the message to the processed/ prefix.
func (m *Mailbox) ArchiveProcessed(ctx context.Context, key string) error {
	return m.move(ctx, key, ProcessedPrefix)
}

// ArchiveFailed moves the message to the failed/ prefix.
func (m *Mailbox) ArchiveFailed(ctx context.Context, key string) error {
	return m.move(ctx, key, FailedPrefix)
}

// move copies the object under the destination prefix, then deletes the
// original. A delete failure after a successful copy is logged but not
// returned: the message has been safely archived.
func (m *Mailbox) move(ctx context.Context, key, destPrefix string) error {
	destKey := destPrefix + path.Base(key)

	_, err := m.client.CopyObject(ctx,
		minio.CopyDestOptions{Bucket: m.bucket, Object: destKey},
		minio.CopySrcOptions{Bucket: m.bucket, Object: key},
	)
	if err != nil {
		return fmt.Errorf("copy %s to %s: %w", key, destKey, err)
	}

	if err := m.client.RemoveObject(ctx, m.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		slog.Warn("archived copy succeeded but delete failed, original left behind",
			"key", key, "dest", destKey, "error", err)
		return nil
	}

	slog.Debug("moved message", "key", key, "dest", destKey)
	return nil
}

// Counts reports how many objects sit under each lifecycle prefix.
func (m *Mailbox) Counts(ctx context.Context) (incoming, processed, failed int, err error) {
	for _, p := range []struct {
		prefix string
		count  *int
	}{
		{IncomingPrefix, &incoming},
		{ProcessedPrefix, &processed},
		{FailedPrefix, &failed},
	} {
		keys, listErr := m.listKeys(ctx, p.prefix)
		if listErr != nil {
			return 0, 0, 0, listErr
		}
		*p.count = len(keys)
	}
	return incoming, processed, failed, nil
}
