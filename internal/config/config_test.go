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

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("AWS_ACCESS_KEY_ID", "AKIATEST")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "secret")
	t.Setenv("SES_BUCKET", "test-bucket")
	t.Setenv("DATABASE_URL", "postgres://localhost/test")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("BOT_DOMAIN", "frflashy.com")
	t.Setenv("BOT_FROM_ADDRESS", "admin@frflashy.com")
	t.Setenv("BOT_ADMIN_ADDRESS", "operator@frflashy.com")
}

func TestLoadFromEnvironmentOnly(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.AWS.Bucket != "test-bucket" {
		t.Errorf("Bucket = %q, want test-bucket", cfg.AWS.Bucket)
	}
	if cfg.AWS.Region != "us-east-1" {
		t.Errorf("Region = %q, want default us-east-1", cfg.AWS.Region)
	}
	if cfg.LLM.Model != "gpt-4" {
		t.Errorf("Model = %q, want default gpt-4", cfg.LLM.Model)
	}
	if cfg.Bot.PollInterval != 60*time.Second {
		t.Errorf("PollInterval = %v, want 60s default", cfg.Bot.PollInterval)
	}
}

func TestLoadYAMLWithExpansion(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("TEST_BUCKET_NAME", "expanded-bucket")

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
aws:
  bucket: ${TEST_BUCKET_NAME}
  region: eu-west-1
llm:
  model: gpt-4o-mini
bot:
  domain: other.example
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.AWS.Bucket != "expanded-bucket" {
		t.Errorf("Bucket = %q, want env-expanded value", cfg.AWS.Bucket)
	}
	if cfg.AWS.Region != "eu-west-1" {
		t.Errorf("Region = %q, file must win over defaults", cfg.AWS.Region)
	}
	if cfg.LLM.Model != "gpt-4o-mini" {
		t.Errorf("Model = %q, want file value", cfg.LLM.Model)
	}
	if cfg.Bot.Domain != "other.example" {
		t.Errorf("Domain = %q, file must win over env", cfg.Bot.Domain)
	}
}

func TestLoadMissingCredentials(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("AWS_ACCESS_KEY_ID", "")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "")

	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err == nil {
		t.Fatal("Load must fail without AWS credentials")
	}
	if !strings.Contains(err.Error(), "AWS credentials") {
		t.Errorf("error = %v, want credential message", err)
	}
}

func TestValidateReportsFirstMissing(t *testing.T) {
	tests := []struct {
		name  string
		unset string
		want  string
	}{
		{"bucket", "SES_BUCKET", "bucket"},
		{"database", "DATABASE_URL", "database"},
		{"llm key", "OPENAI_API_KEY", "LLM API key"},
		{"domain", "BOT_DOMAIN", "domain"},
		{"from", "BOT_FROM_ADDRESS", "from address"},
		{"admin", "BOT_ADMIN_ADDRESS", "admin address"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequiredEnv(t)
			t.Setenv(tt.unset, "")

			_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
			if err == nil {
				t.Fatalf("Load must fail without %s", tt.unset)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %v, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestPollIntervalParsing(t *testing.T) {
	setRequiredEnv(t)

	t.Setenv("POLL_INTERVAL", "2m")
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Bot.PollInterval != 2*time.Minute {
		t.Errorf("PollInterval = %v, want 2m", cfg.Bot.PollInterval)
	}

	t.Setenv("POLL_INTERVAL", "90")
	cfg, err = Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Bot.PollInterval != 90*time.Second {
		t.Errorf("PollInterval = %v, bare integers are seconds", cfg.Bot.PollInterval)
	}
}
