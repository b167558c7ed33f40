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

// Package config loads configuration from config.yaml and environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// AWSConfig holds credentials for S3 (inbound mail bucket) and SES (outbound).
type AWSConfig struct {
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	Bucket          string `yaml:"bucket"`
	S3Endpoint      string `yaml:"s3_endpoint"` // S3-compatible endpoint, default AWS
	S3UseSSL        bool   `yaml:"s3_use_ssl"`
}

// DatabaseConfig holds the Postgres connection settings.
type DatabaseConfig struct {
	URL string `yaml:"url"`
}

// RedisConfig holds the optional dedup fast-path settings.
// When URL is empty the pipeline relies solely on the Postgres unique check.
type RedisConfig struct {
	URL string `yaml:"url"`
}

// LLMConfig holds the completion-service settings for intent classification.
type LLMConfig struct {
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	BaseURL string `yaml:"base_url"` // custom endpoints; default OpenAI
}

// WorkMailConfig holds the optional IMAP mark-as-read side channel settings.
type WorkMailConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	Server   string `yaml:"server"`
}

// BotConfig holds the bot's own identity and runtime settings.
type BotConfig struct {
	Domain       string        `yaml:"domain"`        // our sending domain, never extracted as a bounced address
	FromAddress  string        `yaml:"from_address"`  // default From for outbound mail
	AdminAddress string        `yaml:"admin_address"` // operator inbox for escalations
	TemplatesDir string        `yaml:"templates_dir"`
	PollInterval time.Duration `yaml:"-"`
}

// Config holds all configuration for the daemon.
type Config struct {
	AWS      AWSConfig      `yaml:"aws"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	LLM      LLMConfig      `yaml:"llm"`
	WorkMail WorkMailConfig `yaml:"workmail"`
	Bot      BotConfig      `yaml:"bot"`
}

// Load reads configuration from the given YAML file (with ${VAR} expansion)
// and fills gaps from environment variables. An empty path falls back to
// CONFIG_PATH or ./config.yaml; a missing file is not an error as long as the
// required settings arrive via environment.
func Load(path string) (*Config, error) {
	if path == "" {
		path = envOrDefault("CONFIG_PATH", "config.yaml")
	}

	cfg := &Config{}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parse config YAML: %w", err)
		}
	case os.IsNotExist(err):
		// Environment-only configuration.
	default:
		return nil, fmt.Errorf("read config file %s: %w", path, err)
	}

	applyEnvDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func applyEnvDefaults(cfg *Config) {
	setIfEmpty(&cfg.AWS.Region, envOrDefault("AWS_REGION", "us-east-1"))
	setIfEmpty(&cfg.AWS.AccessKeyID, os.Getenv("AWS_ACCESS_KEY_ID"))
	setIfEmpty(&cfg.AWS.SecretAccessKey, os.Getenv("AWS_SECRET_ACCESS_KEY"))
	setIfEmpty(&cfg.AWS.Bucket, os.Getenv("SES_BUCKET"))
	if cfg.AWS.S3Endpoint == "" {
		cfg.AWS.S3Endpoint = envOrDefault("S3_ENDPOINT", "s3.amazonaws.com")
		cfg.AWS.S3UseSSL = true
	}

	setIfEmpty(&cfg.Database.URL, os.Getenv("DATABASE_URL"))
	setIfEmpty(&cfg.Redis.URL, os.Getenv("REDIS_URL"))

	setIfEmpty(&cfg.LLM.APIKey, os.Getenv("OPENAI_API_KEY"))
	setIfEmpty(&cfg.LLM.Model, envOrDefault("LLM_MODEL", "gpt-4"))
	setIfEmpty(&cfg.LLM.BaseURL, os.Getenv("LLM_BASE_URL"))

	setIfEmpty(&cfg.WorkMail.Address, os.Getenv("WORKMAIL_ADDRESS"))
	setIfEmpty(&cfg.WorkMail.Password, os.Getenv("WORKMAIL_PASSWORD"))
	setIfEmpty(&cfg.WorkMail.Server, envOrDefault("WORKMAIL_SERVER", "imap.mail.us-east-1.awsapps.com:993"))

	setIfEmpty(&cfg.Bot.Domain, os.Getenv("BOT_DOMAIN"))
	setIfEmpty(&cfg.Bot.FromAddress, os.Getenv("BOT_FROM_ADDRESS"))
	setIfEmpty(&cfg.Bot.AdminAddress, os.Getenv("BOT_ADMIN_ADDRESS"))
	setIfEmpty(&cfg.Bot.TemplatesDir, envOrDefault("TEMPLATES_DIR", "templates"))
	if cfg.Bot.PollInterval == 0 {
		cfg.Bot.PollInterval = envOrDefaultDuration("POLL_INTERVAL", 60*time.Second)
	}
}

// Validate reports the first missing required setting. Credential absence is
// fatal at startup; the --test-creds preflight exists to catch this early.
func (c *Config) Validate() error {
	switch {
	case c.AWS.AccessKeyID == "" || c.AWS.SecretAccessKey == "":
		return fmt.Errorf("AWS credentials are required (AWS_ACCESS_KEY_ID / AWS_SECRET_ACCESS_KEY)")
	case c.AWS.Bucket == "":
		return fmt.Errorf("SES bucket is required (SES_BUCKET)")
	case c.Database.URL == "":
		return fmt.Errorf("database URL is required (DATABASE_URL)")
	case c.LLM.APIKey == "":
		return fmt.Errorf("LLM API key is required (OPENAI_API_KEY)")
	case c.Bot.Domain == "":
		return fmt.Errorf("bot domain is required (BOT_DOMAIN)")
	case c.Bot.FromAddress == "":
		return fmt.Errorf("bot from address is required (BOT_FROM_ADDRESS)")
	case c.Bot.AdminAddress == "":
		return fmt.Errorf("admin address is required (BOT_ADMIN_ADDRESS)")
	}
	return nil
}

func setIfEmpty(dst *string, v string) {
	if *dst == "" {
		*dst = v
	}
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		if n, err := strconv.Atoi(v); err == nil {
			return time.Duration(n) * time.Second
		}
	}
	return fallback
}
