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

// ses-daemon-bot — inbound mail processor
//
// Entry point for the daemon. It:
//  1. Loads configuration from config.yaml and the environment
//  2. Connects to PostgreSQL, S3 and (optionally) Redis
//  3. Polls the SES delivery bucket for new mail
//  4. Short-circuits bounces/complaints into the blacklist
//  5. Classifies remaining mail and dispatches per-intent handlers
//  6. Handles graceful shutdown on SIGTERM/SIGINT
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/cpsource/ses-daemon-bot/internal/blacklist"
	"github.com/cpsource/ses-daemon-bot/internal/config"
	"github.com/cpsource/ses-daemon-bot/internal/dedup"
	"github.com/cpsource/ses-daemon-bot/internal/handlers"
	"github.com/cpsource/ses-daemon-bot/internal/intent"
	"github.com/cpsource/ses-daemon-bot/internal/mailbox"
	"github.com/cpsource/ses-daemon-bot/internal/pipeline"
	"github.com/cpsource/ses-daemon-bot/internal/sender"
	"github.com/cpsource/ses-daemon-bot/internal/store"
	"github.com/cpsource/ses-daemon-bot/internal/templates"
	"github.com/cpsource/ses-daemon-bot/internal/workmail"
)

const version = "0.1.0"

type options struct {
	verbose   bool
	config    string
	logFile   string
	pidFile   string
	dryRun    bool
	daemon    bool
	once      bool
	interval  int
	testCreds bool
	testSES   bool
	version   bool
}

func main() {
	var opts options
	flag.BoolVar(&opts.verbose, "v", false, "enable verbose (debug) logging")
	flag.StringVar(&opts.config, "config", "", "path to configuration file")
	flag.StringVar(&opts.logFile, "log-file", "", "path to log file (default: stdout)")
	flag.StringVar(&opts.pidFile, "pid-file", "", "path to PID file for daemon management")
	flag.BoolVar(&opts.dryRun, "dry-run", false, "detect and classify without sending, persisting or moving anything")
	flag.BoolVar(&opts.daemon, "daemon", false, "accepted for compatibility; run under a service manager instead")
	flag.BoolVar(&opts.once, "once", false, "process one batch of emails and exit")
	flag.IntVar(&opts.interval, "interval", 0, "polling interval in seconds (default: from config, 60)")
	flag.BoolVar(&opts.testCreds, "test-creds", false, "validate configuration and backend connectivity, then exit")
	flag.BoolVar(&opts.testSES, "test-ses", false, "show bucket state (pending/processed/failed), then exit")
	flag.BoolVar(&opts.version, "version", false, "print version and exit")
	flag.Parse()

	if opts.version {
		fmt.Printf("ses-daemon-bot %s\n", version)
		return
	}

	if err := setupLogging(opts.verbose, opts.logFile); err != nil {
		fmt.Fprintf(os.Stderr, "failed to set up logging: %v\n", err)
		os.Exit(1)
	}

	if opts.daemon {
		slog.Info("--daemon requested; process stays in the foreground, use a service manager for daemonization")
	}

	if opts.pidFile != "" {
		if err := writePIDFile(opts.pidFile); err != nil {
			slog.Error("failed to write PID file", "path", opts.pidFile, "error", err)
			os.Exit(1)
		}
		defer removePIDFile(opts.pidFile)
	}

	slog.Info("ses-daemon-bot starting", "version", version)

	cfg, err := config.Load(opts.config)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	if opts.interval > 0 {
		cfg.Bot.PollInterval = time.Duration(opts.interval) * time.Second
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	switch {
	case opts.testCreds:
		os.Exit(testCreds(ctx, cfg))
	case opts.testSES:
		os.Exit(testSES(ctx, cfg))
	}

	if err := run(ctx, cfg, opts); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}

	slog.Info("ses-daemon-bot stopped")
}

func run(ctx context.Context, cfg *config.Config, opts options) error {
	if opts.dryRun {
		slog.Info("running in dry-run mode, no mail will be sent or moved")
	}

	// --- Connect to PostgreSQL ---
	pool, err := pgxpool.New(ctx, cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("create Postgres pool: %w", err)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("connect to PostgreSQL: %w", err)
	}
	slog.Info("connected to PostgreSQL")

	emailStore, err := store.NewStore(ctx, pool)
	if err != nil {
		return err
	}
	blacklistStore, err := blacklist.NewStore(ctx, pool)
	if err != nil {
		return err
	}
	users := store.NewUserDirectory(pool)

	// --- Optional Redis dedup fast path ---
	var filter pipeline.DedupFilter
	if cfg.Redis.URL != "" {
		opt, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("invalid Redis URL: %w", err)
		}
		rdb := redis.NewClient(opt)
		defer rdb.Close()

		f := dedup.NewFilter(rdb)
		if err := f.Ping(ctx); err != nil {
			slog.Warn("Redis unreachable, continuing without dedup fast path", "error", err)
		} else {
			slog.Info("connected to Redis")
			filter = f
		}
	}

	// --- S3 mailbox ---
	box, err := mailbox.New(mailbox.Config{
		Endpoint:        cfg.AWS.S3Endpoint,
		UseSSL:          cfg.AWS.S3UseSSL,
		Region:          cfg.AWS.Region,
		AccessKeyID:     cfg.AWS.AccessKeyID,
		SecretAccessKey: cfg.AWS.SecretAccessKey,
		Bucket:          cfg.AWS.Bucket,
	})
	if err != nil {
		return err
	}

	// --- SES sender ---
	mailer, err := sender.New(ctx, sender.Config{
		Region:          cfg.AWS.Region,
		AccessKeyID:     cfg.AWS.AccessKeyID,
		SecretAccessKey: cfg.AWS.SecretAccessKey,
	})
	if err != nil {
		return err
	}

	// --- Classifier ---
	classifier := intent.NewClassifier(cfg.LLM.APIKey, cfg.LLM.Model, cfg.LLM.BaseURL)

	// --- Optional WorkMail side channel ---
	var marker pipeline.InboxMarker
	wm := workmail.NewClient(cfg.WorkMail.Address, cfg.WorkMail.Password, cfg.WorkMail.Server)
	if wm.Enabled() {
		slog.Info("WorkMail mark-as-read enabled", "user", cfg.WorkMail.Address)
		defer wm.Close()
		marker = wm
	}

	// --- Wire the pipeline ---
	detector := blacklist.NewDetector(cfg.Bot.Domain)

	p := &pipeline.Pipeline{
		Source:   box,
		Detector: detector,
		Notifications: &blacklist.Handler{
			Detector:     detector,
			Store:        blacklistStore,
			Users:        users,
			Notifier:     mailer,
			AdminAddress: cfg.Bot.AdminAddress,
			FromAddress:  cfg.Bot.FromAddress,
			DryRun:       opts.dryRun,
		},
		Classifier: classifier,
		Router: &handlers.Router{
			Sender:       mailer,
			Templates:    templates.NewLoader(cfg.Bot.TemplatesDir),
			Users:        users,
			AdminAddress: cfg.Bot.AdminAddress,
			FromAddress:  cfg.Bot.FromAddress,
			DryRun:       opts.dryRun,
		},
		Store:  emailStore,
		Dedup:  filter,
		Inbox:  marker,
		DryRun: opts.dryRun,
	}

	p.Run(ctx, cfg.Bot.PollInterval, opts.once)
	return nil
}

// testCreds validates connectivity to every configured backend and reports
// the result. Exit code 0 means all reachable.
func testCreds(ctx context.Context, cfg *config.Config) int {
	ok := true

	pool, err := pgxpool.New(ctx, cfg.Database.URL)
	if err == nil {
		err = pool.Ping(ctx)
		pool.Close()
	}
	report("PostgreSQL", err)
	ok = ok && err == nil

	box, err := mailbox.New(mailbox.Config{
		Endpoint:        cfg.AWS.S3Endpoint,
		UseSSL:          cfg.AWS.S3UseSSL,
		Region:          cfg.AWS.Region,
		AccessKeyID:     cfg.AWS.AccessKeyID,
		SecretAccessKey: cfg.AWS.SecretAccessKey,
		Bucket:          cfg.AWS.Bucket,
	})
	if err == nil {
		err = box.Ping(ctx)
	}
	report("S3 bucket "+cfg.AWS.Bucket, err)
	ok = ok && err == nil

	if cfg.Redis.URL != "" {
		opt, err := redis.ParseURL(cfg.Redis.URL)
		if err == nil {
			rdb := redis.NewClient(opt)
			err = dedup.NewFilter(rdb).Ping(ctx)
			rdb.Close()
		}
		report("Redis", err)
		ok = ok && err == nil
	}

	if !ok {
		return 1
	}
	slog.Info("all credentials check out")
	return 0
}

func report(name string, err error) {
	if err != nil {
		slog.Error("connectivity check failed", "target", name, "error", err)
	} else {
		slog.Info("connectivity check passed", "target", name)
	}
}

// testSES dumps the bucket state: per-prefix counts plus the pending keys.
func testSES(ctx context.Context, cfg *config.Config) int {
	box, err := mailbox.New(mailbox.Config{
		Endpoint:        cfg.AWS.S3Endpoint,
		UseSSL:          cfg.AWS.S3UseSSL,
		Region:          cfg.AWS.Region,
		AccessKeyID:     cfg.AWS.AccessKeyID,
		SecretAccessKey: cfg.AWS.SecretAccessKey,
		Bucket:          cfg.AWS.Bucket,
	})
	if err != nil {
		slog.Error("failed to initialise mailbox", "error", err)
		return 1
	}

	incoming, processed, failed, err := box.Counts(ctx)
	if err != nil {
		slog.Error("failed to count bucket objects", "error", err)
		return 1
	}
	slog.Info("bucket state",
		"bucket", cfg.AWS.Bucket,
		"incoming", incoming, "processed", processed, "failed", failed)

	keys, err := box.ListPending(ctx)
	if err != nil {
		slog.Error("failed to list pending messages", "error", err)
		return 1
	}
	for _, key := range keys {
		slog.Info("pending message", "key", key)
	}
	return 0
}

func setupLogging(verbose bool, logFile string) error {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}

	out := os.Stdout
	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open log file %s: %w", logFile, err)
		}
		out = f
	}

	slog.SetDefault(slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{Level: level})))
	return nil
}

func writePIDFile(path string) error {
	pid := os.Getpid()
	if err := os.WriteFile(path, []byte(strconv.Itoa(pid)), 0o644); err != nil {
		return err
	}
	slog.Info("wrote PID file", "path", path, "pid", pid)
	return nil
}

func removePIDFile(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		slog.Warn("failed to remove PID file", "path", path, "error", err)
	}
}
