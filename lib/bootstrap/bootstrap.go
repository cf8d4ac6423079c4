// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/avc/lib/client"
	"github.com/bureau-foundation/avc/lib/clock"
	"github.com/bureau-foundation/avc/lib/config"
	"github.com/bureau-foundation/avc/lib/logging"
	"github.com/bureau-foundation/avc/lib/notify"
	"github.com/bureau-foundation/avc/lib/process"
	"github.com/bureau-foundation/avc/lib/retry"
	"github.com/bureau-foundation/avc/lib/version"
)

// ErrHandled is returned by Start after it has answered --version or
// --help. The caller should exit 0.
var ErrHandled = errors.New("bootstrap: request handled")

// Options configures Start.
type Options struct {
	// Name is the binary name used in help and version output.
	Name string

	// Summary is printed above the flag list by --help.
	Summary string

	// Args are the command-line arguments without the program name.
	Args []string

	// Flags registers binary-specific flags. Optional.
	Flags func(*pflag.FlagSet)

	// Output receives --help and --version text. Defaults to
	// os.Stdout.
	Output io.Writer

	// Stderr receives text log records. Defaults to os.Stderr.
	Stderr io.Writer
}

// Boot is the result of a successful Start.
type Boot struct {
	Config   *config.Config
	Logger   *slog.Logger
	Notifier notify.Sink

	// Webhook is nil unless notify.url is configured.
	Webhook *notify.WebhookSink
}

// Start parses flags and builds the shared runtime. The returned
// cleanup must be called (after ctx is done or the binary's work has
// finished) to flush notifications and close the log file.
func Start(ctx context.Context, options Options) (*Boot, func(), error) {
	output := options.Output
	if output == nil {
		output = os.Stdout
	}

	var configPath, logLevel string
	var showVersion bool
	flagSet := pflag.NewFlagSet(options.Name, pflag.ContinueOnError)
	flagSet.SetOutput(io.Discard)
	flagSet.StringVar(&configPath, "config", "", "configuration file (.yaml, .yml, .json, .jsonc); defaults to $"+config.EnvConfigPath)
	flagSet.StringVar(&logLevel, "log-level", "", "override logging.level (debug, info, warn, error)")
	flagSet.BoolVar(&showVersion, "version", false, "print version information and exit")
	flagSet.BoolP("help", "h", false, "show help")
	if options.Flags != nil {
		options.Flags(flagSet)
	}

	if err := flagSet.Parse(options.Args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			printHelp(output, options, flagSet)
			return nil, nil, ErrHandled
		}
		return nil, nil, &process.UsageError{Err: err}
	}
	if help, _ := flagSet.GetBool("help"); help {
		printHelp(output, options, flagSet)
		return nil, nil, ErrHandled
	}
	if showVersion {
		fmt.Fprintf(output, "%s %s\n", options.Name, version.Full())
		return nil, nil, ErrHandled
	}
	if flagSet.NArg() > 0 {
		return nil, nil, &process.UsageError{Err: fmt.Errorf("unexpected argument: %s", flagSet.Arg(0))}
	}

	if configPath == "" {
		configPath = os.Getenv(config.EnvConfigPath)
	}
	cfg, err := config.LoadFile(configPath)
	if err != nil {
		return nil, nil, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	logger, logFile, err := logging.New(logging.Config{
		Level:      cfg.Logging.Level,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		Stderr:     options.Stderr,
	})
	if err != nil {
		return nil, nil, &process.UsageError{Err: err}
	}
	logger = logger.With("binary", options.Name)

	boot := &Boot{Config: cfg, Logger: logger}
	sinks := []notify.Sink{notify.LogSink{Logger: logger}}

	webhookCtx, stopWebhook := context.WithCancel(context.WithoutCancel(ctx))
	if cfg.Notify.URL != "" {
		boot.Webhook = notify.NewWebhookSink(notify.WebhookConfig{
			URL:       cfg.Notify.URL,
			QueueSize: cfg.Notify.QueueSize,
			Logger:    logger,
		})
		go boot.Webhook.Run(webhookCtx)
		sinks = append(sinks, boot.Webhook)
	}
	boot.Notifier = notify.Multi(sinks...)

	logger.Info("starting",
		"version", version.Info(),
		"environment", cfg.Environment,
		"config", configPath,
		"log_file", cfg.Logging.File,
		"notify_webhook", cfg.Notify.URL != "",
	)

	cleanup := func() {
		stopWebhook()
		if boot.Webhook != nil {
			<-boot.Webhook.Done()
		}
		if err := logFile.Close(); err != nil {
			logger.Warn("closing log file failed", "error", err)
		}
	}
	return boot, cleanup, nil
}

func printHelp(output io.Writer, options Options, flagSet *pflag.FlagSet) {
	if options.Summary != "" {
		fmt.Fprintf(output, "%s\n\n", options.Summary)
	}
	fmt.Fprintf(output, "Usage:\n  %s [flags]\n\nFlags:\n%s", options.Name, flagSet.FlagUsages())
}

// ClientConfig returns a client configuration for the server at url
// using the configured timeouts, retry policy, and notifier. The
// evaluator secret is attached only when withSecret is set.
func (b *Boot) ClientConfig(url string, withSecret bool) client.Config {
	cfg := b.Config.Client
	config := client.Config{
		URL:            url,
		AttemptTimeout: cfg.AttemptTimeout.Std(),
		Retry: retry.Policy{
			MaxRetries: cfg.MaxRetries,
			BaseDelay:  cfg.BaseDelay.Std(),
			Clock:      clock.Real(),
			Notifier:   b.Notifier,
			Logger:     b.Logger,
		},
		Logger: b.Logger,
	}
	if withSecret {
		config.Secret = b.Config.Evaluator.Secret
	}
	return config
}
