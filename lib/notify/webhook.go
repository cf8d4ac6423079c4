// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/bureau-foundation/avc/lib/netutil"
)

// defaultQueueSize bounds the number of undelivered notifications.
// Events are rare (a handful per run) so the queue only fills when the
// endpoint is down.
const defaultQueueSize = 64

// drainTimeout bounds the final delivery of queued notifications
// after Run's context is cancelled.
const drainTimeout = 2 * time.Second

// WebhookConfig configures a WebhookSink.
type WebhookConfig struct {
	// URL receives one JSON POST per notification. Required.
	URL string

	// Client performs the POSTs. Defaults to a client with a
	// 10-second timeout.
	Client *http.Client

	// QueueSize bounds pending notifications. Defaults to 64.
	QueueSize int

	// Logger records delivery failures and drops. Required.
	Logger *slog.Logger
}

// WebhookSink delivers notifications as JSON POSTs from a background
// goroutine. Notify enqueues and returns; when the queue is full the
// notification is dropped and logged. A Blocking notification is
// delivered synchronously on the caller's goroutine.
//
// Lifecycle: call Run in a goroutine; cancel its context to stop. Run
// delivers whatever is still queued (bounded by a short deadline)
// before closing Done.
type WebhookSink struct {
	url    string
	client *http.Client
	logger *slog.Logger
	queue  chan Notification
	done   chan struct{}
}

// NewWebhookSink creates a sink for config. Panics if a required field
// is missing.
func NewWebhookSink(config WebhookConfig) *WebhookSink {
	if config.URL == "" {
		panic("notify.WebhookSink: URL is required")
	}
	if config.Logger == nil {
		panic("notify.WebhookSink: Logger is required")
	}
	client := config.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	size := config.QueueSize
	if size <= 0 {
		size = defaultQueueSize
	}
	return &WebhookSink{
		url:    config.URL,
		client: client,
		logger: config.Logger,
		queue:  make(chan Notification, size),
		done:   make(chan struct{}),
	}
}

// Notify implements Sink.
func (s *WebhookSink) Notify(ctx context.Context, notification Notification) {
	if notification.Blocking {
		if err := s.deliver(ctx, notification); err != nil {
			s.logger.Warn("notification delivery failed",
				"event", string(notification.Event), "error", err)
		}
		return
	}
	select {
	case s.queue <- notification:
	default:
		s.logger.Warn("notification queue full, dropping",
			"event", string(notification.Event), "queue_size", cap(s.queue))
	}
}

// Run delivers queued notifications until ctx is cancelled.
func (s *WebhookSink) Run(ctx context.Context) {
	defer close(s.done)
	for {
		select {
		case notification := <-s.queue:
			if err := s.deliver(ctx, notification); err != nil {
				s.logger.Warn("notification delivery failed",
					"event", string(notification.Event), "error", err)
			}
		case <-ctx.Done():
			s.drain()
			return
		}
	}
}

// Done is closed after Run returns.
func (s *WebhookSink) Done() <-chan struct{} {
	return s.done
}

func (s *WebhookSink) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	for {
		select {
		case notification := <-s.queue:
			if err := s.deliver(ctx, notification); err != nil {
				s.logger.Warn("notification dropped during drain",
					"event", string(notification.Event), "error", err)
			}
		default:
			return
		}
	}
}

func (s *WebhookSink) deliver(ctx context.Context, notification Notification) error {
	body, err := json.Marshal(notification)
	if err != nil {
		return fmt.Errorf("encoding notification: %w", err)
	}
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")

	response, err := s.client.Do(request)
	if err != nil {
		return err
	}
	defer response.Body.Close()
	if response.StatusCode >= 300 {
		return fmt.Errorf("webhook returned %d: %s", response.StatusCode, netutil.ErrorBody(response.Body))
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(response.Body, netutil.MaxResponseSize))
	return nil
}
