// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package retry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bureau-foundation/avc/lib/clock"
	"github.com/bureau-foundation/avc/lib/notify"
	"github.com/bureau-foundation/avc/lib/rpcerror"
)

const (
	// DefaultMaxRetries is the number of retries after the initial
	// attempt.
	DefaultMaxRetries = 3

	// DefaultBaseDelay is the backoff unit; retry n waits n units.
	DefaultBaseDelay = 3 * time.Second
)

// Policy describes how a call is retried. The zero value of a numeric
// field selects its default; Clock, Notifier, and Logger default to
// the real clock, notify.Discard, and slog.Default().
type Policy struct {
	MaxRetries int
	BaseDelay  time.Duration
	Clock      clock.Clock
	Notifier   notify.Sink
	Logger     *slog.Logger
}

// Delay returns the wait before retry n (1-based).
func (p Policy) Delay(retry int) time.Duration {
	return p.baseDelay() * time.Duration(retry)
}

// Attempts returns the maximum number of calls the policy makes.
func (p Policy) Attempts() int {
	return p.maxRetries() + 1
}

// Do runs call until it succeeds, fails with a non-transient error,
// or the retry budget is spent. op names the operation in logs and in
// the terminal error.
func (p Policy) Do(ctx context.Context, op string, call func(context.Context) error) error {
	_, err := Call(ctx, p, op, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, call(ctx)
	})
	return err
}

// Call is Do for calls that return a value.
func Call[T any](ctx context.Context, p Policy, op string, call func(context.Context) (T, error)) (T, error) {
	var zero T
	logger := p.logger()
	attempts := p.Attempts()

	var last error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			delay := p.Delay(attempt - 1)
			logger.Info("retrying",
				"op", op,
				"retry", attempt-1,
				"delay", delay,
				"error", last,
			)
			if err := p.wait(ctx, delay); err != nil {
				return zero, fmt.Errorf("%s: waiting to retry: %w", op, err)
			}
		}

		result, err := call(ctx)
		if err == nil {
			return result, nil
		}
		if !rpcerror.IsTransient(err) {
			return zero, err
		}
		last = err
	}

	logger.Error("retries exhausted, giving up",
		"op", op,
		"attempts", attempts,
		"error", last,
	)
	p.notifier().Notify(ctx, notify.New(notify.EventRetriesExceeded, map[string]any{"op": op}))
	return zero, &rpcerror.RetriesExceededError{Op: op, Attempts: attempts, Last: last}
}

func (p Policy) wait(ctx context.Context, delay time.Duration) error {
	select {
	case <-p.clock().After(delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p Policy) maxRetries() int {
	if p.MaxRetries <= 0 {
		return DefaultMaxRetries
	}
	return p.MaxRetries
}

func (p Policy) baseDelay() time.Duration {
	if p.BaseDelay <= 0 {
		return DefaultBaseDelay
	}
	return p.BaseDelay
}

func (p Policy) clock() clock.Clock {
	if p.Clock == nil {
		return clock.Real()
	}
	return p.Clock
}

func (p Policy) notifier() notify.Sink {
	if p.Notifier == nil {
		return notify.Discard
	}
	return p.Notifier
}

func (p Policy) logger() *slog.Logger {
	if p.Logger == nil {
		return slog.Default()
	}
	return p.Logger
}
