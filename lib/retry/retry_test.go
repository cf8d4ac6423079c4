// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package retry

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bureau-foundation/avc/lib/clock"
	"github.com/bureau-foundation/avc/lib/notify"
	"github.com/bureau-foundation/avc/lib/rpcerror"
	"github.com/bureau-foundation/avc/lib/testutil"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

const baseDelay = 3 * time.Second

type result struct {
	value int
	err   error
}

func newPolicy(fake *clock.FakeClock, recorder *notify.Recorder) Policy {
	return Policy{
		BaseDelay: baseDelay,
		Clock:     fake,
		Notifier:  recorder,
		Logger:    slog.New(slog.DiscardHandler),
	}
}

func transient() error {
	return &rpcerror.TransientError{Op: "POST /predict", Err: errors.New("connection refused")}
}

// advanceThroughBackoff waits for the policy to start sleeping before
// retry n, checks the sleep does not end early, then completes it.
func advanceThroughBackoff(t *testing.T, fake *clock.FakeClock, calls *atomic.Int32, retry int) {
	t.Helper()
	fake.WaitForTimers(1)
	before := calls.Load()

	fake.Advance(baseDelay*time.Duration(retry) - time.Nanosecond)
	time.Sleep(10 * time.Millisecond)
	if calls.Load() != before {
		t.Fatalf("retry %d ran before its %v backoff elapsed", retry, baseDelay*time.Duration(retry))
	}
	fake.Advance(time.Nanosecond)
}

func TestCallSucceedsAfterTransientFailures(t *testing.T) {
	fake := clock.Fake(epoch)
	recorder := &notify.Recorder{}
	policy := newPolicy(fake, recorder)

	var calls atomic.Int32
	done := make(chan result, 1)
	go func() {
		value, err := Call(context.Background(), policy, "POST /predict", func(context.Context) (int, error) {
			if calls.Add(1) < 3 {
				return 0, transient()
			}
			return 7, nil
		})
		done <- result{value, err}
	}()

	advanceThroughBackoff(t, fake, &calls, 1)
	advanceThroughBackoff(t, fake, &calls, 2)

	got := testutil.RequireReceive(t, done, 5*time.Second, "waiting for Call")
	if got.err != nil || got.value != 7 {
		t.Fatalf("Call = %d, %v; want 7, nil", got.value, got.err)
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
	if slept := fake.Now().Sub(epoch); slept != baseDelay*1+baseDelay*2 {
		t.Errorf("total backoff = %v, want %v", slept, baseDelay*3)
	}
	if len(recorder.Notifications()) != 0 {
		t.Errorf("unexpected notifications: %v", recorder.Notifications())
	}
}

func TestCallExhaustsBudget(t *testing.T) {
	fake := clock.Fake(epoch)
	recorder := &notify.Recorder{}
	policy := newPolicy(fake, recorder)

	var calls atomic.Int32
	done := make(chan result, 1)
	go func() {
		value, err := Call(context.Background(), policy, "POST /predict", func(context.Context) (int, error) {
			calls.Add(1)
			return 0, transient()
		})
		done <- result{value, err}
	}()

	for retry := 1; retry <= DefaultMaxRetries; retry++ {
		advanceThroughBackoff(t, fake, &calls, retry)
	}

	got := testutil.RequireReceive(t, done, 5*time.Second, "waiting for Call")
	var exhausted *rpcerror.RetriesExceededError
	if !errors.As(got.err, &exhausted) {
		t.Fatalf("error = %v, want *rpcerror.RetriesExceededError", got.err)
	}
	if exhausted.Attempts != DefaultMaxRetries+1 {
		t.Errorf("Attempts = %d, want %d", exhausted.Attempts, DefaultMaxRetries+1)
	}
	if int(calls.Load()) != DefaultMaxRetries+1 {
		t.Errorf("calls = %d, want %d", calls.Load(), DefaultMaxRetries+1)
	}
	if !rpcerror.IsTransient(exhausted.Last) {
		t.Errorf("Last = %v, want the transient cause", exhausted.Last)
	}
	if rpcerror.IsTransient(got.err) {
		t.Error("RetriesExceededError itself reported as transient")
	}
	if n := recorder.Count(notify.EventRetriesExceeded); n != 1 {
		t.Errorf("%d retries-exceeded notifications, want 1", n)
	}
	if fake.PendingCount() != 0 {
		t.Errorf("policy left %d timers pending", fake.PendingCount())
	}
}

func TestNonTransientErrorPropagatesImmediately(t *testing.T) {
	tests := map[string]error{
		"quota":    &rpcerror.RemoteError{Status: 429, Kind: rpcerror.KindQuotaExceeded},
		"shape":    &rpcerror.ShapeError{Field: "image"},
		"protocol": &rpcerror.ProtocolError{Reason: "not cbor"},
		"plain":    errors.New("decode failure"),
	}
	for name, failure := range tests {
		t.Run(name, func(t *testing.T) {
			fake := clock.Fake(epoch)
			recorder := &notify.Recorder{}
			calls := 0

			err := newPolicy(fake, recorder).Do(context.Background(), "POST /predict", func(context.Context) error {
				calls++
				return failure
			})
			if !errors.Is(err, failure) {
				t.Errorf("error = %v, want %v", err, failure)
			}
			if calls != 1 {
				t.Errorf("calls = %d, want 1", calls)
			}
			if len(recorder.Notifications()) != 0 {
				t.Error("non-transient failure sent a notification")
			}
		})
	}
}

func TestCancelDuringBackoff(t *testing.T) {
	fake := clock.Fake(epoch)
	policy := newPolicy(fake, &notify.Recorder{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- policy.Do(ctx, "GET /bounds", func(context.Context) error { return transient() })
	}()

	fake.WaitForTimers(1)
	cancel()

	err := testutil.RequireReceive(t, done, 5*time.Second, "waiting for Do")
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}

func TestPolicyDefaults(t *testing.T) {
	var policy Policy
	if policy.Attempts() != 4 {
		t.Errorf("Attempts() = %d, want 4", policy.Attempts())
	}
	if policy.Delay(2) != 6*time.Second {
		t.Errorf("Delay(2) = %v, want 6s", policy.Delay(2))
	}
}
