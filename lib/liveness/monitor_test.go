// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package liveness

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/bureau-foundation/avc/lib/clock"
	"github.com/bureau-foundation/avc/lib/notify"
	"github.com/bureau-foundation/avc/lib/rpcerror"
	"github.com/bureau-foundation/avc/lib/testutil"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func startMonitor(t *testing.T) (*Monitor, *clock.FakeClock, *notify.Recorder, <-chan error, context.CancelFunc) {
	t.Helper()
	fake := clock.Fake(epoch)
	recorder := &notify.Recorder{}
	monitor := New(Config{
		Timeout:       DefaultTimeout,
		CheckInterval: DefaultCheckInterval,
		Clock:         fake,
		Notifier:      recorder,
		Logger:        slog.New(slog.DiscardHandler),
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- monitor.Run(ctx) }()
	fake.WaitForTimers(1)
	t.Cleanup(cancel)
	return monitor, fake, recorder, done, cancel
}

// advance moves the fake clock in check-interval steps.
func advance(fake *clock.FakeClock, total time.Duration) {
	for elapsed := time.Duration(0); elapsed < total; elapsed += DefaultCheckInterval {
		fake.Advance(DefaultCheckInterval)
		time.Sleep(time.Millisecond)
	}
}

func requireNotDone(t *testing.T, done <-chan error) {
	t.Helper()
	select {
	case err := <-done:
		t.Fatalf("Run returned early: %v", err)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestMarkKeepsMonitorActive(t *testing.T) {
	monitor, fake, recorder, done, _ := startMonitor(t)

	advance(fake, 170*time.Second)
	monitor.Mark()
	advance(fake, 170*time.Second)
	requireNotDone(t, done)

	if monitor.State() != StateActive {
		t.Errorf("State() = %s, want active", monitor.State())
	}
	if len(recorder.Notifications()) != 0 {
		t.Errorf("unexpected notifications: %v", recorder.Notifications())
	}
	if got := monitor.LastMark(); !got.Equal(epoch.Add(170 * time.Second)) {
		t.Errorf("LastMark() = %v", got)
	}
}

func TestSilenceExpiresExactlyOnce(t *testing.T) {
	monitor, fake, recorder, done, _ := startMonitor(t)

	advance(fake, 200*time.Second)

	err := testutil.RequireReceive(t, done, 5*time.Second, "waiting for expiry")
	var expired *rpcerror.LivenessExpiredError
	if !errors.As(err, &expired) {
		t.Fatalf("Run error = %v, want *rpcerror.LivenessExpiredError", err)
	}
	if expired.Idle <= DefaultTimeout || expired.Timeout != DefaultTimeout {
		t.Errorf("expired = %+v", expired)
	}
	testutil.RequireClosed(t, monitor.Expired(), time.Second, "Expired channel")
	if monitor.State() != StateExpired {
		t.Errorf("State() = %s, want expired", monitor.State())
	}

	// Terminal: marks do not revive, Run cannot restart.
	monitor.Mark()
	if monitor.State() != StateExpired {
		t.Errorf("State() after Mark = %s, want expired", monitor.State())
	}
	if err := monitor.Run(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("second Run = %v, want ErrAlreadyStarted", err)
	}
	if n := recorder.Count(notify.EventNoClientInteraction); n != 1 {
		t.Errorf("%d no-client-interaction notifications, want 1", n)
	}
}

func TestExactTimeoutIsNotExpired(t *testing.T) {
	monitor, fake, _, done, _ := startMonitor(t)

	advance(fake, DefaultTimeout)
	requireNotDone(t, done)
	if monitor.State() != StateActive {
		t.Errorf("State() at exactly the timeout = %s, want active", monitor.State())
	}

	advance(fake, DefaultCheckInterval)
	if _, ok := testutil.RequireReceive(t, done, 5*time.Second, "waiting for expiry").(*rpcerror.LivenessExpiredError); !ok {
		t.Error("monitor did not expire one interval past the timeout")
	}
}

func TestCancelStopsMonitor(t *testing.T) {
	monitor, fake, recorder, done, cancel := startMonitor(t)

	cancel()
	if err := testutil.RequireReceive(t, done, 5*time.Second, "waiting for Run"); err != nil {
		t.Fatalf("Run after cancel = %v, want nil", err)
	}
	if monitor.State() != StateStopped {
		t.Errorf("State() = %s, want stopped", monitor.State())
	}
	if fake.PendingCount() != 0 {
		t.Errorf("ticker still registered after stop")
	}
	if len(recorder.Notifications()) != 0 {
		t.Error("cancellation sent a notification")
	}
}

func TestNewDefaultsAndID(t *testing.T) {
	first := New(Config{Clock: clock.Fake(epoch), Logger: slog.New(slog.DiscardHandler)})
	second := New(Config{Clock: clock.Fake(epoch), Logger: slog.New(slog.DiscardHandler)})

	if first.timeout != DefaultTimeout || first.interval != DefaultCheckInterval {
		t.Errorf("defaults = %v/%v", first.timeout, first.interval)
	}
	if first.ID() == second.ID() {
		t.Error("two monitors share an ID")
	}
	if first.State() != StateIdle {
		t.Errorf("State() before Run = %s, want idle", first.State())
	}
}
