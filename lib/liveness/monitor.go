// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package liveness

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bureau-foundation/avc/lib/clock"
	"github.com/bureau-foundation/avc/lib/notify"
	"github.com/bureau-foundation/avc/lib/rpcerror"
)

const (
	DefaultTimeout       = 180 * time.Second
	DefaultCheckInterval = 5 * time.Second
)

// ErrAlreadyStarted is returned by Run on every call after the first.
var ErrAlreadyStarted = errors.New("liveness monitor already started")

// State is the monitor's lifecycle position.
type State int

const (
	// StateIdle: constructed, Run not yet called.
	StateIdle State = iota
	// StateActive: Run is checking and the client is within timeout.
	StateActive
	// StateExpired: the timeout elapsed without a mark. Terminal.
	StateExpired
	// StateStopped: Run's context was cancelled before expiry.
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateActive:
		return "active"
	case StateExpired:
		return "expired"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Config configures a Monitor.
type Config struct {
	// Timeout is the longest allowed gap between marks. Defaults to
	// DefaultTimeout.
	Timeout time.Duration

	// CheckInterval is the polling period. Defaults to
	// DefaultCheckInterval.
	CheckInterval time.Duration

	// Clock is required.
	Clock clock.Clock

	Notifier notify.Sink

	// Logger is required.
	Logger *slog.Logger
}

// Monitor tracks the time of the last accepted request. Mark and
// State are safe to call concurrently with Run.
type Monitor struct {
	clock    clock.Clock
	timeout  time.Duration
	interval time.Duration
	id       uuid.UUID
	notifier notify.Sink
	logger   *slog.Logger

	mu       sync.Mutex
	lastMark time.Time
	state    State
	started  bool

	expired chan struct{}
}

// New creates a Monitor. The idle window starts now. Panics if Clock
// or Logger is missing.
func New(config Config) *Monitor {
	if config.Clock == nil {
		panic("liveness.Monitor: Clock is required")
	}
	if config.Logger == nil {
		panic("liveness.Monitor: Logger is required")
	}
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	interval := config.CheckInterval
	if interval <= 0 {
		interval = DefaultCheckInterval
	}
	notifier := config.Notifier
	if notifier == nil {
		notifier = notify.Discard
	}

	monitor := &Monitor{
		clock:    config.Clock,
		timeout:  timeout,
		interval: interval,
		id:       uuid.New(),
		notifier: notifier,
		logger:   config.Logger,
		lastMark: config.Clock.Now(),
		expired:  make(chan struct{}),
	}
	monitor.logger.Info("client interaction monitor created",
		"monitor_id", monitor.id.String(),
		"timeout", timeout,
		"check_interval", interval,
	)
	return monitor
}

// ID identifies this monitor instance in logs.
func (m *Monitor) ID() uuid.UUID {
	return m.id
}

// Mark records an inbound request.
func (m *Monitor) Mark() {
	now := m.clock.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastMark = now
}

// LastMark returns the time of the most recent mark.
func (m *Monitor) LastMark() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastMark
}

// State returns the current lifecycle state.
func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Expired is closed when the monitor reaches StateExpired.
func (m *Monitor) Expired() <-chan struct{} {
	return m.expired
}

// Run checks for client silence every CheckInterval until the timeout
// elapses or ctx is cancelled. Returns *rpcerror.LivenessExpiredError
// on expiry, nil on cancellation, and ErrAlreadyStarted if Run was
// called before.
func (m *Monitor) Run(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return ErrAlreadyStarted
	}
	m.started = true
	m.state = StateActive
	m.lastMark = m.clock.Now()
	m.mu.Unlock()

	ticker := m.clock.NewTicker(m.interval)
	defer ticker.Stop()

	m.logger.Info("client interaction monitor started", "monitor_id", m.id.String())

	for {
		select {
		case <-ctx.Done():
			m.mu.Lock()
			m.state = StateStopped
			m.mu.Unlock()
			m.logger.Info("client interaction monitor stopped", "monitor_id", m.id.String())
			return nil
		case <-ticker.C:
			if err := m.check(ctx); err != nil {
				return err
			}
		}
	}
}

// check expires the monitor if the idle time exceeds the timeout.
func (m *Monitor) check(ctx context.Context) error {
	now := m.clock.Now()

	m.mu.Lock()
	idle := now.Sub(m.lastMark)
	if idle <= m.timeout {
		m.mu.Unlock()
		return nil
	}
	m.state = StateExpired
	m.mu.Unlock()
	close(m.expired)

	m.logger.Error("client has not sent any requests to the server",
		"monitor_id", m.id.String(),
		"idle", idle,
		"timeout", m.timeout,
	)
	m.notifier.Notify(ctx, notify.New(notify.EventNoClientInteraction, map[string]any{
		"idle_seconds": idle.Seconds(),
	}))
	return &rpcerror.LivenessExpiredError{Idle: idle, Timeout: m.timeout}
}
