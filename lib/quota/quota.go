// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package quota enforces the model server's request budget.
//
// One Enforcer per server holds the remaining count, initialized to
// images × requests-per-image. Every non-privileged request takes one
// unit in a single atomic step; once the count drops below zero the
// request is rejected with *rpcerror.QuotaExceededError and a
// notification is sent. The count keeps falling with each rejected
// request, so rejection is permanent for the server's lifetime.
//
// A request is privileged when it carries the evaluator's shared
// secret. Privileged requests neither consume nor check the budget.
package quota

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"math"
	"net/http"
	"sync/atomic"

	"github.com/bureau-foundation/avc/lib/notify"
	"github.com/bureau-foundation/avc/lib/rpcerror"
)

// DefaultRequestsPerImage is the allowance per expected image.
const DefaultRequestsPerImage = 1000

// Config configures an Enforcer.
type Config struct {
	// Budget is the initial remaining count. Typically
	// NUM_IMAGES * DefaultRequestsPerImage.
	Budget int64

	// Secret is the evaluator's shared secret. Empty disables the
	// privileged path entirely.
	Secret string

	// SecretHeader names the header checked against Secret.
	// Required when Secret is set.
	SecretHeader string

	Notifier notify.Sink

	// Logger is required.
	Logger *slog.Logger
}

// Enforcer tracks the shared request budget. Safe for concurrent use.
type Enforcer struct {
	remaining    atomic.Int64
	secret       []byte
	secretHeader string
	notifier     notify.Sink
	logger       *slog.Logger
}

// New creates an Enforcer. Panics if a required field is missing.
func New(config Config) *Enforcer {
	if config.Logger == nil {
		panic("quota.Enforcer: Logger is required")
	}
	if config.Secret != "" && config.SecretHeader == "" {
		panic("quota.Enforcer: SecretHeader is required when Secret is set")
	}
	notifier := config.Notifier
	if notifier == nil {
		notifier = notify.Discard
	}
	enforcer := &Enforcer{
		secretHeader: config.SecretHeader,
		notifier:     notifier,
		logger:       config.Logger,
	}
	if config.Secret != "" {
		enforcer.secret = []byte(config.Secret)
	}
	enforcer.remaining.Store(config.Budget)
	return enforcer
}

// Budget returns images × requestsPerImage, saturating at
// math.MaxInt64 instead of wrapping negative.
func Budget(images, requestsPerImage int64) int64 {
	if images > 0 && requestsPerImage > 0 && images > math.MaxInt64/requestsPerImage {
		return math.MaxInt64
	}
	return images * requestsPerImage
}

// Privileged reports whether request carries the configured secret.
// Always false when no secret is configured.
func (e *Enforcer) Privileged(request *http.Request) bool {
	if e.secret == nil {
		return false
	}
	values := request.Header.Values(e.secretHeader)
	if len(values) != 1 {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(values[0]), e.secret) == 1
}

// Admit applies the quota to one request. Privileged requests pass
// without touching the budget.
func (e *Enforcer) Admit(ctx context.Context, request *http.Request) error {
	if e.Privileged(request) {
		return nil
	}
	return e.Consume(ctx)
}

// Consume takes one unit of budget, returning
// *rpcerror.QuotaExceededError when the count falls below zero.
func (e *Enforcer) Consume(ctx context.Context) error {
	remaining := e.remaining.Add(-1)
	if remaining >= 0 {
		e.logger.Debug("quota consumed", "remaining", remaining)
		return nil
	}
	e.logger.Error("maximal number of prediction requests exceeded", "remaining", remaining)
	e.notifier.Notify(ctx, notify.New(notify.EventTooManyRequests, map[string]any{"remaining": remaining}))
	return &rpcerror.QuotaExceededError{Remaining: remaining}
}

// Remaining returns the current count, negative once exhausted.
func (e *Enforcer) Remaining() int64 {
	return e.remaining.Load()
}
