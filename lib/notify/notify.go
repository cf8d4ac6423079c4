// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package notify

import (
	"context"
	"log/slog"
	"maps"
	"strings"
	"sync"
	"time"
)

// Event names a notification. The string values are the platform's
// event identifiers and must not change.
type Event string

const (
	EventTooManyRequests     Event = "AVC.MODEL.TOO_MANY_REQUESTS_ERROR"
	EventNoClientInteraction Event = "AVC.MODEL.NO_CLIENT_INTERACTION"
	EventRetriesExceeded     Event = "AVC.ATTACK.RETRIES_EXCEEDED_ERROR"
	EventAttackComplete      Event = "AVC.ATTACK.COMPLETE"
	EventStoreAdversarial    Event = "AVC.ATTACK.STORE_ADVERSARIAL"

	// The platform registered this identifier with the misspelling;
	// it is kept as is.
	EventAssertionFailure Event = "AVC.ASSESTION_FAILURE"
)

// ChallengeID is attached to every notification payload.
const ChallengeID = "NIPS18_AVC"

// Family returns the event type the platform groups e under:
// "AVC.MODEL", "AVC.ATTACK", or "AVC.GENERAL".
func (e Event) Family() string {
	switch {
	case strings.HasPrefix(string(e), "AVC.MODEL."):
		return "AVC.MODEL"
	case strings.HasPrefix(string(e), "AVC.ATTACK."):
		return "AVC.ATTACK"
	default:
		return "AVC.GENERAL"
	}
}

// DefaultMessage is the human-readable text sent when the caller does
// not supply one.
func (e Event) DefaultMessage() string {
	switch e {
	case EventTooManyRequests:
		return "The attack has exceeded the max number of allowed predictions requests."
	case EventNoClientInteraction:
		return "The model server has not received any requests from the client for too long."
	case EventRetriesExceeded:
		return "No proper response from model after retrying multiple times."
	case EventAttackComplete:
		return "Attack successfully completed."
	default:
		return ""
	}
}

// Notification is one event with its payload.
type Notification struct {
	Event   Event          `json:"event_type"`
	Message string         `json:"message"`
	Payload map[string]any `json:"payload"`
	Time    time.Time      `json:"time"`

	// Blocking asks the sink to finish delivery before Notify
	// returns. Used for the final event of a run, after which the
	// process exits.
	Blocking bool `json:"-"`
}

// New builds a notification for event with the default message and a
// payload carrying challenge_id, type, and the extra fields. Extra
// fields override the defaults.
func New(event Event, extra map[string]any) Notification {
	payload := map[string]any{
		"challenge_id": ChallengeID,
		"type":         event.Family(),
	}
	maps.Copy(payload, extra)
	return Notification{
		Event:   event,
		Message: event.DefaultMessage(),
		Payload: payload,
		Time:    time.Now(),
	}
}

// Sink receives notifications. Implementations must be safe for
// concurrent use and must not block beyond queueing unless
// Notification.Blocking is set.
type Sink interface {
	Notify(ctx context.Context, notification Notification)
}

// Discard drops every notification.
var Discard Sink = discard{}

type discard struct{}

func (discard) Notify(context.Context, Notification) {}

// LogSink writes notifications to a logger. Model-side failures log
// at Error; everything else at Info.
type LogSink struct {
	Logger *slog.Logger
}

// Notify implements Sink.
func (s LogSink) Notify(ctx context.Context, notification Notification) {
	level := slog.LevelInfo
	switch notification.Event {
	case EventTooManyRequests, EventNoClientInteraction, EventRetriesExceeded, EventAssertionFailure:
		level = slog.LevelError
	}
	s.Logger.Log(ctx, level, "notification",
		"event", string(notification.Event),
		"message", notification.Message,
		"payload", notification.Payload,
	)
}

// Multi fans each notification out to every sink in order.
func Multi(sinks ...Sink) Sink {
	return multi(sinks)
}

type multi []Sink

func (m multi) Notify(ctx context.Context, notification Notification) {
	for _, sink := range m {
		sink.Notify(ctx, notification)
	}
}

// Recorder keeps every notification in memory. The zero value is
// ready to use.
type Recorder struct {
	mu            sync.Mutex
	notifications []Notification
}

// Notify implements Sink.
func (r *Recorder) Notify(_ context.Context, notification Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notifications = append(r.notifications, notification)
}

// Notifications returns a copy of everything recorded so far.
func (r *Recorder) Notifications() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notification(nil), r.notifications...)
}

// Count returns how many notifications of event were recorded.
func (r *Recorder) Count(event Event) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, notification := range r.notifications {
		if notification.Event == event {
			count++
		}
	}
	return count
}
