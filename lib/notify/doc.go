// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package notify delivers competition-platform events: quota
// exhaustion, a client gone silent, an attack run finishing, an
// adversarial written to disk.
//
// Delivery is fire-and-forget. [Sink.Notify] never returns an error
// and never blocks the caller for longer than a channel send; a sink
// that cannot deliver logs and drops. Components take a [Sink] and
// default to [Discard] when none is configured.
//
// Sinks:
//   - [LogSink] writes each event as a structured log record.
//   - [WebhookSink] POSTs JSON to a URL from a bounded background queue.
//   - [Recorder] keeps events in memory for tests.
//   - [Multi] fans one event out to several sinks.
package notify
