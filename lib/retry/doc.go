// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package retry wraps a remote call in a bounded retry loop with
// linear backoff.
//
// Only failures that rpcerror.IsTransient accepts are retried. Retry n
// (counting from 1) waits BaseDelay*n first. After the initial attempt
// and MaxRetries retries have all failed transiently, the policy sends
// one EventRetriesExceeded notification and returns a
// *rpcerror.RetriesExceededError wrapping the last cause. Any other
// error is returned unchanged from the attempt that produced it.
//
// Waits go through the policy's Clock and end early if the caller's
// context is cancelled.
package retry
