// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package liveness detects an attack client that has stopped talking
// to the model server.
//
// The server owns one [Monitor]. The dispatcher calls [Monitor.Mark]
// for every request it accepts; [Monitor.Run], started once alongside
// the HTTP listener, checks every CheckInterval whether more than
// Timeout has passed since the last mark. When it has, the monitor
// moves to [StateExpired], sends an EventNoClientInteraction
// notification, and Run returns *rpcerror.LivenessExpiredError. The
// hosting process treats that as fatal and shuts down.
//
// Expired is terminal: later marks do not revive the monitor, and Run
// may only be called once. Cancelling Run's context stops the monitor
// without expiring it.
package liveness
