// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package rpcerror defines the failure kinds shared by the AVC client
// and server, and how they cross the wire.
//
// Only [TransientError] is retried, and only by the client's retry
// policy. Every other kind surfaces immediately with its diagnostic
// detail: [ShapeError] carries the field and the expected versus
// actual shape or dtype, [QuotaExceededError] the remaining budget,
// [LivenessExpiredError] the idle time, [RetriesExceededError] the
// attempt count and last cause.
//
// The server writes a [Payload] document with the status
// [HTTPStatus] assigns to the error's [Kind]; the client turns that
// payload back into a [RemoteError]. Match kinds with errors.As on
// the concrete types, or with [KindOf] when only the class matters.
package rpcerror
