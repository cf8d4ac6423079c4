// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package transport performs single HTTP exchanges with an AVC server:
// [Client.Post] sends a message document and decodes the reply,
// [Client.Get] fetches a text value.
//
// Every exchange is bounded by a per-attempt timeout. Failures are
// split into two classes that the retry policy relies on:
//
//   - *rpcerror.TransientError: connection refused or reset, timeout,
//     or a 5xx response with no decodable error payload.
//   - everything else: a *rpcerror.RemoteError decoded from the
//     server's error payload, a *rpcerror.ProtocolError for a reply
//     that is not a valid document, or cancellation of the caller's
//     context.
//
// Client does not retry; wrap calls with package retry for that.
package transport
