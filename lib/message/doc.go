// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package message is the request and response body shared by clients
// and servers: a flat mapping from field name to a scalar or an array,
// carried as one CBOR document. Field order is irrelevant.
package message
