// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package service provides the HTTP listener lifecycle shared by the
// AVC model and attack servers.
//
// [HTTPServer] binds a TCP address, signals readiness, serves a
// caller-provided handler, and on context cancellation stops accepting
// connections and drains in-flight requests for up to
// ShutdownTimeout. Binaries compose it with their own handler and
// background tasks in main() rather than subclassing a framework.
package service
