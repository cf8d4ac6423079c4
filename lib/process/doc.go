// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package process provides entrypoint helpers for AVC binaries: fatal
// error reporting to stderr for errors that may precede the
// structured logger, and the exit code each failure kind maps to.
//
// Evaluation harnesses read the exit code to tell a model server that
// stopped on client silence from one that crashed.
package process
