// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package version reports the build of an AVC binary. [GitCommit],
// [GitDirty], [BuildTime], and [Version] are injected with -ldflags -X
// and keep their development defaults in tests.
//
// [Short] is what the model and attack servers return from
// /server_version; [Info] and [Full] are logged at startup and printed
// by --version.
package version
