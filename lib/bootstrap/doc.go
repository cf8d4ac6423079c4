// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package bootstrap performs the startup every AVC binary shares:
// flag parsing, configuration loading, logger construction, and the
// notification sinks.
//
// [Start] registers the common flags (--config, --log-level,
// --version, --help) next to the binary's own, loads the
// configuration file and environment through lib/config, builds the
// logger through lib/logging, and returns a [Boot] whose Notifier
// logs every event and, when notify.url is set, also posts it to the
// webhook. The cleanup function returned alongside drains the webhook
// queue and closes the log file.
//
// --version and --help print to the configured output and return
// [ErrHandled]; main treats that as a clean exit.
package bootstrap
