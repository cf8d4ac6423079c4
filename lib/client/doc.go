// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package client talks to AVC model and attack servers.
//
// [Model] wraps a model server: predictions for one image or a batch,
// gradients when the server offers them, and the descriptive GET
// routes (bounds, channel axis, image size, class count, channel
// order, dataset, version). [Attack] wraps an attack server's /run.
//
// Every remote call goes through a retry.Policy over a
// transport.Client, so transient network failures are retried with
// linear backoff while quota, shape, and protocol errors surface on
// the first attempt.
package client
