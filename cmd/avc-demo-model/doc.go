// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// avc-demo-model serves a placeholder model that predicts the same
// class for every image. It exercises the whole model-server stack
// (quota, liveness, notifications, rotated log file) without a real
// network, and is what attack developers run locally before
// submitting against a real model.
//
// The listen port, quota size, and liveness timeout come from the
// configuration file and the usual environment variables (MODEL_PORT,
// NUM_IMAGES, CS_INTERACTION_TIMEOUT, EVALUATOR_SECRET, ...). The
// process exits 0 after GET /shutdown or SIGTERM, and exits 3 when no
// client has spoken for longer than the liveness timeout.
package main
