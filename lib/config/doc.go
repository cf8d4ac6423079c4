// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for AVC binaries.
//
// Configuration comes from at most one file, named by the --config
// flag (via [LoadFile]) or the AVC_CONFIG environment variable (via
// [Load]). Files ending in .yaml or .yml are parsed as YAML; .json and
// .jsonc files are parsed as JSON with comments and trailing commas
// allowed. Without a file, [Default] values apply.
//
// The file may contain development and production sections that
// override base values when [Config].Environment matches.
//
// After the file, the environment variables the challenge tooling
// has always used are applied: MODEL_PORT, MODEL_SERVER, NUM_IMAGES,
// CS_INTERACTION_TIMEOUT, CS_INTERACTION_CHECK_INTERVAL,
// EVALUATOR_SECRET, LOG_FILE, INPUT_IMG_PATH, INPUT_CSV_PATH,
// OUTPUT_ADVERSARIAL_PATH, and NOTIFY_URL. Path fields then have
// ${HOME} and ${VAR:-default} patterns expanded.
//
// This package depends on no other AVC packages.
package config
