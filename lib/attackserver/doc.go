// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package attackserver exposes an [Attack] over HTTP so the evaluator
// can run it against a model server:
//
//	POST /run  model_url, image, label, criterion_name -> adversarial_image
//	GET  /, /server_version, /shutdown
//
// For each /run the server builds a client.Model for model_url and
// hands it to the attack, so every model query the attack makes goes
// through the retrying client and counts against the model server's
// quota. An attack that finds nothing answers with a nil
// adversarial_image.
//
// [NoiseAttack] is a minimal built-in attack: it adds Gaussian noise
// of increasing strength until the model changes its answer.
package attackserver
