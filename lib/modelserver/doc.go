// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package modelserver exposes a [Model] over HTTP for attack clients.
//
// [New] checks the model at startup (channel axis 1 or 3, bounds
// exactly 0..255) and registers its routes on a dispatcher:
//
//	POST /predict                   image (64,64,3) uint8 -> prediction
//	POST /batch_predictions         images (N,64,64,3) uint8 -> predictions
//	POST /predictions_and_gradient  image, label -> predictions, gradient
//	POST /backward                  gradient, image -> gradient
//	GET  /, /server_version, /bounds, /channel_axis, /num_classes,
//	     /image_size, /channel_order, /dataset, /shutdown
//
// The two gradient routes exist only when the model implements
// [GradientModel].
//
// Before a prediction the uint8 image is converted to float32 and,
// for a channel-first model, transposed to (3,64,64). A model may
// answer with a class index or with a logits vector of NumClasses
// entries, which is arg-maxed. A result outside [0, NumClasses) is an
// assertion failure: the request fails and an EventAssertionFailure
// notification is sent.
//
// [Serve] runs a Server, its liveness monitor, and the HTTP listener
// together until shutdown, cancellation, or client silence.
package modelserver
