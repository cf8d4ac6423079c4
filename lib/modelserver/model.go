// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package modelserver

import (
	"context"

	"github.com/bureau-foundation/avc/lib/tensor"
)

// Model is the classifier being served.
type Model interface {
	// Bounds returns the input value range. Must be (0, 255).
	Bounds() (minimum, maximum float64)

	// ChannelAxis is 1 for channel-first input (3,64,64) or 3 for
	// channel-last input (64,64,3).
	ChannelAxis() int

	// Predictions classifies one float32 image laid out per
	// ChannelAxis. The result is either a single class index or a
	// vector of logits.
	Predictions(ctx context.Context, image *tensor.Array) (*tensor.Array, error)
}

// BatchModel is implemented by models that classify a batch in one
// call. Without it, /batch_predictions calls Predictions per image.
type BatchModel interface {
	// BatchPredictions classifies a float32 batch (N, ...) laid out
	// per ChannelAxis. The result has shape (N) of class indices or
	// (N, NumClasses) of logits.
	BatchPredictions(ctx context.Context, images *tensor.Array) (*tensor.Array, error)
}

// GradientModel is implemented by differentiable models.
type GradientModel interface {
	// PredictionsAndGradient returns the logits for image and the
	// gradient of the loss for label with respect to image.
	PredictionsAndGradient(ctx context.Context, image *tensor.Array, label int64) (predictions, gradient *tensor.Array, err error)

	// Backward back-propagates gradient (with respect to the logits)
	// to the input image.
	Backward(ctx context.Context, gradient, image *tensor.Array) (*tensor.Array, error)
}
