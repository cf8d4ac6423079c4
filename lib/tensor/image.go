// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package tensor

import (
	"fmt"
	"log/slog"
	"math"
	"slices"

	"github.com/bureau-foundation/avc/lib/rpcerror"
)

// Image geometry accepted by every model server: 64×64 pixels, three
// channels, channel axis last.
const (
	ImageSize     = 64
	ImageChannels = 3
)

// ImageConstraint is the boundary check for a single inference input.
var ImageConstraint = Constraint{Shape: []int{ImageSize, ImageSize, ImageChannels}, DType: Uint8}

// BatchConstraint is the boundary check for a batch of inference
// inputs with any leading batch size.
var BatchConstraint = Constraint{Shape: []int{-1, ImageSize, ImageSize, ImageChannels}, DType: Uint8}

// CheckImage prepares a client-side image for sending. A 64×64×3
// uint8 array passes through unchanged. A float32 array of that shape
// is clipped to [0, 255] (logging a warning when clipping changes a
// value) and truncated to uint8. Anything else, including a float32
// image holding NaN, is a *rpcerror.ShapeError.
func CheckImage(image *Array, logger *slog.Logger) (*Array, error) {
	if !ImageConstraint.matchesShape(image.shape) {
		return nil, &rpcerror.ShapeError{
			Field:         "image",
			Reason:        "image should be of size 64x64x3",
			ExpectedShape: slices.Clone(ImageConstraint.Shape),
			ActualShape:   image.Shape(),
		}
	}

	switch image.dtype {
	case Uint8:
		return image, nil
	case Float32:
	default:
		return nil, &rpcerror.ShapeError{
			Field:         "image",
			Reason:        "image should be uint8 or float32",
			ExpectedDType: Uint8.String(),
			ActualDType:   image.dtype.String(),
		}
	}

	minimum, maximum := math.Inf(1), math.Inf(-1)
	data := make([]byte, image.Size())
	for i := range data {
		value := image.Float64At(i)
		if math.IsNaN(value) {
			return nil, &rpcerror.ShapeError{
				Field:  "image",
				Reason: fmt.Sprintf("element %d is NaN", i),
			}
		}
		minimum = min(minimum, value)
		maximum = max(maximum, value)
		data[i] = uint8(min(max(value, 0), 255))
	}
	if minimum < 0 {
		logger.Warn("clipped values smaller than 0 to 0", "minimum", minimum)
	}
	if maximum > 255 {
		logger.Warn("clipped values greater than 255 to 255", "maximum", maximum)
	}
	return &Array{shape: image.Shape(), dtype: Uint8, data: data}, nil
}
