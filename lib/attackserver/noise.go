// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package attackserver

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"sync/atomic"

	"github.com/bureau-foundation/avc/lib/client"
	"github.com/bureau-foundation/avc/lib/tensor"
)

// DefaultEpsilons is the number of noise strengths NoiseAttack tries.
const DefaultEpsilons = 100

// NoiseAttack adds Gaussian noise with standard deviation
// epsilon*255/sqrt(3) for epsilon stepping evenly through (0, 1], and
// returns the first perturbed image the model does not assign to the
// label. Each step costs one prediction.
type NoiseAttack struct {
	// Epsilons defaults to DefaultEpsilons.
	Epsilons int

	// Seed makes the noise reproducible. Successive runs draw
	// distinct streams from the same seed.
	Seed uint64

	runs atomic.Uint64
}

// Run implements Attack.
func (a *NoiseAttack) Run(ctx context.Context, model *client.Model, image *tensor.Array, label int64, _ string) (*tensor.Array, error) {
	steps := a.Epsilons
	if steps <= 0 {
		steps = DefaultEpsilons
	}
	original, err := tensor.Values[float32](tensor.AsFloat32(image))
	if err != nil {
		return nil, err
	}
	random := rand.New(rand.NewPCG(a.Seed, a.runs.Add(1)))

	perturbed := make([]uint8, len(original))
	for step := 1; step <= steps; step++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		epsilon := float64(step) / float64(steps)
		deviation := epsilon * 255 / math.Sqrt(3)
		for i, value := range original {
			noisy := float64(value) + random.NormFloat64()*deviation
			perturbed[i] = uint8(math.Round(min(max(noisy, 0), 255)))
		}
		candidate, err := tensor.FromValues(image.Shape(), perturbed)
		if err != nil {
			return nil, err
		}
		prediction, err := model.Predict(ctx, candidate)
		if err != nil {
			return nil, fmt.Errorf("noise step %d/%d: %w", step, steps, err)
		}
		if prediction != label {
			return candidate, nil
		}
	}
	return nil, nil
}

var _ Attack = (*NoiseAttack)(nil)
