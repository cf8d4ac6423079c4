// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"

	"github.com/bureau-foundation/avc/lib/tensor"
)

// Defaults for the demo model.
const (
	defaultClass       = 22
	defaultChannelAxis = 1
)

// constantModel predicts one class regardless of input.
type constantModel struct {
	class       int64
	channelAxis int
}

func (m constantModel) Bounds() (float64, float64) { return 0, 255 }
func (m constantModel) ChannelAxis() int           { return m.channelAxis }

func (m constantModel) Predictions(context.Context, *tensor.Array) (*tensor.Array, error) {
	return tensor.FromValues(nil, []int64{m.class})
}
