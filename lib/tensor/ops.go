// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package tensor

import (
	"encoding/binary"
	"fmt"
	"math"
	"slices"

	"github.com/bureau-foundation/avc/lib/rpcerror"
)

// AsFloat32 converts every element to a little-endian float32 array of
// the same shape.
func AsFloat32(a *Array) *Array {
	if a.dtype == Float32 {
		return a
	}
	data := make([]byte, 0, a.Size()*4)
	for i := range a.Size() {
		data = binary.LittleEndian.AppendUint32(data, math.Float32bits(float32(a.Float64At(i))))
	}
	return &Array{shape: a.Shape(), dtype: Float32, data: data}
}

// Transpose permutes the axes of a. axes must be a permutation of
// 0..NDim()-1; Transpose(a, 2, 0, 1) turns height×width×channel into
// channel×height×width.
func Transpose(a *Array, axes ...int) (*Array, error) {
	if len(axes) != a.NDim() {
		return nil, fmt.Errorf("transpose: %d axes for a %d-dimensional array", len(axes), a.NDim())
	}
	seen := make([]bool, len(axes))
	for _, axis := range axes {
		if axis < 0 || axis >= len(axes) || seen[axis] {
			return nil, fmt.Errorf("transpose: %v is not a permutation", axes)
		}
		seen[axis] = true
	}

	itemSize := a.dtype.ItemSize()
	sourceStrides := strides(a.shape)
	outputShape := make([]int, len(axes))
	for i, axis := range axes {
		outputShape[i] = a.shape[axis]
	}

	data := make([]byte, len(a.data))
	index := make([]int, len(axes))
	for output := range a.Size() {
		source := 0
		for i, axis := range axes {
			source += index[i] * sourceStrides[axis]
		}
		copy(data[output*itemSize:(output+1)*itemSize], a.data[source*itemSize:(source+1)*itemSize])

		// Advance the row-major counter over the output shape.
		for i := len(index) - 1; i >= 0; i-- {
			index[i]++
			if index[i] < outputShape[i] {
				break
			}
			index[i] = 0
		}
	}
	return &Array{shape: outputShape, dtype: a.dtype, data: data}, nil
}

// ArgMax returns the row-major index of the largest element. Ties
// resolve to the lowest index.
func ArgMax(a *Array) int {
	best := 0
	bestValue := math.Inf(-1)
	for i := range a.Size() {
		if value := a.Float64At(i); value > bestValue {
			best, bestValue = i, value
		}
	}
	return best
}

// Slice returns the index-th sub-array along the first axis.
func Slice(a *Array, index int) (*Array, error) {
	if a.NDim() == 0 || index < 0 || index >= a.shape[0] {
		return nil, fmt.Errorf("slice: index %d out of range for shape %v", index, a.shape)
	}
	width := len(a.data) / a.shape[0]
	return &Array{
		shape: slices.Clone(a.shape[1:]),
		dtype: a.dtype,
		data:  a.data[index*width : (index+1)*width],
	}, nil
}

// Constraint is a required shape and dtype for an array field. A
// negative dimension matches any size; a zero DType matches any
// element type.
type Constraint struct {
	Shape []int
	DType DType
}

// Check returns a *rpcerror.ShapeError naming field when a violates c.
func (c Constraint) Check(field string, a *Array) error {
	if !c.matchesShape(a.shape) {
		return &rpcerror.ShapeError{
			Field:         field,
			Reason:        "unexpected shape",
			ExpectedShape: slices.Clone(c.Shape),
			ActualShape:   a.Shape(),
		}
	}
	if c.DType != (DType{}) && a.dtype != c.DType {
		return &rpcerror.ShapeError{
			Field:         field,
			Reason:        "unexpected element type",
			ExpectedDType: c.DType.String(),
			ActualDType:   a.dtype.String(),
		}
	}
	return nil
}

func (c Constraint) matchesShape(shape []int) bool {
	if len(shape) != len(c.Shape) {
		return false
	}
	for i, dimension := range c.Shape {
		if dimension >= 0 && shape[i] != dimension {
			return false
		}
	}
	return true
}

func strides(shape []int) []int {
	result := make([]int, len(shape))
	stride := 1
	for i := len(shape) - 1; i >= 0; i-- {
		result[i] = stride
		stride *= shape[i]
	}
	return result
}
