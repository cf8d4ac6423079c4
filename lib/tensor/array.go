// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package tensor

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"reflect"
	"slices"

	"github.com/zeebo/blake3"

	"github.com/bureau-foundation/avc/lib/rpcerror"
)

// Array is an immutable n-dimensional numeric array stored as raw
// row-major bytes. The zero-length shape denotes a scalar holding one
// element.
type Array struct {
	shape []int
	dtype DType
	data  []byte
}

// Element is the set of Go types with a fixed-width array
// representation.
type Element interface {
	~uint8 | ~int8 | ~uint16 | ~int16 | ~uint32 | ~int32 |
		~uint64 | ~int64 | ~float32 | ~float64
}

// New wraps data as an array of the given dtype and shape. The array
// takes ownership of data: the caller must not modify it afterwards.
// Returns a *rpcerror.ShapeError when len(data) is not
// product(shape) * dtype.ItemSize().
func New(dtype DType, shape []int, data []byte) (*Array, error) {
	if err := dtype.validate(); err != nil {
		return nil, &rpcerror.ShapeError{Reason: err.Error(), ActualDType: dtype.String()}
	}
	if dtype.Size == 1 {
		dtype.BigEndian = false
	}
	count, err := elementCount(shape)
	if err != nil {
		return nil, err
	}
	if want := count * dtype.ItemSize(); len(data) != want {
		return nil, &rpcerror.ShapeError{
			Reason:      fmt.Sprintf("data is %d bytes, shape %v of %s requires %d", len(data), shape, dtype, want),
			ActualShape: slices.Clone(shape),
			ActualDType: dtype.String(),
		}
	}
	return &Array{shape: slices.Clone(shape), dtype: dtype, data: data}, nil
}

// Zeros returns a zero-filled array.
func Zeros(dtype DType, shape ...int) (*Array, error) {
	count, err := elementCount(shape)
	if err != nil {
		return nil, err
	}
	return New(dtype, shape, make([]byte, count*dtype.ItemSize()))
}

// FromValues builds a little-endian array from a flat row-major slice.
func FromValues[T Element](shape []int, values []T) (*Array, error) {
	dtype := dtypeFor[T]()
	count, err := elementCount(shape)
	if err != nil {
		return nil, err
	}
	if len(values) != count {
		return nil, &rpcerror.ShapeError{
			Reason:      fmt.Sprintf("%d values cannot fill shape %v", len(values), shape),
			ActualShape: slices.Clone(shape),
			ActualDType: dtype.String(),
		}
	}
	data, err := binary.Append(make([]byte, 0, count*dtype.ItemSize()), binary.LittleEndian, values)
	if err != nil {
		return nil, fmt.Errorf("encoding %s values: %w", dtype, err)
	}
	return New(dtype, shape, data)
}

// Values returns a copy of the elements as a flat row-major slice. The
// array's dtype must match T exactly apart from byte order.
func Values[T Element](a *Array) ([]T, error) {
	want := dtypeFor[T]()
	if a.dtype.Kind != want.Kind || a.dtype.Size != want.Size {
		return nil, &rpcerror.ShapeError{
			Reason:        "element type mismatch",
			ExpectedDType: want.String(),
			ActualDType:   a.dtype.String(),
		}
	}
	values := make([]T, a.Size())
	if err := binary.Read(bytes.NewReader(a.data), a.dtype.byteOrder(), values); err != nil {
		return nil, fmt.Errorf("decoding %s values: %w", a.dtype, err)
	}
	return values, nil
}

// Shape returns a copy of the array's dimensions.
func (a *Array) Shape() []int { return slices.Clone(a.shape) }

// DType returns the element type.
func (a *Array) DType() DType { return a.dtype }

// NDim returns the number of dimensions.
func (a *Array) NDim() int { return len(a.shape) }

// Size returns the number of elements.
func (a *Array) Size() int {
	count := 1
	for _, dimension := range a.shape {
		count *= dimension
	}
	return count
}

// Bytes returns the raw element bytes. The slice aliases the array's
// storage and must not be modified.
func (a *Array) Bytes() []byte { return a.data }

// Equal reports whether a and b have identical shape, dtype, and bytes.
func (a *Array) Equal(b *Array) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.dtype == b.dtype && slices.Equal(a.shape, b.shape) && bytes.Equal(a.data, b.data)
}

// Float64At returns element i (row-major) converted to float64.
func (a *Array) Float64At(i int) float64 {
	size := a.dtype.Size
	raw := a.data[i*size : (i+1)*size]
	order := a.dtype.byteOrder()

	switch a.dtype.Kind {
	case 'b':
		if raw[0] != 0 {
			return 1
		}
		return 0
	case 'u':
		switch size {
		case 1:
			return float64(raw[0])
		case 2:
			return float64(order.Uint16(raw))
		case 4:
			return float64(order.Uint32(raw))
		default:
			return float64(order.Uint64(raw))
		}
	case 'i':
		switch size {
		case 1:
			return float64(int8(raw[0]))
		case 2:
			return float64(int16(order.Uint16(raw)))
		case 4:
			return float64(int32(order.Uint32(raw)))
		default:
			return float64(int64(order.Uint64(raw)))
		}
	default:
		if size == 4 {
			return float64(math.Float32frombits(order.Uint32(raw)))
		}
		return math.Float64frombits(order.Uint64(raw))
	}
}

// Digest returns a short BLAKE3 fingerprint of the array's dtype,
// shape, and bytes for log correlation.
func (a *Array) Digest() string {
	hasher := blake3.New()
	fmt.Fprintf(hasher, "%s%v", a.dtype, a.shape)
	hasher.Write(a.data)
	return hex.EncodeToString(hasher.Sum(nil)[:8])
}

// String summarizes the array without dumping its contents.
func (a *Array) String() string {
	return fmt.Sprintf("array(shape=%v, dtype=%s)", a.shape, a.dtype)
}

func elementCount(shape []int) (int, error) {
	count := 1
	for _, dimension := range shape {
		if dimension <= 0 {
			return 0, &rpcerror.ShapeError{
				Reason:      fmt.Sprintf("dimension %d is not positive", dimension),
				ActualShape: slices.Clone(shape),
			}
		}
		if count > math.MaxInt32/dimension {
			return 0, &rpcerror.ShapeError{
				Reason:      "element count overflows",
				ActualShape: slices.Clone(shape),
			}
		}
		count *= dimension
	}
	return count, nil
}

func dtypeFor[T Element]() DType {
	kind := reflect.TypeFor[T]().Kind()
	switch kind {
	case reflect.Uint8:
		return Uint8
	case reflect.Int8:
		return Int8
	case reflect.Uint16:
		return Uint16
	case reflect.Int16:
		return Int16
	case reflect.Uint32:
		return Uint32
	case reflect.Int32:
		return Int32
	case reflect.Uint64:
		return Uint64
	case reflect.Int64:
		return Int64
	case reflect.Float32:
		return Float32
	case reflect.Float64:
		return Float64
	}
	panic(fmt.Sprintf("tensor: no dtype for kind %s", kind))
}
