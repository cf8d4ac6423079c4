// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package tensor

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"math"
	"slices"
	"testing"

	"github.com/bureau-foundation/avc/lib/codec"
	"github.com/bureau-foundation/avc/lib/rpcerror"
)

func TestParseDType(t *testing.T) {
	tests := []struct {
		descriptor string
		want       DType
		canonical  string
	}{
		{"u1", Uint8, "u1"},
		{"|u1", Uint8, "u1"},
		{"<f4", Float32, "f4"},
		{"=i8", Int64, "i8"},
		{">f8", DType{Kind: 'f', Size: 8, BigEndian: true}, ">f8"},
		{">u1", Uint8, "u1"},
		{"|b1", Bool, "b1"},
	}
	for _, test := range tests {
		t.Run(test.descriptor, func(t *testing.T) {
			got, err := ParseDType(test.descriptor)
			if err != nil {
				t.Fatalf("ParseDType(%q): %v", test.descriptor, err)
			}
			if got != test.want {
				t.Errorf("ParseDType(%q) = %+v, want %+v", test.descriptor, got, test.want)
			}
			if got.String() != test.canonical {
				t.Errorf("String() = %q, want %q", got.String(), test.canonical)
			}
		})
	}
}

func TestParseDTypeRejects(t *testing.T) {
	for _, descriptor := range []string{"", "<", "u", "u3", "f2", "x4", "b2", "<fx"} {
		if _, err := ParseDType(descriptor); err == nil {
			t.Errorf("ParseDType(%q) succeeded, want error", descriptor)
		}
	}
}

func TestRoundTripAllDTypes(t *testing.T) {
	shapes := [][]int{{}, {1}, {7}, {2, 3}, {2, 3, 4}, {1, 64, 64, 3}}
	dtypes := []DType{Bool, Uint8, Int8, Uint16, Int16, Uint32, Int32, Uint64, Int64, Float32, Float64,
		{Kind: 'i', Size: 4, BigEndian: true}, {Kind: 'f', Size: 8, BigEndian: true}}

	for _, dtype := range dtypes {
		for _, shape := range shapes {
			count := 1
			for _, dimension := range shape {
				count *= dimension
			}
			data := make([]byte, count*dtype.ItemSize())
			for i := range data {
				data[i] = byte(i*31 + 7)
			}
			original, err := New(dtype, shape, data)
			if err != nil {
				t.Fatalf("New(%s, %v): %v", dtype, shape, err)
			}

			decoded, err := Decode(Encode(original))
			if err != nil {
				t.Fatalf("Decode(Encode(%s %v)): %v", dtype, shape, err)
			}
			if !decoded.Equal(original) {
				t.Errorf("round trip of %s %v changed the array", dtype, shape)
			}
		}
	}
}

func TestRoundTripThroughCBOR(t *testing.T) {
	original, err := FromValues([]int{2, 2}, []float32{1.5, -2, float32(math.Inf(1)), 0})
	if err != nil {
		t.Fatalf("FromValues: %v", err)
	}

	data, err := codec.Marshal(Encode(original))
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var envelope Envelope
	if err := codec.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	decoded, err := Decode(envelope)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !bytes.Equal(decoded.Bytes(), original.Bytes()) || !decoded.Equal(original) {
		t.Errorf("CBOR round trip mismatch: %v vs %v", decoded, original)
	}
}

func TestEncodeZeroImage(t *testing.T) {
	image, err := Zeros(Uint8, 64, 64, 3)
	if err != nil {
		t.Fatalf("Zeros: %v", err)
	}

	envelope := Encode(image)
	if envelope.Kind != "array" {
		t.Errorf("Kind = %q, want array", envelope.Kind)
	}
	if !slices.Equal(envelope.Shape, []int{64, 64, 3}) {
		t.Errorf("Shape = %v, want [64 64 3]", envelope.Shape)
	}
	if envelope.DType != "u1" {
		t.Errorf("DType = %q, want u1", envelope.DType)
	}
	if len(envelope.Data) != 12288 || !bytes.Equal(envelope.Data, make([]byte, 12288)) {
		t.Errorf("Data is %d bytes, want 12288 zero bytes", len(envelope.Data))
	}
}

func TestDecodeRejectsLengthMismatch(t *testing.T) {
	_, err := Decode(Envelope{Kind: KindArray, Shape: []int{2, 2}, DType: "f4", Data: make([]byte, 15)})

	var shapeErr *rpcerror.ShapeError
	if !errors.As(err, &shapeErr) {
		t.Fatalf("Decode error = %v, want *rpcerror.ShapeError", err)
	}
	if !slices.Equal(shapeErr.ActualShape, []int{2, 2}) {
		t.Errorf("ActualShape = %v, want [2 2]", shapeErr.ActualShape)
	}
}

func TestDecodeRejectsBadEnvelopes(t *testing.T) {
	tests := map[string]Envelope{
		"wrong_kind":     {Kind: "matrix", Shape: []int{1}, DType: "u1", Data: []byte{0}},
		"bad_dtype":      {Kind: KindArray, Shape: []int{1}, DType: "q9", Data: []byte{0}},
		"zero_dimension": {Kind: KindArray, Shape: []int{0, 3}, DType: "u1", Data: nil},
		"negative":       {Kind: KindArray, Shape: []int{-1}, DType: "u1", Data: []byte{0}},
	}
	for name, envelope := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Decode(envelope)
			if rpcerror.KindOf(err) != rpcerror.KindShapeValidation {
				t.Errorf("Decode error = %v, want shape validation", err)
			}
		})
	}
}

func TestValues(t *testing.T) {
	array, err := FromValues([]int{3}, []int64{-1, 0, 1 << 40})
	if err != nil {
		t.Fatalf("FromValues: %v", err)
	}
	values, err := Values[int64](array)
	if err != nil {
		t.Fatalf("Values: %v", err)
	}
	if !slices.Equal(values, []int64{-1, 0, 1 << 40}) {
		t.Errorf("Values = %v", values)
	}

	if _, err := Values[float32](array); err == nil {
		t.Error("Values[float32] of an int64 array succeeded, want error")
	}
}

func TestValuesBigEndian(t *testing.T) {
	array, err := New(DType{Kind: 'u', Size: 2, BigEndian: true}, []int{2}, []byte{0x01, 0x02, 0x00, 0xff})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	values, err := Values[uint16](array)
	if err != nil {
		t.Fatalf("Values: %v", err)
	}
	if !slices.Equal(values, []uint16{0x0102, 0x00ff}) {
		t.Errorf("Values = %#v", values)
	}
}

func TestFromValuesCountMismatch(t *testing.T) {
	if _, err := FromValues([]int{2, 2}, []uint8{1, 2, 3}); err == nil {
		t.Fatal("FromValues accepted 3 values for shape [2 2]")
	}
}

func TestTranspose(t *testing.T) {
	// 2×3×2 (h, w, c) with value = 100h + 10w + c.
	values := make([]int32, 0, 12)
	for h := range 2 {
		for w := range 3 {
			for c := range 2 {
				values = append(values, int32(100*h+10*w+c))
			}
		}
	}
	array, err := FromValues([]int{2, 3, 2}, values)
	if err != nil {
		t.Fatalf("FromValues: %v", err)
	}

	transposed, err := Transpose(array, 2, 0, 1)
	if err != nil {
		t.Fatalf("Transpose: %v", err)
	}
	if !slices.Equal(transposed.Shape(), []int{2, 2, 3}) {
		t.Fatalf("Shape = %v, want [2 2 3]", transposed.Shape())
	}
	got, _ := Values[int32](transposed)
	want := []int32{0, 10, 20, 100, 110, 120, 1, 11, 21, 101, 111, 121}
	if !slices.Equal(got, want) {
		t.Errorf("transposed = %v, want %v", got, want)
	}

	if _, err := Transpose(array, 0, 0, 1); err == nil {
		t.Error("Transpose accepted a non-permutation")
	}
}

func TestAsFloat32AndArgMax(t *testing.T) {
	array, err := FromValues([]int{4}, []int16{-5, 9, 9, 2})
	if err != nil {
		t.Fatalf("FromValues: %v", err)
	}
	floats := AsFloat32(array)
	values, err := Values[float32](floats)
	if err != nil {
		t.Fatalf("Values: %v", err)
	}
	if !slices.Equal(values, []float32{-5, 9, 9, 2}) {
		t.Errorf("AsFloat32 = %v", values)
	}
	if got := ArgMax(floats); got != 1 {
		t.Errorf("ArgMax = %d, want 1 (first of tied maxima)", got)
	}
}

func TestSlice(t *testing.T) {
	array, _ := FromValues([]int{3, 2}, []uint8{1, 2, 3, 4, 5, 6})
	row, err := Slice(array, 1)
	if err != nil {
		t.Fatalf("Slice: %v", err)
	}
	values, _ := Values[uint8](row)
	if !slices.Equal(values, []uint8{3, 4}) {
		t.Errorf("Slice(1) = %v, want [3 4]", values)
	}
	if _, err := Slice(array, 3); err == nil {
		t.Error("Slice(3) succeeded on a 3-row array")
	}
}

func TestImageConstraint(t *testing.T) {
	accepted, _ := Zeros(Uint8, 64, 64, 3)
	if err := ImageConstraint.Check("image", accepted); err != nil {
		t.Errorf("64x64x3 uint8 rejected: %v", err)
	}

	small, _ := Zeros(Uint8, 32, 32, 3)
	err := ImageConstraint.Check("image", small)
	var shapeErr *rpcerror.ShapeError
	if !errors.As(err, &shapeErr) {
		t.Fatalf("32x32x3 error = %v, want *rpcerror.ShapeError", err)
	}
	if shapeErr.Field != "image" || !slices.Equal(shapeErr.ActualShape, []int{32, 32, 3}) {
		t.Errorf("ShapeError = %+v, want field image and actual shape [32 32 3]", shapeErr)
	}

	floats, _ := Zeros(Float32, 64, 64, 3)
	if err := ImageConstraint.Check("image", floats); rpcerror.KindOf(err) != rpcerror.KindShapeValidation {
		t.Errorf("float32 image error = %v, want shape validation", err)
	}

	batch, _ := Zeros(Uint8, 5, 64, 64, 3)
	if err := BatchConstraint.Check("images", batch); err != nil {
		t.Errorf("batch of 5 rejected: %v", err)
	}
}

func TestCheckImageClipsFloat32(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	values := make([]float32, 64*64*3)
	values[0] = -3
	values[1] = 300
	values[2] = 17.9
	image, err := FromValues([]int{64, 64, 3}, values)
	if err != nil {
		t.Fatalf("FromValues: %v", err)
	}

	checked, err := CheckImage(image, logger)
	if err != nil {
		t.Fatalf("CheckImage: %v", err)
	}
	if checked.DType() != Uint8 {
		t.Fatalf("dtype = %s, want u1", checked.DType())
	}
	got := checked.Bytes()[:3]
	if !bytes.Equal(got, []byte{0, 255, 17}) {
		t.Errorf("first pixels = %v, want [0 255 17]", got)
	}

	wrong, _ := Zeros(Uint8, 64, 64, 4)
	if _, err := CheckImage(wrong, logger); err == nil {
		t.Error("CheckImage accepted 64x64x4")
	}
}

func TestCheckImageRejectsNaN(t *testing.T) {
	values := make([]float32, 64*64*3)
	values[42] = float32(math.NaN())
	image, err := FromValues([]int{64, 64, 3}, values)
	if err != nil {
		t.Fatalf("FromValues: %v", err)
	}

	_, err = CheckImage(image, slog.New(slog.DiscardHandler))
	var shapeErr *rpcerror.ShapeError
	if !errors.As(err, &shapeErr) {
		t.Fatalf("CheckImage error = %v, want *rpcerror.ShapeError", err)
	}
	if shapeErr.Field != "image" {
		t.Errorf("Field = %q, want image", shapeErr.Field)
	}
}

func TestDigestDistinguishesShape(t *testing.T) {
	flat, _ := Zeros(Uint8, 12)
	square, _ := Zeros(Uint8, 3, 4)
	if flat.Digest() == square.Digest() {
		t.Error("arrays with equal bytes but different shapes share a digest")
	}
	again, _ := Zeros(Uint8, 12)
	if flat.Digest() != again.Digest() {
		t.Error("digest is not deterministic")
	}
}
