// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package tensor

import (
	"fmt"

	"github.com/bureau-foundation/avc/lib/rpcerror"
)

// KindArray is the kind tag that marks a document map as an
// ArrayEnvelope.
const KindArray = "array"

// Envelope is the self-describing wire form of an Array, embedded as a
// map inside a CBOR document:
//
//	{kind: "array", shape: [64, 64, 3], dtype: "u1", data: h'0000…'}
//
// Data holds the raw row-major element bytes exactly as the array
// stores them; nothing is compressed or reordered.
type Envelope struct {
	Kind  string `cbor:"kind"`
	Shape []int  `cbor:"shape"`
	DType string `cbor:"dtype"`
	Data  []byte `cbor:"data"`
}

// Encode captures a as an envelope. The envelope shares a's byte
// storage.
func Encode(a *Array) Envelope {
	return Envelope{
		Kind:  KindArray,
		Shape: a.Shape(),
		DType: a.dtype.String(),
		Data:  a.data,
	}
}

// Decode reconstructs the array an envelope describes. A wrong kind
// tag, an unparseable dtype, a non-positive dimension, or a byte
// length that disagrees with product(shape) * itemsize(dtype) is a
// *rpcerror.ShapeError.
func Decode(envelope Envelope) (*Array, error) {
	if envelope.Kind != KindArray {
		return nil, &rpcerror.ShapeError{Reason: fmt.Sprintf("envelope kind %q is not %q", envelope.Kind, KindArray)}
	}
	dtype, err := ParseDType(envelope.DType)
	if err != nil {
		return nil, &rpcerror.ShapeError{
			Reason:      err.Error(),
			ActualShape: envelope.Shape,
			ActualDType: envelope.DType,
		}
	}
	return New(dtype, envelope.Shape, envelope.Data)
}
