// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package tensor holds the numeric arrays exchanged between attack
// clients and model servers, and their wire form.
//
// An [Array] is shape + [DType] + raw row-major bytes. [Encode] turns
// it into an [Envelope] that embeds in a CBOR document; [Decode]
// reverses it and rejects envelopes whose byte length disagrees with
// the declared shape and dtype. The round trip is byte-exact:
//
//	array, _ := tensor.Zeros(tensor.Uint8, 64, 64, 3)
//	envelope := tensor.Encode(array)  // {kind: "array", shape: [64 64 3], dtype: "u1", data: 12288 bytes}
//	back, _ := tensor.Decode(envelope)
//	back.Equal(array)                 // true
//
// Typed access goes through the generic [FromValues] and [Values].
// The remaining helpers ([Transpose], [AsFloat32], [ArgMax],
// [CheckImage], [Constraint]) cover what a model server does at its
// boundary: validate the input geometry, adapt the layout to the
// model, and reduce logits to a class.
package tensor
