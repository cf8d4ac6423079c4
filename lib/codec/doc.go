// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides the CBOR configuration shared by every AVC
// component that reads or writes a wire document.
//
// CBOR is the self-describing binary document carried as the HTTP body
// between attack clients and model servers (declared with
// [ContentType]), and the container format for adversarial files on
// disk. Tensor fields travel as byte strings inside ArrayEnvelope maps
// (see lib/tensor), so no numeric array is ever expanded into a CBOR
// array of numbers.
//
// The encoder uses Core Deterministic Encoding (RFC 8949 §4.2): sorted
// map keys, smallest integer encoding, no indefinite-length items. The
// decoder produces map[string]any for untyped maps, signed int64 for
// untyped integers, and rejects duplicate map keys.
//
//	data, err := codec.Marshal(document)
//	err = codec.Unmarshal(data, &document)
package codec
