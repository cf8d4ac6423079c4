// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package advstore persists adversarial images found by an attack.
//
// Each image is written to its own file in the output directory,
// named after the source image with its extension replaced by
// [Extension]. The file is a CBOR [Record] holding the array's wire
// envelope, compressed with zstd or lz4 (or stored raw when it does
// not shrink), together with a keyed BLAKE3 digest of the
// uncompressed envelope. [Store.Load] verifies the digest before
// returning the array.
//
// Writes go through a temp file and a rename, so a reader never sees
// a partially written record.
package advstore
