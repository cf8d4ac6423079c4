// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package advstore

import (
	"encoding/hex"
	"fmt"

	"github.com/zeebo/blake3"
)

// Digest is a 32-byte keyed BLAKE3 hash of a record's uncompressed
// body.
type Digest [32]byte

// digestKey is the ASCII domain name zero-padded to 32 bytes.
// Changing it invalidates every stored digest.
var digestKey = [32]byte{
	'a', 'v', 'c', '.', 'a', 'd', 'v', 'e', 'r', 's', 'a', 'r', 'i', 'a', 'l', '.',
	'r', 'e', 'c', 'o', 'r', 'd', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

// HashBody computes the digest of an uncompressed record body.
func HashBody(data []byte) Digest {
	hasher, err := blake3.NewKeyed(digestKey[:])
	if err != nil {
		panic("advstore: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	hasher.Write(data)
	var digest Digest
	copy(digest[:], hasher.Sum(nil))
	return digest
}

// String returns the lowercase hex form.
func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// ParseDigest parses a 64-character hex string.
func ParseDigest(text string) (Digest, error) {
	var digest Digest
	decoded, err := hex.DecodeString(text)
	if err != nil {
		return digest, fmt.Errorf("parsing digest: %w", err)
	}
	if len(decoded) != len(digest) {
		return digest, fmt.Errorf("digest is %d bytes, want %d", len(decoded), len(digest))
	}
	copy(digest[:], decoded)
	return digest, nil
}
