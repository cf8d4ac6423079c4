// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package tensor

import (
	"encoding/binary"
	"fmt"
	"strconv"
)

// DType describes how to interpret one array element: a kind
// character, a byte width, and a byte order. The textual form follows
// the array-protocol typestr convention ("u1", "<f4", ">i8"), which
// lets envelopes produced by other array libraries decode unchanged.
type DType struct {
	// Kind is 'u' (unsigned), 'i' (signed), 'f' (IEEE float), or 'b'
	// (boolean, one byte).
	Kind byte
	// Size is the element width in bytes.
	Size int
	// BigEndian is set only for multi-byte elements stored
	// most-significant byte first.
	BigEndian bool
}

var (
	Bool    = DType{Kind: 'b', Size: 1}
	Uint8   = DType{Kind: 'u', Size: 1}
	Int8    = DType{Kind: 'i', Size: 1}
	Uint16  = DType{Kind: 'u', Size: 2}
	Int16   = DType{Kind: 'i', Size: 2}
	Uint32  = DType{Kind: 'u', Size: 4}
	Int32   = DType{Kind: 'i', Size: 4}
	Uint64  = DType{Kind: 'u', Size: 8}
	Int64   = DType{Kind: 'i', Size: 8}
	Float32 = DType{Kind: 'f', Size: 4}
	Float64 = DType{Kind: 'f', Size: 8}
)

// ParseDType parses a typestr. An optional leading byte-order mark
// ('<' little, '>' big, '|' not applicable, '=' native) precedes the
// kind character and the decimal width. Native order is little-endian
// on every platform this runs on.
func ParseDType(descriptor string) (DType, error) {
	if descriptor == "" {
		return DType{}, fmt.Errorf("empty dtype descriptor")
	}

	text := descriptor
	bigEndian := false
	switch text[0] {
	case '<', '|', '=':
		text = text[1:]
	case '>':
		bigEndian = true
		text = text[1:]
	}
	if len(text) < 2 {
		return DType{}, fmt.Errorf("dtype %q: missing kind or width", descriptor)
	}

	size, err := strconv.Atoi(text[1:])
	if err != nil {
		return DType{}, fmt.Errorf("dtype %q: invalid width: %w", descriptor, err)
	}

	dtype := DType{Kind: text[0], Size: size, BigEndian: bigEndian && size > 1}
	if err := dtype.validate(); err != nil {
		return DType{}, fmt.Errorf("dtype %q: %w", descriptor, err)
	}
	return dtype, nil
}

func (d DType) validate() error {
	switch d.Kind {
	case 'u', 'i':
		switch d.Size {
		case 1, 2, 4, 8:
			return nil
		}
	case 'f':
		switch d.Size {
		case 4, 8:
			return nil
		}
	case 'b':
		if d.Size == 1 {
			return nil
		}
	default:
		return fmt.Errorf("unsupported kind %q", d.Kind)
	}
	return fmt.Errorf("unsupported width %d for kind %q", d.Size, d.Kind)
}

// ItemSize returns the element width in bytes.
func (d DType) ItemSize() int {
	return d.Size
}

// String returns the canonical typestr. Little-endian and single-byte
// types carry no order mark ("u1", "f4"); big-endian types carry '>'.
func (d DType) String() string {
	prefix := ""
	if d.BigEndian && d.Size > 1 {
		prefix = ">"
	}
	return prefix + string(d.Kind) + strconv.Itoa(d.Size)
}

// byteOrder returns the binary.ByteOrder elements are stored in.
func (d DType) byteOrder() binary.ByteOrder {
	if d.BigEndian {
		return binary.BigEndian
	}
	return binary.LittleEndian
}
