// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// ContentType is the HTTP media type declared on every request and
// response body that carries a CBOR document.
const ContentType = "application/cbor"

// encMode is the CBOR encoder configured with Core Deterministic
// Encoding (RFC 8949 §4.2): sorted map keys, smallest integer
// encoding, no indefinite-length items.
var encMode cbor.EncMode

// decMode is the CBOR decoder used for every inbound document.
var decMode cbor.DecMode

func init() {
	var err error

	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		// Documents are always keyed by field name. Decoding into
		// any must produce map[string]any, not the CBOR default of
		// map[interface{}]interface{}.
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
		// Integers decoded into any keep their sign as int64 when
		// they fit, so scalar fields compare cleanly against Go ints.
		IntDec: cbor.IntDecConvertSigned,
		// Tensor payloads are large byte strings. Reject duplicate
		// keys so a document cannot carry two values for one field.
		DupMapKey: cbor.DupMapKeyEnforcedAPF,
		// A request body is bounded well below this, but the
		// element count limit guards against a malformed header that
		// claims billions of entries.
		MaxArrayElements: 1 << 24,
		MaxMapPairs:      1 << 16,
	}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}
}

// Marshal encodes v to CBOR using Core Deterministic Encoding.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes CBOR data into v.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// RawMessage is a raw encoded CBOR value. Used to defer decoding of a
// document field until its shape is known.
type RawMessage = cbor.RawMessage

// Diagnose returns the CBOR diagnostic notation (RFC 8949 §8) for
// data. Used when logging documents that failed to decode.
func Diagnose(data []byte) (string, error) {
	return cbor.Diagnose(data)
}
