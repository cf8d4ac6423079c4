// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package message

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/bureau-foundation/avc/lib/codec"
	"github.com/bureau-foundation/avc/lib/rpcerror"
	"github.com/bureau-foundation/avc/lib/tensor"
)

// Message maps field names to values. A value is a scalar (int64,
// float64, string, bool, nil, or []byte) or a *tensor.Array. Go
// integer and float types of other widths are accepted on the way out
// and normalized to int64/float64.
type Message map[string]any

// Marshal encodes m as a CBOR document, turning every array into an
// envelope.
func Marshal(m Message) ([]byte, error) {
	document := make(map[string]any, len(m))
	for name, value := range m {
		encoded, err := encodeValue(value)
		if err != nil {
			return nil, fmt.Errorf("encoding field %q: %w", name, err)
		}
		document[name] = encoded
	}
	data, err := codec.Marshal(document)
	if err != nil {
		return nil, fmt.Errorf("encoding document: %w", err)
	}
	return data, nil
}

// Unmarshal decodes a CBOR document into a Message, turning every
// array envelope back into a *tensor.Array. A body that is not a CBOR
// map keyed by strings is a *rpcerror.ProtocolError; an envelope that
// fails validation is a *rpcerror.ShapeError naming its field.
func Unmarshal(data []byte) (Message, error) {
	var fields map[string]codec.RawMessage
	if err := codec.Unmarshal(data, &fields); err != nil {
		return nil, &rpcerror.ProtocolError{
			ContentType: codec.ContentType,
			Reason:      "body is not a CBOR document",
			Err:         err,
		}
	}

	m := make(Message, len(fields))
	for name, raw := range fields {
		value, err := decodeValue(name, raw)
		if err != nil {
			return nil, err
		}
		m[name] = value
	}
	return m, nil
}

// Names returns the field names in sorted order.
func (m Message) Names() []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Has reports whether the field is present, including present with a
// nil value.
func (m Message) Has(name string) bool {
	_, ok := m[name]
	return ok
}

// Array returns the named field as an array.
func (m Message) Array(name string) (*tensor.Array, error) {
	value, ok := m[name]
	if !ok {
		return nil, missing(name)
	}
	array, ok := value.(*tensor.Array)
	if !ok {
		return nil, &rpcerror.ShapeError{Field: name, Reason: fmt.Sprintf("field is %T, not an array", value)}
	}
	return array, nil
}

// Int returns the named field as an integer. Integral floats and
// single-element integer arrays (how array libraries send a scalar
// label) are accepted.
func (m Message) Int(name string) (int64, error) {
	value, ok := m[name]
	if !ok {
		return 0, missing(name)
	}
	switch typed := value.(type) {
	case int64:
		return typed, nil
	case uint64:
		if typed > math.MaxInt64 {
			return 0, mistyped(name, "integer out of range")
		}
		return int64(typed), nil
	case float64:
		if typed != math.Trunc(typed) {
			return 0, mistyped(name, "not an integer")
		}
		return int64(typed), nil
	case *tensor.Array:
		if typed.Size() != 1 || (typed.DType().Kind != 'i' && typed.DType().Kind != 'u') {
			return 0, mistyped(name, fmt.Sprintf("array %v is not a single integer", typed))
		}
		return int64(typed.Float64At(0)), nil
	}
	return 0, mistyped(name, fmt.Sprintf("%T is not an integer", value))
}

// Float returns the named field as a float.
func (m Message) Float(name string) (float64, error) {
	value, ok := m[name]
	if !ok {
		return 0, missing(name)
	}
	switch typed := value.(type) {
	case float64:
		return typed, nil
	case int64:
		return float64(typed), nil
	case uint64:
		return float64(typed), nil
	case *tensor.Array:
		if typed.Size() == 1 {
			return typed.Float64At(0), nil
		}
	}
	return 0, mistyped(name, fmt.Sprintf("%T is not a number", value))
}

// String returns the named field as a string.
func (m Message) String(name string) (string, error) {
	value, ok := m[name]
	if !ok {
		return "", missing(name)
	}
	text, ok := value.(string)
	if !ok {
		return "", mistyped(name, fmt.Sprintf("%T is not a string", value))
	}
	return text, nil
}

func missing(name string) error {
	return &rpcerror.ProtocolError{Reason: fmt.Sprintf("missing required field %q", name)}
}

func mistyped(name, reason string) error {
	return &rpcerror.ProtocolError{Reason: fmt.Sprintf("field %q: %s", name, reason)}
}

func encodeValue(value any) (any, error) {
	switch typed := value.(type) {
	case *tensor.Array:
		if typed == nil {
			return nil, nil
		}
		return tensor.Encode(typed), nil
	case nil, string, bool, []byte, int64, float64:
		return typed, nil
	case int:
		return int64(typed), nil
	case int32:
		return int64(typed), nil
	case int16:
		return int64(typed), nil
	case int8:
		return int64(typed), nil
	case uint8:
		return int64(typed), nil
	case uint16:
		return int64(typed), nil
	case uint32:
		return int64(typed), nil
	case uint64:
		return typed, nil
	case float32:
		return float64(typed), nil
	}
	return nil, fmt.Errorf("unsupported value type %T", value)
}

func decodeValue(name string, raw codec.RawMessage) (any, error) {
	// A map whose kind is "array" is an envelope; anything else,
	// including a map with some other kind, passes through as a
	// plain scalar or structure.
	var probe struct {
		Kind string `cbor:"kind"`
	}
	if err := codec.Unmarshal(raw, &probe); err == nil && probe.Kind == tensor.KindArray {
		var envelope tensor.Envelope
		if err := codec.Unmarshal(raw, &envelope); err != nil {
			return nil, &rpcerror.ShapeError{Field: name, Reason: fmt.Sprintf("malformed array envelope: %v", err)}
		}
		array, err := tensor.Decode(envelope)
		if err != nil {
			var shapeErr *rpcerror.ShapeError
			if errors.As(err, &shapeErr) {
				shapeErr.Field = name
			}
			return nil, err
		}
		return array, nil
	}

	var value any
	if err := codec.Unmarshal(raw, &value); err != nil {
		return nil, &rpcerror.ProtocolError{Reason: fmt.Sprintf("field %q is not decodable", name), Err: err}
	}
	return value, nil
}
