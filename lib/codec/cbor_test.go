// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bytes"
	"strings"
	"testing"
)

// predictionReply mirrors the shape of a model server response.
type predictionReply struct {
	Prediction int64  `cbor:"prediction"`
	Model      string `cbor:"model,omitempty"`
}

func TestMarshalUnmarshalRoundtrip(t *testing.T) {
	original := predictionReply{Prediction: 7, Model: "resnet18"}

	data, err := Marshal(original)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var decoded predictionReply
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded != original {
		t.Errorf("roundtrip mismatch: got %+v, want %+v", decoded, original)
	}
}

func TestMarshalDeterministic(t *testing.T) {
	document := map[string]any{"label": 3, "criterion_name": "Misclassification", "image": []byte{1, 2, 3}}

	first, err := Marshal(document)
	if err != nil {
		t.Fatalf("first Marshal: %v", err)
	}
	second, err := Marshal(document)
	if err != nil {
		t.Fatalf("second Marshal: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Errorf("deterministic encoding violated: %x != %x", first, second)
	}
}

func TestUnmarshalIntoAnyUsesStringKeysAndSignedInts(t *testing.T) {
	data, err := Marshal(map[string]any{
		"prediction": 7,
		"nested":     map[string]any{"shape": []int{64, 64, 3}},
	})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var decoded any
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	document, ok := decoded.(map[string]any)
	if !ok {
		t.Fatalf("decoded type = %T, want map[string]any", decoded)
	}
	if prediction, ok := document["prediction"].(int64); !ok || prediction != 7 {
		t.Errorf("prediction = %#v, want int64(7)", document["prediction"])
	}
	if _, ok := document["nested"].(map[string]any); !ok {
		t.Errorf("nested type = %T, want map[string]any", document["nested"])
	}
}

func TestUnmarshalRejectsDuplicateKeys(t *testing.T) {
	// {"a": 1, "a": 2} hand-encoded: map(2), text(1) "a", 1, text(1) "a", 2.
	data := []byte{0xa2, 0x61, 'a', 0x01, 0x61, 'a', 0x02}

	var decoded map[string]any
	if err := Unmarshal(data, &decoded); err == nil {
		t.Fatalf("Unmarshal accepted duplicate keys: %v", decoded)
	}
}

func TestUnmarshalInvalidCBOR(t *testing.T) {
	var decoded map[string]any
	if err := Unmarshal([]byte{0xFF, 0xFE, 0xFD}, &decoded); err == nil {
		t.Error("Unmarshal should reject invalid CBOR")
	}
}

func TestByteStringRoundtrip(t *testing.T) {
	type envelope struct {
		Data []byte `cbor:"data"`
	}

	original := envelope{Data: make([]byte, 12288)}
	data, err := Marshal(original)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var decoded envelope
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if !bytes.Equal(decoded.Data, original.Data) {
		t.Errorf("byte string roundtrip: got %d bytes, want %d", len(decoded.Data), len(original.Data))
	}
}

func TestDiagnose(t *testing.T) {
	data, err := Marshal(map[string]any{"kind": "array"})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	notation, err := Diagnose(data)
	if err != nil {
		t.Fatalf("Diagnose: %v", err)
	}
	if !strings.Contains(notation, `"kind"`) || !strings.Contains(notation, `"array"`) {
		t.Errorf("notation %q does not contain the kind field", notation)
	}
}

func BenchmarkMarshalImageDocument(b *testing.B) {
	document := map[string]any{"image": make([]byte, 64*64*3)}

	b.ReportAllocs()
	for b.Loop() {
		Marshal(document)
	}
}
