// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package advstore

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bureau-foundation/avc/lib/codec"
	"github.com/bureau-foundation/avc/lib/notify"
	"github.com/bureau-foundation/avc/lib/tensor"
)

func newStore(t *testing.T, compression Compression, notifier notify.Sink) *Store {
	t.Helper()
	store, err := New(Config{
		Directory:   filepath.Join(t.TempDir(), "adversarial"),
		Compression: compression,
		Notifier:    notifier,
		Logger:      slog.New(slog.DiscardHandler),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return store
}

func randomImage(t *testing.T, seed uint64) *tensor.Array {
	t.Helper()
	random := rand.New(rand.NewPCG(seed, seed))
	values := make([]uint8, 64*64*3)
	for i := range values {
		values[i] = uint8(random.IntN(256))
	}
	image, err := tensor.FromValues([]int{64, 64, 3}, values)
	if err != nil {
		t.Fatalf("FromValues: %v", err)
	}
	return image
}

func TestStoreLoadRoundTrip(t *testing.T) {
	smooth, _ := tensor.Zeros(tensor.Uint8, 64, 64, 3)
	tests := []struct {
		name        string
		compression Compression
		image       *tensor.Array
		want        Compression
	}{
		{"zstd", CompressionZstd, smooth, CompressionZstd},
		{"lz4", CompressionLZ4, smooth, CompressionLZ4},
		{"none", CompressionNone, smooth, CompressionNone},
		{"zstd_incompressible_falls_back", CompressionZstd, randomImage(t, 1), CompressionNone},
		{"lz4_incompressible_falls_back", CompressionLZ4, randomImage(t, 2), CompressionNone},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			store := newStore(t, test.compression, nil)

			result, err := store.Store(context.Background(), "images/img_0001.png", test.image)
			if err != nil {
				t.Fatalf("Store: %v", err)
			}
			if result.Compression != test.want {
				t.Errorf("Compression = %s, want %s", result.Compression, test.want)
			}
			if filepath.Base(result.Path) != "img_0001.avc" {
				t.Errorf("Path = %s, want img_0001.avc", result.Path)
			}
			if test.want != CompressionNone && result.StoredSize >= result.Size {
				t.Errorf("stored %d bytes for a %d byte body", result.StoredSize, result.Size)
			}

			loaded, digest, err := store.Load("img_0001.jpg")
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if !loaded.Equal(test.image) {
				t.Error("loaded array differs from stored array")
			}
			if digest != result.Digest {
				t.Errorf("Load digest %s, Store digest %s", digest, result.Digest)
			}
		})
	}
}

func TestStoreNotifies(t *testing.T) {
	recorder := &notify.Recorder{}
	store := newStore(t, "", recorder)
	image, _ := tensor.Zeros(tensor.Uint8, 64, 64, 3)

	if _, err := store.Store(context.Background(), "dog.png", image); err != nil {
		t.Fatalf("Store: %v", err)
	}
	notifications := recorder.Notifications()
	if len(notifications) != 1 || notifications[0].Event != notify.EventStoreAdversarial {
		t.Fatalf("notifications = %+v", notifications)
	}
	if notifications[0].Payload["filename"] != "dog.png" {
		t.Errorf("filename = %v", notifications[0].Payload["filename"])
	}
}

func TestLoadDetectsCorruption(t *testing.T) {
	store := newStore(t, CompressionNone, nil)
	image := randomImage(t, 3)
	result, err := store.Store(context.Background(), "cat.png", image)
	if err != nil {
		t.Fatalf("Store: %v", err)
	}

	data, err := os.ReadFile(result.Path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	var record Record
	if err := codec.Unmarshal(data, &record); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	record.Body[len(record.Body)-1] ^= 0xff
	data, _ = codec.Marshal(record)
	if err := os.WriteFile(result.Path, data, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if _, _, err := store.Load("cat.png"); err == nil || !strings.Contains(err.Error(), "digest mismatch") {
		t.Errorf("Load of corrupted record = %v, want digest mismatch", err)
	}
}

func TestStoreRejects(t *testing.T) {
	store := newStore(t, "", nil)
	image, _ := tensor.Zeros(tensor.Uint8, 64, 64, 3)

	if _, err := store.Store(context.Background(), "cat.png", nil); err == nil {
		t.Error("Store accepted a nil adversarial")
	}
	if _, err := store.Store(context.Background(), "", image); err == nil {
		t.Error("Store accepted an empty name")
	}
	if _, err := ParseCompression("brotli"); err == nil {
		t.Error("ParseCompression accepted brotli")
	}
	entries, _ := os.ReadDir(store.directory)
	if len(entries) != 0 {
		t.Errorf("directory has %d entries after rejected stores", len(entries))
	}
}

func TestDigestParse(t *testing.T) {
	digest := HashBody([]byte("adversarial"))
	parsed, err := ParseDigest(digest.String())
	if err != nil || parsed != digest {
		t.Errorf("ParseDigest(%s) = %s, %v", digest, parsed, err)
	}
	if _, err := ParseDigest("abcd"); err == nil {
		t.Error("ParseDigest accepted a short digest")
	}
	if HashBody([]byte("a")) == HashBody([]byte("b")) {
		t.Error("distinct bodies share a digest")
	}
}
