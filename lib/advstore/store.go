// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package advstore

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/bureau-foundation/avc/lib/codec"
	"github.com/bureau-foundation/avc/lib/notify"
	"github.com/bureau-foundation/avc/lib/tensor"
)

// Extension is the suffix of every record file.
const Extension = ".avc"

// recordFormat is the on-disk record version.
const recordFormat = 1

// Record is the CBOR document written for each adversarial image.
type Record struct {
	Format      int         `cbor:"format"`
	Name        string      `cbor:"name"`
	Compression Compression `cbor:"compression"`
	Size        int         `cbor:"size"`
	Digest      []byte      `cbor:"digest"`
	Body        []byte      `cbor:"body"`
}

// Result describes a stored image.
type Result struct {
	Path        string
	Digest      Digest
	Compression Compression
	Size        int
	StoredSize  int
}

// Config configures a Store.
type Config struct {
	// Directory receives the record files. Created if missing.
	// Required.
	Directory string

	// Compression defaults to CompressionZstd.
	Compression Compression

	Notifier notify.Sink

	// Logger is required.
	Logger *slog.Logger
}

// Store writes and reads adversarial records in one directory.
type Store struct {
	directory   string
	compression Compression
	notifier    notify.Sink
	logger      *slog.Logger
}

// New creates the output directory and returns a Store writing to it.
func New(config Config) (*Store, error) {
	if config.Directory == "" {
		panic("advstore: Directory is required")
	}
	if config.Logger == nil {
		panic("advstore: Logger is required")
	}
	compression, err := ParseCompression(string(config.Compression))
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(config.Directory, 0o755); err != nil {
		return nil, fmt.Errorf("creating adversarial directory: %w", err)
	}
	notifier := config.Notifier
	if notifier == nil {
		notifier = notify.Discard
	}
	return &Store{
		directory:   config.Directory,
		compression: compression,
		notifier:    notifier,
		logger:      config.Logger,
	}, nil
}

// Path returns the record file for an image name. Directory
// components and the extension of name are dropped, so "images/cat.png"
// maps to "<directory>/cat.avc".
func (s *Store) Path(name string) (string, error) {
	base := filepath.Base(name)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	if stem == "" || stem == "." || stem == string(filepath.Separator) {
		return "", fmt.Errorf("advstore: invalid image name %q", name)
	}
	return filepath.Join(s.directory, stem+Extension), nil
}

// Store writes the adversarial for the named source image, replacing
// any earlier record for the same name.
func (s *Store) Store(ctx context.Context, name string, adversarial *tensor.Array) (Result, error) {
	if adversarial == nil {
		return Result{}, fmt.Errorf("advstore: no adversarial to store for %q", name)
	}
	path, err := s.Path(name)
	if err != nil {
		return Result{}, err
	}

	body, err := codec.Marshal(tensor.Encode(adversarial))
	if err != nil {
		return Result{}, fmt.Errorf("encoding adversarial: %w", err)
	}
	digest := HashBody(body)
	stored, compression, err := compress(body, s.compression)
	if err != nil {
		return Result{}, err
	}

	data, err := codec.Marshal(Record{
		Format:      recordFormat,
		Name:        filepath.Base(name),
		Compression: compression,
		Size:        len(body),
		Digest:      digest[:],
		Body:        stored,
	})
	if err != nil {
		return Result{}, fmt.Errorf("encoding record: %w", err)
	}
	if err := s.writeFile(path, data); err != nil {
		return Result{}, err
	}

	result := Result{
		Path:        path,
		Digest:      digest,
		Compression: compression,
		Size:        len(body),
		StoredSize:  len(stored),
	}
	s.logger.Info("stored adversarial",
		"name", name,
		"path", path,
		"array", adversarial,
		"compression", compression,
		"size", result.Size,
		"stored_size", result.StoredSize,
		"digest", digest.String(),
	)
	s.notifier.Notify(ctx, notify.New(notify.EventStoreAdversarial, map[string]any{
		"filename": filepath.Base(name),
		"digest":   digest.String(),
	}))
	return result, nil
}

// Load reads the record for the named image and verifies its digest.
func (s *Store) Load(name string) (*tensor.Array, Digest, error) {
	path, err := s.Path(name)
	if err != nil {
		return nil, Digest{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, Digest{}, fmt.Errorf("reading record: %w", err)
	}

	var record Record
	if err := codec.Unmarshal(data, &record); err != nil {
		return nil, Digest{}, fmt.Errorf("decoding record %s: %w", path, err)
	}
	if record.Format != recordFormat {
		return nil, Digest{}, fmt.Errorf("record %s has format %d, want %d", path, record.Format, recordFormat)
	}
	var want Digest
	if len(record.Digest) != len(want) {
		return nil, Digest{}, fmt.Errorf("record %s: digest is %d bytes", path, len(record.Digest))
	}
	copy(want[:], record.Digest)

	body, err := decompress(record.Body, record.Compression, record.Size)
	if err != nil {
		return nil, Digest{}, fmt.Errorf("record %s: %w", path, err)
	}
	if got := HashBody(body); got != want {
		return nil, Digest{}, fmt.Errorf("record %s: digest mismatch: stored %s, computed %s", path, want, got)
	}

	var envelope tensor.Envelope
	if err := codec.Unmarshal(body, &envelope); err != nil {
		return nil, Digest{}, fmt.Errorf("record %s: decoding envelope: %w", path, err)
	}
	array, err := tensor.Decode(envelope)
	if err != nil {
		return nil, Digest{}, fmt.Errorf("record %s: %w", path, err)
	}
	return array, want, nil
}

func (s *Store) writeFile(path string, data []byte) error {
	tmpFile, err := os.CreateTemp(s.directory, "record-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp record file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return fmt.Errorf("writing record: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("closing temp record file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("renaming record to %s: %w", path, err)
	}
	success = true
	return nil
}
