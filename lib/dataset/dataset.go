// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package dataset reads the labelled evaluation images: a CSV file of
// "file name,label" rows naming images in a directory. Images are
// decoded (PNG, JPEG, or GIF), resampled to 64x64 by nearest
// neighbour, and returned as (64,64,3) uint8 RGB arrays.
package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/bureau-foundation/avc/lib/tensor"
)

// Sample is one labelled image.
type Sample struct {
	// Name is the file name as written in the CSV.
	Name  string
	Image *tensor.Array
	Label int64
}

// Read loads every row of the CSV at csvPath, resolving file names
// against imageDirectory.
func Read(csvPath, imageDirectory string) ([]Sample, error) {
	file, err := os.Open(csvPath)
	if err != nil {
		return nil, fmt.Errorf("opening image list: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	var samples []Sample
	for line := 1; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			return samples, nil
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", csvPath, err)
		}
		if len(record) < 2 {
			return nil, fmt.Errorf("%s:%d: want \"file name,label\", got %d fields", csvPath, line, len(record))
		}
		name := strings.TrimSpace(record[0])
		label, err := strconv.ParseInt(strings.TrimSpace(record[1]), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%s:%d: label %q is not an integer", csvPath, line, record[1])
		}
		array, err := LoadImage(filepath.Join(imageDirectory, name))
		if err != nil {
			return nil, fmt.Errorf("%s:%d: %w", csvPath, line, err)
		}
		samples = append(samples, Sample{Name: name, Image: array, Label: label})
	}
}

// LoadImage decodes the image at path and converts it to a (64,64,3)
// uint8 RGB array. Alpha is dropped.
func LoadImage(path string) (*tensor.Array, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening image: %w", err)
	}
	defer file.Close()

	decoded, format, err := image.Decode(file)
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}
	bounds := decoded.Bounds()
	if bounds.Empty() {
		return nil, fmt.Errorf("%s: empty %s image", path, format)
	}
	return FromImage(decoded)
}

// FromImage resamples img to 64x64 and returns its RGB channels.
func FromImage(img image.Image) (*tensor.Array, error) {
	const size = tensor.ImageSize
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()

	pixels := make([]uint8, 0, size*size*tensor.ImageChannels)
	for row := range size {
		y := bounds.Min.Y + row*height/size
		for column := range size {
			x := bounds.Min.X + column*width/size
			// RGBA returns 16-bit premultiplied channels.
			r, g, b, _ := img.At(x, y).RGBA()
			pixels = append(pixels, uint8(r>>8), uint8(g>>8), uint8(b>>8))
		}
	}
	return tensor.FromValues([]int{size, size, tensor.ImageChannels}, pixels)
}
