// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package netutil provides HTTP I/O helpers shared by the AVC client
// and server.
//
// Body helpers (ReadBody, ErrorBody) bound every read so a misbehaving
// peer cannot exhaust memory. Request bodies are bounded by the
// server's MaxRequestSize; response bodies by MaxResponseSize.
//
// IsTransientNetworkError classifies the connection-level failures the
// client's retry policy treats as safe to retry.
package netutil

import (
	"errors"
	"fmt"
	"io"
)

// MaxResponseSize bounds response body reads: 64 MB. A batch of a few
// thousand 64x64x3 images fits with room to spare.
const MaxResponseSize int64 = 64 << 20

// MaxRequestSize bounds request body reads on the server.
const MaxRequestSize int64 = 64 << 20

// ErrBodyTooLarge is returned by ReadBody when the body exceeds the
// limit.
var ErrBodyTooLarge = errors.New("body exceeds size limit")

// ReadBody reads body up to limit bytes. A body longer than limit
// returns ErrBodyTooLarge rather than a silently truncated document.
func ReadBody(body io.Reader, limit int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(body, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("%w (%d bytes)", ErrBodyTooLarge, limit)
	}
	return data, nil
}

// ReadResponse reads a response body up to MaxResponseSize bytes.
func ReadResponse(body io.Reader) ([]byte, error) {
	return ReadBody(body, MaxResponseSize)
}

// ErrorBody reads an HTTP error response body and returns it as a
// string for diagnostic error messages. Read errors are ignored; a
// partial or empty body is still useful in an error message. The
// result is capped at 512 bytes.
func ErrorBody(body io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(body, 512))
	return string(data)
}
