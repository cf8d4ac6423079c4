// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package rpcerror

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Kind classifies an error for propagation and wire transport. The
// string values appear in error payloads and must stay stable.
type Kind string

const (
	KindTransient       Kind = "transient_transport"
	KindRetriesExceeded Kind = "retries_exceeded"
	KindProtocol        Kind = "protocol"
	KindShapeValidation Kind = "shape_validation"
	KindQuotaExceeded   Kind = "quota_exceeded"
	KindLivenessExpired Kind = "liveness_expired"
	KindNotFound        Kind = "not_found"
	KindHandler         Kind = "handler"
	KindUnknown         Kind = "unknown"
)

// TransientError is a connection, timeout, or server-side 5xx failure
// with no application payload. It is the only kind the retry policy
// retries.
type TransientError struct {
	// Op names the remote operation, e.g. "POST /predict".
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient transport failure during %s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// RetriesExceededError is terminal: every attempt of Op failed with a
// transient error.
type RetriesExceededError struct {
	Op       string
	Attempts int
	Last     error
}

func (e *RetriesExceededError) Error() string {
	return fmt.Sprintf("%s failed %d times, no further retrying: %v", e.Op, e.Attempts, e.Last)
}

func (e *RetriesExceededError) Unwrap() error { return e.Last }

// ProtocolError reports a body that is not a decodable CBOR document
// or was declared with the wrong content type.
type ProtocolError struct {
	ContentType string
	Reason      string
	Err         error
}

func (e *ProtocolError) Error() string {
	message := "protocol error: " + e.Reason
	if e.ContentType != "" {
		message += fmt.Sprintf(" (content-type %q)", e.ContentType)
	}
	if e.Err != nil {
		message += ": " + e.Err.Error()
	}
	return message
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// ShapeError reports a tensor whose shape, dtype, or byte length does
// not match what was declared or required. Empty expected fields mean
// that dimension of the check did not apply.
type ShapeError struct {
	Field         string
	Reason        string
	ExpectedShape []int
	ActualShape   []int
	ExpectedDType string
	ActualDType   string
}

func (e *ShapeError) Error() string {
	message := "shape validation failed"
	if e.Field != "" {
		message += fmt.Sprintf(" for field %q", e.Field)
	}
	if e.Reason != "" {
		message += ": " + e.Reason
	}
	if e.ExpectedShape != nil {
		message += fmt.Sprintf(" (expected shape %v, got %v)", e.ExpectedShape, e.ActualShape)
	}
	if e.ExpectedDType != "" {
		message += fmt.Sprintf(" (expected dtype %s, got %s)", e.ExpectedDType, e.ActualDType)
	}
	return message
}

// QuotaExceededError is returned once the shared request budget has
// gone negative. Remaining is the counter value after this request's
// decrement.
type QuotaExceededError struct {
	Remaining int64
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("maximal number of prediction requests exceeded: %d", e.Remaining)
}

// LivenessExpiredError is fatal for the serving process: no request
// arrived within Timeout.
type LivenessExpiredError struct {
	Idle    time.Duration
	Timeout time.Duration
}

func (e *LivenessExpiredError) Error() string {
	return fmt.Sprintf("client has not sent any requests to the server for %s (timeout %s)", e.Idle, e.Timeout)
}

// NotFoundError reports a route the server does not serve.
type NotFoundError struct {
	Path string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no handler for %s", e.Path)
}

// RemoteError is an application failure the server reported with a
// decodable error payload. The client never retries it.
type RemoteError struct {
	Status  int
	Kind    Kind
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("server returned %d (%s): %s", e.Status, e.Kind, e.Message)
}

// KindOf classifies err. A RemoteError reports the kind the server
// sent; an error matching none of the package types is KindHandler
// when non-nil.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var (
		remote    *RemoteError
		exhausted *RetriesExceededError
		transient *TransientError
		protocol  *ProtocolError
		shape     *ShapeError
		quota     *QuotaExceededError
		liveness  *LivenessExpiredError
		notFound  *NotFoundError
	)
	switch {
	case errors.As(err, &remote):
		return remote.Kind
	case errors.As(err, &exhausted):
		// Checked before TransientError: it wraps the last transient
		// cause but is itself terminal.
		return KindRetriesExceeded
	case errors.As(err, &transient):
		return KindTransient
	case errors.As(err, &protocol):
		return KindProtocol
	case errors.As(err, &shape):
		return KindShapeValidation
	case errors.As(err, &quota):
		return KindQuotaExceeded
	case errors.As(err, &liveness):
		return KindLivenessExpired
	case errors.As(err, &notFound):
		return KindNotFound
	default:
		return KindHandler
	}
}

// IsTransient reports whether err should be retried. Only a
// TransientError that has not already been folded into a terminal
// RetriesExceededError qualifies.
func IsTransient(err error) bool {
	return KindOf(err) == KindTransient
}

// HTTPStatus maps a kind to the status the server responds with.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindProtocol:
		return http.StatusBadRequest
	case KindShapeValidation:
		return http.StatusUnprocessableEntity
	case KindQuotaExceeded:
		return http.StatusTooManyRequests
	case KindNotFound:
		return http.StatusNotFound
	case KindLivenessExpired:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Payload is the CBOR error document written in place of a result
// whenever the server rejects or fails a request.
type Payload struct {
	Error string `cbor:"error"`
	Kind  Kind   `cbor:"kind"`
}

// NewPayload builds the wire payload for err.
func NewPayload(err error) Payload {
	return Payload{Error: err.Error(), Kind: KindOf(err)}
}

// Remote converts a decoded payload back into an error on the client.
func (p Payload) Remote(status int) *RemoteError {
	kind := p.Kind
	if kind == "" {
		kind = KindUnknown
	}
	return &RemoteError{Status: status, Kind: kind, Message: p.Error}
}
