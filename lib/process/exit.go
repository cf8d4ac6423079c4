// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"errors"
	"fmt"
	"os"

	"github.com/bureau-foundation/avc/lib/rpcerror"
)

// Exit codes. Anything not listed exits with ExitFailure.
const (
	ExitFailure          = 1
	ExitUsage            = 2
	ExitLivenessExpired  = 3
	ExitRetriesExceeded  = 4
	ExitAssertionFailure = 5
)

// ExitCoder is implemented by errors that choose their own exit code.
type ExitCoder interface {
	ExitCode() int
}

// UsageError marks an error caused by bad flags or arguments.
type UsageError struct {
	Err error
}

func (e *UsageError) Error() string { return e.Err.Error() }
func (e *UsageError) Unwrap() error { return e.Err }
func (e *UsageError) ExitCode() int { return ExitUsage }

// ExitCode returns the exit code for err, 0 for nil.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var coder ExitCoder
	if errors.As(err, &coder) {
		return coder.ExitCode()
	}
	switch rpcerror.KindOf(err) {
	case rpcerror.KindLivenessExpired:
		return ExitLivenessExpired
	case rpcerror.KindRetriesExceeded:
		return ExitRetriesExceeded
	}
	return ExitFailure
}

// Fatal writes "error: err" to stderr and exits with ExitCode(err).
// Use it in main() for errors from run() where the structured logger
// may not be initialized.
func Fatal(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(ExitCode(err))
}
