// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package modelserver

import (
	"context"
	"log/slog"

	"github.com/bureau-foundation/avc/lib/liveness"
	"github.com/bureau-foundation/avc/lib/service"
)

// Serve runs the HTTP listener and the liveness monitor until one of:
//
//   - a client calls /shutdown (returns nil),
//   - ctx is cancelled (returns nil),
//   - the monitor expires (returns *rpcerror.LivenessExpiredError),
//   - the listener fails (returns its error).
//
// In every case both tasks are stopped before Serve returns. monitor
// may be nil to serve without a liveness check.
func Serve(ctx context.Context, listener *service.HTTPServer, server *Server, monitor *liveness.Monitor, logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	serveDone := make(chan error, 1)
	go func() { serveDone <- listener.Serve(ctx) }()

	monitorDone := make(chan error, 1)
	if monitor != nil {
		go func() { monitorDone <- monitor.Run(ctx) }()
	}

	monitorRunning := monitor != nil
	var result error
	select {
	case <-server.ShutdownRequested():
		logger.Info("stopping after client shutdown request")
	case <-ctx.Done():
	case result = <-monitorDone:
		monitorRunning = false
	case result = <-serveDone:
		cancel()
		if monitorRunning {
			<-monitorDone
		}
		return result
	}

	cancel()
	if err := <-serveDone; err != nil && result == nil {
		result = err
	}
	if monitorRunning {
		<-monitorDone
	}
	return result
}
