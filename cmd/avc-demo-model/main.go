// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/avc/lib/bootstrap"
	"github.com/bureau-foundation/avc/lib/clock"
	"github.com/bureau-foundation/avc/lib/liveness"
	"github.com/bureau-foundation/avc/lib/modelserver"
	"github.com/bureau-foundation/avc/lib/process"
	"github.com/bureau-foundation/avc/lib/quota"
	"github.com/bureau-foundation/avc/lib/service"
	"github.com/bureau-foundation/avc/lib/transport"
)

func main() {
	if err := run(os.Args[1:]); err != nil && !errors.Is(err, bootstrap.ErrHandled) {
		process.Fatal(err)
	}
}

func run(args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	model := constantModel{class: defaultClass, channelAxis: defaultChannelAxis}
	boot, cleanup, err := bootstrap.Start(ctx, bootstrap.Options{
		Name:    "avc-demo-model",
		Summary: "Serves a constant-prediction model over the AVC model protocol.",
		Args:    args,
		Flags: func(flagSet *pflag.FlagSet) {
			flagSet.Int64Var(&model.class, "class", defaultClass, "class predicted for every image")
			flagSet.IntVar(&model.channelAxis, "channel-axis", defaultChannelAxis, "channel axis the model reports (1 or 3)")
		},
	})
	if err != nil {
		return err
	}
	defer cleanup()

	return serve(ctx, boot, model, clock.Real())
}

// serve wires the model server from boot's configuration and runs it
// until shutdown, cancellation, or client silence.
func serve(ctx context.Context, boot *bootstrap.Boot, model modelserver.Model, clk clock.Clock) error {
	cfg := boot.Config
	logger := boot.Logger

	enforcer := quota.New(quota.Config{
		Budget:       quota.Budget(cfg.Quota.NumImages, cfg.Quota.RequestsPerImage),
		Secret:       cfg.Evaluator.Secret,
		SecretHeader: transport.SecretHeader,
		Notifier:     boot.Notifier,
		Logger:       logger.With("component", "quota"),
	})
	monitor := liveness.New(liveness.Config{
		Timeout:       cfg.Liveness.Timeout.Std(),
		CheckInterval: cfg.Liveness.CheckInterval.Std(),
		Clock:         clk,
		Notifier:      boot.Notifier,
		Logger:        logger.With("component", "liveness"),
	})
	server, err := modelserver.New(modelserver.Config{
		Model:      model,
		NumClasses: cfg.Model.NumClasses,
		Liveness:   monitor,
		Quota:      enforcer,
		Notifier:   boot.Notifier,
		Logger:     logger.With("component", "modelserver"),
	})
	if err != nil {
		return err
	}

	listener := service.NewHTTPServer(service.HTTPServerConfig{
		Address:         cfg.ListenAddress(),
		Handler:         server.Handler(),
		ShutdownTimeout: cfg.Server.ShutdownTimeout.Std(),
		Logger:          logger,
	})
	go func() {
		select {
		case <-listener.Ready():
			logger.Info("model server listening",
				"address", listener.Addr().String(),
				"budget", enforcer.Remaining(),
				"liveness_timeout", cfg.Liveness.Timeout.String(),
			)
		case <-ctx.Done():
		}
	}()

	return modelserver.Serve(ctx, listener, server, monitor, logger)
}
