// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// avc-attack-server serves the built-in additive Gaussian noise
// attack over the AVC attack protocol (POST /run). It is a reference
// attack: submissions replace it with their own Attack
// implementation behind the same server.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/avc/lib/attackserver"
	"github.com/bureau-foundation/avc/lib/bootstrap"
	"github.com/bureau-foundation/avc/lib/process"
	"github.com/bureau-foundation/avc/lib/service"
)

const defaultListen = ":8990"

func main() {
	if err := run(os.Args[1:]); err != nil && !errors.Is(err, bootstrap.ErrHandled) {
		process.Fatal(err)
	}
}

func run(args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	listen := defaultListen
	attack := &attackserver.NoiseAttack{}
	boot, cleanup, err := bootstrap.Start(ctx, bootstrap.Options{
		Name:    "avc-attack-server",
		Summary: "Serves the additive Gaussian noise attack over the AVC attack protocol.",
		Args:    args,
		Flags: func(flagSet *pflag.FlagSet) {
			flagSet.StringVar(&listen, "listen", defaultListen, "address to listen on")
			flagSet.IntVar(&attack.Epsilons, "epsilons", attackserver.DefaultEpsilons, "noise strengths to try per image")
			flagSet.Uint64Var(&attack.Seed, "seed", 0, "noise seed")
		},
	})
	if err != nil {
		return err
	}
	defer cleanup()

	server := attackserver.New(attackserver.Config{
		Attack:   attack,
		Model:    boot.ClientConfig("", false),
		Notifier: boot.Notifier,
		Logger:   boot.Logger.With("component", "attackserver"),
	})
	listener := service.NewHTTPServer(service.HTTPServerConfig{
		Address:         listen,
		Handler:         server.Handler(),
		ShutdownTimeout: boot.Config.Server.ShutdownTimeout.Std(),
		Logger:          boot.Logger,
	})
	go func() {
		select {
		case <-listener.Ready():
			boot.Logger.Info("attack server listening",
				"address", listener.Addr().String(),
				"epsilons", attack.Epsilons,
			)
		case <-ctx.Done():
		}
	}()

	return attackserver.Serve(ctx, listener, server)
}
