// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// avc-probe drives an evaluation run against a model server. It
// prints the server's metadata, then for each labelled image (from
// INPUT_CSV_PATH and INPUT_IMG_PATH, or one random image when no list
// is configured) asks for a prediction and, when an attack server is
// configured, runs the attack and stores any adversarial under
// OUTPUT_ADVERSARIAL_PATH. A final AVC.ATTACK.COMPLETE notification
// reports the totals.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/avc/lib/bootstrap"
	"github.com/bureau-foundation/avc/lib/process"
)

func main() {
	if err := run(os.Args[1:]); err != nil && !errors.Is(err, bootstrap.ErrHandled) {
		process.Fatal(err)
	}
}

func run(args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var options probeOptions
	boot, cleanup, err := bootstrap.Start(ctx, bootstrap.Options{
		Name:    "avc-probe",
		Summary: "Queries an AVC model server and optionally runs an attack server against it.",
		Args:    args,
		Flags: func(flagSet *pflag.FlagSet) {
			flagSet.StringVar(&options.attackURL, "attack-url", "", "attack server URL (overrides client.attack_url)")
			flagSet.BoolVar(&options.privileged, "privileged", false, "send the evaluator secret with model requests")
			flagSet.BoolVar(&options.shutdown, "shutdown", false, "ask the model and attack servers to shut down when done")
			flagSet.Uint64Var(&options.seed, "seed", 0, "seed for the random image used without an image list")
		},
	})
	if err != nil {
		return err
	}
	defer cleanup()

	if options.attackURL == "" {
		options.attackURL = boot.Config.Client.AttackURL
	}
	_, err = probe(ctx, boot, options)
	return err
}
