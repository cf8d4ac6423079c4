// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"math/rand/v2"

	"github.com/bureau-foundation/avc/lib/advstore"
	"github.com/bureau-foundation/avc/lib/bootstrap"
	"github.com/bureau-foundation/avc/lib/client"
	"github.com/bureau-foundation/avc/lib/dataset"
	"github.com/bureau-foundation/avc/lib/notify"
	"github.com/bureau-foundation/avc/lib/tensor"
)

type probeOptions struct {
	attackURL  string
	privileged bool
	shutdown   bool
	seed       uint64
}

// summary counts what a probe run did.
type summary struct {
	Images       int
	Correct      int
	Adversarials int
}

func probe(ctx context.Context, boot *bootstrap.Boot, options probeOptions) (summary, error) {
	cfg := boot.Config
	logger := boot.Logger
	var result summary

	modelURL := cfg.Model.URL()
	model, err := client.NewModel(boot.ClientConfig(modelURL, options.privileged))
	if err != nil {
		return result, err
	}
	metadata, err := model.Metadata(ctx)
	if err != nil {
		return result, fmt.Errorf("reading model metadata: %w", err)
	}
	logger.Info("model server",
		"url", modelURL,
		"version", metadata.ServerVersion,
		"bounds", metadata.Bounds,
		"channel_axis", metadata.ChannelAxis,
		"image_size", metadata.ImageSize,
		"num_classes", metadata.NumClasses,
		"channel_order", metadata.ChannelOrder,
		"dataset", metadata.Dataset,
	)

	samples, err := loadSamples(boot, options.seed)
	if err != nil {
		return result, err
	}

	var attack *client.Attack
	var store *advstore.Store
	if options.attackURL != "" {
		if attack, err = client.NewAttack(boot.ClientConfig(options.attackURL, false)); err != nil {
			return result, err
		}
		store, err = advstore.New(advstore.Config{
			Directory:   cfg.Output.AdversarialPath,
			Compression: advstore.Compression(cfg.Output.Compression),
			Notifier:    boot.Notifier,
			Logger:      logger.With("component", "advstore"),
		})
		if err != nil {
			return result, err
		}
	}

	for _, sample := range samples {
		result.Images++
		prediction, err := model.Predict(ctx, sample.Image)
		if err != nil {
			return result, fmt.Errorf("predicting %s: %w", sample.Name, err)
		}
		label := sample.Label
		if label < 0 {
			label = prediction
		}
		if prediction == label {
			result.Correct++
		}
		logger.Info("prediction", "image", sample.Name, "label", label, "prediction", prediction)

		if attack == nil {
			continue
		}
		adversarial, err := attack.Run(ctx, modelURL, sample.Image, label, client.DefaultCriterion)
		if err != nil {
			return result, fmt.Errorf("attacking %s: %w", sample.Name, err)
		}
		if adversarial == nil {
			logger.Info("no adversarial found", "image", sample.Name)
			continue
		}
		if _, err := store.Store(ctx, sample.Name, adversarial); err != nil {
			return result, err
		}
		result.Adversarials++
	}

	completion := notify.New(notify.EventAttackComplete, map[string]any{
		"images":       result.Images,
		"correct":      result.Correct,
		"adversarials": result.Adversarials,
	})
	completion.Blocking = true
	boot.Notifier.Notify(ctx, completion)

	if options.shutdown {
		if _, err := model.Shutdown(ctx); err != nil {
			logger.Warn("model shutdown failed", "error", err)
		}
		if attack != nil {
			if _, err := attack.Shutdown(ctx); err != nil {
				logger.Warn("attack shutdown failed", "error", err)
			}
		}
	}
	return result, nil
}

// loadSamples reads the configured image list, or makes one random
// image labelled with whatever the model predicts for it.
func loadSamples(boot *bootstrap.Boot, seed uint64) ([]dataset.Sample, error) {
	input := boot.Config.Input
	if input.CSVPath != "" {
		samples, err := dataset.Read(input.CSVPath, input.ImagePath)
		if err != nil {
			return nil, err
		}
		boot.Logger.Info("loaded images", "count", len(samples), "csv", input.CSVPath)
		return samples, nil
	}

	random := rand.New(rand.NewPCG(seed, seed))
	values := make([]float32, tensor.ImageSize*tensor.ImageSize*tensor.ImageChannels)
	for i := range values {
		values[i] = random.Float32() * 255
	}
	image, err := tensor.FromValues([]int{tensor.ImageSize, tensor.ImageSize, tensor.ImageChannels}, values)
	if err != nil {
		return nil, err
	}
	return []dataset.Sample{{Name: "random.png", Image: image, Label: -1}}, nil
}
