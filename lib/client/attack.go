// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"

	"github.com/bureau-foundation/avc/lib/message"
	"github.com/bureau-foundation/avc/lib/retry"
	"github.com/bureau-foundation/avc/lib/tensor"
	"github.com/bureau-foundation/avc/lib/transport"
)

// DefaultCriterion is the only criterion attack servers are asked to
// satisfy.
const DefaultCriterion = "Misclassification"

// Attack is a remote attack server.
type Attack struct {
	transport *transport.Client
	retry     retry.Policy
}

// NewAttack creates a client for the attack server at config.URL.
func NewAttack(config Config) (*Attack, error) {
	transportClient, policy, err := config.build()
	if err != nil {
		return nil, err
	}
	return &Attack{transport: transportClient, retry: policy}, nil
}

// Run asks the attack server to find an adversarial for image against
// the model at modelURL. A nil array with a nil error means the attack
// ran but found nothing.
func (a *Attack) Run(ctx context.Context, modelURL string, image *tensor.Array, label int64, criterion string) (*tensor.Array, error) {
	if criterion == "" {
		criterion = DefaultCriterion
	}
	request := message.Message{
		"model_url":      modelURL,
		"image":          image,
		"label":          label,
		"criterion_name": criterion,
	}
	reply, err := retry.Call(ctx, a.retry, "POST /run", func(ctx context.Context) (message.Message, error) {
		return a.transport.Post(ctx, "/run", request)
	})
	if err != nil {
		return nil, err
	}
	if reply["adversarial_image"] == nil {
		return nil, nil
	}
	return reply.Array("adversarial_image")
}

// ServerVersion returns the attack server's version string.
func (a *Attack) ServerVersion(ctx context.Context) (string, error) {
	return a.get(ctx, "/server_version")
}

// Shutdown asks the attack server to stop.
func (a *Attack) Shutdown(ctx context.Context) (string, error) {
	return a.get(ctx, "/shutdown")
}

func (a *Attack) get(ctx context.Context, path string) (string, error) {
	return retry.Call(ctx, a.retry, "GET "+path, func(ctx context.Context) (string, error) {
		return a.transport.Get(ctx, path)
	})
}
