// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bureau-foundation/avc/lib/message"
	"github.com/bureau-foundation/avc/lib/retry"
	"github.com/bureau-foundation/avc/lib/tensor"
	"github.com/bureau-foundation/avc/lib/transport"
)

// Config configures a Model or Attack client.
type Config struct {
	// URL is the server root, e.g. "http://localhost:8989". Required.
	URL string

	// Secret is sent as transport.SecretHeader when set.
	Secret string

	// AttemptTimeout bounds each exchange. Defaults to
	// transport.DefaultAttemptTimeout.
	AttemptTimeout time.Duration

	// HTTPClient defaults to a fresh http.Client.
	HTTPClient *http.Client

	// Retry is the policy applied to every call. Its Logger
	// defaults to Logger.
	Retry retry.Policy

	// Logger is required.
	Logger *slog.Logger
}

func (c Config) build() (*transport.Client, retry.Policy, error) {
	if c.Logger == nil {
		return nil, retry.Policy{}, fmt.Errorf("client: Logger is required")
	}
	transportClient, err := transport.New(transport.Config{
		BaseURL:        c.URL,
		Secret:         c.Secret,
		AttemptTimeout: c.AttemptTimeout,
		HTTPClient:     c.HTTPClient,
		Logger:         c.Logger,
	})
	if err != nil {
		return nil, retry.Policy{}, err
	}
	policy := c.Retry
	if policy.Logger == nil {
		policy.Logger = c.Logger
	}
	return transportClient, policy, nil
}

// Model is a remote model server.
type Model struct {
	transport *transport.Client
	retry     retry.Policy
	logger    *slog.Logger
}

// Metadata describes a model server.
type Metadata struct {
	Bounds        [2]float64
	ChannelAxis   int
	ImageSize     int
	NumClasses    int
	ChannelOrder  string
	Dataset       string
	ServerVersion string
}

// NewModel creates a client for the model server at config.URL. No
// request is made until a method is called.
func NewModel(config Config) (*Model, error) {
	transportClient, policy, err := config.build()
	if err != nil {
		return nil, err
	}
	return &Model{transport: transportClient, retry: policy, logger: config.Logger}, nil
}

// URL returns the server root.
func (m *Model) URL() string {
	return m.transport.BaseURL()
}

// Predict checks and converts image (see tensor.CheckImage) and
// returns the server's class for it.
func (m *Model) Predict(ctx context.Context, image *tensor.Array) (int64, error) {
	checked, err := tensor.CheckImage(image, m.logger)
	if err != nil {
		return 0, err
	}
	reply, err := m.post(ctx, "/predict", message.Message{"image": checked})
	if err != nil {
		return 0, err
	}
	return reply.Int("prediction")
}

// BatchPredictions classifies an (N,64,64,3) uint8 batch.
func (m *Model) BatchPredictions(ctx context.Context, images *tensor.Array) ([]int64, error) {
	if err := tensor.BatchConstraint.Check("images", images); err != nil {
		return nil, err
	}
	reply, err := m.post(ctx, "/batch_predictions", message.Message{"images": images})
	if err != nil {
		return nil, err
	}
	predictions, err := reply.Array("predictions")
	if err != nil {
		return nil, err
	}
	return tensor.Values[int64](predictions)
}

// PredictionsAndGradient returns logits for image and the loss
// gradient for label with respect to image.
func (m *Model) PredictionsAndGradient(ctx context.Context, image *tensor.Array, label int64) (predictions, gradient *tensor.Array, err error) {
	reply, err := m.post(ctx, "/predictions_and_gradient", message.Message{"image": image, "label": label})
	if err != nil {
		return nil, nil, err
	}
	if predictions, err = reply.Array("predictions"); err != nil {
		return nil, nil, err
	}
	if gradient, err = reply.Array("gradient"); err != nil {
		return nil, nil, err
	}
	return predictions, gradient, nil
}

// Backward back-propagates gradient to the input image.
func (m *Model) Backward(ctx context.Context, gradient, image *tensor.Array) (*tensor.Array, error) {
	reply, err := m.post(ctx, "/backward", message.Message{"gradient": gradient, "image": image})
	if err != nil {
		return nil, err
	}
	return reply.Array("gradient")
}

// Bounds returns the model's input value range.
func (m *Model) Bounds(ctx context.Context) (minimum, maximum float64, err error) {
	text, err := m.get(ctx, "/bounds")
	if err != nil {
		return 0, 0, err
	}
	lines := strings.Split(strings.TrimSpace(text), "\n")
	if len(lines) != 2 {
		return 0, 0, fmt.Errorf("parsing /bounds %q: want two lines", text)
	}
	if minimum, err = strconv.ParseFloat(strings.TrimSpace(lines[0]), 64); err != nil {
		return 0, 0, fmt.Errorf("parsing /bounds minimum: %w", err)
	}
	if maximum, err = strconv.ParseFloat(strings.TrimSpace(lines[1]), 64); err != nil {
		return 0, 0, fmt.Errorf("parsing /bounds maximum: %w", err)
	}
	return minimum, maximum, nil
}

// ChannelAxis returns 1 for channel-first models, 3 for channel-last.
func (m *Model) ChannelAxis(ctx context.Context) (int, error) {
	return m.getInt(ctx, "/channel_axis")
}

// ImageSize returns the side length of accepted images.
func (m *Model) ImageSize(ctx context.Context) (int, error) {
	return m.getInt(ctx, "/image_size")
}

// NumClasses returns the number of output classes.
func (m *Model) NumClasses(ctx context.Context) (int, error) {
	return m.getInt(ctx, "/num_classes")
}

// ChannelOrder returns the channel order, e.g. "RGB".
func (m *Model) ChannelOrder(ctx context.Context) (string, error) {
	return m.get(ctx, "/channel_order")
}

// Dataset returns the dataset name, upper-cased.
func (m *Model) Dataset(ctx context.Context) (string, error) {
	text, err := m.get(ctx, "/dataset")
	return strings.ToUpper(text), err
}

// ServerVersion returns the server's version string.
func (m *Model) ServerVersion(ctx context.Context) (string, error) {
	return m.get(ctx, "/server_version")
}

// Shutdown asks the server to stop and returns its acknowledgement.
func (m *Model) Shutdown(ctx context.Context) (string, error) {
	return m.get(ctx, "/shutdown")
}

// Metadata fetches every descriptive route.
func (m *Model) Metadata(ctx context.Context) (Metadata, error) {
	var metadata Metadata
	var err error
	if metadata.Bounds[0], metadata.Bounds[1], err = m.Bounds(ctx); err != nil {
		return Metadata{}, err
	}
	if metadata.ChannelAxis, err = m.ChannelAxis(ctx); err != nil {
		return Metadata{}, err
	}
	if metadata.ImageSize, err = m.ImageSize(ctx); err != nil {
		return Metadata{}, err
	}
	if metadata.NumClasses, err = m.NumClasses(ctx); err != nil {
		return Metadata{}, err
	}
	if metadata.ChannelOrder, err = m.ChannelOrder(ctx); err != nil {
		return Metadata{}, err
	}
	if metadata.Dataset, err = m.Dataset(ctx); err != nil {
		return Metadata{}, err
	}
	if metadata.ServerVersion, err = m.ServerVersion(ctx); err != nil {
		return Metadata{}, err
	}
	return metadata, nil
}

func (m *Model) post(ctx context.Context, path string, request message.Message) (message.Message, error) {
	return retry.Call(ctx, m.retry, "POST "+path, func(ctx context.Context) (message.Message, error) {
		return m.transport.Post(ctx, path, request)
	})
}

func (m *Model) get(ctx context.Context, path string) (string, error) {
	return retry.Call(ctx, m.retry, "GET "+path, func(ctx context.Context) (string, error) {
		return m.transport.Get(ctx, path)
	})
}

func (m *Model) getInt(ctx context.Context, path string) (int, error) {
	text, err := m.get(ctx, path)
	if err != nil {
		return 0, err
	}
	value, err := strconv.Atoi(strings.TrimSpace(text))
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", path, err)
	}
	return value, nil
}
