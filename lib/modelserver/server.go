// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package modelserver

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"

	"github.com/bureau-foundation/avc/lib/dispatch"
	"github.com/bureau-foundation/avc/lib/message"
	"github.com/bureau-foundation/avc/lib/notify"
	"github.com/bureau-foundation/avc/lib/process"
	"github.com/bureau-foundation/avc/lib/tensor"
	"github.com/bureau-foundation/avc/lib/version"
)

// Banner is served at GET /.
const Banner = "NIPS 2018 Adversarial Vision Challenge Model Server\n"

// Defaults for the descriptive routes.
const (
	DefaultNumClasses   = 200
	DefaultDataset      = "tiny_imagenet"
	DefaultChannelOrder = "RGB"
)

// AssertionError reports a model that violated its contract: bad
// startup parameters or an out-of-range prediction.
type AssertionError struct {
	Message string
}

func (e *AssertionError) Error() string {
	return "model assertion failed: " + e.Message
}

// ExitCode makes a startup assertion end the process with
// process.ExitAssertionFailure.
func (e *AssertionError) ExitCode() int { return process.ExitAssertionFailure }

// Config configures a Server.
type Config struct {
	// Model is required.
	Model Model

	// NumClasses defaults to DefaultNumClasses.
	NumClasses int

	// Dataset and ChannelOrder default to DefaultDataset and
	// DefaultChannelOrder.
	Dataset      string
	ChannelOrder string

	// Liveness is marked for every accepted request. Optional.
	Liveness dispatch.Marker

	// Quota meters the prediction routes. Optional.
	Quota dispatch.Admitter

	Notifier notify.Sink

	// Logger is required.
	Logger *slog.Logger
}

// Server adapts a Model to the wire protocol.
type Server struct {
	model        Model
	channelAxis  int
	numClasses   int
	dataset      string
	channelOrder string
	notifier     notify.Sink
	logger       *slog.Logger
	dispatcher   *dispatch.Dispatcher

	shutdownOnce sync.Once
	shutdown     chan struct{}
}

// New checks the model and builds its routes. A model with an
// unsupported channel axis or bounds other than (0, 255) is an
// *AssertionError.
func New(config Config) (*Server, error) {
	if config.Model == nil {
		return nil, fmt.Errorf("modelserver: Model is required")
	}
	if config.Logger == nil {
		return nil, fmt.Errorf("modelserver: Logger is required")
	}

	server := &Server{
		model:        config.Model,
		channelAxis:  config.Model.ChannelAxis(),
		numClasses:   config.NumClasses,
		dataset:      config.Dataset,
		channelOrder: config.ChannelOrder,
		notifier:     config.Notifier,
		logger:       config.Logger,
		shutdown:     make(chan struct{}),
	}
	if server.numClasses <= 0 {
		server.numClasses = DefaultNumClasses
	}
	if server.dataset == "" {
		server.dataset = DefaultDataset
	}
	if server.channelOrder == "" {
		server.channelOrder = DefaultChannelOrder
	}
	if server.notifier == nil {
		server.notifier = notify.Discard
	}

	ctx := context.Background()
	if server.channelAxis != 1 && server.channelAxis != 3 {
		return nil, server.assertionFailed(ctx, "model channel axis should be either 1 or 3, got %d", server.channelAxis)
	}
	if minimum, maximum := config.Model.Bounds(); minimum != 0 || maximum != 255 {
		return nil, server.assertionFailed(ctx,
			"bounds must be (0, 255), got (%g, %g); rescale inputs inside the model", minimum, maximum)
	}

	server.dispatcher = dispatch.New(dispatch.Config{
		Liveness: config.Liveness,
		Quota:    config.Quota,
		Logger:   config.Logger,
	})
	server.registerRoutes()

	server.logger.Info("model server configured",
		"channel_axis", server.channelAxis,
		"num_classes", server.numClasses,
		"dataset", server.dataset,
		"gradients", server.dispatcher.Has("/backward"),
	)
	return server, nil
}

// Handler returns the HTTP handler serving every route.
func (s *Server) Handler() http.Handler {
	return s.dispatcher
}

// ShutdownRequested is closed when a client calls GET /shutdown.
func (s *Server) ShutdownRequested() <-chan struct{} {
	return s.shutdown
}

func (s *Server) registerRoutes() {
	s.dispatcher.Handle(dispatch.Endpoint{
		Path:        "/predict",
		Params:      []string{"image"},
		Outputs:     []string{"prediction"},
		Constraints: map[string]tensor.Constraint{"image": tensor.ImageConstraint},
		Metered:     true,
		Func: func(ctx context.Context, args message.Message) ([]any, error) {
			image, err := args.Array("image")
			if err != nil {
				return nil, err
			}
			prediction, err := s.Predict(ctx, image)
			if err != nil {
				return nil, err
			}
			return []any{prediction}, nil
		},
	})

	s.dispatcher.Handle(dispatch.Endpoint{
		Path:        "/batch_predictions",
		Params:      []string{"images"},
		Outputs:     []string{"predictions"},
		Constraints: map[string]tensor.Constraint{"images": tensor.BatchConstraint},
		Metered:     true,
		Func: func(ctx context.Context, args message.Message) ([]any, error) {
			images, err := args.Array("images")
			if err != nil {
				return nil, err
			}
			predictions, err := s.BatchPredictions(ctx, images)
			if err != nil {
				return nil, err
			}
			return []any{predictions}, nil
		},
	})

	if gradientModel, ok := s.model.(GradientModel); ok {
		s.registerGradientRoutes(gradientModel)
	}

	texts := map[string]func() string{
		"/":               func() string { return Banner },
		"/server_version": version.Short,
		"/bounds":         func() string { return "0\n255" },
		"/channel_axis":   func() string { return strconv.Itoa(s.channelAxis) },
		"/num_classes":    func() string { return strconv.Itoa(s.numClasses) },
		"/image_size":     func() string { return strconv.Itoa(tensor.ImageSize) },
		"/channel_order":  func() string { return s.channelOrder },
		"/dataset":        func() string { return s.dataset },
	}
	for path, text := range texts {
		s.dispatcher.HandleText(dispatch.TextRoute{
			Path: path,
			Func: func(context.Context) (string, error) { return text(), nil },
		})
	}
	s.dispatcher.HandleText(dispatch.TextRoute{
		Path:     "/shutdown",
		Unmarked: true,
		Func: func(context.Context) (string, error) {
			s.shutdownOnce.Do(func() {
				s.logger.Info("shutdown requested by client")
				close(s.shutdown)
			})
			return "Shutting down ...", nil
		},
	})
}

func (s *Server) registerGradientRoutes(model GradientModel) {
	gradientInput := tensor.Constraint{Shape: s.inputShape()}

	s.dispatcher.Handle(dispatch.Endpoint{
		Path:        "/predictions_and_gradient",
		Params:      []string{"image", "label"},
		Outputs:     []string{"predictions", "gradient"},
		Constraints: map[string]tensor.Constraint{"image": gradientInput},
		Metered:     true,
		Func: func(ctx context.Context, args message.Message) ([]any, error) {
			image, err := args.Array("image")
			if err != nil {
				return nil, err
			}
			label, err := args.Int("label")
			if err != nil {
				return nil, err
			}
			predictions, gradient, err := model.PredictionsAndGradient(ctx, tensor.AsFloat32(image), label)
			if err != nil {
				return nil, fmt.Errorf("computing gradient: %w", err)
			}
			return []any{predictions, gradient}, nil
		},
	})

	s.dispatcher.Handle(dispatch.Endpoint{
		Path:        "/backward",
		Params:      []string{"gradient", "image"},
		Outputs:     []string{"gradient"},
		Constraints: map[string]tensor.Constraint{"image": gradientInput},
		Metered:     true,
		Func: func(ctx context.Context, args message.Message) ([]any, error) {
			gradient, err := args.Array("gradient")
			if err != nil {
				return nil, err
			}
			image, err := args.Array("image")
			if err != nil {
				return nil, err
			}
			result, err := model.Backward(ctx, tensor.AsFloat32(gradient), tensor.AsFloat32(image))
			if err != nil {
				return nil, fmt.Errorf("back-propagating: %w", err)
			}
			return []any{result}, nil
		},
	})
}

// inputShape is the image layout the model consumes.
func (s *Server) inputShape() []int {
	if s.channelAxis == 1 {
		return []int{tensor.ImageChannels, tensor.ImageSize, tensor.ImageSize}
	}
	return []int{tensor.ImageSize, tensor.ImageSize, tensor.ImageChannels}
}

// Predict classifies one (64,64,3) uint8 image.
func (s *Server) Predict(ctx context.Context, image *tensor.Array) (int64, error) {
	input, err := s.adapt(image, 2, 0, 1)
	if err != nil {
		return 0, err
	}
	output, err := s.model.Predictions(ctx, input)
	if err != nil {
		return 0, fmt.Errorf("model predictions: %w", err)
	}
	return s.classify(ctx, output)
}

// BatchPredictions classifies an (N,64,64,3) uint8 batch and returns
// an int64 vector of N classes.
func (s *Server) BatchPredictions(ctx context.Context, images *tensor.Array) (*tensor.Array, error) {
	count := images.Shape()[0]
	classes := make([]int64, count)

	if batchModel, ok := s.model.(BatchModel); ok {
		input, err := s.adapt(images, 0, 3, 1, 2)
		if err != nil {
			return nil, err
		}
		output, err := batchModel.BatchPredictions(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("model batch predictions: %w", err)
		}
		if shape := output.Shape(); len(shape) == 0 || shape[0] != count {
			return nil, s.assertionFailed(ctx, "batch predictions should have %d rows, got shape %v", count, shape)
		}
		for i := range count {
			row, err := tensor.Slice(output, i)
			if err != nil {
				return nil, err
			}
			if classes[i], err = s.classify(ctx, row); err != nil {
				return nil, err
			}
		}
	} else {
		for i := range count {
			image, err := tensor.Slice(images, i)
			if err != nil {
				return nil, err
			}
			if classes[i], err = s.Predict(ctx, image); err != nil {
				return nil, fmt.Errorf("image %d: %w", i, err)
			}
		}
	}
	return tensor.FromValues([]int{count}, classes)
}

// adapt converts to float32 and, for a channel-first model, applies
// the channel-first permutation.
func (s *Server) adapt(image *tensor.Array, channelFirst ...int) (*tensor.Array, error) {
	input := tensor.AsFloat32(image)
	if s.channelAxis != 1 {
		return input, nil
	}
	return tensor.Transpose(input, channelFirst...)
}

// classify turns a model output into a class index.
func (s *Server) classify(ctx context.Context, output *tensor.Array) (int64, error) {
	if output == nil || output.Size() == 0 {
		return 0, s.assertionFailed(ctx, "model returned no prediction")
	}
	var class int64
	if output.Size() > 1 {
		if output.Size() != s.numClasses {
			return 0, s.assertionFailed(ctx, "prediction size should be %d, but got %d", s.numClasses, output.Size())
		}
		class = int64(tensor.ArgMax(output))
	} else {
		class = int64(output.Float64At(0))
	}
	if class < 0 || class >= int64(s.numClasses) {
		return 0, s.assertionFailed(ctx, "prediction should be a value between 0 and %d, but got %d", s.numClasses, class)
	}
	return class, nil
}

func (s *Server) assertionFailed(ctx context.Context, format string, args ...any) error {
	message := fmt.Sprintf(format, args...)
	s.logger.Error("model assertion failed", "message", message)
	notification := notify.New(notify.EventAssertionFailure, nil)
	notification.Message = message
	s.notifier.Notify(ctx, notification)
	return &AssertionError{Message: message}
}
