// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package attackserver

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/bureau-foundation/avc/lib/client"
	"github.com/bureau-foundation/avc/lib/dispatch"
	"github.com/bureau-foundation/avc/lib/message"
	"github.com/bureau-foundation/avc/lib/notify"
	"github.com/bureau-foundation/avc/lib/rpcerror"
	"github.com/bureau-foundation/avc/lib/service"
	"github.com/bureau-foundation/avc/lib/tensor"
	"github.com/bureau-foundation/avc/lib/version"
)

// Banner is served at GET /.
const Banner = "NIPS 2018 Adversarial Vision Challenge Attack Server\n"

// Attack searches for an adversarial of image against model. It
// returns nil with a nil error when it gives up.
type Attack interface {
	Run(ctx context.Context, model *client.Model, image *tensor.Array, label int64, criterion string) (*tensor.Array, error)
}

// Config configures a Server.
type Config struct {
	// Attack is required.
	Attack Attack

	// Model is the template for per-request model clients. Its URL
	// is replaced by the request's model_url; Logger defaults to
	// Logger.
	Model client.Config

	Notifier notify.Sink

	// Logger is required.
	Logger *slog.Logger
}

// Server adapts an Attack to the wire protocol.
type Server struct {
	attack     Attack
	model      client.Config
	notifier   notify.Sink
	logger     *slog.Logger
	dispatcher *dispatch.Dispatcher

	shutdownOnce sync.Once
	shutdown     chan struct{}
}

// New builds the attack server's routes.
func New(config Config) *Server {
	if config.Attack == nil {
		panic("attackserver: Attack is required")
	}
	if config.Logger == nil {
		panic("attackserver: Logger is required")
	}
	if config.Model.Logger == nil {
		config.Model.Logger = config.Logger
	}
	if config.Model.Retry.Notifier == nil {
		config.Model.Retry.Notifier = config.Notifier
	}
	server := &Server{
		attack:     config.Attack,
		model:      config.Model,
		notifier:   config.Notifier,
		logger:     config.Logger,
		dispatcher: dispatch.New(dispatch.Config{Logger: config.Logger}),
		shutdown:   make(chan struct{}),
	}
	if server.notifier == nil {
		server.notifier = notify.Discard
	}
	server.registerRoutes()
	return server
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
		Path:    "/run",
		Params:  []string{"model_url", "image", "label", "criterion_name"},
		Outputs: []string{"adversarial_image"},
		Constraints: map[string]tensor.Constraint{
			"image": {Shape: tensor.ImageConstraint.Shape},
		},
		Func: func(ctx context.Context, args message.Message) ([]any, error) {
			modelURL, err := args.String("model_url")
			if err != nil {
				return nil, err
			}
			image, err := args.Array("image")
			if err != nil {
				return nil, err
			}
			label, err := args.Int("label")
			if err != nil {
				return nil, err
			}
			criterion := client.DefaultCriterion
			if args.Has("criterion_name") {
				if criterion, err = args.String("criterion_name"); err != nil {
					return nil, err
				}
			}
			adversarial, err := s.Run(ctx, modelURL, image, label, criterion)
			if err != nil {
				return nil, err
			}
			return []any{adversarial}, nil
		},
	})

	s.dispatcher.HandleText(dispatch.TextRoute{
		Path: "/",
		Func: func(context.Context) (string, error) { return Banner, nil },
	})
	s.dispatcher.HandleText(dispatch.TextRoute{
		Path: "/server_version",
		Func: func(context.Context) (string, error) { return version.Short(), nil },
	})
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

// Run attacks image against the model server at modelURL.
func (s *Server) Run(ctx context.Context, modelURL string, image *tensor.Array, label int64, criterion string) (*tensor.Array, error) {
	if criterion != client.DefaultCriterion {
		return nil, &rpcerror.ProtocolError{Reason: fmt.Sprintf("unsupported criterion %q, want %q", criterion, client.DefaultCriterion)}
	}
	modelConfig := s.model
	modelConfig.URL = modelURL
	model, err := client.NewModel(modelConfig)
	if err != nil {
		return nil, &rpcerror.ProtocolError{Reason: fmt.Sprintf("model_url %q: %v", modelURL, err)}
	}

	logger := s.logger.With("model_url", modelURL, "label", label, "image", image.Digest())
	logger.Info("attack started")
	adversarial, err := s.attack.Run(ctx, model, image, label, criterion)
	if err != nil {
		logger.Error("attack failed", "error", err)
		return nil, err
	}
	if adversarial == nil {
		logger.Info("attack found no adversarial")
		return nil, nil
	}
	logger.Info("attack found adversarial", "adversarial", adversarial.Digest())
	s.notifier.Notify(ctx, notify.New(notify.EventAttackComplete, map[string]any{
		"label": label,
	}))
	return adversarial, nil
}

// Serve runs the listener until a client calls /shutdown or ctx is
// cancelled, then shuts it down gracefully.
func Serve(ctx context.Context, listener *service.HTTPServer, server *Server) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	serveDone := make(chan error, 1)
	go func() { serveDone <- listener.Serve(ctx) }()

	select {
	case <-server.ShutdownRequested():
		server.logger.Info("stopping after client shutdown request")
	case <-ctx.Done():
	case err := <-serveDone:
		return err
	}
	cancel()
	return <-serveDone
}
