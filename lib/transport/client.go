// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bureau-foundation/avc/lib/codec"
	"github.com/bureau-foundation/avc/lib/message"
	"github.com/bureau-foundation/avc/lib/netutil"
	"github.com/bureau-foundation/avc/lib/rpcerror"
)

// SecretHeader carries the evaluator's shared secret. A request whose
// value matches the server's configured secret bypasses the quota.
const SecretHeader = "Evaluator-Secret"

// DefaultAttemptTimeout bounds one exchange when Config leaves
// AttemptTimeout zero.
const DefaultAttemptTimeout = 30 * time.Second

// Config configures a Client.
type Config struct {
	// BaseURL is the server root, e.g. "http://localhost:8989".
	// Required.
	BaseURL string

	// Secret, if set, is sent in SecretHeader on every request.
	Secret string

	// AttemptTimeout bounds a single exchange including reading the
	// response body. Defaults to DefaultAttemptTimeout.
	AttemptTimeout time.Duration

	// HTTPClient performs requests. Defaults to a client with no
	// timeout of its own; AttemptTimeout applies via the context.
	HTTPClient *http.Client

	// Logger receives per-exchange debug records. Required.
	Logger *slog.Logger
}

// Client performs single exchanges against one server. Safe for
// concurrent use.
type Client struct {
	base           *url.URL
	secret         string
	attemptTimeout time.Duration
	httpClient     *http.Client
	logger         *slog.Logger
}

// New validates config and returns a Client.
func New(config Config) (*Client, error) {
	if config.BaseURL == "" {
		return nil, fmt.Errorf("transport: BaseURL is required")
	}
	if config.Logger == nil {
		return nil, fmt.Errorf("transport: Logger is required")
	}
	base, err := url.Parse(config.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("transport: parsing base URL %q: %w", config.BaseURL, err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("transport: base URL %q must be http or https", config.BaseURL)
	}

	timeout := config.AttemptTimeout
	if timeout <= 0 {
		timeout = DefaultAttemptTimeout
	}
	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		base:           base,
		secret:         config.Secret,
		attemptTimeout: timeout,
		httpClient:     httpClient,
		logger:         config.Logger,
	}, nil
}

// BaseURL returns the server root this client talks to.
func (c *Client) BaseURL() string {
	return c.base.String()
}

// URL resolves path against the base URL. An absolute path replaces
// any path on the base.
func (c *Client) URL(path string) string {
	return c.base.ResolveReference(&url.URL{Path: path}).String()
}

// Post encodes request as a CBOR document, posts it to path, and
// decodes the reply document.
func (c *Client) Post(ctx context.Context, path string, request message.Message) (message.Message, error) {
	op := "POST " + path
	body, err := message.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	data, err := c.exchange(ctx, op, func(ctx context.Context) (*http.Request, error) {
		httpRequest, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL(path), bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		httpRequest.Header.Set("Content-Type", codec.ContentType)
		httpRequest.Header.Set("Accept", codec.ContentType)
		return httpRequest, nil
	})
	if err != nil {
		return nil, err
	}

	reply, err := message.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("%s: decoding reply: %w", op, err)
	}
	return reply, nil
}

// Get fetches path and returns the body as text.
func (c *Client) Get(ctx context.Context, path string) (string, error) {
	op := "GET " + path
	data, err := c.exchange(ctx, op, func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, c.URL(path), nil)
	})
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// exchange runs one request under the per-attempt deadline and
// returns the body of a 2xx response.
func (c *Client) exchange(ctx context.Context, op string, build func(context.Context) (*http.Request, error)) ([]byte, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.attemptTimeout)
	defer cancel()

	request, err := build(attemptCtx)
	if err != nil {
		return nil, fmt.Errorf("%s: building request: %w", op, err)
	}
	if c.secret != "" {
		request.Header.Set(SecretHeader, c.secret)
	}

	start := time.Now()
	response, err := c.httpClient.Do(request)
	if err != nil {
		return nil, c.classify(ctx, op, err)
	}
	defer response.Body.Close()

	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return nil, c.failure(ctx, op, response)
	}

	data, err := netutil.ReadResponse(response.Body)
	if err != nil {
		return nil, c.classify(ctx, op, fmt.Errorf("reading response body: %w", err))
	}
	c.logger.Debug("exchange complete",
		"op", op,
		"status", response.StatusCode,
		"bytes", len(data),
		"duration", time.Since(start),
	)
	return data, nil
}

// classify turns a transport-level error into a TransientError when
// it is safe to retry. Cancellation of the caller's context is
// returned as is, so the retry loop stops.
func (c *Client) classify(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("%s: %w", op, ctx.Err())
	}
	if netutil.IsTransientNetworkError(err) {
		return &rpcerror.TransientError{Op: op, Err: err}
	}
	return fmt.Errorf("%s: %w", op, err)
}

// failure builds the error for a non-2xx response. A decodable error
// payload is an application failure; a 5xx without one is transient.
func (c *Client) failure(ctx context.Context, op string, response *http.Response) error {
	data, readErr := netutil.ReadResponse(response.Body)
	if readErr != nil {
		return c.classify(ctx, op, fmt.Errorf("reading %d response body: %w", response.StatusCode, readErr))
	}

	if isDocument(response.Header.Get("Content-Type")) {
		var payload rpcerror.Payload
		if err := codec.Unmarshal(data, &payload); err == nil && payload.Error != "" {
			return payload.Remote(response.StatusCode)
		}
	}

	text := strings.TrimSpace(netutil.ErrorBody(bytes.NewReader(data)))
	if response.StatusCode >= 500 {
		return &rpcerror.TransientError{
			Op:  op,
			Err: fmt.Errorf("server returned %d: %s", response.StatusCode, text),
		}
	}
	return &rpcerror.RemoteError{
		Status:  response.StatusCode,
		Kind:    kindForStatus(response.StatusCode),
		Message: text,
	}
}

func isDocument(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	return err == nil && mediaType == codec.ContentType
}

// kindForStatus infers a kind for an error response that carried no
// payload, e.g. from a proxy in front of the server.
func kindForStatus(status int) rpcerror.Kind {
	switch status {
	case http.StatusNotFound, http.StatusMethodNotAllowed:
		return rpcerror.KindNotFound
	case http.StatusTooManyRequests:
		return rpcerror.KindQuotaExceeded
	case http.StatusBadRequest, http.StatusUnsupportedMediaType:
		return rpcerror.KindProtocol
	case http.StatusUnprocessableEntity:
		return rpcerror.KindShapeValidation
	default:
		return rpcerror.KindUnknown
	}
}
