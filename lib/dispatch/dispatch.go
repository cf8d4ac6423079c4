// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/bureau-foundation/avc/lib/codec"
	"github.com/bureau-foundation/avc/lib/message"
	"github.com/bureau-foundation/avc/lib/netutil"
	"github.com/bureau-foundation/avc/lib/rpcerror"
	"github.com/bureau-foundation/avc/lib/tensor"
)

// Func implements a call endpoint. args holds only declared
// parameters that the request supplied. The returned slice has one
// element per declared output, in order.
type Func func(ctx context.Context, args message.Message) ([]any, error)

// TextFunc implements a text route.
type TextFunc func(ctx context.Context) (string, error)

// Endpoint declares a call route.
type Endpoint struct {
	// Path is the route, e.g. "/predict". Required.
	Path string

	// Params names the fields the handler accepts.
	Params []string

	// Outputs names the handler's results. At least one is required.
	Outputs []string

	// Constraints are checked against array parameters before the
	// handler runs. A constrained parameter that is present but not
	// an array is a shape error.
	Constraints map[string]tensor.Constraint

	// Metered calls consume quota.
	Metered bool

	// Func is required.
	Func Func
}

// TextRoute declares a GET route returning text.
type TextRoute struct {
	Path string
	Func TextFunc

	// Unmarked routes do not count as client activity. Used for
	// /shutdown.
	Unmarked bool
}

// Marker records client activity. Satisfied by *liveness.Monitor.
type Marker interface {
	Mark()
}

// Admitter applies the request quota. Satisfied by *quota.Enforcer.
type Admitter interface {
	Admit(ctx context.Context, request *http.Request) error
}

// Config configures a Dispatcher.
type Config struct {
	// Liveness is marked for every accepted request. Optional.
	Liveness Marker

	// Quota admits metered calls. Optional; nil admits everything.
	Quota Admitter

	// MaxRequestSize bounds request bodies. Defaults to
	// netutil.MaxRequestSize.
	MaxRequestSize int64

	// Logger is required.
	Logger *slog.Logger
}

// Dispatcher is an http.Handler serving registered routes. Register
// routes before serving; registration is not synchronized with
// ServeHTTP beyond a read lock.
type Dispatcher struct {
	liveness       Marker
	quota          Admitter
	maxRequestSize int64
	logger         *slog.Logger

	mu        sync.RWMutex
	endpoints map[string]Endpoint
	texts     map[string]TextRoute
}

// New creates a Dispatcher with no routes. Panics if Logger is nil.
func New(config Config) *Dispatcher {
	if config.Logger == nil {
		panic("dispatch.Dispatcher: Logger is required")
	}
	limit := config.MaxRequestSize
	if limit <= 0 {
		limit = netutil.MaxRequestSize
	}
	return &Dispatcher{
		liveness:       config.Liveness,
		quota:          config.Quota,
		maxRequestSize: limit,
		logger:         config.Logger,
		endpoints:      make(map[string]Endpoint),
		texts:          make(map[string]TextRoute),
	}
}

// Handle registers a call endpoint. Panics on a duplicate path or an
// incomplete declaration.
func (d *Dispatcher) Handle(endpoint Endpoint) {
	if endpoint.Path == "" || endpoint.Func == nil {
		panic("dispatch: endpoint requires Path and Func")
	}
	if len(endpoint.Outputs) == 0 {
		panic(fmt.Sprintf("dispatch: endpoint %s declares no outputs", endpoint.Path))
	}
	for name := range endpoint.Constraints {
		if !slices.Contains(endpoint.Params, name) {
			panic(fmt.Sprintf("dispatch: endpoint %s constrains undeclared parameter %q", endpoint.Path, name))
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.requireUnused(endpoint.Path)
	d.endpoints[endpoint.Path] = endpoint
}

// HandleText registers a text route. Panics on a duplicate path.
func (d *Dispatcher) HandleText(route TextRoute) {
	if route.Path == "" || route.Func == nil {
		panic("dispatch: text route requires Path and Func")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.requireUnused(route.Path)
	d.texts[route.Path] = route
}

// Has reports whether path is registered.
func (d *Dispatcher) Has(path string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, isCall := d.endpoints[path]
	_, isText := d.texts[path]
	return isCall || isText
}

func (d *Dispatcher) requireUnused(path string) {
	if _, exists := d.endpoints[path]; exists {
		panic(fmt.Sprintf("dispatch: duplicate route %s", path))
	}
	if _, exists := d.texts[path]; exists {
		panic(fmt.Sprintf("dispatch: duplicate route %s", path))
	}
}

// ServeHTTP implements http.Handler.
func (d *Dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

	d.mu.RLock()
	endpoint, isCall := d.endpoints[r.URL.Path]
	text, isText := d.texts[r.URL.Path]
	d.mu.RUnlock()

	switch {
	case isCall:
		d.mark()
		d.serveCall(recorder, r, endpoint)
	case isText:
		if !text.Unmarked {
			d.mark()
		}
		d.serveText(recorder, r, text)
	default:
		d.writeError(recorder, r, &rpcerror.NotFoundError{Path: r.URL.Path})
	}

	d.logger.Debug("request handled",
		"method", r.Method,
		"path", r.URL.Path,
		"status", recorder.status,
		"duration", time.Since(start),
	)
}

func (d *Dispatcher) mark() {
	if d.liveness != nil {
		d.liveness.Mark()
	}
}

func (d *Dispatcher) serveCall(w http.ResponseWriter, r *http.Request, endpoint Endpoint) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		d.writeErrorStatus(w, r, http.StatusMethodNotAllowed, &rpcerror.ProtocolError{
			Reason: fmt.Sprintf("%s requires POST, got %s", endpoint.Path, r.Method),
		})
		return
	}

	contentType := r.Header.Get("Content-Type")
	if mediaType, _, err := mime.ParseMediaType(contentType); err != nil || mediaType != codec.ContentType {
		d.writeError(w, r, &rpcerror.ProtocolError{
			ContentType: contentType,
			Reason:      "expected " + codec.ContentType,
		})
		return
	}

	if endpoint.Metered && d.quota != nil {
		if err := d.quota.Admit(r.Context(), r); err != nil {
			d.writeError(w, r, err)
			return
		}
	}

	body, err := netutil.ReadBody(r.Body, d.maxRequestSize)
	if err != nil {
		d.writeError(w, r, &rpcerror.ProtocolError{
			ContentType: contentType,
			Reason:      "reading request body",
			Err:         err,
		})
		return
	}

	reply, err := d.call(r.Context(), endpoint, body)
	if err != nil {
		d.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", codec.ContentType)
	if _, err := w.Write(reply); err != nil && !netutil.IsExpectedCloseError(err) {
		d.logger.Warn("writing reply failed", "path", endpoint.Path, "error", err)
	}
}

// call runs everything between the raw body and the encoded reply.
func (d *Dispatcher) call(ctx context.Context, endpoint Endpoint, body []byte) ([]byte, error) {
	request, err := message.Unmarshal(body)
	if err != nil {
		d.logDecodeFailure(ctx, endpoint.Path, body, err)
		return nil, err
	}

	args := d.bind(endpoint, request)
	for _, name := range endpoint.Params {
		constraint, constrained := endpoint.Constraints[name]
		if !constrained || !args.Has(name) {
			continue
		}
		array, err := args.Array(name)
		if err != nil {
			return nil, err
		}
		if err := constraint.Check(name, array); err != nil {
			return nil, err
		}
	}

	results, err := endpoint.Func(ctx, args)
	if err != nil {
		return nil, err
	}
	return message.Marshal(wrap(endpoint, results))
}

// bind keeps declared parameters and drops everything else.
func (d *Dispatcher) bind(endpoint Endpoint, request message.Message) message.Message {
	args := make(message.Message, len(endpoint.Params))
	for _, name := range request.Names() {
		if !slices.Contains(endpoint.Params, name) {
			d.logger.Debug("ignoring field not accepted by endpoint", "path", endpoint.Path, "field", name)
			continue
		}
		args[name] = request[name]
	}
	return args
}

// wrap pairs results with output names.
func wrap(endpoint Endpoint, results []any) message.Message {
	if len(results) != len(endpoint.Outputs) {
		panic(fmt.Sprintf("dispatch: %s returned %d results for %d declared outputs",
			endpoint.Path, len(results), len(endpoint.Outputs)))
	}
	reply := make(message.Message, len(results))
	for i, name := range endpoint.Outputs {
		reply[name] = results[i]
	}
	return reply
}

func (d *Dispatcher) serveText(w http.ResponseWriter, r *http.Request, route TextRoute) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", http.MethodGet)
		d.writeErrorStatus(w, r, http.StatusMethodNotAllowed, &rpcerror.ProtocolError{
			Reason: fmt.Sprintf("%s requires GET, got %s", route.Path, r.Method),
		})
		return
	}
	text, err := route.Func(r.Context())
	if err != nil {
		d.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if _, err := w.Write([]byte(text)); err != nil && !netutil.IsExpectedCloseError(err) {
		d.logger.Warn("writing reply failed", "path", route.Path, "error", err)
	}
}

func (d *Dispatcher) writeError(w http.ResponseWriter, r *http.Request, err error) {
	d.writeErrorStatus(w, r, rpcerror.HTTPStatus(rpcerror.KindOf(err)), err)
}

func (d *Dispatcher) writeErrorStatus(w http.ResponseWriter, r *http.Request, status int, err error) {
	level := slog.LevelWarn
	if status >= 500 {
		level = slog.LevelError
	}
	d.logger.Log(r.Context(), level, "request failed",
		"method", r.Method,
		"path", r.URL.Path,
		"status", status,
		"kind", string(rpcerror.KindOf(err)),
		"error", err,
	)
	WriteError(w, status, err)
}

// WriteError writes err as an rpcerror.Payload document with status.
func WriteError(w http.ResponseWriter, status int, err error) {
	data, marshalErr := codec.Marshal(rpcerror.NewPayload(err))
	if marshalErr != nil {
		http.Error(w, err.Error(), status)
		return
	}
	w.Header().Set("Content-Type", codec.ContentType)
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// statusRecorder captures the response status for the request log.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// maxDiagnosticBytes caps how much of an undecodable body is rendered
// into the debug log.
const maxDiagnosticBytes = 512

// logDecodeFailure records the CBOR diagnostic notation of a body the
// endpoint could not decode. Bodies that are not CBOR at all are
// logged by length only.
func (d *Dispatcher) logDecodeFailure(ctx context.Context, path string, body []byte, err error) {
	if !d.logger.Enabled(ctx, slog.LevelDebug) {
		return
	}
	attrs := []any{"path", path, "error", err, "bytes", len(body)}
	if len(body) <= maxDiagnosticBytes {
		if notation, diagErr := codec.Diagnose(body); diagErr == nil {
			attrs = append(attrs, "document", notation)
		}
	}
	d.logger.DebugContext(ctx, "undecodable request body", attrs...)
}
