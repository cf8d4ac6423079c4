// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package dispatch

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/bureau-foundation/avc/lib/codec"
	"github.com/bureau-foundation/avc/lib/message"
	"github.com/bureau-foundation/avc/lib/notify"
	"github.com/bureau-foundation/avc/lib/quota"
	"github.com/bureau-foundation/avc/lib/rpcerror"
	"github.com/bureau-foundation/avc/lib/tensor"
)

type countingMarker struct{ marks atomic.Int32 }

func (m *countingMarker) Mark() { m.marks.Add(1) }

// predictEndpoint mirrors the model server's /predict: one constrained
// image parameter, one prediction output.
func predictEndpoint(prediction int64, seen *message.Message) Endpoint {
	return Endpoint{
		Path:        "/predict",
		Params:      []string{"image"},
		Outputs:     []string{"prediction"},
		Constraints: map[string]tensor.Constraint{"image": tensor.ImageConstraint},
		Metered:     true,
		Func: func(_ context.Context, args message.Message) ([]any, error) {
			if seen != nil {
				*seen = args
			}
			if _, err := args.Array("image"); err != nil {
				return nil, err
			}
			return []any{prediction}, nil
		},
	}
}

func newDispatcher(marker Marker, admitter Admitter) *Dispatcher {
	return New(Config{Liveness: marker, Quota: admitter, Logger: slog.New(slog.DiscardHandler)})
}

func post(t *testing.T, handler http.Handler, path string, request message.Message) *httptest.ResponseRecorder {
	t.Helper()
	body, err := message.Marshal(request)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	httpRequest := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	httpRequest.Header.Set("Content-Type", codec.ContentType)
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httpRequest)
	return recorder
}

func decodeReply(t *testing.T, recorder *httptest.ResponseRecorder) message.Message {
	t.Helper()
	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %q", recorder.Code, recorder.Body.String())
	}
	reply, err := message.Unmarshal(recorder.Body.Bytes())
	if err != nil {
		t.Fatalf("Unmarshal reply: %v", err)
	}
	return reply
}

func decodePayload(t *testing.T, recorder *httptest.ResponseRecorder) rpcerror.Payload {
	t.Helper()
	if recorder.Header().Get("Content-Type") != codec.ContentType {
		t.Fatalf("error Content-Type = %q", recorder.Header().Get("Content-Type"))
	}
	var payload rpcerror.Payload
	if err := codec.Unmarshal(recorder.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decoding error payload: %v", err)
	}
	return payload
}

func TestPredictEndToEnd(t *testing.T) {
	image, err := tensor.Zeros(tensor.Uint8, 64, 64, 3)
	if err != nil {
		t.Fatalf("Zeros: %v", err)
	}
	envelope := tensor.Encode(image)
	if envelope.DType != "u1" || len(envelope.Data) != 12288 {
		t.Fatalf("envelope = dtype %q, %d bytes", envelope.DType, len(envelope.Data))
	}

	marker := &countingMarker{}
	dispatcher := newDispatcher(marker, nil)
	dispatcher.Handle(predictEndpoint(7, nil))

	reply := decodeReply(t, post(t, dispatcher, "/predict", message.Message{"image": image}))
	if got, err := reply.Int("prediction"); err != nil || got != 7 {
		t.Fatalf("prediction = %d, %v; want 7", got, err)
	}
	if len(reply) != 1 {
		t.Errorf("reply fields = %v, want only prediction", reply.Names())
	}
	if marker.marks.Load() != 1 {
		t.Errorf("marks = %d, want 1", marker.marks.Load())
	}
}

func TestShapeViolationRejectedBeforeHandler(t *testing.T) {
	called := false
	dispatcher := newDispatcher(nil, nil)
	endpoint := predictEndpoint(7, nil)
	inner := endpoint.Func
	endpoint.Func = func(ctx context.Context, args message.Message) ([]any, error) {
		called = true
		return inner(ctx, args)
	}
	dispatcher.Handle(endpoint)

	small, _ := tensor.Zeros(tensor.Uint8, 32, 32, 3)
	recorder := post(t, dispatcher, "/predict", message.Message{"image": small})

	if recorder.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", recorder.Code)
	}
	payload := decodePayload(t, recorder)
	if payload.Kind != rpcerror.KindShapeValidation {
		t.Errorf("kind = %q", payload.Kind)
	}
	if !strings.Contains(payload.Error, "[32 32 3]") || !strings.Contains(payload.Error, `"image"`) {
		t.Errorf("error %q does not name the field and offending shape", payload.Error)
	}
	if called {
		t.Error("handler ran despite shape violation")
	}
}

func TestWrongDTypeRejected(t *testing.T) {
	dispatcher := newDispatcher(nil, nil)
	dispatcher.Handle(predictEndpoint(7, nil))

	floats, _ := tensor.Zeros(tensor.Float32, 64, 64, 3)
	recorder := post(t, dispatcher, "/predict", message.Message{"image": floats})
	if recorder.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", recorder.Code)
	}
}

func TestUnknownFieldsDroppedMissingLeftUnbound(t *testing.T) {
	var seen message.Message
	dispatcher := newDispatcher(nil, nil)
	dispatcher.Handle(Endpoint{
		Path:    "/echo",
		Params:  []string{"label", "criterion_name"},
		Outputs: []string{"label"},
		Func: func(_ context.Context, args message.Message) ([]any, error) {
			seen = args
			return []any{args["label"]}, nil
		},
	})

	reply := decodeReply(t, post(t, dispatcher, "/echo", message.Message{"label": 3, "verbose": true}))
	if seen.Has("verbose") {
		t.Error("undeclared field reached the handler")
	}
	if seen.Has("criterion_name") {
		t.Error("absent parameter was bound")
	}
	if got, _ := reply.Int("label"); got != 3 {
		t.Errorf("label = %d", got)
	}
}

func TestMultipleOutputsZipped(t *testing.T) {
	dispatcher := newDispatcher(nil, nil)
	dispatcher.Handle(Endpoint{
		Path:    "/pair",
		Outputs: []string{"predictions", "gradient"},
		Func: func(context.Context, message.Message) ([]any, error) {
			return []any{int64(1), "g"}, nil
		},
	})
	reply := decodeReply(t, post(t, dispatcher, "/pair", message.Message{}))
	if got, _ := reply.Int("predictions"); got != 1 {
		t.Errorf("predictions = %d", got)
	}
	if got, _ := reply.String("gradient"); got != "g" {
		t.Errorf("gradient = %q", got)
	}
}

func TestOutputCountMismatchPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("mismatched result count did not panic")
		}
	}()
	wrap(Endpoint{Path: "/pair", Outputs: []string{"a", "b"}}, []any{1})
}

func TestContentTypeRejected(t *testing.T) {
	for name, contentType := range map[string]string{
		"json":    "application/json",
		"bson":    "application/bson",
		"missing": "",
	} {
		t.Run(name, func(t *testing.T) {
			dispatcher := newDispatcher(nil, nil)
			dispatcher.Handle(predictEndpoint(7, nil))

			request := httptest.NewRequest(http.MethodPost, "/predict", strings.NewReader("{}"))
			if contentType != "" {
				request.Header.Set("Content-Type", contentType)
			}
			recorder := httptest.NewRecorder()
			dispatcher.ServeHTTP(recorder, request)

			if recorder.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", recorder.Code)
			}
			if kind := decodePayload(t, recorder).Kind; kind != rpcerror.KindProtocol {
				t.Errorf("kind = %q", kind)
			}
		})
	}
}

func TestUndecodableBodyIsProtocolError(t *testing.T) {
	dispatcher := newDispatcher(nil, nil)
	dispatcher.Handle(predictEndpoint(7, nil))

	request := httptest.NewRequest(http.MethodPost, "/predict", bytes.NewReader([]byte{0xff, 0xfe}))
	request.Header.Set("Content-Type", codec.ContentType+"; charset=binary")
	recorder := httptest.NewRecorder()
	dispatcher.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", recorder.Code)
	}
}

func TestUndecodableDocumentLoggedInDiagnosticNotation(t *testing.T) {
	var logs bytes.Buffer
	dispatcher := New(Config{Logger: slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))})
	dispatcher.Handle(predictEndpoint(7, nil))

	body, err := codec.Marshal("predict")
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	request := httptest.NewRequest(http.MethodPost, "/predict", bytes.NewReader(body))
	request.Header.Set("Content-Type", codec.ContentType)
	recorder := httptest.NewRecorder()
	dispatcher.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", recorder.Code)
	}
	output := logs.String()
	if !strings.Contains(output, "undecodable request body") || !strings.Contains(output, "predict") {
		t.Errorf("debug log lacks the document notation:\n%s", output)
	}
}

func TestQuotaRejectionStillMarksLiveness(t *testing.T) {
	marker := &countingMarker{}
	recorder := &notify.Recorder{}
	enforcer := quota.New(quota.Config{
		Budget:       2,
		Secret:       "s3cret",
		SecretHeader: "Evaluator-Secret",
		Notifier:     recorder,
		Logger:       slog.New(slog.DiscardHandler),
	})
	dispatcher := newDispatcher(marker, enforcer)
	dispatcher.Handle(predictEndpoint(7, nil))
	image, _ := tensor.Zeros(tensor.Uint8, 64, 64, 3)

	for range 2 {
		decodeReply(t, post(t, dispatcher, "/predict", message.Message{"image": image}))
	}
	rejected := post(t, dispatcher, "/predict", message.Message{"image": image})
	if rejected.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rejected.Code)
	}
	if kind := decodePayload(t, rejected).Kind; kind != rpcerror.KindQuotaExceeded {
		t.Errorf("kind = %q", kind)
	}
	if marker.marks.Load() != 3 {
		t.Errorf("marks = %d, want 3 (rejected request still marks)", marker.marks.Load())
	}
	if recorder.Count(notify.EventTooManyRequests) != 1 {
		t.Error("quota rejection sent no notification")
	}

	// The evaluator's secret bypasses the exhausted quota.
	body, _ := message.Marshal(message.Message{"image": image})
	request := httptest.NewRequest(http.MethodPost, "/predict", bytes.NewReader(body))
	request.Header.Set("Content-Type", codec.ContentType)
	request.Header.Set("Evaluator-Secret", "s3cret")
	privileged := httptest.NewRecorder()
	dispatcher.ServeHTTP(privileged, request)
	decodeReply(t, privileged)
}

func TestHandlerErrorStatus(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"plain", errors.New("model exploded"), http.StatusInternalServerError},
		{"shape", &rpcerror.ShapeError{Field: "logits"}, http.StatusUnprocessableEntity},
		{"missing_field", &rpcerror.ProtocolError{Reason: `missing required field "image"`}, http.StatusBadRequest},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			dispatcher := newDispatcher(nil, nil)
			dispatcher.Handle(Endpoint{
				Path:    "/fail",
				Outputs: []string{"x"},
				Func: func(context.Context, message.Message) ([]any, error) {
					return nil, test.err
				},
			})
			recorder := post(t, dispatcher, "/fail", message.Message{})
			if recorder.Code != test.status {
				t.Errorf("status = %d, want %d", recorder.Code, test.status)
			}
			if got := decodePayload(t, recorder).Error; got != test.err.Error() {
				t.Errorf("payload error = %q", got)
			}
		})
	}
}

func TestTextRoutes(t *testing.T) {
	marker := &countingMarker{}
	dispatcher := newDispatcher(marker, nil)
	dispatcher.HandleText(TextRoute{Path: "/bounds", Func: func(context.Context) (string, error) { return "0\n255", nil }})
	dispatcher.HandleText(TextRoute{Path: "/shutdown", Unmarked: true, Func: func(context.Context) (string, error) { return "Shutting down ...", nil }})

	recorder := httptest.NewRecorder()
	dispatcher.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/bounds", nil))
	body, _ := io.ReadAll(recorder.Body)
	if recorder.Code != http.StatusOK || string(body) != "0\n255" {
		t.Errorf("/bounds = %d %q", recorder.Code, body)
	}

	recorder = httptest.NewRecorder()
	dispatcher.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/shutdown", nil))
	if recorder.Code != http.StatusOK {
		t.Errorf("/shutdown = %d", recorder.Code)
	}
	if marker.marks.Load() != 1 {
		t.Errorf("marks = %d, want 1 (shutdown is unmarked)", marker.marks.Load())
	}
}

func TestNotFoundAndMethodNotAllowed(t *testing.T) {
	marker := &countingMarker{}
	dispatcher := newDispatcher(marker, nil)
	dispatcher.Handle(predictEndpoint(7, nil))

	recorder := httptest.NewRecorder()
	dispatcher.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/nope", nil))
	if recorder.Code != http.StatusNotFound || decodePayload(t, recorder).Kind != rpcerror.KindNotFound {
		t.Errorf("/nope = %d", recorder.Code)
	}
	if marker.marks.Load() != 0 {
		t.Error("unknown route marked liveness")
	}

	recorder = httptest.NewRecorder()
	dispatcher.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/predict", nil))
	if recorder.Code != http.StatusMethodNotAllowed || recorder.Header().Get("Allow") != http.MethodPost {
		t.Errorf("GET /predict = %d, Allow %q", recorder.Code, recorder.Header().Get("Allow"))
	}
}

func TestRegistrationPanics(t *testing.T) {
	noop := func(context.Context, message.Message) ([]any, error) { return nil, nil }
	tests := map[string]func(d *Dispatcher){
		"duplicate": func(d *Dispatcher) {
			d.Handle(Endpoint{Path: "/x", Outputs: []string{"y"}, Func: noop})
			d.HandleText(TextRoute{Path: "/x", Func: func(context.Context) (string, error) { return "", nil }})
		},
		"no_outputs": func(d *Dispatcher) {
			d.Handle(Endpoint{Path: "/x", Func: noop})
		},
		"undeclared_constraint": func(d *Dispatcher) {
			d.Handle(Endpoint{
				Path:        "/x",
				Outputs:     []string{"y"},
				Constraints: map[string]tensor.Constraint{"image": tensor.ImageConstraint},
				Func:        noop,
			})
		},
	}
	for name, register := range tests {
		t.Run(name, func(t *testing.T) {
			defer func() {
				if recover() == nil {
					t.Error("registration did not panic")
				}
			}()
			register(newDispatcher(nil, nil))
		})
	}
}
