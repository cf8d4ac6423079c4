// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package dispatch routes inbound HTTP requests to model operations.
//
// A [Dispatcher] serves two kinds of route:
//
//   - Calls ([Dispatcher.Handle]): POST with a CBOR message document.
//     The dispatcher checks the content type, decodes the document
//     (array envelopes become *tensor.Array), binds fields to the
//     endpoint's declared parameters by name, checks tensor
//     constraints, invokes the handler, and encodes its results under
//     the declared output names.
//   - Text routes ([Dispatcher.HandleText]): GET returning text/plain.
//
// Every accepted request marks the liveness monitor before anything
// else runs, including the quota check. Metered calls then go through
// the quota enforcer. Failures are written as an rpcerror.Payload
// document with the status rpcerror.HTTPStatus assigns.
//
// Fields with no matching parameter are dropped. A declared parameter
// with no field is left unbound; the handler decides whether that is
// an error. A handler returning a different number of results than
// the endpoint declares outputs is a programming error and panics.
package dispatch
