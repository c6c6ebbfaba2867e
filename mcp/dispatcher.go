// Copyright 2025 The MCP Streamable Runtime Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package mcp

import (
	"context"
	"encoding/json"
)

// Dispatcher routes JSON-RPC requests to registered method handlers and
// translates their results or errors back into wire-ready JSONRPCResponse
// values (spec §4.E).
type Dispatcher struct {
	store    SessionStore
	streams  *StreamManager
	methods  map[string]MethodHandler
	fallback MethodHandler
	mws      []Middleware
}

// NewDispatcher returns a Dispatcher with no methods registered; call
// Handle to register method handlers and Use to install middleware before
// serving any requests.
func NewDispatcher(store SessionStore, streams *StreamManager) *Dispatcher {
	return &Dispatcher{
		store:   store,
		streams: streams,
		methods: make(map[string]MethodHandler),
	}
}

// Use appends middleware to the chain wrapping every registered handler.
// Middleware installed before Handle calls wraps those handlers too: the
// chain is built lazily at dispatch time, not at registration time.
func (d *Dispatcher) Use(mws ...Middleware) {
	d.mws = append(d.mws, mws...)
}

// Handle registers h for method.
func (d *Dispatcher) Handle(method string, h MethodHandler) {
	d.methods[method] = h
}

// HandleDefault registers a fallback invoked for any method with no
// registered handler. Without a fallback, unregistered methods produce a
// Method Not Found error.
func (d *Dispatcher) HandleDefault(h MethodHandler) {
	d.fallback = h
}

// Dispatch handles a single JSON-RPC request for sessionID. For a
// notification (req.IsNotification()), the returned *JSONRPCResponse is
// nil: the caller must not write a response body for notifications, per the
// JSON-RPC spec.
func (d *Dispatcher) Dispatch(ctx context.Context, sessionID string, req *JSONRPCRequest) *JSONRPCResponse {
	h, ok := d.methods[req.Method]
	if !ok {
		if d.fallback == nil {
			if req.IsNotification() {
				return nil
			}
			return &JSONRPCResponse{ID: req.ID, Error: NewJSONRPCError(CodeMethodNotFound, "method not found: %s", req.Method)}
		}
		h = d.fallback
	}

	h = chain(h, d.mws...)
	ctx = withMethodName(ctx, req.Method)
	sess := newSessionContext(sessionID, d.store, d.streams)

	result, err := h(ctx, sess, req.Params)
	if req.IsNotification() {
		return nil
	}
	if err != nil {
		return &JSONRPCResponse{ID: req.ID, Error: errInternal(err)}
	}
	raw, merr := json.Marshal(result)
	if merr != nil {
		return &JSONRPCResponse{ID: req.ID, Error: NewJSONRPCError(CodeInternalError, "encoding result: %v", merr)}
	}
	return &JSONRPCResponse{ID: req.ID, Result: raw}
}

// DispatchBatch handles every request in reqs, returning one response per
// request that was not a notification, in the same order they were
// received (spec §4.E "batch support"). An all-notification batch returns
// an empty, non-nil slice: JSON-RPC batch semantics still require *a*
// response array to be omitted entirely in that case, which the caller
// (transport_http.go) checks for via len(out) == 0.
func (d *Dispatcher) DispatchBatch(ctx context.Context, sessionID string, reqs []*JSONRPCRequest) []*JSONRPCResponse {
	out := make([]*JSONRPCResponse, 0, len(reqs))
	for _, req := range reqs {
		if resp := d.Dispatch(ctx, sessionID, req); resp != nil {
			out = append(out, resp)
		}
	}
	return out
}
