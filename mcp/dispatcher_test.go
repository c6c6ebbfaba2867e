// Copyright 2025 The MCP Streamable Runtime Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
)

func newTestDispatcher(t *testing.T) (*Dispatcher, SessionStore, string) {
	t.Helper()
	store := NewMemorySessionStore()
	streams := NewStreamManager(store, StreamManagerOptions{})
	d := NewDispatcher(store, streams)
	ctx := context.Background()
	rec, err := store.CreateSession(ctx, nil)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	return d, store, rec.ID
}

func TestDispatchUnknownMethodWithoutFallback(t *testing.T) {
	d, _, sessionID := newTestDispatcher(t)
	req := &JSONRPCRequest{ID: IntID(1), Method: "does/not/exist"}
	resp := d.Dispatch(context.Background(), sessionID, req)
	if resp == nil || resp.Error == nil {
		t.Fatal("expected a Method Not Found error response")
	}
	if resp.Error.Code != CodeMethodNotFound {
		t.Errorf("code = %d, want %d", resp.Error.Code, CodeMethodNotFound)
	}
}

func TestDispatchNotificationReturnsNilResponse(t *testing.T) {
	d, _, sessionID := newTestDispatcher(t)
	called := false
	d.Handle("notify/me", func(ctx context.Context, sess *SessionContext, params json.RawMessage) (any, error) {
		called = true
		return "ignored", nil
	})
	req := &JSONRPCRequest{Method: "notify/me"} // zero-value ID: a notification
	resp := d.Dispatch(context.Background(), sessionID, req)
	if resp != nil {
		t.Fatalf("expected nil response for a notification, got %+v", resp)
	}
	if !called {
		t.Error("handler was not invoked for the notification")
	}
}

func TestDispatchHandlerErrorBecomesJSONRPCError(t *testing.T) {
	d, _, sessionID := newTestDispatcher(t)
	d.Handle("boom", func(ctx context.Context, sess *SessionContext, params json.RawMessage) (any, error) {
		return nil, errors.New("kaboom")
	})
	req := &JSONRPCRequest{ID: IntID(1), Method: "boom"}
	resp := d.Dispatch(context.Background(), sessionID, req)
	if resp == nil || resp.Error == nil {
		t.Fatal("expected an error response")
	}
	if resp.Error.Code != CodeInternalError {
		t.Errorf("code = %d, want %d", resp.Error.Code, CodeInternalError)
	}
}

func TestDispatchHandlerExplicitJSONRPCErrorPreserved(t *testing.T) {
	d, _, sessionID := newTestDispatcher(t)
	d.Handle("invalid", func(ctx context.Context, sess *SessionContext, params json.RawMessage) (any, error) {
		return nil, NewJSONRPCError(CodeInvalidParams, "bad params")
	})
	req := &JSONRPCRequest{ID: IntID(1), Method: "invalid"}
	resp := d.Dispatch(context.Background(), sessionID, req)
	if resp == nil || resp.Error == nil {
		t.Fatal("expected an error response")
	}
	if resp.Error.Code != CodeInvalidParams {
		t.Errorf("code = %d, want %d", resp.Error.Code, CodeInvalidParams)
	}
}

func TestDispatchBatchOmitsNotificationResponses(t *testing.T) {
	d, _, sessionID := newTestDispatcher(t)
	d.Handle("ping", func(ctx context.Context, sess *SessionContext, params json.RawMessage) (any, error) {
		return "pong", nil
	})
	reqs := []*JSONRPCRequest{
		{Method: "ping"},           // notification, no id
		{ID: IntID(1), Method: "ping"},
		{Method: "ping"},           // notification, no id
	}
	resps := d.DispatchBatch(context.Background(), sessionID, reqs)
	if len(resps) != 1 {
		t.Fatalf("got %d responses, want 1", len(resps))
	}
}

func TestRecoverMiddlewareConvertsPanicToError(t *testing.T) {
	d, _, sessionID := newTestDispatcher(t)
	d.Use(RecoverMiddleware(slog.Default()))
	d.Handle("panics", func(ctx context.Context, sess *SessionContext, params json.RawMessage) (any, error) {
		panic("handler exploded")
	})
	req := &JSONRPCRequest{ID: IntID(1), Method: "panics"}
	resp := d.Dispatch(context.Background(), sessionID, req)
	if resp == nil || resp.Error == nil {
		t.Fatal("expected an Internal Error response instead of a propagated panic")
	}
	if resp.Error.Code != CodeInternalError {
		t.Errorf("code = %d, want %d", resp.Error.Code, CodeInternalError)
	}
}

func TestLoggingMiddlewareDoesNotAlterResult(t *testing.T) {
	d, _, sessionID := newTestDispatcher(t)
	d.Use(LoggingMiddleware(slog.Default()))
	d.Handle("echo", func(ctx context.Context, sess *SessionContext, params json.RawMessage) (any, error) {
		return "ok", nil
	})
	req := &JSONRPCRequest{ID: IntID(1), Method: "echo"}
	resp := d.Dispatch(context.Background(), sessionID, req)
	if resp == nil || resp.Error != nil {
		t.Fatalf("unexpected error response: %+v", resp)
	}
	var result string
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		t.Fatalf("decoding result: %v", err)
	}
	if result != "ok" {
		t.Errorf("result = %q, want %q", result, "ok")
	}
}
