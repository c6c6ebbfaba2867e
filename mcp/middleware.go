// Copyright 2025 The MCP Streamable Runtime Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package mcp

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"
)

// MethodHandler handles a single decoded JSON-RPC method call against a
// session. Returning a *JSONRPCError produces an error response; any other
// non-nil error is wrapped as an Internal Error. A nil result with a nil
// error is only valid for notifications (IsNotification callers never read
// the result).
type MethodHandler func(ctx context.Context, sess *SessionContext, params json.RawMessage) (any, error)

// Middleware wraps a MethodHandler to add cross-cutting behavior, mirroring
// the generic middleware-chain pattern used across this codebase's sibling
// dispatch layers.
type Middleware func(next MethodHandler) MethodHandler

// chain composes middlewares so that the first one listed runs outermost.
func chain(h MethodHandler, mws ...Middleware) MethodHandler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// RecoverMiddleware converts a panicking handler into an Internal Error
// response instead of taking down the whole server.
func RecoverMiddleware(log *slog.Logger) Middleware {
	return func(next MethodHandler) MethodHandler {
		return func(ctx context.Context, sess *SessionContext, params json.RawMessage) (result any, err error) {
			defer func() {
				if r := recover(); r != nil {
					log.Error("handler panicked", "session_id", sess.SessionID(), "panic", r)
					err = NewJSONRPCError(CodeInternalError, "internal error")
				}
			}()
			return next(ctx, sess, params)
		}
	}
}

// LoggingMiddleware logs method name, session id, and latency for every
// dispatched call, at Debug for success and Warn for handler errors.
func LoggingMiddleware(log *slog.Logger) Middleware {
	return func(next MethodHandler) MethodHandler {
		return func(ctx context.Context, sess *SessionContext, params json.RawMessage) (any, error) {
			start := time.Now()
			method, _ := ctx.Value(methodNameKey{}).(string)
			result, err := next(ctx, sess, params)
			elapsed := time.Since(start)
			if err != nil {
				log.Warn("method failed", "method", method, "session_id", sess.SessionID(), "elapsed", elapsed, "error", err)
			} else {
				log.Debug("method handled", "method", method, "session_id", sess.SessionID(), "elapsed", elapsed)
			}
			return result, err
		}
	}
}

// methodNameKey is the context key LoggingMiddleware reads to label its log
// lines; the dispatcher sets it before invoking the handler chain.
type methodNameKey struct{}

func withMethodName(ctx context.Context, method string) context.Context {
	return context.WithValue(ctx, methodNameKey{}, method)
}

// errInternal wraps an arbitrary handler error as a JSON-RPC Internal Error,
// preserving the original error's text for diagnostics while not leaking
// internal error types onto the wire.
func errInternal(err error) *JSONRPCError {
	if jerr, ok := err.(*JSONRPCError); ok {
		return jerr
	}
	return NewJSONRPCError(CodeInternalError, "internal error: %v", err)
}
