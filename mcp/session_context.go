// Copyright 2025 The MCP Streamable Runtime Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package mcp

import (
	"context"
	"encoding/json"
	"fmt"
)

// SessionContext is the handle a method handler receives for the session
// its request belongs to (spec §4.D). It is the only way handler code
// touches session state, log level, or outbound notifications, which keeps
// per-session isolation a structural property rather than a convention
// handlers must remember to respect.
type SessionContext struct {
	id      string
	store   SessionStore
	streams *StreamManager
}

// newSessionContext is called once per dispatched request by the
// dispatcher, which already knows which session the request's
// Mcp-Session-Id header resolved to.
func newSessionContext(id string, store SessionStore, streams *StreamManager) *SessionContext {
	return &SessionContext{id: id, store: store, streams: streams}
}

// SessionID returns the session id this context is bound to.
func (c *SessionContext) SessionID() string { return c.id }

// State reads a single state value, decoding it into v. A missing key
// leaves v untouched and returns (false, nil).
func (c *SessionContext) State(ctx context.Context, key string, v any) (found bool, err error) {
	raw, err := c.store.GetSessionState(ctx, c.id, key)
	if err != nil {
		return false, err
	}
	if raw == nil {
		return false, nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return false, fmt.Errorf("mcp: decoding session state %q: %w", key, err)
	}
	return true, nil
}

// SetState encodes v and stores it under key.
func (c *SessionContext) SetState(ctx context.Context, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("mcp: encoding session state %q: %w", key, err)
	}
	return c.store.SetSessionState(ctx, c.id, key, raw)
}

// RemoveState deletes key, returning whatever value was previously stored.
func (c *SessionContext) RemoveState(ctx context.Context, key string) (json.RawMessage, error) {
	return c.store.RemoveSessionState(ctx, c.id, key)
}

// IsInitialized reports whether this session has completed the initialize
// handshake.
func (c *SessionContext) IsInitialized(ctx context.Context) (bool, error) {
	rec, err := c.store.GetSession(ctx, c.id)
	if err != nil {
		return false, err
	}
	return rec.IsInitialized, nil
}

// MarkInitialized records that this session has completed initialize.
func (c *SessionContext) MarkInitialized(ctx context.Context) error {
	rec, err := c.store.GetSession(ctx, c.id)
	if err != nil {
		return err
	}
	rec.IsInitialized = true
	return c.store.UpdateSession(ctx, rec)
}

// LogLevel returns the session's current logging threshold, defaulting to
// LevelInfo when unset (spec §3).
func (c *SessionContext) LogLevel(ctx context.Context) (LoggingLevel, error) {
	rec, err := c.store.GetSession(ctx, c.id)
	if err != nil {
		return LevelInfo, err
	}
	return rec.logLevel(), nil
}

// SetLogLevel sets the session's logging threshold (what a `logging/setLevel`
// request handler calls, spec §3). It is stored as ordinary session state under
// sessionStateLogLevelKey rather than a dedicated record field, so it rides
// along with every other piece of per-session state for free (replication,
// expiry, serialization).
func (c *SessionContext) SetLogLevel(ctx context.Context, level LoggingLevel) error {
	return c.SetState(ctx, sessionStateLogLevelKey, level.normalized())
}

// ShouldLog reports whether a message at level should be emitted given the
// session's current threshold.
func (c *SessionContext) ShouldLog(ctx context.Context, level LoggingLevel) (bool, error) {
	threshold, err := c.LogLevel(ctx)
	if err != nil {
		return false, err
	}
	return level.atLeast(threshold), nil
}

// NotifyLog emits a notifications/message event if level is at or above the
// session's current logging threshold. logger names the originating
// component, matching LoggingMessageParams.Logger.
func (c *SessionContext) NotifyLog(ctx context.Context, level LoggingLevel, logger string, data any) error {
	ok, err := c.ShouldLog(ctx, level)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("mcp: encoding log data: %w", err)
	}
	params := LoggingMessageParams{Level: level, Logger: logger, Data: raw}
	return c.notify(ctx, NotificationMessage, params)
}

// NotifyProgress emits a notifications/progress event for the given
// progress token, carried over from the request's _meta.progressToken, with
// no session-side lookup required: the caller already has the token because
// it read it off the originating request.
func (c *SessionContext) NotifyProgress(ctx context.Context, token json.RawMessage, progress, total float64, message string) error {
	params := ProgressNotificationParams{
		ProgressToken: token,
		Progress:      progress,
		Total:         total,
		Message:       message,
	}
	return c.notify(ctx, NotificationProgress, params)
}

// NotifyCancelled emits a notifications/cancelled event.
func (c *SessionContext) NotifyCancelled(ctx context.Context, requestID JSONRPCID, reason string) error {
	params := CancelledParams{RequestID: requestID, Reason: reason}
	return c.notify(ctx, NotificationCancelled, params)
}

// NotifyResourcesListChanged, NotifyResourcesUpdated, NotifyToolsListChanged,
// NotifyPromptsListChanged, and NotifyRootsListChanged emit the
// corresponding list-changed/updated events, per spec §3's notification
// catalogue. The list-changed events carry empty params; resources/updated
// carries the updated resource's uri.
func (c *SessionContext) NotifyResourcesListChanged(ctx context.Context) error {
	return c.notify(ctx, NotificationResourcesListChanged, struct{}{})
}

func (c *SessionContext) NotifyResourcesUpdated(ctx context.Context, uri string) error {
	return c.notify(ctx, NotificationResourcesUpdated, struct {
		URI string `json:"uri"`
	}{URI: uri})
}

func (c *SessionContext) NotifyToolsListChanged(ctx context.Context) error {
	return c.notify(ctx, NotificationToolsListChanged, struct{}{})
}

func (c *SessionContext) NotifyPromptsListChanged(ctx context.Context) error {
	return c.notify(ctx, NotificationPromptsListChanged, struct{}{})
}

func (c *SessionContext) NotifyRootsListChanged(ctx context.Context) error {
	return c.notify(ctx, NotificationRootsListChanged, struct{}{})
}

// notify is the common path for every Notify* method: encode params, hand
// off to the Stream Manager's persist-then-publish Emit.
func (c *SessionContext) notify(ctx context.Context, method string, params any) error {
	raw, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("mcp: encoding %s params: %w", method, err)
	}
	env := struct {
		JSONRPC string          `json:"jsonrpc"`
		Method  string          `json:"method"`
		Params  json.RawMessage `json:"params"`
	}{JSONRPC: "2.0", Method: method, Params: raw}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("mcp: encoding %s envelope: %w", method, err)
	}
	_, err = c.streams.Emit(ctx, c.id, method, data)
	return err
}
