// Copyright 2025 The MCP Streamable Runtime Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package mcp

import (
	"context"
	"encoding/json"
)

// SessionStore persists session records and per-session event logs with
// monotonic, per-session event ids (spec §4.A). Implementations must be
// safe for concurrent use, and must serialize event-id assignment per
// session (spec's "critical invariant"): two concurrent StoreEvent calls
// for the same session must produce two events with distinct, ordered ids.
type SessionStore interface {
	// CreateSession allocates a new session id and persists a fresh record.
	CreateSession(ctx context.Context, serverCapabilities json.RawMessage) (*SessionRecord, error)

	// CreateSessionWithID is identical to CreateSession but uses a
	// caller-supplied id. Implementations may reject this (ErrForbiddenSessionID)
	// depending on configuration; it exists chiefly for tests (spec §9).
	CreateSessionWithID(ctx context.Context, id string, serverCapabilities json.RawMessage) (*SessionRecord, error)

	// GetSession returns the session record for id, or a *StoreError with
	// Kind == ErrSessionNotFound if no such session exists.
	GetSession(ctx context.Context, id string) (*SessionRecord, error)

	// UpdateSession overwrites the stored record for rec.ID in full.
	UpdateSession(ctx context.Context, rec *SessionRecord) error

	// SetSessionState sets a single state key without requiring the caller
	// to read-modify-write the whole record.
	SetSessionState(ctx context.Context, id, key string, value json.RawMessage) error
	// GetSessionState returns the value for key, or (nil, nil) if unset.
	GetSessionState(ctx context.Context, id, key string) (json.RawMessage, error)
	// RemoveSessionState deletes key, returning its prior value if any.
	RemoveSessionState(ctx context.Context, id, key string) (json.RawMessage, error)

	// DeleteSession removes the session and its event log. It reports
	// whether a session existed to delete.
	DeleteSession(ctx context.Context, id string) (bool, error)

	// ListSessions returns all known session ids.
	ListSessions(ctx context.Context) ([]string, error)

	// StoreEvent atomically assigns the next event id for sessionID,
	// persists the event, and returns the completed Event. e.ID and
	// e.Timestamp are ignored on input and overwritten.
	StoreEvent(ctx context.Context, sessionID string, e Event) (Event, error)

	// GetEventsAfter returns events with id > afterID in ascending id order.
	GetEventsAfter(ctx context.Context, sessionID string, afterID int64) ([]Event, error)

	// GetRecentEvents returns up to limit of the most recent events, in
	// ascending id order.
	GetRecentEvents(ctx context.Context, sessionID string, limit int) ([]Event, error)

	// DeleteEventsBefore deletes events with id < beforeID, returning the
	// count removed.
	DeleteEventsBefore(ctx context.Context, sessionID string, beforeID int64) (int, error)

	// ExpireSessions atomically deletes sessions whose LastActivity is
	// strictly before olderThan (a millisecond timestamp), returning their
	// ids.
	ExpireSessions(ctx context.Context, olderThan int64) ([]string, error)

	// SessionCount and EventCount support observability (spec §4.A).
	SessionCount(ctx context.Context) (int, error)
	EventCount(ctx context.Context) (int, error)

	// Close releases any resources held by the store (connections, files).
	Close() error
}
