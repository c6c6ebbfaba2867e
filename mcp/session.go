// Copyright 2025 The MCP Streamable Runtime Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package mcp

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// SessionRecord is the persisted representation of an MCP session (spec §3).
//
// Capabilities are kept opaque (json.RawMessage): this layer negotiates
// nothing about their content, only stores and echoes them back per the
// data model's description of them as "opaque structured blobs."
type SessionRecord struct {
	ID                 string                     `json:"id"`
	ClientCapabilities json.RawMessage            `json:"clientCapabilities,omitempty"`
	ServerCapabilities json.RawMessage            `json:"serverCapabilities,omitempty"`
	State              map[string]json.RawMessage `json:"state,omitempty"`
	Metadata           map[string]json.RawMessage `json:"metadata,omitempty"`
	CreatedAt          int64                      `json:"createdAt"`
	LastActivity       int64                      `json:"lastActivity"`
	IsInitialized      bool                       `json:"isInitialized"`
}

// newSessionID returns a new temporally-sortable session id, per spec §3's
// "UUIDv7 recommended" note.
func newSessionID() string {
	id, err := uuid.NewV7()
	if err != nil {
		// NewV7 only fails if the system clock/entropy source is broken;
		// fall back to opaque random text rather than panicking in a hot path.
		return randText()
	}
	return id.String()
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}

// clone returns a deep-enough copy of r for safe handoff across the Store
// boundary (callers must not observe mutations made after Get/Update return).
func (r *SessionRecord) clone() *SessionRecord {
	if r == nil {
		return nil
	}
	c := *r
	if r.State != nil {
		c.State = make(map[string]json.RawMessage, len(r.State))
		for k, v := range r.State {
			c.State[k] = append(json.RawMessage(nil), v...)
		}
	}
	if r.Metadata != nil {
		c.Metadata = make(map[string]json.RawMessage, len(r.Metadata))
		for k, v := range r.Metadata {
			c.Metadata[k] = append(json.RawMessage(nil), v...)
		}
	}
	c.ClientCapabilities = append(json.RawMessage(nil), r.ClientCapabilities...)
	c.ServerCapabilities = append(json.RawMessage(nil), r.ServerCapabilities...)
	return &c
}

// logLevel returns the session's current logging threshold, decoding the
// reserved mcp:logging:level state key (spec §4.D). Unknown or absent
// values decode to LevelInfo.
func (r *SessionRecord) logLevel() LoggingLevel {
	raw, ok := r.State[sessionStateLogLevelKey]
	if !ok {
		return LevelInfo
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return LevelInfo
	}
	return LoggingLevel(s).normalized()
}
