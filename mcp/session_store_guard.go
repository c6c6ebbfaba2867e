// Copyright 2025 The MCP Streamable Runtime Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package mcp

import (
	"context"
	"encoding/json"
)

// productionGuardedStore wraps a SessionStore so CreateSessionWithID always
// fails, leaving every other method to pass straight through via the
// embedded SessionStore. Spec §9: "an implementation may choose to reject
// user-supplied ids when a production flag is set" — caller-chosen session
// ids are a test/local-development affordance, never a production entry
// point for session-id guessing or collision.
type productionGuardedStore struct {
	SessionStore
}

// GuardSessionStore wraps store so CreateSessionWithID is forbidden
// whenever cfg.Production is true; store is returned unwrapped otherwise.
// Entrypoints (cmd/mcpserver) call this once, right after opening the
// configured backend.
func GuardSessionStore(store SessionStore, cfg *Config) SessionStore {
	if !cfg.Production {
		return store
	}
	return &productionGuardedStore{SessionStore: store}
}

func (productionGuardedStore) CreateSessionWithID(ctx context.Context, id string, serverCapabilities json.RawMessage) (*SessionRecord, error) {
	return nil, ErrForbiddenSessionID
}

var _ SessionStore = (*productionGuardedStore)(nil)
