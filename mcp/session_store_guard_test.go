// Copyright 2025 The MCP Streamable Runtime Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package mcp

import (
	"context"
	"errors"
	"testing"
)

func TestGuardSessionStoreAllowsWhenNotProduction(t *testing.T) {
	store := NewMemorySessionStore()
	defer store.Close()

	cfg := DefaultConfig()
	cfg.Production = false
	guarded := GuardSessionStore(store, cfg)

	if _, err := guarded.CreateSessionWithID(context.Background(), "caller-chosen", nil); err != nil {
		t.Fatalf("CreateSessionWithID should succeed outside production: %v", err)
	}
}

func TestGuardSessionStoreForbidsInProduction(t *testing.T) {
	store := NewMemorySessionStore()
	defer store.Close()

	cfg := DefaultConfig()
	cfg.Production = true
	guarded := GuardSessionStore(store, cfg)

	_, err := guarded.CreateSessionWithID(context.Background(), "caller-chosen", nil)
	if !errors.Is(err, ErrForbiddenSessionID) {
		t.Fatalf("CreateSessionWithID error = %v, want ErrForbiddenSessionID", err)
	}

	// Every other method still passes through to the wrapped store.
	rec, err := guarded.CreateSession(context.Background(), nil)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if _, err := guarded.GetSession(context.Background(), rec.ID); err != nil {
		t.Fatalf("GetSession: %v", err)
	}
}
