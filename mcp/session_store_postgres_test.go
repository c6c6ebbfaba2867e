// Copyright 2025 The MCP Streamable Runtime Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package mcp

import (
	"context"
	"os"
	"testing"
)

// TestSQLSessionStoreConformance runs the shared SessionStore conformance
// suite against a live Postgres instance. It is skipped unless
// MCP_TEST_POSTGRES_DSN names a reachable database, since this backend
// cannot run against an in-process fake the way sqlite's ":memory:" mode
// can.
func TestSQLSessionStoreConformance(t *testing.T) {
	dsn := os.Getenv("MCP_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("MCP_TEST_POSTGRES_DSN not set; skipping live Postgres conformance test")
	}

	factory := func() SessionStore {
		store, err := NewSQLSessionStore(context.Background(), dsn)
		if err != nil {
			t.Fatalf("NewSQLSessionStore: %v", err)
		}
		return store
	}

	t.Run("CreateGetDeleteRoundTrip", func(t *testing.T) { testCreateGetDeleteRoundTrip(t, factory()) })
	t.Run("StateIsolatedAcrossSessions", func(t *testing.T) { testStateIsolatedAcrossSessions(t, factory()) })
	t.Run("MonotonicEventIDs", func(t *testing.T) { testMonotonicEventIDs(t, factory()) })
	t.Run("ConcurrentStoreEventStrictlyIncreasing", func(t *testing.T) { testConcurrentStoreEventStrictlyIncreasing(t, factory()) })
	t.Run("GetSessionNotFound", func(t *testing.T) { testGetSessionNotFound(t, factory()) })
	t.Run("ExpireSessions", func(t *testing.T) { testExpireSessions(t, factory()) })
}
