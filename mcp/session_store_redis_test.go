// Copyright 2025 The MCP Streamable Runtime Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package mcp

import (
	"context"
	"os"
	"testing"
)

// TestRedisSessionStoreConformance re-runs the shared SessionStore
// conformance suite against a live Redis instance, skipped unless
// MCP_TEST_REDIS_ADDR names a reachable server. storeFactories already runs
// this suite against miniredis on every test invocation; this test exists to
// additionally catch anything miniredis's Lua/EVAL emulation doesn't match
// real Redis on.
func TestRedisSessionStoreConformance(t *testing.T) {
	addr := os.Getenv("MCP_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("MCP_TEST_REDIS_ADDR not set; skipping live Redis conformance test")
	}

	factory := func() SessionStore {
		store, err := NewRedisSessionStore(context.Background(), addr)
		if err != nil {
			t.Fatalf("NewRedisSessionStore: %v", err)
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
