// Copyright 2025 The MCP Streamable Runtime Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package mcp

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// storeFactories lists every SessionStore backend exercised by the
// conformance suite. Postgres needs a live external service and is
// exercised by its own backend-specific test guarded by an
// environment-provided DSN; Redis runs against an in-process miniredis
// instance here, since miniredis supports EVAL and needs nothing external
// (it's also how the rest of the corpus's MCP-server repos test Redis
// backends without a live dependency).
func storeFactories(t *testing.T) map[string]func() SessionStore {
	return map[string]func() SessionStore{
		"memory": func() SessionStore { return NewMemorySessionStore() },
		"sqlite": func() SessionStore {
			store, err := NewSQLiteSessionStore(context.Background(), ":memory:")
			require.NoError(t, err)
			return store
		},
		"redis": func() SessionStore {
			mr := miniredis.RunT(t)
			store, err := NewRedisSessionStore(context.Background(), mr.Addr())
			require.NoError(t, err)
			return store
		},
	}
}

// TestSessionStoreConformance runs the shared contract (spec §8 invariants
// 1 and 2, plus create/get/delete, not-found and expiry checks) against
// every backend named by storeFactories.
func TestSessionStoreConformance(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			t.Run("CreateGetDeleteRoundTrip", func(t *testing.T) { testCreateGetDeleteRoundTrip(t, factory()) })
			t.Run("StateIsolatedAcrossSessions", func(t *testing.T) { testStateIsolatedAcrossSessions(t, factory()) })
			t.Run("MonotonicEventIDs", func(t *testing.T) { testMonotonicEventIDs(t, factory()) })
			t.Run("ConcurrentStoreEventStrictlyIncreasing", func(t *testing.T) { testConcurrentStoreEventStrictlyIncreasing(t, factory()) })
			t.Run("GetSessionNotFound", func(t *testing.T) { testGetSessionNotFound(t, factory()) })
			t.Run("ExpireSessions", func(t *testing.T) { testExpireSessions(t, factory()) })
		})
	}
}

func testCreateGetDeleteRoundTrip(t *testing.T, store SessionStore) {
	ctx := context.Background()
	defer store.Close()

	rec, err := store.CreateSession(ctx, json.RawMessage(`{"tools":{}}`))
	require.NoError(t, err)
	require.NotEmpty(t, rec.ID)

	got, err := store.GetSession(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, got.ID)

	existed, err := store.DeleteSession(ctx, rec.ID)
	require.NoError(t, err)
	assert.True(t, existed)

	_, err = store.GetSession(ctx, rec.ID)
	assert.True(t, IsStoreErrorKind(err, ErrSessionNotFound))
}

// testStateIsolatedAcrossSessions is spec §8 invariant 2: for all sessions
// A != B and all keys k, mutating A's state under k must not change what B
// reads under k.
func testStateIsolatedAcrossSessions(t *testing.T, store SessionStore) {
	ctx := context.Background()
	defer store.Close()

	a, err := store.CreateSession(ctx, nil)
	require.NoError(t, err)
	b, err := store.CreateSession(ctx, nil)
	require.NoError(t, err)

	require.NoError(t, store.SetSessionState(ctx, a.ID, "k", json.RawMessage(`"from-a"`)))
	require.NoError(t, store.SetSessionState(ctx, b.ID, "k", json.RawMessage(`"from-b"`)))

	gotA, err := store.GetSessionState(ctx, a.ID, "k")
	require.NoError(t, err)
	gotB, err := store.GetSessionState(ctx, b.ID, "k")
	require.NoError(t, err)

	assert.JSONEq(t, `"from-a"`, string(gotA))
	assert.JSONEq(t, `"from-b"`, string(gotB))
}

// testMonotonicEventIDs is spec §8 invariant 1: get_events_after(_, 0)
// returns a strictly increasing, gap-free-of-duplicates sequence covering
// every successful store_event call.
func testMonotonicEventIDs(t *testing.T, store SessionStore) {
	ctx := context.Background()
	defer store.Close()

	sess, err := store.CreateSession(ctx, nil)
	require.NoError(t, err)

	const n = 20
	var ids []int64
	for i := 0; i < n; i++ {
		e, err := store.StoreEvent(ctx, sess.ID, Event{EventType: "message", Data: json.RawMessage(`{}`)})
		require.NoError(t, err)
		ids = append(ids, e.ID)
	}

	events, err := store.GetEventsAfter(ctx, sess.ID, 0)
	require.NoError(t, err)
	require.Len(t, events, n)

	var prev int64
	seen := make(map[int64]bool)
	for _, e := range events {
		assert.Greater(t, e.ID, prev)
		assert.False(t, seen[e.ID], "duplicate event id %d", e.ID)
		seen[e.ID] = true
		prev = e.ID
	}
	for _, id := range ids {
		assert.True(t, seen[id], "store_event returned id %d not present in get_events_after", id)
	}
}

func testConcurrentStoreEventStrictlyIncreasing(t *testing.T, store SessionStore) {
	ctx := context.Background()
	defer store.Close()

	sess, err := store.CreateSession(ctx, nil)
	require.NoError(t, err)

	const workers = 8
	const perWorker = 10
	var wg sync.WaitGroup
	var mu sync.Mutex
	var allIDs []int64

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				e, err := store.StoreEvent(ctx, sess.ID, Event{EventType: "message", Data: json.RawMessage(`{}`)})
				if err != nil {
					return
				}
				mu.Lock()
				allIDs = append(allIDs, e.ID)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Len(t, allIDs, workers*perWorker)
	seen := make(map[int64]bool, len(allIDs))
	for _, id := range allIDs {
		assert.False(t, seen[id], "duplicate id %d assigned concurrently", id)
		seen[id] = true
	}

	// The ids StoreEvent hands back can be deduplicated and still hide a
	// persisted-order bug: a backend that assigns ids and appends to the log
	// as two unsynchronized steps can interleave concurrent writers so the
	// log ends up in a different order than the ids imply. Re-fetch and
	// check what actually landed in storage.
	persisted, err := store.GetEventsAfter(ctx, sess.ID, 0)
	require.NoError(t, err)
	require.Len(t, persisted, workers*perWorker)
	for i := 1; i < len(persisted); i++ {
		assert.Less(t, persisted[i-1].ID, persisted[i].ID, "GetEventsAfter must return strictly ascending ids")
	}
}

func testGetSessionNotFound(t *testing.T, store SessionStore) {
	ctx := context.Background()
	defer store.Close()

	_, err := store.GetSession(ctx, "does-not-exist")
	assert.True(t, IsStoreErrorKind(err, ErrSessionNotFound))
}

// testExpireSessions checks expire_sessions: a session whose last_activity
// is strictly before the threshold is removed by expire_sessions, and one
// at or after the threshold survives.
func testExpireSessions(t *testing.T, store SessionStore) {
	ctx := context.Background()
	defer store.Close()

	stale, err := store.CreateSession(ctx, nil)
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	threshold := nowMillis()
	time.Sleep(5 * time.Millisecond)

	fresh, err := store.CreateSession(ctx, nil)
	require.NoError(t, err)

	expired, err := store.ExpireSessions(ctx, threshold)
	require.NoError(t, err)
	assert.Equal(t, []string{stale.ID}, expired)

	_, err = store.GetSession(ctx, stale.ID)
	assert.True(t, IsStoreErrorKind(err, ErrSessionNotFound))

	_, err = store.GetSession(ctx, fresh.ID)
	assert.NoError(t, err)
}
