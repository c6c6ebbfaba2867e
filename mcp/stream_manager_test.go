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
)

// collectSink is a frameSink that appends every written event to a slice
// and stops the stream once it has collected `want` non-keepalive events.
type collectSink struct {
	mu     sync.Mutex
	events []Event
	want   int
	done   chan struct{}
}

func newCollectSink(want int) *collectSink {
	return &collectSink{want: want, done: make(chan struct{})}
}

func (s *collectSink) write(e Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.done:
		return false
	default:
	}
	s.events = append(s.events, e)
	nonKeepalive := 0
	for _, ev := range s.events {
		if !ev.isKeepalive() {
			nonKeepalive++
		}
	}
	if nonKeepalive >= s.want {
		close(s.done)
		return false
	}
	return true
}

func (s *collectSink) snapshot() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

// TestStreamManagerReplayThenLive is spec §8 scenario S2: a
// client reconnecting with Last-Event-ID sees every event after that id,
// replayed before any newly emitted live event, with no gap and no
// duplicate.
func TestStreamManagerReplayThenLive(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	store := NewMemorySessionStore()
	sess, err := store.CreateSession(ctx, nil)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	sm := NewStreamManager(store, StreamManagerOptions{KeepaliveInterval: time.Hour})

	for i := 0; i < 3; i++ {
		if _, err := sm.Emit(ctx, sess.ID, "message", json.RawMessage(`{"phase":"history"}`)); err != nil {
			t.Fatalf("Emit: %v", err)
		}
	}

	sink := newCollectSink(5)
	streamCtx, streamCancel := context.WithCancel(ctx)
	defer streamCancel()

	go sm.OpenClientStream(streamCtx, sess.ID, 1, sink)

	// Give OpenClientStream time to subscribe before emitting the live
	// events, matching how a real client would already be connected.
	time.Sleep(20 * time.Millisecond)
	for i := 0; i < 3; i++ {
		if _, err := sm.Emit(ctx, sess.ID, "message", json.RawMessage(`{"phase":"live"}`)); err != nil {
			t.Fatalf("Emit: %v", err)
		}
	}

	select {
	case <-sink.done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for sink to collect expected events")
	}

	events := sink.snapshot()
	var prev int64
	for _, e := range events {
		if e.isKeepalive() {
			continue
		}
		if e.ID <= prev {
			t.Errorf("event ids not strictly increasing: %d after %d", e.ID, prev)
		}
		prev = e.ID
	}
	if prev < 6 {
		t.Errorf("expected to observe up through event id 6, last seen was %d", prev)
	}
}

// TestStreamManagerSubscribeBeforeReplayNoGap simulates the narrow race the
// "subscribe before replay" ordering exists to close: an event emitted the
// instant after OpenClientStream begins must still be observed, whether it
// arrives via replay or via the live channel.
func TestStreamManagerSubscribeBeforeReplayNoGap(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	store := NewMemorySessionStore()
	sess, err := store.CreateSession(ctx, nil)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	sm := NewStreamManager(store, StreamManagerOptions{KeepaliveInterval: time.Hour})

	sink := newCollectSink(1)
	streamCtx, streamCancel := context.WithCancel(ctx)
	defer streamCancel()

	go sm.OpenClientStream(streamCtx, sess.ID, 0, sink)
	time.Sleep(10 * time.Millisecond)

	if _, err := sm.Emit(ctx, sess.ID, "message", json.RawMessage(`{"phase":"race"}`)); err != nil {
		t.Fatalf("Emit: %v", err)
	}

	select {
	case <-sink.done:
	case <-time.After(2 * time.Second):
		t.Fatal("event emitted right after subscribe was never observed")
	}
}

func TestStreamManagerInlinedPOSTEventsSkipsKeepalives(t *testing.T) {
	ctx := context.Background()
	store := NewMemorySessionStore()
	sess, err := store.CreateSession(ctx, nil)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	sm := NewStreamManager(store, StreamManagerOptions{PostSSESettleDelay: time.Millisecond})

	if _, err := sm.Emit(ctx, sess.ID, "message", json.RawMessage(`{"n":1}`)); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	if _, err := store.StoreEvent(ctx, sess.ID, keepaliveEvent()); err != nil {
		t.Fatalf("StoreEvent(keepalive): %v", err)
	}
	if _, err := sm.Emit(ctx, sess.ID, "message", json.RawMessage(`{"n":2}`)); err != nil {
		t.Fatalf("Emit: %v", err)
	}

	events := sm.InlinedPOSTEvents(ctx, sess.ID, 10)
	for _, e := range events {
		if e.isKeepalive() {
			t.Errorf("InlinedPOSTEvents returned a keepalive event: %+v", e)
		}
	}
	if len(events) != 2 {
		t.Fatalf("got %d non-keepalive events, want 2", len(events))
	}
}

func TestStreamManagerReapBroadcastersRemovesDeadSessions(t *testing.T) {
	ctx := context.Background()
	store := NewMemorySessionStore()
	sess, err := store.CreateSession(ctx, nil)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	sm := NewStreamManager(store, StreamManagerOptions{})

	// Touch the broadcaster into existence with no subscribers attached.
	sm.broadcasters.getOrCreate(sess.ID)
	if _, ok := sm.broadcasters.get(sess.ID); !ok {
		t.Fatal("broadcaster was not created")
	}

	if _, err := store.DeleteSession(ctx, sess.ID); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}

	sm.ReapBroadcasters(ctx)

	if _, ok := sm.broadcasters.get(sess.ID); ok {
		t.Error("broadcaster for a deleted, unsubscribed session should have been reaped")
	}
}
