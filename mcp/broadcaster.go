// Copyright 2025 The MCP Streamable Runtime Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package mcp

import "sync"

// broadcaster is the per-session in-process fan-out channel described in
// spec §3 ("Per-Session Broadcaster"). It is NOT authoritative storage:
// missed events are recovered from the SessionStore's event log via
// Last-Event-ID replay. An event that does not fit in a slow subscriber's
// buffer is dropped for that subscriber, which is reported as lagged but
// stays attached, rather than blocking the publisher.
type broadcaster struct {
	mu   sync.Mutex
	subs map[int]chan Event
	next int
	buf  int
}

func newBroadcaster(bufSize int) *broadcaster {
	if bufSize <= 0 {
		bufSize = 1000 // spec §5 default
	}
	return &broadcaster{subs: make(map[int]chan Event), buf: bufSize}
}

// subscribe registers a new subscriber and returns its channel and an
// unsubscribe function. The channel is closed by unsubscribe so range loops
// over it terminate cleanly.
func (b *broadcaster) subscribe() (ch <-chan Event, unsubscribe func()) {
	b.mu.Lock()
	id := b.next
	b.next++
	c := make(chan Event, b.buf)
	b.subs[id] = c
	b.mu.Unlock()

	return c, func() {
		b.mu.Lock()
		if existing, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(existing)
		}
		b.mu.Unlock()
	}
}

// publish delivers e to every current subscriber. A subscriber whose buffer
// is full is reported as lagged via the returned slice; it is NOT removed
// from the broadcaster (spec §4.C step 6: continue the subscription, rely
// on client reconnect + replay).
func (b *broadcaster) publish(e Event) (lagged []int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, c := range b.subs {
		select {
		case c <- e:
		default:
			lagged = append(lagged, id)
		}
	}
	return lagged
}

// subscriberCount reports how many subscribers are currently attached.
func (b *broadcaster) subscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// closeAll closes every currently-attached subscriber channel, so any
// OpenClientStream loop ranging over one sees its stream end immediately
// rather than waiting for its own unsubscribe (spec §4.F: "Close any
// broadcaster; subscribers will see clean stream termination").
func (b *broadcaster) closeAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, c := range b.subs {
		close(c)
		delete(b.subs, id)
	}
}

// broadcasterTable is the session_id -> broadcaster map owned by the Stream
// Manager (spec §5: "guarded by a single reader-writer lock; readers (emit,
// subscribe) are common, structural writes (insert/remove) are rare").
type broadcasterTable struct {
	mu      sync.RWMutex
	byID    map[string]*broadcaster
	bufSize int
}

func newBroadcasterTable(bufSize int) *broadcasterTable {
	return &broadcasterTable{byID: make(map[string]*broadcaster), bufSize: bufSize}
}

// getOrCreate returns the broadcaster for sessionID, creating one lazily on
// first publish or first subscribe (spec §4.C "Broadcaster lifecycle").
func (t *broadcasterTable) getOrCreate(sessionID string) *broadcaster {
	t.mu.RLock()
	b, ok := t.byID[sessionID]
	t.mu.RUnlock()
	if ok {
		return b
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if b, ok := t.byID[sessionID]; ok {
		return b
	}
	b = newBroadcaster(t.bufSize)
	t.byID[sessionID] = b
	return b
}

func (t *broadcasterTable) get(sessionID string) (*broadcaster, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	b, ok := t.byID[sessionID]
	return b, ok
}

// remove closes sessionID's broadcaster, terminating every subscriber
// currently attached to it (mirrors subscribe's own unsubscribe closure,
// just for every subscriber at once), then drops it from the table. Callers
// are responsible for only calling this when the session itself is gone
// (deleted or expired) — not on mere subscriber drop, per spec §4.C.
func (t *broadcasterTable) remove(sessionID string) {
	t.mu.Lock()
	b, ok := t.byID[sessionID]
	delete(t.byID, sessionID)
	t.mu.Unlock()
	if ok {
		b.closeAll()
	}
}

// reapIdle removes broadcasters with zero subscribers whose session id is
// not in liveSessions (i.e. the session has expired or been deleted).
func (t *broadcasterTable) reapIdle(liveSessions map[string]bool) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var reaped []string
	for id, b := range t.byID {
		if liveSessions[id] {
			continue
		}
		if b.subscriberCount() > 0 {
			continue
		}
		delete(t.byID, id)
		reaped = append(reaped, id)
	}
	return reaped
}
