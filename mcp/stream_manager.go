// Copyright 2025 The MCP Streamable Runtime Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package mcp

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"
)

// StreamManager multiplexes historical replay and live broadcast into each
// client's event stream (spec §4.C). It owns the per-session broadcaster
// table; the SessionStore remains the single source of truth for event
// history and resumability.
type StreamManager struct {
	store           SessionStore
	broadcasters    *broadcasterTable
	log             *slog.Logger
	metrics         *Metrics
	maxReplayEvents int
	keepaliveEvery  time.Duration
	postSSESettle   time.Duration
}

// StreamManagerOptions configures a StreamManager; see Config for the
// corresponding server-wide settings.
type StreamManagerOptions struct {
	ChannelBufferSize   int
	MaxReplayEvents     int
	KeepaliveInterval   time.Duration
	PostSSESettleDelay  time.Duration
	Logger              *slog.Logger
	Metrics             *Metrics
}

// NewStreamManager constructs a StreamManager backed by store.
func NewStreamManager(store SessionStore, opts StreamManagerOptions) *StreamManager {
	if opts.MaxReplayEvents <= 0 {
		opts.MaxReplayEvents = 1000
	}
	if opts.KeepaliveInterval <= 0 {
		opts.KeepaliveInterval = 30 * time.Second
	}
	if opts.PostSSESettleDelay <= 0 {
		opts.PostSSESettleDelay = 50 * time.Millisecond
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = NewMetrics()
	}
	return &StreamManager{
		store:           store,
		broadcasters:    newBroadcasterTable(opts.ChannelBufferSize),
		log:             opts.Logger,
		metrics:         opts.Metrics,
		maxReplayEvents: opts.MaxReplayEvents,
		keepaliveEvery:  opts.KeepaliveInterval,
		postSSESettle:   opts.PostSSESettleDelay,
	}
}

// Emit persists a notification and publishes it to the session's
// broadcaster (spec §4.C "Emitting a notification"). It returns the
// assigned event id. A storage error here is fatal to the notification
// attempt, per spec §7's propagation policy, and is returned to the caller.
func (m *StreamManager) Emit(ctx context.Context, sessionID, eventType string, data json.RawMessage) (int64, error) {
	e, err := m.store.StoreEvent(ctx, sessionID, Event{EventType: eventType, Data: data})
	if err != nil {
		return 0, err
	}
	// A "no active subscribers" outcome is not an error: the event is
	// already durably recorded and will be delivered on reconnect.
	b := m.broadcasters.getOrCreate(sessionID)
	if lagged := b.publish(e); len(lagged) > 0 {
		m.log.Warn("subscriber lagged behind broadcaster", "session_id", sessionID, "event_id", e.ID, "lagged_subscribers", len(lagged))
	}
	m.metrics.EventEmitted()
	return e.ID, nil
}

// frameSink receives frames produced while streaming a GET subscription or
// an inlined POST-SSE response; transport_http.go supplies the concrete
// implementation that writes to the HTTP response.
type frameSink interface {
	// write sends e and reports whether the connection is still usable.
	write(e Event) bool
}

// OpenClientStream drives a GET subscription (spec §4.C "Opening a client
// stream"): subscribe before replay to avoid a gap, then replay history
// capped at maxReplayEvents, then stream live events, interleaving
// keepalives, until ctx is done or the sink reports the connection closed.
func (m *StreamManager) OpenClientStream(ctx context.Context, sessionID string, lastEventID int64, sink frameSink) {
	b := m.broadcasters.getOrCreate(sessionID)
	live, unsubscribe := b.subscribe()
	defer unsubscribe()

	if lastEventID > 0 {
		history, err := m.store.GetEventsAfter(ctx, sessionID, lastEventID)
		if err != nil {
			// Store errors during replay are recovered locally: skip
			// replay, proceed straight to the live tail (spec §7).
			m.log.Warn("historical replay failed, continuing live", "session_id", sessionID, "error", err)
		} else {
			if len(history) > m.maxReplayEvents {
				history = history[:m.maxReplayEvents]
			}
			for _, e := range history {
				if !sink.write(e) {
					return
				}
			}
		}
	}

	ticker := time.NewTicker(m.keepaliveEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-live:
			if !ok {
				return // broadcaster closed (session terminated)
			}
			if !sink.write(e) {
				return
			}
		case <-ticker.C:
			if !sink.write(keepaliveEvent()) {
				return
			}
		}
	}
}

// InlinedPOSTEvents implements spec §4.C "Inlined POST response": after
// allowing a short grace period for handler-emitted notifications to
// settle, fetch recent non-keepalive events for replay ahead of the
// JSON-RPC response frame. The caller appends the response frame itself.
func (m *StreamManager) InlinedPOSTEvents(ctx context.Context, sessionID string, limit int) []Event {
	select {
	case <-time.After(m.postSSESettle):
	case <-ctx.Done():
		return nil
	}

	recent, err := m.store.GetRecentEvents(ctx, sessionID, limit)
	if err != nil {
		m.log.Warn("fetching recent events for inlined POST failed", "session_id", sessionID, "error", err)
		return nil
	}
	// Every stored event carries a store-assigned id, so a keepalive that
	// reached the store is recognized by its empty event type alone.
	out := recent[:0]
	for _, e := range recent {
		if e.EventType != "" {
			out = append(out, e)
		}
	}
	return out
}

// CloseSession closes sessionID's broadcaster, if any: every subscriber
// currently attached (e.g. an in-flight GET) has its channel closed so its
// OpenClientStream loop returns immediately, then the broadcaster itself is
// dropped from the table. A subsequent subscribe for this session lazily
// recreates a fresh broadcaster, but that's moot in practice: the session
// itself is gone from the Store, so a new GET 404s before it ever reaches
// OpenClientStream.
func (m *StreamManager) CloseSession(sessionID string) {
	m.broadcasters.remove(sessionID)
}

// broadcasterSubscriberCount reports how many subscribers sessionID's
// broadcaster currently has, or 0 if it has none (or doesn't exist yet).
// Test-only helper for synchronizing on subscribe-before-DELETE races.
func (m *StreamManager) broadcasterSubscriberCount(sessionID string) int {
	b, ok := m.broadcasters.get(sessionID)
	if !ok {
		return 0
	}
	return b.subscriberCount()
}

// ReapBroadcasters is the periodic sweep named in spec §4.C: it removes
// broadcasters with zero subscribers whose backing session no longer
// exists in the Store (expired, or deleted on another process sharing the
// same backend).
func (m *StreamManager) ReapBroadcasters(ctx context.Context) {
	ids, err := m.store.ListSessions(ctx)
	if err != nil {
		m.log.Warn("list sessions for broadcaster reap failed", "error", err)
		return
	}
	live := make(map[string]bool, len(ids))
	for _, id := range ids {
		live[id] = true
	}
	reaped := m.broadcasters.reapIdle(live)
	if len(reaped) > 0 {
		m.log.Debug("reaped idle broadcasters", "count", len(reaped))
	}
}
