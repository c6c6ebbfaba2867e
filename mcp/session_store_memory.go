// Copyright 2025 The MCP Streamable Runtime Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package mcp

import (
	"context"
	"encoding/json"
	"sync"
)

// MemorySessionStore is an in-memory SessionStore. It is the reference
// implementation named in spec §4.A ("in-memory hashmap") and is safe for
// concurrent use.
//
// Event-id assignment is serialized per session via a dedicated mutex per
// session's event log, matching the store's "critical invariant" (spec
// §4.A) without serializing unrelated sessions against each other.
type MemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*SessionRecord
	logs     map[string]*memoryEventLog
}

type memoryEventLog struct {
	mu     sync.Mutex
	nextID int64
	events []Event
}

// NewMemorySessionStore returns an empty MemorySessionStore.
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{
		sessions: make(map[string]*SessionRecord),
		logs:     make(map[string]*memoryEventLog),
	}
}

func (s *MemorySessionStore) CreateSession(ctx context.Context, caps json.RawMessage) (*SessionRecord, error) {
	return s.CreateSessionWithID(ctx, newSessionID(), caps)
}

func (s *MemorySessionStore) CreateSessionWithID(ctx context.Context, id string, caps json.RawMessage) (*SessionRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	now := nowMillis()
	rec := &SessionRecord{
		ID:                 id,
		ServerCapabilities: caps,
		State:              make(map[string]json.RawMessage),
		Metadata:           make(map[string]json.RawMessage),
		CreatedAt:          now,
		LastActivity:       now,
	}
	s.mu.Lock()
	s.sessions[id] = rec
	s.logs[id] = &memoryEventLog{}
	s.mu.Unlock()
	return rec.clone(), nil
}

func (s *MemorySessionStore) GetSession(ctx context.Context, id string) (*SessionRecord, error) {
	s.mu.RLock()
	rec, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return nil, newStoreErr(ErrSessionNotFound, id, nil)
	}
	return rec.clone(), nil
}

func (s *MemorySessionStore) UpdateSession(ctx context.Context, rec *SessionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[rec.ID]; !ok {
		return newStoreErr(ErrSessionNotFound, rec.ID, nil)
	}
	s.sessions[rec.ID] = rec.clone()
	return nil
}

func (s *MemorySessionStore) SetSessionState(ctx context.Context, id, key string, value json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.sessions[id]
	if !ok {
		return newStoreErr(ErrSessionNotFound, id, nil)
	}
	if rec.State == nil {
		rec.State = make(map[string]json.RawMessage)
	}
	rec.State[key] = append(json.RawMessage(nil), value...)
	return nil
}

func (s *MemorySessionStore) GetSessionState(ctx context.Context, id, key string) (json.RawMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.sessions[id]
	if !ok {
		return nil, newStoreErr(ErrSessionNotFound, id, nil)
	}
	return rec.State[key], nil
}

func (s *MemorySessionStore) RemoveSessionState(ctx context.Context, id, key string) (json.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.sessions[id]
	if !ok {
		return nil, newStoreErr(ErrSessionNotFound, id, nil)
	}
	v, had := rec.State[key]
	if !had {
		return nil, nil
	}
	delete(rec.State, key)
	return v, nil
}

func (s *MemorySessionStore) DeleteSession(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.sessions[id]
	delete(s.sessions, id)
	delete(s.logs, id)
	return ok, nil
}

func (s *MemorySessionStore) ListSessions(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *MemorySessionStore) eventLog(id string) (*memoryEventLog, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	log, ok := s.logs[id]
	return log, ok
}

func (s *MemorySessionStore) StoreEvent(ctx context.Context, sessionID string, e Event) (Event, error) {
	log, ok := s.eventLog(sessionID)
	if !ok {
		return Event{}, newStoreErr(ErrSessionNotFound, sessionID, nil)
	}
	log.mu.Lock()
	defer log.mu.Unlock()
	log.nextID++
	e.ID = log.nextID
	e.Timestamp = nowMillis()
	log.events = append(log.events, e)
	return e, nil
}

func (s *MemorySessionStore) GetEventsAfter(ctx context.Context, sessionID string, afterID int64) ([]Event, error) {
	log, ok := s.eventLog(sessionID)
	if !ok {
		return nil, newStoreErr(ErrSessionNotFound, sessionID, nil)
	}
	log.mu.Lock()
	defer log.mu.Unlock()
	var out []Event
	for _, e := range log.events {
		if e.ID > afterID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *MemorySessionStore) GetRecentEvents(ctx context.Context, sessionID string, limit int) ([]Event, error) {
	log, ok := s.eventLog(sessionID)
	if !ok {
		return nil, newStoreErr(ErrSessionNotFound, sessionID, nil)
	}
	log.mu.Lock()
	defer log.mu.Unlock()
	n := len(log.events)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]Event, limit)
	copy(out, log.events[n-limit:])
	return out, nil
}

func (s *MemorySessionStore) DeleteEventsBefore(ctx context.Context, sessionID string, beforeID int64) (int, error) {
	log, ok := s.eventLog(sessionID)
	if !ok {
		return 0, newStoreErr(ErrSessionNotFound, sessionID, nil)
	}
	log.mu.Lock()
	defer log.mu.Unlock()
	kept := log.events[:0:0]
	removed := 0
	for _, e := range log.events {
		if e.ID < beforeID {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	log.events = kept
	return removed, nil
}

func (s *MemorySessionStore) ExpireSessions(ctx context.Context, olderThan int64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var expired []string
	for id, rec := range s.sessions {
		if rec.LastActivity < olderThan {
			expired = append(expired, id)
			delete(s.sessions, id)
			delete(s.logs, id)
		}
	}
	return expired, nil
}

func (s *MemorySessionStore) SessionCount(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions), nil
}

func (s *MemorySessionStore) EventCount(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, log := range s.logs {
		log.mu.Lock()
		n += len(log.events)
		log.mu.Unlock()
	}
	return n, nil
}

func (s *MemorySessionStore) Close() error { return nil }

var _ SessionStore = (*MemorySessionStore)(nil)
