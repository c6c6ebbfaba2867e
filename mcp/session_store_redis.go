// Copyright 2025 The MCP Streamable Runtime Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"
)

// RedisSessionStore is the remote KV SessionStore backend (spec §4.A
// "remote KV"). Each session record is stored as JSON under one string key;
// each session's event log is a Redis list, and the per-session monotonic
// counter is a dedicated INCR key — Redis guarantees INCR is atomic across
// any number of concurrently connected clients, which is exactly the
// "never naive max+1 read-modify-write" requirement (spec §9).
type RedisSessionStore struct {
	rdb *redis.Client
}

// NewRedisSessionStore connects to a Redis instance at addr (host:port).
func NewRedisSessionStore(ctx context.Context, addr string) (*RedisSessionStore, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("mcp: pinging redis: %w", err)
	}
	return &RedisSessionStore{rdb: rdb}, nil
}

func sessionKey(id string) string   { return "mcp:session:" + id }
func eventsKey(id string) string    { return "mcp:session:" + id + ":events" }
func eventCounterKey(id string) string { return "mcp:session:" + id + ":next_event_id" }

// CreateSession stores the whole SessionRecord as JSON under a single string
// key (sessionKey), avoiding a hash-of-hashes for the nested State/Metadata
// maps.
func (s *RedisSessionStore) CreateSession(ctx context.Context, caps json.RawMessage) (*SessionRecord, error) {
	return s.CreateSessionWithID(ctx, newSessionID(), caps)
}

func (s *RedisSessionStore) CreateSessionWithID(ctx context.Context, id string, caps json.RawMessage) (*SessionRecord, error) {
	now := nowMillis()
	rec := &SessionRecord{
		ID:                 id,
		ServerCapabilities: caps,
		State:              make(map[string]json.RawMessage),
		Metadata:           make(map[string]json.RawMessage),
		CreatedAt:          now,
		LastActivity:       now,
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return nil, newStoreErr(ErrSerialization, id, err)
	}
	if err := s.rdb.Set(ctx, sessionKey(id), raw, 0).Err(); err != nil {
		return nil, newStoreErr(ErrBackend, id, err)
	}
	return rec, nil
}

func (s *RedisSessionStore) getRaw(ctx context.Context, id string) (*SessionRecord, error) {
	raw, err := s.rdb.Get(ctx, sessionKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, newStoreErr(ErrSessionNotFound, id, nil)
		}
		return nil, newStoreErr(ErrBackend, id, err)
	}
	var rec SessionRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, newStoreErr(ErrSerialization, id, err)
	}
	return &rec, nil
}

func (s *RedisSessionStore) GetSession(ctx context.Context, id string) (*SessionRecord, error) {
	return s.getRaw(ctx, id)
}

func (s *RedisSessionStore) UpdateSession(ctx context.Context, rec *SessionRecord) error {
	exists, err := s.rdb.Exists(ctx, sessionKey(rec.ID)).Result()
	if err != nil {
		return newStoreErr(ErrBackend, rec.ID, err)
	}
	if exists == 0 {
		return newStoreErr(ErrSessionNotFound, rec.ID, nil)
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return newStoreErr(ErrSerialization, rec.ID, err)
	}
	if err := s.rdb.Set(ctx, sessionKey(rec.ID), raw, 0).Err(); err != nil {
		return newStoreErr(ErrBackend, rec.ID, err)
	}
	return nil
}

func (s *RedisSessionStore) SetSessionState(ctx context.Context, id, key string, value json.RawMessage) error {
	rec, err := s.getRaw(ctx, id)
	if err != nil {
		return err
	}
	if rec.State == nil {
		rec.State = make(map[string]json.RawMessage)
	}
	rec.State[key] = value
	return s.UpdateSession(ctx, rec)
}

func (s *RedisSessionStore) GetSessionState(ctx context.Context, id, key string) (json.RawMessage, error) {
	rec, err := s.getRaw(ctx, id)
	if err != nil {
		return nil, err
	}
	return rec.State[key], nil
}

func (s *RedisSessionStore) RemoveSessionState(ctx context.Context, id, key string) (json.RawMessage, error) {
	rec, err := s.getRaw(ctx, id)
	if err != nil {
		return nil, err
	}
	v, had := rec.State[key]
	if !had {
		return nil, nil
	}
	delete(rec.State, key)
	if err := s.UpdateSession(ctx, rec); err != nil {
		return nil, err
	}
	return v, nil
}

func (s *RedisSessionStore) DeleteSession(ctx context.Context, id string) (bool, error) {
	n, err := s.rdb.Del(ctx, sessionKey(id), eventsKey(id), eventCounterKey(id)).Result()
	if err != nil {
		return false, newStoreErr(ErrBackend, id, err)
	}
	return n > 0, nil
}

func (s *RedisSessionStore) ListSessions(ctx context.Context) ([]string, error) {
	var ids []string
	iter := s.rdb.Scan(ctx, 0, "mcp:session:*", 0).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		// Skip the per-session :events and :next_event_id companion keys.
		if len(key) > len("mcp:session:") {
			suffix := key[len("mcp:session:"):]
			if containsColon(suffix) {
				continue
			}
			ids = append(ids, suffix)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, newStoreErr(ErrBackend, "", err)
	}
	return ids, nil
}

func containsColon(s string) bool {
	for _, r := range s {
		if r == ':' {
			return true
		}
	}
	return false
}

// storeEventScript assigns the next event id and appends the event in one
// atomic round trip. A plain INCR-then-RPUSH (two independent commands) lets
// two concurrent StoreEvent calls interleave: both INCRs can land in id
// order while the RPUSHes that follow them race and land in the opposite
// order, so the list silently diverges from id order. Redis runs a script
// to completion without interleaving other clients' commands, which a
// client-side MULTI/EXEC can't offer here since the RPUSH payload has to
// embed the id that INCR produces — that dependency has to live server-side.
// The event is marshaled with a 0 id placeholder and the script splices in
// the real one; this is safe because 0 is never a legitimate stored event
// id (spec §3: real events use the counter's first value, 1).
var storeEventScript = redis.NewScript(`
local id = redis.call('INCR', KEYS[2])
local raw = string.gsub(ARGV[1], '"id":0,', '"id":' .. id .. ',', 1)
redis.call('RPUSH', KEYS[1], raw)
return id
`)

func (s *RedisSessionStore) StoreEvent(ctx context.Context, sessionID string, e Event) (Event, error) {
	if exists, err := s.rdb.Exists(ctx, sessionKey(sessionID)).Result(); err != nil {
		return Event{}, newStoreErr(ErrBackend, sessionID, err)
	} else if exists == 0 {
		return Event{}, newStoreErr(ErrSessionNotFound, sessionID, nil)
	}

	e.ID = 0
	e.Timestamp = nowMillis()
	raw, err := json.Marshal(e)
	if err != nil {
		return Event{}, newStoreErr(ErrSerialization, sessionID, err)
	}

	keys := []string{eventsKey(sessionID), eventCounterKey(sessionID)}
	id, err := storeEventScript.Run(ctx, s.rdb, keys, string(raw)).Int64()
	if err != nil {
		return Event{}, newStoreErr(ErrBackend, sessionID, err)
	}
	e.ID = id
	return e, nil
}

// allEvents returns every stored event for sessionID sorted by ascending id.
// The list's own order should already match id order (storeEventScript
// appends under the same atomic step that assigns the id), but the getters
// built on this are bound by the SessionStore contract to return ascending
// id order unconditionally, so the sort is enforced here rather than
// trusted to storage layout.
func (s *RedisSessionStore) allEvents(ctx context.Context, sessionID string) ([]Event, error) {
	raws, err := s.rdb.LRange(ctx, eventsKey(sessionID), 0, -1).Result()
	if err != nil {
		return nil, newStoreErr(ErrBackend, sessionID, err)
	}
	out := make([]Event, 0, len(raws))
	for _, raw := range raws {
		var e Event
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			return nil, newStoreErr(ErrSerialization, sessionID, err)
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *RedisSessionStore) GetEventsAfter(ctx context.Context, sessionID string, afterID int64) ([]Event, error) {
	all, err := s.allEvents(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	var out []Event
	for _, e := range all {
		if e.ID > afterID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *RedisSessionStore) GetRecentEvents(ctx context.Context, sessionID string, limit int) ([]Event, error) {
	all, err := s.allEvents(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if limit > 0 && limit < len(all) {
		all = all[len(all)-limit:]
	}
	return all, nil
}

// DeleteEventsBefore rewrites the list with matching events filtered out;
// Redis lists have no indexed delete-by-predicate, so this is the idiomatic
// approach for an operation expected to run rarely (retention sweeps, not
// hot path).
func (s *RedisSessionStore) DeleteEventsBefore(ctx context.Context, sessionID string, beforeID int64) (int, error) {
	all, err := s.allEvents(ctx, sessionID)
	if err != nil {
		return 0, err
	}
	kept := make([]any, 0, len(all))
	removed := 0
	for _, e := range all {
		if e.ID < beforeID {
			removed++
			continue
		}
		raw, err := json.Marshal(e)
		if err != nil {
			return 0, newStoreErr(ErrSerialization, sessionID, err)
		}
		kept = append(kept, raw)
	}
	if removed == 0 {
		return 0, nil
	}
	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, eventsKey(sessionID))
	if len(kept) > 0 {
		pipe.RPush(ctx, eventsKey(sessionID), kept...)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, newStoreErr(ErrBackend, sessionID, err)
	}
	return removed, nil
}

func (s *RedisSessionStore) ExpireSessions(ctx context.Context, olderThan int64) ([]string, error) {
	ids, err := s.ListSessions(ctx)
	if err != nil {
		return nil, err
	}
	var expired []string
	for _, id := range ids {
		rec, err := s.getRaw(ctx, id)
		if err != nil {
			continue
		}
		if rec.LastActivity < olderThan {
			if _, err := s.DeleteSession(ctx, id); err == nil {
				expired = append(expired, id)
			}
		}
	}
	return expired, nil
}

func (s *RedisSessionStore) SessionCount(ctx context.Context) (int, error) {
	ids, err := s.ListSessions(ctx)
	if err != nil {
		return 0, err
	}
	return len(ids), nil
}

func (s *RedisSessionStore) EventCount(ctx context.Context) (int, error) {
	ids, err := s.ListSessions(ctx)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, id := range ids {
		n, err := s.rdb.LLen(ctx, eventsKey(id)).Result()
		if err != nil {
			return 0, newStoreErr(ErrBackend, id, err)
		}
		total += int(n)
	}
	return total, nil
}

func (s *RedisSessionStore) Close() error {
	return s.rdb.Close()
}

var _ SessionStore = (*RedisSessionStore)(nil)
