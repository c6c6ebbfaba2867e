// Copyright 2025 The MCP Streamable Runtime Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package mcp

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite" // pure-Go SQLite driver, no cgo
)

// sqliteSchema creates the store's tables idempotently; a single embedded
// file is sufficient for a single-node backend, unlike the distributed
// Postgres backend which needs real migrations (session_store_sql.go).
const sqliteSchema = `
CREATE TABLE IF NOT EXISTS sessions (
	id                  TEXT PRIMARY KEY,
	client_capabilities TEXT,
	server_capabilities TEXT,
	state               TEXT NOT NULL DEFAULT '{}',
	metadata            TEXT NOT NULL DEFAULT '{}',
	created_at          INTEGER NOT NULL,
	last_activity       INTEGER NOT NULL,
	is_initialized      INTEGER NOT NULL DEFAULT 0,
	next_event_id       INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS events (
	session_id TEXT NOT NULL,
	event_id   INTEGER NOT NULL,
	timestamp  INTEGER NOT NULL,
	event_type TEXT NOT NULL,
	data       TEXT NOT NULL,
	retry      INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (session_id, event_id)
);
`

// SQLiteSessionStore is the embedded, single-node SessionStore backend
// (spec §4.A "embedded SQL"). The per-session monotonic counter lives in
// sessions.next_event_id and is advanced inside the same transaction that
// inserts the event, so a single SQLite connection's serialized writes give
// the store's critical invariant for free.
type SQLiteSessionStore struct {
	db *sql.DB
}

// NewSQLiteSessionStore opens (creating if necessary) a SQLite database at
// dsn and ensures its schema exists.
func NewSQLiteSessionStore(ctx context.Context, dsn string) (*SQLiteSessionStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("mcp: opening sqlite store: %w", err)
	}
	db.SetMaxOpenConns(1) // avoid SQLITE_BUSY from concurrent writers
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("mcp: pinging sqlite store: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		return nil, fmt.Errorf("mcp: creating sqlite schema: %w", err)
	}
	return &SQLiteSessionStore{db: db}, nil
}

func (s *SQLiteSessionStore) CreateSession(ctx context.Context, caps json.RawMessage) (*SessionRecord, error) {
	return s.CreateSessionWithID(ctx, newSessionID(), caps)
}

func (s *SQLiteSessionStore) CreateSessionWithID(ctx context.Context, id string, caps json.RawMessage) (*SessionRecord, error) {
	now := nowMillis()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, server_capabilities, created_at, last_activity) VALUES (?, ?, ?, ?)`,
		id, nullableRaw(caps), now, now)
	if err != nil {
		return nil, newStoreErr(ErrBackend, id, err)
	}
	return &SessionRecord{
		ID:                 id,
		ServerCapabilities: caps,
		State:              make(map[string]json.RawMessage),
		Metadata:           make(map[string]json.RawMessage),
		CreatedAt:          now,
		LastActivity:       now,
	}, nil
}

func (s *SQLiteSessionStore) GetSession(ctx context.Context, id string) (*SessionRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, client_capabilities, server_capabilities, state, metadata, created_at, last_activity, is_initialized FROM sessions WHERE id = ?`, id)
	return scanSessionRow(row, id)
}

func scanSessionRow(row *sql.Row, id string) (*SessionRecord, error) {
	var clientCaps, serverCaps sql.NullString
	var stateJSON, metaJSON string
	rec := &SessionRecord{ID: id}
	var isInit int
	if err := row.Scan(&rec.ID, &clientCaps, &serverCaps, &stateJSON, &metaJSON, &rec.CreatedAt, &rec.LastActivity, &isInit); err != nil {
		if err == sql.ErrNoRows {
			return nil, newStoreErr(ErrSessionNotFound, id, nil)
		}
		return nil, newStoreErr(ErrBackend, id, err)
	}
	rec.IsInitialized = isInit != 0
	if clientCaps.Valid {
		rec.ClientCapabilities = json.RawMessage(clientCaps.String)
	}
	if serverCaps.Valid {
		rec.ServerCapabilities = json.RawMessage(serverCaps.String)
	}
	if err := json.Unmarshal([]byte(stateJSON), &rec.State); err != nil {
		return nil, newStoreErr(ErrSerialization, id, err)
	}
	if err := json.Unmarshal([]byte(metaJSON), &rec.Metadata); err != nil {
		return nil, newStoreErr(ErrSerialization, id, err)
	}
	return rec, nil
}

func (s *SQLiteSessionStore) UpdateSession(ctx context.Context, rec *SessionRecord) error {
	stateJSON, err := json.Marshal(rec.State)
	if err != nil {
		return newStoreErr(ErrSerialization, rec.ID, err)
	}
	metaJSON, err := json.Marshal(rec.Metadata)
	if err != nil {
		return newStoreErr(ErrSerialization, rec.ID, err)
	}
	isInit := 0
	if rec.IsInitialized {
		isInit = 1
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET client_capabilities=?, server_capabilities=?, state=?, metadata=?, last_activity=?, is_initialized=? WHERE id=?`,
		nullableRaw(rec.ClientCapabilities), nullableRaw(rec.ServerCapabilities), string(stateJSON), string(metaJSON), rec.LastActivity, isInit, rec.ID)
	if err != nil {
		return newStoreErr(ErrBackend, rec.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return newStoreErr(ErrSessionNotFound, rec.ID, nil)
	}
	return nil
}

func (s *SQLiteSessionStore) SetSessionState(ctx context.Context, id, key string, value json.RawMessage) error {
	rec, err := s.GetSession(ctx, id)
	if err != nil {
		return err
	}
	if rec.State == nil {
		rec.State = make(map[string]json.RawMessage)
	}
	rec.State[key] = value
	return s.UpdateSession(ctx, rec)
}

func (s *SQLiteSessionStore) GetSessionState(ctx context.Context, id, key string) (json.RawMessage, error) {
	rec, err := s.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	return rec.State[key], nil
}

func (s *SQLiteSessionStore) RemoveSessionState(ctx context.Context, id, key string) (json.RawMessage, error) {
	rec, err := s.GetSession(ctx, id)
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

func (s *SQLiteSessionStore) DeleteSession(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return false, newStoreErr(ErrBackend, id, err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM events WHERE session_id = ?`, id); err != nil {
		return false, newStoreErr(ErrBackend, id, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *SQLiteSessionStore) ListSessions(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM sessions`)
	if err != nil {
		return nil, newStoreErr(ErrBackend, "", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, newStoreErr(ErrBackend, "", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// StoreEvent assigns the next event id inside a transaction, so the
// read-increment-write of next_event_id is atomic with respect to other
// StoreEvent calls on the same session (spec §4.A critical invariant).
func (s *SQLiteSessionStore) StoreEvent(ctx context.Context, sessionID string, e Event) (Event, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Event{}, newStoreErr(ErrBackend, sessionID, err)
	}
	defer tx.Rollback()

	var nextID int64
	row := tx.QueryRowContext(ctx, `SELECT next_event_id FROM sessions WHERE id = ?`, sessionID)
	if err := row.Scan(&nextID); err != nil {
		if err == sql.ErrNoRows {
			return Event{}, newStoreErr(ErrSessionNotFound, sessionID, nil)
		}
		return Event{}, newStoreErr(ErrBackend, sessionID, err)
	}
	nextID++

	e.ID = nextID
	e.Timestamp = nowMillis()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO events (session_id, event_id, timestamp, event_type, data, retry) VALUES (?, ?, ?, ?, ?, ?)`,
		sessionID, e.ID, e.Timestamp, e.EventType, string(e.Data), e.Retry); err != nil {
		return Event{}, newStoreErr(ErrBackend, sessionID, err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE sessions SET next_event_id = ? WHERE id = ?`, nextID, sessionID); err != nil {
		return Event{}, newStoreErr(ErrBackend, sessionID, err)
	}
	if err := tx.Commit(); err != nil {
		return Event{}, newStoreErr(ErrBackend, sessionID, err)
	}
	return e, nil
}

func (s *SQLiteSessionStore) GetEventsAfter(ctx context.Context, sessionID string, afterID int64) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT event_id, timestamp, event_type, data, retry FROM events WHERE session_id = ? AND event_id > ? ORDER BY event_id ASC`,
		sessionID, afterID)
	if err != nil {
		return nil, newStoreErr(ErrBackend, sessionID, err)
	}
	defer rows.Close()
	return scanEventRows(rows, sessionID)
}

func (s *SQLiteSessionStore) GetRecentEvents(ctx context.Context, sessionID string, limit int) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT event_id, timestamp, event_type, data, retry FROM events WHERE session_id = ? ORDER BY event_id DESC LIMIT ?`,
		sessionID, limit)
	if err != nil {
		return nil, newStoreErr(ErrBackend, sessionID, err)
	}
	defer rows.Close()
	out, err := scanEventRows(rows, sessionID)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func scanEventRows(rows *sql.Rows, sessionID string) ([]Event, error) {
	var out []Event
	for rows.Next() {
		var e Event
		var data string
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.EventType, &data, &e.Retry); err != nil {
			return nil, newStoreErr(ErrBackend, sessionID, err)
		}
		e.Data = json.RawMessage(data)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLiteSessionStore) DeleteEventsBefore(ctx context.Context, sessionID string, beforeID int64) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM events WHERE session_id = ? AND event_id < ?`, sessionID, beforeID)
	if err != nil {
		return 0, newStoreErr(ErrBackend, sessionID, err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *SQLiteSessionStore) ExpireSessions(ctx context.Context, olderThan int64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM sessions WHERE last_activity < ?`, olderThan)
	if err != nil {
		return nil, newStoreErr(ErrBackend, "", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, newStoreErr(ErrBackend, "", err)
		}
		ids = append(ids, id)
	}
	rows.Close()

	for _, id := range ids {
		if _, err := s.DeleteSession(ctx, id); err != nil {
			return nil, err
		}
	}
	return ids, nil
}

func (s *SQLiteSessionStore) SessionCount(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions`).Scan(&n); err != nil {
		return 0, newStoreErr(ErrBackend, "", err)
	}
	return n, nil
}

func (s *SQLiteSessionStore) EventCount(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`).Scan(&n); err != nil {
		return 0, newStoreErr(ErrBackend, "", err)
	}
	return n, nil
}

func (s *SQLiteSessionStore) Close() error { return s.db.Close() }

func nullableRaw(r json.RawMessage) any {
	if r == nil {
		return nil
	}
	return string(r)
}

var _ SessionStore = (*SQLiteSessionStore)(nil)
